package ratelimiter_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnhub/mailqueue/pkg/ratelimiter"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestNewBucket(t *testing.T) {
	t.Parallel()

	store := ratelimiter.NewMemoryStore(ratelimiter.WithCleanupInterval(0))
	t.Cleanup(func() { _ = store.Close() })

	tests := []struct {
		name     string
		config   ratelimiter.Config
		errorMsg string
	}{
		{name: "valid config", config: ratelimiter.PerWindow(10, time.Second)},
		{name: "zero capacity", config: ratelimiter.Config{RefillRate: 1, RefillInterval: time.Second}, errorMsg: "capacity must be positive"},
		{name: "zero refill rate", config: ratelimiter.Config{Capacity: 1, RefillInterval: time.Second}, errorMsg: "refill rate must be positive"},
		{name: "zero refill interval", config: ratelimiter.Config{Capacity: 1, RefillRate: 1}, errorMsg: "refill interval must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			bucket, err := ratelimiter.NewBucket(store, tt.config)
			if tt.errorMsg != "" {
				require.ErrorIs(t, err, ratelimiter.ErrInvalidConfig)
				assert.Contains(t, err.Error(), tt.errorMsg)
				assert.Nil(t, bucket)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.config, bucket.Config())
		})
	}

	t.Run("nil store", func(t *testing.T) {
		t.Parallel()
		_, err := ratelimiter.NewBucket(nil, ratelimiter.PerWindow(1, time.Second))
		require.ErrorIs(t, err, ratelimiter.ErrInvalidConfig)
	})
}

func TestBucket_AllowN(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("rejects non-positive counts", func(t *testing.T) {
		t.Parallel()

		store := ratelimiter.NewMemoryStore(ratelimiter.WithCleanupInterval(0))
		bucket, err := ratelimiter.NewBucket(store, ratelimiter.PerWindow(5, time.Second))
		require.NoError(t, err)

		_, err = bucket.AllowN(ctx, "k", 0)
		require.ErrorIs(t, err, ratelimiter.ErrInvalidTokenCount)
	})

	t.Run("burst then debt", func(t *testing.T) {
		t.Parallel()

		clock := newStepClock()
		store := ratelimiter.NewMemoryStore(
			ratelimiter.WithCleanupInterval(0),
			ratelimiter.WithStoreClock(clock.Now),
		)
		bucket, err := ratelimiter.NewBucket(store, ratelimiter.PerWindow(10, time.Second))
		require.NoError(t, err)

		res, err := bucket.AllowN(ctx, "smtp", 10)
		require.NoError(t, err)
		assert.True(t, res.Allowed())
		assert.Equal(t, 0, res.Remaining)
		assert.Equal(t, 10, res.Limit)

		res, err = bucket.AllowN(ctx, "smtp", 3)
		require.NoError(t, err)
		assert.False(t, res.Allowed())
		assert.Equal(t, -3, res.Remaining)
		assert.Equal(t, 0, res.Available())

		// One refill pays the debt back first.
		clock.Advance(time.Second)
		status, err := bucket.Status(ctx, "smtp")
		require.NoError(t, err)
		assert.Equal(t, 7, status.Remaining)
	})

	t.Run("status does not consume", func(t *testing.T) {
		t.Parallel()

		store := ratelimiter.NewMemoryStore(ratelimiter.WithCleanupInterval(0))
		bucket, err := ratelimiter.NewBucket(store, ratelimiter.PerWindow(4, time.Minute))
		require.NoError(t, err)

		for range 3 {
			status, err := bucket.Status(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, 4, status.Available())
		}
	})

	t.Run("keys are independent and reset clears", func(t *testing.T) {
		t.Parallel()

		store := ratelimiter.NewMemoryStore(ratelimiter.WithCleanupInterval(0))
		bucket, err := ratelimiter.NewBucket(store, ratelimiter.PerWindow(2, time.Minute))
		require.NoError(t, err)

		_, err = bucket.AllowN(ctx, "a", 2)
		require.NoError(t, err)

		res, err := bucket.Allow(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, 1, res.Remaining)

		require.NoError(t, bucket.Reset(ctx, "a"))
		res, err = bucket.Status(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, 2, res.Remaining)
	})

	t.Run("long idle refill is capped", func(t *testing.T) {
		t.Parallel()

		clock := newStepClock()
		store := ratelimiter.NewMemoryStore(
			ratelimiter.WithCleanupInterval(0),
			ratelimiter.WithStoreClock(clock.Now),
		)
		bucket, err := ratelimiter.NewBucket(store, ratelimiter.PerWindow(5, time.Second))
		require.NoError(t, err)

		_, err = bucket.AllowN(ctx, "k", 5)
		require.NoError(t, err)

		clock.Advance(1000 * time.Hour)
		res, err := bucket.Status(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, 5, res.Remaining)
	})
}

func TestBucket_ConcurrentAllow(t *testing.T) {
	t.Parallel()

	store := ratelimiter.NewMemoryStore(ratelimiter.WithCleanupInterval(0))
	bucket, err := ratelimiter.NewBucket(store, ratelimiter.PerWindow(50, time.Hour))
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := bucket.Allow(context.Background(), "shared")
			if err == nil && res.Allowed() {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, allowed)
}

func TestResult_RetryAfter(t *testing.T) {
	t.Parallel()

	res := &ratelimiter.Result{Limit: 1, Remaining: 1, ResetAt: time.Now().Add(time.Hour)}
	assert.Zero(t, res.RetryAfter())

	res = &ratelimiter.Result{Limit: 1, Remaining: -1, ResetAt: time.Now().Add(time.Hour)}
	assert.InDelta(t, time.Hour.Seconds(), res.RetryAfter().Seconds(), 5)

	res = &ratelimiter.Result{Limit: 1, Remaining: 0, ResetAt: time.Now().Add(-time.Minute)}
	assert.Zero(t, res.RetryAfter())
}
