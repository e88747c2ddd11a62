package ratelimiter_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnhub/mailqueue/pkg/ratelimiter"
)

func newRedisBucket(t *testing.T, clock *stepClock, config ratelimiter.Config) (*ratelimiter.Bucket, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store, err := ratelimiter.NewRedisStore(client,
		ratelimiter.WithKeyPrefix("test:rl:"),
		ratelimiter.WithRedisClock(clock.Now),
	)
	require.NoError(t, err)

	bucket, err := ratelimiter.NewBucket(store, config)
	require.NoError(t, err)
	return bucket, mr
}

func TestRedisStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("nil client", func(t *testing.T) {
		t.Parallel()
		_, err := ratelimiter.NewRedisStore(nil)
		require.ErrorIs(t, err, ratelimiter.ErrInvalidConfig)
	})

	t.Run("consumes and refills", func(t *testing.T) {
		t.Parallel()

		clock := newStepClock()
		bucket, mr := newRedisBucket(t, clock, ratelimiter.PerWindow(10, time.Second))

		status, err := bucket.Status(ctx, "smtp")
		require.NoError(t, err)
		assert.Equal(t, 10, status.Remaining)

		res, err := bucket.AllowN(ctx, "smtp", 12)
		require.NoError(t, err)
		assert.Equal(t, -2, res.Remaining)
		assert.False(t, res.Allowed())
		assert.True(t, mr.Exists("test:rl:smtp"))

		clock.Advance(time.Second)
		status, err = bucket.Status(ctx, "smtp")
		require.NoError(t, err)
		assert.Equal(t, 8, status.Remaining)
		assert.Equal(t, clock.Now().Add(time.Second).UnixMilli(), status.ResetAt.UnixMilli())
	})

	t.Run("reset deletes the key", func(t *testing.T) {
		t.Parallel()

		clock := newStepClock()
		bucket, mr := newRedisBucket(t, clock, ratelimiter.PerWindow(3, time.Minute))

		_, err := bucket.AllowN(ctx, "k", 3)
		require.NoError(t, err)
		require.NoError(t, bucket.Reset(ctx, "k"))
		assert.False(t, mr.Exists("test:rl:k"))
	})

	t.Run("unavailable backend", func(t *testing.T) {
		t.Parallel()

		clock := newStepClock()
		bucket, mr := newRedisBucket(t, clock, ratelimiter.PerWindow(3, time.Minute))
		mr.Close()

		_, err := bucket.Status(ctx, "k")
		require.ErrorIs(t, err, ratelimiter.ErrStoreUnavailable)
	})
}
