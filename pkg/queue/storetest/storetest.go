// Package storetest holds the behaviour every queue.Store backend must share.
// Backend packages call Run from their tests.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnhub/mailqueue/pkg/queue"
)

// Factory returns an empty store whose notion of now is the given clock.
type Factory func(t *testing.T, now func() time.Time) queue.Store

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts at a fixed whole second.
func NewClock() *Clock {
	return &Clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

const jobType queue.JobType = "storetest"

type payload struct {
	N int `json:"n"`
}

type env struct {
	store    queue.Store
	enqueuer *queue.Enqueuer
	clock    *Clock
}

func setup(t *testing.T, factory Factory) env {
	t.Helper()

	clock := NewClock()
	store := factory(t, clock.Now)
	enqueuer, err := queue.NewEnqueuer(store, queue.WithEnqueuerClock(clock.Now))
	require.NoError(t, err)

	return env{store: store, enqueuer: enqueuer, clock: clock}
}

func (e env) enqueue(t *testing.T, n int, opts ...queue.EnqueueOption) *queue.Job {
	t.Helper()
	job, err := e.enqueuer.Enqueue(context.Background(), jobType, payload{N: n}, opts...)
	require.NoError(t, err)
	return job
}

// Run exercises the store contract. Subtests run sequentially so backends
// sharing one database can reset it in the factory.
func Run(t *testing.T, factory Factory) {
	ctx := context.Background()

	t.Run("priority then fifo", func(t *testing.T) {
		e := setup(t, factory)

		order := make(map[uuid.UUID]int)
		for i, p := range []int{5, 1, 10, 1} {
			order[e.enqueue(t, i, queue.WithPriority(p)).ID] = i
		}

		claimed, err := e.store.ClaimNext(ctx, "w1", 10, time.Minute)
		require.NoError(t, err)
		require.Len(t, claimed, 4)

		var got []int
		for _, j := range claimed {
			got = append(got, order[j.ID])
			assert.Equal(t, queue.JobStateActive, j.State)
			assert.Equal(t, 1, j.Attempts)
			assert.Equal(t, "w1", j.LockedBy)
		}
		assert.Equal(t, []int{1, 3, 0, 2}, got)

		_, err = e.store.ClaimNext(ctx, "w1", 10, time.Minute)
		require.ErrorIs(t, err, queue.ErrNoJobToClaim)
	})

	t.Run("claim limit", func(t *testing.T) {
		e := setup(t, factory)
		for i := range 3 {
			e.enqueue(t, i)
		}

		claimed, err := e.store.ClaimNext(ctx, "w1", 2, time.Minute)
		require.NoError(t, err)
		assert.Len(t, claimed, 2)

		stats, err := e.store.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), stats.Active)
		assert.Equal(t, int64(1), stats.Waiting)
	})

	t.Run("delayed jobs wait", func(t *testing.T) {
		e := setup(t, factory)
		job := e.enqueue(t, 0, queue.WithDelay(5*time.Second))
		assert.Equal(t, queue.JobStateDelayed, job.State)

		e.clock.Advance(4 * time.Second)
		_, err := e.store.ClaimNext(ctx, "w1", 1, time.Minute)
		require.ErrorIs(t, err, queue.ErrNoJobToClaim)

		stats, err := e.store.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.Delayed)

		e.clock.Advance(time.Second)
		stats, err = e.store.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.Waiting)
		assert.Equal(t, int64(0), stats.Delayed)

		claimed, err := e.store.ClaimNext(ctx, "w1", 1, time.Minute)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, job.ID, claimed[0].ID)
	})

	t.Run("retry exhaustion", func(t *testing.T) {
		e := setup(t, factory)
		backoff := queue.DefaultBackoff()
		job := e.enqueue(t, 0, queue.WithMaxAttempts(3))

		for attempt := 1; attempt <= 3; attempt++ {
			claimed, err := e.store.ClaimNext(ctx, "w1", 1, time.Minute)
			require.NoError(t, err, "attempt %d", attempt)
			require.Len(t, claimed, 1)
			require.Equal(t, attempt, claimed[0].Attempts)

			failure := queue.Failure{Reason: fmt.Sprintf("attempt %d failed", attempt)}
			if claimed[0].AttemptsLeft() {
				failure.RetryIn = backoff(attempt)
			}
			state, err := e.store.MarkFailed(ctx, job.ID, "w1", failure)
			require.NoError(t, err)

			if attempt == 3 {
				assert.Equal(t, queue.JobStateFailed, state)
				break
			}
			assert.Equal(t, queue.JobStateDelayed, state)

			e.clock.Advance(failure.RetryIn - time.Millisecond)
			_, err = e.store.ClaimNext(ctx, "w1", 1, time.Minute)
			require.ErrorIs(t, err, queue.ErrNoJobToClaim)
			e.clock.Advance(time.Millisecond)
		}

		got, err := e.store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, queue.JobStateFailed, got.State)
		assert.Equal(t, 3, got.Attempts)
		assert.Equal(t, "attempt 3 failed", got.LastError)
		assert.NotNil(t, got.FailedAt)
	})

	t.Run("final failure", func(t *testing.T) {
		e := setup(t, factory)
		job := e.enqueue(t, 0, queue.WithMaxAttempts(5))

		_, err := e.store.ClaimNext(ctx, "w1", 1, time.Minute)
		require.NoError(t, err)
		state, err := e.store.MarkFailed(ctx, job.ID, "w1", queue.Failure{Reason: "bad address", RetryIn: time.Second, Final: true})
		require.NoError(t, err)
		assert.Equal(t, queue.JobStateFailed, state)
	})

	t.Run("immediate retry", func(t *testing.T) {
		e := setup(t, factory)
		job := e.enqueue(t, 0)

		_, err := e.store.ClaimNext(ctx, "w1", 1, time.Minute)
		require.NoError(t, err)
		state, err := e.store.MarkFailed(ctx, job.ID, "w1", queue.Failure{Reason: "flaky"})
		require.NoError(t, err)
		assert.Equal(t, queue.JobStateWaiting, state)

		claimed, err := e.store.ClaimNext(ctx, "w2", 1, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 2, claimed[0].Attempts)
	})

	t.Run("lease ownership", func(t *testing.T) {
		e := setup(t, factory)
		job := e.enqueue(t, 0)

		_, err := e.store.ClaimNext(ctx, "w1", 1, time.Minute)
		require.NoError(t, err)

		require.ErrorIs(t, e.store.MarkCompleted(ctx, job.ID, "w2", ""), queue.ErrLeaseLost)
		require.ErrorIs(t, e.store.ExtendLease(ctx, job.ID, "w2", time.Minute), queue.ErrLeaseLost)
		require.ErrorIs(t, e.store.ExtendLease(ctx, uuid.New(), "w1", time.Minute), queue.ErrJobNotFound)
		_, err = e.store.MarkFailed(ctx, job.ID, "w2", queue.Failure{Reason: "x"})
		require.ErrorIs(t, err, queue.ErrLeaseLost)

		e.clock.Advance(50 * time.Second)
		require.NoError(t, e.store.ExtendLease(ctx, job.ID, "w1", time.Minute))

		e.clock.Advance(30 * time.Second)
		n, err := e.store.RecoverStalled(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		e.clock.Advance(time.Minute)
		n, err = e.store.RecoverStalled(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, err := e.store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, queue.JobStateWaiting, got.State)
		assert.Equal(t, "lease expired", got.LastError)
		assert.Empty(t, got.LockedBy)

		require.ErrorIs(t, e.store.MarkCompleted(ctx, job.ID, "w1", ""), queue.ErrLeaseLost)
	})

	t.Run("stalled job with no attempts left fails", func(t *testing.T) {
		e := setup(t, factory)
		job := e.enqueue(t, 0, queue.WithMaxAttempts(1))

		_, err := e.store.ClaimNext(ctx, "w1", 1, time.Second)
		require.NoError(t, err)

		e.clock.Advance(2 * time.Second)
		n, err := e.store.RecoverStalled(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, err := e.store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, queue.JobStateFailed, got.State)
	})

	t.Run("stats consistency", func(t *testing.T) {
		e := setup(t, factory)
		for i := range 3 {
			e.enqueue(t, i, queue.WithMaxAttempts(1))
		}

		claimed, err := e.store.ClaimNext(ctx, "w1", 2, time.Minute)
		require.NoError(t, err)
		require.Len(t, claimed, 2)

		require.NoError(t, e.store.MarkCompleted(ctx, claimed[0].ID, "w1", "queued as 4BX2"))
		_, err = e.store.MarkFailed(ctx, claimed[1].ID, "w1", queue.Failure{Reason: "boom"})
		require.NoError(t, err)

		stats, err := e.store.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, queue.Stats{Waiting: 1, Active: 0, Completed: 1, Failed: 1, Delayed: 0, Total: 3}, stats)

		got, err := e.store.Get(ctx, claimed[0].ID)
		require.NoError(t, err)
		assert.Equal(t, "queued as 4BX2", got.Result)
		assert.NotNil(t, got.CompletedAt)
	})

	t.Run("clean is idempotent", func(t *testing.T) {
		e := setup(t, factory)
		a := e.enqueue(t, 0)
		b := e.enqueue(t, 1)

		_, err := e.store.ClaimNext(ctx, "w1", 2, time.Minute)
		require.NoError(t, err)
		require.NoError(t, e.store.MarkCompleted(ctx, a.ID, "w1", ""))
		e.clock.Advance(time.Hour)
		require.NoError(t, e.store.MarkCompleted(ctx, b.ID, "w1", ""))

		_, err = e.store.Clean(ctx, queue.JobStateActive, time.Minute)
		require.ErrorIs(t, err, queue.ErrInvalidCleanState)

		removed, err := e.store.Clean(ctx, queue.JobStateCompleted, 30*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		removed, err = e.store.Clean(ctx, queue.JobStateCompleted, 30*time.Minute)
		require.NoError(t, err)
		assert.Zero(t, removed)

		_, err = e.store.Get(ctx, a.ID)
		require.ErrorIs(t, err, queue.ErrJobNotFound)
		_, err = e.store.Get(ctx, b.ID)
		require.NoError(t, err)
	})

	t.Run("payload round trip", func(t *testing.T) {
		e := setup(t, factory)
		job := e.enqueue(t, 42, queue.WithPriority(7))

		got, err := e.store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, jobType, got.Type)
		assert.Equal(t, 7, got.Priority)
		assert.Equal(t, queue.JobStateWaiting, got.State)
		assert.Equal(t, queue.DefaultMaxAttempts, got.MaxAttempts)
		assert.JSONEq(t, `{"n":42}`, string(got.Payload))
		assert.WithinDuration(t, e.clock.Now(), got.CreatedAt, time.Millisecond)
	})

	t.Run("concurrent claims never overlap", func(t *testing.T) {
		e := setup(t, factory)
		const total = 60
		for i := range total {
			e.enqueue(t, i)
		}

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			seen = make(map[uuid.UUID]int)
		)
		for w := range 8 {
			wg.Add(1)
			go func(workerID string) {
				defer wg.Done()
				for {
					claimed, err := e.store.ClaimNext(ctx, workerID, 2, time.Minute)
					if err != nil {
						return
					}
					mu.Lock()
					for _, j := range claimed {
						seen[j.ID]++
					}
					mu.Unlock()
				}
			}(fmt.Sprintf("w%d", w))
		}
		wg.Wait()

		assert.Len(t, seen, total)
		for id, n := range seen {
			assert.Equal(t, 1, n, "job %s claimed %d times", id, n)
		}
	})
}
