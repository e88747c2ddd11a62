package queue_test

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
	"github.com/learnhub/mailqueue/pkg/queue/storetest"
)

const testJobType queue.JobType = "test-job"

func newTestStorage(t *testing.T) (*queue.MemoryStorage, *queue.Enqueuer, *testClock) {
	t.Helper()

	clock := newTestClock()
	storage := queue.NewMemoryStorage(queue.WithClock(clock.Now))
	t.Cleanup(func() { _ = storage.Close() })

	enqueuer, err := queue.NewEnqueuer(storage, queue.WithEnqueuerClock(clock.Now))
	require.NoError(t, err)

	return storage, enqueuer, clock
}

func TestMemoryStorage_PriorityOrdering(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage, enqueuer, _ := newTestStorage(t)

	ids := make(map[uuid.UUID]int)
	for i, priority := range []int{5, 1, 10, 1} {
		job, err := enqueuer.Enqueue(ctx, testJobType, testPayload{Value: i}, queue.WithPriority(priority))
		require.NoError(t, err)
		ids[job.ID] = i
	}

	claimed, err := storage.ClaimNext(ctx, "w1", 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 4)

	var priorities, order []int
	for _, job := range claimed {
		priorities = append(priorities, job.Priority)
		order = append(order, ids[job.ID])
	}
	assert.Equal(t, []int{1, 1, 5, 10}, priorities)
	// FIFO among equal priorities
	assert.Equal(t, []int{1, 3, 0, 2}, order)
}

func TestMemoryStorage_ClaimNext(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("empty queue", func(t *testing.T) {
		t.Parallel()

		storage, _, _ := newTestStorage(t)
		_, err := storage.ClaimNext(ctx, "w1", 1, time.Minute)
		assert.ErrorIs(t, err, queue.ErrNoJobToClaim)
	})

	t.Run("respects limit and leases", func(t *testing.T) {
		t.Parallel()

		storage, enqueuer, clock := newTestStorage(t)
		for i := range 3 {
			_, err := enqueuer.Enqueue(ctx, testJobType, testPayload{Value: i})
			require.NoError(t, err)
		}

		claimed, err := storage.ClaimNext(ctx, "w1", 2, time.Minute)
		require.NoError(t, err)
		require.Len(t, claimed, 2)

		job := claimed[0]
		assert.Equal(t, queue.JobStateActive, job.State)
		assert.Equal(t, 1, job.Attempts)
		assert.Equal(t, "w1", job.LockedBy)
		require.NotNil(t, job.LockedUntil)
		assert.Equal(t, clock.Now().Add(time.Minute), *job.LockedUntil)

		stats, err := storage.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), stats.Active)
		assert.Equal(t, int64(1), stats.Waiting)
	})

	t.Run("delay respected", func(t *testing.T) {
		t.Parallel()

		storage, enqueuer, clock := newTestStorage(t)
		job, err := enqueuer.Enqueue(ctx, testJobType, testPayload{}, queue.WithDelay(5*time.Second))
		require.NoError(t, err)
		assert.Equal(t, queue.JobStateDelayed, job.State)

		clock.Advance(4 * time.Second)
		_, err = storage.ClaimNext(ctx, "w1", 1, time.Minute)
		require.ErrorIs(t, err, queue.ErrNoJobToClaim)

		clock.Advance(time.Second)
		claimed, err := storage.ClaimNext(ctx, "w1", 1, time.Minute)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, job.ID, claimed[0].ID)
	})

	t.Run("at most one claimant under contention", func(t *testing.T) {
		t.Parallel()

		storage, enqueuer, _ := newTestStorage(t)
		const jobs = 200
		for i := range jobs {
			_, err := enqueuer.Enqueue(ctx, testJobType, testPayload{Value: i})
			require.NoError(t, err)
		}

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			seen = make(map[uuid.UUID]string)
			dups int
		)
		for w := range 16 {
			wg.Add(1)
			go func(workerID string) {
				defer wg.Done()
				for {
					claimed, err := storage.ClaimNext(ctx, workerID, 3, time.Minute)
					if err != nil {
						return
					}
					mu.Lock()
					for _, job := range claimed {
						if _, ok := seen[job.ID]; ok {
							dups++
						}
						seen[job.ID] = workerID
					}
					mu.Unlock()
				}
			}(fmt.Sprintf("w%d", w))
		}
		wg.Wait()

		assert.Zero(t, dups)
		assert.Len(t, seen, jobs)
	})
}

func TestMemoryStorage_Lease(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage, enqueuer, clock := newTestStorage(t)

	job, err := enqueuer.Enqueue(ctx, testJobType, testPayload{})
	require.NoError(t, err)
	_, err = storage.ClaimNext(ctx, "w1", 1, time.Minute)
	require.NoError(t, err)

	err = storage.MarkCompleted(ctx, job.ID, "w2", "")
	require.ErrorIs(t, err, queue.ErrLeaseLost)

	err = storage.ExtendLease(ctx, uuid.New(), "w1", time.Minute)
	require.ErrorIs(t, err, queue.ErrJobNotFound)

	clock.Advance(50 * time.Second)
	require.NoError(t, storage.ExtendLease(ctx, job.ID, "w1", time.Minute))

	// The extended lease survives past the original expiry.
	clock.Advance(30 * time.Second)
	n, err := storage.RecoverStalled(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clock.Advance(time.Minute)
	n, err = storage.RecoverStalled(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := storage.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.JobStateWaiting, got.State)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "lease expired", got.LastError)
	assert.Empty(t, got.LockedBy)

	// The original holder can no longer report.
	err = storage.MarkCompleted(ctx, job.ID, "w1", "")
	require.ErrorIs(t, err, queue.ErrLeaseLost)
}

func TestMemoryStorage_RetryExhaustion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage, enqueuer, clock := newTestStorage(t)
	backoff := queue.DefaultBackoff()

	job, err := enqueuer.Enqueue(ctx, testJobType, testPayload{}, queue.WithMaxAttempts(3))
	require.NoError(t, err)

	for attempt := 1; attempt <= 3; attempt++ {
		claimed, err := storage.ClaimNext(ctx, "w1", 1, time.Minute)
		require.NoError(t, err, "attempt %d", attempt)
		require.Len(t, claimed, 1)
		assert.Equal(t, attempt, claimed[0].Attempts)

		failure := queue.Failure{Reason: "smtp down"}
		if claimed[0].AttemptsLeft() {
			failure.RetryIn = backoff(attempt)
		}
		state, err := storage.MarkFailed(ctx, job.ID, "w1", failure)
		require.NoError(t, err)

		if attempt == 3 {
			assert.Equal(t, queue.JobStateFailed, state)
			break
		}
		assert.Equal(t, queue.JobStateDelayed, state)

		// Not eligible a millisecond before the backoff elapses.
		minimum := time.Duration(2000<<(attempt-1)) * time.Millisecond
		clock.Advance(minimum - time.Millisecond)
		_, err = storage.ClaimNext(ctx, "w1", 1, time.Minute)
		require.ErrorIs(t, err, queue.ErrNoJobToClaim)
		clock.Advance(time.Millisecond)
	}

	got, err := storage.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.JobStateFailed, got.State)
	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, "smtp down", got.LastError)
	assert.NotNil(t, got.FailedAt)

	_, err = storage.ClaimNext(ctx, "w1", 1, time.Minute)
	require.ErrorIs(t, err, queue.ErrNoJobToClaim)
}

func TestMemoryStorage_MarkFailed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	tests := []struct {
		name    string
		failure queue.Failure
		want    queue.JobState
	}{
		{"immediate retry", queue.Failure{Reason: "x"}, queue.JobStateWaiting},
		{"delayed retry", queue.Failure{Reason: "x", RetryIn: time.Second}, queue.JobStateDelayed},
		{"final", queue.Failure{Reason: "x", RetryIn: time.Second, Final: true}, queue.JobStateFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			storage, enqueuer, _ := newTestStorage(t)
			job, err := enqueuer.Enqueue(ctx, testJobType, testPayload{})
			require.NoError(t, err)
			_, err = storage.ClaimNext(ctx, "w1", 1, time.Minute)
			require.NoError(t, err)

			state, err := storage.MarkFailed(ctx, job.ID, "w1", tt.failure)
			require.NoError(t, err)
			assert.Equal(t, tt.want, state)
		})
	}
}

func TestMemoryStorage_StatsConsistency(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage, enqueuer, _ := newTestStorage(t)

	for i := range 3 {
		_, err := enqueuer.Enqueue(ctx, testJobType, testPayload{Value: i}, queue.WithMaxAttempts(1))
		require.NoError(t, err)
	}

	claimed, err := storage.ClaimNext(ctx, "w1", 2, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 2)

	require.NoError(t, storage.MarkCompleted(ctx, claimed[0].ID, "w1", "msg-1"))
	_, err = storage.MarkFailed(ctx, claimed[1].ID, "w1", queue.Failure{Reason: "boom"})
	require.NoError(t, err)

	stats, err := storage.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, queue.Stats{Waiting: 1, Active: 0, Completed: 1, Failed: 1, Delayed: 0, Total: 3}, stats)

	got, err := storage.Get(ctx, claimed[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "msg-1", got.Result)
}

func TestMemoryStorage_StatsCountsDueDelayedAsWaiting(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage, enqueuer, clock := newTestStorage(t)

	_, err := enqueuer.Enqueue(ctx, testJobType, testPayload{}, queue.WithDelay(time.Second))
	require.NoError(t, err)

	stats, err := storage.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Delayed)

	clock.Advance(time.Second)
	stats, err = storage.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Delayed)
	assert.Equal(t, int64(1), stats.Waiting)
}

func TestMemoryStorage_Clean(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage, enqueuer, clock := newTestStorage(t)

	for i := range 2 {
		_, err := enqueuer.Enqueue(ctx, testJobType, testPayload{Value: i})
		require.NoError(t, err)
	}
	claimed, err := storage.ClaimNext(ctx, "w1", 2, time.Minute)
	require.NoError(t, err)
	require.NoError(t, storage.MarkCompleted(ctx, claimed[0].ID, "w1", ""))

	clock.Advance(time.Hour)
	require.NoError(t, storage.MarkCompleted(ctx, claimed[1].ID, "w1", ""))

	_, err = storage.Clean(ctx, queue.JobStateWaiting, time.Hour)
	require.ErrorIs(t, err, queue.ErrInvalidCleanState)

	removed, err := storage.Clean(ctx, queue.JobStateCompleted, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	// Running it again removes nothing more.
	removed, err = storage.Clean(ctx, queue.JobStateCompleted, 30*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, removed)

	_, err = storage.Get(ctx, claimed[0].ID)
	require.ErrorIs(t, err, queue.ErrJobNotFound)
	_, err = storage.Get(ctx, claimed[1].ID)
	require.NoError(t, err)
}

func TestMemoryStorage_PayloadIsolated(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage, enqueuer, _ := newTestStorage(t)

	job, err := enqueuer.Enqueue(ctx, testJobType, testPayload{Message: "hello"})
	require.NoError(t, err)
	want := string(job.Payload)

	job.Payload[0] = 'X'

	got, err := storage.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, want, string(got.Payload))
	got.Payload[0] = 'Y'

	claimed, err := storage.ClaimNext(ctx, "w1", 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, want, string(claimed[0].Payload))
	claimed[0].Payload[0] = 'Z'

	got, err = storage.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, want, string(got.Payload))
}

func TestMemoryStorage_Closed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage := queue.NewMemoryStorage()
	require.NoError(t, storage.Close())
	require.NoError(t, storage.Close())

	require.ErrorIs(t, storage.Ping(ctx), queue.ErrStoreUnavailable)
	_, err := storage.Stats(ctx)
	require.ErrorIs(t, err, queue.ErrStoreUnavailable)
	err = storage.Enqueue(ctx, &queue.Job{ID: uuid.New()})
	require.ErrorIs(t, err, queue.ErrStoreUnavailable)
	_, err = storage.ClaimNext(ctx, "w1", 1, time.Minute)
	require.ErrorIs(t, err, queue.ErrStoreUnavailable)
}

func TestMemoryStorage_LeaseSweep(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage := queue.NewMemoryStorage(queue.WithLeaseSweep(10 * time.Millisecond))
	t.Cleanup(func() { _ = storage.Close() })

	enqueuer, err := queue.NewEnqueuer(storage)
	require.NoError(t, err)
	job, err := enqueuer.Enqueue(ctx, testJobType, testPayload{})
	require.NoError(t, err)

	_, err = storage.ClaimNext(ctx, "w1", 1, 20*time.Millisecond)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := storage.Get(ctx, job.ID)
		return err == nil && got.State == queue.JobStateWaiting
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryStorage_Contract(t *testing.T) {
	t.Parallel()

	storetest.Run(t, func(t *testing.T, now func() time.Time) queue.Store {
		storage := queue.NewMemoryStorage(queue.WithClock(now))
		t.Cleanup(func() { _ = storage.Close() })
		return storage
	})
}
