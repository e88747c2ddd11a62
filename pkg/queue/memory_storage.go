package queue

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStorage implements Store for tests and local development.
// A single mutex makes every operation atomic, which is what gives ClaimNext
// its exactly-one-claimant guarantee.
type MemoryStorage struct {
	mu      sync.RWMutex
	jobs    map[uuid.UUID]*Job
	byState map[JobState]map[uuid.UUID]struct{}
	seq     int64
	now     func() time.Time

	// Lease expiry sweep
	sweepInterval time.Duration
	done          chan struct{}
	closeOnce     sync.Once
}

// MemoryStorageOption configures a MemoryStorage.
type MemoryStorageOption func(*MemoryStorage)

// WithClock overrides the time source. Used by tests to step time.
func WithClock(now func() time.Time) MemoryStorageOption {
	return func(ms *MemoryStorage) {
		if now != nil {
			ms.now = now
		}
	}
}

// WithLeaseSweep starts a background goroutine recovering expired leases
// every interval. Zero disables it; workers call RecoverStalled themselves.
func WithLeaseSweep(interval time.Duration) MemoryStorageOption {
	return func(ms *MemoryStorage) {
		ms.sweepInterval = interval
	}
}

// NewMemoryStorage creates a new in-memory storage implementation
func NewMemoryStorage(opts ...MemoryStorageOption) *MemoryStorage {
	ms := &MemoryStorage{
		jobs:    make(map[uuid.UUID]*Job),
		byState: make(map[JobState]map[uuid.UUID]struct{}, len(States)),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	for _, s := range States {
		ms.byState[s] = make(map[uuid.UUID]struct{})
	}

	for _, opt := range opts {
		opt(ms)
	}

	if ms.sweepInterval > 0 {
		go ms.leaseSweeper()
	}

	return ms
}

// Close stops the background goroutines
func (ms *MemoryStorage) Close() error {
	ms.closeOnce.Do(func() { close(ms.done) })
	return nil
}

// Ping implements ReporterRepository
func (ms *MemoryStorage) Ping(ctx context.Context) error {
	select {
	case <-ms.done:
		return errors.Join(ErrStoreUnavailable, errors.New("memory storage closed"))
	default:
		return nil
	}
}

// Enqueue implements EnqueuerRepository
func (ms *MemoryStorage) Enqueue(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job cannot be nil")
	}
	if err := ms.Ping(ctx); err != nil {
		return err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.jobs[job.ID]; exists {
		return fmt.Errorf("job with ID %s already exists", job.ID)
	}

	ms.seq++
	jobCopy := *job
	jobCopy.Payload = bytes.Clone(job.Payload)
	jobCopy.Sequence = ms.seq
	jobCopy.Attempts = 0
	if jobCopy.ScheduledAt.After(ms.now()) {
		jobCopy.State = JobStateDelayed
	} else {
		jobCopy.State = JobStateWaiting
	}
	job.Sequence = jobCopy.Sequence
	job.State = jobCopy.State

	ms.jobs[job.ID] = &jobCopy
	ms.byState[jobCopy.State][job.ID] = struct{}{}

	return nil
}

// ClaimNext implements WorkerRepository
func (ms *MemoryStorage) ClaimNext(ctx context.Context, workerID string, limit int, lease time.Duration) ([]*Job, error) {
	if limit <= 0 {
		return nil, ErrNoJobToClaim
	}
	if err := ms.Ping(ctx); err != nil {
		return nil, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.now()
	ms.promoteDue(now)

	candidates := make([]*Job, 0, len(ms.byState[JobStateWaiting]))
	for id := range ms.byState[JobStateWaiting] {
		candidates = append(candidates, ms.jobs[id])
	}
	if len(candidates) == 0 {
		return nil, ErrNoJobToClaim
	}

	// Priority first, enqueue order second
	slices.SortFunc(candidates, func(a, b *Job) int {
		if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.Sequence, b.Sequence)
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	lockUntil := now.Add(lease)
	claimed := make([]*Job, 0, len(candidates))
	for _, job := range candidates {
		ms.move(job, JobStateActive)
		job.Attempts++
		job.LockedBy = workerID
		job.LockedUntil = &lockUntil

		claimed = append(claimed, job.clone())
	}

	return claimed, nil
}

// ExtendLease implements WorkerRepository
func (ms *MemoryStorage) ExtendLease(ctx context.Context, id uuid.UUID, workerID string, lease time.Duration) error {
	if err := ms.Ping(ctx); err != nil {
		return err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, err := ms.heldBy(id, workerID)
	if err != nil {
		return err
	}

	lockUntil := ms.now().Add(lease)
	job.LockedUntil = &lockUntil
	return nil
}

// MarkCompleted implements WorkerRepository
func (ms *MemoryStorage) MarkCompleted(ctx context.Context, id uuid.UUID, workerID string, result string) error {
	if err := ms.Ping(ctx); err != nil {
		return err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, err := ms.heldBy(id, workerID)
	if err != nil {
		return err
	}

	now := ms.now()
	ms.move(job, JobStateCompleted)
	job.CompletedAt = &now
	job.Result = result
	job.LockedBy = ""
	job.LockedUntil = nil

	return nil
}

// MarkFailed implements WorkerRepository
func (ms *MemoryStorage) MarkFailed(ctx context.Context, id uuid.UUID, workerID string, failure Failure) (JobState, error) {
	if err := ms.Ping(ctx); err != nil {
		return "", err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, err := ms.heldBy(id, workerID)
	if err != nil {
		return "", err
	}

	now := ms.now()
	job.LastError = failure.Reason
	job.LockedBy = ""
	job.LockedUntil = nil

	switch {
	case failure.Final || !job.AttemptsLeft():
		ms.move(job, JobStateFailed)
		job.FailedAt = &now
	case failure.RetryIn > 0:
		ms.move(job, JobStateDelayed)
		job.ScheduledAt = now.Add(failure.RetryIn)
	default:
		ms.move(job, JobStateWaiting)
		job.ScheduledAt = now
	}

	return job.State, nil
}

// RecoverStalled implements WorkerRepository.
// Jobs keep their attempt count; a job whose attempts are exhausted is failed
// instead of being handed out again.
func (ms *MemoryStorage) RecoverStalled(ctx context.Context) (int, error) {
	if err := ms.Ping(ctx); err != nil {
		return 0, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.now()
	recovered := 0
	for id := range ms.byState[JobStateActive] {
		job := ms.jobs[id]
		if job.LockedUntil == nil || job.LockedUntil.After(now) {
			continue
		}

		job.LockedBy = ""
		job.LockedUntil = nil
		job.LastError = "lease expired"
		if job.AttemptsLeft() {
			ms.move(job, JobStateWaiting)
			job.ScheduledAt = now
		} else {
			ms.move(job, JobStateFailed)
			job.FailedAt = &now
		}
		recovered++
	}

	return recovered, nil
}

// Stats implements ReporterRepository.
// Delayed jobs whose time has come are reported as waiting.
func (ms *MemoryStorage) Stats(ctx context.Context) (Stats, error) {
	if err := ms.Ping(ctx); err != nil {
		return Stats{}, err
	}

	ms.mu.RLock()
	defer ms.mu.RUnlock()

	now := ms.now()
	counts := make(map[JobState]int64, len(States))
	for state, ids := range ms.byState {
		counts[state] = int64(len(ids))
	}
	for id := range ms.byState[JobStateDelayed] {
		if !ms.jobs[id].ScheduledAt.After(now) {
			counts[JobStateDelayed]--
			counts[JobStateWaiting]++
		}
	}

	return NewStats(counts), nil
}

// Clean implements CleanerRepository
func (ms *MemoryStorage) Clean(ctx context.Context, state JobState, olderThan time.Duration) (int, error) {
	if !state.Terminal() {
		return 0, ErrInvalidCleanState
	}
	if err := ms.Ping(ctx); err != nil {
		return 0, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	cutoff := ms.now().Add(-olderThan)
	removed := 0
	for id := range ms.byState[state] {
		job := ms.jobs[id]
		finished := job.CompletedAt
		if state == JobStateFailed {
			finished = job.FailedAt
		}
		if finished == nil || finished.After(cutoff) {
			continue
		}
		delete(ms.byState[state], id)
		delete(ms.jobs, id)
		removed++
	}

	return removed, nil
}

// Get returns a copy of the job
func (ms *MemoryStorage) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	if err := ms.Ping(ctx); err != nil {
		return nil, err
	}

	ms.mu.RLock()
	defer ms.mu.RUnlock()

	job, ok := ms.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.clone(), nil
}

// Helper methods

// clone copies job so callers cannot reach the stored payload.
func (j *Job) clone() *Job {
	c := *j
	c.Payload = bytes.Clone(j.Payload)
	return &c
}

func (ms *MemoryStorage) move(job *Job, to JobState) {
	delete(ms.byState[job.State], job.ID)
	job.State = to
	ms.byState[to][job.ID] = struct{}{}
}

func (ms *MemoryStorage) promoteDue(now time.Time) {
	for id := range ms.byState[JobStateDelayed] {
		job := ms.jobs[id]
		if !job.ScheduledAt.After(now) {
			ms.move(job, JobStateWaiting)
		}
	}
}

func (ms *MemoryStorage) heldBy(id uuid.UUID, workerID string) (*Job, error) {
	job, ok := ms.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	if job.State != JobStateActive || job.LockedBy != workerID {
		return nil, fmt.Errorf("%w: job %s", ErrLeaseLost, id)
	}
	return job, nil
}

// leaseSweeper recovers jobs whose worker stopped heartbeating.
func (ms *MemoryStorage) leaseSweeper() {
	ticker := time.NewTicker(ms.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = ms.RecoverStalled(context.Background())
		case <-ms.done:
			return
		}
	}
}
