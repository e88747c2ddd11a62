package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EnqueuerRepository defines the interface for job creation
type EnqueuerRepository interface {
	Enqueue(ctx context.Context, job *Job) error
}

// WorkerRepository defines the interface for worker operations.
// Claim atomicity is the store's responsibility: concurrent ClaimNext calls
// must never return the same job while it is active.
type WorkerRepository interface {
	// ClaimNext moves up to limit eligible jobs to active, ordered by priority
	// then enqueue sequence, and leases them to workerID.
	ClaimNext(ctx context.Context, workerID string, limit int, lease time.Duration) ([]*Job, error)

	// ExtendLease pushes the lease of an active job forward.
	ExtendLease(ctx context.Context, id uuid.UUID, workerID string, lease time.Duration) error

	// MarkCompleted moves an active job to completed and records the result.
	MarkCompleted(ctx context.Context, id uuid.UUID, workerID string, result string) error

	// MarkFailed records the failure and returns the state the job ended in:
	// delayed/waiting when it will be retried, failed otherwise.
	MarkFailed(ctx context.Context, id uuid.UUID, workerID string, failure Failure) (JobState, error)

	// RecoverStalled returns active jobs with an expired lease to waiting.
	RecoverStalled(ctx context.Context) (int, error)
}

// ReporterRepository defines the read-only operations used for monitoring
type ReporterRepository interface {
	Stats(ctx context.Context) (Stats, error)
	Ping(ctx context.Context) error
}

// CleanerRepository defines retention cleanup
type CleanerRepository interface {
	// Clean deletes jobs in a terminal state that finished before now-olderThan.
	Clean(ctx context.Context, state JobState, olderThan time.Duration) (int, error)
}

// Store is the full job store contract implemented by every backend.
type Store interface {
	EnqueuerRepository
	WorkerRepository
	ReporterRepository
	CleanerRepository

	Get(ctx context.Context, id uuid.UUID) (*Job, error)
	Close() error
}
