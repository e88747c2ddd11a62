// Package pgstore implements queue.Store on PostgreSQL.
//
// Claims use SELECT ... FOR UPDATE SKIP LOCKED so concurrent workers never
// receive the same row. The schema lives in Migrations.
package pgstore

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/learnhub/mailqueue/pkg/pg"
	"github.com/learnhub/mailqueue/pkg/queue"
)

const (
	jobColumns = `id, type, payload, priority, state, attempts, max_attempts, seq,
		scheduled_at, created_at, locked_by, locked_until, completed_at, failed_at, last_error, result`

	// claimed rows are joined with the CTE, so their columns need the table alias.
	claimedColumns = `j.id, j.type, j.payload, j.priority, j.state, j.attempts, j.max_attempts, j.seq,
		j.scheduled_at, j.created_at, j.locked_by, j.locked_until, j.completed_at, j.failed_at, j.last_error, j.result`
)

// Store is a PostgreSQL backed queue.Store.
type Store struct {
	pool *pgxpool.Pool
	ping func(context.Context) error
	now  func() time.Time
}

var _ queue.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for scheduling and leases.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New wraps an open pool. The pool is closed by Close.
func New(pool *pgxpool.Pool, opts ...Option) (*Store, error) {
	if pool == nil {
		return nil, queue.ErrRepositoryNil
	}

	s := &Store{
		pool: pool,
		ping: pg.Healthcheck(pool),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping implements queue.ReporterRepository.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.ping(ctx); err != nil {
		return errors.Join(queue.ErrStoreUnavailable, err)
	}
	return nil
}

// Enqueue implements queue.EnqueuerRepository.
func (s *Store) Enqueue(ctx context.Context, job *queue.Job) error {
	if job == nil {
		return errors.New("job cannot be nil")
	}

	state := queue.JobStateWaiting
	if job.ScheduledAt.After(s.now()) {
		state = queue.JobStateDelayed
	}

	var seq int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO mailqueue_jobs (id, type, payload, priority, state, attempts, max_attempts, scheduled_at, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $8)
		RETURNING seq`,
		job.ID, string(job.Type), []byte(job.Payload), job.Priority, string(state),
		job.MaxAttempts, job.ScheduledAt, job.CreatedAt,
	).Scan(&seq)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return fmt.Errorf("job with ID %s already exists", job.ID)
		}
		return wrapErr(err)
	}

	job.Sequence = seq
	job.State = state
	job.Attempts = 0
	return nil
}

// ClaimNext implements queue.WorkerRepository.
func (s *Store) ClaimNext(ctx context.Context, workerID string, limit int, lease time.Duration) ([]*queue.Job, error) {
	if limit <= 0 {
		return nil, queue.ErrNoJobToClaim
	}

	now := s.now()
	rows, err := s.pool.Query(ctx, `
		WITH next AS (
			SELECT id FROM mailqueue_jobs
			WHERE state IN ('waiting', 'delayed') AND scheduled_at <= $1
			ORDER BY priority, seq
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE mailqueue_jobs j
		SET state = 'active', attempts = j.attempts + 1, locked_by = $3, locked_until = $4
		FROM next
		WHERE j.id = next.id
		RETURNING `+claimedColumns,
		now, limit, workerID, now.Add(lease),
	)
	if err != nil {
		return nil, wrapErr(err)
	}

	jobs, err := pgx.CollectRows(rows, scanJob)
	if err != nil {
		return nil, wrapErr(err)
	}
	if len(jobs) == 0 {
		return nil, queue.ErrNoJobToClaim
	}

	// RETURNING does not preserve the CTE order.
	slices.SortFunc(jobs, func(a, b *queue.Job) int {
		if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.Sequence, b.Sequence)
	})

	return jobs, nil
}

// ExtendLease implements queue.WorkerRepository.
func (s *Store) ExtendLease(ctx context.Context, id uuid.UUID, workerID string, lease time.Duration) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE mailqueue_jobs SET locked_until = $3
		WHERE id = $1 AND state = 'active' AND locked_by = $2`,
		id, workerID, s.now().Add(lease),
	)
	if err != nil {
		return wrapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return s.notHeld(ctx, id)
	}
	return nil
}

// MarkCompleted implements queue.WorkerRepository.
func (s *Store) MarkCompleted(ctx context.Context, id uuid.UUID, workerID string, result string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE mailqueue_jobs
		SET state = 'completed', completed_at = $3, result = $4, locked_by = NULL, locked_until = NULL
		WHERE id = $1 AND state = 'active' AND locked_by = $2`,
		id, workerID, s.now(), result,
	)
	if err != nil {
		return wrapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return s.notHeld(ctx, id)
	}
	return nil
}

// MarkFailed implements queue.WorkerRepository.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, workerID string, failure queue.Failure) (queue.JobState, error) {
	now := s.now()

	var state string
	err := s.pool.QueryRow(ctx, `
		UPDATE mailqueue_jobs SET
			state = CASE
				WHEN $4::boolean OR attempts >= max_attempts THEN 'failed'
				WHEN $5::boolean THEN 'delayed'
				ELSE 'waiting'
			END,
			failed_at = CASE WHEN $4::boolean OR attempts >= max_attempts THEN $6 ELSE failed_at END,
			scheduled_at = CASE WHEN $4::boolean OR attempts >= max_attempts THEN scheduled_at ELSE $7 END,
			last_error = $3,
			locked_by = NULL,
			locked_until = NULL
		WHERE id = $1 AND state = 'active' AND locked_by = $2
		RETURNING state`,
		id, workerID, failure.Reason, failure.Final, failure.RetryIn > 0, now, now.Add(max(failure.RetryIn, 0)),
	).Scan(&state)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return "", s.notHeld(ctx, id)
		}
		return "", wrapErr(err)
	}

	return queue.JobState(state), nil
}

// RecoverStalled implements queue.WorkerRepository.
func (s *Store) RecoverStalled(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE mailqueue_jobs SET
			state = CASE WHEN attempts >= max_attempts THEN 'failed' ELSE 'waiting' END,
			failed_at = CASE WHEN attempts >= max_attempts THEN $1 ELSE failed_at END,
			scheduled_at = CASE WHEN attempts >= max_attempts THEN scheduled_at ELSE $1 END,
			last_error = 'lease expired',
			locked_by = NULL,
			locked_until = NULL
		WHERE state = 'active' AND locked_until <= $1`,
		s.now(),
	)
	if err != nil {
		return 0, wrapErr(err)
	}
	return int(tag.RowsAffected()), nil
}

// Stats implements queue.ReporterRepository.
// Delayed jobs whose time has come are reported as waiting.
func (s *Store) Stats(ctx context.Context) (queue.Stats, error) {
	var waiting, active, completed, failed, delayed int64
	err := s.pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE state = 'waiting' OR (state = 'delayed' AND scheduled_at <= $1)),
			count(*) FILTER (WHERE state = 'active'),
			count(*) FILTER (WHERE state = 'completed'),
			count(*) FILTER (WHERE state = 'failed'),
			count(*) FILTER (WHERE state = 'delayed' AND scheduled_at > $1)
		FROM mailqueue_jobs`,
		s.now(),
	).Scan(&waiting, &active, &completed, &failed, &delayed)
	if err != nil {
		return queue.Stats{}, wrapErr(err)
	}

	return queue.NewStats(map[queue.JobState]int64{
		queue.JobStateWaiting:   waiting,
		queue.JobStateActive:    active,
		queue.JobStateCompleted: completed,
		queue.JobStateFailed:    failed,
		queue.JobStateDelayed:   delayed,
	}), nil
}

// Clean implements queue.CleanerRepository.
func (s *Store) Clean(ctx context.Context, state queue.JobState, olderThan time.Duration) (int, error) {
	var query string
	switch state {
	case queue.JobStateCompleted:
		query = `DELETE FROM mailqueue_jobs WHERE state = 'completed' AND completed_at <= $1`
	case queue.JobStateFailed:
		query = `DELETE FROM mailqueue_jobs WHERE state = 'failed' AND failed_at <= $1`
	default:
		return 0, queue.ErrInvalidCleanState
	}

	tag, err := s.pool.Exec(ctx, query, s.now().Add(-olderThan))
	if err != nil {
		return 0, wrapErr(err)
	}
	return int(tag.RowsAffected()), nil
}

// Get returns a job by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*queue.Job, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+jobColumns+` FROM mailqueue_jobs WHERE id = $1`, id)
	if err != nil {
		return nil, wrapErr(err)
	}

	job, err := pgx.CollectExactlyOneRow(rows, scanJob)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, queue.ErrJobNotFound
		}
		return nil, wrapErr(err)
	}
	return job, nil
}

func (s *Store) notHeld(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM mailqueue_jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return wrapErr(err)
	}
	if !exists {
		return queue.ErrJobNotFound
	}
	return fmt.Errorf("%w: job %s", queue.ErrLeaseLost, id)
}

func scanJob(row pgx.CollectableRow) (*queue.Job, error) {
	var (
		job         queue.Job
		jobType     string
		state       string
		payload     []byte
		lockedBy    *string
		lockedUntil *time.Time
	)

	err := row.Scan(
		&job.ID, &jobType, &payload, &job.Priority, &state, &job.Attempts, &job.MaxAttempts, &job.Sequence,
		&job.ScheduledAt, &job.CreatedAt, &lockedBy, &lockedUntil, &job.CompletedAt, &job.FailedAt,
		&job.LastError, &job.Result,
	)
	if err != nil {
		return nil, err
	}

	job.Type = queue.JobType(jobType)
	job.State = queue.JobState(state)
	job.Payload = payload
	job.LockedUntil = lockedUntil
	if lockedBy != nil {
		job.LockedBy = *lockedBy
	}
	return &job, nil
}

func wrapErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || pg.IsConnectionError(err) {
		return errors.Join(queue.ErrStoreUnavailable, err)
	}
	return err
}
