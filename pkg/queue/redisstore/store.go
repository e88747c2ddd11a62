// Package redisstore implements queue.Store on Redis.
//
// Each job is a hash; per-state sorted sets index them. Waiting jobs are
// scored by (priority-1)<<32 | sequence, delayed jobs by their due time and
// active jobs by lease expiry. Every transition runs as a Lua script so
// concurrent workers never observe a half-moved job.
//
// Scripts build job keys from the prefix, so on Redis Cluster the prefix
// must contain a hash tag, e.g. "{mailqueue}:".
//
// Due times, lease expiry and retention cutoffs are computed from the
// calling process's clock (see WithClock), not Redis TIME. Hosts sharing a
// prefix must keep their clocks in sync; skew larger than the worker lease
// lets one host reclaim a job another host still holds.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/learnhub/mailqueue/pkg/queue"
)

const (
	defaultPrefix = "mailqueue:"
	promoteBatch  = 1000
	cleanBatch    = 500
	maxSequence   = 1<<32 - 1
)

// Store is a Redis backed queue.Store.
type Store struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ queue.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithKeyPrefix namespaces every key. Defaults to "mailqueue:".
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithClock overrides the time source used for scheduling and leases.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New wraps a connected client. The client is closed by Close.
func New(client redis.UniversalClient, opts ...Option) (*Store, error) {
	if client == nil {
		return nil, queue.ErrRepositoryNil
	}

	s := &Store{
		client: client,
		prefix: defaultPrefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

func (s *Store) jobKey(id uuid.UUID) string { return s.jobPrefix() + id.String() }
func (s *Store) jobPrefix() string { return s.prefix + "job:" }
func (s *Store) stateKey(state queue.JobState) string {
	return s.prefix + string(state)
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping implements queue.ReporterRepository.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return errors.Join(queue.ErrStoreUnavailable, err)
	}
	return nil
}

// Enqueue implements queue.EnqueuerRepository.
func (s *Store) Enqueue(ctx context.Context, job *queue.Job) error {
	if job == nil {
		return errors.New("job cannot be nil")
	}

	seq, err := s.client.Incr(ctx, s.prefix+"seq").Result()
	if err != nil {
		return wrapErr(err)
	}
	if seq > maxSequence {
		return fmt.Errorf("sequence %d exhausted the waiting score range", seq)
	}

	rank := int64(job.Priority-1)<<32 | seq
	state, score := queue.JobStateWaiting, rank
	if job.ScheduledAt.After(s.now()) {
		state, score = queue.JobStateDelayed, job.ScheduledAt.UnixMilli()
	}

	created, err := enqueueScript.Run(ctx, s.client,
		[]string{s.jobKey(job.ID), s.stateKey(state)},
		itoa(score), job.ID.String(),
		"id", job.ID.String(),
		"type", string(job.Type),
		"payload", string(job.Payload),
		"priority", strconv.Itoa(job.Priority),
		"rank", itoa(rank),
		"state", string(state),
		"attempts", "0",
		"max_attempts", strconv.Itoa(job.MaxAttempts),
		"seq", itoa(seq),
		"scheduled_at", itoa(job.ScheduledAt.UnixMilli()),
		"created_at", itoa(job.CreatedAt.UnixMilli()),
		"locked_by", "",
		"locked_until", "",
		"completed_at", "",
		"failed_at", "",
		"last_error", "",
		"result", "",
	).Int()
	if err != nil {
		return wrapErr(err)
	}
	if created == 0 {
		return fmt.Errorf("job with ID %s already exists", job.ID)
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
	reply, err := claimScript.Run(ctx, s.client,
		[]string{s.stateKey(queue.JobStateWaiting), s.stateKey(queue.JobStateDelayed), s.stateKey(queue.JobStateActive)},
		itoa(now.UnixMilli()), limit, workerID, itoa(now.Add(lease).UnixMilli()), s.jobPrefix(), promoteBatch,
	).Slice()
	if err != nil {
		return nil, wrapErr(err)
	}
	if len(reply) == 0 {
		return nil, queue.ErrNoJobToClaim
	}

	jobs := make([]*queue.Job, 0, len(reply))
	for _, item := range reply {
		job, err := parseJob(item)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// ExtendLease implements queue.WorkerRepository.
func (s *Store) ExtendLease(ctx context.Context, id uuid.UUID, workerID string, lease time.Duration) error {
	status, err := extendScript.Run(ctx, s.client,
		[]string{s.jobKey(id), s.stateKey(queue.JobStateActive)},
		workerID, itoa(s.now().Add(lease).UnixMilli()), id.String(),
	).Text()
	if err != nil {
		return wrapErr(err)
	}
	return heldStatus(id, status)
}

// MarkCompleted implements queue.WorkerRepository.
func (s *Store) MarkCompleted(ctx context.Context, id uuid.UUID, workerID string, result string) error {
	status, err := completeScript.Run(ctx, s.client,
		[]string{s.jobKey(id), s.stateKey(queue.JobStateActive), s.stateKey(queue.JobStateCompleted)},
		workerID, itoa(s.now().UnixMilli()), result, id.String(),
	).Text()
	if err != nil {
		return wrapErr(err)
	}
	return heldStatus(id, status)
}

// MarkFailed implements queue.WorkerRepository.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, workerID string, failure queue.Failure) (queue.JobState, error) {
	now := s.now()

	final := "0"
	if failure.Final {
		final = "1"
	}
	retryAt := ""
	if failure.RetryIn > 0 {
		retryAt = itoa(now.Add(failure.RetryIn).UnixMilli())
	}

	status, err := failScript.Run(ctx, s.client,
		[]string{
			s.jobKey(id),
			s.stateKey(queue.JobStateActive),
			s.stateKey(queue.JobStateFailed),
			s.stateKey(queue.JobStateDelayed),
			s.stateKey(queue.JobStateWaiting),
		},
		workerID, itoa(now.UnixMilli()), failure.Reason, final, retryAt, id.String(),
	).Text()
	if err != nil {
		return "", wrapErr(err)
	}
	if err := heldStatus(id, status); err != nil {
		return "", err
	}

	return queue.JobState(status), nil
}

// RecoverStalled implements queue.WorkerRepository.
func (s *Store) RecoverStalled(ctx context.Context) (int, error) {
	n, err := recoverScript.Run(ctx, s.client,
		[]string{s.stateKey(queue.JobStateActive), s.stateKey(queue.JobStateFailed), s.stateKey(queue.JobStateWaiting)},
		itoa(s.now().UnixMilli()), s.jobPrefix(),
	).Int()
	if err != nil {
		return 0, wrapErr(err)
	}
	return n, nil
}

// Stats implements queue.ReporterRepository.
// Delayed jobs whose time has come are reported as waiting.
func (s *Store) Stats(ctx context.Context) (queue.Stats, error) {
	counts := make(map[queue.JobState]*redis.IntCmd, len(queue.States))
	var due *redis.IntCmd

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, state := range queue.States {
			counts[state] = pipe.ZCard(ctx, s.stateKey(state))
		}
		due = pipe.ZCount(ctx, s.stateKey(queue.JobStateDelayed), "-inf", itoa(s.now().UnixMilli()))
		return nil
	})
	if err != nil {
		return queue.Stats{}, wrapErr(err)
	}

	values := make(map[queue.JobState]int64, len(counts))
	for state, cmd := range counts {
		values[state] = cmd.Val()
	}
	values[queue.JobStateWaiting] += due.Val()
	values[queue.JobStateDelayed] -= due.Val()

	return queue.NewStats(values), nil
}

// Clean implements queue.CleanerRepository.
func (s *Store) Clean(ctx context.Context, state queue.JobState, olderThan time.Duration) (int, error) {
	if !state.Terminal() {
		return 0, queue.ErrInvalidCleanState
	}

	cutoff := itoa(s.now().Add(-olderThan).UnixMilli())
	total := 0
	for {
		n, err := cleanScript.Run(ctx, s.client,
			[]string{s.stateKey(state)},
			cutoff, s.jobPrefix(), cleanBatch,
		).Int()
		if err != nil {
			return total, wrapErr(err)
		}
		total += n
		if n < cleanBatch {
			return total, nil
		}
	}
}

// Get returns a job by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*queue.Job, error) {
	fields, err := s.client.HGetAll(ctx, s.jobKey(id)).Result()
	if err != nil {
		return nil, wrapErr(err)
	}
	if len(fields) == 0 {
		return nil, queue.ErrJobNotFound
	}
	return jobFromFields(fields)
}

func heldStatus(id uuid.UUID, status string) error {
	switch status {
	case "missing":
		return queue.ErrJobNotFound
	case "lost":
		return fmt.Errorf("%w: job %s", queue.ErrLeaseLost, id)
	}
	return nil
}

// parseJob decodes one HGETALL array returned from a script.
func parseJob(item any) (*queue.Job, error) {
	flat, ok := item.([]any)
	if !ok || len(flat)%2 != 0 {
		return nil, fmt.Errorf("unexpected job reply %T", item)
	}

	fields := make(map[string]string, len(flat)/2)
	for i := 0; i < len(flat); i += 2 {
		k, _ := flat[i].(string)
		v, _ := flat[i+1].(string)
		fields[k] = v
	}
	return jobFromFields(fields)
}

func jobFromFields(f map[string]string) (*queue.Job, error) {
	id, err := uuid.Parse(f["id"])
	if err != nil {
		return nil, fmt.Errorf("invalid job id %q: %w", f["id"], err)
	}

	job := &queue.Job{
		ID:        id,
		Type:      queue.JobType(f["type"]),
		Payload:   json.RawMessage(f["payload"]),
		State:     queue.JobState(f["state"]),
		LockedBy:  f["locked_by"],
		LastError: f["last_error"],
		Result:    f["result"],
	}

	var errs []error
	atoi := func(key string) int {
		n, err := strconv.Atoi(f[key])
		if err != nil {
			errs = append(errs, fmt.Errorf("field %s: %w", key, err))
		}
		return n
	}
	millis := func(key string) *time.Time {
		if f[key] == "" {
			return nil
		}
		ms, err := strconv.ParseInt(f[key], 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("field %s: %w", key, err))
			return nil
		}
		t := time.UnixMilli(ms).UTC()
		return &t
	}

	job.Priority = atoi("priority")
	job.Attempts = atoi("attempts")
	job.MaxAttempts = atoi("max_attempts")
	job.Sequence = int64(atoi("seq"))
	if t := millis("scheduled_at"); t != nil {
		job.ScheduledAt = *t
	}
	if t := millis("created_at"); t != nil {
		job.CreatedAt = *t
	}
	job.LockedUntil = millis("locked_until")
	job.CompletedAt = millis("completed_at")
	job.FailedAt = millis("failed_at")

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return job, nil
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

// wrapErr marks transport failures as store unavailability.
// Errors replied by the server itself pass through unchanged.
func wrapErr(err error) error {
	var replyErr redis.Error
	if errors.As(err, &replyErr) {
		return err
	}
	return errors.Join(queue.ErrStoreUnavailable, err)
}
