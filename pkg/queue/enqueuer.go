package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/learnhub/mailqueue/pkg/logger"
)

// Enqueuer validates and stores jobs. It never executes them.
type Enqueuer struct {
	repo               EnqueuerRepository
	types              map[JobType]struct{}
	defaultPriority    int
	defaultMaxAttempts int
	now                func() time.Time
	logger             *slog.Logger
}

// NewEnqueuer creates a new Enqueuer
func NewEnqueuer(repo EnqueuerRepository, opts ...EnqueuerOption) (*Enqueuer, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	options := &enqueuerOptions{
		defaultPriority:    PriorityDefault,
		defaultMaxAttempts: DefaultMaxAttempts,
		now:                time.Now,
		logger:             slog.Default(),
	}

	for _, opt := range opts {
		opt(options)
	}

	var types map[JobType]struct{}
	if len(options.types) > 0 {
		types = make(map[JobType]struct{}, len(options.types))
		for _, t := range options.types {
			types[t] = struct{}{}
		}
	}

	return &Enqueuer{
		repo:               repo,
		types:              types,
		defaultPriority:    options.defaultPriority,
		defaultMaxAttempts: options.defaultMaxAttempts,
		now:                options.now,
		logger:             options.logger,
	}, nil
}

// Enqueue adds a new job to the queue and returns it with its id assigned.
// The call returns as soon as the store accepted the job.
func (e *Enqueuer) Enqueue(ctx context.Context, jobType JobType, payload any, opts ...EnqueueOption) (*Job, error) {
	if payload == nil {
		return nil, ErrPayloadNil
	}
	if e.types != nil {
		if _, ok := e.types[jobType]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownJobType, jobType)
		}
	}

	// Apply default options
	options := &enqueueOptions{
		priority:    e.defaultPriority,
		maxAttempts: e.defaultMaxAttempts,
	}

	// Apply user options
	for _, opt := range opts {
		opt(options)
	}

	if !ValidPriority(options.priority) {
		return nil, ErrInvalidPriority
	}

	job, err := e.buildJob(jobType, payload, options)
	if err != nil {
		return nil, err
	}

	if err := e.repo.Enqueue(ctx, job); err != nil {
		e.logger.ErrorContext(ctx, "failed to enqueue job",
			slog.String("job_type", jobType.String()),
			logger.Error(err))
		return nil, fmt.Errorf("failed to enqueue %s job: %w", jobType, err)
	}

	e.logger.DebugContext(ctx, "job enqueued",
		slog.String("job_id", job.ID.String()),
		slog.String("job_type", jobType.String()),
		slog.Int("priority", job.Priority),
		slog.String("state", string(job.State)))

	return job, nil
}

// buildJob constructs a Job from payload and options
func (e *Enqueuer) buildJob(jobType JobType, payload any, options *enqueueOptions) (*Job, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Join(ErrPayloadMarshal, fmt.Errorf("payload of type %T: %w", payload, err))
	}

	now := e.now()
	scheduledAt := now
	state := JobStateWaiting
	if options.scheduledAt != nil {
		scheduledAt = *options.scheduledAt
	} else if options.delay > 0 {
		scheduledAt = now.Add(options.delay)
	}
	if scheduledAt.After(now) {
		state = JobStateDelayed
	}

	return &Job{
		ID:          uuid.New(),
		Type:        jobType,
		Payload:     payloadBytes,
		Priority:    options.priority,
		State:       state,
		Attempts:    0,
		MaxAttempts: options.maxAttempts,
		ScheduledAt: scheduledAt,
		CreatedAt:   now,
	}, nil
}
