package queue

import (
	"log/slog"
	"time"
)

// EnqueuerOption is a functional option for configuring an Enqueuer
type EnqueuerOption func(*enqueuerOptions)

type enqueuerOptions struct {
	types              []JobType
	defaultPriority    int
	defaultMaxAttempts int
	now                func() time.Time
	logger             *slog.Logger
}

// WithJobTypes restricts the enqueuer to the given job types.
// Anything else is rejected with ErrUnknownJobType before reaching the store.
func WithJobTypes(types ...JobType) EnqueuerOption {
	return func(o *enqueuerOptions) {
		o.types = append(o.types, types...)
	}
}

// WithDefaultPriority sets the default priority
func WithDefaultPriority(priority int) EnqueuerOption {
	return func(o *enqueuerOptions) {
		if ValidPriority(priority) {
			o.defaultPriority = priority
		}
	}
}

// WithDefaultMaxAttempts sets the attempt ceiling used when Enqueue gets none
func WithDefaultMaxAttempts(n int) EnqueuerOption {
	return func(o *enqueuerOptions) {
		if n > 0 && n <= MaxAttemptsLimit {
			o.defaultMaxAttempts = n
		}
	}
}

// WithEnqueuerClock overrides the time source used for scheduling
func WithEnqueuerClock(now func() time.Time) EnqueuerOption {
	return func(o *enqueuerOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithEnqueuerLogger sets the logger for the enqueuer
func WithEnqueuerLogger(logger *slog.Logger) EnqueuerOption {
	return func(o *enqueuerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// EnqueueOption is a functional option for the Enqueue method
type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	priority    int
	maxAttempts int
	delay       time.Duration
	scheduledAt *time.Time
}

// WithPriority sets the priority for the job. Lower runs first.
func WithPriority(priority int) EnqueueOption {
	return func(o *enqueueOptions) {
		o.priority = priority
	}
}

// WithMaxAttempts sets the maximum number of attempts (1-25)
func WithMaxAttempts(n int) EnqueueOption {
	return func(o *enqueueOptions) {
		if n > 0 && n <= MaxAttemptsLimit {
			o.maxAttempts = n
		}
	}
}

// WithDelay sets a delay before the job can be processed
func WithDelay(delay time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		if delay > 0 {
			o.delay = delay
		}
	}
}

// WithScheduledAt sets a specific time for the job to be processed
func WithScheduledAt(scheduledAt time.Time) EnqueueOption {
	return func(o *enqueueOptions) {
		o.scheduledAt = &scheduledAt
	}
}
