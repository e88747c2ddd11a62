package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/learnhub/mailqueue/pkg/logger"
	"github.com/learnhub/mailqueue/pkg/ratelimiter"
)

// Outcome is how a processed job ended up.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeRetried   Outcome = "retried"
	OutcomeFailed    Outcome = "failed"
)

// Observer is notified after every processed job.
type Observer interface {
	JobProcessed(jobType JobType, outcome Outcome, took time.Duration)
}

// DefaultLimiterKey is the rate limiter key used when none is configured.
const DefaultLimiterKey = "mailqueue:claims"

// markTimeout bounds store writes that record a job result.
// They run on a fresh context so they still land while the worker is stopping.
const markTimeout = 10 * time.Second

// Worker claims jobs from the store and runs them through registered handlers.
type Worker struct {
	repo     WorkerRepository
	handlers map[JobType]Handler
	workerID string
	sem      chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex

	// Configuration
	pollInterval     time.Duration
	leaseDuration    time.Duration
	stalledInterval  time.Duration
	jobTimeout       time.Duration
	backoff          BackoffPolicy
	reconnectBackoff BackoffPolicy
	limiter          ratelimiter.Limiter
	limiterKey       string
	observer         Observer
	logger           *slog.Logger

	// State management
	cancel   context.CancelFunc
	done     chan struct{}
	wake     chan struct{}
	inFlight atomic.Int64
}

// NewWorker creates a worker for the given handlers.
// The handler set is fixed for the lifetime of the worker.
func NewWorker(repo WorkerRepository, handlers []Handler, opts ...WorkerOption) (*Worker, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	registry, err := buildRegistry(handlers)
	if err != nil {
		return nil, err
	}

	options := &workerOptions{
		workerID:         defaultWorkerID(),
		concurrency:      5,
		pollInterval:     500 * time.Millisecond,
		leaseDuration:    90 * time.Second,
		stalledInterval:  30 * time.Second,
		jobTimeout:       3 * time.Minute,
		backoff:          DefaultBackoff(),
		reconnectBackoff: ExponentialBackoff{Base: 500 * time.Millisecond, Multiplier: 2, Max: 30 * time.Second}.Delay,
		limiterKey:       DefaultLimiterKey,
		rateLimit:        10,
		rateWindow:       time.Second,
		logger:           slog.Default(),
	}

	for _, opt := range opts {
		opt(options)
	}

	limiter := options.limiter
	if limiter == nil && options.rateLimit > 0 {
		store := ratelimiter.NewMemoryStore(ratelimiter.WithCleanupInterval(0))
		limiter, err = ratelimiter.NewBucket(store, ratelimiter.PerWindow(options.rateLimit, options.rateWindow))
		if err != nil {
			return nil, fmt.Errorf("failed to create rate limiter: %w", err)
		}
	}

	return &Worker{
		repo:             repo,
		handlers:         registry,
		workerID:         options.workerID,
		sem:              make(chan struct{}, options.concurrency),
		pollInterval:     options.pollInterval,
		leaseDuration:    options.leaseDuration,
		stalledInterval:  options.stalledInterval,
		jobTimeout:       options.jobTimeout,
		backoff:          options.backoff,
		reconnectBackoff: options.reconnectBackoff,
		limiter:          limiter,
		limiterKey:       options.limiterKey,
		observer:         options.observer,
		logger:           options.logger,
		wake:             make(chan struct{}, 1),
	}, nil
}

// ID returns the identity the worker leases jobs under.
func (w *Worker) ID() string {
	return w.workerID
}

// Running reports whether the worker is claiming jobs.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancel != nil
}

// InFlight returns the number of jobs currently being processed.
func (w *Worker) InFlight() int {
	return int(w.inFlight.Load())
}

// Start begins processing jobs in the background
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return ErrWorkerRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	go w.run(runCtx, w.done)

	w.logger.Info("worker started",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", cap(w.sem)),
		slog.Int("handlers", len(w.handlers)))

	return nil
}

// Stop stops claiming and waits for in-flight jobs to finish.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if w.cancel == nil {
		w.mu.Unlock()
		return ErrWorkerNotRunning
	}
	cancel, done := w.cancel, w.done
	w.cancel = nil
	w.mu.Unlock()

	cancel()
	<-done

	w.logger.Info("worker stopping, waiting for active jobs",
		slog.String("worker_id", w.workerID),
		slog.Int("in_flight", w.InFlight()))

	// Only the run goroutine adds to wg, and it has exited.
	w.wg.Wait()

	w.logger.Info("worker stopped", slog.String("worker_id", w.workerID))

	return nil
}

// Run starts the worker and returns a function suitable for errgroup
func (w *Worker) Run(ctx context.Context) func() error {
	return func() error {
		if err := w.Start(ctx); err != nil {
			return err
		}

		<-ctx.Done()

		return w.Stop()
	}
}

// run is the claim loop. It is the only goroutine that acquires slots.
func (w *Worker) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	w.recoverStalled(ctx)

	stalled := time.NewTicker(w.stalledInterval)
	defer stalled.Stop()

	poll := time.NewTimer(0)
	defer poll.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-stalled.C:
			w.recoverStalled(ctx)
			continue
		case <-w.wake:
		case <-poll.C:
		}

		next := w.pollInterval
		claimed, err := w.claim(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			failures++
			next = w.reconnectBackoff(failures)
			w.logger.Error("failed to claim jobs",
				slog.String("worker_id", w.workerID),
				slog.Int("consecutive_failures", failures),
				slog.Duration("retry_in", next),
				logger.Error(err))
		case claimed > 0:
			failures = 0
			// More work is likely; slots freeing up will wake the loop.
			next = w.pollInterval / 4
		default:
			failures = 0
		}

		poll.Reset(next)
	}
}

// claim leases as many jobs as there are free slots and rate budget.
func (w *Worker) claim(ctx context.Context) (int, error) {
	free := cap(w.sem) - len(w.sem)
	if free == 0 {
		return 0, nil
	}

	limit := free
	if w.limiter != nil {
		status, err := w.limiter.Status(ctx, w.limiterKey)
		if err != nil {
			// a shared limiter usually lives on the store's backend
			if errors.Is(err, ratelimiter.ErrStoreUnavailable) {
				return 0, errors.Join(ErrStoreUnavailable, err)
			}
			return 0, fmt.Errorf("failed to read rate limit: %w", err)
		}
		limit = min(limit, status.Available())
		if limit == 0 {
			w.logger.Debug("claim rate limit reached",
				slog.String("worker_id", w.workerID),
				slog.Duration("retry_after", status.RetryAfter()))
			return 0, nil
		}
	}

	jobs, err := w.repo.ClaimNext(ctx, w.workerID, limit, w.leaseDuration)
	if err != nil {
		if errors.Is(err, ErrNoJobToClaim) {
			return 0, nil
		}
		return 0, err
	}

	if w.limiter != nil && len(jobs) > 0 {
		if _, err := w.limiter.AllowN(ctx, w.limiterKey, len(jobs)); err != nil {
			w.logger.Warn("failed to record claims against rate limit",
				slog.String("worker_id", w.workerID),
				logger.Error(err))
		}
	}

	for _, job := range jobs {
		w.sem <- struct{}{}
		w.wg.Add(1)
		w.inFlight.Add(1)
		go w.process(job)
	}

	return len(jobs), nil
}

func (w *Worker) process(job *Job) {
	defer w.wg.Done()
	defer func() {
		w.inFlight.Add(-1)
		<-w.sem
		select {
		case w.wake <- struct{}{}:
		default:
		}
	}()

	log := w.logger.With(
		logger.WorkerID(w.workerID),
		logger.JobID(job.ID.String()),
		logger.JobType(job.Type.String()),
		logger.Attempt(job.Attempts))

	log.Debug("processing job")

	jobCtx, cancel := context.WithTimeout(context.Background(), w.jobTimeout)
	defer cancel()
	// handlers logging with this context get the job attrs appended
	jobCtx = logger.ContextWithAttrs(jobCtx,
		logger.JobID(job.ID.String()),
		logger.JobType(job.Type.String()),
		logger.Attempt(job.Attempts))

	stopHeartbeat := w.heartbeat(jobCtx, cancel, job, log)
	start := time.Now()
	result, err := w.execute(jobCtx, job)
	took := time.Since(start)
	stopHeartbeat()

	if err != nil {
		w.fail(job, err, took, log)
		return
	}
	w.complete(job, result, took, log)
}

// execute runs the handler, converting panics into errors.
func (w *Worker) execute(ctx context.Context, job *Job) (result string, err error) {
	handler, ok := w.handlers[job.Type]
	if !ok {
		return "", Permanent(fmt.Errorf("%w: %q", ErrUnknownJobType, job.Type))
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	return handler.Handle(ctx, job)
}

// heartbeat extends the lease every third of its duration until stopped.
// Losing the lease cancels the job context.
func (w *Worker) heartbeat(ctx context.Context, lost context.CancelFunc, job *Job, log *slog.Logger) func() {
	stop := make(chan struct{})
	exited := make(chan struct{})

	go func() {
		defer close(exited)

		ticker := time.NewTicker(max(w.leaseDuration/3, time.Millisecond))
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := w.repo.ExtendLease(ctx, job.ID, w.workerID, w.leaseDuration)
				if errors.Is(err, ErrLeaseLost) || errors.Is(err, ErrJobNotFound) {
					log.Warn("lease lost, abandoning job", logger.Error(err))
					lost()
					return
				}
				if err != nil {
					log.Warn("failed to extend lease", logger.Error(err))
				}
			}
		}
	}()

	return func() {
		close(stop)
		<-exited
	}
}

func (w *Worker) complete(job *Job, result string, took time.Duration, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), markTimeout)
	defer cancel()

	if err := w.repo.MarkCompleted(ctx, job.ID, w.workerID, result); err != nil {
		w.logMarkError(log, "failed to mark job as completed", err)
		return
	}

	w.observe(job.Type, OutcomeCompleted, took)
	log.Info("job completed", slog.Duration("took", took))
}

func (w *Worker) fail(job *Job, jobErr error, took time.Duration, log *slog.Logger) {
	failure := Failure{
		Reason: jobErr.Error(),
		Final:  errors.Is(jobErr, ErrPermanent),
	}
	if !failure.Final && job.AttemptsLeft() {
		failure.RetryIn = w.backoff(job.Attempts)
	}

	ctx, cancel := context.WithTimeout(context.Background(), markTimeout)
	defer cancel()

	state, err := w.repo.MarkFailed(ctx, job.ID, w.workerID, failure)
	if err != nil {
		w.logMarkError(log, "failed to mark job as failed", err)
		return
	}

	if state == JobStateFailed {
		w.observe(job.Type, OutcomeFailed, took)
		log.Error("job failed",
			slog.Int("max_attempts", job.MaxAttempts),
			slog.Bool("permanent", failure.Final),
			logger.Error(jobErr))
		return
	}

	w.observe(job.Type, OutcomeRetried, took)
	log.Warn("job failed, will retry",
		slog.Duration("retry_in", failure.RetryIn),
		logger.Error(jobErr))
}

func (w *Worker) logMarkError(log *slog.Logger, msg string, err error) {
	if errors.Is(err, ErrLeaseLost) {
		// Another worker recovered the job; its outcome wins.
		log.Warn(msg, logger.Error(err))
		return
	}
	log.Error(msg, logger.Error(err))
}

func (w *Worker) recoverStalled(ctx context.Context) {
	n, err := w.repo.RecoverStalled(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("failed to recover stalled jobs",
				slog.String("worker_id", w.workerID),
				logger.Error(err))
		}
		return
	}
	if n > 0 {
		w.logger.Warn("recovered stalled jobs",
			slog.String("worker_id", w.workerID),
			slog.Int("count", n))
	}
}

func (w *Worker) observe(jobType JobType, outcome Outcome, took time.Duration) {
	if w.observer != nil {
		w.observer.JobProcessed(jobType, outcome, took)
	}
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}
