// Package queue provides a persistent, priority ordered job queue with
// delayed execution, leased claims and bounded retries.
//
// The package is organised around a few components that only meet through the
// repository interfaces in store.go:
//
//   - Enqueuer  validates and stores jobs; it never runs them
//   - Worker    claims eligible jobs and dispatches them to typed Handlers
//   - Monitor   reports statistics and health, and removes old finished jobs
//   - Sweeper   runs Monitor.Clean on a Schedule
//   - Metrics   exports queue depth and job outcomes to Prometheus
//
// MemoryStorage implements Store for tests and local runs; the redisstore and
// pgstore subpackages are the durable backends.
//
// # Lifecycle
//
//	waiting|delayed -> active -> completed
//	                          -> delayed (retry after backoff) -> waiting
//	                          -> failed  (attempts exhausted or permanent error)
//
// Attempts are counted when a job is claimed. A claimed job is leased to one
// worker; the worker extends the lease while the handler runs and a job whose
// lease expires is returned to waiting by RecoverStalled. Delivery is therefore
// at least once: a worker that dies after its handler succeeded but before the
// result was recorded causes the job to run again.
//
// # Usage
//
//	store := queue.NewMemoryStorage()
//	defer store.Close()
//
//	enqueuer, _ := queue.NewEnqueuer(store, queue.WithJobTypes("welcome"))
//	job, err := enqueuer.Enqueue(ctx, "welcome", WelcomePayload{UserID: id},
//		queue.WithPriority(1),
//		queue.WithDelay(time.Minute),
//	)
//
//	worker, _ := queue.NewWorker(store, []queue.Handler{
//		queue.NewHandler("welcome", func(ctx context.Context, p WelcomePayload) (string, error) {
//			return "", send(ctx, p)
//		}),
//	}, queue.WithConcurrency(5))
//
//	g, ctx := errgroup.WithContext(ctx)
//	g.Go(worker.Run(ctx))
//
// # Errors
//
// Handler errors are retried with the worker's BackoffPolicy until MaxAttempts
// is reached. Wrap an error with Permanent to fail the job immediately.
package queue
