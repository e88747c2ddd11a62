package queue

import (
	"log/slog"
	"time"

	"github.com/learnhub/mailqueue/pkg/ratelimiter"
)

// WorkerOption is a functional option for configuring a worker
type WorkerOption func(*workerOptions)

type workerOptions struct {
	workerID         string
	concurrency      int
	pollInterval     time.Duration
	leaseDuration    time.Duration
	stalledInterval  time.Duration
	jobTimeout       time.Duration
	backoff          BackoffPolicy
	reconnectBackoff BackoffPolicy
	limiter          ratelimiter.Limiter
	limiterKey       string
	rateLimit        int
	rateWindow       time.Duration
	observer         Observer
	logger           *slog.Logger
}

// WithWorkerID overrides the generated worker identity used for leases
func WithWorkerID(id string) WorkerOption {
	return func(o *workerOptions) {
		if id != "" {
			o.workerID = id
		}
	}
}

// WithConcurrency sets the maximum number of jobs processed at once
func WithConcurrency(n int) WorkerOption {
	return func(o *workerOptions) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithPollInterval sets how often the worker checks for new jobs
func WithPollInterval(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithLeaseDuration sets how long a claimed job stays reserved without a heartbeat
func WithLeaseDuration(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.leaseDuration = d
		}
	}
}

// WithStalledInterval sets how often expired leases are recovered
func WithStalledInterval(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.stalledInterval = d
		}
	}
}

// WithJobTimeout bounds a single handler invocation
func WithJobTimeout(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.jobTimeout = d
		}
	}
}

// WithBackoff sets the retry delay policy for failed jobs
func WithBackoff(policy BackoffPolicy) WorkerOption {
	return func(o *workerOptions) {
		if policy != nil {
			o.backoff = policy
		}
	}
}

// WithReconnectBackoff sets the delay policy applied while the store is failing
func WithReconnectBackoff(policy BackoffPolicy) WorkerOption {
	return func(o *workerOptions) {
		if policy != nil {
			o.reconnectBackoff = policy
		}
	}
}

// WithRateLimiter gates claims through limiter under key.
// Workers in different processes sharing a Redis backed limiter and key share one budget.
func WithRateLimiter(limiter ratelimiter.Limiter, key string) WorkerOption {
	return func(o *workerOptions) {
		o.limiter = limiter
		if key != "" {
			o.limiterKey = key
		}
	}
}

// WithRateLimit configures the default in-memory limiter to n claims per window.
// n <= 0 disables rate limiting.
func WithRateLimit(n int, per time.Duration) WorkerOption {
	return func(o *workerOptions) {
		o.rateLimit = n
		if per > 0 {
			o.rateWindow = per
		}
	}
}

// WithObserver receives job outcomes, e.g. for metrics
func WithObserver(observer Observer) WorkerOption {
	return func(o *workerOptions) {
		o.observer = observer
	}
}

// WithWorkerLogger sets the logger for the worker
func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(o *workerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
