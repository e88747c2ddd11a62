package queue

import "time"

// Config holds the configuration for the job queue
type Config struct {
	Concurrency     int           `env:"QUEUE_CONCURRENCY" envDefault:"5"`
	PollInterval    time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"500ms"`
	LeaseDuration   time.Duration `env:"QUEUE_LEASE_DURATION" envDefault:"90s"`
	StalledInterval time.Duration `env:"QUEUE_STALLED_INTERVAL" envDefault:"30s"`
	JobTimeout      time.Duration `env:"QUEUE_JOB_TIMEOUT" envDefault:"3m"`
	ShutdownTimeout time.Duration `env:"QUEUE_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	RateLimit       int           `env:"QUEUE_RATE_LIMIT" envDefault:"10"`
	RateWindow      time.Duration `env:"QUEUE_RATE_WINDOW" envDefault:"1s"`
	BackoffBase     time.Duration `env:"QUEUE_BACKOFF_BASE" envDefault:"2s"`
	MaxAttempts     int           `env:"QUEUE_MAX_ATTEMPTS" envDefault:"3"`

	CompletedRetention time.Duration `env:"QUEUE_COMPLETED_RETENTION" envDefault:"24h"`
	FailedRetention    time.Duration `env:"QUEUE_FAILED_RETENTION" envDefault:"168h"`
	CleanupInterval    time.Duration `env:"QUEUE_CLEANUP_INTERVAL" envDefault:"1h"`
	CleanupSchedule    string        `env:"QUEUE_CLEANUP_SCHEDULE"`
	FailedThreshold    int64         `env:"QUEUE_FAILED_THRESHOLD" envDefault:"100"`
}

// WorkerOptions converts the config into worker options.
func (c Config) WorkerOptions() []WorkerOption {
	return []WorkerOption{
		WithConcurrency(c.Concurrency),
		WithPollInterval(c.PollInterval),
		WithLeaseDuration(c.LeaseDuration),
		WithStalledInterval(c.StalledInterval),
		WithJobTimeout(c.JobTimeout),
		WithBackoff(ExponentialBackoff{Base: c.BackoffBase, Multiplier: 2}.Delay),
		WithRateLimit(c.RateLimit, c.RateWindow),
	}
}

// CleanupPlan returns the sweeper schedule. CleanupSchedule wins over
// CleanupInterval when set.
func (c Config) CleanupPlan() (Schedule, error) {
	return ParseSchedule(c.CleanupSchedule, c.CleanupInterval)
}
