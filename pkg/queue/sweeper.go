package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/learnhub/mailqueue/pkg/logger"
)

// Cleaner removes finished jobs past their retention.
type Cleaner interface {
	Clean(ctx context.Context, grace time.Duration) (CleanResult, error)
}

// Sweeper runs retention cleanup on a schedule.
type Sweeper struct {
	cleaner  Cleaner
	schedule Schedule
	grace    time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSchedule sets when cleanup runs. Defaults to every hour.
func WithSchedule(s Schedule) SweeperOption {
	return func(sw *Sweeper) {
		if s != nil {
			sw.schedule = s
		}
	}
}

// WithCompletedRetention sets how long completed jobs are kept
func WithCompletedRetention(d time.Duration) SweeperOption {
	return func(sw *Sweeper) {
		if d > 0 {
			sw.grace = d
		}
	}
}

// WithSweeperLogger sets the logger for the sweeper
func WithSweeperLogger(logger *slog.Logger) SweeperOption {
	return func(sw *Sweeper) {
		if logger != nil {
			sw.logger = logger
		}
	}
}

// NewSweeper creates a new Sweeper. *Monitor is the usual Cleaner.
func NewSweeper(cleaner Cleaner, opts ...SweeperOption) (*Sweeper, error) {
	if cleaner == nil {
		return nil, ErrRepositoryNil
	}

	sw := &Sweeper{
		cleaner:  cleaner,
		schedule: EveryInterval(time.Hour),
		grace:    DefaultCompletedRetention,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(sw)
	}

	return sw, nil
}

// Start cleans once, then on every scheduled run until ctx is done.
func (sw *Sweeper) Start(ctx context.Context) error {
	sw.logger.Info("sweeper started", slog.String("schedule", sw.schedule.String()))

	sw.sweep(ctx)

	for {
		wait := sw.schedule.Next(sw.now()).Sub(sw.now())
		timer := time.NewTimer(max(wait, 0))

		select {
		case <-ctx.Done():
			timer.Stop()
			sw.logger.Info("sweeper shutting down")
			return nil
		case <-timer.C:
			sw.sweep(ctx)
		}
	}
}

// Run returns a function suitable for errgroup
func (sw *Sweeper) Run(ctx context.Context) func() error {
	return func() error {
		return sw.Start(ctx)
	}
}

func (sw *Sweeper) sweep(ctx context.Context) {
	if _, err := sw.cleaner.Clean(ctx, sw.grace); err != nil && ctx.Err() == nil {
		sw.logger.Error("retention cleanup failed", logger.Error(err))
	}
}
