package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Retention defaults for terminal jobs.
const (
	DefaultCompletedRetention = 24 * time.Hour
	DefaultFailedRetention    = 7 * 24 * time.Hour
	DefaultFailedThreshold    = 100
)

// Health component names.
const (
	ComponentStore     = "store"
	ComponentFailures  = "failed_jobs"
	ComponentWorker    = "worker"
	ComponentTransport = "transport"
)

type (
	// MonitorRepository is the store surface the monitor reads and cleans.
	MonitorRepository interface {
		ReporterRepository
		CleanerRepository
	}

	// WorkerStatus reports local worker activity. *Worker implements it.
	WorkerStatus interface {
		Running() bool
		InFlight() int
	}

	// TransportStatus reports whether mail can be handed off.
	TransportStatus interface {
		Name() string
		Verify(ctx context.Context) error
	}

	// ComponentHealth is the health of one dependency.
	ComponentHealth struct {
		Name    string `json:"name"`
		Healthy bool   `json:"healthy"`
		Message string `json:"message,omitempty"`
	}

	// Health is a point-in-time health report.
	Health struct {
		Healthy    bool              `json:"healthy"`
		Stats      Stats             `json:"stats"`
		Components []ComponentHealth `json:"components"`
		CheckedAt  time.Time         `json:"checked_at"`
	}

	// CleanResult holds the number of jobs removed per terminal state.
	CleanResult struct {
		Completed int `json:"completed"`
		Failed    int `json:"failed"`
	}
)

// Component returns the named component report.
func (h Health) Component(name string) (ComponentHealth, bool) {
	for _, c := range h.Components {
		if c.Name == name {
			return c, true
		}
	}
	return ComponentHealth{}, false
}

// Monitor reports queue statistics and health and runs retention cleanup.
// Reads never change job state.
type Monitor struct {
	repo            MonitorRepository
	worker          WorkerStatus
	transport       TransportStatus
	failedThreshold int64
	failedRetention time.Duration
	transportTTL    time.Duration
	now             func() time.Time
	logger          *slog.Logger

	verifies        singleflight.Group
	mu              sync.Mutex
	transportErr    error
	transportLastAt time.Time
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithWorkerStatus includes local worker activity in health checks
func WithWorkerStatus(w WorkerStatus) MonitorOption {
	return func(m *Monitor) {
		m.worker = w
	}
}

// WithTransportStatus includes the mail transport in health checks
func WithTransportStatus(t TransportStatus) MonitorOption {
	return func(m *Monitor) {
		m.transport = t
	}
}

// WithFailedThreshold sets the failed job count at which the queue reports unhealthy
func WithFailedThreshold(n int64) MonitorOption {
	return func(m *Monitor) {
		if n > 0 {
			m.failedThreshold = n
		}
	}
}

// WithFailedRetention sets how long failed jobs are kept
func WithFailedRetention(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d > 0 {
			m.failedRetention = d
		}
	}
}

// WithTransportCheckTTL caches transport verification for d. Zero verifies on every check.
func WithTransportCheckTTL(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d >= 0 {
			m.transportTTL = d
		}
	}
}

// WithMonitorClock overrides the time source
func WithMonitorClock(now func() time.Time) MonitorOption {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// WithMonitorLogger sets the logger for the monitor
func WithMonitorLogger(logger *slog.Logger) MonitorOption {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewMonitor creates a new Monitor
func NewMonitor(repo MonitorRepository, opts ...MonitorOption) (*Monitor, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	m := &Monitor{
		repo:            repo,
		failedThreshold: DefaultFailedThreshold,
		failedRetention: DefaultFailedRetention,
		transportTTL:    30 * time.Second,
		now:             time.Now,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

// Stats returns the current job counts.
func (m *Monitor) Stats(ctx context.Context) (Stats, error) {
	stats, err := m.repo.Stats(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read queue stats: %w", err)
	}
	return stats, nil
}

// HealthCheck reports each component and the overall verdict.
func (m *Monitor) HealthCheck(ctx context.Context) Health {
	health := Health{CheckedAt: m.now()}

	store := ComponentHealth{Name: ComponentStore, Healthy: true}
	stats, err := m.pingAndStats(ctx)
	if err != nil {
		store.Healthy = false
		store.Message = err.Error()
	}
	health.Stats = stats
	health.Components = append(health.Components, store)

	if store.Healthy {
		failures := ComponentHealth{
			Name:    ComponentFailures,
			Healthy: stats.Failed < m.failedThreshold,
			Message: fmt.Sprintf("%d failed, threshold %d", stats.Failed, m.failedThreshold),
		}
		health.Components = append(health.Components, failures, m.workerHealth(stats))
	}

	if m.transport != nil {
		transport := ComponentHealth{Name: ComponentTransport, Healthy: true, Message: m.transport.Name()}
		if err := m.verifyTransport(ctx); err != nil {
			transport.Healthy = false
			transport.Message = fmt.Sprintf("%s: %v", m.transport.Name(), err)
		}
		health.Components = append(health.Components, transport)
	}

	health.Healthy = true
	for _, c := range health.Components {
		if !c.Healthy {
			health.Healthy = false
			break
		}
	}

	return health
}

// Clean removes completed jobs older than grace and failed jobs older than the
// failed retention. Non-positive grace means the default 24h.
func (m *Monitor) Clean(ctx context.Context, grace time.Duration) (CleanResult, error) {
	if grace <= 0 {
		grace = DefaultCompletedRetention
	}

	var result CleanResult
	completed, err := m.repo.Clean(ctx, JobStateCompleted, grace)
	if err != nil {
		return result, fmt.Errorf("failed to clean completed jobs: %w", err)
	}
	result.Completed = completed

	failed, err := m.repo.Clean(ctx, JobStateFailed, m.failedRetention)
	if err != nil {
		return result, fmt.Errorf("failed to clean failed jobs: %w", err)
	}
	result.Failed = failed

	if completed > 0 || failed > 0 {
		m.logger.InfoContext(ctx, "cleaned finished jobs",
			slog.Int("completed", completed),
			slog.Int("failed", failed))
	}

	return result, nil
}

func (m *Monitor) pingAndStats(ctx context.Context) (Stats, error) {
	if err := m.repo.Ping(ctx); err != nil {
		return Stats{}, err
	}
	return m.repo.Stats(ctx)
}

func (m *Monitor) workerHealth(stats Stats) ComponentHealth {
	c := ComponentHealth{Name: ComponentWorker}

	inFlight := 0
	if m.worker != nil {
		inFlight = m.worker.InFlight()
	}
	processing := stats.Active > 0 || inFlight > 0

	switch {
	case stats.Waiting == 0:
		c.Healthy = true
		c.Message = "no backlog"
	case processing:
		c.Healthy = true
		c.Message = fmt.Sprintf("%d active, %d waiting", stats.Active, stats.Waiting)
	default:
		c.Message = fmt.Sprintf("%d waiting, nothing processing", stats.Waiting)
	}

	if m.worker != nil && !m.worker.Running() {
		c.Message += "; local worker stopped"
	}

	return c
}

func (m *Monitor) verifyTransport(ctx context.Context) error {
	now := m.now()
	m.mu.Lock()
	if m.transportTTL > 0 && !m.transportLastAt.IsZero() && now.Sub(m.transportLastAt) < m.transportTTL {
		err := m.transportErr
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	// Concurrent checks share one in-flight Verify; each caller still
	// gives up on its own context.
	ch := m.verifies.DoChan(ComponentTransport, func() (any, error) {
		err := m.transport.Verify(ctx)
		if errors.Is(err, context.Canceled) {
			// Not the transport's fault; do not cache.
			return nil, err
		}
		m.mu.Lock()
		m.transportErr = err
		m.transportLastAt = now
		m.mu.Unlock()
		return nil, err
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}
