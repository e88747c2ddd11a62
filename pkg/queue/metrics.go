package queue

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "mailqueue"

// Metrics exports queue depth at scrape time and job outcomes observed by workers.
// Register it with a prometheus.Registerer and pass it to the worker via WithObserver.
type Metrics struct {
	reporter ReporterRepository
	timeout  time.Duration

	jobs     *prometheus.Desc
	storeUp  *prometheus.Desc
	results  *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

var (
	_ prometheus.Collector = (*Metrics)(nil)
	_ Observer             = (*Metrics)(nil)
)

// NewMetrics creates the queue collector.
func NewMetrics(reporter ReporterRepository) *Metrics {
	return &Metrics{
		reporter: reporter,
		timeout:  5 * time.Second,
		jobs: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "jobs"),
			"Number of jobs per state.",
			[]string{"state"}, nil,
		),
		storeUp: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "store_up"),
			"Whether the job store answered the last scrape.",
			nil, nil,
		),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "job_results_total",
			Help:      "Processed jobs by type and outcome.",
		}, []string{"type", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "job_duration_seconds",
			Help:      "Handler execution time by job type.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"type"}),
	}
}

// JobProcessed implements Observer.
func (m *Metrics) JobProcessed(jobType JobType, outcome Outcome, took time.Duration) {
	m.results.WithLabelValues(jobType.String(), string(outcome)).Inc()
	m.duration.WithLabelValues(jobType.String()).Observe(took.Seconds())
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.jobs
	ch <- m.storeUp
	m.results.Describe(ch)
	m.duration.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.results.Collect(ch)
	m.duration.Collect(ch)

	if m.reporter == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	stats, err := m.reporter.Stats(ctx)
	if err != nil {
		ch <- prometheus.MustNewConstMetric(m.storeUp, prometheus.GaugeValue, 0)
		return
	}

	ch <- prometheus.MustNewConstMetric(m.storeUp, prometheus.GaugeValue, 1)
	for _, state := range States {
		ch <- prometheus.MustNewConstMetric(m.jobs, prometheus.GaugeValue, float64(stats.Count(state)), string(state))
	}
}
