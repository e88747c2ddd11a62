package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/learnhub/mailqueue/pkg/httpserver"
	"github.com/learnhub/mailqueue/pkg/logger"
)

// Option configures the router.
type Option func(*options)

type options struct {
	logger         *slog.Logger
	metrics        http.Handler
	checks         []httpserver.Check
	checkTimeout   time.Duration
	requestTimeout time.Duration
}

// WithLogger sets the logger for request and error logs.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(o *options) {
		o.metrics = h
	}
}

// WithReadinessChecks serves GET /ready running checks.
func WithReadinessChecks(timeout time.Duration, checks ...httpserver.Check) Option {
	return func(o *options) {
		o.checkTimeout = timeout
		o.checks = append(o.checks, checks...)
	}
}

// WithRequestTimeout bounds every request's context. Defaults to 30s.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.requestTimeout = d
		}
	}
}

// NewRouter returns the HTTP surface of the mail queue:
//
//	POST /emails              queue a generic email
//	POST /emails/invites      queue a course invite
//	POST /emails/test         queue a test email
//	GET  /queue/stats         job counts per state
//	GET  /queue/health        200 when healthy, 503 otherwise
//	GET  /queue/jobs/{id}     a single job
//	POST /queue/clean?grace=  remove finished jobs, grace in milliseconds
//	GET  /live, /ready        probes
//	GET  /metrics             when WithMetricsHandler is set
func NewRouter(producer Producer, monitor Monitor, jobs JobReader, opts ...Option) http.Handler {
	o := &options{
		logger:         slog.Default(),
		requestTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}

	h := &handlers{
		producer: producer,
		monitor:  monitor,
		jobs:     jobs,
		logger:   o.logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger(o.logger), middleware.Recoverer)

	r.Get("/live", httpserver.LivenessHandler())
	r.Get("/ready", httpserver.ReadinessHandler(o.logger, o.checkTimeout, o.checks...))
	if o.metrics != nil {
		r.Method(http.MethodGet, "/metrics", o.metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(o.requestTimeout))

		r.Route("/emails", func(r chi.Router) {
			r.Post("/", h.sendEmail)
			r.Post("/invites", h.sendCourseInvite)
			r.Post("/test", h.sendTestEmail)
		})

		r.Route("/queue", func(r chi.Router) {
			r.Get("/stats", h.stats)
			r.Get("/health", h.health)
			r.Get("/jobs/{id}", h.getJob)
			r.Post("/clean", h.clean)
		})
	})

	return r
}

// requestLogger echoes the request id in the response and tags the request
// context with it, so every log line written while serving it carries
// request_id. It logs one line per request: debug normally, warn for 5xx.
func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if id := middleware.GetReqID(ctx); id != "" {
				w.Header().Set(middleware.RequestIDHeader, id)
				ctx = logger.ContextWithAttrs(ctx, logger.RequestID(id))
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r.WithContext(ctx))

			level := slog.LevelDebug
			if ww.Status() >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			log.LogAttrs(ctx, level, "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				logger.Duration(time.Since(start)))
		})
	}
}
