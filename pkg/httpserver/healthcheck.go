package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/learnhub/mailqueue/pkg/logger"
)

// Check is a named readiness dependency, e.g. redis.Healthcheck(client).
type Check struct {
	Name string
	Func func(context.Context) error
}

// LivenessHandler answers 200 "ALIVE" as long as the process serves HTTP.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ALIVE"))
	}
}

// ReadinessHandler runs every check with the request context bounded by
// timeout. It answers 200 "READY" when all pass and 503 "NOT_READY" on the
// first failure. A zero timeout leaves only the request deadline.
func ReadinessHandler(log *slog.Logger, timeout time.Duration, checks ...Check) http.HandlerFunc {
	if log == nil {
		log = newNoopLogger()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		for _, c := range checks {
			if err := c.Func(ctx); err != nil {
				log.WarnContext(ctx, "readiness check failed",
					slog.String("check", c.Name),
					logger.Error(err))
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("NOT_READY"))
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("READY"))
	}
}
