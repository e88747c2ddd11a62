package api

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/learnhub/mailqueue/pkg/email"
	"github.com/learnhub/mailqueue/pkg/logger"
	"github.com/learnhub/mailqueue/pkg/mailer"
	"github.com/learnhub/mailqueue/pkg/queue"
)

type (
	// Producer enqueues emails. *mailer.Producer implements it.
	Producer interface {
		SendEmail(ctx context.Context, msg email.Message, opts ...queue.EnqueueOption) (uuid.UUID, error)
		SendCourseInvite(ctx context.Context, invite mailer.CourseInvite, opts ...queue.EnqueueOption) (uuid.UUID, error)
		SendTestEmail(ctx context.Context, to, subject string) (uuid.UUID, error)
	}

	// Monitor reports on the queue. *queue.Monitor implements it.
	Monitor interface {
		Stats(ctx context.Context) (queue.Stats, error)
		HealthCheck(ctx context.Context) queue.Health
		Clean(ctx context.Context, grace time.Duration) (queue.CleanResult, error)
	}

	// JobReader looks up a single job. Every queue.Store implements it.
	JobReader interface {
		Get(ctx context.Context, id uuid.UUID) (*queue.Job, error)
	}
)

// enqueueParams are the scheduling knobs accepted next to every email body.
type enqueueParams struct {
	Priority    *int       `json:"priority,omitempty"`
	DelayMs     int64      `json:"delay_ms,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	MaxAttempts int        `json:"max_attempts,omitempty"`
}

func (p enqueueParams) options() []queue.EnqueueOption {
	var opts []queue.EnqueueOption
	if p.Priority != nil {
		opts = append(opts, queue.WithPriority(*p.Priority))
	}
	if p.DelayMs > 0 {
		opts = append(opts, queue.WithDelay(time.Duration(p.DelayMs)*time.Millisecond))
	}
	if p.ScheduledAt != nil {
		opts = append(opts, queue.WithScheduledAt(*p.ScheduledAt))
	}
	if p.MaxAttempts > 0 {
		opts = append(opts, queue.WithMaxAttempts(p.MaxAttempts))
	}
	return opts
}

type sendEmailRequest struct {
	email.Message
	enqueueParams
}

type courseInviteRequest struct {
	mailer.CourseInvite
	enqueueParams
}

type testEmailRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject,omitempty"`
}

type enqueuedResponse struct {
	ID uuid.UUID `json:"id"`
}

type handlers struct {
	producer Producer
	monitor  Monitor
	jobs     JobReader
	logger   *slog.Logger
}

func (h *handlers) sendEmail(w http.ResponseWriter, r *http.Request) {
	var req sendEmailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	id, err := h.producer.SendEmail(r.Context(), req.Message, req.options()...)
	h.accepted(w, r, id, err)
}

func (h *handlers) sendCourseInvite(w http.ResponseWriter, r *http.Request) {
	var req courseInviteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	id, err := h.producer.SendCourseInvite(r.Context(), req.CourseInvite, req.options()...)
	h.accepted(w, r, id, err)
}

func (h *handlers) sendTestEmail(w http.ResponseWriter, r *http.Request) {
	var req testEmailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	id, err := h.producer.SendTestEmail(r.Context(), req.To, req.Subject)
	h.accepted(w, r, id, err)
}

func (h *handlers) accepted(w http.ResponseWriter, r *http.Request, id uuid.UUID, err error) {
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusAccepted, enqueuedResponse{ID: id})
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.monitor.Stats(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, stats)
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	health := h.monitor.HealthCheck(r.Context())
	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeData(w, status, health)
}

func (h *handlers) getJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, fmt.Errorf("%w: id must be a UUID", ErrInvalidParam))
		return
	}
	job, err := h.jobs.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, job)
}

// maxGraceMillis is the largest grace that fits in a time.Duration.
const maxGraceMillis = math.MaxInt64 / int64(time.Millisecond)

// clean removes finished jobs. grace is in milliseconds and only applies to
// completed jobs; failed jobs always keep their retention window.
func (h *handlers) clean(w http.ResponseWriter, r *http.Request) {
	grace := queue.DefaultCompletedRetention
	if raw := r.URL.Query().Get("grace"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ms < 0 || ms > maxGraceMillis {
			writeError(w, r, h.logger, fmt.Errorf("%w: grace must be between 0 and %d milliseconds", ErrInvalidParam, maxGraceMillis))
			return
		}
		grace = time.Duration(ms) * time.Millisecond
	}

	result, err := h.monitor.Clean(r.Context(), grace)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.logger.InfoContext(r.Context(), "queue cleaned",
		logger.Duration(grace),
		slog.Int("completed", result.Completed),
		slog.Int("failed", result.Failed))
	writeData(w, http.StatusOK, result)
}
