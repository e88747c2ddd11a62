package mailer

import (
	"context"
	"log/slog"
	"time"

	"github.com/learnhub/mailqueue/pkg/email"
	"github.com/learnhub/mailqueue/pkg/logger"
	"github.com/learnhub/mailqueue/pkg/queue"
)

// HandlerOption configures the delivery handlers.
type HandlerOption func(*delivery)

// WithHandlerLogger sets the logger used by the delivery handlers.
func WithHandlerLogger(l *slog.Logger) HandlerOption {
	return func(d *delivery) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithProductName sets the name shown in rendered emails.
func WithProductName(name string) HandlerOption {
	return func(d *delivery) {
		if name != "" {
			d.product = name
		}
	}
}

type delivery struct {
	transport email.Transport
	product   string
	logger    *slog.Logger
}

// Handlers returns one queue handler per job type, all delivering through
// transport. A message the provider rejects outright fails the job without
// retries; every other transport error is retried.
func Handlers(transport email.Transport, opts ...HandlerOption) []queue.Handler {
	d := &delivery{
		transport: transport,
		product:   "LearnHub",
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}

	return []queue.Handler{
		queue.NewHandler(JobGenericEmail, d.sendGeneric),
		queue.NewHandler(JobCourseInvite, d.sendCourseInvite),
		queue.NewHandler(JobTestEmail, d.sendTest),
	}
}

// NewWorker builds a queue worker with the email handlers registered.
func NewWorker(repo queue.WorkerRepository, transport email.Transport, handlerOpts []HandlerOption, opts ...queue.WorkerOption) (*queue.Worker, error) {
	return queue.NewWorker(repo, Handlers(transport, handlerOpts...), opts...)
}

func (d *delivery) sendGeneric(ctx context.Context, msg email.Message) (string, error) {
	return d.send(ctx, msg)
}

func (d *delivery) sendCourseInvite(ctx context.Context, invite CourseInvite) (string, error) {
	msg, err := renderCourseInvite(ctx, d.product, invite)
	if err != nil {
		return "", queue.Permanent(err)
	}
	return d.send(ctx, msg)
}

func (d *delivery) sendTest(ctx context.Context, payload testEmail) (string, error) {
	msg, err := renderTestEmail(ctx, d.product, payload)
	if err != nil {
		return "", queue.Permanent(err)
	}
	return d.send(ctx, msg)
}

func (d *delivery) send(ctx context.Context, msg email.Message) (string, error) {
	start := time.Now()
	id, err := d.transport.Send(ctx, msg)
	if err != nil {
		if email.IsRejected(err) {
			return "", queue.Permanent(err)
		}
		return "", err
	}

	d.logger.InfoContext(ctx, "email sent",
		logger.Transport(d.transport.Name()),
		logger.MessageID(id),
		slog.Int("recipients", len(msg.To)+len(msg.Cc)+len(msg.Bcc)),
		logger.Duration(time.Since(start)))

	return id, nil
}
