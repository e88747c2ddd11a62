package mailer

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/learnhub/mailqueue/pkg/email"
	"github.com/learnhub/mailqueue/pkg/logger"
	"github.com/learnhub/mailqueue/pkg/queue"
	"github.com/learnhub/mailqueue/pkg/validator"
)

// Limits applied before a message is queued.
const (
	maxRecipients  = 50
	maxSubjectLen  = 998
	maxTagLen      = 1000
	maxTitleLen    = 200
	maxNoteLen     = 2000
	maxAttachBytes = 10 << 20
)

// Producer validates emails and enqueues them as jobs. It returns as soon as
// the store accepted the job; delivery happens in a Worker.
type Producer struct {
	enqueuer *queue.Enqueuer
	logger   *slog.Logger
}

// ProducerOption configures a Producer.
type ProducerOption func(*producerOptions)

type producerOptions struct {
	logger   *slog.Logger
	enqueuer []queue.EnqueuerOption
}

// WithProducerLogger sets the logger for the producer and its enqueuer.
func WithProducerLogger(l *slog.Logger) ProducerOption {
	return func(o *producerOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithEnqueuerOptions passes options through to the underlying queue.Enqueuer.
func WithEnqueuerOptions(opts ...queue.EnqueuerOption) ProducerOption {
	return func(o *producerOptions) {
		o.enqueuer = append(o.enqueuer, opts...)
	}
}

// NewProducer creates a Producer writing to repo. Only the job types in
// JobTypes are accepted.
func NewProducer(repo queue.EnqueuerRepository, opts ...ProducerOption) (*Producer, error) {
	options := &producerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(options)
	}

	enqOpts := append([]queue.EnqueuerOption{
		queue.WithEnqueuerLogger(options.logger),
	}, options.enqueuer...)
	enqOpts = append(enqOpts, queue.WithJobTypes(JobTypes()...))

	enqueuer, err := queue.NewEnqueuer(repo, enqOpts...)
	if err != nil {
		return nil, err
	}

	return &Producer{
		enqueuer: enqueuer,
		logger:   options.logger,
	}, nil
}

// SendEmail queues a generic email at priority 5 unless opts override it.
func (p *Producer) SendEmail(ctx context.Context, msg email.Message, opts ...queue.EnqueueOption) (uuid.UUID, error) {
	if err := validateMessage(msg); err != nil {
		return uuid.Nil, err
	}
	return p.enqueue(ctx, JobGenericEmail, PriorityGenericEmail, msg, opts)
}

// SendCourseInvite queues a course invitation at priority 1 unless opts
// override it.
func (p *Producer) SendCourseInvite(ctx context.Context, invite CourseInvite, opts ...queue.EnqueueOption) (uuid.UUID, error) {
	err := validate(
		validator.ValidEmail("to", invite.To),
		validator.RequiredString("course_title", invite.CourseTitle),
		validator.MaxLenString("course_title", invite.CourseTitle, maxTitleLen),
		validator.ValidURLWithScheme("invite_url", invite.InviteURL, []string{"https", "http"}),
		validator.MaxLenString("note", invite.Note, maxNoteLen),
	)
	if err != nil {
		return uuid.Nil, err
	}
	return p.enqueue(ctx, JobCourseInvite, PriorityCourseInvite, invite, opts)
}

// SendTestEmail queues a short delivery check to one address at priority 10.
func (p *Producer) SendTestEmail(ctx context.Context, to, subject string) (uuid.UUID, error) {
	if strings.TrimSpace(subject) == "" {
		subject = DefaultTestSubject
	}
	err := validate(
		validator.ValidEmail("to", to),
		validator.MaxLenString("subject", subject, maxSubjectLen),
	)
	if err != nil {
		return uuid.Nil, err
	}
	return p.enqueue(ctx, JobTestEmail, PriorityTestEmail, testEmail{To: to, Subject: subject}, nil)
}

func (p *Producer) enqueue(ctx context.Context, jobType queue.JobType, priority int, payload any, opts []queue.EnqueueOption) (uuid.UUID, error) {
	all := append([]queue.EnqueueOption{queue.WithPriority(priority)}, opts...)

	job, err := p.enqueuer.Enqueue(ctx, jobType, payload, all...)
	if err != nil {
		return uuid.Nil, err
	}

	p.logger.InfoContext(ctx, "email queued",
		logger.JobID(job.ID.String()),
		logger.JobType(jobType.String()),
		slog.Int("priority", job.Priority),
		slog.String("state", string(job.State)))

	return job.ID, nil
}

func validateMessage(msg email.Message) error {
	size := 0
	for _, a := range msg.Attachments {
		size += len(a.Content)
	}

	rules := []validator.Rule{
		validator.RequiredSlice("to", msg.To),
		validator.MaxLenSlice("to", msg.To, maxRecipients),
		validator.ValidEmails("to", msg.To),
		validator.ValidEmails("cc", msg.Cc),
		validator.ValidEmails("bcc", msg.Bcc),
		validator.OptionalEmail("from", msg.From),
		validator.OptionalEmail("reply_to", msg.ReplyTo),
		validator.RequiredString("subject", msg.Subject),
		validator.MaxLenString("subject", msg.Subject, maxSubjectLen),
		validator.OneOfRequired("body", msg.Text, msg.HTML),
		validator.MaxLenString("tag", msg.Tag, maxTagLen),
		validator.RangeNum("attachments", size, 0, maxAttachBytes),
	}
	for _, a := range msg.Attachments {
		rules = append(rules, validator.RequiredString("attachments.filename", a.Filename))
	}
	return validate(rules...)
}
