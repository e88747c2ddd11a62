package email

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
)

// Transport delivers a composed message.
type Transport interface {
	// Send delivers msg and returns the provider message id.
	Send(ctx context.Context, msg Message) (string, error)
	// Verify checks the provider is reachable and accepts our credentials.
	Verify(ctx context.Context) error
	Name() string
}

// Message is a provider independent email.
type Message struct {
	From        string       `json:"from,omitempty"`
	To          []string     `json:"to"`
	Cc          []string     `json:"cc,omitempty"`
	Bcc         []string     `json:"bcc,omitempty"`
	ReplyTo     string       `json:"reply_to,omitempty"`
	Subject     string       `json:"subject"`
	Text        string       `json:"text,omitempty"`
	HTML        string       `json:"html,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Tag         string       `json:"tag,omitempty"`
}

// Attachment is a file sent with a message.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	Content     []byte `json:"content"`
}

// Validate checks the message can be handed to a transport.
func (m Message) Validate() error {
	var problems []string

	if len(m.To) == 0 {
		problems = append(problems, "at least one recipient is required")
	}
	if strings.TrimSpace(m.Subject) == "" {
		problems = append(problems, "subject is required")
	}
	if m.Text == "" && m.HTML == "" {
		problems = append(problems, "text or html body is required")
	}
	for _, addr := range m.recipients() {
		if _, err := mail.ParseAddress(addr); err != nil {
			problems = append(problems, fmt.Sprintf("invalid address %q", addr))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidMessage, strings.Join(problems, "; "))
	}
	return nil
}

func (m Message) recipients() []string {
	all := make([]string, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	all = append(all, m.To...)
	all = append(all, m.Cc...)
	return append(all, m.Bcc...)
}

// withDefaults fills From and ReplyTo from the transport config.
func (m Message) withDefaults(from, replyTo string) Message {
	if m.From == "" {
		m.From = from
	}
	if m.ReplyTo == "" {
		m.ReplyTo = replyTo
	}
	return m
}

// New builds the transport selected by cfg.Driver.
// Missing credentials yield an unavailable transport rather than an error so
// the process can still accept and queue mail.
func New(cfg Config) (Transport, error) {
	switch cfg.Driver {
	case DriverSMTP, "":
		if cfg.SMTPHost == "" {
			return NewUnavailable(DriverSMTP, "SMTP_HOST is not set"), nil
		}
		return NewSMTPTransport(cfg)
	case DriverPostmark:
		if cfg.PostmarkServerToken == "" {
			return NewUnavailable(DriverPostmark, "POSTMARK_SERVER_TOKEN is not set"), nil
		}
		return NewPostmarkTransport(cfg)
	case DriverFile:
		return NewFileTransport(cfg.OutputDir, cfg.From)
	case DriverNone:
		return NewUnavailable(DriverNone, "mail delivery is disabled"), nil
	}
	return nil, fmt.Errorf("%w: unknown mail driver %q", ErrInvalidConfig, cfg.Driver)
}

// sendError wraps a provider failure.
func sendError(err error) error {
	if errors.Is(err, ErrTransport) {
		return err
	}
	return errors.Join(ErrTransport, err)
}
