package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

// SMTPTransport composes MIME messages with gomail and delivers them over a
// single SMTP session per message. Each phase of the dialogue has its own
// deadline: connect, server greeting and every later command.
type SMTPTransport struct {
	cfg  Config
	addr string
}

// NewSMTPTransport validates cfg and returns an SMTP transport.
func NewSMTPTransport(cfg Config) (*SMTPTransport, error) {
	if cfg.SMTPHost == "" {
		return nil, fmt.Errorf("%w: SMTP host is required", ErrInvalidConfig)
	}
	if cfg.SMTPPort <= 0 || cfg.SMTPPort > 65535 {
		return nil, fmt.Errorf("%w: SMTP port %d out of range", ErrInvalidConfig, cfg.SMTPPort)
	}
	if _, err := mail.ParseAddress(cfg.From); err != nil {
		return nil, fmt.Errorf("%w: sender address %q: %v", ErrInvalidConfig, cfg.From, err)
	}

	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = 60 * time.Second
	}
	if cfg.GreetingTimeout <= 0 {
		cfg.GreetingTimeout = 30 * time.Second
	}
	if cfg.SocketTimeout <= 0 {
		cfg.SocketTimeout = 60 * time.Second
	}
	if cfg.SMTPLocalName == "" {
		cfg.SMTPLocalName = "localhost"
	}

	return &SMTPTransport{
		cfg:  cfg,
		addr: net.JoinHostPort(cfg.SMTPHost, strconv.Itoa(cfg.SMTPPort)),
	}, nil
}

func (t *SMTPTransport) Name() string { return DriverSMTP }

// Send implements Transport. The returned id is the Message-ID header.
func (t *SMTPTransport) Send(ctx context.Context, msg Message) (string, error) {
	msg = msg.withDefaults(t.cfg.From, t.cfg.ReplyTo)
	if err := msg.Validate(); err != nil {
		return "", errors.Join(ErrTransport, ErrRejected, err)
	}

	m, id := compose(msg)

	// gomail flattens sender errors into strings; keep the original for classification.
	var deliverErr error
	err := gomail.Send(gomail.SendFunc(func(from string, to []string, body io.WriterTo) error {
		deliverErr = t.deliver(ctx, from, to, body)
		return deliverErr
	}), m)
	if deliverErr != nil {
		return "", deliverErr
	}
	if err != nil {
		return "", sendError(err)
	}

	return id, nil
}

// Verify opens a session, authenticates and quits.
func (t *SMTPTransport) Verify(ctx context.Context) error {
	s, err := t.open(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	s.deadline(t.cfg.SocketTimeout)
	if err := s.client.Quit(); err != nil {
		return sendError(err)
	}
	return nil
}

func (t *SMTPTransport) deliver(ctx context.Context, from string, to []string, body io.WriterTo) error {
	s, err := t.open(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	s.deadline(t.cfg.SocketTimeout)
	if err := s.client.Mail(from); err != nil {
		return classify(err)
	}
	for _, rcpt := range to {
		s.deadline(t.cfg.SocketTimeout)
		if err := s.client.Rcpt(rcpt); err != nil {
			return classify(err)
		}
	}

	s.deadline(t.cfg.SocketTimeout)
	w, err := s.client.Data()
	if err != nil {
		return classify(err)
	}
	if _, err := body.WriteTo(w); err != nil {
		return sendError(err)
	}
	if err := w.Close(); err != nil {
		return classify(err)
	}

	s.deadline(t.cfg.SocketTimeout)
	_ = s.client.Quit()
	return nil
}

type session struct {
	conn   net.Conn
	client *smtp.Client
	stop   func() bool
}

func (s *session) deadline(d time.Duration) {
	_ = s.conn.SetDeadline(time.Now().Add(d))
}

func (s *session) close() {
	s.stop()
	_ = s.client.Close()
}

// open dials, reads the greeting, says hello, upgrades to TLS when offered
// and authenticates when credentials are set.
func (t *SMTPTransport) open(ctx context.Context) (*session, error) {
	dialer := &net.Dialer{Timeout: t.cfg.ConnectionTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return nil, sendError(fmt.Errorf("connect %s: %w", t.addr, err))
	}
	if t.cfg.SMTPImplicitTLS {
		conn = tls.Client(conn, t.tlsConfig())
	}

	// closing the socket unblocks any pending read or write
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	_ = conn.SetDeadline(time.Now().Add(t.cfg.GreetingTimeout))
	client, err := smtp.NewClient(conn, t.cfg.SMTPHost)
	if err != nil {
		stop()
		_ = conn.Close()
		return nil, sendError(fmt.Errorf("greeting: %w", err))
	}

	s := &session{conn: conn, client: client, stop: stop}

	s.deadline(t.cfg.SocketTimeout)
	if err := client.Hello(t.cfg.SMTPLocalName); err != nil {
		s.close()
		return nil, sendError(fmt.Errorf("hello: %w", err))
	}

	if !t.cfg.SMTPImplicitTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			s.deadline(t.cfg.SocketTimeout)
			if err := client.StartTLS(t.tlsConfig()); err != nil {
				s.close()
				return nil, sendError(fmt.Errorf("starttls: %w", err))
			}
		}
	}

	if t.cfg.SMTPUsername != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			s.deadline(t.cfg.SocketTimeout)
			auth := smtp.PlainAuth("", t.cfg.SMTPUsername, t.cfg.SMTPPassword, t.cfg.SMTPHost)
			if err := client.Auth(auth); err != nil {
				s.close()
				return nil, sendError(fmt.Errorf("auth: %w", err))
			}
		}
	}

	return s, nil
}

func (t *SMTPTransport) tlsConfig() *tls.Config {
	return &tls.Config{
		ServerName:         t.cfg.SMTPHost,
		InsecureSkipVerify: t.cfg.SMTPInsecureSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}
}

// classify marks permanent SMTP replies (5xx) as rejections.
func classify(err error) error {
	var reply *textproto.Error
	if errors.As(err, &reply) && reply.Code >= 500 {
		return errors.Join(ErrTransport, ErrRejected, err)
	}
	return sendError(err)
}

func compose(msg Message) (*gomail.Message, string) {
	m := gomail.NewMessage()
	m.SetHeader("From", msg.From)
	m.SetHeader("To", msg.To...)
	if len(msg.Cc) > 0 {
		m.SetHeader("Cc", msg.Cc...)
	}
	if len(msg.Bcc) > 0 {
		m.SetHeader("Bcc", msg.Bcc...)
	}
	if msg.ReplyTo != "" {
		m.SetHeader("Reply-To", msg.ReplyTo)
	}
	m.SetHeader("Subject", msg.Subject)
	if msg.Tag != "" {
		m.SetHeader("X-Mail-Tag", msg.Tag)
	}

	id := fmt.Sprintf("<%s@%s>", uuid.NewString(), senderDomain(msg.From))
	m.SetHeader("Message-ID", id)
	m.SetDateHeader("Date", time.Now())

	switch {
	case msg.Text != "" && msg.HTML != "":
		m.SetBody("text/plain", msg.Text)
		m.AddAlternative("text/html", msg.HTML)
	case msg.HTML != "":
		m.SetBody("text/html", msg.HTML)
	default:
		m.SetBody("text/plain", msg.Text)
	}

	for _, a := range msg.Attachments {
		content := a.Content
		settings := []gomail.FileSetting{
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(content)
				return err
			}),
		}
		if a.ContentType != "" {
			settings = append(settings, gomail.SetHeader(map[string][]string{"Content-Type": {a.ContentType}}))
		}
		m.Attach(a.Filename, settings...)
	}

	return m, id
}

func senderDomain(from string) string {
	if addr, err := mail.ParseAddress(from); err == nil {
		if i := strings.LastIndexByte(addr.Address, '@'); i >= 0 {
			return addr.Address[i+1:]
		}
	}
	return "localhost"
}
