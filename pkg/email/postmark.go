package email

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"

	"github.com/mrz1836/postmark"
)

// PostmarkTransport sends through Postmark's transactional API.
type PostmarkTransport struct {
	client  *postmark.Client
	from    string
	replyTo string
}

// PostmarkOption configures a PostmarkTransport.
type PostmarkOption func(*postmark.Client)

// WithPostmarkBaseURL points the client at another API host.
func WithPostmarkBaseURL(url string) PostmarkOption {
	return func(c *postmark.Client) {
		c.BaseURL = strings.TrimSuffix(url, "/")
	}
}

// WithPostmarkHTTPClient replaces the HTTP client.
func WithPostmarkHTTPClient(hc *http.Client) PostmarkOption {
	return func(c *postmark.Client) {
		if hc != nil {
			c.HTTPClient = hc
		}
	}
}

// NewPostmarkTransport creates a Postmark-backed transport.
// The server token is required; the account token is only needed for
// account level calls and may be empty.
func NewPostmarkTransport(cfg Config, opts ...PostmarkOption) (*PostmarkTransport, error) {
	if cfg.PostmarkServerToken == "" {
		return nil, fmt.Errorf("%w: PostmarkServerToken is required", ErrInvalidConfig)
	}
	if _, err := mail.ParseAddress(cfg.From); err != nil {
		return nil, fmt.Errorf("%w: sender address %q: %v", ErrInvalidConfig, cfg.From, err)
	}

	client := postmark.NewClient(cfg.PostmarkServerToken, cfg.PostmarkAccountToken)
	for _, opt := range opts {
		opt(client)
	}

	return &PostmarkTransport{
		client:  client,
		from:    cfg.From,
		replyTo: cfg.ReplyTo,
	}, nil
}

func (t *PostmarkTransport) Name() string { return DriverPostmark }

// Send implements Transport. Opens are tracked; links only in HTML bodies.
func (t *PostmarkTransport) Send(ctx context.Context, msg Message) (string, error) {
	msg = msg.withDefaults(t.from, t.replyTo)
	if err := msg.Validate(); err != nil {
		return "", errors.Join(ErrTransport, ErrRejected, err)
	}

	req := postmark.Email{
		From:       msg.From,
		To:         strings.Join(msg.To, ","),
		Cc:         strings.Join(msg.Cc, ","),
		Bcc:        strings.Join(msg.Bcc, ","),
		ReplyTo:    msg.ReplyTo,
		Subject:    msg.Subject,
		Tag:        msg.Tag,
		HTMLBody:   msg.HTML,
		TextBody:   msg.Text,
		TrackOpens: true,
	}
	if msg.HTML != "" {
		req.TrackLinks = "HtmlOnly"
	}
	for _, a := range msg.Attachments {
		req.Attachments = append(req.Attachments, postmark.Attachment{
			Name:        a.Filename,
			Content:     base64.StdEncoding.EncodeToString(a.Content),
			ContentType: a.ContentType,
		})
	}

	resp, err := t.client.SendEmail(ctx, req)

	// 4xx answers come back as APIError with resp left empty; a 200 can still
	// carry an error code in the body
	code, detail := int64(resp.ErrorCode), resp.Message
	var apiErr postmark.APIError
	if errors.As(err, &apiErr) {
		code, detail = apiErr.ErrorCode, apiErr.Message
	}
	if code != 0 {
		cause := fmt.Errorf("postmark error: %d - %s", code, detail)
		if rejectedByPostmark(code) {
			return "", errors.Join(ErrTransport, ErrRejected, cause)
		}
		return "", sendError(cause)
	}
	if err != nil {
		return "", sendError(err)
	}

	return resp.MessageID, nil
}

// Verify fetches the server the token belongs to.
func (t *PostmarkTransport) Verify(ctx context.Context) error {
	if _, err := t.client.GetCurrentServer(ctx); err != nil {
		return sendError(err)
	}
	return nil
}

// rejectedByPostmark lists API error codes that describe the message itself.
// https://postmarkapp.com/developer/api/overview#error-codes
func rejectedByPostmark(code int64) bool {
	switch code {
	case 300, // invalid email request
		406, // inactive recipient
		411, // inactive recipient in stream
		412: // unknown message stream
		return true
	}
	return false
}
