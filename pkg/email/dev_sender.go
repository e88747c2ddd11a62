package email

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FileTransport implements Transport for local development.
// Each message becomes a set of files in dir: the HTML and text bodies plus
// a JSON file with headers and attachment names.
type FileTransport struct {
	dir  string
	from string
	now  func() time.Time
}

// NewFileTransport creates a transport that writes messages under dir.
// The directory is created on first use.
func NewFileTransport(dir, from string) (*FileTransport, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: output directory is required", ErrInvalidConfig)
	}
	return &FileTransport{dir: dir, from: from, now: time.Now}, nil
}

func (d *FileTransport) Name() string { return DriverFile }

type messageFile struct {
	ID          string   `json:"id"`
	Timestamp   string   `json:"timestamp"`
	From        string   `json:"from"`
	To          []string `json:"to"`
	Cc          []string `json:"cc,omitempty"`
	Bcc         []string `json:"bcc,omitempty"`
	ReplyTo     string   `json:"reply_to,omitempty"`
	Subject     string   `json:"subject"`
	Tag         string   `json:"tag,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
}

// Send writes the message and returns the base filename as its id.
func (d *FileTransport) Send(ctx context.Context, msg Message) (string, error) {
	msg = msg.withDefaults(d.from, "")
	if err := msg.Validate(); err != nil {
		return "", errors.Join(ErrTransport, ErrRejected, err)
	}
	if err := ctx.Err(); err != nil {
		return "", sendError(err)
	}

	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", sendError(fmt.Errorf("create directory: %w", err))
	}

	now := d.now()

	// Use tag if available, otherwise use subject
	identifier := msg.Tag
	if identifier == "" {
		identifier = msg.Subject
	}
	id := fmt.Sprintf("%s_%s_%s", now.Format("2006_01_02_150405"), sanitizeFilename(identifier), uuid.NewString()[:8])

	if msg.HTML != "" {
		if err := os.WriteFile(filepath.Join(d.dir, id+".html"), []byte(msg.HTML), 0o644); err != nil {
			return "", sendError(fmt.Errorf("write html body: %w", err))
		}
	}
	if msg.Text != "" {
		if err := os.WriteFile(filepath.Join(d.dir, id+".txt"), []byte(msg.Text), 0o644); err != nil {
			return "", sendError(fmt.Errorf("write text body: %w", err))
		}
	}

	meta := messageFile{
		ID:        id,
		Timestamp: now.Format(time.RFC3339),
		From:      msg.From,
		To:        msg.To,
		Cc:        msg.Cc,
		Bcc:       msg.Bcc,
		ReplyTo:   msg.ReplyTo,
		Subject:   msg.Subject,
		Tag:       msg.Tag,
	}
	for _, a := range msg.Attachments {
		meta.Attachments = append(meta.Attachments, a.Filename)
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", sendError(fmt.Errorf("marshal metadata: %w", err))
	}
	if err := os.WriteFile(filepath.Join(d.dir, id+".json"), data, 0o644); err != nil {
		return "", sendError(fmt.Errorf("write metadata: %w", err))
	}

	return id, nil
}

// Verify checks the output directory is writable.
func (d *FileTransport) Verify(ctx context.Context) error {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return sendError(err)
	}
	f, err := os.CreateTemp(d.dir, ".verify-*")
	if err != nil {
		return sendError(err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

// sanitizeRegex matches characters that are not alphanumeric, dash, underscore, or dot
var sanitizeRegex = regexp.MustCompile(`[^a-zA-Z0-9\-_.]`)

// sanitizeFilename lowercases s, swaps spaces for underscores, drops anything
// unsafe and caps the length.
func sanitizeFilename(s string) string {
	s = strings.ReplaceAll(s, " ", "_")
	s = sanitizeRegex.ReplaceAllString(s, "")

	const maxLength = 100
	if len(s) > maxLength {
		s = s[:maxLength]
	}
	if s == "" {
		s = "email"
	}

	return strings.ToLower(s)
}
