package email_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnhub/mailqueue/pkg/email"
)

func TestFileTransport_Send(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "out")
	tr, err := email.NewFileTransport(dir, "no-reply@learnhub.test")
	require.NoError(t, err)

	id, err := tr.Send(context.Background(), email.Message{
		To:          []string{"student@example.com"},
		Subject:     "Your Course: Go 101!",
		HTML:        "<p>hello</p>",
		Text:        "hello",
		Attachments: []email.Attachment{{Filename: "notes.pdf", Content: []byte("%PDF")}},
	})
	require.NoError(t, err)
	assert.Contains(t, id, "your_course_go_101")

	html, err := os.ReadFile(filepath.Join(dir, id+".html"))
	require.NoError(t, err)
	assert.Equal(t, "<p>hello</p>", string(html))

	text, err := os.ReadFile(filepath.Join(dir, id+".txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(text))

	raw, err := os.ReadFile(filepath.Join(dir, id+".json"))
	require.NoError(t, err)

	var meta map[string]any
	require.NoError(t, json.Unmarshal(raw, &meta))
	assert.Equal(t, id, meta["id"])
	assert.Equal(t, "no-reply@learnhub.test", meta["from"])
	assert.Equal(t, "Your Course: Go 101!", meta["subject"])
	assert.Equal(t, []any{"notes.pdf"}, meta["attachments"])
}

func TestFileTransport_TagNamesFile(t *testing.T) {
	t.Parallel()

	tr, err := email.NewFileTransport(t.TempDir(), "no-reply@learnhub.test")
	require.NoError(t, err)

	id, err := tr.Send(context.Background(), email.Message{
		To:      []string{"student@example.com"},
		Subject: "ignored",
		Text:    "x",
		Tag:     "Course Invite",
	})
	require.NoError(t, err)
	assert.True(t, strings.Contains(id, "_course_invite_"), id)
}

func TestFileTransport_Errors(t *testing.T) {
	t.Parallel()

	_, err := email.NewFileTransport("", "a@example.com")
	require.ErrorIs(t, err, email.ErrInvalidConfig)

	tr, err := email.NewFileTransport(t.TempDir(), "a@example.com")
	require.NoError(t, err)

	_, err = tr.Send(context.Background(), email.Message{To: []string{"x@example.com"}})
	require.ErrorIs(t, err, email.ErrInvalidMessage)
	assert.True(t, email.IsRejected(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = tr.Send(ctx, email.Message{To: []string{"x@example.com"}, Subject: "s", Text: "t"})
	require.ErrorIs(t, err, email.ErrTransport)
	require.ErrorIs(t, err, context.Canceled)
}
