package mailer_test

import (
	"context"
	"io"
	"log/slog"

	"github.com/stretchr/testify/mock"

	"github.com/learnhub/mailqueue/pkg/email"
	"github.com/learnhub/mailqueue/pkg/queue"
)

type mockTransport struct {
	mock.Mock
}

func (m *mockTransport) Send(ctx context.Context, msg email.Message) (string, error) {
	args := m.Called(ctx, msg)
	return args.String(0), args.Error(1)
}

func (m *mockTransport) Verify(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockTransport) Name() string {
	return "mock"
}

type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) Enqueue(ctx context.Context, job *queue.Job) error {
	return m.Called(ctx, job).Error(0)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
