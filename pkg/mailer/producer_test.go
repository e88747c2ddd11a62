package mailer_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/learnhub/mailqueue/pkg/email"
	"github.com/learnhub/mailqueue/pkg/mailer"
	"github.com/learnhub/mailqueue/pkg/queue"
	"github.com/learnhub/mailqueue/pkg/validator"
)

func newProducer(t *testing.T) (*mailer.Producer, *queue.MemoryStorage) {
	t.Helper()

	store := queue.NewMemoryStorage()
	t.Cleanup(func() { _ = store.Close() })

	p, err := mailer.NewProducer(store, mailer.WithProducerLogger(discardLogger()))
	require.NoError(t, err)
	return p, store
}

func TestNewProducer_NilRepository(t *testing.T) {
	t.Parallel()

	_, err := mailer.NewProducer(nil)
	require.ErrorIs(t, err, queue.ErrRepositoryNil)
}

func TestProducer_SendEmail(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("queues generic email", func(t *testing.T) {
		t.Parallel()
		p, store := newProducer(t)

		msg := email.Message{
			To:      []string{"ada@example.com"},
			Cc:      []string{"Grace <grace@example.com>"},
			Subject: "Weekly digest",
			HTML:    "<p>hello</p>",
		}
		id, err := p.SendEmail(ctx, msg)
		require.NoError(t, err)

		job, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, mailer.JobGenericEmail, job.Type)
		assert.Equal(t, mailer.PriorityGenericEmail, job.Priority)
		assert.Equal(t, queue.JobStateWaiting, job.State)

		var stored email.Message
		require.NoError(t, json.Unmarshal(job.Payload, &stored))
		assert.Equal(t, msg, stored)
	})

	t.Run("options override defaults", func(t *testing.T) {
		t.Parallel()
		p, store := newProducer(t)

		id, err := p.SendEmail(ctx, email.Message{
			To:      []string{"ada@example.com"},
			Subject: "Reminder",
			Text:    "tomorrow",
		}, queue.WithPriority(2), queue.WithDelay(time.Hour), queue.WithMaxAttempts(7))
		require.NoError(t, err)

		job, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 2, job.Priority)
		assert.Equal(t, queue.JobStateDelayed, job.State)
		assert.Equal(t, 7, job.MaxAttempts)
	})

	t.Run("validation leaves store unchanged", func(t *testing.T) {
		t.Parallel()
		p, store := newProducer(t)

		_, err := p.SendEmail(ctx, email.Message{To: []string{""}, Subject: "x"})
		require.ErrorIs(t, err, mailer.ErrValidation)
		require.ErrorIs(t, err, validator.ErrValidationFailed)

		fields := validator.ExtractValidationErrors(err)
		assert.True(t, fields.Has("to"))
		assert.True(t, fields.Has("body"))
		assert.False(t, fields.Has("subject"))

		stats, err := store.Stats(ctx)
		require.NoError(t, err)
		assert.Zero(t, stats.Total)
	})

	t.Run("rejects bad addresses", func(t *testing.T) {
		t.Parallel()
		p, _ := newProducer(t)

		_, err := p.SendEmail(ctx, email.Message{
			To:      []string{"ada@example.com"},
			Bcc:     []string{"not-an-address"},
			ReplyTo: "also bad",
			Subject: "Hello",
			Text:    "hi",
		})
		require.ErrorIs(t, err, mailer.ErrValidation)
		assert.Equal(t, []string{"bcc", "reply_to"}, validator.ExtractValidationErrors(err).Fields())
	})

	t.Run("invalid priority", func(t *testing.T) {
		t.Parallel()
		p, _ := newProducer(t)

		_, err := p.SendEmail(ctx, email.Message{
			To:      []string{"ada@example.com"},
			Subject: "Hello",
			Text:    "hi",
		}, queue.WithPriority(0))
		require.ErrorIs(t, err, queue.ErrInvalidPriority)
	})
}

func TestProducer_SendCourseInvite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("queues invite at highest priority", func(t *testing.T) {
		t.Parallel()
		p, store := newProducer(t)

		invite := mailer.CourseInvite{
			To:          "ada@example.com",
			CourseTitle: "Distributed Systems",
			InviteURL:   "https://learnhub.test/invites/abc",
		}
		id, err := p.SendCourseInvite(ctx, invite)
		require.NoError(t, err)

		job, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, mailer.JobCourseInvite, job.Type)
		assert.Equal(t, mailer.PriorityCourseInvite, job.Priority)
		assert.JSONEq(t, `{"to":"ada@example.com","course_title":"Distributed Systems","invite_url":"https://learnhub.test/invites/abc"}`, string(job.Payload))
	})

	t.Run("validation", func(t *testing.T) {
		t.Parallel()
		p, store := newProducer(t)

		_, err := p.SendCourseInvite(ctx, mailer.CourseInvite{To: "nobody", InviteURL: "javascript:alert(1)"})
		require.ErrorIs(t, err, mailer.ErrValidation)
		assert.Equal(t, []string{"to", "course_title", "invite_url"}, validator.ExtractValidationErrors(err).Fields())

		stats, err := store.Stats(ctx)
		require.NoError(t, err)
		assert.Zero(t, stats.Total)
	})
}

func TestProducer_SendTestEmail(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p, store := newProducer(t)

	id, err := p.SendTestEmail(ctx, "ops@example.com", "  ")
	require.NoError(t, err)

	job, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, mailer.JobTestEmail, job.Type)
	assert.Equal(t, mailer.PriorityTestEmail, job.Priority)
	assert.JSONEq(t, `{"to":"ops@example.com","subject":"Test email"}`, string(job.Payload))

	_, err = p.SendTestEmail(ctx, "", "Ping")
	require.ErrorIs(t, err, mailer.ErrValidation)
}

func TestProducer_PriorityOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p, store := newProducer(t)

	testID, err := p.SendTestEmail(ctx, "ops@example.com", "")
	require.NoError(t, err)
	first, err := p.SendEmail(ctx, email.Message{To: []string{"a@example.com"}, Subject: "one", Text: "1"})
	require.NoError(t, err)
	inviteID, err := p.SendCourseInvite(ctx, mailer.CourseInvite{
		To:          "b@example.com",
		CourseTitle: "Go",
		InviteURL:   "https://learnhub.test/i/1",
	})
	require.NoError(t, err)
	second, err := p.SendEmail(ctx, email.Message{To: []string{"c@example.com"}, Subject: "two", Text: "2"})
	require.NoError(t, err)

	jobs, err := store.ClaimNext(ctx, "w1", 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, jobs, 4)

	got := make([]string, 0, len(jobs))
	for _, j := range jobs {
		got = append(got, j.ID.String())
	}
	assert.Equal(t, []string{inviteID.String(), first.String(), second.String(), testID.String()}, got)
}

func TestProducer_StoreUnavailable(t *testing.T) {
	t.Parallel()

	repo := &mockRepository{}
	repo.On("Enqueue", mock.Anything, mock.MatchedBy(func(job *queue.Job) bool {
		return job.Type == mailer.JobTestEmail
	})).Return(fmt.Errorf("%w: dial tcp 127.0.0.1:6379: connect: connection refused", queue.ErrStoreUnavailable)).Once()

	p, err := mailer.NewProducer(repo, mailer.WithProducerLogger(discardLogger()))
	require.NoError(t, err)

	_, err = p.SendTestEmail(context.Background(), "ops@example.com", "")
	require.ErrorIs(t, err, mailer.ErrStoreUnavailable)
	assert.False(t, validator.IsValidationError(err))
	repo.AssertExpectations(t)
}
