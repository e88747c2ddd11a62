package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/learnhub/mailqueue/pkg/api"
	"github.com/learnhub/mailqueue/pkg/email"
	"github.com/learnhub/mailqueue/pkg/mailer"
	"github.com/learnhub/mailqueue/pkg/queue"
)

type envelope struct {
	Data  json.RawMessage  `json:"data"`
	Error *api.ErrorDetail `json:"error"`
}

type fixture struct {
	store  *queue.MemoryStorage
	router http.Handler
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, opts ...api.Option) *fixture {
	t.Helper()

	store := queue.NewMemoryStorage()
	t.Cleanup(func() { _ = store.Close() })

	producer, err := mailer.NewProducer(store, mailer.WithProducerLogger(discardLogger()))
	require.NoError(t, err)
	monitor, err := queue.NewMonitor(store, queue.WithMonitorLogger(discardLogger()))
	require.NoError(t, err)

	opts = append([]api.Option{api.WithLogger(discardLogger())}, opts...)
	return &fixture{
		store:  store,
		router: api.NewRouter(producer, monitor, store, opts...),
	}
}

func do(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func enqueuedID(t *testing.T, env envelope) uuid.UUID {
	t.Helper()

	var data struct {
		ID uuid.UUID `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.NotEqual(t, uuid.Nil, data.ID)
	return data.ID
}

func TestSendEmail(t *testing.T) {
	t.Parallel()

	t.Run("accepted", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		rec, env := do(t, f.router, http.MethodPost, "/emails",
			`{"to":["ada@example.com"],"subject":"Welcome","text":"hi","delay_ms":60000,"max_attempts":5}`)
		require.Equal(t, http.StatusAccepted, rec.Code)
		require.NotEmpty(t, rec.Header().Get("Content-Type"))

		job, err := f.store.Get(context.Background(), enqueuedID(t, env))
		require.NoError(t, err)
		assert.Equal(t, mailer.JobGenericEmail, job.Type)
		assert.Equal(t, queue.JobStateDelayed, job.State)
		assert.Equal(t, 5, job.MaxAttempts)
		assert.Equal(t, mailer.PriorityGenericEmail, job.Priority)
	})

	t.Run("validation error leaves store unchanged", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		rec, env := do(t, f.router, http.MethodPost, "/emails", `{"to":[""],"subject":"x"}`)
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		require.NotNil(t, env.Error)
		assert.Equal(t, "validation_error", env.Error.Code)
		assert.Contains(t, env.Error.Details, "to")
		assert.Contains(t, env.Error.Details, "body")

		stats, err := f.store.Stats(context.Background())
		require.NoError(t, err)
		assert.Zero(t, stats.Total)
	})

	t.Run("invalid priority", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		rec, env := do(t, f.router, http.MethodPost, "/emails",
			`{"to":["ada@example.com"],"subject":"Welcome","text":"hi","priority":0}`)
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Contains(t, env.Error.Details, "priority")
	})

	t.Run("bad requests", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		rec, env := do(t, f.router, http.MethodPost, "/emails", `{"to":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "bad_request", env.Error.Code)

		rec, _ = do(t, f.router, http.MethodPost, "/emails", `{"to":["a@example.com"],"subject":"s","text":"t","colour":"red"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		req := httptest.NewRequest(http.MethodPost, "/emails", strings.NewReader(`to=a@example.com`))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rr := httptest.NewRecorder()
		f.router.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnsupportedMediaType, rr.Code)
	})
}

func TestSendCourseInvite(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec, env := do(t, f.router, http.MethodPost, "/emails/invites",
		`{"to":"ada@example.com","course_title":"Go","invite_url":"https://learnhub.test/i/1","inviter_name":"Grace"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	job, err := f.store.Get(context.Background(), enqueuedID(t, env))
	require.NoError(t, err)
	assert.Equal(t, mailer.JobCourseInvite, job.Type)
	assert.Equal(t, mailer.PriorityCourseInvite, job.Priority)

	rec, env = do(t, f.router, http.MethodPost, "/emails/invites", `{"to":"ada@example.com"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, env.Error.Details, "course_title")
	assert.Contains(t, env.Error.Details, "invite_url")
}

func TestSendTestEmail(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec, env := do(t, f.router, http.MethodPost, "/emails/test", `{"to":"ops@example.com"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	job, err := f.store.Get(context.Background(), enqueuedID(t, env))
	require.NoError(t, err)
	assert.Equal(t, mailer.JobTestEmail, job.Type)
	assert.JSONEq(t, `{"to":"ops@example.com","subject":"Test email"}`, string(job.Payload))
}

type mockProducer struct {
	mock.Mock
}

func (m *mockProducer) SendEmail(ctx context.Context, msg email.Message, opts ...queue.EnqueueOption) (uuid.UUID, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *mockProducer) SendCourseInvite(ctx context.Context, invite mailer.CourseInvite, opts ...queue.EnqueueOption) (uuid.UUID, error) {
	args := m.Called(ctx, invite)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *mockProducer) SendTestEmail(ctx context.Context, to, subject string) (uuid.UUID, error) {
	args := m.Called(ctx, to, subject)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func TestStoreUnavailable(t *testing.T) {
	t.Parallel()

	store := queue.NewMemoryStorage()
	t.Cleanup(func() { _ = store.Close() })
	monitor, err := queue.NewMonitor(store)
	require.NoError(t, err)

	producer := &mockProducer{}
	producer.On("SendTestEmail", mock.Anything, "ops@example.com", "").
		Return(uuid.Nil, fmt.Errorf("failed to enqueue test-email job: %w", queue.ErrStoreUnavailable)).Once()

	router := api.NewRouter(producer, monitor, store, api.WithLogger(discardLogger()))
	rec, env := do(t, router, http.MethodPost, "/emails/test", `{"to":"ops@example.com"}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "store_unavailable", env.Error.Code)
	producer.AssertExpectations(t)
}

func TestQueueEndpoints(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	rec, env := do(t, f.router, http.MethodGet, "/queue/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var health queue.Health
	require.NoError(t, json.Unmarshal(env.Data, &health))
	assert.True(t, health.Healthy)

	_, env = do(t, f.router, http.MethodPost, "/emails/test", `{"to":"ops@example.com"}`)
	id := enqueuedID(t, env)

	rec, env = do(t, f.router, http.MethodGet, "/queue/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats queue.Stats
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, queue.Stats{Waiting: 1, Total: 1}, stats)

	// backlog with nothing processing
	rec, _ = do(t, f.router, http.MethodGet, "/queue/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec, env = do(t, f.router, http.MethodGet, "/queue/jobs/"+id.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var job queue.Job
	require.NoError(t, json.Unmarshal(env.Data, &job))
	assert.Equal(t, id, job.ID)
	assert.Equal(t, queue.JobStateWaiting, job.State)

	rec, _ = do(t, f.router, http.MethodGet, "/queue/jobs/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = do(t, f.router, http.MethodGet, "/queue/jobs/nope", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	jobs, err := f.store.ClaimNext(ctx, "w1", 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.NoError(t, f.store.MarkCompleted(ctx, id, "w1", "ok"))

	rec, env = do(t, f.router, http.MethodPost, "/queue/clean?grace=0", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var cleaned queue.CleanResult
	require.NoError(t, json.Unmarshal(env.Data, &cleaned))
	assert.Equal(t, 0, cleaned.Completed, "grace=0 falls back to the 24h default")

	rec, _ = do(t, f.router, http.MethodPost, "/queue/clean?grace=-5", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// one past the largest millisecond count a time.Duration can hold
	rec, _ = do(t, f.router, http.MethodPost, "/queue/clean?grace=9223372036854776", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = do(t, f.router, http.MethodPost, "/queue/clean?grace=9223372036854775", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &cleaned))
	assert.Equal(t, 0, cleaned.Completed)
}

func TestProbesAndMetrics(t *testing.T) {
	t.Parallel()

	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("mailqueue_jobs 0\n"))
	})
	f := newFixture(t, api.WithMetricsHandler(metrics))

	rec, _ := do(t, f.router, http.MethodGet, "/live", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ALIVE", rec.Body.String())

	rec, _ = do(t, f.router, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, f.router, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mailqueue_jobs")

	rec, _ = do(t, f.router, http.MethodGet, "/queue/stats", "")
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}
