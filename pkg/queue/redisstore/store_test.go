package redisstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnhub/mailqueue/pkg/queue"
	"github.com/learnhub/mailqueue/pkg/queue/redisstore"
	"github.com/learnhub/mailqueue/pkg/queue/storetest"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := redisstore.New(nil)
	require.ErrorIs(t, err, queue.ErrRepositoryNil)
}

func TestStore_Contract(t *testing.T) {
	t.Parallel()

	storetest.Run(t, func(t *testing.T, now func() time.Time) queue.Store {
		_, client := newClient(t)
		store, err := redisstore.New(client, redisstore.WithClock(now))
		require.NoError(t, err)
		return store
	})
}

func TestStore_KeyLayout(t *testing.T) {
	t.Parallel()

	mr, client := newClient(t)
	clock := storetest.NewClock()
	store, err := redisstore.New(client, redisstore.WithKeyPrefix("{mq}:"), redisstore.WithClock(clock.Now))
	require.NoError(t, err)

	enqueuer, err := queue.NewEnqueuer(store, queue.WithEnqueuerClock(clock.Now))
	require.NoError(t, err)

	ctx := context.Background()
	job, err := enqueuer.Enqueue(ctx, "layout", map[string]string{"a": "b"}, queue.WithPriority(3))
	require.NoError(t, err)
	delayed, err := enqueuer.Enqueue(ctx, "layout", map[string]string{"a": "c"}, queue.WithDelay(time.Minute))
	require.NoError(t, err)

	assert.True(t, mr.Exists("{mq}:job:"+job.ID.String()))
	assert.Equal(t, "waiting", mr.HGet("{mq}:job:"+job.ID.String(), "state"))

	waiting, err := mr.ZMembers("{mq}:waiting")
	require.NoError(t, err)
	assert.Equal(t, []string{job.ID.String()}, waiting)

	score, err := mr.ZScore("{mq}:waiting", job.ID.String())
	require.NoError(t, err)
	assert.Equal(t, float64(int64(2)<<32|job.Sequence), score)

	score, err = mr.ZScore("{mq}:delayed", delayed.ID.String())
	require.NoError(t, err)
	assert.Equal(t, float64(clock.Now().Add(time.Minute).UnixMilli()), score)
}

func TestStore_LowestPriorityKeepsOrder(t *testing.T) {
	t.Parallel()

	_, client := newClient(t)
	store, err := redisstore.New(client)
	require.NoError(t, err)
	enqueuer, err := queue.NewEnqueuer(store)
	require.NoError(t, err)

	ctx := context.Background()
	first, err := enqueuer.Enqueue(ctx, "edge", 1, queue.WithPriority(queue.PriorityLowest))
	require.NoError(t, err)
	second, err := enqueuer.Enqueue(ctx, "edge", 2, queue.WithPriority(queue.PriorityLowest))
	require.NoError(t, err)

	claimed, err := store.ClaimNext(ctx, "w1", 2, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, first.ID, claimed[0].ID)
	assert.Equal(t, second.ID, claimed[1].ID)
}

func TestStore_Unavailable(t *testing.T) {
	t.Parallel()

	mr, client := newClient(t)
	store, err := redisstore.New(client)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Ping(ctx))

	mr.Close()

	require.ErrorIs(t, store.Ping(ctx), queue.ErrStoreUnavailable)

	_, err = store.Stats(ctx)
	assert.ErrorIs(t, err, queue.ErrStoreUnavailable)

	_, err = store.ClaimNext(ctx, "w1", 1, time.Minute)
	assert.ErrorIs(t, err, queue.ErrStoreUnavailable)

	err = store.MarkCompleted(ctx, uuid.New(), "w1", "")
	assert.ErrorIs(t, err, queue.ErrStoreUnavailable)
}

func TestStore_Close(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store, err := redisstore.New(client)
	require.NoError(t, err)

	require.NoError(t, store.Close())
	assert.ErrorIs(t, store.Ping(context.Background()), queue.ErrStoreUnavailable)
}
