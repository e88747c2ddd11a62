package pgstore_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/learnhub/mailqueue/pkg/pg"
	"github.com/learnhub/mailqueue/pkg/queue"
	"github.com/learnhub/mailqueue/pkg/queue/pgstore"
	"github.com/learnhub/mailqueue/pkg/queue/storetest"
)

func TestNew_NilPool(t *testing.T) {
	t.Parallel()

	_, err := pgstore.New(nil)
	require.ErrorIs(t, err, queue.ErrRepositoryNil)
}

// Set PG_TEST_URL to a disposable database to run the contract against PostgreSQL.
func TestStore_Contract(t *testing.T) {
	url := os.Getenv("PG_TEST_URL")
	if url == "" {
		t.Skip("PG_TEST_URL not set")
	}

	ctx := context.Background()
	cfg := pg.Config{
		ConnectionString: url,
		MaxOpenConns:     10,
		MaxIdleConns:     1,
		RetryAttempts:    1,
		RetryInterval:    time.Second,
		MigrationsTable:  "mailqueue_schema_migrations",
	}

	pool, err := pg.Connect(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, pg.Migrate(ctx, pool, pgstore.Migrations, pgstore.MigrationsDir, cfg, slog.Default()))

	storetest.Run(t, func(t *testing.T, now func() time.Time) queue.Store {
		_, err := pool.Exec(ctx, `TRUNCATE mailqueue_jobs RESTART IDENTITY`)
		require.NoError(t, err)

		store, err := pgstore.New(pool, pgstore.WithClock(now))
		require.NoError(t, err)
		return store
	})

	t.Run("ping", func(t *testing.T) {
		store, err := pgstore.New(pool)
		require.NoError(t, err)
		require.NoError(t, store.Ping(ctx))
	})
}
