package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/learnhub/mailqueue/pkg/httpserver"
	"github.com/learnhub/mailqueue/pkg/logger"
	"github.com/learnhub/mailqueue/pkg/pg"
	"github.com/learnhub/mailqueue/pkg/queue"
	"github.com/learnhub/mailqueue/pkg/queue/pgstore"
	"github.com/learnhub/mailqueue/pkg/queue/redisstore"
	"github.com/learnhub/mailqueue/pkg/ratelimiter"
	"github.com/learnhub/mailqueue/pkg/redis"
)

// backend is the job store plus what else came with its connection.
type backend struct {
	store queue.Store
	// limiter is shared across processes; nil means the worker's in-memory default.
	limiter ratelimiter.Limiter
	checks  []httpserver.Check
	close   func()
}

func openStore(ctx context.Context, cfg settings, log *slog.Logger) (*backend, error) {
	switch cfg.App.StoreDriver {
	case storeRedis:
		return openRedis(ctx, cfg)
	case storePostgres:
		return openPostgres(ctx, cfg, log)
	case storeMemory:
		log.Warn("using in-memory job store, jobs are lost on restart")
		store := queue.NewMemoryStorage()
		return &backend{
			store: store,
			checks: []httpserver.Check{{
				Name: "store",
				Func: store.Ping,
			}},
			close: func() { _ = store.Close() },
		}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.App.StoreDriver)
}

func openRedis(ctx context.Context, cfg settings) (*backend, error) {
	client, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}

	store, err := redisstore.New(client, redisstore.WithKeyPrefix(cfg.App.RedisKeyPrefix))
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	limiterStore, err := ratelimiter.NewRedisStore(client,
		ratelimiter.WithKeyPrefix(cfg.App.RedisKeyPrefix+"ratelimit:"))
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	var limiter ratelimiter.Limiter
	if cfg.Queue.RateLimit > 0 {
		limiter, err = ratelimiter.NewBucket(limiterStore,
			ratelimiter.PerWindow(cfg.Queue.RateLimit, cfg.Queue.RateWindow))
		if err != nil {
			_ = client.Close()
			return nil, err
		}
	}

	return &backend{
		store:   store,
		limiter: limiter,
		checks:  []httpserver.Check{{Name: "redis", Func: redis.Healthcheck(client)}},
		close:   func() { _ = client.Close() },
	}, nil
}

func openPostgres(ctx context.Context, cfg settings, log *slog.Logger) (*backend, error) {
	pool, err := pg.Connect(ctx, cfg.PG)
	if err != nil {
		return nil, err
	}

	migrateLog := log.With(logger.Component("migrate"))
	if err := pg.Migrate(ctx, pool, pgstore.Migrations, pgstore.MigrationsDir, cfg.PG, migrateLog); err != nil {
		pool.Close()
		return nil, err
	}

	store, err := pgstore.New(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &backend{
		store:  store,
		checks: []httpserver.Check{{Name: "postgres", Func: pg.Healthcheck(pool)}},
		close:  pool.Close,
	}, nil
}
