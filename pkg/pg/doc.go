// Package pg bootstraps PostgreSQL access with pgx/v5: a retrying Connect,
// goose migrations from an embedded filesystem, a health check closure and a
// few error classifiers.
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, migrations, "migrations", cfg, slog.Default()); err != nil {
//		return err
//	}
//
// Config fields are read from PG_* environment variables via
// github.com/caarlos0/env.
package pg
