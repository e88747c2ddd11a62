package pgstore

import "embed"

// Migrations holds the schema for the jobs table. Apply with pg.Migrate(ctx, pool, Migrations, MigrationsDir, ...).
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations that goose reads.
const MigrationsDir = "migrations"
