package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver with database/sql
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var EmbedMigrations embed.FS

const migrationsDir = "migrations"

// MigrateUp applies all pending migrations.
func MigrateUp(ctx context.Context, log *slog.Logger, connStr string) error {
	return withGoose(connStr, func(db *sql.DB) error {
		log.Info("postgres: running migrations (up)")
		if err := goose.UpContext(ctx, db, migrationsDir); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("postgres: migrations completed")
		return nil
	})
}

// MigrateDown rolls back the most recent migration.
func MigrateDown(ctx context.Context, log *slog.Logger, connStr string) error {
	return withGoose(connStr, func(db *sql.DB) error {
		log.Info("postgres: rolling back migration (down)")
		if err := goose.DownContext(ctx, db, migrationsDir); err != nil {
			return fmt.Errorf("failed to rollback migration: %w", err)
		}
		log.Info("postgres: migration rollback completed")
		return nil
	})
}

// MigrateStatus logs the state of every migration.
func MigrateStatus(ctx context.Context, log *slog.Logger, connStr string) error {
	return withGoose(connStr, func(db *sql.DB) error {
		log.Info("postgres: migration status")
		if err := goose.StatusContext(ctx, db, migrationsDir); err != nil {
			return fmt.Errorf("failed to get migration status: %w", err)
		}
		return nil
	})
}

// MigrationVersion returns the current schema version.
func MigrationVersion(ctx context.Context, connStr string) (int64, error) {
	var version int64
	err := withGoose(connStr, func(db *sql.DB) error {
		v, err := goose.GetDBVersionContext(ctx, db)
		if err != nil {
			return fmt.Errorf("failed to get schema version: %w", err)
		}
		version = v
		return nil
	})
	return version, err
}

func withGoose(connStr string, fn func(db *sql.DB) error) error {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	goose.SetBaseFS(EmbedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return fn(db)
}
