package admin

import (
	"context"
	"log/slog"

	"github.com/malbeclabs/rewards/distributor/pkg/store/postgres"
)

// PgConfig holds the PostgreSQL connection settings of admin commands
type PgConfig struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
	SSLMode  string
}

func (cfg PgConfig) conn() postgres.ConnConfig {
	return postgres.ConnConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Database: cfg.Database,
		Username: cfg.Username,
		Password: cfg.Password,
		SSLMode:  cfg.SSLMode,
	}
}

func (cfg PgConfig) connString() (string, error) {
	conn := cfg.conn()
	if err := conn.Validate(); err != nil {
		return "", err
	}
	return conn.ConnString(), nil
}

// PgMigrateUp runs all pending PostgreSQL migrations
func PgMigrateUp(ctx context.Context, log *slog.Logger, cfg PgConfig) error {
	connStr, err := cfg.connString()
	if err != nil {
		return err
	}
	return postgres.MigrateUp(ctx, log, connStr)
}

// PgMigrateDown rolls back the last PostgreSQL migration
func PgMigrateDown(ctx context.Context, log *slog.Logger, cfg PgConfig) error {
	connStr, err := cfg.connString()
	if err != nil {
		return err
	}
	return postgres.MigrateDown(ctx, log, connStr)
}

// PgMigrateStatus shows the status of all PostgreSQL migrations
func PgMigrateStatus(ctx context.Context, log *slog.Logger, cfg PgConfig) error {
	connStr, err := cfg.connString()
	if err != nil {
		return err
	}
	if err := postgres.MigrateStatus(ctx, log, connStr); err != nil {
		return err
	}
	version, err := postgres.MigrationVersion(ctx, connStr)
	if err != nil {
		return err
	}
	log.Info("postgres: schema version", "version", version)
	return nil
}
