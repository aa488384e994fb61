// Package database opens the PostgreSQL connection shared by the dedup and
// analytical stores and applies the embedded schema migrations.
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/config"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/logger"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/retry"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migration directions.
const (
	DirectionUp   = "up"
	DirectionDown = "down"
)

const pingTimeout = 5 * time.Second

// Connect opens a pooled connection and waits until the server answers.
func Connect(ctx context.Context, cfg *config.DatabaseConfig, log logger.Logger) (*sqlx.DB, error) {
	db, openErr := sqlx.Open("postgres", cfg.DSN())
	if openErr != nil {
		return nil, fmt.Errorf("open database: %w", openErr)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnectionMaxLifetime)

	pingErr := retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()

		if err := db.PingContext(pingCtx); err != nil {
			log.Debug("Database not ready", logger.Error(err))
			return err
		}
		return nil
	})
	if pingErr != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database %s:%d: %w", cfg.Host, cfg.Port, pingErr)
	}

	return db, nil
}

// Migrate applies (up) or reverts (down) every embedded migration. Being
// already at the target version is not an error.
func Migrate(cfg *config.DatabaseConfig, direction string) error {
	if direction != DirectionUp && direction != DirectionDown {
		return fmt.Errorf("invalid direction %q (must be %q or %q)", direction, DirectionUp, DirectionDown)
	}

	src, srcErr := iofs.New(migrationFS, "migrations")
	if srcErr != nil {
		return fmt.Errorf("load migrations: %w", srcErr)
	}

	m, newErr := migrate.NewWithSourceInstance("iofs", src, cfg.MigrateURL())
	if newErr != nil {
		return fmt.Errorf("create migrate instance: %w", newErr)
	}
	defer func() { _, _ = m.Close() }()

	run := m.Up
	if direction == DirectionDown {
		run = m.Down
	}
	runErr := run()

	if runErr != nil && !errors.Is(runErr, migrate.ErrNoChange) {
		return fmt.Errorf("migrate %s: %w", direction, runErr)
	}
	return nil
}
