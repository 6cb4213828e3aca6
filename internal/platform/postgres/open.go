package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver for database/sql

	"github.com/phrazzld/contentq/internal/config"
	"github.com/phrazzld/contentq/internal/platform/migrations"
	"github.com/phrazzld/contentq/internal/platform/sqlstore"
)

// DriverName is the database/sql driver registered by pgx.
const DriverName = "pgx"

const pingTimeout = 5 * time.Second

// Open connects to PostgreSQL, applies the pool settings and, when
// cfg.AutoMigrate is set, brings the schema up to date.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open(DriverName, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if cfg.AutoMigrate {
		if err := migrations.Up(ctx, db, migrations.DialectPostgres); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return db, nil
}

// NewTaskStore opens the database and returns a task store on top of it.
func NewTaskStore(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*sqlstore.TaskStore, error) {
	db, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return sqlstore.New(db, Dialect{}, logger), nil
}
