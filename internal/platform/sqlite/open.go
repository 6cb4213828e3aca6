package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // Register sqlite3 driver for database/sql

	"github.com/phrazzld/contentq/internal/config"
	"github.com/phrazzld/contentq/internal/platform/migrations"
	"github.com/phrazzld/contentq/internal/platform/sqlstore"
)

// DriverName is the database/sql driver registered by go-sqlite3.
const DriverName = "sqlite3"

// DSN builds the connection string for a database file. Transactions take
// the write lock up front so a read never has to be upgraded mid-flight.
func DSN(path string) string {
	return fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on&_txlock=immediate", path)
}

// Open opens the database file, creating its directory if needed, enables
// WAL and, when cfg.AutoMigrate is set, applies the schema.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	path := cfg.SQLitePath
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open(DriverName, DSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, q := range pragmas {
		if _, err := db.ExecContext(ctx, q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", q, err)
		}
	}

	if cfg.AutoMigrate {
		if err := migrations.Up(ctx, db, migrations.DialectSQLite); err != nil {
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
