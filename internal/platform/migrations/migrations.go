// Package migrations embeds the schema for each SQL backend and applies it
// with goose.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed sql/postgres/*.sql sql/sqlite/*.sql
var files embed.FS

// Goose dialect names.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite3"
)

// TableName is the goose version table.
const TableName = "schema_migrations"

// Commands accepted by Run.
const (
	CommandUp      = "up"
	CommandDown    = "down"
	CommandReset   = "reset"
	CommandStatus  = "status"
	CommandVersion = "version"
)

// goose keeps its configuration in package globals.
var gooseMu sync.Mutex

func dirFor(dialect string) (string, error) {
	switch dialect {
	case DialectPostgres:
		return "sql/postgres", nil
	case DialectSQLite:
		return "sql/sqlite", nil
	default:
		return "", fmt.Errorf("unsupported migration dialect %q", dialect)
	}
}

// Up applies all pending migrations.
func Up(ctx context.Context, db *sql.DB, dialect string) error {
	return Run(ctx, db, dialect, CommandUp)
}

// Run executes a goose command against db using the embedded migrations.
func Run(ctx context.Context, db *sql.DB, dialect, command string) error {
	dir, err := dirFor(dialect)
	if err != nil {
		return err
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(files)
	goose.SetLogger(&slogGooseLogger{logger: slog.Default().With("component", "migrations")})
	goose.SetTableName(TableName)
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("failed to set goose dialect %s: %w", dialect, err)
	}

	switch command {
	case CommandUp:
		err = goose.UpContext(ctx, db, dir)
	case CommandDown:
		err = goose.DownContext(ctx, db, dir)
	case CommandReset:
		err = goose.ResetContext(ctx, db, dir)
	case CommandStatus:
		err = goose.StatusContext(ctx, db, dir)
	case CommandVersion:
		err = goose.VersionContext(ctx, db, dir)
	default:
		return fmt.Errorf("unknown migration command %q", command)
	}
	if err != nil {
		return fmt.Errorf("migration %s failed: %w", command, err)
	}
	return nil
}

// slogGooseLogger adapts the goose logger interface to slog.
type slogGooseLogger struct {
	logger *slog.Logger
}

// Printf implements the goose.Logger Printf method by forwarding messages to slog.Info.
func (l *slogGooseLogger) Printf(format string, v ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, v...))
}

// Fatalf implements the goose.Logger Fatalf method. It logs at error level
// and does NOT exit; the error is returned to the caller instead.
func (l *slogGooseLogger) Fatalf(format string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, v...))
}
