package store

import (
	"context"
	"database/sql"
)

// DBTX abstracts over *sql.DB and *sql.Tx so SQL adapters can run the same
// statements inside or outside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
