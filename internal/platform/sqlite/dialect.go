package sqlite

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/phrazzld/contentq/internal/domain"
	"github.com/phrazzld/contentq/internal/platform/migrations"
	"github.com/phrazzld/contentq/internal/platform/sqlstore"
	"github.com/phrazzld/contentq/internal/store"
)

// Dialect is the sqlstore.Dialect for SQLite.
type Dialect struct{}

var _ sqlstore.Dialect = Dialect{}

// Name implements sqlstore.Dialect.
func (Dialect) Name() string { return migrations.DialectSQLite }

// Rebind implements sqlstore.Dialect. SQLite takes ? natively.
func (Dialect) Rebind(query string) string { return query }

// MapError implements sqlstore.Dialect.
func (Dialect) MapError(err error) error { return MapError(err) }

// ClaimQuery implements sqlstore.Dialect. Selection and update run as one
// statement, which SQLite executes under its write lock.
func (Dialect) ClaimQuery(c store.ClaimCriteria) (string, []any) {
	query := `UPDATE tasks
	SET status = ?, worker_id = ?, version = version + 1, updated_at = ?,
		started_at = COALESCE(started_at, ?)
	WHERE id IN (
		SELECT id FROM tasks
		WHERE status = ? OR (status = ? AND updated_at < ?)
		ORDER BY priority DESC, created_at ASC, id ASC
		LIMIT ?
	)
	RETURNING ` + sqlstore.Columns("")
	args := []any{
		string(domain.TaskStatusRunning), c.WorkerID, c.Now, c.Now,
		string(domain.TaskStatusPending), string(domain.TaskStatusRunning), c.StaleBefore, c.Limit,
	}
	return query, args
}

// MapError maps go-sqlite3 constraint and lock errors onto store sentinels.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	if IsBusy(err) {
		return fmt.Errorf("%w: %w", store.ErrRetryable, err)
	}

	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) || sqliteErr.Code != sqlite3.ErrConstraint {
		return err
	}
	switch sqliteErr.ExtendedCode {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		return fmt.Errorf("%w: %w", store.ErrDuplicate, err)
	case sqlite3.ErrConstraintForeignKey:
		return fmt.Errorf("%w: foreign key violation: %w", store.ErrInvalidEntity, err)
	case sqlite3.ErrConstraintCheck:
		return fmt.Errorf("%w: check constraint violation: %w", store.ErrInvalidEntity, err)
	case sqlite3.ErrConstraintNotNull:
		return fmt.Errorf("%w: not null violation: %w", store.ErrInvalidEntity, err)
	}
	return err
}

// IsBusy reports whether err is SQLITE_BUSY or SQLITE_LOCKED.
func IsBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}
