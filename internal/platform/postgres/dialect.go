package postgres

import (
	"github.com/phrazzld/contentq/internal/domain"
	"github.com/phrazzld/contentq/internal/platform/migrations"
	"github.com/phrazzld/contentq/internal/platform/sqlstore"
	"github.com/phrazzld/contentq/internal/store"
)

// Dialect is the sqlstore.Dialect for PostgreSQL.
type Dialect struct{}

var _ sqlstore.Dialect = Dialect{}

// Name implements sqlstore.Dialect.
func (Dialect) Name() string { return migrations.DialectPostgres }

// Rebind implements sqlstore.Dialect.
func (Dialect) Rebind(query string) string { return sqlstore.RebindDollar(query) }

// MapError implements sqlstore.Dialect.
func (Dialect) MapError(err error) error { return MapError(err) }

// ClaimQuery implements sqlstore.Dialect. Candidate rows are locked with
// SKIP LOCKED so concurrent claimers take disjoint sets without waiting on
// each other.
func (Dialect) ClaimQuery(c store.ClaimCriteria) (string, []any) {
	query := `WITH candidates AS (
		SELECT id FROM tasks
		WHERE status = ? OR (status = ? AND updated_at < ?)
		ORDER BY priority DESC, created_at ASC, id ASC
		LIMIT ?
		FOR UPDATE SKIP LOCKED
	)
	UPDATE tasks AS t
	SET status = ?, worker_id = ?, version = t.version + 1, updated_at = ?,
		started_at = COALESCE(t.started_at, ?)
	FROM candidates AS c
	WHERE t.id = c.id
	RETURNING ` + sqlstore.Columns("t")
	args := []any{
		string(domain.TaskStatusPending), string(domain.TaskStatusRunning), c.StaleBefore, c.Limit,
		string(domain.TaskStatusRunning), c.WorkerID, c.Now, c.Now,
	}
	return query, args
}
