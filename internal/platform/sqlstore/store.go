package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/phrazzld/contentq/internal/domain"
	"github.com/phrazzld/contentq/internal/store"
)

// TaskStore implements store.TaskStore on a *sql.DB.
type TaskStore struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

var _ store.TaskStore = (*TaskStore)(nil)

// New creates a TaskStore. The schema must already exist.
func New(db *sql.DB, dialect Dialect, logger *slog.Logger) *TaskStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskStore{
		db:      db,
		dialect: dialect,
		logger:  logger.With("component", "task_store", "dialect", dialect.Name()),
	}
}

// DB returns the underlying connection pool.
func (s *TaskStore) DB() *sql.DB {
	return s.db
}

// Insert implements store.TaskStore.
func (s *TaskStore) Insert(ctx context.Context, task *domain.Task) error {
	if task == nil || task.ID == "" {
		return store.ErrInvalidEntity
	}
	constraints, err := encodeConstraints(task.HardConstraints)
	if err != nil {
		return err
	}

	query := `INSERT INTO tasks (` + Columns("") + `) VALUES (` + placeholders(len(taskColumns)) + `)`
	_, err = s.db.ExecContext(ctx, s.dialect.Rebind(query),
		task.ID, string(task.Mode), string(task.Type), task.Priority, task.Topic, task.Requirements, constraints,
		string(task.Status), task.CurrentStep, nullString(task.WorkerID), task.ErrorMessage,
		task.RetryCount, task.TextRetryCount, task.ImageRetryCount, task.Version,
		task.CreatedAt.UTC(), task.UpdatedAt.UTC(), nullTime(task.StartedAt), nullTime(task.CompletedAt),
	)
	if err != nil {
		err = s.dialect.MapError(err)
		if errors.Is(err, store.ErrDuplicate) {
			return fmt.Errorf("%w: %s", store.ErrTaskExists, task.ID)
		}
		s.logger.ErrorContext(ctx, "failed to insert task", "task_id", task.ID, "error", err)
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// Get implements store.TaskStore.
func (s *TaskStore) Get(ctx context.Context, id string) (*domain.Task, error) {
	query := `SELECT ` + Columns("") + ` FROM tasks WHERE id = ?`
	task, err := scanTask(s.db.QueryRowContext(ctx, s.dialect.Rebind(query), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		return nil, fmt.Errorf("get task: %w", s.dialect.MapError(err))
	}
	return task, nil
}

// Apply implements store.TaskStore. The guarded UPDATE and any snapshot or
// result write share one transaction.
func (s *TaskStore) Apply(
	ctx context.Context,
	id string,
	guard *store.Guard,
	changes store.Changes,
	now time.Time,
) (*domain.Task, bool, error) {
	query, args, err := buildUpdate(id, guard, changes, now.UTC())
	if err != nil {
		return nil, false, err
	}
	query = s.dialect.Rebind(query)

	if changes.Snapshot == nil && changes.Result == nil {
		task, err := scanTask(s.db.QueryRowContext(ctx, query, args...))
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("apply task changes: %w", s.dialect.MapError(err))
		}
		return task, true, nil
	}

	var applied *domain.Task
	err = store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		task, err := scanTask(tx.QueryRowContext(ctx, query, args...))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if changes.Snapshot != nil {
			if err := s.upsertSnapshot(ctx, tx, id, changes.Snapshot); err != nil {
				return err
			}
		}
		if changes.Result != nil {
			if err := s.upsertResult(ctx, tx, id, changes.Result); err != nil {
				return err
			}
		}
		applied = task
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("apply task changes: %w", s.dialect.MapError(err))
	}
	return applied, applied != nil, nil
}

func (s *TaskStore) upsertSnapshot(ctx context.Context, tx store.DBTX, id string, snap *domain.StepSnapshot) error {
	query := `INSERT INTO task_snapshots (task_id, step, state, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (task_id) DO UPDATE
		SET step = excluded.step, state = excluded.state, created_at = excluded.created_at`
	_, err := tx.ExecContext(ctx, s.dialect.Rebind(query), id, snap.Step, string(snap.State), snap.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *TaskStore) upsertResult(ctx context.Context, tx store.DBTX, id string, result *domain.Result) error {
	quality, err := json.Marshal(result.Quality)
	if err != nil {
		return fmt.Errorf("encode quality report: %w", err)
	}
	query := `INSERT INTO task_results (task_id, content, quality, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (task_id) DO UPDATE
		SET content = excluded.content, quality = excluded.quality, created_at = excluded.created_at`
	_, err = tx.ExecContext(ctx, s.dialect.Rebind(query), id, result.Content, string(quality), result.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

// ClaimBatch implements store.TaskStore.
func (s *TaskStore) ClaimBatch(ctx context.Context, criteria store.ClaimCriteria) ([]*domain.Task, error) {
	if criteria.Limit <= 0 {
		return []*domain.Task{}, nil
	}
	criteria.Now = criteria.Now.UTC()
	criteria.StaleBefore = criteria.StaleBefore.UTC()

	query, args := s.dialect.ClaimQuery(criteria)
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		s.logger.ErrorContext(ctx, "claim query failed", "worker_id", criteria.WorkerID, "error", err)
		return nil, fmt.Errorf("claim tasks: %w", s.dialect.MapError(err))
	}
	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, fmt.Errorf("claim tasks: %w", s.dialect.MapError(err))
	}
	return tasks, nil
}

// List implements store.TaskStore.
func (s *TaskStore) List(ctx context.Context, filter domain.TaskFilter, page domain.Pagination) ([]*domain.Task, error) {
	where, args := filterClause(filter)
	query := `SELECT ` + Columns("") + ` FROM tasks` + where + ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, page.Limit, page.Offset)

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", s.dialect.MapError(err))
	}
	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// Count implements store.TaskStore.
func (s *TaskStore) Count(ctx context.Context, filter domain.TaskFilter) (int, error) {
	where, args := filterClause(filter)
	var n int
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(`SELECT COUNT(*) FROM tasks`+where), args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count tasks: %w", s.dialect.MapError(err))
	}
	return n, nil
}

// Delete implements store.TaskStore. Snapshots and results go with the
// task through ON DELETE CASCADE.
func (s *TaskStore) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM tasks WHERE id = ?`), id)
	if err != nil {
		return false, fmt.Errorf("delete task: %w", s.dialect.MapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// LatestSnapshot implements store.TaskStore.
func (s *TaskStore) LatestSnapshot(ctx context.Context, taskID string) (*domain.StepSnapshot, error) {
	var (
		snap      domain.StepSnapshot
		state     string
		createdAt timestamp
	)
	query := `SELECT task_id, step, state, created_at FROM task_snapshots WHERE task_id = ?`
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(query), taskID).Scan(&snap.TaskID, &snap.Step, &state, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("load snapshot: %w", s.dialect.MapError(err))
	}
	snap.State = json.RawMessage(state)
	snap.CreatedAt = createdAt.Time
	return &snap, nil
}

// GetResult implements store.TaskStore.
func (s *TaskStore) GetResult(ctx context.Context, taskID string) (*domain.Result, error) {
	var (
		result    domain.Result
		quality   string
		createdAt timestamp
	)
	query := `SELECT task_id, content, quality, created_at FROM task_results WHERE task_id = ?`
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(query), taskID).Scan(&result.TaskID, &result.Content, &quality, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrResultNotFound
		}
		return nil, fmt.Errorf("get result: %w", s.dialect.MapError(err))
	}
	if err := json.Unmarshal([]byte(quality), &result.Quality); err != nil {
		return nil, fmt.Errorf("decode quality report: %w", err)
	}
	result.CreatedAt = createdAt.Time
	return &result, nil
}

// Ping implements store.TaskStore.
func (s *TaskStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements store.TaskStore.
func (s *TaskStore) Close() error {
	return s.db.Close()
}

// buildUpdate renders a guarded UPDATE ... RETURNING for changes.
func buildUpdate(id string, guard *store.Guard, changes store.Changes, now time.Time) (string, []any, error) {
	sets := []string{"version = version + 1", "updated_at = ?"}
	args := []any{now}

	if changes.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*changes.Status))
	}
	if changes.CurrentStep != nil {
		sets = append(sets, "current_step = ?")
		args = append(args, *changes.CurrentStep)
	}
	if changes.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, *changes.ErrorMessage)
	}
	switch {
	case changes.WorkerID != nil:
		sets = append(sets, "worker_id = ?")
		args = append(args, *changes.WorkerID)
	case changes.ClearWorker:
		sets = append(sets, "worker_id = NULL")
	}
	switch changes.IncrementRetry {
	case "":
	case domain.RetryAspectTask:
		sets = append(sets, "retry_count = retry_count + 1")
	case domain.RetryAspectText:
		sets = append(sets, "text_retry_count = text_retry_count + 1")
	case domain.RetryAspectImage:
		sets = append(sets, "image_retry_count = image_retry_count + 1")
	default:
		return "", nil, fmt.Errorf("%w: %q", domain.ErrInvalidRetryAspect, changes.IncrementRetry)
	}
	if changes.SetStartedAt {
		sets = append(sets, "started_at = COALESCE(started_at, ?)")
		args = append(args, now)
	}
	if changes.SetCompletedAt {
		sets = append(sets, "completed_at = ?")
		args = append(args, now)
	}
	if p := changes.Patch; p != nil {
		if p.Priority != nil {
			sets = append(sets, "priority = ?")
			args = append(args, *p.Priority)
		}
		if p.Topic != nil {
			sets = append(sets, "topic = ?")
			args = append(args, strings.TrimSpace(*p.Topic))
		}
		if p.Requirements != nil {
			sets = append(sets, "requirements = ?")
			args = append(args, *p.Requirements)
		}
		if p.HardConstraints != nil {
			encoded, err := encodeConstraints(*p.HardConstraints)
			if err != nil {
				return "", nil, err
			}
			sets = append(sets, "hard_constraints = ?")
			args = append(args, encoded)
		}
	}

	where := []string{"id = ?"}
	args = append(args, id)
	if guard != nil {
		where = append(where, "version = ?")
		args = append(args, guard.ExpectedVersion)
		if len(guard.Statuses) > 0 {
			where = append(where, "status IN ("+placeholders(len(guard.Statuses))+")")
			for _, st := range guard.Statuses {
				args = append(args, string(st))
			}
		}
		if guard.WorkerID != "" {
			where = append(where, "worker_id = ?")
			args = append(args, guard.WorkerID)
		}
	}

	query := "UPDATE tasks SET " + strings.Join(sets, ", ") +
		" WHERE " + strings.Join(where, " AND ") +
		" RETURNING " + Columns("")
	return query, args, nil
}

func filterClause(f domain.TaskFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, string(f.Type))
	}
	if f.Mode != "" {
		conds = append(conds, "mode = ?")
		args = append(args, string(f.Mode))
	}
	if f.WorkerID != "" {
		conds = append(conds, "worker_id = ?")
		args = append(args, f.WorkerID)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
