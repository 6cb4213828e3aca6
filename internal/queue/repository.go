package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/phrazzld/contentq/internal/domain"
	"github.com/phrazzld/contentq/internal/events"
	"github.com/phrazzld/contentq/internal/store"
)

// maxUpdateAttempts bounds how often Update re-reads a task that keeps
// changing underneath it.
const maxUpdateAttempts = 8

// ErrUpdateContended is returned by Update when concurrent writers kept
// advancing the version for maxUpdateAttempts rounds.
var ErrUpdateContended = errors.New("task update contended")

// Create validates params and stores a new pending task at version 1.
// A missing ID is generated. A taken ID returns store.ErrTaskExists.
func (q *Queue) Create(ctx context.Context, params domain.CreateTaskParams) (*domain.Task, error) {
	params.Normalize()
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if params.ID == "" {
		params.ID = q.newID()
	}

	now := q.Now()
	task := domain.NewTask(params, now)
	if err := q.store.Insert(ctx, task); err != nil {
		q.metrics.observe(opCreate, outcomeError)
		return nil, fmt.Errorf("create task %s: %w", task.ID, err)
	}

	q.metrics.observe(opCreate, outcomeApplied)
	q.logger.InfoContext(ctx, "task created",
		"task_id", task.ID,
		"type", task.Type,
		"mode", task.Mode,
		"priority", task.Priority)
	q.emit(ctx, events.NewTaskEvent(events.TaskCreated, task.ID, task, now))
	return task, nil
}

// FindByID returns the task, or ok=false if it does not exist.
func (q *Queue) FindByID(ctx context.Context, id string) (*domain.Task, bool, error) {
	task, err := q.store.Get(ctx, id)
	if err != nil {
		if store.IsNotFoundError(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("find task %s: %w", id, err)
	}
	return task, true, nil
}

// Update applies an administrative edit without a caller-supplied version.
// It re-reads and retries internally when it loses a race, and refuses to
// touch a task that has reached a terminal status.
func (q *Queue) Update(ctx context.Context, id string, patch domain.TaskPatch) (*domain.Task, error) {
	if patch.IsEmpty() {
		return nil, fmt.Errorf("%w: no fields to update", domain.ErrValidation)
	}
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		current, err := q.store.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("update task %s: %w", id, err)
		}
		if current.IsTerminal() {
			return nil, fmt.Errorf("update task %s: %w", id, domain.ErrTerminalTask)
		}

		guard := &store.Guard{
			ExpectedVersion: current.Version,
			Statuses:        domain.ActiveStatuses(),
		}
		task, ok, err := q.apply(ctx, opUpdate, id, guard, store.Changes{Patch: &patch}, events.TaskUpdated, "")
		if err != nil {
			return nil, err
		}
		if ok {
			return task, nil
		}
	}
	return nil, fmt.Errorf("update task %s: %w", id, ErrUpdateContended)
}

// List returns one page of tasks, newest first, with the total match count.
func (q *Queue) List(ctx context.Context, filter domain.TaskFilter, page domain.Pagination) (domain.TaskPage, error) {
	page = page.Normalize()

	items, err := q.store.List(ctx, filter, page)
	if err != nil {
		return domain.TaskPage{}, fmt.Errorf("list tasks: %w", err)
	}
	total, err := q.store.Count(ctx, filter)
	if err != nil {
		return domain.TaskPage{}, fmt.Errorf("count tasks: %w", err)
	}
	if items == nil {
		items = []*domain.Task{}
	}
	return domain.TaskPage{Items: items, Total: total}, nil
}

// Count returns the number of tasks matching filter.
func (q *Queue) Count(ctx context.Context, filter domain.TaskFilter) (int, error) {
	n, err := q.store.Count(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return n, nil
}

// Delete removes a task with its snapshot and result. It reports whether a
// task was removed.
func (q *Queue) Delete(ctx context.Context, id string) (bool, error) {
	deleted, err := q.store.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete task %s: %w", id, err)
	}
	if deleted {
		q.logger.InfoContext(ctx, "task deleted", "task_id", id)
		q.emit(ctx, events.NewTaskEvent(events.TaskDeleted, id, nil, q.Now()))
	}
	return deleted, nil
}

// HealthCheck reports whether the backing store is reachable.
func (q *Queue) HealthCheck(ctx context.Context) bool {
	if err := q.store.Ping(ctx); err != nil {
		q.logger.WarnContext(ctx, "store health check failed", "error", err)
		return false
	}
	return true
}

// GetResult returns the stored result of a completed task.
func (q *Queue) GetResult(ctx context.Context, id string) (*domain.Result, bool, error) {
	result, err := q.store.GetResult(ctx, id)
	if err != nil {
		if store.IsNotFoundError(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get result for task %s: %w", id, err)
	}
	return result, true, nil
}

// Retry creates a new pending task with the payload of a failed or cancelled
// one. The original stays terminal. The new task's retry count continues
// from the original's.
func (q *Queue) Retry(ctx context.Context, id string) (*domain.Task, error) {
	original, err := q.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("retry task %s: %w", id, err)
	}
	if original.Status != domain.TaskStatusFailed && original.Status != domain.TaskStatusCancelled {
		return nil, fmt.Errorf("retry task %s in status %s: %w", id, original.Status, domain.ErrNotRetryable)
	}

	params := domain.CreateTaskParams{
		ID:              q.newID(),
		Mode:            domain.TaskModeAsync,
		Type:            original.Type,
		Priority:        original.Priority,
		Topic:           original.Topic,
		Requirements:    original.Requirements,
		HardConstraints: original.HardConstraints,
	}
	now := q.Now()
	task := domain.NewTask(params, now)
	task.RetryCount = original.RetryCount + 1

	if err := q.store.Insert(ctx, task); err != nil {
		q.metrics.observe(opRetry, outcomeError)
		return nil, fmt.Errorf("retry task %s: %w", id, err)
	}

	q.metrics.observe(opRetry, outcomeApplied)
	q.logger.InfoContext(ctx, "task retried",
		"task_id", task.ID,
		"original_task_id", id,
		"retry_count", task.RetryCount)
	q.emit(ctx, events.NewTaskEvent(events.TaskCreated, task.ID, task, now).WithDetail("retry of "+id))
	return task, nil
}
