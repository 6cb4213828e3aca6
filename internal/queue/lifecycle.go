package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/phrazzld/contentq/internal/domain"
	"github.com/phrazzld/contentq/internal/events"
	"github.com/phrazzld/contentq/internal/store"
)

// UpdateStatus moves a task to status at expectedVersion.
//
// Only edges of the state machine are accepted: pending (from running,
// clearing the owner), cancelled (from pending or running), completed and
// failed (from running). Running is reachable only through a claim, so a
// request for it reports ok=false.
func (q *Queue) UpdateStatus(ctx context.Context, id string, status domain.TaskStatus, expectedVersion int64) (*domain.Task, bool, error) {
	if !status.IsValid() {
		return nil, false, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, status)
	}
	if status == domain.TaskStatusRunning {
		return nil, false, nil
	}

	guard := &store.Guard{
		ExpectedVersion: expectedVersion,
		Statuses:        domain.SourcesFor(status),
	}
	changes := store.Changes{
		Status:      ptr(status),
		ClearWorker: true,
	}
	if status.IsTerminal() {
		changes.SetCompletedAt = true
	}
	return q.apply(ctx, opUpdateStatus, id, guard, changes, eventForStatus(status), "")
}

// UpdateCurrentStep records the workflow step of a non-terminal task. It
// also refreshes updated_at, which keeps a slow task from being reclaimed.
func (q *Queue) UpdateCurrentStep(ctx context.Context, id, step string, expectedVersion int64) (*domain.Task, bool, error) {
	guard := &store.Guard{
		ExpectedVersion: expectedVersion,
		Statuses:        domain.ActiveStatuses(),
	}
	return q.apply(ctx, opUpdateStep, id, guard, store.Changes{CurrentStep: ptr(step)}, events.TaskStep, step)
}

// IncrementRetryCount bumps the counter named by aspect on a non-terminal task.
func (q *Queue) IncrementRetryCount(ctx context.Context, id string, aspect domain.RetryAspect, expectedVersion int64) (*domain.Task, bool, error) {
	if !aspect.IsValid() {
		return nil, false, fmt.Errorf("%w: %q", domain.ErrInvalidRetryAspect, aspect)
	}

	guard := &store.Guard{
		ExpectedVersion: expectedVersion,
		Statuses:        domain.ActiveStatuses(),
	}
	return q.apply(ctx, opIncrementRetry, id, guard, store.Changes{IncrementRetry: aspect}, events.TaskRetried, string(aspect))
}

// MarkAsCompleted completes a running task.
func (q *Queue) MarkAsCompleted(ctx context.Context, id string, expectedVersion int64) (*domain.Task, bool, error) {
	return q.complete(ctx, id, expectedVersion, nil)
}

// CompleteWithResult completes a running task and stores its result in the
// same write. Either both land or neither does.
func (q *Queue) CompleteWithResult(ctx context.Context, id string, expectedVersion int64, result *domain.Result) (*domain.Task, bool, error) {
	if result == nil {
		return nil, false, fmt.Errorf("%w: result is required", domain.ErrValidation)
	}
	stored := result.Clone()
	stored.TaskID = id
	stored.CreatedAt = q.Now()
	return q.complete(ctx, id, expectedVersion, stored)
}

func (q *Queue) complete(ctx context.Context, id string, expectedVersion int64, result *domain.Result) (*domain.Task, bool, error) {
	guard := &store.Guard{
		ExpectedVersion: expectedVersion,
		Statuses:        []domain.TaskStatus{domain.TaskStatusRunning},
	}
	changes := store.Changes{
		Status:         ptr(domain.TaskStatusCompleted),
		ClearWorker:    true,
		SetCompletedAt: true,
		Result:         result,
	}
	task, ok, err := q.apply(ctx, opComplete, id, guard, changes, events.TaskCompleted, "")
	if ok {
		q.logger.InfoContext(ctx, "task completed", "task_id", id, "version", task.Version)
	}
	return task, ok, err
}

// MarkAsFailed fails a running task with errorMessage.
func (q *Queue) MarkAsFailed(ctx context.Context, id, errorMessage string, expectedVersion int64) (*domain.Task, bool, error) {
	guard := &store.Guard{
		ExpectedVersion: expectedVersion,
		Statuses:        []domain.TaskStatus{domain.TaskStatusRunning},
	}
	changes := store.Changes{
		Status:         ptr(domain.TaskStatusFailed),
		ErrorMessage:   ptr(errorMessage),
		ClearWorker:    true,
		SetCompletedAt: true,
	}
	task, ok, err := q.apply(ctx, opFail, id, guard, changes, events.TaskFailed, errorMessage)
	if ok {
		q.logger.WarnContext(ctx, "task failed", "task_id", id, "error_message", errorMessage)
	}
	return task, ok, err
}

// ReleaseWorker returns a running task owned by workerID to pending.
func (q *Queue) ReleaseWorker(ctx context.Context, id, workerID string, expectedVersion int64) (*domain.Task, bool, error) {
	if workerID == "" {
		return nil, false, nil
	}

	guard := &store.Guard{
		ExpectedVersion: expectedVersion,
		Statuses:        []domain.TaskStatus{domain.TaskStatusRunning},
		WorkerID:        workerID,
	}
	changes := store.Changes{
		Status:      ptr(domain.TaskStatusPending),
		ClearWorker: true,
	}
	task, ok, err := q.apply(ctx, opRelease, id, guard, changes, events.TaskReleased, workerID)
	if ok {
		q.logger.InfoContext(ctx, "task released", "task_id", id, "worker_id", workerID)
	}
	return task, ok, err
}

// Cancel re-reads the task and cancels it at the version it read. ok is
// false if the task is missing, already terminal, or changed in between.
func (q *Queue) Cancel(ctx context.Context, id string) (*domain.Task, bool, error) {
	current, found, err := q.FindByID(ctx, id)
	if err != nil || !found {
		return nil, false, err
	}
	if current.IsTerminal() {
		return current, false, nil
	}
	return q.UpdateStatus(ctx, id, domain.TaskStatusCancelled, current.Version)
}

// SaveStateSnapshot replaces the task's latest snapshot. Only the version is
// checked, so snapshots may still be written for audit after a task ends.
// State must be a JSON document; Postgres stores it as JSONB.
func (q *Queue) SaveStateSnapshot(ctx context.Context, id string, snapshot domain.StepSnapshot, expectedVersion int64) (*domain.Task, bool, error) {
	if len(snapshot.State) == 0 || !json.Valid(snapshot.State) {
		return nil, false, fmt.Errorf("%w: snapshot state must be valid JSON", domain.ErrValidation)
	}

	stored := snapshot.Clone()
	stored.TaskID = id
	stored.Step = strings.TrimSpace(stored.Step)
	stored.CreatedAt = q.Now()

	guard := &store.Guard{ExpectedVersion: expectedVersion}
	return q.apply(ctx, opSaveSnapshot, id, guard, store.Changes{Snapshot: stored}, events.TaskSnapshot, stored.Step)
}

// LoadStateSnapshot returns the latest snapshot, or ok=false if none exists.
func (q *Queue) LoadStateSnapshot(ctx context.Context, id string) (*domain.StepSnapshot, bool, error) {
	snapshot, err := q.store.LatestSnapshot(ctx, id)
	if err != nil {
		if store.IsNotFoundError(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("load snapshot for task %s: %w", id, err)
	}
	return snapshot, true, nil
}

func eventForStatus(status domain.TaskStatus) events.EventType {
	switch status {
	case domain.TaskStatusPending:
		return events.TaskReleased
	case domain.TaskStatusCompleted:
		return events.TaskCompleted
	case domain.TaskStatusFailed:
		return events.TaskFailed
	case domain.TaskStatusCancelled:
		return events.TaskCancelled
	default:
		return events.TaskUpdated
	}
}
