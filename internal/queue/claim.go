package queue

import (
	"context"
	"fmt"
	"sort"

	"github.com/phrazzld/contentq/internal/domain"
	"github.com/phrazzld/contentq/internal/events"
	"github.com/phrazzld/contentq/internal/store"
)

// ClaimForProcessing atomically assigns up to limit eligible tasks to
// workerID and returns them ordered by priority DESC, created_at ASC, id ASC.
//
// Eligible tasks are pending ones and running ones whose updated_at is older
// than the lease window. No eligible task yields an empty slice, not an error.
func (q *Queue) ClaimForProcessing(ctx context.Context, workerID string, limit int) ([]*domain.Task, error) {
	if workerID == "" {
		return nil, fmt.Errorf("%w: worker id is required", domain.ErrValidation)
	}
	if limit <= 0 {
		return []*domain.Task{}, nil
	}

	now := q.Now()
	criteria := store.ClaimCriteria{
		WorkerID:    workerID,
		Limit:       limit,
		StaleBefore: now.Add(-q.leaseWindow),
		Now:         now,
	}

	started := q.now()
	claimed, err := q.store.ClaimBatch(ctx, criteria)
	q.metrics.observeClaimLatency(q.now().Sub(started))
	if err != nil {
		q.metrics.observe(opClaimBatch, outcomeError)
		return nil, fmt.Errorf("claim tasks for worker %s: %w", workerID, err)
	}
	if len(claimed) == 0 {
		q.metrics.observe(opClaimBatch, outcomeRejected)
		return []*domain.Task{}, nil
	}
	q.metrics.observe(opClaimBatch, outcomeApplied)

	sortClaimOrder(claimed)

	for _, task := range claimed {
		startedBeforeWindow := task.StartedAt != nil && task.StartedAt.Before(criteria.StaleBefore)
		q.metrics.claimed(startedBeforeWindow)
		q.metrics.transition(domain.TaskStatusRunning)
		if startedBeforeWindow {
			q.logger.InfoContext(ctx, "claimed task first started before the lease window",
				"task_id", task.ID,
				"worker_id", workerID,
				"version", task.Version)
		}
		q.emit(ctx, events.NewTaskEvent(events.TaskClaimed, task.ID, task, now))
	}

	q.logger.DebugContext(ctx, "claimed tasks",
		"worker_id", workerID,
		"requested", limit,
		"claimed", len(claimed))
	return claimed, nil
}

// ClaimTask claims one specific pending task at expectedVersion.
func (q *Queue) ClaimTask(ctx context.Context, id, workerID string, expectedVersion int64) (*domain.Task, bool, error) {
	if workerID == "" {
		return nil, false, fmt.Errorf("%w: worker id is required", domain.ErrValidation)
	}

	guard := &store.Guard{
		ExpectedVersion: expectedVersion,
		Statuses:        []domain.TaskStatus{domain.TaskStatusPending},
	}
	changes := store.Changes{
		Status:       ptr(domain.TaskStatusRunning),
		WorkerID:     ptr(workerID),
		SetStartedAt: true,
	}
	task, ok, err := q.apply(ctx, opClaimTask, id, guard, changes, events.TaskClaimed, "")
	if ok {
		q.metrics.claimed(false)
	}
	return task, ok, err
}

// sortClaimOrder sorts tasks the way claims select them.
func sortClaimOrder(tasks []*domain.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
