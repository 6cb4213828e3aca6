// Package memory provides a volatile, in-process implementation of
// store.TaskStore. It applies the same guards as the SQL adapters under a
// single mutex, so it can stand in for them in tests and ephemeral mode.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/phrazzld/contentq/internal/domain"
	"github.com/phrazzld/contentq/internal/store"
)

// TaskStore implements store.TaskStore with maps guarded by one mutex.
type TaskStore struct {
	mu        sync.Mutex
	tasks     map[string]*domain.Task
	snapshots map[string]*domain.StepSnapshot
	results   map[string]*domain.Result
	closed    bool
}

var _ store.TaskStore = (*TaskStore)(nil)

// NewTaskStore creates an empty store.
func NewTaskStore() *TaskStore {
	return &TaskStore{
		tasks:     make(map[string]*domain.Task),
		snapshots: make(map[string]*domain.StepSnapshot),
		results:   make(map[string]*domain.Result),
	}
}

// Insert implements store.TaskStore.
func (s *TaskStore) Insert(ctx context.Context, task *domain.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if task == nil || task.ID == "" {
		return store.ErrInvalidEntity
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrStoreClosed
	}
	if _, exists := s.tasks[task.ID]; exists {
		return store.ErrTaskExists
	}
	s.tasks[task.ID] = task.Clone()
	return nil
}

// Get implements store.TaskStore.
func (s *TaskStore) Get(ctx context.Context, id string) (*domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, store.ErrStoreClosed
	}
	task, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return task.Clone(), nil
}

// Apply implements store.TaskStore.
func (s *TaskStore) Apply(
	ctx context.Context,
	id string,
	guard *store.Guard,
	changes store.Changes,
	now time.Time,
) (*domain.Task, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, store.ErrStoreClosed
	}

	current, ok := s.tasks[id]
	if !ok || !guard.Allows(current) {
		return nil, false, nil
	}

	// Mutate a copy so the stored task is replaced in one step.
	next := current.Clone()
	changes.ApplyTo(next, now)
	s.tasks[id] = next

	if changes.Snapshot != nil {
		snap := changes.Snapshot.Clone()
		snap.TaskID = id
		s.snapshots[id] = snap
	}
	if changes.Result != nil {
		result := changes.Result.Clone()
		result.TaskID = id
		s.results[id] = result
	}
	return next.Clone(), true, nil
}

// ClaimBatch implements store.TaskStore.
func (s *TaskStore) ClaimBatch(ctx context.Context, criteria store.ClaimCriteria) ([]*domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if criteria.Limit <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, store.ErrStoreClosed
	}

	eligible := make([]*domain.Task, 0)
	for _, t := range s.tasks {
		if t.Status == domain.TaskStatusPending ||
			(t.Status == domain.TaskStatusRunning && t.UpdatedAt.Before(criteria.StaleBefore)) {
			eligible = append(eligible, t)
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	if len(eligible) > criteria.Limit {
		eligible = eligible[:criteria.Limit]
	}

	running := domain.TaskStatusRunning
	worker := criteria.WorkerID
	changes := store.Changes{Status: &running, WorkerID: &worker, SetStartedAt: true}

	claimed := make([]*domain.Task, 0, len(eligible))
	for _, t := range eligible {
		next := t.Clone()
		changes.ApplyTo(next, criteria.Now)
		s.tasks[next.ID] = next
		claimed = append(claimed, next.Clone())
	}
	return claimed, nil
}

// List implements store.TaskStore.
func (s *TaskStore) List(ctx context.Context, filter domain.TaskFilter, page domain.Pagination) ([]*domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	matches := make([]*domain.Task, 0)
	for _, t := range s.tasks {
		if filter.Matches(t) {
			matches = append(matches, t.Clone())
		}
	}
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, store.ErrStoreClosed
	}

	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})

	if page.Offset >= len(matches) {
		return []*domain.Task{}, nil
	}
	end := page.Offset + page.Limit
	if page.Limit <= 0 || end > len(matches) {
		end = len(matches)
	}
	return matches[page.Offset:end], nil
}

// Count implements store.TaskStore.
func (s *TaskStore) Count(ctx context.Context, filter domain.TaskFilter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, store.ErrStoreClosed
	}
	n := 0
	for _, t := range s.tasks {
		if filter.Matches(t) {
			n++
		}
	}
	return n, nil
}

// Delete implements store.TaskStore.
func (s *TaskStore) Delete(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, store.ErrStoreClosed
	}
	if _, ok := s.tasks[id]; !ok {
		return false, nil
	}
	delete(s.tasks, id)
	delete(s.snapshots, id)
	delete(s.results, id)
	return true, nil
}

// LatestSnapshot implements store.TaskStore.
func (s *TaskStore) LatestSnapshot(ctx context.Context, taskID string) (*domain.StepSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, store.ErrStoreClosed
	}
	snap, ok := s.snapshots[taskID]
	if !ok {
		return nil, store.ErrSnapshotNotFound
	}
	return snap.Clone(), nil
}

// GetResult implements store.TaskStore.
func (s *TaskStore) GetResult(ctx context.Context, taskID string) (*domain.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, store.ErrStoreClosed
	}
	result, ok := s.results[taskID]
	if !ok {
		return nil, store.ErrResultNotFound
	}
	return result.Clone(), nil
}

// Ping implements store.TaskStore.
func (s *TaskStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrStoreClosed
	}
	return nil
}

// Close implements store.TaskStore. Later calls fail with store.ErrStoreClosed.
func (s *TaskStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
