package store

import (
	"context"
	"time"

	"github.com/phrazzld/contentq/internal/domain"
)

// Guard is the predicate a conditional write must satisfy. Every field is
// checked against the stored row in the same atomic step as the write.
type Guard struct {
	// ExpectedVersion must equal the stored version.
	ExpectedVersion int64

	// Statuses, when non-empty, lists the statuses the row may be in.
	Statuses []domain.TaskStatus

	// WorkerID, when non-empty, must equal the stored owner.
	WorkerID string
}

// Allows reports whether t satisfies the guard. Adapters that cannot push
// the predicate into a query evaluate it with this method.
func (g *Guard) Allows(t *domain.Task) bool {
	if g == nil {
		return true
	}
	if t.Version != g.ExpectedVersion {
		return false
	}
	if len(g.Statuses) > 0 {
		ok := false
		for _, s := range g.Statuses {
			if t.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if g.WorkerID != "" && t.WorkerID != g.WorkerID {
		return false
	}
	return true
}

// Changes describes the write applied when a guard holds. Zero values
// leave the corresponding column untouched. Every applied change also sets
// updated_at and increments version by one.
type Changes struct {
	Status       *domain.TaskStatus
	CurrentStep  *string
	ErrorMessage *string

	// WorkerID assigns an owner; ClearWorker removes it.
	WorkerID    *string
	ClearWorker bool

	// IncrementRetry names the counter to bump, if any.
	IncrementRetry domain.RetryAspect

	// SetStartedAt stamps started_at only when it is still null.
	SetStartedAt bool
	// SetCompletedAt stamps completed_at.
	SetCompletedAt bool

	// Patch carries administrative payload edits.
	Patch *domain.TaskPatch

	// Snapshot replaces the task's latest snapshot in the same write.
	Snapshot *domain.StepSnapshot

	// Result stores the task's result in the same write.
	Result *domain.Result
}

// ApplyTo mutates t in place the way a SQL adapter's UPDATE would.
func (c Changes) ApplyTo(t *domain.Task, now time.Time) {
	if c.Status != nil {
		t.Status = *c.Status
	}
	if c.CurrentStep != nil {
		t.CurrentStep = *c.CurrentStep
	}
	if c.ErrorMessage != nil {
		t.ErrorMessage = *c.ErrorMessage
	}
	if c.ClearWorker {
		t.WorkerID = ""
	}
	if c.WorkerID != nil {
		t.WorkerID = *c.WorkerID
	}
	switch c.IncrementRetry {
	case domain.RetryAspectTask:
		t.RetryCount++
	case domain.RetryAspectText:
		t.TextRetryCount++
	case domain.RetryAspectImage:
		t.ImageRetryCount++
	}
	if c.SetStartedAt && t.StartedAt == nil {
		started := now
		t.StartedAt = &started
	}
	if c.SetCompletedAt {
		completed := now
		t.CompletedAt = &completed
	}
	if c.Patch != nil {
		c.Patch.Apply(t)
	}
	t.UpdatedAt = now
	t.Version++
}

// ClaimCriteria selects the tasks a batch claim may take.
type ClaimCriteria struct {
	WorkerID string
	Limit    int
	// StaleBefore marks running tasks whose updated_at is older than this
	// instant as abandoned and eligible for reclaim.
	StaleBefore time.Time
	Now         time.Time
}

// TaskStore is the storage-adapter contract. Adapters hold no lifecycle
// rules of their own: the queue decides which guard and changes express an
// operation, and the adapter only has to evaluate them atomically.
// Version: 1.0
type TaskStore interface {
	// Insert persists a new task. Returns ErrTaskExists if the ID is taken.
	Insert(ctx context.Context, task *domain.Task) error

	// Get returns the task with the given ID or ErrTaskNotFound.
	Get(ctx context.Context, id string) (*domain.Task, error)

	// Apply writes changes if the guard holds, as one atomic step.
	// A nil guard makes the write unconditional. ok is false, with a nil
	// error, when the task is missing or the guard rejects the write; in
	// that case nothing is written.
	Apply(ctx context.Context, id string, guard *Guard, changes Changes, now time.Time) (task *domain.Task, ok bool, err error)

	// ClaimBatch atomically moves up to criteria.Limit eligible tasks to
	// running under criteria.WorkerID and returns them. Eligible means
	// pending, or running with updated_at before criteria.StaleBefore.
	// Selection follows priority DESC, created_at ASC, id ASC.
	ClaimBatch(ctx context.Context, criteria ClaimCriteria) ([]*domain.Task, error)

	// List returns one page of tasks matching the filter, newest first.
	List(ctx context.Context, filter domain.TaskFilter, page domain.Pagination) ([]*domain.Task, error)

	// Count returns the number of tasks matching the filter.
	Count(ctx context.Context, filter domain.TaskFilter) (int, error)

	// Delete removes the task with its snapshot and result.
	// Returns false if the task did not exist.
	Delete(ctx context.Context, id string) (bool, error)

	// LatestSnapshot returns the most recent snapshot or ErrSnapshotNotFound.
	LatestSnapshot(ctx context.Context, taskID string) (*domain.StepSnapshot, error)

	// GetResult returns the stored result or ErrResultNotFound.
	GetResult(ctx context.Context, taskID string) (*domain.Result, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
