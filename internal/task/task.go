package task

import (
	"context"
	"errors"
	"time"

	"github.com/phrazzld/contentq/internal/domain"
)

// Queue is the subset of the task queue the executor runtime drives.
// *queue.Queue satisfies it.
// Version: 1.0
type Queue interface {
	// Now returns the queue clock.
	Now() time.Time

	// LeaseWindow is how long a running task may go without an update.
	LeaseWindow() time.Duration

	FindByID(ctx context.Context, id string) (*domain.Task, bool, error)
	List(ctx context.Context, filter domain.TaskFilter, page domain.Pagination) (domain.TaskPage, error)

	ClaimForProcessing(ctx context.Context, workerID string, limit int) ([]*domain.Task, error)
	ClaimTask(ctx context.Context, id, workerID string, expectedVersion int64) (*domain.Task, bool, error)

	UpdateCurrentStep(ctx context.Context, id, step string, expectedVersion int64) (*domain.Task, bool, error)
	IncrementRetryCount(ctx context.Context, id string, aspect domain.RetryAspect, expectedVersion int64) (*domain.Task, bool, error)
	CompleteWithResult(ctx context.Context, id string, expectedVersion int64, result *domain.Result) (*domain.Task, bool, error)
	MarkAsFailed(ctx context.Context, id, errorMessage string, expectedVersion int64) (*domain.Task, bool, error)
	ReleaseWorker(ctx context.Context, id, workerID string, expectedVersion int64) (*domain.Task, bool, error)

	SaveStateSnapshot(ctx context.Context, id string, snapshot domain.StepSnapshot, expectedVersion int64) (*domain.Task, bool, error)
	LoadStateSnapshot(ctx context.Context, id string) (*domain.StepSnapshot, bool, error)
}

// Outcome is how an execution ended for this worker.
type Outcome string

// Execution outcomes
const (
	// OutcomeCompleted means the result was stored and the task completed.
	OutcomeCompleted Outcome = "completed"
	// OutcomeFailed means the task was marked failed.
	OutcomeFailed Outcome = "failed"
	// OutcomeCancelled means the task was cancelled while running.
	OutcomeCancelled Outcome = "cancelled"
	// OutcomeReleased means the worker shut down and gave the task back.
	OutcomeReleased Outcome = "released"
	// OutcomeLost means another worker or an operator took the task over.
	OutcomeLost Outcome = "lost"
	// OutcomeAbandoned means a backend error stopped execution; the lease
	// will expire and another worker can reclaim the task.
	OutcomeAbandoned Outcome = "abandoned"
)

// Workflow steps recorded in current_step and snapshots.
const (
	StepDraft  = "draft"
	StepReview = "review"
)

// Errors returned by the runtime
var (
	// ErrRunnerStarted is returned by Start on a runner that is already running.
	ErrRunnerStarted = errors.New("runner already started")

	errCancelled     = errors.New("task was cancelled")
	errLostOwnership = errors.New("task is no longer owned by this worker")
	errTaskGone      = errors.New("task no longer exists")
)
