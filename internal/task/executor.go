package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/contentq/internal/domain"
	"github.com/phrazzld/contentq/internal/generation"
)

const defaultReleaseTimeout = 10 * time.Second

// ExecutorConfig tunes an Executor.
type ExecutorConfig struct {
	// MaxTextRetries bounds how many times a draft is rewritten after
	// failing review. Once exhausted the last draft is stored with its
	// failing quality report.
	MaxTextRetries int

	// LeaseRefresh is how often a long generation call refreshes the
	// task's updated_at. Zero means a third of the queue's lease window.
	LeaseRefresh time.Duration
}

// Executor runs claimed tasks through the content workflow.
type Executor struct {
	queue     Queue
	generator generation.Generator
	config    ExecutorConfig
	logger    *slog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(q Queue, gen generation.Generator, cfg ExecutorConfig, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxTextRetries < 0 {
		cfg.MaxTextRetries = 0
	}
	if cfg.LeaseRefresh <= 0 {
		cfg.LeaseRefresh = q.LeaseWindow() / 3
	}
	return &Executor{
		queue:     q,
		generator: gen,
		config:    cfg,
		logger:    logger.With("component", "executor"),
	}
}

// Execute drives task, which workerID has already claimed, until it
// completes, fails, is cancelled, or ctx ends. A cancelled ctx releases the
// task back to pending. The returned error is non-nil only for backend
// faults that left the task running.
func (e *Executor) Execute(ctx context.Context, workerID string, task *domain.Task) (Outcome, error) {
	r := &run{
		exec:     e,
		workerID: workerID,
		cur:      task.Clone(),
		log:      e.logger.With("task_id", task.ID, "worker_id", workerID),
	}
	r.log.InfoContext(ctx, "executing task", "version", task.Version, "priority", task.Priority)

	outcome, err := r.execute(ctx)
	if err != nil {
		outcome, err = r.abort(ctx, err)
	}
	r.log.InfoContext(ctx, "task execution finished", "outcome", outcome)
	return outcome, err
}

// run is the state of one execution. mu guards cur, whose version is the
// expected version of the next write.
type run struct {
	exec     *Executor
	workerID string
	log      *slog.Logger

	mu  sync.Mutex
	cur *domain.Task
}

func (r *run) execute(ctx context.Context) (Outcome, error) {
	st, err := r.resume(ctx)
	if err != nil {
		return "", err
	}

	for {
		if st.Draft == "" {
			if err := r.step(ctx, StepDraft); err != nil {
				return "", err
			}
			draft, err := r.generate(ctx, st)
			if err != nil {
				return "", err
			}
			st.Step = StepDraft
			st.Draft = draft
			if err := r.saveState(ctx, st); err != nil {
				return "", err
			}
		}

		if err := r.step(ctx, StepReview); err != nil {
			return "", err
		}
		report := Review(st.Draft, r.task().HardConstraints)
		st.Step = StepReview
		st.Quality = &report
		if err := r.saveState(ctx, st); err != nil {
			return "", err
		}

		if report.Passed || st.Attempt > r.exec.config.MaxTextRetries {
			if !report.Passed {
				r.log.WarnContext(ctx, "text retries exhausted, storing last draft",
					"attempt", st.Attempt,
					"score", report.Score)
			}
			return r.complete(ctx, st)
		}

		r.log.InfoContext(ctx, "draft failed review, rewriting",
			"attempt", st.Attempt,
			"notes", report.Notes)
		if err := r.mutate(ctx, func(ctx context.Context, t *domain.Task) (*domain.Task, bool, error) {
			return r.exec.queue.IncrementRetryCount(ctx, t.ID, domain.RetryAspectText, t.Version)
		}); err != nil {
			return "", err
		}
		st = st.rewrite()
		if err := r.saveState(ctx, st); err != nil {
			return "", err
		}
	}
}

// resume loads the latest snapshot. A missing or unreadable snapshot
// starts the workflow from the first draft.
func (r *run) resume(ctx context.Context) (workflowState, error) {
	snap, found, err := r.exec.queue.LoadStateSnapshot(ctx, r.task().ID)
	if err != nil {
		return workflowState{}, err
	}
	if !found {
		return initialState(), nil
	}
	st, err := decodeState(snap)
	if err != nil {
		r.log.WarnContext(ctx, "ignoring unreadable snapshot", "error", err)
		return initialState(), nil
	}
	r.log.InfoContext(ctx, "resuming from snapshot", "step", st.Step, "attempt", st.Attempt)
	return st, nil
}

// step re-reads the task, stopping if it was cancelled or taken over, and
// records the step.
func (r *run) step(ctx context.Context, step string) error {
	if err := r.checkpoint(ctx); err != nil {
		return err
	}
	return r.mutate(ctx, func(ctx context.Context, t *domain.Task) (*domain.Task, bool, error) {
		return r.exec.queue.UpdateCurrentStep(ctx, t.ID, step, t.Version)
	})
}

func (r *run) saveState(ctx context.Context, st workflowState) error {
	snap, err := st.snapshot()
	if err != nil {
		return err
	}
	return r.mutate(ctx, func(ctx context.Context, t *domain.Task) (*domain.Task, bool, error) {
		return r.exec.queue.SaveStateSnapshot(ctx, t.ID, snap, t.Version)
	})
}

// generate calls the generator while a background loop keeps the lease
// fresh. The call is cut short if that loop finds the task cancelled.
func (r *run) generate(ctx context.Context, st workflowState) (string, error) {
	genCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	stop := r.keepLease(genCtx, cancel)
	draft, err := r.exec.generator.Generate(genCtx, st.request(r.task()))
	stop()

	if cause := context.Cause(genCtx); cause != nil && !errors.Is(cause, context.Canceled) && ctx.Err() == nil {
		return "", cause
	}
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &generationError{err: err}
	}
	return draft, nil
}

func (r *run) keepLease(ctx context.Context, cancel context.CancelCauseFunc) (stop func()) {
	ctx, stopLoop := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(r.exec.config.LeaseRefresh)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := r.mutate(ctx, func(ctx context.Context, t *domain.Task) (*domain.Task, bool, error) {
					return r.exec.queue.UpdateCurrentStep(ctx, t.ID, StepDraft, t.Version)
				})
				if err == nil {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				r.log.WarnContext(ctx, "lease refresh stopped", "error", err)
				if isStop(err) {
					cancel(err)
				}
				return
			}
		}
	}()

	return func() {
		stopLoop()
		<-done
	}
}

func (r *run) complete(ctx context.Context, st workflowState) (Outcome, error) {
	result := &domain.Result{Content: st.Draft}
	if st.Quality != nil {
		result.Quality = *st.Quality
	}
	if err := r.mutate(ctx, func(ctx context.Context, t *domain.Task) (*domain.Task, bool, error) {
		return r.exec.queue.CompleteWithResult(ctx, t.ID, t.Version, result)
	}); err != nil {
		return "", err
	}
	return OutcomeCompleted, nil
}

// abort settles an execution that stopped early.
func (r *run) abort(ctx context.Context, cause error) (Outcome, error) {
	var genErr *generationError
	switch {
	case errors.Is(cause, errCancelled):
		r.log.InfoContext(ctx, "task cancelled during execution")
		return OutcomeCancelled, nil

	case errors.Is(cause, errLostOwnership), errors.Is(cause, errTaskGone):
		r.log.WarnContext(ctx, "stopped executing task", "reason", cause)
		return OutcomeLost, nil

	case ctx.Err() != nil:
		return r.release(ctx)

	case errors.As(cause, &genErr):
		msg := fmt.Sprintf("generation failed: %v", genErr.err)
		err := r.mutate(ctx, func(ctx context.Context, t *domain.Task) (*domain.Task, bool, error) {
			return r.exec.queue.MarkAsFailed(ctx, t.ID, msg, t.Version)
		})
		if err != nil {
			return r.abort(ctx, err)
		}
		return OutcomeFailed, nil

	default:
		r.log.ErrorContext(ctx, "task execution abandoned", "error", cause)
		return OutcomeAbandoned, cause
	}
}

// release hands the task back after shutdown, on a context that outlives
// the cancelled one.
func (r *run) release(ctx context.Context) (Outcome, error) {
	relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultReleaseTimeout)
	defer cancel()

	err := r.mutate(relCtx, func(ctx context.Context, t *domain.Task) (*domain.Task, bool, error) {
		return r.exec.queue.ReleaseWorker(ctx, t.ID, r.workerID, t.Version)
	})
	switch {
	case err == nil:
		r.log.InfoContext(relCtx, "released task on shutdown")
		return OutcomeReleased, nil
	case isStop(err):
		return r.abort(relCtx, err)
	default:
		r.log.ErrorContext(relCtx, "failed to release task on shutdown", "error", err)
		return OutcomeAbandoned, err
	}
}

// mutate applies op at the current version. On a lost race the task is
// re-read and, if this worker still owns it, op is tried once more.
func (r *run) mutate(ctx context.Context, op func(ctx context.Context, t *domain.Task) (*domain.Task, bool, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for attempt := 0; attempt < 2; attempt++ {
		next, ok, err := op(ctx, r.cur)
		if err != nil {
			return err
		}
		if ok {
			r.cur = next
			return nil
		}
		if err := r.refreshLocked(ctx); err != nil {
			return err
		}
	}
	return errLostOwnership
}

func (r *run) checkpoint(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refreshLocked(ctx)
}

func (r *run) refreshLocked(ctx context.Context) error {
	fresh, found, err := r.exec.queue.FindByID(ctx, r.cur.ID)
	if err != nil {
		return err
	}
	switch {
	case !found:
		return errTaskGone
	case fresh.Status == domain.TaskStatusCancelled:
		return errCancelled
	case fresh.Status != domain.TaskStatusRunning || fresh.WorkerID != r.workerID:
		return errLostOwnership
	}
	r.cur = fresh
	return nil
}

func (r *run) task() *domain.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cur.Clone()
}

// generationError marks a generator failure, which fails the task.
type generationError struct {
	err error
}

func (e *generationError) Error() string { return e.err.Error() }
func (e *generationError) Unwrap() error { return e.err }

func isStop(err error) bool {
	return errors.Is(err, errCancelled) || errors.Is(err, errLostOwnership) || errors.Is(err, errTaskGone)
}
