package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/contentq/internal/domain"
	"github.com/phrazzld/contentq/internal/store"
)

// InlineConfig configures an InlineRunner.
type InlineConfig struct {
	// WorkerID owns every task the runner claims. Empty generates one.
	WorkerID string

	// HeartbeatTTL is how long a liveness beat stays valid while a task
	// executes. Beats are sent every third of it.
	HeartbeatTTL time.Duration
}

// InlineRunner executes a single task in the caller's goroutine. It is
// used for inline-mode tasks and for the CLI's foreground runs. While it
// holds a task it beats under its worker ID, so a supervisor sharing the
// same Liveness leaves the task alone.
type InlineRunner struct {
	queue    Queue
	executor *Executor
	liveness Liveness
	config   InlineConfig
	poll     time.Duration
	logger   *slog.Logger

	// active counts runs holding a task; the liveness entry is removed
	// when the last one finishes.
	mu     sync.Mutex
	active int
}

// NewInlineRunner creates an InlineRunner. A nil liveness keeps beats
// process-local.
func NewInlineRunner(q Queue, exec *Executor, liveness Liveness, cfg InlineConfig, logger *slog.Logger) *InlineRunner {
	if logger == nil {
		logger = slog.Default()
	}
	if liveness == nil {
		liveness = NewLocalLiveness(time.Now)
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = NewWorkerID()
	}
	if cfg.HeartbeatTTL <= 0 {
		cfg.HeartbeatTTL = DefaultRunnerConfig().HeartbeatTTL
	}
	return &InlineRunner{
		queue:    q,
		executor: exec,
		liveness: liveness,
		config:   cfg,
		poll:     time.Second,
		logger:   logger.With("component", "inline_runner", "worker_id", cfg.WorkerID),
	}
}

// WorkerID returns the identity tasks are claimed under.
func (r *InlineRunner) WorkerID() string {
	return r.config.WorkerID
}

// Run claims the task and executes it to the end. If another worker holds
// it, Run waits for that worker to finish instead. It returns the final
// task state.
func (r *InlineRunner) Run(ctx context.Context, id string) (*domain.Task, error) {
	t, found, err := r.queue.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", store.ErrTaskNotFound, id)
	}
	if t.IsTerminal() {
		return t, nil
	}

	if t.Status == domain.TaskStatusPending {
		executed, err := r.claimAndExecute(ctx, t)
		if err != nil {
			return nil, err
		}
		if !executed {
			r.logger.InfoContext(ctx, "task claimed elsewhere, waiting", "task_id", id)
		}
	}

	return r.wait(ctx, id)
}

// claimAndExecute claims t and runs it while beating. It reports false when
// the claim was lost.
func (r *InlineRunner) claimAndExecute(ctx context.Context, t *domain.Task) (bool, error) {
	if err := r.acquire(ctx); err != nil {
		return false, err
	}
	defer r.release(context.WithoutCancel(ctx))

	claimed, ok, err := r.queue.ClaimTask(ctx, t.ID, r.config.WorkerID, t.Version)
	if err != nil || !ok {
		return false, err
	}

	beatCtx, stopBeats := context.WithCancel(ctx)
	var beats sync.WaitGroup
	beats.Add(1)
	go func() {
		defer beats.Done()
		r.heartbeatLoop(beatCtx)
	}()
	outcome, err := r.executor.Execute(ctx, r.config.WorkerID, claimed)
	stopBeats()
	beats.Wait()
	if err != nil {
		return true, err
	}

	r.logger.InfoContext(ctx, "inline run finished", "task_id", t.ID, "outcome", outcome)
	if outcome == OutcomeReleased {
		return true, ctx.Err()
	}
	return true, nil
}

// acquire registers a run and beats before anything is claimed.
func (r *InlineRunner) acquire(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.liveness.Beat(ctx, r.config.WorkerID, r.config.HeartbeatTTL); err != nil {
		return fmt.Errorf("failed to register inline worker %s: %w", r.config.WorkerID, err)
	}
	r.active++
	return nil
}

// release drops the liveness entry once no run holds a task.
func (r *InlineRunner) release(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active--
	if r.active > 0 {
		return
	}
	if err := r.liveness.Remove(ctx, r.config.WorkerID); err != nil {
		r.logger.WarnContext(ctx, "failed to remove liveness entry", "error", err)
	}
}

func (r *InlineRunner) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(r.config.HeartbeatTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.liveness.Beat(ctx, r.config.WorkerID, r.config.HeartbeatTTL); err != nil && ctx.Err() == nil {
				r.logger.WarnContext(ctx, "heartbeat failed", "error", err)
			}
		}
	}
}

// wait polls until the task is terminal.
func (r *InlineRunner) wait(ctx context.Context, id string) (*domain.Task, error) {
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()
	for {
		t, found, err := r.queue.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("%w: %s", store.ErrTaskNotFound, id)
		}
		if t.IsTerminal() {
			return t, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
