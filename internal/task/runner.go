package task

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/contentq/internal/backoff"
	"github.com/phrazzld/contentq/internal/domain"
	"github.com/phrazzld/contentq/internal/store"
)

// RunnerConfig holds configuration for the task runner
type RunnerConfig struct {
	// WorkerID identifies this process as the owner of claimed tasks.
	WorkerID string

	// WorkerCount determines how many tasks execute concurrently
	WorkerCount int

	// BatchSize caps how many tasks one claim call may take.
	BatchSize int

	// PollInterval is the first idle delay; it doubles up to MaxPollInterval
	// while no work is found.
	PollInterval    time.Duration
	MaxPollInterval time.Duration

	// HeartbeatTTL is how long a liveness beat stays valid. Beats are sent
	// every third of it.
	HeartbeatTTL time.Duration
}

// DefaultRunnerConfig returns a RunnerConfig with reasonable defaults
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		WorkerCount:     2,
		BatchSize:       10,
		PollInterval:    time.Second,
		MaxPollInterval: 30 * time.Second,
		HeartbeatTTL:    30 * time.Second,
	}
}

// Runner claims pending and stale tasks and executes them on a worker pool.
type Runner struct {
	queue    Queue
	executor *Executor
	liveness Liveness
	config   RunnerConfig
	logger   *slog.Logger

	pool *WorkerPool
	wake chan struct{}

	mu      sync.Mutex
	cancel  context.CancelFunc
	loops   sync.WaitGroup
	started bool
}

// NewRunner creates a Runner. liveness may be nil when no supervisor
// watches this worker.
func NewRunner(q Queue, exec *Executor, liveness Liveness, cfg RunnerConfig, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultRunnerConfig()
	if cfg.WorkerID == "" {
		cfg.WorkerID = NewWorkerID()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxPollInterval < cfg.PollInterval {
		cfg.MaxPollInterval = cfg.PollInterval
	}
	if cfg.HeartbeatTTL <= 0 {
		cfg.HeartbeatTTL = def.HeartbeatTTL
	}

	r := &Runner{
		queue:    q,
		executor: exec,
		liveness: liveness,
		config:   cfg,
		logger:   logger.With("component", "task_runner", "worker_id", cfg.WorkerID),
		wake:     make(chan struct{}, 1),
	}
	r.pool = newWorkerPool(WorkerPoolConfig{WorkerCount: cfg.WorkerCount}, r.process, r.logger)
	return r
}

// NewWorkerID returns "<hostname>-<random>", unique per process start.
func NewWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + "-" + uuid.NewString()[:8]
}

// WorkerID returns the identity this runner claims tasks under.
func (r *Runner) WorkerID() string {
	return r.config.WorkerID
}

// Notify wakes the claim loop early. It never blocks.
func (r *Runner) Notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Start recovers tasks left running by a previous incarnation of this
// worker, then begins claiming and executing tasks. A stopped Runner
// cannot be started again.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.cancel != nil {
		return ErrRunnerStarted
	}

	if err := r.Recover(ctx); err != nil {
		return fmt.Errorf("failed to recover tasks: %w", err)
	}
	if r.liveness != nil {
		if err := r.liveness.Beat(ctx, r.config.WorkerID, r.config.HeartbeatTTL); err != nil {
			return fmt.Errorf("failed to register worker: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.started = true

	r.pool.Start(runCtx)
	r.loops.Add(1)
	go r.claimLoop(runCtx)
	if r.liveness != nil {
		r.loops.Add(1)
		go r.heartbeatLoop(runCtx)
	}

	r.logger.InfoContext(ctx, "task runner started",
		"worker_count", r.pool.workerCount,
		"batch_size", r.config.BatchSize)
	return nil
}

// Stop cancels running executions, which release their tasks, and waits
// for the workers to finish. Tasks claimed but not yet started are
// released too. ctx bounds the cleanup writes.
func (r *Runner) Stop(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return
	}
	r.started = false

	r.cancel()
	r.loops.Wait()
	for _, t := range r.pool.Stop() {
		r.releaseTask(ctx, t)
	}

	if r.liveness != nil {
		if err := r.liveness.Remove(ctx, r.config.WorkerID); err != nil {
			r.logger.WarnContext(ctx, "failed to remove liveness entry", "error", err)
		}
	}
	r.logger.InfoContext(ctx, "task runner stopped")
}

// Recover releases tasks still marked running under this worker ID. They
// belong to a previous process that used the same identity and died.
func (r *Runner) Recover(ctx context.Context) error {
	stuck, err := listAll(ctx, r.queue, domain.TaskFilter{
		Status:   domain.TaskStatusRunning,
		WorkerID: r.config.WorkerID,
	})
	if err != nil {
		return err
	}
	if len(stuck) == 0 {
		return nil
	}

	r.logger.InfoContext(ctx, "recovering tasks from previous run", "count", len(stuck))
	for _, t := range stuck {
		r.releaseTask(ctx, t)
	}
	return nil
}

func (r *Runner) releaseTask(ctx context.Context, t *domain.Task) {
	_, ok, err := r.queue.ReleaseWorker(ctx, t.ID, r.config.WorkerID, t.Version)
	switch {
	case err != nil:
		r.logger.ErrorContext(ctx, "failed to release task", "task_id", t.ID, "error", err)
	case !ok:
		r.logger.DebugContext(ctx, "task changed before release", "task_id", t.ID)
	default:
		r.logger.InfoContext(ctx, "released task", "task_id", t.ID)
	}
}

// claimLoop claims as many tasks as the pool has free slots. It backs off
// while idle and wakes early on Notify or when a slot frees up.
func (r *Runner) claimLoop(ctx context.Context) {
	defer r.loops.Done()

	poller := backoff.Poller{Base: r.config.PollInterval, Max: r.config.MaxPollInterval}
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-r.wake:
		case <-r.pool.Freed():
		}

		delay := r.poll(ctx, &poller)
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(delay)
	}
}

// poll makes one claim pass and returns how long to wait before the next.
func (r *Runner) poll(ctx context.Context, poller *backoff.Poller) time.Duration {
	free := min(r.pool.Free(), r.config.BatchSize)
	if free == 0 {
		// Freed() will wake the loop; the timer is a fallback.
		return r.config.MaxPollInterval
	}

	tasks, err := r.queue.ClaimForProcessing(ctx, r.config.WorkerID, free)
	if err != nil {
		switch {
		case ctx.Err() != nil:
		case store.IsRetryableError(err):
			r.logger.WarnContext(ctx, "store busy, retrying claim", "error", err)
			return r.config.PollInterval
		default:
			r.logger.ErrorContext(ctx, "claim failed", "error", err)
		}
		return poller.Idle()
	}
	if len(tasks) == 0 {
		return poller.Idle()
	}

	poller.Reset()
	for _, t := range tasks {
		if err := r.pool.Submit(t); err != nil {
			r.logger.WarnContext(ctx, "could not dispatch claimed task", "task_id", t.ID, "error", err)
			r.releaseTask(context.WithoutCancel(ctx), t)
		}
	}
	r.logger.DebugContext(ctx, "claimed tasks", "count", len(tasks))
	return r.config.PollInterval
}

func (r *Runner) heartbeatLoop(ctx context.Context) {
	defer r.loops.Done()

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

func (r *Runner) process(ctx context.Context, t *domain.Task) {
	outcome, err := r.executor.Execute(ctx, r.config.WorkerID, t)
	if err != nil {
		r.logger.ErrorContext(ctx, "task execution error",
			"task_id", t.ID,
			"outcome", outcome,
			"error", err)
	}
}

// listAll collects every task matching filter. Callers mutate the
// results, so all pages are read before returning.
func listAll(ctx context.Context, q Queue, filter domain.TaskFilter) ([]*domain.Task, error) {
	var all []*domain.Task
	page := domain.Pagination{Limit: domain.MaxPageLimit}
	for {
		res, err := q.List(ctx, filter, page)
		if err != nil {
			return nil, fmt.Errorf("failed to list tasks: %w", err)
		}
		all = append(all, res.Items...)
		if len(res.Items) < page.Limit || len(all) >= res.Total {
			return all, nil
		}
		page.Offset += page.Limit
	}
}
