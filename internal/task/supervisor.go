package task

import (
	"context"
	"log/slog"
	"time"

	"github.com/phrazzld/contentq/internal/domain"
)

// Supervisor releases running tasks whose owner stopped beating, so they
// are claimable again before the lease window would expire.
type Supervisor struct {
	queue    Queue
	liveness Liveness
	interval time.Duration
	logger   *slog.Logger
}

// NewSupervisor creates a Supervisor that sweeps every interval.
func NewSupervisor(q Queue, liveness Liveness, interval time.Duration, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Supervisor{
		queue:    q,
		liveness: liveness,
		interval: interval,
		logger:   logger.With("component", "supervisor"),
	}
}

// Run sweeps until ctx is done.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "supervisor started", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "supervisor stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep releases every running task held by a dead worker and returns how
// many were released. A task that changed since it was listed is skipped.
func (s *Supervisor) Sweep(ctx context.Context) (int, error) {
	running, err := listAll(ctx, s.queue, domain.TaskFilter{Status: domain.TaskStatusRunning})
	if err != nil {
		return 0, err
	}

	alive := make(map[string]bool)
	released := 0
	for _, t := range running {
		ok, seen := alive[t.WorkerID]
		if !seen {
			ok, err = s.liveness.Alive(ctx, t.WorkerID)
			if err != nil {
				return released, err
			}
			alive[t.WorkerID] = ok
		}
		if ok {
			continue
		}

		_, done, err := s.queue.ReleaseWorker(ctx, t.ID, t.WorkerID, t.Version)
		if err != nil {
			return released, err
		}
		if !done {
			s.logger.DebugContext(ctx, "task changed before release", "task_id", t.ID)
			continue
		}
		released++
		s.logger.InfoContext(ctx, "released task from dead worker",
			"task_id", t.ID,
			"worker_id", t.WorkerID)
	}

	if released > 0 {
		s.logger.InfoContext(ctx, "sweep finished", "running", len(running), "released", released)
	}
	return released, nil
}
