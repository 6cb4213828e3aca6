package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/contentq/internal/domain"
	"github.com/phrazzld/contentq/internal/events"
	"github.com/phrazzld/contentq/internal/store"
)

// Queue is the task engine. It is safe for concurrent use; all cross-worker
// exclusion is delegated to the store's conditional writes.
type Queue struct {
	store       store.TaskStore
	leaseWindow time.Duration
	now         func() time.Time
	newID       func() string
	emitter     events.EventEmitter
	metrics     *Metrics
	logger      *slog.Logger
}

// New creates a Queue over s.
func New(s store.TaskStore, opts ...Option) *Queue {
	q := &Queue{
		store:       s,
		leaseWindow: DefaultLeaseWindow,
		now:         time.Now,
		newID:       defaultIDGenerator,
		emitter:     events.Discard,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = q.logger.With("component", "queue")
	return q
}

// LeaseWindow returns the configured staleness window.
func (q *Queue) LeaseWindow() time.Duration {
	return q.leaseWindow
}

// Now returns the queue clock, in UTC at microsecond precision so that every
// backend stores and returns identical timestamps.
func (q *Queue) Now() time.Time {
	return q.now().UTC().Truncate(time.Microsecond)
}

// apply runs one guarded write and reports it.
func (q *Queue) apply(
	ctx context.Context,
	op string,
	id string,
	guard *store.Guard,
	changes store.Changes,
	eventType events.EventType,
	detail string,
) (*domain.Task, bool, error) {
	if id == "" {
		return nil, false, nil
	}

	now := q.Now()
	task, ok, err := q.store.Apply(ctx, id, guard, changes, now)
	if err != nil {
		q.metrics.observe(op, outcomeError)
		q.logger.ErrorContext(ctx, "task write failed",
			"operation", op,
			"task_id", id,
			"error", err)
		return nil, false, fmt.Errorf("%s task %s: %w", op, id, err)
	}
	if !ok {
		q.metrics.observe(op, outcomeRejected)
		q.logger.DebugContext(ctx, "task write rejected",
			"operation", op,
			"task_id", id,
			"expected_version", guardVersion(guard))
		return nil, false, nil
	}

	q.metrics.observe(op, outcomeApplied)
	if changes.Status != nil {
		q.metrics.transition(*changes.Status)
	}
	q.emit(ctx, events.NewTaskEvent(eventType, id, task, now).WithDetail(detail))
	return task, true, nil
}

// emit publishes ev. Handler failures are logged and never undo a write
// that has already been committed.
func (q *Queue) emit(ctx context.Context, ev *events.TaskEvent) {
	if err := q.emitter.EmitEvent(ctx, ev); err != nil {
		q.logger.WarnContext(ctx, "event handler failed",
			"event_type", ev.Type,
			"task_id", ev.TaskID,
			"error", err)
	}
}

func guardVersion(g *store.Guard) int64 {
	if g == nil {
		return 0
	}
	return g.ExpectedVersion
}

func ptr[T any](v T) *T {
	return &v
}
