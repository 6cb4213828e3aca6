package queue

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/contentq/internal/events"
)

// DefaultLeaseWindow is how long a running task may go without a lifecycle
// update before another worker may reclaim it.
const DefaultLeaseWindow = 5 * time.Minute

// Option configures a Queue.
type Option func(*Queue)

// WithLeaseWindow overrides DefaultLeaseWindow.
func WithLeaseWindow(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.leaseWindow = d
		}
	}
}

// WithClock sets the time source. Tests use it to step past the lease window.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// WithIDGenerator sets how IDs are generated for tasks created without one.
func WithIDGenerator(gen func() string) Option {
	return func(q *Queue) {
		if gen != nil {
			q.newID = gen
		}
	}
}

// WithEmitter sets the lifecycle event emitter.
func WithEmitter(e events.EventEmitter) Option {
	return func(q *Queue) {
		if e != nil {
			q.emitter = e
		}
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(q *Queue) {
		q.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

func defaultIDGenerator() string {
	return uuid.NewString()
}
