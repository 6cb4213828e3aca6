package task

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/phrazzld/contentq/internal/domain"
)

// Common errors returned by the dispatch queue
var (
	ErrQueueClosed = errors.New("dispatch queue is closed")
	ErrQueueFull   = errors.New("dispatch queue is full")
)

// dispatchQueue hands claimed tasks from the claim loop to pool workers.
// Every task in it is already running under this process's worker ID.
type dispatchQueue struct {
	mu     sync.Mutex
	tasks  chan *domain.Task
	logger *slog.Logger
	closed bool
}

func newDispatchQueue(size int, logger *slog.Logger) *dispatchQueue {
	if size <= 0 {
		size = 1
	}
	return &dispatchQueue{
		tasks:  make(chan *domain.Task, size),
		logger: logger,
	}
}

// Enqueue adds a claimed task without blocking.
func (q *dispatchQueue) Enqueue(t *domain.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.tasks <- t:
		q.logger.Debug("task dispatched",
			"task_id", t.ID,
			"queue_len", len(q.tasks),
			"queue_cap", cap(q.tasks))
		return nil
	default:
		return fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, cap(q.tasks))
	}
}

// Close stops further dispatch and returns the tasks nobody picked up.
func (q *dispatchQueue) Close() []*domain.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	close(q.tasks)

	var left []*domain.Task
	for t := range q.tasks {
		left = append(left, t)
	}
	if len(left) > 0 {
		q.logger.Info("dispatch queue closed with undelivered tasks", "count", len(left))
	}
	return left
}

// Channel returns the receive side for workers.
func (q *dispatchQueue) Channel() <-chan *domain.Task {
	return q.tasks
}
