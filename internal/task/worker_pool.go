package task

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/phrazzld/contentq/internal/domain"
)

// handlerFunc executes one dispatched task.
type handlerFunc func(ctx context.Context, t *domain.Task)

// WorkerPool manages a fixed set of goroutines that execute tasks from the
// dispatch queue. It tracks how many slots are busy so the claim loop never
// claims more than it can start.
type WorkerPool struct {
	queue       *dispatchQueue
	workerCount int
	handle      handlerFunc

	// inflight counts tasks claimed for this pool and not yet finished,
	// including those still waiting in the queue.
	inflight atomic.Int64

	// freed receives a signal whenever a slot opens up.
	freed chan struct{}

	wg     sync.WaitGroup
	logger *slog.Logger
}

// WorkerPoolConfig holds configuration options for the worker pool
type WorkerPoolConfig struct {
	// WorkerCount determines how many concurrent worker goroutines to start
	// If zero or negative, defaults to 1
	WorkerCount int
}

func newWorkerPool(cfg WorkerPoolConfig, handle handlerFunc, logger *slog.Logger) *WorkerPool {
	workerCount := cfg.WorkerCount
	if workerCount <= 0 {
		logger.Warn("invalid worker count specified, using default",
			"specified_count", cfg.WorkerCount,
			"default_count", 1)
		workerCount = 1
	}
	return &WorkerPool{
		queue:       newDispatchQueue(workerCount, logger),
		workerCount: workerCount,
		handle:      handle,
		freed:       make(chan struct{}, 1),
		logger:      logger,
	}
}

// Start launches the workers. They exit when ctx is done or the queue closes.
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Free reports how many more tasks the pool can accept.
func (p *WorkerPool) Free() int {
	free := p.workerCount - int(p.inflight.Load())
	if free < 0 {
		return 0
	}
	return free
}

// Freed signals when a slot opens.
func (p *WorkerPool) Freed() <-chan struct{} {
	return p.freed
}

// Submit hands a claimed task to the pool.
func (p *WorkerPool) Submit(t *domain.Task) error {
	p.inflight.Add(1)
	if err := p.queue.Enqueue(t); err != nil {
		p.inflight.Add(-1)
		return err
	}
	return nil
}

// Stop closes the queue, waits for running tasks and returns any task that
// was dispatched but never started.
func (p *WorkerPool) Stop() []*domain.Task {
	left := p.queue.Close()
	p.inflight.Add(-int64(len(left)))
	p.wg.Wait()
	return left
}

func (p *WorkerPool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	p.logger.Debug("starting pool worker", "slot", id)
	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("stopping pool worker", "slot", id)
			return
		case t, ok := <-p.queue.Channel():
			if !ok {
				p.logger.Debug("dispatch queue closed, stopping pool worker", "slot", id)
				return
			}
			p.handle(ctx, t)
			p.inflight.Add(-1)
			select {
			case p.freed <- struct{}{}:
			default:
			}
		}
	}
}
