package task

import (
	"context"
	"sync"
	"time"
)

// Liveness records which workers are alive. Workers beat periodically;
// the supervisor releases tasks held by workers whose beat has expired.
type Liveness interface {
	Beat(ctx context.Context, workerID string, ttl time.Duration) error
	Alive(ctx context.Context, workerID string) (bool, error)
	Remove(ctx context.Context, workerID string) error
}

// LocalLiveness is a process-local Liveness for tests and single-process
// deployments.
type LocalLiveness struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

// NewLocalLiveness creates a LocalLiveness. A nil clock uses time.Now.
func NewLocalLiveness(now func() time.Time) *LocalLiveness {
	if now == nil {
		now = time.Now
	}
	return &LocalLiveness{expires: make(map[string]time.Time), now: now}
}

// Beat implements Liveness.
func (l *LocalLiveness) Beat(_ context.Context, workerID string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.expires[workerID] = l.now().Add(ttl)
	return nil
}

// Alive implements Liveness.
func (l *LocalLiveness) Alive(_ context.Context, workerID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	exp, ok := l.expires[workerID]
	return ok && l.now().Before(exp), nil
}

// Remove implements Liveness.
func (l *LocalLiveness) Remove(_ context.Context, workerID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.expires, workerID)
	return nil
}
