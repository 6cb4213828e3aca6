package task

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/contentq/internal/domain"
	"github.com/phrazzld/contentq/internal/events"
	"github.com/phrazzld/contentq/internal/generation"
	"github.com/phrazzld/contentq/internal/platform/logger"
	"github.com/phrazzld/contentq/internal/backoff"
	"github.com/phrazzld/contentq/internal/queue"
	"github.com/phrazzld/contentq/internal/store"
)

func newTestRunner(env *testEnv, gen generation.Generator, liveness Liveness, cfg RunnerConfig) *Runner {
	_, log := logger.NewCapture()
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Millisecond
		cfg.MaxPollInterval = 20 * time.Millisecond
	}
	if cfg.WorkerCount == 0 {
		cfg.WorkerCount = 2
	}
	return NewRunner(env.queue, env.executor(gen, ExecutorConfig{}), liveness, cfg, log)
}

func waitForStatus(t *testing.T, env *testEnv, id string, status domain.TaskStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		return env.get(t, id).Status == status
	}, 5*time.Second, 5*time.Millisecond, "task %s never reached %s", id, status)
}

func TestRunner_ProcessesPendingTasks(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		ids = append(ids, env.create(t, 0).ID)
	}

	var active, peak atomic.Int32
	gen := generation.GeneratorFunc(func(context.Context, generation.Request) (string, error) {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return "done", nil
	})

	r := newTestRunner(env, gen, nil, RunnerConfig{WorkerCount: 2, BatchSize: 10})
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop(context.Background())

	for _, id := range ids {
		waitForStatus(t, env, id, domain.TaskStatusCompleted)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRunner_StartTwice(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	r := newTestRunner(env, &scriptedGenerator{drafts: []string{"x"}}, nil, RunnerConfig{})
	require.NoError(t, r.Start(context.Background()))
	assert.ErrorIs(t, r.Start(context.Background()), ErrRunnerStarted)

	r.Stop(context.Background())
	assert.ErrorIs(t, r.Start(context.Background()), ErrRunnerStarted)
}

func TestRunner_RecoversOwnTasksOnStart(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	created := env.create(t, 0)
	env.claim(t, created.ID, "fixed-worker")

	r := newTestRunner(env, &scriptedGenerator{drafts: []string{"recovered"}}, nil, RunnerConfig{WorkerID: "fixed-worker"})
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop(context.Background())

	waitForStatus(t, env, created.ID, domain.TaskStatusCompleted)
}

func TestRunner_StopReleasesInFlightTasks(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	created := env.create(t, 0)

	gen := generation.GeneratorFunc(func(ctx context.Context, _ generation.Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	liveness := NewLocalLiveness(nil)
	r := newTestRunner(env, gen, liveness, RunnerConfig{WorkerID: "w1", HeartbeatTTL: time.Minute})
	require.NoError(t, r.Start(context.Background()))

	alive, err := liveness.Alive(context.Background(), "w1")
	require.NoError(t, err)
	assert.True(t, alive)

	require.Eventually(t, func() bool {
		return env.get(t, created.ID).CurrentStep == StepDraft
	}, 5*time.Second, 5*time.Millisecond)

	r.Stop(context.Background())

	final := env.get(t, created.ID)
	assert.Equal(t, domain.TaskStatusPending, final.Status)
	assert.Empty(t, final.WorkerID)

	alive, err = liveness.Alive(context.Background(), "w1")
	require.NoError(t, err)
	assert.False(t, alive)
}

func TestRunner_WakesOnCreateEvent(t *testing.T) {
	t.Parallel()

	_, log := logger.NewCapture()
	emitter := events.NewInMemoryEventEmitter(log)
	env := newTestEnv(t, queue.WithEmitter(emitter))

	r := newTestRunner(env, &scriptedGenerator{drafts: []string{"woken"}}, nil, RunnerConfig{
		PollInterval:    time.Hour,
		MaxPollInterval: time.Hour,
	})
	emitter.RegisterHandler(NewWakeupHandler(r, log))

	require.NoError(t, r.Start(context.Background()))
	defer r.Stop(context.Background())

	// Let the first empty poll pass so the loop is waiting on its long timer.
	time.Sleep(20 * time.Millisecond)

	created := env.create(t, 0)
	waitForStatus(t, env, created.ID, domain.TaskStatusCompleted)
}

func TestNewWorkerID(t *testing.T) {
	t.Parallel()

	a, b := NewWorkerID(), NewWorkerID()
	assert.NotEqual(t, a, b)
	assert.NotEmpty(t, a)
}

// faultyClaimQueue fails every batch claim with err.
type faultyClaimQueue struct {
	Queue
	err error
}

func (q faultyClaimQueue) ClaimForProcessing(context.Context, string, int) ([]*domain.Task, error) {
	return nil, q.err
}

func TestRunner_PollRetriesBusyStore(t *testing.T) {
	env := newTestEnv(t)
	cfg := RunnerConfig{
		WorkerID:        "w1",
		PollInterval:    5 * time.Millisecond,
		MaxPollInterval: time.Second,
	}

	logs, log := logger.NewCapture()
	busy := faultyClaimQueue{Queue: env.queue, err: fmt.Errorf("%w: database is locked", store.ErrRetryable)}
	r := NewRunner(busy, env.executor(&scriptedGenerator{}, ExecutorConfig{}), nil, cfg, log)
	poller := backoff.Poller{Base: cfg.PollInterval, Max: cfg.MaxPollInterval}

	for range 3 {
		assert.Equal(t, cfg.PollInterval, r.poll(context.Background(), &poller), "busy store retries at the poll interval")
	}
	assert.Contains(t, logs.String(), "store busy, retrying claim")
	assert.NotContains(t, logs.String(), "claim failed")

	logs, log = logger.NewCapture()
	broken := faultyClaimQueue{Queue: env.queue, err: errors.New("connection refused")}
	r = NewRunner(broken, env.executor(&scriptedGenerator{}, ExecutorConfig{}), nil, cfg, log)
	poller.Reset()
	var delay time.Duration
	for range 4 {
		delay = r.poll(context.Background(), &poller)
	}
	assert.Greater(t, delay, cfg.PollInterval, "other faults back off")
	assert.Contains(t, logs.String(), "claim failed")
}
