package task

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/contentq/internal/domain"
	"github.com/phrazzld/contentq/internal/events"
	"github.com/phrazzld/contentq/internal/generation"
	"github.com/phrazzld/contentq/internal/platform/logger"
	"github.com/phrazzld/contentq/internal/queue"
	"github.com/phrazzld/contentq/internal/store"
)

func newTestInline(env *testEnv, gen *scriptedGenerator) *InlineRunner {
	_, log := logger.NewCapture()
	r := NewInlineRunner(env.queue, env.executor(gen, ExecutorConfig{}), nil, InlineConfig{WorkerID: "inline-1"}, log)
	r.poll = 5 * time.Millisecond
	return r
}

func TestInlineRunner_Run(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	created := env.create(t, 0)
	gen := &scriptedGenerator{drafts: []string{"inline result"}}

	final, err := newTestInline(env, gen).Run(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, final.Status)
	assert.Len(t, gen.calls(), 1)
}

func TestInlineRunner_TerminalTaskReturnsImmediately(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	created := env.create(t, 0)
	_, ok, err := env.queue.Cancel(context.Background(), created.ID)
	require.NoError(t, err)
	require.True(t, ok)

	gen := &scriptedGenerator{drafts: []string{"unused"}}
	final, err := newTestInline(env, gen).Run(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCancelled, final.Status)
	assert.Empty(t, gen.calls())
}

func TestInlineRunner_NotFound(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	_, err := newTestInline(env, &scriptedGenerator{drafts: []string{"x"}}).Run(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestInlineRunner_WaitsForOtherOwner(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	created := env.create(t, 0)
	held := env.claim(t, created.ID, "other")

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _, _ = env.queue.MarkAsFailed(context.Background(), created.ID, "boom", held.Version)
	}()

	gen := &scriptedGenerator{drafts: []string{"unused"}}
	final, err := newTestInline(env, gen).Run(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, final.Status)
	assert.Empty(t, gen.calls())
}

// blockingGenerator holds every call until released.
type blockingGenerator struct {
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func newBlockingGenerator() *blockingGenerator {
	return &blockingGenerator{started: make(chan struct{}), release: make(chan struct{})}
}

func (g *blockingGenerator) Generate(ctx context.Context, _ generation.Request) (string, error) {
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
		return "a finished inline draft", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestInlineRunner_SupervisorLeavesRunningTaskAlone(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	created := env.create(t, 0)
	liveness := NewLocalLiveness(time.Now)
	require.NoError(t, liveness.Beat(context.Background(), "queue-worker", time.Minute))

	gen := newBlockingGenerator()
	_, log := logger.NewCapture()
	inline := NewInlineRunner(env.queue, env.executor(gen, ExecutorConfig{}), liveness,
		InlineConfig{WorkerID: "inline-1", HeartbeatTTL: 30 * time.Millisecond}, log)
	sup := NewSupervisor(env.queue, liveness, time.Minute, log)

	type result struct {
		task *domain.Task
		err  error
	}
	done := make(chan result, 1)
	go func() {
		final, err := inline.Run(context.Background(), created.ID)
		done <- result{final, err}
	}()

	select {
	case <-gen.started:
	case <-time.After(2 * time.Second):
		t.Fatal("generator was never called")
	}

	// Several TTLs pass mid-generation; the beats keep the owner alive.
	time.Sleep(100 * time.Millisecond)
	released, err := sup.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, released)

	running := env.get(t, created.ID)
	assert.Equal(t, domain.TaskStatusRunning, running.Status)
	assert.Equal(t, "inline-1", running.WorkerID)

	close(gen.release)
	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, domain.TaskStatusCompleted, res.task.Status)

	alive, err := liveness.Alive(context.Background(), "inline-1")
	require.NoError(t, err)
	assert.False(t, alive, "liveness entry is removed after the run")
}

func TestInlineRunner_LostClaimDropsLiveness(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	created := env.create(t, 0)
	liveness := NewLocalLiveness(time.Now)
	_, log := logger.NewCapture()
	inline := NewInlineRunner(env.queue, env.executor(&scriptedGenerator{drafts: []string{"x"}}, ExecutorConfig{}),
		liveness, InlineConfig{WorkerID: "inline-1"}, log)

	stale := created.Clone()
	stale.Version += 5
	executed, err := inline.claimAndExecute(context.Background(), stale)
	require.NoError(t, err)
	assert.False(t, executed)

	alive, err := liveness.Alive(context.Background(), "inline-1")
	require.NoError(t, err)
	assert.False(t, alive)
}

func TestWakeupHandler(t *testing.T) {
	t.Parallel()

	n := &countingNotifier{}
	_, log := logger.NewCapture()
	h := NewWakeupHandler(n, log)

	for _, typ := range []events.EventType{events.TaskCreated, events.TaskCompleted, events.TaskReleased, events.TaskStep} {
		require.NoError(t, h.HandleEvent(context.Background(), &events.TaskEvent{Type: typ, TaskID: "t1"}))
	}
	assert.Equal(t, int32(2), n.n.Load())
}

type countingNotifier struct {
	n atomic.Int32
}

func (c *countingNotifier) Notify() { c.n.Add(1) }

func TestWakeupHandler_IgnoresSyncCreates(t *testing.T) {
	t.Parallel()

	_, log := logger.NewCapture()
	emitter := events.NewInMemoryEventEmitter(log)
	env := newTestEnv(t, queue.WithEmitter(emitter))
	notifier := &countingNotifier{}
	emitter.RegisterHandler(NewWakeupHandler(notifier, log))
	ctx := context.Background()

	syncTask, err := env.queue.Create(ctx, domain.CreateTaskParams{Topic: "inline only", Mode: domain.TaskModeSync})
	require.NoError(t, err)
	assert.Zero(t, notifier.n.Load(), "queue workers must not race the inline runner")

	env.create(t, 0)
	assert.Equal(t, int32(1), notifier.n.Load())

	claimed := env.claim(t, syncTask.ID, "inline-1")
	_, ok, err := env.queue.ReleaseWorker(ctx, claimed.ID, "inline-1", claimed.Version)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int32(2), notifier.n.Load(), "a released sync task is claimable by anyone")
}
