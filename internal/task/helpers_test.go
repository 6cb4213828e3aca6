package task

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/phrazzld/contentq/internal/domain"
	"github.com/phrazzld/contentq/internal/generation"
	"github.com/phrazzld/contentq/internal/platform/logger"
	"github.com/phrazzld/contentq/internal/platform/memory"
	"github.com/phrazzld/contentq/internal/queue"
	"github.com/phrazzld/contentq/internal/store/storetest"
)

var testStart = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	queue *queue.Queue
	clock *storetest.Clock
}

func newTestEnv(t *testing.T, opts ...queue.Option) *testEnv {
	t.Helper()
	clock := storetest.NewClock(testStart)
	_, log := logger.NewCapture()
	opts = append([]queue.Option{queue.WithClock(clock.Now), queue.WithLogger(log)}, opts...)
	return &testEnv{
		queue: queue.New(memory.NewTaskStore(), opts...),
		clock: clock,
	}
}

// create stores a task whose constraints need at least minWords words
// and the given keywords.
func (e *testEnv) create(t *testing.T, minWords int, keywords ...string) *domain.Task {
	t.Helper()
	created, err := e.queue.Create(context.Background(), domain.CreateTaskParams{
		Topic:           "testing queues",
		HardConstraints: domain.HardConstraints{MinWords: minWords, Keywords: keywords},
	})
	require.NoError(t, err)
	return created
}

func (e *testEnv) claim(t *testing.T, id, workerID string) *domain.Task {
	t.Helper()
	current, found, err := e.queue.FindByID(context.Background(), id)
	require.NoError(t, err)
	require.True(t, found)
	claimed, ok, err := e.queue.ClaimTask(context.Background(), id, workerID, current.Version)
	require.NoError(t, err)
	require.True(t, ok)
	return claimed
}

func (e *testEnv) get(t *testing.T, id string) *domain.Task {
	t.Helper()
	got, found, err := e.queue.FindByID(context.Background(), id)
	require.NoError(t, err)
	require.True(t, found)
	return got
}

func (e *testEnv) executor(gen generation.Generator, cfg ExecutorConfig) *Executor {
	_, log := logger.NewCapture()
	return NewExecutor(e.queue, gen, cfg, log)
}

// scriptedGenerator returns drafts in order, repeating the last one, and
// records each request.
type scriptedGenerator struct {
	mu       sync.Mutex
	drafts   []string
	requests []generation.Request
}

func (g *scriptedGenerator) Generate(_ context.Context, req generation.Request) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	i := min(len(g.requests), len(g.drafts)) - 1
	return g.drafts[i], nil
}

func (g *scriptedGenerator) calls() []generation.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]generation.Request(nil), g.requests...)
}

func words(n int, extra ...string) string {
	return strings.TrimSpace(strings.Repeat("word ", n) + strings.Join(extra, " "))
}
