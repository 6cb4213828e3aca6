package queue_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/contentq/internal/domain"
	"github.com/phrazzld/contentq/internal/events"
	"github.com/phrazzld/contentq/internal/platform/logger"
	"github.com/phrazzld/contentq/internal/platform/memory"
	"github.com/phrazzld/contentq/internal/queue"
	"github.com/phrazzld/contentq/internal/store/storetest"
)

// recorder collects emitted events.
type recorder struct {
	mu     sync.Mutex
	events []*events.TaskEvent
}

func (r *recorder) HandleEvent(_ context.Context, ev *events.TaskEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	q        *queue.Queue
	clock    *storetest.Clock
	store    *memory.TaskStore
	emitter  *events.InMemoryEventEmitter
	recorder *recorder
	metrics  *queue.Metrics
	registry *prometheus.Registry
}

func newFixture(t *testing.T, opts ...queue.Option) *fixture {
	t.Helper()
	f := &fixture{
		clock:    storetest.NewClock(time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)),
		store:    memory.NewTaskStore(),
		emitter:  events.NewInMemoryEventEmitter(nil),
		recorder: &recorder{},
		registry: prometheus.NewRegistry(),
	}
	f.emitter.RegisterHandler(f.recorder)
	f.metrics = queue.NewMetrics(f.registry)

	base := []queue.Option{
		queue.WithClock(f.clock.Now),
		queue.WithEmitter(f.emitter),
		queue.WithMetrics(f.metrics),
	}
	f.q = queue.New(f.store, append(base, opts...)...)
	return f
}

func (f *fixture) create(t *testing.T, id string) *domain.Task {
	t.Helper()
	task, err := f.q.Create(context.Background(), domain.CreateTaskParams{ID: id, Topic: "topic " + id})
	require.NoError(t, err)
	return task
}

// counter returns the value of the series of name whose labels include want.
func counter(reg *prometheus.Registry, name string, want map[string]string) float64 {
	families, _ := reg.Gather()
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			match := true
			for k, v := range want {
				match = match && labels[k] == v
			}
			if match {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func operations(reg *prometheus.Registry, op, outcome string) float64 {
	return counter(reg, "contentq_queue_operations_total", map[string]string{"operation": op, "outcome": outcome})
}

func TestNew_Defaults(t *testing.T) {
	q := queue.New(memory.NewTaskStore())
	assert.Equal(t, queue.DefaultLeaseWindow, q.LeaseWindow())
	assert.Equal(t, time.UTC, q.Now().Location())
	assert.Zero(t, q.Now().Nanosecond()%int(time.Microsecond))

	q = queue.New(memory.NewTaskStore(), queue.WithLeaseWindow(-time.Second))
	assert.Equal(t, queue.DefaultLeaseWindow, q.LeaseWindow(), "non-positive windows are ignored")
}

func TestCreate_GeneratesIDs(t *testing.T) {
	n := 0
	f := newFixture(t, queue.WithIDGenerator(func() string {
		n++
		return "gen-" + strings.Repeat("x", n)
	}))
	ctx := context.Background()

	task, err := f.q.Create(ctx, domain.CreateTaskParams{Topic: "generated"})
	require.NoError(t, err)
	assert.Equal(t, "gen-x", task.ID)
	assert.Equal(t, int64(1), task.Version)
	assert.Equal(t, domain.TaskStatusPending, task.Status)

	_, err = f.q.Create(ctx, domain.CreateTaskParams{})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, 1.0, operations(f.registry, "create", "applied"))
}

func TestLifecycleEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, "t1")

	claimed, err := f.q.ClaimForProcessing(ctx, "w1", 5)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	task := claimed[0]

	task, ok, err := f.q.UpdateCurrentStep(ctx, task.ID, "drafting", task.Version)
	require.NoError(t, err)
	require.True(t, ok)

	task, ok, err = f.q.CompleteWithResult(ctx, task.ID, task.Version, &domain.Result{Content: "done"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.TaskStatusCompleted, task.Status)

	deleted, err := f.q.Delete(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	assert.Equal(t, []events.EventType{
		events.TaskCreated,
		events.TaskClaimed,
		events.TaskStep,
		events.TaskCompleted,
		events.TaskDeleted,
	}, f.recorder.types())
	assert.Equal(t, "drafting", f.recorder.events[2].Detail)
	assert.Equal(t, "w1", f.recorder.events[1].WorkerID)
}

func TestRejectedWritesEmitNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, "t1")

	_, ok, err := f.q.UpdateCurrentStep(ctx, task.ID, "drafting", task.Version+3)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = f.q.MarkAsFailed(ctx, task.ID, "not running", task.Version)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = f.q.UpdateStatus(ctx, task.ID, domain.TaskStatusRunning, task.Version)
	require.NoError(t, err)
	assert.False(t, ok, "running is reachable only through a claim")

	assert.Equal(t, []events.EventType{events.TaskCreated}, f.recorder.types())
	assert.Equal(t, 2.0, operations(f.registry, "update_step", "rejected")+operations(f.registry, "fail", "rejected"))
}

func TestHandlerFailureKeepsWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.emitter.RegisterHandler(events.HandlerFunc(func(context.Context, *events.TaskEvent) error {
		return errors.New("subscriber down")
	}))

	task := f.create(t, "t1")
	cancelled, ok, err := f.q.Cancel(ctx, task.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.TaskStatusCancelled, cancelled.Status)

	stored, found, err := f.q.FindByID(ctx, task.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, domain.TaskStatusCancelled, stored.Status)
}

func TestClaimMetrics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, "t1")

	claimed, err := f.q.ClaimForProcessing(ctx, "w1", 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	empty, err := f.q.ClaimForProcessing(ctx, "w2", 1)
	require.NoError(t, err)
	assert.Empty(t, empty)

	f.clock.Advance(f.q.LeaseWindow() + time.Minute)
	reclaimed, err := f.q.ClaimForProcessing(ctx, "w2", 1)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, "w2", reclaimed[0].WorkerID)

	claims := "contentq_queue_claims_total"
	assert.Equal(t, 1.0, counter(f.registry, claims, map[string]string{"kind": "fresh"}))
	assert.Equal(t, 1.0, counter(f.registry, claims, map[string]string{"kind": "started_before_window"}))
	assert.Equal(t, 2.0, counter(f.registry, "contentq_queue_transitions_total", map[string]string{"status": "running"}))
	assert.Equal(t, 2.0, operations(f.registry, "claim_batch", "applied"))
	assert.Equal(t, 1.0, operations(f.registry, "claim_batch", "rejected"))
}

func TestClaimMetrics_ReleasedTaskClaimedLater(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, "t1")

	claimed, err := f.q.ClaimForProcessing(ctx, "w1", 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	_, ok, err := f.q.ReleaseWorker(ctx, "t1", "w1", claimed[0].Version)
	require.NoError(t, err)
	require.True(t, ok)

	f.clock.Advance(f.q.LeaseWindow() + time.Minute)
	again, err := f.q.ClaimForProcessing(ctx, "w2", 1)
	require.NoError(t, err)
	require.Len(t, again, 1)

	claims := "contentq_queue_claims_total"
	assert.Equal(t, 1.0, counter(f.registry, claims, map[string]string{"kind": "fresh"}))
	assert.Equal(t, 1.0, counter(f.registry, claims, map[string]string{"kind": "started_before_window"}),
		"the label counts by start time, not by how the task became claimable")
}

func TestNilMetricsAreSafe(t *testing.T) {
	q := queue.New(memory.NewTaskStore(), queue.WithMetrics(nil))
	_, err := q.Create(context.Background(), domain.CreateTaskParams{ID: "t1", Topic: "no metrics"})
	require.NoError(t, err)
	claimed, err := q.ClaimForProcessing(context.Background(), "w1", 1)
	require.NoError(t, err)
	assert.Len(t, claimed, 1)
}

func TestUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, "t1")

	priority := 9
	updated, err := f.q.Update(ctx, task.ID, domain.TaskPatch{Priority: &priority})
	require.NoError(t, err)
	assert.Equal(t, 9, updated.Priority)
	assert.Equal(t, task.Version+1, updated.Version)

	_, err = f.q.Update(ctx, task.ID, domain.TaskPatch{})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.q.Update(ctx, "missing", domain.TaskPatch{Priority: &priority})
	assert.Error(t, err)

	_, _, err = f.q.Cancel(ctx, task.ID)
	require.NoError(t, err)
	_, err = f.q.Update(ctx, task.ID, domain.TaskPatch{Priority: &priority})
	assert.ErrorIs(t, err, domain.ErrTerminalTask)
}

func TestInvalidInputs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, "t1")

	_, _, err := f.q.UpdateStatus(ctx, task.ID, "paused", task.Version)
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	_, _, err = f.q.IncrementRetryCount(ctx, task.ID, "audio", task.Version)
	assert.ErrorIs(t, err, domain.ErrInvalidRetryAspect)

	_, err = f.q.ClaimForProcessing(ctx, "", 1)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, _, err = f.q.ClaimTask(ctx, task.ID, "", task.Version)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, _, err = f.q.CompleteWithResult(ctx, task.ID, task.Version, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, _, err = f.q.SaveStateSnapshot(ctx, task.ID, domain.StepSnapshot{State: []byte("{not json")}, task.Version)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, ok, err := f.q.ReleaseWorker(ctx, task.ID, "", task.Version)
	require.NoError(t, err)
	assert.False(t, ok)

	claimed, err := f.q.ClaimForProcessing(ctx, "w1", 0)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestBackendFaults(t *testing.T) {
	logs, log := logger.NewCapture()
	f := newFixture(t, queue.WithLogger(log))
	ctx := context.Background()
	task := f.create(t, "t1")
	require.NoError(t, f.store.Close())

	_, _, err := f.q.UpdateCurrentStep(ctx, task.ID, "drafting", task.Version)
	assert.Error(t, err)
	assert.False(t, f.q.HealthCheck(ctx))
	assert.Equal(t, 1.0, operations(f.registry, "update_step", "error"))
	assert.Contains(t, logs.String(), "task write failed")
}
