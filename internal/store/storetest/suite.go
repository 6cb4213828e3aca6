// Package storetest is a conformance suite for store.TaskStore adapters. It
// drives each adapter through the queue engine, so the same lifecycle rules
// are checked against every backend.
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/contentq/internal/domain"
	"github.com/phrazzld/contentq/internal/queue"
	"github.com/phrazzld/contentq/internal/store"
)

// Factory returns a fresh, empty adapter. The suite closes it.
type Factory func(t *testing.T) store.TaskStore

const lease = 5 * time.Minute

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	t     *testing.T
	ctx   context.Context
	clock *Clock
	store store.TaskStore
	q     *queue.Queue
}

func newHarness(t *testing.T, factory Factory) *harness {
	t.Helper()
	s := factory(t)
	t.Cleanup(func() { _ = s.Close() })

	clock := NewClock(epoch)
	return &harness{
		t:     t,
		ctx:   context.Background(),
		clock: clock,
		store: s,
		q:     queue.New(s, queue.WithClock(clock.Now), queue.WithLeaseWindow(lease)),
	}
}

// create inserts a task and advances the clock so creation times are distinct.
func (h *harness) create(id string, priority int) *domain.Task {
	h.t.Helper()
	task, err := h.q.Create(h.ctx, domain.CreateTaskParams{
		ID:       id,
		Topic:    "topic " + id,
		Priority: priority,
		HardConstraints: domain.HardConstraints{
			MinWords: 10,
			MaxWords: 100,
			Keywords: []string{"go"},
		},
	})
	require.NoError(h.t, err)
	h.clock.Advance(time.Millisecond)
	return task
}

func (h *harness) get(id string) *domain.Task {
	h.t.Helper()
	task, found, err := h.q.FindByID(h.ctx, id)
	require.NoError(h.t, err)
	require.True(h.t, found, "task %s should exist", id)
	checkInvariants(h.t, task)
	return task
}

func (h *harness) claimOne(workerID string) *domain.Task {
	h.t.Helper()
	claimed, err := h.q.ClaimForProcessing(h.ctx, workerID, 1)
	require.NoError(h.t, err)
	require.Len(h.t, claimed, 1)
	checkInvariants(h.t, claimed[0])
	return claimed[0]
}

// checkInvariants asserts the owner and completion invariants of a task.
func checkInvariants(t *testing.T, task *domain.Task) {
	t.Helper()
	assert.Equal(t, task.Status == domain.TaskStatusRunning, task.WorkerID != "",
		"worker_id must be set exactly when running (status=%s worker=%q)", task.Status, task.WorkerID)
	assert.Equal(t, task.Status.IsTerminal(), task.CompletedAt != nil,
		"completed_at must be set exactly when terminal (status=%s)", task.Status)
	assert.GreaterOrEqual(t, task.Version, int64(1))
}

func assertSameInstant(t *testing.T, want, got time.Time) {
	t.Helper()
	assert.Truef(t, want.Equal(got), "want %s, got %s", want, got)
}

// Run executes the conformance suite against adapters built by factory.
func Run(t *testing.T, factory Factory) {
	t.Run("CreateAndFind", func(t *testing.T) { testCreateAndFind(t, factory) })
	t.Run("Update", func(t *testing.T) { testUpdate(t, factory) })
	t.Run("ListAndCount", func(t *testing.T) { testListAndCount(t, factory) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, factory) })
	t.Run("HealthCheck", func(t *testing.T) { testHealthCheck(t, factory) })
	t.Run("ExampleScenario", func(t *testing.T) { testExampleScenario(t, factory) })
	t.Run("AtMostOneOwner", func(t *testing.T) { testAtMostOneOwner(t, factory) })
	t.Run("ConcurrentBatchClaimsAreDisjoint", func(t *testing.T) { testDisjointBatches(t, factory) })
	t.Run("ClaimTask", func(t *testing.T) { testClaimTask(t, factory) })
	t.Run("VersionMonotonicity", func(t *testing.T) { testVersionMonotonicity(t, factory) })
	t.Run("TerminalImmutability", func(t *testing.T) { testTerminalImmutability(t, factory) })
	t.Run("FIFOWithinPriority", func(t *testing.T) { testFIFOWithinPriority(t, factory) })
	t.Run("StalenessReclaim", func(t *testing.T) { testStalenessReclaim(t, factory) })
	t.Run("ReleaseWorker", func(t *testing.T) { testReleaseWorker(t, factory) })
	t.Run("UpdateStatus", func(t *testing.T) { testUpdateStatus(t, factory) })
	t.Run("CancelWhileRunning", func(t *testing.T) { testCancelWhileRunning(t, factory) })
	t.Run("StepAndRetryCounters", func(t *testing.T) { testStepAndRetry(t, factory) })
	t.Run("Snapshots", func(t *testing.T) { testSnapshots(t, factory) })
	t.Run("CompleteWithResult", func(t *testing.T) { testCompleteWithResult(t, factory) })
	t.Run("Retry", func(t *testing.T) { testRetry(t, factory) })
}

func testCreateAndFind(t *testing.T, factory Factory) {
	h := newHarness(t, factory)

	created := h.create("task-1", 5)
	assert.Equal(t, domain.TaskStatusPending, created.Status)
	assert.Equal(t, int64(1), created.Version)

	got := h.get("task-1")
	assert.Equal(t, "topic task-1", got.Topic)
	assert.Equal(t, 5, got.Priority)
	assert.Equal(t, domain.TaskModeAsync, got.Mode)
	assert.Equal(t, domain.TaskTypeArticle, got.Type)
	assert.Equal(t, []string{"go"}, got.HardConstraints.Keywords)
	assert.Equal(t, 10, got.HardConstraints.MinWords)
	assertSameInstant(t, epoch, got.CreatedAt)
	assertSameInstant(t, epoch, got.UpdatedAt)
	assert.Nil(t, got.StartedAt)

	_, err := h.q.Create(h.ctx, domain.CreateTaskParams{ID: "task-1", Topic: "again"})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrDuplicate)

	generated, err := h.q.Create(h.ctx, domain.CreateTaskParams{Topic: "no id"})
	require.NoError(t, err)
	assert.NotEmpty(t, generated.ID)

	_, found, err := h.q.FindByID(h.ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func testUpdate(t *testing.T, factory Factory) {
	h := newHarness(t, factory)
	h.create("task-1", 1)

	priority := 9
	requirements := "be concise"
	updated, err := h.q.Update(h.ctx, "task-1", domain.TaskPatch{
		Priority:     &priority,
		Requirements: &requirements,
	})
	require.NoError(t, err)
	assert.Equal(t, 9, updated.Priority)
	assert.Equal(t, "be concise", updated.Requirements)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, "topic task-1", updated.Topic, "unpatched fields are kept")

	_, err = h.q.Update(h.ctx, "missing", domain.TaskPatch{Priority: &priority})
	assert.ErrorIs(t, err, store.ErrTaskNotFound)

	_, err = h.q.Update(h.ctx, "task-1", domain.TaskPatch{})
	assert.ErrorIs(t, err, domain.ErrValidation)

	claimed := h.claimOne("worker-a")
	_, ok, err := h.q.MarkAsCompleted(h.ctx, claimed.ID, claimed.Version)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = h.q.Update(h.ctx, "task-1", domain.TaskPatch{Priority: &priority})
	assert.ErrorIs(t, err, domain.ErrTerminalTask)
}

func testListAndCount(t *testing.T, factory Factory) {
	h := newHarness(t, factory)
	for i := 0; i < 5; i++ {
		h.create(fmt.Sprintf("task-%d", i), 0)
	}
	_, err := h.q.Create(h.ctx, domain.CreateTaskParams{ID: "social-1", Topic: "post", Type: domain.TaskTypeSocial})
	require.NoError(t, err)
	h.clock.Advance(time.Millisecond)

	claimed := h.claimOne("worker-a")
	assert.Equal(t, "task-0", claimed.ID)

	page, err := h.q.List(h.ctx, domain.TaskFilter{}, domain.Pagination{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 6, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "social-1", page.Items[0].ID, "newest first")
	assert.Equal(t, "task-4", page.Items[1].ID)

	page, err = h.q.List(h.ctx, domain.TaskFilter{}, domain.Pagination{Limit: 2, Offset: 4})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "task-0", page.Items[1].ID)

	page, err = h.q.List(h.ctx, domain.TaskFilter{}, domain.Pagination{Limit: 10, Offset: 50})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, 6, page.Total)

	running, err := h.q.List(h.ctx, domain.TaskFilter{Status: domain.TaskStatusRunning}, domain.Pagination{})
	require.NoError(t, err)
	assert.Equal(t, 1, running.Total)
	require.Len(t, running.Items, 1)
	assert.Equal(t, "worker-a", running.Items[0].WorkerID)

	n, err := h.q.Count(h.ctx, domain.TaskFilter{Type: domain.TaskTypeSocial})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = h.q.Count(h.ctx, domain.TaskFilter{WorkerID: "worker-a"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = h.q.Count(h.ctx, domain.TaskFilter{Status: domain.TaskStatusPending, Mode: domain.TaskModeAsync})
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func testDelete(t *testing.T, factory Factory) {
	h := newHarness(t, factory)
	h.create("task-1", 0)
	claimed := h.claimOne("worker-a")

	_, ok, err := h.q.SaveStateSnapshot(h.ctx, claimed.ID, domain.StepSnapshot{
		Step:  "draft",
		State: json.RawMessage(`{"attempt":1}`),
	}, claimed.Version)
	require.NoError(t, err)
	require.True(t, ok)

	deleted, err := h.q.Delete(h.ctx, "task-1")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, found, err := h.q.FindByID(h.ctx, "task-1")
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = h.q.LoadStateSnapshot(h.ctx, "task-1")
	require.NoError(t, err)
	assert.False(t, found, "snapshot is removed with its task")

	deleted, err = h.q.Delete(h.ctx, "task-1")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func testHealthCheck(t *testing.T, factory Factory) {
	h := newHarness(t, factory)
	assert.True(t, h.q.HealthCheck(h.ctx))

	require.NoError(t, h.store.Close())
	assert.False(t, h.q.HealthCheck(h.ctx))
}

func testExampleScenario(t *testing.T, factory Factory) {
	h := newHarness(t, factory)

	created := h.create("T", 5)
	assert.Equal(t, domain.TaskStatusPending, created.Status)
	assert.Equal(t, int64(1), created.Version)

	claimed := h.claimOne("A")
	assert.Equal(t, "T", claimed.ID)
	assert.Equal(t, domain.TaskStatusRunning, claimed.Status)
	assert.Equal(t, "A", claimed.WorkerID)
	assert.Equal(t, int64(2), claimed.Version)
	require.NotNil(t, claimed.StartedAt)

	completed, ok, err := h.q.MarkAsCompleted(h.ctx, "T", 2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.TaskStatusCompleted, completed.Status)
	assert.NotNil(t, completed.CompletedAt)
	assert.Equal(t, int64(3), completed.Version)
	checkInvariants(t, completed)

	again, ok, err := h.q.MarkAsCompleted(h.ctx, "T", 2)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, again)

	after := h.get("T")
	assert.Equal(t, int64(3), after.Version, "rejected write leaves state unchanged")
	assert.Equal(t, domain.TaskStatusCompleted, after.Status)
}

func testAtMostOneOwner(t *testing.T, factory Factory) {
	h := newHarness(t, factory)
	h.create("only", 0)

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			<-start
			claimed, err := h.q.ClaimForProcessing(h.ctx, worker, 1)
			assert.NoError(t, err)
			if len(claimed) > 0 {
				mu.Lock()
				winners = append(winners, worker)
				mu.Unlock()
			}
		}(fmt.Sprintf("worker-%d", i))
	}
	close(start)
	wg.Wait()

	require.Len(t, winners, 1, "exactly one worker may claim the task")
	task := h.get("only")
	assert.Equal(t, winners[0], task.WorkerID)
	assert.Equal(t, int64(2), task.Version)
}

func testDisjointBatches(t *testing.T, factory Factory) {
	h := newHarness(t, factory)
	const total = 20
	for i := 0; i < total; i++ {
		h.create(fmt.Sprintf("task-%02d", i), i%3)
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		owner = make(map[string]string)
		dupes []string
	)
	for w := 0; w < 6; w++ {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			for {
				claimed, err := h.q.ClaimForProcessing(h.ctx, worker, 3)
				if !assert.NoError(t, err) || len(claimed) == 0 {
					return
				}
				mu.Lock()
				for _, task := range claimed {
					if prev, taken := owner[task.ID]; taken {
						dupes = append(dupes, task.ID+" claimed by "+prev+" and "+worker)
					}
					owner[task.ID] = worker
				}
				mu.Unlock()
			}
		}(fmt.Sprintf("worker-%d", w))
	}
	wg.Wait()

	assert.Empty(t, dupes)
	assert.Len(t, owner, total)
	for id, worker := range owner {
		assert.Equal(t, worker, h.get(id).WorkerID)
	}
}

func testClaimTask(t *testing.T, factory Factory) {
	h := newHarness(t, factory)
	created := h.create("task-1", 0)

	_, ok, err := h.q.ClaimTask(h.ctx, "task-1", "worker-a", created.Version+1)
	require.NoError(t, err)
	assert.False(t, ok, "stale version")

	claimed, ok, err := h.q.ClaimTask(h.ctx, "task-1", "worker-a", created.Version)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.TaskStatusRunning, claimed.Status)
	assert.Equal(t, "worker-a", claimed.WorkerID)
	assert.Equal(t, int64(2), claimed.Version)
	require.NotNil(t, claimed.StartedAt)
	checkInvariants(t, claimed)

	_, ok, err = h.q.ClaimTask(h.ctx, "task-1", "worker-b", claimed.Version)
	require.NoError(t, err)
	assert.False(t, ok, "a running task is not claimable")

	_, ok, err = h.q.ClaimTask(h.ctx, "missing", "worker-b", 1)
	require.NoError(t, err)
	assert.False(t, ok)

	// Concurrent single claims at the same version: one winner.
	other := h.create("task-2", 0)
	var (
		wg   sync.WaitGroup
		wins int
		mu   sync.Mutex
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			_, ok, err := h.q.ClaimTask(h.ctx, other.ID, worker, other.Version)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(fmt.Sprintf("w%d", i))
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func testVersionMonotonicity(t *testing.T, factory Factory) {
	h := newHarness(t, factory)
	h.create("task-1", 0)
	task := h.claimOne("worker-a")

	versions := []int64{task.Version}
	for _, step := range []string{"research", "draft", "review"} {
		h.clock.Advance(time.Second)
		next, ok, err := h.q.UpdateCurrentStep(h.ctx, task.ID, step, task.Version)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, task.Version+1, next.Version)
		assert.True(t, next.UpdatedAt.After(task.UpdatedAt))
		versions = append(versions, next.Version)

		// The previous version is now stale and must not write anything.
		_, ok, err = h.q.UpdateCurrentStep(h.ctx, task.ID, "stale-"+step, task.Version)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, step, h.get(task.ID).CurrentStep)

		task = next
	}
	assert.Equal(t, []int64{2, 3, 4, 5}, versions)
}

func testTerminalImmutability(t *testing.T, factory Factory) {
	terminal := map[string]func(h *harness, task *domain.Task) *domain.Task{
		"completed": func(h *harness, task *domain.Task) *domain.Task {
			out, ok, err := h.q.MarkAsCompleted(h.ctx, task.ID, task.Version)
			require.NoError(h.t, err)
			require.True(h.t, ok)
			return out
		},
		"failed": func(h *harness, task *domain.Task) *domain.Task {
			out, ok, err := h.q.MarkAsFailed(h.ctx, task.ID, "boom", task.Version)
			require.NoError(h.t, err)
			require.True(h.t, ok)
			assert.Equal(h.t, "boom", out.ErrorMessage)
			return out
		},
		"cancelled": func(h *harness, task *domain.Task) *domain.Task {
			out, ok, err := h.q.UpdateStatus(h.ctx, task.ID, domain.TaskStatusCancelled, task.Version)
			require.NoError(h.t, err)
			require.True(h.t, ok)
			return out
		},
	}

	for name, finish := range terminal {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, factory)
			h.create("task-1", 0)
			claimed := h.claimOne("worker-a")
			done := finish(h, claimed)
			checkInvariants(t, done)
			v := done.Version

			for _, status := range []domain.TaskStatus{
				domain.TaskStatusPending, domain.TaskStatusRunning, domain.TaskStatusCompleted,
				domain.TaskStatusFailed, domain.TaskStatusCancelled,
			} {
				_, ok, err := h.q.UpdateStatus(h.ctx, done.ID, status, v)
				require.NoError(t, err)
				assert.False(t, ok, "transition %s -> %s", done.Status, status)
			}

			_, ok, err := h.q.UpdateCurrentStep(h.ctx, done.ID, "late", v)
			require.NoError(t, err)
			assert.False(t, ok)
			_, ok, err = h.q.IncrementRetryCount(h.ctx, done.ID, domain.RetryAspectTask, v)
			require.NoError(t, err)
			assert.False(t, ok)
			_, ok, err = h.q.MarkAsCompleted(h.ctx, done.ID, v)
			require.NoError(t, err)
			assert.False(t, ok)
			_, ok, err = h.q.MarkAsFailed(h.ctx, done.ID, "late", v)
			require.NoError(t, err)
			assert.False(t, ok)
			_, ok, err = h.q.ReleaseWorker(h.ctx, done.ID, "worker-a", v)
			require.NoError(t, err)
			assert.False(t, ok)
			_, ok, err = h.q.ClaimTask(h.ctx, done.ID, "worker-b", v)
			require.NoError(t, err)
			assert.False(t, ok)

			h.clock.Advance(2 * lease)
			claimed2, err := h.q.ClaimForProcessing(h.ctx, "worker-b", 10)
			require.NoError(t, err)
			assert.Empty(t, claimed2, "terminal tasks are never claimable")

			unchanged := h.get(done.ID)
			assert.Equal(t, v, unchanged.Version)
			assert.Equal(t, done.Status, unchanged.Status)

			// Audit snapshots remain writable.
			snapped, ok, err := h.q.SaveStateSnapshot(h.ctx, done.ID, domain.StepSnapshot{
				Step:  "audit",
				State: json.RawMessage(`{"final":true}`),
			}, v)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, v+1, snapped.Version)
			assert.Equal(t, done.Status, snapped.Status)
		})
	}
}

func testFIFOWithinPriority(t *testing.T, factory Factory) {
	h := newHarness(t, factory)
	h.create("t1", 1)
	h.create("t2", 1)
	h.create("t3", 1)
	h.create("low", 0)
	h.create("urgent", 7)

	var order []string
	for i := 0; i < 5; i++ {
		order = append(order, h.claimOne("worker-a").ID)
	}
	assert.Equal(t, []string{"urgent", "t1", "t2", "t3", "low"}, order)

	// A batch returns the same order in one call.
	h2 := newHarness(t, factory)
	h2.create("b1", 2)
	h2.create("b2", 5)
	h2.create("b3", 2)
	batch, err := h2.q.ClaimForProcessing(h2.ctx, "worker-b", 10)
	require.NoError(t, err)
	ids := make([]string, 0, len(batch))
	for _, task := range batch {
		ids = append(ids, task.ID)
	}
	assert.Equal(t, []string{"b2", "b1", "b3"}, ids)

	empty, err := h2.q.ClaimForProcessing(h2.ctx, "worker-b", 10)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty, "no eligible tasks is an empty result, not an error")
}

func testStalenessReclaim(t *testing.T, factory Factory) {
	h := newHarness(t, factory)
	h.create("abandoned", 0)
	h.create("alive", 0)

	abandoned := h.claimOne("worker-a")
	alive := h.claimOne("worker-a")
	require.Equal(t, "abandoned", abandoned.ID)
	firstStart := *abandoned.StartedAt

	h.clock.Advance(lease - time.Minute)
	alive, ok, err := h.q.UpdateCurrentStep(h.ctx, alive.ID, "draft", alive.Version)
	require.NoError(t, err)
	require.True(t, ok)

	// Inside the window nothing is reclaimable.
	none, err := h.q.ClaimForProcessing(h.ctx, "worker-b", 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	h.clock.Advance(2 * time.Minute)
	reclaimed, err := h.q.ClaimForProcessing(h.ctx, "worker-b", 10)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1, "only the untouched task is past the lease window")
	got := reclaimed[0]
	assert.Equal(t, "abandoned", got.ID)
	assert.Equal(t, "worker-b", got.WorkerID)
	assert.Equal(t, abandoned.Version+1, got.Version)
	require.NotNil(t, got.StartedAt)
	// started_at is kept from the first claim.
	assertSameInstant(t, firstStart, *got.StartedAt)

	// The original owner's version is stale now.
	_, ok, err = h.q.MarkAsCompleted(h.ctx, abandoned.ID, abandoned.Version)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, "worker-a", h.get("alive").WorkerID)
}

func testReleaseWorker(t *testing.T, factory Factory) {
	h := newHarness(t, factory)
	h.create("task-1", 0)
	claimed := h.claimOne("worker-a")

	_, ok, err := h.q.ReleaseWorker(h.ctx, claimed.ID, "worker-b", claimed.Version)
	require.NoError(t, err)
	assert.False(t, ok, "only the owner can be released")

	_, ok, err = h.q.ReleaseWorker(h.ctx, claimed.ID, "", claimed.Version)
	require.NoError(t, err)
	assert.False(t, ok)

	released, ok, err := h.q.ReleaseWorker(h.ctx, claimed.ID, "worker-a", claimed.Version)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.TaskStatusPending, released.Status)
	assert.Empty(t, released.WorkerID)
	assert.Equal(t, claimed.Version+1, released.Version)
	assert.NotNil(t, released.StartedAt)
	checkInvariants(t, released)

	_, ok, err = h.q.ReleaseWorker(h.ctx, claimed.ID, "worker-a", claimed.Version)
	require.NoError(t, err)
	assert.False(t, ok, "second release with the same version fails")

	again := h.claimOne("worker-b")
	assert.Equal(t, "task-1", again.ID)
}

func testUpdateStatus(t *testing.T, factory Factory) {
	h := newHarness(t, factory)
	created := h.create("task-1", 0)

	_, ok, err := h.q.UpdateStatus(h.ctx, "task-1", domain.TaskStatusRunning, created.Version)
	require.NoError(t, err)
	assert.False(t, ok, "running is only reachable through a claim")

	_, ok, err = h.q.UpdateStatus(h.ctx, "task-1", domain.TaskStatusCompleted, created.Version)
	require.NoError(t, err)
	assert.False(t, ok, "pending cannot complete")

	_, _, err = h.q.UpdateStatus(h.ctx, "task-1", "paused", created.Version)
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	claimed := h.claimOne("worker-a")
	back, ok, err := h.q.UpdateStatus(h.ctx, "task-1", domain.TaskStatusPending, claimed.Version)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, back.WorkerID)
	checkInvariants(t, back)

	cancelled, ok, err := h.q.UpdateStatus(h.ctx, "task-1", domain.TaskStatusCancelled, back.Version)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.TaskStatusCancelled, cancelled.Status)
	checkInvariants(t, cancelled)
}

func testCancelWhileRunning(t *testing.T, factory Factory) {
	h := newHarness(t, factory)
	h.create("task-1", 0)
	claimed := h.claimOne("worker-a")

	cancelled, ok, err := h.q.Cancel(h.ctx, claimed.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.TaskStatusCancelled, cancelled.Status)
	assert.Empty(t, cancelled.WorkerID)

	_, ok, err = h.q.MarkAsCompleted(h.ctx, claimed.ID, claimed.Version)
	require.NoError(t, err)
	assert.False(t, ok, "the worker's completion loses to the cancel")
	_, ok, err = h.q.MarkAsCompleted(h.ctx, claimed.ID, cancelled.Version)
	require.NoError(t, err)
	assert.False(t, ok, "even at the current version the status guard rejects it")

	current, ok, err := h.q.Cancel(h.ctx, claimed.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, domain.TaskStatusCancelled, current.Status)

	_, ok, err = h.q.Cancel(h.ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testStepAndRetry(t *testing.T, factory Factory) {
	h := newHarness(t, factory)
	h.create("task-1", 0)
	task := h.claimOne("worker-a")

	for _, aspect := range []domain.RetryAspect{
		domain.RetryAspectText, domain.RetryAspectText, domain.RetryAspectImage, domain.RetryAspectTask,
	} {
		next, ok, err := h.q.IncrementRetryCount(h.ctx, task.ID, aspect, task.Version)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, task.RetryCounter(aspect)+1, next.RetryCounter(aspect))
		task = next
	}
	assert.Equal(t, 2, task.TextRetryCount)
	assert.Equal(t, 1, task.ImageRetryCount)
	assert.Equal(t, 1, task.RetryCount)

	_, _, err := h.q.IncrementRetryCount(h.ctx, task.ID, "audio", task.Version)
	assert.ErrorIs(t, err, domain.ErrInvalidRetryAspect)

	stepped, ok, err := h.q.UpdateCurrentStep(h.ctx, task.ID, "review", task.Version)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "review", stepped.CurrentStep)
	assert.Equal(t, domain.TaskStatusRunning, stepped.Status)
	assert.Equal(t, "worker-a", stepped.WorkerID)

	released, ok, err := h.q.ReleaseWorker(h.ctx, task.ID, "worker-a", stepped.Version)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, released.TextRetryCount, "counters survive a release")
}

func testSnapshots(t *testing.T, factory Factory) {
	h := newHarness(t, factory)
	h.create("task-1", 0)
	task := h.claimOne("worker-a")

	_, found, err := h.q.LoadStateSnapshot(h.ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, found)

	first, ok, err := h.q.SaveStateSnapshot(h.ctx, task.ID, domain.StepSnapshot{
		Step:  "draft",
		State: json.RawMessage(`{"attempt":1,"draft":"hello"}`),
	}, task.Version)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, task.Version+1, first.Version)

	_, ok, err = h.q.SaveStateSnapshot(h.ctx, task.ID, domain.StepSnapshot{
		Step:  "stale",
		State: json.RawMessage(`{}`),
	}, task.Version)
	require.NoError(t, err)
	assert.False(t, ok)

	h.clock.Advance(time.Second)
	_, ok, err = h.q.SaveStateSnapshot(h.ctx, task.ID, domain.StepSnapshot{
		Step:  "review",
		State: json.RawMessage(`{"attempt":2}`),
	}, first.Version)
	require.NoError(t, err)
	require.True(t, ok)

	snap, found, err := h.q.LoadStateSnapshot(h.ctx, task.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, task.ID, snap.TaskID)
	assert.Equal(t, "review", snap.Step)
	assert.JSONEq(t, `{"attempt":2}`, string(snap.State))
	assertSameInstant(t, epoch.Add(time.Millisecond+time.Second), snap.CreatedAt)

	_, _, err = h.q.SaveStateSnapshot(h.ctx, task.ID, domain.StepSnapshot{State: json.RawMessage(`{not json`)}, first.Version+1)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, ok, err = h.q.SaveStateSnapshot(h.ctx, "missing", domain.StepSnapshot{State: json.RawMessage(`{}`)}, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func testCompleteWithResult(t *testing.T, factory Factory) {
	h := newHarness(t, factory)
	h.create("task-1", 0)
	task := h.claimOne("worker-a")

	result := &domain.Result{
		Content: "the article",
		Quality: domain.QualityReport{WordCount: 2, Score: 0.8, Passed: true, MissingKeywords: []string{"go"}},
	}

	_, ok, err := h.q.CompleteWithResult(h.ctx, task.ID, task.Version+5, result)
	require.NoError(t, err)
	assert.False(t, ok)
	_, found, err := h.q.GetResult(h.ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, found, "a rejected completion stores no result")

	done, ok, err := h.q.CompleteWithResult(h.ctx, task.ID, task.Version, result)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.TaskStatusCompleted, done.Status)

	stored, found, err := h.q.GetResult(h.ctx, task.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "task-1", stored.TaskID)
	assert.Equal(t, "the article", stored.Content)
	assert.Equal(t, 0.8, stored.Quality.Score)
	assert.True(t, stored.Quality.Passed)
	assert.Equal(t, []string{"go"}, stored.Quality.MissingKeywords)
}

func testRetry(t *testing.T, factory Factory) {
	h := newHarness(t, factory)
	h.create("task-1", 4)

	_, err := h.q.Retry(h.ctx, "task-1")
	assert.ErrorIs(t, err, domain.ErrNotRetryable)
	_, err = h.q.Retry(h.ctx, "missing")
	assert.ErrorIs(t, err, store.ErrTaskNotFound)

	task := h.claimOne("worker-a")
	_, ok, err := h.q.MarkAsFailed(h.ctx, task.ID, "generator unavailable", task.Version)
	require.NoError(t, err)
	require.True(t, ok)

	retried, err := h.q.Retry(h.ctx, "task-1")
	require.NoError(t, err)
	assert.NotEqual(t, "task-1", retried.ID)
	assert.Equal(t, domain.TaskStatusPending, retried.Status)
	assert.Equal(t, int64(1), retried.Version)
	assert.Equal(t, 4, retried.Priority)
	assert.Equal(t, "topic task-1", retried.Topic)
	assert.Equal(t, 1, retried.RetryCount)

	original := h.get("task-1")
	assert.Equal(t, domain.TaskStatusFailed, original.Status)
	assert.Equal(t, "generator unavailable", original.ErrorMessage)

	fetched := h.get(retried.ID)
	assert.Equal(t, 1, fetched.RetryCount)
}
