package events

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/phrazzld/contentq/internal/domain"
)

func TestNewTaskEvent(t *testing.T) {
	t.Parallel()

	at := time.Now().UTC()
	task := &domain.Task{
		ID:       "t-1",
		Status:   domain.TaskStatusRunning,
		Version:  2,
		WorkerID: "w-1",
		Priority: 5,
	}

	ev := NewTaskEvent(TaskClaimed, task.ID, task, at).WithDetail("draft")

	assert.NotEqual(t, uuid.Nil, ev.ID)
	assert.Equal(t, TaskClaimed, ev.Type)
	assert.Equal(t, "t-1", ev.TaskID)
	assert.Equal(t, domain.TaskStatusRunning, ev.Status)
	assert.Equal(t, int64(2), ev.Version)
	assert.Equal(t, "w-1", ev.WorkerID)
	assert.Equal(t, 5, ev.Priority)
	assert.Equal(t, "draft", ev.Detail)
	assert.Equal(t, at, ev.OccurredAt)
}

func TestEventType_MakesWorkAvailable(t *testing.T) {
	t.Parallel()

	assert.True(t, TaskCreated.MakesWorkAvailable())
	assert.True(t, TaskReleased.MakesWorkAvailable())
	assert.False(t, TaskClaimed.MakesWorkAvailable())
	assert.False(t, TaskCompleted.MakesWorkAvailable())
}

func TestTaskEvent_SyncCreateDoesNotWake(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	syncTask := &domain.Task{ID: "t1", Mode: domain.TaskModeSync, Status: domain.TaskStatusPending}
	async := &domain.Task{ID: "t2", Mode: domain.TaskModeAsync, Status: domain.TaskStatusPending}

	assert.False(t, NewTaskEvent(TaskCreated, syncTask.ID, syncTask, at).MakesWorkAvailable())
	assert.True(t, NewTaskEvent(TaskReleased, syncTask.ID, syncTask, at).MakesWorkAvailable(), "a released sync task is claimable")
	assert.True(t, NewTaskEvent(TaskCreated, async.ID, async, at).MakesWorkAvailable())
	assert.True(t, NewTaskEvent(TaskCreated, "t3", nil, at).MakesWorkAvailable())
	assert.Equal(t, domain.TaskModeSync, NewTaskEvent(TaskCreated, syncTask.ID, syncTask, at).Mode)
}
