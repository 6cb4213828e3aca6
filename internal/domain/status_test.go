package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		from TaskStatus
		to   TaskStatus
		want bool
	}{
		{"pending to running", TaskStatusPending, TaskStatusRunning, true},
		{"pending to cancelled", TaskStatusPending, TaskStatusCancelled, true},
		{"pending to completed", TaskStatusPending, TaskStatusCompleted, false},
		{"running to completed", TaskStatusRunning, TaskStatusCompleted, true},
		{"running to failed", TaskStatusRunning, TaskStatusFailed, true},
		{"running to cancelled", TaskStatusRunning, TaskStatusCancelled, true},
		{"running back to pending", TaskStatusRunning, TaskStatusPending, true},
		{"completed to pending", TaskStatusCompleted, TaskStatusPending, false},
		{"failed to running", TaskStatusFailed, TaskStatusRunning, false},
		{"cancelled to pending", TaskStatusCancelled, TaskStatusPending, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CanTransition(tc.from, tc.to))
		})
	}
}

func TestSourcesFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []TaskStatus{TaskStatusRunning}, SourcesFor(TaskStatusCompleted))
	assert.Equal(t, []TaskStatus{TaskStatusPending, TaskStatusRunning}, SourcesFor(TaskStatusCancelled))
	assert.Equal(t, []TaskStatus{TaskStatusRunning}, SourcesFor(TaskStatusPending))
	assert.Empty(t, SourcesFor("bogus"))
}

func TestTaskStatus_IsTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, TaskStatusPending.IsTerminal())
	assert.False(t, TaskStatusRunning.IsTerminal())
	assert.True(t, TaskStatusCompleted.IsTerminal())
	assert.True(t, TaskStatusFailed.IsTerminal())
	assert.True(t, TaskStatusCancelled.IsTerminal())
	assert.False(t, TaskStatus("unknown").IsValid())
}

func TestTask_RetryCounter(t *testing.T) {
	t.Parallel()

	task := &Task{RetryCount: 1, TextRetryCount: 2, ImageRetryCount: 3}
	assert.Equal(t, 1, task.RetryCounter(RetryAspectTask))
	assert.Equal(t, 2, task.RetryCounter(RetryAspectText))
	assert.Equal(t, 3, task.RetryCounter(RetryAspectImage))
	assert.False(t, RetryAspect("video").IsValid())
}
