package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/contentq/internal/domain"
)

// EventType names a task lifecycle event.
type EventType string

// Task lifecycle events.
const (
	TaskCreated   EventType = "task.created"
	TaskUpdated   EventType = "task.updated"
	TaskClaimed   EventType = "task.claimed"
	TaskStep      EventType = "task.step"
	TaskRetried   EventType = "task.retry_incremented"
	TaskSnapshot  EventType = "task.snapshot_saved"
	TaskCompleted EventType = "task.completed"
	TaskFailed    EventType = "task.failed"
	TaskCancelled EventType = "task.cancelled"
	TaskReleased  EventType = "task.released"
	TaskDeleted   EventType = "task.deleted"
)

// MakesWorkAvailable reports whether the event leaves a task claimable.
func (t EventType) MakesWorkAvailable() bool {
	return t == TaskCreated || t == TaskReleased
}

// TaskEvent records one accepted task mutation.
type TaskEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	Type     EventType         `json:"type"`
	TaskID   string            `json:"task_id"`
	Status   domain.TaskStatus `json:"status,omitempty"`
	Version  int64             `json:"version,omitempty"`
	WorkerID string            `json:"worker_id,omitempty"`
	Priority int               `json:"priority"`
	Mode     domain.TaskMode   `json:"mode,omitempty"`

	// Detail carries the step label, retry aspect or error message.
	Detail string `json:"detail,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`
}

// NewTaskEvent builds an event from the task state after the mutation.
// A nil task yields an event carrying only the ID.
func NewTaskEvent(eventType EventType, taskID string, task *domain.Task, at time.Time) *TaskEvent {
	ev := &TaskEvent{
		ID:         uuid.New(),
		Type:       eventType,
		TaskID:     taskID,
		OccurredAt: at,
	}
	if task != nil {
		ev.Status = task.Status
		ev.Version = task.Version
		ev.WorkerID = task.WorkerID
		ev.Priority = task.Priority
		ev.Mode = task.Mode
	}
	return ev
}

// MakesWorkAvailable reports whether queue workers should be woken for
// this event. A sync task is executed by the request that created it, so
// its creation is not work for the queue.
func (e *TaskEvent) MakesWorkAvailable() bool {
	if e.Type == TaskCreated && e.Mode == domain.TaskModeSync {
		return false
	}
	return e.Type.MakesWorkAvailable()
}

// WithDetail sets Detail and returns the event.
func (e *TaskEvent) WithDetail(detail string) *TaskEvent {
	e.Detail = detail
	return e
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *TaskEvent) error
}

// HandlerFunc adapts a function to EventHandler.
type HandlerFunc func(ctx context.Context, event *TaskEvent) error

// HandleEvent calls f.
func (f HandlerFunc) HandleEvent(ctx context.Context, event *TaskEvent) error {
	return f(ctx, event)
}

// EventEmitter defines an interface for components that can emit events.
// This allows the queue to publish events without direct knowledge of handlers.
type EventEmitter interface {
	EmitEvent(ctx context.Context, event *TaskEvent) error
}

// Discard is an emitter that drops every event.
var Discard EventEmitter = discard{}

type discard struct{}

func (discard) EmitEvent(context.Context, *TaskEvent) error { return nil }
