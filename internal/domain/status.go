package domain

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// allowedTransitions is the lifecycle graph. running -> pending is the
// release/reclaim edge; terminal statuses have no outgoing edges.
var allowedTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending: {TaskStatusRunning, TaskStatusCancelled},
	TaskStatusRunning: {TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled, TaskStatusPending},
}

// IsValid reports whether the status is one of the known values.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusCompleted,
		TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further lifecycle transition is accepted.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// CanTransition reports whether the lifecycle graph has an edge from -> to.
func CanTransition(from, to TaskStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SourcesFor returns every status that may transition into to.
// The result is ordered the same way for every call.
func SourcesFor(to TaskStatus) []TaskStatus {
	var sources []TaskStatus
	for _, from := range []TaskStatus{TaskStatusPending, TaskStatusRunning} {
		if CanTransition(from, to) {
			sources = append(sources, from)
		}
	}
	return sources
}

// ActiveStatuses are the non-terminal statuses.
func ActiveStatuses() []TaskStatus {
	return []TaskStatus{TaskStatusPending, TaskStatusRunning}
}

// RetryAspect names one of the per-aspect retry counters on a task.
type RetryAspect string

// Retry counters tracked on a task
const (
	RetryAspectTask  RetryAspect = "task"
	RetryAspectText  RetryAspect = "text"
	RetryAspectImage RetryAspect = "image"
)

// IsValid reports whether the aspect maps to a counter.
func (a RetryAspect) IsValid() bool {
	return a == RetryAspectTask || a == RetryAspectText || a == RetryAspectImage
}
