package domain

import (
	"time"
)

// TaskMode selects how a task is executed once created.
type TaskMode string

// Possible task modes
const (
	// TaskModeSync executes the task inline on the caller's goroutine.
	TaskModeSync TaskMode = "sync"
	// TaskModeAsync leaves the task pending for the worker pool.
	TaskModeAsync TaskMode = "async"
)

// TaskType names the content workflow a task runs.
type TaskType string

// Task type constants
const (
	TaskTypeArticle TaskType = "article"
	TaskTypeSocial  TaskType = "social"
)

// IsValid reports whether the mode is known.
func (m TaskMode) IsValid() bool {
	return m == TaskModeSync || m == TaskModeAsync
}

// IsValid reports whether the type is known.
func (t TaskType) IsValid() bool {
	return t == TaskTypeArticle || t == TaskTypeSocial
}

// HardConstraints holds caller constraints on the generated artifact.
// The queue stores it as an opaque JSON document; only the executor reads it.
type HardConstraints struct {
	MinWords int      `json:"min_words,omitempty"`
	MaxWords int      `json:"max_words,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
}

// Task is the unit of work handed between producers and workers.
//
// Version is the optimistic concurrency token: it starts at 1 and every
// accepted mutation increments it by exactly one. WorkerID is non-empty only
// while Status is running, and CompletedAt is set only for terminal statuses.
type Task struct {
	ID              string          `json:"id"`
	Mode            TaskMode        `json:"mode"`
	Type            TaskType        `json:"type"`
	Priority        int             `json:"priority"`
	Topic           string          `json:"topic"`
	Requirements    string          `json:"requirements"`
	HardConstraints HardConstraints `json:"hard_constraints"`

	Status       TaskStatus `json:"status"`
	CurrentStep  string     `json:"current_step,omitempty"`
	WorkerID     string     `json:"worker_id,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`

	RetryCount      int `json:"retry_count"`
	TextRetryCount  int `json:"text_retry_count"`
	ImageRetryCount int `json:"image_retry_count"`

	Version int64 `json:"version"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the task so callers can hand it out
// without sharing mutable state.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.HardConstraints.Keywords != nil {
		c.HardConstraints.Keywords = append([]string(nil), t.HardConstraints.Keywords...)
	}
	if t.StartedAt != nil {
		started := *t.StartedAt
		c.StartedAt = &started
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		c.CompletedAt = &completed
	}
	return &c
}

// RetryCounter returns the counter value for the given aspect.
func (t *Task) RetryCounter(aspect RetryAspect) int {
	switch aspect {
	case RetryAspectText:
		return t.TextRetryCount
	case RetryAspectImage:
		return t.ImageRetryCount
	default:
		return t.RetryCount
	}
}

// IsTerminal reports whether the task has reached a terminal status.
func (t *Task) IsTerminal() bool {
	return t.Status.IsTerminal()
}
