package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Pagination defaults
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// CreateTaskParams carries everything a producer supplies when creating a task.
type CreateTaskParams struct {
	// ID is optional; a UUID is generated when empty.
	ID              string          `json:"id,omitempty" validate:"omitempty,max=128"`
	Mode            TaskMode        `json:"mode,omitempty" validate:"omitempty,oneof=sync async"`
	Type            TaskType        `json:"type,omitempty" validate:"omitempty,oneof=article social"`
	Priority        int             `json:"priority"`
	Topic           string          `json:"topic" validate:"required,max=1000"`
	Requirements    string          `json:"requirements" validate:"max=20000"`
	HardConstraints HardConstraints `json:"hard_constraints"`
}

// Normalize fills defaults for optional fields.
func (p *CreateTaskParams) Normalize() {
	p.ID = strings.TrimSpace(p.ID)
	p.Topic = strings.TrimSpace(p.Topic)
	if p.Mode == "" {
		p.Mode = TaskModeAsync
	}
	if p.Type == "" {
		p.Type = TaskTypeArticle
	}
}

// Validate checks the params against their struct tags and the
// constraint rules. The returned error wraps ErrValidation.
func (p *CreateTaskParams) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return p.HardConstraints.Validate()
}

// Validate checks that word bounds are coherent.
func (c HardConstraints) Validate() error {
	if c.MinWords < 0 || c.MaxWords < 0 {
		return fmt.Errorf("%w: word bounds cannot be negative", ErrValidation)
	}
	if c.MaxWords > 0 && c.MinWords > c.MaxWords {
		return fmt.Errorf("%w: min_words %d exceeds max_words %d", ErrValidation, c.MinWords, c.MaxWords)
	}
	return nil
}

// NewTask builds a pending task at version 1 from validated params.
func NewTask(p CreateTaskParams, now time.Time) *Task {
	return &Task{
		ID:              p.ID,
		Mode:            p.Mode,
		Type:            p.Type,
		Priority:        p.Priority,
		Topic:           p.Topic,
		Requirements:    p.Requirements,
		HardConstraints: p.HardConstraints,
		Status:          TaskStatusPending,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// TaskFilter narrows List and Count. Zero-valued fields match everything.
type TaskFilter struct {
	Status   TaskStatus `json:"status,omitempty"`
	Type     TaskType   `json:"type,omitempty"`
	Mode     TaskMode   `json:"mode,omitempty"`
	WorkerID string     `json:"worker_id,omitempty"`
}

// Matches reports whether the task satisfies the filter.
func (f TaskFilter) Matches(t *Task) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if f.Mode != "" && t.Mode != f.Mode {
		return false
	}
	if f.WorkerID != "" && t.WorkerID != f.WorkerID {
		return false
	}
	return true
}

// Pagination bounds a List call.
type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// Normalize clamps the page to sane bounds.
func (p Pagination) Normalize() Pagination {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// TaskPage is one page of a List call plus the unpaginated total.
type TaskPage struct {
	Items []*Task `json:"items"`
	Total int     `json:"total"`
}

// TaskPatch is an unconditional administrative edit. Nil fields are left
// untouched. Lifecycle fields are deliberately absent.
type TaskPatch struct {
	Priority        *int             `json:"priority,omitempty"`
	Topic           *string          `json:"topic,omitempty"`
	Requirements    *string          `json:"requirements,omitempty"`
	HardConstraints *HardConstraints `json:"hard_constraints,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p TaskPatch) IsEmpty() bool {
	return p.Priority == nil && p.Topic == nil && p.Requirements == nil && p.HardConstraints == nil
}

// Validate checks the patched values.
func (p TaskPatch) Validate() error {
	if p.Topic != nil && strings.TrimSpace(*p.Topic) == "" {
		return fmt.Errorf("%w: topic cannot be empty", ErrValidation)
	}
	if p.HardConstraints != nil {
		return p.HardConstraints.Validate()
	}
	return nil
}

// Apply writes the patch onto t.
func (p TaskPatch) Apply(t *Task) {
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Topic != nil {
		t.Topic = strings.TrimSpace(*p.Topic)
	}
	if p.Requirements != nil {
		t.Requirements = *p.Requirements
	}
	if p.HardConstraints != nil {
		hc := *p.HardConstraints
		hc.Keywords = append([]string(nil), p.HardConstraints.Keywords...)
		t.HardConstraints = hc
	}
}
