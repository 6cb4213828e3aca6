package domain

import (
	"encoding/json"
	"time"
)

// StepSnapshot is an executor-defined blob capturing enough state to resume
// or audit a task. Only the latest snapshot per task is kept.
type StepSnapshot struct {
	TaskID    string          `json:"task_id"`
	Step      string          `json:"step,omitempty"`
	State     json.RawMessage `json:"state"`
	CreatedAt time.Time       `json:"created_at"`
}

// Clone returns a copy that does not share the State buffer.
func (s *StepSnapshot) Clone() *StepSnapshot {
	if s == nil {
		return nil
	}
	c := *s
	c.State = append(json.RawMessage(nil), s.State...)
	return &c
}

// QualityReport summarises how a generated artifact measured up against
// the task's hard constraints.
type QualityReport struct {
	WordCount       int      `json:"word_count"`
	MissingKeywords []string `json:"missing_keywords,omitempty"`
	Score           float64  `json:"score"`
	Passed          bool     `json:"passed"`
	Notes           []string `json:"notes,omitempty"`
}

// Result is the artifact produced by a completed task.
type Result struct {
	TaskID    string        `json:"task_id"`
	Content   string        `json:"content"`
	Quality   QualityReport `json:"quality"`
	CreatedAt time.Time     `json:"created_at"`
}

// Clone returns a deep copy of the result.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	c := *r
	c.Quality.MissingKeywords = append([]string(nil), r.Quality.MissingKeywords...)
	c.Quality.Notes = append([]string(nil), r.Quality.Notes...)
	return &c
}
