package task

import (
	"encoding/json"
	"fmt"

	"github.com/phrazzld/contentq/internal/domain"
	"github.com/phrazzld/contentq/internal/generation"
)

// workflowState is the snapshot payload. It carries enough to resume a
// reclaimed task without regenerating a draft that was already written.
type workflowState struct {
	Step     string                `json:"step"`
	Attempt  int                   `json:"attempt"`
	Draft    string                `json:"draft,omitempty"`
	Previous string                `json:"previous_draft,omitempty"`
	Feedback []string              `json:"feedback,omitempty"`
	Quality  *domain.QualityReport `json:"quality,omitempty"`
}

func initialState() workflowState {
	return workflowState{Step: StepDraft, Attempt: 1}
}

func decodeState(snap *domain.StepSnapshot) (workflowState, error) {
	var st workflowState
	if err := json.Unmarshal(snap.State, &st); err != nil {
		return workflowState{}, fmt.Errorf("decode workflow snapshot: %w", err)
	}
	if st.Attempt < 1 {
		st.Attempt = 1
	}
	return st, nil
}

func (st workflowState) snapshot() (domain.StepSnapshot, error) {
	raw, err := json.Marshal(st)
	if err != nil {
		return domain.StepSnapshot{}, fmt.Errorf("encode workflow snapshot: %w", err)
	}
	return domain.StepSnapshot{Step: st.Step, State: raw}, nil
}

// rewrite returns the state for the next draft after a failed review.
func (st workflowState) rewrite() workflowState {
	next := workflowState{
		Step:     StepDraft,
		Attempt:  st.Attempt + 1,
		Previous: st.Draft,
	}
	if st.Quality != nil {
		next.Feedback = append([]string(nil), st.Quality.Notes...)
	}
	return next
}

func (st workflowState) request(t *domain.Task) generation.Request {
	req := generation.RequestForTask(t)
	req.Attempt = st.Attempt
	req.PreviousDraft = st.Previous
	req.Feedback = st.Feedback
	return req
}
