package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/contentq/internal/domain"
)

func TestReview(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		content     string
		constraints domain.HardConstraints
		wantPassed  bool
		wantScore   float64
		wantNotes   []string
		wantMissing []string
	}{
		{
			name:       "no constraints",
			content:    "anything goes",
			wantPassed: true,
			wantScore:  1,
		},
		{
			name:        "too short",
			content:     words(5),
			constraints: domain.HardConstraints{MinWords: 10},
			wantScore:   0.7,
			wantNotes:   []string{"too short: 5 words, need at least 10"},
		},
		{
			name:        "too long",
			content:     words(20),
			constraints: domain.HardConstraints{MaxWords: 10},
			wantScore:   0.7,
			wantNotes:   []string{"too long: 20 words, limit is 10"},
		},
		{
			name:        "keywords are case insensitive",
			content:     "Goroutines and CHANNELS",
			constraints: domain.HardConstraints{Keywords: []string{"goroutine", "channels", "select"}},
			wantScore:   0.87,
			wantNotes:   []string{"missing keywords: select"},
			wantMissing: []string{"select"},
		},
		{
			name:        "empty content",
			content:     "   ",
			constraints: domain.HardConstraints{},
			wantScore:   0.4,
			wantNotes:   []string{"content is empty"},
		},
		{
			name:        "within bounds",
			content:     words(10, "queue"),
			constraints: domain.HardConstraints{MinWords: 5, MaxWords: 20, Keywords: []string{"queue"}},
			wantPassed:  true,
			wantScore:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			report := Review(tt.content, tt.constraints)
			assert.Equal(t, tt.wantPassed, report.Passed)
			assert.InDelta(t, tt.wantScore, report.Score, 0.001)
			assert.Equal(t, tt.wantNotes, report.Notes)
			assert.Equal(t, tt.wantMissing, report.MissingKeywords)
		})
	}
}

func TestWorkflowState(t *testing.T) {
	t.Parallel()

	st := initialState()
	assert.Equal(t, StepDraft, st.Step)
	assert.Equal(t, 1, st.Attempt)

	st.Draft = "first"
	st.Quality = &domain.QualityReport{Notes: []string{"too short"}}
	next := st.rewrite()
	assert.Equal(t, 2, next.Attempt)
	assert.Equal(t, "first", next.Previous)
	assert.Empty(t, next.Draft)
	assert.Nil(t, next.Quality)
	assert.Equal(t, []string{"too short"}, next.Feedback)

	snap, err := next.snapshot()
	require.NoError(t, err)
	assert.Equal(t, StepDraft, snap.Step)

	decoded, err := decodeState(&snap)
	require.NoError(t, err)
	assert.Equal(t, next, decoded)

	req := decoded.request(&domain.Task{ID: "t1", Topic: "topic", Type: domain.TaskTypeSocial})
	assert.Equal(t, "t1", req.TaskID)
	assert.Equal(t, 2, req.Attempt)
	assert.Equal(t, "first", req.PreviousDraft)

	_, err = decodeState(&domain.StepSnapshot{State: []byte(`{"attempt":`)})
	assert.Error(t, err)

	zero, err := decodeState(&domain.StepSnapshot{State: []byte(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, 1, zero.Attempt)
}
