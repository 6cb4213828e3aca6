package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTaskParams_Validate(t *testing.T) {
	t.Parallel()

	valid := func() CreateTaskParams {
		p := CreateTaskParams{
			Topic:        "AI trends",
			Requirements: "focus on language models",
			HardConstraints: HardConstraints{
				MinWords: 500,
				MaxWords: 1000,
				Keywords: []string{"AI"},
			},
		}
		p.Normalize()
		return p
	}

	t.Run("defaults applied", func(t *testing.T) {
		t.Parallel()
		p := valid()
		assert.Equal(t, TaskModeAsync, p.Mode)
		assert.Equal(t, TaskTypeArticle, p.Type)
		assert.NoError(t, p.Validate())
	})

	t.Run("missing topic", func(t *testing.T) {
		t.Parallel()
		p := valid()
		p.Topic = "   "
		p.Normalize()
		err := p.Validate()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("unknown mode", func(t *testing.T) {
		t.Parallel()
		p := valid()
		p.Mode = "batch"
		assert.ErrorIs(t, p.Validate(), ErrValidation)
	})

	t.Run("inverted word bounds", func(t *testing.T) {
		t.Parallel()
		p := valid()
		p.HardConstraints.MinWords = 2000
		assert.ErrorIs(t, p.Validate(), ErrValidation)
	})
}

func TestNewTask(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p := CreateTaskParams{ID: "t-1", Topic: "topic", Priority: 5}
	p.Normalize()

	task := NewTask(p, now)
	assert.Equal(t, "t-1", task.ID)
	assert.Equal(t, TaskStatusPending, task.Status)
	assert.Equal(t, int64(1), task.Version)
	assert.Equal(t, 5, task.Priority)
	assert.Equal(t, now, task.CreatedAt)
	assert.Equal(t, now, task.UpdatedAt)
	assert.Nil(t, task.StartedAt)
	assert.Nil(t, task.CompletedAt)
	assert.Empty(t, task.WorkerID)
}

func TestPagination_Normalize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Pagination{Limit: DefaultPageLimit}, Pagination{}.Normalize())
	assert.Equal(t, Pagination{Limit: MaxPageLimit, Offset: 0}, Pagination{Limit: 10000, Offset: -3}.Normalize())
	assert.Equal(t, Pagination{Limit: 10, Offset: 20}, Pagination{Limit: 10, Offset: 20}.Normalize())
}

func TestTaskPatch(t *testing.T) {
	t.Parallel()

	assert.True(t, TaskPatch{}.IsEmpty())

	empty := ""
	assert.ErrorIs(t, TaskPatch{Topic: &empty}.Validate(), ErrValidation)

	priority := 9
	topic := "  new topic "
	task := &Task{Priority: 1, Topic: "old"}
	patch := TaskPatch{Priority: &priority, Topic: &topic}
	require.NoError(t, patch.Validate())
	patch.Apply(task)
	assert.Equal(t, 9, task.Priority)
	assert.Equal(t, "new topic", task.Topic)
}

func TestTask_Clone(t *testing.T) {
	t.Parallel()

	started := time.Now().UTC()
	original := &Task{
		ID:              "t",
		HardConstraints: HardConstraints{Keywords: []string{"a"}},
		StartedAt:       &started,
	}
	clone := original.Clone()
	clone.HardConstraints.Keywords[0] = "b"
	*clone.StartedAt = started.Add(time.Hour)

	assert.Equal(t, "a", original.HardConstraints.Keywords[0])
	assert.Equal(t, started, *original.StartedAt)
}
