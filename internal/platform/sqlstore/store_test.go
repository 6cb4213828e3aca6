package sqlstore

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/contentq/internal/domain"
	"github.com/phrazzld/contentq/internal/store"
)

func TestRebindDollar(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"none", "SELECT 1", "SELECT 1"},
		{"ordered", "UPDATE t SET a = ? WHERE id = ? AND v = ?", "UPDATE t SET a = $1 WHERE id = $2 AND v = $3"},
		{"quoted literal", "SELECT '?' FROM t WHERE id = ?", "SELECT '?' FROM t WHERE id = $1"},
		{"more than nine", strings.Repeat("?,", 10) + "?", "$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, RebindDollar(tt.query))
		})
	}
}

func TestPlaceholders(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", placeholders(0))
	assert.Equal(t, "?", placeholders(1))
	assert.Equal(t, "?, ?, ?", placeholders(3))
}

func TestColumns(t *testing.T) {
	t.Parallel()

	assert.True(t, strings.HasPrefix(Columns(""), "id, mode, type"))
	assert.True(t, strings.HasPrefix(Columns("t"), "t.id, t.mode, t.type"))
	assert.Len(t, strings.Split(Columns("t"), ", "), len(taskColumns))
}

func TestBuildUpdate(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	completed := domain.TaskStatusCompleted

	t.Run("guarded completion", func(t *testing.T) {
		t.Parallel()

		query, args, err := buildUpdate("task-1", &store.Guard{
			ExpectedVersion: 4,
			Statuses:        []domain.TaskStatus{domain.TaskStatusRunning},
			WorkerID:        "worker-a",
		}, store.Changes{
			Status:         &completed,
			ClearWorker:    true,
			SetCompletedAt: true,
		}, now)
		require.NoError(t, err)

		assert.Contains(t, query, "version = version + 1")
		assert.Contains(t, query, "worker_id = NULL")
		assert.Contains(t, query, "WHERE id = ? AND version = ? AND status IN (?) AND worker_id = ?")
		assert.True(t, strings.HasSuffix(query, "RETURNING "+Columns("")))
		assert.Equal(t, strings.Count(query, "?"), len(args))
		assert.Equal(t, []any{now, "completed", now, "task-1", int64(4), "running", "worker-a"}, args)
	})

	t.Run("unconditional patch", func(t *testing.T) {
		t.Parallel()

		priority := 7
		topic := "  trimmed  "
		query, args, err := buildUpdate("task-2", nil, store.Changes{
			Patch: &domain.TaskPatch{
				Priority:        &priority,
				Topic:           &topic,
				HardConstraints: &domain.HardConstraints{MaxWords: 100},
			},
		}, now)
		require.NoError(t, err)

		assert.NotContains(t, query, "version = ?")
		assert.Contains(t, query, "priority = ?")
		assert.Contains(t, query, "hard_constraints = ?")
		assert.Equal(t, []any{now, 7, "trimmed", `{"max_words":100}`, "task-2"}, args)
	})

	t.Run("retry counters", func(t *testing.T) {
		t.Parallel()

		query, _, err := buildUpdate("task-3", nil, store.Changes{IncrementRetry: domain.RetryAspectText}, now)
		require.NoError(t, err)
		assert.Contains(t, query, "text_retry_count = text_retry_count + 1")

		_, _, err = buildUpdate("task-3", nil, store.Changes{IncrementRetry: "audio"}, now)
		assert.ErrorIs(t, err, domain.ErrInvalidRetryAspect)
	})
}

func TestFilterClause(t *testing.T) {
	t.Parallel()

	where, args := filterClause(domain.TaskFilter{})
	assert.Empty(t, where)
	assert.Empty(t, args)

	where, args = filterClause(domain.TaskFilter{Status: domain.TaskStatusRunning, WorkerID: "w"})
	assert.Equal(t, " WHERE status = ? AND worker_id = ?", where)
	assert.Equal(t, []any{"running", "w"}, args)
}

func TestTimestampScan(t *testing.T) {
	t.Parallel()

	want := time.Date(2026, 3, 1, 9, 0, 0, 500000000, time.UTC)
	inputs := []any{
		want,
		want.In(time.FixedZone("EST", -5*3600)),
		"2026-03-01 09:00:00.5+00:00",
		[]byte("2026-03-01T09:00:00.5Z"),
		"2026-03-01 09:00:00.5",
	}
	for _, in := range inputs {
		var ts timestamp
		require.NoError(t, ts.Scan(in), "input %v", in)
		assert.True(t, ts.Valid)
		assert.True(t, want.Equal(ts.Time), "input %v gave %s", in, ts.Time)
		assert.Equal(t, time.UTC, ts.Time.Location())
	}

	var null timestamp
	require.NoError(t, null.Scan(nil))
	assert.Nil(t, null.Ptr())

	var bad timestamp
	assert.Error(t, bad.Scan("yesterday"))
	assert.Error(t, bad.Scan(42))
}
