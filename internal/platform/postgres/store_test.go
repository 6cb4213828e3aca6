package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/contentq/internal/domain"
	"github.com/phrazzld/contentq/internal/platform/postgres"
	"github.com/phrazzld/contentq/internal/platform/sqlstore"
	"github.com/phrazzld/contentq/internal/store"
	"github.com/phrazzld/contentq/internal/store/storetest"
	"github.com/phrazzld/contentq/internal/testdb"
)

func TestTaskStoreConformance(t *testing.T) {
	if !testdb.IsIntegrationTestEnvironment() {
		t.Skip("DATABASE_URL or CONTENTQ_TEST_DB_URL not set - skipping integration test")
	}
	storetest.Run(t, func(t *testing.T) store.TaskStore {
		return sqlstore.New(testdb.GetTestDBWithT(t), postgres.Dialect{}, nil)
	})
}

func TestTaskStore_DeleteCascades(t *testing.T) {
	db := testdb.GetTestDBWithT(t)
	s := sqlstore.New(db, postgres.Dialect{}, nil)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	task := domain.NewTask(domain.CreateTaskParams{ID: "cascade", Topic: "t", Mode: domain.TaskModeAsync, Type: domain.TaskTypeArticle}, now)
	require.NoError(t, s.Insert(ctx, task))

	_, ok, err := s.Apply(ctx, task.ID, &store.Guard{ExpectedVersion: 1}, store.Changes{
		Snapshot: &domain.StepSnapshot{Step: "draft", State: []byte(`{"n":1}`), CreatedAt: now},
	}, now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, testdb.CountRows(t, db, "task_snapshots"))

	deleted, err := s.Delete(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, 0, testdb.CountRows(t, db, "task_snapshots"))
}

func TestTaskStore_DuplicateInsert(t *testing.T) {
	db := testdb.GetTestDBWithT(t)
	s := sqlstore.New(db, postgres.Dialect{}, nil)
	ctx := context.Background()

	task := domain.NewTask(domain.CreateTaskParams{ID: "dup", Topic: "t", Mode: domain.TaskModeAsync, Type: domain.TaskTypeArticle}, time.Now().UTC())
	require.NoError(t, s.Insert(ctx, task))
	err := s.Insert(ctx, task)
	assert.ErrorIs(t, err, store.ErrTaskExists)
}
