package migrations

import (
	"context"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrations(t *testing.T) {
	t.Parallel()

	for _, dialect := range []string{DialectPostgres, DialectSQLite} {
		dir, err := dirFor(dialect)
		require.NoError(t, err)

		entries, err := fs.ReadDir(files, dir)
		require.NoError(t, err)
		require.NotEmpty(t, entries, "dialect %s has migrations", dialect)

		for _, entry := range entries {
			content, err := fs.ReadFile(files, dir+"/"+entry.Name())
			require.NoError(t, err)
			assert.Contains(t, string(content), "-- +goose Up")
			assert.Contains(t, string(content), "-- +goose Down")
			assert.Contains(t, string(content), "task_snapshots")
		}
	}
}

func TestRunRejectsUnknownInput(t *testing.T) {
	t.Parallel()

	err := Run(context.Background(), nil, "mysql", CommandUp)
	assert.ErrorContains(t, err, "unsupported migration dialect")
}
