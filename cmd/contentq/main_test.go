package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/contentq/internal/auth"
	"github.com/phrazzld/contentq/internal/config"
	"github.com/phrazzld/contentq/internal/domain"
)

// useSQLite points the CLI at a fresh database file for this test.
func useSQLite(t *testing.T) {
	t.Helper()
	t.Setenv("CONTENTQ_DATABASE_DRIVER", "sqlite")
	t.Setenv("CONTENTQ_DATABASE_SQLITE_PATH", filepath.Join(t.TempDir(), "contentq.db"))
	t.Setenv("CONTENTQ_SERVER_LOG_LEVEL", "error")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--env-file", ""}, args...))
	err := root.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	require.NoError(t, err, strings.Join(args, " "))
	return out
}

func TestTaskCommands(t *testing.T) {
	useSQLite(t)

	var created struct {
		Task domain.Task `json:"task"`
	}
	out := mustRun(t, "task", "create", "--topic", "cli tasks", "--priority", "3",
		"--min-words", "10", "--keyword", "queue", "--keyword", "lease")
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	id := created.Task.ID
	require.NotEmpty(t, id)
	assert.Equal(t, domain.TaskStatusPending, created.Task.Status)
	assert.Equal(t, []string{"queue", "lease"}, created.Task.HardConstraints.Keywords)

	var status domain.Task
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, "task", "status", id)), &status))
	assert.Equal(t, "cli tasks", status.Topic)
	assert.Equal(t, 3, status.Priority)

	var page domain.TaskPage
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, "task", "list", "--status", "pending")), &page))
	assert.Equal(t, 1, page.Total)

	_, err := run(t, "task", "retry", id)
	assert.ErrorIs(t, err, domain.ErrNotRetryable)

	_, err = run(t, "task", "release", id, "--worker-id", "w1")
	assert.Error(t, err)

	var cancelled domain.Task
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, "task", "cancel", id)), &cancelled))
	assert.Equal(t, domain.TaskStatusCancelled, cancelled.Status)

	_, err = run(t, "task", "cancel", id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already cancelled")

	var retried domain.Task
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, "task", "retry", id)), &retried))
	assert.NotEqual(t, id, retried.ID)
	assert.Equal(t, 1, retried.RetryCount)

	_, err = run(t, "task", "result", id)
	assert.Error(t, err)

	assert.Equal(t, "deleted "+id+"\n", mustRun(t, "task", "delete", id))
	_, err = run(t, "task", "status", id)
	assert.Error(t, err)
}

func TestTaskCreate_Invalid(t *testing.T) {
	useSQLite(t)

	_, err := run(t, "task", "create")
	assert.Error(t, err, "topic is required")

	_, err = run(t, "task", "create", "--topic", "x", "--min-words", "20", "--max-words", "5")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = run(t, "task", "list", "--status", "finished")
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestMigrateCommand(t *testing.T) {
	useSQLite(t)
	mustRun(t, "migrate", "up")
	mustRun(t, "migrate", "version")

	_, err := run(t, "migrate", "sideways")
	assert.Error(t, err)

	t.Setenv("CONTENTQ_DATABASE_DRIVER", "memory")
	_, err = run(t, "migrate")
	assert.Error(t, err)
}

func TestTokenCommand(t *testing.T) {
	useSQLite(t)

	_, err := run(t, "token", "--subject", "ops")
	assert.Error(t, err)

	secret := "cli-test-secret-that-is-long-enough-to-use"
	t.Setenv("CONTENTQ_AUTH_JWT_SECRET", secret)
	out := mustRun(t, "token", "--subject", "ops")

	tokens, err := auth.NewTokenService(config.AuthConfig{JWTSecret: secret})
	require.NoError(t, err)
	claims, err := tokens.Validate(context.Background(), strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
}

func TestSuperviseRequiresRedis(t *testing.T) {
	useSQLite(t)

	_, err := run(t, "supervise", "--once")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notify.driver=redis")
}

func TestWorkerRejectsMemoryStore(t *testing.T) {
	useSQLite(t)
	t.Setenv("CONTENTQ_DATABASE_DRIVER", "memory")

	_, err := run(t, "worker")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shared store")
}
