// Package testdb provides database helpers for integration tests. PostgreSQL
// tests are skipped unless a database URL is configured; SQLite tests run
// against a file in t.TempDir.
package testdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	_ "github.com/mattn/go-sqlite3"    // sqlite3 driver
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/contentq/internal/platform/migrations"
)

// TestTimeout defines a default timeout for test database operations.
const TestTimeout = 5 * time.Second

// GetTestDatabaseURL returns the PostgreSQL URL for tests. It checks
// DATABASE_URL and CONTENTQ_TEST_DB_URL in that order.
func GetTestDatabaseURL() string {
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		return dbURL
	}
	return os.Getenv("CONTENTQ_TEST_DB_URL")
}

// IsIntegrationTestEnvironment reports whether a PostgreSQL URL is set.
func IsIntegrationTestEnvironment() bool {
	return GetTestDatabaseURL() != ""
}

// GetTestDBWithT opens a migrated, empty PostgreSQL database. The test is
// skipped when no database URL is configured. The connection is closed
// on cleanup unless the caller closes it first.
func GetTestDBWithT(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := GetTestDatabaseURL()
	if dbURL == "" {
		t.Skip("DATABASE_URL or CONTENTQ_TEST_DB_URL not set - skipping integration test")
	}

	db, err := sql.Open("pgx", dbURL)
	require.NoError(t, err, "Failed to open database connection")
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	t.Cleanup(func() { CleanupDB(t, db) })

	ctx, cancel := context.WithTimeout(context.Background(), TestTimeout)
	defer cancel()
	require.NoError(t, db.PingContext(ctx), "Database ping failed")

	require.NoError(t, migrations.Up(ctx, db, migrations.DialectPostgres), "Failed to run migrations")
	_, err = db.ExecContext(ctx, "TRUNCATE tasks CASCADE")
	require.NoError(t, err, "Failed to truncate tasks")
	return db
}

// SQLiteDSN returns a DSN for a fresh database file under t.TempDir.
func SQLiteDSN(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "contentq-test.db")
}

// CleanupDB closes a database connection, logging any errors.
func CleanupDB(t *testing.T, db *sql.DB) {
	t.Helper()
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		t.Logf("Warning: failed to close database connection: %v", err)
	}
}

// CountRows returns the number of rows in table. It is for assertions
// about cascades and cleanup that the store API does not expose.
func CountRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	err := db.QueryRowContext(context.Background(), fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&n)
	require.NoError(t, err, "Failed to count rows in %s", table)
	return n
}
