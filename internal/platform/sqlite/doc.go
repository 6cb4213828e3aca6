// Package sqlite is the single-node SQLite backend for the task store,
// built on mattn/go-sqlite3. The database runs in WAL mode behind a single
// connection, so every claim and conditional write is serialised.
package sqlite
