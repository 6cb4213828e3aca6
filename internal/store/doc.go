// Package store defines the storage-adapter contract for tasks. Adapters
// (in-memory, SQLite, PostgreSQL) evaluate guarded writes atomically; the
// lifecycle rules that decide which guard applies live in package queue.
package store
