// Package task runs claimed content tasks to completion. An Executor drives
// one task through its draft and review steps using the queue's lifecycle
// API. A Runner claims work for a worker ID and feeds a WorkerPool; a
// Supervisor hands tasks of dead workers back to the queue; an InlineRunner
// executes sync-mode tasks on the caller's goroutine.
package task
