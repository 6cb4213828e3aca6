// Package queue implements the task lifecycle engine: creation, the
// compare-and-swap claim protocol, lease-based reclaim of abandoned work, and
// the guarded transitions a worker drives while executing a task.
//
// Every mutation is expressed as a store.Guard plus store.Changes and handed
// to a store.TaskStore, which evaluates both in one atomic step. Losing a race,
// a stale version, a missing task and an illegal transition all surface as
// ok=false with a nil error; errors are reserved for backend faults and
// invalid arguments. The queue never retries a rejected write on the caller's
// behalf.
package queue
