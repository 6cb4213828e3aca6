package store

import (
	"errors"
	"fmt"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist in the store.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when an operation would create a duplicate
	// of a unique entity (e.g., a task with an ID that is already taken).
	ErrDuplicate = errors.New("entity already exists")

	// ErrInvalidEntity is returned when an entity fails validation before
	// being stored. Check the wrapped error for specific validation details.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrTransactionFailed is returned when a database transaction fails
	// to commit or when an operation within a transaction fails.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrRetryable marks a transient backend fault: the database was busy
	// or a concurrent transaction won. Nothing was written.
	ErrRetryable = errors.New("retryable backend fault")

	// ErrStoreClosed is returned by adapters after Close.
	ErrStoreClosed = errors.New("store is closed")

	// ErrTaskNotFound indicates that the requested task does not exist in the store.
	ErrTaskNotFound = fmt.Errorf("%w: task", ErrNotFound)

	// ErrSnapshotNotFound indicates that no snapshot was saved for the task.
	ErrSnapshotNotFound = fmt.Errorf("%w: snapshot", ErrNotFound)

	// ErrResultNotFound indicates that the task has no stored result.
	ErrResultNotFound = fmt.Errorf("%w: result", ErrNotFound)

	// ErrTaskExists indicates that a task with the given ID already exists.
	ErrTaskExists = fmt.Errorf("%w: task", ErrDuplicate)
)

// IsNotFoundError checks if the error is any kind of "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicateError checks if the error is any kind of "duplicate" error.
func IsDuplicateError(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

// IsRetryableError reports whether err is a transient backend fault, such as
// lock contention, after which the same call may succeed.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRetryable)
}
