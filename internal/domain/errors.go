package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidStatus is returned when a status value is not one of the known statuses.
	ErrInvalidStatus = errors.New("invalid task status")

	// ErrInvalidRetryAspect is returned for an unknown retry counter name.
	ErrInvalidRetryAspect = errors.New("invalid retry aspect")

	// ErrTerminalTask is returned when an administrative edit targets a
	// task that already completed, failed, or was cancelled.
	ErrTerminalTask = errors.New("task is in a terminal state")

	// ErrNotRetryable is returned when a retry is requested for a task
	// that has not failed or been cancelled.
	ErrNotRetryable = errors.New("task is not retryable")
)
