package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/phrazzld/contentq/internal/api/shared"
	"github.com/phrazzld/contentq/internal/auth"
	"github.com/phrazzld/contentq/internal/domain"
	"github.com/phrazzld/contentq/internal/queue"
	"github.com/phrazzld/contentq/internal/store"
)

// API-level errors for outcomes the queue reports as ok=false.
var (
	// ErrConflict means the task changed underneath the request or is not in
	// a status that allows the operation.
	ErrConflict = errors.New("task state conflict")

	// ErrSyncUnavailable is returned when a sync-mode task is submitted to a
	// server without an inline executor.
	ErrSyncUnavailable = errors.New("sync mode is not available")
)

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// leaking their types to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrTokenNotYetValid),
		errors.Is(err, auth.ErrMissingToken):
		return http.StatusUnauthorized

	case store.IsNotFoundError(err):
		return http.StatusNotFound

	case errors.Is(err, ErrConflict),
		errors.Is(err, domain.ErrTerminalTask),
		errors.Is(err, domain.ErrNotRetryable),
		errors.Is(err, queue.ErrUpdateContended),
		store.IsDuplicateError(err):
		return http.StatusConflict

	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrInvalidRetryAspect),
		errors.Is(err, store.ErrInvalidEntity),
		errors.Is(err, ErrSyncUnavailable):
		return http.StatusBadRequest

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout

	case errors.Is(err, context.Canceled),
		errors.Is(err, store.ErrStoreClosed),
		store.IsRetryableError(err):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client-facing message for err.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		return "Token expired"
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrTokenNotYetValid),
		errors.Is(err, auth.ErrMissingToken):
		return "Invalid token"

	case errors.Is(err, store.ErrResultNotFound):
		return "Result not found"
	case errors.Is(err, store.ErrSnapshotNotFound):
		return "Snapshot not found"
	case store.IsNotFoundError(err):
		return "Task not found"

	case store.IsDuplicateError(err):
		return "Task already exists"
	case errors.Is(err, domain.ErrTerminalTask):
		return "Task is already finished"
	case errors.Is(err, domain.ErrNotRetryable):
		return "Only failed or cancelled tasks can be retried"
	case errors.Is(err, queue.ErrUpdateContended),
		errors.Is(err, ErrConflict):
		return "Task was modified concurrently or is in the wrong state"

	case errors.Is(err, domain.ErrValidation):
		return SanitizeValidationError(err)
	case errors.Is(err, domain.ErrInvalidStatus):
		return "Invalid status"
	case errors.Is(err, domain.ErrInvalidRetryAspect):
		return "Invalid retry aspect"
	case errors.Is(err, store.ErrInvalidEntity):
		return "Invalid task data"
	case errors.Is(err, ErrSyncUnavailable):
		return "Sync mode is not available on this server"

	case errors.Is(err, context.DeadlineExceeded):
		return "Request timed out"
	case store.IsRetryableError(err):
		return "Service temporarily unavailable, please retry"
	case errors.Is(err, context.Canceled),
		errors.Is(err, store.ErrStoreClosed):
		return "Service unavailable"

	default:
		return "An unexpected error occurred"
	}
}

// SanitizeValidationError turns a validation error into a short message.
// Validator output is reduced to field and rule; messages written by the
// domain package are passed through.
func SanitizeValidationError(err error) string {
	errMsg := err.Error()

	if strings.Contains(errMsg, "Field validation") {
		// Key: 'CreateTaskParams.Topic' Error:Field validation for 'Topic' failed on the 'required' tag
		parts := strings.Split(errMsg, "Error:")
		if len(parts) >= 2 {
			fieldParts := strings.Split(parts[1], "'")
			if len(fieldParts) >= 3 {
				field := fieldParts[1]
				var tag string
				if len(fieldParts) >= 5 {
					tag = fieldParts[3]
				}
				if tag != "" {
					return fmt.Sprintf("Invalid %s: %s", field, getValidationTagMessage(tag))
				}
				return fmt.Sprintf("Invalid %s", field)
			}
		}
		return "Validation error"
	}

	prefix := domain.ErrValidation.Error() + ": "
	if i := strings.LastIndex(errMsg, prefix); i >= 0 {
		if detail := errMsg[i+len(prefix):]; detail != "" {
			return "Validation error: " + detail
		}
	}
	return "Validation error"
}

func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min", "gte", "gt":
		return "too small"
	case "max", "lte", "lt":
		return "too long"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}

// HandleAPIError writes the status and safe message for err and logs the
// redacted details. defaultMsg replaces the safe message for 500s.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, defaultMsg string) {
	status := MapErrorToStatusCode(err)
	msg := GetSafeErrorMessage(err)
	if status == http.StatusInternalServerError && defaultMsg != "" {
		msg = defaultMsg
	}
	shared.RespondWithErrorAndLog(w, r, status, msg, err)
}
