// Package api exposes the task queue over HTTP. Handlers translate requests
// into queue operations and map their outcomes onto status codes: a lost
// optimistic-concurrency race is 409, a missing task 404, invalid input 400.
package api
