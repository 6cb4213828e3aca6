package api

import "github.com/phrazzld/contentq/internal/domain"

// CreateTaskResponse is returned by POST /api/tasks. Result is set only for
// sync-mode tasks that completed.
type CreateTaskResponse struct {
	Task   *domain.Task   `json:"task"`
	Result *domain.Result `json:"result,omitempty"`
}

// ReleaseTaskRequest hands a running task back to the queue on behalf of
// its owner.
type ReleaseTaskRequest struct {
	WorkerID string `json:"worker_id" validate:"required,max=128"`
	Version  int64  `json:"version"   validate:"required,gt=0"`
}

// ListTasksResponse is one page of GET /api/tasks.
type ListTasksResponse struct {
	Items  []*domain.Task `json:"items"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}
