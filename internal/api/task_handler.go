package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/phrazzld/contentq/internal/api/shared"
	"github.com/phrazzld/contentq/internal/domain"
	"github.com/phrazzld/contentq/internal/platform/logger"
	"github.com/phrazzld/contentq/internal/store"
)

// TaskQueue is the subset of the queue the HTTP layer drives.
type TaskQueue interface {
	Create(ctx context.Context, params domain.CreateTaskParams) (*domain.Task, error)
	FindByID(ctx context.Context, id string) (*domain.Task, bool, error)
	Update(ctx context.Context, id string, patch domain.TaskPatch) (*domain.Task, error)
	List(ctx context.Context, filter domain.TaskFilter, page domain.Pagination) (domain.TaskPage, error)
	Delete(ctx context.Context, id string) (bool, error)
	HealthCheck(ctx context.Context) bool
	Cancel(ctx context.Context, id string) (*domain.Task, bool, error)
	Retry(ctx context.Context, id string) (*domain.Task, error)
	ReleaseWorker(ctx context.Context, id, workerID string, expectedVersion int64) (*domain.Task, bool, error)
	GetResult(ctx context.Context, id string) (*domain.Result, bool, error)
	LoadStateSnapshot(ctx context.Context, id string) (*domain.StepSnapshot, bool, error)
}

// SyncRunner executes one task to completion on the calling goroutine.
type SyncRunner interface {
	Run(ctx context.Context, id string) (*domain.Task, error)
}

// TaskHandler serves the /api/tasks routes.
type TaskHandler struct {
	queue  TaskQueue
	inline SyncRunner
	logger *slog.Logger
}

// NewTaskHandler creates a TaskHandler. inline may be nil, in which case
// sync-mode submissions are rejected.
func NewTaskHandler(q TaskQueue, inline SyncRunner, logger *slog.Logger) *TaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskHandler{
		queue:  q,
		inline: inline,
		logger: logger.With("component", "task_handler"),
	}
}

// CreateTask handles POST /api/tasks. Async tasks are returned as soon as
// they are stored; sync tasks are executed before the response is written.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var params domain.CreateTaskParams
	if err := shared.DecodeJSON(w, r, &params); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	params.Normalize()
	if params.Mode == domain.TaskModeSync && h.inline == nil {
		HandleAPIError(w, r, ErrSyncUnavailable, "")
		return
	}

	task, err := h.queue.Create(r.Context(), params)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to create task")
		return
	}
	log := logger.FromContext(r.Context())
	log.Info("task submitted", "task_id", task.ID, "mode", task.Mode, "type", task.Type)

	if task.Mode != domain.TaskModeSync {
		shared.RespondWithJSON(w, r, http.StatusAccepted, CreateTaskResponse{Task: task})
		return
	}

	final, err := h.inline.Run(r.Context(), task.ID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to execute task")
		return
	}
	resp := CreateTaskResponse{Task: final}
	if final.Status == domain.TaskStatusCompleted {
		result, found, err := h.queue.GetResult(r.Context(), final.ID)
		if err != nil {
			HandleAPIError(w, r, err, "Failed to load task result")
			return
		}
		if found {
			resp.Result = result
		}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// ListTasks handles GET /api/tasks.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	filter, err := parseTaskFilter(r.URL.Query())
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	page, err := parsePagination(r.URL.Query())
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	result, err := h.queue.List(r.Context(), filter, page)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list tasks")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, ListTasksResponse{
		Items:  result.Items,
		Total:  result.Total,
		Limit:  page.Limit,
		Offset: page.Offset,
	})
}

// GetTask handles GET /api/tasks/{id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	task, found, err := h.queue.FindByID(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to load task")
		return
	}
	if !found {
		HandleAPIError(w, r, store.ErrTaskNotFound, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, task)
}

// UpdateTask handles PATCH /api/tasks/{id}.
func (h *TaskHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var patch domain.TaskPatch
	if err := shared.DecodeJSON(w, r, &patch); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	task, err := h.queue.Update(r.Context(), id, patch)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to update task")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, task)
}

// DeleteTask handles DELETE /api/tasks/{id}.
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	deleted, err := h.queue.Delete(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to delete task")
		return
	}
	if !deleted {
		HandleAPIError(w, r, store.ErrTaskNotFound, "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CancelTask handles POST /api/tasks/{id}/cancel.
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	task, cancelled, err := h.queue.Cancel(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to cancel task")
		return
	}
	if !cancelled {
		h.rejected(w, r, id, "cancel")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, task)
}

// RetryTask handles POST /api/tasks/{id}/retry. The response is the new task.
func (h *TaskHandler) RetryTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	task, err := h.queue.Retry(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to retry task")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusCreated, task)
}

// ReleaseTask handles POST /api/tasks/{id}/release.
func (h *TaskHandler) ReleaseTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req ReleaseTaskRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		HandleAPIError(w, r, fmt.Errorf("%w: %v", domain.ErrValidation, err), "")
		return
	}

	task, released, err := h.queue.ReleaseWorker(r.Context(), id, req.WorkerID, req.Version)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to release task")
		return
	}
	if !released {
		h.rejected(w, r, id, "release")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, task)
}

// GetResult handles GET /api/tasks/{id}/result.
func (h *TaskHandler) GetResult(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	result, found, err := h.queue.GetResult(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to load result")
		return
	}
	if !found {
		HandleAPIError(w, r, store.ErrResultNotFound, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, result)
}

// GetSnapshot handles GET /api/tasks/{id}/snapshot.
func (h *TaskHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	snapshot, found, err := h.queue.LoadStateSnapshot(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to load snapshot")
		return
	}
	if !found {
		HandleAPIError(w, r, store.ErrSnapshotNotFound, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, snapshot)
}

// Health handles GET /health.
func (h *TaskHandler) Health(w http.ResponseWriter, r *http.Request) {
	if !h.queue.HealthCheck(r.Context()) {
		shared.RespondWithJSON(w, r, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable"})
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, HealthResponse{Status: "ok"})
}

func (h *TaskHandler) pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := getPathID(r)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return "", false
	}
	return id, true
}

// rejected answers a guarded write that returned ok=false: 404 when the task
// is gone, 409 otherwise.
func (h *TaskHandler) rejected(w http.ResponseWriter, r *http.Request, id, op string) {
	_, found, err := h.queue.FindByID(r.Context(), id)
	switch {
	case err != nil:
		HandleAPIError(w, r, err, "Failed to load task")
	case !found:
		HandleAPIError(w, r, store.ErrTaskNotFound, "")
	default:
		HandleAPIError(w, r, fmt.Errorf("%s task %s: %w", op, id, ErrConflict), "")
	}
}
