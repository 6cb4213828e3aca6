package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/phrazzld/contentq/internal/domain"
)

// maxTaskIDLength matches the column width in the SQL schemas.
const maxTaskIDLength = 128

// getPathID extracts and sanity-checks the {id} path parameter.
func getPathID(r *http.Request) (string, error) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		return "", fmt.Errorf("%w: task id is required", domain.ErrValidation)
	}
	if len(id) > maxTaskIDLength {
		return "", fmt.Errorf("%w: task id is too long", domain.ErrValidation)
	}
	return id, nil
}

// parseTaskFilter reads status, type, mode and worker_id from the query.
func parseTaskFilter(q url.Values) (domain.TaskFilter, error) {
	filter := domain.TaskFilter{
		Status:   domain.TaskStatus(q.Get("status")),
		Type:     domain.TaskType(q.Get("type")),
		Mode:     domain.TaskMode(q.Get("mode")),
		WorkerID: q.Get("worker_id"),
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		return filter, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, filter.Status)
	}
	if filter.Type != "" && !filter.Type.IsValid() {
		return filter, fmt.Errorf("%w: unknown task type %q", domain.ErrValidation, filter.Type)
	}
	if filter.Mode != "" && !filter.Mode.IsValid() {
		return filter, fmt.Errorf("%w: unknown task mode %q", domain.ErrValidation, filter.Mode)
	}
	return filter, nil
}

// parsePagination reads limit and offset. Missing values fall back to the
// defaults; out-of-range values are clamped.
func parsePagination(q url.Values) (domain.Pagination, error) {
	var page domain.Pagination
	var err error
	if v := q.Get("limit"); v != "" {
		if page.Limit, err = strconv.Atoi(v); err != nil {
			return page, fmt.Errorf("%w: limit must be an integer", domain.ErrValidation)
		}
	}
	if v := q.Get("offset"); v != "" {
		if page.Offset, err = strconv.Atoi(v); err != nil {
			return page, fmt.Errorf("%w: offset must be an integer", domain.ErrValidation)
		}
	}
	return page.Normalize(), nil
}
