package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/phrazzld/contentq/internal/domain"
)

// taskColumns is the column list every task query selects, in scan order.
var taskColumns = []string{
	"id", "mode", "type", "priority", "topic", "requirements", "hard_constraints",
	"status", "current_step", "worker_id", "error_message",
	"retry_count", "text_retry_count", "image_retry_count", "version",
	"created_at", "updated_at", "started_at", "completed_at",
}

// Columns returns the task column list, each qualified with prefix when set.
func Columns(prefix string) string {
	if prefix == "" {
		return strings.Join(taskColumns, ", ")
	}
	qualified := make([]string, len(taskColumns))
	for i, c := range taskColumns {
		qualified[i] = prefix + "." + c
	}
	return strings.Join(qualified, ", ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		t           domain.Task
		constraints string
		workerID    sql.NullString
		createdAt   timestamp
		updatedAt   timestamp
		startedAt   timestamp
		completedAt timestamp
	)
	err := row.Scan(
		&t.ID, &t.Mode, &t.Type, &t.Priority, &t.Topic, &t.Requirements, &constraints,
		&t.Status, &t.CurrentStep, &workerID, &t.ErrorMessage,
		&t.RetryCount, &t.TextRetryCount, &t.ImageRetryCount, &t.Version,
		&createdAt, &updatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	if constraints != "" {
		if err := json.Unmarshal([]byte(constraints), &t.HardConstraints); err != nil {
			return nil, fmt.Errorf("decode hard_constraints of task %s: %w", t.ID, err)
		}
	}
	t.WorkerID = workerID.String
	t.CreatedAt = createdAt.Time
	t.UpdatedAt = updatedAt.Time
	t.StartedAt = startedAt.Ptr()
	t.CompletedAt = completedAt.Ptr()
	return &t, nil
}

// timestampFormats are the text layouts a driver may hand back when it
// cannot type a column, as SQLite does for some RETURNING results.
var timestampFormats = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	time.RFC3339Nano,
}

// timestamp scans a nullable time stored natively or as text. The value
// is normalised to UTC.
type timestamp struct {
	Time  time.Time
	Valid bool
}

// Scan implements sql.Scanner.
func (ts *timestamp) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*ts = timestamp{}
		return nil
	case time.Time:
		*ts = timestamp{Time: v.UTC(), Valid: true}
		return nil
	case []byte:
		return ts.parse(string(v))
	case string:
		return ts.parse(v)
	default:
		return fmt.Errorf("cannot scan %T into timestamp", src)
	}
}

func (ts *timestamp) parse(s string) error {
	s = strings.TrimSpace(s)
	for _, layout := range timestampFormats {
		if parsed, err := time.Parse(layout, s); err == nil {
			*ts = timestamp{Time: parsed.UTC(), Valid: true}
			return nil
		}
	}
	return fmt.Errorf("cannot parse timestamp %q", s)
}

// Ptr returns nil for NULL.
func (ts timestamp) Ptr() *time.Time {
	if !ts.Valid {
		return nil
	}
	v := ts.Time
	return &v
}

func scanTasks(rows *sql.Rows) ([]*domain.Task, error) {
	defer rows.Close()

	tasks := make([]*domain.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

func encodeConstraints(c domain.HardConstraints) (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode hard constraints: %w", err)
	}
	return string(b), nil
}
