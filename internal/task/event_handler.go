package task

import (
	"context"
	"log/slog"

	"github.com/phrazzld/contentq/internal/events"
)

// Notifier is woken when new work may be claimable. *Runner satisfies it.
type Notifier interface {
	Notify()
}

// WakeupHandler implements events.EventHandler by waking a local runner
// whenever a task becomes claimable, so it does not wait for its next poll.
type WakeupHandler struct {
	notifier Notifier
	logger   *slog.Logger
}

// NewWakeupHandler creates a handler that notifies n.
func NewWakeupHandler(n Notifier, logger *slog.Logger) *WakeupHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WakeupHandler{
		notifier: n,
		logger:   logger.With("component", "wakeup_event_handler"),
	}
}

// HandleEvent implements events.EventHandler.
func (h *WakeupHandler) HandleEvent(ctx context.Context, event *events.TaskEvent) error {
	if !event.MakesWorkAvailable() {
		return nil
	}
	h.logger.DebugContext(ctx, "waking runner",
		"event_type", event.Type,
		"task_id", event.TaskID)
	h.notifier.Notify()
	return nil
}

// Ensure WakeupHandler implements events.EventHandler
var _ events.EventHandler = (*WakeupHandler)(nil)
