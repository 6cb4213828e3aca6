package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu     sync.Mutex
	events []*TaskEvent
	err    error
}

func (h *recordingHandler) HandleEvent(_ context.Context, event *TaskEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	return h.err
}

func TestInMemoryEventEmitter(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	event := NewTaskEvent(TaskCreated, "t-1", nil, time.Now())

	t.Run("emit event with no handlers", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(logger)
		assert.NoError(t, emitter.EmitEvent(context.Background(), event))
	})

	t.Run("emit event with successful handlers", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(logger)
		handler1 := &recordingHandler{}
		handler2 := &recordingHandler{}
		emitter.RegisterHandler(handler1)
		emitter.RegisterHandler(handler2)

		require.NoError(t, emitter.EmitEvent(context.Background(), event))

		assert.Equal(t, []*TaskEvent{event}, handler1.events)
		assert.Equal(t, []*TaskEvent{event}, handler2.events)
	})

	t.Run("emit event with failing handler", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(logger)
		failing := &recordingHandler{err: errors.New("handler error")}
		success := &recordingHandler{}
		emitter.RegisterHandler(failing)
		emitter.RegisterHandler(success)

		err := emitter.EmitEvent(context.Background(), event)
		require.Error(t, err)
		assert.Equal(t, "handler error", err.Error())
		assert.Len(t, success.events, 1, "later handlers still receive the event")
	})

	t.Run("handler func adapter", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(nil)
		var got EventType
		emitter.RegisterHandler(HandlerFunc(func(_ context.Context, ev *TaskEvent) error {
			got = ev.Type
			return nil
		}))
		require.NoError(t, emitter.EmitEvent(context.Background(), event))
		assert.Equal(t, TaskCreated, got)
	})
}
