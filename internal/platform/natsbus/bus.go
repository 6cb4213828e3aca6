// Package natsbus carries worker wakeups over a NATS subject. It is the
// alternative to redisbus for deployments that already run NATS.
package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/phrazzld/contentq/internal/events"
	"github.com/phrazzld/contentq/internal/task"
)

// Bus publishes and receives wakeups on one subject.
type Bus struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

var _ events.EventHandler = (*Bus)(nil)

// Connect dials url and returns a Bus for subject.
func Connect(url, subject string, logger *slog.Logger) (*Bus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(url,
		nats.Name("contentq"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	logger.Info("connected to nats", "url", conn.ConnectedUrl(), "subject", subject)
	return New(conn, subject, logger), nil
}

// New wraps an existing connection.
func New(conn *nats.Conn, subject string, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		conn:    conn,
		subject: subject,
		logger:  logger.With("component", "nats_bus"),
	}
}

// HandleEvent implements events.EventHandler by publishing events that
// make work available.
func (b *Bus) HandleEvent(ctx context.Context, event *events.TaskEvent) error {
	if !event.MakesWorkAvailable() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode wakeup: %w", err)
	}
	if err := b.conn.Publish(b.subject, payload); err != nil {
		return fmt.Errorf("publish wakeup: %w", err)
	}
	b.logger.DebugContext(ctx, "published wakeup", "event_type", event.Type, "task_id", event.TaskID)
	return nil
}

// Subscribe notifies n for every wakeup until ctx is done.
func (b *Bus) Subscribe(ctx context.Context, n task.Notifier) error {
	sub, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
		var ev events.TaskEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			b.logger.Warn("ignoring malformed wakeup", "error", err)
			return
		}
		b.logger.Debug("received wakeup", "event_type", ev.Type, "task_id", ev.TaskID)
		n.Notify()
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", b.subject, err)
	}
	if err := b.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("subscribe to %s: %w", b.subject, err)
	}

	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()

	b.logger.InfoContext(ctx, "subscribed to wakeups", "subject", b.subject)
	return nil
}

// Close drains the connection.
func (b *Bus) Close() error {
	return b.conn.Drain()
}
