// Package redisbus carries worker wakeups and liveness over Redis. Task
// events that make work claimable are published on a pub/sub channel;
// subscribed runners poll immediately instead of waiting for their timer.
// Worker heartbeats are keys with a TTL.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/phrazzld/contentq/internal/config"
	"github.com/phrazzld/contentq/internal/events"
	"github.com/phrazzld/contentq/internal/task"
)

const pingTimeout = 5 * time.Second

// Bus publishes and receives wakeups on one Redis channel.
type Bus struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

var _ events.EventHandler = (*Bus)(nil)

// Connect opens a client for cfg and checks the server is reachable.
func Connect(ctx context.Context, cfg config.NotifyConfig, logger *slog.Logger) (*Bus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.InfoContext(ctx, "connected to redis", "addr", cfg.RedisAddr, "channel", cfg.Channel)
	return New(client, cfg.Channel, logger), nil
}

// New wraps an existing client.
func New(client *redis.Client, channel string, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		client:  client,
		channel: channel,
		logger:  logger.With("component", "redis_bus"),
	}
}

// Client exposes the underlying client for Liveness.
func (b *Bus) Client() *redis.Client {
	return b.client
}

// HandleEvent implements events.EventHandler by publishing events that
// make work available. Other events are ignored.
func (b *Bus) HandleEvent(ctx context.Context, event *events.TaskEvent) error {
	if !event.MakesWorkAvailable() {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode wakeup: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish wakeup: %w", err)
	}
	b.logger.DebugContext(ctx, "published wakeup", "event_type", event.Type, "task_id", event.TaskID)
	return nil
}

// Subscribe notifies n for every wakeup until ctx is done. It returns once
// the subscription is confirmed; delivery continues in the background.
func (b *Bus) Subscribe(ctx context.Context, n task.Notifier) error {
	sub := b.client.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe to %s: %w", b.channel, err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev events.TaskEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.logger.WarnContext(ctx, "ignoring malformed wakeup", "error", err)
					continue
				}
				b.logger.DebugContext(ctx, "received wakeup", "event_type", ev.Type, "task_id", ev.TaskID)
				n.Notify()
			}
		}
	}()

	b.logger.InfoContext(ctx, "subscribed to wakeups", "channel", b.channel)
	return nil
}

// Close closes the client.
func (b *Bus) Close() error {
	return b.client.Close()
}
