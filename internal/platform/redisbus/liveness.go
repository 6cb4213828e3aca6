package redisbus

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/phrazzld/contentq/internal/task"
)

const livenessPrefix = "contentq:worker:"

// Liveness stores one key per worker that expires after the beat TTL.
type Liveness struct {
	client *redis.Client
	prefix string
}

var _ task.Liveness = (*Liveness)(nil)

// NewLiveness creates a Liveness on client.
func NewLiveness(client *redis.Client) *Liveness {
	return &Liveness{client: client, prefix: livenessPrefix}
}

func (l *Liveness) key(workerID string) string {
	return l.prefix + workerID
}

// Beat implements task.Liveness.
func (l *Liveness) Beat(ctx context.Context, workerID string, ttl time.Duration) error {
	if err := l.client.Set(ctx, l.key(workerID), time.Now().UTC().Format(time.RFC3339), ttl).Err(); err != nil {
		return fmt.Errorf("heartbeat for %s: %w", workerID, err)
	}
	return nil
}

// Alive implements task.Liveness.
func (l *Liveness) Alive(ctx context.Context, workerID string) (bool, error) {
	n, err := l.client.Exists(ctx, l.key(workerID)).Result()
	if err != nil {
		return false, fmt.Errorf("check liveness of %s: %w", workerID, err)
	}
	return n > 0, nil
}

// Remove implements task.Liveness.
func (l *Liveness) Remove(ctx context.Context, workerID string) error {
	if err := l.client.Del(ctx, l.key(workerID)).Err(); err != nil {
		return fmt.Errorf("remove liveness of %s: %w", workerID, err)
	}
	return nil
}
