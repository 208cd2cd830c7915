package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// QueueKey is the Redis list a delivery worker consumes (push, email, SMS —
// whatever the deployment wires up).
const QueueKey = "notifications:unreachable"

type queuedNotification struct {
	Target    string    `json:"target"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// RedisNotifier enqueues unreachable-target notifications onto a Redis list.

type RedisNotifier struct {
	rdb *redis.Client
	log *slog.Logger
}

func NewRedisNotifier(rdb *redis.Client, log *slog.Logger) *RedisNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &RedisNotifier{rdb: rdb, log: log}
}

func (n *RedisNotifier) NotifyUnreachable(ctx context.Context, targetIdentity, text string) {
	payload, err := json.Marshal(queuedNotification{
		Target:    targetIdentity,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		n.log.Warn("notification marshal failed", "target", targetIdentity, "err", err)
		return
	}
	if err := n.rdb.LPush(ctx, QueueKey, payload).Err(); err != nil {
		n.log.Warn("notification enqueue failed", "target", targetIdentity, "err", err)
	}
}
