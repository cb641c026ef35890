package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultOutbox is the Redis list the external mailer consumes.
const DefaultOutbox = "notifications:outbox"

// RedisQueue pushes notifications onto a Redis list.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue builds a queue writing to key, or DefaultOutbox when empty.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultOutbox
	}
	return &RedisQueue{client: client, key: key}
}

// Notify enqueues the message as JSON.
func (q *RedisQueue) Notify(ctx context.Context, message Message) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	return q.client.LPush(ctx, q.key, payload).Err()
}
