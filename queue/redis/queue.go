// Package redis provides a Redis-backed message queue for environments
// without a RabbitMQ broker. Messages are JSON list entries; Dequeue blocks
// with BLPOP so workers can idle cheaply.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/evocrestco/api-exchange-core-sub000/message"
)

// Config configures the Redis queue.
type Config struct {
	// RedisURL is the connection URL, e.g. redis://localhost:6379/0.
	RedisURL string
	// KeyPrefix namespaces the queue keys. Defaults to "exchange:".
	KeyPrefix string
}

// Queue moves framework messages through Redis lists.
type Queue struct {
	client *redis.Client
	prefix string
}

// NewQueue connects to Redis and verifies the connection.
func NewQueue(ctx context.Context, config Config) (*Queue, error) {
	redisURL := config.RedisURL
	if redisURL == "" {
		redisURL = "redis://localhost:6379/0"
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := config.KeyPrefix
	if prefix == "" {
		prefix = "exchange:"
	}
	return &Queue{client: client, prefix: prefix}, nil
}

// Close closes the Redis connection.
func (q *Queue) Close() error {
	return q.client.Close()
}

// Publish appends a message to the named queue. Satisfies the same contract
// as the RabbitMQ publisher.
func (q *Queue) Publish(ctx context.Context, queueName string, msg *message.Message) error {
	if queueName == "" {
		return fmt.Errorf("queue name is required")
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return q.client.RPush(ctx, q.key(queueName), body).Err()
}

// Dequeue pops the next message, blocking up to timeout. Returns (nil, nil)
// when the queue stays empty.
func (q *Queue) Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*message.Message, error) {
	result, err := q.client.BLPop(ctx, timeout, q.key(queueName)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}
	if len(result) < 2 {
		return nil, nil
	}

	msg, err := message.FromJSON([]byte(result[1]))
	if err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	return msg, nil
}

// Depth returns the number of messages waiting in the queue.
func (q *Queue) Depth(ctx context.Context, queueName string) (int, error) {
	depth, err := q.client.LLen(ctx, q.key(queueName)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue depth: %w", err)
	}
	return int(depth), nil
}

func (q *Queue) key(queueName string) string {
	return q.prefix + queueName
}
