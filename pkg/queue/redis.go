package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const defaultQueueKey = "orchon:instances"

// RedisQueue is the shared work queue for multi-process deployments,
// backed by a Redis list.
type RedisQueue struct {
	client redis.UniversalClient
	key    string
	logger *slog.Logger
}

// NewRedisQueue connects to Redis and validates the connection. An empty
// key falls back to the default queue key.
func NewRedisQueue(ctx context.Context, opts *redis.Options, key string, logger *slog.Logger) (*RedisQueue, error) {
	if key == "" {
		key = defaultQueueKey
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := client.Ping(pingCtx).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	queueLogger := logger.With("module", "queue", "provider", "redis", "queue", key)
	queueLogger.InfoContext(ctx, "Connected to Redis", "addr", opts.Addr, "db", opts.DB)

	return &RedisQueue{
		client: client,
		key:    key,
		logger: queueLogger,
	}, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, task Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	err = q.client.LPush(ctx, q.key, payload).Err()
	if err != nil {
		return fmt.Errorf("failed to push task to queue: %w", err)
	}

	return nil
}

// Dequeue polls with a short blocking pop so context cancellation is
// observed between pops.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		result, err := q.client.BLPop(ctx, 1*time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				default:
					continue
				}
			}

			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			return nil, fmt.Errorf("failed to pop task from queue: %w", err)
		}

		if len(result) < 2 {
			continue
		}

		var task Task

		err = json.Unmarshal([]byte(result[1]), &task)
		if err != nil {
			q.logger.ErrorContext(ctx, "Discarding malformed task payload", "error", err)

			continue
		}

		return &task, nil
	}
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
