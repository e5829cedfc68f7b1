package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/orchon/orchon/pkg/queue"
)

const defaultMemoryQueueCapacity = 1024

// NewQueue creates the work queue selected by the queue URL: redis://...
// for the Redis-backed queue, "memory" (or empty) for the in-process one.
func NewQueue(ctx context.Context, logger *slog.Logger, queueURL string) (queue.Queue, error) {
	if queueURL == "" || queueURL == "memory" {
		return queue.NewMemoryQueue(defaultMemoryQueueCapacity), nil
	}

	if strings.HasPrefix(queueURL, "redis://") {
		opts, err := redis.ParseURL(queueURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis queue URL: %w", err)
		}

		return queue.NewRedisQueue(ctx, opts, "", logger)
	}

	return nil, fmt.Errorf("unsupported queue URL %q", queueURL)
}
