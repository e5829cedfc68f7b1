// Package queue carries instance work items from the engine's control
// surface to the scheduler workers. One task means "this instance may have
// runnable steps"; the engine's drain loop discovers what those steps are,
// so duplicate tasks for the same instance are harmless.
package queue

import (
	"context"
	"time"
)

// Task is one unit of scheduler work.
type Task struct {
	ID         string    `json:"id"`
	InstanceID string    `json:"instance_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Queue is the work queue shared by the engine and the scheduler workers.
type Queue interface {
	// Enqueue submits a task.
	Enqueue(ctx context.Context, task Task) error

	// Dequeue blocks until a task is available or the context is done.
	Dequeue(ctx context.Context) (*Task, error)

	Close() error
}
