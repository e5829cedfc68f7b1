package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned by operations on a closed queue.
var ErrQueueClosed = errors.New("queue is closed")

// MemoryQueue is the in-process queue used by tests and single-process
// deployments.
type MemoryQueue struct {
	tasks chan Task

	mu     sync.Mutex
	closed bool
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}

	return &MemoryQueue{tasks: make(chan Task, capacity)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, task Task) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()

		return ErrQueueClosed
	}
	q.mu.Unlock()

	select {
	case q.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (*Task, error) {
	select {
	case task, ok := <-q.tasks:
		if !ok {
			return nil, ErrQueueClosed
		}

		return &task, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.tasks)
	}

	return nil
}
