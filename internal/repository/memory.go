package repository

import (
	"context"
	"errors"
	"time"

	"hotelpms/internal/models"
)

var ErrQueueFull = errors.New("change queue is full")

// MemoryChangeQueue is a process-local change queue backed by a buffered channel.
type MemoryChangeQueue struct {
	tasks chan models.ChangeTask
}

func NewMemoryChangeQueue(capacity int) *MemoryChangeQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryChangeQueue{tasks: make(chan models.ChangeTask, capacity)}
}

func (q *MemoryChangeQueue) Enqueue(ctx context.Context, task models.ChangeTask) error {
	select {
	case q.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

func (q *MemoryChangeQueue) Dequeue(ctx context.Context, timeout time.Duration) (*models.ChangeTask, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case task := <-q.tasks:
		return &task, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *MemoryChangeQueue) Len(_ context.Context) (int64, error) {
	return int64(len(q.tasks)), nil
}
