// Package queue runs tasks one at a time on a single worker goroutine.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrQueueClosed is returned for work submitted after Close.
var ErrQueueClosed = errors.New("queue closed")

type Task func(context.Context) error

// Queue is a bounded FIFO of tasks. Tasks never overlap: each runs to
// completion before the next starts.
type Queue struct {
	mu     sync.RWMutex
	closed bool
	tasks  chan Task
	done   chan struct{}
}

// New creates a queue holding up to size pending tasks.
func New(size int) *Queue {
	if size < 1 {
		size = 1
	}
	return &Queue{
		tasks: make(chan Task, size),
		done:  make(chan struct{}),
	}
}

// Start runs the worker until ctx is done or the queue is closed and drained.
// It must be called exactly once.
func (q *Queue) Start(ctx context.Context) {
	defer close(q.done)
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-q.tasks:
			if !ok {
				return
			}
			if task != nil {
				_ = run(ctx, task)
			}
		}
	}
}

// Submit enqueues task and waits for it to finish, returning its error.
func (q *Queue) Submit(ctx context.Context, task Task) error {
	result := make(chan error, 1)
	wrapped := func(ctx context.Context) error {
		err := run(ctx, task)
		result <- err
		return err
	}
	if err := q.enqueue(ctx, wrapped); err != nil {
		return err
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		select {
		case err := <-result:
			return err
		default:
			return ErrQueueClosed
		}
	}
}

// Enqueue adds task without waiting for it to run. It blocks while the
// queue is full.
func (q *Queue) Enqueue(ctx context.Context, task Task) error {
	return q.enqueue(ctx, task)
}

func (q *Queue) enqueue(ctx context.Context, task Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return ErrQueueClosed
	}
}

// Close stops accepting tasks. Already queued tasks still run.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.tasks)
}

// Done is closed once the worker has exited.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// run converts a panicking task into an error so the worker survives it.
func run(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(ctx)
}
