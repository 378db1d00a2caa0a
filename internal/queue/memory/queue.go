// Package memory provides an in-process work queue for single-host runs and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/steam-harvester/internal/harvest"
)

// Queue is an unbounded FIFO safe for concurrent producers and consumers.
type Queue struct {
	mu     sync.Mutex
	items  []string
	wake   chan struct{}
	closed bool
}

// NewQueue constructs an empty queue.
func NewQueue() *Queue {
	return &Queue{wake: make(chan struct{})}
}

// broadcast wakes every blocked Pop. Callers hold mu.
func (q *Queue) broadcast() {
	close(q.wake)
	q.wake = make(chan struct{})
}

// Push appends ids in order.
func (q *Queue) Push(ctx context.Context, ids ...string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("push canceled: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return harvest.ErrQueueClosed
	}
	if len(ids) == 0 {
		return nil
	}
	q.items = append(q.items, ids...)
	q.broadcast()
	return nil
}

// Pop blocks until an id is available, the queue is closed and drained, or ctx ends.
func (q *Queue) Pop(ctx context.Context) (string, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			id := q.shift()
			q.mu.Unlock()
			return id, nil
		}
		if q.closed {
			q.mu.Unlock()
			return "", harvest.ErrQueueClosed
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("pop canceled: %w", ctx.Err())
		case <-wake:
		}
	}
}

// TryPop returns the head of the queue without blocking.
func (q *Queue) TryPop(ctx context.Context) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, fmt.Errorf("pop canceled: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return "", false, nil
	}
	return q.shift(), true, nil
}

func (q *Queue) shift() string {
	id := q.items[0]
	q.items[0] = ""
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return id
}

// Len reports the number of queued ids.
func (q *Queue) Len(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}

// Snapshot copies up to limit ids from the head. A non-positive limit returns all of them.
func (q *Queue) Snapshot(_ context.Context, limit int) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]string, n)
	copy(out, q.items[:n])
	return out, nil
}

// Close stops further pushes and releases blocked consumers once drained.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	q.broadcast()
	return nil
}
