package driver

import (
	"context"
	"errors"

	"github.com/JakeFAU/steam-harvester/internal/harvest"
)

// Iterator yields the ids a driver visits. ok is false once the backlog is exhausted.
type Iterator interface {
	Next(ctx context.Context) (id string, ok bool, err error)
}

// SliceIterator walks a fixed id list in order.
type SliceIterator struct {
	ids []string
	pos int
}

// NewSliceIterator iterates over ids.
func NewSliceIterator(ids []string) *SliceIterator {
	return &SliceIterator{ids: ids}
}

// Next implements Iterator.
func (s *SliceIterator) Next(ctx context.Context) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if s.pos >= len(s.ids) {
		return "", false, nil
	}
	id := s.ids[s.pos]
	s.pos++
	return id, true, nil
}

// Len reports the total number of ids.
func (s *SliceIterator) Len() int {
	return len(s.ids)
}

// QueueIterator pops ids from a shared queue.
type QueueIterator struct {
	queue         harvest.Queue
	exitWhenEmpty bool
}

// NewQueueIterator drains queue. With exitWhenEmpty the iterator ends as soon
// as the queue is empty; otherwise it blocks waiting for more ids.
func NewQueueIterator(queue harvest.Queue, exitWhenEmpty bool) *QueueIterator {
	return &QueueIterator{queue: queue, exitWhenEmpty: exitWhenEmpty}
}

// Next implements Iterator.
func (q *QueueIterator) Next(ctx context.Context) (string, bool, error) {
	if q.exitWhenEmpty {
		return q.queue.TryPop(ctx)
	}
	id, err := q.queue.Pop(ctx)
	if errors.Is(err, harvest.ErrQueueClosed) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}
