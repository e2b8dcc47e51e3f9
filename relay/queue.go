// Package relay connects the detent control loop to remote listeners.
package relay

import (
	"context"
	"sync"
)

// Queue is an unbounded FIFO. Put and TryReceive never block.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
	// ready holds a token while items is non-empty.
	ready chan struct{}
}

func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{ready: make(chan struct{}, 1)}
}

func (q *Queue[T]) Put(v T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, v)
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// TryReceive removes the oldest item, if there is one.
func (q *Queue[T]) TryReceive() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) > 0 {
		select {
		case q.ready <- struct{}{}:
		default:
		}
	}
	return v, true
}

// Receive waits for an item or for ctx to be done.
func (q *Queue[T]) Receive(ctx context.Context) (T, error) {
	for {
		if v, ok := q.TryReceive(); ok {
			return v, nil
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-q.ready:
		}
	}
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
