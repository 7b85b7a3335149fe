package pool

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed indicates a submit after the queue was closed.
var ErrQueueClosed = errors.New("work queue closed")

// Item is one formatted-but-not-yet-finalized file. It is immutable
// after creation and handed off single-owner: client to queue to
// exactly one worker.
type Item struct {
	// Path is the source file.
	Path string

	// Original is the file's content before formatting.
	Original []byte

	// Output is the server's formatted text.
	Output []byte

	// Seq is the item's position in submission order, Total the run's
	// file count. Informational; workers complete out of order.
	Seq   int
	Total int
}

// Queue is the bounded handoff channel between producer and workers.
type Queue struct {
	ch chan *Item

	mu     sync.Mutex
	closed bool
}

// NewQueue creates a queue with the given fixed capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{ch: make(chan *Item, capacity)}
}

// Submit hands an item to the queue, blocking while it is full. That
// block is deliberate: a slow consumer throttles the producer. Returns
// ErrQueueClosed after Close, or ctx.Err if the caller gives up.
func (q *Queue) Submit(ctx context.Context, item *Item) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.mu.Unlock()

	select {
	case q.ch <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close signals no-more-input. Items already queued are still drained.
// The queue is single-producer: Close must not be called while a Submit
// is in flight.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Items returns the receive side for workers.
func (q *Queue) Items() <-chan *Item {
	return q.ch
}

// Capacity returns the queue's fixed capacity.
func (q *Queue) Capacity() int {
	return cap(q.ch)
}

// Len returns the number of items currently buffered.
func (q *Queue) Len() int {
	return len(q.ch)
}
