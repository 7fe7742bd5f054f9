package loader

import (
	"context"
	"sync"
)

// QueueDispatcher hands work from worker goroutines to one consumer
// goroutine. Post never blocks.
type QueueDispatcher struct {
	mu      sync.Mutex
	pending []func()
	wake    chan struct{}
}

// NewQueueDispatcher creates an empty queue.
func NewQueueDispatcher() *QueueDispatcher {
	return &QueueDispatcher{wake: make(chan struct{}, 1)}
}

// Post queues fn.
func (q *QueueDispatcher) Post(fn func()) {
	q.mu.Lock()
	q.pending = append(q.pending, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Drain runs everything queued so far on the calling goroutine and returns
// how many functions ran.
func (q *QueueDispatcher) Drain() int {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, fn := range batch {
		fn()
	}
	return len(batch)
}

// Run drains the queue as work arrives until ctx is done.
func (q *QueueDispatcher) Run(ctx context.Context) error {
	for {
		q.Drain()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.wake:
		}
	}
}

// Len returns the number of queued functions.
func (q *QueueDispatcher) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
