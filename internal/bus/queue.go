package bus

import (
	"context"
	"fmt"
)

// Queue is a small bounded FIFO of IncomingMessage values shared between a
// Channel's Start goroutine (producer) and the pipeline's consume loop
// (single consumer). It exists so a burst of inbound messages from a
// channel can't grow memory unbounded while the pipeline works through a
// backlog — Push blocks (honoring ctx) once the queue is full, applying
// natural backpressure to the channel adapter instead of dropping
// messages silently.
type Queue struct {
	ch chan IncomingMessage
}

// NewQueue returns a Queue with the given capacity. A capacity of 0
// produces an unbuffered queue (Push blocks until a consumer is ready).
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{ch: make(chan IncomingMessage, capacity)}
}

// Push enqueues msg, blocking until there is room or ctx is done.
func (q *Queue) Push(ctx context.Context, msg IncomingMessage) error {
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("bus: push canceled: %w", ctx.Err())
	}
}

// TryPush enqueues msg without blocking, reporting false if the queue is
// full.
func (q *Queue) TryPush(msg IncomingMessage) bool {
	select {
	case q.ch <- msg:
		return true
	default:
		return false
	}
}

// Pop dequeues the next message, blocking until one arrives or ctx is
// done. The second return value is false exactly when ctx ended the wait.
func (q *Queue) Pop(ctx context.Context) (IncomingMessage, bool) {
	select {
	case msg := <-q.ch:
		return msg, true
	case <-ctx.Done():
		return IncomingMessage{}, false
	}
}

// Len reports the number of messages currently queued.
func (q *Queue) Len() int {
	return len(q.ch)
}
