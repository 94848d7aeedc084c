// Package memory provides the bounded capture-request queue.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Request is one on-demand capture submission.
type Request struct {
	ID        string
	ToolID    string
	URL       string
	Submitted time.Time
}

// ErrQueueFull is returned when the queue cannot accept another request
// without blocking.
var ErrQueueFull = errors.New("capture queue is full")

// ErrQueueClosed is returned for operations against a closed queue.
var ErrQueueClosed = errors.New("capture queue is closed")

// Queue is a bounded in-memory queue drained by a single worker. It replaces
// shared mutable task maps: handlers only ever enqueue, the worker owns
// everything after that.
type Queue struct {
	ch      chan Request
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 64
	}
	return &Queue{ch: make(chan Request, capacity)}
}

// Enqueue pushes a request without blocking; a full queue is an error the
// caller reports back to the client. The send happens under the close lock
// so a concurrent Close can never turn it into a send on a closed channel.
func (q *Queue) Enqueue(ctx context.Context, req Request) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue canceled: %w", err)
	}
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- req:
		return nil
	default:
		return ErrQueueFull
	}
}

// Dequeue pops the next request, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (Request, error) {
	select {
	case <-ctx.Done():
		return Request{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case req, ok := <-q.ch:
		if !ok {
			return Request{}, ErrQueueClosed
		}
		return req, nil
	}
}

// Len reports the number of queued requests.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}
