package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// InMemoryQueue is the test double for JobQueue. Deliveries are explicit:
// tests enqueue with a chosen receive count and observe deletes and
// visibility changes.
type InMemoryQueue struct {
	mu         sync.Mutex
	pending    []*Message
	deleted    map[string]bool
	visibility map[string][]time.Duration
	nextHandle int
}

// NewInMemoryQueue creates an empty in-memory queue.
func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		deleted:    make(map[string]bool),
		visibility: make(map[string][]time.Duration),
	}
}

// Push enqueues a body for delivery with the given receive count and returns
// the receipt handle it will carry.
func (q *InMemoryQueue) Push(body []byte, receiveCount int) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextHandle++
	handle := fmt.Sprintf("receipt-%d", q.nextHandle)
	q.pending = append(q.pending, &Message{
		ReceiptHandle: handle,
		Body:          body,
		ReceiveCount:  receiveCount,
	})
	return handle
}

// Deleted reports whether the handle was deleted.
func (q *InMemoryQueue) Deleted(receiptHandle string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.deleted[receiptHandle]
}

// VisibilityChanges returns every visibility timeout set on the handle.
func (q *InMemoryQueue) VisibilityChanges(receiptHandle string) []time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]time.Duration(nil), q.visibility[receiptHandle]...)
}

// Send implements JobQueue.
func (q *InMemoryQueue) Send(_ context.Context, body []byte) error {
	q.Push(body, 1)
	return nil
}

// Receive implements JobQueue without blocking.
func (q *InMemoryQueue) Receive(_ context.Context) (*Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, nil
	}
	message := q.pending[0]
	q.pending = q.pending[1:]
	return message, nil
}

// Delete implements JobQueue.
func (q *InMemoryQueue) Delete(_ context.Context, receiptHandle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deleted[receiptHandle] = true
	return nil
}

// ChangeVisibility implements JobQueue.
func (q *InMemoryQueue) ChangeVisibility(_ context.Context, receiptHandle string, timeout time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.visibility[receiptHandle] = append(q.visibility[receiptHandle], timeout)
	return nil
}
