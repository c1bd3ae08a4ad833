package session

import (
	"errors"
	"sync"
)

var (
	// ErrSubscriberFull is returned when a subscriber's queue has no room.
	ErrSubscriberFull = errors.New("session: subscriber queue full")
	// ErrSubscriberClosed is returned when sending to a closed subscriber.
	ErrSubscriberClosed = errors.New("session: subscriber closed")
)

// DefaultQueueSize is the number of undelivered messages a Queue holds
// before further sends fail.
const DefaultQueueSize = 256

// Subscriber receives encoded events for one job. The session keeps only a
// reference; the transport that created the subscriber owns its lifetime.
type Subscriber interface {
	// Send delivers msg without blocking.
	Send(msg Message) error
	// Close tells the transport no further events will arrive.
	Close()
}

// Queue is a channel-backed Subscriber used by the SSE handler.
type Queue struct {
	ID string

	mu     sync.Mutex
	ch     chan Message
	done   chan struct{}
	closed bool
}

// NewQueue creates a Queue with the given buffer size.
func NewQueue(id string, size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{
		ID:   id,
		ch:   make(chan Message, size),
		done: make(chan struct{}),
	}
}

// Send enqueues msg, failing rather than blocking when the queue is full.
func (q *Queue) Send(msg Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrSubscriberClosed
	}
	select {
	case q.ch <- msg:
		return nil
	default:
		return ErrSubscriberFull
	}
}

// Close marks the queue closed. Messages already queued stay readable.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Messages returns the delivery channel.
func (q *Queue) Messages() <-chan Message {
	return q.ch
}

// Done is closed once the queue will receive nothing more.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}
