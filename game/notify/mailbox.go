package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// DefaultMailboxCapacity is the number of undelivered messages a mailbox holds.
const DefaultMailboxCapacity = 100

var (
	ErrMailboxFull       = errors.New("mailbox full")
	ErrMailboxClosed     = errors.New("mailbox closed")
	ErrConcurrentReceive = errors.New("mailbox already has an active receiver")
)

// Mailbox is a bounded FIFO queue owned by one subscriber.
// Any number of goroutines may Send; only one may Receive at a time.
type Mailbox struct {
	subscriberID string
	queue        chan Message
	done         chan struct{}
	closeOnce    sync.Once
	receiving    atomic.Bool
}

// NewMailbox creates a mailbox holding up to capacity messages.
func NewMailbox(subscriberID string, capacity int) *Mailbox {
	if capacity <= 0 {
		capacity = DefaultMailboxCapacity
	}
	return &Mailbox{
		subscriberID: subscriberID,
		queue:        make(chan Message, capacity),
		done:         make(chan struct{}),
	}
}

// SubscriberID returns the owner of the mailbox.
func (m *Mailbox) SubscriberID() string {
	return m.subscriberID
}

// Cap returns the mailbox capacity.
func (m *Mailbox) Cap() int {
	return cap(m.queue)
}

// Len returns the number of queued messages.
func (m *Mailbox) Len() int {
	return len(m.queue)
}

// Send enqueues msg without blocking.
func (m *Mailbox) Send(msg Message) error {
	select {
	case <-m.done:
		return ErrMailboxClosed
	default:
	}

	select {
	case m.queue <- msg:
		return nil
	default:
		return ErrMailboxFull
	}
}

// Receive blocks until a message is available, the mailbox is closed, or ctx
// is done. A second concurrent Receive fails with ErrConcurrentReceive.
func (m *Mailbox) Receive(ctx context.Context) (Message, error) {
	if !m.receiving.CompareAndSwap(false, true) {
		return Message{}, ErrConcurrentReceive
	}
	defer m.receiving.Store(false)

	// Closed wins over queued messages: undrained messages are dropped.
	select {
	case <-m.done:
		return Message{}, ErrMailboxClosed
	default:
	}

	select {
	case msg := <-m.queue:
		return msg, nil
	case <-m.done:
		return Message{}, ErrMailboxClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Close permanently closes the mailbox and wakes a pending Receive.
// It is safe to call more than once.
func (m *Mailbox) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
	})
}

// Closed reports whether Close has been called.
func (m *Mailbox) Closed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}
