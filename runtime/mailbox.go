package runtime

import (
	"context"
	"errors"
	"sync"
)

// ErrMailboxClosed is returned by Send when the receiving block's task has
// exited. Senders treat it as a finish signal for that edge.
var ErrMailboxClosed = errors.New("mailbox closed")

// Mailbox is a bounded inbox shared between one block task (the receiver)
// and any number of peers (senders).
//
// Payload messages travel on a bounded channel; senders suspend when the
// receiver is saturated. Wake-ups without payload use a dedicated capacity-1
// notify lane with non-blocking sends, so back-to-back notifications coalesce
// into a single pending wake-up.
type Mailbox struct {
	msgs      chan BlockMessage
	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewMailbox creates a mailbox with the given payload queue depth.
func NewMailbox(depth int) *Mailbox {
	if depth < 1 {
		depth = 1
	}
	return &Mailbox{
		msgs:   make(chan BlockMessage, depth),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Notify posts a coalesced wake-up. Posting when a wake-up is already
// pending is a no-op; Notify never blocks.
func (m *Mailbox) Notify() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// Send delivers msg, suspending the caller while the inbox is full. It
// returns ErrMailboxClosed once the receiver has shut down.
func (m *Mailbox) Send(ctx context.Context, msg BlockMessage) error {
	select {
	case <-m.done:
		return ErrMailboxClosed
	default:
	}
	select {
	case m.msgs <- msg:
		return nil
	case <-m.done:
		return ErrMailboxClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend delivers msg without blocking and reports whether it was accepted.
func (m *Mailbox) TrySend(msg BlockMessage) bool {
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.msgs <- msg:
		return true
	default:
		return false
	}
}

// TryRecv returns one pending payload message without blocking.
func (m *Mailbox) TryRecv() (BlockMessage, bool) {
	select {
	case msg := <-m.msgs:
		return msg, true
	default:
		return nil, false
	}
}

// Recv blocks until a payload message or a wake-up arrives. A nil message
// with nil error means the mailbox was woken by a notification.
func (m *Mailbox) Recv(ctx context.Context) (BlockMessage, error) {
	select {
	case msg := <-m.msgs:
		return msg, nil
	case <-m.notify:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close marks the receiver as gone. Pending and future Sends fail with
// ErrMailboxClosed. Close is idempotent and is called by the receiving task.
func (m *Mailbox) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
	})
}

// Closed reports whether the receiving task has shut down.
func (m *Mailbox) Closed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}
