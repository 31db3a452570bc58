package gateway

import (
	"sync"
	"sync/atomic"

	"github.com/kooklabs/ksbot/pkg/kook"
)

// busCapacity is the per-subscriber buffer. A subscriber that falls this
// far behind starts losing notifications.
const busCapacity = 64

// NotificationKind tags what happened on the session.
type NotificationKind int

const (
	// NotifyConnected fires after every successful gateway dial.
	NotifyConnected NotificationKind = iota
	// NotifyHeartbeat fires on every pong.
	NotifyHeartbeat
	// NotifyEvent carries one in-order event message.
	NotifyEvent
)

// Notification is one item published on the session bus. Message is set
// only for NotifyEvent.
type Notification struct {
	Kind    NotificationKind
	Message *kook.EventMessage
}

// Bus fans session notifications out to subscribers without ever blocking
// the session loop. Sends to a full subscriber are dropped and counted.
type Bus struct {
	mu      sync.Mutex
	subs    []chan Notification
	closed  bool
	dropped atomic.Uint64
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a new subscriber and returns its channel. The
// channel closes when the bus closes.
func (b *Bus) Subscribe() <-chan Notification {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Notification, busCapacity)
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Publish delivers n to every subscriber that has buffer room left.
func (b *Bus) Publish(n Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- n:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many notifications were lost to full subscribers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes every subscriber channel. Publish becomes a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
