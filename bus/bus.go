package bus

import (
	"sync"

	"github.com/google/uuid"
)

// Topics carried by the in-process bus
const (
	TopicOutboxMessageAdded = "outbox message added"
	TopicInboxMessageAdded  = "inbox message added"
)

// OutboxMessageAdded notifies the dispatcher that a fresh outbox record is
// ready for low-latency processing
type OutboxMessageAdded struct {
	Id string
}

// InboxMessageAdded notifies downstream business handlers of a newly ingested
// activity
type InboxMessageAdded struct {
	AccountId uuid.UUID
	Id        string
}

const subscriberBuffer = 64

// Bus is an in-process publish/subscribe channel registry. Publish blocks when
// a subscriber's buffer is full, so ordering and backpressure stay explicit
// instead of hiding behind a global emitter.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]chan interface{}
	closed bool
}

func New() *Bus {
	return &Bus{subs: make(map[string][]chan interface{})}
}

// Subscribe returns a buffered channel receiving every event published on the
// topic after this call
func (b *Bus) Subscribe(topic string) <-chan interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan interface{}, subscriberBuffer)
	b.subs[topic] = append(b.subs[topic], ch)
	return ch
}

// Publish delivers the event to every subscriber of the topic in subscription
// order
func (b *Bus) Publish(topic string, event interface{}) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, ch := range b.subs[topic] {
		ch <- event
	}
}

// Close closes all subscriber channels. Publishing after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, channels := range b.subs {
		for _, ch := range channels {
			close(ch)
		}
	}
}
