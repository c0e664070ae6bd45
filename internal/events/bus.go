package events

import (
	"sync"
	"sync/atomic"
)

const defaultBufferSize = 256

// Bus is a channel-based pub-sub bus. Publishing never blocks: events are
// dropped for subscribers whose buffer is full.
type Bus struct {
	mu      sync.RWMutex
	topics  map[string][]chan Event // topic -> subscriber channels
	all     []chan Event
	closed  bool
	dropped atomic.Int64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		topics: make(map[string][]chan Event),
	}
}

// Subscribe returns a channel receiving every event published on topic.
// bufSize <= 0 selects the default buffer of 256.
func (b *Bus) Subscribe(topic string, bufSize int) <-chan Event {
	ch := newChannel(bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}
	b.topics[topic] = append(b.topics[topic], ch)
	return ch
}

// SubscribeAll returns a channel receiving events from every topic.
func (b *Bus) SubscribeAll(bufSize int) <-chan Event {
	ch := newChannel(bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}
	b.all = append(b.all, ch)
	return ch
}

// Publish delivers event to the subscribers of event.Topic() and to every
// SubscribeAll channel. Publishing on a nil or closed bus is a no-op.
func (b *Bus) Publish(event Event) {
	if b == nil || event == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, ch := range b.topics[event.Topic()] {
		b.send(ch, event)
	}
	for _, ch := range b.all {
		b.send(ch, event)
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close closes every subscriber channel. Safe to call more than once.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, channels := range b.topics {
		for _, ch := range channels {
			close(ch)
		}
	}
	for _, ch := range b.all {
		close(ch)
	}
}

func (b *Bus) send(ch chan Event, event Event) {
	select {
	case ch <- event:
	default:
		b.dropped.Add(1)
	}
}

func newChannel(bufSize int) chan Event {
	if bufSize <= 0 {
		bufSize = defaultBufferSize
	}
	return make(chan Event, bufSize)
}
