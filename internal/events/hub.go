package events

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Hub is the event bus. Publishing never blocks: a subscriber whose buffer
// is full misses the event.
type Hub struct {
	mu     sync.RWMutex
	subs   map[EventType][]chan Event
	global []chan Event

	published atomic.Uint64
	dropped   atomic.Uint64

	// OnDrop, if set, is called for every dropped delivery.
	OnDrop func()
}

// NewHub creates a new event hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[EventType][]chan Event),
	}
}

// Publish sends e to subscribers of its type and to global subscribers.
// Missing IDs and timestamps are filled in. A nil Hub discards events.
func (h *Hub) Publish(e Event) {
	if h == nil {
		return
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	h.published.Add(1)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs[e.Type] {
		h.deliver(ch, e)
	}
	for _, ch := range h.global {
		h.deliver(ch, e)
	}
}

func (h *Hub) deliver(ch chan Event, e Event) {
	select {
	case ch <- e:
	default:
		h.dropped.Add(1)
		if h.OnDrop != nil {
			h.OnDrop()
		}
	}
}

// HasSubscribers reports whether anyone listens for t.
func (h *Hub) HasSubscribers(t EventType) bool {
	if h == nil {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.global) > 0 || len(h.subs[t]) > 0
}

// Subscribe returns a channel receiving events of the given types, or all
// events when no type is given. The caller must drain it and call
// Unsubscribe when done.
func (h *Hub) Subscribe(bufSize int, types ...EventType) <-chan Event {
	if bufSize <= 0 {
		bufSize = 256
	}
	ch := make(chan Event, bufSize)

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(types) == 0 {
		h.global = append(h.global, ch)
	}
	for _, t := range types {
		h.subs[t] = append(h.subs[t], ch)
	}
	return ch
}

// Unsubscribe removes ch from all subscriptions. The channel is not closed.
func (h *Hub) Unsubscribe(ch <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	remove := func(c chan Event) bool { return c == ch }
	h.global = slices.DeleteFunc(h.global, remove)
	for t, subs := range h.subs {
		if subs = slices.DeleteFunc(subs, remove); len(subs) == 0 {
			delete(h.subs, t)
		} else {
			h.subs[t] = subs
		}
	}
}

// Stats returns publish and drop counts.
func (h *Hub) Stats() (published, dropped uint64) {
	return h.published.Load(), h.dropped.Load()
}
