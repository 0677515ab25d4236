package logging

import (
	"sync"
	"time"
)

// Entry is one log line kept in memory for the management API.
type Entry struct {
	Timestamp time.Time         `json:"timestamp"`
	Level     string            `json:"level"`
	Component string            `json:"component"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// RingBuffer is a fixed-size, thread-safe circular buffer of log entries.
type RingBuffer struct {
	mu      sync.RWMutex
	entries []Entry
	head    int
	count   int
}

// NewRingBuffer creates a ring buffer holding at most size entries.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1
	}
	return &RingBuffer{entries: make([]Entry, size)}
}

// Add appends an entry, overwriting the oldest once full.
func (rb *RingBuffer) Add(e Entry) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.entries[rb.head] = e
	rb.head = (rb.head + 1) % len(rb.entries)
	if rb.count < len(rb.entries) {
		rb.count++
	}
}

// Last returns up to n entries, oldest first, optionally filtered by component.
// n <= 0 means all.
func (rb *RingBuffer) Last(n int, component string) []Entry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	size := len(rb.entries)
	start := (rb.head - rb.count + size) % size

	out := make([]Entry, 0, rb.count)
	for i := 0; i < rb.count; i++ {
		e := rb.entries[(start+i)%size]
		if component != "" && e.Component != component {
			continue
		}
		out = append(out, e)
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

// Len returns the number of buffered entries.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

var (
	recent     *RingBuffer
	recentOnce sync.Once
)

// Recent returns the process-wide buffer of recent log lines.
func Recent() *RingBuffer {
	recentOnce.Do(func() {
		recent = NewRingBuffer(2000)
	})
	return recent
}
