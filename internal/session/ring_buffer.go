package session

import "sync"

// RingBuffer is a fixed-capacity circular buffer of StateEvents.
// It lets late subscribers catch up on recent transitions.
type RingBuffer struct {
	mu       sync.RWMutex
	buf      []StateEvent
	capacity int
	pos      int // next write position
	full     bool
}

// NewRingBuffer creates a ring buffer with the given capacity.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer{
		buf:      make([]StateEvent, capacity),
		capacity: capacity,
	}
}

// Write adds an event to the ring buffer.
func (rb *RingBuffer) Write(event StateEvent) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.buf[rb.pos] = event
	rb.pos = (rb.pos + 1) % rb.capacity
	if rb.pos == 0 {
		rb.full = true
	}
}

// ReadAll returns all events in the buffer in chronological order.
func (rb *RingBuffer) ReadAll() []StateEvent {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if !rb.full {
		result := make([]StateEvent, rb.pos)
		copy(result, rb.buf[:rb.pos])
		return result
	}

	result := make([]StateEvent, rb.capacity)
	copy(result, rb.buf[rb.pos:])
	copy(result[rb.capacity-rb.pos:], rb.buf[:rb.pos])
	return result
}

// Forget drops every event for sessionID, keeping the rest in order.
func (rb *RingBuffer) Forget(sessionID string) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	kept := make([]StateEvent, 0, rb.capacity)
	appendKept := func(events []StateEvent) {
		for _, e := range events {
			if e.SessionID != sessionID {
				kept = append(kept, e)
			}
		}
	}
	if rb.full {
		appendKept(rb.buf[rb.pos:])
	}
	appendKept(rb.buf[:rb.pos])

	rb.buf = make([]StateEvent, rb.capacity)
	copy(rb.buf, kept)
	rb.pos = len(kept) % rb.capacity
	rb.full = len(kept) == rb.capacity
}
