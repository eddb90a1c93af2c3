package session

import "unicode/utf8"

// ActivityBuffer is the rolling text window used for pattern evaluation.
// It holds at most cap bytes; the oldest bytes are evicted first and the
// head is advanced past any partial rune.
type ActivityBuffer struct {
	data []byte
	cap  int
}

// NewActivityBuffer creates a buffer holding at most capacity bytes.
func NewActivityBuffer(capacity int) *ActivityBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferCap
	}
	return &ActivityBuffer{data: make([]byte, 0, capacity), cap: capacity}
}

// Append adds chunk and evicts from the front to stay within the cap.
func (b *ActivityBuffer) Append(chunk string) {
	b.data = append(b.data, chunk...)
	if len(b.data) <= b.cap {
		return
	}
	drop := len(b.data) - b.cap
	for drop < len(b.data) && !utf8.RuneStart(b.data[drop]) {
		drop++
	}
	n := copy(b.data, b.data[drop:])
	b.data = b.data[:n]
}

// With returns the buffer contents followed by chunk, trimmed to the cap,
// without modifying the buffer.
func (b *ActivityBuffer) With(chunk string) string {
	tmp := ActivityBuffer{data: append([]byte(nil), b.data...), cap: b.cap}
	tmp.Append(chunk)
	return tmp.String()
}

func (b *ActivityBuffer) String() string { return string(b.data) }

// Len returns the current size in bytes.
func (b *ActivityBuffer) Len() int { return len(b.data) }

// Cap returns the configured maximum size in bytes.
func (b *ActivityBuffer) Cap() int { return b.cap }

// Reset empties the buffer.
func (b *ActivityBuffer) Reset() { b.data = b.data[:0] }
