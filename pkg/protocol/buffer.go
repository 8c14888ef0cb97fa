package protocol

// Buffer is a bounded, append-only byte accumulator used by stream-oriented
// decoders (HTTP, TLS) to hold a partial application message across
// packets, grounded on original_source/src/protocol/buf.rs's bounded scratch
// buffer. Exceeding Limit is a parse-abort: the caller should Reset and drop
// any pending correlation state.
type Buffer struct {
	data  []byte
	Limit int
}

// NewBuffer creates a Buffer bounded to limit bytes.
func NewBuffer(limit int) *Buffer {
	return &Buffer{Limit: limit}
}

// Write appends p, returning false if doing so would exceed Limit (the
// buffer is left unchanged in that case; callers treat this as parse-abort).
func (b *Buffer) Write(p []byte) bool {
	if len(b.data)+len(p) > b.Limit {
		return false
	}
	b.data = append(b.data, p...)
	return true
}

// Bytes returns the accumulated data.
func (b *Buffer) Bytes() []byte { return b.data }

// Len reports the number of accumulated bytes.
func (b *Buffer) Len() int { return len(b.data) }

// Reset empties the buffer without releasing its backing array.
func (b *Buffer) Reset() { b.data = b.data[:0] }

// Discard drops the first n bytes, shifting the remainder to the front.
func (b *Buffer) Discard(n int) {
	if n >= len(b.data) {
		b.data = b.data[:0]
		return
	}
	b.data = append(b.data[:0], b.data[n:]...)
}
