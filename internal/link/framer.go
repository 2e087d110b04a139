package link

// FrameReader splits an inbound byte stream into frames on a delimiter byte.
// Its buffer holds at most capacity-1 bytes; a frame that would grow past that
// is flushed early and the remainder continues in the next frame, so no byte
// is ever dropped.
//
// A FrameReader is owned by a single connection and is not safe for
// concurrent use.
type FrameReader struct {
	buf   []byte
	n     int
	delim byte
}

// NewFrameReader returns a reader with the given buffer capacity. Capacity
// must be at least 2.
func NewFrameReader(capacity int, delim byte) *FrameReader {
	if capacity < 2 {
		panic("link: NewFrameReader capacity must be >= 2")
	}
	return &FrameReader{buf: make([]byte, capacity), delim: delim}
}

// Feed consumes one byte. It returns a completed frame and true when the byte
// finished one.
func (r *FrameReader) Feed(b byte) ([]byte, bool) {
	if b == r.delim {
		if r.n == 0 {
			return nil, false
		}
		return r.flush(), true
	}

	var frame []byte
	full := r.n == len(r.buf)-1
	if full {
		frame = r.flush()
	}
	r.buf[r.n] = b
	r.n++
	return frame, full
}

// FeedChunk feeds every byte of p in order and calls emit for each completed
// frame.
func (r *FrameReader) FeedChunk(p []byte, emit func([]byte)) {
	for _, b := range p {
		if frame, ok := r.Feed(b); ok {
			emit(frame)
		}
	}
}

// Buffered returns the number of bytes waiting for a delimiter.
func (r *FrameReader) Buffered() int { return r.n }

// Reset discards any partially buffered frame.
func (r *FrameReader) Reset() { r.n = 0 }

// flush copies out the buffered bytes and empties the buffer.
func (r *FrameReader) flush() []byte {
	frame := make([]byte, r.n)
	copy(frame, r.buf[:r.n])
	r.n = 0
	return frame
}
