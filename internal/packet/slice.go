package packet

import "sync/atomic"

// Slice is a (buffer, offset, length) view over a fixed-size backing
// array drawn from a BufferPool. Slices may be narrowed but never
// widened beyond the capacity of the buffer they were drawn from;
// growing past that capacity means the caller asked for more room than
// the pool's block size provides, which is a WouldTruncate error, not a
// silent reallocation.
//
// A Slice shares ownership of its backing buffer with every other Slice
// derived from the same buffer via an atomic refcount; the buffer
// returns to its pool when the last Slice referencing it is released.
type Slice struct {
	buf    *buffer
	offset int
	length int
}

type buffer struct {
	pool *BufferPool
	idx  int32 // slot index within pool; stable across reuse
	data []byte
	refs atomic.Int32
}

// Bytes returns the slice's current view of the backing array. The
// returned slice aliases buffer memory and must not be retained past
// the Slice's Release.
func (s Slice) Bytes() []byte {
	if s.buf == nil {
		return nil
	}
	return s.buf.data[s.offset : s.offset+s.length]
}

// Len reports the number of bytes currently visible through the slice.
func (s Slice) Len() int { return s.length }

// Offset reports the slice's origin within its backing buffer. A
// composer that shifts its origin to align the payload reports the
// shifted value here.
func (s Slice) Offset() int { return s.offset }

// Cap reports how far the slice could grow within its backing buffer.
func (s Slice) Cap() int {
	if s.buf == nil {
		return 0
	}
	return len(s.buf.data) - s.offset
}

// IsNil reports whether the slice holds no backing buffer.
func (s Slice) IsNil() bool { return s.buf == nil }

// Narrow returns a new Slice covering [from, from+n) of the current
// view. It shares the same backing buffer and bumps its refcount.
func (s Slice) Narrow(from, n int) (Slice, error) {
	if from < 0 || n < 0 || from+n > s.length {
		return Slice{}, ErrWouldTruncate
	}
	s.buf.refs.Add(1)
	return Slice{buf: s.buf, offset: s.offset + from, length: n}, nil
}

// Grow extends the visible length to n, provided n does not exceed the
// backing buffer's capacity from the slice's origin. Growing never
// reallocates; it only reveals more of the same backing array.
func (s *Slice) Grow(n int) error {
	if s.buf == nil || n < 0 || n > len(s.buf.data)-s.offset {
		return ErrWouldTruncate
	}
	s.length = n
	return nil
}

// Retain bumps the shared refcount; pair with Release.
func (s Slice) Retain() Slice {
	if s.buf != nil {
		s.buf.refs.Add(1)
	}
	return s
}

// Release drops a reference to the backing buffer, returning it to its
// pool once the last reference is gone.
func (s Slice) Release() {
	if s.buf == nil {
		return
	}
	if s.buf.refs.Add(-1) == 0 {
		s.buf.pool.put(s.buf)
	}
}
