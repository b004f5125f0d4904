package buffer

// Buffer is a grow-only byte buffer reused across capture cycles.
// ExpandIfNeeded never shrinks the backing array and never copies the old
// contents, so callers must treat the bytes as scratch space that is
// rewritten on every use.
type Buffer struct {
	data []byte
}

// New returns a buffer with at least size bytes available.
func New(size int) *Buffer {
	b := &Buffer{}
	b.ExpandIfNeeded(size)
	return b
}

// ExpandIfNeeded grows the buffer so that Size() >= size. Smaller or
// negative requests are no-ops.
func (b *Buffer) ExpandIfNeeded(size int) {
	if size <= len(b.data) {
		return
	}
	b.data = make([]byte, size)
}

// Size returns the number of usable bytes.
func (b *Buffer) Size() int {
	return len(b.data)
}

// Empty reports whether the buffer has never been expanded.
func (b *Buffer) Empty() bool {
	return len(b.data) == 0
}

// Bytes returns the whole backing slice.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// From returns the bytes starting at offset. An out-of-range offset yields
// an empty slice rather than panicking.
func (b *Buffer) From(offset int) []byte {
	if offset < 0 || offset >= len(b.data) {
		return b.data[len(b.data):]
	}
	return b.data[offset:]
}

// Range returns a copy of bytes [offset, offset+n), clamped to the buffer.
func (b *Buffer) Range(offset, n int) []byte {
	if offset < 0 || n <= 0 || offset >= len(b.data) {
		return nil
	}
	end := offset + n
	if end > len(b.data) {
		end = len(b.data)
	}
	out := make([]byte, end-offset)
	copy(out, b.data[offset:end])
	return out
}
