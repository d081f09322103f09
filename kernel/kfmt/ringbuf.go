package kfmt

import "io"

// ringBufferSize defines the size of the early print buffer. Boot output
// that exceeds this size overwrites the oldest buffered bytes.
const ringBufferSize = 2048

// ringBuffer models a fixed-size io.ReadWriter suitable for buffering early
// boot output without any allocations.
type ringBuffer struct {
	data            [ringBufferSize]byte
	rIndex, wIndex  int
	unreadByteCount int
}

// Write stores the contents of p, overwriting the oldest unread bytes if the
// buffer is full. It never fails.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		rb.data[rb.wIndex] = b
		rb.wIndex = (rb.wIndex + 1) % ringBufferSize

		if rb.unreadByteCount < ringBufferSize {
			rb.unreadByteCount++
		} else {
			// Oldest unread byte was just overwritten
			rb.rIndex = rb.wIndex
		}
	}

	return len(p), nil
}

// Read fills p with up to len(p) unread bytes and returns io.EOF when the
// buffer has been fully drained.
func (rb *ringBuffer) Read(p []byte) (int, error) {
	if rb.unreadByteCount == 0 {
		return 0, io.EOF
	}

	var read int
	for ; read < len(p) && rb.unreadByteCount > 0; read++ {
		p[read] = rb.data[rb.rIndex]
		rb.rIndex = (rb.rIndex + 1) % ringBufferSize
		rb.unreadByteCount--
	}

	return read, nil
}
