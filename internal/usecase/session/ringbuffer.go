package session

import (
	"sync"
)

// ringBuffer is a thread-safe, bounded byte buffer that drops old data when
// the capacity is exceeded. One instance accumulates the merged output of a
// single spawned process; the manager reads deltas from it by offset.
type ringBuffer struct {
	mu      sync.Mutex
	data    []byte
	max     int
	written int64 // total bytes ever written, including dropped
}

func newRingBuffer(maxBytes int) *ringBuffer {
	return &ringBuffer{
		data: make([]byte, 0, min(maxBytes, 4096)),
		max:  maxBytes,
	}
}

// Write implements io.Writer. Thread-safe; called from the process's output
// pump while readers take deltas concurrently.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.data = append(rb.data, p...)
	rb.written += int64(len(p))
	if len(rb.data) > rb.max {
		rb.data = rb.data[len(rb.data)-rb.max:]
	}
	return len(p), nil
}

// String returns the full buffered content.
func (rb *ringBuffer) String() string {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return string(rb.data)
}

// TotalWritten returns the total number of bytes ever written, including
// bytes dropped due to overflow.
func (rb *ringBuffer) TotalWritten() int64 {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.written
}

// ReadFrom returns content from the given byte offset onward, where the
// offset is in terms of total bytes written. The second return reports
// whether data between the offset and the start of the current buffer has
// been dropped, i.e. the delta is truncated.
func (rb *ringBuffer) ReadFrom(offset int64) (string, bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	dropped := rb.written - int64(len(rb.data))
	truncated := offset < dropped

	localOffset := offset - dropped
	if localOffset < 0 {
		localOffset = 0
	}
	if localOffset >= int64(len(rb.data)) {
		return "", truncated
	}
	return string(rb.data[localOffset:]), truncated
}
