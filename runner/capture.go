package runner

import (
	"sync"
)

// captureBuffer collects one output stream of a process. Once more than
// maxBytes have been written only the most recent maxBytes are kept.
type captureBuffer struct {
	maxBytes int

	mu       sync.Mutex
	total    int64
	contents []byte
}

func newCaptureBuffer(maxBytes int) *captureBuffer {
	if maxBytes <= 0 {
		maxBytes = DefaultCaptureLimit
	}
	return &captureBuffer{maxBytes: maxBytes}
}

func (b *captureBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total += int64(len(p))
	b.contents = append(b.contents, p...)
	if len(b.contents) > b.maxBytes {
		b.contents = append(b.contents[:0:0], b.contents[len(b.contents)-b.maxBytes:]...)
	}
	return len(p), nil
}

// Bytes returns a copy of the captured bytes, never nil
func (b *captureBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	cp := make([]byte, len(b.contents))
	copy(cp, b.contents)
	return cp
}

// TotalBytes counts every byte written, including those no longer kept
func (b *captureBuffer) TotalBytes() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

func (b *captureBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.contents)) < b.total
}
