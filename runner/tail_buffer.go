package runner

import (
	"fmt"
	"sync"
)

const defaultOutputTailBytes = 64 * 1024 // kept in memory per worker

// tailBuffer keeps only the last N bytes a worker wrote to stdout/stderr so a
// fault can carry the output that led up to it.
type tailBuffer struct {
	maxBytes int

	mu       sync.Mutex
	total    int64
	contents []byte
	overflow bool
}

func newTailBuffer(maxBytes int) *tailBuffer {
	if maxBytes <= 0 {
		maxBytes = defaultOutputTailBytes
	}
	return &tailBuffer{
		maxBytes: maxBytes,
		contents: make([]byte, 0, maxBytes),
	}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total += int64(len(p))
	if len(b.contents)+len(p) <= b.maxBytes {
		b.contents = append(b.contents, p...)
		return len(p), nil
	}

	// Append then trim front to keep the most recent bytes
	b.contents = append(b.contents, p...)
	if len(b.contents) > b.maxBytes {
		b.contents = b.contents[len(b.contents)-b.maxBytes:]
		b.overflow = true
	}
	return len(p), nil
}

func (b *tailBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	cp := make([]byte, len(b.contents))
	copy(cp, b.contents)
	return cp
}

func (b *tailBuffer) TotalBytes() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

func (b *tailBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overflow || int64(len(b.contents)) < b.total
}

// Snippet returns the retained output, prefixed with a marker when older
// output was dropped.
func (b *tailBuffer) Snippet() string {
	contents := b.Bytes()
	if len(contents) == 0 {
		return ""
	}
	if b.Truncated() {
		return fmt.Sprintf("... (%d earlier bytes dropped)\n%s", b.TotalBytes()-int64(len(contents)), contents)
	}
	return string(contents)
}
