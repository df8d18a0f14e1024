package webhook

import (
	"sync"

	"github.com/nhle/taskwire/internal/model"
)

// defaultBufferCap bounds an adapter's item buffer. Pushes beyond the cap
// drop the oldest items; the platform will not slow down for us and an
// unbounded buffer only defers the loss to OOM.
const defaultBufferCap = 1024

// Buffer accumulates items pushed by a realtime platform between
// scheduler drains. Safe for concurrent append and drain.
type Buffer struct {
	mu    sync.Mutex
	items []model.Item
	cap   int
}

// NewBuffer creates a buffer with the given capacity; non-positive means
// the default cap.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = defaultBufferCap
	}
	return &Buffer{cap: capacity}
}

// Append adds an item, evicting the oldest when full.
func (b *Buffer) Append(item model.Item) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.items) >= b.cap {
		b.items = b.items[1:]
	}
	b.items = append(b.items, item)
}

// Drain returns all buffered items and empties the buffer.
func (b *Buffer) Drain() []model.Item {
	b.mu.Lock()
	defer b.mu.Unlock()

	items := b.items
	b.items = nil
	return items
}

// Len returns the number of buffered items.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Clear drops all buffered items.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = nil
}
