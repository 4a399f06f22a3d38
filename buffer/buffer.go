package buffer

import (
	"sync"

	"go.uber.org/zap"
)

// RingBuffer is a bounded FIFO queue shared between the scan loop and the
// metrics pusher. When full, the oldest entry is evicted and counted.
type RingBuffer[T any] struct {
	mu      sync.Mutex
	items   []T
	start   int
	count   int
	dropped uint64
	logger  *zap.Logger
}

// New creates a RingBuffer holding at most capacity entries
func New[T any](capacity int, logger *zap.Logger) *RingBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer[T]{
		items:  make([]T, capacity),
		logger: logger,
	}
}

// Add appends an item, evicting the oldest one if the buffer is full
func (rb *RingBuffer[T]) Add(item T) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.push(item)
}

// AddAll appends items in order under a single lock
func (rb *RingBuffer[T]) AddAll(items []T) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	for _, item := range items {
		rb.push(item)
	}
}

func (rb *RingBuffer[T]) push(item T) {
	capacity := len(rb.items)
	if rb.count == capacity {
		rb.items[rb.start] = item
		rb.start = (rb.start + 1) % capacity
		rb.dropped++
		rb.logger.Warn("sighting buffer full, dropped oldest entry",
			zap.Int("capacity", capacity),
			zap.Uint64("dropped_total", rb.dropped))
		return
	}
	rb.items[(rb.start+rb.count)%capacity] = item
	rb.count++
}

// Drain removes and returns every buffered item, oldest first.
// It returns nil when the buffer is empty.
func (rb *RingBuffer[T]) Drain() []T {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.count == 0 {
		return nil
	}

	var zero T
	capacity := len(rb.items)
	out := make([]T, rb.count)
	for i := range out {
		idx := (rb.start + i) % capacity
		out[i] = rb.items[idx]
		rb.items[idx] = zero
	}
	rb.start, rb.count = 0, 0
	return out
}

// Len returns the number of buffered items
func (rb *RingBuffer[T]) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count
}

// Capacity returns the maximum number of buffered items
func (rb *RingBuffer[T]) Capacity() int {
	return len(rb.items)
}

// Dropped returns how many items were evicted since creation
func (rb *RingBuffer[T]) Dropped() uint64 {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.dropped
}
