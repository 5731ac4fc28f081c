package telemetry

import "sync"

// RingBuffer keeps the most recent N items, evicting the oldest first.
type RingBuffer[T any] struct {
	mu    sync.RWMutex
	items []T
	head  int
	size  int
}

// NewRingBuffer creates a buffer holding up to capacity items (minimum 1).
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer[T]{items: make([]T, capacity)}
}

// Push appends item, dropping the oldest entry when full.
func (b *RingBuffer[T]) Push(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := (b.head + b.size) % len(b.items)
	b.items[idx] = item
	if b.size < len(b.items) {
		b.size++
		return
	}
	b.head = (b.head + 1) % len(b.items)
}

// Snapshot returns the buffered items oldest first.
func (b *RingBuffer[T]) Snapshot() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]T, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.items[(b.head+i)%len(b.items)]
	}
	return out
}

// Recent returns up to n of the newest items, newest first.
func (b *RingBuffer[T]) Recent(n int) []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n <= 0 || n > b.size {
		n = b.size
	}
	out := make([]T, n)
	for i := 0; i < n; i++ {
		out[i] = b.items[(b.head+b.size-1-i)%len(b.items)]
	}
	return out
}

// Len returns the number of buffered items.
func (b *RingBuffer[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Cap returns the buffer capacity.
func (b *RingBuffer[T]) Cap() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items)
}

// Resize changes the capacity, keeping the newest items.
func (b *RingBuffer[T]) Resize(capacity int) {
	if capacity <= 0 {
		capacity = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if capacity == len(b.items) {
		return
	}

	keep := b.size
	if keep > capacity {
		keep = capacity
	}
	items := make([]T, capacity)
	for i := 0; i < keep; i++ {
		items[i] = b.items[(b.head+b.size-keep+i)%len(b.items)]
	}
	b.items, b.head, b.size = items, 0, keep
}
