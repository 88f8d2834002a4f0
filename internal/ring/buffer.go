// Package ring provides a fixed-capacity, recency-indexed history buffer.
//
// Index 0 always denotes the most recently stored item. Once the buffer is
// full, Put overwrites the slot holding the oldest item. The buffer may grow
// but never shrinks.
package ring

import "sync"

// Buffer is a circular history of T guarded by a single RWMutex, so a
// reader observes either the old or the new value of a slot and never a
// backing array that disagrees with the capacity metadata.
type Buffer[T any] struct {
	mu    sync.RWMutex
	items []T
	head  int // next write position
	count int // number of stored items
}

// New creates a Buffer with the given capacity. Capacities below 1 are
// clamped to 1.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// Put stores item as the most recent entry. When the buffer was already
// full the overwritten item is returned with evicted set to true.
func (b *Buffer[T]) Put(item T) (old T, evicted bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == len(b.items) {
		old, evicted = b.items[b.head], true
	} else {
		b.count++
	}
	b.items[b.head] = item
	b.head = (b.head + 1) % len(b.items)
	return old, evicted
}

// Get returns the item stored k insertions ago. ok is false when k is
// outside [0, Count()).
func (b *Buffer[T]) Get(k int) (item T, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.at(k)
}

// GetOr is Get with a caller supplied sentinel for out-of-range indexes.
func (b *Buffer[T]) GetOr(k int, def T) T {
	if item, ok := b.Get(k); ok {
		return item
	}
	return def
}

// at assumes the read lock is held.
func (b *Buffer[T]) at(k int) (item T, ok bool) {
	if k < 0 || k >= b.count {
		return item, false
	}
	capacity := len(b.items)
	idx := (b.head - 1 - k + capacity) % capacity
	return b.items[idx], true
}

// View calls fn with an accessor bound to a single consistent generation of
// the buffer. The accessor must not escape fn and fn must not write to the
// buffer.
func (b *Buffer[T]) View(fn func(at func(k int) (T, bool), count int)) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	fn(b.at, b.count)
}

// Count returns the number of stored items.
func (b *Buffer[T]) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Capacity returns the maximum number of items the buffer holds.
func (b *Buffer[T]) Capacity() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items)
}

// Resize grows the buffer to newCapacity, preserving recency order. It is a
// no-op when newCapacity does not exceed the current capacity.
func (b *Buffer[T]) Resize(newCapacity int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if newCapacity <= len(b.items) {
		return
	}
	items := make([]T, newCapacity)
	// copy oldest -> newest into the front of the new array
	for i := 0; i < b.count; i++ {
		items[i], _ = b.at(b.count - 1 - i)
	}
	b.items = items
	b.head = b.count % newCapacity
}

// Snapshot returns a newest-first copy of the stored items.
func (b *Buffer[T]) Snapshot() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]T, b.count)
	for k := range out {
		out[k], _ = b.at(k)
	}
	return out
}

// Clear drops every stored item.
func (b *Buffer[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero T
	for i := range b.items {
		b.items[i] = zero
	}
	b.head = 0
	b.count = 0
}
