// Vigil - Hierarchical Supervision and Self-Healing Orchestration Core
// Copyright 2026 Vigil Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilcore/vigil

package cache

import "sync"

// Ring is a fixed-capacity buffer that evicts oldest-first once full. It
// backs the broker's per-destination replay history and the task store's
// terminal-task history. Not a durability mechanism.
type Ring[T any] struct {
	mu    sync.RWMutex
	items []T
	head  int
	count int
}

// NewRing creates a ring holding at most capacity items.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{items: make([]T, capacity)}
}

// Push appends an item, evicting the oldest if the ring is full. Returns the
// evicted item and whether an eviction happened.
func (r *Ring[T]) Push(item T) (evicted T, wasEvicted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tail := (r.head + r.count) % len(r.items)
	if r.count == len(r.items) {
		evicted = r.items[r.head]
		wasEvicted = true
		r.head = (r.head + 1) % len(r.items)
		r.count--
	}
	r.items[tail] = item
	r.count++
	return evicted, wasEvicted
}

// Len returns the number of buffered items.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Snapshot returns the buffered items oldest-first.
func (r *Ring[T]) Snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.items[(r.head+i)%len(r.items)]
	}
	return out
}
