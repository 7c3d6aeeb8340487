// Vigil - Hierarchical Supervision and Self-Healing Orchestration Core
// Copyright 2026 Vigil Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilcore/vigil

// Package cache provides the small in-memory primitives shared by the
// detectors and the history buffers: a bucketed sliding-window counter and
// a fixed-capacity ring.
package cache

import (
	"sync"
	"time"
)

// SlidingWindowCounter counts events within a trailing time window using a
// circular buffer of buckets. Old buckets are zeroed as the window advances,
// so memory stays O(buckets) regardless of event rate.
//
// Increment is O(1); Count is O(buckets).
type SlidingWindowCounter struct {
	mu         sync.Mutex
	buckets    []int64
	bucketSize time.Duration
	numBuckets int
	current    int
	lastTick   time.Time

	// now is overridable for tests.
	now func() time.Time
}

// NewSlidingWindowCounter creates a counter covering window, divided into
// numBuckets buckets. A 24h window with 24 buckets tracks per-hour counts.
func NewSlidingWindowCounter(window time.Duration, numBuckets int) *SlidingWindowCounter {
	if numBuckets <= 0 {
		numBuckets = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	c := &SlidingWindowCounter{
		buckets:    make([]int64, numBuckets),
		bucketSize: window / time.Duration(numBuckets),
		numBuckets: numBuckets,
		now:        time.Now,
	}
	c.lastTick = c.now()
	return c
}

// Increment adds delta to the current bucket.
func (c *SlidingWindowCounter) Increment(delta int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advance()
	c.buckets[c.current] += delta
}

// Count returns the total across the window.
func (c *SlidingWindowCounter) Count() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advance()
	var total int64
	for _, n := range c.buckets {
		total += n
	}
	return total
}

// Reset zeroes every bucket.
func (c *SlidingWindowCounter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.buckets {
		c.buckets[i] = 0
	}
	c.current = 0
	c.lastTick = c.now()
}

// advance rotates expired buckets out of the window. Caller holds mu.
func (c *SlidingWindowCounter) advance() {
	elapsed := c.now().Sub(c.lastTick)
	steps := int(elapsed / c.bucketSize)
	if steps <= 0 {
		return
	}
	if steps >= c.numBuckets {
		for i := range c.buckets {
			c.buckets[i] = 0
		}
		c.current = 0
	} else {
		for i := 0; i < steps; i++ {
			c.current = (c.current + 1) % c.numBuckets
			c.buckets[c.current] = 0
		}
	}
	c.lastTick = c.lastTick.Add(time.Duration(steps) * c.bucketSize)
}
