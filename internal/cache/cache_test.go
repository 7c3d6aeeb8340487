// Vigil - Hierarchical Supervision and Self-Healing Orchestration Core
// Copyright 2026 Vigil Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilcore/vigil

package cache

import (
	"sync"
	"testing"
	"time"
)

func TestSlidingWindowCountsWithinWindow(t *testing.T) {
	c := NewSlidingWindowCounter(time.Minute, 6)
	c.Increment(3)
	c.Increment(2)

	if got := c.Count(); got != 5 {
		t.Errorf("Count = %d, want 5", got)
	}
}

func TestSlidingWindowExpiresOldBuckets(t *testing.T) {
	fake := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewSlidingWindowCounter(time.Minute, 6)
	c.now = func() time.Time { return fake }
	c.Reset()

	c.Increment(10)

	// Advance past half the window: counts survive
	fake = fake.Add(30 * time.Second)
	if got := c.Count(); got != 10 {
		t.Errorf("Count after 30s = %d, want 10", got)
	}

	// Advance past the full window: counts expire
	fake = fake.Add(61 * time.Second)
	if got := c.Count(); got != 0 {
		t.Errorf("Count after window elapsed = %d, want 0", got)
	}
}

func TestSlidingWindowPartialExpiry(t *testing.T) {
	fake := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewSlidingWindowCounter(60*time.Second, 6) // 10s buckets
	c.now = func() time.Time { return fake }
	c.Reset()

	c.Increment(1)
	fake = fake.Add(25 * time.Second)
	c.Increment(1)

	// First increment is 25s old, still inside the 60s window.
	if got := c.Count(); got != 2 {
		t.Errorf("Count = %d, want 2", got)
	}

	// 45s later the first increment (70s old) is out, second (45s) is in.
	fake = fake.Add(45 * time.Second)
	if got := c.Count(); got != 1 {
		t.Errorf("Count = %d, want 1", got)
	}
}

func TestSlidingWindowConcurrent(t *testing.T) {
	c := NewSlidingWindowCounter(time.Minute, 10)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Increment(1)
			}
		}()
	}
	wg.Wait()

	if got := c.Count(); got != 800 {
		t.Errorf("Count = %d, want 800", got)
	}
}

func TestRingEvictsOldestFirst(t *testing.T) {
	r := NewRing[int](3)
	for i := 1; i <= 3; i++ {
		if _, evicted := r.Push(i); evicted {
			t.Errorf("unexpected eviction pushing %d", i)
		}
	}

	evicted, wasEvicted := r.Push(4)
	if !wasEvicted || evicted != 1 {
		t.Errorf("Push(4) evicted (%d,%v), want (1,true)", evicted, wasEvicted)
	}

	got := r.Snapshot()
	want := []int{2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("Snapshot = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Snapshot[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestRingZeroCapacityClamped(t *testing.T) {
	r := NewRing[string](0)
	r.Push("a")
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
}
