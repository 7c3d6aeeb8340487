// Vigil - Hierarchical Supervision and Self-Healing Orchestration Core
// Copyright 2026 Vigil Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilcore/vigil

package task

import (
	"errors"
	"testing"

	"github.com/vigilcore/vigil/internal/errs"
)

func TestQueueStrictPriority(t *testing.T) {
	q := NewQueue("test", 10)

	low := New(nil, PriorityLow)
	med := New(nil, PriorityMedium)
	high1 := New(nil, PriorityHigh)
	high2 := New(nil, PriorityHigh)

	for _, tk := range []*Task{low, high1, med, high2} {
		if err := q.Enqueue(tk); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	// High lane drains fully first, FIFO within the lane.
	want := []*Task{high1, high2, med, low}
	for i, w := range want {
		got := q.Dequeue()
		if got == nil || got.ID != w.ID {
			t.Fatalf("Dequeue[%d] = %v, want %s", i, got, w.ID)
		}
	}
	if q.Dequeue() != nil {
		t.Error("Dequeue on empty queue should return nil")
	}
}

func TestQueueBackpressure(t *testing.T) {
	q := NewQueue("test", 2)
	if err := q.Enqueue(New(nil, PriorityLow)); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(New(nil, PriorityHigh)); err != nil {
		t.Fatal(err)
	}

	err := q.Enqueue(New(nil, PriorityHigh))
	if err == nil {
		t.Fatal("expected capacity rejection")
	}
	if !errors.Is(err, errs.ErrResource) {
		t.Errorf("error kind = %v, want ResourceError", err)
	}
}

// Cancellation is the store's business: the queue hands every task back and
// the store refuses the processing transition for cancelled ones. Run with
// -race; the dequeuer must never touch task state the store mutates.
func TestConcurrentCancelAndDequeue(t *testing.T) {
	const n = 256
	q := NewQueue("test", n)
	s := NewStore("test", n)

	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		tk := New(nil, PriorityMedium)
		if err := s.Add(tk); err != nil {
			t.Fatal(err)
		}
		if err := q.Enqueue(tk); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, tk.ID)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, id := range ids {
			if _, err := s.Cancel(id); err != nil {
				t.Error(err)
			}
		}
	}()

	dequeued := 0
	for dequeued < n {
		if q.Dequeue() != nil {
			dequeued++
		}
	}
	<-done

	for _, id := range ids {
		if err := s.MarkProcessing(id, "w", func() {}); !errors.Is(err, errs.ErrInternal) {
			t.Fatalf("MarkProcessing(%s) = %v, want refusal for cancelled task", id, err)
		}
	}
}

func TestQueueRequeueBypassesCapacity(t *testing.T) {
	q := NewQueue("test", 1)
	first := New(nil, PriorityHigh)
	if err := q.Enqueue(first); err != nil {
		t.Fatal(err)
	}
	taken := q.Dequeue()

	// Another submission reuses the freed slot before the handback.
	second := New(nil, PriorityHigh)
	if err := q.Enqueue(second); err != nil {
		t.Fatal(err)
	}

	q.Requeue(taken)
	if q.Len() != 2 {
		t.Errorf("Len after Requeue = %d, want 2", q.Len())
	}
	if got := q.Dequeue(); got == nil || got.ID != first.ID {
		t.Errorf("Dequeue = %v, want the requeued task at the lane front", got)
	}
	if got := q.Dequeue(); got == nil || got.ID != second.ID {
		t.Errorf("Dequeue = %v, want the later submission second", got)
	}
}

func TestQueueDrain(t *testing.T) {
	q := NewQueue("test", 10)
	for i := 0; i < 3; i++ {
		if err := q.Enqueue(New(nil, PriorityMedium)); err != nil {
			t.Fatal(err)
		}
	}

	drained := q.Drain()
	if len(drained) != 3 {
		t.Errorf("Drain returned %d tasks, want 3", len(drained))
	}
	if q.Len() != 0 {
		t.Errorf("Len after Drain = %d, want 0", q.Len())
	}
}
