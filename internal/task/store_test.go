// Vigil - Hierarchical Supervision and Self-Healing Orchestration Core
// Copyright 2026 Vigil Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilcore/vigil

package task

import (
	"context"
	"errors"
	"testing"

	"github.com/vigilcore/vigil/internal/errs"
)

func TestTaskIDsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		tk := New(nil, PriorityMedium)
		if seen[tk.ID] {
			t.Fatalf("duplicate task id %s", tk.ID)
		}
		seen[tk.ID] = true
	}
}

func TestTaskIDsMonotonic(t *testing.T) {
	// UUIDv7 ids sort by creation time, so later submissions compare greater.
	prev := New(nil, PriorityLow).ID
	for i := 0; i < 100; i++ {
		next := New(nil, PriorityLow).ID
		if next <= prev {
			t.Fatalf("id %s not greater than previous %s", next, prev)
		}
		prev = next
	}
}

func TestStoreLifecycle(t *testing.T) {
	s := NewStore("test", 16)
	tk := New([]byte(`{"job":"noop"}`), PriorityHigh)
	if err := s.Add(tk); err != nil {
		t.Fatal(err)
	}

	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.MarkProcessing(tk.ID, "worker-1", cancel); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusProcessing {
		t.Errorf("Status = %s, want processing", got.Status)
	}
	if got.AssignedSupervisor != "worker-1" {
		t.Errorf("AssignedSupervisor = %q, want worker-1", got.AssignedSupervisor)
	}
	if got.StartedAt == nil {
		t.Error("StartedAt not set")
	}

	if err := s.Complete(tk.ID, []byte(`"done"`)); err != nil {
		t.Fatal(err)
	}
	got, err = s.Get(tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusCompleted {
		t.Errorf("Status = %s, want completed", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
}

func TestStoreGetUnknownReturnsNotFound(t *testing.T) {
	s := NewStore("test", 16)
	_, err := s.Get("no-such-id")
	if !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Get unknown = %v, want NotFound", err)
	}
}

func TestStoreDuplicateAddIsInternalError(t *testing.T) {
	s := NewStore("test", 16)
	tk := New(nil, PriorityLow)
	if err := s.Add(tk); err != nil {
		t.Fatal(err)
	}
	err := s.Add(tk)
	if !errors.Is(err, errs.ErrInternal) {
		t.Errorf("duplicate Add = %v, want InternalError", err)
	}
}

func TestCancelIdempotent(t *testing.T) {
	s := NewStore("test", 16)
	tk := New(nil, PriorityLow)
	if err := s.Add(tk); err != nil {
		t.Fatal(err)
	}

	first, err := s.Cancel(tk.ID)
	if err != nil {
		t.Fatalf("first Cancel: %v", err)
	}
	if first != StatusCancelled {
		t.Errorf("first Cancel = %s, want cancelled", first)
	}

	second, err := s.Cancel(tk.ID)
	if err != nil {
		t.Errorf("second Cancel errored: %v", err)
	}
	if second != first {
		t.Errorf("second Cancel = %s, want same terminal state %s", second, first)
	}
}

func TestCancelSignalsExecutingContext(t *testing.T) {
	s := NewStore("test", 16)
	tk := New(nil, PriorityLow)
	if err := s.Add(tk); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.MarkProcessing(tk.ID, "w", cancel); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Cancel(tk.ID); err != nil {
		t.Fatal(err)
	}

	select {
	case <-ctx.Done():
	default:
		t.Error("executing context not signalled by Cancel")
	}
}

func TestFirstTerminalOutcomeWins(t *testing.T) {
	s := NewStore("test", 16)
	tk := New(nil, PriorityLow)
	if err := s.Add(tk); err != nil {
		t.Fatal(err)
	}
	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.MarkProcessing(tk.ID, "w", cancel); err != nil {
		t.Fatal(err)
	}

	if err := s.Timeout(tk.ID); err != nil {
		t.Fatal(err)
	}
	// A late completion must not overwrite the timeout.
	if err := s.Complete(tk.ID, []byte(`"late"`)); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusTimedOut {
		t.Errorf("Status = %s, want timed_out", got.Status)
	}
}

func TestHistoryEviction(t *testing.T) {
	s := NewStore("test", 2)

	var ids []string
	for i := 0; i < 3; i++ {
		tk := New(nil, PriorityLow)
		if err := s.Add(tk); err != nil {
			t.Fatal(err)
		}
		if err := s.Fail(tk.ID, "routing failure"); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, tk.ID)
	}

	// Oldest terminal task evicted; querying it is NotFound, not empty.
	if _, err := s.Get(ids[0]); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("evicted task Get = %v, want NotFound", err)
	}
	// Recent terminal tasks remain queryable.
	for _, id := range ids[1:] {
		if _, err := s.Get(id); err != nil {
			t.Errorf("retained task Get(%s) = %v", id, err)
		}
	}
}
