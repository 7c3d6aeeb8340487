// Vigil - Hierarchical Supervision and Self-Healing Orchestration Core
// Copyright 2026 Vigil Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilcore/vigil

package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorMatchesKindSentinel(t *testing.T) {
	tests := []struct {
		kind     Kind
		sentinel error
	}{
		{KindInit, ErrInit},
		{KindCommunication, ErrCommunication},
		{KindTask, ErrTask},
		{KindResource, ErrResource},
		{KindNotFound, ErrNotFound},
		{KindInternal, ErrInternal},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			err := New(tt.kind, "op", "boom")
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false, want true", err, tt.sentinel)
			}
			// Must not match the other sentinels
			for _, other := range tests {
				if other.kind == tt.kind {
					continue
				}
				if errors.Is(err, other.sentinel) {
					t.Errorf("errors.Is(%v, %v) = true, want false", err, other.sentinel)
				}
			}
		})
	}
}

func TestErrorMatchesThroughWrapping(t *testing.T) {
	inner := New(KindResource, "queue.Enqueue", "queue full: 100/100")
	outer := fmt.Errorf("submit failed: %w", inner)

	if !errors.Is(outer, ErrResource) {
		t.Error("wrapped error lost its kind")
	}

	var e *Error
	if !errors.As(outer, &e) {
		t.Fatal("errors.As failed to find *Error")
	}
	if e.Op != "queue.Enqueue" {
		t.Errorf("Op = %q, want queue.Enqueue", e.Op)
	}
}

func TestWrapNil(t *testing.T) {
	if err := Wrap(KindTask, "op", nil); err != nil {
		t.Errorf("Wrap(nil) = %v, want nil", err)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("downstream refused")
	err := Wrap(KindCommunication, "broker.SendDirect", cause)

	if !errors.Is(err, cause) {
		t.Error("Unwrap chain does not reach cause")
	}
	if !strings.Contains(err.Error(), "downstream refused") {
		t.Errorf("Error() = %q, missing cause text", err.Error())
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(New(KindNotFound, "op", "missing")); got != KindNotFound {
		t.Errorf("KindOf = %v, want KindNotFound", got)
	}
	if got := KindOf(errors.New("plain")); got != KindInternal {
		t.Errorf("KindOf(plain) = %v, want KindInternal", got)
	}
}
