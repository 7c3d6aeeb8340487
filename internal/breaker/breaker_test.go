// Vigil - Hierarchical Supervision and Self-Healing Orchestration Core
// Copyright 2026 Vigil Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilcore/vigil

package breaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

var errBoom = errors.New("boom")

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 5, ResetTimeout: time.Minute})

	for i := 0; i < 5; i++ {
		if err := r.Execute("db", func() error { return errBoom }); !errors.Is(err, errBoom) {
			t.Fatalf("failure %d: err = %v, want boom", i, err)
		}
	}

	if got := r.State("db"); got != gobreaker.StateOpen {
		t.Fatalf("state after 5 failures = %v, want open", got)
	}

	// Open rejects immediately without invoking the protected call.
	called := false
	err := r.Execute("db", func() error { called = true; return nil })
	if !Rejected(err) {
		t.Errorf("err = %v, want rejection", err)
	}
	if called {
		t.Error("protected call executed while breaker open")
	}
}

func TestHalfOpenSingleProbeThenClose(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 2, ResetTimeout: 50 * time.Millisecond})

	for i := 0; i < 2; i++ {
		_ = r.Execute("api", func() error { return errBoom })
	}
	if got := r.State("api"); got != gobreaker.StateOpen {
		t.Fatalf("state = %v, want open", got)
	}

	time.Sleep(60 * time.Millisecond)

	// Exactly one concurrent probe is admitted in half-open.
	var mu sync.Mutex
	admitted, rejected := 0, 0
	release := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := r.Execute("api", func() error { <-release; return nil })
			mu.Lock()
			defer mu.Unlock()
			if Rejected(err) {
				rejected++
			} else if err == nil {
				admitted++
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if admitted != 1 || rejected != 2 {
		t.Errorf("admitted=%d rejected=%d, want 1 and 2", admitted, rejected)
	}

	// Probe success closed the breaker and reset the failure count.
	if got := r.State("api"); got != gobreaker.StateClosed {
		t.Errorf("state after probe success = %v, want closed", got)
	}
	if counts := r.Counts("api"); counts.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures = %d, want 0", counts.ConsecutiveFailures)
	}
}

func TestProbeFailureReopens(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1, ResetTimeout: 50 * time.Millisecond})

	_ = r.Execute("cache", func() error { return errBoom })
	if got := r.State("cache"); got != gobreaker.StateOpen {
		t.Fatalf("state = %v, want open", got)
	}

	time.Sleep(60 * time.Millisecond)

	if err := r.Execute("cache", func() error { return errBoom }); !errors.Is(err, errBoom) {
		t.Fatalf("probe err = %v, want boom", err)
	}
	if got := r.State("cache"); got != gobreaker.StateOpen {
		t.Errorf("state after probe failure = %v, want open again", got)
	}
}

func TestTripForcesOpen(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 3, ResetTimeout: time.Minute})

	r.Trip("downstream")
	if got := r.State("downstream"); got != gobreaker.StateOpen {
		t.Errorf("state after Trip = %v, want open", got)
	}

	// Trip on an already-open breaker is a no-op.
	r.Trip("downstream")
	if got := r.State("downstream"); got != gobreaker.StateOpen {
		t.Errorf("state after second Trip = %v, want open", got)
	}
}

func TestBreakersIsolatedPerResource(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1, ResetTimeout: time.Minute})

	_ = r.Execute("a", func() error { return errBoom })
	if got := r.State("a"); got != gobreaker.StateOpen {
		t.Fatalf("a = %v, want open", got)
	}
	if got := r.State("b"); got != gobreaker.StateClosed {
		t.Errorf("b = %v, want closed (breakers never shared)", got)
	}
}

func TestResourcesListsLazilyCreated(t *testing.T) {
	r := NewRegistry(DefaultConfig())
	_ = r.Execute("x", func() error { return nil })
	_ = r.Execute("y", func() error { return nil })

	got := r.Resources()
	if len(got) != 2 {
		t.Errorf("Resources = %v, want 2 entries", got)
	}
}
