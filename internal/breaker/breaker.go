// Vigil - Hierarchical Supervision and Self-Healing Orchestration Core
// Copyright 2026 Vigil Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilcore/vigil

// Package breaker maintains one circuit breaker per protected resource,
// created lazily on first use and never shared across resources.
//
// The state machine is sony/gobreaker's: Closed counts consecutive
// failures and opens at the configured threshold; Open rejects everything
// until the reset timeout elapses; HalfOpen admits exactly one probe
// (MaxRequests=1), closing on success with counts reset and reopening on
// failure. gobreaker holds the admit decision and the outcome recording in
// one critical section, so two concurrent probes can never both be admitted
// in HalfOpen.
package breaker

import (
	"errors"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/vigilcore/vigil/internal/logging"
	"github.com/vigilcore/vigil/internal/metrics"
)

// errInducedTrip is fed to a breaker by Trip to force it open.
var errInducedTrip = errors.New("breaker tripped by recovery strategy")

// Config holds the defaults applied to lazily-created breakers.
type Config struct {
	// FailureThreshold is consecutive failures before opening.
	FailureThreshold uint32

	// ResetTimeout is the Open duration before the half-open probe.
	ResetTimeout time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

// Registry owns the per-resource breakers.
type Registry struct {
	cfg Config

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config) *Registry {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultConfig().ResetTimeout
	}
	return &Registry{
		cfg:      cfg,
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
	}
}

// get returns the breaker for a resource, creating it on first use.
func (r *Registry) get(resource string) *gobreaker.CircuitBreaker[any] {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[resource]; ok {
		return cb
	}

	threshold := r.cfg.FailureThreshold
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        resource,
		MaxRequests: 1, // single probe in half-open
		Timeout:     r.cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr, toStr := stateName(from), stateName(to)
			logging.Info().
				Str("resource", name).
				Str("from", fromStr).
				Str("to", toStr).
				Msg("circuit breaker state transition")
			metrics.BreakerState.WithLabelValues(name).Set(stateValue(to))
			metrics.BreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})
	metrics.BreakerState.WithLabelValues(resource).Set(stateValue(gobreaker.StateClosed))
	r.breakers[resource] = cb
	return cb
}

// Execute runs fn under the resource's breaker. An open breaker rejects
// immediately; rejections and failures are both reported in metrics.
func (r *Registry) Execute(resource string, fn func() error) error {
	cb := r.get(resource)
	_, err := cb.Execute(func() (any, error) {
		return nil, fn()
	})

	switch {
	case err == nil:
		metrics.BreakerRequests.WithLabelValues(resource, "success").Inc()
	case Rejected(err):
		metrics.BreakerRequests.WithLabelValues(resource, "rejected").Inc()
	default:
		metrics.BreakerRequests.WithLabelValues(resource, "failure").Inc()
	}
	return err
}

// Trip forces the resource's breaker open by recording induced failures up
// to the threshold. Used by the circuit-break recovery strategy to isolate
// a failing dependency; a breaker already open is left alone.
func (r *Registry) Trip(resource string) {
	cb := r.get(resource)
	for i := uint32(0); i < r.cfg.FailureThreshold; i++ {
		if cb.State() != gobreaker.StateClosed {
			return
		}
		//nolint:errcheck // the induced failure is the point
		cb.Execute(func() (any, error) { return nil, errInducedTrip })
	}
}

// State returns the resource's current breaker state.
func (r *Registry) State(resource string) gobreaker.State {
	return r.get(resource).State()
}

// Counts returns the resource's breaker counters.
func (r *Registry) Counts(resource string) gobreaker.Counts {
	return r.get(resource).Counts()
}

// Resources returns the ids of all breakers created so far.
func (r *Registry) Resources() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.breakers))
	for id := range r.breakers {
		out = append(out, id)
	}
	return out
}

// Rejected reports whether err is a breaker rejection (open circuit or a
// second half-open probe) rather than a failure of the protected call.
func Rejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func stateName(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
