// Vigil - Hierarchical Supervision and Self-Healing Orchestration Core
// Copyright 2026 Vigil Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilcore/vigil

package recovery

import (
	"context"

	"github.com/vigilcore/vigil/internal/anomaly"
	"github.com/vigilcore/vigil/internal/breaker"
)

// CircuitBreakStrategy isolates the failing dependency behind its circuit
// breaker. The breaker's own reset cycle then governs when traffic is
// allowed to probe the dependency again.
type CircuitBreakStrategy struct {
	breakers *breaker.Registry
	health   HealthCheck
}

// NewCircuitBreakStrategy creates the isolation strategy.
func NewCircuitBreakStrategy(breakers *breaker.Registry, health HealthCheck) *CircuitBreakStrategy {
	return &CircuitBreakStrategy{breakers: breakers, health: health}
}

// Name implements Strategy.
func (s *CircuitBreakStrategy) Name() string { return "circuit-break" }

// Applies implements Strategy: isolation helps when the issue points at a
// dependency interaction, which metric and behavioral anomalies do.
func (s *CircuitBreakStrategy) Applies(issue anomaly.Anomaly) bool {
	return issue.Kind == anomaly.KindMetric || issue.Kind == anomaly.KindBehavioral
}

// Execute trips the source component's breaker open.
func (s *CircuitBreakStrategy) Execute(_ context.Context, issue anomaly.Anomaly) error {
	s.breakers.Trip(issue.Source)
	return nil
}

// Verify implements Strategy: with the dependency isolated, the component
// itself must settle back to healthy.
func (s *CircuitBreakStrategy) Verify(ctx context.Context, issue anomaly.Anomaly) error {
	return s.health(ctx, issue.Source)
}
