// Vigil - Hierarchical Supervision and Self-Healing Orchestration Core
// Copyright 2026 Vigil Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilcore/vigil

package recovery

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vigilcore/vigil/internal/anomaly"
	"github.com/vigilcore/vigil/internal/errs"
)

// RestartStrategy cycles the affected component. A second restart of the
// same component within the cooldown window is refused with ErrQuarantined
// to stop restart storms.
type RestartStrategy struct {
	control ComponentControl
	health  HealthCheck

	cooldown time.Duration
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRestartStrategy creates the restart strategy with a per-component
// cooldown.
func NewRestartStrategy(control ComponentControl, health HealthCheck, cooldown time.Duration) *RestartStrategy {
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &RestartStrategy{
		control:  control,
		health:   health,
		cooldown: cooldown,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Name implements Strategy.
func (s *RestartStrategy) Name() string { return "restart" }

// Applies implements Strategy: restart is the universal first attempt.
func (s *RestartStrategy) Applies(anomaly.Anomaly) bool { return true }

// Execute restarts the component unless it is inside the cooldown window.
func (s *RestartStrategy) Execute(ctx context.Context, issue anomaly.Anomaly) error {
	if !s.allow(issue.Source) {
		return ErrQuarantined
	}
	if err := s.control.RestartComponent(ctx, issue.Source); err != nil {
		return errs.Wrap(errs.KindTask, "recovery.restart", err)
	}
	return nil
}

// Verify implements Strategy: the component must report healthy after the
// restart.
func (s *RestartStrategy) Verify(ctx context.Context, issue anomaly.Anomaly) error {
	return s.health(ctx, issue.Source)
}

// allow consumes one restart token for the component. The limiter refills
// one token per cooldown window and holds at most one, so bursts collapse
// to a single restart.
func (s *RestartStrategy) allow(component string) bool {
	s.mu.Lock()
	lim, ok := s.limiters[component]
	if !ok {
		lim = rate.NewLimiter(rate.Every(s.cooldown), 1)
		s.limiters[component] = lim
	}
	s.mu.Unlock()
	return lim.Allow()
}
