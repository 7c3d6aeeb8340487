// Vigil - Hierarchical Supervision and Self-Healing Orchestration Core
// Copyright 2026 Vigil Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilcore/vigil

package recovery

import (
	"context"
	"math"

	"github.com/vigilcore/vigil/internal/anomaly"
	"github.com/vigilcore/vigil/internal/errs"
	"github.com/vigilcore/vigil/internal/logging"
)

// Rule derives a parameter adjustment from the component's current
// parameters. Returning the input unchanged means the rule has nothing to
// offer for this issue.
type Rule func(issue anomaly.Anomaly, params map[string]float64) map[string]float64

// ReconfigureStrategy applies rule-derived single-step parameter
// adjustments: widen a timeout, shrink a batch, lower concurrency. It is
// less invasive than a restart storm but more than isolation, hence its
// position in the chain.
type ReconfigureStrategy struct {
	control ComponentControl
	health  HealthCheck
	rules   []Rule
}

// NewReconfigureStrategy creates the strategy. With no explicit rules the
// default adjustment set is installed.
func NewReconfigureStrategy(control ComponentControl, health HealthCheck, rules ...Rule) *ReconfigureStrategy {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &ReconfigureStrategy{control: control, health: health, rules: rules}
}

// Name implements Strategy.
func (s *ReconfigureStrategy) Name() string { return "reconfigure" }

// Applies implements Strategy.
func (s *ReconfigureStrategy) Applies(anomaly.Anomaly) bool { return true }

// Execute runs the rules over the component's current parameters and
// commits the first adjustment that changes anything.
func (s *ReconfigureStrategy) Execute(ctx context.Context, issue anomaly.Anomaly) error {
	params, err := s.control.Parameters(issue.Source)
	if err != nil {
		return errs.Wrap(errs.KindTask, "recovery.reconfigure", err)
	}

	for _, rule := range s.rules {
		adjusted := rule(issue, cloneParams(params))
		if paramsEqual(params, adjusted) {
			continue
		}
		if err := s.control.UpdateConfig(issue.Source, adjusted); err != nil {
			return errs.Wrap(errs.KindTask, "recovery.reconfigure", err)
		}
		logging.Info().
			Str("component", issue.Source).
			Interface("params", adjusted).
			Msg("applied rule-derived reconfiguration")
		return nil
	}
	return errs.New(errs.KindTask, "recovery.reconfigure", "no rule produced an adjustment for %s", issue.Source)
}

// Verify implements Strategy.
func (s *ReconfigureStrategy) Verify(ctx context.Context, issue anomaly.Anomaly) error {
	return s.health(ctx, issue.Source)
}

// DefaultRules returns the built-in adjustment set. Parameter names follow
// the supervisor configuration schema; rules ignore parameters the
// component does not carry.
func DefaultRules() []Rule {
	return []Rule{
		// Timeout pressure: widen the task deadline by half.
		func(issue anomaly.Anomaly, params map[string]float64) map[string]float64 {
			if issue.Kind != anomaly.KindBehavioral {
				return params
			}
			if v, ok := params["task_timeout_ms"]; ok {
				params["task_timeout_ms"] = math.Ceil(v * 1.5)
			}
			return params
		},
		// Load pressure: shed a quarter of the concurrency, floor of one.
		func(issue anomaly.Anomaly, params map[string]float64) map[string]float64 {
			if issue.Kind != anomaly.KindMetric {
				return params
			}
			if v, ok := params["max_concurrent_tasks"]; ok && v > 1 {
				params["max_concurrent_tasks"] = math.Max(1, math.Floor(v*0.75))
			}
			return params
		},
		// Error bursts in logs: shrink batch-style knobs if present.
		func(issue anomaly.Anomaly, params map[string]float64) map[string]float64 {
			if issue.Kind != anomaly.KindLogPattern {
				return params
			}
			if v, ok := params["batch_size"]; ok && v > 1 {
				params["batch_size"] = math.Max(1, math.Floor(v/2))
			}
			return params
		},
	}
}

func cloneParams(params map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

func paramsEqual(a, b map[string]float64) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
