// Vigil - Hierarchical Supervision and Self-Healing Orchestration Core
// Copyright 2026 Vigil Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilcore/vigil

// Package recovery implements the graduated self-healing pipeline: issues
// flow through the strategy chain (restart, circuit break, reconfigure,
// genetic optimization) in increasing invasiveness, stopping at the first
// strategy whose remediation verifies against current health. Exhausted or
// critical issues escalate to the human approval desk; nothing is silently
// dropped.
package recovery

import (
	"context"
	"errors"
	"time"

	"github.com/vigilcore/vigil/internal/anomaly"
	"github.com/vigilcore/vigil/internal/errs"
	"github.com/vigilcore/vigil/internal/logging"
	"github.com/vigilcore/vigil/internal/metrics"
)

// ErrQuarantined is returned by the restart strategy when the component
// restarted too recently. A quarantined attempt is skipped, not counted as
// a failure.
var ErrQuarantined = errors.New("component quarantined by restart cooldown")

// Strategy is one remediation policy. Execute applies the remediation;
// Verify checks it against the component's current health, not the
// historical signal, so acting on a stale issue is safe.
type Strategy interface {
	Name() string
	Applies(issue anomaly.Anomaly) bool
	Execute(ctx context.Context, issue anomaly.Anomaly) error
	Verify(ctx context.Context, issue anomaly.Anomaly) error
}

// ComponentControl is the slice of the supervisor layer the strategies
// drive: restarting a component, reading its tunable parameters, and
// committing new ones.
type ComponentControl interface {
	RestartComponent(ctx context.Context, component string) error
	Parameters(component string) (map[string]float64, error)
	UpdateConfig(component string, params map[string]float64) error
}

// HealthCheck probes a component's current health; nil means healthy.
type HealthCheck func(ctx context.Context, component string) error

// Attempt records one strategy attempt for the audit trail.
type Attempt struct {
	Strategy string `json:"strategy"`
	Outcome  string `json:"outcome"` // verified, failed, quarantined, skipped
	Detail   string `json:"detail,omitempty"`
}

// Outcome is the result of running one issue through the chain.
type Outcome struct {
	Resolved   bool      `json:"resolved"`
	Strategy   string    `json:"strategy,omitempty"`
	Escalated  bool      `json:"escalated"`
	ApprovalID string    `json:"approval_id,omitempty"`
	Attempts   []Attempt `json:"attempts"`
}

// Manager drives the fixed-order strategy chain. One issue is processed at
// a time per Handle call; callers serialize per-component handling.
type Manager struct {
	strategies    []Strategy
	verifyTimeout time.Duration
	desk          *ApprovalDesk
}

// NewManager builds the chain in escalation order: restart, circuit break,
// reconfigure, genetic. The order is fixed; strategies self-select per
// issue via Applies.
func NewManager(verifyTimeout time.Duration, desk *ApprovalDesk, strategies ...Strategy) *Manager {
	if verifyTimeout <= 0 {
		verifyTimeout = 30 * time.Second
	}
	return &Manager{
		strategies:    strategies,
		verifyTimeout: verifyTimeout,
		desk:          desk,
	}
}

// Handle runs the issue through the chain, stopping at the first verified
// success. Issues no strategy resolves, and Critical issues that remain
// unresolved, raise an approval request and take no further automatic
// action.
func (m *Manager) Handle(ctx context.Context, issue anomaly.Anomaly) Outcome {
	var out Outcome

	for _, s := range m.strategies {
		if !s.Applies(issue) {
			out.Attempts = append(out.Attempts, Attempt{Strategy: s.Name(), Outcome: "skipped"})
			continue
		}

		if err := s.Execute(ctx, issue); err != nil {
			if errors.Is(err, ErrQuarantined) {
				metrics.RecoveryAttempts.WithLabelValues(s.Name(), "quarantined").Inc()
				out.Attempts = append(out.Attempts, Attempt{Strategy: s.Name(), Outcome: "quarantined"})
				logging.Warn().
					Str("strategy", s.Name()).
					Str("component", issue.Source).
					Msg("strategy quarantined, moving to next")
				continue
			}
			metrics.RecoveryAttempts.WithLabelValues(s.Name(), "failed").Inc()
			out.Attempts = append(out.Attempts, Attempt{Strategy: s.Name(), Outcome: "failed", Detail: err.Error()})
			logging.Err(err).
				Str("strategy", s.Name()).
				Str("component", issue.Source).
				Msg("strategy execution failed")
			continue
		}

		if err := m.verify(ctx, s, issue); err != nil {
			metrics.RecoveryAttempts.WithLabelValues(s.Name(), "failed").Inc()
			out.Attempts = append(out.Attempts, Attempt{Strategy: s.Name(), Outcome: "failed", Detail: err.Error()})
			logging.Warn().
				Str("strategy", s.Name()).
				Str("component", issue.Source).
				Err(err).
				Msg("remediation did not verify")
			continue
		}

		metrics.RecoveryAttempts.WithLabelValues(s.Name(), "verified").Inc()
		out.Resolved = true
		out.Strategy = s.Name()
		out.Attempts = append(out.Attempts, Attempt{Strategy: s.Name(), Outcome: "verified"})
		logging.Info().
			Str("strategy", s.Name()).
			Str("component", issue.Source).
			Str("issue", issue.ID).
			Msg("issue resolved")
		return out
	}

	// Exhausted the chain. Escalate and stop all automatic action.
	out.Escalated = true
	if m.desk != nil {
		out.ApprovalID = m.desk.RequestApproval(issue, proposedAction(out.Attempts))
	}
	logging.Warn().
		Str("component", issue.Source).
		Str("issue", issue.ID).
		Str("severity", issue.Severity.String()).
		Str("approval_id", out.ApprovalID).
		Msg("recovery exhausted, escalated for approval")
	return out
}

// verify bounds the strategy's verification step; exceeding the timeout
// counts as failure.
func (m *Manager) verify(ctx context.Context, s Strategy, issue anomaly.Anomaly) error {
	vctx, cancel := context.WithTimeout(ctx, m.verifyTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Verify(vctx, issue) }()

	select {
	case err := <-done:
		return err
	case <-vctx.Done():
		return errs.New(errs.KindTask, "recovery.verify", "verification timed out after %s", m.verifyTimeout)
	}
}

// proposedAction summarizes what was tried, for the approval request.
func proposedAction(attempts []Attempt) string {
	for i := len(attempts) - 1; i >= 0; i-- {
		if attempts[i].Outcome == "failed" {
			return "manual intervention: automatic " + attempts[i].Strategy + " did not verify"
		}
	}
	return "manual intervention: no automatic strategy applied"
}
