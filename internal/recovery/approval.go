// Vigil - Hierarchical Supervision and Self-Healing Orchestration Core
// Copyright 2026 Vigil Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilcore/vigil

package recovery

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vigilcore/vigil/internal/anomaly"
	"github.com/vigilcore/vigil/internal/errs"
	"github.com/vigilcore/vigil/internal/logging"
	"github.com/vigilcore/vigil/internal/metrics"
)

// Decision is the terminal state of an approval request.
type Decision string

const (
	DecisionPending  Decision = "pending"
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// Approval is one escalated issue awaiting a human decision. Unresolved
// issues stay visible in the pending list until decided; the configured
// timeout converts silence into rejection.
type Approval struct {
	ID             string          `json:"id"`
	Issue          anomaly.Anomaly `json:"issue"`
	ProposedAction string          `json:"proposed_action"`
	RequestedAt    time.Time       `json:"requested_at"`
	Decision       Decision        `json:"decision"`
	Reason         string          `json:"reason,omitempty"`
	DecidedAt      *time.Time      `json:"decided_at,omitempty"`
}

// ApprovalDesk is the meta-supervisor's escalation interface. Automatic
// action on an escalated issue stops until a decision lands.
type ApprovalDesk struct {
	timeout time.Duration

	mu       sync.Mutex
	pending  map[string]*Approval
	timers   map[string]*time.Timer
	decided  []*Approval
	onDecide func(Approval)
}

// NewApprovalDesk creates a desk whose requests expire to rejection after
// timeout.
func NewApprovalDesk(timeout time.Duration) *ApprovalDesk {
	if timeout <= 0 {
		timeout = time.Hour
	}
	return &ApprovalDesk{
		timeout: timeout,
		pending: make(map[string]*Approval),
		timers:  make(map[string]*time.Timer),
	}
}

// OnDecision registers a callback invoked once per decided approval,
// including timeouts. Must be set before requests arrive.
func (d *ApprovalDesk) OnDecision(fn func(Approval)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onDecide = fn
}

// RequestApproval raises an escalation and returns its id.
func (d *ApprovalDesk) RequestApproval(issue anomaly.Anomaly, proposedAction string) string {
	a := &Approval{
		ID:             uuid.New().String(),
		Issue:          issue,
		ProposedAction: proposedAction,
		RequestedAt:    time.Now().UTC(),
		Decision:       DecisionPending,
	}

	d.mu.Lock()
	d.pending[a.ID] = a
	d.timers[a.ID] = time.AfterFunc(d.timeout, func() { d.expire(a.ID) })
	d.mu.Unlock()

	metrics.EscalationsPending.Inc()
	logging.Warn().
		Str("approval_id", a.ID).
		Str("issue", issue.ID).
		Str("component", issue.Source).
		Str("severity", issue.Severity.String()).
		Msg("approval requested")
	return a.ID
}

// Approve marks the request approved.
func (d *ApprovalDesk) Approve(approvalID string) error {
	return d.decide(approvalID, DecisionApproved, "")
}

// Reject marks the request rejected with an operator-supplied reason.
func (d *ApprovalDesk) Reject(approvalID, reason string) error {
	return d.decide(approvalID, DecisionRejected, reason)
}

// Pending returns the undecided approvals, oldest first.
func (d *ApprovalDesk) Pending() []Approval {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Approval, 0, len(d.pending))
	for _, a := range d.pending {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out
}

// Get returns one approval, pending or decided.
func (d *ApprovalDesk) Get(approvalID string) (Approval, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if a, ok := d.pending[approvalID]; ok {
		return *a, nil
	}
	for _, a := range d.decided {
		if a.ID == approvalID {
			return *a, nil
		}
	}
	return Approval{}, errs.New(errs.KindNotFound, "recovery.approval", "unknown approval id %s", approvalID)
}

// decide resolves a pending approval exactly once.
func (d *ApprovalDesk) decide(approvalID string, decision Decision, reason string) error {
	d.mu.Lock()
	a, ok := d.pending[approvalID]
	if !ok {
		d.mu.Unlock()
		return errs.New(errs.KindNotFound, "recovery.approval", "unknown or already decided approval %s", approvalID)
	}
	if t := d.timers[approvalID]; t != nil {
		t.Stop()
		delete(d.timers, approvalID)
	}
	delete(d.pending, approvalID)

	now := time.Now().UTC()
	a.Decision = decision
	a.Reason = reason
	a.DecidedAt = &now
	d.decided = append(d.decided, a)
	callback := d.onDecide
	snapshot := *a
	d.mu.Unlock()

	metrics.EscalationsPending.Dec()
	logging.Info().
		Str("approval_id", approvalID).
		Str("decision", string(decision)).
		Str("reason", reason).
		Msg("approval decided")
	if callback != nil {
		callback(snapshot)
	}
	return nil
}

// expire converts a timed-out request into an implicit rejection.
func (d *ApprovalDesk) expire(approvalID string) {
	//nolint:errcheck // already decided is the benign race here
	d.decide(approvalID, DecisionRejected, "approval timeout elapsed")
}
