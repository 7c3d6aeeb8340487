// Vigil - Hierarchical Supervision and Self-Healing Orchestration Core
// Copyright 2026 Vigil Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilcore/vigil

package main

import (
	"context"

	"github.com/vigilcore/vigil/internal/anomaly"
	"github.com/vigilcore/vigil/internal/events"
	"github.com/vigilcore/vigil/internal/logging"
	"github.com/vigilcore/vigil/internal/recovery"
)

// intakeBuffer bounds queued anomalies awaiting recovery. Detection keeps
// running when recovery falls behind; overflow is logged and dropped.
const intakeBuffer = 128

// recoveryIntake funnels anomalies from the detectors and the supervisors
// into the recovery manager, one at a time so remediation never races
// itself. Implements suture.Service.
type recoveryIntake struct {
	bus     *events.Bus
	manager *recovery.Manager
	queue   chan anomaly.Anomaly
}

func newRecoveryIntake(bus *events.Bus) *recoveryIntake {
	return &recoveryIntake{
		bus:   bus,
		queue: make(chan anomaly.Anomaly, intakeBuffer),
	}
}

// Sink implements anomaly.Sink. Never blocks the caller.
func (r *recoveryIntake) Sink(a anomaly.Anomaly) {
	r.bus.Publish(events.NewEvent(events.TypeAnomalyDetected, a.Source, a))

	select {
	case r.queue <- a:
	default:
		logging.Warn().
			Str("anomaly", a.ID).
			Str("component", a.Source).
			Msg("recovery intake full, anomaly dropped")
	}
}

// Serve implements suture.Service: drains the intake until cancellation.
func (r *recoveryIntake) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case a := <-r.queue:
			r.handle(ctx, a)
		}
	}
}

func (r *recoveryIntake) handle(ctx context.Context, a anomaly.Anomaly) {
	out := r.manager.Handle(ctx, a)

	switch {
	case out.Resolved:
		r.bus.Publish(events.NewEvent(events.TypeRecoveryResolved, a.Source, out))
	case out.Escalated:
		r.bus.Publish(events.NewEvent(events.TypeRecoveryEscalated, a.Source, out))
		r.bus.Publish(events.NewEvent(events.TypeApprovalRequested, a.Source, map[string]string{
			"approval_id": out.ApprovalID,
			"anomaly_id":  a.ID,
		}))
	}
}

// String implements fmt.Stringer for suture logging.
func (r *recoveryIntake) String() string {
	return "recovery-intake"
}
