// Vigil - Hierarchical Supervision and Self-Healing Orchestration Core
// Copyright 2026 Vigil Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilcore/vigil

// Package events publishes the orchestration core's lifecycle stream for
// external observers: supervisor state changes, task outcomes, anomalies,
// recovery attempts, and approval decisions. Transport is Watermill over
// an in-process channel by default, or NATS (external or embedded) for
// multi-process deployments.
package events

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// SchemaVersion is the current event schema version. Increment on breaking
// changes to Event.
const SchemaVersion = 1

// Topics, one per event family.
const (
	TopicSupervisor = "vigil.supervisor"
	TopicTask       = "vigil.task"
	TopicAnomaly    = "vigil.anomaly"
	TopicRecovery   = "vigil.recovery"
	TopicApproval   = "vigil.approval"
)

// Event types.
const (
	TypeSupervisorState   = "supervisor.state_changed"
	TypeTaskSubmitted     = "task.submitted"
	TypeTaskCompleted     = "task.completed"
	TypeTaskFailed        = "task.failed"
	TypeTaskTimedOut      = "task.timed_out"
	TypeTaskCancelled     = "task.cancelled"
	TypeAnomalyDetected   = "anomaly.detected"
	TypeRecoveryResolved  = "recovery.resolved"
	TypeRecoveryEscalated = "recovery.escalated"
	TypeApprovalRequested = "approval.requested"
	TypeApprovalDecided   = "approval.decided"
)

// Event is the canonical record on the lifecycle stream.
type Event struct {
	SchemaVersion int             `json:"schema_version,omitempty"`
	EventID       string          `json:"event_id"`
	Type          string          `json:"type"`
	Component     string          `json:"component"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// NewEvent creates an event with a unique id, timestamp, and schema
// version. Payload marshal failures surface as an empty payload rather
// than blocking the stream.
func NewEvent(eventType, component string, payload any) Event {
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	return Event{
		SchemaVersion: SchemaVersion,
		EventID:       uuid.New().String(),
		Type:          eventType,
		Component:     component,
		Timestamp:     time.Now().UTC(),
		Payload:       raw,
	}
}

// Validate checks required fields.
func (e *Event) Validate() error {
	if e.EventID == "" {
		return &ValidationError{Field: "event_id"}
	}
	if e.Type == "" {
		return &ValidationError{Field: "type"}
	}
	if e.Component == "" {
		return &ValidationError{Field: "component"}
	}
	return nil
}

// TopicFor maps an event type to its stream topic.
func TopicFor(eventType string) string {
	switch {
	case eventType == TypeSupervisorState:
		return TopicSupervisor
	case eventType == TypeAnomalyDetected:
		return TopicAnomaly
	case eventType == TypeRecoveryResolved, eventType == TypeRecoveryEscalated:
		return TopicRecovery
	case eventType == TypeApprovalRequested, eventType == TypeApprovalDecided:
		return TopicApproval
	default:
		return TopicTask
	}
}

// ValidationError reports a missing required field.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return "event field " + e.Field + " is required"
}
