// Vigil - Hierarchical Supervision and Self-Healing Orchestration Core
// Copyright 2026 Vigil Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilcore/vigil

// Package anomaly implements the detection pipeline: a uniform anomaly
// record, a detector contract, a fixed-interval scheduler, and the three
// reference detectors (metric z-score, log-pattern aggregation, behavioral
// correlation shift).
package anomaly

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Kind identifies the detector family that produced an anomaly.
type Kind string

const (
	KindMetric     Kind = "metric"
	KindLogPattern Kind = "log_pattern"
	KindBehavioral Kind = "behavioral"
)

// Severity ranks anomalies for recovery ordering and escalation.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the severity name.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Anomaly is the uniform record every detector emits. Consumed and retired
// by the recovery manager, or escalated; never silently dropped.
type Anomaly struct {
	ID         string          `json:"id"`
	Source     string          `json:"source_component"`
	Kind       Kind            `json:"kind"`
	Severity   Severity        `json:"severity"`
	DetectedAt time.Time       `json:"detected_at"`
	Summary    string          `json:"summary"`
	Evidence   json.RawMessage `json:"evidence,omitempty"`
}

// New creates an anomaly with a fresh id and detection timestamp.
func New(source string, kind Kind, severity Severity, summary string, evidence json.RawMessage) Anomaly {
	return Anomaly{
		ID:         uuid.New().String(),
		Source:     source,
		Kind:       kind,
		Severity:   severity,
		DetectedAt: time.Now().UTC(),
		Summary:    summary,
		Evidence:   evidence,
	}
}

// taskTimeoutEvidence is the evidence payload for timeout anomalies.
type taskTimeoutEvidence struct {
	TaskID  string `json:"task_id"`
	Timeout string `json:"timeout"`
}

// NewTaskTimeout builds the behavioral anomaly raised when a task exceeds
// its processing deadline.
func NewTaskTimeout(supervisor, taskID string, timeout time.Duration) Anomaly {
	evidence, _ := json.Marshal(taskTimeoutEvidence{TaskID: taskID, Timeout: timeout.String()})
	return New(supervisor, KindBehavioral, SeverityHigh,
		"task exceeded processing deadline", evidence)
}
