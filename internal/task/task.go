// Vigil - Hierarchical Supervision and Self-Healing Orchestration Core
// Copyright 2026 Vigil Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilcore/vigil

// Package task defines the task model, the strict-priority bounded queue,
// and the task store that tracks lifecycle from submission to eviction.
package task

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Priority orders queue lanes. High drains fully before Medium, Medium
// before Low.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

// String returns the lane name.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// Status is the task lifecycle state.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusTimedOut   Status = "timed_out"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	default:
		return false
	}
}

// Task is a unit of work. The payload is opaque to the core; only metadata
// is interpreted.
type Task struct {
	// ID is unique and never reused, UUIDv7 so ids sort by submission time.
	ID string `json:"id"`

	Payload  json.RawMessage `json:"payload,omitempty"`
	Priority Priority        `json:"priority"`
	Status   Status          `json:"status"`

	// AssignedSupervisor is set once routed; at most one at a time.
	AssignedSupervisor string `json:"assigned_supervisor,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`

	// IdempotentSafe marks the task replayable even after partial external
	// side effects. Set by the submitter.
	IdempotentSafe bool `json:"idempotent_safe,omitempty"`

	// SideEffecting is set by the executor the moment externally-visible
	// work begins. Standby replay refuses side-effecting tasks unless
	// IdempotentSafe.
	SideEffecting bool `json:"side_effecting,omitempty"`
}

// New creates a queued task with a fresh time-ordered id.
func New(payload json.RawMessage, priority Priority) *Task {
	return &Task{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Payload:   payload,
		Priority:  priority,
		Status:    StatusQueued,
		CreatedAt: time.Now().UTC(),
	}
}

// Clone returns a copy safe to hand to callers. Payload and Result share
// backing arrays; the core treats both as immutable once set.
func (t *Task) Clone() *Task {
	c := *t
	return &c
}
