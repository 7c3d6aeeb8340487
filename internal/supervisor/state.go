// Vigil - Hierarchical Supervision and Self-Healing Orchestration Core
// Copyright 2026 Vigil Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilcore/vigil

package supervisor

import "time"

// State is the supervisor lifecycle state. Error is not a state: it is an
// orthogonal flag on Running and Paused, so a supervisor in error keeps
// answering health and metrics queries.
type State int

const (
	StateInitializing State = iota
	StateRunning
	StatePaused
	StateShuttingDown
	StateTerminated
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateShuttingDown:
		return "shutting_down"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Health is the on-demand snapshot a supervisor reports. Computing it never
// blocks on the task path.
type Health struct {
	Status            string             `json:"status"`
	ActiveTasks       int                `json:"active_tasks"`
	QueuedTasks       int                `json:"queued_tasks"`
	ErrorCount        uint64             `json:"error_count"`
	CPUUsage          float64            `json:"cpu_usage"`
	MemoryUsage       float64            `json:"memory_usage"`
	LastActive        time.Time          `json:"last_active"`
	AdditionalMetrics map[string]float64 `json:"additional_metrics,omitempty"`
}
