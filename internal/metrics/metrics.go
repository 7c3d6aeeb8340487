// Vigil - Hierarchical Supervision and Self-Healing Orchestration Core
// Copyright 2026 Vigil Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilcore/vigil

// Package metrics holds Vigil's Prometheus collectors. Metric values are
// emitted for external observability consumers; visualization stays outside
// the core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Task lifecycle

	TasksSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_tasks_submitted_total",
			Help: "Total tasks accepted for queueing",
		},
		[]string{"supervisor", "priority"},
	)

	TasksRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_tasks_rejected_total",
			Help: "Total task submissions rejected by backpressure",
		},
		[]string{"supervisor"},
	)

	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_tasks_terminal_total",
			Help: "Total tasks reaching a terminal status",
		},
		[]string{"supervisor", "status"},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vigil_task_duration_seconds",
			Help:    "Task Processing duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"supervisor"},
	)

	QueuedTasks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vigil_queued_tasks",
			Help: "Tasks currently queued, by priority lane",
		},
		[]string{"supervisor", "priority"},
	)

	ActiveTasks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vigil_active_tasks",
			Help: "Tasks currently in Processing",
		},
		[]string{"supervisor"},
	)

	// Message broker

	MessagesDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_messages_delivered_total",
			Help: "Messages delivered to destination mailboxes",
		},
		[]string{"type"},
	)

	MessagesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_messages_dropped_total",
			Help: "Messages dropped (mailbox overflow or TTL expiry)",
		},
		[]string{"destination", "reason"},
	)

	// Circuit breaker

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vigil_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"resource"},
	)

	BreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"resource", "from", "to"},
	)

	BreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_breaker_requests_total",
			Help: "Requests through circuit breakers by outcome",
		},
		[]string{"resource", "outcome"}, // success, failure, rejected
	)

	// Anomaly detection

	AnomaliesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_anomalies_detected_total",
			Help: "Anomalies produced by detectors",
		},
		[]string{"detector", "severity"},
	)

	DetectorRunFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_detector_run_failures_total",
			Help: "Detector runs that returned an error",
		},
		[]string{"detector"},
	)

	// Recovery

	RecoveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_recovery_attempts_total",
			Help: "Recovery strategy attempts by outcome",
		},
		[]string{"strategy", "outcome"}, // verified, failed, quarantined
	)

	EscalationsPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigil_escalations_pending",
			Help: "Issues awaiting human approval",
		},
	)

	GeneticGenerations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_genetic_generations_total",
			Help: "Generations evaluated by the genetic optimizer",
		},
		[]string{"supervisor"},
	)

	GeneticBestFitness = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vigil_genetic_best_fitness",
			Help: "Best fitness observed in the most recent optimizer run",
		},
		[]string{"supervisor"},
	)

	// Supervisor lifecycle

	SupervisorState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vigil_supervisor_state",
			Help: "Supervisor lifecycle state (0=initializing, 1=running, 2=paused, 3=shutting_down, 4=terminated)",
		},
		[]string{"supervisor"},
	)

	SupervisorErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_supervisor_errors_total",
			Help: "Errors recorded against supervisors by taxonomy kind",
		},
		[]string{"supervisor", "kind"},
	)
)
