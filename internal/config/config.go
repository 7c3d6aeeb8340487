// Vigil - Hierarchical Supervision and Self-Healing Orchestration Core
// Copyright 2026 Vigil Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilcore/vigil

// Package config defines Vigil's configuration schema and its koanf-based
// layered loader (defaults, then YAML file, then environment variables).
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for the orchestration core.
type Config struct {
	Supervisor SupervisorConfig `koanf:"supervisor" validate:"required"`

	// Workers are the child supervisors registered under the root at
	// startup. Fields left zero inherit the root supervisor's tuning.
	Workers []SupervisorConfig `koanf:"workers" validate:"dive"`

	// Standbys are initialized but idle supervisors, activated when a
	// worker fails.
	Standbys []SupervisorConfig `koanf:"standbys" validate:"dive"`

	Broker     BrokerConfig     `koanf:"broker"`
	Breaker    BreakerConfig    `koanf:"breaker"`
	Anomaly    AnomalyConfig    `koanf:"anomaly"`
	Recovery   RecoveryConfig   `koanf:"recovery"`
	Events     EventsConfig     `koanf:"events"`
	Ops        OpsConfig        `koanf:"ops"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// SupervisorConfig is the per-supervisor tuning schema. The meta-supervisor
// applies it as the default for children that register without overrides.
type SupervisorConfig struct {
	// ID is the supervisor identity. Must be unique within the tree.
	ID string `koanf:"id" validate:"required"`

	// Kind selects the supervisor variant via the kind factory.
	Kind string `koanf:"kind" validate:"required"`

	// Parent is the owning supervisor's id; empty for the root.
	Parent string `koanf:"parent"`

	// MaxConcurrentTasks bounds tasks in Processing at once.
	MaxConcurrentTasks int `koanf:"max_concurrent_tasks" validate:"gte=1"`

	// MaxQueuedTasks bounds queued tasks; submission beyond it fails fast.
	MaxQueuedTasks int `koanf:"max_queued_tasks" validate:"gte=1"`

	// TaskTimeout bounds a single task's Processing time.
	TaskTimeout time.Duration `koanf:"task_timeout" validate:"gt=0"`

	// ShutdownGrace is how long in-flight tasks may finish during shutdown
	// before they are force-cancelled.
	ShutdownGrace time.Duration `koanf:"shutdown_grace"`

	// HeartbeatInterval is how often children report liveness to the parent.
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`

	// HistorySize bounds retained terminal tasks for status queries.
	HistorySize int `koanf:"history_size" validate:"gte=1"`

	// Capabilities tags this supervisor for capability-matched routing.
	Capabilities []string `koanf:"capabilities"`

	// AdditionalConfig is an open extension point for kind-specific tuning.
	AdditionalConfig map[string]float64 `koanf:"additional_config"`
}

// BrokerConfig tunes the in-process message broker.
type BrokerConfig struct {
	// MailboxSize is the bounded per-destination buffer; overflow drops the
	// oldest buffered message.
	MailboxSize int `koanf:"mailbox_size" validate:"gte=1"`

	// HistorySize is the per-destination replay ring length.
	HistorySize int `koanf:"history_size" validate:"gte=1"`

	// RequestTimeout bounds a request/response round trip.
	RequestTimeout time.Duration `koanf:"request_timeout" validate:"gt=0"`
}

// BreakerConfig holds circuit breaker defaults applied to lazily-created
// per-resource breakers.
type BreakerConfig struct {
	// FailureThreshold is consecutive failures before the breaker opens.
	FailureThreshold uint32 `koanf:"failure_threshold" validate:"gte=1"`

	// ResetTimeout is the Open duration before a half-open probe is allowed.
	ResetTimeout time.Duration `koanf:"reset_timeout" validate:"gt=0"`
}

// AnomalyConfig tunes the detection pipeline.
type AnomalyConfig struct {
	// Interval is the fixed detection schedule; detection is not event-driven.
	Interval time.Duration `koanf:"interval" validate:"gt=0"`

	// MetricWindow is the rolling sample count per metric series.
	MetricWindow int `koanf:"metric_window" validate:"gte=4"`

	// MetricZScore is the deviation multiple that flags a metric point.
	MetricZScore float64 `koanf:"metric_zscore" validate:"gt=0"`

	// LogWindow is the sliding window for log-pattern match counting.
	LogWindow time.Duration `koanf:"log_window" validate:"gt=0"`

	// LogThreshold is matches-per-window before one aggregated anomaly fires.
	LogThreshold int64 `koanf:"log_threshold" validate:"gte=1"`

	// BehavioralDelta is the correlation shift from baseline that flags
	// a component pair.
	BehavioralDelta float64 `koanf:"behavioral_delta" validate:"gt=0,lte=2"`
}

// RecoveryConfig tunes the strategy manager and genetic optimizer.
type RecoveryConfig struct {
	// RestartCooldown is the quarantine window between restarts of one
	// component.
	RestartCooldown time.Duration `koanf:"restart_cooldown" validate:"gt=0"`

	// VerifyTimeout bounds a strategy's verification step; exceeding it
	// counts as verification failure.
	VerifyTimeout time.Duration `koanf:"verify_timeout" validate:"gt=0"`

	// ApprovalTimeout is how long an escalated issue waits for a human
	// decision before implicit rejection.
	ApprovalTimeout time.Duration `koanf:"approval_timeout" validate:"gt=0"`

	// ArchivePath is the badger directory for genetic run history and the
	// approval journal. Empty selects an in-memory store.
	ArchivePath string `koanf:"archive_path"`

	Genetic GeneticConfig `koanf:"genetic"`
}

// GeneticConfig tunes the genetic recovery optimizer.
type GeneticConfig struct {
	PopulationSize int `koanf:"population_size" validate:"gte=4"`

	// MaxGenerations bounds a run regardless of convergence.
	MaxGenerations int `koanf:"max_generations" validate:"gte=1"`

	// TournamentSize is the selection tournament width.
	TournamentSize int `koanf:"tournament_size" validate:"gte=2"`

	// MutationRate is the per-gene perturbation probability.
	MutationRate float64 `koanf:"mutation_rate" validate:"gte=0,lte=1"`

	// ConvergenceEpsilon stops the run when generation-over-generation best
	// fitness improves by less than this.
	ConvergenceEpsilon float64 `koanf:"convergence_epsilon" validate:"gte=0"`

	// LiveEvaluation applies candidate genomes to the live config during
	// fitness evaluation. Default false: candidates are scored against a
	// shadow copy.
	LiveEvaluation bool `koanf:"live_evaluation"`
}

// EventsConfig selects the observability event bus transport.
type EventsConfig struct {
	// Transport is "gochannel" (in-process, default) or "nats".
	Transport string `koanf:"transport" validate:"oneof=gochannel nats"`

	// URL is the NATS server URL when Transport is "nats".
	URL string `koanf:"url"`

	// Embedded starts an in-process NATS server when Transport is "nats".
	Embedded bool `koanf:"embedded"`

	// BufferSize is the gochannel output buffer per subscriber.
	BufferSize int `koanf:"buffer_size" validate:"gte=1"`
}

// OpsConfig tunes the minimal HTTP surface (healthz + metrics).
type OpsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Host    string `koanf:"host"`
	Port    int    `koanf:"port" validate:"gte=0,lte=65535"`
}

// LoggingConfig mirrors logging.Config for koanf binding.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration against struct tags plus the
// cross-field rules the tags cannot express. Worker and standby entries
// inherit unset tuning from the root supervisor before validation.
func (c *Config) Validate() error {
	for i := range c.Workers {
		inheritSupervisorDefaults(&c.Workers[i], c.Supervisor)
	}
	for i := range c.Standbys {
		inheritSupervisorDefaults(&c.Standbys[i], c.Supervisor)
	}

	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	if c.Events.Transport == "nats" && !c.Events.Embedded && c.Events.URL == "" {
		return fmt.Errorf("config validation: events.url required for external nats transport")
	}

	if c.Recovery.Genetic.TournamentSize > c.Recovery.Genetic.PopulationSize {
		return fmt.Errorf("config validation: genetic tournament_size %d exceeds population_size %d",
			c.Recovery.Genetic.TournamentSize, c.Recovery.Genetic.PopulationSize)
	}

	return nil
}

func inheritSupervisorDefaults(sc *SupervisorConfig, root SupervisorConfig) {
	if sc.Parent == "" {
		sc.Parent = root.ID
	}
	if sc.MaxConcurrentTasks == 0 {
		sc.MaxConcurrentTasks = root.MaxConcurrentTasks
	}
	if sc.MaxQueuedTasks == 0 {
		sc.MaxQueuedTasks = root.MaxQueuedTasks
	}
	if sc.TaskTimeout == 0 {
		sc.TaskTimeout = root.TaskTimeout
	}
	if sc.ShutdownGrace == 0 {
		sc.ShutdownGrace = root.ShutdownGrace
	}
	if sc.HeartbeatInterval == 0 {
		sc.HeartbeatInterval = root.HeartbeatInterval
	}
	if sc.HistorySize == 0 {
		sc.HistorySize = root.HistorySize
	}
}
