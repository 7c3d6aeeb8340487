// Vigil - Hierarchical Supervision and Self-Healing Orchestration Core
// Copyright 2026 Vigil Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilcore/vigil

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadLayering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vigil.yaml")
	yaml := `
supervisor:
  max_queued_tasks: 64
anomaly:
  metric_zscore: 2.5
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("VIGIL_SUPERVISOR_MAX_CONCURRENT_TASKS", "2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// File overrides defaults
	if cfg.Supervisor.MaxQueuedTasks != 64 {
		t.Errorf("MaxQueuedTasks = %d, want 64 (file layer)", cfg.Supervisor.MaxQueuedTasks)
	}
	if cfg.Anomaly.MetricZScore != 2.5 {
		t.Errorf("MetricZScore = %v, want 2.5 (file layer)", cfg.Anomaly.MetricZScore)
	}
	// Env overrides file and defaults
	if cfg.Supervisor.MaxConcurrentTasks != 2 {
		t.Errorf("MaxConcurrentTasks = %d, want 2 (env layer)", cfg.Supervisor.MaxConcurrentTasks)
	}
	// Untouched defaults survive
	if cfg.Breaker.FailureThreshold != 5 {
		t.Errorf("FailureThreshold = %d, want default 5", cfg.Breaker.FailureThreshold)
	}
}

func TestValidateRejectsExternalNATSWithoutURL(t *testing.T) {
	cfg := Default()
	cfg.Events.Transport = "nats"
	cfg.Events.Embedded = false
	cfg.Events.URL = ""

	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for nats transport without URL")
	}
}

func TestValidateRejectsOversizedTournament(t *testing.T) {
	cfg := Default()
	cfg.Recovery.Genetic.PopulationSize = 4
	cfg.Recovery.Genetic.TournamentSize = 8

	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for tournament larger than population")
	}
}

func TestValidateRejectsZeroTimeout(t *testing.T) {
	cfg := Default()
	cfg.Supervisor.TaskTimeout = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for zero task timeout")
	}
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"VIGIL_SUPERVISOR_MAX_QUEUED_TASKS", "supervisor.max_queued_tasks"},
		{"VIGIL_GENETIC_POPULATION_SIZE", "recovery.genetic.population_size"},
		{"VIGIL_LOG_LEVEL", "logging.level"},
		{"VIGIL_UNRELATED_VALUE", ""},
		{"VIGIL_NOSECTION", ""},
	}
	for _, tt := range tests {
		if got := envTransform(tt.in); got != tt.want {
			t.Errorf("envTransform(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDefaultTimeoutsAreSane(t *testing.T) {
	cfg := Default()
	if cfg.Recovery.VerifyTimeout <= 0 || cfg.Recovery.VerifyTimeout > time.Minute {
		t.Errorf("VerifyTimeout default out of range: %v", cfg.Recovery.VerifyTimeout)
	}
	if cfg.Supervisor.TaskTimeout <= 0 {
		t.Errorf("TaskTimeout default must be positive")
	}
}
