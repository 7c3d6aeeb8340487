// Vigil - Hierarchical Supervision and Self-Healing Orchestration Core
// Copyright 2026 Vigil Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilcore/vigil

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, first hit wins.
var DefaultConfigPaths = []string{
	"vigil.yaml",
	"vigil.yml",
	"/etc/vigil/vigil.yaml",
	"/etc/vigil/vigil.yml",
}

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "VIGIL_CONFIG"

// Default returns a Config with production-ready defaults. Defaults are
// loaded first, then overridden by file and environment.
func Default() *Config {
	return &Config{
		Supervisor: SupervisorConfig{
			ID:                 "meta",
			Kind:               "meta",
			MaxConcurrentTasks: 8,
			MaxQueuedTasks:     256,
			TaskTimeout:        30 * time.Second,
			ShutdownGrace:      10 * time.Second,
			HeartbeatInterval:  5 * time.Second,
			HistorySize:        512,
			Capabilities:       nil,
			AdditionalConfig:   nil,
		},
		Workers: []SupervisorConfig{
			{ID: "worker-1", Kind: "echo", Parent: "meta"},
			{ID: "worker-2", Kind: "echo", Parent: "meta"},
		},
		Standbys: []SupervisorConfig{
			{ID: "standby-1", Kind: "echo", Parent: "meta"},
		},
		Broker: BrokerConfig{
			MailboxSize:    128,
			HistorySize:    64,
			RequestTimeout: 10 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
		},
		Anomaly: AnomalyConfig{
			Interval:        15 * time.Second,
			MetricWindow:    60,
			MetricZScore:    3.0,
			LogWindow:       24 * time.Hour,
			LogThreshold:    100,
			BehavioralDelta: 0.4,
		},
		Recovery: RecoveryConfig{
			RestartCooldown: 2 * time.Minute,
			VerifyTimeout:   15 * time.Second,
			ApprovalTimeout: 30 * time.Minute,
			ArchivePath:     "",
			Genetic: GeneticConfig{
				PopulationSize:     20,
				MaxGenerations:     12,
				TournamentSize:     3,
				MutationRate:       0.1,
				ConvergenceEpsilon: 0.001,
				LiveEvaluation:     false,
			},
		},
		Events: EventsConfig{
			Transport:  "gochannel",
			URL:        "nats://127.0.0.1:4222",
			Embedded:   false,
			BufferSize: 256,
		},
		Ops: OpsConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    9257,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load builds configuration from layered sources:
//  1. Defaults (Default())
//  2. Optional YAML config file
//  3. VIGIL_-prefixed environment variables (highest priority)
//
// Precedence: ENV > file > defaults. The result is validated before return.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// VIGIL_SUPERVISOR_MAX_QUEUED_TASKS -> supervisor.max_queued_tasks
	envProvider := env.Provider("VIGIL_", ".", envTransform)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sectionPrefixes maps the first env token to a config section. Tokens after
// the section join with underscores: VIGIL_ANOMALY_METRIC_WINDOW maps to
// anomaly.metric_window.
var sectionPrefixes = map[string]string{
	"supervisor": "supervisor",
	"broker":     "broker",
	"breaker":    "breaker",
	"anomaly":    "anomaly",
	"recovery":   "recovery",
	"genetic":    "recovery.genetic",
	"events":     "events",
	"ops":        "ops",
	"log":        "logging",
	"logging":    "logging",
}

func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, "VIGIL_"))

	section, rest, found := strings.Cut(key, "_")
	if !found {
		return ""
	}
	mapped, ok := sectionPrefixes[section]
	if !ok {
		// Skip unmapped variables so unrelated environment does not leak in.
		return ""
	}
	return mapped + "." + rest
}
