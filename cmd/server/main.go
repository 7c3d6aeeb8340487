// Vigil - Hierarchical Supervision and Self-Healing Orchestration Core
// Copyright 2026 Vigil Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilcore/vigil

// Package main is the entry point for the Vigil orchestration core.
//
// Vigil runs a hierarchical supervision tree with self-healing: a root
// meta-supervisor routes tasks to worker supervisors, an anomaly pipeline
// watches their behavior, and a graduated recovery chain (restart, circuit
// break, reconfigure, genetic optimization) remediates what it can and
// escalates the rest for human approval.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered Koanf v2 sources (defaults, YAML, environment)
//  2. Logging: global zerolog pipeline
//  3. Broker and circuit breakers: in-process messaging and gobreaker registry
//  4. Event bus: watermill over gochannel or NATS (optionally embedded)
//  5. Supervisors: root meta plus configured workers and standbys
//  6. Detection: metric, log-pattern, and behavioral detectors on a schedule
//  7. Recovery: strategy chain, genetic archive, approval desk
//  8. Supervision tree: suture layers for core, detection, and transport
//  9. Ops HTTP: /healthz, /metrics, and the approval endpoints
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins): VIGIL_-prefixed environment variables, a config file
// (vigil.yaml, overridable with VIGIL_CONFIG), built-in defaults.
//
// # Signal Handling
//
// SIGINT and SIGTERM cancel the tree context. Shutdown cascades bottom-up:
// workers drain or fail their queues within the grace period, then the
// root terminates and the transports close.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/vigilcore/vigil/internal/anomaly"
	"github.com/vigilcore/vigil/internal/breaker"
	"github.com/vigilcore/vigil/internal/broker"
	"github.com/vigilcore/vigil/internal/config"
	"github.com/vigilcore/vigil/internal/events"
	"github.com/vigilcore/vigil/internal/logging"
	"github.com/vigilcore/vigil/internal/recovery"
	"github.com/vigilcore/vigil/internal/supervisor"
)

//nolint:gocyclo // sequential startup wiring
func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("root", cfg.Supervisor.ID).
		Int("workers", len(cfg.Workers)).
		Int("standbys", len(cfg.Standbys)).
		Str("events_transport", cfg.Events.Transport).
		Msg("Starting Vigil")

	br := broker.New(broker.Config{
		MailboxSize:    cfg.Broker.MailboxSize,
		HistorySize:    cfg.Broker.HistorySize,
		RequestTimeout: cfg.Broker.RequestTimeout,
	})
	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		ResetTimeout:     cfg.Breaker.ResetTimeout,
	})

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	// The embedded NATS server must be up before the bus dials it.
	var embedded *events.EmbeddedServer
	if cfg.Events.Transport == "nats" && cfg.Events.Embedded {
		embedded, err = events.NewEmbeddedServer("127.0.0.1", 0)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to start embedded NATS server")
		}
		cfg.Events.URL = embedded.ClientURL()
		tree.AddTransportService(embedded)
	}

	bus, err := events.NewBus(cfg.Events)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize event bus")
	}
	defer func() {
		if cerr := bus.Close(); cerr != nil {
			logging.Err(cerr).Msg("Event bus close failed")
		}
	}()

	// Detection pipeline. The recovery intake is created first so the
	// detectors and the supervisors share one anomaly sink.
	intake := newRecoveryIntake(bus)

	metricDet := anomaly.NewMetricDetector(cfg.Anomaly.MetricWindow, cfg.Anomaly.MetricZScore)
	behavioralDet := anomaly.NewBehavioralDetector(cfg.Anomaly.MetricWindow, cfg.Anomaly.BehavioralDelta)
	logDet := anomaly.NewLogPatternDetector(cfg.Anomaly.LogWindow, 24)
	registerDefaultLogPatterns(logDet, cfg.Anomaly.LogThreshold)
	logging.SetLogger(logging.Logger().Hook(logPatternHook{det: logDet}))

	scheduler := anomaly.NewScheduler(cfg.Anomaly.Interval, intake.Sink)
	scheduler.Register(metricDet)
	scheduler.Register(logDet)
	scheduler.Register(behavioralDet)
	tree.AddDetectionService(scheduler)

	// Root supervisor and its children.
	meta, err := supervisor.NewMeta(cfg.Supervisor, supervisor.Deps{
		Broker:    br,
		Bus:       bus,
		Anomalies: intake.Sink,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build root supervisor")
	}
	if err := meta.Start(); err != nil {
		logging.Fatal().Err(err).Msg("Failed to start root supervisor")
	}
	tree.AddCoreService(meta)

	for _, wc := range cfg.Workers {
		child, err := supervisor.NewFromConfig(wc, supervisor.Deps{
			Broker:    br,
			Bus:       bus,
			Anomalies: intake.Sink,
		})
		if err != nil {
			logging.Fatal().Err(err).Str("worker", wc.ID).Msg("Failed to build worker")
		}
		if err := child.Start(); err != nil {
			logging.Fatal().Err(err).Str("worker", wc.ID).Msg("Failed to start worker")
		}
		if err := meta.RegisterChild(child); err != nil {
			logging.Fatal().Err(err).Str("worker", wc.ID).Msg("Failed to register worker")
		}
		tree.AddCoreService(child)
	}

	for _, sc := range cfg.Standbys {
		standby, err := supervisor.NewFromConfig(sc, supervisor.Deps{
			Broker:    br,
			Bus:       bus,
			Anomalies: intake.Sink,
		})
		if err != nil {
			logging.Fatal().Err(err).Str("standby", sc.ID).Msg("Failed to build standby")
		}
		meta.RegisterStandby(standby)
		tree.AddCoreService(standby)
	}

	// Recovery chain: restart, circuit break, reconfigure, genetic, then
	// human approval.
	desk := recovery.NewApprovalDesk(cfg.Recovery.ApprovalTimeout)
	desk.OnDecision(func(a recovery.Approval) {
		bus.Publish(events.NewEvent(events.TypeApprovalDecided, a.Issue.Source, a))
		logging.Info().
			Str("approval", a.ID).
			Str("decision", string(a.Decision)).
			Str("component", a.Issue.Source).
			Msg("approval decided")
	})

	archive, closeArchive, err := openArchive(cfg.Recovery.ArchivePath)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open recovery archive")
	}
	defer closeArchive()

	control := supervisor.ControlAdapter{Meta: meta}
	health := recovery.HealthCheck(meta.CheckChildHealth)

	optimizer := recovery.NewOptimizer(cfg.Recovery.Genetic, shadowFitness(meta), time.Now().UnixNano())
	manager := recovery.NewManager(cfg.Recovery.VerifyTimeout, desk,
		recovery.NewRestartStrategy(control, health, cfg.Recovery.RestartCooldown),
		recovery.NewCircuitBreakStrategy(breakers, health),
		recovery.NewReconfigureStrategy(control, health, recovery.DefaultRules()...),
		recovery.NewGeneticStrategy(optimizer, control, health, archive, tuningRanges(meta)),
	)
	intake.manager = manager
	tree.AddDetectionService(intake)

	// Health sampling feeds the metric and behavioral detectors from the
	// live tree.
	tree.AddDetectionService(&healthSampler{
		meta:       meta,
		interval:   cfg.Anomaly.Interval,
		metric:     metricDet,
		behavioral: behavioralDet,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := tree.ServeBackground(ctx)

	var ops *http.Server
	if cfg.Ops.Enabled {
		ops = startOpsServer(cfg.Ops, meta, desk, breakers)
	}

	select {
	case <-ctx.Done():
		logging.Info().Msg("Shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Err(err).Msg("Supervision tree terminated")
		}
	}
	stop()

	if ops != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := ops.Shutdown(shutdownCtx); err != nil {
			logging.Err(err).Msg("Ops server shutdown failed")
		}
	}

	// Wait for the tree to unwind before closing stores.
	select {
	case <-errCh:
	case <-time.After(30 * time.Second):
		if report, rerr := tree.UnstoppedServiceReport(); rerr == nil {
			for _, svc := range report {
				logging.Warn().Str("service", svc.Name).Msg("service did not stop")
			}
		}
	}

	logging.Info().Msg("Vigil stopped")
}

// openArchive selects the genetic run store: badger when a path is
// configured, in-memory otherwise.
func openArchive(path string) (recovery.RunStore, func(), error) {
	if path == "" {
		return recovery.NewMemoryRunStore(), func() {}, nil
	}

	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if cerr := db.Close(); cerr != nil {
			logging.Err(cerr).Msg("recovery archive close failed")
		}
	}
	return recovery.NewBadgerRunStore(db), closeFn, nil
}

// registerDefaultLogPatterns installs the stock high-signal patterns. A
// bad built-in pattern is a programming error, so failures are fatal.
func registerDefaultLogPatterns(d *anomaly.LogPatternDetector, threshold int64) {
	patterns := []struct {
		name     string
		expr     string
		severity anomaly.Severity
	}{
		{"panic", `panic:`, anomaly.SeverityCritical},
		{"task-timeout", `task timed out`, anomaly.SeverityHigh},
		{"connection-refused", `connection refused`, anomaly.SeverityMedium},
		{"queue-rejection", `queue at capacity`, anomaly.SeverityMedium},
	}
	for _, p := range patterns {
		if err := d.AddPattern(p.name, p.expr, threshold, p.severity); err != nil {
			logging.Fatal().Err(err).Str("pattern", p.name).Msg("Failed to register log pattern")
		}
	}
}

// tuningRanges bounds the genetic search space per child. Components the
// meta does not own get no ranges, which makes the genetic strategy skip
// them.
func tuningRanges(meta *supervisor.Meta) func(component string) []recovery.ParamRange {
	return func(component string) []recovery.ParamRange {
		if _, err := meta.ChildParameters(component); err != nil {
			return nil
		}
		return []recovery.ParamRange{
			{Name: "max_concurrent_tasks", Min: 1, Max: 64},
			{Name: "max_queued_tasks", Min: 16, Max: 1024},
			{Name: "task_timeout_ms", Min: 1_000, Max: 120_000},
		}
	}
}

// shadowFitness scores a candidate parameter set against the component's
// current load without applying it. Higher is better: capacity should
// cover the backlog with headroom, without over-provisioning, and the
// timeout should be generous relative to observed activity.
func shadowFitness(meta *supervisor.Meta) recovery.Fitness {
	return func(_ context.Context, component string, params map[string]float64) (float64, error) {
		h, err := childHealth(meta, component)
		if err != nil {
			return 0, err
		}

		concurrency := params["max_concurrent_tasks"]
		queueCap := params["max_queued_tasks"]
		timeout := params["task_timeout_ms"]

		load := float64(h.ActiveTasks + h.QueuedTasks)

		// Penalize capacity shortfall quadratically, over-provisioning
		// linearly.
		shortfall := load - concurrency
		if shortfall < 0 {
			shortfall = 0
		}
		score := -shortfall*shortfall - 0.1*concurrency

		// Queue headroom: keep roughly 4x the current backlog.
		target := 4 * (load + 1)
		diff := queueCap - target
		if diff < 0 {
			diff = -diff
		}
		score -= 0.01 * diff

		// Short timeouts amplify the error count they are meant to cure.
		score -= float64(h.ErrorCount) * 100_000 / timeout
		return score, nil
	}
}

func childHealth(meta *supervisor.Meta, component string) (supervisor.Health, error) {
	for _, h := range meta.ChildHealth() {
		if h.ID == component {
			return h.Health, nil
		}
	}
	return supervisor.Health{}, errors.New("unknown component " + component)
}
