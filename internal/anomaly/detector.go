// Vigil - Hierarchical Supervision and Self-Healing Orchestration Core
// Copyright 2026 Vigil Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilcore/vigil

package anomaly

import (
	"context"
	"sync"
	"time"

	"github.com/vigilcore/vigil/internal/logging"
	"github.com/vigilcore/vigil/internal/metrics"
)

// Detector analyzes its accumulated observations and reports anomalies.
// Detectors must be safe for concurrent observation and detection.
type Detector interface {
	// Name identifies the detector in logs and metrics.
	Name() string

	// Kind is the anomaly family this detector produces.
	Kind() Kind

	// Detect evaluates current state and returns zero or more anomalies.
	Detect(ctx context.Context) ([]Anomaly, error)
}

// Sink receives detected anomalies, typically the recovery manager intake.
type Sink func(Anomaly)

// Scheduler runs registered detectors on a fixed interval. Detection is
// deliberately not event-driven so its resource usage stays bounded; a
// failed detector run is logged and counted but never halts the schedule.
//
// Scheduler implements suture.Service.
type Scheduler struct {
	interval time.Duration
	sink     Sink

	mu        sync.RWMutex
	detectors []Detector
}

// NewScheduler creates a scheduler delivering anomalies to sink.
func NewScheduler(interval time.Duration, sink Sink) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Scheduler{interval: interval, sink: sink}
}

// Register adds a detector to the schedule.
func (s *Scheduler) Register(d Detector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detectors = append(s.detectors, d)
	logging.Info().Str("detector", d.Name()).Msg("registered anomaly detector")
}

// Serve implements suture.Service: runs the detection loop until the
// context is cancelled.
func (s *Scheduler) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce executes one detection pass across all detectors.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.mu.RLock()
	detectors := make([]Detector, len(s.detectors))
	copy(detectors, s.detectors)
	s.mu.RUnlock()

	for _, d := range detectors {
		anomalies, err := d.Detect(ctx)
		if err != nil {
			metrics.DetectorRunFailures.WithLabelValues(d.Name()).Inc()
			logging.Err(err).Str("detector", d.Name()).Msg("detector run failed")
			continue
		}
		for _, a := range anomalies {
			metrics.AnomaliesDetected.WithLabelValues(d.Name(), a.Severity.String()).Inc()
			if s.sink != nil {
				s.sink(a)
			}
		}
	}
}

// String implements fmt.Stringer for suture logging.
func (s *Scheduler) String() string {
	return "anomaly-scheduler"
}
