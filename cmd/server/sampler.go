// Vigil - Hierarchical Supervision and Self-Healing Orchestration Core
// Copyright 2026 Vigil Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilcore/vigil

package main

import (
	"context"
	"time"

	"github.com/vigilcore/vigil/internal/anomaly"
	"github.com/vigilcore/vigil/internal/supervisor"
)

// healthSampler feeds the statistical detectors from the live tree: every
// interval it snapshots each child's health and records queue depth, error
// count, and resource usage as metric series, plus a combined activity
// level for correlation tracking.
type healthSampler struct {
	meta       *supervisor.Meta
	interval   time.Duration
	metric     *anomaly.MetricDetector
	behavioral *anomaly.BehavioralDetector
}

// Serve implements suture.Service.
func (s *healthSampler) Serve(ctx context.Context) error {
	interval := s.interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *healthSampler) sample() {
	for _, entry := range s.meta.ChildHealth() {
		h := entry.Health
		s.metric.Observe(entry.ID, "queued_tasks", float64(h.QueuedTasks))
		s.metric.Observe(entry.ID, "error_count", float64(h.ErrorCount))
		s.metric.Observe(entry.ID, "cpu_usage", h.CPUUsage)
		s.metric.Observe(entry.ID, "memory_usage", h.MemoryUsage)

		s.behavioral.Observe(entry.ID, float64(h.ActiveTasks+h.QueuedTasks))
	}
}

// String implements fmt.Stringer for suture logging.
func (s *healthSampler) String() string {
	return "health-sampler"
}
