// Vigil - Hierarchical Supervision and Self-Healing Orchestration Core
// Copyright 2026 Vigil Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilcore/vigil

package supervisor

import (
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// Health implements Supervisor: an on-demand snapshot, available in every
// lifecycle state. Process metrics come from gopsutil without blocking
// sampling intervals; failures degrade to zero values rather than errors.
func (b *Base) Health() Health {
	b.mu.Lock()
	state := b.state
	errored := b.errored
	active := b.active
	queue := b.queue
	extra := make(map[string]float64, len(b.cfg.AdditionalConfig))
	for k, v := range b.cfg.AdditionalConfig {
		extra[k] = v
	}
	b.mu.Unlock()

	status := state.String()
	if errored {
		status = "error"
	}

	queued := 0
	if queue != nil {
		queued = queue.Len()
	}

	return Health{
		Status:            status,
		ActiveTasks:       active,
		QueuedTasks:       queued,
		ErrorCount:        b.errorCount.Load(),
		CPUUsage:          cpuUsage(),
		MemoryUsage:       memoryUsage(),
		LastActive:        time.Unix(0, b.lastActive.Load()).UTC(),
		AdditionalMetrics: extra,
	}
}

// cpuUsage returns instantaneous CPU utilization. The zero interval reads
// the counters since the previous call instead of sleeping.
func cpuUsage() float64 {
	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		return 0
	}
	return percents[0]
}

func memoryUsage() float64 {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0
	}
	return vm.UsedPercent
}
