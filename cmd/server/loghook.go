// Vigil - Hierarchical Supervision and Self-Healing Orchestration Core
// Copyright 2026 Vigil Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilcore/vigil

package main

import (
	"github.com/rs/zerolog"

	"github.com/vigilcore/vigil/internal/anomaly"
)

// logPatternHook feeds the process's own warn-and-above log stream into
// the log-pattern detector, so error bursts inside Vigil surface as
// anomalies like any other signal.
type logPatternHook struct {
	det *anomaly.LogPatternDetector
}

// Run implements zerolog.Hook.
func (h logPatternHook) Run(_ *zerolog.Event, level zerolog.Level, message string) {
	if level < zerolog.WarnLevel {
		return
	}
	h.det.Ingest("vigil", message)
}
