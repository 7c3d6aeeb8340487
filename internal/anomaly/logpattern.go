// Vigil - Hierarchical Supervision and Self-Healing Orchestration Core
// Copyright 2026 Vigil Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilcore/vigil

package anomaly

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/vigilcore/vigil/internal/cache"
	"github.com/vigilcore/vigil/internal/errs"
)

// logPatternEvidence is the evidence payload for log-pattern anomalies.
type logPatternEvidence struct {
	Pattern string `json:"pattern"`
	Count   int64  `json:"count"`
	Window  string `json:"window"`
	Sample  string `json:"sample"`
}

// logPattern is one registered pattern with its match counter.
type logPattern struct {
	name      string
	re        *regexp.Regexp
	severity  Severity
	threshold int64
	counter   *cache.SlidingWindowCounter
	sample    string
	source    string
}

// LogPatternDetector matches log lines against registered regular
// expressions and raises one aggregated anomaly per pattern whose match
// count within the sliding window exceeds its threshold. The anomaly
// carries the count and one representative line, never one anomaly per
// match. The pattern's counter resets after firing so the same burst is
// not reported twice.
type LogPatternDetector struct {
	window  time.Duration
	buckets int

	mu       sync.Mutex
	patterns map[string]*logPattern
}

// NewLogPatternDetector creates a detector whose pattern counters cover
// window, divided into buckets sliding-window buckets.
func NewLogPatternDetector(window time.Duration, buckets int) *LogPatternDetector {
	if window <= 0 {
		window = 24 * time.Hour
	}
	if buckets <= 0 {
		buckets = 24
	}
	return &LogPatternDetector{
		window:   window,
		buckets:  buckets,
		patterns: make(map[string]*logPattern),
	}
}

// Name implements Detector.
func (d *LogPatternDetector) Name() string { return "log-pattern" }

// Kind implements Detector.
func (d *LogPatternDetector) Kind() Kind { return KindLogPattern }

// AddPattern registers a named pattern. Threshold is the match count within
// the window above which one aggregated anomaly fires.
func (d *LogPatternDetector) AddPattern(name, expr string, threshold int64, severity Severity) error {
	re, err := regexp.Compile(expr)
	if err != nil {
		return errs.Wrap(errs.KindInit, "anomaly.AddPattern", err)
	}
	if threshold <= 0 {
		threshold = 100
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.patterns[name]; exists {
		return errs.New(errs.KindInit, "anomaly.AddPattern", "pattern %q already registered", name)
	}
	d.patterns[name] = &logPattern{
		name:      name,
		re:        re,
		severity:  severity,
		threshold: threshold,
		counter:   cache.NewSlidingWindowCounter(d.window, d.buckets),
	}
	return nil
}

// Ingest feeds one log line from a component through every registered
// pattern. The most recent matching line is kept as the representative
// sample for the next anomaly.
func (d *LogPatternDetector) Ingest(source, line string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, p := range d.patterns {
		if !p.re.MatchString(line) {
			continue
		}
		p.counter.Increment(1)
		p.sample = line
		p.source = source
	}
}

// Detect implements Detector: fires one aggregated anomaly per pattern
// over threshold, then resets that pattern's window.
func (d *LogPatternDetector) Detect(_ context.Context) ([]Anomaly, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []Anomaly
	for _, p := range d.patterns {
		count := p.counter.Count()
		if count < p.threshold {
			continue
		}
		evidence, _ := json.Marshal(logPatternEvidence{
			Pattern: p.re.String(),
			Count:   count,
			Window:  d.window.String(),
			Sample:  p.sample,
		})
		out = append(out, New(p.source, KindLogPattern, p.severity,
			fmt.Sprintf("log pattern %q matched %d times within %s", p.name, count, d.window),
			evidence))
		p.counter.Reset()
	}
	return out, nil
}
