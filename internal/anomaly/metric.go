// Vigil - Hierarchical Supervision and Self-Healing Orchestration Core
// Copyright 2026 Vigil Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilcore/vigil

package anomaly

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/goccy/go-json"
	"github.com/vigilcore/vigil/internal/cache"
)

// metricEvidence is the evidence payload attached to metric anomalies.
type metricEvidence struct {
	Series    string  `json:"series"`
	Value     float64 `json:"value"`
	Mean      float64 `json:"mean"`
	StdDev    float64 `json:"std_dev"`
	ZScore    float64 `json:"z_score"`
	Threshold float64 `json:"threshold"`
}

// MetricDetector flags metric samples whose deviation from the rolling
// window mean exceeds a multiple of the window's standard deviation.
// Severity scales with how far the sample exceeds the threshold.
type MetricDetector struct {
	windowSize int
	threshold  float64

	mu      sync.Mutex
	series  map[string]*cache.Ring[float64]
	flagged []Anomaly
}

// NewMetricDetector creates a z-score detector. windowSize is the number of
// samples kept per series, threshold the z-score above which a sample is
// anomalous.
func NewMetricDetector(windowSize int, threshold float64) *MetricDetector {
	if windowSize <= 0 {
		windowSize = 60
	}
	if threshold <= 0 {
		threshold = 3.0
	}
	return &MetricDetector{
		windowSize: windowSize,
		threshold:  threshold,
		series:     make(map[string]*cache.Ring[float64]),
	}
}

// Name implements Detector.
func (d *MetricDetector) Name() string { return "metric-zscore" }

// Kind implements Detector.
func (d *MetricDetector) Kind() Kind { return KindMetric }

// Observe records a sample for a series. The sample is evaluated against
// the window as it stood before the sample was added, so a spike is judged
// against history rather than against itself. Flagged samples are held
// until the next Detect pass.
func (d *MetricDetector) Observe(source, series string, value float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := source + "/" + series
	ring, ok := d.series[key]
	if !ok {
		ring = cache.NewRing[float64](d.windowSize)
		d.series[key] = ring
	}

	window := ring.Snapshot()
	ring.Push(value)

	// Too few samples to establish a baseline.
	if len(window) < 10 {
		return
	}

	mean, stddev := meanStdDev(window)
	if stddev == 0 {
		// Flat baseline: any change at all is a deviation worth flagging.
		if value == mean {
			return
		}
		stddev = math.SmallestNonzeroFloat64
	}

	z := math.Abs(value-mean) / stddev
	if z < d.threshold {
		return
	}

	evidence, _ := json.Marshal(metricEvidence{
		Series:    series,
		Value:     value,
		Mean:      mean,
		StdDev:    stddev,
		ZScore:    z,
		Threshold: d.threshold,
	})
	d.flagged = append(d.flagged, New(source, KindMetric, d.severityFor(z),
		fmt.Sprintf("metric %s deviated %.1f sigma from rolling mean", series, z),
		evidence))
}

// Detect implements Detector: drains and returns samples flagged since the
// previous pass.
func (d *MetricDetector) Detect(_ context.Context) ([]Anomaly, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.flagged
	d.flagged = nil
	return out, nil
}

// severityFor maps the exceedance ratio z/threshold onto severity bands.
func (d *MetricDetector) severityFor(z float64) Severity {
	ratio := z / d.threshold
	switch {
	case ratio >= 3:
		return SeverityCritical
	case ratio >= 2:
		return SeverityHigh
	case ratio >= 1.5:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func meanStdDev(samples []float64) (mean, stddev float64) {
	n := float64(len(samples))
	for _, v := range samples {
		mean += v
	}
	mean /= n

	var variance float64
	for _, v := range samples {
		diff := v - mean
		variance += diff * diff
	}
	variance /= n
	return mean, math.Sqrt(variance)
}
