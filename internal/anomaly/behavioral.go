// Vigil - Hierarchical Supervision and Self-Healing Orchestration Core
// Copyright 2026 Vigil Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilcore/vigil

package anomaly

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/goccy/go-json"
	"github.com/vigilcore/vigil/internal/cache"
)

// behavioralEvidence is the evidence payload for correlation-shift anomalies.
type behavioralEvidence struct {
	ComponentA  string  `json:"component_a"`
	ComponentB  string  `json:"component_b"`
	Baseline    float64 `json:"baseline_correlation"`
	Current     float64 `json:"current_correlation"`
	Delta       float64 `json:"delta"`
	DeltaThresh float64 `json:"delta_threshold"`
}

// BehavioralDetector tracks pairwise Pearson correlation between related
// components' activity profiles and flags a pair when its correlation
// shifts beyond a configured delta from the historical baseline. The
// baseline is the first correlation computed once enough samples exist; it
// drifts slowly toward the current value so seasonal change does not fire
// forever.
type BehavioralDetector struct {
	windowSize int
	delta      float64

	mu        sync.Mutex
	profiles  map[string]*cache.Ring[float64]
	baselines map[string]float64
}

// NewBehavioralDetector creates a correlation-shift detector. windowSize is
// activity samples retained per component, delta the correlation shift that
// triggers an anomaly.
func NewBehavioralDetector(windowSize int, delta float64) *BehavioralDetector {
	if windowSize <= 0 {
		windowSize = 60
	}
	if delta <= 0 {
		delta = 0.4
	}
	return &BehavioralDetector{
		windowSize: windowSize,
		delta:      delta,
		profiles:   make(map[string]*cache.Ring[float64]),
		baselines:  make(map[string]float64),
	}
}

// Name implements Detector.
func (d *BehavioralDetector) Name() string { return "behavioral-correlation" }

// Kind implements Detector.
func (d *BehavioralDetector) Kind() Kind { return KindBehavioral }

// Observe records one activity sample (task throughput, message rate) for
// a component.
func (d *BehavioralDetector) Observe(component string, activity float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ring, ok := d.profiles[component]
	if !ok {
		ring = cache.NewRing[float64](d.windowSize)
		d.profiles[component] = ring
	}
	ring.Push(activity)
}

// Detect implements Detector: recomputes every pairwise correlation and
// flags pairs whose shift from baseline exceeds the delta.
func (d *BehavioralDetector) Detect(_ context.Context) ([]Anomaly, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	components := make([]string, 0, len(d.profiles))
	for name := range d.profiles {
		components = append(components, name)
	}
	sort.Strings(components)

	var out []Anomaly
	for i := 0; i < len(components); i++ {
		for j := i + 1; j < len(components); j++ {
			a, b := components[i], components[j]
			sa := d.profiles[a].Snapshot()
			sb := d.profiles[b].Snapshot()
			n := min(len(sa), len(sb))
			if n < 10 {
				continue
			}
			// Align on the most recent n samples.
			current, ok := pearson(sa[len(sa)-n:], sb[len(sb)-n:])
			if !ok {
				continue
			}

			key := a + "|" + b
			baseline, seen := d.baselines[key]
			if !seen {
				d.baselines[key] = current
				continue
			}

			shift := math.Abs(current - baseline)
			if shift > d.delta {
				evidence, _ := json.Marshal(behavioralEvidence{
					ComponentA:  a,
					ComponentB:  b,
					Baseline:    baseline,
					Current:     current,
					Delta:       shift,
					DeltaThresh: d.delta,
				})
				out = append(out, New(a, KindBehavioral, SeverityMedium,
					fmt.Sprintf("correlation between %s and %s shifted %.2f from baseline %.2f", a, b, shift, baseline),
					evidence))
			}

			// Slow drift keeps the baseline current without chasing spikes.
			d.baselines[key] = baseline*0.95 + current*0.05
		}
	}
	return out, nil
}

// pearson computes the Pearson correlation coefficient of two equal-length
// samples. ok is false when either series has zero variance.
func pearson(x, y []float64) (r float64, ok bool) {
	n := float64(len(x))
	var sumX, sumY float64
	for i := range x {
		sumX += x[i]
		sumY += y[i]
	}
	meanX, meanY := sumX/n, sumY/n

	var cov, varX, varY float64
	for i := range x {
		dx, dy := x[i]-meanX, y[i]-meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0, false
	}
	return cov / math.Sqrt(varX*varY), true
}
