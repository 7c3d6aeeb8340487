// Vigil - Hierarchical Supervision and Self-Healing Orchestration Core
// Copyright 2026 Vigil Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilcore/vigil

package recovery

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/vigilcore/vigil/internal/anomaly"
	"github.com/vigilcore/vigil/internal/config"
)

func geneticConfig() config.GeneticConfig {
	return config.GeneticConfig{
		PopulationSize:     20,
		MaxGenerations:     15,
		TournamentSize:     3,
		MutationRate:       0.1,
		ConvergenceEpsilon: 1e-6,
	}
}

// parabolaFitness peaks at timeout=500, concurrency=8.
func parabolaFitness(_ context.Context, _ string, params map[string]float64) (float64, error) {
	dt := params["task_timeout_ms"] - 500
	dc := params["max_concurrent_tasks"] - 8
	return -(dt*dt + 100*dc*dc), nil
}

func testRanges() []ParamRange {
	return []ParamRange{
		{Name: "task_timeout_ms", Min: 100, Max: 2000},
		{Name: "max_concurrent_tasks", Min: 1, Max: 32},
	}
}

func TestOptimizerBestFitnessNonDecreasing(t *testing.T) {
	o := NewOptimizer(geneticConfig(), parabolaFitness, 42)
	record, err := o.Run(context.Background(), "worker-1", testRanges(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(record.Generations) == 0 {
		t.Fatal("no generations recorded")
	}
	prev := math.Inf(-1)
	for _, g := range record.Generations {
		if g.Best < prev {
			t.Fatalf("best regressed at generation %d: %v -> %v", g.Index, prev, g.Best)
		}
		prev = g.Best
	}
}

func TestOptimizerApproachesOptimum(t *testing.T) {
	o := NewOptimizer(geneticConfig(), parabolaFitness, 7)
	record, err := o.Run(context.Background(), "worker-1", testRanges(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if record.BestFitness < -150_000 {
		t.Errorf("best fitness = %v, expected search to leave the random floor", record.BestFitness)
	}
	if record.BestParams["task_timeout_ms"] < 100 || record.BestParams["task_timeout_ms"] > 2000 {
		t.Errorf("best timeout %v escaped its range", record.BestParams["task_timeout_ms"])
	}
}

func TestOptimizerSeedsJoinPopulation(t *testing.T) {
	// A fitness that only the seeded point can win.
	needle := func(_ context.Context, _ string, params map[string]float64) (float64, error) {
		if math.Abs(params["task_timeout_ms"]-777) < 1 {
			return 1000, nil
		}
		return 0, nil
	}
	cfg := geneticConfig()
	cfg.MaxGenerations = 1
	o := NewOptimizer(cfg, needle, 1)

	seeds := []map[string]float64{{"task_timeout_ms": 777, "max_concurrent_tasks": 4}}
	record, err := o.Run(context.Background(), "worker-1", testRanges(), seeds)
	if err != nil {
		t.Fatal(err)
	}
	if record.BestFitness != 1000 {
		t.Errorf("best fitness = %v, want seeded winner at 1000", record.BestFitness)
	}
}

func TestOptimizerNoRangesIsInitError(t *testing.T) {
	o := NewOptimizer(geneticConfig(), parabolaFitness, 1)
	if _, err := o.Run(context.Background(), "worker-1", nil, nil); err == nil {
		t.Error("run with no ranges succeeded")
	}
}

func TestOptimizerAllEvaluationsFail(t *testing.T) {
	broken := func(context.Context, string, map[string]float64) (float64, error) {
		return 0, errors.New("sandbox unavailable")
	}
	o := NewOptimizer(geneticConfig(), broken, 1)
	if _, err := o.Run(context.Background(), "worker-1", testRanges(), nil); err == nil {
		t.Error("run with no evaluable genome succeeded")
	}
}

// fakeControl is a hand mock of the supervisor control surface.
type fakeControl struct {
	mu       sync.Mutex
	params   map[string]map[string]float64
	restarts []string
	updates  []map[string]float64
}

func newFakeControl() *fakeControl {
	return &fakeControl{params: make(map[string]map[string]float64)}
}

func (f *fakeControl) RestartComponent(_ context.Context, component string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts = append(f.restarts, component)
	return nil
}

func (f *fakeControl) Parameters(component string) (map[string]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneParams(f.params[component]), nil
}

func (f *fakeControl) UpdateConfig(component string, params map[string]float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params[component] = cloneParams(params)
	f.updates = append(f.updates, cloneParams(params))
	return nil
}

func healthyCheck(context.Context, string) error { return nil }

func TestGeneticStrategyCommitsAndArchives(t *testing.T) {
	control := newFakeControl()
	store := NewMemoryRunStore()
	o := NewOptimizer(geneticConfig(), parabolaFitness, 42)
	s := NewGeneticStrategy(o, control, healthyCheck, store, func(string) []ParamRange { return testRanges() })

	issue := anomaly.New("worker-1", anomaly.KindMetric, anomaly.SeverityHigh, "recurring degradation", nil)
	if !s.Applies(issue) {
		t.Fatal("strategy should apply when ranges exist")
	}
	if err := s.Execute(context.Background(), issue); err != nil {
		t.Fatal(err)
	}

	if len(control.updates) != 1 {
		t.Fatalf("UpdateConfig calls = %d, want 1", len(control.updates))
	}

	runs, err := store.LoadRuns(context.Background(), Signature(issue))
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("archived runs = %d, want 1", len(runs))
	}
	if runs[0].Signature != "worker-1/metric" {
		t.Errorf("signature = %s, want worker-1/metric", runs[0].Signature)
	}

	// A second run on the same signature is seeded by the first winner.
	if err := s.Execute(context.Background(), issue); err != nil {
		t.Fatal(err)
	}
	runs, _ = store.LoadRuns(context.Background(), Signature(issue))
	if len(runs) != 2 {
		t.Errorf("archived runs = %d, want 2", len(runs))
	}
}

func TestGeneticStrategyNotApplicableWithoutRanges(t *testing.T) {
	s := NewGeneticStrategy(nil, nil, nil, nil, func(string) []ParamRange { return nil })
	issue := anomaly.New("worker-1", anomaly.KindMetric, anomaly.SeverityHigh, "x", nil)
	if s.Applies(issue) {
		t.Error("strategy applied with no tunable parameters")
	}
}

func TestRestartStrategyQuarantinesWithinCooldown(t *testing.T) {
	control := newFakeControl()
	s := NewRestartStrategy(control, healthyCheck, time.Hour)
	issue := anomaly.New("worker-1", anomaly.KindBehavioral, anomaly.SeverityHigh, "stuck", nil)

	if err := s.Execute(context.Background(), issue); err != nil {
		t.Fatal(err)
	}
	if err := s.Execute(context.Background(), issue); !errors.Is(err, ErrQuarantined) {
		t.Errorf("second restart err = %v, want quarantined", err)
	}
	if len(control.restarts) != 1 {
		t.Errorf("restarts = %d, want 1", len(control.restarts))
	}

	// A different component has its own cooldown.
	other := anomaly.New("worker-2", anomaly.KindBehavioral, anomaly.SeverityHigh, "stuck", nil)
	if err := s.Execute(context.Background(), other); err != nil {
		t.Errorf("other component quarantined: %v", err)
	}
}

func TestReconfigureWidensTimeoutForBehavioralIssue(t *testing.T) {
	control := newFakeControl()
	control.params["worker-1"] = map[string]float64{"task_timeout_ms": 1000, "max_concurrent_tasks": 8}
	s := NewReconfigureStrategy(control, healthyCheck)

	issue := anomaly.New("worker-1", anomaly.KindBehavioral, anomaly.SeverityHigh, "timeouts", nil)
	if err := s.Execute(context.Background(), issue); err != nil {
		t.Fatal(err)
	}

	got, _ := control.Parameters("worker-1")
	if got["task_timeout_ms"] != 1500 {
		t.Errorf("task_timeout_ms = %v, want 1500", got["task_timeout_ms"])
	}
}

func TestReconfigureShedsConcurrencyForMetricIssue(t *testing.T) {
	control := newFakeControl()
	control.params["worker-1"] = map[string]float64{"max_concurrent_tasks": 8}
	s := NewReconfigureStrategy(control, healthyCheck)

	issue := anomaly.New("worker-1", anomaly.KindMetric, anomaly.SeverityHigh, "saturation", nil)
	if err := s.Execute(context.Background(), issue); err != nil {
		t.Fatal(err)
	}
	got, _ := control.Parameters("worker-1")
	if got["max_concurrent_tasks"] != 6 {
		t.Errorf("max_concurrent_tasks = %v, want 6", got["max_concurrent_tasks"])
	}
}

func TestReconfigureNoAdjustmentIsTaskError(t *testing.T) {
	control := newFakeControl()
	control.params["worker-1"] = map[string]float64{} // nothing tunable
	s := NewReconfigureStrategy(control, healthyCheck)

	issue := anomaly.New("worker-1", anomaly.KindMetric, anomaly.SeverityLow, "odd", nil)
	if err := s.Execute(context.Background(), issue); err == nil {
		t.Error("reconfigure succeeded with nothing to adjust")
	}
}

func TestMemoryRunStoreCapsHistory(t *testing.T) {
	store := NewMemoryRunStore()
	for i := 0; i < maxRunsPerSignature+5; i++ {
		if err := store.SaveRun(context.Background(), "sig", &RunRecord{BestFitness: float64(i)}); err != nil {
			t.Fatal(err)
		}
	}
	runs, err := store.LoadRuns(context.Background(), "sig")
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != maxRunsPerSignature {
		t.Fatalf("runs = %d, want cap %d", len(runs), maxRunsPerSignature)
	}
	// Oldest were truncated, newest kept.
	if runs[len(runs)-1].BestFitness != float64(maxRunsPerSignature+4) {
		t.Errorf("newest run fitness = %v", runs[len(runs)-1].BestFitness)
	}
}
