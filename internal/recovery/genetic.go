// Vigil - Hierarchical Supervision and Self-Healing Orchestration Core
// Copyright 2026 Vigil Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilcore/vigil

package recovery

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/vigilcore/vigil/internal/anomaly"
	"github.com/vigilcore/vigil/internal/config"
	"github.com/vigilcore/vigil/internal/errs"
	"github.com/vigilcore/vigil/internal/logging"
	"github.com/vigilcore/vigil/internal/metrics"
)

// Fitness scores one candidate parameter set for a component. Higher is
// better; the score weighs recovery success against post-change latency
// and error-rate deltas. Evaluation runs against a shadow copy of the
// component's configuration unless live evaluation is enabled.
type Fitness func(ctx context.Context, component string, params map[string]float64) (float64, error)

// GenerationStats records one generation for the audit history.
type GenerationStats struct {
	Index int     `json:"index"`
	Best  float64 `json:"best"`
	Mean  float64 `json:"mean"`
}

// RunRecord is the full history of one optimizer run, retained for audit
// and for seeding future runs on the same issue signature.
type RunRecord struct {
	Signature   string             `json:"signature"`
	Component   string             `json:"component"`
	StartedAt   time.Time          `json:"started_at"`
	Ranges      []ParamRange       `json:"ranges"`
	Generations []GenerationStats  `json:"generations"`
	BestParams  map[string]float64 `json:"best_params"`
	BestFitness float64            `json:"best_fitness"`
}

// Optimizer searches a parameter space with tournament selection,
// single-point crossover, and bounded per-gene mutation. Runs stop at
// MaxGenerations or when generation-over-generation improvement of the
// best fitness falls below ConvergenceEpsilon. The best-so-far genome
// never regresses within a run.
type Optimizer struct {
	cfg     config.GeneticConfig
	fitness Fitness
	rng     *rand.Rand
}

// NewOptimizer creates an optimizer. A zero seed derives one from the
// clock.
func NewOptimizer(cfg config.GeneticConfig, fitness Fitness, seed int64) *Optimizer {
	if cfg.PopulationSize < 4 {
		cfg.PopulationSize = 20
	}
	if cfg.MaxGenerations < 1 {
		cfg.MaxGenerations = 12
	}
	if cfg.TournamentSize < 2 {
		cfg.TournamentSize = 3
	}
	if cfg.TournamentSize > cfg.PopulationSize {
		cfg.TournamentSize = cfg.PopulationSize
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Optimizer{
		cfg:     cfg,
		fitness: fitness,
		rng:     rand.New(rand.NewSource(seed)), //nolint:gosec // search randomness, not security
	}
}

// Run executes one optimization for a component. Seeds, typically archived
// winners for the same issue signature, join the random initial
// population.
func (o *Optimizer) Run(ctx context.Context, component string, ranges []ParamRange, seeds []map[string]float64) (*RunRecord, error) {
	if len(ranges) == 0 {
		return nil, errs.New(errs.KindInit, "recovery.genetic", "no parameter ranges for %s", component)
	}

	record := &RunRecord{
		Component: component,
		StartedAt: time.Now().UTC(),
		Ranges:    ranges,
	}

	population := make([]Genome, 0, o.cfg.PopulationSize)
	for _, seed := range seeds {
		if len(population) == o.cfg.PopulationSize/2 {
			break // keep at least half the population random
		}
		population = append(population, genomeFromParams(ranges, seed))
	}
	for len(population) < o.cfg.PopulationSize {
		population = append(population, randomGenome(ranges, o.rng))
	}

	best := Genome{Fitness: math.Inf(-1)}
	prevBest := math.Inf(-1)

	for gen := 0; gen < o.cfg.MaxGenerations; gen++ {
		if err := ctx.Err(); err != nil {
			return nil, errs.Wrap(errs.KindTask, "recovery.genetic", err)
		}

		var sum float64
		for i := range population {
			score, err := o.fitness(ctx, component, population[i].Params(ranges))
			if err != nil {
				// A candidate that cannot be evaluated loses every tournament.
				logging.Debug().Err(err).Str("component", component).Msg("fitness evaluation failed")
				score = math.Inf(-1)
			}
			population[i].Fitness = score
			if score > best.Fitness {
				best = population[i].clone()
			}
			if !math.IsInf(score, -1) {
				sum += score
			}
		}

		record.Generations = append(record.Generations, GenerationStats{
			Index: gen,
			Best:  best.Fitness,
			Mean:  sum / float64(len(population)),
		})
		metrics.GeneticGenerations.WithLabelValues(component).Inc()
		metrics.GeneticBestFitness.WithLabelValues(component).Set(best.Fitness)

		if gen > 0 && best.Fitness-prevBest < o.cfg.ConvergenceEpsilon {
			logging.Info().
				Str("component", component).
				Int("generation", gen).
				Float64("best", best.Fitness).
				Msg("genetic run converged")
			break
		}
		prevBest = best.Fitness

		// Elitism: the best survives unchanged; the rest are bred.
		next := make([]Genome, 0, o.cfg.PopulationSize)
		next = append(next, best.clone())
		for len(next) < o.cfg.PopulationSize {
			a := o.tournament(population)
			b := o.tournament(population)
			child := crossover(a, b, o.rng)
			child = mutate(child, ranges, o.cfg.MutationRate, o.rng)
			next = append(next, child)
		}
		population = next
	}

	if math.IsInf(best.Fitness, -1) {
		return nil, errs.New(errs.KindTask, "recovery.genetic", "no evaluable genome for %s", component)
	}

	record.BestParams = best.Params(ranges)
	record.BestFitness = best.Fitness
	record.Signature = component
	return record, nil
}

// tournament picks the fittest of TournamentSize random contestants.
func (o *Optimizer) tournament(population []Genome) Genome {
	winner := population[o.rng.Intn(len(population))]
	for i := 1; i < o.cfg.TournamentSize; i++ {
		contender := population[o.rng.Intn(len(population))]
		if contender.Fitness > winner.Fitness {
			winner = contender
		}
	}
	return winner
}

// GeneticStrategy is the last automatic rung: a full parameter-space
// search for recurring, multi-parameter degradation that single-step
// reconfiguration cannot resolve. The winning genome is committed to the
// live configuration; the run history is archived under the issue
// signature and seeds future runs.
type GeneticStrategy struct {
	opt     *Optimizer
	control ComponentControl
	health  HealthCheck
	archive RunStore
	ranges  func(component string) []ParamRange
}

// NewGeneticStrategy wires the optimizer into the strategy chain. ranges
// maps a component to its tunable parameter space; components with no
// ranges are not candidates for genetic recovery.
func NewGeneticStrategy(opt *Optimizer, control ComponentControl, health HealthCheck, archive RunStore, ranges func(component string) []ParamRange) *GeneticStrategy {
	return &GeneticStrategy{opt: opt, control: control, health: health, archive: archive, ranges: ranges}
}

// Name implements Strategy.
func (s *GeneticStrategy) Name() string { return "genetic" }

// Applies implements Strategy.
func (s *GeneticStrategy) Applies(issue anomaly.Anomaly) bool {
	return len(s.ranges(issue.Source)) > 0
}

// Execute runs the optimizer and commits the best genome found.
func (s *GeneticStrategy) Execute(ctx context.Context, issue anomaly.Anomaly) error {
	signature := Signature(issue)
	seeds := s.seedsFor(ctx, signature)

	record, err := s.opt.Run(ctx, issue.Source, s.ranges(issue.Source), seeds)
	if err != nil {
		return err
	}
	record.Signature = signature

	if err := s.archive.SaveRun(ctx, signature, record); err != nil {
		// Audit trail loss is not a recovery failure.
		logging.Err(err).Str("signature", signature).Msg("failed to archive genetic run")
	}

	if err := s.control.UpdateConfig(issue.Source, record.BestParams); err != nil {
		return errs.Wrap(errs.KindTask, "recovery.genetic", err)
	}
	logging.Info().
		Str("component", issue.Source).
		Float64("fitness", record.BestFitness).
		Int("generations", len(record.Generations)).
		Msg("committed genetic recovery configuration")
	return nil
}

// Verify implements Strategy.
func (s *GeneticStrategy) Verify(ctx context.Context, issue anomaly.Anomaly) error {
	return s.health(ctx, issue.Source)
}

// seedsFor loads archived winners for the signature, newest first.
func (s *GeneticStrategy) seedsFor(ctx context.Context, signature string) []map[string]float64 {
	runs, err := s.archive.LoadRuns(ctx, signature)
	if err != nil {
		logging.Err(err).Str("signature", signature).Msg("failed to load archived runs")
		return nil
	}
	seeds := make([]map[string]float64, 0, len(runs))
	for i := len(runs) - 1; i >= 0; i-- {
		seeds = append(seeds, runs[i].BestParams)
	}
	return seeds
}

// Signature identifies recurring issues: same component, same detector
// family.
func Signature(issue anomaly.Anomaly) string {
	return issue.Source + "/" + string(issue.Kind)
}
