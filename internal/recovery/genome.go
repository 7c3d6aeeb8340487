// Vigil - Hierarchical Supervision and Self-Healing Orchestration Core
// Copyright 2026 Vigil Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilcore/vigil

package recovery

import (
	"math/rand"
)

// ParamRange bounds one tunable parameter of a target configuration.
type ParamRange struct {
	Name string  `json:"name"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// Genome is one candidate parameter vector. Gene order matches the range
// slice the optimizer was given.
type Genome struct {
	Genes   []float64 `json:"genes"`
	Fitness float64   `json:"fitness"`
}

// randomGenome draws each gene uniformly within its range.
func randomGenome(ranges []ParamRange, rng *rand.Rand) Genome {
	genes := make([]float64, len(ranges))
	for i, r := range ranges {
		genes[i] = r.Min + rng.Float64()*(r.Max-r.Min)
	}
	return Genome{Genes: genes}
}

// genomeFromParams maps a named parameter set onto the gene vector,
// clamping into range. Parameters absent from the map fall back to the
// range midpoint. Used to seed a run from archived winners.
func genomeFromParams(ranges []ParamRange, params map[string]float64) Genome {
	genes := make([]float64, len(ranges))
	for i, r := range ranges {
		v, ok := params[r.Name]
		if !ok {
			v = (r.Min + r.Max) / 2
		}
		genes[i] = clamp(v, r.Min, r.Max)
	}
	return Genome{Genes: genes}
}

// Params renders the gene vector as the named parameter map the supervisor
// configuration understands.
func (g Genome) Params(ranges []ParamRange) map[string]float64 {
	out := make(map[string]float64, len(ranges))
	for i, r := range ranges {
		out[r.Name] = g.Genes[i]
	}
	return out
}

// clone returns an independent copy of the genome.
func (g Genome) clone() Genome {
	genes := make([]float64, len(g.Genes))
	copy(genes, g.Genes)
	return Genome{Genes: genes, Fitness: g.Fitness}
}

// crossover combines two parents at a random cut point.
func crossover(a, b Genome, rng *rand.Rand) Genome {
	genes := make([]float64, len(a.Genes))
	cut := rng.Intn(len(genes) + 1)
	copy(genes[:cut], a.Genes[:cut])
	copy(genes[cut:], b.Genes[cut:])
	return Genome{Genes: genes}
}

// mutate perturbs each gene with probability rate, resampling within a
// tenth of the gene's range around its current value.
func mutate(g Genome, ranges []ParamRange, rate float64, rng *rand.Rand) Genome {
	for i, r := range ranges {
		if rng.Float64() >= rate {
			continue
		}
		span := (r.Max - r.Min) * 0.1
		g.Genes[i] = clamp(g.Genes[i]+(rng.Float64()*2-1)*span, r.Min, r.Max)
	}
	return g
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
