package de

import (
	"fmt"
	"strings"
)

// Strategy names a mutation scheme combined with binomial crossover.
type Strategy string

const (
	// Best1Bin mutates toward the best member with one difference vector.
	Best1Bin Strategy = "best1bin"
	// Best2Bin mutates toward the best member with two difference vectors.
	Best2Bin Strategy = "best2bin"
	// Rand1Bin mutates a random member with one difference vector.
	Rand1Bin Strategy = "rand1bin"
	// CurrentToBest1Bin moves the candidate toward the best member plus one difference vector.
	CurrentToBest1Bin Strategy = "currenttobest1bin"
)

// Strategies lists the supported strategy names.
func Strategies() []Strategy {
	return []Strategy{Best1Bin, Best2Bin, Rand1Bin, CurrentToBest1Bin}
}

// ParseStrategy resolves a strategy by name.
func ParseStrategy(name string) (Strategy, error) {
	for _, s := range Strategies() {
		if string(s) == name {
			return s, nil
		}
	}
	names := make([]string, 0, 4)
	for _, s := range Strategies() {
		names = append(names, string(s))
	}
	return "", fmt.Errorf("unknown strategy %q (want one of %s)", name, strings.Join(names, ", "))
}

// samples is how many distinct members besides the candidate a strategy draws.
func (s Strategy) samples() int {
	switch s {
	case Best2Bin:
		return 4
	case Rand1Bin:
		return 3
	default:
		return 2
	}
}

// MinPopulation is the smallest population the strategy can draw from.
func (s Strategy) MinPopulation() int {
	// candidate + distinct samples, never fewer than four members
	return max(4, s.samples()+1)
}

// mutate builds the mutant vector for candidate in unit space.
func (s *Solver) mutate(candidate int) []float64 {
	r := s.selectSamples(candidate, s.cfg.Strategy.samples())
	best := s.pop[0]
	cur := s.pop[candidate]
	f := s.scale
	out := make([]float64, len(best))

	switch s.cfg.Strategy {
	case Best2Bin:
		a, b, c, d := s.pop[r[0]], s.pop[r[1]], s.pop[r[2]], s.pop[r[3]]
		for j := range out {
			out[j] = best[j] + f*(a[j]+b[j]-c[j]-d[j])
		}
	case Rand1Bin:
		a, b, c := s.pop[r[0]], s.pop[r[1]], s.pop[r[2]]
		for j := range out {
			out[j] = a[j] + f*(b[j]-c[j])
		}
	case CurrentToBest1Bin:
		a, b := s.pop[r[0]], s.pop[r[1]]
		for j := range out {
			out[j] = cur[j] + f*(best[j]-cur[j]+a[j]-b[j])
		}
	default:
		a, b := s.pop[r[0]], s.pop[r[1]]
		for j := range out {
			out[j] = best[j] + f*(a[j]-b[j])
		}
	}
	return out
}

// selectSamples draws n distinct member indices that differ from candidate.
func (s *Solver) selectSamples(candidate, n int) []int {
	out := make([]int, 0, n)
	for _, idx := range s.rng.Perm(len(s.pop)) {
		if idx == candidate {
			continue
		}
		out = append(out, idx)
		if len(out) == n {
			break
		}
	}
	return out
}

// crossover applies binomial crossover between the candidate and its mutant.
// One coordinate is always taken from the mutant. Coordinates that left the
// unit interval are resampled uniformly, so every trial lies within bounds.
func (s *Solver) crossover(candidate int, mutant []float64) []float64 {
	trial := append([]float64(nil), s.pop[candidate]...)
	fill := s.rng.IntN(len(trial))
	for j := range trial {
		if j == fill || s.rng.Float64() < s.cfg.Recombination {
			trial[j] = mutant[j]
		}
	}
	for j, v := range trial {
		if v < 0 || v > 1 {
			trial[j] = s.rng.Float64()
		}
	}
	return trial
}
