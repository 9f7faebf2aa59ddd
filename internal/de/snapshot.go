package de

import (
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/cwbudde/picevolve/internal/logging"
)

// Snapshot is the complete resumable state of a Solver. Population is stored
// in unit-hypercube coordinates, exactly as the solver holds it, so a restored
// solver continues on the same trajectory an uninterrupted one would take.
type Snapshot struct {
	Config      Config
	Bounds      Bounds
	Population  [][]float64
	Energies    []float64
	Feasible    []bool
	Generation  int
	Simulations int
	Scale       float64
	Evaluated   bool
	RNG         []byte
}

// Snapshot captures the current state. The returned value shares no memory
// with the solver.
func (s *Solver) Snapshot() Snapshot {
	pop := make([][]float64, len(s.pop))
	for i, m := range s.pop {
		pop[i] = slices.Clone(m)
	}
	state, err := s.src.MarshalBinary()
	if err != nil {
		// PCG marshalling cannot fail
		panic(err)
	}
	return Snapshot{
		Config:      s.cfg,
		Bounds:      slices.Clone(s.bounds),
		Population:  pop,
		Energies:    slices.Clone(s.energies),
		Feasible:    slices.Clone(s.feasible),
		Generation:  s.generation,
		Simulations: s.nfev,
		Scale:       s.scale,
		Evaluated:   s.evaluated,
		RNG:         state,
	}
}

// Validate checks the internal consistency of a snapshot.
func (snap Snapshot) Validate() error {
	if err := snap.Config.Validate(); err != nil {
		return err
	}
	if err := snap.Bounds.Validate(); err != nil {
		return err
	}
	n := len(snap.Population)
	if n == 0 {
		return fmt.Errorf("snapshot has an empty population")
	}
	if len(snap.Energies) != n || len(snap.Feasible) != n {
		return fmt.Errorf("snapshot has %d members but %d energies and %d feasibility flags",
			n, len(snap.Energies), len(snap.Feasible))
	}
	for i, m := range snap.Population {
		if len(m) != len(snap.Bounds) {
			return fmt.Errorf("member %d has %d parameters, bounds have %d", i, len(m), len(snap.Bounds))
		}
	}
	if snap.Generation < InitGeneration {
		return fmt.Errorf("invalid generation %d", snap.Generation)
	}
	if len(snap.RNG) == 0 {
		return fmt.Errorf("snapshot has no random generator state")
	}
	return nil
}

// Restore rebuilds a solver from a snapshot. Options and the evaluator are
// not part of the snapshot and must be supplied again. Workers may differ
// from the snapshot; it does not influence the trajectory.
func Restore(snap Snapshot, eval Evaluator, opts ...Option) (*Solver, error) {
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	if eval == nil {
		return nil, fmt.Errorf("evaluator cannot be nil")
	}

	src := &rand.PCG{}
	if err := src.UnmarshalBinary(snap.RNG); err != nil {
		return nil, fmt.Errorf("restore random generator: %w", err)
	}

	snap = snap.clone()
	s := &Solver{
		cfg:        snap.Config,
		bounds:     snap.Bounds,
		eval:       eval,
		src:        src,
		rng:        rand.New(src),
		pop:        snap.Population,
		energies:   snap.Energies,
		feasible:   snap.Feasible,
		generation: snap.Generation,
		nfev:       snap.Simulations,
		scale:      snap.Scale,
		evaluated:  snap.Evaluated,
	}
	s.logger = logging.Discard()
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// WithWorkers overrides the concurrency of a solver, typically after Restore.
func WithWorkers(n int) Option {
	return func(s *Solver) {
		if n > 0 {
			s.cfg.Workers = n
		}
	}
}

func (snap Snapshot) clone() Snapshot {
	out := snap
	out.Bounds = slices.Clone(snap.Bounds)
	out.Population = make([][]float64, len(snap.Population))
	for i, m := range snap.Population {
		out.Population[i] = slices.Clone(m)
	}
	out.Energies = slices.Clone(snap.Energies)
	out.Feasible = slices.Clone(snap.Feasible)
	out.RNG = slices.Clone(snap.RNG)
	return out
}
