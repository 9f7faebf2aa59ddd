package opt

import (
	"context"
	"fmt"

	"github.com/cwbudde/picevolve/internal/de"
)

// DEAdapter runs the differential evolution solver used for simulations.
type DEAdapter struct {
	cfg de.Config
}

// NewDE creates an adapter for cfg. Workers is forced to 1 since benchmark
// functions are too cheap to gain from concurrency.
func NewDE(cfg de.Config) *DEAdapter {
	cfg.Workers = 1
	return &DEAdapter{cfg: cfg}
}

func (d *DEAdapter) Name() string { return "de" }

// Run prepares the initial population and optimises until the solver stops.
func (d *DEAdapter) Run(eval func([]float64) float64, lower, upper []float64) (Result, error) {
	if len(lower) != len(upper) {
		return Result{}, fmt.Errorf("de: bounds mismatch, %d lower and %d upper", len(lower), len(upper))
	}
	bounds := make(de.Bounds, len(lower))
	for i := range lower {
		bounds[i] = de.Bound{Lower: lower[i], Upper: upper[i]}
	}

	s, err := de.New(d.cfg, bounds, de.Objective(eval))
	if err != nil {
		return Result{}, err
	}
	ctx := context.Background()
	if err := s.Prepare(ctx); err != nil {
		return Result{}, err
	}
	res, err := s.Optimise(ctx)
	if err != nil {
		return Result{}, err
	}
	return Result{Best: res.Best, Cost: res.BestFitness, Evaluations: res.Simulations}, nil
}
