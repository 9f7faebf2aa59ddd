package opt

import (
	"fmt"
	"math/rand"

	"github.com/cwbudde/mayfly"
)

// MayflyAdapter wraps the external Mayfly library to conform to our Optimizer interface
type MayflyAdapter struct {
	maxIters int
	popSize  int
	seed     int64
}

// NewMayfly creates a new Mayfly optimizer adapter
func NewMayfly(maxIters, popSize int, seed int64) *MayflyAdapter {
	return &MayflyAdapter{
		maxIters: maxIters,
		popSize:  popSize,
		seed:     seed,
	}
}

func (m *MayflyAdapter) Name() string { return "mayfly" }

// Run executes the Mayfly optimization using the external library. Mayfly
// only supports one scalar bound for all dimensions, so it searches the unit
// cube and every candidate is scaled into lower..upper before evaluation.
func (m *MayflyAdapter) Run(eval func([]float64) float64, lower, upper []float64) (Result, error) {
	if len(lower) != len(upper) || len(lower) == 0 {
		return Result{}, fmt.Errorf("mayfly: need matching non-empty bounds, got %d and %d", len(lower), len(upper))
	}
	dim := len(lower)

	scale := func(u []float64) []float64 {
		x := make([]float64, dim)
		for i, v := range u {
			x[i] = lower[i] + v*(upper[i]-lower[i])
		}
		return x
	}

	evaluations := 0
	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = func(u []float64) float64 {
		evaluations++
		return eval(scale(u))
	}
	config.ProblemSize = dim
	config.MaxIterations = m.maxIters
	config.NPop = m.popSize
	config.LowerBound = 0
	config.UpperBound = 1
	config.Rand = rand.New(rand.NewSource(m.seed))

	result, err := mayfly.Optimize(config)
	if err != nil {
		return Result{}, fmt.Errorf("mayfly: %w", err)
	}

	return Result{
		Best:        scale(result.GlobalBest.Position),
		Cost:        result.GlobalBest.Cost,
		Evaluations: evaluations,
	}, nil
}
