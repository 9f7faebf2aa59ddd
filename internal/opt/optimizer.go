// Package opt runs the solvers against analytic benchmark functions, so
// solver settings can be compared without launching simulations.
package opt

// Optimizer defines an optimization algorithm interface
type Optimizer interface {
	// Name identifies the algorithm in reports.
	Name() string

	// Run minimises eval within the box lower..upper and returns the best
	// parameters found.
	Run(eval func([]float64) float64, lower, upper []float64) (Result, error)
}

// Result is the outcome of one optimisation.
type Result struct {
	Best        []float64
	Cost        float64
	Evaluations int
}
