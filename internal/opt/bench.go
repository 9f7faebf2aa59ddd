package opt

import (
	"fmt"
	"math"
	"slices"
)

// Benchmark is an analytic test function with a known optimum.
type Benchmark struct {
	Name string
	Func func([]float64) float64
	// Lower and Upper bound every dimension.
	Lower, Upper float64
	// Optimum returns the minimum cost for the given dimension count.
	Optimum func(dims int) float64
}

// Sphere is sum(x_i^2) with its minimum 0 at the origin.
func Sphere(x []float64) float64 {
	var sum float64
	for _, v := range x {
		sum += v * v
	}
	return sum
}

// Rastrigin is highly multimodal with its minimum 0 at the origin.
func Rastrigin(x []float64) float64 {
	sum := 10 * float64(len(x))
	for _, v := range x {
		sum += v*v - 10*math.Cos(2*math.Pi*v)
	}
	return sum
}

// NegX mirrors a simulation maximising its first parameter: the cost is
// -x[0], minimal at the upper bound.
func NegX(x []float64) float64 {
	return -x[0]
}

var benchmarks = map[string]Benchmark{
	"sphere": {
		Name: "sphere", Func: Sphere, Lower: -5, Upper: 5,
		Optimum: func(int) float64 { return 0 },
	},
	"rastrigin": {
		Name: "rastrigin", Func: Rastrigin, Lower: -5.12, Upper: 5.12,
		Optimum: func(int) float64 { return 0 },
	},
	"negx": {
		Name: "negx", Func: NegX, Lower: 0, Upper: 3,
		Optimum: func(int) float64 { return -3 },
	},
}

// Lookup returns the named benchmark.
func Lookup(name string) (Benchmark, error) {
	b, ok := benchmarks[name]
	if !ok {
		return Benchmark{}, fmt.Errorf("unknown benchmark %q (available: %v)", name, BenchmarkNames())
	}
	return b, nil
}

// BenchmarkNames lists the available benchmarks in sorted order.
func BenchmarkNames() []string {
	names := make([]string, 0, len(benchmarks))
	for name := range benchmarks {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Bounds returns per-dimension bounds for dims dimensions.
func (b Benchmark) Bounds(dims int) (lower, upper []float64) {
	lower = make([]float64, dims)
	upper = make([]float64, dims)
	for i := range lower {
		lower[i] = b.Lower
		upper[i] = b.Upper
	}
	return lower, upper
}

// Run optimises b in dims dimensions with o.
func (b Benchmark) Run(o Optimizer, dims int) (Result, error) {
	lower, upper := b.Bounds(dims)
	return o.Run(b.Func, lower, upper)
}
