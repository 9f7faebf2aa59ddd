package opt

import (
	"math"
	"testing"

	"github.com/cwbudde/picevolve/internal/de"
)

func deConfig(seed uint64) de.Config {
	cfg := de.DefaultConfig()
	cfg.MaxIter = 200
	cfg.Tol = 0
	cfg.Seed = seed
	return cfg
}

func TestMayflyAdapterOnSphere(t *testing.T) {
	b, err := Lookup("sphere")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}

	res, err := b.Run(NewMayfly(100, 20, 42), 3)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Best) != 3 {
		t.Fatalf("Expected 3 parameters, got %d", len(res.Best))
	}
	if res.Cost > 0.1 {
		t.Errorf("Expected cost near 0, got %f", res.Cost)
	}
	for i, v := range res.Best {
		if math.Abs(v) > 1.0 {
			t.Errorf("Parameter %d = %f, expected near 0", i, v)
		}
	}
	if res.Evaluations == 0 {
		t.Error("Evaluations should be counted")
	}
}

func TestMayflyAdapterDeterministic(t *testing.T) {
	lower := []float64{-5, 0}
	upper := []float64{5, 10}

	// popSize must be >=20 for mayfly v0.1.0
	res1, err := NewMayfly(50, 20, 123).Run(Sphere, lower, upper)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	res2, err := NewMayfly(50, 20, 123).Run(Sphere, lower, upper)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res1.Cost != res2.Cost {
		t.Errorf("Non-deterministic: cost1=%f, cost2=%f", res1.Cost, res2.Cost)
	}
	// per-dimension bounds are honoured
	for _, r := range []Result{res1, res2} {
		if r.Best[1] < 0 || r.Best[1] > 10 {
			t.Errorf("Parameter outside its bounds: %v", r.Best)
		}
	}
}

func TestMayflyAdapter_BadBounds(t *testing.T) {
	if _, err := NewMayfly(10, 20, 1).Run(Sphere, []float64{0}, []float64{1, 2}); err == nil {
		t.Error("Expected error for mismatched bounds")
	}
}

func TestDEAdapterOnSphere(t *testing.T) {
	b, _ := Lookup("sphere")
	res, err := b.Run(NewDE(deConfig(42)), 3)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Cost > 1e-3 {
		t.Errorf("Expected cost near 0, got %g at %v", res.Cost, res.Best)
	}
	// initial population plus 200 generations of 45 members
	if res.Evaluations != 45*201 {
		t.Errorf("Expected %d evaluations, got %d", 45*201, res.Evaluations)
	}
}

func TestDEAdapterOnNegX(t *testing.T) {
	b, _ := Lookup("negx")
	res, err := b.Run(NewDE(deConfig(7)), 1)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Best[0] < 2.99 || res.Best[0] > 3 {
		t.Errorf("Expected x near the upper bound 3, got %v", res.Best[0])
	}
	if math.Abs(res.Cost-b.Optimum(1)) > 0.01 {
		t.Errorf("Cost %v far from optimum %v", res.Cost, b.Optimum(1))
	}
}

func TestBenchmarks(t *testing.T) {
	origin := []float64{0, 0, 0}
	if Sphere(origin) != 0 || Rastrigin(origin) != 0 {
		t.Errorf("Sphere and Rastrigin should vanish at the origin")
	}
	if Rastrigin([]float64{1}) <= 0 {
		t.Errorf("Rastrigin should be positive away from the origin")
	}
	if NegX([]float64{2.5, 9}) != -2.5 {
		t.Errorf("NegX should only depend on x[0]")
	}

	names := BenchmarkNames()
	if len(names) != 3 || names[0] != "negx" {
		t.Errorf("Unexpected benchmark names %v", names)
	}
	if _, err := Lookup("ackley"); err == nil {
		t.Error("Expected error for unknown benchmark")
	}
}
