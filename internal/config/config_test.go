package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cwbudde/picevolve/internal/de"
	"github.com/cwbudde/picevolve/internal/logging"
	"github.com/cwbudde/picevolve/internal/sim"
	"github.com/spf13/pflag"
)

func validConfig() Config {
	cfg := Default()
	cfg.Namelist = "density.py"
	cfg.Dims = 2
	cfg.Bounds = []string{"0,3"}
	return cfg
}

func TestResolveBounds(t *testing.T) {
	cfg := validConfig()
	bounds, err := cfg.ResolveBounds()
	if err != nil {
		t.Fatalf("ResolveBounds failed: %v", err)
	}
	if len(bounds) != 2 || bounds[1] != (de.Bound{Lower: 0, Upper: 3}) {
		t.Errorf("Single bound should apply to every dimension, got %v", bounds)
	}

	cfg.Bounds = []string{"0,1", "-2.5, 2.5"}
	bounds, err = cfg.ResolveBounds()
	if err != nil {
		t.Fatalf("ResolveBounds failed: %v", err)
	}
	if bounds[1].Lower != -2.5 || bounds[1].Upper != 2.5 {
		t.Errorf("Unexpected second bound %v", bounds[1])
	}
}

func TestResolveBounds_Errors(t *testing.T) {
	tests := []struct {
		name   string
		dims   int
		bounds []string
	}{
		{"count mismatch", 3, []string{"0,1", "0,2"}},
		{"no bounds", 2, nil},
		{"malformed", 1, []string{"0;1"}},
		{"not a number", 1, []string{"a,1"}},
		{"inverted", 1, []string{"2,1"}},
		{"no dims", 0, []string{"0,1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Dims = tt.dims
			cfg.Bounds = tt.bounds
			_, err := cfg.ResolveBounds()
			if !errors.Is(err, ErrConfiguration) {
				t.Errorf("Expected ConfigurationError, got %v", err)
			}
		})
	}
}

func TestParseMutation(t *testing.T) {
	m, err := ParseMutation("0.8")
	if err != nil || m.Dithered() || m.Min != 0.8 {
		t.Errorf("ParseMutation(0.8) = %+v, %v", m, err)
	}
	m, err = ParseMutation("0.5,1")
	if err != nil || !m.Dithered() || m.Max != 1 {
		t.Errorf("ParseMutation(0.5,1) = %+v, %v", m, err)
	}
	for _, bad := range []string{"", "a", "1,2,3"} {
		if _, err := ParseMutation(bad); err == nil {
			t.Errorf("Expected error for %q", bad)
		}
	}
}

func TestValidate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"namelist", func(c *Config) { c.Namelist = "" }},
		{"goal", func(c *Config) { c.Goal.Name = "max-density" }},
		{"strategy", func(c *Config) { c.Solver.Strategy = "best3bin" }},
		{"mutation", func(c *Config) { c.Solver.Mutation = "2.5" }},
		{"population", func(c *Config) { c.Dims = 1; c.Solver.PopSize = 3 }},
		{"budget", func(c *Config) { c.Solver.MaxSimulations = 5 }},
		{"history", func(c *Config) { c.History = "postgres" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrConfiguration) {
				t.Errorf("Expected ConfigurationError, got %v", err)
			}
		})
	}
}

func TestSolverConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Workers = 7
	cfg.Solver.Seed = 99
	sc, err := cfg.SolverConfig()
	if err != nil {
		t.Fatalf("SolverConfig failed: %v", err)
	}
	if sc.Workers != 7 || sc.Seed != 99 || sc.Strategy != de.Best1Bin {
		t.Errorf("Unexpected solver config %+v", sc)
	}
	if sc.Mutation != (de.Mutation{Min: 0.5, Max: 1}) {
		t.Errorf("Unexpected default mutation %+v", sc.Mutation)
	}
}

func TestLoad_FlagsEnvAndFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "picevolve.yaml")
	os.WriteFile(file, []byte(`
namelist: from-file.py
dims: 3
bounds: ["0,1"]
solver:
  popsize: 6
  tol: 0.5
simulation:
  poll_interval: 250ms
goal:
  name: load-from-file
  settle_delay: 2s
`), 0644)

	t.Setenv("PICEVOLVE_SOLVER_MAXITER", "42")

	v, err := NewViper(file)
	if err != nil {
		t.Fatalf("NewViper failed: %v", err)
	}

	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	fs.Float64("tol", 0.01, "")
	fs.Int("workers", 0, "")
	if err := BindFlags(v, fs, map[string]string{"tol": "solver.tol", "workers": "workers", "missing": "nope"}); err != nil {
		t.Fatalf("BindFlags failed: %v", err)
	}
	fs.Parse([]string{"--workers", "5"})

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Namelist != "from-file.py" || cfg.Dims != 3 || cfg.Solver.PopSize != 6 {
		t.Errorf("File values not applied: %+v", cfg)
	}
	if cfg.Solver.Tol != 0.5 {
		t.Errorf("Unchanged flag should not override file, tol = %v", cfg.Solver.Tol)
	}
	if cfg.Workers != 5 {
		t.Errorf("Flag not applied, workers = %d", cfg.Workers)
	}
	if cfg.Solver.MaxIter != 42 {
		t.Errorf("Env not applied, maxiter = %d", cfg.Solver.MaxIter)
	}
	if cfg.Simulation.PollInterval != 250*time.Millisecond {
		t.Errorf("Duration not decoded, got %v", cfg.Simulation.PollInterval)
	}
	if cfg.Goal.Name != "load-from-file" || cfg.Goal.SettleDelay != 2*time.Second {
		t.Errorf("Goal section not decoded: %+v", cfg.Goal)
	}
	if cfg.Goal.Timestep != -1 || cfg.Simulation.Command != "smilei_sub" {
		t.Errorf("Defaults lost: %+v", cfg)
	}
}

func TestApplyTopology(t *testing.T) {
	logger := logging.Discard()

	cfg := validConfig()
	err := ApplyTopology(&cfg, sim.Topology{Rank: 2, RankVar: "PMI_RANK"}, logger)
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("Expected ConfigurationError for non-root rank, got %v", err)
	}

	cfg = validConfig()
	if err := ApplyTopology(&cfg, sim.Topology{Universe: 17}, logger); err != nil {
		t.Fatalf("ApplyTopology failed: %v", err)
	}
	if cfg.Workers != 16 {
		t.Errorf("Expected 16 workers, got %d", cfg.Workers)
	}

	cfg = validConfig()
	cfg.Workers = 3
	if err := ApplyTopology(&cfg, sim.Topology{Universe: 17}, logger); err != nil {
		t.Fatalf("ApplyTopology failed: %v", err)
	}
	if cfg.Workers != 3 {
		t.Errorf("Configured workers should win, got %d", cfg.Workers)
	}
}

func TestWriteTemplate_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteTemplate(&buf, Default()); err != nil {
		t.Fatalf("WriteTemplate failed: %v", err)
	}
	if !strings.Contains(buf.String(), "# memory or sqlite") {
		t.Errorf("Template lacks comments:\n%s", buf.String())
	}

	file := filepath.Join(t.TempDir(), "picevolve.yaml")
	os.WriteFile(file, buf.Bytes(), 0644)
	v, err := NewViper(file)
	if err != nil {
		t.Fatalf("NewViper failed: %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	def := Default()
	if cfg.Solver != def.Solver || cfg.Goal.Name != def.Goal.Name || cfg.Simulation.PollInterval != def.Simulation.PollInterval {
		t.Errorf("Template does not load back to defaults: %+v", cfg)
	}
}
