// Package config holds the run configuration shared by the run and resume
// commands. A copy of it is stored in every checkpoint so a resumed run
// rebuilds exactly the same dispatcher and goal function.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cwbudde/picevolve/internal/de"
	"github.com/cwbudde/picevolve/internal/goal"
	"github.com/cwbudde/picevolve/internal/history"
	"github.com/cwbudde/picevolve/internal/sim"
)

// Config is the full configuration of an optimisation run.
type Config struct {
	RunDir     string `mapstructure:"run_dir" yaml:"run_dir"`
	ScratchDir string `mapstructure:"scratch_dir" yaml:"scratch_dir"`
	Namelist   string `mapstructure:"namelist" yaml:"namelist"`

	Dims int `mapstructure:"dims" yaml:"dims"`
	// Bounds holds "lower,upper" pairs: either one shared by every
	// dimension or exactly Dims of them.
	Bounds []string `mapstructure:"bounds" yaml:"bounds"`

	Solver     SolverConfig     `mapstructure:"solver" yaml:"solver"`
	Simulation SimulationConfig `mapstructure:"simulation" yaml:"simulation"`
	Goal       GoalConfig       `mapstructure:"goal" yaml:"goal"`

	// Workers is the number of concurrent simulations; 0 derives it from
	// the MPI universe size.
	Workers int `mapstructure:"workers" yaml:"workers"`
	Usize   int `mapstructure:"usize" yaml:"usize"`

	History  string `mapstructure:"history" yaml:"history"`
	HTTPAddr string `mapstructure:"http" yaml:"http"`
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
}

// SolverConfig mirrors de.Config in flag-friendly form.
type SolverConfig struct {
	Strategy       string  `mapstructure:"strategy" yaml:"strategy"`
	MaxIter        int     `mapstructure:"maxiter" yaml:"maxiter"`
	PopSize        int     `mapstructure:"popsize" yaml:"popsize"`
	Tol            float64 `mapstructure:"tol" yaml:"tol"`
	Atol           float64 `mapstructure:"atol" yaml:"atol"`
	Mutation       string  `mapstructure:"mutation" yaml:"mutation"` // "F" or "min,max"
	Recombination  float64 `mapstructure:"recombination" yaml:"recombination"`
	Init           string  `mapstructure:"init" yaml:"init"`
	Seed           uint64  `mapstructure:"seed" yaml:"seed"`
	MaxSimulations int     `mapstructure:"max_simulations" yaml:"max_simulations"`
}

// SimulationConfig describes how the simulation executable is started.
type SimulationConfig struct {
	Command         string        `mapstructure:"command" yaml:"command"`
	Args            []string      `mapstructure:"args" yaml:"args"`
	Prelude         []string      `mapstructure:"prelude" yaml:"prelude"`
	PollInterval    time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	AnalysisThreads int           `mapstructure:"analysis_threads" yaml:"analysis_threads"`
	KeepFailed      bool          `mapstructure:"keep_failed" yaml:"keep_failed"`
}

// GoalConfig selects and tunes the goal function.
type GoalConfig struct {
	Name         string `mapstructure:"name" yaml:"name"`
	goal.Options `mapstructure:",squash" yaml:",inline"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	solver := de.DefaultConfig()
	return Config{
		RunDir:     ".",
		ScratchDir: "",
		Dims:       1,
		Solver: SolverConfig{
			Strategy:      string(solver.Strategy),
			MaxIter:       solver.MaxIter,
			PopSize:       solver.PopSize,
			Tol:           solver.Tol,
			Atol:          solver.Atol,
			Mutation:      formatMutation(solver.Mutation),
			Recombination: solver.Recombination,
			Init:          solver.Init,
		},
		Simulation: SimulationConfig{
			Command:         "smilei_sub",
			Prelude:         sim.DefaultPrelude,
			PollInterval:    sim.DefaultPollInterval,
			AnalysisThreads: sim.DefaultAnalysisConcurrency,
		},
		Goal: GoalConfig{
			Name:    goal.MaxEnergy,
			Options: goal.DefaultOptions(),
		},
		History:  history.BackendSQLite,
		LogLevel: "info",
	}
}

// ConfigurationError reports an invalid or inconsistent setting. It is fatal.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Field + " " + e.Reason
}

// Is lets errors.Is match any ConfigurationError.
func (e *ConfigurationError) Is(target error) bool {
	_, ok := target.(*ConfigurationError)
	return ok
}

// ErrConfiguration matches every ConfigurationError with errors.Is.
var ErrConfiguration = &ConfigurationError{}

// Validate checks the configuration needed to start a new run.
func (c Config) Validate() error {
	if c.Namelist == "" {
		return &ConfigurationError{Field: "namelist", Reason: "is required"}
	}
	if c.Simulation.Command == "" {
		return &ConfigurationError{Field: "simulation.command", Reason: "cannot be empty"}
	}
	if c.Workers < 0 {
		return &ConfigurationError{Field: "workers", Reason: "cannot be negative"}
	}
	if c.Simulation.AnalysisThreads < 0 {
		return &ConfigurationError{Field: "simulation.analysis_threads", Reason: "cannot be negative"}
	}
	if c.History != "" && c.History != history.BackendMemory && c.History != history.BackendSQLite {
		return &ConfigurationError{Field: "history", Reason: fmt.Sprintf("unknown backend %q", c.History)}
	}
	if _, err := goal.New(c.Goal.Name, c.Goal.Options, nil); err != nil {
		return &ConfigurationError{Field: "goal.name", Reason: err.Error()}
	}
	bounds, err := c.ResolveBounds()
	if err != nil {
		return err
	}
	solver, err := c.SolverConfig()
	if err != nil {
		return err
	}
	if need := solver.Strategy.MinPopulation(); len(bounds)*solver.PopSize < need {
		return &ConfigurationError{
			Field:  "solver.popsize",
			Reason: fmt.Sprintf("%s needs at least %d members, got %d", solver.Strategy, need, len(bounds)*solver.PopSize),
		}
	}
	if solver.MaxSimulations > 0 && solver.MaxSimulations < len(bounds)*solver.PopSize {
		return &ConfigurationError{
			Field:  "solver.max_simulations",
			Reason: fmt.Sprintf("%d cannot cover the initial population of %d", solver.MaxSimulations, len(bounds)*solver.PopSize),
		}
	}
	return nil
}

// ResolveBounds expands the configured bounds to one per dimension. A single
// bound applies to every dimension; otherwise there must be exactly Dims.
func (c Config) ResolveBounds() (de.Bounds, error) {
	if c.Dims <= 0 {
		return nil, &ConfigurationError{Field: "dims", Reason: "must be positive"}
	}
	if len(c.Bounds) == 0 {
		return nil, &ConfigurationError{Field: "bounds", Reason: "at least one bound is required"}
	}

	parsed := make(de.Bounds, 0, len(c.Bounds))
	for _, s := range c.Bounds {
		b, err := ParseBound(s)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, b)
	}

	switch len(parsed) {
	case 1:
		return de.Uniform(parsed[0].Lower, parsed[0].Upper, c.Dims), nil
	case c.Dims:
		return parsed, nil
	default:
		return nil, &ConfigurationError{
			Field:  "bounds",
			Reason: fmt.Sprintf("must specify either a single bound or %d bounds, got %d", c.Dims, len(parsed)),
		}
	}
}

// ParseBound parses "lower,upper".
func ParseBound(s string) (de.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return de.Bound{}, &ConfigurationError{Field: "bounds", Reason: fmt.Sprintf("%q is not of the form lower,upper", s)}
	}
	lo, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return de.Bound{}, &ConfigurationError{Field: "bounds", Reason: fmt.Sprintf("invalid lower bound in %q", s)}
	}
	hi, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return de.Bound{}, &ConfigurationError{Field: "bounds", Reason: fmt.Sprintf("invalid upper bound in %q", s)}
	}
	if lo > hi {
		return de.Bound{}, &ConfigurationError{Field: "bounds", Reason: fmt.Sprintf("lower %g exceeds upper %g", lo, hi)}
	}
	return de.Bound{Lower: lo, Upper: hi}, nil
}

// ParseMutation parses "F" (constant) or "min,max" (dithered).
func ParseMutation(s string) (de.Mutation, error) {
	parts := strings.Split(s, ",")
	if len(parts) > 2 || strings.TrimSpace(s) == "" {
		return de.Mutation{}, &ConfigurationError{Field: "solver.mutation", Reason: fmt.Sprintf("%q is not F or min,max", s)}
	}
	vals := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return de.Mutation{}, &ConfigurationError{Field: "solver.mutation", Reason: fmt.Sprintf("invalid value in %q", s)}
		}
		vals[i] = v
	}
	if len(vals) == 1 {
		return de.Mutation{Min: vals[0], Max: vals[0]}, nil
	}
	return de.Mutation{Min: vals[0], Max: vals[1]}, nil
}

func formatMutation(m de.Mutation) string {
	if !m.Dithered() {
		return strconv.FormatFloat(m.Min, 'g', -1, 64)
	}
	return strconv.FormatFloat(m.Min, 'g', -1, 64) + "," + strconv.FormatFloat(m.Max, 'g', -1, 64)
}

// SolverConfig converts the solver section into a validated de.Config.
func (c Config) SolverConfig() (de.Config, error) {
	mutation, err := ParseMutation(c.Solver.Mutation)
	if err != nil {
		return de.Config{}, err
	}
	strategy, err := de.ParseStrategy(c.Solver.Strategy)
	if err != nil {
		return de.Config{}, &ConfigurationError{Field: "solver.strategy", Reason: err.Error()}
	}

	out := de.Config{
		Strategy:       strategy,
		MaxIter:        c.Solver.MaxIter,
		PopSize:        c.Solver.PopSize,
		Tol:            c.Solver.Tol,
		Atol:           c.Solver.Atol,
		Mutation:       mutation,
		Recombination:  c.Solver.Recombination,
		Seed:           c.Solver.Seed,
		Init:           c.Solver.Init,
		MaxSimulations: c.Solver.MaxSimulations,
		Workers:        max(1, c.Workers),
	}
	if err := out.Validate(); err != nil {
		return de.Config{}, &ConfigurationError{Field: "solver", Reason: err.Error()}
	}
	return out, nil
}

// DispatcherConfig converts the simulation section for sim.NewDispatcher.
func (c Config) DispatcherConfig(runID string, bounds de.Bounds) sim.Config {
	scratch := c.ScratchDir
	if scratch == "" {
		scratch = c.RunDir
	}
	return sim.Config{
		Command:             c.Simulation.Command,
		Args:                c.Simulation.Args,
		Prelude:             c.Simulation.Prelude,
		Namelist:            c.Namelist,
		ScratchRoot:         scratch,
		PollInterval:        c.Simulation.PollInterval,
		AnalysisConcurrency: c.Simulation.AnalysisThreads,
		KeepFailed:          c.Simulation.KeepFailed,
		Bounds:              bounds,
		RunID:               runID,
	}
}
