package de

import (
	"fmt"
	"slices"
)

// Population initialisation methods.
const (
	InitLatinHypercube = "latinhypercube"
	InitRandom         = "random"
)

// Mutation is the differential weight F. When Min < Max the weight is
// dithered: a new value is drawn uniformly from [Min, Max) once per generation.
type Mutation struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Dithered reports whether a new weight is drawn every generation.
func (m Mutation) Dithered() bool {
	return m.Min != m.Max
}

// Config holds the solver settings. It is part of every checkpoint.
type Config struct {
	Strategy      Strategy `json:"strategy"`
	MaxIter       int      `json:"maxIter"`
	PopSize       int      `json:"popSize"` // multiplier: members = dims * PopSize
	Tol           float64  `json:"tol"`
	Atol          float64  `json:"atol"`
	Mutation      Mutation `json:"mutation"`
	Recombination float64  `json:"recombination"`
	Seed          uint64   `json:"seed"` // 0 = derive from the clock and record it
	Init          string   `json:"init"`

	// MaxSimulations caps the total number of simulations (0 = unlimited).
	// A generation is only started if its full trial batch fits.
	MaxSimulations int `json:"maxSimulations,omitempty"`

	// Workers is the number of evaluations run concurrently.
	Workers int `json:"workers"`
}

// DefaultConfig mirrors the defaults the supervisor scripts used.
func DefaultConfig() Config {
	return Config{
		Strategy:      Best1Bin,
		MaxIter:       1000,
		PopSize:       15,
		Tol:           0.01,
		Atol:          0,
		Mutation:      Mutation{Min: 0.5, Max: 1},
		Recombination: 0.7,
		Init:          InitLatinHypercube,
		Workers:       1,
	}
}

// Validate checks every field independently of the problem dimension.
func (c Config) Validate() error {
	if _, err := ParseStrategy(string(c.Strategy)); err != nil {
		return &ConfigError{Field: "Strategy", Reason: err.Error()}
	}
	if c.MaxIter < 0 {
		return &ConfigError{Field: "MaxIter", Reason: "cannot be negative"}
	}
	if c.PopSize <= 0 {
		return &ConfigError{Field: "PopSize", Reason: "must be positive"}
	}
	if c.Tol < 0 {
		return &ConfigError{Field: "Tol", Reason: "cannot be negative"}
	}
	if c.Atol < 0 {
		return &ConfigError{Field: "Atol", Reason: "cannot be negative"}
	}
	if c.Mutation.Min < 0 || c.Mutation.Max >= 2 || c.Mutation.Min > c.Mutation.Max {
		return &ConfigError{
			Field:  "Mutation",
			Reason: fmt.Sprintf("need 0 <= min <= max < 2, got (%g, %g)", c.Mutation.Min, c.Mutation.Max),
		}
	}
	if c.Recombination < 0 || c.Recombination > 1 {
		return &ConfigError{Field: "Recombination", Reason: "must be in [0, 1]"}
	}
	if !slices.Contains([]string{InitLatinHypercube, InitRandom}, c.Init) {
		return &ConfigError{Field: "Init", Reason: fmt.Sprintf("unknown method %q", c.Init)}
	}
	if c.MaxSimulations < 0 {
		return &ConfigError{Field: "MaxSimulations", Reason: "cannot be negative"}
	}
	if c.Workers <= 0 {
		return &ConfigError{Field: "Workers", Reason: "must be positive"}
	}
	return nil
}

// ConfigError reports an invalid solver setting.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return "invalid solver config: " + e.Field + " " + e.Reason
}
