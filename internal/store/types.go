package store

import (
	"fmt"
	"slices"
	"time"

	"github.com/cwbudde/picevolve/internal/config"
	"github.com/cwbudde/picevolve/internal/de"
)

// FormatVersion is written into every checkpoint and checked on load.
const FormatVersion = 1

// InitGeneration identifies the checkpoint of the initial population.
const InitGeneration = de.InitGeneration

// Checkpoint is the complete resumable state of a run. Only serializable
// state is kept; the dispatcher, worker pool and loggers are rebuilt from
// Config when the checkpoint is loaded.
type Checkpoint struct {
	Version   int
	RunID     string
	Timestamp time.Time

	// Config is the configuration the run was started with.
	Config config.Config

	// Solver holds population, energies, counters and random state.
	Solver de.Snapshot
}

// CheckpointInfo contains metadata about a checkpoint without the population.
type CheckpointInfo struct {
	Path        string    `json:"path"`
	Generation  int       `json:"generation"`
	RunID       string    `json:"runId"`
	BestFitness float64   `json:"bestFitness"`
	Best        []float64 `json:"best"`
	Simulations int       `json:"simulations"`
	Members     int       `json:"members"`
	Timestamp   time.Time `json:"timestamp"`
	Size        int64     `json:"size"`
}

// NewCheckpoint wraps a solver snapshot for persistence.
func NewCheckpoint(runID string, cfg config.Config, snap de.Snapshot) *Checkpoint {
	return &Checkpoint{
		Version:   FormatVersion,
		RunID:     runID,
		Timestamp: time.Now(),
		Config:    cfg,
		Solver:    snap,
	}
}

// Generation is the generation the checkpoint was taken after.
func (c *Checkpoint) Generation() int {
	return c.Solver.Generation
}

// ToInfo converts a full Checkpoint to CheckpointInfo (metadata only).
func (c *Checkpoint) ToInfo(path string, size int64) CheckpointInfo {
	info := CheckpointInfo{
		Path:        path,
		Generation:  c.Solver.Generation,
		RunID:       c.RunID,
		Simulations: c.Solver.Simulations,
		Members:     len(c.Solver.Population),
		Timestamp:   c.Timestamp,
		Size:        size,
	}
	if len(c.Solver.Energies) > 0 {
		info.BestFitness = c.Solver.Energies[0]
		info.Best = c.Solver.Bounds.Scale(c.Solver.Population[0])
	}
	return info
}

// Validate checks if the checkpoint has valid data.
func (c *Checkpoint) Validate() error {
	if c.Version != FormatVersion {
		return &ValidationError{Field: "Version", Reason: fmt.Sprintf("unsupported format %d (want %d)", c.Version, FormatVersion)}
	}
	if c.RunID == "" {
		return &ValidationError{Field: "RunID", Reason: "cannot be empty"}
	}
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if err := c.Solver.Validate(); err != nil {
		return &ValidationError{Field: "Solver", Reason: err.Error()}
	}
	bounds, err := c.Config.ResolveBounds()
	if err != nil {
		return &ValidationError{Field: "Config", Reason: err.Error()}
	}
	if !slices.Equal(bounds, c.Solver.Bounds) {
		return &ValidationError{Field: "Config.Bounds", Reason: "do not match the solver bounds"}
	}
	return nil
}

// ValidationError represents a checkpoint validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// IsCompatible checks whether a run configured with cfg would continue the
// run stored in this checkpoint.
func (c *Checkpoint) IsCompatible(cfg config.Config) error {
	if c.Config.Namelist != cfg.Namelist {
		return &CompatibilityError{Field: "Namelist", Expected: c.Config.Namelist, Actual: cfg.Namelist}
	}
	if c.Config.Goal.Name != cfg.Goal.Name {
		return &CompatibilityError{Field: "Goal", Expected: c.Config.Goal.Name, Actual: cfg.Goal.Name}
	}
	bounds, err := cfg.ResolveBounds()
	if err != nil {
		return err
	}
	if len(bounds) != len(c.Solver.Bounds) {
		return &CompatibilityError{
			Field:    "Dims",
			Expected: fmt.Sprintf("%d", len(c.Solver.Bounds)),
			Actual:   fmt.Sprintf("%d", len(bounds)),
		}
	}
	if !slices.Equal(bounds, c.Solver.Bounds) {
		return &CompatibilityError{
			Field:    "Bounds",
			Expected: fmt.Sprintf("%v", c.Solver.Bounds),
			Actual:   fmt.Sprintf("%v", bounds),
		}
	}
	return nil
}

// CompatibilityError represents a checkpoint compatibility error.
type CompatibilityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CompatibilityError) Error() string {
	return "compatibility error: " + e.Field + " mismatch (expected " + e.Expected + ", got " + e.Actual + ")"
}
