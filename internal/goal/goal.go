// Package goal reduces the output of a finished simulation to a single
// fitness value. Fitness is minimised by the solver, so goal functions
// that maximise a physical quantity return its negation.
package goal

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cwbudde/picevolve/internal/logging"
)

// Func turns a simulation working directory into a fitness value.
type Func interface {
	Name() string
	Reduce(dir string) (float64, error)
}

// Names of the built-in goal functions.
const (
	MaxEnergy             = "max-energy"
	ScreenDepositedEnergy = "screen-deposited-energy"
	LoadFromFile          = "load-from-file"
)

// Options tunes the built-in goal functions. Zero values select defaults.
type Options struct {
	// Diagnostic is the number of the ParticleBinning or Screen diagnostic.
	Diagnostic int `mapstructure:"diagnostic" yaml:"diagnostic"`
	// Timestep selects the recorded timestep; negative means the last one.
	Timestep int `mapstructure:"timestep" yaml:"timestep"`
	// ResultFile is the file read by load-from-file, relative to the work dir.
	ResultFile string `mapstructure:"result_file" yaml:"result_file"`
	// SettleDelay is waited before reading ResultFile.
	SettleDelay time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`

	sleep func(time.Duration)
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		Timestep:    -1,
		ResultFile:  "result",
		SettleDelay: time.Second,
	}
}

type factory func(opts Options, logger *slog.Logger) Func

var registry = map[string]factory{
	MaxEnergy: func(opts Options, logger *slog.Logger) Func {
		return &maxEnergy{opts: opts, logger: logger}
	},
	ScreenDepositedEnergy: func(opts Options, logger *slog.Logger) Func {
		return &screenEnergy{opts: opts, logger: logger}
	},
	LoadFromFile: func(opts Options, logger *slog.Logger) Func {
		return &loadFile{opts: opts, logger: logger}
	},
}

// Names lists the registered goal functions in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New returns the goal function registered under name.
func New(name string, opts Options, logger *slog.Logger) (Func, error) {
	if name == "" {
		name = MaxEnergy
	}
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown goal function %q (want one of %v)", name, Names())
	}
	if opts.ResultFile == "" {
		opts.ResultFile = "result"
	}
	if opts.sleep == nil {
		opts.sleep = time.Sleep
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return f(opts, logger.With("goal", name)), nil
}

// MissingDataError is returned when a simulation left no usable output.
// The dispatcher maps it to an infinitely bad fitness.
type MissingDataError struct {
	Dir    string
	Reason string
}

func (e *MissingDataError) Error() string {
	return fmt.Sprintf("missing simulation data in %s: %s", e.Dir, e.Reason)
}

// Is lets errors.Is match any MissingDataError.
func (e *MissingDataError) Is(target error) bool {
	_, ok := target.(*MissingDataError)
	return ok
}
