// Package sim evaluates parameter vectors by running the external PIC
// simulation once per vector in its own scratch directory.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cwbudde/picevolve/internal/de"
	"github.com/cwbudde/picevolve/internal/genlog"
	"github.com/cwbudde/picevolve/internal/goal"
	"github.com/cwbudde/picevolve/internal/history"
	"github.com/cwbudde/picevolve/internal/logging"
	"github.com/cwbudde/picevolve/internal/metrics"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// ParamsFile holds the parameter vector, one value per line, in every
// scratch directory.
const ParamsFile = "par_vec.txt"

// Defaults for Config.
const (
	DefaultPollInterval        = 5 * time.Second
	DefaultAnalysisConcurrency = 4
)

// Config describes how simulations are launched.
type Config struct {
	Command string   // executable, e.g. smilei_sub
	Args    []string // arguments placed before the namelist arguments
	// Prelude arguments come before the vector assignment, so the namelist
	// interpreter has array() in scope.
	Prelude  []string
	Namelist string

	ScratchRoot         string
	PollInterval        time.Duration
	AnalysisConcurrency int

	// KeepFailed leaves scratch directories of failed evaluations in place.
	KeepFailed bool
	// Bounds, when set, makes the dispatcher refuse vectors outside it.
	Bounds de.Bounds
	RunID  string
}

// DefaultPrelude makes numpy's array constructor available to the namelist.
var DefaultPrelude = []string{"from numpy import array"}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithSleep replaces time.Sleep in the completion poll loop.
func WithSleep(sleep func(time.Duration)) Option {
	return func(d *Dispatcher) { d.sleep = sleep }
}

// WithHistory records every evaluation in store.
func WithHistory(store history.Store) Option {
	return func(d *Dispatcher) { d.history = store }
}

// WithMetrics publishes simulation metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// Dispatcher implements de.Evaluator by running one simulation per call.
// It is safe for concurrent use: launches are serialised by a mutex and
// analysis is limited by a semaphore.
type Dispatcher struct {
	cfg      Config
	launcher Launcher
	goal     goal.Func
	log      *genlog.Log

	logger  *slog.Logger
	history history.Store
	metrics *metrics.Metrics
	sleep   func(time.Duration)

	launchMu  sync.Mutex
	analysis  *semaphore.Weighted
	removeAll func(string) error
}

var _ de.Evaluator = (*Dispatcher)(nil)

// NewDispatcher validates cfg and creates the scratch root.
func NewDispatcher(cfg Config, launcher Launcher, g goal.Func, log *genlog.Log, opts ...Option) (*Dispatcher, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("simulation command is required")
	}
	if cfg.Namelist == "" {
		return nil, fmt.Errorf("namelist is required")
	}
	if launcher == nil || g == nil || log == nil {
		return nil, fmt.Errorf("launcher, goal function and generation log are required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.AnalysisConcurrency <= 0 {
		cfg.AnalysisConcurrency = DefaultAnalysisConcurrency
	}
	if cfg.Prelude == nil {
		cfg.Prelude = DefaultPrelude
	}
	if cfg.ScratchRoot == "" {
		cfg.ScratchRoot = "."
	}
	if err := os.MkdirAll(cfg.ScratchRoot, 0755); err != nil {
		return nil, fmt.Errorf("create scratch root: %w", err)
	}

	d := &Dispatcher{
		cfg:       cfg,
		launcher:  launcher,
		goal:      g,
		log:       log,
		logger:    logging.Discard(),
		sleep:     time.Sleep,
		analysis:  semaphore.NewWeighted(int64(cfg.AnalysisConcurrency)),
		removeAll: os.RemoveAll,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Config returns the effective configuration.
func (d *Dispatcher) Config() Config { return d.cfg }

// Evaluate runs the simulation for x and returns its fitness. Simulation
// failures and missing output yield +Inf. Only failures to create the
// scratch directory or to append to the generation log are returned as
// errors. Once the process is launched ctx is no longer consulted.
func (d *Dispatcher) Evaluate(ctx context.Context, gen int, x []float64) (float64, error) {
	if d.cfg.Bounds != nil && !d.cfg.Bounds.Contains(x) {
		d.logger.Warn("Refusing to simulate infeasible vector", "params", x)
		return math.Inf(1), nil
	}

	start := time.Now()
	dir, err := d.createScratch(x)
	if err != nil {
		return 0, err
	}

	d.metrics.SimulationStarted()
	fitness, status := d.simulate(dir, x)
	d.metrics.SimulationFinished(status, time.Since(start))

	if err := d.log.Append(gen, x, -fitness); err != nil {
		if rmErr := d.cleanup(dir); rmErr != nil {
			d.logger.Warn("Scratch directory not removed", "error", rmErr)
		}
		return 0, fmt.Errorf("append to generation log: %w", err)
	}
	d.logger.Debug("Written results to generation file", "generation", gen)

	if d.history != nil {
		ev := history.Evaluation{
			RunID:      d.cfg.RunID,
			Generation: gen,
			Params:     x,
			Fitness:    fitness,
			Status:     status,
			Duration:   time.Since(start),
			ScratchDir: dir,
			Time:       time.Now(),
		}
		if err := d.history.RecordEvaluation(context.WithoutCancel(ctx), ev); err != nil {
			d.logger.Warn("Failed to record evaluation history", "error", err)
		}
	}

	if d.cfg.KeepFailed && status != history.StatusOK {
		d.logger.Info("Keeping scratch directory of failed simulation", "dir", dir)
	} else if err := d.cleanup(dir); err != nil {
		d.logger.Warn("Scratch directory not removed", "error", err)
		d.metrics.CleanupFailed()
	}
	d.logger.Debug("Attempted to remove temp dir", "dir", dir)

	return fitness, nil
}

// simulate launches the process, waits for it and applies the goal function.
func (d *Dispatcher) simulate(dir string, x []float64) (float64, string) {
	spec := LaunchSpec{
		Command: d.cfg.Command,
		Args:    d.args(x),
		Dir:     dir,
	}

	d.launchMu.Lock()
	d.logger.Debug("Starting simulation", "params", x, "dir", dir)
	proc, err := d.launcher.Launch(spec)
	d.launchMu.Unlock()
	if err != nil {
		d.logger.Error("Simulation failed to launch", "error", err, "dir", dir, "params", x)
		return math.Inf(1), history.StatusFailed
	}
	d.logger.Debug("Process spawned, waiting for completion", "dir", dir)

	for {
		done, err := proc.Exited()
		if done {
			if err != nil {
				d.logger.Error("Simulation exited with failure", "error", err, "dir", dir, "params", x)
				return math.Inf(1), history.StatusFailed
			}
			break
		}
		d.sleep(d.cfg.PollInterval)
	}

	waitStart := time.Now()
	// the permit is never cancelled, a finished simulation is always analysed
	_ = d.analysis.Acquire(context.Background(), 1)
	d.metrics.AnalysisWaited(time.Since(waitStart))
	fitness, err := d.goal.Reduce(dir)
	d.analysis.Release(1)

	if err != nil {
		status := history.StatusFailed
		var missing *goal.MissingDataError
		if errors.As(err, &missing) {
			status = history.StatusMissingData
		}
		d.logger.Error("Simulation analysis failed", "error", err, "dir", dir, "params", x)
		return math.Inf(1), status
	}
	if math.IsNaN(fitness) {
		d.logger.Error("Simulation analysis returned NaN", "goal", d.goal.Name(), "dir", dir, "params", x)
		return math.Inf(1), history.StatusMissingData
	}

	d.logger.Debug("Simulation finished", "fitness", fitness, "params", x)
	return fitness, history.StatusOK
}

// createScratch makes a fresh, uniquely named directory holding the vector.
func (d *Dispatcher) createScratch(x []float64) (string, error) {
	dir := filepath.Join(d.cfg.ScratchRoot, "sim-"+uuid.NewString())
	if err := os.Mkdir(dir, 0755); err != nil {
		return "", fmt.Errorf("create scratch directory: %w", err)
	}

	var b strings.Builder
	for _, v := range x {
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		b.WriteByte('\n')
	}
	if err := os.WriteFile(filepath.Join(dir, ParamsFile), []byte(b.String()), 0644); err != nil {
		if rmErr := d.cleanup(dir); rmErr != nil {
			d.logger.Warn("Scratch directory not removed", "error", rmErr)
		}
		return "", fmt.Errorf("write parameter file: %w", err)
	}
	return dir, nil
}

func (d *Dispatcher) cleanup(dir string) error {
	if err := d.removeAll(dir); err != nil {
		return &TransientStorageError{Path: dir, Err: err}
	}
	return nil
}

// args builds: Args... Prelude... "x = array([...])" <namelist>.
func (d *Dispatcher) args(x []float64) []string {
	namelist := d.cfg.Namelist
	if abs, err := filepath.Abs(namelist); err == nil {
		namelist = abs
	}
	args := make([]string, 0, len(d.cfg.Args)+len(d.cfg.Prelude)+2)
	args = append(args, d.cfg.Args...)
	args = append(args, d.cfg.Prelude...)
	args = append(args, VectorAssignment(x))
	return append(args, namelist)
}

// VectorAssignment renders x as a Python statement binding it to x. Every
// value carries a decimal point or exponent so the array is floating point.
func VectorAssignment(x []float64) string {
	parts := make([]string, len(x))
	for i, v := range x {
		s := strconv.FormatFloat(v, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eEnN") {
			s += ".0"
		}
		parts[i] = s
	}
	return "x = array([" + strings.Join(parts, ", ") + "])"
}
