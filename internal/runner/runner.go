// Package runner wires a differential evolution solver to the simulation
// dispatcher, the generation log and the checkpoint, history and metrics
// stores. The same wiring serves new runs and runs restored from a
// checkpoint.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/cwbudde/picevolve/internal/config"
	"github.com/cwbudde/picevolve/internal/de"
	"github.com/cwbudde/picevolve/internal/genlog"
	"github.com/cwbudde/picevolve/internal/goal"
	"github.com/cwbudde/picevolve/internal/history"
	"github.com/cwbudde/picevolve/internal/logging"
	"github.com/cwbudde/picevolve/internal/metrics"
	"github.com/cwbudde/picevolve/internal/sim"
	"github.com/cwbudde/picevolve/internal/store"
	"github.com/google/uuid"
)

// HistoryFile is the SQLite history database inside the run directory.
const HistoryFile = "history.db"

// Options carries the transient resources that are never part of a
// checkpoint.
type Options struct {
	Logger   *slog.Logger
	Launcher sim.Launcher
	Sleep    func(time.Duration)
	Metrics  *metrics.Metrics

	// Observers are notified after every generation, and once after the
	// initial population is evaluated.
	Observers []de.Observer

	// Workers overrides the configured worker count when positive.
	Workers int
}

// Runner owns one optimisation run and the resources it uses.
type Runner struct {
	cfg    config.Config
	runID  string
	logger *slog.Logger

	solver     *de.Solver
	dispatcher *sim.Dispatcher
	log        *genlog.Log
	store      *store.FSStore
	history    history.Store
	trace      *store.TraceWriter
	metrics    *metrics.Metrics
	observers  []de.Observer
}

// New prepares a fresh run. It refuses a run directory that already holds
// checkpoints; those runs are continued with resume.
func New(ctx context.Context, cfg config.Config, opts Options) (*Runner, error) {
	if opts.Workers > 0 {
		cfg.Workers = opts.Workers
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := store.NewFSStore(cfg.RunDir, opts.Logger)
	if err != nil {
		return nil, err
	}
	if latest, err := st.Latest(); err == nil {
		existing, err := st.Load(latest)
		if err != nil {
			return nil, fmt.Errorf("run directory holds an unreadable checkpoint: %w", err)
		}
		if err := existing.IsCompatible(cfg); err != nil {
			return nil, fmt.Errorf("run directory %s holds a different run: %w", cfg.RunDir, err)
		}
		return nil, fmt.Errorf("run directory %s already holds run %s at %s; use resume to continue it",
			cfg.RunDir, existing.RunID, filepath.Base(latest))
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	// a run that crashed before its first checkpoint leaves logs behind
	gl, err := genlog.Open(cfg.RunDir)
	if err != nil {
		return nil, err
	}
	gens, err := gl.Generations()
	if err != nil {
		return nil, err
	}
	if len(gens) > 0 {
		return nil, fmt.Errorf("run directory %s holds generation logs without a checkpoint (%s); remove them or use another run directory",
			cfg.RunDir, genlog.Name(gens[0]))
	}

	bounds, err := cfg.ResolveBounds()
	if err != nil {
		return nil, err
	}
	solverCfg, err := cfg.SolverConfig()
	if err != nil {
		return nil, err
	}

	r, err := newRunner(ctx, cfg, uuid.NewString(), bounds, st, opts)
	if err != nil {
		return nil, err
	}

	r.solver, err = de.New(solverCfg, bounds, r.dispatcher, r.solverOptions()...)
	if err != nil {
		r.Close()
		return nil, err
	}
	// record the seed actually used so the configuration reproduces the run
	r.cfg.Solver.Seed = r.solver.Config().Seed

	r.logger.Info("Run created",
		"run_id", r.runID,
		"dims", len(bounds),
		"members", r.solver.Size(),
		"workers", solverCfg.Workers,
		"seed", r.cfg.Solver.Seed,
	)
	return r, nil
}

// FromCheckpoint rebuilds a run from a checkpoint. Only the worker count may
// differ from the checkpointed configuration.
func FromCheckpoint(ctx context.Context, cp *store.Checkpoint, opts Options) (*Runner, error) {
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	cfg := cp.Config
	if opts.Workers > 0 {
		cfg.Workers = opts.Workers
	}

	st, err := store.NewFSStore(cfg.RunDir, opts.Logger)
	if err != nil {
		return nil, err
	}
	r, err := newRunner(ctx, cfg, cp.RunID, cp.Solver.Bounds, st, opts)
	if err != nil {
		return nil, err
	}

	solverOpts := r.solverOptions()
	if opts.Workers > 0 {
		solverOpts = append(solverOpts, de.WithWorkers(opts.Workers))
	}
	r.solver, err = de.Restore(cp.Solver, r.dispatcher, solverOpts...)
	if err != nil {
		r.Close()
		return nil, err
	}

	r.logger.Info("Run restored from checkpoint",
		"run_id", r.runID,
		"generation", cp.Generation(),
		"simulations", cp.Solver.Simulations,
		"workers", r.solver.Config().Workers,
	)
	return r, nil
}

// newRunner opens every transient resource. On error everything opened so
// far is closed again.
func newRunner(ctx context.Context, cfg config.Config, runID string, bounds de.Bounds, st *store.FSStore, opts Options) (r *Runner, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.With("run_id", runID)

	r = &Runner{
		cfg:       cfg,
		runID:     runID,
		logger:    logger,
		store:     st,
		metrics:   opts.Metrics,
		observers: append([]de.Observer(nil), opts.Observers...),
	}
	defer func() {
		if err != nil {
			r.Close()
		}
	}()

	if r.log, err = genlog.Open(cfg.RunDir); err != nil {
		return nil, err
	}

	historyPath := ""
	if cfg.History == history.BackendSQLite {
		historyPath = filepath.Join(cfg.RunDir, HistoryFile)
	}
	if r.history, err = history.NewStore(cfg.History, historyPath); err != nil {
		return nil, err
	}
	if err = r.history.Init(ctx); err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}

	if r.trace, err = store.NewTraceWriter(cfg.RunDir); err != nil {
		return nil, err
	}

	g, err := goal.New(cfg.Goal.Name, cfg.Goal.Options, logger)
	if err != nil {
		return nil, err
	}

	launcher := opts.Launcher
	if launcher == nil {
		launcher = &sim.ExecLauncher{}
	}
	dispatcherOpts := []sim.Option{
		sim.WithLogger(logger),
		sim.WithHistory(r.history),
		sim.WithMetrics(opts.Metrics),
	}
	if opts.Sleep != nil {
		dispatcherOpts = append(dispatcherOpts, sim.WithSleep(opts.Sleep))
	}
	if r.dispatcher, err = sim.NewDispatcher(cfg.DispatcherConfig(runID, bounds), launcher, g, r.log, dispatcherOpts...); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Runner) solverOptions() []de.Option {
	return []de.Option{
		de.WithLogger(r.logger),
		de.WithCheckpointer(r),
		de.WithObserver(r),
	}
}

// Checkpoint implements de.Checkpointer.
func (r *Runner) Checkpoint(snap de.Snapshot) error {
	if err := r.store.Save(store.NewCheckpoint(r.runID, r.cfg, snap)); err != nil {
		return err
	}
	r.metrics.CheckpointWritten()
	return nil
}

// GenerationComplete implements de.Observer by fanning the report out to
// history, metrics, the progress trace and any extra observers.
func (r *Runner) GenerationComplete(report de.GenerationReport) {
	ctx := context.Background()
	summary := history.GenerationSummary{
		RunID:       r.runID,
		Generation:  report.Generation,
		BestFitness: report.BestFitness,
		BestParams:  report.Best,
		MeanFitness: report.MeanFitness,
		Spread:      report.Spread,
		Convergence: report.Convergence,
		Simulations: report.Simulations,
		Time:        time.Now(),
	}
	if err := r.history.RecordGeneration(ctx, summary); err != nil {
		r.logger.Warn("Failed to record generation history", "generation", report.Generation, "error", err)
	}

	r.metrics.GenerationComplete(report.Generation, report.BestFitness, report.Convergence)

	entry := store.TraceEntry{
		RunID:       r.runID,
		Generation:  report.Generation,
		BestFitness: store.Finite(report.BestFitness),
		Convergence: store.Finite(report.Convergence),
		Best:        report.Best,
		Simulations: report.Simulations,
		Converged:   report.Converged,
		Timestamp:   summary.Time,
	}
	if err := r.trace.Write(entry); err != nil {
		r.logger.Warn("Failed to write progress trace", "generation", report.Generation, "error", err)
	}

	for _, o := range r.observers {
		o.GenerationComplete(report)
	}
}

// Run evaluates the initial population if needed and optimises until the
// solver stops. Cancelling ctx stops the run at the next generation boundary.
func (r *Runner) Run(ctx context.Context) (de.Result, error) {
	prepared := r.solver.Simulations() > 0
	if err := r.solver.Prepare(ctx); err != nil {
		return de.Result{}, err
	}
	if !prepared {
		r.GenerationComplete(r.solver.Report())
	}
	return r.solver.Optimise(ctx)
}

// Observe adds an observer notified after every following generation.
func (r *Runner) Observe(o de.Observer) {
	r.observers = append(r.observers, o)
}

// Solver exposes the underlying solver.
func (r *Runner) Solver() *de.Solver { return r.solver }

// RunID identifies the run across resumes.
func (r *Runner) RunID() string { return r.runID }

// Config is the effective configuration, including the recorded seed.
func (r *Runner) Config() config.Config { return r.cfg }

// Store is the checkpoint store of the run directory.
func (r *Runner) Store() *store.FSStore { return r.store }

// Log is the generation log of the run directory.
func (r *Runner) Log() *genlog.Log { return r.log }

// History is the evaluation history of the run.
func (r *Runner) History() history.Store { return r.history }

// Close releases the history database and the progress trace.
func (r *Runner) Close() error {
	var errs []error
	if r.trace != nil {
		errs = append(errs, r.trace.Close())
		r.trace = nil
	}
	if r.history != nil {
		errs = append(errs, history.CloseIfSupported(r.history))
		r.history = nil
	}
	return errors.Join(errs...)
}
