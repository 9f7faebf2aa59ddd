// Package resume continues an optimisation run from its newest checkpoint.
//
// A checkpoint is written after every completed generation. If the log of the
// following generation already exists, the run was interrupted while that
// generation was being evaluated and the log holds evaluations the
// checkpoint knows nothing about. Resuming on top of it would mix two
// trajectories in one file, so it is refused unless the partial log is
// explicitly discarded.
package resume

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/cwbudde/picevolve/internal/de"
	"github.com/cwbudde/picevolve/internal/genlog"
	"github.com/cwbudde/picevolve/internal/logging"
	"github.com/cwbudde/picevolve/internal/runner"
	"github.com/cwbudde/picevolve/internal/store"
	"github.com/google/uuid"
)

// InconsistencyError reports a generation log newer than the checkpoint.
type InconsistencyError struct {
	Checkpoint string
	Generation int
	Log        string
}

func (e *InconsistencyError) Error() string {
	if e.Log == "" {
		return "checkpoint and generation log are inconsistent"
	}
	return fmt.Sprintf("checkpoint %s ends at generation %d but %s already exists; "+
		"remove it or resume with --discard-partial", filepath.Base(e.Checkpoint), e.Generation, e.Log)
}

// Is lets errors.Is match any InconsistencyError.
func (e *InconsistencyError) Is(target error) bool {
	_, ok := target.(*InconsistencyError)
	return ok
}

// ErrInconsistent matches every InconsistencyError with errors.Is.
var ErrInconsistent = &InconsistencyError{}

// Locate returns explicit if set, otherwise the newest checkpoint in st.
func Locate(st store.Store, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	return st.Latest()
}

// CheckConsistency fails with an InconsistencyError when log already holds
// the generation after the checkpoint.
func CheckConsistency(cp *store.Checkpoint, path string, log *genlog.Log) error {
	next := cp.Generation() + 1
	if !log.Exists(next) {
		return nil
	}
	return &InconsistencyError{
		Checkpoint: path,
		Generation: cp.Generation(),
		Log:        genlog.Name(next),
	}
}

// Options controls a resume.
type Options struct {
	runner.Options

	// RunDir holds the checkpoints and generation logs.
	RunDir string
	// Checkpoint is an explicit checkpoint path; empty selects the newest.
	Checkpoint string
	// DiscardPartial archives a generation log left by an interrupted
	// generation instead of refusing to resume.
	DiscardPartial bool
}

// Prepare locates, loads and checks the checkpoint and rebuilds the runner.
// The caller owns the returned runner and must close it.
func Prepare(ctx context.Context, opts Options) (*runner.Runner, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	st, err := store.NewFSStore(opts.RunDir, logger)
	if err != nil {
		return nil, err
	}
	path, err := Locate(st, opts.Checkpoint)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("no checkpoint to resume from in %s: %w", opts.RunDir, err)
		}
		return nil, err
	}
	cp, err := st.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Info("Checkpoint loaded",
		"path", path,
		"run_id", cp.RunID,
		"generation", cp.Generation(),
		"simulations", cp.Solver.Simulations,
	)

	// the run directory may have been moved since the checkpoint was written
	cp.Config.RunDir = filepath.Dir(path)

	log, err := genlog.Open(cp.Config.RunDir)
	if err != nil {
		return nil, err
	}
	if err := CheckConsistency(cp, path, log); err != nil {
		var inc *InconsistencyError
		if !opts.DiscardPartial || !errors.As(err, &inc) {
			return nil, err
		}
		archived, aerr := log.Archive(cp.Generation()+1, uuid.NewString())
		if aerr != nil {
			return nil, aerr
		}
		logger.Warn("Discarded partial generation log", "generation", cp.Generation()+1, "archived", archived)
	}

	return runner.FromCheckpoint(ctx, cp, opts.Options)
}

// Resume continues the run until the solver stops again.
func Resume(ctx context.Context, opts Options) (de.Result, error) {
	r, err := Prepare(ctx, opts)
	if err != nil {
		return de.Result{}, err
	}
	defer closeRunner(r, opts.Logger)
	return r.Run(ctx)
}

func closeRunner(r *runner.Runner, logger *slog.Logger) {
	if err := r.Close(); err != nil && logger != nil {
		logger.Warn("Failed to close run resources", "error", err)
	}
}
