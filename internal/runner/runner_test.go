package runner

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cwbudde/picevolve/internal/config"
	"github.com/cwbudde/picevolve/internal/de"
	"github.com/cwbudde/picevolve/internal/genlog"
	"github.com/cwbudde/picevolve/internal/goal"
	"github.com/cwbudde/picevolve/internal/history"
	"github.com/cwbudde/picevolve/internal/sim"
	"github.com/cwbudde/picevolve/internal/store"
)

type exitedProcess struct{}

func (exitedProcess) Exited() (bool, error) { return true, nil }

// resultLauncher plays the simulation: it writes the negated first
// parameter to the result file, so the run maximises x[0].
type resultLauncher struct {
	launches atomic.Int32
}

func (l *resultLauncher) Launch(spec sim.LaunchSpec) (sim.Process, error) {
	l.launches.Add(1)
	raw, err := os.ReadFile(filepath.Join(spec.Dir, sim.ParamsFile))
	if err != nil {
		return nil, err
	}
	first := strings.SplitN(strings.TrimSpace(string(raw)), "\n", 2)[0]
	x, err := strconv.ParseFloat(first, 64)
	if err != nil {
		return nil, err
	}
	res := strconv.FormatFloat(-x, 'g', -1, 64)
	if err := os.WriteFile(filepath.Join(spec.Dir, "result"), []byte(res), 0644); err != nil {
		return nil, err
	}
	return exitedProcess{}, nil
}

func testConfig(dir string) config.Config {
	cfg := config.Default()
	cfg.RunDir = dir
	cfg.Namelist = "density.py"
	cfg.Dims = 2
	cfg.Bounds = []string{"0,3"}
	cfg.Workers = 3
	cfg.History = history.BackendMemory
	cfg.Solver.PopSize = 5
	cfg.Solver.Seed = 11
	cfg.Solver.Tol = 0
	cfg.Solver.MaxIter = 6
	cfg.Simulation.PollInterval = time.Millisecond
	cfg.Goal.Name = goal.LoadFromFile
	cfg.Goal.SettleDelay = 0
	return cfg
}

type observerFunc func(de.GenerationReport)

func (f observerFunc) GenerationComplete(r de.GenerationReport) { f(r) }

func TestRun_SimulationBudget(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.Solver.MaxSimulations = 20

	launcher := &resultLauncher{}
	r, err := New(context.Background(), cfg, Options{Launcher: launcher})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer r.Close()

	result, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Outcome != de.OutcomeBudgetExhausted {
		t.Errorf("Outcome = %s, want %s", result.Outcome, de.OutcomeBudgetExhausted)
	}
	if result.Generation != 0 || result.Simulations != 20 {
		t.Errorf("Expected to stop after generation 0 with 20 simulations, got %+v", result)
	}
	if n := launcher.launches.Load(); n != 20 {
		t.Errorf("Expected 20 launches, got %d", n)
	}

	for _, name := range []string{"solverinit.ckpt", "solver000.ckpt", "geninit.csv", "gen000.csv", store.TraceFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("Expected %s: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "solver001.ckpt")); !os.IsNotExist(err) {
		t.Errorf("solver001.ckpt should not exist, got %v", err)
	}

	entries, err := r.Log().Read(genlog.Init)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(entries) != 10 {
		t.Errorf("Expected 10 init log lines, got %d", len(entries))
	}
	for _, e := range entries {
		// the log records the maximised quantity
		if e.Energy != e.Params[0] {
			t.Errorf("Logged energy %v should equal x[0] = %v", e.Energy, e.Params[0])
		}
	}

	gens, err := r.History().Generations(context.Background(), r.RunID())
	if err != nil {
		t.Fatalf("Generations failed: %v", err)
	}
	if len(gens) != 2 || gens[0].Generation != de.InitGeneration || gens[1].Generation != 0 {
		t.Errorf("Unexpected generation history %+v", gens)
	}

	trace, err := store.ReadTrace(dir)
	if err != nil {
		t.Fatalf("ReadTrace failed: %v", err)
	}
	if len(trace) != 2 || trace[1].Simulations != 20 {
		t.Errorf("Unexpected trace %+v", trace)
	}
}

func TestNew_RefusesExistingRun(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.Solver.MaxIter = 1

	r, err := New(context.Background(), cfg, Options{Launcher: &resultLauncher{}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	r.Close()

	if _, err := New(context.Background(), cfg, Options{Launcher: &resultLauncher{}}); err == nil {
		t.Fatal("Expected New to refuse a run directory with checkpoints")
	}
}

func TestNew_RefusesLeftoverGenerationLog(t *testing.T) {
	dir := t.TempDir()
	stale := genlog.FormatLine([]float64{9, 9}, -123) + genlog.FormatLine([]float64{1, 1}, -1)
	path := filepath.Join(dir, genlog.Name(genlog.Init))
	if err := os.WriteFile(path, []byte(stale), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	launcher := &resultLauncher{}
	if _, err := New(context.Background(), testConfig(dir), Options{Launcher: launcher}); err == nil {
		t.Fatal("Expected New to refuse a run directory with generation logs")
	}
	if n := launcher.launches.Load(); n != 0 {
		t.Errorf("Expected no simulations, got %d", n)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(raw) != stale {
		t.Errorf("Generation log was modified:\n%s", raw)
	}
}

func TestResumeMatchesUninterruptedRun(t *testing.T) {
	ctx := context.Background()

	// reference run
	refDir := t.TempDir()
	ref, err := New(ctx, testConfig(refDir), Options{Launcher: &resultLauncher{}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	want, err := ref.Run(ctx)
	ref.Close()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// interrupted after generation 2
	dir := t.TempDir()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := observerFunc(func(r de.GenerationReport) {
		if r.Generation == 2 {
			cancel()
		}
	})
	first, err := New(ctx, testConfig(dir), Options{Launcher: &resultLauncher{}, Observers: []de.Observer{stop}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	partial, err := first.Run(runCtx)
	first.Close()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if partial.Outcome != de.OutcomeInterrupted || partial.Generation != 2 {
		t.Fatalf("Expected interruption after generation 2, got %+v", partial)
	}

	st, err := store.NewFSStore(dir, nil)
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	latest, err := st.Latest()
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	cp, err := st.Load(latest)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// a different worker count must not change the trajectory
	resumed, err := FromCheckpoint(ctx, cp, Options{Launcher: &resultLauncher{}, Workers: 1})
	if err != nil {
		t.Fatalf("FromCheckpoint failed: %v", err)
	}
	defer resumed.Close()
	if resumed.RunID() != first.RunID() {
		t.Errorf("Run ID changed across resume: %s != %s", resumed.RunID(), first.RunID())
	}
	got, err := resumed.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got.Generation != want.Generation || got.Simulations != want.Simulations {
		t.Errorf("Resumed run ended at gen %d/%d sims, want %d/%d",
			got.Generation, got.Simulations, want.Generation, want.Simulations)
	}
	if got.BestFitness != want.BestFitness {
		t.Errorf("BestFitness = %v, want %v", got.BestFitness, want.BestFitness)
	}
	for i := range want.Best {
		if got.Best[i] != want.Best[i] {
			t.Errorf("Best[%d] = %v, want %v", i, got.Best[i], want.Best[i])
		}
	}
}
