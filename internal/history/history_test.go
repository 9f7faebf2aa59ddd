package history

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()

	out := make(map[string]Store)
	for _, kind := range []string{BackendMemory, BackendSQLite} {
		store, err := NewStore(kind, filepath.Join(t.TempDir(), "history.db"))
		if err != nil {
			t.Fatalf("NewStore(%s): %v", kind, err)
		}
		if err := store.Init(ctx); err != nil {
			t.Fatalf("init %s: %v", kind, err)
		}
		t.Cleanup(func() { _ = CloseIfSupported(store) })
		out[kind] = store
	}
	return out
}

func TestEvaluationsRoundTrip(t *testing.T) {
	ctx := context.Background()
	for kind, store := range backends(t) {
		t.Run(kind, func(t *testing.T) {
			now := time.Unix(1700000000, 0)
			evs := []Evaluation{
				{RunID: "r1", Generation: -1, Params: []float64{1, 2}, Fitness: -3, Status: StatusOK, Duration: time.Second, ScratchDir: "/tmp/a", Time: now},
				{RunID: "r1", Generation: 0, Params: []float64{3, 4}, Fitness: math.Inf(1), Status: StatusFailed, Time: now},
				{RunID: "r1", Generation: 0, Params: []float64{5, 6}, Fitness: -7.5, Status: StatusOK, Time: now},
				{RunID: "r2", Generation: 0, Params: []float64{9}, Fitness: 1, Status: StatusOK, Time: now},
			}
			for _, ev := range evs {
				if err := store.RecordEvaluation(ctx, ev); err != nil {
					t.Fatalf("record evaluation: %v", err)
				}
			}

			got, err := store.Evaluations(ctx, "r1", 0)
			if err != nil {
				t.Fatalf("evaluations: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("expected 2 evaluations, got %d", len(got))
			}
			if !math.IsInf(got[0].Fitness, 1) || got[0].Status != StatusFailed {
				t.Errorf("unexpected failed evaluation: %+v", got[0])
			}
			if got[1].Fitness != -7.5 || got[1].Params[1] != 6 {
				t.Errorf("unexpected evaluation: %+v", got[1])
			}

			initEvals, err := store.Evaluations(ctx, "r1", -1)
			if err != nil {
				t.Fatalf("evaluations: %v", err)
			}
			if len(initEvals) != 1 || initEvals[0].Duration != time.Second || initEvals[0].ScratchDir != "/tmp/a" {
				t.Errorf("unexpected init evaluations: %+v", initEvals)
			}
		})
	}
}

func TestGenerationsOrderedAndUpserted(t *testing.T) {
	ctx := context.Background()
	for kind, store := range backends(t) {
		t.Run(kind, func(t *testing.T) {
			for _, gen := range []int{2, 0, 1} {
				summary := GenerationSummary{
					RunID:       "run",
					Generation:  gen,
					BestFitness: -float64(gen),
					BestParams:  []float64{float64(gen)},
					MeanFitness: math.Inf(1),
					Simulations: 10 * (gen + 1),
					Time:        time.Unix(int64(gen), 0),
				}
				if err := store.RecordGeneration(ctx, summary); err != nil {
					t.Fatalf("record generation: %v", err)
				}
			}
			if err := store.RecordGeneration(ctx, GenerationSummary{RunID: "run", Generation: 1, BestFitness: -100, BestParams: []float64{7}}); err != nil {
				t.Fatalf("record generation: %v", err)
			}

			gens, err := store.Generations(ctx, "run")
			if err != nil {
				t.Fatalf("generations: %v", err)
			}
			if len(gens) != 3 {
				t.Fatalf("expected 3 generations, got %d", len(gens))
			}
			for i, g := range gens {
				if g.Generation != i {
					t.Errorf("generation %d at index %d", g.Generation, i)
				}
			}
			if gens[1].BestFitness != -100 {
				t.Errorf("expected upserted fitness -100, got %v", gens[1].BestFitness)
			}
			if !math.IsInf(gens[0].MeanFitness, 1) {
				t.Errorf("expected infinite mean to survive, got %v", gens[0].MeanFitness)
			}
		})
	}
}

func TestRuns(t *testing.T) {
	ctx := context.Background()
	for kind, store := range backends(t) {
		t.Run(kind, func(t *testing.T) {
			store.RecordEvaluation(ctx, Evaluation{RunID: "old", Params: []float64{1}, Time: time.Unix(10, 0)})
			store.RecordEvaluation(ctx, Evaluation{RunID: "new", Params: []float64{1}, Time: time.Unix(20, 0)})

			runs, err := store.Runs(ctx)
			if err != nil {
				t.Fatalf("runs: %v", err)
			}
			if len(runs) != 2 || runs[0] != "new" {
				t.Errorf("unexpected runs %v", runs)
			}
		})
	}
}

func TestNewStoreUnsupported(t *testing.T) {
	if _, err := NewStore("postgres", ""); err == nil {
		t.Fatal("expected error for unsupported backend")
	}
}

func TestSQLiteRequiresPath(t *testing.T) {
	if err := NewSQLiteStore("").Init(context.Background()); err == nil {
		t.Fatal("expected error for empty path")
	}
}
