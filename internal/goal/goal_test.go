package goal

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeDiagnostic(t *testing.T, dir, kind string, n int, d Diagnostic) {
	t.Helper()
	raw, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if err := os.WriteFile(DiagnosticPath(dir, kind, n), raw, 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
}

func mustNew(t *testing.T, name string, opts Options) Func {
	t.Helper()
	g, err := New(name, opts, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return g
}

func TestNew_UnknownName(t *testing.T) {
	if _, err := New("max-density", DefaultOptions(), nil); err == nil {
		t.Error("Expected error for unknown goal")
	}
	g := mustNew(t, "", DefaultOptions())
	if g.Name() != MaxEnergy {
		t.Errorf("Default goal = %q, want %q", g.Name(), MaxEnergy)
	}
	if len(Names()) != 3 {
		t.Errorf("Expected 3 goals, got %v", Names())
	}
}

func TestMaxEnergy(t *testing.T) {
	dir := t.TempDir()
	writeDiagnostic(t, dir, "ParticleBinning", 0, Diagnostic{
		Centers: []float64{1, 2, 3, 4, 5},
		Timesteps: []Timestep{
			{Timestep: 0, Data: []float64{9, 0, 0, 0, 0}},
			{Timestep: 100, Data: []float64{7, 3, 0, 1, 0}},
		},
	})

	got, err := mustNew(t, MaxEnergy, DefaultOptions()).Reduce(dir)
	if err != nil {
		t.Fatalf("Reduce failed: %v", err)
	}
	if got != -4 {
		t.Errorf("Reduce = %v, want -4", got)
	}

	opts := DefaultOptions()
	opts.Timestep = 0
	got, err = mustNew(t, MaxEnergy, opts).Reduce(dir)
	if err != nil {
		t.Fatalf("Reduce failed: %v", err)
	}
	if got != -1 {
		t.Errorf("Reduce at timestep 0 = %v, want -1", got)
	}
}

func TestMaxEnergy_EmptySpectrum(t *testing.T) {
	dir := t.TempDir()
	writeDiagnostic(t, dir, "ParticleBinning", 0, Diagnostic{
		Centers:   []float64{1, 2},
		Timesteps: []Timestep{{Timestep: 10, Data: []float64{0, 0}}},
	})

	_, err := mustNew(t, MaxEnergy, DefaultOptions()).Reduce(dir)
	var missing *MissingDataError
	if !errors.As(err, &missing) {
		t.Fatalf("Expected MissingDataError, got %v", err)
	}
}

func TestMaxEnergy_MissingOutput(t *testing.T) {
	_, err := mustNew(t, MaxEnergy, DefaultOptions()).Reduce(t.TempDir())
	if !errors.Is(err, &MissingDataError{}) {
		t.Fatalf("Expected MissingDataError, got %v", err)
	}
}

func TestScreenDepositedEnergy(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.Diagnostic = 2
	writeDiagnostic(t, dir, "Screen", 2, Diagnostic{
		Centers: []float64{0, 1, 2},
		Timesteps: []Timestep{
			{Timestep: 0, Data: []float64{0, 0, 0}},
			{Timestep: 50, Data: []float64{0.5, 1.5, 2}},
		},
	})

	got, err := mustNew(t, ScreenDepositedEnergy, opts).Reduce(dir)
	if err != nil {
		t.Fatalf("Reduce failed: %v", err)
	}
	if got != -4 {
		t.Errorf("Reduce = %v, want -4", got)
	}

	opts.Timestep = 0
	if _, err := mustNew(t, ScreenDepositedEnergy, opts).Reduce(dir); !errors.Is(err, &MissingDataError{}) {
		t.Errorf("Expected MissingDataError for empty screen, got %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	var slept time.Duration
	opts := DefaultOptions()
	opts.sleep = func(d time.Duration) { slept += d }
	g := mustNew(t, LoadFromFile, opts)

	if _, err := g.Reduce(dir); !errors.Is(err, &MissingDataError{}) {
		t.Errorf("Expected MissingDataError for missing file, got %v", err)
	}

	os.WriteFile(filepath.Join(dir, "result"), []byte("  \n"), 0644)
	if _, err := g.Reduce(dir); !errors.Is(err, &MissingDataError{}) {
		t.Errorf("Expected MissingDataError for empty file, got %v", err)
	}

	os.WriteFile(filepath.Join(dir, "result"), []byte("nan\n"), 0644)
	if _, err := g.Reduce(dir); !errors.Is(err, &MissingDataError{}) {
		t.Errorf("Expected MissingDataError for NaN, got %v", err)
	}

	os.WriteFile(filepath.Join(dir, "result"), []byte("-12.5\n"), 0644)
	got, err := g.Reduce(dir)
	if err != nil {
		t.Fatalf("Reduce failed: %v", err)
	}
	if got != -12.5 {
		t.Errorf("Reduce = %v, want -12.5", got)
	}
	if slept != 4*time.Second {
		t.Errorf("Expected 4s of settle delay, got %v", slept)
	}
}
