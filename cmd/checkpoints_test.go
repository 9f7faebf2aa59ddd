package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cwbudde/picevolve/internal/config"
	"github.com/cwbudde/picevolve/internal/de"
	"github.com/cwbudde/picevolve/internal/logging"
	"github.com/cwbudde/picevolve/internal/store"
)

func TestMain(m *testing.M) {
	logger = &logging.Logger{Logger: logging.Discard()}
	os.Exit(m.Run())
}

// saveCheckpoints writes one checkpoint per generation into dir.
func saveCheckpoints(t *testing.T, dir string, gens ...int) *store.FSStore {
	t.Helper()

	cfg := config.Default()
	cfg.Namelist = "density.py"
	cfg.Bounds = []string{"0,1"}
	solverCfg, err := cfg.SolverConfig()
	if err != nil {
		t.Fatalf("SolverConfig failed: %v", err)
	}
	bounds, _ := cfg.ResolveBounds()
	s, err := de.New(solverCfg, bounds, de.Objective(func(x []float64) float64 { return -x[0] }))
	if err != nil {
		t.Fatalf("de.New failed: %v", err)
	}
	if err := s.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	st, err := store.NewFSStore(dir, nil)
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	for _, gen := range gens {
		snap := s.Snapshot()
		snap.Generation = gen
		if err := st.Save(store.NewCheckpoint("run-1", cfg, snap)); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}
	return st
}

func infos(now time.Time, ages ...int) []store.CheckpointInfo {
	out := make([]store.CheckpointInfo, len(ages))
	for i, age := range ages {
		out[i] = store.CheckpointInfo{Generation: i - 1, Timestamp: now.AddDate(0, 0, -age)}
	}
	return out
}

func generations(infos []store.CheckpointInfo) []int {
	gens := make([]int, len(infos))
	for i, info := range infos {
		gens[i] = info.Generation
	}
	return gens
}

func TestSelectCheckpointsForDeletion_ByAge(t *testing.T) {
	// generations -1..3 aged 30, 10, 5, 1 and 20 days
	toDelete := selectCheckpointsForDeletion(infos(time.Now(), 30, 10, 5, 1, 20), 0, 7)

	got := generations(toDelete)
	// the newest generation is kept even though it is old
	if len(got) != 2 || got[0] != -1 || got[1] != 0 {
		t.Errorf("Expected generations [-1 0], got %v", got)
	}
}

func TestSelectCheckpointsForDeletion_ByCount(t *testing.T) {
	toDelete := selectCheckpointsForDeletion(infos(time.Now(), 4, 3, 2, 1, 0), 2, 0)

	got := generations(toDelete)
	if len(got) != 3 || got[0] != -1 || got[2] != 1 {
		t.Errorf("Expected generations [-1 0 1], got %v", got)
	}
}

func TestSelectCheckpointsForDeletion_Combined(t *testing.T) {
	// keep-last 4 only selects the init checkpoint, age adds generation 1
	toDelete := selectCheckpointsForDeletion(infos(time.Now(), 1, 1, 30, 1, 1), 4, 7)

	got := generations(toDelete)
	if len(got) != 2 || got[0] != -1 || got[1] != 1 {
		t.Errorf("Expected generations [-1 1], got %v", got)
	}
}

func TestSelectCheckpointsForDeletion_KeepsNewest(t *testing.T) {
	if got := selectCheckpointsForDeletion(infos(time.Now(), 100), 0, 1); len(got) != 0 {
		t.Errorf("The only checkpoint must be kept, got %v", generations(got))
	}
	if got := selectCheckpointsForDeletion(nil, 1, 1); got != nil {
		t.Errorf("Expected nothing to delete, got %v", got)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes    int64
		expected string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{1073741824, "1.0 GB"},
	}

	for _, tt := range tests {
		result := formatBytes(tt.bytes)
		if result != tt.expected {
			t.Errorf("formatBytes(%d) = %s, expected %s", tt.bytes, result, tt.expected)
		}
	}
}

func TestCheckpointsList_NoCheckpoints(t *testing.T) {
	var out bytes.Buffer
	if err := listCheckpoints(&out, t.TempDir()); err != nil {
		t.Fatalf("listCheckpoints failed: %v", err)
	}
	if !strings.Contains(out.String(), "No checkpoints found") {
		t.Errorf("Unexpected output: %s", out.String())
	}
}

func TestCheckpointsList_WithCheckpoints(t *testing.T) {
	dir := t.TempDir()
	saveCheckpoints(t, dir, store.InitGeneration, 0, 1)

	var out bytes.Buffer
	if err := listCheckpoints(&out, dir); err != nil {
		t.Fatalf("listCheckpoints failed: %v", err)
	}
	for _, want := range []string{"solverinit.ckpt", "solver001.ckpt", "init", "Run: run-1", "Total checkpoints: 3"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("Output lacks %q:\n%s", want, out.String())
		}
	}
}

func TestCheckpointsClean_NoFlags(t *testing.T) {
	var out bytes.Buffer
	if err := cleanCheckpoints(&out, strings.NewReader(""), t.TempDir(), 0, 0, false); err == nil {
		t.Error("Expected error when no flags specified")
	}
}

func TestCheckpointsClean_Aborted(t *testing.T) {
	dir := t.TempDir()
	saveCheckpoints(t, dir, store.InitGeneration, 0, 1)

	var out bytes.Buffer
	if err := cleanCheckpoints(&out, strings.NewReader("n\n"), dir, 1, 0, false); err != nil {
		t.Fatalf("cleanCheckpoints failed: %v", err)
	}
	if !strings.Contains(out.String(), "Aborted.") {
		t.Errorf("Expected abort, got:\n%s", out.String())
	}
	if _, err := os.Stat(filepath.Join(dir, "solverinit.ckpt")); err != nil {
		t.Errorf("Checkpoint should survive an aborted clean: %v", err)
	}
}

func TestCheckpointsClean_WithForce(t *testing.T) {
	dir := t.TempDir()
	st := saveCheckpoints(t, dir, store.InitGeneration, 0, 1, 2)

	var out bytes.Buffer
	if err := cleanCheckpoints(&out, strings.NewReader(""), dir, 2, 0, true); err != nil {
		t.Fatalf("cleanCheckpoints failed: %v", err)
	}

	remaining, err := st.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	got := generations(remaining)
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("Expected generations [1 2] to remain, got %v", got)
	}
	if !strings.Contains(out.String(), "Deleted 2 checkpoint(s), 0 failed.") {
		t.Errorf("Unexpected output:\n%s", out.String())
	}
}
