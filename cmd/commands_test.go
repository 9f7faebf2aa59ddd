package main

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cwbudde/picevolve/internal/history"
	"github.com/cwbudde/picevolve/internal/opt"
	"github.com/cwbudde/picevolve/internal/runner"
	"github.com/cwbudde/picevolve/internal/store"
)

func TestShowHistory(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	h := history.NewSQLiteStore(filepath.Join(dir, runner.HistoryFile))
	if err := h.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	h.RecordGeneration(ctx, history.GenerationSummary{RunID: "run-1", Generation: -1, BestFitness: math.Inf(1), MeanFitness: math.Inf(1), Simulations: 4})
	h.RecordGeneration(ctx, history.GenerationSummary{RunID: "run-1", Generation: 0, BestFitness: -2.5, MeanFitness: -1, Simulations: 8})
	h.RecordEvaluation(ctx, history.Evaluation{RunID: "run-1", Generation: 0, Params: []float64{0.5}, Fitness: -2.5, Status: history.StatusOK, Duration: time.Second})
	if err := h.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	var out bytes.Buffer
	if err := showHistory(ctx, &out, dir, "", nil); err != nil {
		t.Fatalf("showHistory failed: %v", err)
	}
	for _, want := range []string{"Run: run-1", "init", "2.5"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("Output lacks %q:\n%s", want, out.String())
		}
	}

	out.Reset()
	gen := 0
	if err := showHistory(ctx, &out, dir, "run-1", &gen); err != nil {
		t.Fatalf("showHistory failed: %v", err)
	}
	if !strings.Contains(out.String(), history.StatusOK) || !strings.Contains(out.String(), "[0.5]") {
		t.Errorf("Unexpected evaluation listing:\n%s", out.String())
	}
}

func TestShowHistory_NoDatabase(t *testing.T) {
	var out bytes.Buffer
	if err := showHistory(context.Background(), &out, t.TempDir(), "", nil); err == nil {
		t.Error("Expected error without a history database")
	}
}

func TestTraceStatus(t *testing.T) {
	dir := t.TempDir()
	tw, err := store.NewTraceWriter(dir)
	if err != nil {
		t.Fatalf("NewTraceWriter failed: %v", err)
	}
	tw.Write(store.TraceEntry{RunID: "run-1", Generation: -1, Simulations: 4, Timestamp: time.Now()})
	tw.Write(store.TraceEntry{RunID: "run-1", Generation: 3, BestFitness: store.Finite(-1.25), Best: []float64{1.25}, Simulations: 16, Timestamp: time.Now()})
	if err := tw.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	var out bytes.Buffer
	if err := traceStatus(&out, dir); err != nil {
		t.Fatalf("traceStatus failed: %v", err)
	}
	for _, want := range []string{"Run: run-1", "Generation: 3", "Simulations: 16", "Best energy: 1.25"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("Output lacks %q:\n%s", want, out.String())
		}
	}
}

func TestRunBench(t *testing.T) {
	b, err := opt.Lookup("negx")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	optimizers, err := benchOptimizers("both", "best1bin", 20, 10, 1)
	if err != nil {
		t.Fatalf("benchOptimizers failed: %v", err)
	}

	var out bytes.Buffer
	if err := runBench(&out, b, 2, optimizers); err != nil {
		t.Fatalf("runBench failed: %v", err)
	}
	for _, want := range []string{"negx", "de", "mayfly"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("Output lacks %q:\n%s", want, out.String())
		}
	}

	if _, err := benchOptimizers("simplex", "best1bin", 1, 1, 1); err == nil {
		t.Error("Expected error for unknown optimizer")
	}
	if _, err := benchOptimizers("de", "nope", 1, 1, 1); err == nil {
		t.Error("Expected error for unknown strategy")
	}
}

func TestWriteConfigTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "picevolve.yaml")
	if err := writeConfigTemplate(path, false); err != nil {
		t.Fatalf("writeConfigTemplate failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !strings.Contains(string(data), "solver:") {
		t.Errorf("Template lacks solver section:\n%s", data)
	}

	if err := writeConfigTemplate(path, false); err == nil {
		t.Error("Expected error when the file exists")
	}
	if err := writeConfigTemplate(path, true); err != nil {
		t.Errorf("Overwrite with force failed: %v", err)
	}
}
