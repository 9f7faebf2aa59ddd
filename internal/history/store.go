// Package history records every simulation evaluation and a summary of every
// generation, for later inspection with the history command and the status
// server.
package history

import (
	"context"
	"time"
)

// Evaluation status values.
const (
	StatusOK          = "ok"
	StatusFailed      = "failed"
	StatusMissingData = "missing-data"
)

// Evaluation is one simulation and its outcome.
type Evaluation struct {
	RunID      string        `json:"runId"`
	Generation int           `json:"generation"`
	Params     []float64     `json:"params"`
	Fitness    float64       `json:"fitness"`
	Status     string        `json:"status"`
	Duration   time.Duration `json:"duration"`
	ScratchDir string        `json:"scratchDir"`
	Time       time.Time     `json:"time"`
}

// GenerationSummary describes the population after a completed generation.
type GenerationSummary struct {
	RunID       string    `json:"runId"`
	Generation  int       `json:"generation"`
	BestFitness float64   `json:"bestFitness"`
	BestParams  []float64 `json:"bestParams"`
	MeanFitness float64   `json:"meanFitness"`
	Spread      float64   `json:"spread"`
	Convergence float64   `json:"convergence"`
	Simulations int       `json:"simulations"`
	Time        time.Time `json:"time"`
}

// Store persists evaluations and generation summaries.
type Store interface {
	Init(ctx context.Context) error
	RecordEvaluation(ctx context.Context, ev Evaluation) error
	RecordGeneration(ctx context.Context, summary GenerationSummary) error
	// Evaluations returns the evaluations of one generation in insertion order.
	Evaluations(ctx context.Context, runID string, generation int) ([]Evaluation, error)
	// Generations returns all summaries of a run ordered by generation.
	Generations(ctx context.Context, runID string) ([]GenerationSummary, error)
	// Runs lists known run IDs, most recently active first.
	Runs(ctx context.Context) ([]string, error)
}
