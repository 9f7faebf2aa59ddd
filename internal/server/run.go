package server

import (
	"sync"
	"time"

	"github.com/cwbudde/picevolve/internal/de"
	"github.com/cwbudde/picevolve/internal/store"
)

// RunState represents the current state of the optimisation run
type RunState string

const (
	StatePending     RunState = "pending"
	StateRunning     RunState = "running"
	StateCompleted   RunState = "completed"
	StateInterrupted RunState = "interrupted"
	StateFailed      RunState = "failed"
)

// RunInfo describes the run being served. Infinite fitness values are
// reported as null.
type RunInfo struct {
	ID          string     `json:"id"`
	State       RunState   `json:"state"`
	Outcome     string     `json:"outcome,omitempty"`
	Dims        int        `json:"dims"`
	Members     int        `json:"members"`
	MaxIter     int        `json:"maxIter"`
	Strategy    string     `json:"strategy"`
	Goal        string     `json:"goal"`
	Generation  int        `json:"generation"`
	BestParams  []float64  `json:"bestParams,omitempty"`
	BestFitness *float64   `json:"bestFitness"`
	MeanFitness *float64   `json:"meanFitness"`
	Convergence *float64   `json:"convergence"`
	Simulations int        `json:"simulations"`
	StartTime   time.Time  `json:"startTime"`
	EndTime     *time.Time `json:"endTime,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Tracker follows one run. It implements de.Observer and broadcasts every
// generation to stream subscribers.
type Tracker struct {
	mu          sync.RWMutex
	run         RunInfo
	generations []de.GenerationReport
	broadcaster *EventBroadcaster
}

var _ de.Observer = (*Tracker)(nil)

// NewTracker creates a tracker for a pending run
func NewTracker(id string, dims, members, maxIter int, strategy, goalName string) *Tracker {
	return &Tracker{
		run: RunInfo{
			ID:         id,
			State:      StatePending,
			Dims:       dims,
			Members:    members,
			MaxIter:    maxIter,
			Strategy:   strategy,
			Goal:       goalName,
			Generation: de.InitGeneration,
			StartTime:  time.Now(),
		},
		broadcaster: NewEventBroadcaster(),
	}
}

// Start marks the run as running
func (t *Tracker) Start() {
	t.mu.Lock()
	t.run.State = StateRunning
	t.run.StartTime = time.Now()
	event := t.eventLocked()
	t.mu.Unlock()

	t.broadcaster.Broadcast(event)
}

// GenerationComplete records a finished generation.
func (t *Tracker) GenerationComplete(report de.GenerationReport) {
	t.mu.Lock()
	t.generations = append(t.generations, report)
	t.run.State = StateRunning
	t.run.Generation = report.Generation
	t.run.BestParams = report.Best
	t.run.BestFitness = store.Finite(report.BestFitness)
	t.run.MeanFitness = store.Finite(report.MeanFitness)
	t.run.Convergence = store.Finite(report.Convergence)
	t.run.Simulations = report.Simulations
	event := t.eventLocked()
	t.mu.Unlock()

	t.broadcaster.Broadcast(event)
}

// Finish records how the run ended. A nil error with an interrupted outcome
// leaves the run resumable.
func (t *Tracker) Finish(result de.Result, err error) {
	t.mu.Lock()
	now := time.Now()
	t.run.EndTime = &now
	switch {
	case err != nil:
		t.run.State = StateFailed
		t.run.Error = err.Error()
	case result.Outcome == de.OutcomeInterrupted:
		t.run.State = StateInterrupted
	default:
		t.run.State = StateCompleted
	}
	t.run.Outcome = string(result.Outcome)
	event := t.eventLocked()
	t.mu.Unlock()

	t.broadcaster.Broadcast(event)
}

// Run returns a copy of the current run state
func (t *Tracker) Run() RunInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	run := t.run
	run.BestParams = append([]float64(nil), t.run.BestParams...)
	return run
}

// Generations returns the reports received so far, oldest first
func (t *Tracker) Generations() []de.GenerationReport {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]de.GenerationReport(nil), t.generations...)
}

func (t *Tracker) eventLocked() ProgressEvent {
	return ProgressEvent{
		RunID:       t.run.ID,
		State:       t.run.State,
		Generation:  t.run.Generation,
		BestFitness: t.run.BestFitness,
		Convergence: t.run.Convergence,
		Simulations: t.run.Simulations,
		Timestamp:   time.Now(),
	}
}
