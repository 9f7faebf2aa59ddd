package history

import (
	"context"
	"slices"
	"sort"
	"sync"
)

// MemoryStore keeps history in process memory.
type MemoryStore struct {
	mu          sync.RWMutex
	evaluations map[string][]Evaluation
	generations map[string]map[int]GenerationSummary
	lastActive  map[string]int64
	seq         int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		evaluations: make(map[string][]Evaluation),
		generations: make(map[string]map[int]GenerationSummary),
		lastActive:  make(map[string]int64),
	}
}

func (s *MemoryStore) Init(context.Context) error { return nil }

func (s *MemoryStore) RecordEvaluation(_ context.Context, ev Evaluation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev.Params = slices.Clone(ev.Params)
	s.evaluations[ev.RunID] = append(s.evaluations[ev.RunID], ev)
	s.touch(ev.RunID)
	return nil
}

func (s *MemoryStore) RecordGeneration(_ context.Context, summary GenerationSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	gens, ok := s.generations[summary.RunID]
	if !ok {
		gens = make(map[int]GenerationSummary)
		s.generations[summary.RunID] = gens
	}
	summary.BestParams = slices.Clone(summary.BestParams)
	gens[summary.Generation] = summary
	s.touch(summary.RunID)
	return nil
}

func (s *MemoryStore) Evaluations(_ context.Context, runID string, generation int) ([]Evaluation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Evaluation
	for _, ev := range s.evaluations[runID] {
		if ev.Generation == generation {
			ev.Params = slices.Clone(ev.Params)
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *MemoryStore) Generations(_ context.Context, runID string) ([]GenerationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]GenerationSummary, 0, len(s.generations[runID]))
	for _, summary := range s.generations[runID] {
		summary.BestParams = slices.Clone(summary.BestParams)
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Generation < out[j].Generation })
	return out, nil
}

func (s *MemoryStore) Runs(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := make([]string, 0, len(s.lastActive))
	for id := range s.lastActive {
		runs = append(runs, id)
	}
	sort.Slice(runs, func(i, j int) bool { return s.lastActive[runs[i]] > s.lastActive[runs[j]] })
	return runs, nil
}

func (s *MemoryStore) touch(runID string) {
	s.seq++
	s.lastActive[runID] = s.seq
}
