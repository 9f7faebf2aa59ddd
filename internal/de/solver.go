package de

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/cwbudde/picevolve/internal/logging"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// InitGeneration is the generation number of the initial population.
const InitGeneration = -1

// Evaluator computes the fitness (to be minimised) of one parameter vector.
// gen is the generation the vector belongs to, InitGeneration for the
// initial population. A returned error aborts the run; evaluators are expected
// to absorb per-vector failures into a worst-case fitness themselves.
type Evaluator interface {
	Evaluate(ctx context.Context, gen int, x []float64) (float64, error)
}

// EvaluatorFunc adapts a function to the Evaluator interface.
type EvaluatorFunc func(ctx context.Context, gen int, x []float64) (float64, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, gen int, x []float64) (float64, error) {
	return f(ctx, gen, x)
}

// Objective adapts a plain objective function. It never fails.
func Objective(fn func(x []float64) float64) Evaluator {
	return EvaluatorFunc(func(_ context.Context, _ int, x []float64) (float64, error) {
		return fn(x), nil
	})
}

// Checkpointer persists a snapshot. It is called after the initial population
// is evaluated and after every generation, before the convergence test.
type Checkpointer interface {
	Checkpoint(snap Snapshot) error
}

// Observer is notified after each completed (and checkpointed) generation.
type Observer interface {
	GenerationComplete(report GenerationReport)
}

// GenerationReport summarises a completed generation.
type GenerationReport struct {
	Generation  int
	Best        []float64
	BestFitness float64
	MeanFitness float64
	Spread      float64
	Convergence float64
	Simulations int
	Converged   bool
}

// Outcome tells why Optimise stopped. None of them is an error.
type Outcome string

const (
	OutcomeConverged       Outcome = "converged"
	OutcomeGenerationLimit Outcome = "generation-limit"
	OutcomeBudgetExhausted Outcome = "simulation-budget"
	OutcomeInterrupted     Outcome = "interrupted"
)

// Result is returned by Optimise.
type Result struct {
	Outcome     Outcome
	Best        []float64
	BestFitness float64
	Generation  int
	Simulations int
	Convergence float64
}

// Option customises a Solver.
type Option func(*Solver)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *slog.Logger) Option {
	return func(s *Solver) { s.logger = l }
}

// WithCheckpointer sets where snapshots go.
func WithCheckpointer(c Checkpointer) Option {
	return func(s *Solver) { s.checkpointer = c }
}

// WithObserver registers a generation observer.
func WithObserver(o Observer) Option {
	return func(s *Solver) { s.observer = o }
}

// Solver is a differential evolution solver with deferred updating: a full
// trial population is built and evaluated before any member is replaced.
// The population is kept in the unit hypercube and scaled into the bounds
// when handed to the evaluator.
type Solver struct {
	cfg    Config
	bounds Bounds
	eval   Evaluator

	logger       *slog.Logger
	checkpointer Checkpointer
	observer     Observer

	src *rand.PCG
	rng *rand.Rand

	pop        [][]float64
	energies   []float64
	feasible   []bool
	generation int
	nfev       int
	scale      float64
	evaluated  bool
}

// New creates a solver with a freshly initialised population whose energies
// are all +Inf.
func New(cfg Config, bounds Bounds, eval Evaluator, opts ...Option) (*Solver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := bounds.Validate(); err != nil {
		return nil, err
	}
	if eval == nil {
		return nil, fmt.Errorf("evaluator cannot be nil")
	}

	size := len(bounds) * cfg.PopSize
	if need := cfg.Strategy.MinPopulation(); size < need {
		return nil, &ConfigError{
			Field:  "PopSize",
			Reason: fmt.Sprintf("%s needs at least %d members, dims*popsize gives %d", cfg.Strategy, need, size),
		}
	}

	if cfg.Seed == 0 {
		cfg.Seed = uint64(time.Now().UnixNano())
	}

	s := &Solver{
		cfg:        cfg,
		bounds:     append(Bounds(nil), bounds...),
		eval:       eval,
		logger:     logging.Discard(),
		generation: InitGeneration,
		scale:      cfg.Mutation.Min,
	}
	s.src = rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)
	s.rng = rand.New(s.src)

	for _, opt := range opts {
		opt(s)
	}

	switch cfg.Init {
	case InitRandom:
		s.pop = s.randomPopulation(size)
	default:
		s.pop = s.latinHypercube(size)
	}

	s.energies = make([]float64, size)
	s.feasible = make([]bool, size)
	for i := range s.energies {
		s.energies[i] = math.Inf(1)
	}

	return s, nil
}

// latinHypercube places exactly one sample per member in each of size equal
// strata of every dimension, with strata shuffled independently per dimension.
func (s *Solver) latinHypercube(size int) [][]float64 {
	dims := len(s.bounds)
	seg := 1.0 / float64(size)

	samples := make([][]float64, size)
	for i := range samples {
		samples[i] = make([]float64, dims)
		for j := range samples[i] {
			samples[i][j] = seg*s.rng.Float64() + float64(i)*seg
		}
	}

	pop := make([][]float64, size)
	for i := range pop {
		pop[i] = make([]float64, dims)
	}
	for j := 0; j < dims; j++ {
		order := s.rng.Perm(size)
		for i := range pop {
			pop[i][j] = samples[order[i]][j]
		}
	}
	return pop
}

func (s *Solver) randomPopulation(size int) [][]float64 {
	pop := make([][]float64, size)
	for i := range pop {
		pop[i] = make([]float64, len(s.bounds))
		for j := range pop[i] {
			pop[i][j] = s.rng.Float64()
		}
	}
	return pop
}

// Config returns the solver configuration, including the seed actually used.
func (s *Solver) Config() Config { return s.cfg }

// Bounds returns the problem bounds.
func (s *Solver) Bounds() Bounds { return append(Bounds(nil), s.bounds...) }

// Size is the number of population members.
func (s *Solver) Size() int { return len(s.pop) }

// Generation is the last completed generation, InitGeneration before any.
func (s *Solver) Generation() int { return s.generation }

// Simulations is the number of evaluations performed so far.
func (s *Solver) Simulations() int { return s.nfev }

// Best returns the parameters of population[0] scaled to the bounds.
func (s *Solver) Best() []float64 { return s.bounds.Scale(s.pop[0]) }

// BestFitness returns the fitness of population[0].
func (s *Solver) BestFitness() float64 { return s.energies[0] }

// Population returns every member scaled to the bounds.
func (s *Solver) Population() [][]float64 {
	out := make([][]float64, len(s.pop))
	for i, m := range s.pop {
		out[i] = s.bounds.Scale(m)
	}
	return out
}

// Energies returns a copy of the fitness values, index-aligned with Population.
func (s *Solver) Energies() []float64 {
	return append([]float64(nil), s.energies...)
}

// Prepare evaluates the initial population if it has not been evaluated yet
// and writes the init checkpoint. On a restored solver it only re-asserts
// that the best member sits at index 0.
func (s *Solver) Prepare(ctx context.Context) error {
	if s.evaluated {
		s.promoteLowestEnergy()
		s.logger.Info("Population already evaluated, skipping preparation", "generation", s.generation)
		return nil
	}

	s.logger.Info("Preparing initial population", "members", len(s.pop), "dims", len(s.bounds))

	if s.cfg.MaxSimulations > 0 && s.cfg.MaxSimulations < len(s.pop) {
		return &ConfigError{
			Field:  "MaxSimulations",
			Reason: fmt.Sprintf("budget %d cannot cover the initial population of %d", s.cfg.MaxSimulations, len(s.pop)),
		}
	}

	var idx []int
	var vectors [][]float64
	for i, m := range s.pop {
		x := s.bounds.Scale(m)
		s.feasible[i] = s.bounds.Contains(x)
		if s.feasible[i] {
			idx = append(idx, i)
			vectors = append(vectors, x)
		}
	}

	energies, err := s.evaluateBatch(ctx, InitGeneration, vectors)
	if err != nil {
		return fmt.Errorf("initial population: %w", err)
	}
	for k, i := range idx {
		s.energies[i] = energies[k]
	}

	s.promoteLowestEnergy()
	s.generation = InitGeneration
	s.evaluated = true

	if err := s.checkpoint(); err != nil {
		return err
	}

	s.logger.Info("Initial population complete",
		"best", s.Best(),
		"energy", -s.energies[0],
		"convergence", s.Convergence(),
	)
	return nil
}

// Optimise runs generations from Generation()+1 until convergence, the
// generation limit, the simulation budget or cancellation of ctx. The
// context is only consulted between generations; a started generation is
// always completed and checkpointed.
func (s *Solver) Optimise(ctx context.Context) (Result, error) {
	s.logger.Info("Beginning optimisation",
		"from_generation", s.generation+1,
		"max_iter", s.cfg.MaxIter,
		"strategy", s.cfg.Strategy,
	)

	outcome := OutcomeGenerationLimit
	for gen := s.generation + 1; gen < s.cfg.MaxIter; gen++ {
		if s.cfg.MaxSimulations > 0 && s.nfev+len(s.pop) > s.cfg.MaxSimulations {
			outcome = OutcomeBudgetExhausted
			break
		}
		if ctx.Err() != nil {
			outcome = OutcomeInterrupted
			break
		}

		if err := s.step(ctx, gen); err != nil {
			return Result{}, fmt.Errorf("generation %d: %w", gen, err)
		}
		if err := s.checkpoint(); err != nil {
			return Result{}, err
		}

		s.logger.Info("Generation complete",
			"generation", gen,
			"best", s.Best(),
			"energy", -s.energies[0],
			"convergence", s.Convergence(),
			"simulations", s.nfev,
		)

		converged := s.Converged()
		if s.observer != nil {
			s.observer.GenerationComplete(s.Report())
		}
		if converged {
			outcome = OutcomeConverged
			break
		}
	}

	result := s.result(outcome)

	s.logger.Info("Optimisation result",
		"best", result.Best,
		"energy", -result.BestFitness,
		"generation", result.Generation,
		"simulations", result.Simulations,
	)
	switch outcome {
	case OutcomeConverged:
		s.logger.Info("Solver converged", "generation", result.Generation, "convergence", result.Convergence)
	case OutcomeGenerationLimit:
		s.logger.Info("Solver exhausted the iteration limit", "max_iter", s.cfg.MaxIter)
	case OutcomeBudgetExhausted:
		s.logger.Info("Simulation budget exhausted", "simulations", s.nfev, "max_simulations", s.cfg.MaxSimulations)
	case OutcomeInterrupted:
		s.logger.Warn("Optimisation interrupted", "generation", result.Generation, "error", ctx.Err())
	}

	return result, nil
}

// step runs one generation: trials, evaluation, greedy selection, promotion.
func (s *Solver) step(ctx context.Context, gen int) error {
	if s.cfg.Mutation.Dithered() {
		s.scale = s.cfg.Mutation.Min + s.rng.Float64()*(s.cfg.Mutation.Max-s.cfg.Mutation.Min)
	} else {
		s.scale = s.cfg.Mutation.Min
	}

	trials := make([][]float64, len(s.pop))
	for i := range trials {
		trials[i] = s.crossover(i, s.mutate(i))
	}

	feasible := make([]bool, len(trials))
	energies := make([]float64, len(trials))
	var idx []int
	var vectors [][]float64
	for i, t := range trials {
		energies[i] = math.Inf(1)
		x := s.bounds.Scale(t)
		feasible[i] = s.bounds.Contains(x)
		if feasible[i] {
			idx = append(idx, i)
			vectors = append(vectors, x)
		}
	}

	results, err := s.evaluateBatch(ctx, gen, vectors)
	if err != nil {
		return err
	}
	for k, i := range idx {
		energies[i] = results[k]
	}

	for i := range trials {
		if accept(energies[i], feasible[i], s.energies[i], s.feasible[i]) {
			s.pop[i] = trials[i]
			s.energies[i] = energies[i]
			s.feasible[i] = feasible[i]
		}
	}

	s.promoteLowestEnergy()
	s.generation = gen
	return nil
}

// accept is the greedy per-member replacement rule. A feasible trial always
// beats an infeasible member and never loses to one. A NaN member is always
// replaced.
func accept(trial float64, trialFeasible bool, current float64, currentFeasible bool) bool {
	switch {
	case trialFeasible && !currentFeasible:
		return true
	case !trialFeasible && currentFeasible:
		return false
	default:
		return trial <= current || math.IsNaN(current)
	}
}

// evaluateBatch evaluates vectors concurrently with at most Workers in flight.
// Cancellation of ctx does not stop a batch once started.
func (s *Solver) evaluateBatch(ctx context.Context, gen int, vectors [][]float64) ([]float64, error) {
	out := make([]float64, len(vectors))
	if len(vectors) == 0 {
		return out, nil
	}

	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.SetLimit(s.cfg.Workers)

	for i, x := range vectors {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			f, err := s.eval.Evaluate(gctx, gen, x)
			if err != nil {
				return fmt.Errorf("evaluate %v: %w", x, err)
			}
			if math.IsNaN(f) {
				s.logger.Warn("Evaluation returned NaN, treating as infinite", "params", x)
				f = math.Inf(1)
			}
			out[i] = f
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	s.nfev += len(vectors)
	return out, nil
}

// promoteLowestEnergy swaps the best member into index 0.
func (s *Solver) promoteLowestEnergy() {
	best := floats.MinIdx(s.energies)
	if best == 0 {
		return
	}
	s.pop[0], s.pop[best] = s.pop[best], s.pop[0]
	s.energies[0], s.energies[best] = s.energies[best], s.energies[0]
	s.feasible[0], s.feasible[best] = s.feasible[best], s.feasible[0]
}

// Converged reports whether the spread of the population energies is within
// Atol + Tol*|mean|. A population with any infinite energy is not converged.
func (s *Solver) Converged() bool {
	if !allFinite(s.energies) {
		return false
	}
	mean, std := stat.PopMeanStdDev(s.energies, nil)
	return std <= s.cfg.Atol+s.cfg.Tol*math.Abs(mean)
}

// Convergence is the relative spread std/|mean| of the energies, for reporting.
func (s *Solver) Convergence() float64 {
	if !allFinite(s.energies) {
		return math.Inf(1)
	}
	mean, std := stat.PopMeanStdDev(s.energies, nil)
	return std / (math.Abs(mean) + machEps)
}

const machEps = 2.220446049250313e-16

func (s *Solver) checkpoint() error {
	if s.checkpointer == nil {
		return nil
	}
	if err := s.checkpointer.Checkpoint(s.Snapshot()); err != nil {
		return fmt.Errorf("checkpoint generation %d: %w", s.generation, err)
	}
	return nil
}

// Report summarises the current population.
func (s *Solver) Report() GenerationReport {
	r := GenerationReport{
		Generation:  s.generation,
		Best:        s.Best(),
		BestFitness: s.energies[0],
		Convergence: s.Convergence(),
		Simulations: s.nfev,
		Converged:   s.Converged(),
		MeanFitness: math.Inf(1),
		Spread:      math.Inf(1),
	}
	if allFinite(s.energies) {
		r.MeanFitness, r.Spread = stat.PopMeanStdDev(s.energies, nil)
	}
	return r
}

func (s *Solver) result(outcome Outcome) Result {
	return Result{
		Outcome:     outcome,
		Best:        s.Best(),
		BestFitness: s.energies[0],
		Generation:  s.generation,
		Simulations: s.nfev,
		Convergence: s.Convergence(),
	}
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsInf(x, 0) || math.IsNaN(x) {
			return false
		}
	}
	return true
}
