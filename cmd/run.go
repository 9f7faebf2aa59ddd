package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cwbudde/picevolve/internal/config"
	"github.com/cwbudde/picevolve/internal/de"
	"github.com/cwbudde/picevolve/internal/goal"
	"github.com/cwbudde/picevolve/internal/metrics"
	"github.com/cwbudde/picevolve/internal/runner"
	"github.com/cwbudde/picevolve/internal/sim"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [namelist]",
	Short: "Start a new optimisation run",
	Long: `Starts a new optimisation run in --run-dir. Every candidate vector is
passed to the simulation as "x = array([...])" followed by the namelist.
The run stops on convergence, at --maxiter, when --max-sims is exhausted or
at the next generation boundary after SIGINT/SIGTERM; use resume to continue.`,
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{fileLogging: "true"},
	RunE:        runOptimisation,
}

func init() {
	def := config.Default()
	f := runCmd.Flags()

	f.StringArrayP("bound", "b", nil, `Bound "lower,upper"; once for all dimensions or once per dimension`)
	f.IntP("dims", "d", def.Dims, "Number of parameters")
	f.IntP("maxiter", "i", def.Solver.MaxIter, "Maximum number of generations")
	f.IntP("popsize", "p", def.Solver.PopSize, "Population size multiplier (members = dims * popsize)")
	f.String("strategy", def.Solver.Strategy, fmt.Sprintf("Mutation strategy %v", de.Strategies()))
	f.String("mutation", def.Solver.Mutation, `Differential weight "F" or dither range "min,max"`)
	f.Float64("recombination", def.Solver.Recombination, "Crossover probability")
	f.Float64("tol", def.Solver.Tol, "Relative convergence tolerance")
	f.Float64("atol", def.Solver.Atol, "Absolute convergence tolerance")
	f.String("init", def.Solver.Init, "Population initialisation (latinhypercube, random)")
	f.Uint64("seed", 0, "Random seed, 0 picks one and records it in the checkpoint")
	f.Int("max-sims", 0, "Simulation budget, 0 for unlimited")

	f.String("goal", def.Goal.Name, fmt.Sprintf("Goal function %v", goal.Names()))
	f.Int("diagnostic", def.Goal.Diagnostic, "Diagnostic number read by the goal function")
	f.Int("timestep", def.Goal.Timestep, "Diagnostic timestep, negative for the last")
	f.String("result-file", def.Goal.ResultFile, "File read by load-from-file")
	f.Duration("settle-delay", def.Goal.SettleDelay, "Wait before reading the result file")

	f.String("command", def.Simulation.Command, "Simulation executable")
	f.StringArray("arg", nil, "Argument passed to the executable before the namelist (repeatable)")
	f.Duration("poll", def.Simulation.PollInterval, "Interval between completion checks")
	f.Int("athreads", def.Simulation.AnalysisThreads, "Simulations analysed concurrently")
	f.Bool("keep-failed", false, "Keep scratch directories of failed simulations")
	f.String("scratch-dir", "", "Root of the per-simulation scratch directories (default run dir)")

	f.Int("workers", 0, "Concurrent simulations, 0 derives them from the MPI universe size")
	f.Int("usize", 0, "Universe size used when it cannot be detected")
	f.String("history", def.History, "History backend (sqlite, memory)")
	f.String("http", "", "Serve run status and metrics on this address")

	rootCmd.AddCommand(runCmd)
}

func runOptimisation(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if len(args) == 1 {
		cfg.Namelist = args[0]
	}

	if err := config.ApplyTopology(&cfg, sim.DetectTopology(os.Getenv), logger.Logger); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	r, err := runner.New(ctx, cfg, runner.Options{
		Logger:  logger.Logger,
		Metrics: m,
	})
	if err != nil {
		return err
	}
	defer closeRunner(r)

	logger.Info("Starting optimisation",
		"namelist", cfg.Namelist,
		"run_dir", cfg.RunDir,
		"goal", cfg.Goal.Name,
		"bounds", cfg.Bounds,
	)
	return execute(ctx, r, m, cfg.HTTPAddr)
}
