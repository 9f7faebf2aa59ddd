package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cwbudde/picevolve/internal/de"
	"github.com/cwbudde/picevolve/internal/opt"
	"github.com/spf13/cobra"
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Compare optimisers on analytic test functions",
	Long: `Runs differential evolution and/or the mayfly optimiser on an analytic
benchmark function. No simulations are launched; this is a quick way to
check how the solver settings behave.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		fn, _ := f.GetString("func")
		dims, _ := f.GetInt("dims")
		optimizer, _ := f.GetString("optimizer")
		maxIter, _ := f.GetInt("maxiter")
		popSize, _ := f.GetInt("popsize")
		seed, _ := f.GetInt64("seed")
		strategy, _ := f.GetString("strategy")

		b, err := opt.Lookup(fn)
		if err != nil {
			return err
		}
		optimizers, err := benchOptimizers(optimizer, strategy, maxIter, popSize, seed)
		if err != nil {
			return err
		}
		return runBench(cmd.OutOrStdout(), b, dims, optimizers)
	},
}

func init() {
	benchCmd.Flags().String("func", "sphere", "Benchmark function ("+strings.Join(opt.BenchmarkNames(), ", ")+")")
	benchCmd.Flags().Int("dims", 3, "Number of dimensions")
	benchCmd.Flags().String("optimizer", "both", "Optimiser to run (de, mayfly, both)")
	benchCmd.Flags().Int("maxiter", 200, "Maximum number of generations")
	benchCmd.Flags().Int("popsize", 15, "Population size (DE: multiplier per dimension)")
	benchCmd.Flags().Int64("seed", 42, "Random seed")
	benchCmd.Flags().String("strategy", string(de.Best1Bin), "DE mutation strategy")
	rootCmd.AddCommand(benchCmd)
}

func benchOptimizers(name, strategy string, maxIter, popSize int, seed int64) ([]opt.Optimizer, error) {
	newDE := func() (opt.Optimizer, error) {
		s, err := de.ParseStrategy(strategy)
		if err != nil {
			return nil, err
		}
		cfg := de.DefaultConfig()
		cfg.Strategy = s
		cfg.MaxIter = maxIter
		cfg.PopSize = popSize
		cfg.Seed = uint64(seed)
		return opt.NewDE(cfg), nil
	}
	// mayfly needs at least 20 individuals
	newMayfly := func() opt.Optimizer {
		return opt.NewMayfly(maxIter, max(popSize, 20), seed)
	}

	switch name {
	case "de":
		o, err := newDE()
		if err != nil {
			return nil, err
		}
		return []opt.Optimizer{o}, nil
	case "mayfly":
		return []opt.Optimizer{newMayfly()}, nil
	case "both":
		o, err := newDE()
		if err != nil {
			return nil, err
		}
		return []opt.Optimizer{o, newMayfly()}, nil
	default:
		return nil, fmt.Errorf("unknown optimizer %q (de, mayfly, both)", name)
	}
}

func runBench(out io.Writer, b opt.Benchmark, dims int, optimizers []opt.Optimizer) error {
	if dims < 1 {
		return fmt.Errorf("dims must be positive, got %d", dims)
	}

	fmt.Fprintf(out, "Benchmark: %s, %d dimensions, optimum %g\n\n", b.Name, dims, b.Optimum(dims))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "OPTIMIZER\tCOST\tERROR\tEVALUATIONS\tELAPSED")
	for _, o := range optimizers {
		start := time.Now()
		res, err := b.Run(o, dims)
		if err != nil {
			w.Flush()
			return fmt.Errorf("%s failed: %w", o.Name(), err)
		}
		fmt.Fprintf(w, "%s\t%.6g\t%.3g\t%d\t%s\n",
			o.Name(),
			res.Cost,
			res.Cost-b.Optimum(dims),
			res.Evaluations,
			time.Since(start).Round(time.Millisecond),
		)
		logger.Debug("Benchmark finished", "optimizer", o.Name(), "best", res.Best)
	}
	return w.Flush()
}
