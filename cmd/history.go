package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/cwbudde/picevolve/internal/history"
	"github.com/cwbudde/picevolve/internal/runner"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the recorded history of a run",
	Long: `Prints one line per generation from the SQLite history of the run in
--run-dir. With --generation every simulation of that generation is listed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, _ := cmd.Flags().GetString("run-id")
		var gen *int
		if cmd.Flags().Changed("generation") {
			g, _ := cmd.Flags().GetInt("generation")
			gen = &g
		}
		return showHistory(cmd.Context(), cmd.OutOrStdout(), v.GetString("run_dir"), runID, gen)
	},
}

func init() {
	historyCmd.Flags().String("run-id", "", "Run to show (default: most recently active)")
	historyCmd.Flags().Int("generation", 0, "List the simulations of this generation (-1 for the initial population)")
	rootCmd.AddCommand(historyCmd)
}

func showHistory(ctx context.Context, out io.Writer, dir, runID string, gen *int) error {
	path := filepath.Join(dir, runner.HistoryFile)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("no history database in %s: %w", dir, err)
	}

	h := history.NewSQLiteStore(path)
	if err := h.Init(ctx); err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer h.Close()

	if runID == "" {
		runs, err := h.Runs(ctx)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(out, "No runs recorded.")
			return nil
		}
		runID = runs[0]
	}
	fmt.Fprintf(out, "Run: %s\n\n", runID)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	if gen != nil {
		evals, err := h.Evaluations(ctx, runID, *gen)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "PARAMS\tENERGY\tSTATUS\tDURATION\tSCRATCH")
		for _, ev := range evals {
			fmt.Fprintf(w, "%v\t%s\t%s\t%s\t%s\n", ev.Params, formatEnergy(ev.Fitness), ev.Status, ev.Duration.Round(time.Millisecond), ev.ScratchDir)
		}
		return nil
	}

	gens, err := h.Generations(ctx, runID)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "GENERATION\tBEST ENERGY\tMEAN ENERGY\tCONVERGENCE\tSIMULATIONS\tBEST")
	for _, g := range gens {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.4g\t%d\t%v\n",
			formatGeneration(g.Generation),
			formatEnergy(g.BestFitness),
			formatEnergy(g.MeanFitness),
			g.Convergence,
			g.Simulations,
			g.BestParams,
		)
	}
	return nil
}
