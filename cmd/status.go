package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/cwbudde/picevolve/internal/server"
	"github.com/cwbudde/picevolve/internal/store"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the progress of a run",
	Long: `Queries the status server of a running optimisation when --server is
given. Otherwise the progress trace in --run-dir is read, which also works
for finished or interrupted runs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		serverURL, _ := cmd.Flags().GetString("server")
		if serverURL != "" {
			return serverStatus(cmd.Context(), cmd.OutOrStdout(), serverURL)
		}
		return traceStatus(cmd.OutOrStdout(), v.GetString("run_dir"))
	},
}

func init() {
	statusCmd.Flags().String("server", "", "Status server URL, e.g. http://localhost:8080")
	rootCmd.AddCommand(statusCmd)
}

func serverStatus(ctx context.Context, out io.Writer, url string) error {
	client := server.NewClient(url)
	status, err := client.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Run: %s\n", status.ID)
	fmt.Fprintf(out, "State: %s\n", status.State)
	if status.Outcome != "" {
		fmt.Fprintf(out, "Outcome: %s\n", status.Outcome)
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Configuration:")
	fmt.Fprintf(out, "  Goal: %s\n", status.Goal)
	fmt.Fprintf(out, "  Strategy: %s\n", status.Strategy)
	fmt.Fprintf(out, "  Dimensions: %d\n", status.Dims)
	fmt.Fprintf(out, "  Members: %d\n", status.Members)
	fmt.Fprintf(out, "  Max generations: %d\n", status.MaxIter)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Progress:")
	fmt.Fprintf(out, "  Generation: %s\n", formatGeneration(status.Generation))
	fmt.Fprintf(out, "  Simulations: %d\n", status.Simulations)
	if status.BestFitness != nil {
		fmt.Fprintf(out, "  Best energy: %g\n", -*status.BestFitness)
		fmt.Fprintf(out, "  Best: %v\n", status.BestParams)
	}
	if status.Convergence != nil {
		fmt.Fprintf(out, "  Convergence: %.4g\n", *status.Convergence)
	}
	elapsed := time.Duration(status.Elapsed * float64(time.Second))
	fmt.Fprintf(out, "  Elapsed: %s\n", elapsed.Round(time.Millisecond))

	if status.Error != "" {
		fmt.Fprintf(out, "\nError: %s\n", status.Error)
	}
	return nil
}

func traceStatus(out io.Writer, dir string) error {
	entries, err := store.ReadTrace(dir)
	if err != nil {
		return fmt.Errorf("no progress recorded in %s: %w", dir, err)
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No generations completed yet.")
		return nil
	}

	last := entries[len(entries)-1]
	fmt.Fprintf(out, "Run: %s\n", last.RunID)
	fmt.Fprintf(out, "Generation: %s (%s)\n", formatGeneration(last.Generation), last.Timestamp.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "Simulations: %d\n", last.Simulations)
	if last.BestFitness != nil {
		fmt.Fprintf(out, "Best energy: %g\n", -*last.BestFitness)
		fmt.Fprintf(out, "Best: %v\n", last.Best)
	}
	if last.Convergence != nil {
		fmt.Fprintf(out, "Convergence: %.4g\n", *last.Convergence)
	}
	if last.Converged {
		fmt.Fprintln(out, "Converged: yes")
	}
	return nil
}
