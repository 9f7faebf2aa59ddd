package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cwbudde/picevolve/internal/de"
	"github.com/cwbudde/picevolve/internal/metrics"
	"github.com/cwbudde/picevolve/internal/runner"
	"github.com/cwbudde/picevolve/internal/server"
)

// execute runs r to completion, serving its status on addr if set.
func execute(ctx context.Context, r *runner.Runner, m *metrics.Metrics, addr string) error {
	cfg := r.Solver().Config()
	tracker := server.NewTracker(
		r.RunID(),
		len(r.Solver().Bounds()),
		r.Solver().Size(),
		cfg.MaxIter,
		string(cfg.Strategy),
		r.Config().Goal.Name,
	)
	r.Observe(tracker)

	var srv *server.Server
	if addr != "" {
		srv = server.NewServer(addr, tracker,
			server.WithLogger(logger.Logger),
			server.WithHistory(r.History()),
			server.WithMetrics(m),
		)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Status server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Status server did not shut down cleanly", "error", err)
			}
		}()
	}

	tracker.Start()
	start := time.Now()
	result, err := r.Run(ctx)
	tracker.Finish(result, err)
	if err != nil {
		return err
	}

	printResult(result, time.Since(start))
	if result.Outcome == de.OutcomeInterrupted {
		fmt.Printf("Run %s interrupted; continue it with: picevolve resume --run-dir %s\n", r.RunID(), r.Config().RunDir)
	}
	return nil
}

func printResult(result de.Result, elapsed time.Duration) {
	fmt.Printf("Outcome:     %s\n", result.Outcome)
	fmt.Printf("Generation:  %d\n", result.Generation)
	fmt.Printf("Simulations: %d\n", result.Simulations)
	fmt.Printf("Best:        %v\n", result.Best)
	fmt.Printf("Energy:      %g\n", -result.BestFitness)
	fmt.Printf("Convergence: %g\n", result.Convergence)
	fmt.Printf("Elapsed:     %s\n", elapsed.Round(time.Millisecond))
}

func closeRunner(r *runner.Runner) {
	if err := r.Close(); err != nil {
		logger.Warn("Failed to close run resources", "error", err)
	}
}
