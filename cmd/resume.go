package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/cwbudde/picevolve/internal/metrics"
	"github.com/cwbudde/picevolve/internal/resume"
	"github.com/cwbudde/picevolve/internal/runner"
	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume [checkpoint]",
	Short: "Continue a run from its newest checkpoint",
	Long: `Continues the run in --run-dir from the newest checkpoint, or from the
given checkpoint file. The run keeps the configuration it was started with;
only the worker count may be changed. Resuming is refused when the
generation log already holds the generation after the checkpoint, unless
--discard-partial archives that log first.`,
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{fileLogging: "true"},
	RunE:        runResume,
}

func init() {
	resumeCmd.Flags().Int("workers", 0, "Override the number of concurrent simulations")
	resumeCmd.Flags().Bool("discard-partial", false, "Archive the log of an interrupted generation and resume")
	resumeCmd.Flags().String("http", "", "Serve run status and metrics on this address")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	workers, _ := cmd.Flags().GetInt("workers")
	discard, _ := cmd.Flags().GetBool("discard-partial")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	opts := resume.Options{
		Options: runner.Options{
			Logger:  logger.Logger,
			Metrics: m,
			Workers: workers,
		},
		RunDir:         v.GetString("run_dir"),
		DiscardPartial: discard,
	}
	if len(args) == 1 {
		opts.Checkpoint = args[0]
	}

	r, err := resume.Prepare(ctx, opts)
	if err != nil {
		return err
	}
	defer closeRunner(r)

	addr := r.Config().HTTPAddr
	if cmd.Flags().Changed("http") {
		addr, _ = cmd.Flags().GetString("http")
	}
	return execute(ctx, r, m, addr)
}
