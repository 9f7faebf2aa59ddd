package main

import (
	"fmt"
	"log/slog"

	"github.com/cwbudde/picevolve/internal/config"
	"github.com/cwbudde/picevolve/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	configFile string
	logger     *logging.Logger
	v          *viper.Viper
)

// flagKeys maps flag names to configuration keys. Commands only bind the
// flags they define.
var flagKeys = map[string]string{
	"run-dir":       "run_dir",
	"scratch-dir":   "scratch_dir",
	"log-level":     "log_level",
	"dims":          "dims",
	"maxiter":       "solver.maxiter",
	"popsize":       "solver.popsize",
	"strategy":      "solver.strategy",
	"mutation":      "solver.mutation",
	"recombination": "solver.recombination",
	"tol":           "solver.tol",
	"atol":          "solver.atol",
	"init":          "solver.init",
	"seed":          "solver.seed",
	"max-sims":      "solver.max_simulations",
	"command":       "simulation.command",
	"poll":          "simulation.poll_interval",
	"athreads":      "simulation.analysis_threads",
	"keep-failed":   "simulation.keep_failed",
	"goal":          "goal.name",
	"diagnostic":    "goal.diagnostic",
	"timestep":      "goal.timestep",
	"result-file":   "goal.result_file",
	"settle-delay":  "goal.settle_delay",
	"workers":       "workers",
	"usize":         "usize",
	"history":       "history",
	"http":          "http",
}

// fileLogging marks commands that write main.log and debug.log into the run
// directory.
const fileLogging = "file-logging"

var rootCmd = &cobra.Command{
	Use:   "picevolve",
	Short: "Checkpointed differential evolution over PIC simulations",
	Long: `picevolve optimises the input parameters of particle-in-cell simulations
with differential evolution. Every candidate is evaluated by running the
simulation in its own scratch directory; the population is checkpointed after
every generation so interrupted runs can be resumed.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		v, err = config.NewViper(configFile)
		if err != nil {
			return err
		}
		if err := config.BindFlags(v, cmd.Flags(), flagKeys); err != nil {
			return err
		}

		opts := logging.Options{Level: logging.ParseLevel(v.GetString("log_level"))}
		if cmd.Annotations[fileLogging] == "true" {
			opts.Dir = v.GetString("run_dir")
		}
		logger, err = logging.New(opts)
		if err != nil {
			return fmt.Errorf("failed to set up logging: %w", err)
		}
		slog.SetDefault(logger.Logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML configuration file")
	rootCmd.PersistentFlags().String("log-level", "info", "Console log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("run-dir", ".", "Directory holding checkpoints, generation logs and history")
}

// loadConfig decodes the layered configuration. Repeatable flags are read
// directly since viper would split their values on commas.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return config.Config{}, err
	}
	if f := cmd.Flags().Lookup("bound"); f != nil && f.Changed {
		if cfg.Bounds, err = cmd.Flags().GetStringArray("bound"); err != nil {
			return config.Config{}, err
		}
	}
	if f := cmd.Flags().Lookup("arg"); f != nil && f.Changed {
		if cfg.Simulation.Args, err = cmd.Flags().GetStringArray("arg"); err != nil {
			return config.Config{}, err
		}
	}
	return cfg, nil
}
