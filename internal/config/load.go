package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/cwbudde/picevolve/internal/sim"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variables, e.g. PICEVOLVE_SOLVER_TOL.
const EnvPrefix = "PICEVOLVE"

// NewViper returns a viper instance preloaded with the defaults and reading
// PICEVOLVE_* environment variables. If file is set it is read as well.
func NewViper(file string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("run_dir", def.RunDir)
	v.SetDefault("scratch_dir", def.ScratchDir)
	v.SetDefault("dims", def.Dims)
	v.SetDefault("solver.strategy", def.Solver.Strategy)
	v.SetDefault("solver.maxiter", def.Solver.MaxIter)
	v.SetDefault("solver.popsize", def.Solver.PopSize)
	v.SetDefault("solver.tol", def.Solver.Tol)
	v.SetDefault("solver.atol", def.Solver.Atol)
	v.SetDefault("solver.mutation", def.Solver.Mutation)
	v.SetDefault("solver.recombination", def.Solver.Recombination)
	v.SetDefault("solver.init", def.Solver.Init)
	v.SetDefault("solver.seed", def.Solver.Seed)
	v.SetDefault("solver.max_simulations", def.Solver.MaxSimulations)
	v.SetDefault("simulation.command", def.Simulation.Command)
	v.SetDefault("simulation.prelude", def.Simulation.Prelude)
	v.SetDefault("simulation.poll_interval", def.Simulation.PollInterval)
	v.SetDefault("simulation.analysis_threads", def.Simulation.AnalysisThreads)
	v.SetDefault("simulation.keep_failed", def.Simulation.KeepFailed)
	v.SetDefault("goal.name", def.Goal.Name)
	v.SetDefault("goal.diagnostic", def.Goal.Diagnostic)
	v.SetDefault("goal.timestep", def.Goal.Timestep)
	v.SetDefault("goal.result_file", def.Goal.ResultFile)
	v.SetDefault("goal.settle_delay", def.Goal.SettleDelay)
	v.SetDefault("workers", def.Workers)
	v.SetDefault("usize", def.Usize)
	v.SetDefault("history", def.History)
	v.SetDefault("http", def.HTTPAddr)
	v.SetDefault("log_level", def.LogLevel)

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	return v, nil
}

// BindFlags binds flags to configuration keys. Flags not present in fs are
// skipped so commands can share one mapping.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) error {
	for flag, key := range keys {
		f := fs.Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}
	return nil
}

// Load decodes the configuration held by v.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode configuration: %w", err)
	}
	return cfg, nil
}

// ApplyTopology enforces that this process is the MPI root and derives the
// worker count when none is configured.
func ApplyTopology(cfg *Config, topo sim.Topology, logger *slog.Logger) error {
	if !topo.IsRoot() {
		logger.Error("Supervisor expected to be running at rank 0", "rank", topo.Rank, "source", topo.RankVar)
		return &ConfigurationError{Field: "rank", Reason: fmt.Sprintf("supervisor must run at rank 0, not %d", topo.Rank)}
	}
	if cfg.Workers > 0 {
		logger.Info("Using configured worker count", "workers", cfg.Workers)
		return nil
	}

	workers, source := topo.Workers(cfg.Usize)
	switch source {
	case sim.WorkersFromUniverse:
		logger.Info("Supervisor is running at rank 0", "universe", topo.Universe, "source", topo.UniverseVar)
	case sim.WorkersFromUsize:
		logger.Warn("Unable to determine universe size automatically, make sure usize has been set correctly", "usize", cfg.Usize)
	default:
		logger.Warn("Unable to determine universe size, sizing workers by CPU count", "workers", workers)
	}
	cfg.Workers = workers
	return nil
}

// WriteTemplate renders cfg as an annotated YAML document.
func WriteTemplate(w io.Writer, cfg Config) error {
	var doc yaml.Node
	if err := doc.Encode(cfg); err != nil {
		return fmt.Errorf("encode template: %w", err)
	}
	if doc.Kind == yaml.MappingNode {
		doc.HeadComment = "picevolve configuration\nEvery key can also be set as PICEVOLVE_<KEY> with dots replaced by underscores."
		comments := map[string]string{
			"bounds":  "either one \"lower,upper\" pair for all dimensions or one per dimension",
			"workers": "0 derives the worker count from the MPI universe size",
			"history": "memory or sqlite",
			"http":    "address of the status server, empty to disable",
		}
		for i := 0; i+1 < len(doc.Content); i += 2 {
			if c, ok := comments[doc.Content[i].Value]; ok {
				doc.Content[i].HeadComment = c
			}
		}
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return errors.Join(fmt.Errorf("write template: %w", err), enc.Close())
	}
	return enc.Close()
}
