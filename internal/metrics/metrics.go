// Package metrics exposes optimisation progress as Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors of one optimisation process. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	simulations   *prometheus.CounterVec
	simDuration   prometheus.Histogram
	analysisWait  prometheus.Histogram
	inFlight      prometheus.Gauge
	generation    prometheus.Gauge
	bestFitness   prometheus.Gauge
	convergence   prometheus.Gauge
	cleanupFailed prometheus.Counter
	checkpoints   prometheus.Counter
}

// New creates the collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		simulations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "picevolve_simulations_total",
			Help: "Simulations run, by outcome.",
		}, []string{"status"}),
		simDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "picevolve_simulation_duration_seconds",
			Help:    "Wall time from launch to analysed result.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 16),
		}),
		analysisWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "picevolve_analysis_wait_seconds",
			Help:    "Time spent waiting for an analysis permit.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "picevolve_simulations_in_flight",
			Help: "Simulations currently running or being analysed.",
		}),
		generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "picevolve_generation",
			Help: "Last completed generation (-1 for the initial population).",
		}),
		bestFitness: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "picevolve_best_fitness",
			Help: "Fitness of the best population member.",
		}),
		convergence: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "picevolve_convergence",
			Help: "Relative spread of the population energies.",
		}),
		cleanupFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "picevolve_scratch_cleanup_failures_total",
			Help: "Scratch directories that could not be removed.",
		}),
		checkpoints: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "picevolve_checkpoints_total",
			Help: "Checkpoints written.",
		}),
	}
	m.registry.MustRegister(
		m.simulations, m.simDuration, m.analysisWait, m.inFlight,
		m.generation, m.bestFitness, m.convergence, m.cleanupFailed, m.checkpoints,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// SimulationStarted marks a simulation as in flight.
func (m *Metrics) SimulationStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

// SimulationFinished records the outcome of a simulation started earlier.
func (m *Metrics) SimulationFinished(status string, took time.Duration) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.simulations.WithLabelValues(status).Inc()
	m.simDuration.Observe(took.Seconds())
}

// AnalysisWaited records how long a worker waited for an analysis permit.
func (m *Metrics) AnalysisWaited(d time.Duration) {
	if m == nil {
		return
	}
	m.analysisWait.Observe(d.Seconds())
}

// CleanupFailed counts a scratch directory that could not be removed.
func (m *Metrics) CleanupFailed() {
	if m == nil {
		return
	}
	m.cleanupFailed.Inc()
}

// CheckpointWritten counts a checkpoint.
func (m *Metrics) CheckpointWritten() {
	if m == nil {
		return
	}
	m.checkpoints.Inc()
}

// GenerationComplete publishes the state after a generation.
func (m *Metrics) GenerationComplete(generation int, bestFitness, convergence float64) {
	if m == nil {
		return
	}
	m.generation.Set(float64(generation))
	m.bestFitness.Set(bestFitness)
	m.convergence.Set(convergence)
}
