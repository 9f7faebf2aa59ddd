// Package server exposes the state of a running optimisation over HTTP:
// run status, generation history, a server-sent event stream and the
// Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cwbudde/picevolve/internal/history"
	"github.com/cwbudde/picevolve/internal/logging"
	"github.com/cwbudde/picevolve/internal/metrics"
	"github.com/cwbudde/picevolve/internal/store"
)

// Server represents the HTTP server
type Server struct {
	tracker *Tracker
	history history.Store
	metrics *metrics.Metrics
	logger  *slog.Logger

	addr         string
	pingInterval time.Duration
	server       *http.Server
}

// Option customises a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithHistory serves generation and evaluation history from store.
func WithHistory(h history.Store) Option {
	return func(s *Server) { s.history = h }
}

// WithMetrics serves m on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates a new HTTP server
func NewServer(addr string, tracker *Tracker, opts ...Option) *Server {
	s := &Server{
		tracker:      tracker,
		addr:         addr,
		logger:       logging.Discard(),
		pingInterval: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/v1/run", s.handleRun)
	mux.HandleFunc("GET /api/v1/run/generations", s.handleGenerations)
	mux.HandleFunc("GET /api/v1/run/evaluations", s.handleEvaluations)
	mux.HandleFunc("GET /api/v1/run/stream", s.handleStream)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	return s.loggingMiddleware(s.corsMiddleware(mux))
}

// Start starts the HTTP server. It returns http.ErrServerClosed after
// Shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("Starting status server", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("Shutting down status server")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRun handles GET /api/v1/run
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	run := s.tracker.Run()

	var elapsed time.Duration
	if run.EndTime != nil {
		elapsed = run.EndTime.Sub(run.StartTime)
	} else {
		elapsed = time.Since(run.StartTime)
	}

	writeJSON(w, http.StatusOK, RunStatus{RunInfo: run, Elapsed: elapsed.Seconds()})
}

// GenerationResponse is one generation summary as served over HTTP.
type GenerationResponse struct {
	Generation  int       `json:"generation"`
	BestFitness *float64  `json:"bestFitness"`
	BestParams  []float64 `json:"bestParams"`
	MeanFitness *float64  `json:"meanFitness"`
	Spread      *float64  `json:"spread"`
	Convergence *float64  `json:"convergence"`
	Simulations int       `json:"simulations"`
}

// handleGenerations handles GET /api/v1/run/generations
func (s *Server) handleGenerations(w http.ResponseWriter, r *http.Request) {
	var out []GenerationResponse

	if s.history != nil {
		summaries, err := s.history.Generations(r.Context(), s.tracker.Run().ID)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to read history: %v", err), http.StatusInternalServerError)
			return
		}
		for _, g := range summaries {
			out = append(out, GenerationResponse{
				Generation:  g.Generation,
				BestFitness: store.Finite(g.BestFitness),
				BestParams:  g.BestParams,
				MeanFitness: store.Finite(g.MeanFitness),
				Spread:      store.Finite(g.Spread),
				Convergence: store.Finite(g.Convergence),
				Simulations: g.Simulations,
			})
		}
	} else {
		for _, g := range s.tracker.Generations() {
			out = append(out, GenerationResponse{
				Generation:  g.Generation,
				BestFitness: store.Finite(g.BestFitness),
				BestParams:  g.Best,
				MeanFitness: store.Finite(g.MeanFitness),
				Spread:      store.Finite(g.Spread),
				Convergence: store.Finite(g.Convergence),
				Simulations: g.Simulations,
			})
		}
	}

	if out == nil {
		out = []GenerationResponse{}
	}
	writeJSON(w, http.StatusOK, out)
}

// EvaluationResponse is one simulation as served over HTTP.
type EvaluationResponse struct {
	Params   []float64 `json:"params"`
	Fitness  *float64  `json:"fitness"`
	Status   string    `json:"status"`
	Duration float64   `json:"duration"`
}

// handleEvaluations handles GET /api/v1/run/evaluations?generation=N
func (s *Server) handleEvaluations(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.Error(w, "History not available", http.StatusNotFound)
		return
	}
	gen, err := strconv.Atoi(r.URL.Query().Get("generation"))
	if err != nil {
		http.Error(w, "generation must be an integer", http.StatusBadRequest)
		return
	}

	evals, err := s.history.Evaluations(r.Context(), s.tracker.Run().ID, gen)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to read history: %v", err), http.StatusInternalServerError)
		return
	}

	out := make([]EvaluationResponse, 0, len(evals))
	for _, ev := range evals {
		out = append(out, EvaluationResponse{
			Params:   ev.Params,
			Fitness:  store.Finite(ev.Fitness),
			Status:   ev.Status,
			Duration: ev.Duration.Seconds(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
