package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps history in a SQLite database next to the run.
type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}
	// workers record concurrently; one connection serialises writers
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}
	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`PRAGMA busy_timeout = 5000`,
		`CREATE TABLE IF NOT EXISTS evaluations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			generation INTEGER NOT NULL,
			params TEXT NOT NULL,
			fitness REAL,
			status TEXT NOT NULL,
			duration_ns INTEGER NOT NULL,
			scratch_dir TEXT NOT NULL,
			recorded_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS evaluations_run_gen ON evaluations (run_id, generation)`,
		`CREATE TABLE IF NOT EXISTS generations (
			run_id TEXT NOT NULL,
			generation INTEGER NOT NULL,
			best_fitness REAL,
			best_params TEXT NOT NULL,
			mean_fitness REAL,
			spread REAL,
			convergence REAL,
			simulations INTEGER NOT NULL,
			recorded_at INTEGER NOT NULL,
			PRIMARY KEY (run_id, generation)
		)`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create history schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) RecordEvaluation(ctx context.Context, ev Evaluation) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	params, err := json.Marshal(ev.Params)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO evaluations (run_id, generation, params, fitness, status, duration_ns, scratch_dir, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.RunID, ev.Generation, string(params), finite(ev.Fitness), ev.Status,
		int64(ev.Duration), ev.ScratchDir, ev.Time.UnixNano())
	return err
}

func (s *SQLiteStore) RecordGeneration(ctx context.Context, summary GenerationSummary) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	params, err := json.Marshal(summary.BestParams)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO generations (run_id, generation, best_fitness, best_params, mean_fitness, spread, convergence, simulations, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, generation) DO UPDATE SET
			best_fitness = excluded.best_fitness,
			best_params = excluded.best_params,
			mean_fitness = excluded.mean_fitness,
			spread = excluded.spread,
			convergence = excluded.convergence,
			simulations = excluded.simulations,
			recorded_at = excluded.recorded_at
	`, summary.RunID, summary.Generation, finite(summary.BestFitness), string(params),
		finite(summary.MeanFitness), finite(summary.Spread), finite(summary.Convergence),
		summary.Simulations, summary.Time.UnixNano())
	return err
}

func (s *SQLiteStore) Evaluations(ctx context.Context, runID string, generation int) ([]Evaluation, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT params, fitness, status, duration_ns, scratch_dir, recorded_at
		FROM evaluations WHERE run_id = ? AND generation = ? ORDER BY id
	`, runID, generation)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Evaluation
	for rows.Next() {
		var (
			params   string
			fitness  sql.NullFloat64
			duration int64
			at       int64
		)
		ev := Evaluation{RunID: runID, Generation: generation}
		if err := rows.Scan(&params, &fitness, &ev.Status, &duration, &ev.ScratchDir, &at); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(params), &ev.Params); err != nil {
			return nil, fmt.Errorf("decode evaluation params: %w", err)
		}
		ev.Fitness = orInf(fitness)
		ev.Duration = time.Duration(duration)
		ev.Time = time.Unix(0, at)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Generations(ctx context.Context, runID string) ([]GenerationSummary, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT generation, best_fitness, best_params, mean_fitness, spread, convergence, simulations, recorded_at
		FROM generations WHERE run_id = ? ORDER BY generation
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GenerationSummary
	for rows.Next() {
		var (
			best, mean, spread, conv sql.NullFloat64
			params                   string
			at                       int64
		)
		summary := GenerationSummary{RunID: runID}
		if err := rows.Scan(&summary.Generation, &best, &params, &mean, &spread, &conv, &summary.Simulations, &at); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(params), &summary.BestParams); err != nil {
			return nil, fmt.Errorf("decode generation params: %w", err)
		}
		summary.BestFitness = orInf(best)
		summary.MeanFitness = orInf(mean)
		summary.Spread = orInf(spread)
		summary.Convergence = orInf(conv)
		summary.Time = time.Unix(0, at)
		out = append(out, summary)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Runs(ctx context.Context) ([]string, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT run_id FROM (
			SELECT run_id, recorded_at FROM evaluations
			UNION ALL
			SELECT run_id, recorded_at FROM generations
		) GROUP BY run_id ORDER BY MAX(recorded_at) DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		runs = append(runs, id)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, errors.New("sqlite store not initialized")
	}
	return s.db, nil
}

// finite maps infinities and NaN to NULL.
func finite(v float64) sql.NullFloat64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func orInf(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.Inf(1)
	}
	return v.Float64
}
