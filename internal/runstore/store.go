// Package runstore persists filter runs to sqlite: one row per run plus
// one row per time step with the log conditional likelihood and the
// flattened expectation estimates.
package runstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/banshee-data/particle.report/internal/monitoring"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var logf = monitoring.Component("RunStore")

// Store wraps the sqlite handle.
type Store struct {
	*sql.DB
}

// Open opens (or creates) the run database at path and ensures the
// baseline schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			run_id            TEXT PRIMARY KEY,
			model             TEXT,
			particles         BIGINT,
			resample_every    BIGINT,
			seed              BIGINT,
			total_log_like    DOUBLE,
			started_at        TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			finished_at       TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS run_steps (
			run_id            TEXT,
			t                 BIGINT,
			log_cond_like     DOUBLE,
			expectations      TEXT,
			timestamp         TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (run_id, t),
			FOREIGN KEY(run_id) REFERENCES runs(run_id)
		);
	`)
	if err != nil {
		return nil, err
	}

	logf("opened %s", path)
	return &Store{db}, nil
}

// Run is one row of the runs table.
type Run struct {
	ID            string
	Model         string
	Particles     int
	ResampleEvery int
	Seed          uint64
	TotalLogLike  float64
}

// StepRow is one row of the run_steps table.
type StepRow struct {
	T            int
	LogCondLike  float64
	Expectations []float64
}

// CreateRun inserts a new run row and returns its generated ID.
func (s *Store) CreateRun(model string, particles, resampleEvery int, seed uint64) (string, error) {
	id := uuid.New().String()
	_, err := s.Exec(
		"INSERT INTO runs (run_id, model, particles, resample_every, seed) VALUES (?, ?, ?, ?, ?)",
		id, model, particles, resampleEvery, int64(seed),
	)
	if err != nil {
		return "", fmt.Errorf("runstore: creating run: %w", err)
	}
	logf("created run %s (model=%s particles=%d)", id, model, particles)
	return id, nil
}

// RecordStep inserts one time step for a run. Expectations are stored as
// a JSON array so the schema does not depend on the model's output shape.
func (s *Store) RecordStep(runID string, t int, logCondLike float64, expectations []float64) error {
	blob, err := json.Marshal(expectations)
	if err != nil {
		return fmt.Errorf("runstore: encoding expectations: %w", err)
	}
	_, err = s.Exec(
		"INSERT INTO run_steps (run_id, t, log_cond_like, expectations) VALUES (?, ?, ?, ?)",
		runID, t, logCondLike, string(blob),
	)
	if err != nil {
		return fmt.Errorf("runstore: recording step %d: %w", t, err)
	}
	return nil
}

// FinishRun stamps a run with its total log-likelihood and finish time.
func (s *Store) FinishRun(runID string, totalLogLike float64) error {
	_, err := s.Exec(
		"UPDATE runs SET total_log_like = ?, finished_at = ? WHERE run_id = ?",
		totalLogLike, time.Now().UTC(), runID,
	)
	if err != nil {
		return fmt.Errorf("runstore: finishing run %s: %w", runID, err)
	}
	logf("finished run %s (total log-likelihood %.4f)", runID, totalLogLike)
	return nil
}

// GetRun fetches one run row.
func (s *Store) GetRun(runID string) (*Run, error) {
	var r Run
	var total sql.NullFloat64
	var seed int64
	err := s.QueryRow(
		"SELECT run_id, model, particles, resample_every, seed, total_log_like FROM runs WHERE run_id = ?",
		runID,
	).Scan(&r.ID, &r.Model, &r.Particles, &r.ResampleEvery, &seed, &total)
	if err != nil {
		return nil, fmt.Errorf("runstore: fetching run %s: %w", runID, err)
	}
	r.Seed = uint64(seed)
	if total.Valid {
		r.TotalLogLike = total.Float64
	}
	return &r, nil
}

// RunSteps fetches all step rows for a run in time order.
func (s *Store) RunSteps(runID string) ([]StepRow, error) {
	rows, err := s.Query(
		"SELECT t, log_cond_like, expectations FROM run_steps WHERE run_id = ? ORDER BY t",
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("runstore: fetching steps for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []StepRow
	for rows.Next() {
		var step StepRow
		var blob string
		if err := rows.Scan(&step.T, &step.LogCondLike, &blob); err != nil {
			return nil, fmt.Errorf("runstore: scanning step row: %w", err)
		}
		if blob != "" {
			if err := json.Unmarshal([]byte(blob), &step.Expectations); err != nil {
				return nil, fmt.Errorf("runstore: decoding expectations: %w", err)
			}
		}
		out = append(out, step)
	}
	return out, rows.Err()
}
