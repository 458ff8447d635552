// Package store persists run history in SQLite: every compliance
// report, repair attempt, and iteration summary, so score trajectories
// survive the process and plateaus can be audited after the fact.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"specforge/internal/compliance"
	"specforge/internal/logging"
	"specforge/internal/repair"
)

// RunStore implements repair.Recorder on SQLite.
type RunStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
	runID  string
}

// NewRunStore opens (creating if needed) the database at path and
// starts a new run identified by runID.
func NewRunStore(path, runID string) (*RunStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewRunStore")
	defer timer.Stop()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &RunStore{db: db, dbPath: path, runID: runID}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("run store ready at %s (run=%s)", path, runID)
	return s, nil
}

func (s *RunStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS reports (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		overall REAL NOT NULL,
		entity_score REAL NOT NULL,
		endpoint_score REAL NOT NULL,
		strict_score REAL NOT NULL,
		relaxed_score REAL NOT NULL,
		gap_count INTEGER NOT NULL,
		payload TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE TABLE IF NOT EXISTS repair_attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		iteration INTEGER NOT NULL,
		signature TEXT NOT NULL,
		strategy TEXT NOT NULL,
		applied INTEGER NOT NULL,
		skip_reason TEXT,
		gap TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE TABLE IF NOT EXISTS iterations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		before_score REAL NOT NULL,
		after_score REAL NOT NULL,
		applied INTEGER NOT NULL,
		skipped INTEGER NOT NULL,
		gaps INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_reports_run ON reports(run_id);
	CREATE INDEX IF NOT EXISTS idx_attempts_run ON repair_attempts(run_id, signature);
	CREATE INDEX IF NOT EXISTS idx_iterations_run ON iterations(run_id, idx);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// RecordReport persists a compliance report.
func (s *RunStore) RecordReport(report *compliance.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO reports (run_id, overall, entity_score, endpoint_score, strict_score, relaxed_score, gap_count, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.runID, report.Overall, report.EntityScore(), report.EndpointScore(),
		report.StrictScore(), report.RelaxedScore(), len(report.Gaps),
		string(payload), time.Now())
	if err != nil {
		return fmt.Errorf("failed to store report: %w", err)
	}
	logging.StoreDebug("stored report: overall=%.1f gaps=%d", report.Overall, len(report.Gaps))
	return nil
}

// RecordAttempt persists a repair attempt.
func (s *RunStore) RecordAttempt(a repair.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	gap, err := json.Marshal(a.Gap)
	if err != nil {
		return fmt.Errorf("failed to marshal gap: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO repair_attempts (run_id, iteration, signature, strategy, applied, skip_reason, gap, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.runID, a.Iteration, a.Signature, a.Strategy,
		boolToInt(a.Applied), a.SkipReason, string(gap), a.At)
	if err != nil {
		return fmt.Errorf("failed to store attempt: %w", err)
	}
	return nil
}

// RecordIteration persists an iteration summary.
func (s *RunStore) RecordIteration(it repair.IterationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO iterations (run_id, idx, before_score, after_score, applied, skipped, gaps, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.runID, it.Index, it.Before, it.After, it.Applied, it.Skipped, it.GapsFound, it.At)
	if err != nil {
		return fmt.Errorf("failed to store iteration: %w", err)
	}
	return nil
}

// LastReport returns the most recent report recorded for this run, or
// nil when none exists yet.
func (s *RunStore) LastReport() (*compliance.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payload string
	err := s.db.QueryRow(`
		SELECT payload FROM reports WHERE run_id = ? ORDER BY id DESC LIMIT 1`,
		s.runID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load report: %w", err)
	}

	var report compliance.Report
	if err := json.Unmarshal([]byte(payload), &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	return &report, nil
}

// LatestReport returns the most recent report across all runs, or nil
// when the store is empty. Used by reporting tools inspecting a store
// they did not write.
func (s *RunStore) LatestReport() (*compliance.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payload string
	err := s.db.QueryRow(`
		SELECT payload FROM reports ORDER BY id DESC LIMIT 1`).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load report: %w", err)
	}

	var report compliance.Report
	if err := json.Unmarshal([]byte(payload), &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	return &report, nil
}

// Attempts returns the attempts recorded for this run in order.
func (s *RunStore) Attempts() ([]repair.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT iteration, signature, strategy, applied, skip_reason, gap, created_at
		FROM repair_attempts WHERE run_id = ? ORDER BY id`,
		s.runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	var out []repair.Attempt
	for rows.Next() {
		var a repair.Attempt
		var appliedInt int
		var gap string
		if err := rows.Scan(&a.Iteration, &a.Signature, &a.Strategy, &appliedInt, &a.SkipReason, &gap, &a.At); err != nil {
			return nil, err
		}
		a.Applied = appliedInt != 0
		if err := json.Unmarshal([]byte(gap), &a.Gap); err != nil {
			return nil, fmt.Errorf("failed to unmarshal gap: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ScoreTrajectory returns the per-iteration overall scores for the run.
func (s *RunStore) ScoreTrajectory() ([]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT after_score FROM iterations WHERE run_id = ? ORDER BY idx`,
		s.runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query iterations: %w", err)
	}
	defer rows.Close()

	var scores []float64
	for rows.Next() {
		var score float64
		if err := rows.Scan(&score); err != nil {
			return nil, err
		}
		scores = append(scores, score)
	}
	return scores, rows.Err()
}

// Close closes the database.
func (s *RunStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	logging.Store("closing run store")
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
