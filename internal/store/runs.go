package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/compscout/compscout/internal/filter"
)

// Run statuses persisted in ingest_runs. A run is finalized exactly once
// to success or error.
const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusError   = "error"
)

// ErrRunFinalized is returned when a run log is finished twice.
var ErrRunFinalized = errors.New("run already finalized")

// RunQuery is the vehicle query a run was opened for.
type RunQuery struct {
	Make        string `json:"make"`
	Model       string `json:"model"`
	Year        int    `json:"year,omitempty"`
	Zip         string `json:"zip,omitempty"`
	RadiusMiles int    `json:"radius_miles,omitempty"`
}

// RunNotes is the audit payload written at finalize: why the comp set
// looked the way it did.
type RunNotes struct {
	DropReasons map[string]int         `json:"drop_reasons,omitempty"`
	Groups      []filter.GroupSnapshot `json:"groups,omitempty"`
	Messages    []string               `json:"messages,omitempty"`
}

// RunLog is one ingest run's audit record.
type RunLog struct {
	RunID            string     `json:"run_id"`
	Query            RunQuery   `json:"query"`
	Sources          []string   `json:"sources"`
	Model            string     `json:"model"`
	URLCount         int        `json:"url_count"`
	Status           string     `json:"status"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	ListingsFound    int        `json:"listings_found"`
	ListingsUpserted int        `json:"listings_upserted"`
	TokenInput       int64      `json:"token_input"`
	TokenOutput      int64      `json:"token_output"`
	Notes            RunNotes   `json:"notes"`
}

// RunStats carries the counters written when a run finishes.
type RunStats struct {
	ListingsFound    int
	ListingsUpserted int
	TokenInput       int64
	TokenOutput      int64
	Notes            RunNotes
}

// CreateRunLog opens a new audit record and returns its run id.
func (s *Store) CreateRunLog(ctx context.Context, run RunLog) (string, error) {
	runID := run.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	query, err := json.Marshal(run.Query)
	if err != nil {
		return "", fmt.Errorf("marshal run query: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO ingest_runs (run_id, query, sources, model, url_count, status, started_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW())`,
		runID, query, pq.Array(run.Sources), run.Model, run.URLCount, RunStatusRunning)
	if err != nil {
		return "", fmt.Errorf("create run log: %w", err)
	}
	return runID, nil
}

// FinishRunLog finalizes a run exactly once. A second finish, whatever
// its source, leaves the first outcome intact and reports ErrRunFinalized.
func (s *Store) FinishRunLog(ctx context.Context, runID, status string, stats RunStats) error {
	notes, err := json.Marshal(stats.Notes)
	if err != nil {
		return fmt.Errorf("marshal run notes: %w", err)
	}
	res, err := s.DB.ExecContext(ctx, `
UPDATE ingest_runs SET
  status = $2,
  finished_at = NOW(),
  listings_found = $3,
  listings_upserted = $4,
  token_input = $5,
  token_output = $6,
  notes = $7
WHERE run_id = $1 AND finished_at IS NULL`,
		runID, status, stats.ListingsFound, stats.ListingsUpserted,
		stats.TokenInput, stats.TokenOutput, notes)
	if err != nil {
		return fmt.Errorf("finish run log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run log: %w", err)
	}
	if n == 0 {
		return ErrRunFinalized
	}
	return nil
}

// GetRun loads one run audit record.
func (s *Store) GetRun(ctx context.Context, runID string) (RunLog, error) {
	var run RunLog
	var finished sql.NullTime
	var query, notes []byte
	err := s.DB.QueryRowContext(ctx, `
SELECT run_id, query, sources, model, url_count, status, started_at, finished_at,
       listings_found, listings_upserted, token_input, token_output, notes
FROM ingest_runs WHERE run_id = $1`, runID).Scan(
		&run.RunID, &query, pq.Array(&run.Sources), &run.Model, &run.URLCount,
		&run.Status, &run.StartedAt, &finished,
		&run.ListingsFound, &run.ListingsUpserted, &run.TokenInput, &run.TokenOutput, &notes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RunLog{}, err
		}
		return RunLog{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	if finished.Valid {
		run.FinishedAt = &finished.Time
	}
	if len(query) > 0 {
		if err := json.Unmarshal(query, &run.Query); err != nil {
			return RunLog{}, fmt.Errorf("decode run query: %w", err)
		}
	}
	if len(notes) > 0 {
		if err := json.Unmarshal(notes, &run.Notes); err != nil {
			return RunLog{}, fmt.Errorf("decode run notes: %w", err)
		}
	}
	return run, nil
}
