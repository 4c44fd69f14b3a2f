// Package db persists acquisition runs and their samples in sqlite.
package db

import (
	"database/sql"
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"
	_ "modernc.org/sqlite"
)

// timeLayout is how timestamps are stored. RFC 3339 keeps the columns
// human-readable in ad-hoc queries and sorts lexicographically.
const timeLayout = time.RFC3339Nano

// Store wraps the sqlite handle holding run and sample history.
type Store struct {
	*sql.DB
	path string
}

// Open opens (creating if needed) the sqlite database at path and applies
// the connection pragmas. It does not run migrations; see MigrateUp.
func Open(path string) (*Store, error) {
	sqldb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := sqldb.Exec(pragma); err != nil {
			sqldb.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}

	return &Store{DB: sqldb, path: path}, nil
}

// Path returns the database file path given to Open.
func (s *Store) Path() string { return s.path }

// Run is one acquisition run: a device/engine lifetime with a fixed unit
// and poll interval.
type Run struct {
	RunID      string     `json:"run_id"`
	Variant    string     `json:"variant"`
	Unit       string     `json:"unit"`
	PollMs     int64      `json:"poll_ms"`
	StartedAt  time.Time  `json:"started_at"`
	StoppedAt  *time.Time `json:"stopped_at,omitempty"`
	StopReason string     `json:"stop_reason,omitempty"`
}

// Sample is one persisted gauge reading.
type Sample struct {
	RunID       string    `json:"run_id"`
	RecordedAt  time.Time `json:"recorded_at"`
	Unit        string    `json:"unit"`
	Pressure    float64   `json:"pressure"`
	Temperature float64   `json:"temperature"`
}

// RecordRun inserts a new, still-open run.
func (s *Store) RecordRun(runID string, variant, unit string, pollMs int64, startedAt time.Time) error {
	_, err := s.Exec(
		`INSERT INTO runs (run_id, variant, unit, poll_ms, started_at) VALUES (?, ?, ?, ?, ?)`,
		runID, variant, unit, pollMs, startedAt.UTC().Format(timeLayout),
	)
	return err
}

// FinishRun closes an open run with the given reason. Finishing an already
// closed run is a no-op, so a run that died on a sample error keeps its
// original reason when the operator later hits stop.
func (s *Store) FinishRun(runID string, reason string, stoppedAt time.Time) error {
	_, err := s.Exec(
		`UPDATE runs SET stopped_at = ?, stop_reason = ? WHERE run_id = ? AND stopped_at IS NULL`,
		stoppedAt.UTC().Format(timeLayout), reason, runID,
	)
	return err
}

// RecordSample appends one reading to a run.
func (s *Store) RecordSample(runID string, recordedAt time.Time, unit string, pressure, temperature float64) error {
	_, err := s.Exec(
		`INSERT INTO samples (run_id, recorded_at, unit, pressure, temperature) VALUES (?, ?, ?, ?, ?)`,
		runID, recordedAt.UTC().Format(timeLayout), unit, pressure, temperature,
	)
	return err
}

// Runs returns the most recent runs, newest first.
func (s *Store) Runs(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Query(
		`SELECT run_id, variant, unit, poll_ms, started_at, stopped_at, stop_reason
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r          Run
			startedAt  string
			stoppedAt  sql.NullString
			stopReason sql.NullString
		)
		if err := rows.Scan(&r.RunID, &r.Variant, &r.Unit, &r.PollMs, &startedAt, &stoppedAt, &stopReason); err != nil {
			return nil, err
		}
		if r.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
			return nil, fmt.Errorf("run %s: bad started_at %q: %w", r.RunID, startedAt, err)
		}
		if stoppedAt.Valid {
			t, err := time.Parse(timeLayout, stoppedAt.String)
			if err != nil {
				return nil, fmt.Errorf("run %s: bad stopped_at %q: %w", r.RunID, stoppedAt.String, err)
			}
			r.StoppedAt = &t
		}
		r.StopReason = stopReason.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RecentSamples returns the newest samples, most recent first. An empty
// runID selects across all runs.
func (s *Store) RecentSamples(runID string, limit int) ([]Sample, error) {
	if limit <= 0 {
		limit = 500
	}

	query := `SELECT run_id, recorded_at, unit, pressure, temperature FROM samples`
	args := []any{}
	if runID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY recorded_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []Sample
	for rows.Next() {
		var (
			sm         Sample
			recordedAt string
		)
		if err := rows.Scan(&sm.RunID, &recordedAt, &sm.Unit, &sm.Pressure, &sm.Temperature); err != nil {
			return nil, err
		}
		if sm.RecordedAt, err = time.Parse(timeLayout, recordedAt); err != nil {
			return nil, fmt.Errorf("sample in run %s: bad recorded_at %q: %w", sm.RunID, recordedAt, err)
		}
		samples = append(samples, sm)
	}
	return samples, rows.Err()
}

// Stats summarizes a set of pressure samples.
type Stats struct {
	Count           int     `json:"count"`
	Mean            float64 `json:"mean"`
	StdDev          float64 `json:"std_dev"`
	Min             float64 `json:"min"`
	Max             float64 `json:"max"`
	MeanTemperature float64 `json:"mean_temperature"`
}

// SampleStats computes pressure statistics over a run (or all runs when
// runID is empty), restricted to samples at or after since when non-zero.
func (s *Store) SampleStats(runID string, since time.Time) (Stats, error) {
	query := `SELECT pressure, temperature FROM samples`
	var (
		conds []string
		args  []any
	)
	if runID != "" {
		conds = append(conds, "run_id = ?")
		args = append(args, runID)
	}
	if !since.IsZero() {
		conds = append(conds, "recorded_at >= ?")
		args = append(args, since.UTC().Format(timeLayout))
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}

	rows, err := s.Query(query, args...)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()

	var pressures, temperatures []float64
	for rows.Next() {
		var p, t float64
		if err := rows.Scan(&p, &t); err != nil {
			return Stats{}, err
		}
		pressures = append(pressures, p)
		temperatures = append(temperatures, t)
	}
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}
	if len(pressures) == 0 {
		return Stats{}, nil
	}

	st := Stats{
		Count:           len(pressures),
		Mean:            stat.Mean(pressures, nil),
		MeanTemperature: stat.Mean(temperatures, nil),
		Min:             pressures[0],
		Max:             pressures[0],
	}
	if len(pressures) > 1 {
		st.StdDev = stat.StdDev(pressures, nil)
	}
	for _, p := range pressures[1:] {
		if p < st.Min {
			st.Min = p
		}
		if p > st.Max {
			st.Max = p
		}
	}
	return st, nil
}
