package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"go-tower-pipeline/internal/model"
)

var db *sql.DB

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		kind TEXT,
		spec TEXT,
		status TEXT,
		created_at DATETIME,
		updated_at DATETIME
	);`,
	`CREATE TABLE IF NOT EXISTS run_errors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT,
		stage TEXT,
		error_message TEXT,
		created_at DATETIME
	);`,
	`CREATE TABLE IF NOT EXISTS stage_progress (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT,
		stage TEXT,
		status TEXT,
		started_at DATETIME,
		ended_at DATETIME,
		processed INTEGER,
		excluded INTEGER
	);`,
	`CREATE TABLE IF NOT EXISTS cluster_summaries (
		run_id TEXT,
		label TEXT,
		min_lat REAL,
		min_lon REAL,
		max_lat REAL,
		max_lon REAL,
		area REAL,
		networks TEXT,
		PRIMARY KEY (run_id, label)
	);`,
	`CREATE TABLE IF NOT EXISTS operators (
		run_id TEXT,
		mcc TEXT,
		mnc TEXT,
		operator TEXT,
		brand TEXT,
		PRIMARY KEY (run_id, mcc, mnc)
	);`,
}

// Initialize DB connection
func InitDB(dbPath string) error {
	var err error
	db, err = sql.Open("sqlite3", dbPath)
	if err != nil {
		return err
	}
	// sqlite allows a single writer; runs execute concurrently.
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// Close closes the DB connection, if any.
func Close() error {
	if db == nil {
		return nil
	}
	err := db.Close()
	db = nil
	return err
}

// Enabled reports whether InitDB has been called.
func Enabled() bool {
	return db != nil
}

// SaveRun stores a new pipeline run
func SaveRun(runID, kind string, spec any) error {
	specJSON, err := json.Marshal(spec)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = db.Exec(`INSERT INTO runs (id, kind, spec, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		runID, kind, string(specJSON), model.StatusPending, now, now)
	return err
}

// UpdateRunStatus updates run status
func UpdateRunStatus(runID string, status string) error {
	now := time.Now().UTC()
	res, err := db.Exec(`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`, status, now, runID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ErrRunBusy is returned by ClaimRetry when the run is not in a finished state.
var ErrRunBusy = errors.New("run is not finished")

// ClaimRetry moves a finished run to retrying and drops the results of the
// previous attempt. Only one caller can claim a given run.
func ClaimRetry(runID string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.Exec(`UPDATE runs SET status = ?, updated_at = ? WHERE id = ? AND status IN (?, ?)`,
		model.StatusRetrying, now, runID, model.StatusCompleted, model.StatusFailed)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM runs WHERE id = ?`, runID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return ErrNotFound
		}
		return ErrRunBusy
	}
	for _, stmt := range []string{
		`DELETE FROM cluster_summaries WHERE run_id = ?`,
		`DELETE FROM operators WHERE run_id = ?`,
	} {
		if _, err := tx.Exec(stmt, runID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SaveRunError records an error for a run
func SaveRunError(runID, stage string, err error) error {
	if err == nil {
		return nil
	}
	now := time.Now().UTC()
	_, e := db.Exec(`INSERT INTO run_errors (run_id, stage, error_message, created_at) VALUES (?, ?, ?, ?)`,
		runID, stage, err.Error(), now)
	return e
}

// ListRuns returns all runs with basic info, newest first
func ListRuns() ([]model.RunInfo, error) {
	rows, err := db.Query(`SELECT id, kind, status, created_at, updated_at FROM runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []model.RunInfo{}
	for rows.Next() {
		var r model.RunInfo
		if err := rows.Scan(&r.ID, &r.Kind, &r.Status, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun fetches full run spec and status
func GetRun(runID string) (*model.RunInfo, error) {
	var specJSON string
	r := model.RunInfo{ID: runID}

	err := db.QueryRow(`SELECT kind, spec, status, created_at, updated_at FROM runs WHERE id = ?`, runID).
		Scan(&r.Kind, &specJSON, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	r.Spec = json.RawMessage(specJSON)
	return &r, nil
}

// GetRunSpec decodes the stored spec of a run into out.
func GetRunSpec(runID string, out any) (string, error) {
	var kind, specJSON string
	err := db.QueryRow(`SELECT kind, spec FROM runs WHERE id = ?`, runID).Scan(&kind, &specJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if out != nil {
		if err := json.Unmarshal([]byte(specJSON), out); err != nil {
			return kind, fmt.Errorf("failed to decode spec: %w", err)
		}
	}
	return kind, nil
}

// GetRunErrors returns the errors recorded for a run, oldest first
func GetRunErrors(runID string) ([]model.ErrorDetail, error) {
	rows, err := db.Query(`SELECT stage, error_message, created_at FROM run_errors WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.ErrorDetail{}
	for rows.Next() {
		var e model.ErrorDetail
		if err := rows.Scan(&e.Stage, &e.Message, &e.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveStageProgress appends a stage progress entry
func SaveStageProgress(runID string, p model.StageProgress) error {
	var ended sql.NullTime
	if p.EndedAt != nil {
		ended = sql.NullTime{Time: p.EndedAt.UTC(), Valid: true}
	}
	_, err := db.Exec(`INSERT INTO stage_progress (run_id, stage, status, started_at, ended_at, processed, excluded) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, p.Stage, p.Status, p.StartedAt.UTC(), ended, p.Processed, p.Excluded)
	return err
}

// GetStageProgress returns a run's stage entries in the order they were saved
func GetStageProgress(runID string) ([]model.StageProgress, error) {
	rows, err := db.Query(`SELECT stage, status, started_at, ended_at, processed, excluded FROM stage_progress WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.StageProgress{}
	for rows.Next() {
		var p model.StageProgress
		var ended sql.NullTime
		if err := rows.Scan(&p.Stage, &p.Status, &p.StartedAt, &ended, &p.Processed, &p.Excluded); err != nil {
			return nil, err
		}
		if ended.Valid {
			t := ended.Time
			p.EndedAt = &t
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveClusterSummaries stores a run's bounding boxes in one transaction
func SaveClusterSummaries(runID string, boxes map[string]model.BoundingBox) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM cluster_summaries WHERE run_id = ?`, runID); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO cluster_summaries (run_id, label, min_lat, min_lon, max_lat, max_lon, area, networks) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for label, b := range boxes {
		networks, err := json.Marshal(b.Networks)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(runID, label, b.MinLat, b.MinLon, b.MaxLat, b.MaxLon, b.Area, string(networks)); err != nil {
			return fmt.Errorf("failed to save cluster %s: %w", label, err)
		}
	}
	return tx.Commit()
}

// GetClusterSummaries returns a run's bounding boxes ordered by label
func GetClusterSummaries(runID string) ([]model.ClusterSummary, error) {
	rows, err := db.Query(`SELECT label, min_lat, min_lon, max_lat, max_lon, area, networks FROM cluster_summaries WHERE run_id = ?`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.ClusterSummary{}
	for rows.Next() {
		s := model.ClusterSummary{RunID: runID}
		var networks string
		if err := rows.Scan(&s.Label, &s.Box.MinLat, &s.Box.MinLon, &s.Box.MaxLat, &s.Box.MaxLon, &s.Box.Area, &networks); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(networks), &s.Box.Networks); err != nil {
			return nil, fmt.Errorf("failed to decode networks of cluster %s: %w", s.Label, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return labelLess(out[i].Label, out[j].Label) })
	return out, nil
}

func labelLess(a, b string) bool {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	if aerr == nil && berr == nil {
		return ai < bi
	}
	return a < b
}

// SaveOperators stores a run's merged operator registry in one transaction
func SaveOperators(runID string, ops []model.OperatorRecord) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM operators WHERE run_id = ?`, runID); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO operators (run_id, mcc, mnc, operator, brand) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, op := range ops {
		if _, err := stmt.Exec(runID, op.MCC, op.MNC, op.Operator, op.Brand); err != nil {
			return fmt.Errorf("failed to save operator %s-%s: %w", op.MCC, op.MNC, err)
		}
	}
	return tx.Commit()
}

// GetOperators returns a run's operators ordered by network key
func GetOperators(runID string) ([]model.OperatorRecord, error) {
	rows, err := db.Query(`SELECT operator, brand, mcc, mnc FROM operators WHERE run_id = ?`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.OperatorRecord{}
	for rows.Next() {
		var op model.OperatorRecord
		if err := rows.Scan(&op.Operator, &op.Brand, &op.MCC, &op.MNC); err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key().Less(out[j].Key()) })
	return out, nil
}
