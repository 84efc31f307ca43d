package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lucasnoah/simops/internal/pipeline"
)

// ErrRunNotFound is returned when a run id has no row.
var ErrRunNotFound = errors.New("run not found")

// Run represents a row in the runs table.
type Run struct {
	ID          string          `json:"id"`
	Status      pipeline.Status `json:"status"`
	FailedStage string          `json:"failed_stage,omitempty"` // stage key, e.g. "build-and-test"
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`
	DurationMs  int64           `json:"duration_ms"`
	LogLines    int             `json:"log_lines"`
}

// StageResult represents a row in the stage_results table.
type StageResult struct {
	RunID      string               `json:"run_id"`
	StageID    string               `json:"stage_id"`
	Name       string               `json:"name"`
	Status     pipeline.StageStatus `json:"status"`
	DurationMs int64                `json:"duration_ms"`
}

// RecordRun stores a settled run with its stage results and log lines.
// It satisfies pipeline.Recorder.
func (d *DB) RecordRun(ctx context.Context, run pipeline.RunRecord) error {
	if !run.Status.Terminal() {
		return fmt.Errorf("record run %s: status %s is not terminal", run.ID, run.Status)
	}

	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, d.Rebind(
		`INSERT INTO runs (id, status, failed_stage, started_at, finished_at, duration_ms, log_lines)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`),
		run.ID, string(run.Status), run.FailedStage,
		FormatTime(run.StartedAt), FormatTime(run.FinishedAt),
		run.Duration().Milliseconds(), len(run.Logs),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stageStmt := d.Rebind(`INSERT INTO stage_results (run_id, stage_id, name, status, duration_ms) VALUES (?, ?, ?, ?, ?)`)
	for _, s := range run.Stages {
		if _, err := tx.ExecContext(ctx, stageStmt, run.ID, s.ID, s.Name, string(s.Status), s.Duration.Milliseconds()); err != nil {
			return fmt.Errorf("insert stage result %s: %w", s.ID, err)
		}
	}

	logStmt := d.Rebind(`INSERT INTO run_logs (run_id, seq, line) VALUES (?, ?, ?)`)
	for i, line := range run.Logs {
		if _, err := tx.ExecContext(ctx, logStmt, run.ID, i, line); err != nil {
			return fmt.Errorf("insert log line %d: %w", i, err)
		}
	}
	return tx.Commit()
}

const runColumns = `id, status, failed_stage, started_at, finished_at, duration_ms, log_lines`

// ListRuns returns the most recent runs, newest first. limit <= 0 means all.
func (d *DB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := d.conn.QueryContext(ctx, d.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// GetRun returns one run by id.
func (d *DB) GetRun(ctx context.Context, id string) (*Run, error) {
	row := d.conn.QueryRowContext(ctx, d.Rebind(`SELECT `+runColumns+` FROM runs WHERE id = ?`), id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return r, err
}

// LatestRun returns the most recently started run.
func (d *DB) LatestRun(ctx context.Context) (*Run, error) {
	row := d.conn.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT 1`)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return r, err
}

// StageResults returns a run's stages in catalog order.
func (d *DB) StageResults(ctx context.Context, runID string) ([]StageResult, error) {
	rows, err := d.conn.QueryContext(ctx, d.Rebind(
		`SELECT run_id, stage_id, name, status, duration_ms FROM stage_results WHERE run_id = ? ORDER BY stage_id`), runID)
	if err != nil {
		return nil, fmt.Errorf("query stage results: %w", err)
	}
	defer rows.Close()

	var results []StageResult
	for rows.Next() {
		var s StageResult
		var status string
		if err := rows.Scan(&s.RunID, &s.StageID, &s.Name, &status, &s.DurationMs); err != nil {
			return nil, fmt.Errorf("scan stage result: %w", err)
		}
		s.Status = pipeline.StageStatus(status)
		results = append(results, s)
	}
	return results, rows.Err()
}

// RunLogs returns a run's log lines in order.
func (d *DB) RunLogs(ctx context.Context, runID string) ([]string, error) {
	rows, err := d.conn.QueryContext(ctx, d.Rebind(`SELECT line FROM run_logs WHERE run_id = ? ORDER BY seq`), runID)
	if err != nil {
		return nil, fmt.Errorf("query run logs: %w", err)
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("scan log line: %w", err)
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// LoadRecord rebuilds the full record of a stored run.
func (d *DB) LoadRecord(ctx context.Context, id string) (*pipeline.RunRecord, error) {
	run, err := d.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	stages, err := d.StageResults(ctx, id)
	if err != nil {
		return nil, err
	}
	logs, err := d.RunLogs(ctx, id)
	if err != nil {
		return nil, err
	}

	rec := &pipeline.RunRecord{
		ID:          run.ID,
		Status:      run.Status,
		FailedStage: run.FailedStage,
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
		Logs:        logs,
	}
	for _, s := range stages {
		rec.Stages = append(rec.Stages, pipeline.Stage{
			ID:       s.StageID,
			Name:     s.Name,
			Status:   s.Status,
			Duration: time.Duration(s.DurationMs) * time.Millisecond,
		})
	}
	return rec, nil
}

// DeleteRunsBefore removes runs started before cutoff and returns how many
// were deleted.
func (d *DB) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	ts := FormatTime(cutoff)
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, child := range []string{"run_logs", "stage_results"} {
		q := `DELETE FROM ` + child + ` WHERE run_id IN (SELECT id FROM runs WHERE started_at < ?)`
		if _, err := tx.ExecContext(ctx, d.Rebind(q), ts); err != nil {
			return 0, fmt.Errorf("prune %s: %w", child, err)
		}
	}
	res, err := tx.ExecContext(ctx, d.Rebind(`DELETE FROM runs WHERE started_at < ?`), ts)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(n), nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*Run, error) {
	var r Run
	var status, started, finished string
	if err := row.Scan(&r.ID, &status, &r.FailedStage, &started, &finished, &r.DurationMs, &r.LogLines); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	r.Status = pipeline.Status(status)

	var err error
	if r.StartedAt, err = ParseTime(started); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if r.FinishedAt, err = ParseTime(finished); err != nil {
		return nil, fmt.Errorf("parse finished_at: %w", err)
	}
	return &r, nil
}
