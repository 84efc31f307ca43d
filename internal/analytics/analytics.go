// Package analytics derives dashboard KPIs from recorded run history.
package analytics

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
	"time"
)

// DB is the interface for database queries used by analytics.
type DB interface {
	Conn() *sql.DB
	Rebind(query string) string
}

// timestampFormat matches the stored run timestamps.
const timestampFormat = "2006-01-02 15:04:05.000"

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.ParseInLocation(timestampFormat, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
	}
	return t, nil
}

// RunSummary holds outcome counts over a period.
type RunSummary struct {
	Total       int     `json:"total"`
	Succeeded   int     `json:"succeeded"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"success_rate_pct"`
	AvgDuration float64 `json:"avg_duration_seconds"`
	P95Duration float64 `json:"p95_duration_seconds"`
}

// QueryRunSummary counts runs and their durations.
func QueryRunSummary(database DB, since string) (*RunSummary, error) {
	query := `SELECT status, duration_ms FROM runs`
	args := []interface{}{}
	if since != "" {
		query += ` WHERE started_at >= ?`
		args = append(args, since)
	}

	rows, err := database.Conn().Query(database.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query run summary: %w", err)
	}
	defer rows.Close()

	var s RunSummary
	var durations []float64
	for rows.Next() {
		var status string
		var ms int64
		if err := rows.Scan(&status, &ms); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		s.Total++
		switch status {
		case "SUCCESS":
			s.Succeeded++
		case "FAILED":
			s.Failed++
		}
		durations = append(durations, float64(ms)/1000)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Float64s(durations)
	s.SuccessRate = pct(s.Succeeded, s.Total)
	s.AvgDuration = avg(durations)
	s.P95Duration = percentile(durations, 95)
	return &s, nil
}

// Recovery describes how long the pipeline stayed broken.
type Recovery struct {
	Incidents  int     `json:"incidents"`
	Recovered  int     `json:"recovered"`
	MTTR       float64 `json:"mttr_seconds"`
	OpenSince  string  `json:"open_since,omitempty"`
	LongestGap float64 `json:"longest_seconds"`
}

// QueryRecovery measures mean time to recovery. An incident opens at the
// end of a failed run following a success (or the first run) and closes
// at the end of the next successful run.
func QueryRecovery(database DB, since string) (*Recovery, error) {
	query := `SELECT status, finished_at FROM runs`
	args := []interface{}{}
	if since != "" {
		query += ` WHERE started_at >= ?`
		args = append(args, since)
	}
	query += ` ORDER BY started_at ASC`

	rows, err := database.Conn().Query(database.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query recovery: %w", err)
	}
	defer rows.Close()

	var r Recovery
	var gaps []float64
	var open *time.Time
	for rows.Next() {
		var status, finishedTS string
		if err := rows.Scan(&status, &finishedTS); err != nil {
			return nil, fmt.Errorf("scan recovery: %w", err)
		}
		finished, err := parseTimestamp(finishedTS)
		if err != nil {
			continue
		}
		switch status {
		case "FAILED":
			if open == nil {
				r.Incidents++
				t := finished
				open = &t
			}
		case "SUCCESS":
			if open != nil {
				gaps = append(gaps, finished.Sub(*open).Seconds())
				r.Recovered++
				open = nil
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if open != nil {
		r.OpenSince = open.Format(time.RFC3339)
	}
	r.MTTR = avg(gaps)
	for _, g := range gaps {
		r.LongestGap = math.Max(r.LongestGap, math.Round(g*10)/10)
	}
	return &r, nil
}

// StageDuration holds duration stats for a stage.
type StageDuration struct {
	StageID string  `json:"stage_id"`
	Stage   string  `json:"stage"`
	Count   int     `json:"count"`
	Avg     float64 `json:"avg_seconds"`
	P50     float64 `json:"p50_seconds"`
	P95     float64 `json:"p95_seconds"`
}

// QueryStageDurations returns average and percentile durations per stage.
// Only stages that ran (COMPLETED or FAILED) contribute.
func QueryStageDurations(database DB, since string) ([]StageDuration, error) {
	query := `
		SELECT sr.stage_id, sr.name, sr.duration_ms
		FROM stage_results sr
		JOIN runs r ON r.id = sr.run_id
		WHERE sr.status IN ('COMPLETED', 'FAILED')`
	args := []interface{}{}
	if since != "" {
		query += ` AND r.started_at >= ?`
		args = append(args, since)
	}

	rows, err := database.Conn().Query(database.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query stage durations: %w", err)
	}
	defer rows.Close()

	names := make(map[string]string)
	durations := make(map[string][]float64)
	for rows.Next() {
		var id, name string
		var ms int64
		if err := rows.Scan(&id, &name, &ms); err != nil {
			return nil, fmt.Errorf("scan stage duration: %w", err)
		}
		names[id] = name
		durations[id] = append(durations[id], float64(ms)/1000)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []StageDuration
	for id, ds := range durations {
		sort.Float64s(ds)
		results = append(results, StageDuration{
			StageID: id,
			Stage:   names[id],
			Count:   len(ds),
			Avg:     avg(ds),
			P50:     percentile(ds, 50),
			P95:     percentile(ds, 95),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].StageID < results[j].StageID
	})
	return results, nil
}

// StageFailureRate holds how often a stage fails when it runs.
type StageFailureRate struct {
	StageID  string  `json:"stage_id"`
	Stage    string  `json:"stage"`
	Reached  int     `json:"reached"`
	Failed   int     `json:"failed"`
	FailRate float64 `json:"fail_pct"`
}

// QueryStageFailureRates returns per-stage failure rates.
func QueryStageFailureRates(database DB, since string) ([]StageFailureRate, error) {
	query := `
		SELECT sr.stage_id, MAX(sr.name),
			SUM(CASE WHEN sr.status IN ('COMPLETED', 'FAILED') THEN 1 ELSE 0 END) as reached,
			SUM(CASE WHEN sr.status = 'FAILED' THEN 1 ELSE 0 END) as failed
		FROM stage_results sr
		JOIN runs r ON r.id = sr.run_id`
	args := []interface{}{}
	if since != "" {
		query += ` WHERE r.started_at >= ?`
		args = append(args, since)
	}
	query += ` GROUP BY sr.stage_id ORDER BY sr.stage_id`

	rows, err := database.Conn().Query(database.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query stage failure rates: %w", err)
	}
	defer rows.Close()

	var results []StageFailureRate
	for rows.Next() {
		var f StageFailureRate
		if err := rows.Scan(&f.StageID, &f.Stage, &f.Reached, &f.Failed); err != nil {
			return nil, fmt.Errorf("scan stage failure rate: %w", err)
		}
		f.FailRate = pct(f.Failed, f.Reached)
		results = append(results, f)
	}
	return results, rows.Err()
}

// Throughput holds run counts for one day.
type Throughput struct {
	Period    string `json:"period"`
	Runs      int    `json:"runs"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
}

// QueryThroughput returns run counts grouped by day, newest first.
func QueryThroughput(database DB, since string) ([]Throughput, error) {
	query := `
		SELECT SUBSTR(started_at, 1, 10) as period,
			COUNT(*) as runs,
			SUM(CASE WHEN status = 'SUCCESS' THEN 1 ELSE 0 END) as succeeded,
			SUM(CASE WHEN status = 'FAILED' THEN 1 ELSE 0 END) as failed
		FROM runs`
	args := []interface{}{}
	if since != "" {
		query += ` WHERE started_at >= ?`
		args = append(args, since)
	}
	query += ` GROUP BY period ORDER BY period DESC LIMIT 14`

	rows, err := database.Conn().Query(database.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query throughput: %w", err)
	}
	defer rows.Close()

	var results []Throughput
	for rows.Next() {
		var t Throughput
		if err := rows.Scan(&t.Period, &t.Runs, &t.Succeeded, &t.Failed); err != nil {
			return nil, fmt.Errorf("scan throughput: %w", err)
		}
		results = append(results, t)
	}
	return results, rows.Err()
}

// KPIs is everything the dashboard header shows.
type KPIs struct {
	Summary  RunSummary         `json:"summary"`
	Recovery Recovery           `json:"recovery"`
	Stages   []StageDuration    `json:"stages"`
	Failures []StageFailureRate `json:"failures"`
}

// QueryKPIs runs every dashboard query.
func QueryKPIs(database DB, since string) (*KPIs, error) {
	summary, err := QueryRunSummary(database, since)
	if err != nil {
		return nil, err
	}
	recovery, err := QueryRecovery(database, since)
	if err != nil {
		return nil, err
	}
	stages, err := QueryStageDurations(database, since)
	if err != nil {
		return nil, err
	}
	failures, err := QueryStageFailureRates(database, since)
	if err != nil {
		return nil, err
	}
	return &KPIs{Summary: *summary, Recovery: *recovery, Stages: stages, Failures: failures}, nil
}

// --- helpers ---

func avg(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return math.Round(sum/float64(len(values))*10) / 10
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= len(sorted) {
		return math.Round(sorted[lower]*10) / 10
	}
	weight := rank - float64(lower)
	return math.Round((sorted[lower]*(1-weight)+sorted[upper]*weight)*10) / 10
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}
