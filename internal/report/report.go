// Package report computes summary statistics over the run event log:
// per-stage durations, correction-loop effort, and run outcomes. It reads
// the same sqlite database the orchestrator appends to.
package report

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
)

// DB is the interface for database queries used by reports.
type DB interface {
	Conn() *sql.DB
}

// StageStats holds duration stats for one stage across runs.
type StageStats struct {
	Stage string  `json:"stage"`
	Count int     `json:"count"`
	Fails int     `json:"fails"`
	AvgMs float64 `json:"avg_ms"`
	P50Ms float64 `json:"p50_ms"`
	P95Ms float64 `json:"p95_ms"`
}

// QueryStageStats returns duration and failure stats per stage, sorted by
// stage name.
func QueryStageStats(database DB) ([]StageStats, error) {
	rows, err := database.Conn().Query(
		`SELECT stage, outcome, COALESCE(duration_ms, 0) FROM stage_runs`)
	if err != nil {
		return nil, fmt.Errorf("query stage runs: %w", err)
	}
	defer rows.Close()

	durations := make(map[string][]float64)
	fails := make(map[string]int)
	for rows.Next() {
		var stage, outcome string
		var ms int
		if err := rows.Scan(&stage, &outcome, &ms); err != nil {
			return nil, fmt.Errorf("scan stage run: %w", err)
		}
		durations[stage] = append(durations[stage], float64(ms))
		if outcome != "success" {
			fails[stage]++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []StageStats
	for stage, ds := range durations {
		sort.Float64s(ds)
		results = append(results, StageStats{
			Stage: stage,
			Count: len(ds),
			Fails: fails[stage],
			AvgMs: avg(ds),
			P50Ms: percentile(ds, 50),
			P95Ms: percentile(ds, 95),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Stage < results[j].Stage
	})
	return results, nil
}

// CorrectionStats holds correction-loop effort per phase.
type CorrectionStats struct {
	Phase         string  `json:"phase"`
	Runs          int     `json:"runs"`
	AvgAttempts   float64 `json:"avg_attempts"`
	MaxAttempts   int     `json:"max_attempts"`
	FirstPassRate float64 `json:"first_pass_pct"`
}

// QueryCorrectionStats returns, per phase, how many attempts runs needed and
// how often the first attempt passed.
func QueryCorrectionStats(database DB) ([]CorrectionStats, error) {
	rows, err := database.Conn().Query(
		`SELECT run_id, phase, MAX(attempt) AS attempts,
		        MAX(CASE WHEN attempt = 1 AND passed THEN 1 ELSE 0 END) AS first_pass
		 FROM correction_attempts GROUP BY run_id, phase`)
	if err != nil {
		return nil, fmt.Errorf("query correction attempts: %w", err)
	}
	defer rows.Close()

	type acc struct {
		runs, total, max, firstPass int
	}
	byPhase := make(map[string]*acc)
	for rows.Next() {
		var runID, phase string
		var attempts, firstPass int
		if err := rows.Scan(&runID, &phase, &attempts, &firstPass); err != nil {
			return nil, fmt.Errorf("scan correction stats: %w", err)
		}
		a := byPhase[phase]
		if a == nil {
			a = &acc{}
			byPhase[phase] = a
		}
		a.runs++
		a.total += attempts
		if attempts > a.max {
			a.max = attempts
		}
		a.firstPass += firstPass
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []CorrectionStats
	for phase, a := range byPhase {
		results = append(results, CorrectionStats{
			Phase:         phase,
			Runs:          a.runs,
			AvgAttempts:   float64(a.total) / float64(a.runs),
			MaxAttempts:   a.max,
			FirstPassRate: 100 * float64(a.firstPass) / float64(a.runs),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Phase < results[j].Phase
	})
	return results, nil
}

// RunOutcome summarizes the terminal event of one run.
type RunOutcome struct {
	RunID   string `json:"run_id"`
	Outcome string `json:"outcome"`
	When    string `json:"when"`
}

// QueryRunOutcomes returns the latest terminal event per run, newest first.
func QueryRunOutcomes(database DB, limit int) ([]RunOutcome, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := database.Conn().Query(
		`SELECT run_id, event, MAX(timestamp) AS ts FROM pipeline_events
		 WHERE event IN ('completed', 'rejected', 'run_failed', 'retries_exhausted')
		 GROUP BY run_id ORDER BY ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query run outcomes: %w", err)
	}
	defer rows.Close()

	var results []RunOutcome
	for rows.Next() {
		var r RunOutcome
		if err := rows.Scan(&r.RunID, &r.Outcome, &r.When); err != nil {
			return nil, fmt.Errorf("scan run outcome: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func avg(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// percentile assumes values are sorted.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(values)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(values) {
		idx = len(values) - 1
	}
	return values[idx]
}
