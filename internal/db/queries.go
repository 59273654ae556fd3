package db

import (
	"fmt"
)

// PipelineEvent is one row from the pipeline_events table.
type PipelineEvent struct {
	RunID     string
	Event     string
	Stage     string
	Detail    string
	Timestamp string
}

// StageRun is one row from the stage_runs table.
type StageRun struct {
	RunID      string
	Stage      string
	Outcome    string
	DurationMs int
	Detail     string
	Timestamp  string
}

// CorrectionAttempt is one row from the correction_attempts table.
type CorrectionAttempt struct {
	RunID     string
	Phase     string
	Attempt   int
	Passed    bool
	Issues    string
	Timestamp string
}

// LogPipelineEvent appends a pipeline lifecycle event.
func (d *DB) LogPipelineEvent(runID string, event string, stageName string, detail string) error {
	_, err := d.conn.Exec(
		`INSERT INTO pipeline_events (run_id, event, stage, detail) VALUES (?, ?, ?, ?)`,
		runID, event, stageName, detail,
	)
	if err != nil {
		return fmt.Errorf("log pipeline event: %w", err)
	}
	return nil
}

// LogStageRun appends a completed stage execution.
func (d *DB) LogStageRun(runID string, stageName string, outcome string, durationMs int, detail string) error {
	_, err := d.conn.Exec(
		`INSERT INTO stage_runs (run_id, stage, outcome, duration_ms, detail) VALUES (?, ?, ?, ?, ?)`,
		runID, stageName, outcome, durationMs, detail,
	)
	if err != nil {
		return fmt.Errorf("log stage run: %w", err)
	}
	return nil
}

// LogCorrectionAttempt appends one correction-loop attempt.
func (d *DB) LogCorrectionAttempt(runID string, phase string, attempt int, passed bool, issues string) error {
	_, err := d.conn.Exec(
		`INSERT INTO correction_attempts (run_id, phase, attempt, passed, issues) VALUES (?, ?, ?, ?, ?)`,
		runID, phase, attempt, passed, issues,
	)
	if err != nil {
		return fmt.Errorf("log correction attempt: %w", err)
	}
	return nil
}

// LogSandboxEvent appends a sandbox lifecycle event.
func (d *DB) LogSandboxEvent(runID string, name string, event string, detail string) error {
	_, err := d.conn.Exec(
		`INSERT INTO sandbox_events (run_id, name, event, detail) VALUES (?, ?, ?, ?)`,
		runID, name, event, detail,
	)
	if err != nil {
		return fmt.Errorf("log sandbox event: %w", err)
	}
	return nil
}

// GetRunHistory returns all pipeline events for a run, oldest first.
func (d *DB) GetRunHistory(runID string) ([]PipelineEvent, error) {
	rows, err := d.conn.Query(
		`SELECT run_id, event, COALESCE(stage,''), COALESCE(detail,''), timestamp
		 FROM pipeline_events WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query run history: %w", err)
	}
	defer rows.Close()

	var events []PipelineEvent
	for rows.Next() {
		var e PipelineEvent
		if err := rows.Scan(&e.RunID, &e.Event, &e.Stage, &e.Detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan pipeline event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetStageRuns returns all stage executions for a run, oldest first.
func (d *DB) GetStageRuns(runID string) ([]StageRun, error) {
	rows, err := d.conn.Query(
		`SELECT run_id, stage, outcome, COALESCE(duration_ms,0), COALESCE(detail,''), timestamp
		 FROM stage_runs WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query stage runs: %w", err)
	}
	defer rows.Close()

	var runs []StageRun
	for rows.Next() {
		var r StageRun
		if err := rows.Scan(&r.RunID, &r.Stage, &r.Outcome, &r.DurationMs, &r.Detail, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan stage run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetCorrectionAttempts returns all correction attempts for a run, oldest first.
func (d *DB) GetCorrectionAttempts(runID string) ([]CorrectionAttempt, error) {
	rows, err := d.conn.Query(
		`SELECT run_id, phase, attempt, passed, COALESCE(issues,''), timestamp
		 FROM correction_attempts WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query correction attempts: %w", err)
	}
	defer rows.Close()

	var attempts []CorrectionAttempt
	for rows.Next() {
		var a CorrectionAttempt
		if err := rows.Scan(&a.RunID, &a.Phase, &a.Attempt, &a.Passed, &a.Issues, &a.Timestamp); err != nil {
			return nil, fmt.Errorf("scan correction attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// ListRunIDs returns distinct run IDs, newest first.
func (d *DB) ListRunIDs(limit int) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.conn.Query(
		`SELECT run_id, MAX(timestamp) AS latest FROM pipeline_events
		 GROUP BY run_id ORDER BY latest DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id, ts string
		if err := rows.Scan(&id, &ts); err != nil {
			return nil, fmt.Errorf("scan run id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
