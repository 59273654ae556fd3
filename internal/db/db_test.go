package db

import (
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestOpen_MigratesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")

	d, err := Open(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	d.Close()

	// Re-opening must not fail on an already-applied schema.
	d2, err := Open(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	d2.Close()
}

func TestPipelineEvents_RoundTrip(t *testing.T) {
	d := openTestDB(t)

	if err := d.LogPipelineEvent("run-1", "started", "", "prompt accepted"); err != nil {
		t.Fatalf("log: %v", err)
	}
	if err := d.LogPipelineEvent("run-1", "stage_completed", "plan", ""); err != nil {
		t.Fatalf("log: %v", err)
	}

	events, err := d.GetRunHistory("run-1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Event != "started" || events[1].Stage != "plan" {
		t.Errorf("unexpected events: %+v", events)
	}
}

func TestStageRuns(t *testing.T) {
	d := openTestDB(t)

	if err := d.LogStageRun("run-1", "code-generation", "success", 4200, ""); err != nil {
		t.Fatalf("log: %v", err)
	}

	runs, err := d.GetStageRuns("run-1")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(runs) != 1 || runs[0].DurationMs != 4200 {
		t.Errorf("unexpected runs: %+v", runs)
	}
}

func TestCorrectionAttempts(t *testing.T) {
	d := openTestDB(t)

	_ = d.LogCorrectionAttempt("run-1", "validation", 1, false, `["missing import"]`)
	_ = d.LogCorrectionAttempt("run-1", "erc", 1, true, "")

	attempts, err := d.GetCorrectionAttempts("run-1")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(attempts))
	}
	if attempts[0].Phase != "validation" || attempts[0].Passed {
		t.Errorf("unexpected first attempt: %+v", attempts[0])
	}
	if attempts[1].Phase != "erc" || !attempts[1].Passed {
		t.Errorf("unexpected second attempt: %+v", attempts[1])
	}
}

func TestSandboxEvents_RejectsUnknownEvent(t *testing.T) {
	d := openTestDB(t)

	if err := d.LogSandboxEvent("run-1", "circuitron-abc", "created", ""); err != nil {
		t.Fatalf("valid event: %v", err)
	}
	if err := d.LogSandboxEvent("run-1", "circuitron-abc", "bogus", ""); err == nil {
		t.Errorf("expected CHECK constraint to reject unknown event")
	}
}

func TestListRunIDs(t *testing.T) {
	d := openTestDB(t)

	_ = d.LogPipelineEvent("run-a", "started", "", "")
	_ = d.LogPipelineEvent("run-b", "started", "", "")

	ids, err := d.ListRunIDs(10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("expected 2 run ids, got %v", ids)
	}
}
