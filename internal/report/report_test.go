package report

import (
	"path/filepath"
	"testing"

	"github.com/Shaurya-Sethi/circuitron-sub000/internal/db"
)

func seededDB(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestQueryStageStats(t *testing.T) {
	d := seededDB(t)
	_ = d.LogStageRun("run-1", "plan", "success", 1000, "")
	_ = d.LogStageRun("run-2", "plan", "success", 3000, "")
	_ = d.LogStageRun("run-2", "code-generation", "fail", 500, "")

	stats, err := QueryStageStats(d)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("expected 2 stages, got %d", len(stats))
	}
	// Sorted by stage name: code-generation first.
	if stats[0].Stage != "code-generation" || stats[0].Fails != 1 {
		t.Errorf("unexpected first entry: %+v", stats[0])
	}
	if stats[1].Count != 2 || stats[1].AvgMs != 2000 {
		t.Errorf("unexpected plan stats: %+v", stats[1])
	}
}

func TestQueryCorrectionStats(t *testing.T) {
	d := seededDB(t)
	// run-1: validation passes first try; run-2 needs three attempts.
	_ = d.LogCorrectionAttempt("run-1", "validation", 1, true, "")
	_ = d.LogCorrectionAttempt("run-2", "validation", 1, false, `["x"]`)
	_ = d.LogCorrectionAttempt("run-2", "validation", 2, false, `["x"]`)
	_ = d.LogCorrectionAttempt("run-2", "validation", 3, true, "")

	stats, err := QueryCorrectionStats(d)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("expected 1 phase, got %d", len(stats))
	}
	v := stats[0]
	if v.Runs != 2 || v.MaxAttempts != 3 {
		t.Errorf("unexpected stats: %+v", v)
	}
	if v.AvgAttempts != 2 {
		t.Errorf("expected avg 2 attempts, got %v", v.AvgAttempts)
	}
	if v.FirstPassRate != 50 {
		t.Errorf("expected 50%% first-pass rate, got %v", v.FirstPassRate)
	}
}

func TestQueryRunOutcomes(t *testing.T) {
	d := seededDB(t)
	_ = d.LogPipelineEvent("run-1", "started", "", "")
	_ = d.LogPipelineEvent("run-1", "completed", "", "")
	_ = d.LogPipelineEvent("run-2", "started", "", "")
	_ = d.LogPipelineEvent("run-2", "rejected", "guardrail", "off topic")

	outcomes, err := QueryRunOutcomes(d, 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}
	byRun := map[string]string{}
	for _, o := range outcomes {
		byRun[o.RunID] = o.Outcome
	}
	if byRun["run-1"] != "completed" || byRun["run-2"] != "rejected" {
		t.Errorf("unexpected outcomes: %v", byRun)
	}
}
