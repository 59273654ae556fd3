// Package correction tracks the validation/ERC correction loop for one
// pipeline run: attempt counts, issue history, and the decision to keep
// retrying or stop. It is pure state with no side effects beyond its own fields.
package correction

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Phase identifies which half of the correction loop an attempt belongs to.
type Phase string

const (
	PhaseValidation Phase = "validation"
	PhaseERC        Phase = "erc"
)

// DefaultMaxAttempts is the per-phase attempt ceiling when none is configured.
const DefaultMaxAttempts = 3

// AttemptRecord captures one correction attempt for history and stagnation
// detection.
type AttemptRecord struct {
	Attempt     int      `json:"attempt"`
	Passed      bool     `json:"passed"`
	Issues      []string `json:"issues"`
	Corrections []string `json:"corrections_applied,omitempty"`
}

// Tracker holds per-run correction state. Owned exclusively by the
// orchestrator coroutine for the run's lifetime; not safe for concurrent use.
type Tracker struct {
	maxAttempts int

	validationAttempts int
	ercAttempts        int

	validationHistory []AttemptRecord
	ercHistory        []AttemptRecord

	resolvedIssues   map[string]bool
	failedStrategies map[string]bool

	phase Phase
}

// NewTracker creates a Tracker with the given attempt ceiling.
// A non-positive ceiling falls back to DefaultMaxAttempts.
func NewTracker(maxAttempts int) *Tracker {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Tracker{
		maxAttempts:      maxAttempts,
		resolvedIssues:   make(map[string]bool),
		failedStrategies: make(map[string]bool),
		phase:            PhaseValidation,
	}
}

// Phase returns the current phase. The phase only moves forward:
// validation → erc, never back.
func (t *Tracker) Phase() Phase {
	return t.phase
}

// Attempts returns the attempt count for the given phase.
func (t *Tracker) Attempts(phase Phase) int {
	if phase == PhaseERC {
		return t.ercAttempts
	}
	return t.validationAttempts
}

// History returns the append-only attempt history for the given phase.
func (t *Tracker) History(phase Phase) []AttemptRecord {
	if phase == PhaseERC {
		return t.ercHistory
	}
	return t.validationHistory
}

// RecordValidation records one validation attempt. Passing attempts mark
// their issues resolved.
func (t *Tracker) RecordValidation(passed bool, issues []string, corrections []string) {
	t.validationAttempts++
	rec := AttemptRecord{
		Attempt:     t.validationAttempts,
		Passed:      passed,
		Issues:      issues,
		Corrections: corrections,
	}
	t.validationHistory = append(t.validationHistory, rec)
	if passed {
		t.markResolved(issues)
	}
}

// RecordERC records one rule-check attempt and switches the tracker into the
// ERC phase. The switch is one-way.
func (t *Tracker) RecordERC(passed bool, issues []string, corrections []string) {
	t.phase = PhaseERC
	t.ercAttempts++
	rec := AttemptRecord{
		Attempt:     t.ercAttempts,
		Passed:      passed,
		Issues:      issues,
		Corrections: corrections,
	}
	t.ercHistory = append(t.ercHistory, rec)
	if passed {
		t.markResolved(issues)
	}
}

// MarkStrategyFailed remembers a correction strategy that did not help, so
// the next attempt's summary can warn against repeating it.
func (t *Tracker) MarkStrategyFailed(label string) {
	if label != "" {
		t.failedStrategies[label] = true
	}
}

// ShouldContinue reports whether another correction attempt in the given
// phase is worthwhile. It is false once the attempt ceiling is reached, and
// false when the last two attempts in the phase reported identical results
// (stagnation: retrying will not help).
func (t *Tracker) ShouldContinue(phase Phase) bool {
	if t.Attempts(phase) >= t.maxAttempts {
		return false
	}
	return !t.stagnated(phase)
}

// stagnated compares the full payloads of the last two history entries.
// Counts alone are not enough: two attempts with the same number of
// different issues are still progress.
func (t *Tracker) stagnated(phase Phase) bool {
	hist := t.History(phase)
	if len(hist) < 2 {
		return false
	}
	return samePayload(hist[len(hist)-1], hist[len(hist)-2])
}

// samePayload reports whether two attempts produced byte-identical issue
// payloads. The attempt number is excluded from the comparison.
func samePayload(a, b AttemptRecord) bool {
	a.Attempt, b.Attempt = 0, 0
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(ab) == string(bb)
}

func (t *Tracker) markResolved(issues []string) {
	for _, is := range issues {
		if is != "" {
			t.resolvedIssues[is] = true
		}
	}
}

// ResolvedIssues returns the deduplicated, sorted list of resolved issue labels.
func (t *Tracker) ResolvedIssues() []string {
	return sortedKeys(t.resolvedIssues)
}

// FailedStrategies returns the deduplicated, sorted list of failed strategy labels.
func (t *Tracker) FailedStrategies() []string {
	return sortedKeys(t.failedStrategies)
}

// NextAttemptSummary renders the tracker state as textual context for the
// next correction stage: current phase, attempt counts, what has been
// resolved, which strategies failed, and the most recent issue set. This is
// advisory context, not a programmatic constraint.
func (t *Tracker) NextAttemptSummary() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Correction phase: %s\n", t.phase)
	fmt.Fprintf(&b, "Validation attempts: %d/%d\n", t.validationAttempts, t.maxAttempts)
	fmt.Fprintf(&b, "Rule-check attempts: %d/%d\n", t.ercAttempts, t.maxAttempts)

	if resolved := t.ResolvedIssues(); len(resolved) > 0 {
		b.WriteString("Resolved issues:\n")
		for _, is := range resolved {
			fmt.Fprintf(&b, "- %s\n", is)
		}
	}

	if failed := t.FailedStrategies(); len(failed) > 0 {
		b.WriteString("Strategies that did NOT help (do not repeat):\n")
		for _, s := range failed {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}

	hist := t.History(t.phase)
	if len(hist) > 0 {
		last := hist[len(hist)-1]
		fmt.Fprintf(&b, "Most recent %s attempt (#%d) issues:\n", t.phase, last.Attempt)
		if len(last.Issues) == 0 {
			b.WriteString("- none\n")
		}
		for _, is := range last.Issues {
			fmt.Fprintf(&b, "- %s\n", is)
		}
	}

	return b.String()
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
