package correction

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTracker_MaxAttemptsReached(t *testing.T) {
	tr := NewTracker(3)

	tr.RecordValidation(false, []string{"A"}, nil)
	tr.RecordValidation(false, []string{"B"}, nil)
	assert.True(t, tr.ShouldContinue(PhaseValidation))

	tr.RecordValidation(false, []string{"C"}, nil)
	assert.False(t, tr.ShouldContinue(PhaseValidation), "ceiling reached")
}

func TestTracker_StagnationIdenticalIssues(t *testing.T) {
	// max_attempts well above the attempt count so only stagnation can stop it
	tr := NewTracker(5)

	tr.RecordValidation(false, []string{"A"}, nil)
	assert.True(t, tr.ShouldContinue(PhaseValidation))

	tr.RecordValidation(false, []string{"A"}, nil)
	assert.False(t, tr.ShouldContinue(PhaseValidation), "identical consecutive issue sets")
}

func TestTracker_StagnationAtCeilingToo(t *testing.T) {
	tr := NewTracker(2)

	tr.RecordValidation(false, []string{"A"}, nil)
	tr.RecordValidation(false, []string{"A"}, nil)

	// Both conditions hold here; either alone must stop the loop.
	assert.False(t, tr.ShouldContinue(PhaseValidation))
}

func TestTracker_NoStagnationWhenIssuesChange(t *testing.T) {
	tr := NewTracker(5)

	tr.RecordValidation(false, []string{"A", "B"}, nil)
	tr.RecordValidation(false, []string{"A"}, []string{"removed B"})

	assert.True(t, tr.ShouldContinue(PhaseValidation))
}

func TestTracker_StagnationComparesFullPayloadNotCounts(t *testing.T) {
	tr := NewTracker(5)

	// Same issue count, different content: progress, not stagnation.
	tr.RecordValidation(false, []string{"A"}, nil)
	tr.RecordValidation(false, []string{"B"}, nil)

	assert.True(t, tr.ShouldContinue(PhaseValidation))
}

func TestTracker_PhaseNeverGoesBack(t *testing.T) {
	tr := NewTracker(3)
	assert.Equal(t, PhaseValidation, tr.Phase())

	tr.RecordERC(false, []string{"floating net"}, nil)
	assert.Equal(t, PhaseERC, tr.Phase())

	// A late validation record must not flip the phase backward.
	tr.RecordValidation(true, nil, nil)
	assert.Equal(t, PhaseERC, tr.Phase())
}

func TestTracker_PhasesCountIndependently(t *testing.T) {
	tr := NewTracker(3)

	tr.RecordValidation(true, []string{"syntax"}, nil)
	tr.RecordERC(false, []string{"unconnected pin"}, nil)
	tr.RecordERC(true, nil, []string{"tied pin to ground"})

	assert.Equal(t, 1, tr.Attempts(PhaseValidation))
	assert.Equal(t, 2, tr.Attempts(PhaseERC))
}

func TestTracker_ResolvedIssuesDeduplicated(t *testing.T) {
	tr := NewTracker(3)

	tr.RecordValidation(true, []string{"A", "A", "B"}, nil)
	tr.RecordERC(true, []string{"B"}, nil)

	assert.Equal(t, []string{"A", "B"}, tr.ResolvedIssues())
}

func TestTracker_NextAttemptSummary(t *testing.T) {
	tr := NewTracker(3)
	tr.RecordValidation(false, []string{"undefined part ref"}, nil)
	tr.MarkStrategyFailed("regenerate imports")

	s := tr.NextAttemptSummary()
	assert.True(t, strings.Contains(s, "validation"))
	assert.True(t, strings.Contains(s, "undefined part ref"))
	assert.True(t, strings.Contains(s, "regenerate imports"))
	assert.True(t, strings.Contains(s, "1/3"))
}

func TestTracker_DefaultCeiling(t *testing.T) {
	tr := NewTracker(0)
	for i := 0; i < DefaultMaxAttempts; i++ {
		assert.True(t, tr.ShouldContinue(PhaseERC))
		tr.RecordERC(false, []string{string(rune('A' + i))}, nil)
	}
	assert.False(t, tr.ShouldContinue(PhaseERC))
}
