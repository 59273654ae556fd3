// Package pipeline holds the data model for one Circuitron run: the typed
// payloads each stage produces and the accumulated artifacts the
// orchestrator threads between them. A Run is owned exclusively by the
// orchestrator for the duration of one invocation and never shared.
package pipeline

import (
	"fmt"
	"time"
)

// Run is the top-level unit of work for a single prompt.
type Run struct {
	Prompt       string    `json:"prompt"`
	CurrentStage string    `json:"current_stage"`
	Retry        int       `json:"retry"`
	StartedAt    time.Time `json:"started_at"`
	Artifacts    Artifacts `json:"artifacts"`
}

// Artifacts accumulates the output of each completed stage. Earlier
// artifacts survive a downstream failure so partial progress is never
// discarded.
type Artifacts struct {
	Plan          *Plan              `json:"plan,omitempty"`
	Feedback      *PlanFeedback      `json:"feedback,omitempty"`
	FoundParts    *PartSearchResults `json:"found_parts,omitempty"`
	SelectedParts *PartSelection     `json:"selected_parts,omitempty"`
	Research      *ResearchFindings  `json:"research,omitempty"`
	Code          *GeneratedCode     `json:"code,omitempty"`
	OutputFiles   []string           `json:"output_files,omitempty"`
	LastIssues    []string           `json:"last_issues,omitempty"`
}

// Result is the terminal outcome of a run: final artifact paths on success,
// plus a warning when the correction loop was force-stopped and the output
// was produced on a best-effort basis.
type Result struct {
	OutputFiles      []string `json:"output_files"`
	Code             string   `json:"code"`
	Warning          string   `json:"warning,omitempty"`
	UnresolvedIssues []string `json:"unresolved_issues,omitempty"`
}

// Plan is the structured design plan produced by the planning stage.
type Plan struct {
	Summary       string   `json:"summary"`
	Requirements  []string `json:"requirements"`
	Blocks        []string `json:"blocks"`
	OpenQuestions []string `json:"open_questions,omitempty"`
}

// PlanFeedback is the human response to a presented plan. Empty edits and
// no new requirements means the plan is accepted as-is.
type PlanFeedback struct {
	Edits           []string `json:"edits,omitempty"`
	NewRequirements []string `json:"new_requirements,omitempty"`
}

// None reports whether the feedback requests any change at all.
func (f *PlanFeedback) None() bool {
	return f == nil || (len(f.Edits) == 0 && len(f.NewRequirements) == 0)
}

// PlanDecisionKind tags the plan-edit stage's decision.
type PlanDecisionKind string

const (
	// DecisionApplyEdits means the stage returns a full updated plan.
	DecisionApplyEdits PlanDecisionKind = "apply_edits"
	// DecisionRegenerate requests a full plan regeneration from scratch.
	DecisionRegenerate PlanDecisionKind = "regenerate"
)

// PlanDecision is the plan-edit stage's output. The two outcomes are
// mutually exclusive: an apply_edits decision must carry the updated plan.
type PlanDecision struct {
	Decision    PlanDecisionKind `json:"decision"`
	UpdatedPlan *Plan            `json:"updated_plan,omitempty"`
}

// Validate enforces the decision contract strictly. An edit decision
// without its updated-plan payload fails fast rather than letting the
// orchestrator silently reuse the stale plan.
func (d *PlanDecision) Validate() error {
	switch d.Decision {
	case DecisionApplyEdits:
		if d.UpdatedPlan == nil {
			return fmt.Errorf("plan-edit decision %q missing updated plan payload", d.Decision)
		}
		return nil
	case DecisionRegenerate:
		if d.UpdatedPlan != nil {
			return fmt.Errorf("plan-edit decision %q must not carry an updated plan", d.Decision)
		}
		return nil
	default:
		return fmt.Errorf("unknown plan-edit decision %q", d.Decision)
	}
}

// Part is a single candidate component.
type Part struct {
	Number      string `json:"number"`
	Description string `json:"description"`
	Footprint   string `json:"footprint,omitempty"`
	Stock       int    `json:"stock,omitempty"`
}

// PartSearchResults is the part-search stage output.
type PartSearchResults struct {
	Candidates []Part `json:"candidates"`
}

// PartSelection is the part-selection stage output: the chosen subset with
// reasoning per choice.
type PartSelection struct {
	Parts     []Part   `json:"parts"`
	Rationale []string `json:"rationale,omitempty"`
}

// ResearchFindings is the documentation-research stage output.
type ResearchFindings struct {
	Notes      []string `json:"notes"`
	PinNotes   []string `json:"pin_notes,omitempty"`
	References []string `json:"references,omitempty"`
}

// GeneratedCode is the circuit-description source produced by code
// generation or a correction pass.
type GeneratedCode struct {
	Source      string   `json:"source"`
	Corrections []string `json:"corrections_applied,omitempty"`
	Strategy    string   `json:"strategy,omitempty"`
}

// ValidationReport is the validation stage output.
type ValidationReport struct {
	Passed bool     `json:"passed"`
	Issues []string `json:"issues,omitempty"`
}

// RuntimeReport captures the optional sandboxed smoke test of generated
// code: import and instantiate only, no rule evaluation.
type RuntimeReport struct {
	Passed bool   `json:"passed"`
	Output string `json:"output,omitempty"`
}
