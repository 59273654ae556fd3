package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Shaurya-Sethi/circuitron-sub000/internal/correction"
	"github.com/Shaurya-Sethi/circuitron-sub000/internal/pipeline"
	"github.com/Shaurya-Sethi/circuitron-sub000/internal/stage"
)

// runOnce executes the stage sequence once, from guardrail screen through
// final artifact generation. Outer retries re-enter here.
func (o *Orchestrator) runOnce(ctx context.Context, runID string, prompt string, attempt int, opts Options) (*pipeline.Result, error) {
	run := &pipeline.Run{
		Prompt:    prompt,
		Retry:     attempt,
		StartedAt: time.Now(),
	}

	// Guardrail screen. Rejection is an expected outcome of the check;
	// it becomes a typed fatal failure only here, at the branching point.
	verdict, err := runTyped[stage.Verdict](ctx, o, runID, run, stage.Guardrail.WithModel(o.cfg.Models.Planner), prompt, "")
	if err != nil {
		return nil, err
	}
	if !verdict.Accepted {
		return nil, stage.NewFailure(stage.FailGuardrail, stage.Guardrail.Name, verdict.Reason, nil)
	}

	// Planning, with the optional human-feedback edit loop.
	plan, err := o.runPlanStages(ctx, runID, run, prompt, opts)
	if err != nil {
		return nil, err
	}
	run.Artifacts.Plan = plan
	if opts.ShowReasoning {
		o.logf("plan: %s", plan.Summary)
		for _, b := range plan.Blocks {
			o.logf("plan block: %s", b)
		}
	}

	// Part search → selection → documentation research.
	o.logf("searching for parts")
	found, err := runTyped[pipeline.PartSearchResults](ctx, o, runID, run,
		stage.PartSearch.WithModel(o.cfg.Models.Researcher), mustJSON(plan), "")
	if err != nil {
		return nil, err
	}
	run.Artifacts.FoundParts = &found
	o.logf("found %d candidate part(s)", len(found.Candidates))

	selected, err := runTyped[pipeline.PartSelection](ctx, o, runID, run,
		stage.PartSelection.WithModel(o.cfg.Models.Planner),
		mustJSON(struct {
			Plan       *pipeline.Plan              `json:"plan"`
			Candidates *pipeline.PartSearchResults `json:"candidates"`
		}{plan, &found}), "")
	if err != nil {
		return nil, err
	}
	run.Artifacts.SelectedParts = &selected
	o.logf("selected %d part(s)", len(selected.Parts))
	if opts.ShowReasoning {
		for _, r := range selected.Rationale {
			o.logf("selection: %s", r)
		}
	}

	research, err := runTyped[pipeline.ResearchFindings](ctx, o, runID, run,
		stage.DocResearch.WithModel(o.cfg.Models.Researcher),
		mustJSON(struct {
			Plan  *pipeline.Plan          `json:"plan"`
			Parts *pipeline.PartSelection `json:"parts"`
		}{plan, &selected}), "")
	if err != nil {
		return nil, err
	}
	run.Artifacts.Research = &research
	o.logf("documentation research done (%d note(s))", len(research.Notes))

	// Code generation.
	o.logf("generating circuit code")
	code, err := runTyped[pipeline.GeneratedCode](ctx, o, runID, run,
		stage.CodeGen.WithModel(o.cfg.Models.Coder),
		mustJSON(struct {
			Plan     *pipeline.Plan             `json:"plan"`
			Parts    *pipeline.PartSelection    `json:"parts"`
			Research *pipeline.ResearchFindings `json:"research"`
		}{plan, &selected, &research}), "")
	if err != nil {
		return nil, err
	}
	run.Artifacts.Code = &code

	// Correction loop: validation phase, optional runtime smoke test, then
	// the sandboxed rule check.
	tracker := correction.NewTracker(o.cfg.Pipeline.MaxAttempts)
	loopOut, err := o.runCorrectionLoop(ctx, runID, run, tracker)
	if err != nil {
		return nil, err
	}
	run.Artifacts.Code = loopOut.Code
	run.Artifacts.LastIssues = loopOut.UnresolvedIssues

	// Final artifact generation runs even when the loop was force-stopped:
	// partial progress is surfaced, not discarded.
	result, err := o.finalize(ctx, runID, run, opts)
	if err != nil {
		return nil, err
	}
	if !loopOut.Clean {
		result.UnresolvedIssues = loopOut.UnresolvedIssues
		warning := fmt.Sprintf("correction loop stopped after %d validation and %d rule-check attempt(s) without a clean pass",
			tracker.Attempts(correction.PhaseValidation), tracker.Attempts(correction.PhaseERC))
		if result.Warning != "" {
			result.Warning += "; " + warning
		} else {
			result.Warning = warning
		}
	}
	return result, nil
}

// runPlanStages produces the plan, presents it for feedback when running
// interactively, and applies the plan-edit decision strictly.
func (o *Orchestrator) runPlanStages(ctx context.Context, runID string, run *pipeline.Run, prompt string, opts Options) (*pipeline.Plan, error) {
	o.logf("drafting design plan")
	plan, err := runTyped[pipeline.Plan](ctx, o, runID, run,
		stage.Plan.WithModel(o.cfg.Models.Planner), prompt, "")
	if err != nil {
		return nil, err
	}

	if !opts.Interactive || o.feedback == nil {
		return &plan, nil
	}

	fb, err := o.feedback(&plan)
	if err != nil {
		return nil, fmt.Errorf("collect plan feedback: %w", err)
	}
	run.Artifacts.Feedback = fb
	if fb.None() {
		o.logf("plan accepted without edits")
		return &plan, nil
	}

	o.logf("applying plan feedback")
	decision, err := runTyped[pipeline.PlanDecision](ctx, o, runID, run,
		stage.PlanEdit.WithModel(o.cfg.Models.Planner),
		mustJSON(struct {
			Plan     *pipeline.Plan         `json:"plan"`
			Feedback *pipeline.PlanFeedback `json:"feedback"`
		}{&plan, fb}), "")
	if err != nil {
		return nil, err
	}
	// A malformed decision must fail fast, never silently keep the
	// stale plan.
	if err := decision.Validate(); err != nil {
		return nil, stage.NewFailure(stage.FailInternal, stage.PlanEdit.Name, "malformed plan-edit decision", err)
	}

	switch decision.Decision {
	case pipeline.DecisionApplyEdits:
		return decision.UpdatedPlan, nil
	case pipeline.DecisionRegenerate:
		o.logf("regenerating plan from scratch")
		regenerated, err := runTyped[pipeline.Plan](ctx, o, runID, run,
			stage.Plan.WithModel(o.cfg.Models.Planner),
			mustJSON(struct {
				Prompt   string                 `json:"prompt"`
				Feedback *pipeline.PlanFeedback `json:"feedback"`
			}{prompt, fb}), "")
		if err != nil {
			return nil, err
		}
		return &regenerated, nil
	}
	// Unreachable after Validate, kept for exhaustiveness.
	return nil, stage.NewFailure(stage.FailInternal, stage.PlanEdit.Name,
		fmt.Sprintf("unhandled decision %q", decision.Decision), nil)
}

// runTyped executes one stage and decodes its typed output, recording the
// stage run in the event log.
func runTyped[T any](ctx context.Context, o *Orchestrator, runID string, run *pipeline.Run, def stage.Definition, input string, extra string) (T, error) {
	var zero T
	run.CurrentStage = def.Name

	start := time.Now()
	resp, err := o.exec.Run(ctx, def, input, extra)
	elapsed := time.Since(start)
	if err != nil {
		o.logStageRun(runID, def.Name, "fail", elapsed)
		return zero, err
	}
	o.logStageRun(runID, def.Name, "success", elapsed)

	out, err := stage.Decode[T](resp)
	if err != nil {
		return zero, stage.NewFailure(stage.FailInternal, def.Name, "undecodable stage output", err)
	}
	return out, nil
}

// mustJSON marshals stage input payloads. The payload types are all
// marshalable by construction; a failure here is a programming error.
func mustJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("marshal stage input: %v", err))
	}
	return string(data)
}
