package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Shaurya-Sethi/circuitron-sub000/internal/config"
	"github.com/Shaurya-Sethi/circuitron-sub000/internal/correction"
	"github.com/Shaurya-Sethi/circuitron-sub000/internal/erc"
	"github.com/Shaurya-Sethi/circuitron-sub000/internal/pipeline"
	"github.com/Shaurya-Sethi/circuitron-sub000/internal/sandbox"
	"github.com/Shaurya-Sethi/circuitron-sub000/internal/stage"
)

// Commands run inside the sandbox against the generated script.
const (
	codePath     = "/work/circuit.py"
	smokeCommand = "cd /work && python -c 'import circuit'"
	ercCommand   = "cd /work && python circuit.py --erc"
)

// loopResult is what the correction loop hands to finalization.
type loopResult struct {
	Code             *pipeline.GeneratedCode
	Clean            bool
	UnresolvedIssues []string
}

// runCorrectionLoop drives validation, the optional runtime smoke test, and
// the sandboxed rule check, bounded by the tracker. A forced stop is not an
// error: the caller still finalizes and reports the last-known issues.
func (o *Orchestrator) runCorrectionLoop(ctx context.Context, runID string, run *pipeline.Run, tracker *correction.Tracker) (*loopResult, error) {
	code := run.Artifacts.Code

	// Phase 1: validation. Purely agent-side, no sandbox.
	lastStrategy := ""
	for {
		o.logf("validating generated code (attempt %d)", tracker.Attempts(correction.PhaseValidation)+1)
		report, err := runTyped[pipeline.ValidationReport](ctx, o, runID, run,
			stage.Validate.WithModel(o.cfg.Models.Corrector), code.Source, "")
		if err != nil {
			return nil, err
		}
		tracker.RecordValidation(report.Passed, report.Issues, code.Corrections)
		o.logCorrection(runID, tracker, correction.PhaseValidation, report.Passed, report.Issues)

		if report.Passed {
			o.logf("validation passed")
			break
		}
		if lastStrategy != "" {
			tracker.MarkStrategyFailed(lastStrategy)
		}
		if !tracker.ShouldContinue(correction.PhaseValidation) {
			o.logf("validation attempts exhausted, proceeding with last-known issues")
			return &loopResult{Code: code, Clean: false, UnresolvedIssues: report.Issues}, nil
		}

		o.logf("correcting code (%d issue(s))", len(report.Issues))
		corrected, err := runTyped[pipeline.GeneratedCode](ctx, o, runID, run,
			stage.Correct.WithModel(o.cfg.Models.Corrector),
			mustJSON(struct {
				Source string   `json:"source"`
				Issues []string `json:"issues"`
			}{code.Source, report.Issues}),
			tracker.NextAttemptSummary())
		if err != nil {
			return nil, err
		}
		code = &corrected
		lastStrategy = corrected.Strategy
	}

	// Phase 1.5: optional sandboxed smoke test. Import and instantiate
	// only, no rule evaluation, with its own attempt bookkeeping.
	if o.cfg.Pipeline.RuntimeCheck {
		smoked, err := o.runSmokeCheck(ctx, runID, run, code)
		if err != nil {
			return nil, err
		}
		code = smoked
	}

	// Phase 2: electrical rule check inside one sandbox, reused across
	// attempts. Correction here is explicitly rule-check-focused.
	session := o.newSession("erc", nil)
	stopSession := o.guardSession(session)
	defer stopSession()

	execTimeout := config.Duration(o.cfg.Sandbox.ExecTimeout, 2*time.Minute)
	lastStrategy = ""
	for {
		o.logf("running electrical rule check (attempt %d)", tracker.Attempts(correction.PhaseERC)+1)
		report, err := o.runERC(ctx, runID, session, code, execTimeout)
		if err != nil {
			return nil, err
		}
		tracker.RecordERC(report.Passed, report.Issues, code.Corrections)
		o.logCorrection(runID, tracker, correction.PhaseERC, report.Passed, report.Issues)

		if report.Passed {
			o.logf("rule check passed: %s", report.Summary)
			return &loopResult{Code: code, Clean: true}, nil
		}
		if lastStrategy != "" {
			tracker.MarkStrategyFailed(lastStrategy)
		}
		if !tracker.ShouldContinue(correction.PhaseERC) {
			o.logf("rule-check attempts exhausted, proceeding with last-known issues")
			return &loopResult{Code: code, Clean: false, UnresolvedIssues: report.Issues}, nil
		}

		o.logf("correcting code for rule-check issues (%d)", len(report.Issues))
		corrected, err := runTyped[pipeline.GeneratedCode](ctx, o, runID, run,
			stage.Correct.WithModel(o.cfg.Models.Corrector),
			mustJSON(struct {
				Source string   `json:"source"`
				Issues []string `json:"issues"`
				Focus  string   `json:"focus"`
			}{code.Source, report.Issues, "rule-check only, ignore validation concerns"}),
			tracker.NextAttemptSummary())
		if err != nil {
			return nil, err
		}
		code = &corrected
		lastStrategy = corrected.Strategy
	}
}

// runERC writes the code into the sandbox, runs the rule check, and
// normalizes the three exec outcomes into a report. A timeout is a failed
// attempt with the partial output attached, not an error.
func (o *Orchestrator) runERC(ctx context.Context, runID string, session *sandbox.Session, code *pipeline.GeneratedCode, timeout time.Duration) (*erc.Report, error) {
	if err := o.writeCode(ctx, session, code.Source); err != nil {
		return nil, err
	}

	res, err := session.Execute(ctx, ercCommand, timeout)
	if err != nil {
		return nil, err
	}
	o.logSandbox(runID, session.Name(), "exec", fmt.Sprintf("erc outcome=%s", res.Outcome))

	if res.Outcome == sandbox.OutcomeTimeout {
		issue := fmt.Sprintf("rule check timed out after %s", timeout)
		if tail := truncate(res.Stdout, 2000); tail != "" {
			issue += "; partial output: " + tail
		}
		return &erc.Report{Passed: false, Issues: []string{issue}, Summary: "rule check timed out"}, nil
	}
	return erc.Parse(res.Stdout, res.Stderr, res.ExitCode), nil
}

// runSmokeCheck import-tests the code in a short-lived sandbox with a
// tighter timeout. Failures route to the dedicated runtime-correction
// stage, tracked separately from the validation/rule-check phases.
func (o *Orchestrator) runSmokeCheck(ctx context.Context, runID string, run *pipeline.Run, code *pipeline.GeneratedCode) (*pipeline.GeneratedCode, error) {
	session := o.newSession("smoke", nil)
	stopSession := o.guardSession(session)
	defer stopSession()

	smokeTimeout := config.Duration(o.cfg.Sandbox.SmokeTimeout, 30*time.Second)
	maxAttempts := o.cfg.Pipeline.MaxAttempts

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		o.logf("runtime smoke test (attempt %d/%d)", attempt, maxAttempts)
		if err := o.writeCode(ctx, session, code.Source); err != nil {
			return nil, err
		}
		res, err := session.Execute(ctx, smokeCommand, smokeTimeout)
		if err != nil {
			return nil, err
		}
		o.logSandbox(runID, session.Name(), "exec", fmt.Sprintf("smoke outcome=%s", res.Outcome))

		if res.Outcome == sandbox.OutcomeOK {
			o.logf("smoke test passed")
			return code, nil
		}
		if attempt == maxAttempts {
			o.logf("smoke test still failing after %d attempt(s), continuing to rule check", maxAttempts)
			return code, nil
		}

		output := res.Stderr
		if output == "" {
			output = res.Stdout
		}
		corrected, err := runTyped[pipeline.GeneratedCode](ctx, o, runID, run,
			stage.RuntimeCorrect.WithModel(o.cfg.Models.Corrector),
			mustJSON(struct {
				Source string `json:"source"`
				Output string `json:"runtime_output"`
			}{code.Source, truncate(output, 4000)}), "")
		if err != nil {
			return nil, err
		}
		code = &corrected
	}
	return code, nil
}

// writeCode places the generated source at codePath inside the sandbox.
func (o *Orchestrator) writeCode(ctx context.Context, session *sandbox.Session, source string) error {
	cmd := fmt.Sprintf("mkdir -p /work && cat > %s <<'CIRCUITRON_EOF'\n%s\nCIRCUITRON_EOF", codePath, source)
	res, err := session.Execute(ctx, cmd, 30*time.Second)
	if err != nil {
		return err
	}
	if res.Failed() {
		return fmt.Errorf("write code into sandbox %s: %s", session.Name(), truncate(res.Stderr, 500))
	}
	return nil
}

// newSession builds a session with the configured image and limits and a
// name unique to this run, so concurrent runs never share an environment.
func (o *Orchestrator) newSession(kind string, binds []string) *sandbox.Session {
	return sandbox.NewSession(o.runner, sandbox.CreateOpts{
		Image:     o.cfg.Sandbox.Image,
		Name:      sandbox.UniqueName(o.cfg.Sandbox.NamePrefix + "-" + kind),
		MemoryMB:  o.cfg.Sandbox.MemoryMB,
		PidsLimit: o.cfg.Sandbox.PidsLimit,
		Network:   o.cfg.Sandbox.NetworkEnabled,
		Binds:     binds,
	})
}

// guardSession registers the session's teardown with the lifecycle manager
// and returns the combined stop-and-deregister function. Stop is idempotent,
// so a signal racing the normal path destroys the container exactly once.
func (o *Orchestrator) guardSession(session *sandbox.Session) func() {
	deregister := func() {}
	if o.shutdown != nil {
		deregister = o.shutdown.OnShutdown(func() {
			_ = session.Stop()
		})
	}
	return func() {
		if err := session.Stop(); err != nil {
			o.log.Warn("sandbox teardown failed", zap.String("name", session.Name()), zap.Error(err))
		}
		deregister()
	}
}

func (o *Orchestrator) logCorrection(runID string, tracker *correction.Tracker, phase correction.Phase, passed bool, issues []string) {
	if o.events == nil {
		return
	}
	err := o.events.LogCorrectionAttempt(runID, string(phase), tracker.Attempts(phase), passed, mustJSON(issues))
	if err != nil {
		o.log.Debug("event log write failed", zap.Error(err))
	}
}

func (o *Orchestrator) logSandbox(runID string, name string, event string, detail string) {
	if o.events == nil {
		return
	}
	if err := o.events.LogSandboxEvent(runID, name, event, detail); err != nil {
		o.log.Debug("event log write failed", zap.Error(err))
	}
}
