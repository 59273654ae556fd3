// Package orchestrator sequences the Circuitron pipeline: guardrail screen,
// planning, part search and selection, documentation research, code
// generation, the validation/ERC correction loop, and final artifact
// generation, with a bounded outer retry around the whole sequence.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/Shaurya-Sethi/circuitron-sub000/internal/config"
	"github.com/Shaurya-Sethi/circuitron-sub000/internal/db"
	"github.com/Shaurya-Sethi/circuitron-sub000/internal/lifecycle"
	"github.com/Shaurya-Sethi/circuitron-sub000/internal/pipeline"
	"github.com/Shaurya-Sethi/circuitron-sub000/internal/sandbox"
	"github.com/Shaurya-Sethi/circuitron-sub000/internal/stage"
	"github.com/Shaurya-Sethi/circuitron-sub000/internal/telemetry"
)

// FeedbackFunc collects human feedback on a presented plan. A nil func or a
// feedback with no edits and no new requirements proceeds without the
// plan-edit stage.
type FeedbackFunc func(plan *pipeline.Plan) (*pipeline.PlanFeedback, error)

// Options configures one Run invocation.
type Options struct {
	OuterRetries  int
	OutputDir     string
	Interactive   bool
	ShowReasoning bool // surface intermediate stage artifacts on the progress writer
}

// Orchestrator drives one pipeline run at a time. Construct once per
// process; each Run owns its own pipeline.Run and correction state.
type Orchestrator struct {
	exec     *stage.Executor
	runner   sandbox.Runner
	cfg      *config.Config
	usage    *telemetry.Aggregator
	events   *db.DB // nil when the event log is disabled
	shutdown *lifecycle.Manager
	feedback FeedbackFunc
	log      *zap.Logger
	progress io.Writer // live progress output; nil = silent

	// sleep is swappable for tests of the backoff policy.
	sleep func(time.Duration)
}

// New creates an Orchestrator.
func New(
	exec *stage.Executor,
	runner sandbox.Runner,
	cfg *config.Config,
	usage *telemetry.Aggregator,
	events *db.DB,
	shutdown *lifecycle.Manager,
	feedback FeedbackFunc,
	log *zap.Logger,
) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		exec:     exec,
		runner:   runner,
		cfg:      cfg,
		usage:    usage,
		events:   events,
		shutdown: shutdown,
		feedback: feedback,
		log:      log,
		sleep:    time.Sleep,
	}
}

// SetProgress sets a writer for live progress output (e.g. os.Stderr).
func (o *Orchestrator) SetProgress(w io.Writer) {
	o.progress = w
}

// logf prints a progress line if a progress writer is configured.
func (o *Orchestrator) logf(format string, args ...interface{}) {
	if o.progress != nil {
		fmt.Fprintf(o.progress, "  → "+format+"\n", args...)
	}
}

// Run executes the full pipeline for one prompt. On a retryable fatal error
// the whole sequence restarts from planning, with progressive backoff, up to
// opts.OuterRetries restarts. Guardrail rejections are never retried.
func (o *Orchestrator) Run(ctx context.Context, prompt string, opts Options) (*pipeline.Result, error) {
	if o.usage != nil {
		o.usage.Reset()
	}
	if opts.OutputDir == "" {
		opts.OutputDir = o.cfg.Output.Dir
	}
	// A negative retry count still gets the one initial attempt.
	if opts.OuterRetries < 0 {
		opts.OuterRetries = 0
	}

	runID := sandbox.UniqueName(o.cfg.Sandbox.NamePrefix)
	o.logEvent(runID, "started", "", truncate(prompt, 200))

	initialDelay := config.Duration(o.cfg.Pipeline.InitialDelay, 2*time.Second)
	baseTimeout := config.Duration(o.cfg.Pipeline.BaseTimeout, time.Minute)
	maxDelay := 3 * baseTimeout

	var lastErr error
	for attempt := 0; attempt <= opts.OuterRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(initialDelay, attempt-1, maxDelay)
			o.logf("run failed (%v), retrying in %s (attempt %d/%d)",
				lastErr, delay, attempt+1, opts.OuterRetries+1)
			o.log.Warn("restarting pipeline from planning",
				zap.Int("attempt", attempt+1), zap.Duration("delay", delay), zap.Error(lastErr))
			o.sleep(delay)
		}

		result, err := o.runOnce(ctx, runID, prompt, attempt, opts)
		if err == nil {
			o.logEvent(runID, "completed", "", "")
			return result, nil
		}
		if stage.IsGuardrail(err) {
			o.logEvent(runID, "rejected", "guardrail", err.Error())
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, err
		}
		// Only transient failures restart the sequence. Internal faults
		// (malformed stage output, programming errors) surface immediately.
		if !stage.IsTransient(err) {
			o.logEvent(runID, "run_failed", "", err.Error())
			return nil, err
		}
		lastErr = err
		o.logEvent(runID, "run_failed", "", err.Error())
	}

	o.logEvent(runID, "retries_exhausted", "", lastErr.Error())
	return nil, fmt.Errorf("pipeline failed after %d attempt(s): %w", opts.OuterRetries+1, lastErr)
}

// backoffDelay computes initial * 2^attempt, capped at max.
func backoffDelay(initial time.Duration, attempt int, max time.Duration) time.Duration {
	delay := initial
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// logEvent appends to the event log when one is configured. Diagnostics
// only; a write failure never affects the run.
func (o *Orchestrator) logEvent(runID string, event string, stageName string, detail string) {
	if o.events == nil {
		return
	}
	if err := o.events.LogPipelineEvent(runID, event, stageName, detail); err != nil {
		o.log.Debug("event log write failed", zap.Error(err))
	}
}

func (o *Orchestrator) logStageRun(runID string, stageName string, outcome string, elapsed time.Duration) {
	if o.events == nil {
		return
	}
	if err := o.events.LogStageRun(runID, stageName, outcome, int(elapsed.Milliseconds()), ""); err != nil {
		o.log.Debug("event log write failed", zap.Error(err))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
