package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Shaurya-Sethi/circuitron-sub000/internal/config"
	"github.com/Shaurya-Sethi/circuitron-sub000/internal/pipeline"
	"github.com/Shaurya-Sethi/circuitron-sub000/internal/sandbox"
	"github.com/Shaurya-Sethi/circuitron-sub000/internal/stage"
	"github.com/Shaurya-Sethi/circuitron-sub000/internal/telemetry"
)

// scriptedAgent returns canned responses per stage name, in order. When a
// stage's queue is down to one entry, that entry repeats, so outer retries
// can replay the sequence without rescripting every stage.
type scriptedAgent struct {
	mu     sync.Mutex
	queues map[string][]scriptedReply
	calls  map[string]int
}

type scriptedReply struct {
	output string
	err    error
}

func newScriptedAgent() *scriptedAgent {
	return &scriptedAgent{
		queues: make(map[string][]scriptedReply),
		calls:  make(map[string]int),
	}
}

func (a *scriptedAgent) script(stageName string, replies ...scriptedReply) {
	a.queues[stageName] = append(a.queues[stageName], replies...)
}

func (a *scriptedAgent) Invoke(_ context.Context, req stage.Request) (*stage.Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.calls[req.Stage.Name]++
	q := a.queues[req.Stage.Name]
	if len(q) == 0 {
		return nil, fmt.Errorf("no scripted reply for stage %q", req.Stage.Name)
	}
	reply := q[0]
	if len(q) > 1 {
		a.queues[req.Stage.Name] = q[1:]
	}
	if reply.err != nil {
		return nil, reply.err
	}
	return &stage.Response{
		Output: json.RawMessage(reply.output),
		Usage:  stage.UsageMetadata{Model: req.Stage.Model, Input: 10, Output: 5},
	}, nil
}

func (a *scriptedAgent) callCount(stageName string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[stageName]
}

// execOut is one canned sandbox command result.
type execOut struct {
	stdout   string
	stderr   string
	exitCode int
}

// fakeRunner answers sandbox commands without docker. Rule-check results are
// consumed from a queue (last entry repeats); the generation command writes
// a netlist file into the host side of the /out bind to mimic the real
// container.
type fakeRunner struct {
	mu       sync.Mutex
	created  []string
	removed  []string
	binds    map[string][]string
	ercQueue []execOut
	genOut   *execOut // nil means success
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{binds: make(map[string][]string)}
}

func (r *fakeRunner) Ping(context.Context) error { return nil }

func (r *fakeRunner) Create(_ context.Context, opts sandbox.CreateOpts) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, opts.Name)
	r.binds[opts.Name] = opts.Binds
	return nil
}

func (r *fakeRunner) Exec(_ context.Context, name string, command string) (string, string, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case strings.HasPrefix(command, "mkdir -p /work"):
		return "", "", 0, nil
	case strings.Contains(command, "--erc"):
		if len(r.ercQueue) == 0 {
			return "", "no scripted rule-check result", 1, nil
		}
		out := r.ercQueue[0]
		if len(r.ercQueue) > 1 {
			r.ercQueue = r.ercQueue[1:]
		}
		return out.stdout, out.stderr, out.exitCode, nil
	case strings.Contains(command, "--generate"):
		if r.genOut != nil {
			return r.genOut.stdout, r.genOut.stderr, r.genOut.exitCode, nil
		}
		for _, bind := range r.binds[name] {
			hostDir, _, ok := strings.Cut(bind, ":")
			if !ok {
				continue
			}
			if err := os.WriteFile(filepath.Join(hostDir, "circuit.net"), []byte("netlist"), 0o644); err != nil {
				return "", err.Error(), 1, nil
			}
		}
		return "wrote circuit.net", "", 0, nil
	case strings.Contains(command, "import circuit"):
		return "", "", 0, nil
	}
	return "", "", 0, nil
}

func (r *fakeRunner) CopyFrom(context.Context, string, string, string) error { return nil }

func (r *fakeRunner) Remove(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, name)
	return nil
}

func (r *fakeRunner) ListNames(context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.created...), nil
}

func (r *fakeRunner) allRemoved() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := make(map[string]bool, len(r.removed))
	for _, n := range r.removed {
		removed[n] = true
	}
	for _, n := range r.created {
		if !removed[n] {
			return false
		}
	}
	return true
}

const testSource = "from skidl import *\n"

// scriptHappySequence scripts every stage up to and including code
// generation with a single successful reply.
func scriptHappySequence(agent *scriptedAgent) {
	agent.script("guardrail", scriptedReply{output: `{"accepted": true}`})
	agent.script("plan", scriptedReply{output: `{"summary":"led blinker","requirements":["5V supply"],"blocks":["regulator","led"]}`})
	agent.script("part-search", scriptedReply{output: `{"candidates":[{"number":"NE555","description":"timer"}]}`})
	agent.script("part-selection", scriptedReply{output: `{"parts":[{"number":"NE555","description":"timer"}]}`})
	agent.script("doc-research", scriptedReply{output: `{"notes":["pin 4 is active-low reset"]}`})
	agent.script("code-generation", scriptedReply{output: fmt.Sprintf(`{"source":%q}`, testSource)})
}

func newTestOrchestrator(t *testing.T, agent *scriptedAgent, runner *fakeRunner) (*Orchestrator, *telemetry.Aggregator) {
	t.Helper()
	cfg := config.Default()
	cfg.Pipeline.MaxAttempts = 3
	usage := telemetry.NewAggregator()
	exec := stage.NewExecutor(agent, usage, zap.NewNop(), 1)
	o := New(exec, runner, cfg, usage, nil, nil, nil, zap.NewNop())
	o.sleep = func(time.Duration) {}
	return o, usage
}

func TestRun_CleanPassProducesArtifacts(t *testing.T) {
	agent := newScriptedAgent()
	scriptHappySequence(agent)
	agent.script("validation", scriptedReply{output: `{"passed": true}`})

	runner := newFakeRunner()
	runner.ercQueue = []execOut{{stdout: "0 errors, 0 warnings"}}

	o, usage := newTestOrchestrator(t, agent, runner)
	result, err := o.Run(context.Background(), "blink an LED", Options{OutputDir: t.TempDir()})
	require.NoError(t, err)

	assert.Equal(t, testSource, result.Code)
	assert.Empty(t, result.Warning)
	assert.Empty(t, result.UnresolvedIssues)
	require.Len(t, result.OutputFiles, 2)
	assert.Equal(t, "circuit.net", filepath.Base(result.OutputFiles[0]))
	assert.Equal(t, "circuit.py", filepath.Base(result.OutputFiles[1]))

	assert.Equal(t, 1, agent.callCount("validation"))
	assert.Zero(t, agent.callCount("correction"))
	assert.True(t, runner.allRemoved(), "every sandbox must be destroyed")

	summary := usage.Summary()
	assert.Positive(t, summary.Overall.Total)
}

func TestRun_RuleCheckFailureTriggersFocusedCorrection(t *testing.T) {
	agent := newScriptedAgent()
	scriptHappySequence(agent)
	agent.script("validation", scriptedReply{output: `{"passed": true}`})
	agent.script("correction", scriptedReply{output: `{"source":"fixed source","strategy":"tie reset high"}`})

	runner := newFakeRunner()
	runner.ercQueue = []execOut{
		{stdout: "ERC ERROR: unconnected pin RESET", exitCode: 1},
		{stdout: "0 errors, 0 warnings"},
	}

	o, _ := newTestOrchestrator(t, agent, runner)
	result, err := o.Run(context.Background(), "blink an LED", Options{OutputDir: t.TempDir()})
	require.NoError(t, err)

	// One validation pass, two rule-check attempts, one correction between.
	assert.Equal(t, 1, agent.callCount("validation"))
	assert.Equal(t, 1, agent.callCount("correction"))
	assert.Empty(t, result.Warning)
	assert.Equal(t, "fixed source", result.Code)
}

func TestRun_TransientFailureRestartsFromPlanning(t *testing.T) {
	agent := newScriptedAgent()
	scriptHappySequence(agent)
	agent.script("validation", scriptedReply{output: `{"passed": true}`})

	// Two consecutive network failures exhaust the executor's per-stage
	// budget, forcing a full-sequence restart.
	netErr := stage.NewFailure(stage.FailNetwork, "", "connection reset", nil)
	agent.queues["plan"] = append([]scriptedReply{{err: netErr}, {err: netErr}}, agent.queues["plan"]...)

	runner := newFakeRunner()
	runner.ercQueue = []execOut{{stdout: "0 errors"}}

	o, _ := newTestOrchestrator(t, agent, runner)
	slept := 0
	o.sleep = func(time.Duration) { slept++ }

	result, err := o.Run(context.Background(), "blink an LED", Options{OutputDir: t.TempDir(), OuterRetries: 1})
	require.NoError(t, err)
	assert.NotEmpty(t, result.OutputFiles)

	assert.Equal(t, 2, agent.callCount("guardrail"), "restart re-enters from the top")
	assert.Equal(t, 1, slept, "restart must back off first")
}

func TestRun_NegativeRetriesStillRunsOnce(t *testing.T) {
	agent := newScriptedAgent()
	scriptHappySequence(agent)
	agent.script("validation", scriptedReply{output: `{"passed": true}`})

	runner := newFakeRunner()
	runner.ercQueue = []execOut{{stdout: "0 errors"}}

	o, _ := newTestOrchestrator(t, agent, runner)
	result, err := o.Run(context.Background(), "blink an LED", Options{OutputDir: t.TempDir(), OuterRetries: -1})
	require.NoError(t, err)
	assert.NotEmpty(t, result.OutputFiles)
	assert.Equal(t, 1, agent.callCount("guardrail"))
}

func TestRun_PreexistingOutputFilesAreNotReported(t *testing.T) {
	agent := newScriptedAgent()
	scriptHappySequence(agent)
	agent.script("validation", scriptedReply{output: `{"passed": true}`})

	runner := newFakeRunner()
	runner.ercQueue = []execOut{{stdout: "0 errors"}}

	outDir := t.TempDir()
	stale := filepath.Join(outDir, "previous.net")
	require.NoError(t, os.WriteFile(stale, []byte("old netlist"), 0o644))

	o, _ := newTestOrchestrator(t, agent, runner)
	result, err := o.Run(context.Background(), "blink an LED", Options{OutputDir: outDir})
	require.NoError(t, err)

	require.Len(t, result.OutputFiles, 2)
	assert.Equal(t, "circuit.net", filepath.Base(result.OutputFiles[0]))
	assert.Equal(t, "circuit.py", filepath.Base(result.OutputFiles[1]))

	_, statErr := os.Stat(stale)
	assert.NoError(t, statErr, "earlier files stay in place")
}

func TestRun_GuardrailRejectionIsNeverRetried(t *testing.T) {
	agent := newScriptedAgent()
	agent.script("guardrail", scriptedReply{output: `{"accepted": false, "reason": "not a hardware request"}`})

	o, _ := newTestOrchestrator(t, agent, newFakeRunner())
	_, err := o.Run(context.Background(), "write me a poem", Options{OuterRetries: 3})

	require.Error(t, err)
	assert.True(t, stage.IsGuardrail(err))
	assert.Contains(t, err.Error(), "not a hardware request")
	assert.Equal(t, 1, agent.callCount("guardrail"))
	assert.Zero(t, agent.callCount("plan"))
}

func TestRun_MalformedPlanEditDecisionFailsFast(t *testing.T) {
	agent := newScriptedAgent()
	scriptHappySequence(agent)
	// apply_edits without the updated plan violates the decision contract.
	agent.script("plan-edit", scriptedReply{output: `{"decision": "apply_edits"}`})

	o, _ := newTestOrchestrator(t, agent, newFakeRunner())
	o.feedback = func(*pipeline.Plan) (*pipeline.PlanFeedback, error) {
		return &pipeline.PlanFeedback{Edits: []string{"use a 3.3V rail"}}, nil
	}

	_, err := o.Run(context.Background(), "blink an LED", Options{Interactive: true, OuterRetries: 2})
	require.Error(t, err)

	var f *stage.Failure
	require.True(t, errors.As(err, &f))
	assert.Equal(t, stage.FailInternal, f.Kind)
	assert.Contains(t, err.Error(), "malformed plan-edit decision")
	assert.Equal(t, 1, agent.callCount("plan-edit"), "internal faults are not retried")
	assert.Zero(t, agent.callCount("part-search"))
}

func TestRun_StagnantValidationStopsButStillFinalizes(t *testing.T) {
	agent := newScriptedAgent()
	scriptHappySequence(agent)
	// The same issue payload twice in a row means the loop is stuck; the
	// attempt ceiling of 3 is not reached yet.
	agent.script("validation", scriptedReply{output: `{"passed": false, "issues": ["part U1 has no footprint"]}`})
	agent.script("correction", scriptedReply{output: `{"source":"still broken"}`})

	runner := newFakeRunner()
	o, _ := newTestOrchestrator(t, agent, runner)

	outDir := t.TempDir()
	result, err := o.Run(context.Background(), "blink an LED", Options{OutputDir: outDir})
	require.NoError(t, err, "a forced stop is a degraded result, not an error")

	assert.Equal(t, 2, agent.callCount("validation"))
	assert.Equal(t, 1, agent.callCount("correction"))
	assert.Equal(t, []string{"part U1 has no footprint"}, result.UnresolvedIssues)
	assert.Contains(t, result.Warning, "without a clean pass")
	assert.NotEmpty(t, result.OutputFiles, "partial output is surfaced, not discarded")
	assert.True(t, runner.allRemoved())
}

func TestRun_RuleCheckTimeoutCountsAsFailedAttempt(t *testing.T) {
	agent := newScriptedAgent()
	scriptHappySequence(agent)
	agent.script("validation", scriptedReply{output: `{"passed": true}`})
	agent.script("correction", scriptedReply{output: `{"source":"faster source","strategy":"reduce net count"}`})

	runner := newFakeRunner()
	runner.ercQueue = []execOut{{stdout: "0 errors"}}

	o, _ := newTestOrchestrator(t, agent, runner)

	// First rule-check execution times out, second succeeds.
	timedOut := false
	base := o.runner
	o.runner = runnerFunc{base: base, exec: func(ctx context.Context, name, command string) (string, string, int, error) {
		if strings.Contains(command, "--erc") && !timedOut {
			timedOut = true
			<-ctx.Done()
			return "partial erc output", "", -1, ctx.Err()
		}
		return base.Exec(ctx, name, command)
	}}
	o.cfg.Sandbox.ExecTimeout = "50ms"

	result, err := o.Run(context.Background(), "blink an LED", Options{OutputDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, 1, agent.callCount("correction"), "timeout routes through correction like any failed attempt")
	assert.Empty(t, result.Warning)
}

func TestBackoffDelay(t *testing.T) {
	initial := 2 * time.Second
	max := 3 * time.Minute

	assert.Equal(t, 2*time.Second, backoffDelay(initial, 0, max))
	assert.Equal(t, 4*time.Second, backoffDelay(initial, 1, max))
	assert.Equal(t, 8*time.Second, backoffDelay(initial, 2, max))
	assert.Equal(t, max, backoffDelay(initial, 20, max), "delay is capped")
}

// runnerFunc wraps a base runner, overriding Exec.
type runnerFunc struct {
	base sandbox.Runner
	exec func(ctx context.Context, name, command string) (string, string, int, error)
}

func (r runnerFunc) Ping(ctx context.Context) error { return r.base.Ping(ctx) }
func (r runnerFunc) Create(ctx context.Context, opts sandbox.CreateOpts) error {
	return r.base.Create(ctx, opts)
}
func (r runnerFunc) Exec(ctx context.Context, name, command string) (string, string, int, error) {
	return r.exec(ctx, name, command)
}
func (r runnerFunc) CopyFrom(ctx context.Context, name, src, dest string) error {
	return r.base.CopyFrom(ctx, name, src, dest)
}
func (r runnerFunc) Remove(ctx context.Context, name string) error { return r.base.Remove(ctx, name) }
func (r runnerFunc) ListNames(ctx context.Context) ([]string, error) {
	return r.base.ListNames(ctx)
}
