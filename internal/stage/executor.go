package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Shaurya-Sethi/circuitron-sub000/internal/telemetry"
)

// Request is the input handed to an Agent for one stage invocation.
type Request struct {
	Stage Definition
	// Input is the primary payload for the stage (prompt, code, report).
	Input string
	// Context carries additional advisory text, e.g. the correction
	// tracker's summary of what has already been tried.
	Context string
}

// UsageMetadata captures token usage reported by the agent backend.
type UsageMetadata struct {
	Model       string
	Input       int64
	Output      int64
	CachedInput int64
}

// Response is the typed output of one stage invocation. A response and a
// failure are mutually exclusive: an Agent returns exactly one of them.
type Response struct {
	Output json.RawMessage
	Usage  UsageMetadata
}

// Agent is the black box that actually runs a stage: input in, typed output
// or typed failure out. Implementations translate their backend's errors
// into *Failure values; anything else is treated as an internal fault.
type Agent interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
}

// Executor invokes an Agent with the stage's deadline enforced and
// transient failures retried within a small per-stage budget. It is the
// boundary where backend-specific errors become the system taxonomy.
type Executor struct {
	agent   Agent
	usage   *telemetry.Aggregator
	log     *zap.Logger
	retries int
}

// NewExecutor creates an Executor. retries is the per-stage transient retry
// budget; non-positive means one retry.
func NewExecutor(agent Agent, usage *telemetry.Aggregator, log *zap.Logger, retries int) *Executor {
	if retries <= 0 {
		retries = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{agent: agent, usage: usage, log: log, retries: retries}
}

// Run executes one stage to completion. Transient failures are retried up
// to the executor's budget, never silently beyond it; the last failure is
// returned typed.
func (e *Executor) Run(ctx context.Context, def Definition, input string, extra string) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt <= e.retries; attempt++ {
		if attempt > 0 {
			e.log.Info("retrying stage after transient failure",
				zap.String("stage", def.Name),
				zap.Int("attempt", attempt+1),
				zap.Error(lastErr))
		}

		resp, err := e.runOnce(ctx, def, input, extra)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !IsTransient(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

func (e *Executor) runOnce(ctx context.Context, def Definition, input string, extra string) (*Response, error) {
	timeout := def.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := e.agent.Invoke(stageCtx, Request{Stage: def, Input: input, Context: extra})
	elapsed := time.Since(start)

	if err != nil {
		if stageCtx.Err() == context.DeadlineExceeded {
			return nil, NewFailure(FailTimeout, def.Name,
				fmt.Sprintf("deadline of %s exceeded", timeout), err)
		}
		if f, ok := AsFailure(err); ok {
			if f.Stage == "" {
				f.Stage = def.Name
			}
			return nil, f
		}
		return nil, NewFailure(FailInternal, def.Name, "agent fault", err)
	}
	if resp == nil {
		return nil, NewFailure(FailInternal, def.Name, "agent returned no response", nil)
	}

	e.log.Debug("stage completed",
		zap.String("stage", def.Name),
		zap.Duration("duration", elapsed),
		zap.Int64("input_tokens", resp.Usage.Input),
		zap.Int64("output_tokens", resp.Usage.Output))

	if e.usage != nil {
		model := resp.Usage.Model
		if model == "" {
			model = def.Model
		}
		e.usage.Record(model, telemetry.Usage{
			Input:       resp.Usage.Input,
			Output:      resp.Usage.Output,
			CachedInput: resp.Usage.CachedInput,
		})
	}
	return resp, nil
}

// Decode unmarshals a stage response into the stage's typed output.
func Decode[T any](resp *Response) (T, error) {
	var out T
	if resp == nil || len(resp.Output) == 0 {
		return out, fmt.Errorf("empty stage output")
	}
	if err := json.Unmarshal(resp.Output, &out); err != nil {
		return out, fmt.Errorf("decode stage output: %w", err)
	}
	return out, nil
}
