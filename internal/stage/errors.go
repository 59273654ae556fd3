package stage

import (
	"errors"
	"fmt"
)

// FailureKind classifies a stage failure for the orchestrator's
// retry/fatal branching. Nothing framework-specific escapes past this
// taxonomy.
type FailureKind string

const (
	// FailGuardrail means the input was judged out of domain.
	// Fatal, never retried.
	FailGuardrail FailureKind = "guardrail_rejected"
	// FailNetwork is a transient transport failure. Retry-eligible.
	FailNetwork FailureKind = "network"
	// FailMaxTurns means the agent exhausted its turn budget. Retry-eligible.
	FailMaxTurns FailureKind = "max_turns"
	// FailTimeout is a stage deadline expiry. Retry-eligible.
	FailTimeout FailureKind = "timeout"
	// FailInternal is an unexpected fault. Fatal.
	FailInternal FailureKind = "internal"
)

// Failure is the typed error every stage invocation can produce. It carries
// a kind the orchestrator branches on and a human-readable message.
type Failure struct {
	Kind  FailureKind
	Stage string
	Msg   string
	Err   error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("stage %s: %s: %s: %v", f.Stage, f.Kind, f.Msg, f.Err)
	}
	return fmt.Sprintf("stage %s: %s: %s", f.Stage, f.Kind, f.Msg)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// NewFailure constructs a Failure for the given stage and kind.
func NewFailure(kind FailureKind, stageName string, msg string, err error) *Failure {
	return &Failure{Kind: kind, Stage: stageName, Msg: msg, Err: err}
}

// AsFailure extracts a *Failure from an error chain.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// IsTransient reports whether the error is retry-eligible: network faults,
// exhausted turn budgets, and timeouts. Guardrail rejections and internal
// faults are not.
func IsTransient(err error) bool {
	f, ok := AsFailure(err)
	if !ok {
		return false
	}
	switch f.Kind {
	case FailNetwork, FailMaxTurns, FailTimeout:
		return true
	}
	return false
}

// IsGuardrail reports whether the error is a guardrail rejection.
func IsGuardrail(err error) bool {
	f, ok := AsFailure(err)
	return ok && f.Kind == FailGuardrail
}
