// Package sandbox manages ephemeral, network-isolated, resource-capped
// Docker containers used to run untrusted generated circuit code. A Session
// knows nothing about pipeline semantics; it only provisions, executes,
// copies artifacts out, and destroys.
package sandbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Outcome classifies the result of a single command execution.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeExit    Outcome = "exit_error"
	OutcomeTimeout Outcome = "timeout"
)

// ExecResult is the structured outcome of one command inside the sandbox.
// Execution never surfaces an unstructured failure for these three cases:
// clean exit, non-zero exit, and timeout all come back as a result.
type ExecResult struct {
	Outcome  Outcome
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Failed reports whether the command did anything other than exit cleanly.
func (r *ExecResult) Failed() bool {
	return r.Outcome != OutcomeOK
}

// Session is one ephemeral execution environment. Start and Stop are
// idempotent and safe to call concurrently; a termination signal firing
// during normal shutdown must not double-provision or double-destroy.
type Session struct {
	runner Runner
	opts   CreateOpts

	mu      sync.Mutex
	started bool
}

// UniqueName derives a container name that cannot collide across concurrent
// runs: prefix plus a random suffix.
func UniqueName(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString()[:12])
}

// NewSession creates an unstarted session. The container is provisioned
// lazily on the first Execute, or eagerly via Start.
func NewSession(runner Runner, opts CreateOpts) *Session {
	return &Session{runner: runner, opts: opts}
}

// Name returns the session's container name.
func (s *Session) Name() string {
	return s.opts.Name
}

// Start provisions the container. Calling Start on an already-started
// session is a no-op.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if err := s.runner.Create(ctx, s.opts); err != nil {
		return fmt.Errorf("provision sandbox %s: %w", s.opts.Name, err)
	}
	s.started = true
	return nil
}

// Execute runs one command inside the container, enforcing the given
// timeout. The session is started lazily if needed. The returned error is
// reserved for infrastructure faults (provisioning, docker unreachable);
// command outcomes are always reported in the result.
func (s *Session) Execute(ctx context.Context, command string, timeout time.Duration) (*ExecResult, error) {
	if err := s.Start(ctx); err != nil {
		return nil, err
	}

	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	stdout, stderr, exitCode, err := s.runner.Exec(execCtx, s.opts.Name, command)
	elapsed := time.Since(start)

	if execCtx.Err() == context.DeadlineExceeded {
		// Keep whatever partial output the command produced.
		return &ExecResult{
			Outcome:  OutcomeTimeout,
			ExitCode: -1,
			Stdout:   stdout,
			Stderr:   stderr,
			Duration: elapsed,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("exec in sandbox %s: %w", s.opts.Name, err)
	}

	outcome := OutcomeOK
	if exitCode != 0 {
		outcome = OutcomeExit
	}
	return &ExecResult{
		Outcome:  outcome,
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
		Duration: elapsed,
	}, nil
}

// CopyArtifacts copies files matching src out of the container. Best-effort:
// a copy failure is reported to the caller as its own error and must not be
// conflated with the status of any command that produced the files.
func (s *Session) CopyArtifacts(ctx context.Context, src string, dest string) error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	if !started {
		return fmt.Errorf("sandbox %s not started", s.opts.Name)
	}
	if err := s.runner.CopyFrom(ctx, s.opts.Name, src, dest); err != nil {
		return fmt.Errorf("copy artifacts from %s: %w", s.opts.Name, err)
	}
	return nil
}

// Stop destroys the container. Idempotent: safe to call when never started
// and safe to call repeatedly: the explicit teardown path, the shutdown
// hook, and the signal handler all converge here.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.started = false

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.runner.Remove(ctx, s.opts.Name); err != nil {
		return fmt.Errorf("destroy sandbox %s: %w", s.opts.Name, err)
	}
	return nil
}
