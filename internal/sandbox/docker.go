package sandbox

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CreateOpts holds parameters for provisioning a container.
type CreateOpts struct {
	Image     string
	Name      string
	MemoryMB  int
	PidsLimit int
	Network   bool     // network access; disabled by default
	Binds     []string // "host:container" mounts
}

// Runner abstracts the docker CLI for testability.
type Runner interface {
	Ping(ctx context.Context) error
	Create(ctx context.Context, opts CreateOpts) error
	Exec(ctx context.Context, name string, command string) (stdout string, stderr string, exitCode int, err error)
	CopyFrom(ctx context.Context, name string, src string, dest string) error
	Remove(ctx context.Context, name string) error
	ListNames(ctx context.Context) ([]string, error)
}

// ExecDocker implements Runner by shelling out to docker.
type ExecDocker struct{}

// NewExecDocker returns a new ExecDocker.
func NewExecDocker() *ExecDocker {
	return &ExecDocker{}
}

func (e *ExecDocker) Ping(ctx context.Context) error {
	if err := exec.CommandContext(ctx, "docker", "version", "--format", "{{.Server.Version}}").Run(); err != nil {
		return fmt.Errorf("docker not available: %w", err)
	}
	return nil
}

// Create provisions a long-lived container the session can exec into.
// Network defaults to none; memory and pids ceilings are always applied.
func (e *ExecDocker) Create(ctx context.Context, opts CreateOpts) error {
	args := []string{"run", "-d", "--name", opts.Name}

	network := "none"
	if opts.Network {
		network = "bridge"
	}
	args = append(args, "--network", network)

	if opts.MemoryMB > 0 {
		args = append(args, "--memory", fmt.Sprintf("%dm", opts.MemoryMB))
	}
	if opts.PidsLimit > 0 {
		args = append(args, "--pids-limit", fmt.Sprintf("%d", opts.PidsLimit))
	}
	for _, bind := range opts.Binds {
		args = append(args, "-v", bind)
	}

	args = append(args, opts.Image, "sleep", "infinity")

	out, err := exec.CommandContext(ctx, "docker", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("docker run %s: %w: %s", opts.Name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (e *ExecDocker) Exec(ctx context.Context, name string, command string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, "docker", "exec", name, "sh", "-c", command)

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return stdoutBuf.String(), stderrBuf.String(), -1, fmt.Errorf("docker exec: %w", err)
		}
	}
	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

func (e *ExecDocker) CopyFrom(ctx context.Context, name string, src string, dest string) error {
	out, err := exec.CommandContext(ctx, "docker", "cp", name+":"+src, dest).CombinedOutput()
	if err != nil {
		return fmt.Errorf("docker cp: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (e *ExecDocker) Remove(ctx context.Context, name string) error {
	out, err := exec.CommandContext(ctx, "docker", "rm", "-f", name).CombinedOutput()
	if err != nil {
		// Removing a container that is already gone is not an error.
		if strings.Contains(string(out), "No such container") {
			return nil
		}
		return fmt.Errorf("docker rm %s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (e *ExecDocker) ListNames(ctx context.Context) ([]string, error) {
	out, err := exec.CommandContext(ctx, "docker", "ps", "-a", "--format", "{{.Names}}").Output()
	if err != nil {
		return nil, fmt.Errorf("docker ps: %w", err)
	}
	raw := strings.TrimSpace(string(out))
	if raw == "" {
		return nil, nil
	}
	return strings.Split(raw, "\n"), nil
}
