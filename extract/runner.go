package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// RunResult is the captured outcome of one subprocess.
type RunResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Success reports a zero exit status.
func (r RunResult) Success() bool { return r.ExitCode == 0 }

// Runner starts external tools. A non-zero exit is reported through
// RunResult.ExitCode; the error return is reserved for a process that could
// not be started at all.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (RunResult, error)
}

// ExecRunner runs tools with os/exec.
type ExecRunner struct {
	// Env, when set, replaces the inherited environment.
	Env         []string
	execCommand func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// NewExecRunner returns a Runner backed by exec.CommandContext.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{execCommand: exec.CommandContext}
}

// Run executes name with args, keeping stdout and stderr apart.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (RunResult, error) {
	var stdout, stderr bytes.Buffer
	cmd := r.execCommand(ctx, name, args...) //nolint:gosec // G204: tool paths come from service config
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if r.Env != nil {
		cmd.Env = r.Env
	}

	err := cmd.Run()
	result := RunResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return result, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// -1 when the process was killed, e.g. by the context deadline.
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	return result, fmt.Errorf("start %s: %w", name, err)
}
