package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// waitDelay bounds how long a cancelled command may keep its output pipes
// open through grandchildren.
const waitDelay = 2 * time.Second

// Output is what a Runner captured from one command.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes a command text. A non-nil error means the command could
// not be run to completion; a non-zero exit is reported through
// Output.ExitCode, not as an error.
type Runner interface {
	Run(ctx context.Context, command string) (Output, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, command string) (Output, error)

func (f RunnerFunc) Run(ctx context.Context, command string) (Output, error) {
	return f(ctx, command)
}

// ShellRunner runs each command with "<Shell> -c <command>".
type ShellRunner struct {
	Shell string
}

func (r ShellRunner) Run(ctx context.Context, command string) (Output, error) {
	shell := r.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := Output{Stdout: stdout.String(), Stderr: stderr.String()}
	if ctxErr := ctx.Err(); ctxErr != nil {
		out.ExitCode = -1
		return out, fmt.Errorf("command aborted: %w", ctxErr)
	}

	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	case err != nil:
		out.ExitCode = -1
		return out, err
	}
	return out, nil
}
