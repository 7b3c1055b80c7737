package tools

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// ExitNotFound is the exit code reported when the binary cannot be started.
const ExitNotFound int32 = 127

// CommandRunner abstracts command execution so callers can be tested with fakes.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, []byte, int32, error)
}

// RunnerFunc adapts a function to CommandRunner.
type RunnerFunc func(ctx context.Context, name string, args ...string) ([]byte, []byte, int32, error)

func (f RunnerFunc) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, int32, error) {
	return f(ctx, name, args...)
}

// ExecRunner executes commands on the local host.
type ExecRunner struct{}

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, int32, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), stderr.Bytes(), 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.Bytes(), stderr.Bytes(), int32(exitErr.ExitCode()), err
	}

	exitCode := int32(1)
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		exitCode = ExitNotFound
	}
	return stdout.Bytes(), stderr.Bytes(), exitCode, err
}
