package ceph

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/perfctl/internal/tools"
	"github.com/rs/zerolog"
)

const (
	DefaultBinary  = "ceph"
	DefaultRunPath = "/var/run/ceph"

	// exitUnsupported is returned by an admin socket that does not know the command.
	exitUnsupported int32 = 22
)

var (
	ErrCommandNotFound = errors.New("ceph: command not found")
	ErrExecution       = errors.New("ceph: execution error")
	ErrUnsupported     = errors.New("ceph: command unsupported by daemon")
	ErrUnknownRole     = errors.New("ceph: unknown role")
	ErrBadOutput       = errors.New("ceph: unexpected command output")
)

// Client runs ceph commands through a CommandRunner.
type Client struct {
	Binary  string
	RunPath string
	Runner  tools.CommandRunner
	Log     zerolog.Logger
}

// NewClient fills empty fields with defaults and the local exec runner.
func NewClient(binary, runPath string, runner tools.CommandRunner, log zerolog.Logger) *Client {
	if strings.TrimSpace(binary) == "" {
		binary = DefaultBinary
	}
	if strings.TrimSpace(runPath) == "" {
		runPath = DefaultRunPath
	}
	if runner == nil {
		runner = tools.ExecRunner{}
	}
	return &Client{
		Binary:  binary,
		RunPath: runPath,
		Runner:  runner,
		Log:     log.With().Str("component", "ceph").Logger(),
	}
}

func (c *Client) run(ctx context.Context, args ...string) ([]byte, error) {
	stdout, stderr, code, err := c.Runner.Run(ctx, c.Binary, args...)
	if err == nil && code == 0 {
		return stdout, nil
	}
	cmd := c.Binary + " " + strings.Join(args, " ")
	switch code {
	case tools.ExitNotFound:
		c.Log.Error().Str("binary", c.Binary).Msg("ceph command not found")
		return nil, fmt.Errorf("%w: %s", ErrCommandNotFound, c.Binary)
	case exitUnsupported:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, cmd)
	}
	c.Log.Error().Err(err).Str("cmd", cmd).Int32("exit", code).Msg("ceph command failed")
	msg := strings.TrimSpace(string(stderr))
	if msg == "" && err != nil {
		msg = err.Error()
	}
	return nil, fmt.Errorf("%w: %s: exit %d: %s", ErrExecution, cmd, code, msg)
}
