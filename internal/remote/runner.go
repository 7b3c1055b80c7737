package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

var ErrCopy = errors.New("remote: copy failed")

// Runner executes commands on one host.
type Runner interface {
	Run(ctx context.Context, cmd string, args ...string) (string, error)
	RunStreaming(ctx context.Context, cmd string, args []string, stdout, stderr io.Writer) error
	// Copy uploads the local file src to dst, keeping its permission bits.
	Copy(ctx context.Context, src, dst string) error
}

func joinCommand(cmd string, args []string) string {
	if len(args) == 0 {
		return shellEscape(cmd)
	}

	var builder strings.Builder
	builder.WriteString(shellEscape(cmd))
	for _, arg := range args {
		builder.WriteByte(' ')
		builder.WriteString(shellEscape(arg))
	}

	return builder.String()
}

func shellEscape(value string) string {
	if value == "" {
		return "''"
	}

	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}

// Detached wraps cmd so it keeps running after the launching session ends.
// Output goes to logPath, or is discarded when logPath is empty.
func Detached(cmd string, args []string, logPath string) (string, []string) {
	target := "/dev/null"
	if strings.TrimSpace(logPath) != "" {
		target = shellEscape(logPath)
	}
	return "sh", []string{"-c", fmt.Sprintf("nohup %s >%s 2>&1 </dev/null &", joinCommand(cmd, args), target)}
}

type LocalRunner struct{}

func (LocalRunner) Run(ctx context.Context, cmd string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, cmd, args...).CombinedOutput()
	return string(out), err
}

func (LocalRunner) RunStreaming(ctx context.Context, cmd string, args []string, stdout, stderr io.Writer) error {
	command := exec.CommandContext(ctx, cmd, args...)
	if stdout != nil {
		command.Stdout = stdout
	}
	if stderr != nil {
		command.Stderr = stderr
	}
	return command.Run()
}

func (LocalRunner) Copy(ctx context.Context, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCopy, err)
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCopy, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrCopy, err)
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCopy, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("%w: %v", ErrCopy, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrCopy, err)
	}
	return os.Chmod(dst, info.Mode().Perm())
}
