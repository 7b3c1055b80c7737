package main

import (
	"errors"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/danmuck/perfctl/internal/collector"
	"github.com/danmuck/perfctl/internal/output"
	"github.com/spf13/cobra"
)

func exampleConfigPath(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatalf("resolve test file path")
	}
	return filepath.Join(filepath.Dir(file), "ex.config.toml")
}

func parseFlags(t *testing.T, args ...string) (*cobra.Command, *flagOptions) {
	t.Helper()
	opts := &flagOptions{}
	cmd := &cobra.Command{Use: "perfserver"}
	opts.register(cmd)
	if err := cmd.Flags().Parse(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return cmd, opts
}

func TestResolveConfigFromExampleFile(t *testing.T) {
	cmd, opts := parseFlags(t, "--config", exampleConfigPath(t))

	cfg, err := resolveConfig(cmd, opts)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.ID != "perfserver.lab" || cfg.AdvertiseHost != "10.0.0.1" {
		t.Fatalf("unexpected identity: %q %q", cfg.ID, cfg.AdvertiseHost)
	}
	if len(cfg.Roles) != 2 || len(cfg.Hosts) != 0 {
		t.Fatalf("unexpected targets: roles=%v hosts=%v", cfg.Roles, cfg.Hosts)
	}
	if cfg.Deadline != 2*time.Minute || cfg.Parallelism != 8 {
		t.Fatalf("unexpected run limits: %v %d", cfg.Deadline, cfg.Parallelism)
	}
	if cfg.SSH.User != "ceph-admin" || cfg.SSH.Timeout != 15*time.Second {
		t.Fatalf("unexpected ssh: %+v", cfg.SSH)
	}
	if cfg.Agent.Interval != 30*time.Second || cfg.Agent.ControlPort != 9191 {
		t.Fatalf("unexpected agent daemon settings: %+v", cfg.Agent)
	}
	if cfg.Session.FrameSize != 1400 || cfg.Session.VerifyAttempts != 5 {
		t.Fatalf("unexpected session: %+v", cfg.Session)
	}
}

func TestResolveConfigFlagsOverrideFile(t *testing.T) {
	cmd, opts := parseFlags(t,
		"--config", exampleConfigPath(t),
		"--host", "a,b",
		"--host", "c",
		"--role", "osd",
		"--format", "json",
		"--interval", "0s",
		"--local",
		"--frame-size", "512",
	)

	cfg, err := resolveConfig(cmd, opts)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(cfg.Hosts) != 3 || cfg.Hosts[2] != "c" {
		t.Fatalf("unexpected hosts: %v", cfg.Hosts)
	}
	if len(cfg.Roles) != 1 {
		t.Fatalf("unexpected roles: %v", cfg.Roles)
	}
	if cfg.Format != output.FormatJSON || !cfg.Local {
		t.Fatalf("unexpected overrides: %q local=%v", cfg.Format, cfg.Local)
	}
	if cfg.Agent.Interval != 0 || cfg.Agent.ControlPort != 9191 {
		t.Fatalf("unexpected agent settings: %+v", cfg.Agent)
	}
	if cfg.Session.FrameSize != 512 {
		t.Fatalf("unexpected frame size: %d", cfg.Session.FrameSize)
	}
	if cfg.OutputPath != "results.yaml" {
		t.Fatalf("unset flags should keep file values: %q", cfg.OutputPath)
	}
}

func TestResolveConfigRequiresTargets(t *testing.T) {
	cmd, opts := parseFlags(t)
	if _, err := resolveConfig(cmd, opts); !errors.Is(err, collector.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}

	cmd, opts = parseFlags(t, "--role", "rgw")
	if _, err := resolveConfig(cmd, opts); !errors.Is(err, collector.ErrInvalidConfig) {
		t.Fatalf("expected unknown role error, got %v", err)
	}
}
