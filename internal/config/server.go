package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/perfctl/internal/collector"
	"github.com/danmuck/perfctl/internal/output"
)

type serverFile struct {
	ID            string      `toml:"id"`
	ListenAddr    string      `toml:"listen_addr"`
	AdvertiseHost string      `toml:"advertise_host"`
	Hosts         []string    `toml:"hosts"`
	Roles         []string    `toml:"roles"`
	CephBinary    string      `toml:"ceph_binary"`
	Local         bool        `toml:"local"`
	Deadline      string      `toml:"deadline"`
	Parallelism   int         `toml:"parallelism"`
	Output        string      `toml:"output"`
	Format        string      `toml:"format"`
	MetricsAddr   string      `toml:"metrics_addr"`
	SSH           sshFile     `toml:"ssh"`
	Agent         agentOpts   `toml:"agent"`
	Session       sessionFile `toml:"session"`
}

type sshFile struct {
	User                        string `toml:"user"`
	Port                        string `toml:"port"`
	KeyPath                     string `toml:"key_path"`
	KnownHostsPath              string `toml:"known_hosts_path"`
	InsecureSkipHostKeyChecking bool   `toml:"insecure_skip_host_key_checking"`
	Timeout                     string `toml:"timeout"`
}

type agentOpts struct {
	Path         string `toml:"path"`
	Binary       string `toml:"binary"`
	SysMetrics   bool   `toml:"sysmetrics"`
	SchemaOnly   bool   `toml:"schema_only"`
	CountersFile string `toml:"counters_file"`
	CephBinary   string `toml:"ceph_binary"`
	RunPath      string `toml:"run_path"`
	Interval     string `toml:"interval"`
	ControlPort  int    `toml:"control_port"`
	LogPath      string `toml:"log_path"`
}

// LoadServerConfig overlays the keys defined in path onto collector defaults.
func LoadServerConfig(path string) (collector.Config, error) {
	cfg := collector.DefaultConfig()

	var raw serverFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return collector.Config{}, fmt.Errorf("load server config: %w", err)
	}

	if meta.IsDefined("id") {
		if id := strings.TrimSpace(raw.ID); id != "" {
			cfg.ID = id
		}
	}
	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("advertise_host") {
		cfg.AdvertiseHost = strings.TrimSpace(raw.AdvertiseHost)
	}
	if meta.IsDefined("hosts") {
		cfg.Hosts = trimAll(raw.Hosts)
	}
	if meta.IsDefined("roles") {
		cfg.Roles = trimAll(raw.Roles)
	}
	if meta.IsDefined("ceph_binary") {
		cfg.CephBinary = strings.TrimSpace(raw.CephBinary)
	}
	if meta.IsDefined("local") {
		cfg.Local = raw.Local
	}
	if meta.IsDefined("deadline") {
		d, err := parseDuration(raw.Deadline)
		if err != nil {
			return collector.Config{}, fmt.Errorf("parse deadline: %w", err)
		}
		cfg.Deadline = d
	}
	if meta.IsDefined("parallelism") {
		cfg.Parallelism = raw.Parallelism
	}
	if meta.IsDefined("output") {
		cfg.OutputPath = strings.TrimSpace(raw.Output)
	}
	if meta.IsDefined("format") {
		format, err := output.ParseFormat(raw.Format)
		if err != nil {
			return collector.Config{}, fmt.Errorf("parse format: %w", err)
		}
		cfg.Format = format
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}

	if meta.IsDefined("ssh", "user") {
		cfg.SSH.User = strings.TrimSpace(raw.SSH.User)
	}
	if meta.IsDefined("ssh", "port") {
		cfg.SSH.Port = strings.TrimSpace(raw.SSH.Port)
	}
	if meta.IsDefined("ssh", "key_path") {
		cfg.SSH.KeyPath = strings.TrimSpace(raw.SSH.KeyPath)
	}
	if meta.IsDefined("ssh", "known_hosts_path") {
		cfg.SSH.KnownHostsPath = strings.TrimSpace(raw.SSH.KnownHostsPath)
	}
	if meta.IsDefined("ssh", "insecure_skip_host_key_checking") {
		cfg.SSH.InsecureSkipHostKeyChecking = raw.SSH.InsecureSkipHostKeyChecking
	}
	if meta.IsDefined("ssh", "timeout") {
		d, err := parseDuration(raw.SSH.Timeout)
		if err != nil {
			return collector.Config{}, fmt.Errorf("parse ssh.timeout: %w", err)
		}
		cfg.SSH.Timeout = d
	}

	if meta.IsDefined("agent", "path") {
		cfg.Agent.Path = strings.TrimSpace(raw.Agent.Path)
	}
	if meta.IsDefined("agent", "binary") {
		cfg.Agent.Binary = strings.TrimSpace(raw.Agent.Binary)
	}
	if meta.IsDefined("agent", "sysmetrics") {
		cfg.Agent.SysMetrics = raw.Agent.SysMetrics
	}
	if meta.IsDefined("agent", "schema_only") {
		cfg.Agent.SchemaOnly = raw.Agent.SchemaOnly
	}
	if meta.IsDefined("agent", "counters_file") {
		cfg.Agent.CountersFile = strings.TrimSpace(raw.Agent.CountersFile)
	}
	if meta.IsDefined("agent", "ceph_binary") {
		cfg.Agent.CephBinary = strings.TrimSpace(raw.Agent.CephBinary)
	}
	if meta.IsDefined("agent", "run_path") {
		cfg.Agent.RunPath = strings.TrimSpace(raw.Agent.RunPath)
	}
	if meta.IsDefined("agent", "interval") {
		d, err := parseDuration(raw.Agent.Interval)
		if err != nil {
			return collector.Config{}, fmt.Errorf("parse agent.interval: %w", err)
		}
		cfg.Agent.Interval = d
	}
	if meta.IsDefined("agent", "control_port") {
		cfg.Agent.ControlPort = raw.Agent.ControlPort
	}
	if meta.IsDefined("agent", "log_path") {
		cfg.Agent.LogPath = strings.TrimSpace(raw.Agent.LogPath)
	}

	if err := applySession(meta, raw.Session, &cfg.Session); err != nil {
		return collector.Config{}, err
	}
	return cfg, nil
}
