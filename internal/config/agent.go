package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/perfctl/internal/agent"
	"github.com/danmuck/perfctl/internal/ceph"
	"github.com/danmuck/perfctl/internal/output"
)

type agentFile struct {
	ID           string              `toml:"id"`
	Collector    string              `toml:"collector"`
	RunID        string              `toml:"run_id"`
	CountersFile string              `toml:"counters_file"`
	Counters     map[string][]string `toml:"counters"`
	SchemaOnly   bool                `toml:"schema_only"`
	SysMetrics   bool                `toml:"sysmetrics"`
	Format       string              `toml:"format"`
	CephBinary   string              `toml:"ceph_binary"`
	RunPath      string              `toml:"run_path"`
	Interval     string              `toml:"interval"`
	ControlAddr  string              `toml:"control_addr"`
	MetricsAddr  string              `toml:"metrics_addr"`
	Session      sessionFile         `toml:"session"`
}

// AgentFile is a loaded agent config plus the keys that live outside agent.Config.
type AgentFile struct {
	Agent       agent.Config
	MetricsAddr string
}

// LoadAgentConfig overlays the keys defined in path onto agent defaults.
func LoadAgentConfig(path string) (AgentFile, error) {
	out := AgentFile{Agent: agent.DefaultConfig()}
	cfg := &out.Agent

	var raw agentFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return AgentFile{}, fmt.Errorf("load agent config: %w", err)
	}

	if meta.IsDefined("id") {
		if id := strings.TrimSpace(raw.ID); id != "" {
			cfg.ID = id
		}
	}
	if meta.IsDefined("collector") {
		cfg.Collector = strings.TrimSpace(raw.Collector)
	}
	if meta.IsDefined("run_id") {
		cfg.RunID = strings.TrimSpace(raw.RunID)
	}
	if meta.IsDefined("counters_file") {
		cfg.SelectionFile = strings.TrimSpace(raw.CountersFile)
	}
	if meta.IsDefined("counters") {
		cfg.Selection = ceph.Selection{}
		for group, counters := range raw.Counters {
			cfg.Selection[group] = trimAll(counters)
		}
	}
	if meta.IsDefined("schema_only") {
		cfg.SchemaOnly = raw.SchemaOnly
	}
	if meta.IsDefined("sysmetrics") {
		cfg.SysMetrics = raw.SysMetrics
	}
	if meta.IsDefined("format") {
		format, err := output.ParseFormat(raw.Format)
		if err != nil {
			return AgentFile{}, fmt.Errorf("parse format: %w", err)
		}
		cfg.Format = format
	}
	if meta.IsDefined("ceph_binary") {
		cfg.CephBinary = strings.TrimSpace(raw.CephBinary)
	}
	if meta.IsDefined("run_path") {
		cfg.RunPath = strings.TrimSpace(raw.RunPath)
	}
	if meta.IsDefined("interval") {
		d, err := parseDuration(raw.Interval)
		if err != nil {
			return AgentFile{}, fmt.Errorf("parse interval: %w", err)
		}
		cfg.Interval = d
	}
	if meta.IsDefined("control_addr") {
		cfg.ControlAddr = strings.TrimSpace(raw.ControlAddr)
	}
	if meta.IsDefined("metrics_addr") {
		out.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if err := applySession(meta, raw.Session, &cfg.Session); err != nil {
		return AgentFile{}, err
	}
	return out, nil
}
