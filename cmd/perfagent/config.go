package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/perfctl/internal/agent"
	"github.com/danmuck/perfctl/internal/ceph"
	"github.com/danmuck/perfctl/internal/config"
	"github.com/danmuck/perfctl/internal/output"
	"github.com/danmuck/perfctl/internal/transport"
	"github.com/spf13/cobra"
)

type fileConfig = config.AgentFile

type flagOptions struct {
	configPath   string
	id           string
	collector    string
	udp          []string
	runID        string
	collections  []string
	countersFile string
	schemaOnly   bool
	sysMetrics   bool
	format       string
	cephBinary   string
	runPath      string
	interval     time.Duration
	control      string
	metricsAddr  string
}

func (o *flagOptions) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&o.configPath, "config", "c", "", "path to a TOML config file")
	f.StringVar(&o.id, "id", "", "agent id reported to the collector (default hostname)")
	f.StringVar(&o.collector, "collector", "", "collector URL udp://host:port[/frame_size]; empty prints locally")
	f.StringSliceVar(&o.udp, "udp", nil, "collector as host,port,size; alternative to --collector")
	f.StringVar(&o.runID, "run-id", "", "run id stamped on every report")
	f.StringArrayVar(&o.collections, "collection", nil, "counters to keep as group:counter1,counter2 (repeatable)")
	f.StringVar(&o.countersFile, "counters-file", "", "JSON file mapping groups to counter lists")
	f.BoolVar(&o.schemaOnly, "schema-only", false, "collect perf schemas instead of values")
	f.BoolVar(&o.sysMetrics, "sysmetrics", false, "add process and disk statistics")
	f.StringVar(&o.format, "format", "", "local output format: json|yaml|table")
	f.StringVar(&o.cephBinary, "ceph-binary", "", "ceph CLI binary")
	f.StringVar(&o.runPath, "run-path", "", "directory holding ceph admin sockets")
	f.DurationVar(&o.interval, "interval", 0, "collect every interval until stopped; 0 collects once")
	f.StringVar(&o.control, "control", "", "daemon control listen address")
	f.StringVar(&o.metricsAddr, "metrics-addr", "", "serve /metrics and /health on this address")
}

// resolveConfig loads the config file when given and applies the flags the
// caller actually set on top of it.
func resolveConfig(cmd *cobra.Command, o *flagOptions) (fileConfig, error) {
	file := fileConfig{Agent: agent.DefaultConfig()}
	if o.configPath != "" {
		loaded, err := config.LoadAgentConfig(o.configPath)
		if err != nil {
			return fileConfig{}, err
		}
		file = loaded
	}
	cfg := &file.Agent
	changed := cmd.Flags().Changed

	if changed("id") {
		cfg.ID = strings.TrimSpace(o.id)
	}
	if changed("collector") {
		cfg.Collector = strings.TrimSpace(o.collector)
	}
	if changed("udp") {
		if changed("collector") {
			return fileConfig{}, fmt.Errorf("%w: --udp and --collector are exclusive", agent.ErrInvalidConfig)
		}
		if len(o.udp) != 3 {
			return fileConfig{}, fmt.Errorf("%w: --udp needs host,port,size", agent.ErrInvalidConfig)
		}
		ep, err := transport.NewEndpoint(o.udp[0], o.udp[1], o.udp[2])
		if err != nil {
			return fileConfig{}, fmt.Errorf("%w: %v", agent.ErrInvalidConfig, err)
		}
		cfg.Collector = ep.String()
	}
	if changed("run-id") {
		cfg.RunID = strings.TrimSpace(o.runID)
	}
	if changed("collection") {
		sel, err := ceph.ParseCollections(o.collections)
		if err != nil {
			return fileConfig{}, err
		}
		cfg.Selection = sel
		cfg.SelectionFile = ""
	}
	if changed("counters-file") {
		cfg.SelectionFile = strings.TrimSpace(o.countersFile)
		if !changed("collection") {
			cfg.Selection = nil
		}
	}
	if changed("schema-only") {
		cfg.SchemaOnly = o.schemaOnly
	}
	if changed("sysmetrics") {
		cfg.SysMetrics = o.sysMetrics
	}
	if changed("format") {
		format, err := output.ParseFormat(o.format)
		if err != nil {
			return fileConfig{}, fmt.Errorf("parse format: %w", err)
		}
		cfg.Format = format
	}
	if changed("ceph-binary") {
		cfg.CephBinary = strings.TrimSpace(o.cephBinary)
	}
	if changed("run-path") {
		cfg.RunPath = strings.TrimSpace(o.runPath)
	}
	if changed("interval") {
		cfg.Interval = o.interval
	}
	if changed("control") {
		cfg.ControlAddr = strings.TrimSpace(o.control)
	}
	if changed("metrics-addr") {
		file.MetricsAddr = strings.TrimSpace(o.metricsAddr)
	}

	file.Agent = cfg.WithDefaults()
	if err := file.Agent.Validate(); err != nil {
		return fileConfig{}, err
	}
	return file, nil
}
