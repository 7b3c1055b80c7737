package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/perfctl/internal/collector"
	"github.com/danmuck/perfctl/internal/config"
	"github.com/danmuck/perfctl/internal/output"
	"github.com/spf13/cobra"
)

type flagOptions struct {
	configPath  string
	id          string
	listen      string
	advertise   string
	hosts       []string
	roles       []string
	cephBinary  string
	local       bool
	deadline    time.Duration
	parallelism int
	output      string
	format      string
	metricsAddr string
	frameSize   int

	sshUser       string
	sshPort       string
	sshKey        string
	knownHosts    string
	insecureHosts bool
	sshTimeout    time.Duration

	agentPath    string
	agentBinary  string
	sysMetrics   bool
	schemaOnly   bool
	countersFile string
	agentCeph    string
	runPath      string
	interval     time.Duration
	controlPort  int
	agentLog     string
}

func (o *flagOptions) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&o.configPath, "config", "c", "", "path to a TOML config file")
	f.StringVar(&o.id, "id", "", "collector id used in logs and metrics")
	f.StringVar(&o.listen, "listen", "", "UDP address reports are received on")
	f.StringVar(&o.advertise, "advertise", "", "host agents send reports to (default first IPv4)")
	f.StringSliceVar(&o.hosts, "host", nil, "target host (repeatable)")
	f.StringSliceVar(&o.roles, "role", nil, "resolve targets from ceph roles: osd|mon|mds (repeatable)")
	f.StringVar(&o.cephBinary, "ceph-binary", "", "ceph CLI used for role resolution")
	f.BoolVar(&o.local, "local", false, "run agents on this host instead of over ssh")
	f.DurationVar(&o.deadline, "deadline", 0, "stop waiting for reports after this long; 0 waits for every host")
	f.IntVar(&o.parallelism, "parallelism", 0, "hosts deployed and launched concurrently")
	f.StringVarP(&o.output, "output", "o", "", "results file; empty or - writes to stdout")
	f.StringVar(&o.format, "format", "", "results format: json|yaml|table")
	f.StringVar(&o.metricsAddr, "metrics-addr", "", "serve /metrics and /health on this address")
	f.IntVar(&o.frameSize, "frame-size", 0, "frame size advertised to agents")

	f.StringVar(&o.sshUser, "ssh-user", "", "ssh user")
	f.StringVar(&o.sshPort, "ssh-port", "", "ssh port")
	f.StringVar(&o.sshKey, "ssh-key", "", "ssh private key path")
	f.StringVar(&o.knownHosts, "known-hosts", "", "known_hosts file used to verify hosts")
	f.BoolVar(&o.insecureHosts, "insecure-skip-host-key-checking", false, "accept any ssh host key")
	f.DurationVar(&o.sshTimeout, "ssh-timeout", 0, "ssh dial timeout")

	f.StringVar(&o.agentPath, "agent-path", "", "agent binary path on each host")
	f.StringVar(&o.agentBinary, "agent-binary", "", "local agent binary copied to each host before launch")
	f.BoolVar(&o.sysMetrics, "sysmetrics", false, "ask agents for process and disk statistics")
	f.BoolVar(&o.schemaOnly, "schema-only", false, "ask agents for perf schemas instead of values")
	f.StringVar(&o.countersFile, "counters-file", "", "counter selection file path on each host")
	f.StringVar(&o.agentCeph, "agent-ceph-binary", "", "ceph CLI used by agents")
	f.StringVar(&o.runPath, "run-path", "", "admin socket directory on each host")
	f.DurationVar(&o.interval, "interval", 0, "run agents as daemons collecting on this interval")
	f.IntVar(&o.controlPort, "control-port", 0, "agent daemon control port")
	f.StringVar(&o.agentLog, "agent-log", "", "agent daemon log path on each host")
}

// resolveConfig loads the config file when given and applies the flags the
// caller actually set on top of it.
func resolveConfig(cmd *cobra.Command, o *flagOptions) (collector.Config, error) {
	cfg := collector.DefaultConfig()
	if o.configPath != "" {
		loaded, err := config.LoadServerConfig(o.configPath)
		if err != nil {
			return collector.Config{}, err
		}
		cfg = loaded
	}
	changed := cmd.Flags().Changed

	str := func(name string, src string, dst *string) {
		if changed(name) {
			*dst = strings.TrimSpace(src)
		}
	}
	str("id", o.id, &cfg.ID)
	str("listen", o.listen, &cfg.ListenAddr)
	str("advertise", o.advertise, &cfg.AdvertiseHost)
	str("ceph-binary", o.cephBinary, &cfg.CephBinary)
	str("output", o.output, &cfg.OutputPath)
	str("metrics-addr", o.metricsAddr, &cfg.MetricsAddr)
	str("ssh-user", o.sshUser, &cfg.SSH.User)
	str("ssh-port", o.sshPort, &cfg.SSH.Port)
	str("ssh-key", o.sshKey, &cfg.SSH.KeyPath)
	str("known-hosts", o.knownHosts, &cfg.SSH.KnownHostsPath)
	str("agent-path", o.agentPath, &cfg.Agent.Path)
	str("agent-binary", o.agentBinary, &cfg.Agent.Binary)
	str("counters-file", o.countersFile, &cfg.Agent.CountersFile)
	str("agent-ceph-binary", o.agentCeph, &cfg.Agent.CephBinary)
	str("run-path", o.runPath, &cfg.Agent.RunPath)
	str("agent-log", o.agentLog, &cfg.Agent.LogPath)

	if changed("host") {
		cfg.Hosts = o.hosts
	}
	if changed("role") {
		cfg.Roles = o.roles
	}
	if changed("local") {
		cfg.Local = o.local
	}
	if changed("deadline") {
		cfg.Deadline = o.deadline
	}
	if changed("parallelism") {
		cfg.Parallelism = o.parallelism
	}
	if changed("format") {
		format, err := output.ParseFormat(o.format)
		if err != nil {
			return collector.Config{}, fmt.Errorf("parse format: %w", err)
		}
		cfg.Format = format
	}
	if changed("frame-size") {
		cfg.Session.FrameSize = o.frameSize
	}
	if changed("insecure-skip-host-key-checking") {
		cfg.SSH.InsecureSkipHostKeyChecking = o.insecureHosts
	}
	if changed("ssh-timeout") {
		cfg.SSH.Timeout = o.sshTimeout
	}
	if changed("sysmetrics") {
		cfg.Agent.SysMetrics = o.sysMetrics
	}
	if changed("schema-only") {
		cfg.Agent.SchemaOnly = o.schemaOnly
	}
	if changed("interval") {
		cfg.Agent.Interval = o.interval
	}
	if changed("control-port") {
		cfg.Agent.ControlPort = o.controlPort
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return collector.Config{}, err
	}
	return cfg, nil
}
