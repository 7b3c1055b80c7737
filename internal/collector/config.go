package collector

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/perfctl/internal/ceph"
	"github.com/danmuck/perfctl/internal/output"
	"github.com/danmuck/perfctl/internal/protocol/session"
	"github.com/danmuck/perfctl/internal/remote"
)

var ErrInvalidConfig = errors.New("collector: invalid config")

// AgentOptions are forwarded to every launched agent.
type AgentOptions struct {
	// Path is where the agent binary lives on each host.
	Path string
	// Binary is a local agent binary copied to Path before launch; empty skips deploy.
	Binary       string
	SysMetrics   bool
	SchemaOnly   bool
	CountersFile string
	CephBinary   string
	RunPath      string
	// Interval > 0 launches agents as daemons that are stopped at the end of the run.
	Interval    time.Duration
	ControlPort int
	// LogPath receives daemon output on each host; empty discards it.
	LogPath string
}

type Config struct {
	ID         string
	ListenAddr string
	// AdvertiseHost is the address agents send to; empty picks the first
	// non-loopback IPv4 address.
	AdvertiseHost string
	Hosts         []string
	Roles         []string
	CephBinary    string
	// Local runs agent commands on this host instead of over ssh.
	Local bool
	SSH   remote.SSHConfig
	Agent AgentOptions
	// Deadline bounds report intake; 0 waits until every host reported.
	Deadline    time.Duration
	Parallelism int
	OutputPath  string
	Format      output.Format
	MetricsAddr string
	Session     session.Config
}

func DefaultConfig() Config {
	return Config{
		ID:         "perfserver",
		ListenAddr: ":9090",
		CephBinary: ceph.DefaultBinary,
		SSH: remote.SSHConfig{
			User:    "root",
			Timeout: 10 * time.Second,
		},
		Agent: AgentOptions{
			Path:        "/usr/local/bin/perfagent",
			ControlPort: 9091,
		},
		Parallelism: 16,
		Format:      output.FormatJSON,
		Session:     session.DefaultConfig(),
	}
}

// WithDefaults fills zero values from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.ID) == "" {
		c.ID = def.ID
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = def.ListenAddr
	}
	if strings.TrimSpace(c.CephBinary) == "" {
		c.CephBinary = def.CephBinary
	}
	if strings.TrimSpace(c.SSH.User) == "" {
		c.SSH.User = def.SSH.User
	}
	if c.SSH.Timeout <= 0 {
		c.SSH.Timeout = def.SSH.Timeout
	}
	if strings.TrimSpace(c.Agent.Path) == "" {
		c.Agent.Path = def.Agent.Path
	}
	if c.Agent.ControlPort <= 0 {
		c.Agent.ControlPort = def.Agent.ControlPort
	}
	if c.Parallelism <= 0 {
		c.Parallelism = def.Parallelism
	}
	if c.Format == "" {
		c.Format = def.Format
	}
	c.Session = c.Session.WithDefaults()
	return c
}

func (c Config) Validate() error {
	if len(c.Hosts) == 0 && len(c.Roles) == 0 {
		return fmt.Errorf("%w: hosts or roles required", ErrInvalidConfig)
	}
	for _, role := range c.Roles {
		switch role {
		case ceph.RoleOSD, ceph.RoleMon, ceph.RoleMDS:
		default:
			return fmt.Errorf("%w: unknown role %q", ErrInvalidConfig, role)
		}
	}
	if c.Agent.ControlPort <= 0 || c.Agent.ControlPort > 65535 {
		return fmt.Errorf("%w: agent control port %d out of range", ErrInvalidConfig, c.Agent.ControlPort)
	}
	if c.Deadline < 0 || c.Agent.Interval < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	}
	if _, err := output.ParseFormat(string(c.Format)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return c.Session.Validate()
}

// daemon reports whether agents run on an interval.
func (c Config) daemon() bool {
	return c.Agent.Interval > 0
}
