package agent

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/perfctl/internal/ceph"
	"github.com/danmuck/perfctl/internal/output"
	"github.com/danmuck/perfctl/internal/protocol/session"
	"github.com/danmuck/perfctl/internal/transport"
)

var ErrInvalidConfig = errors.New("agent: invalid config")

// Config controls one agent process.
type Config struct {
	ID string
	// Collector is udp://host:port[/frame_size]; empty prints reports locally.
	Collector string
	RunID     string
	Selection ceph.Selection
	// SelectionFile is a JSON counter selection; it cannot be combined with Selection.
	SelectionFile string
	SchemaOnly    bool
	SysMetrics    bool
	Format        output.Format
	CephBinary    string
	RunPath       string
	// Interval > 0 runs as a daemon collecting every Interval.
	Interval time.Duration
	// ControlAddr is the daemon's control listener, e.g. ":9091".
	ControlAddr string
	Session     session.Config
}

func DefaultConfig() Config {
	host, _ := os.Hostname()
	return Config{
		ID:          host,
		Format:      output.FormatJSON,
		CephBinary:  ceph.DefaultBinary,
		RunPath:     ceph.DefaultRunPath,
		ControlAddr: ":9091",
		Session:     session.DefaultConfig(),
	}
}

// WithDefaults fills zero values from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.ID) == "" {
		c.ID = def.ID
	}
	if c.Format == "" {
		c.Format = def.Format
	}
	if strings.TrimSpace(c.CephBinary) == "" {
		c.CephBinary = def.CephBinary
	}
	if strings.TrimSpace(c.RunPath) == "" {
		c.RunPath = def.RunPath
	}
	if c.Interval > 0 && strings.TrimSpace(c.ControlAddr) == "" {
		c.ControlAddr = def.ControlAddr
	}
	c.Session = c.Session.WithDefaults()
	return c
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidConfig)
	}
	if len(c.Selection) > 0 && strings.TrimSpace(c.SelectionFile) != "" {
		return fmt.Errorf("%w: counters cannot come from a file and flags together", ErrInvalidConfig)
	}
	for group, counters := range c.Selection {
		if len(counters) == 0 {
			return fmt.Errorf("%w: collection %q needs at least one counter", ErrInvalidConfig, group)
		}
	}
	if c.Collector != "" {
		if _, err := transport.ParseURL(c.Collector); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	if c.Interval < 0 {
		return fmt.Errorf("%w: interval must not be negative", ErrInvalidConfig)
	}
	if _, err := output.ParseFormat(string(c.Format)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return c.Session.Validate()
}
