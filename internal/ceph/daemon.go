package ceph

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

var dataPathKeys = []string{"osd_data", "osd_journal", "mds_data", "mon_data"}

// DaemonConfig returns the running configuration of one daemon ("config show").
func (c *Client) DaemonConfig(ctx context.Context, socket string) (map[string]string, error) {
	raw, err := c.run(ctx, "--admin-daemon", c.socketPath(socket), "config", "show")
	if err != nil {
		return nil, err
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("%w: config show for %s: %v", ErrBadOutput, socket, err)
	}
	cfg := make(map[string]string, len(generic))
	for k, v := range generic {
		switch tv := v.(type) {
		case string:
			cfg[k] = tv
		default:
			cfg[k] = fmt.Sprint(tv)
		}
	}
	return cfg, nil
}

// DaemonPIDs reads each daemon's pid_file. Daemons whose pid cannot be read
// are logged and left out.
func (c *Client) DaemonPIDs(ctx context.Context, sockets []string) (map[string]int32, error) {
	pids := make(map[string]int32, len(sockets))
	for _, sock := range sockets {
		cfg, err := c.DaemonConfig(ctx, sock)
		if err != nil {
			return nil, err
		}
		pidFile := strings.TrimSpace(cfg["pid_file"])
		if pidFile == "" {
			c.Log.Warn().Str("socket", sock).Msg("daemon has no pid_file")
			continue
		}
		raw, err := os.ReadFile(pidFile)
		if err != nil {
			c.Log.Warn().Err(err).Str("socket", sock).Str("pid_file", pidFile).Msg("read pid file failed")
			continue
		}
		pid, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 32)
		if err != nil {
			c.Log.Warn().Err(err).Str("socket", sock).Msg("bad pid file")
			continue
		}
		pids[sock] = int32(pid)
	}
	return pids, nil
}

// DaemonDataPaths returns the data and journal paths configured for a daemon.
func (c *Client) DaemonDataPaths(ctx context.Context, socket string) ([]string, error) {
	cfg, err := c.DaemonConfig(ctx, socket)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, key := range dataPathKeys {
		if p := strings.TrimSpace(cfg[key]); p != "" {
			paths = append(paths, p)
		}
	}
	return paths, nil
}
