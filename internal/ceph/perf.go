package ceph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// PerfCommand selects the admin socket perf subcommand.
type PerfCommand string

const (
	PerfDump   PerfCommand = "dump"
	PerfSchema PerfCommand = "schema"
)

// Groups is one daemon's perf output: group name to counter name to value.
type Groups map[string]map[string]any

// PerfData maps daemon (socket) names to their perf output.
type PerfData map[string]Groups

// Selection maps a counter group to the counters wanted from it.
type Selection map[string][]string

// Sockets lists daemon names that have an admin socket under RunPath.
func (c *Client) Sockets() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(c.RunPath, "*.asok"))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, strings.TrimSuffix(filepath.Base(m), ".asok"))
	}
	sort.Strings(names)
	return names, nil
}

func (c *Client) socketPath(name string) string {
	return filepath.Join(c.RunPath, name+".asok")
}

// Perf runs "perf dump" or "perf schema" against each socket. Daemons that
// do not support the command are skipped with a warning.
func (c *Client) Perf(ctx context.Context, sockets []string, cmd PerfCommand) (PerfData, error) {
	if cmd != PerfDump && cmd != PerfSchema {
		return nil, fmt.Errorf("ceph: perf command %q not dump/schema", cmd)
	}
	out := make(PerfData, len(sockets))
	for _, sock := range sockets {
		raw, err := c.run(ctx, "--admin-daemon", c.socketPath(sock), "perf", string(cmd))
		if errors.Is(err, ErrUnsupported) {
			c.Log.Warn().Str("socket", sock).Str("command", string(cmd)).Msg("perf command unsupported, skipping")
			continue
		}
		if err != nil {
			return nil, err
		}
		var groups Groups
		if err := json.Unmarshal(raw, &groups); err != nil {
			return nil, fmt.Errorf("%w: perf %s for %s: %v", ErrBadOutput, cmd, sock, err)
		}
		out[sock] = groups
	}
	return out, nil
}

// SelectCounters keeps only the selected counters of each daemon. Groups and
// counters a daemon does not have are left out.
func SelectCounters(sel Selection, data PerfData) PerfData {
	out := make(PerfData, len(data))
	for daemon, groups := range data {
		picked := make(Groups)
		for group, counters := range sel {
			have, ok := groups[group]
			if !ok {
				continue
			}
			g := make(map[string]any, len(counters))
			for _, name := range counters {
				if v, ok := have[name]; ok {
					g[name] = v
				}
			}
			picked[group] = g
		}
		out[daemon] = picked
	}
	return out
}

// LoadSelection reads a JSON selection file: {"group": ["counter", ...]}.
func LoadSelection(path string) (Selection, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read selection %s: %w", path, err)
	}
	var sel Selection
	if err := json.Unmarshal(raw, &sel); err != nil {
		return nil, fmt.Errorf("parse selection %s: %w", path, err)
	}
	return sel, nil
}

// ParseCollections parses "group:counter1,counter2" entries. Each entry needs
// at least one counter; repeated groups are merged.
func ParseCollections(entries []string) (Selection, error) {
	sel := make(Selection)
	for _, entry := range entries {
		group, list, ok := strings.Cut(entry, ":")
		group = strings.TrimSpace(group)
		if !ok || group == "" {
			return nil, fmt.Errorf("collection %q must be group:counter[,counter...]", entry)
		}
		var counters []string
		for _, c := range strings.Split(list, ",") {
			if c = strings.TrimSpace(c); c != "" {
				counters = append(counters, c)
			}
		}
		if len(counters) == 0 {
			return nil, fmt.Errorf("collection %q must contain at least one counter", entry)
		}
		sel[group] = append(sel[group], counters...)
	}
	return sel, nil
}
