package ceph

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const (
	RoleOSD = "osd"
	RoleMon = "mon"
	RoleMDS = "mds"
)

// OSDs returns the OSD ids reported by "osd ls".
func (c *Client) OSDs(ctx context.Context) ([]string, error) {
	raw, err := c.run(ctx, "osd", "ls")
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, line := range strings.Split(string(raw), "\n") {
		if id := strings.TrimSpace(line); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// OSDHosts resolves OSD ids to the distinct host IPs running them.
func (c *Client) OSDHosts(ctx context.Context, ids []string) ([]string, error) {
	hosts := make(map[string]struct{})
	for _, id := range ids {
		raw, err := c.run(ctx, "osd", "find", id)
		if err != nil {
			return nil, err
		}
		var found struct {
			IP string `json:"ip"`
		}
		if err := json.Unmarshal(raw, &found); err != nil || found.IP == "" {
			return nil, fmt.Errorf("%w: osd find %s", ErrBadOutput, id)
		}
		hosts[hostOf(found.IP)] = struct{}{}
	}
	return sortedKeys(hosts), nil
}

// RoleHosts returns the distinct host IPs for role: osd, mon or mds.
func (c *Client) RoleHosts(ctx context.Context, role string) ([]string, error) {
	switch role {
	case RoleOSD:
		ids, err := c.OSDs(ctx)
		if err != nil {
			return nil, err
		}
		return c.OSDHosts(ctx, ids)
	case RoleMon, RoleMDS:
		raw, err := c.run(ctx, role, "dump")
		if err != nil {
			return nil, err
		}
		return parseDumpHosts(string(raw), role), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
}

// MonHosts returns the monitor host IPs.
func (c *Client) MonHosts(ctx context.Context) ([]string, error) {
	return c.RoleHosts(ctx, RoleMon)
}

// MDSHosts returns the metadata server host IPs.
func (c *Client) MDSHosts(ctx context.Context) ([]string, error) {
	return c.RoleHosts(ctx, RoleMDS)
}

// parseDumpHosts reads "mon dump"/"mds dump" text lines of the form
// "<rank>: <ip:port/nonce> <role>.<name>".
func parseDumpHosts(dump, role string) []string {
	hosts := make(map[string]struct{})
	for _, line := range strings.Split(dump, "\n") {
		fields := strings.Fields(line)
		if len(fields) > 2 && strings.Contains(fields[2], role) {
			hosts[hostOf(fields[1])] = struct{}{}
		}
	}
	return sortedKeys(hosts)
}

func hostOf(addr string) string {
	host, _, _ := strings.Cut(addr, ":")
	return host
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
