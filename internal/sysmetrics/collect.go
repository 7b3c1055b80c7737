package sysmetrics

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Process samples one process.
func Process(ctx context.Context, pid int32) (ProcessStats, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return ProcessStats{}, fmt.Errorf("sysmetrics: process %d: %w", pid, err)
	}
	stats := ProcessStats{PID: pid}
	if stats.CPUPercent, err = p.CPUPercentWithContext(ctx); err != nil {
		return ProcessStats{}, fmt.Errorf("sysmetrics: cpu percent %d: %w", pid, err)
	}
	if stats.MemoryPercent, err = p.MemoryPercentWithContext(ctx); err != nil {
		return ProcessStats{}, fmt.Errorf("sysmetrics: memory percent %d: %w", pid, err)
	}
	memInfo, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return ProcessStats{}, fmt.Errorf("sysmetrics: memory info %d: %w", pid, err)
	}
	stats.RSS, stats.VMS = memInfo.RSS, memInfo.VMS
	if times, err := p.TimesWithContext(ctx); err == nil {
		stats.CPUUser, stats.CPUSystem = times.User, times.System
	}
	// io counters need privileges on most kernels
	if io, err := p.IOCountersWithContext(ctx); err == nil {
		stats.IO = &IOStats{
			ReadCount:  io.ReadCount,
			WriteCount: io.WriteCount,
			ReadBytes:  io.ReadBytes,
			WriteBytes: io.WriteBytes,
		}
	}
	return stats, nil
}

// Disks returns io counters for the named devices ("sda", "/dev/nvme0n1").
// Devices the kernel does not report are returned with zero counters.
func Disks(ctx context.Context, devices []string) ([]DiskStats, error) {
	counters, err := disk.IOCountersWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("sysmetrics: disk io: %w", err)
	}
	out := make([]DiskStats, 0, len(devices))
	for _, dev := range devices {
		stat := DiskStats{Device: dev}
		if c, ok := counters[filepath.Base(dev)]; ok {
			stat.ReadCount, stat.WriteCount = c.ReadCount, c.WriteCount
			stat.ReadBytes, stat.WriteBytes = c.ReadBytes, c.WriteBytes
			stat.ReadTime, stat.WriteTime = c.ReadTime, c.WriteTime
		}
		out = append(out, stat)
	}
	return out, nil
}

// DeviceForPath returns the block device backing path.
func DeviceForPath(ctx context.Context, path string) (string, error) {
	parts, err := disk.PartitionsWithContext(ctx, true)
	if err != nil {
		return "", fmt.Errorf("sysmetrics: partitions: %w", err)
	}
	mounts := make(map[string]string, len(parts))
	for _, p := range parts {
		mounts[p.Mountpoint] = p.Device
	}
	mount, ok := mountPointFor(path, mounts)
	if !ok {
		return "", fmt.Errorf("sysmetrics: no mount point for %q", path)
	}
	dev := mounts[mount]
	if resolved, err := filepath.EvalSymlinks(dev); err == nil {
		dev = resolved
	}
	return dev, nil
}

// mountPointFor walks up from path to the deepest mount point.
func mountPointFor(path string, mounts map[string]string) (string, bool) {
	p := filepath.Clean(path)
	for {
		if _, ok := mounts[p]; ok {
			return p, true
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", false
		}
		p = parent
	}
}

// Host samples host-wide cpu, memory and load.
func Host(ctx context.Context) (HostStats, error) {
	var stats HostStats
	count, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return stats, fmt.Errorf("sysmetrics: cpu count: %w", err)
	}
	stats.CPUCount = count
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		stats.CPUPercent = pct[0]
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return stats, fmt.Errorf("sysmetrics: memory: %w", err)
	}
	stats.MemTotal, stats.MemUsed, stats.MemUsedPercent = vm.Total, vm.Used, vm.UsedPercent
	if avg, err := load.AvgWithContext(ctx); err == nil {
		stats.Load1, stats.Load5, stats.Load15 = avg.Load1, avg.Load5, avg.Load15
	}
	return stats, nil
}

// Discover finds running processes whose name contains substr and names
// them "<name>-<id>" from their -i/--id argument, falling back to the pid.
func Discover(ctx context.Context, substr string) (map[string]int32, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("sysmetrics: list processes: %w", err)
	}
	out := make(map[string]int32)
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil || !strings.Contains(name, substr) {
			continue
		}
		args, _ := p.CmdlineSliceWithContext(ctx)
		out[daemonName(name, p.Pid, args)] = p.Pid
	}
	return out, nil
}

func daemonName(name string, pid int32, args []string) string {
	for i, a := range args {
		switch {
		case (a == "-i" || a == "--id") && i+1 < len(args):
			return name + "-" + args[i+1]
		case strings.HasPrefix(a, "--id="):
			return name + "-" + strings.TrimPrefix(a, "--id=")
		}
	}
	return fmt.Sprintf("%s-%d", name, pid)
}

// Collector samples a Snapshot. Failures for single processes or devices
// are logged and skipped.
type Collector struct {
	log zerolog.Logger
}

func NewCollector(log zerolog.Logger) *Collector {
	return &Collector{log: log.With().Str("component", "sysmetrics").Logger()}
}

// Collect samples the host, every pid and every device.
func (c *Collector) Collect(ctx context.Context, pids map[string]int32, devices []string) (Snapshot, error) {
	host, err := Host(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{Host: host, Processes: make(map[string]ProcessStats, len(pids))}

	names := make([]string, 0, len(pids))
	for name := range pids {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		stats, err := Process(ctx, pids[name])
		if err != nil {
			c.log.Warn().Err(err).Str("daemon", name).Msg("process sample failed")
			continue
		}
		snap.Processes[name] = stats
	}

	if len(devices) > 0 {
		disks, err := Disks(ctx, devices)
		if err != nil {
			c.log.Warn().Err(err).Msg("disk sample failed")
		} else {
			snap.Disks = disks
		}
	}
	return snap, nil
}
