package sysmetrics

// ProcessStats is one daemon process sample.
type ProcessStats struct {
	PID           int32    `json:"pid" yaml:"pid"`
	CPUPercent    float64  `json:"cpu_percent" yaml:"cpu_percent"`
	MemoryPercent float32  `json:"memory_percent" yaml:"memory_percent"`
	RSS           uint64   `json:"rss" yaml:"rss"`
	VMS           uint64   `json:"vms" yaml:"vms"`
	CPUUser       float64  `json:"cpu_user" yaml:"cpu_user"`
	CPUSystem     float64  `json:"cpu_system" yaml:"cpu_system"`
	IO            *IOStats `json:"io,omitempty" yaml:"io,omitempty"`
}

// IOStats is process io, present only when the kernel exposes it to us.
type IOStats struct {
	ReadCount  uint64 `json:"read_count" yaml:"read_count"`
	WriteCount uint64 `json:"write_count" yaml:"write_count"`
	ReadBytes  uint64 `json:"read_bytes" yaml:"read_bytes"`
	WriteBytes uint64 `json:"write_bytes" yaml:"write_bytes"`
}

// DiskStats is one block device's io counters.
type DiskStats struct {
	Device     string `json:"device" yaml:"device"`
	ReadCount  uint64 `json:"read_count" yaml:"read_count"`
	WriteCount uint64 `json:"write_count" yaml:"write_count"`
	ReadBytes  uint64 `json:"read_bytes" yaml:"read_bytes"`
	WriteBytes uint64 `json:"write_bytes" yaml:"write_bytes"`
	ReadTime   uint64 `json:"read_time_ms" yaml:"read_time_ms"`
	WriteTime  uint64 `json:"write_time_ms" yaml:"write_time_ms"`
}

// HostStats summarizes the whole host.
type HostStats struct {
	CPUCount       int     `json:"cpu_count" yaml:"cpu_count"`
	CPUPercent     float64 `json:"cpu_percent" yaml:"cpu_percent"`
	MemTotal       uint64  `json:"mem_total" yaml:"mem_total"`
	MemUsed        uint64  `json:"mem_used" yaml:"mem_used"`
	MemUsedPercent float64 `json:"mem_used_percent" yaml:"mem_used_percent"`
	Load1          float64 `json:"load1" yaml:"load1"`
	Load5          float64 `json:"load5" yaml:"load5"`
	Load15         float64 `json:"load15" yaml:"load15"`
}

// Snapshot is everything sampled for one report.
type Snapshot struct {
	Host      HostStats               `json:"host" yaml:"host"`
	Processes map[string]ProcessStats `json:"processes" yaml:"processes"`
	Disks     []DiskStats             `json:"disks,omitempty" yaml:"disks,omitempty"`
}
