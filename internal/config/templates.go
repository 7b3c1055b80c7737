package config

import (
	"fmt"
	"os"
	"strings"
)

const (
	KindAgent  = "agent"
	KindServer = "server"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindAgent:
		return agentTemplate, nil
	case KindServer:
		return serverTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

// Validate loads path as kind and runs the resulting config's checks.
func Validate(kind, path string) error {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindAgent:
		file, err := LoadAgentConfig(path)
		if err != nil {
			return err
		}
		return file.Agent.WithDefaults().Validate()
	case KindServer:
		cfg, err := LoadServerConfig(path)
		if err != nil {
			return err
		}
		return cfg.WithDefaults().Validate()
	default:
		return fmt.Errorf("unknown config kind: %s", kind)
	}
}

const agentTemplate = `id = "node-a"
# udp://host:port/frame_size; leave empty to print reports locally
collector = "udp://10.0.0.1:9090/1024"
sysmetrics = true
schema_only = false
format = "json"
ceph_binary = "ceph"
run_path = "/var/run/ceph"
# 0 collects once; a duration runs as a daemon stopped by the collector
interval = "0"
control_addr = ":9091"
metrics_addr = ""

[counters]
osd = ["op_r", "op_w", "op_latency"]

[session]
recv_timeout = "500ms"
ack_timeout = "2s"
verify_attempts = 3
`

const serverTemplate = `id = "perfserver"
listen_addr = ":9090"
advertise_host = ""
hosts = []
roles = ["osd"]
ceph_binary = "ceph"
local = false
# 0 waits until every host reported
deadline = "2m"
parallelism = 16
output = "results.json"
format = "json"
metrics_addr = ""

[ssh]
user = "root"
key_path = "~/.ssh/id_ed25519"
known_hosts_path = ""
insecure_skip_host_key_checking = false
timeout = "10s"

[agent]
path = "/usr/local/bin/perfagent"
binary = ""
sysmetrics = true
schema_only = false
counters_file = ""
interval = "0"
control_port = 9091
log_path = ""

[session]
frame_size = 1024
recv_timeout = "500ms"
ack_timeout = "2s"
verify_attempts = 3
queue_size = 1024
peer_idle_timeout = "30s"
backoff_initial = "250ms"
backoff_max = "5s"
backoff_multiplier = 2.0
`
