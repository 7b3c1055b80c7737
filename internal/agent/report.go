package agent

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/danmuck/perfctl/internal/ceph"
	"github.com/danmuck/perfctl/internal/output"
	"github.com/danmuck/perfctl/internal/sysmetrics"
)

// Report is one collection from one node.
type Report struct {
	AgentID     string               `json:"agent_id" yaml:"agent_id"`
	Host        string               `json:"host" yaml:"host"`
	RunID       string               `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Sequence    uint64               `json:"sequence" yaml:"sequence"`
	CollectedAt time.Time            `json:"collected_at" yaml:"collected_at"`
	Schema      bool                 `json:"schema,omitempty" yaml:"schema,omitempty"`
	Perf        ceph.PerfData        `json:"perf" yaml:"perf"`
	System      *sysmetrics.Snapshot `json:"system,omitempty" yaml:"system,omitempty"`
}

// Table renders the perf counters; system metrics have no table form and are left out.
func (r Report) Table() output.Table {
	return r.Perf.Table()
}

func EncodeReport(r Report) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeReport(b []byte) (Report, error) {
	var r Report
	if err := json.Unmarshal(b, &r); err != nil {
		return Report{}, fmt.Errorf("agent: decode report: %w", err)
	}
	if r.AgentID == "" {
		return Report{}, fmt.Errorf("agent: decode report: missing agent_id")
	}
	return r, nil
}
