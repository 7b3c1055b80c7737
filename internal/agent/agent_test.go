package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/perfctl/internal/ceph"
	"github.com/danmuck/perfctl/internal/output"
	"github.com/danmuck/perfctl/internal/protocol/session"
	"github.com/danmuck/perfctl/internal/testutil/testlog"
	"github.com/danmuck/perfctl/internal/tools"
	"github.com/danmuck/perfctl/internal/transport"
	"github.com/rs/zerolog"
)

const osdDump = `{"osd":{"op_r":11,"op_w":22,"op_rw":33},"filestore":{"journal_ops":4}}`

func fakeCeph(t *testing.T) (string, tools.CommandRunner) {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "ceph-osd.0.asok"), nil, 0o644); err != nil {
		t.Fatalf("write socket: %v", err)
	}
	sock := filepath.Join(dir, "ceph-osd.0.asok")
	runner := tools.RunnerFunc(func(_ context.Context, _ string, args ...string) ([]byte, []byte, int32, error) {
		switch strings.Join(args, " ") {
		case "--admin-daemon " + sock + " perf dump":
			return []byte(osdDump), nil, 0, nil
		case "--admin-daemon " + sock + " perf schema":
			return []byte(`{"osd":{"op_r":{"type":10}}}`), nil, 0, nil
		default:
			return nil, []byte("unexpected"), 1, fmt.Errorf("unexpected args %v", args)
		}
	})
	return dir, runner
}

func collectorListener(t *testing.T, log zerolog.Logger) (*transport.Transport, *transport.Receiver) {
	t.Helper()
	tr, err := transport.New(transport.Config{Node: "collector", Bind: "127.0.0.1:0", Session: testSession()}, log)
	if err != nil {
		t.Fatalf("collector transport: %v", err)
	}
	rx := transport.NewReceiver(tr, log)
	if err := rx.Start(context.Background()); err != nil {
		t.Fatalf("collector receiver: %v", err)
	}
	t.Cleanup(func() {
		rx.Stop()
		tr.Close()
	})
	return tr, rx
}

func testSession() session.Config {
	cfg := session.DefaultConfig()
	cfg.RecvTimeout = 25 * time.Millisecond
	cfg.AckTimeout = time.Second
	return cfg
}

func nextReport(t *testing.T, rx *transport.Receiver) Report {
	t.Helper()
	msg, ok := rx.Next(3 * time.Second)
	if !ok {
		t.Fatalf("no report received")
	}
	report, err := DecodeReport(msg.Data)
	if err != nil {
		t.Fatalf("decode report: %v", err)
	}
	return report
}

func TestOneShotPrintsSelectedCountersLocally(t *testing.T) {
	log := testlog.Start(t)
	dir, runner := fakeCeph(t)
	var out bytes.Buffer
	a, err := New(Config{
		ID:        "node-a",
		RunPath:   dir,
		Selection: ceph.Selection{"osd": {"op_r", "op_w"}},
		Session:   testSession(),
	}, log, runner, &out)
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	defer a.Close()

	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	var report Report
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out.String())
	}
	osd := report.Perf["ceph-osd.0"]["osd"]
	if len(osd) != 2 || osd["op_r"] != float64(11) || osd["op_w"] != float64(22) {
		t.Fatalf("unexpected selection: %+v", report.Perf)
	}
	if _, ok := report.Perf["ceph-osd.0"]["filestore"]; ok {
		t.Fatalf("unselected group leaked into report")
	}
	if report.AgentID != "node-a" || report.Sequence != 1 {
		t.Fatalf("unexpected report header: %+v", report)
	}
}

func TestOneShotPrintsTableLocally(t *testing.T) {
	log := testlog.Start(t)
	dir, runner := fakeCeph(t)
	var out bytes.Buffer
	a, err := New(Config{
		ID:        "node-a",
		RunPath:   dir,
		Selection: ceph.Selection{"osd": {"op_r", "op_w"}},
		Format:    output.FormatTable,
		Session:   testSession(),
	}, log, runner, &out)
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	defer a.Close()

	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	if len(lines) != 5 {
		t.Fatalf("unexpected table:\n%s", out.String())
	}
	if strings.TrimSpace(lines[0]) != "ceph-osd.0" || strings.TrimSpace(lines[2]) != "osd" {
		t.Fatalf("unexpected table layout:\n%s", out.String())
	}
	if strings.Join(strings.Fields(lines[3]), " ") != "op_r 11" || strings.Join(strings.Fields(lines[4]), " ") != "op_w 22" {
		t.Fatalf("unexpected counter rows:\n%s", out.String())
	}
}

func TestOneShotSendsReportOverUDP(t *testing.T) {
	log := testlog.Start(t)
	dir, runner := fakeCeph(t)
	tr, rx := collectorListener(t, log)

	a, err := New(Config{
		ID:        "node-b",
		RunID:     "run-1",
		Collector: fmt.Sprintf("udp://%s/300", tr.LocalAddr()),
		RunPath:   dir,
		Session:   testSession(),
	}, log, runner, nil)
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	defer a.Close()
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	report := nextReport(t, rx)
	if report.AgentID != "node-b" || report.RunID != "run-1" {
		t.Fatalf("unexpected report: %+v", report)
	}
	if report.Perf["ceph-osd.0"]["osd"]["op_rw"] != float64(33) {
		t.Fatalf("expected full dump without selection: %+v", report.Perf)
	}
}

func TestSchemaOnlyUsesPerfSchema(t *testing.T) {
	log := testlog.Start(t)
	dir, runner := fakeCeph(t)
	a, err := New(Config{ID: "node-c", RunPath: dir, SchemaOnly: true, Session: testSession()}, log, runner, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	defer a.Close()
	report, err := a.Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if !report.Schema {
		t.Fatalf("expected schema report")
	}
	if _, ok := report.Perf["ceph-osd.0"]["osd"]["op_r"].(map[string]any); !ok {
		t.Fatalf("expected schema entry, got %+v", report.Perf)
	}
}

func TestConfigValidate(t *testing.T) {
	testlog.Start(t)
	cfg := Config{ID: "a", Selection: ceph.Selection{"osd": {"op_r"}}, SelectionFile: "counters.json"}.WithDefaults()
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected file+flags conflict, got %v", err)
	}
	cfg = Config{ID: "a", Selection: ceph.Selection{"osd": nil}}.WithDefaults()
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected empty collection error, got %v", err)
	}
	cfg = Config{ID: "a", Collector: "tcp://x:1"}.WithDefaults()
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected bad collector error, got %v", err)
	}
	cfg = Config{ID: "a", Interval: time.Second}.WithDefaults()
	if cfg.ControlAddr == "" {
		t.Fatalf("expected default control addr in daemon mode")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validate error: %v", err)
	}
}

func TestDaemonCollectsUntilVerifiedStop(t *testing.T) {
	log := testlog.Start(t)
	dir, runner := fakeCeph(t)
	tr, rx := collectorListener(t, log)

	a, err := New(Config{
		ID:          "node-d",
		Collector:   fmt.Sprintf("udp://%s", tr.LocalAddr()),
		RunPath:     dir,
		Interval:    30 * time.Millisecond,
		ControlAddr: "127.0.0.1:0",
		Session:     testSession(),
	}, log, runner, nil)
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	defer a.Close()

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()

	first := nextReport(t, rx)
	second := nextReport(t, rx)
	if second.Sequence <= first.Sequence {
		t.Fatalf("expected increasing sequence, got %d then %d", first.Sequence, second.Sequence)
	}

	collect, err := session.EncodeCommand(session.Command{Type: session.CommandCollect, RunID: "run-2"})
	if err != nil {
		t.Fatalf("encode collect: %v", err)
	}
	sendCfg := transport.Config{Node: "collector", Session: testSession()}
	if err := transport.VerifiedSend(context.Background(), sendCfg, log, a.ControlAddr().String(), collect); err != nil {
		t.Fatalf("verified collect: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for {
		if nextReport(t, rx).RunID == "run-2" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("run id from collect command never applied")
		}
	}

	stop, err := session.EncodeCommand(session.Command{Type: session.CommandStop})
	if err != nil {
		t.Fatalf("encode stop: %v", err)
	}
	if err := transport.VerifiedSend(context.Background(), sendCfg, log, a.ControlAddr().String(), stop); err != nil {
		t.Fatalf("verified stop: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("daemon returned error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("daemon did not stop")
	}
}

func TestDaemonRejectsUnknownCommand(t *testing.T) {
	log := testlog.Start(t)
	dir, runner := fakeCeph(t)
	a, err := New(Config{
		ID:          "node-e",
		RunPath:     dir,
		Interval:    time.Hour,
		ControlAddr: "127.0.0.1:0",
		Session:     testSession(),
	}, log, runner, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	err = transport.VerifiedSend(context.Background(), transport.Config{Node: "collector", Session: testSession()}, log, a.ControlAddr().String(), []byte(`{"type":"agent.reboot"}`))
	if !errors.Is(err, transport.ErrAckRejected) {
		t.Fatalf("expected ErrAckRejected, got %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("daemon returned error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("daemon did not stop on context cancel")
	}
}
