package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/danmuck/perfctl/internal/ceph"
	"github.com/danmuck/perfctl/internal/output"
	"github.com/danmuck/perfctl/internal/protocol/session"
	"github.com/danmuck/perfctl/internal/sysmetrics"
	"github.com/danmuck/perfctl/internal/tools"
	"github.com/danmuck/perfctl/internal/transport"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Agent collects and publishes reports for one node.
type Agent struct {
	cfg  Config
	log  zerolog.Logger
	ceph *ceph.Client
	sys  *sysmetrics.Collector
	out  io.Writer
	host string

	// tr sends reports; nil when printing locally.
	tr *transport.Transport
	// control receives verified commands in daemon mode.
	control *transport.Transport

	mu    sync.Mutex
	seq   uint64
	runID string
}

// New builds an agent. runner executes ceph commands (nil uses the local
// host); out receives local output (nil uses stdout). In daemon mode the
// control listener is bound here so its address is known before Run.
func New(cfg Config, log zerolog.Logger, runner tools.CommandRunner, out io.Writer) (*Agent, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.SelectionFile != "" {
		sel, err := ceph.LoadSelection(cfg.SelectionFile)
		if err != nil {
			return nil, err
		}
		cfg.Selection = sel
	}
	if out == nil {
		out = os.Stdout
	}
	host, _ := os.Hostname()
	logger := log.With().Str("agent", cfg.ID).Logger()

	a := &Agent{
		cfg:   cfg,
		log:   logger,
		ceph:  ceph.NewClient(cfg.CephBinary, cfg.RunPath, runner, logger),
		sys:   sysmetrics.NewCollector(logger),
		out:   out,
		host:  host,
		runID: cfg.RunID,
	}

	if cfg.Collector != "" {
		ep, err := transport.ParseURL(cfg.Collector)
		if err != nil {
			return nil, err
		}
		sess := cfg.Session
		if ep.FrameSize > 0 {
			sess.FrameSize = ep.FrameSize
		}
		tr, err := transport.New(transport.Config{Node: cfg.ID, Destination: ep.Address(), Session: sess}, logger)
		if err != nil {
			return nil, err
		}
		a.tr = tr
	}

	if cfg.Interval > 0 {
		control, err := transport.New(transport.Config{Node: cfg.ID, Bind: cfg.ControlAddr, Session: cfg.Session}, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		if err := control.Bind(); err != nil {
			a.Close()
			return nil, err
		}
		a.control = control
	}
	return a, nil
}

// ControlAddr returns the bound control address in daemon mode, or nil.
func (a *Agent) ControlAddr() *net.UDPAddr {
	if a.control == nil {
		return nil
	}
	return a.control.LocalAddr()
}

func (a *Agent) Close() error {
	var errs []error
	if a.tr != nil {
		errs = append(errs, a.tr.Close())
	}
	if a.control != nil {
		errs = append(errs, a.control.Close())
	}
	return errors.Join(errs...)
}

// Run collects once, or every Interval until ctx ends or a verified stop arrives.
func (a *Agent) Run(ctx context.Context) error {
	if a.cfg.Interval <= 0 {
		return a.collectAndPublish(ctx)
	}
	return a.runDaemon(ctx)
}

// Collect builds one report.
func (a *Agent) Collect(ctx context.Context) (Report, error) {
	sockets, err := a.ceph.Sockets()
	if err != nil {
		return Report{}, err
	}
	cmd := ceph.PerfDump
	if a.cfg.SchemaOnly {
		cmd = ceph.PerfSchema
	}
	perf, err := a.ceph.Perf(ctx, sockets, cmd)
	if err != nil {
		return Report{}, err
	}
	if !a.cfg.SchemaOnly && len(a.cfg.Selection) > 0 {
		perf = ceph.SelectCounters(a.cfg.Selection, perf)
	}

	a.mu.Lock()
	a.seq++
	report := Report{
		AgentID:     a.cfg.ID,
		Host:        a.host,
		RunID:       a.runID,
		Sequence:    a.seq,
		CollectedAt: time.Now().UTC(),
		Schema:      a.cfg.SchemaOnly,
		Perf:        perf,
	}
	a.mu.Unlock()

	if a.cfg.SysMetrics {
		snap, err := a.systemSnapshot(ctx, sockets)
		if err != nil {
			a.log.Warn().Err(err).Msg("system metrics unavailable")
		} else {
			report.System = &snap
		}
	}
	return report, nil
}

// Publish sends report to the collector, or writes it locally.
func (a *Agent) Publish(report Report) error {
	if a.tr == nil {
		return output.Write(a.out, a.cfg.Format, report)
	}
	raw, err := EncodeReport(report)
	if err != nil {
		return err
	}
	if err := a.tr.SendMessage(raw); err != nil {
		return fmt.Errorf("agent: publish report: %w", err)
	}
	a.log.Debug().Uint64("sequence", report.Sequence).Int("bytes", len(raw)).Msg("report published")
	return nil
}

func (a *Agent) collectAndPublish(ctx context.Context) error {
	report, err := a.Collect(ctx)
	if err != nil {
		return err
	}
	return a.Publish(report)
}

func (a *Agent) systemSnapshot(ctx context.Context, sockets []string) (sysmetrics.Snapshot, error) {
	pids, err := a.ceph.DaemonPIDs(ctx, sockets)
	if err != nil || len(pids) == 0 {
		a.log.Debug().Err(err).Msg("pid files unavailable, discovering ceph processes")
		pids, err = sysmetrics.Discover(ctx, "ceph")
		if err != nil {
			return sysmetrics.Snapshot{}, err
		}
	}

	var devices []string
	seen := make(map[string]struct{})
	for _, sock := range sockets {
		paths, err := a.ceph.DaemonDataPaths(ctx, sock)
		if err != nil {
			a.log.Debug().Err(err).Str("socket", sock).Msg("data paths unavailable")
			continue
		}
		for _, p := range paths {
			dev, err := sysmetrics.DeviceForPath(ctx, p)
			if err != nil {
				continue
			}
			if _, ok := seen[dev]; !ok {
				seen[dev] = struct{}{}
				devices = append(devices, dev)
			}
		}
	}
	return a.sys.Collect(ctx, pids, devices)
}

func (a *Agent) runDaemon(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rx := transport.NewReceiver(a.control, a.log)
	if err := rx.Start(ctx); err != nil {
		return err
	}
	defer rx.Stop()
	a.log.Info().
		Str("control", a.control.LocalAddr().String()).
		Dur("interval", a.cfg.Interval).
		Msg("agent daemon started")

	collectNow := make(chan struct{}, 1)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.controlLoop(gctx, rx, cancel, collectNow)
		return nil
	})
	g.Go(func() error {
		a.collectLoop(gctx, collectNow)
		return nil
	})
	return g.Wait()
}

func (a *Agent) collectLoop(ctx context.Context, collectNow <-chan struct{}) {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()
	for {
		if err := a.collectAndPublish(ctx); err != nil && ctx.Err() == nil {
			a.log.Error().Err(err).Msg("collection failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-collectNow:
		}
	}
}

func (a *Agent) controlLoop(ctx context.Context, rx *transport.Receiver, stop context.CancelFunc, collectNow chan<- struct{}) {
	for {
		msg, err := rx.NextContext(ctx)
		if err != nil {
			return
		}
		if !session.IsVerifyRequest(msg.Data) {
			a.log.Warn().Str("peer", msg.Peer).Msg("ignoring unverified control message")
			continue
		}
		var cmd session.Command
		err = transport.Acknowledge(a.control, msg, a.cfg.ID, func(payload []byte) error {
			decoded, err := session.DecodeCommand(payload)
			if err != nil {
				return err
			}
			cmd = decoded
			return nil
		})
		if err != nil {
			a.log.Warn().Err(err).Str("peer", msg.Peer).Msg("control message rejected")
			continue
		}
		a.log.Info().Str("command", cmd.Type).Str("peer", msg.Peer).Msg("control command acknowledged")
		switch cmd.Type {
		case session.CommandStop:
			stop()
			return
		case session.CommandCollect:
			if cmd.RunID != "" {
				a.mu.Lock()
				a.runID = cmd.RunID
				a.mu.Unlock()
			}
			select {
			case collectNow <- struct{}{}:
			default:
			}
		}
	}
}
