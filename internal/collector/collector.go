package collector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/perfctl/internal/agent"
	"github.com/danmuck/perfctl/internal/ceph"
	"github.com/danmuck/perfctl/internal/observability"
	"github.com/danmuck/perfctl/internal/output"
	"github.com/danmuck/perfctl/internal/protocol/session"
	"github.com/danmuck/perfctl/internal/remote"
	"github.com/danmuck/perfctl/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNoHosts       = errors.New("collector: no target hosts")
	ErrNoAdvertiseIP = errors.New("collector: no non-loopback ipv4 address to advertise")
)

// Results is the outcome of one run.
type Results struct {
	RunID      string                    `json:"run_id" yaml:"run_id"`
	StartedAt  time.Time                 `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time                 `json:"finished_at" yaml:"finished_at"`
	Hosts      []string                  `json:"hosts" yaml:"hosts"`
	Reports    map[string][]agent.Report `json:"reports" yaml:"reports"`
	// Missing lists hosts that sent no report.
	Missing []string `json:"missing" yaml:"missing"`
	// Failed maps hosts to the deploy, launch or stop error seen for them.
	Failed map[string]string `json:"failed,omitempty" yaml:"failed,omitempty"`
}

// Table merges each host's latest report into one perf table with a
// host/daemon column per daemon.
func (r Results) Table() output.Table {
	merged := make(ceph.PerfData)
	for host, reports := range r.Reports {
		if len(reports) == 0 {
			continue
		}
		for daemon, groups := range reports[len(reports)-1].Perf {
			merged[host+"/"+daemon] = groups
		}
	}
	return merged.Table()
}

type Option func(*Collector)

// WithRunnerFactory overrides how a host's runner is built.
func WithRunnerFactory(f func(host string) remote.Runner) Option {
	return func(c *Collector) { c.runnerFor = f }
}

// WithCephClient overrides the client used for role discovery.
func WithCephClient(client *ceph.Client) Option {
	return func(c *Collector) { c.ceph = client }
}

type Collector struct {
	cfg       Config
	log       zerolog.Logger
	ceph      *ceph.Client
	runnerFor func(host string) remote.Runner

	mu     sync.Mutex
	failed map[string]string
}

func New(cfg Config, log zerolog.Logger, opts ...Option) (*Collector, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := log.With().Str("collector", cfg.ID).Logger()
	c := &Collector{
		cfg:    cfg,
		log:    logger,
		failed: make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.ceph == nil {
		c.ceph = ceph.NewClient(cfg.CephBinary, "", nil, logger)
	}
	if c.runnerFor == nil {
		c.runnerFor = func(host string) remote.Runner {
			if cfg.Local {
				return remote.LocalRunner{}
			}
			return cfg.SSH.For(host)
		}
	}
	return c, nil
}

// Run executes one collection round and writes the results to OutputPath.
// Per-host failures are recorded in the results; only setup errors are returned.
func (c *Collector) Run(ctx context.Context) (Results, error) {
	res := Results{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Reports:   make(map[string][]agent.Report),
	}
	logger := c.log.With().Str("run_id", res.RunID).Logger()
	c.mu.Lock()
	c.failed = make(map[string]string)
	c.mu.Unlock()

	if c.cfg.MetricsAddr != "" {
		metricsCtx, stopMetrics := context.WithCancel(ctx)
		metricsDone := make(chan struct{})
		go func() {
			defer close(metricsDone)
			if err := observability.ServeMetrics(metricsCtx, c.cfg.MetricsAddr, c.cfg.ID, logger); err != nil {
				logger.Warn().Err(err).Msg("metrics server failed")
			}
		}()
		defer func() {
			stopMetrics()
			<-metricsDone
		}()
	}

	hosts, err := c.resolveHosts(ctx)
	if err != nil {
		return res, err
	}
	res.Hosts = hosts
	logger.Info().Strs("hosts", hosts).Msg("collection run starting")

	tr, err := transport.New(transport.Config{Node: c.cfg.ID, Bind: c.cfg.ListenAddr, Session: c.cfg.Session}, logger)
	if err != nil {
		return res, err
	}
	defer tr.Close()
	rx := transport.NewReceiver(tr, logger)
	if err := rx.Start(ctx); err != nil {
		return res, err
	}
	defer rx.Stop()

	ep, err := c.endpoint(tr)
	if err != nil {
		return res, err
	}
	logger.Info().Str("endpoint", ep.String()).Msg("listening for reports")

	waitCtx, cancelWait := ctx, context.CancelFunc(func() {})
	if c.cfg.Deadline > 0 {
		waitCtx, cancelWait = context.WithTimeout(ctx, c.cfg.Deadline)
	}
	defer cancelWait()

	targets := hosts
	if c.cfg.Agent.Binary != "" {
		targets = c.fanOut(waitCtx, targets, "deploy", c.deploy)
	}
	launched := c.fanOut(waitCtx, targets, "launch", func(ctx context.Context, host string) error {
		return c.launch(ctx, host, ep, res.RunID)
	})

	c.consume(waitCtx, rx, hosts, launched, &res, logger)

	if c.cfg.daemon() && len(launched) > 0 {
		c.stopAgents(ctx, launched, res.RunID, logger)
	}

	reported := make(map[string]struct{}, len(res.Reports))
	for host := range res.Reports {
		reported[host] = struct{}{}
	}
	res.Missing = []string{}
	for _, host := range hosts {
		if _, ok := reported[host]; !ok {
			res.Missing = append(res.Missing, host)
		}
	}
	c.mu.Lock()
	if len(c.failed) > 0 {
		res.Failed = make(map[string]string, len(c.failed))
		for host, msg := range c.failed {
			res.Failed[host] = msg
		}
	}
	c.mu.Unlock()
	res.FinishedAt = time.Now().UTC()

	logger.Info().
		Int("reported", len(res.Reports)).
		Strs("missing", res.Missing).
		Dur("elapsed", res.FinishedAt.Sub(res.StartedAt)).
		Msg("collection run finished")

	if err := output.WriteFile(c.cfg.OutputPath, c.cfg.Format, res); err != nil {
		return res, fmt.Errorf("collector: write results: %w", err)
	}
	return res, nil
}

func (c *Collector) resolveHosts(ctx context.Context) ([]string, error) {
	set := make(map[string]struct{})
	for _, h := range c.cfg.Hosts {
		if h = strings.TrimSpace(h); h != "" {
			set[h] = struct{}{}
		}
	}
	for _, role := range c.cfg.Roles {
		found, err := c.ceph.RoleHosts(ctx, role)
		if err != nil {
			return nil, fmt.Errorf("collector: discover %s hosts: %w", role, err)
		}
		for _, h := range found {
			set[h] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil, ErrNoHosts
	}
	hosts := make([]string, 0, len(set))
	for h := range set {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts, nil
}

func (c *Collector) endpoint(tr *transport.Transport) (transport.Endpoint, error) {
	host := strings.TrimSpace(c.cfg.AdvertiseHost)
	if host == "" {
		ip, err := firstIPv4()
		if err != nil {
			return transport.Endpoint{}, err
		}
		host = ip
	}
	return transport.Endpoint{
		Host:      host,
		Port:      tr.LocalAddr().Port,
		FrameSize: c.cfg.Session.FrameSize,
	}, nil
}

func firstIPv4() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoAdvertiseIP, err)
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if v4 := ipnet.IP.To4(); v4 != nil {
			return v4.String(), nil
		}
	}
	return "", ErrNoAdvertiseIP
}

// fanOut runs fn for every host with bounded parallelism and returns the
// hosts that succeeded, in input order. Failures are recorded, not returned.
func (c *Collector) fanOut(ctx context.Context, hosts []string, step string, fn func(context.Context, string) error) []string {
	ok := make([]bool, len(hosts))
	var g errgroup.Group
	g.SetLimit(c.cfg.Parallelism)
	for i, host := range hosts {
		g.Go(func() error {
			if err := fn(ctx, host); err != nil {
				c.log.Error().Err(err).Str("host", host).Str("step", step).Msg("host step failed")
				c.recordFailure(host, fmt.Sprintf("%s: %v", step, err))
				return nil
			}
			ok[i] = true
			return nil
		})
	}
	_ = g.Wait()

	out := make([]string, 0, len(hosts))
	for i, host := range hosts {
		if ok[i] {
			out = append(out, host)
		}
	}
	return out
}

func (c *Collector) recordFailure(host, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed[host] = msg
}

func (c *Collector) deploy(ctx context.Context, host string) error {
	return c.runnerFor(host).Copy(ctx, c.cfg.Agent.Binary, c.cfg.Agent.Path)
}

func (c *Collector) launch(ctx context.Context, host string, ep transport.Endpoint, runID string) error {
	runner := c.runnerFor(host)
	args := c.agentArgs(host, ep, runID)
	if c.cfg.daemon() {
		name, detached := remote.Detached(c.cfg.Agent.Path, args, c.cfg.Agent.LogPath)
		_, err := runner.Run(ctx, name, detached...)
		return err
	}
	logger := c.log.With().Str("host", host).Str("source", "agent").Logger()
	stdout := newHostLog(logger, zerolog.DebugLevel)
	stderr := newHostLog(logger, zerolog.DebugLevel)
	err := runner.RunStreaming(ctx, c.cfg.Agent.Path, args, stdout, stderr)
	stdout.Close()
	if last := stderr.Close(); err != nil && last != "" {
		return fmt.Errorf("%w: %s", err, last)
	}
	return err
}

// agentArgs renders the perfagent flags for one host.
func (c *Collector) agentArgs(host string, ep transport.Endpoint, runID string) []string {
	opts := c.cfg.Agent
	args := []string{"--id", host, "--collector", ep.String(), "--run-id", runID}
	if opts.SysMetrics {
		args = append(args, "--sysmetrics")
	}
	if opts.SchemaOnly {
		args = append(args, "--schema-only")
	}
	if opts.CountersFile != "" {
		args = append(args, "--counters-file", opts.CountersFile)
	}
	if opts.CephBinary != "" {
		args = append(args, "--ceph-binary", opts.CephBinary)
	}
	if opts.RunPath != "" {
		args = append(args, "--run-path", opts.RunPath)
	}
	if c.cfg.daemon() {
		args = append(args,
			"--interval", opts.Interval.String(),
			"--control", ":"+strconv.Itoa(opts.ControlPort),
		)
	}
	return args
}

// consume reads reports until every launched host reported (one-shot) or
// ctx ends. Daemon runs always read until ctx ends.
func (c *Collector) consume(ctx context.Context, rx *transport.Receiver, hosts, launched []string, res *Results, logger zerolog.Logger) {
	known := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		known[h] = struct{}{}
	}
	pending := make(map[string]struct{}, len(launched))
	for _, h := range launched {
		pending[h] = struct{}{}
	}

	for c.cfg.daemon() || len(pending) > 0 {
		msg, err := rx.NextContext(ctx)
		if err != nil {
			if len(pending) > 0 && !c.cfg.daemon() {
				logger.Warn().Err(err).Int("pending", len(pending)).Msg("stopped waiting for reports")
			}
			return
		}
		report, err := agent.DecodeReport(msg.Data)
		if err != nil {
			logger.Warn().Err(err).Str("peer", msg.Peer).Msg("discarding undecodable report")
			continue
		}
		if report.RunID != "" && report.RunID != res.RunID {
			logger.Debug().Str("peer", msg.Peer).Str("report_run", report.RunID).Msg("discarding report from another run")
			continue
		}
		host := hostFor(report, msg, known)
		if host == "" {
			logger.Warn().Str("peer", msg.Peer).Str("agent", report.AgentID).Msg("report from unknown host")
			continue
		}
		res.Reports[host] = append(res.Reports[host], report)
		delete(pending, host)
		observability.RecordAgentReport(c.cfg.ID, host)
		logger.Debug().Str("host", host).Uint64("sequence", report.Sequence).Msg("report received")
	}
}

func hostFor(report agent.Report, msg transport.Message, known map[string]struct{}) string {
	if _, ok := known[report.AgentID]; ok {
		return report.AgentID
	}
	if _, ok := known[msg.Host]; ok {
		return msg.Host
	}
	return ""
}

// stopAgents sends a verified stop to every daemon. It keeps going after
// ctx ends so interrupted runs still stop their agents.
func (c *Collector) stopAgents(ctx context.Context, hosts []string, runID string, logger zerolog.Logger) {
	sess := c.cfg.Session
	budget := time.Duration(sess.VerifyAttempts) * (sess.AckTimeout + sess.Backoff.MaxDelay)
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), budget)
	defer cancel()

	outbox := session.NewAckOutbox()
	c.fanOut(stopCtx, hosts, "stop", func(ctx context.Context, host string) error {
		return c.stopAgent(ctx, host, runID, outbox)
	})
	for _, item := range outbox.List() {
		logger.Warn().
			Str("dest", item.Destination).
			Int("attempts", item.Attempts).
			Str("last_error", item.LastError).
			Msg("agent stop not acknowledged")
	}
}

func (c *Collector) stopAgent(ctx context.Context, host, runID string, outbox *session.AckOutbox) error {
	dest := net.JoinHostPort(host, strconv.Itoa(c.cfg.Agent.ControlPort))
	payload, err := session.EncodeCommand(session.Command{Type: session.CommandStop, RunID: runID})
	if err != nil {
		return err
	}
	outbox.Upsert(session.PendingAck{Destination: dest, Command: session.CommandStop, QueuedAt: time.Now()})

	sendCfg := transport.Config{Node: c.cfg.ID, Session: c.cfg.Session}
	var lastErr error
	for attempt := 1; attempt <= c.cfg.Session.VerifyAttempts; attempt++ {
		if attempt > 1 {
			if err := session.WaitBackoff(ctx, c.cfg.Session.Backoff, attempt-1, nil); err != nil {
				return err
			}
		}
		lastErr = transport.VerifiedSend(ctx, sendCfg, c.log, dest, payload)
		if lastErr == nil {
			outbox.Remove(dest)
			return nil
		}
		outbox.MarkAttempt(dest, time.Now(), lastErr.Error())
		if errors.Is(lastErr, transport.ErrAckRejected) {
			return lastErr
		}
	}
	if item, ok := outbox.Get(dest); ok {
		return fmt.Errorf("stop %s after %d attempts: %w", dest, item.Attempts, lastErr)
	}
	return lastErr
}
