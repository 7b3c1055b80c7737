package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/perfctl/internal/collector"
	"github.com/danmuck/perfctl/internal/observability"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	opts := &flagOptions{}
	cmd := &cobra.Command{
		Use:   "perfserver",
		Short: "Deploy perfagent across ceph hosts and gather their reports",
		Long: `perfserver resolves target hosts from --host or ceph roles, copies and
launches perfagent on each one over ssh, and collects the reports the agents
send back over UDP into a single JSON or YAML result.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd, opts)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	opts.register(cmd)
	return cmd
}

func run(ctx context.Context, cfg collector.Config) error {
	log := observability.InitLogger("perfserver")
	observability.RegisterMetrics()

	c, err := collector.New(cfg, log)
	if err != nil {
		return err
	}
	res, err := c.Run(ctx)
	if err != nil {
		return err
	}
	log.Info().
		Str("run", res.RunID).
		Int("hosts", len(res.Hosts)).
		Int("reported", len(res.Reports)).
		Int("missing", len(res.Missing)).
		Int("failed", len(res.Failed)).
		Dur("elapsed", res.FinishedAt.Sub(res.StartedAt)).
		Msg("collection finished")
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "perfserver: %v\n", err)
		os.Exit(1)
	}
}
