package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/perfctl/internal/agent"
	"github.com/danmuck/perfctl/internal/observability"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	opts := &flagOptions{}
	cmd := &cobra.Command{
		Use:   "perfagent",
		Short: "Collect ceph perf counters on this host and report them to a collector",
		Long: `perfagent reads perf counters from every ceph admin socket on the host,
optionally adds process and disk statistics, and prints the report or sends it
to a collector over UDP. With --interval it keeps running until the collector
sends a verified stop.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			file, err := resolveConfig(cmd, opts)
			if err != nil {
				return err
			}
			return run(cmd.Context(), file)
		},
	}
	opts.register(cmd)
	return cmd
}

func run(ctx context.Context, file fileConfig) error {
	log := observability.InitLogger("perfagent")
	observability.RegisterMetrics()

	a, err := agent.New(file.Agent, log, nil, os.Stdout)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	metricsErr := make(chan error, 1)
	if file.MetricsAddr != "" {
		go func() {
			metricsErr <- observability.ServeMetrics(ctx, file.MetricsAddr, file.Agent.ID, log)
		}()
	} else {
		close(metricsErr)
	}

	runErr := a.Run(ctx)
	cancel()
	if err := <-metricsErr; err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Msg("metrics server stopped")
	}
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "perfagent: %v\n", err)
		os.Exit(1)
	}
}
