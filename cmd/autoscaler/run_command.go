package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	pkgautoscaler "github.com/camwatch/frameparser-autoscaler/pkg/autoscaler"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Reconcile on a schedule until interrupted",
		Long: `Run ticks every reconcile.interval and serves /metrics, /healthz and the
admin API on metrics.addr. SIGINT or SIGTERM stops the loop after the
current tick.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var opts []pkgautoscaler.Option
			if addr := ctx.config.Metrics.Addr; addr != "" {
				opts = append(opts, pkgautoscaler.WithMetricsAddr(addr))
			}

			svc, _, err := ctx.buildService(runCtx, opts...)
			if err != nil {
				return err
			}

			ctx.logger.Info(runCtx, "autoscaler starting",
				"store", ctx.config.Store.Backend,
				"registry", ctx.config.Registry.Backend,
				"launcher", ctx.config.Launcher.Backend,
				"metricsAddr", ctx.config.Metrics.Addr,
			)
			return svc.Run(runCtx)
		},
	}
}
