package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var serveDryRun bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Monitor every Jenkins job and remediate failed builds",
	Long: `Discovers all jobs (descending into folders and multi-branch projects),
starts one monitor per job and runs the pattern refresh and cleanup loops.

Patterns, actions and analyses are stored in Postgres when APP_ENV=production
and in SQLite otherwise. Set METRICS_ADDR (e.g. :9090) to expose Prometheus
metrics.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, appConfig, appLogger, appOptions{readOnly: serveDryRun})
		if err != nil {
			return err
		}
		defer a.Close()

		a.manager.LoadPatterns(ctx)
		if appConfig.MetricsAddr != "" {
			go serveMetrics(ctx, appConfig.MetricsAddr, a.metrics, appLogger)
		}

		appLogger.Info("Remedy %s monitoring %s", version, appConfig.Jenkins.URL)
		err = a.manager.Run(ctx)
		if errors.Is(err, context.Canceled) {
			appLogger.Info("Shutting down")
			return nil
		}
		return err
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveDryRun, "dry-run", false, "Decide remediations without triggering builds or writing descriptions")
}
