package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Bevor-Protocol/certaik-api/internal/bootstrap"
)

var drainLimit int

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Run waiting jobs, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		app, err := bootstrap.Open(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer app.Close()

		limit := drainLimit
		if limit <= 0 {
			limit = cfg.Pipeline.DrainBatch
		}
		done, err := app.Service.RunPending(cmd.Context(), limit)
		log.Info("drain finished", zap.Int("completed", done), zap.Int("limit", limit))
		return err
	},
}

func init() {
	drainCmd.Flags().IntVarP(&drainLimit, "limit", "n", 0, "Maximum jobs to run (defaults to pipeline.drainBatch)")
}
