package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Bevor-Protocol/certaik-api/internal/bootstrap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		store, err := bootstrap.OpenStore(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer store.DB.Close()

		if err := store.Migrate(cmd.Context()); err != nil {
			return err
		}
		version, err := store.SchemaVersion()
		if err != nil {
			return err
		}
		log.Info("database migrated", zap.String("driver", cfg.Database.Driver), zap.Int64("version", version))
		return nil
	},
}
