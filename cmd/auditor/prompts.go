package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Bevor-Protocol/certaik-api/internal/bootstrap"
	"github.com/Bevor-Protocol/certaik-api/internal/domain/audits"
	fileprompts "github.com/Bevor-Protocol/certaik-api/internal/infra/prompts"
)

var promptsFile string

var promptsCmd = &cobra.Command{
	Use:   "prompts",
	Short: "Manage prompt bundles",
}

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Copy the bundles of a prompt file into the database and activate them",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		path := promptsFile
		if path == "" {
			path = cfg.Prompts.Path
		}
		reg, err := fileprompts.Load(path)
		if err != nil {
			return err
		}

		store, err := bootstrap.OpenStore(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer store.DB.Close()
		if err := store.Migrate(cmd.Context()); err != nil {
			return err
		}

		for _, t := range []audits.Type{audits.TypeSecurity, audits.TypeGas} {
			version, entries, err := reg.Entries(t)
			if err != nil {
				log.Warn("no bundle in file", zap.String("audit_type", string(t)), zap.Error(err))
				continue
			}
			if err := store.Prompts.Publish(cmd.Context(), t, version, entries); err != nil {
				return fmt.Errorf("publish %s %s: %w", t, version, err)
			}
			log.Info("prompt bundle published",
				zap.String("audit_type", string(t)),
				zap.String("version", version),
				zap.Int("entries", len(entries)),
			)
		}
		return nil
	},
}

func init() {
	promptsCmd.AddCommand(publishCmd)
	publishCmd.Flags().StringVar(&promptsFile, "file", "", "Prompt file (defaults to prompts.path)")
}
