package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Bevor-Protocol/certaik-api/internal/config"
)

var (
	configFile string
)

var rootCmd = &cobra.Command{
	Use:          "auditor",
	Short:        "Run and manage contract audits outside the API server",
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(drainCmd)
	rootCmd.AddCommand(promptsCmd)

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to configuration file")
}

// setup loads the configuration and installs the global logger
func setup() (*config.Config, *zap.Logger, error) {
	if configFile == "" {
		configFile = config.PathFromEnv()
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("reading configuration: %w", err)
	}
	logger, err := cfg.Log.NewLogger()
	if err != nil {
		return nil, nil, err
	}
	zap.ReplaceGlobals(logger)
	return cfg, logger, nil
}
