package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	appaudits "github.com/Bevor-Protocol/certaik-api/internal/application/audits"
	"github.com/Bevor-Protocol/certaik-api/internal/bootstrap"
	"github.com/Bevor-Protocol/certaik-api/internal/domain/audits"
)

var (
	jobID     string
	auditType string
	codeFile  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one audit and print its result",
	Long: `Run an existing job with --job, or submit and run a new one with
--type and --file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if (jobID == "") == (codeFile == "") {
			return errors.New("exactly one of --job or --file is required")
		}
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

		id := audits.JobID(jobID)
		if codeFile != "" {
			source, err := os.ReadFile(codeFile)
			if err != nil {
				return err
			}
			job, err := app.Service.Submit(cmd.Context(), appaudits.SubmitCommand{Type: auditType, Source: string(source)})
			if err != nil {
				return err
			}
			id = job.ID
		}

		res, err := app.Service.Run(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("audit %s: %w", id, err)
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	runCmd.Flags().StringVar(&jobID, "job", "", "ID of an existing job")
	runCmd.Flags().StringVar(&auditType, "type", string(audits.TypeSecurity), "Audit type for a new job (security or gas)")
	runCmd.Flags().StringVarP(&codeFile, "file", "f", "", "Contract source to audit as a new job")
}
