package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/helixir/osint-research-service/internal/reportstore"
	"github.com/helixir/osint-research-service/internal/repository"
	"github.com/helixir/osint-research-service/internal/research"
)

var (
	reportFormat string
	reportDir    string
)

var reportCmd = &cobra.Command{
	Use:   "report <session-id>",
	Short: "Print a stored report",
	Long: `Print a session's report as JSON or YAML. The report is read from
PostgreSQL, or from a reports directory written by "osint run".

Examples:
  osint report 7f1c1d5e-8d0e-4a36-9a55-5b8ef7f0d7a1 --format yaml
  osint report 7f1c1d5e-8d0e-4a36-9a55-5b8ef7f0d7a1 --dir reports`,
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportFormat, "format", reportstore.FormatJSON, "Report format (json, yaml)")
	reportCmd.Flags().StringVar(&reportDir, "dir", "", "Read the report from this reports directory")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	sessionID := args[0]
	if _, err := uuid.Parse(sessionID); err != nil {
		return fmt.Errorf("session ID must be a UUID: %q", sessionID)
	}

	var (
		report *research.Report
		err    error
	)
	if reportDir != "" {
		var files *reportstore.FileStore
		files, err = reportstore.NewFileStore(reportDir, reportstore.FormatJSON, reportstore.FormatYAML)
		if err != nil {
			return err
		}
		report, err = files.Load(sessionID)
	} else {
		db, dbErr := openDatabase(cmd.Context())
		if dbErr != nil {
			return dbErr
		}
		defer db.Close()
		report, err = repository.NewPgReportRepository(db).GetReport(cmd.Context(), sessionID)
	}
	if err != nil {
		return fmt.Errorf("load report: %w", err)
	}

	body, err := reportstore.Render(report, reportFormat)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(body)
	return err
}
