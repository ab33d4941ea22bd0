// Package main provides the osint command, which runs research sessions
// in-process and inspects stored audit trails and reports.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	output  string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "osint",
	Short: "OSINT due diligence research",
	Long: `osint runs iterative OSINT research sessions without the Temporal
worker and inspects the audit trails and reports they leave behind.

Commands:
  run      Research a subject in-process and write its report
  replay   Rebuild a session's final state from its audit trail
  report   Print a stored report as JSON or YAML`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
