package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"apflow/internal/logger"
)

var version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "apflow",
	Short: "AP document pipeline - scan vendor invoices into draft bills",
	Long: `apflow scans accounts-payable document folders, runs OCR and model
extraction over each vendor invoice, reconciles the extracted amounts,
resolves expense accounts, and posts draft vendor bills to the ledger.

Routing targets (which database and company each document belongs to)
are read from a Google Sheet; per-target progress is checkpointed so
reruns never post the same document twice.`,
	Version: version,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("Use --help to see available commands and options.")
	},
}

func Execute() {
	log := logger.WithComponent("cmd")

	if err := rootCmd.Execute(); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().BoolP("version", "v", false, "Print version information")
}
