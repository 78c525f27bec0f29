package cmd

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"apflow/internal/config"
	"apflow/internal/logger"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan every routing target and post draft bills",
	Long: `Scan the AP folder of every enabled routing target, process each
candidate document through OCR, extraction, reconciliation and account
resolution, and post the resulting draft vendor bills.

Documents already carrying a completion marker are skipped, so the scan
can run on a schedule without double-posting. The run stops before the
configured budget elapses and resumes from the per-target watermark on
the next invocation.`,
	Example: `  # Run a full scan
  apflow scan

  # Print the run summary as JSON
  apflow scan --json`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().Bool("json", false, "Print the run summary as JSON")
}

func runScan(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("scan")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner, cleanup, err := buildRunner(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	log.Info().
		Int("targets", result.Targets).
		Int("scanned", result.Scanned).
		Int("created", result.Created).
		Int("skipped", result.Skipped).
		Int("errors", result.Errors).
		Dur("elapsed", result.Elapsed).
		Msg("Scan complete")
	return nil
}
