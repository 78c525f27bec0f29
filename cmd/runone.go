package cmd

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"apflow/internal/config"
	"apflow/internal/pipeline"
)

var runOneCmd = &cobra.Command{
	Use:   "run-one",
	Short: "Process a single document by id",
	Long: `Process one document through the full pipeline, selected by its
document id or by its attachment id.

When more than one routing target is enabled, --target-key selects which
one to use. With --reprocess the document's completion marker is cleared
first, so a previously posted document is processed again.`,
	Example: `  # Process document 1234 on the sole enabled target
  apflow run-one --doc-id 1234

  # Reprocess a document that already has a bill
  apflow run-one --doc-id 1234 --reprocess

  # Select the document by attachment and target
  apflow run-one --attachment-id 567 --target-key "https://acme.odoo.com|acme|bot@acme.com|1"`,
	RunE: runRunOne,
}

func init() {
	rootCmd.AddCommand(runOneCmd)

	runOneCmd.Flags().Int64("doc-id", 0, "Document id to process")
	runOneCmd.Flags().Int64("attachment-id", 0, "Attachment id to locate the document by")
	runOneCmd.Flags().String("target-key", "", "Routing target key (required with multiple targets)")
	runOneCmd.Flags().Bool("reprocess", false, "Clear the completion marker and process again")
}

func runRunOne(cmd *cobra.Command, args []string) error {
	docID, _ := cmd.Flags().GetInt64("doc-id")
	attachmentID, _ := cmd.Flags().GetInt64("attachment-id")
	targetKey, _ := cmd.Flags().GetString("target-key")
	reprocess, _ := cmd.Flags().GetBool("reprocess")

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

	result, err := runner.RunOne(ctx, pipeline.RunOneRequest{
		TargetKey:    targetKey,
		DocID:        docID,
		AttachmentID: attachmentID,
		Reprocess:    reprocess,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
