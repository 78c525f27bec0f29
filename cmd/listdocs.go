package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"apflow/internal/config"
)

var listDocsCmd = &cobra.Command{
	Use:   "list-docs",
	Short: "List the documents in a target's AP folder",
	Long: `List every document in the routing target's AP folder, newest first,
regardless of whether it has been processed. Useful for finding the
document id to pass to run-one.`,
	Example: `  # List documents on the sole enabled target
  apflow list-docs

  # List documents for a specific target as JSON
  apflow list-docs --target-key "https://acme.odoo.com|acme|bot@acme.com|1" --json`,
	RunE: runListDocs,
}

func init() {
	rootCmd.AddCommand(listDocsCmd)

	listDocsCmd.Flags().String("target-key", "", "Routing target key (required with multiple targets)")
	listDocsCmd.Flags().Bool("json", false, "Print the listing as JSON")
}

func runListDocs(cmd *cobra.Command, args []string) error {
	targetKey, _ := cmd.Flags().GetString("target-key")
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

	docs, err := runner.ListAPDocuments(ctx, targetKey)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(docs)
	}
	for _, d := range docs {
		fmt.Printf("%8d  att=%-8d  %-19s  %s\n", d.DocID, d.AttachmentID, d.CreateDate, d.Name)
	}
	fmt.Printf("%d documents\n", len(docs))
	return nil
}
