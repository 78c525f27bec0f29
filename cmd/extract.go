package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"apflow/internal/config"
	"apflow/internal/extract"
	"apflow/internal/logger"
	"apflow/internal/ocr"
	"apflow/internal/reconcile"
)

var extractCmd = &cobra.Command{
	Use:   "extract [file]",
	Short: "Extract and reconcile a local document without posting",
	Long: `Run a local image or PDF through OCR, model extraction and amount
reconciliation, and print the structured bill as JSON. Nothing is posted
to any ledger.

This is the dry-run counterpart of the scan pipeline: the output is the
exact bill structure the pipeline would post, including any total
correction the reconciliation rules applied.`,
	Example: `  # Extract a receipt photo
  apflow extract receipt.jpg

  # Extract a PDF and save the bill JSON
  apflow extract invoice.pdf -o bill.json`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	extractCmd.Flags().Int("timeout", 300, "Processing timeout in seconds")
}

func runExtract(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("extract")

	outputPath, _ := cmd.Flags().GetString("output")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")
	filePath := args[0]

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	data, mimeType, err := readLocalDocument(filePath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSecs)*time.Second)
	defer cancel()

	svc, err := ocr.NewVisionService(ctx, ocr.Options{
		LanguageHints: cfg.VisionLangHints,
		MinTextLen:    cfg.OCRMinTextLen,
	})
	if err != nil {
		return fmt.Errorf("ocr service: %w", err)
	}
	defer svc.Close()

	ocrText, err := svc.Text(ctx, data, mimeType)
	if err != nil {
		return fmt.Errorf("ocr failed: %w", err)
	}
	log.Info().Int("text_length", len(ocrText)).Msg("OCR complete")

	extractor, err := extract.NewGeminiExtractor(ctx, cfg.GoogleCloudProject, cfg.GoogleCloudLocation, cfg.GeminiModel)
	if err != nil {
		return fmt.Errorf("extractor: %w", err)
	}
	defer extractor.Close()

	bill, err := extractor.ExtractBill(ctx, extract.Request{
		OCRText:  ocrText,
		FileData: data,
		MimeType: mimeType,
	})
	if err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}

	if corr := reconcile.NewEngine().Reconcile(bill, ocrText); corr != nil {
		log.Info().
			Str("rule", corr.Rule).
			Float64("old_total", corr.OldTotal).
			Float64("new_total", corr.NewTotal).
			Msg("Extracted total corrected")
	}

	out, err := json.MarshalIndent(bill, "", "  ")
	if err != nil {
		return fmt.Errorf("encode bill: %w", err)
	}
	if outputPath != "" {
		if err := os.WriteFile(outputPath, out, 0o644); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		log.Info().Str("output", outputPath).Msg("Bill JSON written")
		return nil
	}
	fmt.Println(string(out))
	return nil
}
