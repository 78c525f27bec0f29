package cmd

import (
	"context"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"apflow/internal/config"
	"apflow/internal/logger"
	"apflow/internal/ocr"
)

var ocrCmd = &cobra.Command{
	Use:   "ocr [file]",
	Short: "Extract text from a local document using Cloud Vision OCR",
	Long: `Run a local image or PDF through the same OCR service the scan
pipeline uses and print the extracted text. Useful for checking what the
pipeline will see for a given receipt before it is uploaded.

Required environment variables:
  GOOGLE_APPLICATION_CREDENTIALS - Path to service account JSON file, OR
  GOOGLE_CREDENTIALS - Inline JSON credentials string`,
	Example: `  # Extract text from a receipt photo to stdout
  apflow ocr receipt.jpg

  # Save extracted text from a PDF to a file
  apflow ocr invoice.pdf -o extracted.txt`,
	Args: cobra.ExactArgs(1),
	RunE: runOCR,
}

func init() {
	rootCmd.AddCommand(ocrCmd)

	ocrCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	ocrCmd.Flags().Int("timeout", 300, "Processing timeout in seconds")
}

func runOCR(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("ocr")

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
	log.Info().
		Str("file", filePath).
		Str("mime_type", mimeType).
		Int("size", len(data)).
		Msg("Starting OCR processing")

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

	start := time.Now()
	text, err := svc.Text(ctx, data, mimeType)
	if err != nil {
		return fmt.Errorf("ocr failed: %w", err)
	}
	log.Info().
		Dur("duration", time.Since(start)).
		Int("text_length", len(text)).
		Msg("OCR processing completed")

	if outputPath != "" {
		if err := os.WriteFile(outputPath, []byte(text), 0o644); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		log.Info().Str("output", outputPath).Msg("Extracted text written")
		return nil
	}
	fmt.Println(text)
	return nil
}

// readLocalDocument loads a file and derives its mime type from the
// extension, defaulting to PDF for unknown extensions since that is what
// the AP folders mostly hold.
func readLocalDocument(path string) ([]byte, string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("file not found: %s", path)
		}
		return nil, "", fmt.Errorf("error accessing file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, "", fmt.Errorf("path is not a regular file: %s", path)
	}
	if info.Size() == 0 {
		return nil, "", fmt.Errorf("file is empty: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read file: %w", err)
	}

	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mimeType == "" || !strings.HasPrefix(mimeType, "image/") && mimeType != "application/pdf" {
		mimeType = "application/pdf"
	}
	return data, mimeType, nil
}
