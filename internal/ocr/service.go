// Package ocr extracts raw text from bill attachments with the Cloud
// Vision API. Images go through synchronous annotation with language
// hints; PDFs go through inline batch file annotation. The raw text feeds
// both the extraction model and the independent numeric cross-check.
//
// Required Environment Variables:
//   - GOOGLE_APPLICATION_CREDENTIALS: Path to service account JSON file, OR
//   - GOOGLE_CREDENTIALS: Inline JSON credentials string
//
// Cloud Vision API Limitations:
//   - Maximum file size: 20MB for synchronous processing
//   - Maximum pages: 5 pages per synchronous PDF request
package ocr

import (
	"context"
)

// Service extracts text from one attachment payload.
type Service interface {
	// Text returns the recognized text for the given file content. An
	// unsupported mime type yields empty text, not an error; the caller
	// decides whether the document is worth skipping.
	Text(ctx context.Context, data []byte, mimeType string) (string, error)

	// Close releases the underlying API client.
	Close() error
}

// Options tunes recognition for the receipt corpus.
type Options struct {
	// LanguageHints biases recognition; receipts here are mixed
	// English/Filipino.
	LanguageHints []string

	// MinTextLen is the length under which a document-text result is
	// retried with plain text detection, which copes better with
	// low-quality thermal prints.
	MinTextLen int
}
