// Package extract turns OCR text and attachment bytes into a structured
// vendor bill, and assigns ledger accounts to its lines. The primary
// backend is Gemini on Vertex AI; a Document AI processor and an OpenAI
// chat model are available as alternatives.
package extract

import (
	"bytes"
	"context"
	"encoding/json"

	"apflow/pkg/models"
)

// Request carries everything the extraction model may use: the OCR text
// plus the raw attachment so multimodal backends can read the image
// directly. Handwritten receipts OCR badly, so the image often carries
// more signal than the text.
type Request struct {
	OCRText  string
	FileData []byte
	MimeType string
}

// Extractor produces a structured bill from one document.
type Extractor interface {
	ExtractBill(ctx context.Context, req Request) (*models.ExtractedBill, error)
	Close() error
}

// AssignmentRequest carries the context for the account-assignment pass.
type AssignmentRequest struct {
	Bill     *models.ExtractedBill
	Accounts []models.Account
	Industry string
	OCRText  string
}

// AccountAssigner maps each bill line to an account from the given chart.
// Implementations return (nil, nil) when they have nothing to offer; the
// resolution cascade has non-model fallbacks.
type AccountAssigner interface {
	AssignAccounts(ctx context.Context, req AssignmentRequest) (*models.AccountAssignments, error)
}

// Chain tries each extractor in order and returns the first success.
type Chain []Extractor

// ExtractBill runs the extractors in order. The last error is returned
// when every backend fails.
func (c Chain) ExtractBill(ctx context.Context, req Request) (*models.ExtractedBill, error) {
	const op = "extract.Chain.ExtractBill"

	var lastErr error
	for _, e := range c {
		bill, err := e.ExtractBill(ctx, req)
		if err == nil {
			return bill, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrExtractionFailed
	}
	return nil, NewExtractError(op, lastErr, "all extraction backends failed")
}

// Close closes every extractor, returning the first error.
func (c Chain) Close() error {
	var firstErr error
	for _, e := range c {
		if err := e.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// decodeBill parses model output into an ExtractedBill. Markdown code
// fences are stripped in case the backend ignored the JSON response mode.
func decodeBill(raw []byte) (*models.ExtractedBill, error) {
	var bill models.ExtractedBill
	if err := json.Unmarshal(stripCodeFences(raw), &bill); err != nil {
		return nil, NewExtractError("extract.decodeBill", ErrInvalidResponse, err.Error())
	}
	return &bill, nil
}

// decodeAssignments parses model output into AccountAssignments.
func decodeAssignments(raw []byte) (*models.AccountAssignments, error) {
	var out models.AccountAssignments
	if err := json.Unmarshal(stripCodeFences(raw), &out); err != nil {
		return nil, NewExtractError("extract.decodeAssignments", ErrInvalidResponse, err.Error())
	}
	return &out, nil
}

func stripCodeFences(raw []byte) []byte {
	trimmed := bytes.TrimSpace(raw)
	if !bytes.HasPrefix(trimmed, []byte("```")) {
		return trimmed
	}
	if idx := bytes.IndexByte(trimmed, '\n'); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	trimmed = bytes.TrimSuffix(bytes.TrimSpace(trimmed), []byte("```"))
	return bytes.TrimSpace(trimmed)
}
