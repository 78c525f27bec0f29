package extract

import (
	"context"
	"strings"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"github.com/rs/zerolog"

	"apflow/internal/logger"
	"apflow/pkg/models"
)

const (
	geminiMaxRetries   = 2
	geminiRetryBase    = 3 * time.Second
	defaultGeminiModel = "gemini-2.5-pro"
)

// GeminiExtractor extracts bills and assigns accounts with Gemini on
// Vertex AI. Two pre-configured models share one client: the bill model
// answers in the bill schema, the assignment model in the assignment
// schema.
type GeminiExtractor struct {
	client      *genai.Client
	billModel   *genai.GenerativeModel
	assignModel *genai.GenerativeModel
	log         zerolog.Logger
}

// NewGeminiExtractor creates the extractor for the given project and
// location. An empty modelName falls back to the package default.
func NewGeminiExtractor(ctx context.Context, projectID, location, modelName string) (*GeminiExtractor, error) {
	const op = "extract.NewGeminiExtractor"

	if projectID == "" || location == "" {
		return nil, NewExtractError(op, ErrMissingConfiguration, "projectID and location are required")
	}
	if modelName == "" {
		modelName = defaultGeminiModel
	}

	client, err := genai.NewClient(ctx, projectID, location)
	if err != nil {
		return nil, NewExtractError(op, err, "failed to create Vertex AI client")
	}

	billModel := client.GenerativeModel(modelName)
	billModel.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   billSchema,
		Temperature:      genai.Ptr[float32](0.0),
	}

	assignModel := client.GenerativeModel(modelName)
	assignModel.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   assignmentSchema,
		Temperature:      genai.Ptr[float32](0.0),
	}

	return &GeminiExtractor{
		client:      client,
		billModel:   billModel,
		assignModel: assignModel,
		log:         logger.WithComponent("gemini-extract"),
	}, nil
}

// ExtractBill sends the OCR text plus the attachment bytes when the mime
// type allows inlining. The image matters for handwritten receipts where
// the OCR text alone misleads.
func (g *GeminiExtractor) ExtractBill(ctx context.Context, req Request) (*models.ExtractedBill, error) {
	const op = "extract.GeminiExtractor.ExtractBill"

	parts := []genai.Part{genai.Text(billPrompt(req.OCRText))}

	mt := strings.ToLower(strings.TrimSpace(req.MimeType))
	if len(req.FileData) > 0 && (strings.HasPrefix(mt, "image/") || mt == "application/pdf") {
		parts = append(parts, genai.Blob{MIMEType: mt, Data: req.FileData})
	}

	raw, err := g.generate(ctx, g.billModel, parts)
	if err != nil {
		return nil, NewExtractError(op, err, "bill extraction request failed")
	}

	bill, err := decodeBill([]byte(raw))
	if err != nil {
		return nil, err
	}

	g.log.Debug().
		Str("vendor", bill.Vendor.Name).
		Float64("grand_total", bill.Totals.GrandTotal).
		Int("line_items", len(bill.LineItems)).
		Msg("bill extracted")

	return bill, nil
}

// AssignAccounts runs the account-assignment pass. Failures are reported
// as (nil, nil): the resolution cascade has non-model fallbacks and a
// missing assignment must not fail the document.
func (g *GeminiExtractor) AssignAccounts(ctx context.Context, req AssignmentRequest) (*models.AccountAssignments, error) {
	if req.Bill == nil || len(req.Accounts) == 0 {
		return nil, nil
	}

	parts := []genai.Part{genai.Text(assignmentPrompt(req))}

	raw, err := g.generate(ctx, g.assignModel, parts)
	if err != nil {
		g.log.Warn().Err(err).Msg("account assignment request failed, continuing without model picks")
		return nil, nil
	}

	out, err := decodeAssignments([]byte(raw))
	if err != nil {
		g.log.Warn().Err(err).Msg("account assignment response unparseable, continuing without model picks")
		return nil, nil
	}
	return out, nil
}

// generate calls the model with retries and returns the concatenated text
// parts of the first candidate.
func (g *GeminiExtractor) generate(ctx context.Context, model *genai.GenerativeModel, parts []genai.Part) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= geminiMaxRetries; attempt++ {
		if attempt > 0 {
			wait := geminiRetryBase * time.Duration(attempt)
			g.log.Warn().
				Err(lastErr).
				Int("attempt", attempt).
				Dur("wait", wait).
				Msg("retrying Gemini request")
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		resp, err := model.GenerateContent(ctx, parts...)
		if err != nil {
			lastErr = err
			continue
		}

		text := collectText(resp)
		if text == "" {
			lastErr = ErrEmptyResponse
			continue
		}
		return text, nil
	}
	return "", lastErr
}

func collectText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return sb.String()
}

// Close releases the underlying Vertex AI client.
func (g *GeminiExtractor) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}
