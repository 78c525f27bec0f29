package extract

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"apflow/internal/logger"
	"apflow/pkg/models"
)

const openaiMaxRetries = 3

// openaiSystemPrompt pins the response to the bill structure. OpenAI's
// JSON mode guarantees valid JSON but not a schema, so the field layout
// is spelled out here.
const openaiSystemPrompt = `You extract vendor bills for an Accounts Payable pipeline. Return ONLY a JSON object with this exact structure and no extra keys:
{
  "vendor": {"name": "", "confidence": 0, "source": "header|body|atp_printer_box|unknown"},
  "vendor_candidates": [{"name": "", "confidence": 0, "source": ""}],
  "vendor_details": {"tin": "", "branch_code": "", "address": "", "entity_type": "corporation|sole_proprietor|individual|unknown", "trade_name": "", "proprietor_name": ""},
  "expense_account_hint": {"category": "", "suggested_account_name": "", "confidence": 0, "evidence": ""},
  "invoice": {"number": "", "date": "YYYY-MM-DD", "date_confidence": 0, "currency": ""},
  "vat": {"classification": "vatable|exempt|zero_rated|unknown", "goods_or_services": "goods|services|unknown", "vatable_base": 0, "vatable_base_confidence": 0, "vat_amount": 0, "vat_amount_confidence": 0, "exempt_amount": 0, "exempt_amount_confidence": 0, "zero_rated_amount": 0, "zero_rated_amount_confidence": 0, "evidence": ""},
  "totals": {"grand_total": 0, "grand_total_confidence": 0, "tax_total": 0, "tax_total_confidence": 0, "net_total": 0, "net_total_confidence": 0, "vat_exempt_amount": 0, "vat_exempt_amount_confidence": 0, "zero_rated_amount": 0, "zero_rated_amount_confidence": 0, "amounts_are_vat_inclusive": false},
  "amount_candidates": [{"label": "", "amount": 0, "confidence": 0, "snippet": ""}],
  "line_items": [{"description": "", "quantity": 0, "unit_price": 0, "amount": 0, "unit_price_includes_vat": false, "expense_category": "", "vat_code": "vatable|exempt|zero_rated|no_vat"}],
  "warnings": [""]
}
All confidence fields are between 0 and 1. Do NOT add trailing commas or text outside the JSON.`

// OpenAIExtractor is the fallback extraction backend, used when the
// primary Gemini backend is unavailable.
type OpenAIExtractor struct {
	client *openai.Client
	model  string
	log    zerolog.Logger
}

// NewOpenAIExtractor creates the fallback extractor.
func NewOpenAIExtractor(apiKey, model string) (*OpenAIExtractor, error) {
	const op = "extract.NewOpenAIExtractor"

	if apiKey == "" {
		return nil, NewExtractError(op, ErrMissingConfiguration, "OPENAI_API_KEY is required")
	}
	if model == "" {
		model = openai.GPT4o
	}

	return &OpenAIExtractor{
		client: openai.NewClient(apiKey),
		model:  model,
		log:    logger.WithComponent("openai-extract"),
	}, nil
}

// ExtractBill sends the extraction prompt, inlining the attachment as a
// data URL when it is an image.
func (o *OpenAIExtractor) ExtractBill(ctx context.Context, req Request) (*models.ExtractedBill, error) {
	const op = "extract.OpenAIExtractor.ExtractBill"

	userMsg := openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: billPrompt(req.OCRText),
	}

	mt := strings.ToLower(strings.TrimSpace(req.MimeType))
	if len(req.FileData) > 0 && strings.HasPrefix(mt, "image/") {
		userMsg = openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: billPrompt(req.OCRText)},
				{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL: fmt.Sprintf("data:%s;base64,%s", mt, base64.StdEncoding.EncodeToString(req.FileData)),
					},
				},
			},
		}
	}

	var lastErr error
	for attempt := 1; attempt <= openaiMaxRetries; attempt++ {
		resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       o.model,
			Temperature: 0,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: openaiSystemPrompt},
				userMsg,
			},
		})
		if err != nil {
			lastErr = err
			o.log.Warn().
				Err(err).
				Int("attempt", attempt).
				Int("max_retries", openaiMaxRetries).
				Msg("OpenAI request failed, retrying")
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = ErrEmptyResponse
			continue
		}

		bill, err := decodeBill([]byte(resp.Choices[0].Message.Content))
		if err != nil {
			lastErr = err
			o.log.Warn().
				Err(err).
				Int("attempt", attempt).
				Msg("failed to parse OpenAI response, retrying")
			continue
		}
		return bill, nil
	}

	return nil, NewExtractError(op, lastErr, fmt.Sprintf("all %d attempts failed", openaiMaxRetries))
}

// Close implements Extractor. The OpenAI client holds no connection state.
func (o *OpenAIExtractor) Close() error { return nil }
