package extract

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"apflow/internal/logger"
	"apflow/pkg/models"
)

const docAIMaxSizeBytes = 20 * 1024 * 1024

// DocumentAIConfig configures the Document AI backend.
type DocumentAIConfig struct {
	ProjectID   string
	Location    string
	ProcessorID string
	Timeout     time.Duration
}

// DocumentAIExtractor extracts bills with a Document AI invoice processor.
// It yields less detail than the Gemini backend: no vendor candidates, no
// account hint, no per-line VAT codes. The cascade and reconciliation
// engine fill the gaps from what it does return.
type DocumentAIExtractor struct {
	client *documentai.DocumentProcessorClient
	config DocumentAIConfig
	log    zerolog.Logger
}

// NewDocumentAIExtractor creates the extractor with credentials from
// GOOGLE_CREDENTIALS or GOOGLE_APPLICATION_CREDENTIALS.
func NewDocumentAIExtractor(ctx context.Context, config DocumentAIConfig) (*DocumentAIExtractor, error) {
	const op = "extract.NewDocumentAIExtractor"

	if config.ProjectID == "" || config.ProcessorID == "" {
		return nil, NewExtractError(op, ErrMissingConfiguration, "project ID and processor ID are required")
	}
	if config.Location == "" {
		config.Location = "us"
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}

	var clientOptions []option.ClientOption
	if config.Location != "us" {
		endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", config.Location)
		clientOptions = append(clientOptions, option.WithEndpoint(endpoint))
	}
	if credJSON := os.Getenv("GOOGLE_CREDENTIALS"); credJSON != "" {
		clientOptions = append(clientOptions, option.WithCredentialsJSON([]byte(credJSON)))
	} else if credFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credFile != "" {
		clientOptions = append(clientOptions, option.WithCredentialsFile(credFile))
	}

	client, err := documentai.NewDocumentProcessorClient(ctx, clientOptions...)
	if err != nil {
		return nil, NewExtractError(op, err, fmt.Sprintf("failed to create Document AI client for location %s", config.Location))
	}

	return &DocumentAIExtractor{
		client: client,
		config: config,
		log:    logger.WithComponent("documentai-extract"),
	}, nil
}

// ExtractBill processes the attachment through the invoice processor and
// maps its entities onto the bill structure.
func (d *DocumentAIExtractor) ExtractBill(ctx context.Context, req Request) (*models.ExtractedBill, error) {
	const op = "extract.DocumentAIExtractor.ExtractBill"

	if len(req.FileData) == 0 {
		return nil, NewExtractError(op, ErrExtractionFailed, "no attachment content")
	}
	if len(req.FileData) > docAIMaxSizeBytes {
		return nil, NewExtractError(op, ErrDocumentTooLarge, fmt.Sprintf("file size: %d bytes", len(req.FileData)))
	}

	mt := strings.ToLower(strings.TrimSpace(req.MimeType))
	if mt == "" {
		mt = "application/pdf"
	}

	processCtx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	resp, err := d.client.ProcessDocument(processCtx, &documentaipb.ProcessRequest{
		Name: d.processorName(),
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  req.FileData,
				MimeType: mt,
			},
		},
	})
	if err != nil {
		return nil, NewExtractError(op, err, "Document AI processing failed")
	}
	if resp.Document == nil {
		return nil, NewExtractError(op, ErrExtractionFailed, "no document in response")
	}

	bill := d.billFromDocument(resp.Document)

	d.log.Debug().
		Str("vendor", bill.Vendor.Name).
		Float64("grand_total", bill.Totals.GrandTotal).
		Int("line_items", len(bill.LineItems)).
		Msg("bill extracted via Document AI")

	return bill, nil
}

func (d *DocumentAIExtractor) processorName() string {
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s",
		d.config.ProjectID, d.config.Location, d.config.ProcessorID)
}

// billFromDocument maps invoice-processor entities onto the bill schema.
// Every monetary entity also becomes an amount candidate so the
// reconciliation engine can cross-check the totals.
func (d *DocumentAIExtractor) billFromDocument(doc *documentaipb.Document) *models.ExtractedBill {
	bill := &models.ExtractedBill{}
	bill.VAT.Classification = models.ClassificationUnknown
	bill.VAT.GoodsOrServices = "unknown"

	for _, entity := range doc.Entities {
		value := strings.TrimSpace(entity.MentionText)
		conf := float64(entity.Confidence)

		switch entity.Type {
		case "supplier_name", "vendor_name":
			bill.Vendor = models.VendorCandidate{Name: value, Confidence: conf, Source: "body"}
			bill.VendorCandidates = append(bill.VendorCandidates, bill.Vendor)
		case "supplier_address":
			bill.VendorDetails.Address = value
		case "supplier_tax_id":
			bill.VendorDetails.TIN = value
		case "invoice_id", "invoice_number":
			bill.Invoice.Number = value
		case "invoice_date":
			if date, ok := entityDate(entity); ok {
				bill.Invoice.Date = date
				bill.Invoice.DateConfidence = conf
			}
		case "currency":
			bill.Invoice.Currency = strings.ToUpper(value)
		case "total_amount", "gross_amount":
			if amount, err := entityAmount(entity); err == nil {
				bill.Totals.GrandTotal = amount
				bill.Totals.GrandTotalConfidence = conf
				d.addCandidate(bill, "total_amount", amount, conf, value)
			}
		case "net_amount", "subtotal_amount":
			if amount, err := entityAmount(entity); err == nil {
				bill.Totals.NetTotal = amount
				bill.Totals.NetTotalConfidence = conf
				d.addCandidate(bill, "net_amount", amount, conf, value)
			}
		case "total_tax_amount", "vat_amount":
			if amount, err := entityAmount(entity); err == nil {
				bill.Totals.TaxTotal = amount
				bill.Totals.TaxTotalConfidence = conf
				bill.VAT.VATAmount = amount
				bill.VAT.VATAmountConfidence = conf
				d.addCandidate(bill, "tax_amount", amount, conf, value)
			}
		case "line_item":
			if li, ok := lineItemFromEntity(entity); ok {
				bill.LineItems = append(bill.LineItems, li)
			}
		}
	}

	if bill.Totals.TaxTotal > 0 {
		bill.VAT.Classification = models.ClassificationVatable
		if bill.Totals.NetTotal > 0 {
			bill.VAT.VatableBase = bill.Totals.NetTotal
			bill.VAT.VatableBaseConfidence = bill.Totals.NetTotalConfidence
		}
	}
	if bill.Totals.GrandTotal > 0 && bill.Totals.NetTotal > 0 &&
		bill.Totals.GrandTotal > bill.Totals.NetTotal {
		bill.Totals.AmountsAreVATInclusive = true
	}

	bill.Warnings = append(bill.Warnings, "extracted via Document AI: no vendor candidates or account hint available")
	return bill
}

func (d *DocumentAIExtractor) addCandidate(bill *models.ExtractedBill, label string, amount, conf float64, snippet string) {
	bill.AmountCandidates = append(bill.AmountCandidates, models.AmountCandidate{
		Label:      label,
		Amount:     amount,
		Confidence: conf,
		Snippet:    snippet,
	})
}

// lineItemFromEntity assembles one invoice line from the entity's nested
// properties.
func lineItemFromEntity(entity *documentaipb.Document_Entity) (models.LineItem, bool) {
	li := models.LineItem{Quantity: 1}
	var found bool

	for _, prop := range entity.Properties {
		value := strings.TrimSpace(prop.MentionText)
		switch prop.Type {
		case "line_item/description":
			li.Description = value
			found = true
		case "line_item/quantity":
			if qty, err := strconv.ParseFloat(strings.ReplaceAll(value, ",", ""), 64); err == nil && qty > 0 {
				li.Quantity = qty
			}
		case "line_item/unit_price":
			if amount, err := entityAmount(prop); err == nil {
				li.UnitPrice = amount
			}
		case "line_item/amount":
			if amount, err := entityAmount(prop); err == nil {
				li.Amount = amount
				found = true
			}
		}
	}

	li.ExpenseCategory = "other"
	return li, found
}

// entityDate prefers the normalized date value, falling back to parsing
// the mention text.
func entityDate(entity *documentaipb.Document_Entity) (string, bool) {
	if nv := entity.NormalizedValue; nv != nil {
		if dv := nv.GetDateValue(); dv != nil {
			return fmt.Sprintf("%04d-%02d-%02d", dv.Year, dv.Month, dv.Day), true
		}
	}

	raw := strings.TrimSpace(entity.MentionText)
	if raw == "" {
		return "", false
	}
	for _, format := range []string{"2006-01-02", "01/02/2006", "January 2, 2006", "Jan 2, 2006", "2 January 2006"} {
		if date, err := time.Parse(format, raw); err == nil {
			return date.Format("2006-01-02"), true
		}
	}
	return "", false
}

// entityAmount prefers the normalized money value, falling back to
// parsing the mention text with separators stripped.
func entityAmount(entity *documentaipb.Document_Entity) (float64, error) {
	if nv := entity.NormalizedValue; nv != nil {
		if mv := nv.GetMoneyValue(); mv != nil {
			return float64(mv.Units) + float64(mv.Nanos)/1e9, nil
		}
	}
	return parseAmountText(entity.MentionText)
}

func parseAmountText(raw string) (float64, error) {
	cleaned := strings.TrimSpace(raw)
	for _, junk := range []string{" ", ",", "₱", "PHP", "Php", "P$", "$"} {
		cleaned = strings.ReplaceAll(cleaned, junk, "")
	}
	if cleaned == "" {
		return 0, fmt.Errorf("empty amount value")
	}
	amount, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("unable to parse amount %q", raw)
	}
	return amount, nil
}

// Close closes the underlying Document AI client.
func (d *DocumentAIExtractor) Close() error {
	if d.client != nil {
		return d.client.Close()
	}
	return nil
}
