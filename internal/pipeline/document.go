package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"apflow/internal/accounts"
	"apflow/internal/extract"
	"apflow/internal/marker"
	"apflow/internal/odoo"
	"apflow/internal/tax"
	"apflow/pkg/models"
)

// Skip reasons reported in document outcomes.
const (
	SkipNoAttachment       = "no_attachment"
	SkipAttachmentNotFound = "attachment_not_found"
	SkipAlreadyProcessed   = "already_processed"
	SkipOCRTooShort        = "ocr_too_short"
	SkipVendorNotFound     = "vendor_not_found"
	SkipDuplicate          = "duplicate"
)

// Outcome statuses.
const (
	StatusOK   = "ok"
	StatusSkip = "skip"
)

// DocOutcome describes what happened to one document.
type DocOutcome struct {
	Status        string `json:"status"`
	Reason        string `json:"reason,omitempty"`
	BillID        int64  `json:"bill_id,omitempty"`
	VendorID      int64  `json:"vendor_id,omitempty"`
	VendorCreated bool   `json:"vendor_created,omitempty"`
	ManualReview  bool   `json:"manual_review,omitempty"`
}

func skipOutcome(reason string) DocOutcome {
	return DocOutcome{Status: StatusSkip, Reason: reason}
}

// targetContext bundles the per-target collaborators built once at the
// start of a run: the ledger client, the expense chart, and the account
// resolver over it.
type targetContext struct {
	target   models.RoutingTarget
	key      string
	client   *odoo.Client
	accounts []models.Account
	resolver *accounts.Resolver
}

// processDocument runs the full flow for one source document: idempotency
// check, OCR, extraction, reconciliation, vendor resolution, duplicate
// detection, account resolution, and the ledger create with its markers
// and chatter trail.
func (r *Runner) processDocument(ctx context.Context, tc *targetContext, doc odoo.Document, reprocess bool) (DocOutcome, error) {
	const op = "pipeline.processDocument"
	companyID := tc.target.CompanyID

	if doc.AttachmentID == 0 {
		return skipOutcome(SkipNoAttachment), nil
	}
	att, err := tc.client.LoadAttachment(ctx, companyID, doc.AttachmentID)
	if err != nil {
		if errors.Is(err, odoo.ErrNotFound) {
			return skipOutcome(SkipAttachmentNotFound), nil
		}
		return DocOutcome{}, NewPipelineError(op, err, "load attachment")
	}

	processedPrefix := r.cfg.ProcessedMarkerPrefix
	if reprocess && marker.IsProcessed(att.Description, processedPrefix, tc.key, doc.ID) {
		billID := marker.ProcessedBillID(att.Description, processedPrefix, tc.key, doc.ID)
		mk := marker.Processed(processedPrefix, tc.key, doc.ID, billID, doc.Name)
		cleaned := marker.Strip(att.Description, mk)
		if err := tc.client.SetAttachmentDescription(ctx, att.ID, cleaned); err != nil {
			return DocOutcome{}, NewPipelineError(op, err, "clear completion marker")
		}
		att.Description = cleaned
		r.log.Info().Int64("doc_id", doc.ID).Msg("Reprocess requested, cleared completion marker")
	}
	if !reprocess && marker.IsProcessed(att.Description, processedPrefix, tc.key, doc.ID) {
		billID := marker.ProcessedBillID(att.Description, processedPrefix, tc.key, doc.ID)
		if billID != 0 {
			exists, err := tc.client.BillExists(ctx, companyID, billID)
			if err != nil {
				return DocOutcome{}, NewPipelineError(op, err, "verify marked bill")
			}
			if exists {
				return DocOutcome{Status: StatusSkip, Reason: SkipAlreadyProcessed, BillID: billID}, nil
			}
			// The bill the marker points at was deleted. Heal the marker
			// and process the document again.
			r.log.Info().Int64("doc_id", doc.ID).Int64("bill_id", billID).
				Msg("Linked bill was deleted, clearing stale marker")
			mk := marker.Processed(processedPrefix, tc.key, doc.ID, billID, doc.Name)
			cleaned := marker.Strip(att.Description, mk)
			if err := tc.client.SetAttachmentDescription(ctx, att.ID, cleaned); err != nil {
				return DocOutcome{}, NewPipelineError(op, err, "clear stale marker")
			}
			att.Description = cleaned
		}
	}

	// An OCR job marker records that work started on this attachment. A
	// marker surviving from an interrupted run means OCR is simply rerun.
	if job := marker.ParseJob(att.Description, r.cfg.OCRJobMarkerPrefix, tc.key, doc.ID, att.ID); job != nil {
		r.log.Info().Int64("doc_id", doc.ID).Int64("att_id", att.ID).Str("op_name", job.OpName).
			Msg("Found prior OCR job marker, rerunning OCR")
	} else {
		jm := marker.Job(r.cfg.OCRJobMarkerPrefix, tc.key, doc.ID, att.ID,
			fmt.Sprintf("inline-%d", time.Now().UnixMilli()), "inline")
		desc := marker.Append(att.Description, jm)
		if err := tc.client.SetAttachmentDescription(ctx, att.ID, desc); err != nil {
			return DocOutcome{}, NewPipelineError(op, err, "write job marker")
		}
		att.Description = desc
	}

	data, err := base64.StdEncoding.DecodeString(att.Datas)
	if err != nil {
		return DocOutcome{}, NewPipelineError(op, err, "decode attachment payload")
	}
	ocrText, err := r.ocr.Text(ctx, data, att.Mimetype)
	if err != nil {
		return DocOutcome{}, NewPipelineError(op, err, "ocr")
	}
	if len(strings.TrimSpace(ocrText)) < r.cfg.OCRMinTextLen {
		return skipOutcome(SkipOCRTooShort), nil
	}

	bill, err := r.extractor.ExtractBill(ctx, extract.Request{
		OCRText:  ocrText,
		FileData: data,
		MimeType: att.Mimetype,
	})
	if err != nil {
		return DocOutcome{}, NewPipelineError(op, err, "extract")
	}
	if corr := r.reconciler.Reconcile(bill, ocrText); corr != nil {
		r.log.Info().Int64("doc_id", doc.ID).Str("rule", corr.Rule).
			Float64("old_total", corr.OldTotal).Float64("new_total", corr.NewTotal).
			Msg("Extracted total corrected")
	}

	vendor, err := findVendor(ctx, tc.client, companyID, bill, ocrText)
	if err != nil {
		return DocOutcome{}, NewPipelineError(op, err, "find vendor")
	}
	if vendor.ID == 0 {
		created, err := createVendorIfMissing(ctx, tc.client, companyID, bill, ocrText, r.cfg.VendorAutoCreateMin)
		if err != nil {
			return DocOutcome{}, NewPipelineError(op, err, "create vendor")
		}
		if created.PartnerID == 0 {
			tc.client.MessagePost(ctx, companyID, "documents.document", doc.ID, vendorReviewMessage(bill))
			return DocOutcome{Status: StatusSkip, Reason: SkipVendorNotFound, ManualReview: true}, nil
		}
		vendor = vendorMatch{
			ID:         created.PartnerID,
			Name:       created.Name,
			Confidence: bill.Vendor.Confidence,
			Source:     bill.Vendor.Source,
			Created:    created.Created,
		}
		verb := "matched"
		if created.Created {
			verb = "created"
		}
		tc.client.MessagePost(ctx, companyID, "documents.document", doc.ID,
			fmt.Sprintf("Vendor auto-%s: %s (#%d).", verb, vendor.Name, vendor.ID))
	}

	if !reprocess {
		dup, err := tc.client.FindDuplicateBill(ctx, companyID, vendor.ID, bill.Invoice.Number, bill.Totals.GrandTotal)
		if err != nil {
			return DocOutcome{}, NewPipelineError(op, err, "duplicate check")
		}
		if dup != nil {
			mk := marker.Processed(processedPrefix, tc.key, doc.ID, dup.ID, doc.Name)
			if err := tc.client.SetAttachmentDescription(ctx, att.ID, marker.Append(att.Description, mk)); err != nil {
				return DocOutcome{}, NewPipelineError(op, err, "write duplicate marker")
			}
			return DocOutcome{Status: StatusSkip, Reason: SkipDuplicate, BillID: dup.ID}, nil
		}
	}

	currencyID, err := tc.client.ResolveCurrencyID(ctx, companyID, bill.Invoice.Currency)
	if err != nil {
		r.log.Warn().Err(err).Str("currency", bill.Invoice.Currency).Msg("Currency lookup failed, using company default")
		currencyID = 0
	}
	taxIDs := tax.PickTaxIDs(tc.target.VATIDs, bill)
	taxMeta, err := tc.client.GetTaxMeta(ctx, companyID, taxIDs)
	if err != nil {
		r.log.Warn().Err(err).Msg("Tax metadata lookup failed, assuming defaults")
		taxMeta = nil
	}

	var assignments *models.AccountAssignments
	if r.assigner != nil {
		assignments, err = r.assigner.AssignAccounts(ctx, extract.AssignmentRequest{
			Bill:     bill,
			Accounts: tc.accounts,
			Industry: tc.target.Industry,
			OCRText:  ocrText,
		})
		if err != nil {
			r.log.Warn().Err(err).Int64("doc_id", doc.ID).Msg("Account assignment pass failed")
			assignments = nil
		}
	}

	vendorDefaultAcct := tc.client.VendorDefaultAccountID(ctx, companyID, vendor.ID)
	vendorNameForHint := firstNonEmpty(bill.VendorDetails.TradeName, bill.Vendor.Name, vendor.Name)

	normalizer := tax.NewNormalizer(taxIDs, taxMeta)
	lines := normalizer.Lines(bill)

	lineAccountIDs := make([]int64, len(lines))
	lineAccountSources := make([]string, len(lines))
	for i, line := range lines {
		idx := line.Index
		if idx < 0 {
			idx = 0
		}
		var item *models.LineItem
		if line.Index >= 0 && line.Index < len(bill.LineItems) {
			item = &bill.LineItems[line.Index]
		}
		category := bill.ExpenseAccountHint.Category
		lineDesc := ""
		if item != nil {
			if item.ExpenseCategory != "" {
				category = item.ExpenseCategory
			}
			lineDesc = strings.TrimSpace(item.Description)
		}
		if category == "" {
			category = "other"
		}
		res := tc.resolver.Resolve(accounts.Request{
			VendorDefaultAccountID: vendorDefaultAcct,
			ModelPick:              assignments.ForLine(idx),
			VendorName:             vendorNameForHint,
			Category:               category,
			SuggestedName:          firstNonEmpty(bill.ExpenseAccountHint.SuggestedAccountName, lineDesc),
			LineDescription:        lineDesc,
		})
		lineAccountIDs[i] = res.AccountID
		lineAccountSources[i] = res.Source
		r.log.Info().Int64("doc_id", doc.ID).Int("line", i).Str("category", category).
			Int64("account_id", res.AccountID).Str("source", res.Source).
			Msg("Expense account resolved")
	}

	vals := buildBillVals(bill, vendor.ID, companyID, tc.target.PurchaseJournalID, currencyID, taxIDs, lines, lineAccountIDs)
	billID, err := tc.client.Create(ctx, "account.move", vals)
	if err != nil {
		return DocOutcome{}, NewPipelineError(op, err, "create bill")
	}

	mk := marker.Processed(processedPrefix, tc.key, doc.ID, billID, doc.Name)
	if err := tc.client.SetAttachmentDescription(ctx, att.ID, marker.Append(att.Description, mk)); err != nil {
		// The bill exists but the marker write failed. Surface the error so
		// the run counts it; the duplicate check will catch the rerun.
		return DocOutcome{}, NewPipelineError(op, err, "write completion marker")
	}

	r.attachSourceFile(ctx, tc, att, billID, doc.ID)
	r.linkDocumentToBill(ctx, tc, doc.ID, billID)

	tc.client.MessagePost(ctx, companyID, "documents.document", doc.ID,
		fmt.Sprintf("Draft vendor bill created: account.move #%d<br/>Vendor=%s", billID, orText(vendor.Name, "(unknown)")))
	tc.client.MessagePost(ctx, companyID, "account.move", billID, vendorExtractionMessage(bill, vendor))
	tc.client.MessagePost(ctx, companyID, "account.move", billID,
		accountSuggestionsMessage(bill, tc.accounts, lines, lineAccountIDs, lineAccountSources))
	tc.client.MessagePost(ctx, companyID, "account.move", billID, amountsMessage(bill))
	if len(bill.Warnings) > 0 || bill.Vendor.Confidence < 0.9 {
		tc.client.MessagePost(ctx, companyID, "account.move", billID, reviewMessage(bill))
	}

	return DocOutcome{
		Status:        StatusOK,
		BillID:        billID,
		VendorID:      vendor.ID,
		VendorCreated: vendor.Created,
	}, nil
}

// buildBillVals assembles the account.move create payload from the
// normalized ledger lines.
func buildBillVals(bill *models.ExtractedBill, vendorID, companyID, journalID, currencyID int64, taxIDs []int64, lines []tax.LedgerLine, lineAccountIDs []int64) map[string]any {
	var invoiceLines []any
	for i, line := range lines {
		lv := map[string]any{
			"name":       line.Name,
			"quantity":   line.Quantity,
			"price_unit": line.PriceUnit,
		}
		if i < len(lineAccountIDs) && lineAccountIDs[i] != 0 {
			lv["account_id"] = lineAccountIDs[i]
		}
		if line.Taxed {
			lv["tax_ids"] = []any{[]any{6, 0, taxIDs}}
		}
		invoiceLines = append(invoiceLines, []any{0, 0, lv})
	}

	vals := map[string]any{
		"move_type":        "in_invoice",
		"partner_id":       vendorID,
		"company_id":       companyID,
		"invoice_line_ids": invoiceLines,
	}
	if journalID != 0 {
		vals["journal_id"] = journalID
	}
	if currencyID != 0 {
		vals["currency_id"] = currencyID
	}
	if ref := strings.TrimSpace(bill.Invoice.Number); ref != "" {
		vals["ref"] = ref
	}
	if date := invoiceDate(bill.Invoice.Date); date != "" {
		vals["invoice_date"] = date
	}
	return vals
}

func invoiceDate(raw string) string {
	d := strings.TrimSpace(raw)
	if len(d) > 10 {
		d = d[:10]
	}
	return d
}

// attachSourceFile mirrors the source file onto the bill's chatter so the
// bill is reviewable without opening the documents app. Best effort.
func (r *Runner) attachSourceFile(ctx context.Context, tc *targetContext, att *odoo.Attachment, billID, docID int64) {
	if att.Datas == "" {
		return
	}
	chatAttID, err := tc.client.Create(ctx, "ir.attachment", map[string]any{
		"name":        att.Name,
		"mimetype":    att.Mimetype,
		"datas":       att.Datas,
		"res_model":   "mail.compose.message",
		"res_id":      0,
		"description": fmt.Sprintf("Source: documents.document#%d attachment#%d", docID, att.ID),
	})
	if err != nil {
		r.log.Debug().Err(err).Int64("bill_id", billID).Msg("Chatter attachment copy failed")
		return
	}
	kwargs := odoo.KwWithCompany(tc.target.CompanyID, map[string]any{
		"body":           fmt.Sprintf("Original document file attached (doc #%d)", docID),
		"message_type":   "comment",
		"attachment_ids": []int64{chatAttID},
	})
	if _, err := tc.client.ExecuteKw(ctx, "account.move", "message_post", []any{[]int64{billID}}, kwargs); err != nil {
		r.log.Debug().Err(err).Int64("bill_id", billID).Msg("Chatter attachment post failed")
	}
}

// folderRestoreDelays spaces the checks that undo the automatic folder move
// some server versions perform when a document is linked to a record.
var folderRestoreDelays = []time.Duration{1500 * time.Millisecond, 2500 * time.Millisecond, 4 * time.Second}

// linkDocumentToBill writes the record link onto the document using
// whichever link fields the server supports, then watches for the folder
// move side effect and puts the document back. Best effort.
func (r *Runner) linkDocumentToBill(ctx context.Context, tc *targetContext, docID, billID int64) {
	companyID := tc.target.CompanyID
	doc, err := tc.client.LoadDocument(ctx, companyID, docID)
	if err != nil {
		r.log.Warn().Err(err).Int64("doc_id", docID).Msg("Document reload before link failed")
		return
	}
	originalFolderID := doc.FolderID

	linkVals := map[string]any{}
	if tc.client.HasDocumentField(ctx, "res_model") {
		linkVals["res_model"] = "account.move"
	}
	if tc.client.HasDocumentField(ctx, "res_id") {
		linkVals["res_id"] = billID
	}
	if tc.client.HasDocumentField(ctx, "account_move_id") {
		linkVals["account_move_id"] = billID
	}
	if tc.client.HasDocumentField(ctx, "invoice_id") {
		linkVals["invoice_id"] = billID
	}
	if len(linkVals) > 0 {
		if err := tc.client.Write(ctx, "documents.document", []int64{docID}, linkVals); err != nil {
			r.log.Warn().Err(err).Int64("doc_id", docID).Int64("bill_id", billID).Msg("Document link write failed")
		}
	}

	if originalFolderID != 0 {
		for attempt, delay := range folderRestoreDelays {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			current, err := tc.client.LoadDocument(ctx, companyID, docID)
			if err != nil {
				continue
			}
			if current.FolderID == originalFolderID {
				break
			}
			if err := tc.client.Write(ctx, "documents.document", []int64{docID}, map[string]any{"folder_id": originalFolderID}); err != nil {
				continue
			}
			r.log.Info().Int64("doc_id", docID).Int64("folder_id", originalFolderID).
				Int64("moved_to", current.FolderID).Int("attempt", attempt+1).
				Msg("Restored document folder after link")
		}
	}

	docLink := fmt.Sprintf("%s/odoo/documents/%d", tc.client.BaseURL, docID)
	tc.client.MessagePost(ctx, companyID, "account.move", billID,
		fmt.Sprintf(`Source document: <a href="%s">Document #%d</a> (Documents app)`, docLink, docID))
}

func vendorReviewMessage(bill *models.ExtractedBill) string {
	return fmt.Sprintf(
		"Manual review required: vendor not confidently matched.\nExtracted vendor=%s conf=%.2f source=%s\nTIN=%s Address=%s",
		orText(bill.Vendor.Name, "(blank)"), bill.Vendor.Confidence, orText(bill.Vendor.Source, "unknown"),
		orText(bill.VendorDetails.TIN, "(none)"), orText(bill.VendorDetails.Address, "(none)"))
}

func vendorExtractionMessage(bill *models.ExtractedBill, vendor vendorMatch) string {
	vd := bill.VendorDetails
	entityType := strings.ToLower(strings.TrimSpace(vd.EntityType))
	entityLabel := "Unknown"
	switch entityType {
	case "sole_proprietor":
		entityLabel = "Sole Proprietor"
	case "corporation":
		entityLabel = "Corporation"
	case "individual":
		entityLabel = "Individual"
	}
	parts := []string{
		"<b>Vendor extraction</b>",
		fmt.Sprintf("Name: %s | Confidence: %.2f", orText(vendor.Name, "(unknown)"), bill.Vendor.Confidence),
		fmt.Sprintf("Entity type: <b>%s</b>", entityLabel),
	}
	if tn := strings.TrimSpace(vd.TradeName); tn != "" && !strings.EqualFold(tn, vendor.Name) {
		parts = append(parts, "Trade name: "+tn)
	}
	if pn := strings.TrimSpace(vd.ProprietorName); pn != "" {
		parts = append(parts, "Proprietor/Owner: "+pn)
	}
	if vd.TIN != "" {
		parts = append(parts, "TIN: "+vd.TIN)
	}
	if vd.Address != "" {
		parts = append(parts, "Address: "+vd.Address)
	}
	if vendor.Created {
		kind := "Company"
		if entityType == "sole_proprietor" || entityType == "individual" {
			kind = "Individual"
		}
		parts = append(parts, fmt.Sprintf("<i>Vendor auto-created (as %s)</i>", kind))
	}
	return strings.Join(parts, "<br/>")
}

func accountSuggestionsMessage(bill *models.ExtractedBill, chart []models.Account, lines []tax.LedgerLine, accountIDs []int64, sources []string) string {
	parts := []string{"<b>Account suggestions</b>"}
	for i, line := range lines {
		desc := "Single line"
		if line.Index >= 0 && line.Index < len(bill.LineItems) {
			desc = bill.LineItems[line.Index].Description
			if len(desc) > 60 {
				desc = desc[:60]
			}
		}
		var acct *models.Account
		for j := range chart {
			if chart[j].ID == accountIDs[i] {
				acct = &chart[j]
				break
			}
		}
		if acct != nil {
			parts = append(parts, fmt.Sprintf("Line %d: %s to <b>%s %s</b> <i>(%s)</i>", i+1, desc, acct.Code, acct.Name, sources[i]))
		} else {
			parts = append(parts, fmt.Sprintf("Line %d: %s to (account #%d)", i+1, desc, accountIDs[i]))
		}
	}
	return strings.Join(parts, "<br/>")
}

func amountsMessage(bill *models.ExtractedBill) string {
	t := bill.Totals
	parts := []string{
		"<b>Extracted amounts</b>",
		fmt.Sprintf("Grand total: %.2f | Net total: %.2f | Tax: %.2f", t.GrandTotal, t.NetTotal, t.TaxTotal),
		fmt.Sprintf("VAT-inclusive prices: %s | Currency: %s", yesNo(t.AmountsAreVATInclusive), orText(bill.Invoice.Currency, "(not detected)")),
	}
	if bill.Invoice.Number != "" {
		parts = append(parts, "Invoice #: "+bill.Invoice.Number)
	}
	if bill.Invoice.Date != "" {
		parts = append(parts, "Invoice date: "+bill.Invoice.Date)
	}
	if c := bill.Correction; c != nil {
		parts = append(parts, fmt.Sprintf("Total corrected by rule %s: %.2f was read as %.2f", c.Rule, c.NewTotal, c.OldTotal))
	}
	return strings.Join(parts, "<br/>")
}

func reviewMessage(bill *models.ExtractedBill) string {
	warnings := "(none)"
	if len(bill.Warnings) > 0 {
		warnings = strings.Join(bill.Warnings, "<br/>- ")
	}
	return fmt.Sprintf("<b>Manual review recommended.</b> Vendor confidence=%.2f<br/>Warnings:<br/>- %s",
		bill.Vendor.Confidence, warnings)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func orText(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
