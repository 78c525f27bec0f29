package pipeline

import (
	"context"
	"strings"

	"apflow/internal/odoo"
	"apflow/pkg/models"
)

// Philippine receipts carry a printer accreditation box naming the print
// shop that produced the receipt stock. Its name is often the most
// prominent text on the page and must never become the vendor.
var atpBadTokens = []string{
	"printer", "printing", "press", "graphic", "publishing",
	"accreditation", "permit", "atp", "bir", "authority",
}

var atpContextHints = []string{
	"atp", "bir permit", "printer", "accreditation", "date issued", "permit no",
}

// looksLikeATPPrinterVendor reports whether a candidate vendor name is
// likely the accredited printer rather than the seller. The name itself is
// checked for printer vocabulary, then the OCR text around the name for
// accreditation-box context.
func looksLikeATPPrinterVendor(name, ocrText string) bool {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return false
	}
	for _, tok := range atpBadTokens {
		if strings.Contains(n, tok) {
			return true
		}
	}
	text := strings.ToLower(ocrText)
	anchor := n
	if len(anchor) > 12 {
		anchor = anchor[:12]
	}
	idx := strings.Index(text, anchor)
	if idx < 0 {
		return false
	}
	lo := idx - 180
	if lo < 0 {
		lo = 0
	}
	hi := idx + 180
	if hi > len(text) {
		hi = len(text)
	}
	win := text[lo:hi]
	for _, hint := range atpContextHints {
		if strings.Contains(win, hint) {
			return true
		}
	}
	return false
}

// chooseBestNonATPVendor returns the highest-confidence candidate that is
// not flagged as the printer, or nil when every candidate is suspect.
func chooseBestNonATPVendor(candidates []models.VendorCandidate, ocrText string) *models.VendorCandidate {
	var best *models.VendorCandidate
	for i := range candidates {
		c := &candidates[i]
		if strings.TrimSpace(c.Name) == "" {
			continue
		}
		if c.Source == models.VendorSourceATPPrinterBox {
			continue
		}
		if looksLikeATPPrinterVendor(c.Name, ocrText) {
			continue
		}
		if best == nil || c.Confidence > best.Confidence {
			best = c
		}
	}
	return best
}

// pickVendor selects the vendor identity from an extracted bill. The
// primary vendor wins unless it looks like the printer, in which case the
// best clean candidate takes over.
func pickVendor(bill *models.ExtractedBill, ocrText string) models.VendorCandidate {
	primary := bill.Vendor
	primary.Name = strings.TrimSpace(primary.Name)
	primaryBad := primary.Source == models.VendorSourceATPPrinterBox ||
		looksLikeATPPrinterVendor(primary.Name, ocrText)
	if primary.Name != "" && !primaryBad {
		return primary
	}
	if alt := chooseBestNonATPVendor(bill.VendorCandidates, ocrText); alt != nil {
		out := *alt
		out.Name = strings.TrimSpace(out.Name)
		return out
	}
	return models.VendorCandidate{Source: "unknown"}
}

// vendorMatch is the outcome of resolving the extracted vendor against the
// ledger's partner records.
type vendorMatch struct {
	ID         int64
	Name       string
	Confidence float64
	Source     string
	Created    bool
}

// findVendor searches existing supplier partners under the extracted name,
// then the trade name, then the proprietor name. A zero ID means no match.
func findVendor(ctx context.Context, client *odoo.Client, companyID int64, bill *models.ExtractedBill, ocrText string) (vendorMatch, error) {
	picked := pickVendor(bill, ocrText)
	if picked.Name == "" {
		return vendorMatch{Source: picked.Source}, nil
	}

	tradeName := strings.TrimSpace(bill.VendorDetails.TradeName)
	proprietorName := strings.TrimSpace(bill.VendorDetails.ProprietorName)
	searchNames := []string{picked.Name}
	if tradeName != "" && !strings.EqualFold(tradeName, picked.Name) {
		searchNames = append(searchNames, tradeName)
	}
	if proprietorName != "" && !strings.EqualFold(proprietorName, picked.Name) {
		searchNames = append(searchNames, proprietorName)
	}

	for _, name := range searchNames {
		rows, err := client.SearchRead(ctx, "res.partner",
			[]any{odoo.Cond("name", "ilike", name), odoo.Cond("supplier_rank", ">", 0)},
			[]string{"id", "name"},
			odoo.KwWithCompany(companyID, map[string]any{"limit": 5, "order": "supplier_rank desc,id asc"}))
		if err != nil {
			return vendorMatch{}, err
		}
		if len(rows) > 0 {
			return vendorMatch{
				ID:         rows[0].Int64("id"),
				Name:       rows[0].Str("name"),
				Confidence: picked.Confidence,
				Source:     picked.Source,
			}, nil
		}
	}

	return vendorMatch{Name: picked.Name, Confidence: picked.Confidence, Source: picked.Source}, nil
}

// Vendor creation outcomes.
const (
	vendorMissing           = "missing"
	vendorBlockedPrinter    = "blocked_printer"
	vendorNeedsConfirmation = "needs_confirmation"
	vendorMatched           = "matched"
	vendorCreated           = "created"
)

type vendorCreateResult struct {
	Status     string
	PartnerID  int64
	Created    bool
	Name       string
	Confidence float64
}

// createVendorIfMissing auto-creates a supplier partner when the extracted
// vendor is confident enough. Sole proprietors are registered under the
// proprietor's name with the trade name kept in the partner notes, matching
// how Philippine registrations read.
func createVendorIfMissing(ctx context.Context, client *odoo.Client, companyID int64, bill *models.ExtractedBill, ocrText string, minConfidence float64) (vendorCreateResult, error) {
	picked := pickVendor(bill, ocrText)
	rawName := strings.TrimSpace(picked.Name)
	if rawName == "" {
		return vendorCreateResult{Status: vendorMissing}, nil
	}
	if picked.Source == models.VendorSourceATPPrinterBox || looksLikeATPPrinterVendor(rawName, ocrText) {
		return vendorCreateResult{Status: vendorBlockedPrinter}, nil
	}
	if picked.Confidence < minConfidence {
		return vendorCreateResult{Status: vendorNeedsConfirmation, Name: rawName, Confidence: picked.Confidence}, nil
	}

	details := bill.VendorDetails
	entityType := strings.ToLower(strings.TrimSpace(details.EntityType))
	isSoleProp := entityType == "sole_proprietor" || entityType == "individual"
	tradeName := strings.TrimSpace(details.TradeName)
	proprietorName := strings.TrimSpace(details.ProprietorName)

	name := rawName
	if isSoleProp && proprietorName != "" {
		name = proprietorName
	}

	searchNames := []string{name}
	if !strings.EqualFold(rawName, name) {
		searchNames = append(searchNames, rawName)
	}
	if tradeName != "" && !strings.EqualFold(tradeName, name) {
		searchNames = append(searchNames, tradeName)
	}
	for _, sn := range searchNames {
		rows, err := client.SearchRead(ctx, "res.partner",
			[]any{odoo.Cond("name", "ilike", sn), odoo.Cond("supplier_rank", ">", 0)},
			[]string{"id", "name"},
			odoo.KwWithCompany(companyID, map[string]any{"limit": 1}))
		if err != nil {
			return vendorCreateResult{}, err
		}
		if len(rows) > 0 {
			return vendorCreateResult{
				Status:    vendorMatched,
				PartnerID: rows[0].Int64("id"),
				Name:      rows[0].Str("name"),
			}, nil
		}
	}

	vals := map[string]any{
		"name":          name,
		"supplier_rank": 1,
	}
	if addr := strings.TrimSpace(details.Address); addr != "" {
		if len(addr) > 255 {
			addr = addr[:255]
		}
		vals["street"] = addr
	}
	if tin := strings.TrimSpace(details.TIN); tin != "" {
		vals["vat"] = tin
	}
	var notes []string
	if isSoleProp && tradeName != "" {
		notes = append(notes, "Trade name: "+tradeName)
	}
	if isSoleProp && proprietorName != "" && !strings.EqualFold(proprietorName, name) {
		notes = append(notes, "Proprietor: "+proprietorName)
	}
	if !isSoleProp && tradeName != "" && !strings.EqualFold(tradeName, name) {
		notes = append(notes, "DBA: "+tradeName)
	}
	if len(notes) > 0 {
		vals["comment"] = strings.Join(notes, "\n")
	}

	newID, err := createPartner(ctx, client, vals, isSoleProp)
	if err != nil {
		return vendorCreateResult{}, err
	}
	return vendorCreateResult{
		Status:     vendorCreated,
		PartnerID:  newID,
		Created:    true,
		Name:       name,
		Confidence: picked.Confidence,
	}, nil
}

// createPartner creates the partner record, degrading through the partner
// type fields older servers reject: company_type first, then is_company,
// then neither.
func createPartner(ctx context.Context, client *odoo.Client, vals map[string]any, isSoleProp bool) (int64, error) {
	if isSoleProp {
		vals["company_type"] = "person"
	} else {
		vals["company_type"] = "company"
	}
	id, err := client.Create(ctx, "res.partner", vals)
	if err == nil {
		return id, nil
	}
	if !strings.Contains(err.Error(), "company_type") {
		return 0, err
	}

	delete(vals, "company_type")
	vals["is_company"] = !isSoleProp
	id, err = client.Create(ctx, "res.partner", vals)
	if err == nil {
		return id, nil
	}

	delete(vals, "is_company")
	return client.Create(ctx, "res.partner", vals)
}
