// Package models holds the domain structures shared across the pipeline:
// the extracted bill schema produced by the extraction collaborators, the
// routing target configuration, and per-target run state.
package models

// VAT classifications as reported at bill level.
const (
	ClassificationVatable   = "vatable"
	ClassificationExempt    = "exempt"
	ClassificationZeroRated = "zero_rated"
	ClassificationUnknown   = "unknown"
)

// Per-line VAT codes. NoVAT means no tax was applied to that specific line
// regardless of the bill-level classification.
const (
	VATCodeVatable   = "vatable"
	VATCodeExempt    = "exempt"
	VATCodeZeroRated = "zero_rated"
	VATCodeNoVAT     = "no_vat"
)

// VendorSourceATPPrinterBox marks a candidate read from the printer
// accreditation box. Such candidates are never posted as the vendor.
const VendorSourceATPPrinterBox = "atp_printer_box"

// VendorCandidate is one plausible vendor reading with its provenance.
// Source is one of: header, body, atp_printer_box, unknown.
type VendorCandidate struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// VendorDetails carries the vendor identity fields extracted from the
// document body.
type VendorDetails struct {
	TIN            string `json:"tin"`
	BranchCode     string `json:"branch_code"`
	Address        string `json:"address"`
	EntityType     string `json:"entity_type"` // corporation|sole_proprietor|individual|unknown
	TradeName      string `json:"trade_name"`
	ProprietorName string `json:"proprietor_name"`
}

// ExpenseAccountHint is the model's bill-level account suggestion.
type ExpenseAccountHint struct {
	Category             string  `json:"category"`
	SuggestedAccountName string  `json:"suggested_account_name"`
	Confidence           float64 `json:"confidence"`
	Evidence             string  `json:"evidence"`
}

// InvoiceInfo identifies the source invoice.
type InvoiceInfo struct {
	Number         string  `json:"number"`
	Date           string  `json:"date"` // YYYY-MM-DD
	DateConfidence float64 `json:"date_confidence"`
	Currency       string  `json:"currency"`
}

// VATInfo is the bill-level VAT breakdown.
type VATInfo struct {
	Classification            string  `json:"classification"`
	GoodsOrServices           string  `json:"goods_or_services"` // goods|services|unknown
	VatableBase               float64 `json:"vatable_base"`
	VatableBaseConfidence     float64 `json:"vatable_base_confidence"`
	VATAmount                 float64 `json:"vat_amount"`
	VATAmountConfidence       float64 `json:"vat_amount_confidence"`
	ExemptAmount              float64 `json:"exempt_amount"`
	ExemptAmountConfidence    float64 `json:"exempt_amount_confidence"`
	ZeroRatedAmount           float64 `json:"zero_rated_amount"`
	ZeroRatedAmountConfidence float64 `json:"zero_rated_amount_confidence"`
	Evidence                  string  `json:"evidence"`
}

// Totals holds the reported bill totals. GrandTotal is the final amount due;
// NetTotal is the pre-tax amount. These values are untrusted until they have
// passed through the reconciliation engine.
type Totals struct {
	GrandTotal                float64 `json:"grand_total"`
	GrandTotalConfidence      float64 `json:"grand_total_confidence"`
	TaxTotal                  float64 `json:"tax_total"`
	TaxTotalConfidence        float64 `json:"tax_total_confidence"`
	NetTotal                  float64 `json:"net_total"`
	NetTotalConfidence        float64 `json:"net_total_confidence"`
	VATExemptAmount           float64 `json:"vat_exempt_amount"`
	VATExemptAmountConfidence float64 `json:"vat_exempt_amount_confidence"`
	ZeroRatedAmount           float64 `json:"zero_rated_amount"`
	ZeroRatedAmountConfidence float64 `json:"zero_rated_amount_confidence"`
	AmountsAreVATInclusive    bool    `json:"amounts_are_vat_inclusive"`
}

// AmountCandidate is one labelled numeric reading from the document, kept so
// the reconciliation engine can cross-check the reported totals.
type AmountCandidate struct {
	Label      string  `json:"label"`
	Amount     float64 `json:"amount"`
	Confidence float64 `json:"confidence"`
	Snippet    string  `json:"snippet"`
}

// LineItem is one invoice line as extracted.
type LineItem struct {
	Description          string  `json:"description"`
	Quantity             float64 `json:"quantity"`
	UnitPrice            float64 `json:"unit_price"`
	Amount               float64 `json:"amount"`
	UnitPriceIncludesVAT bool    `json:"unit_price_includes_vat"`
	ExpenseCategory      string  `json:"expense_category"`
	VATCode              string  `json:"vat_code"`
}

// Correction records which reconciliation rule replaced the reported grand
// total, for audit purposes.
type Correction struct {
	Rule     string  `json:"rule"`
	OldTotal float64 `json:"old_total"`
	NewTotal float64 `json:"new_total"`
}

// ExtractedBill is the structured bill produced by the extraction
// collaborator. A non-nil Correction marks it as reconciled.
type ExtractedBill struct {
	Vendor             VendorCandidate    `json:"vendor"`
	VendorCandidates   []VendorCandidate  `json:"vendor_candidates"`
	VendorDetails      VendorDetails      `json:"vendor_details"`
	ExpenseAccountHint ExpenseAccountHint `json:"expense_account_hint"`
	Invoice            InvoiceInfo        `json:"invoice"`
	VAT                VATInfo            `json:"vat"`
	Totals             Totals             `json:"totals"`
	AmountCandidates   []AmountCandidate  `json:"amount_candidates"`
	LineItems          []LineItem         `json:"line_items"`
	Warnings           []string           `json:"warnings"`

	Correction *Correction `json:"-"`
}

// LineSum returns the sum of the extracted line item amounts.
func (b *ExtractedBill) LineSum() float64 {
	var sum float64
	for _, li := range b.LineItems {
		sum += li.Amount
	}
	return sum
}

// TaxMeta describes a purchase tax record as configured in the ledger:
// its rate in percent and whether its prices are VAT-inclusive.
type TaxMeta struct {
	ID           int64
	Rate         float64
	PriceInclude bool
}

// Account is one chart-of-accounts entry usable for expense lines.
type Account struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// AccountCandidate is one account pick returned by the assignment pass.
type AccountCandidate struct {
	AccountID   int64   `json:"account_id"`
	AccountCode string  `json:"account_code"`
	AccountName string  `json:"account_name"`
	Confidence  float64 `json:"confidence"`
}

// LineAssignment is the model's account pick for one invoice line, with
// ranked alternatives.
type LineAssignment struct {
	LineIndex    int                `json:"line_index"`
	AccountID    int64              `json:"account_id"`
	AccountCode  string             `json:"account_code"`
	AccountName  string             `json:"account_name"`
	Confidence   float64            `json:"confidence"`
	Reasoning    string             `json:"reasoning"`
	Alternatives []AccountCandidate `json:"alternatives"`
}

// AccountAssignments is the result of the account-assignment model pass.
type AccountAssignments struct {
	Assignments          []LineAssignment `json:"assignments"`
	BillLevelAccountID   int64            `json:"bill_level_account_id"`
	BillLevelAccountCode string           `json:"bill_level_account_code"`
	BillLevelAccountName string           `json:"bill_level_account_name"`
	BillLevelConfidence  float64          `json:"bill_level_confidence"`
}

// ForLine returns the assignment for a line index, falling back to the
// bill-level pick for line 0 when no per-line assignment exists.
func (a *AccountAssignments) ForLine(idx int) *LineAssignment {
	if a == nil {
		return nil
	}
	for i := range a.Assignments {
		if a.Assignments[i].LineIndex == idx {
			return &a.Assignments[i]
		}
	}
	if idx == 0 && a.BillLevelAccountID != 0 {
		return &LineAssignment{
			LineIndex:   0,
			AccountID:   a.BillLevelAccountID,
			AccountCode: a.BillLevelAccountCode,
			AccountName: a.BillLevelAccountName,
			Confidence:  a.BillLevelConfidence,
			Reasoning:   "bill-level fallback",
		}
	}
	return nil
}
