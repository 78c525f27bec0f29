// Package tax turns an extracted bill's VAT classification and per-line
// inclusion flags into concrete ledger line values: which purchase tax (if
// any) applies, and the unit price each line carries once the invoice's
// inclusive/exclusive convention is reconciled with the tax record's own.
package tax

import (
	"math"
	"strings"

	"apflow/pkg/models"
)

// DefaultRate is assumed when the tax record reports no rate.
const DefaultRate = 12

// LineTolerance is the relative tolerance within which the line items must
// reconstruct the invoice total before they are trusted as ledger lines.
const LineTolerance = 0.05

// PickTaxIDs selects the tax ids to apply to a bill. An exempt, zero-rated
// or unknown classification suppresses tax entirely unless at least one
// line explicitly marks itself vatable; otherwise the goods-vs-services
// reading picks the specific id, with the generic id as fallback.
func PickTaxIDs(vatIDs models.VATIDs, bill *models.ExtractedBill) []int64 {
	classification := strings.ToLower(bill.VAT.Classification)
	if classification != models.ClassificationVatable && !anyLineVatable(bill.LineItems) {
		return nil
	}
	switch strings.ToLower(bill.VAT.GoodsOrServices) {
	case "services":
		if vatIDs.Services != 0 {
			return []int64{vatIDs.Services}
		}
	case "goods":
		if vatIDs.Goods != 0 {
			return []int64{vatIDs.Goods}
		}
	}
	if vatIDs.Generic != 0 {
		return []int64{vatIDs.Generic}
	}
	return nil
}

func anyLineVatable(items []models.LineItem) bool {
	for _, li := range items {
		if li.VATCode == models.VATCodeVatable {
			return true
		}
	}
	return false
}

// AdjustPrice converts a price between VAT-inclusive and VAT-exclusive
// representation. A conversion happens only when the invoice's convention
// and the tax record's convention disagree; otherwise the price passes
// through untouched.
func AdjustPrice(price float64, invoiceIncludesVAT, taxPriceInclude bool, rate float64) float64 {
	if price == 0 {
		return price
	}
	if rate == 0 {
		rate = DefaultRate
	}
	if invoiceIncludesVAT && !taxPriceInclude {
		return round2(price / (1 + rate/100))
	}
	if !invoiceIncludesVAT && taxPriceInclude {
		return round2(price * (1 + rate/100))
	}
	return price
}

// LinesMatchTotal reports whether the line item amounts reconstruct the
// expected invoice total within the relative tolerance.
func LinesMatchTotal(items []models.LineItem, expected, tolerance float64) bool {
	if len(items) == 0 || expected == 0 {
		return false
	}
	var sum float64
	for _, li := range items {
		sum += li.Amount
	}
	if sum == 0 {
		return false
	}
	return math.Abs(sum-expected)/expected < tolerance
}

// LedgerLine is one normalized invoice line ready for the ledger create
// call. Index points back into the bill's line items; -1 marks the
// synthetic single line used when the extracted lines cannot be trusted.
type LedgerLine struct {
	Index     int
	Name      string
	Quantity  float64
	PriceUnit float64
	Taxed     bool
}

// Normalizer applies one bill's tax decision to its line items.
type Normalizer struct {
	TaxIDs    []int64
	Meta      models.TaxMeta
	Tolerance float64
}

// NewNormalizer returns a normalizer for the selected tax ids. A nil meta
// is valid when no tax applies.
func NewNormalizer(taxIDs []int64, meta *models.TaxMeta) *Normalizer {
	n := &Normalizer{TaxIDs: taxIDs, Tolerance: LineTolerance}
	if meta != nil {
		n.Meta = *meta
	}
	if n.Meta.Rate == 0 {
		n.Meta.Rate = DefaultRate
	}
	return n
}

func (n *Normalizer) hasTax() bool { return len(n.TaxIDs) > 0 }

// lineTaxed decides per-line taxability: a tax id must be selected for the
// bill, and the line's own vat code (when present) must say vatable. Lines
// without a code inherit the bill-level decision.
func (n *Normalizer) lineTaxed(li models.LineItem) bool {
	if !n.hasTax() {
		return false
	}
	if li.VATCode == "" {
		return true
	}
	return li.VATCode == models.VATCodeVatable
}

// Lines builds the normalized ledger lines for a bill. The extracted line
// items are used when they reconstruct the invoice total within tolerance;
// otherwise a single synthetic line covers the whole bill, priced from the
// net total when an exclusive tax applies and the invoice carries inclusive
// amounts.
func (n *Normalizer) Lines(bill *models.ExtractedBill) []LedgerLine {
	grandTotal := bill.Totals.GrandTotal
	netTotal := bill.Totals.NetTotal
	globalInclusive := bill.Totals.AmountsAreVATInclusive

	expected := grandTotal
	if expected == 0 {
		expected = netTotal
	}

	if LinesMatchTotal(bill.LineItems, expected, n.Tolerance) {
		return n.itemLines(bill, globalInclusive)
	}
	return []LedgerLine{n.syntheticLine(bill, globalInclusive)}
}

func (n *Normalizer) itemLines(bill *models.ExtractedBill, globalInclusive bool) []LedgerLine {
	out := make([]LedgerLine, 0, len(bill.LineItems))
	uncoded := true
	for i, li := range bill.LineItems {
		if li.VATCode != "" {
			uncoded = false
		}
		inclusive := li.UnitPriceIncludesVAT || globalInclusive
		raw := li.UnitPrice
		if raw == 0 {
			raw = li.Amount
		}
		qty := li.Quantity
		if qty <= 0 {
			qty = 1
		}
		taxed := n.lineTaxed(li)
		price := raw
		if taxed {
			price = AdjustPrice(raw, inclusive, n.Meta.PriceInclude, n.Meta.Rate)
		}
		out = append(out, LedgerLine{
			Index:     i,
			Name:      truncate(firstNonEmpty(li.Description, "Line item"), 256),
			Quantity:  qty,
			PriceUnit: price,
			Taxed:     taxed,
		})
	}
	if uncoded {
		n.absorbRoundingResidual(bill, out, globalInclusive)
	}
	return out
}

// absorbRoundingResidual pushes a small per-line rounding drift onto one
// line so the pre-tax line sum reconstructs the expected pre-tax total
// exactly. A quantity-1 line is preferred so no unit price is distorted by
// dividing the residual across units.
func (n *Normalizer) absorbRoundingResidual(bill *models.ExtractedBill, lines []LedgerLine, globalInclusive bool) {
	expected := n.expectedPreTaxTotal(bill, globalInclusive)
	if expected <= 0 {
		return
	}
	var sum float64
	for _, l := range lines {
		sum += l.Quantity * l.PriceUnit
	}
	residual := round2(expected - sum)
	if residual == 0 || math.Abs(residual) > 0.02*float64(len(lines))+0.02 {
		return
	}
	target := -1
	for i, l := range lines {
		if l.Quantity == 1 {
			target = i
			break
		}
	}
	if target < 0 {
		target = 0
	}
	l := &lines[target]
	l.PriceUnit = round2(l.PriceUnit + residual/l.Quantity)
}

// expectedPreTaxTotal is the total the computed line prices should sum to:
// the net total when an exclusive tax strips VAT from the lines, else the
// reported grand total.
func (n *Normalizer) expectedPreTaxTotal(bill *models.ExtractedBill, globalInclusive bool) float64 {
	if n.hasTax() && !n.Meta.PriceInclude && globalInclusive && bill.Totals.NetTotal > 0 {
		return bill.Totals.NetTotal
	}
	if n.hasTax() && !n.Meta.PriceInclude && globalInclusive {
		return round2(bill.Totals.GrandTotal / (1 + n.Meta.Rate/100))
	}
	return bill.Totals.GrandTotal
}

func (n *Normalizer) syntheticLine(bill *models.ExtractedBill, globalInclusive bool) LedgerLine {
	grandTotal := bill.Totals.GrandTotal
	netTotal := bill.Totals.NetTotal

	usedNet := n.hasTax() && globalInclusive && !n.Meta.PriceInclude && netTotal > 0
	total := grandTotal
	if usedNet {
		total = netTotal
	} else if total == 0 {
		total = netTotal
	}

	inclusive := globalInclusive
	if usedNet {
		inclusive = false
	}
	price := total
	if n.hasTax() {
		price = AdjustPrice(total, inclusive, n.Meta.PriceInclude, n.Meta.Rate)
	}
	return LedgerLine{
		Index:     -1,
		Name:      truncate(firstNonEmpty(bill.ExpenseAccountHint.SuggestedAccountName, "OCR Vendor Bill"), 256),
		Quantity:  1,
		PriceUnit: price,
		Taxed:     n.hasTax(),
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
