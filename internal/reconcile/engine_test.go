package reconcile

import (
	"math"
	"testing"

	"apflow/pkg/models"
)

func billWithTotals(grandTotal float64, lineAmounts ...float64) *models.ExtractedBill {
	b := &models.ExtractedBill{}
	b.Totals.GrandTotal = grandTotal
	b.Totals.GrandTotalConfidence = 0.9
	for _, amt := range lineAmounts {
		b.LineItems = append(b.LineItems, models.LineItem{
			Description: "line",
			Quantity:    1,
			UnitPrice:   amt,
			Amount:      amt,
			VATCode:     models.VATCodeVatable,
		})
	}
	return b
}

func TestNoOpOnConsistentInput(t *testing.T) {
	e := NewEngine()
	bill := billWithTotals(1000, 400, 600)

	if corr := e.Reconcile(bill, ""); corr != nil {
		t.Fatalf("Reconcile corrected a consistent bill: %+v", corr)
	}
	if bill.Totals.GrandTotal != 1000 {
		t.Errorf("grand total changed to %v", bill.Totals.GrandTotal)
	}
	if bill.Totals.GrandTotalConfidence != 0.9 {
		t.Errorf("confidence changed to %v", bill.Totals.GrandTotalConfidence)
	}
}

func TestTruncatedTotalUsesLineSum(t *testing.T) {
	e := NewEngine()
	// The documented failure case: reported 1045 against lines summing to
	// 10505 (ratio ~10.05).
	bill := billWithTotals(1045, 5000, 3000, 2505)

	corr := e.Reconcile(bill, "")
	if corr == nil {
		t.Fatal("expected a correction")
	}
	if corr.Rule != "truncated_total" {
		t.Errorf("rule = %q, want truncated_total", corr.Rule)
	}
	if bill.Totals.GrandTotal != 10505 {
		t.Errorf("grand total = %v, want 10505", bill.Totals.GrandTotal)
	}
	if bill.Totals.GrandTotalConfidence > 0.7 {
		t.Errorf("confidence = %v, want <= 0.7", bill.Totals.GrandTotalConfidence)
	}
}

func TestInflatedTotalPrefersCandidateNearLineSum(t *testing.T) {
	e := NewEngine()
	bill := billWithTotals(10500, 520, 510)
	bill.AmountCandidates = []models.AmountCandidate{
		{Label: "TOTAL AMOUNT DUE", Amount: 1050, Confidence: 0.8},
		{Label: "VAT 12%", Amount: 112.5, Confidence: 0.9},
	}

	corr := e.Reconcile(bill, "")
	if corr == nil {
		t.Fatal("expected a correction")
	}
	if corr.Rule != "inflated_total" {
		t.Errorf("rule = %q, want inflated_total", corr.Rule)
	}
	if bill.Totals.GrandTotal != 1050 {
		t.Errorf("grand total = %v, want candidate 1050", bill.Totals.GrandTotal)
	}
}

func TestYearConfusion(t *testing.T) {
	e := NewEngine()
	bill := billWithTotals(2025, 330, 200)

	corr := e.Reconcile(bill, "")
	if corr == nil {
		t.Fatal("expected a correction")
	}
	if corr.Rule != "year_confusion" {
		t.Errorf("rule = %q, want year_confusion", corr.Rule)
	}
	if bill.Totals.GrandTotal != 530 {
		t.Errorf("grand total = %v, want line sum 530", bill.Totals.GrandTotal)
	}
}

func TestYearLikeTotalBackedByLinesIsKept(t *testing.T) {
	e := NewEngine()
	// 2025.00 really is the total here: the lines reconstruct it.
	bill := billWithTotals(2025, 1000, 1025)

	if corr := e.Reconcile(bill, ""); corr != nil {
		t.Fatalf("year-like but consistent total was corrected: %+v", corr)
	}
}

func TestCandidateCrossCheckExcludesVATLabels(t *testing.T) {
	e := NewEngine()
	bill := billWithTotals(980) // no line items
	bill.AmountCandidates = []models.AmountCandidate{
		{Label: "VAT amount", Amount: 9800, Confidence: 0.9},
		{Label: "Amount due", Amount: 9800, Confidence: 0.7},
	}

	corr := e.Reconcile(bill, "")
	if corr == nil {
		t.Fatal("expected a correction")
	}
	if corr.Rule != "candidate_crosscheck" {
		t.Errorf("rule = %q, want candidate_crosscheck", corr.Rule)
	}
	if bill.Totals.GrandTotal != 9800 {
		t.Errorf("grand total = %v, want 9800", bill.Totals.GrandTotal)
	}
}

func TestOCRCrossCheckTruncation(t *testing.T) {
	e := NewEngine()
	bill := billWithTotals(801.77)
	ocrText := "OFFICIAL RECEIPT\nTOTAL 8,017.70\nTHANK YOU"

	corr := e.Reconcile(bill, ocrText)
	if corr == nil {
		t.Fatal("expected a correction")
	}
	if corr.Rule != "ocr_crosscheck" {
		t.Errorf("rule = %q, want ocr_crosscheck", corr.Rule)
	}
	if bill.Totals.GrandTotal != 8017.70 {
		t.Errorf("grand total = %v, want 8017.70", bill.Totals.GrandTotal)
	}
}

func TestVATComponentConfusion(t *testing.T) {
	e := NewEngine()
	bill := billWithTotals(428.57)
	bill.Totals.TaxTotal = 428.57

	corr := e.Reconcile(bill, "")
	if corr == nil {
		t.Fatal("expected a correction")
	}
	if corr.Rule != "vat_component_confusion" {
		t.Errorf("rule = %q, want vat_component_confusion", corr.Rule)
	}
	if bill.Totals.GrandTotal <= 428.57 {
		t.Errorf("grand total = %v, want materially larger than the tax line", bill.Totals.GrandTotal)
	}
	// tax/0.12*1.12 reconstruction.
	want := 428.57 / 0.12 * 1.12
	if math.Abs(bill.Totals.GrandTotal-want) > 0.01 {
		t.Errorf("grand total = %v, want %v", bill.Totals.GrandTotal, want)
	}
}

func TestVATComponentConfusionPrefersVatableBase(t *testing.T) {
	e := NewEngine()
	bill := billWithTotals(120)
	bill.Totals.TaxTotal = 120
	bill.VAT.VatableBase = 1000

	corr := e.Reconcile(bill, "")
	if corr == nil {
		t.Fatal("expected a correction")
	}
	if bill.Totals.GrandTotal != 1120 {
		t.Errorf("grand total = %v, want vatable base + tax = 1120", bill.Totals.GrandTotal)
	}
}

func TestImpossibleTax(t *testing.T) {
	e := NewEngine()
	bill := billWithTotals(500)
	bill.Totals.TaxTotal = 300 // 60% of the reported total
	bill.AmountCandidates = []models.AmountCandidate{
		{Label: "Total amount", Amount: 2000, Confidence: 0.8},
	}

	corr := e.Reconcile(bill, "")
	if corr == nil {
		t.Fatal("expected a correction")
	}
	if corr.Rule != "impossible_tax" {
		t.Errorf("rule = %q, want impossible_tax", corr.Rule)
	}
	if bill.Totals.GrandTotal != 2000 {
		t.Errorf("grand total = %v, want candidate 2000", bill.Totals.GrandTotal)
	}
}

func TestDecimalMisread(t *testing.T) {
	e := NewEngine()
	// 80177 with a missed decimal point; lines say 8017.70. Ratio 10 also
	// sits in the inflation band, so the earlier inflated-total rule
	// handles it; decimal_misread proper needs a ratio outside 5-15.
	bill := billWithTotals(801770, 8017.70)

	corr := e.Reconcile(bill, "")
	if corr == nil {
		t.Fatal("expected a correction")
	}
	if corr.Rule != "decimal_misread" {
		t.Errorf("rule = %q, want decimal_misread", corr.Rule)
	}
	if bill.Totals.GrandTotal != 8017.70 {
		t.Errorf("grand total = %v, want 8017.70", bill.Totals.GrandTotal)
	}
}

func TestSingleLineRescaledWithTotal(t *testing.T) {
	e := NewEngine()
	bill := billWithTotals(1045)
	bill.LineItems = []models.LineItem{
		{Description: "services", Quantity: 1, UnitPrice: 1045, Amount: 1045},
	}
	bill.AmountCandidates = []models.AmountCandidate{
		{Label: "TOTAL DUE", Amount: 10450, Confidence: 0.8},
	}

	corr := e.Reconcile(bill, "")
	if corr == nil {
		t.Fatal("expected a correction")
	}
	li := bill.LineItems[0]
	if li.Amount != 10450 || li.UnitPrice != 10450 {
		t.Errorf("line not rescaled with total: amount=%v unit=%v", li.Amount, li.UnitPrice)
	}
}

func TestCorrectionClampsNetTotalBothWays(t *testing.T) {
	e := NewEngine()

	bill := billWithTotals(1045, 10505)
	bill.Totals.NetTotal = 900
	e.applyCorrection(bill, "truncated_total", 10505)
	if bill.Totals.NetTotal != 10505 {
		t.Errorf("net total = %v, want raised to 10505", bill.Totals.NetTotal)
	}

	bill = billWithTotals(10505, 1045)
	bill.Totals.NetTotal = 10505
	e.applyCorrection(bill, "inflated_total", 1045)
	if bill.Totals.NetTotal != 1045 {
		t.Errorf("net total = %v, want clamped to 1045", bill.Totals.NetTotal)
	}
}

func TestReconcileTwiceIsNoOp(t *testing.T) {
	e := NewEngine()
	bill := billWithTotals(1045, 5000, 3000, 2505)

	if corr := e.Reconcile(bill, ""); corr == nil {
		t.Fatal("expected a correction on first pass")
	}
	first := bill.Totals.GrandTotal

	if corr := e.Reconcile(bill, ""); corr != nil {
		t.Fatalf("second pass corrected again: %+v", corr)
	}
	if bill.Totals.GrandTotal != first {
		t.Errorf("second pass changed the total: %v -> %v", first, bill.Totals.GrandTotal)
	}
}

func TestRatiosOutsideBandAreLeftAlone(t *testing.T) {
	e := NewEngine()
	// 100x off is not a plausible misread; it is a different kind of entry.
	bill := billWithTotals(50, 2500, 2500)

	if corr := e.Reconcile(bill, ""); corr != nil {
		t.Fatalf("out-of-band ratio was corrected: %+v", corr)
	}
}

func TestExtractOCRAmounts(t *testing.T) {
	got := extractOCRAmounts("TIN 004-665-123\nTOTAL: 12,345.60\nVAT 1,322.74\nqty 2 @ 99", 100)
	want := map[float64]bool{12345.60: true, 1322.74: true}
	if len(got) != len(want) {
		t.Fatalf("extractOCRAmounts = %v, want amounts >= 100 only", got)
	}
	for _, v := range got {
		if !want[v] {
			t.Errorf("unexpected token %v", v)
		}
	}
}
