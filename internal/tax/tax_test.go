package tax

import (
	"math"
	"testing"

	"apflow/pkg/models"
)

func TestPickTaxIDs(t *testing.T) {
	ids := models.VATIDs{Goods: 11, Services: 22, Generic: 33}

	tests := []struct {
		name           string
		classification string
		goodsServices  string
		lineCodes      []string
		want           []int64
	}{
		{"services", models.ClassificationVatable, "services", nil, []int64{22}},
		{"goods", models.ClassificationVatable, "goods", nil, []int64{11}},
		{"generic fallback", models.ClassificationVatable, "unknown", nil, []int64{33}},
		{"exempt suppresses tax", models.ClassificationExempt, "goods", nil, nil},
		{"zero rated suppresses tax", models.ClassificationZeroRated, "services", nil, nil},
		{"unknown suppresses tax", models.ClassificationUnknown, "goods", nil, nil},
		{
			"vatable line rescues unknown classification",
			models.ClassificationUnknown, "goods",
			[]string{models.VATCodeExempt, models.VATCodeVatable},
			[]int64{11},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bill := &models.ExtractedBill{}
			bill.VAT.Classification = tt.classification
			bill.VAT.GoodsOrServices = tt.goodsServices
			for _, code := range tt.lineCodes {
				bill.LineItems = append(bill.LineItems, models.LineItem{VATCode: code, Amount: 100})
			}
			got := PickTaxIDs(ids, bill)
			if len(got) != len(tt.want) {
				t.Fatalf("PickTaxIDs = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("PickTaxIDs = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestAdjustPriceOnlyOnConventionMismatch(t *testing.T) {
	if got := AdjustPrice(112, true, false, 12); got != 100 {
		t.Errorf("inclusive price against exclusive tax: got %v, want 100", got)
	}
	if got := AdjustPrice(100, false, true, 12); got != 112 {
		t.Errorf("exclusive price against inclusive tax: got %v, want 112", got)
	}
	if got := AdjustPrice(100, false, false, 12); got != 100 {
		t.Errorf("matching exclusive conventions: got %v, want unchanged 100", got)
	}
	if got := AdjustPrice(112, true, true, 12); got != 112 {
		t.Errorf("matching inclusive conventions: got %v, want unchanged 112", got)
	}
	if got := AdjustPrice(0, true, false, 12); got != 0 {
		t.Errorf("zero price: got %v, want 0", got)
	}
}

func TestAdjustPriceRoundTrip(t *testing.T) {
	for _, p := range []float64{100, 250, 1750.50, 8017.75} {
		inclusive := AdjustPrice(p, false, true, 12)
		back := AdjustPrice(inclusive, true, false, 12)
		if math.Abs(back-p) > 1e-6 {
			t.Errorf("round trip of %v: got %v", p, back)
		}
	}
}

func TestLinesMatchTotal(t *testing.T) {
	items := []models.LineItem{{Amount: 480}, {Amount: 500}}
	if !LinesMatchTotal(items, 1000, 0.05) {
		t.Error("980 vs 1000 is within 5%")
	}
	if LinesMatchTotal(items, 2000, 0.05) {
		t.Error("980 vs 2000 is not within 5%")
	}
	if LinesMatchTotal(nil, 1000, 0.05) {
		t.Error("no lines can never match")
	}
	if LinesMatchTotal(items, 0, 0.05) {
		t.Error("zero expected total can never match")
	}
}

func TestLinesUsesItemsWhenTheyReconcile(t *testing.T) {
	bill := &models.ExtractedBill{}
	bill.Totals.GrandTotal = 1120
	bill.Totals.NetTotal = 1000
	bill.Totals.AmountsAreVATInclusive = true
	bill.LineItems = []models.LineItem{
		{Description: "diesel", Quantity: 2, UnitPrice: 280, Amount: 560},
		{Description: "gasoline", Quantity: 1, UnitPrice: 560, Amount: 560},
	}

	n := NewNormalizer([]int64{7}, &models.TaxMeta{ID: 7, Rate: 12, PriceInclude: false})
	lines := n.Lines(bill)
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if lines[0].PriceUnit != 250 {
		t.Errorf("line 0 price = %v, want 280/1.12 = 250", lines[0].PriceUnit)
	}
	if lines[1].PriceUnit != 500 {
		t.Errorf("line 1 price = %v, want 560/1.12 = 500", lines[1].PriceUnit)
	}
	if lines[0].Index != 0 || lines[1].Index != 1 {
		t.Errorf("line indexes = %d,%d, want 0,1", lines[0].Index, lines[1].Index)
	}
	for _, l := range lines {
		if !l.Taxed {
			t.Errorf("line %d not taxed", l.Index)
		}
	}
}

func TestLinesFallsBackToSyntheticLine(t *testing.T) {
	bill := &models.ExtractedBill{}
	bill.Totals.GrandTotal = 1120
	bill.Totals.NetTotal = 1000
	bill.Totals.AmountsAreVATInclusive = true
	bill.ExpenseAccountHint.SuggestedAccountName = "Fuel and Oil"
	bill.LineItems = []models.LineItem{
		{Description: "partial line", Quantity: 1, UnitPrice: 200, Amount: 200},
	}

	n := NewNormalizer([]int64{7}, &models.TaxMeta{ID: 7, Rate: 12, PriceInclude: false})
	lines := n.Lines(bill)
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want synthetic single line", len(lines))
	}
	l := lines[0]
	if l.Index != -1 {
		t.Errorf("synthetic index = %d, want -1", l.Index)
	}
	if l.Name != "Fuel and Oil" {
		t.Errorf("name = %q, want the account hint", l.Name)
	}
	// Exclusive tax plus inclusive amounts: the net total is used directly.
	if l.PriceUnit != 1000 {
		t.Errorf("price = %v, want net total 1000", l.PriceUnit)
	}
}

func TestSyntheticLineWithoutTaxUsesGrossTotal(t *testing.T) {
	bill := &models.ExtractedBill{}
	bill.Totals.GrandTotal = 850

	n := NewNormalizer(nil, nil)
	lines := n.Lines(bill)
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	if lines[0].PriceUnit != 850 {
		t.Errorf("price = %v, want gross 850", lines[0].PriceUnit)
	}
	if lines[0].Taxed {
		t.Error("untaxed bill produced a taxed line")
	}
	if lines[0].Name != "OCR Vendor Bill" {
		t.Errorf("name = %q, want default", lines[0].Name)
	}
}

func TestPerLineVATCodeControlsTax(t *testing.T) {
	bill := &models.ExtractedBill{}
	bill.Totals.GrandTotal = 300
	bill.VAT.Classification = models.ClassificationVatable
	bill.LineItems = []models.LineItem{
		{Description: "taxed", Quantity: 1, UnitPrice: 100, Amount: 100, VATCode: models.VATCodeVatable},
		{Description: "exempt", Quantity: 1, UnitPrice: 100, Amount: 100, VATCode: models.VATCodeExempt},
		{Description: "no vat", Quantity: 1, UnitPrice: 100, Amount: 100, VATCode: models.VATCodeNoVAT},
	}

	n := NewNormalizer([]int64{7}, &models.TaxMeta{ID: 7, Rate: 12})
	lines := n.Lines(bill)
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}
	want := []bool{true, false, false}
	for i, l := range lines {
		if l.Taxed != want[i] {
			t.Errorf("line %d taxed = %v, want %v", i, l.Taxed, want[i])
		}
	}
}

func TestRoundingResidualLandsOnQuantityOneLine(t *testing.T) {
	bill := &models.ExtractedBill{}
	bill.Totals.GrandTotal = 224.00
	bill.Totals.NetTotal = 200.00
	bill.Totals.AmountsAreVATInclusive = true
	// No per-line vat codes, so the pre-tax sum must reconstruct the net
	// total exactly. Stripping VAT rounds 24.90 to 22.23 (x3 = 66.69) and
	// 74.67 to 66.67 twice, summing to 200.03 against a 200.00 net.
	bill.LineItems = []models.LineItem{
		{Description: "a", Quantity: 3, UnitPrice: 24.90, Amount: 74.70},
		{Description: "b", Quantity: 1, UnitPrice: 74.67, Amount: 74.67},
		{Description: "c", Quantity: 1, UnitPrice: 74.67, Amount: 74.67},
	}

	n := NewNormalizer([]int64{7}, &models.TaxMeta{ID: 7, Rate: 12, PriceInclude: false})
	lines := n.Lines(bill)
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}
	var sum float64
	for _, l := range lines {
		sum += l.Quantity * l.PriceUnit
	}
	if math.Abs(sum-200.00) > 1e-9 {
		t.Errorf("pre-tax sum = %v, want exactly 200.00", sum)
	}
	// The residual lands on the first quantity-1 line; the quantity-3 line
	// keeps its computed unit price.
	if lines[0].PriceUnit != round2(24.90/1.12) {
		t.Errorf("residual distorted a multi-quantity unit price: %v", lines[0].PriceUnit)
	}
	if lines[1].PriceUnit != 66.64 {
		t.Errorf("first quantity-1 line price = %v, want 66.64", lines[1].PriceUnit)
	}
}
