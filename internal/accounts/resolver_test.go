package accounts

import (
	"testing"

	"apflow/pkg/models"
)

var testChart = []models.Account{
	{ID: 1, Code: "6100", Name: "General Administrative Expenses"},
	{ID: 2, Code: "6210", Name: "Fuel and Oil"},
	{ID: 3, Code: "6220", Name: "Office Supplies"},
	{ID: 4, Code: "6230", Name: "Repairs and Maintenance"},
	{ID: 5, Code: "6240", Name: "Representation and Entertainment"},
	{ID: 6, Code: "6900", Name: "Miscellaneous Expense"},
}

func newTestResolver() *Resolver {
	return NewResolver(testChart, nil, 3, "prod_db", 0)
}

func TestIsGeneric(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"General Administrative Expenses", true},
		{"Miscellaneous Expense", true},
		{"Sundry and Various", true},
		{"Fuel and Oil", false},
		{"Office Supplies Expense", false},
		{"Repairs and Maintenance", false},
		{"", false},
	}
	for _, tt := range tests {
		acct := &models.Account{Name: tt.name}
		if got := IsGeneric(acct); got != tt.want {
			t.Errorf("IsGeneric(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestVendorDefaultWinsWhenSpecific(t *testing.T) {
	r := newTestResolver()
	res := r.Resolve(Request{
		VendorDefaultAccountID: 2,
		ModelPick:              &models.LineAssignment{AccountID: 3},
	})
	if res.AccountID != 2 || res.Source != SourceVendorDefault {
		t.Errorf("got %+v, want vendor default 2", res)
	}
}

func TestGenericVendorDefaultIsSkipped(t *testing.T) {
	r := newTestResolver()
	res := r.Resolve(Request{
		VendorDefaultAccountID: 1, // General Administrative Expenses
		ModelPick:              &models.LineAssignment{AccountID: 3},
	})
	if res.AccountID != 3 || res.Source != SourceModelPick {
		t.Errorf("got %+v, want model pick 3", res)
	}
}

func TestModelPickRepairedByCode(t *testing.T) {
	r := newTestResolver()
	res := r.Resolve(Request{
		ModelPick: &models.LineAssignment{AccountID: 999, AccountCode: "6210"},
	})
	if res.AccountID != 2 || res.Source != SourceModelPick {
		t.Errorf("got %+v, want code-repaired pick 2", res)
	}
}

func TestModelPickRepairedByPartialName(t *testing.T) {
	r := newTestResolver()
	res := r.Resolve(Request{
		ModelPick: &models.LineAssignment{AccountName: "repairs and maint"},
	})
	if res.AccountID != 4 || res.Source != SourceModelPick {
		t.Errorf("got %+v, want name-repaired pick 4", res)
	}
}

func TestGenericModelPickFallsToAlternative(t *testing.T) {
	r := newTestResolver()
	res := r.Resolve(Request{
		ModelPick: &models.LineAssignment{
			AccountID: 6, // Miscellaneous Expense
			Alternatives: []models.AccountCandidate{
				{AccountID: 999}, // not in the chart
				{AccountID: 5},
			},
		},
	})
	if res.AccountID != 5 || res.Source != SourceModelAlternative {
		t.Errorf("got %+v, want alternative 5", res)
	}
}

func TestVendorNameHint(t *testing.T) {
	r := newTestResolver()
	res := r.Resolve(Request{VendorName: "PETRON GASOLINE STATION INC"})
	if res.AccountID != 2 || res.Source != SourceVendorNameHint {
		t.Errorf("got %+v, want fuel account via vendor name", res)
	}
}

func TestMappingSpecificityOrder(t *testing.T) {
	mapping := []MappingRow{
		{Category: "fuel", AccountID: 100},
		{Category: "fuel", CompanyID: 3, AccountID: 200},
		{Category: "fuel", CompanyID: 3, TargetDB: "prod_db", AccountID: 300},
	}
	r := NewResolver(testChart, mapping, 3, "prod_db", 0)
	res := r.Resolve(Request{Category: "fuel"})
	if res.AccountID != 300 || res.Source != SourceSheetMapping {
		t.Errorf("got %+v, want most specific row 300", res)
	}

	r = NewResolver(testChart, mapping, 3, "other_db", 0)
	if res := r.Resolve(Request{Category: "fuel"}); res.AccountID != 200 {
		t.Errorf("got %+v, want company row 200", res)
	}

	r = NewResolver(testChart, mapping, 9, "other_db", 0)
	if res := r.Resolve(Request{Category: "fuel"}); res.AccountID != 100 {
		t.Errorf("got %+v, want global row 100", res)
	}
}

func TestFuzzyMatchUsesCategoryKeywords(t *testing.T) {
	r := newTestResolver()
	res := r.Resolve(Request{
		Category:        "fuel",
		LineDescription: "diesel purchase",
	})
	if res.AccountID != 2 || res.Source != SourceFuzzyMatch {
		t.Errorf("got %+v, want fuzzy fuel match", res)
	}
}

func TestGenericOnlyPickDeferredToLastResort(t *testing.T) {
	// Chart of nothing but generic accounts: tiers 2-5 cannot produce a
	// non-generic match, so the model's pick wins at tier 6.
	chart := []models.Account{
		{ID: 1, Code: "6100", Name: "General Administrative Expenses"},
		{ID: 6, Code: "6900", Name: "Miscellaneous Expense"},
	}
	r := NewResolver(chart, nil, 3, "prod_db", 0)
	res := r.Resolve(Request{
		ModelPick: &models.LineAssignment{AccountID: 6},
	})
	if res.AccountID != 6 || res.Source != SourceModelLastResort {
		t.Errorf("got %+v, want generic pick at last resort", res)
	}
}

func TestKeywordOverlapFallback(t *testing.T) {
	r := newTestResolver()
	res := r.Resolve(Request{LineDescription: "toner cartridge for office printer"})
	if res.Source != SourceFuzzyMatch && res.Source != SourceKeywordOverlap {
		t.Fatalf("got %+v, want a keyword-driven tier", res)
	}
	if res.AccountID != 3 {
		t.Errorf("got account %d, want office supplies 3", res.AccountID)
	}
}

func TestFirstNonGenericFallback(t *testing.T) {
	r := newTestResolver()
	res := r.Resolve(Request{LineDescription: "zzz qqq"})
	if res.AccountID != 2 || res.Source != SourceFirstNonGeneric {
		t.Errorf("got %+v, want first non-generic account 2", res)
	}
}

func TestConfiguredDefaultFallback(t *testing.T) {
	r := NewResolver(nil, nil, 3, "prod_db", 777)
	res := r.Resolve(Request{})
	if res.AccountID != 777 || res.Source != SourceEnvFallback {
		t.Errorf("got %+v, want configured default 777", res)
	}
}

func TestNoSignalsNoAccounts(t *testing.T) {
	r := NewResolver(nil, nil, 3, "prod_db", 0)
	res := r.Resolve(Request{})
	if res.AccountID != 0 || res.Source != SourceNone {
		t.Errorf("got %+v, want none", res)
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	r := newTestResolver()
	req := Request{
		VendorName:      "ACME HARDWARE CORP",
		Category:        "repairs",
		LineDescription: "pipe fittings",
	}
	first := r.Resolve(req)
	for i := 0; i < 5; i++ {
		if got := r.Resolve(req); got != first {
			t.Fatalf("resolution changed across calls: %+v vs %+v", got, first)
		}
	}
}
