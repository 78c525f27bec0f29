package routing

import (
	"testing"
)

func grid(rows ...[]interface{}) [][]interface{} { return rows }

func TestRowsFromValuesLowercasesHeaders(t *testing.T) {
	headers, rows := rowsFromValues(grid(
		[]interface{}{"Enabled", " Target_Base_URL ", "target_company_id"},
		[]interface{}{"true", "https://acme.odoo.com", "3"},
		[]interface{}{"false", "https://other.odoo.com"},
	))

	if len(headers) != 3 || headers[0] != "enabled" || headers[1] != "target_base_url" {
		t.Fatalf("headers = %v", headers)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0]["target_company_id"] != "3" {
		t.Errorf("company id = %q", rows[0]["target_company_id"])
	}
	// Short rows are padded with empty strings.
	if rows[1]["target_company_id"] != "" {
		t.Errorf("missing cell = %q, want empty", rows[1]["target_company_id"])
	}
}

func TestEnsureAutoColumnsAppendsOnce(t *testing.T) {
	headers := []string{"enabled", "target_base_url"}
	rows := []Row{{"enabled": "true", "target_base_url": "https://acme.odoo.com"}}

	if !ensureAutoColumns(&headers, rows) {
		t.Fatal("expected header change")
	}
	if len(headers) != 2+len(autoColumns) {
		t.Fatalf("headers = %v", headers)
	}
	if _, ok := rows[0]["industry"]; !ok {
		t.Error("expected industry backfilled on rows")
	}

	if ensureAutoColumns(&headers, rows) {
		t.Error("second call should be a no-op")
	}
}

func validRow() Row {
	return Row{
		"enabled":           "true",
		"target_base_url":   "https://acme.odoo.com/",
		"target_db":         "",
		"target_login":      "Bot@Acme.com",
		"target_password":   "secret",
		"target_company_id": "3",
	}
}

func TestTargetFromRowDerivesDBFromHostedURL(t *testing.T) {
	target, ok := targetFromRow(validRow())
	if !ok {
		t.Fatal("expected a valid target")
	}
	if target.DB != "acme" {
		t.Errorf("db = %q, want acme", target.DB)
	}
	if target.BaseURL != "https://acme.odoo.com" {
		t.Errorf("base url = %q", target.BaseURL)
	}
	if target.CompanyID != 3 {
		t.Errorf("company id = %d", target.CompanyID)
	}
}

func TestTargetFromRowRejectsIncompleteRows(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(Row)
	}{
		{"disabled", func(r Row) { r["enabled"] = "no thanks" }},
		{"no base url", func(r Row) { r["target_base_url"] = "" }},
		{"no login", func(r Row) { r["target_login"] = "" }},
		{"no password", func(r Row) { r["target_password"] = "" }},
		{"no company", func(r Row) { r["target_company_id"] = "0" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := validRow()
			tt.mutate(row)
			if _, ok := targetFromRow(row); ok {
				t.Error("expected row to be rejected")
			}
		})
	}
}

func TestGroupTargetsDeduplicatesByTargetKey(t *testing.T) {
	a := validRow()
	b := validRow()
	b["source_project_id"] = "77"
	c := validRow()
	c["target_company_id"] = "9"

	targets := groupTargets([]Row{a, b, c})
	if len(targets) != 2 {
		t.Fatalf("targets = %d, want 2", len(targets))
	}
	if targets[0].CompanyID != 3 || targets[1].CompanyID != 9 {
		t.Errorf("unexpected targets: %+v", targets)
	}
}

func TestMappingFromRowsSkipsIncomplete(t *testing.T) {
	rows := []Row{
		{"category": "Fuel", "company_id": "3", "target_db": "ACME", "account_id": "41"},
		{"category": "", "account_id": "42"},
		{"category": "meals", "account_id": ""},
		{"category": "meals", "account_id": "50"},
	}

	mapping := mappingFromRows(rows)
	if len(mapping) != 2 {
		t.Fatalf("mapping = %d entries, want 2", len(mapping))
	}
	if mapping[0].Category != "fuel" || mapping[0].TargetDB != "acme" || mapping[0].AccountID != 41 {
		t.Errorf("mapping[0] = %+v", mapping[0])
	}
	if mapping[1].CompanyID != 0 {
		t.Errorf("mapping[1].CompanyID = %d, want 0", mapping[1].CompanyID)
	}
}

func TestRowIntHandlesNumericCellFormats(t *testing.T) {
	row := Row{"a": "12", "b": "12.0", "c": "", "d": "abc"}
	if rowInt(row, "a") != 12 || rowInt(row, "b") != 12 {
		t.Error("expected integer and float cells to parse")
	}
	if rowInt(row, "c") != 0 || rowInt(row, "d") != 0 {
		t.Error("expected blank and junk cells to be zero")
	}
}
