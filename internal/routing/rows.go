// Package routing loads the per-project routing table from Google Sheets:
// which ledger endpoint, database, credentials, and company each document
// stream posts to, plus the per-target auto-resolved fields (VAT tax ids,
// purchase journal, AP folder, industry) that the run refreshes and
// writes back.
package routing

import (
	"strconv"
	"strings"

	"apflow/internal/accounts"
	"apflow/internal/odoo"
	"apflow/pkg/models"
)

// autoColumns are maintained by the run itself, not by hand. They are
// appended to the sheet when missing.
var autoColumns = []string{
	"vat_purchase_tax_id_goods",
	"vat_purchase_tax_id_services",
	"vat_purchase_tax_id_generic",
	"purchase_journal_id",
	"ap_folder_id",
	"industry",
}

// Row is one raw routing-sheet row keyed by lowercased header.
type Row map[string]string

// rowsFromValues converts a raw value grid into header-keyed rows. The
// first row is the header; headers are lowercased and trimmed.
func rowsFromValues(values [][]interface{}) ([]string, []Row) {
	if len(values) == 0 {
		return nil, nil
	}

	headers := make([]string, 0, len(values[0]))
	for _, h := range values[0] {
		headers = append(headers, strings.ToLower(strings.TrimSpace(cellString(h))))
	}

	rows := make([]Row, 0, len(values)-1)
	for _, raw := range values[1:] {
		row := make(Row, len(headers))
		for i, h := range headers {
			if i < len(raw) {
				row[h] = cellString(raw[i])
			} else {
				row[h] = ""
			}
		}
		rows = append(rows, row)
	}
	return headers, rows
}

func cellString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		if x {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}

// ensureAutoColumns appends missing auto-maintained columns to the header
// and backfills the rows. Returns true when the header changed.
func ensureAutoColumns(headers *[]string, rows []Row) bool {
	changed := false
	for _, c := range autoColumns {
		if !containsString(*headers, c) {
			*headers = append(*headers, c)
			changed = true
		}
	}
	if changed {
		for _, r := range rows {
			for _, c := range autoColumns {
				if _, ok := r[c]; !ok {
					r[c] = ""
				}
			}
		}
	}
	return changed
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

// rowEnabled reports whether the row is switched on. Anything other than
// an explicit affirmative disables it.
func rowEnabled(row Row) bool {
	switch strings.ToLower(strings.TrimSpace(row["enabled"])) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}

// targetFromRow converts one row into a routing target. Rows that are
// disabled or missing any required field are skipped; a blank target_db is
// derived from the base URL when the endpoint is a hosted instance.
func targetFromRow(row Row) (models.RoutingTarget, bool) {
	if !rowEnabled(row) {
		return models.RoutingTarget{}, false
	}

	baseURL := odoo.NormalizeBaseURL(row["target_base_url"])
	db := strings.TrimSpace(row["target_db"])
	if db == "" {
		db = odoo.DeriveDBFromBaseURL(baseURL)
	}
	login := strings.TrimSpace(row["target_login"])
	password := strings.TrimSpace(row["target_password"])
	companyID := rowInt(row, "target_company_id")

	if baseURL == "" || db == "" || login == "" || password == "" || companyID == 0 {
		return models.RoutingTarget{}, false
	}

	return models.RoutingTarget{
		BaseURL:           baseURL,
		DB:                db,
		Login:             login,
		Password:          password,
		CompanyID:         companyID,
		APFolderID:        rowInt(row, "ap_folder_id"),
		PurchaseJournalID: rowInt(row, "purchase_journal_id"),
		VATIDs: models.VATIDs{
			Goods:    rowInt(row, "vat_purchase_tax_id_goods"),
			Services: rowInt(row, "vat_purchase_tax_id_services"),
			Generic:  rowInt(row, "vat_purchase_tax_id_generic"),
		},
		Industry: strings.TrimSpace(row["industry"]),
	}, true
}

func rowInt(row Row, key string) int64 {
	s := strings.TrimSpace(row[key])
	if s == "" {
		return 0
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f)
	}
	return 0
}

// groupTargets converts rows into unique routing targets. Several rows may
// route different source projects to the same target; the first row wins
// for the target-level fields.
func groupTargets(rows []Row) []models.RoutingTarget {
	var targets []models.RoutingTarget
	seen := make(map[string]bool)
	for _, row := range rows {
		target, ok := targetFromRow(row)
		if !ok {
			continue
		}
		key := target.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		targets = append(targets, target)
	}
	return targets
}

// mappingFromRows converts mapping-sheet rows into account mapping
// entries. Rows without a category or account id are skipped.
func mappingFromRows(rows []Row) []accounts.MappingRow {
	var mapping []accounts.MappingRow
	for _, row := range rows {
		category := strings.ToLower(strings.TrimSpace(row["category"]))
		accountID := rowInt(row, "account_id")
		if category == "" || accountID == 0 {
			continue
		}
		mapping = append(mapping, accounts.MappingRow{
			Category:  category,
			CompanyID: rowInt(row, "company_id"),
			TargetDB:  strings.ToLower(strings.TrimSpace(row["target_db"])),
			AccountID: accountID,
		})
	}
	return mapping
}
