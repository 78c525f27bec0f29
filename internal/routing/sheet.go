package routing

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	sheets "google.golang.org/api/sheets/v4"

	"apflow/internal/accounts"
	"apflow/internal/logger"
	"apflow/internal/odoo"
	"apflow/pkg/models"
)

// Sheet reads and writes the routing and account-mapping tables in one
// Google spreadsheet.
type Sheet struct {
	svc           *sheets.Service
	spreadsheetID string
	routingSheet  string
	mappingSheet  string
	log           zerolog.Logger
}

// NewSheet creates the store. Credentials come from
// GOOGLE_APPLICATION_CREDENTIALS (file) or GOOGLE_CREDENTIALS (inline
// JSON).
func NewSheet(ctx context.Context, spreadsheetID, routingSheet, mappingSheet string) (*Sheet, error) {
	const op = "routing.NewSheet"

	if spreadsheetID == "" {
		return nil, fmt.Errorf("%s: spreadsheet ID is required", op)
	}

	var creds []byte
	var err error
	if credsFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credsFile != "" {
		creds, err = os.ReadFile(credsFile)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to read credentials file: %w", op, err)
		}
	} else if credsJSON := os.Getenv("GOOGLE_CREDENTIALS"); credsJSON != "" {
		creds = []byte(credsJSON)
	} else {
		return nil, fmt.Errorf("%s: neither GOOGLE_APPLICATION_CREDENTIALS nor GOOGLE_CREDENTIALS is set", op)
	}

	config, err := google.JWTConfigFromJSON(creds, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse credentials: %w", op, err)
	}

	svc, err := sheets.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create sheets service: %w", op, err)
	}

	return &Sheet{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		routingSheet:  routingSheet,
		mappingSheet:  mappingSheet,
		log:           logger.WithComponent("routing"),
	}, nil
}

// LoadTargets reads the routing sheet, refreshes the auto-maintained
// columns against each target ledger, writes the sheet back, and returns
// the unique enabled targets. Refresh failures for one target leave that
// target's previous values in place.
func (s *Sheet) LoadTargets(ctx context.Context) ([]models.RoutingTarget, error) {
	const op = "routing.LoadTargets"

	headers, rows, err := s.readRows(ctx, s.routingSheet)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(headers) == 0 {
		return nil, fmt.Errorf("%s: routing sheet %q is empty", op, s.routingSheet)
	}

	ensureAutoColumns(&headers, rows)
	updated := s.refreshAutoFields(ctx, rows)

	if err := s.writeRows(ctx, s.routingSheet, headers, rows); err != nil {
		// A write failure loses the refreshed values, not the run.
		s.log.Warn().Err(err).Msg("failed to write refreshed routing sheet")
	}

	targets := groupTargets(rows)
	s.log.Info().
		Int("targets", len(targets)).
		Int("rows_updated", updated).
		Msg("routing targets loaded")

	return targets, nil
}

// AccountMapping reads the account-mapping sheet. A missing or empty
// sheet yields an empty mapping, not an error.
func (s *Sheet) AccountMapping(ctx context.Context) ([]accounts.MappingRow, error) {
	const op = "routing.AccountMapping"

	if s.mappingSheet == "" {
		return nil, nil
	}
	_, rows, err := s.readRows(ctx, s.mappingSheet)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return mappingFromRows(rows), nil
}

func (s *Sheet) readRows(ctx context.Context, sheetName string) ([]string, []Row, error) {
	resp, err := s.svc.Spreadsheets.Values.
		Get(s.spreadsheetID, sheetName+"!A:ZZ").
		Context(ctx).Do()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read sheet %q: %w", sheetName, err)
	}
	headers, rows := rowsFromValues(resp.Values)
	return headers, rows, nil
}

func (s *Sheet) writeRows(ctx context.Context, sheetName string, headers []string, rows []Row) error {
	values := make([][]interface{}, 0, len(rows)+1)

	headerRow := make([]interface{}, len(headers))
	for i, h := range headers {
		headerRow[i] = h
	}
	values = append(values, headerRow)

	for _, row := range rows {
		out := make([]interface{}, len(headers))
		for i, h := range headers {
			out[i] = row[h]
		}
		values = append(values, out)
	}

	_, err := s.svc.Spreadsheets.Values.
		Update(s.spreadsheetID, sheetName+"!A1", &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to write sheet %q: %w", sheetName, err)
	}
	return nil
}

// refreshAutoFields resolves VAT tax ids, the purchase journal, the AP
// folder, and the company industry once per unique target, then stamps
// the values into every row of that target's group. Each lookup is
// best-effort: a blank result keeps the previous sheet value.
func (s *Sheet) refreshAutoFields(ctx context.Context, rows []Row) int {
	groups := make(map[string][]Row)
	cfgs := make(map[string]models.RoutingTarget)
	for _, row := range rows {
		target, ok := targetFromRow(row)
		if !ok {
			continue
		}
		key := target.Key()
		groups[key] = append(groups[key], row)
		if _, seen := cfgs[key]; !seen {
			cfgs[key] = target
		}
	}

	updated := 0
	for key, groupRows := range groups {
		target := cfgs[key]
		client := odoo.NewClient(target.BaseURL, target.DB, target.Login, target.Password)

		vat, err := client.PickVATTaxes(ctx, target.CompanyID)
		if err != nil {
			s.log.Warn().Err(err).Str("target", key).Msg("auto-field refresh failed for routing group")
			continue
		}

		journalID, err := client.ResolvePurchaseJournalID(ctx, target.CompanyID)
		if err != nil {
			journalID = 0
		}
		folderID, err := client.ResolveAPFolderID(ctx, target.CompanyID)
		if err != nil {
			folderID = 0
		}
		industry := client.ResolveIndustry(ctx, target.CompanyID)

		for _, row := range groupRows {
			before := autoFieldFingerprint(row)

			row["vat_purchase_tax_id_goods"] = formatID(vat.Goods)
			row["vat_purchase_tax_id_services"] = formatID(vat.Services)
			row["vat_purchase_tax_id_generic"] = formatID(vat.Generic)
			if journalID != 0 {
				row["purchase_journal_id"] = formatID(journalID)
			}
			if folderID != 0 {
				row["ap_folder_id"] = formatID(folderID)
			}
			if industry != "" {
				row["industry"] = industry
			}

			if autoFieldFingerprint(row) != before {
				updated++
			}
		}
	}
	return updated
}

func autoFieldFingerprint(row Row) string {
	out := ""
	for _, c := range autoColumns {
		out += row[c] + "|"
	}
	return out
}

func formatID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}
