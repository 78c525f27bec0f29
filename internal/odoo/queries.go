package odoo

import (
	"context"
	"encoding/json"
	"math"
	"regexp"
	"strings"
	"sync"

	"apflow/pkg/models"
)

// Attachment is the subset of ir.attachment fields the pipeline reads. The
// description doubles as the idempotency marker store.
type Attachment struct {
	ID          int64
	Name        string
	Description string
	Mimetype    string
	Datas       string // base64 payload
	ResModel    string
	ResID       int64
}

// Document is one candidate source document in the AP folder.
type Document struct {
	ID           int64
	Name         string
	AttachmentID int64
	FolderID     int64
	CompanyID    int64
	CreateDate   string
	ResModel     string
	ResID        int64
}

// Bill is an existing ledger entry matched during duplicate detection.
type Bill struct {
	ID          int64
	Ref         string
	AmountTotal float64
	State       string
}

var documentFields = []string{"id", "name", "attachment_id", "folder_id", "company_id", "create_date"}

func documentFromRow(r Row) Document {
	return Document{
		ID:           r.Int64("id"),
		Name:         r.Str("name"),
		AttachmentID: r.M2O("attachment_id"),
		FolderID:     r.M2O("folder_id"),
		CompanyID:    r.M2O("company_id"),
		CreateDate:   r.Str("create_date"),
		ResModel:     r.Str("res_model"),
		ResID:        r.Int64("res_id"),
	}
}

// LoadAttachment fetches one attachment with its payload. ErrNotFound when
// the id does not exist.
func (c *Client) LoadAttachment(ctx context.Context, companyID, attachmentID int64) (*Attachment, error) {
	const op = "LoadAttachment"

	rows, err := c.SearchRead(ctx, "ir.attachment",
		[]any{Cond("id", "=", attachmentID)},
		[]string{"id", "name", "datas", "mimetype", "description", "res_model", "res_id"},
		KwWithCompany(companyID, map[string]any{"limit": 1}))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, NewRPCError(op, ErrNotFound, "ir.attachment")
	}
	r := rows[0]
	return &Attachment{
		ID:          r.Int64("id"),
		Name:        r.Str("name"),
		Description: r.Str("description"),
		Mimetype:    r.Str("mimetype"),
		Datas:       r.Str("datas"),
		ResModel:    r.Str("res_model"),
		ResID:       r.Int64("res_id"),
	}, nil
}

// SetAttachmentDescription rewrites the attachment description, which is
// where the processing markers live.
func (c *Client) SetAttachmentDescription(ctx context.Context, attachmentID int64, description string) error {
	return c.Write(ctx, "ir.attachment", []int64{attachmentID}, map[string]any{"description": description})
}

// ListCandidateDocuments retrieves scan candidates from the AP folder in
// two passes: unrenamed documents ascending (the new work), then already
// renamed documents descending (a bounded revisit window). The merged list
// is deduplicated by id, first pass winning.
func (c *Client) ListCandidateDocuments(ctx context.Context, companyID, folderID int64, renamePrefix string, pass1Limit, pass2Limit int) ([]Document, error) {
	base := []any{
		Cond("folder_id", "=", folderID),
		Cond("is_folder", "=", false),
		Cond("attachment_id", "!=", false),
	}
	pass1, err := c.SearchRead(ctx, "documents.document",
		append(append([]any{}, base...), Cond("name", "not ilike", renamePrefix+"%")),
		documentFields,
		KwWithCompany(companyID, map[string]any{"limit": pass1Limit, "order": "id asc"}))
	if err != nil {
		return nil, err
	}
	pass2, err := c.SearchRead(ctx, "documents.document",
		append(append([]any{}, base...), Cond("name", "ilike", renamePrefix+"%")),
		documentFields,
		KwWithCompany(companyID, map[string]any{"limit": pass2Limit, "order": "id desc"}))
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]bool)
	var merged []Document
	for _, r := range append(pass1, pass2...) {
		d := documentFromRow(r)
		if seen[d.ID] {
			continue
		}
		seen[d.ID] = true
		merged = append(merged, d)
	}
	return merged, nil
}

// LoadDocument fetches one document by id, progressively relaxing the
// domain so archived records are still found.
func (c *Client) LoadDocument(ctx context.Context, companyID, docID int64) (*Document, error) {
	const op = "LoadDocument"

	fields := append(append([]string{}, documentFields...), "res_model", "res_id")
	rows, err := c.SearchRead(ctx, "documents.document",
		[]any{Cond("id", "=", docID), Cond("is_folder", "=", false)},
		fields, KwWithCompany(companyID, map[string]any{"limit": 1}))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		rows, err = c.SearchRead(ctx, "documents.document",
			[]any{Cond("id", "=", docID)}, fields, map[string]any{"limit": 1})
		if err != nil {
			return nil, err
		}
	}
	if len(rows) == 0 {
		rows, _ = c.SearchRead(ctx, "documents.document",
			[]any{Cond("id", "=", docID), Cond("active", "in", []bool{true, false})},
			fields, map[string]any{"limit": 1})
	}
	if len(rows) == 0 {
		return nil, NewRPCError(op, ErrNotFound, "documents.document")
	}
	d := documentFromRow(rows[0])
	return &d, nil
}

// FindDocumentByAttachment fetches the newest document wrapping the given
// attachment.
func (c *Client) FindDocumentByAttachment(ctx context.Context, companyID, attachmentID int64) (*Document, error) {
	const op = "FindDocumentByAttachment"

	fields := append(append([]string{}, documentFields...), "res_model", "res_id")
	rows, err := c.SearchRead(ctx, "documents.document",
		[]any{Cond("attachment_id", "=", attachmentID), Cond("is_folder", "=", false)},
		fields, KwWithCompany(companyID, map[string]any{"limit": 1, "order": "id desc"}))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, NewRPCError(op, ErrNotFound, "documents.document")
	}
	d := documentFromRow(rows[0])
	return &d, nil
}

// BillExists checks whether a ledger entry id still resolves.
func (c *Client) BillExists(ctx context.Context, companyID, billID int64) (bool, error) {
	rows, err := c.SearchRead(ctx, "account.move",
		[]any{Cond("id", "=", billID)}, []string{"id"},
		KwWithCompany(companyID, map[string]any{"limit": 1}))
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// duplicateAmountTolerance is the absolute delta under which two bill
// totals count as the same invoice.
const duplicateAmountTolerance = 0.02

// FindDuplicateBill looks for an existing vendor bill matching the same
// vendor and reference, or the same vendor and an amount within tolerance.
// It returns nil when no duplicate exists.
func (c *Client) FindDuplicateBill(ctx context.Context, companyID, vendorID int64, invoiceNumber string, amountTotal float64) (*Bill, error) {
	domain := []any{Cond("move_type", "=", "in_invoice")}
	if vendorID != 0 {
		domain = append(domain, Cond("partner_id", "=", vendorID))
	}
	if ref := strings.TrimSpace(invoiceNumber); ref != "" {
		domain = append(domain, Cond("ref", "=", ref))
	}
	rows, err := c.SearchRead(ctx, "account.move", domain,
		[]string{"id", "ref", "amount_total", "state"},
		KwWithCompany(companyID, map[string]any{"limit": 20, "order": "id desc"}))
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		if math.Abs(r.Float("amount_total")-amountTotal) <= duplicateAmountTolerance {
			return &Bill{
				ID:          r.Int64("id"),
				Ref:         r.Str("ref"),
				AmountTotal: r.Float("amount_total"),
				State:       r.Str("state"),
			}, nil
		}
	}
	return nil, nil
}

// ResolveCurrencyID maps an ISO currency code to its record id. The home
// currency and unknown codes return 0, leaving the ledger default in force.
func (c *Client) ResolveCurrencyID(ctx context.Context, companyID int64, currencyCode string) (int64, error) {
	code := strings.ToUpper(strings.TrimSpace(currencyCode))
	if code == "" || code == "PHP" {
		return 0, nil
	}
	rows, err := c.SearchRead(ctx, "res.currency",
		[]any{Cond("name", "=", code), Cond("active", "=", true)},
		[]string{"id"}, KwWithCompany(companyID, map[string]any{"limit": 1}))
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Int64("id"), nil
}

// LoadExpenseAccounts returns the usable expense chart for a company,
// falling back to the legacy account-type schema when the modern domain is
// rejected by an older server.
func (c *Client) LoadExpenseAccounts(ctx context.Context, companyID int64) ([]models.Account, error) {
	rows, err := c.SearchRead(ctx, "account.account",
		[]any{
			Cond("company_id", "=", companyID),
			Cond("account_type", "in", []string{"expense", "expense_direct_cost", "expense_depreciation", "asset_current"}),
			Cond("deprecated", "=", false),
		},
		[]string{"id", "code", "name"},
		KwWithCompany(companyID, map[string]any{"limit": 500, "order": "code asc"}))
	if err != nil {
		rows, err = c.SearchRead(ctx, "account.account",
			[]any{
				Cond("company_id", "=", companyID),
				Cond("internal_type", "=", "other"),
				Cond("deprecated", "=", false),
				Cond("code", "like", "6%"),
			},
			[]string{"id", "code", "name"},
			KwWithCompany(companyID, map[string]any{"limit": 500, "order": "code asc"}))
		if err != nil {
			return nil, err
		}
	}
	out := make([]models.Account, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.Account{ID: r.Int64("id"), Code: r.Str("code"), Name: r.Str("name")})
	}
	return out, nil
}

// VendorDefaultAccountID reads the vendor's recorded expense account;
// 0 when the vendor has none or the field is unreadable.
func (c *Client) VendorDefaultAccountID(ctx context.Context, companyID, vendorID int64) int64 {
	if vendorID == 0 {
		return 0
	}
	rows, err := c.SearchRead(ctx, "res.partner",
		[]any{Cond("id", "=", vendorID)},
		[]string{"id", "property_account_expense_id"},
		KwWithCompany(companyID, map[string]any{"limit": 1}))
	if err != nil || len(rows) == 0 {
		return 0
	}
	return rows[0].M2O("property_account_expense_id")
}

// GetTaxMeta reads the rate and inclusion convention of the first selected
// tax. It returns nil when no tax applies or the records are missing.
func (c *Client) GetTaxMeta(ctx context.Context, companyID int64, taxIDs []int64) (*models.TaxMeta, error) {
	if len(taxIDs) == 0 {
		return nil, nil
	}
	rows, err := c.SearchRead(ctx, "account.tax",
		[]any{Cond("id", "in", taxIDs)},
		[]string{"id", "amount", "price_include"},
		KwWithCompany(companyID, map[string]any{"limit": 10}))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	r := rows[0]
	return &models.TaxMeta{
		ID:           r.Int64("id"),
		Rate:         r.Float("amount"),
		PriceInclude: r.Bool("price_include"),
	}, nil
}

type taxRow struct {
	id           int64
	name         string
	description  string
	group        string
	amount       float64
	amountType   string
	typeTaxUse   string
	priceInclude bool
}

func (t taxRow) haystack() string {
	return strings.ToLower(t.name + " " + t.description + " " + t.group)
}

var (
	withholdingRe  = regexp.MustCompile(`fwvat|ewvat|withhold|withholding|wht|designated|ds\b`)
	importRe       = regexp.MustCompile(`\bimport\b|\bimportation\b|\b12%\s*i\b`)
	ncrRe          = regexp.MustCompile(`\bncr\b|non[-\s]?credit`)
	capitalGoodsRe = regexp.MustCompile(`capital\s*goods|capital\s*asset|\bcapital\b.*\bgoods\b|\b12%\s*c\b|\b12%c\b`)
	serviceLikeRe  = regexp.MustCompile(`service|consult|professional|repair|rent|labor|contract|freight`)
	goodsLikeRe    = regexp.MustCompile(`goods|supply|material|inventory|product|merch`)
)

// PickVATTaxes scores the company's 12% purchase taxes into goods, services
// and generic picks, excluding withholding, import, non-creditable and
// capital-goods variants. Missing picks come back as zero ids.
func (c *Client) PickVATTaxes(ctx context.Context, companyID int64) (models.VATIDs, error) {
	rows, err := c.SearchRead(ctx, "account.tax",
		[]any{
			Cond("company_id", "=", companyID),
			Cond("active", "=", true),
			Cond("type_tax_use", "in", []string{"purchase", "none"}),
		},
		[]string{"id", "name", "amount", "amount_type", "type_tax_use", "price_include", "description", "tax_group_id"},
		KwWithCompany(companyID, map[string]any{"limit": 2000, "order": "name asc"}))
	if err != nil {
		return models.VATIDs{}, err
	}

	var vat12 []taxRow
	for _, r := range rows {
		t := taxRow{
			id:           r.Int64("id"),
			name:         r.Str("name"),
			description:  r.Str("description"),
			group:        r.M2OName("tax_group_id"),
			amount:       r.Float("amount"),
			amountType:   r.Str("amount_type"),
			typeTaxUse:   r.Str("type_tax_use"),
			priceInclude: r.Bool("price_include"),
		}
		hay := t.haystack()
		if t.amountType != "percent" || math.Abs(t.amount-12) >= 0.0001 {
			continue
		}
		if withholdingRe.MatchString(hay) || importRe.MatchString(hay) || ncrRe.MatchString(hay) {
			continue
		}
		vat12 = append(vat12, t)
	}
	if len(vat12) == 0 {
		return models.VATIDs{}, nil
	}

	serviceLike := func(t taxRow) bool {
		return serviceLikeRe.MatchString(t.haystack()) && !capitalGoodsRe.MatchString(t.haystack())
	}
	goodsLike := func(t taxRow) bool {
		return goodsLikeRe.MatchString(t.haystack()) && !capitalGoodsRe.MatchString(t.haystack())
	}

	generic := pickTopTax(vat12, func(t taxRow) int {
		if capitalGoodsRe.MatchString(t.haystack()) {
			return -100
		}
		score := 0
		if t.typeTaxUse == "purchase" {
			score += 5
		}
		if !t.priceInclude {
			score += 2
		}
		if serviceLike(t) || goodsLike(t) {
			score++
		}
		return score
	})
	services := pickTopTax(vat12, func(t taxRow) int {
		if capitalGoodsRe.MatchString(t.haystack()) {
			return -100
		}
		score := 0
		if serviceLike(t) {
			score += 10
		}
		if !goodsLike(t) {
			score += 2
		}
		if !t.priceInclude {
			score++
		}
		return score
	})
	goods := pickTopTax(vat12, func(t taxRow) int {
		if capitalGoodsRe.MatchString(t.haystack()) {
			return -100
		}
		score := 0
		if goodsLike(t) {
			score += 10
		}
		if !serviceLike(t) {
			score += 2
		}
		if !t.priceInclude {
			score++
		}
		return score
	})

	ids := models.VATIDs{Generic: generic.id}
	ids.Goods = generic.id
	ids.Services = generic.id
	if goods.id != 0 {
		ids.Goods = goods.id
	}
	if services.id != 0 {
		ids.Services = services.id
	}
	return ids, nil
}

func pickTopTax(taxes []taxRow, score func(taxRow) int) taxRow {
	best := taxRow{}
	bestScore := math.MinInt32
	for _, t := range taxes {
		if s := score(t); s > bestScore {
			best = t
			bestScore = s
		}
	}
	return best
}

// ResolvePurchaseJournalID finds the vendor-bill journal for the company,
// preferring an explicitly bill-flavored journal, then any non-receipt one.
func (c *Client) ResolvePurchaseJournalID(ctx context.Context, companyID int64) (int64, error) {
	const op = "ResolvePurchaseJournalID"

	rows, err := c.SearchRead(ctx, "account.journal",
		[]any{Cond("type", "=", "purchase"), Cond("company_id", "=", companyID)},
		[]string{"id", "name", "code"},
		KwWithCompany(companyID, map[string]any{"limit": 20, "order": "id asc"}))
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, NewRPCError(op, ErrNoJournal, "")
	}
	for _, r := range rows {
		name := strings.ToLower(r.Str("name"))
		code := strings.ToLower(r.Str("code"))
		if strings.Contains(name, "vendor bill") || strings.Contains(name, "vendor invoice") ||
			strings.Contains(name, "bills") || code == "bill" || code == "vb" {
			return r.Int64("id"), nil
		}
	}
	for _, r := range rows {
		if !strings.Contains(strings.ToLower(r.Str("name")), "receipt") {
			return r.Int64("id"), nil
		}
	}
	return rows[0].Int64("id"), nil
}

var apFolderNames = []string{"Accounts Payable", "Account Payables", "AP", "Vendor Bills"}

// ResolveAPFolderID finds the accounts-payable folder by its conventional
// names, trying the modern folder-as-document model first and falling back
// to the legacy folder model.
func (c *Client) ResolveAPFolderID(ctx context.Context, companyID int64) (int64, error) {
	const op = "ResolveAPFolderID"

	for _, name := range apFolderNames {
		rows, err := c.SearchRead(ctx, "documents.document",
			[]any{Cond("is_folder", "=", true), Cond("name", "=", name)},
			[]string{"id", "name", "company_id"},
			KwWithCompany(companyID, map[string]any{"limit": 1}))
		if err != nil {
			return 0, err
		}
		if len(rows) > 0 {
			return rows[0].Int64("id"), nil
		}
	}
	for _, name := range apFolderNames {
		rows, err := c.SearchRead(ctx, "documents.folder",
			[]any{Cond("name", "=", name)},
			[]string{"id", "name", "company_id"},
			KwWithCompany(companyID, map[string]any{"limit": 1}))
		if err != nil {
			// The legacy model does not exist on newer servers.
			break
		}
		if len(rows) > 0 {
			return rows[0].Int64("id"), nil
		}
	}
	return 0, NewRPCError(op, ErrNoFolder, "")
}

// ResolveIndustry reads the company's industry label; "" when the studio
// field is absent.
func (c *Client) ResolveIndustry(ctx context.Context, companyID int64) string {
	rows, err := c.SearchRead(ctx, "res.company",
		[]any{Cond("id", "=", companyID)},
		[]string{"id", "x_studio_industry"},
		map[string]any{"limit": 1})
	if err != nil || len(rows) == 0 {
		return ""
	}
	if name := rows[0].M2OName("x_studio_industry"); name != "" {
		return strings.TrimSpace(name)
	}
	return strings.TrimSpace(rows[0].Str("x_studio_industry"))
}

// fieldSupport caches fields_get probes per client so optional linking
// fields are only checked once per run.
type fieldSupport struct {
	mu    sync.Mutex
	known map[string]bool
}

var docFieldSupport fieldSupport

// HasDocumentField probes whether documents.document carries the given
// optional field on this server version.
func (c *Client) HasDocumentField(ctx context.Context, fieldName string) bool {
	docFieldSupport.mu.Lock()
	if docFieldSupport.known == nil {
		docFieldSupport.known = make(map[string]bool)
	}
	key := c.BaseURL + "|" + c.DB + "|" + fieldName
	if has, ok := docFieldSupport.known[key]; ok {
		docFieldSupport.mu.Unlock()
		return has
	}
	docFieldSupport.mu.Unlock()

	has := false
	raw, err := c.ExecuteKw(ctx, "documents.document", "fields_get", []any{[]string{fieldName}, []string{"type"}}, nil)
	if err == nil {
		var fields map[string]json.RawMessage
		if json.Unmarshal(raw, &fields) == nil {
			_, has = fields[fieldName]
		}
	}

	docFieldSupport.mu.Lock()
	docFieldSupport.known[key] = has
	docFieldSupport.mu.Unlock()
	return has
}
