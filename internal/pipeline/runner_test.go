package pipeline

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"apflow/internal/accounts"
	"apflow/internal/config"
	"apflow/internal/extract"
	"apflow/internal/marker"
	"apflow/internal/odoo"
	"apflow/internal/state"
	"apflow/internal/tax"
	"apflow/pkg/models"
)

// fakeLedger answers the JSON-RPC envelope with canned results per
// model+method pair, recording every call.
type fakeLedger struct {
	t       *testing.T
	results map[string]any
	calls   []string
}

func (f *fakeLedger) handler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Params struct {
			Service string `json:"service"`
			Method  string `json:"method"`
			Args    []any  `json:"args"`
		} `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		f.t.Errorf("bad request body: %v", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	key := req.Params.Service + "." + req.Params.Method
	if req.Params.Service == "object" && len(req.Params.Args) >= 5 {
		model, _ := req.Params.Args[3].(string)
		method, _ := req.Params.Args[4].(string)
		key = model + "." + method
	}
	f.calls = append(f.calls, key)

	result, ok := f.results[key]
	if !ok {
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"error":   map[string]any{"code": 200, "message": "no canned result for " + key},
		})
		return
	}
	json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "result": result})
}

func (f *fakeLedger) callCount(key string) int {
	n := 0
	for _, c := range f.calls {
		if c == key {
			n++
		}
	}
	return n
}

func newFakeLedger(t *testing.T, results map[string]any) (*fakeLedger, *odoo.Client) {
	t.Helper()
	f := &fakeLedger{t: t, results: results}
	if _, ok := results["common.authenticate"]; !ok {
		results["common.authenticate"] = 7
	}
	srv := httptest.NewServer(http.HandlerFunc(f.handler))
	t.Cleanup(srv.Close)
	return f, odoo.NewClient(srv.URL, "testdb", "bot@example.com", "secret")
}

type stubOCR struct{ text string }

func (s stubOCR) Text(_ context.Context, _ []byte, _ string) (string, error) { return s.text, nil }
func (s stubOCR) Close() error                                               { return nil }

type stubExtractor struct{ vendorConfidence float64 }

func (s stubExtractor) ExtractBill(_ context.Context, _ extract.Request) (*models.ExtractedBill, error) {
	return &models.ExtractedBill{
		Vendor: models.VendorCandidate{Name: "Petron Corporation", Confidence: s.vendorConfidence, Source: "header"},
		VendorDetails: models.VendorDetails{
			EntityType: "corporation",
			TIN:        "123-456-789-000",
		},
		ExpenseAccountHint: models.ExpenseAccountHint{Category: "fuel", SuggestedAccountName: "Fuel and Oil"},
		Invoice:            models.InvoiceInfo{Number: "INV-001", Date: "2026-01-15", Currency: "PHP"},
		VAT: models.VATInfo{
			Classification:  models.ClassificationVatable,
			GoodsOrServices: "goods",
			VatableBase:     1000,
			VATAmount:       120,
		},
		Totals: models.Totals{
			GrandTotal:             1120,
			NetTotal:               1000,
			TaxTotal:               120,
			AmountsAreVATInclusive: true,
		},
		LineItems: []models.LineItem{
			{Description: "Diesel fuel", Quantity: 1, UnitPrice: 1120, Amount: 1120, ExpenseCategory: "fuel"},
		},
	}, nil
}
func (s stubExtractor) Close() error { return nil }

type stubTargets struct {
	targets []models.RoutingTarget
	mapping []accounts.MappingRow
}

func (s stubTargets) LoadTargets(_ context.Context) ([]models.RoutingTarget, error) {
	return s.targets, nil
}
func (s stubTargets) AccountMapping(_ context.Context) ([]accounts.MappingRow, error) {
	return s.mapping, nil
}

func testConfig() *config.Config {
	return &config.Config{
		RunBudget:             5 * time.Minute,
		TimeReserve:           time.Second,
		Pass1UnrenamedLimit:   50,
		Pass2MarkedLimit:      50,
		RenamePrefix:          "BILL",
		ProcessedMarkerPrefix: "BILL_OCR_PROCESSED|V1|",
		OCRJobMarkerPrefix:    "BILL_OCR_JOB|V1|",
		OCRMinTextLen:         10,
		VendorAutoCreateMin:   0.9,
	}
}

func testTarget(baseURL string) models.RoutingTarget {
	return models.RoutingTarget{
		BaseURL:           baseURL,
		DB:                "testdb",
		Login:             "bot@example.com",
		Password:          "secret",
		CompanyID:         1,
		APFolderID:        3,
		PurchaseJournalID: 5,
		VATIDs:            models.VATIDs{Goods: 31, Services: 32, Generic: 33},
		Industry:          "fuel retail",
	}
}

var testChart = []models.Account{
	{ID: 11, Code: "5200", Name: "Fuel and Oil Expense"},
	{ID: 12, Code: "5900", Name: "Miscellaneous Expense"},
}

// ledgerResults returns canned responses covering the happy path of one
// document flowing through to a posted bill.
func ledgerResults() map[string]any {
	return map[string]any{
		"ir.attachment.search_read": []map[string]any{{
			"id": 77, "name": "receipt.jpg",
			"datas":    base64.StdEncoding.EncodeToString([]byte("fake-image-bytes")),
			"mimetype": "image/jpeg", "description": "",
			"res_model": false, "res_id": false,
		}},
		"res.partner.search_read": []map[string]any{{
			"id": 42, "name": "Petron Corporation", "property_account_expense_id": false,
		}},
		"account.move.search_read": []map[string]any{},
		"account.tax.search_read": []map[string]any{{
			"id": 31, "amount": 12, "price_include": false,
		}},
		"account.move.create":             501,
		"ir.attachment.write":             true,
		"ir.attachment.create":            900,
		"documents.document.fields_get":   map[string]any{},
		"documents.document.write":        true,
		"account.move.message_post":       1,
		"documents.document.message_post": 1,
		"documents.document.search_read": []map[string]any{{
			"id": 12, "name": "receipt.jpg",
			"attachment_id": []any{77, "receipt.jpg"},
			"folder_id":     false,
			"company_id":    []any{1, "Main Company"},
			"create_date":   "2026-01-02 08:00:00",
		}},
	}
}

func newTestRunner(cfg *config.Config, targets TargetSource, store state.Store) *Runner {
	r := NewRunner(cfg, targets, store,
		stubOCR{text: "PETRON CORPORATION OFFICIAL RECEIPT DIESEL 1,120.00"},
		stubExtractor{vendorConfidence: 0.95}, nil)
	r.log = zerolog.Nop()
	return r
}

func testTargetContext(client *odoo.Client, target models.RoutingTarget) *targetContext {
	return &targetContext{
		target:   target,
		key:      target.Key(),
		client:   client,
		accounts: testChart,
		resolver: accounts.NewResolver(testChart, nil, target.CompanyID, "testdb", 0),
	}
}

func TestProcessDocumentCreatesBill(t *testing.T) {
	fake, client := newFakeLedger(t, ledgerResults())
	target := testTarget(client.BaseURL)
	r := newTestRunner(testConfig(), stubTargets{}, state.NewMemoryStore())

	doc := odoo.Document{ID: 12, Name: "receipt.jpg", AttachmentID: 77}
	outcome, err := r.processDocument(context.Background(), testTargetContext(client, target), doc, false)
	if err != nil {
		t.Fatalf("processDocument: %v", err)
	}
	if outcome.Status != StatusOK {
		t.Fatalf("status = %q (reason %q), want ok", outcome.Status, outcome.Reason)
	}
	if outcome.BillID != 501 {
		t.Errorf("bill id = %d, want 501", outcome.BillID)
	}
	if outcome.VendorID != 42 {
		t.Errorf("vendor id = %d, want 42", outcome.VendorID)
	}
	if n := fake.callCount("account.move.create"); n != 1 {
		t.Errorf("account.move.create called %d times, want 1", n)
	}
	// Job marker plus completion marker.
	if n := fake.callCount("ir.attachment.write"); n < 2 {
		t.Errorf("ir.attachment.write called %d times, want at least 2", n)
	}
}

func TestProcessDocumentSkipsAlreadyProcessed(t *testing.T) {
	cfg := testConfig()
	results := ledgerResults()
	fake, client := newFakeLedger(t, results)
	target := testTarget(client.BaseURL)
	mk := marker.Processed(cfg.ProcessedMarkerPrefix, target.Key(), 12, 501, "receipt.jpg")
	results["ir.attachment.search_read"] = []map[string]any{{
		"id": 77, "name": "receipt.jpg", "datas": "", "mimetype": "image/jpeg",
		"description": mk, "res_model": false, "res_id": false,
	}}
	results["account.move.search_read"] = []map[string]any{{"id": 501}}
	r := newTestRunner(cfg, stubTargets{}, state.NewMemoryStore())

	doc := odoo.Document{ID: 12, Name: "receipt.jpg", AttachmentID: 77}
	outcome, err := r.processDocument(context.Background(), testTargetContext(client, target), doc, false)
	if err != nil {
		t.Fatalf("processDocument: %v", err)
	}
	if outcome.Status != StatusSkip || outcome.Reason != SkipAlreadyProcessed {
		t.Fatalf("outcome = %+v, want skip/already_processed", outcome)
	}
	if outcome.BillID != 501 {
		t.Errorf("bill id = %d, want 501", outcome.BillID)
	}
	if n := fake.callCount("account.move.create"); n != 0 {
		t.Errorf("account.move.create called %d times, want 0", n)
	}
}

func TestProcessDocumentHealsStaleMarker(t *testing.T) {
	cfg := testConfig()
	results := ledgerResults()
	fake, client := newFakeLedger(t, results)
	target := testTarget(client.BaseURL)
	mk := marker.Processed(cfg.ProcessedMarkerPrefix, target.Key(), 12, 999, "receipt.jpg")
	results["ir.attachment.search_read"] = []map[string]any{{
		"id": 77, "name": "receipt.jpg",
		"datas":    base64.StdEncoding.EncodeToString([]byte("fake-image-bytes")),
		"mimetype": "image/jpeg", "description": mk,
		"res_model": false, "res_id": false,
	}}
	// Bill 999 no longer exists; the same empty result also clears the
	// duplicate check.
	results["account.move.search_read"] = []map[string]any{}
	r := newTestRunner(cfg, stubTargets{}, state.NewMemoryStore())

	doc := odoo.Document{ID: 12, Name: "receipt.jpg", AttachmentID: 77}
	outcome, err := r.processDocument(context.Background(), testTargetContext(client, target), doc, false)
	if err != nil {
		t.Fatalf("processDocument: %v", err)
	}
	if outcome.Status != StatusOK {
		t.Fatalf("status = %q (reason %q), want ok after stale marker heal", outcome.Status, outcome.Reason)
	}
	if n := fake.callCount("account.move.create"); n != 1 {
		t.Errorf("account.move.create called %d times, want 1", n)
	}
	// Marker clear, job marker, completion marker.
	if n := fake.callCount("ir.attachment.write"); n < 3 {
		t.Errorf("ir.attachment.write called %d times, want at least 3", n)
	}
}

func TestProcessDocumentSkipsShortOCR(t *testing.T) {
	fake, client := newFakeLedger(t, ledgerResults())
	target := testTarget(client.BaseURL)
	r := newTestRunner(testConfig(), stubTargets{}, state.NewMemoryStore())
	r.ocr = stubOCR{text: "smudge"}

	doc := odoo.Document{ID: 12, Name: "receipt.jpg", AttachmentID: 77}
	outcome, err := r.processDocument(context.Background(), testTargetContext(client, target), doc, false)
	if err != nil {
		t.Fatalf("processDocument: %v", err)
	}
	if outcome.Status != StatusSkip || outcome.Reason != SkipOCRTooShort {
		t.Fatalf("outcome = %+v, want skip/ocr_too_short", outcome)
	}
	if n := fake.callCount("account.move.create"); n != 0 {
		t.Errorf("account.move.create called %d times, want 0", n)
	}
}

func TestProcessDocumentVendorBelowThreshold(t *testing.T) {
	results := ledgerResults()
	results["res.partner.search_read"] = []map[string]any{}
	fake, client := newFakeLedger(t, results)
	target := testTarget(client.BaseURL)
	r := newTestRunner(testConfig(), stubTargets{}, state.NewMemoryStore())
	r.extractor = stubExtractor{vendorConfidence: 0.5}

	doc := odoo.Document{ID: 12, Name: "receipt.jpg", AttachmentID: 77}
	outcome, err := r.processDocument(context.Background(), testTargetContext(client, target), doc, false)
	if err != nil {
		t.Fatalf("processDocument: %v", err)
	}
	if outcome.Status != StatusSkip || outcome.Reason != SkipVendorNotFound {
		t.Fatalf("outcome = %+v, want skip/vendor_not_found", outcome)
	}
	if !outcome.ManualReview {
		t.Error("manual review flag not set")
	}
	if n := fake.callCount("res.partner.create"); n != 0 {
		t.Errorf("res.partner.create called %d times, want 0", n)
	}
}

func TestProcessDocumentAutoCreatesVendor(t *testing.T) {
	results := ledgerResults()
	results["res.partner.search_read"] = []map[string]any{}
	results["res.partner.create"] = 43
	fake, client := newFakeLedger(t, results)
	target := testTarget(client.BaseURL)
	r := newTestRunner(testConfig(), stubTargets{}, state.NewMemoryStore())

	doc := odoo.Document{ID: 12, Name: "receipt.jpg", AttachmentID: 77}
	outcome, err := r.processDocument(context.Background(), testTargetContext(client, target), doc, false)
	if err != nil {
		t.Fatalf("processDocument: %v", err)
	}
	if outcome.Status != StatusOK {
		t.Fatalf("status = %q (reason %q), want ok", outcome.Status, outcome.Reason)
	}
	if outcome.VendorID != 43 || !outcome.VendorCreated {
		t.Errorf("vendor = #%d created=%v, want #43 created", outcome.VendorID, outcome.VendorCreated)
	}
	if n := fake.callCount("res.partner.create"); n != 1 {
		t.Errorf("res.partner.create called %d times, want 1", n)
	}
}

func TestProcessDocumentSkipsDuplicate(t *testing.T) {
	results := ledgerResults()
	results["account.move.search_read"] = []map[string]any{{
		"id": 480, "ref": "INV-001", "amount_total": 1120.01, "state": "draft",
	}}
	fake, client := newFakeLedger(t, results)
	target := testTarget(client.BaseURL)
	r := newTestRunner(testConfig(), stubTargets{}, state.NewMemoryStore())

	doc := odoo.Document{ID: 12, Name: "receipt.jpg", AttachmentID: 77}
	outcome, err := r.processDocument(context.Background(), testTargetContext(client, target), doc, false)
	if err != nil {
		t.Fatalf("processDocument: %v", err)
	}
	if outcome.Status != StatusSkip || outcome.Reason != SkipDuplicate {
		t.Fatalf("outcome = %+v, want skip/duplicate", outcome)
	}
	if outcome.BillID != 480 {
		t.Errorf("bill id = %d, want 480", outcome.BillID)
	}
	if n := fake.callCount("account.move.create"); n != 0 {
		t.Errorf("account.move.create called %d times, want 0", n)
	}
}

func TestRunAdvancesWatermark(t *testing.T) {
	results := ledgerResults()
	results["account.account.search_read"] = []map[string]any{
		{"id": 11, "code": "5200", "name": "Fuel and Oil Expense"},
	}
	fake, client := newFakeLedger(t, results)
	target := testTarget(client.BaseURL)
	store := state.NewMemoryStore()
	r := newTestRunner(testConfig(), stubTargets{targets: []models.RoutingTarget{target}}, store)

	result, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Targets != 1 || result.Scanned != 1 || result.Created != 1 {
		t.Errorf("result = %+v, want 1 target, 1 scanned, 1 created", result)
	}
	if result.Errors != 0 {
		t.Errorf("errors = %d, want 0", result.Errors)
	}
	st, err := store.Load(context.Background(), target.Key())
	if err != nil {
		t.Fatalf("state load: %v", err)
	}
	if st.LastDocID != 12 {
		t.Errorf("watermark = %d, want 12", st.LastDocID)
	}
	if n := fake.callCount("account.move.create"); n != 1 {
		t.Errorf("account.move.create called %d times, want 1", n)
	}
}

func TestRunRejectsConcurrentInvocation(t *testing.T) {
	r := newTestRunner(testConfig(), stubTargets{}, state.NewMemoryStore())
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.Run(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("err = %v, want ErrRunInProgress", err)
	}
}

func TestRunOneRequiresSelector(t *testing.T) {
	r := newTestRunner(testConfig(), stubTargets{}, state.NewMemoryStore())
	if _, err := r.RunOne(context.Background(), RunOneRequest{}); !errors.Is(err, ErrMissingSelector) {
		t.Fatalf("err = %v, want ErrMissingSelector", err)
	}
}

func TestRunOneRejectsUnknownTargetKey(t *testing.T) {
	target := testTarget("http://unused.invalid")
	r := newTestRunner(testConfig(), stubTargets{targets: []models.RoutingTarget{target}}, state.NewMemoryStore())
	_, err := r.RunOne(context.Background(), RunOneRequest{DocID: 12, TargetKey: "nope"})
	if !errors.Is(err, ErrTargetNotFound) {
		t.Fatalf("err = %v, want ErrTargetNotFound", err)
	}
}

func TestBuildBillVals(t *testing.T) {
	bill := &models.ExtractedBill{
		Invoice: models.InvoiceInfo{Number: " INV-7 ", Date: "2026-01-15T00:00:00"},
	}
	lines := []tax.LedgerLine{
		{Index: 0, Name: "Diesel fuel", Quantity: 1, PriceUnit: 1000, Taxed: true},
		{Index: 1, Name: "Candy", Quantity: 2, PriceUnit: 10, Taxed: false},
	}
	vals := buildBillVals(bill, 42, 1, 5, 0, []int64{31}, lines, []int64{11, 0})

	if vals["move_type"] != "in_invoice" {
		t.Errorf("move_type = %v", vals["move_type"])
	}
	if vals["partner_id"] != int64(42) || vals["company_id"] != int64(1) {
		t.Errorf("partner/company = %v/%v", vals["partner_id"], vals["company_id"])
	}
	if vals["journal_id"] != int64(5) {
		t.Errorf("journal_id = %v", vals["journal_id"])
	}
	if _, ok := vals["currency_id"]; ok {
		t.Error("currency_id set for home currency")
	}
	if vals["ref"] != "INV-7" {
		t.Errorf("ref = %v", vals["ref"])
	}
	if vals["invoice_date"] != "2026-01-15" {
		t.Errorf("invoice_date = %v", vals["invoice_date"])
	}

	invoiceLines, ok := vals["invoice_line_ids"].([]any)
	if !ok || len(invoiceLines) != 2 {
		t.Fatalf("invoice_line_ids = %v", vals["invoice_line_ids"])
	}
	first := invoiceLines[0].([]any)[2].(map[string]any)
	if first["account_id"] != int64(11) {
		t.Errorf("line 0 account_id = %v, want 11", first["account_id"])
	}
	if _, ok := first["tax_ids"]; !ok {
		t.Error("line 0 missing tax_ids")
	}
	second := invoiceLines[1].([]any)[2].(map[string]any)
	if _, ok := second["account_id"]; ok {
		t.Error("line 1 has account_id despite unresolved account")
	}
	if _, ok := second["tax_ids"]; ok {
		t.Error("line 1 has tax_ids despite untaxed line")
	}
}
