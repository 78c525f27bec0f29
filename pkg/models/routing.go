package models

import (
	"strconv"
	"strings"
)

// VATIDs are the purchase VAT tax ids applicable to a routing target,
// split by goods/services with a generic fallback.
type VATIDs struct {
	Goods    int64
	Services int64
	Generic  int64
}

// RoutingTarget is one (ledger endpoint, database, credentials, company)
// tuple that documents are funneled toward. Loaded once per run from the
// routing sheet and immutable for the duration of the run.
type RoutingTarget struct {
	BaseURL           string
	DB                string
	Login             string
	Password          string
	CompanyID         int64
	APFolderID        int64
	PurchaseJournalID int64
	VATIDs            VATIDs
	Industry          string
}

// Key returns the composite target key used to namespace markers and run
// state: endpoint|db|login|company.
func (t *RoutingTarget) Key() string {
	return strings.Join([]string{
		t.BaseURL,
		t.DB,
		strings.ToLower(t.Login),
		strconv.FormatInt(t.CompanyID, 10),
	}, "|")
}

// RunState is the persisted per-target cursor. LastDocID is the watermark:
// the highest source-document id fully processed for the target.
type RunState struct {
	LastDocID int64 `json:"last_doc_id"`
}
