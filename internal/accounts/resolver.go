// Package accounts resolves the expense account for each invoice line via
// an ordered cascade of strategies, from the most specific signal (the
// vendor's recorded default) down to a configured fallback. Every result
// carries a source tag naming the tier that produced it.
package accounts

import (
	"strings"

	"github.com/rs/zerolog"

	"apflow/internal/logger"
	"apflow/pkg/models"
)

// Source tags, one per cascade tier.
const (
	SourceVendorDefault    = "vendor_default"
	SourceModelPick        = "model_pick"
	SourceModelAlternative = "model_alternative"
	SourceVendorNameHint   = "vendor_name_hint"
	SourceSheetMapping     = "sheet_mapping"
	SourceFuzzyMatch       = "fuzzy_match"
	SourceModelLastResort  = "model_last_resort"
	SourceKeywordOverlap   = "keyword_last_resort"
	SourceFirstNonGeneric  = "first_non_generic"
	SourceFirstAvailable   = "first_available"
	SourceEnvFallback      = "env_fallback"
	SourceNone             = "none"
)

// MappingRow is one category-to-account row from the mapping table. A zero
// CompanyID or empty TargetDB marks the row as a broader default.
type MappingRow struct {
	Category  string
	CompanyID int64
	TargetDB  string
	AccountID int64
}

// Resolution is a resolved account with the tier that produced it.
type Resolution struct {
	AccountID int64
	Source    string
}

// Request carries the per-line signals the cascade consults. All fields are
// optional; empty signals simply skip their tiers.
type Request struct {
	VendorDefaultAccountID int64
	ModelPick              *models.LineAssignment
	VendorName             string
	Category               string
	SuggestedName          string
	LineDescription        string
}

// Resolver holds the run-scoped lookup data for one company: the available
// expense accounts, the mapping table, and the configured fallback. It is
// rebuilt at the start of every run.
type Resolver struct {
	Accounts         []models.Account
	Mapping          []MappingRow
	CompanyID        int64
	TargetDB         string
	DefaultAccountID int64

	log zerolog.Logger
}

// NewResolver returns a resolver over the given chart of accounts.
func NewResolver(accounts []models.Account, mapping []MappingRow, companyID int64, targetDB string, defaultAccountID int64) *Resolver {
	return &Resolver{
		Accounts:         accounts,
		Mapping:          mapping,
		CompanyID:        companyID,
		TargetDB:         targetDB,
		DefaultAccountID: defaultAccountID,
		log:              logger.WithComponent("accounts"),
	}
}

// Resolve runs the cascade and returns the first tier that produces a
// usable account. Generic accounts are rejected by the early tiers and only
// accepted once every specific signal is exhausted.
func (r *Resolver) Resolve(req Request) Resolution {
	res := r.resolve(req)
	r.log.Debug().
		Int64("account_id", res.AccountID).
		Str("source", res.Source).
		Str("category", req.Category).
		Msg("Expense account resolved")
	return res
}

func (r *Resolver) resolve(req Request) Resolution {
	// Tier 1: vendor default, unless it points at a generic account.
	if req.VendorDefaultAccountID != 0 {
		if acct := r.byID(req.VendorDefaultAccountID); acct != nil && !IsGeneric(acct) {
			return Resolution{AccountID: acct.ID, Source: SourceVendorDefault}
		}
	}

	// Tier 2: the model's pick, validated against the real chart and
	// repaired via code/name. A generic primary falls through to the
	// ranked alternatives; a generic-only outcome is deferred to tier 6.
	if req.ModelPick != nil {
		if res, ok := r.modelPick(req.ModelPick); ok {
			return res
		}
	}

	// Tier 3: trade keywords in the vendor name.
	if id := vendorNameAccountHint(req.VendorName, r.Accounts); id != 0 {
		return Resolution{AccountID: id, Source: SourceVendorNameHint}
	}

	// Tier 4: the category mapping table, most specific row first.
	if id := r.lookupMapping(req.Category); id != 0 {
		return Resolution{AccountID: id, Source: SourceSheetMapping}
	}

	// Tier 5: fuzzy token overlap against account names and codes.
	if id := fuzzyMatchAccount(r.Accounts, req.SuggestedName, req.Category, req.LineDescription); id != 0 {
		return Resolution{AccountID: id, Source: SourceFuzzyMatch}
	}

	// Tier 6: the model's pick even when generic.
	if req.ModelPick != nil {
		if id := r.resolveCandidateID(req.ModelPick.AccountID, req.ModelPick.AccountCode, req.ModelPick.AccountName); id != 0 {
			return Resolution{AccountID: id, Source: SourceModelLastResort}
		}
		for _, alt := range req.ModelPick.Alternatives {
			if id := r.resolveCandidateID(alt.AccountID, alt.AccountCode, alt.AccountName); id != 0 {
				return Resolution{AccountID: id, Source: SourceModelLastResort}
			}
		}
	}

	// Tier 7: mechanical fallbacks over the chart itself.
	if len(r.Accounts) > 0 {
		if res, ok := r.mechanicalFallback(req); ok {
			return res
		}
	}

	// Tier 8: configured default.
	if r.DefaultAccountID > 0 {
		return Resolution{AccountID: r.DefaultAccountID, Source: SourceEnvFallback}
	}
	return Resolution{Source: SourceNone}
}

// modelPick validates the model's primary pick, then its alternatives,
// accepting only non-generic accounts at this tier.
func (r *Resolver) modelPick(pick *models.LineAssignment) (Resolution, bool) {
	if id := r.resolveCandidateID(pick.AccountID, pick.AccountCode, pick.AccountName); id != 0 {
		if acct := r.byID(id); acct != nil && !IsGeneric(acct) {
			return Resolution{AccountID: id, Source: SourceModelPick}, true
		}
	}
	for _, alt := range pick.Alternatives {
		id := r.resolveCandidateID(alt.AccountID, alt.AccountCode, alt.AccountName)
		if id == 0 {
			continue
		}
		if acct := r.byID(id); acct != nil && !IsGeneric(acct) {
			return Resolution{AccountID: id, Source: SourceModelAlternative}, true
		}
	}
	return Resolution{}, false
}

// resolveCandidateID maps a model-reported account to a real chart entry:
// by id, then exact code, then exact name, then partial name containment.
func (r *Resolver) resolveCandidateID(id int64, code, name string) int64 {
	if id != 0 && r.byID(id) != nil {
		return id
	}
	code = strings.TrimSpace(code)
	if code != "" {
		for i := range r.Accounts {
			if r.Accounts[i].Code == code {
				return r.Accounts[i].ID
			}
		}
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if name != "" {
		for i := range r.Accounts {
			if strings.ToLower(r.Accounts[i].Name) == name {
				return r.Accounts[i].ID
			}
		}
		for i := range r.Accounts {
			an := strings.ToLower(r.Accounts[i].Name)
			if strings.Contains(an, name) || strings.Contains(name, an) {
				return r.Accounts[i].ID
			}
		}
	}
	return 0
}

// lookupMapping consults the mapping table in specificity order:
// company+database+category, then company+category, then category alone.
func (r *Resolver) lookupMapping(category string) int64 {
	cat := strings.ToLower(strings.TrimSpace(category))
	if cat == "" || len(r.Mapping) == 0 {
		return 0
	}
	db := strings.ToLower(strings.TrimSpace(r.TargetDB))
	for _, m := range r.Mapping {
		if m.Category == cat && m.CompanyID == r.CompanyID && m.TargetDB != "" && m.TargetDB == db {
			return m.AccountID
		}
	}
	for _, m := range r.Mapping {
		if m.Category == cat && m.CompanyID == r.CompanyID && m.TargetDB == "" {
			return m.AccountID
		}
	}
	for _, m := range r.Mapping {
		if m.Category == cat && m.CompanyID == 0 && m.TargetDB == "" {
			return m.AccountID
		}
	}
	return 0
}

// mechanicalFallback picks the non-generic account with the best keyword
// overlap against every textual signal combined, else the first non-generic
// account, else the first account at all.
func (r *Resolver) mechanicalFallback(req Request) (Resolution, bool) {
	var nonGeneric []*models.Account
	for i := range r.Accounts {
		if !IsGeneric(&r.Accounts[i]) {
			nonGeneric = append(nonGeneric, &r.Accounts[i])
		}
	}
	if len(nonGeneric) > 0 {
		combined := strings.Join([]string{req.SuggestedName, req.LineDescription, req.Category, req.VendorName}, " ")
		words := tokenize(combined)
		var bestID int64
		bestHits := 0
		for _, acct := range nonGeneric {
			hay := strings.ToLower(acct.Code + " " + acct.Name)
			hits := 0
			for _, w := range words {
				if strings.Contains(hay, w) {
					hits++
				}
			}
			if hits > bestHits {
				bestHits = hits
				bestID = acct.ID
			}
		}
		if bestID != 0 {
			return Resolution{AccountID: bestID, Source: SourceKeywordOverlap}, true
		}
		return Resolution{AccountID: nonGeneric[0].ID, Source: SourceFirstNonGeneric}, true
	}
	if len(r.Accounts) > 0 {
		return Resolution{AccountID: r.Accounts[0].ID, Source: SourceFirstAvailable}, true
	}
	return Resolution{}, false
}

func (r *Resolver) byID(id int64) *models.Account {
	for i := range r.Accounts {
		if r.Accounts[i].ID == id {
			return &r.Accounts[i]
		}
	}
	return nil
}
