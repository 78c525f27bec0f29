package accounts

import (
	"regexp"
	"strings"

	"apflow/pkg/models"
)

// genericAccountWords are catch-all terms that make an account name a poor
// target for automatic assignment.
var genericAccountWords = map[string]bool{
	"expense": true, "expenses": true, "admin": true, "administrative": true,
	"general": true, "miscellaneous": true, "other": true, "misc": true,
	"sundry": true, "various": true,
}

// categoryKeywords expands an expense category into account-name search
// tokens for the fuzzy matcher.
var categoryKeywords = map[string][]string{
	"fuel":              {"fuel", "gas", "oil", "lpg", "diesel", "petroleum", "gasoline", "petrol"},
	"office_supplies":   {"office", "supplies", "stationery", "paper", "toner", "ink"},
	"meals":             {"meals", "food", "representation", "entertainment", "catering"},
	"repairs":           {"repairs", "maintenance", "repair"},
	"rent":              {"rent", "rental", "lease"},
	"professional_fees": {"professional", "fees", "consulting", "legal", "audit", "advisory"},
	"freight":           {"freight", "shipping", "delivery", "transport", "logistics", "courier"},
	"utilities":         {"utilities", "electricity", "water", "power", "telephone", "internet", "communication", "telecom"},
	"inventory":         {"inventory", "cost of goods", "cogs", "merchandise", "stock", "cost of sales"},
}

// vendorNameAccountKeywords maps a substring of the vendor name to account
// name search terms, tried in order.
var vendorNameAccountKeywords = []struct {
	keyword string
	terms   []string
}{
	{"fabric trading", []string{"supplies", "raw materials", "inventory", "cost of sales", "cost of goods"}},
	{"fabric", []string{"supplies", "raw materials", "inventory", "cost of sales", "cost of goods"}},
	{"textile", []string{"supplies", "raw materials", "inventory", "cost of sales"}},
	{"cloth", []string{"supplies", "raw materials", "inventory"}},
	{"hardware", []string{"supplies", "repairs", "maintenance", "hardware"}},
	{"lumber", []string{"raw materials", "supplies", "cost of sales", "construction"}},
	{"gas", []string{"fuel", "oil", "gas", "transportation"}},
	{"fuel", []string{"fuel", "oil", "gas", "transportation"}},
	{"petroleum", []string{"fuel", "oil", "gas", "petroleum"}},
	{"food", []string{"meals", "food", "representation", "entertainment"}},
	{"catering", []string{"meals", "food", "representation", "catering"}},
	{"restaurant", []string{"meals", "food", "representation"}},
	{"electrical", []string{"supplies", "electrical", "utilities"}},
	{"plumbing", []string{"supplies", "plumbing", "repairs"}},
	{"printing", []string{"printing", "supplies", "office"}},
	{"stationery", []string{"office supplies", "stationery"}},
	{"pharmacy", []string{"medical", "supplies", "medicine"}},
	{"auto", []string{"repairs", "maintenance", "transportation"}},
	{"tire", []string{"repairs", "maintenance", "transportation"}},
	{"cement", []string{"raw materials", "construction", "supplies"}},
	{"steel", []string{"raw materials", "construction", "supplies"}},
	{"paint", []string{"supplies", "paint", "maintenance"}},
	{"chemical", []string{"supplies", "chemicals", "raw materials"}},
	{"laundry", []string{"laundry", "supplies", "services"}},
	{"cleaning", []string{"janitorial", "cleaning", "supplies"}},
}

var tokenSplitRe = regexp.MustCompile(`[\s&,/_\-()]+`)

func tokenize(s string) []string {
	var out []string
	for _, t := range tokenSplitRe.Split(strings.ToLower(s), -1) {
		if len(t) > 2 {
			out = append(out, t)
		}
	}
	return out
}

// IsGeneric reports whether the account name is dominated by catch-all
// words. An account like "General Administrative Expenses" is generic;
// "Fuel and Oil Expense" is not.
func IsGeneric(acct *models.Account) bool {
	if acct == nil {
		return false
	}
	words := tokenize(acct.Name)
	if len(words) == 0 {
		return false
	}
	generic := 0
	for _, w := range words {
		if genericAccountWords[w] {
			generic++
		}
	}
	return float64(generic)/float64(len(words)) > 0.5
}

// fuzzyMatchScoreMin is the minimum token-overlap score for a fuzzy match
// to win; below it the tier declines rather than guess.
const fuzzyMatchScoreMin = 4

// fuzzyMatchAccount scores every account by token overlap with the
// suggested name (falling back to the line description, then the category),
// expanded with the category's keyword set. Specific tokens are weighted by
// length, generic tokens count 1, and an account whose name is mostly
// generic has its score dampened.
func fuzzyMatchAccount(accounts []models.Account, suggestedName, category, lineDescription string) int64 {
	if len(accounts) == 0 {
		return 0
	}
	query := firstNonEmpty(suggestedName, lineDescription, category)
	if query == "" {
		return 0
	}
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return 0
	}
	seen := map[string]bool{}
	var allTokens []string
	for _, t := range tokens {
		if !seen[t] {
			seen[t] = true
			allTokens = append(allTokens, t)
		}
	}
	for _, t := range categoryKeywords[strings.ToLower(category)] {
		if !seen[t] {
			seen[t] = true
			allTokens = append(allTokens, t)
		}
	}

	var bestID int64
	bestScore := 0
	for i := range accounts {
		acct := &accounts[i]
		haystack := strings.ToLower(acct.Code + " " + acct.Name)
		score := 0
		specificHits := 0
		for _, t := range allTokens {
			if !strings.Contains(haystack, t) {
				continue
			}
			if genericAccountWords[t] {
				score++
			} else {
				score += len(t)
				specificHits++
			}
		}
		if IsGeneric(acct) {
			score = score * 4 / 10
		}
		if score > bestScore || (score == bestScore && specificHits > 0) {
			bestScore = score
			bestID = acct.ID
		}
	}
	if bestScore >= fuzzyMatchScoreMin {
		return bestID
	}
	return 0
}

// vendorNameAccountHint maps a recognizable trade keyword in the vendor
// name to the first matching non-generic account.
func vendorNameAccountHint(vendorName string, accounts []models.Account) int64 {
	if vendorName == "" || len(accounts) == 0 {
		return 0
	}
	vn := strings.ToLower(vendorName)
	for _, entry := range vendorNameAccountKeywords {
		if !strings.Contains(vn, entry.keyword) {
			continue
		}
		for _, term := range entry.terms {
			for i := range accounts {
				acct := &accounts[i]
				if strings.Contains(strings.ToLower(acct.Name), term) && !IsGeneric(acct) {
					return acct.ID
				}
			}
		}
	}
	return 0
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
