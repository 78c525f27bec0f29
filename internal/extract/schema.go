package extract

import "cloud.google.com/go/vertexai/genai"

// vendorCandidateSchema describes one plausible vendor reading.
var vendorCandidateSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"name":       {Type: genai.TypeString},
		"confidence": {Type: genai.TypeNumber},
		"source":     {Type: genai.TypeString, Description: "header|body|atp_printer_box|unknown"},
	},
	Required: []string{"name", "confidence", "source"},
}

// billSchema is the response schema for the extraction pass. The model is
// forced into this shape so the output unmarshals straight into
// models.ExtractedBill.
var billSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"vendor": vendorCandidateSchema,
		"vendor_candidates": {
			Type:  genai.TypeArray,
			Items: vendorCandidateSchema,
		},
		"vendor_details": {
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"tin":             {Type: genai.TypeString},
				"branch_code":     {Type: genai.TypeString},
				"address":         {Type: genai.TypeString},
				"entity_type":     {Type: genai.TypeString, Description: "corporation|sole_proprietor|individual|unknown"},
				"trade_name":      {Type: genai.TypeString, Description: "Business/trade name (DBA). For sole proprietors this is the shop name that differs from the owner's personal name"},
				"proprietor_name": {Type: genai.TypeString, Description: "Owner's personal name if entity is a sole proprietor"},
			},
			Required: []string{"tin", "branch_code", "address", "entity_type", "trade_name", "proprietor_name"},
		},
		"expense_account_hint": {
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"category":               {Type: genai.TypeString, Description: "office_supplies|meals|repairs|rent|fuel|professional_fees|freight|other"},
				"suggested_account_name": {Type: genai.TypeString},
				"confidence":             {Type: genai.TypeNumber},
				"evidence":               {Type: genai.TypeString},
			},
			Required: []string{"category", "suggested_account_name", "confidence", "evidence"},
		},
		"invoice": {
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"number":          {Type: genai.TypeString},
				"date":            {Type: genai.TypeString, Description: "YYYY-MM-DD"},
				"date_confidence": {Type: genai.TypeNumber},
				"currency":        {Type: genai.TypeString},
			},
			Required: []string{"number", "date", "date_confidence", "currency"},
		},
		"vat": {
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"classification":               {Type: genai.TypeString, Description: "vatable|exempt|zero_rated|unknown"},
				"goods_or_services":            {Type: genai.TypeString, Description: "goods|services|unknown"},
				"vatable_base":                 {Type: genai.TypeNumber},
				"vatable_base_confidence":      {Type: genai.TypeNumber},
				"vat_amount":                   {Type: genai.TypeNumber},
				"vat_amount_confidence":        {Type: genai.TypeNumber},
				"exempt_amount":                {Type: genai.TypeNumber},
				"exempt_amount_confidence":     {Type: genai.TypeNumber},
				"zero_rated_amount":            {Type: genai.TypeNumber},
				"zero_rated_amount_confidence": {Type: genai.TypeNumber},
				"evidence":                     {Type: genai.TypeString},
			},
			Required: []string{
				"classification", "goods_or_services",
				"vatable_base", "vatable_base_confidence",
				"vat_amount", "vat_amount_confidence",
				"exempt_amount", "exempt_amount_confidence",
				"zero_rated_amount", "zero_rated_amount_confidence",
				"evidence",
			},
		},
		"totals": {
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"grand_total":                  {Type: genai.TypeNumber, Description: "Total amount due (final amount to pay, VAT-inclusive if applicable)"},
				"grand_total_confidence":       {Type: genai.TypeNumber},
				"tax_total":                    {Type: genai.TypeNumber},
				"tax_total_confidence":         {Type: genai.TypeNumber},
				"net_total":                    {Type: genai.TypeNumber, Description: "Total BEFORE VAT. If only a VAT-inclusive total is shown, compute net_total = grand_total / 1.12 for vatable invoices"},
				"net_total_confidence":         {Type: genai.TypeNumber},
				"vat_exempt_amount":            {Type: genai.TypeNumber},
				"vat_exempt_amount_confidence": {Type: genai.TypeNumber},
				"zero_rated_amount":            {Type: genai.TypeNumber},
				"zero_rated_amount_confidence": {Type: genai.TypeNumber},
				"amounts_are_vat_inclusive":    {Type: genai.TypeBoolean, Description: "true if the grand_total and line item prices already include VAT"},
			},
			Required: []string{
				"grand_total", "grand_total_confidence",
				"tax_total", "tax_total_confidence",
				"net_total", "net_total_confidence",
				"vat_exempt_amount", "vat_exempt_amount_confidence",
				"zero_rated_amount", "zero_rated_amount_confidence",
				"amounts_are_vat_inclusive",
			},
		},
		"amount_candidates": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"label":      {Type: genai.TypeString},
					"amount":     {Type: genai.TypeNumber},
					"confidence": {Type: genai.TypeNumber},
					"snippet":    {Type: genai.TypeString},
				},
				Required: []string{"label", "amount", "confidence", "snippet"},
			},
		},
		"line_items": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"description":             {Type: genai.TypeString},
					"quantity":                {Type: genai.TypeNumber},
					"unit_price":              {Type: genai.TypeNumber},
					"amount":                  {Type: genai.TypeNumber},
					"unit_price_includes_vat": {Type: genai.TypeBoolean},
					"expense_category":        {Type: genai.TypeString, Description: "office_supplies|meals|repairs|rent|fuel|professional_fees|freight|utilities|inventory|other"},
					"vat_code":                {Type: genai.TypeString, Description: "Per-line VAT treatment: vatable|exempt|zero_rated|no_vat"},
				},
				Required: []string{"description", "quantity", "unit_price", "amount", "unit_price_includes_vat", "expense_category", "vat_code"},
			},
		},
		"warnings": {
			Type:  genai.TypeArray,
			Items: &genai.Schema{Type: genai.TypeString},
		},
	},
	Required: []string{
		"vendor", "vendor_candidates",
		"invoice",
		"vat",
		"totals",
		"amount_candidates",
		"line_items",
		"vendor_details",
		"expense_account_hint",
	},
}

var accountCandidateSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"account_id":   {Type: genai.TypeNumber, Description: "Account ID from the provided list"},
		"account_code": {Type: genai.TypeString},
		"account_name": {Type: genai.TypeString},
		"confidence":   {Type: genai.TypeNumber, Description: "0-1 confidence"},
	},
	Required: []string{"account_id", "account_code", "account_name", "confidence"},
}

// assignmentSchema is the response schema for the account-assignment pass.
var assignmentSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"assignments": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"line_index":   {Type: genai.TypeNumber, Description: "0-based index into the line_items array"},
					"account_id":   {Type: genai.TypeNumber, Description: "The best matching account ID from the provided list"},
					"account_code": {Type: genai.TypeString},
					"account_name": {Type: genai.TypeString},
					"confidence":   {Type: genai.TypeNumber},
					"reasoning":    {Type: genai.TypeString, Description: "Brief explanation of why this account was chosen"},
					"alternatives": {
						Type:        genai.TypeArray,
						Description: "2nd and 3rd best account choices, ordered by preference",
						Items:       accountCandidateSchema,
					},
				},
				Required: []string{"line_index", "account_id", "account_code", "account_name", "confidence", "reasoning", "alternatives"},
			},
		},
		"bill_level_account_id":   {Type: genai.TypeNumber, Description: "Best overall account_id if only one account is used for the whole bill"},
		"bill_level_account_code": {Type: genai.TypeString},
		"bill_level_account_name": {Type: genai.TypeString},
		"bill_level_confidence":   {Type: genai.TypeNumber},
	},
	Required: []string{"assignments", "bill_level_account_id", "bill_level_account_code", "bill_level_account_name", "bill_level_confidence"},
}
