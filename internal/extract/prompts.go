package extract

import (
	"fmt"
	"strings"
)

const assignmentOCRContextLimit = 3000

// billPromptTemplate instructs the model to extract one Philippine vendor
// bill. The amount integrity rules matter most: receipts here are often
// handwritten, and the most expensive failure is a misread grand total.
const billPromptTemplate = `Extract a vendor bill/receipt for Accounts Payable.
Return JSON strictly matching the provided schema (no extra keys).
All confidence fields must be between 0 and 1.

CRITICAL PH RECEIPT RULES:
- The "ATP / BIR Permit / Printer's Accreditation / Printer info" box is NOT the vendor.
- Ignore names near keywords: "ATP", "BIR Permit", "Printer", "Accreditation", "Date issued", "O.R. No.", "VAT Reg. TIN" when those appear inside printer/ATP blocks.
- The vendor is the SELLER/ISSUER (usually top header near "OFFICIAL RECEIPT", "SALES INVOICE", or company address), not the printing company.

VENDOR IDENTITY - SAME BRAND, DIFFERENT LEGAL ENTITIES (CRITICAL):
- Invoices may mention multiple related names. The vendor for THIS invoice is the legal entity that IS ISSUING this document and receiving payment.
- PREFER in this order: (1) The exact name in "Account Name" or "Bank Account Name" in the payment/bank details section. (2) The company name in the footer or letterhead that appears on every page as the issuer. (3) The name next to the issuer address.
- DO NOT use: the name from a website URL, or from generic boilerplate like "Payments to X" or "X, as a service provider". Those refer to the brand, not necessarily the legal issuer.
- If the document shows "Pte. Ltd." in one place and "Inc." in another, and the bank details or footer show the Philippine entity, the vendor is the Philippine entity unless the invoice is clearly issued by the foreign one.
- vendor_details.address must be the address of the ISSUER, not the client/customer.

OUTPUT REQUIREMENTS:
- vendor.source must be one of: header|body|atp_printer_box|unknown
- vendor_candidates should include up to 5 plausible vendors with source + confidence.
- amount_candidates should list ALL important amounts you see with label + confidence + a short snippet where it came from.
- totals.* may be best guess, but if uncertain, lower confidence and add warnings.

AMOUNT INTEGRITY RULES (CRITICAL):
- grand_total MUST be the FINAL TOTAL / AMOUNT DUE on the invoice. It must NOT be a subtotal, a single line item amount, a VAT amount, or any intermediate number. If the invoice has multiple line items, the grand_total MUST be larger than any single line item.
- CROSS-CHECK: If you extracted line items, SUM them. The grand_total must be >= the sum of all line item amounts (possibly with VAT on top). If grand_total < line item sum, you likely picked the wrong number as grand_total.
- NEVER "correct" a line item amount downward to match a smaller total. If qty x unit_price gives a larger number than the OCR total, the total OCR is likely wrong, not the line item.
- Handwritten amounts are often misread. Common OCR confusions: "0" vs empty space, "5" vs "S", missing trailing zeros (e.g. "1045" should be "10450" or "10500").
- Cross-check: qty x unit_price should equal the line amount. If the math works for one reading but not another, trust the one where the math works.
- When line item math and the printed/written total disagree, prefer the reading where the arithmetic is consistent, NOT just the larger one.
- The grand total should be PLAUSIBLE given the line items. A grand total that is much smaller than the line item sum is almost certainly a misread.
- When the TOTAL line is handwritten and you also have individual line item amounts, cross-check: if the total is wildly different from the sum of readable line items, the total is likely misread. Use the line item sum or the closest amount_candidate instead.
- Put ALL plausible readings of the total in amount_candidates with confidence scores so the system can audit them. Include the line item sum as a candidate if it differs from the printed total.
- NEVER silently drop trailing zeros from amounts. "10500" is NOT the same as "1050" or "1045".
- DECIMAL POINT DETECTION: Handwritten decimal points are easy to miss. If a number like "80177" appears where you would expect ~8017.7, it's likely "8017.7" with a missed decimal.
- CRITICAL: grand_total must NEVER be a VAT/tax component. "VAT Amount: 428.57" means the TAX is 428.57, NOT the total. If grand_total is close to tax_total, you picked the WRONG number.
- If tax_total > grand_total, you definitely have the wrong grand_total (tax cannot exceed total). Re-examine the document.
- EXTRACT ALL LINE ITEMS: Do NOT skip items. If the invoice lists 10 products, extract all 10. The sum of line item amounts should approximately equal the grand_total.

HANDWRITTEN / LOW-QUALITY OCR RULES:
- Many PH receipts are handwritten. OCR of handwriting is unreliable.
- If the image is available, ALWAYS prefer reading the image directly over the OCR text for amounts, quantities, and item descriptions.
- Use the VENDOR NAME as strong context for item descriptions. E.g., a vendor named "FABRIC TRADING" is selling fabric/cloth/textile, so an unreadable item name is likely a fabric brand or type.
- Common handwriting misreads: "H" vs "N", "R" vs "N", "O" vs "0", "I" vs "1", "S" vs "5". When in doubt, pick the reading that makes semantic sense given the vendor context.

ACCOUNT SUGGESTION REQUIREMENTS:
- Populate expense_account_hint:
  - category: choose best matching category
  - suggested_account_name: a plausible expense account name (human-friendly, not an ID)
  - evidence: short snippet justifying the choice
- USE VENDOR NAME AS CONTEXT: If the vendor name contains keywords like "FABRIC", "GAS", "LUMBER", "HARDWARE", "ELECTRICAL", "FOOD", etc., use that to infer the expense category even if the line item description is unclear or handwritten.

VENDOR DETAIL REQUIREMENTS (PH):
- vendor_details.tin: extract TIN if present (keep formatting)
- vendor_details.branch_code: extract branch code if present
- vendor_details.address: extract issuer address if present
- vendor_details.entity_type: classify the vendor:
  - "corporation" if the name ends with Inc., Corp., Co., LLC, Corporation, etc.
  - "sole_proprietor" if there is BOTH a trade/business name AND a personal owner name
  - "individual" if the vendor is clearly a person with no business name
  - "unknown" if you cannot determine
- vendor_details.trade_name: the business/trade name (DBA). For sole proprietors this is the shop name. For corporations, same as vendor.name. Empty if not applicable.
- vendor_details.proprietor_name: the owner's personal name if entity is sole_proprietor. Look for keywords like "Prop.", "Owner", "Proprietor", or a personal name printed below/near the business name. Empty string otherwise.

PH VAT RULES (IMPORTANT):
- Decide vat.classification (BILL LEVEL - if ANY line has VAT, classification should be "vatable"):
  - "exempt" if ALL lines are VAT Exempt.
  - "zero_rated" if ALL lines are Zero Rated.
  - "vatable" if ANY line has VAT / shows 12%% VAT, even if some lines say "NO VAT".
  - "unknown" if none of the above.
- Decide vat.goods_or_services:
  - "services" if wording indicates services (professional fees, rentals, repairs, consulting, labor, contractors).
  - "goods" if it's primarily goods/products (supplies, inventory, materials).
  - "unknown" if unclear.
- Populate vat.vat_amount, vat.vatable_base, vat.exempt_amount, vat.zero_rated_amount if present.
- Put the key supporting text into vat.evidence.

PER-LINE VAT (CRITICAL - different lines may have different VAT treatment):
- For EACH line_item, set vat_code to one of: vatable | exempt | zero_rated | no_vat
- "no_vat" means the line explicitly says "NO VAT", "Non-VAT", or has no VAT applied.
- An invoice can have MIXED VAT treatment, e.g. a reimbursement line with NO VAT and a service fee line WITH 12%% VAT. Each line must have its own vat_code.
- Do NOT assume all lines have the same VAT treatment. Read the taxes column for each line carefully.

Also copy exempt/zero-rated amounts into totals.vat_exempt_amount and totals.zero_rated_amount if known.

VAT-INCLUSIVE PRICE DETECTION (CRITICAL):
- Most PH receipts/invoices show prices that ALREADY INCLUDE 12%% VAT.
- Set totals.amounts_are_vat_inclusive = true if the line item prices and grand_total include VAT.
  - Indicators: "Total Sales (VAT Inclusive)", or the grand total equals vatable_base + vat_amount, or line prices x qty = grand total and a separate VAT amount is shown.
- Set line_items[].unit_price_includes_vat = true for each line where the unit price includes VAT.
- totals.net_total should ALWAYS be the VAT-exclusive amount (before tax). If only a VAT-inclusive total is shown, compute: net_total = grand_total / 1.12 for vatable invoices.
- totals.grand_total should be the final amount due (what the buyer actually pays).

OCR TEXT:
%s

LINE ITEM CATEGORIZATION:
- For each line_items[] entry, set expense_category to the best matching category based on the item description AND vendor context:
  office_supplies, meals, repairs, rent, fuel, professional_fees, freight, utilities, inventory, supplies, other
- Examples: LPG/gas/diesel -> "fuel", paper/ink/toner -> "office_supplies", electricity/water -> "utilities", consulting/legal/audit -> "professional_fees", food/catering -> "meals", shipping/delivery -> "freight", fabric/cloth/textile/thread -> "inventory" or "supplies", hardware/tools -> "supplies", lumber/cement -> "inventory"
- If the item description is unreadable or a brand name, use the VENDOR NAME to determine the category. A fabric vendor sells fabric, NOT "other".

CURRENCY DETECTION (CRITICAL):
- Look for currency SYMBOLS and CODES on the invoice: "S$" -> SGD, "P"/"Php"/"PHP" with PH context -> PHP, "EUR" symbols -> EUR, "RM" -> MYR, "HK$" -> HKD.
- If the invoice shows "$" but the vendor/client is in Singapore, assume SGD not USD.
- NEVER leave currency blank if there are currency symbols on the invoice. Use context clues (vendor country, client country) to disambiguate "$".

YEAR vs AMOUNT CONFUSION (CRITICAL):
- Text like "November 2025", "FY 2025" contains the YEAR, not an amount.
- NEVER use year-like numbers as grand_total, net_total, or line item amounts unless they genuinely appear as monetary values with a currency symbol.
- Cross-check: if the line items sum to a number like 530 but you extracted 2025 as grand_total, the 2025 is almost certainly a year from a date string.

Rules:
- invoice.date must be YYYY-MM-DD (best guess; if unknown, empty string + low confidence).
- line_items may be [] if not confident.
- NEVER default to "other" category if the vendor name gives a clear hint about what they sell.`

// billPrompt renders the extraction prompt around the OCR text.
func billPrompt(ocrText string) string {
	if strings.TrimSpace(ocrText) == "" {
		ocrText = "(no OCR text available)"
	}
	return fmt.Sprintf(billPromptTemplate, ocrText)
}

// assignmentPrompt renders the account-assignment prompt: the chart of
// accounts, the lines to classify, and the selection rules. The industry
// section changes how the same purchase is classified, a restaurant
// buying meat books inventory, an office books meals.
func assignmentPrompt(req AssignmentRequest) string {
	var accountList strings.Builder
	for _, a := range req.Accounts {
		fmt.Fprintf(&accountList, "  %d: [%s] %s\n", a.ID, a.Code, a.Name)
	}

	bill := req.Bill
	hint := bill.ExpenseAccountHint

	var lineDesc strings.Builder
	if len(bill.LineItems) > 0 {
		for i, li := range bill.LineItems {
			category := li.ExpenseCategory
			if category == "" {
				category = hint.Category
			}
			if category == "" {
				category = "other"
			}
			desc := li.Description
			if desc == "" {
				desc = "?"
			}
			fmt.Fprintf(&lineDesc, "  %d: %q (category: %s, amount: %g)\n", i, desc, category, li.Amount)
		}
	} else {
		name := hint.SuggestedAccountName
		if name == "" {
			name = "Vendor Bill"
		}
		category := hint.Category
		if category == "" {
			category = "other"
		}
		fmt.Fprintf(&lineDesc, "  0: %q (category: %s, amount: %g)\n", name, category, bill.Totals.GrandTotal)
	}

	var sb strings.Builder
	sb.WriteString(`You are a SENIOR FILIPINO ACCOUNTANT recording a vendor bill (Purchase/AP) in Odoo for a Philippine company. You must assign each invoice line to an account from the chart of accounts below.

YOU MUST SELECT FROM THIS LIST. These are the ONLY valid accounts. Copy the account_id, account_code, and account_name EXACTLY from this list.

AVAILABLE ACCOUNTS (id: [code] name):
`)
	sb.WriteString(accountList.String())
	sb.WriteString("\nLINE ITEMS TO CLASSIFY:\n")
	sb.WriteString(lineDesc.String())

	fmt.Fprintf(&sb, "\nBill-level category hint: %s\n", orDefault(hint.Category, "other"))
	fmt.Fprintf(&sb, "Bill-level suggested account name: %s\n", orDefault(hint.SuggestedAccountName, "(none)"))
	fmt.Fprintf(&sb, "Vendor name: %s\n", orDefault(bill.Vendor.Name, "(unknown)"))
	fmt.Fprintf(&sb, "Vendor trade name: %s\n", orDefault(bill.VendorDetails.TradeName, "(same)"))
	fmt.Fprintf(&sb, "Vendor entity type: %s\n", orDefault(bill.VendorDetails.EntityType, "unknown"))

	if industry := strings.TrimSpace(req.Industry); industry != "" {
		sb.WriteString(industrySection(industry))
	}
	if ocr := strings.TrimSpace(req.OCRText); ocr != "" {
		if len(ocr) > assignmentOCRContextLimit {
			ocr = ocr[:assignmentOCRContextLimit]
		}
		sb.WriteString("\nORIGINAL OCR TEXT (use for additional context about what was purchased):\n")
		sb.WriteString(ocr)
		sb.WriteString("\n")
	}

	sb.WriteString(`
RULES (MANDATORY - follow ALL):

1. YOU MUST PICK AN ACCOUNT. Returning an account_id of 0 or an ID not in the list above is NOT allowed. Always select the closest match from the available accounts.

2. THINK LIKE A PH ACCOUNTANT recording a vendor bill:
   - What did we buy? What account do we debit?
   - ALWAYS consider the COMPANY INDUSTRY (above) first. The same purchase maps to different accounts depending on what the company does.
   - A laundry shop vendor means we paid for laundry services: "Outside Services", "Janitorial & Cleaning", or similar. BUT if OUR company IS a laundry business, this could be "Cost of Sales".
   - A fabric/textile vendor: "Supplies", "Raw Materials", "Cost of Sales", or "Inventory" accounts.
   - A gas station: "Fuel & Oil", "Gas & Oil", "Transportation". BUT if the fuel is for cooking (restaurant), consider "Cost of Sales".
   - A hardware store: "Supplies", "Repairs & Maintenance".
   - A food/beverage vendor: if our company is in food/hospitality, "Inventory"/"Cost of Sales"/"COGS"; if not, "Meals & Entertainment".
   - Printing/stationery: "Office Supplies", "Printing & Stationery".
   - Electricity/water/internet: "Utilities".

3. VENDOR NAME IS YOUR STRONGEST CLUE when the item description is unclear (bad OCR, handwritten, brand name gibberish). A "LAUNDRY SHOP" sells laundry services. A "FABRIC TRADING" sells fabric. A "MARKETING CORPORATION" selling beer is a beer distributor.

4. BANNED GENERIC ACCOUNTS - Do NOT use these if ANY specific account exists:
   - "Admin Expense", "Administrative Expense", "Miscellaneous", "General Expense", "Other Expense", "Sundry"
   - Only use generic accounts if the available list literally has NO account that relates to the purchase.
   - If you must use a generic account, confidence must be below 0.3.

5. PREFER SPECIFIC OVER GENERIC - even if the match isn't perfect. An imperfect specific match (confidence 0.5) is ALWAYS better than a generic account.

6. COST OF REVENUE vs OPERATING EXPENSE (PH context):
   - Items directly used to produce/deliver the company's product/service: Cost of Sales / COGS / Cost of Revenue.
   - Back-office/admin items: Operating Expense.
   - When in doubt, pick Operating Expense but NEVER Admin/General Expense if a more specific account exists.

7. COPY EXACTLY from the list above:
   - account_id: the numeric ID (first number before the colon)
   - account_code: the code in brackets [like this]
   - account_name: the name after the brackets
   Do NOT invent account names or codes. Copy them character-for-character.

8. ALTERNATIVES: Always provide 2nd and 3rd best choices. These are critical fallbacks.

9. BILL-LEVEL: Pick the single best account for the whole bill (bill_level_account_id/code/name).`)

	return sb.String()
}

func industrySection(industry string) string {
	return fmt.Sprintf(`
COMPANY INDUSTRY: %s

USE THE INDUSTRY TO GUIDE YOUR ACCOUNT SELECTION. The industry tells you what this company does, which determines how EVERY purchase should be classified, not just COGS vs OpEx.

INDUSTRY-BASED ACCOUNT SELECTION RULES:
1. WHAT IS THE COMPANY'S CORE BUSINESS? The industry tells you. All purchases related to the core business should go to the most specific matching account.
2. PURCHASES THAT SERVE THE CORE BUSINESS are more likely to be Inventory, Cost of Sales, COGS, or direct operational accounts, NOT generic admin/expense.
3. PURCHASES FOR BACK-OFFICE are Operating Expense, but still pick the most specific account (e.g. "Office Supplies" not "Admin Expense").
4. THE INDUSTRY CHANGES THE DEFAULT ACCOUNT for the same item:

INDUSTRY-SPECIFIC ACCOUNT MAPPING EXAMPLES:
- Restaurant/food service/hotel/resort: food, beverages, ingredients go to Inventory / Cost of Sales / COGS; wine, beer, spirits go to Inventory - Beverages / Beverage Cost; kitchen supplies and packaging go to Cost of Sales; cleaning supplies go to Operating Supplies / Janitorial; linen and uniforms go to Operating Supplies / Housekeeping; LPG for cooking goes to Cost of Sales or Utilities.
- Retail/trading/distribution: merchandise for resale goes to Inventory / Cost of Sales / Purchases; bags and packaging go to Cost of Sales / Packaging; store fixtures go to Supplies / Store Equipment.
- Manufacturing: raw materials go to Inventory / Raw Materials / Cost of Sales; factory supplies go to Manufacturing Overhead; packaging materials go to Cost of Sales / Packaging.
- Laundry/cleaning services: detergent, bleach, chemicals go to Cost of Sales / Direct Materials; hangers and plastic bags go to Cost of Sales / Supplies.
- Construction: cement, lumber, rebar, gravel go to Cost of Sales / Construction Materials; tools and PPE go to Construction Supplies.
- Professional services/consulting: subcontractor fees go to Cost of Revenue / Subcontractor Expense; client-related travel goes to Cost of Revenue / Travel; office supplies go to Operating Expense / Office Supplies.

5. KEY PRINCIPLE: When the company's industry matches the vendor's products, those products are almost certainly for the CORE BUSINESS, not general admin. A restaurant buying from a meat vendor = inventory/COGS, not "Admin Expense". A hotel buying from a wine distributor = beverage inventory, not "Meals & Entertainment".
`, industry)
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
