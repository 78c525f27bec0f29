// Package reconcile repairs numerically inconsistent extraction results.
//
// The extraction model occasionally reports a grand total that is a calendar
// year, a truncated reading, a VAT component, or a decimal-point misread.
// The engine runs an ordered battery of independent checks, each comparing
// the reported grand total against an alternative signal (line-item sum,
// labelled amount candidates, raw OCR numeric tokens, the tax breakdown) and
// firing only when the ratio of the two falls in a plausible misread band.
// The first rule to fire wins; a corrected total is never re-corrected in
// the same pass, and no rule's trigger band includes ratio 1, so applying
// the engine to a consistent bill is a no-op.
package reconcile

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"apflow/internal/logger"
	"apflow/pkg/models"
)

// Engine applies the correction rules to an extracted bill.
type Engine struct {
	policy Policy
	rules  []rule
	log    zerolog.Logger
}

// rule is one pure predicate/transform pair: it inspects the bill and the
// collected evidence and either proposes a replacement grand total or
// declines.
type rule struct {
	name  string
	apply func(p Policy, ev *evidence) (float64, bool)
}

// evidence is the read-only context shared by all rules for one pass.
type evidence struct {
	bill       *models.ExtractedBill
	grandTotal float64
	lineSum    float64
	candidates []models.AmountCandidate // total-like candidates only
	ocrAmounts []float64
}

// NewEngine returns an engine with the default policy.
func NewEngine() *Engine {
	return NewEngineWithPolicy(DefaultPolicy())
}

// NewEngineWithPolicy returns an engine with a custom threshold calibration.
func NewEngineWithPolicy(p Policy) *Engine {
	return &Engine{
		policy: p,
		rules: []rule{
			{"year_confusion", ruleYearConfusion},
			{"truncated_total", ruleTruncatedTotal},
			{"inflated_total", ruleInflatedTotal},
			{"candidate_crosscheck", ruleCandidateCrossCheck},
			{"ocr_crosscheck", ruleOCRCrossCheck},
			{"vat_component_confusion", ruleVATComponentConfusion},
			{"impossible_tax", ruleImpossibleTax},
			{"decimal_misread", ruleDecimalMisread},
		},
		log: logger.WithComponent("reconcile"),
	}
}

// Reconcile validates the bill's reported grand total and replaces it in
// place when a correction rule fires. It returns the correction, or nil when
// the bill was left untouched. At most one rule fires per call.
func (e *Engine) Reconcile(bill *models.ExtractedBill, ocrText string) *models.Correction {
	if bill == nil || bill.Totals.GrandTotal <= 0 {
		return nil
	}

	ev := &evidence{
		bill:       bill,
		grandTotal: bill.Totals.GrandTotal,
		lineSum:    bill.LineSum(),
		candidates: totalLikeCandidates(bill.AmountCandidates),
		ocrAmounts: extractOCRAmounts(ocrText, e.policy.MinOCRAmount),
	}

	for _, r := range e.rules {
		newTotal, ok := r.apply(e.policy, ev)
		if !ok || newTotal <= 0 {
			continue
		}
		if e.policy.close(newTotal, ev.grandTotal) {
			// The replacement is the same reading; nothing to repair.
			continue
		}
		e.applyCorrection(bill, r.name, newTotal)
		return bill.Correction
	}
	return nil
}

// applyCorrection swaps in the corrected grand total, demotes confidence,
// keeps the net total consistent, and rescales a lone line item whose
// proportion to the new total would otherwise be implausible. The net
// total is clamped in both directions: after a correction it is never
// left above the grand total.
func (e *Engine) applyCorrection(bill *models.ExtractedBill, ruleName string, newTotal float64) {
	old := bill.Totals.GrandTotal
	bill.Totals.GrandTotal = newTotal

	conf := bill.Totals.GrandTotalConfidence
	if conf == 0 {
		conf = 0.5
	}
	bill.Totals.GrandTotalConfidence = math.Min(conf, e.policy.MaxCorrectedConfidence)

	if bill.Totals.NetTotal > 0 && bill.Totals.NetTotal < newTotal && old < newTotal {
		bill.Totals.NetTotal = newTotal
	}
	if bill.Totals.NetTotal > newTotal {
		bill.Totals.NetTotal = newTotal
	}

	if len(bill.LineItems) == 1 {
		li := &bill.LineItems[0]
		if li.Amount > 0 {
			ratio := newTotal / li.Amount
			if ratio >= e.policy.AggressiveBandLow || ratio <= 1/e.policy.AggressiveBandLow {
				li.Amount = newTotal
				qty := li.Quantity
				if qty <= 0 {
					qty = 1
				}
				li.UnitPrice = round2(newTotal / qty)
			}
		}
	}

	bill.Correction = &models.Correction{Rule: ruleName, OldTotal: old, NewTotal: newTotal}
	e.log.Info().
		Str("rule", ruleName).
		Float64("old_total", old).
		Float64("new_total", newTotal).
		Float64("confidence", bill.Totals.GrandTotalConfidence).
		Msg("Grand total corrected")
}

// ruleYearConfusion catches a four-digit grand total that is really a
// calendar year: it matches neither the line sum nor any total-like
// candidate, so whichever of those is available replaces it.
func ruleYearConfusion(p Policy, ev *evidence) (float64, bool) {
	gt := ev.grandTotal
	if gt != math.Trunc(gt) || gt < p.YearMin || gt > p.YearMax {
		return 0, false
	}
	if ev.lineSum > 0 && p.close(gt, ev.lineSum) {
		return 0, false
	}
	for _, c := range ev.candidates {
		if p.close(gt, c.Amount) {
			return 0, false
		}
	}
	if ev.lineSum > 0 {
		return ev.lineSum, true
	}
	if len(ev.candidates) > 0 {
		return bestCandidate(ev.candidates), true
	}
	return 0, false
}

// ruleTruncatedTotal fires when the line-item sum dwarfs the reported total
// (a digit dropped from the total); the line sum wins.
func ruleTruncatedTotal(p Policy, ev *evidence) (float64, bool) {
	if ev.lineSum < p.MinOCRAmount {
		return 0, false
	}
	if p.inAggressiveBand(ev.lineSum / ev.grandTotal) {
		return ev.lineSum, true
	}
	return 0, false
}

// ruleInflatedTotal fires when the reported total dwarfs the line sum; a
// total-like candidate close to the line sum is preferred over the bare sum.
func ruleInflatedTotal(p Policy, ev *evidence) (float64, bool) {
	if ev.lineSum <= 0 {
		return 0, false
	}
	if !p.inAggressiveBand(ev.grandTotal / ev.lineSum) {
		return 0, false
	}
	for _, c := range ev.candidates {
		if p.close(c.Amount, ev.lineSum) {
			return c.Amount, true
		}
	}
	return ev.lineSum, true
}

// ruleCandidateCrossCheck scans the total-like amount candidates for one
// whose ratio to the reported total falls in the aggressive band, in either
// direction.
func ruleCandidateCrossCheck(p Policy, ev *evidence) (float64, bool) {
	for _, c := range ev.candidates {
		if c.Amount <= 0 {
			continue
		}
		if p.inAggressiveBand(c.Amount/ev.grandTotal) || p.inAggressiveBand(ev.grandTotal/c.Amount) {
			return c.Amount, true
		}
	}
	return 0, false
}

// ruleOCRCrossCheck validates the total against numeric tokens extracted
// independently from the raw OCR text: a maximum token 2x-20x above the
// total means a truncated reading; a total 5x-15x above every token means an
// inflated one. Either way the OCR maximum wins.
func ruleOCRCrossCheck(p Policy, ev *evidence) (float64, bool) {
	if len(ev.ocrAmounts) == 0 {
		return 0, false
	}
	maxToken := ev.ocrAmounts[0]
	for _, a := range ev.ocrAmounts[1:] {
		if a > maxToken {
			maxToken = a
		}
	}
	if p.inBand(maxToken / ev.grandTotal) {
		return maxToken, true
	}
	if p.inAggressiveBand(ev.grandTotal / maxToken) {
		return maxToken, true
	}
	return 0, false
}

// ruleVATComponentConfusion catches the model selecting the tax line as the
// total: the reported total sits within 10% of the tax amount, so the total
// is reconstructed from the vatable base plus tax, derived from the tax at
// the standard rate, or taken from a much larger total-like candidate.
func ruleVATComponentConfusion(p Policy, ev *evidence) (float64, bool) {
	tax := ev.bill.Totals.TaxTotal
	if tax <= 0 {
		tax = ev.bill.VAT.VATAmount
	}
	if tax <= 0 {
		return 0, false
	}
	if relDiff(ev.grandTotal, tax) > 0.10 {
		return 0, false
	}
	if base := ev.bill.VAT.VatableBase; base > 0 {
		return base + tax, true
	}
	if derived := tax / p.VATRate * (1 + p.VATRate); derived > ev.grandTotal {
		return derived, true
	}
	for _, c := range ev.candidates {
		if p.inBand(c.Amount / ev.grandTotal) {
			return c.Amount, true
		}
	}
	return 0, false
}

// ruleImpossibleTax rejects a grand total whose reported tax share exceeds
// the believable cap for the 12% regime, using the same fallback order:
// candidate, line sum, tax-derived total. A replacement is only accepted if
// it brings the tax share back under the cap.
func ruleImpossibleTax(p Policy, ev *evidence) (float64, bool) {
	tax := ev.bill.Totals.TaxTotal
	if tax <= 0 || tax <= ev.grandTotal*p.TaxShareCap {
		return 0, false
	}
	plausible := func(total float64) bool {
		return total > 0 && tax <= total*p.TaxShareCap
	}
	for _, c := range ev.candidates {
		if p.inBand(c.Amount/ev.grandTotal) && plausible(c.Amount) {
			return c.Amount, true
		}
	}
	if ev.lineSum > 0 && p.inBand(ev.lineSum/ev.grandTotal) && plausible(ev.lineSum) {
		return ev.lineSum, true
	}
	if derived := tax / p.VATRate * (1 + p.VATRate); plausible(derived) {
		return derived, true
	}
	return 0, false
}

// ruleDecimalMisread catches a missed decimal point: dividing the total by
// 10 or 100 lands on the line sum or a total-like candidate.
func ruleDecimalMisread(p Policy, ev *evidence) (float64, bool) {
	for _, div := range []float64{10, 100} {
		scaled := ev.grandTotal / div
		if ev.lineSum > 0 && p.close(scaled, ev.lineSum) {
			return ev.lineSum, true
		}
		for _, c := range ev.candidates {
			if p.close(scaled, c.Amount) {
				return c.Amount, true
			}
		}
	}
	return 0, false
}

var (
	totalLabelRe   = regexp.MustCompile(`(?i)\b(total|grand|due|balance|amount\s*due)\b`)
	excludeLabelRe = regexp.MustCompile(`(?i)\b(vat|tax|exempt|zero[\s-]?rated|line|item|sub\s*-?\s*total|subtotal)\b`)
)

// totalLikeCandidates filters the amount candidates down to those whose
// label reads like a grand total, dropping VAT, exempt and line-item labels.
func totalLikeCandidates(candidates []models.AmountCandidate) []models.AmountCandidate {
	var out []models.AmountCandidate
	for _, c := range candidates {
		if c.Amount <= 0 {
			continue
		}
		if !totalLabelRe.MatchString(c.Label) || excludeLabelRe.MatchString(c.Label) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// bestCandidate returns the highest-confidence candidate amount.
func bestCandidate(candidates []models.AmountCandidate) float64 {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Confidence > best.Confidence {
			best = c
		}
	}
	return best.Amount
}

var ocrNumberRe = regexp.MustCompile(`[\d,]+\.?\d*`)

// extractOCRAmounts pulls every numeric token at or above min out of the raw
// OCR text, for cross-validation independent of the extraction model.
func extractOCRAmounts(text string, min float64) []float64 {
	if text == "" {
		return nil
	}
	var out []float64
	for _, m := range ocrNumberRe.FindAllString(text, -1) {
		n, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
		if err != nil || math.IsInf(n, 0) || math.IsNaN(n) {
			continue
		}
		if n >= min {
			out = append(out, n)
		}
	}
	return out
}

func relDiff(a, b float64) float64 {
	if b == 0 {
		return math.Inf(1)
	}
	return math.Abs(a-b) / b
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
