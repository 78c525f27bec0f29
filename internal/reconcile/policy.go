package reconcile

// Policy holds the threshold constants for the correction rules. The
// defaults are calibrated against Philippine-receipt OCR failure modes and
// are deliberately tunable per deployment rather than burned into the rules.
type Policy struct {
	// RatioBandLow/High bound the "plausible misread" band: a reported
	// total is only corrected when the ratio between it and an alternative
	// signal falls inside this band. Ratios near 1 are assumed correct;
	// ratios far outside the band are assumed to be a different kind of
	// entry, not a misread.
	RatioBandLow  float64
	RatioBandHigh float64

	// AggressiveBandLow/High is the narrower band used by the more
	// aggressive checks (line-sum substitution, candidate cross-check,
	// OCR-inflation).
	AggressiveBandLow  float64
	AggressiveBandHigh float64

	// CloseTolerance is the relative difference under which two amounts
	// are considered the same reading.
	CloseTolerance float64

	// TaxShareCap is the maximum believable tax share of the grand total
	// under the modeled 12% VAT regime.
	TaxShareCap float64

	// VATRate is the standard VAT rate used to reconstruct totals from a
	// bare tax amount.
	VATRate float64

	// YearMin/YearMax bound the four-digit range treated as a calendar
	// year mistaken for a monetary figure.
	YearMin float64
	YearMax float64

	// MinOCRAmount is the smallest numeric token from raw OCR text worth
	// considering as a possible total.
	MinOCRAmount float64

	// MaxCorrectedConfidence caps the grand-total confidence after any
	// correction fires.
	MaxCorrectedConfidence float64
}

// DefaultPolicy returns the strictest rule calibration.
func DefaultPolicy() Policy {
	return Policy{
		RatioBandLow:           2.0,
		RatioBandHigh:          20.0,
		AggressiveBandLow:      5.0,
		AggressiveBandHigh:     15.0,
		CloseTolerance:         0.05,
		TaxShareCap:            0.20,
		VATRate:                0.12,
		YearMin:                2020,
		YearMax:                2030,
		MinOCRAmount:           100,
		MaxCorrectedConfidence: 0.7,
	}
}

// inBand reports whether ratio falls in the wide misread band.
func (p Policy) inBand(ratio float64) bool {
	return ratio >= p.RatioBandLow && ratio <= p.RatioBandHigh
}

// inAggressiveBand reports whether ratio falls in the narrow band.
func (p Policy) inAggressiveBand(ratio float64) bool {
	return ratio >= p.AggressiveBandLow && ratio <= p.AggressiveBandHigh
}

// close reports whether a and b agree within CloseTolerance, relative to b.
func (p Policy) close(a, b float64) bool {
	if b == 0 {
		return a == 0
	}
	d := a - b
	if d < 0 {
		d = -d
	}
	return d/b <= p.CloseTolerance
}
