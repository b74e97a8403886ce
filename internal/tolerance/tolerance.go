// Package tolerance implements the variance checks and per-tenant rule
// resolution used by both matching engines. The checks are pure; the
// resolver selects the applicable MatchingTolerance row for a given
// (tenant, vendor, amount, type) scope.
package tolerance

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgerline/recon-engine/pkg/models"
)

// Config is a resolved tolerance: either bound may be nil but not both.
type Config struct {
	Percentage *decimal.Decimal // fraction, e.g. 0.05
	Absolute   *decimal.Decimal // same unit as the compared values
}

// Defaults applied when no tenant rule matches.
var (
	defaultAmountPct = decimal.NewFromFloat(0.05)
	defaultAmountAbs = decimal.NewFromInt(10)
	defaultQtyPct    = decimal.NewFromFloat(0.02)
	defaultQtyAbs    = decimal.NewFromInt(1)
)

// DefaultDateDays is the default date tolerance window.
const DefaultDateDays = 7

// DefaultAmount returns the default amount tolerance (5% or $10).
func DefaultAmount() Config {
	pct, abs := defaultAmountPct, defaultAmountAbs
	return Config{Percentage: &pct, Absolute: &abs}
}

// DefaultQuantity returns the default quantity tolerance (2% or 1 unit).
func DefaultQuantity() Config {
	pct, abs := defaultQtyPct, defaultQtyAbs
	return Config{Percentage: &pct, Absolute: &abs}
}

// CheckAmount reports whether the invoice amount is within tolerance of
// the reference amount and returns the observed relative variance.
// Variance is |delta| / max(|a|, |b|). A zero reference with a non-zero
// invoice amount is 100% variance; (0, 0) is within tolerance.
func CheckAmount(invoiceAmt, referenceAmt decimal.Decimal, cfg Config) (bool, decimal.Decimal) {
	return checkValue(invoiceAmt, referenceAmt, cfg)
}

// CheckQuantity is CheckAmount over quantities.
func CheckQuantity(invoiceQty, referenceQty decimal.Decimal, cfg Config) (bool, decimal.Decimal) {
	return checkValue(invoiceQty, referenceQty, cfg)
}

func checkValue(a, b decimal.Decimal, cfg Config) (bool, decimal.Decimal) {
	if a.IsZero() && b.IsZero() {
		return true, decimal.Zero
	}

	delta := a.Sub(b).Abs()
	maxVal := a.Abs()
	if b.Abs().GreaterThan(maxVal) {
		maxVal = b.Abs()
	}
	variance := delta.Div(maxVal)

	if cfg.Percentage != nil && variance.LessThanOrEqual(*cfg.Percentage) {
		return true, variance
	}
	if cfg.Absolute != nil && delta.LessThanOrEqual(*cfg.Absolute) {
		return true, variance
	}
	return false, variance
}

// CheckDate reports whether the two dates fall within days of each other
// and returns the observed gap in days.
func CheckDate(invoiceDate, referenceDate time.Time, days int) (bool, int) {
	diff := invoiceDate.Sub(referenceDate)
	if diff < 0 {
		diff = -diff
	}
	gap := int(diff.Hours() / 24)
	return gap <= days, gap
}

// Resolve selects the winning rule from the tenant's active tolerance
// rules for the given scope: highest priority among rules whose vendor
// matches or is unscoped AND whose amount threshold is <= amount or is
// unscoped. When no rule applies the type's default is returned.
func Resolve(rules []models.MatchingTolerance, vendorID *string, amount decimal.Decimal, toleranceType string) Config {
	var winner *models.MatchingTolerance
	for i := range rules {
		r := &rules[i]
		if !r.Active || r.ToleranceType != toleranceType {
			continue
		}
		if r.VendorID != nil && (vendorID == nil || r.VendorID.String() != *vendorID) {
			continue
		}
		if r.AmountThreshold != nil && r.AmountThreshold.GreaterThan(amount) {
			continue
		}
		if winner == nil || r.Priority > winner.Priority {
			winner = r
		}
	}

	if winner != nil {
		return Config{Percentage: winner.PercentageTolerance, Absolute: winner.AbsoluteTolerance}
	}

	switch toleranceType {
	case models.ToleranceTypeQuantity:
		return DefaultQuantity()
	default:
		return DefaultAmount()
	}
}

// ResolveDateDays selects the date tolerance window in days. Date rules
// carry the window in absolute_tolerance; without a matching rule the
// default window applies.
func ResolveDateDays(rules []models.MatchingTolerance, vendorID *string, amount decimal.Decimal) int {
	var winner *models.MatchingTolerance
	for i := range rules {
		r := &rules[i]
		if !r.Active || r.ToleranceType != models.ToleranceTypeDate || r.AbsoluteTolerance == nil {
			continue
		}
		if r.VendorID != nil && (vendorID == nil || r.VendorID.String() != *vendorID) {
			continue
		}
		if r.AmountThreshold != nil && r.AmountThreshold.GreaterThan(amount) {
			continue
		}
		if winner == nil || r.Priority > winner.Priority {
			winner = r
		}
	}
	if winner == nil {
		return DefaultDateDays
	}
	return int(winner.AbsoluteTolerance.IntPart())
}
