// Package money provides the fixed-precision rounding rules settlement and
// the AI loop need, plus the small Lerp/Clamp01/Clamp decimal helpers the AI
// loop uses. Currency formatting and FX conversion proper are out of scope
// for the core (spec.md §1) — for currencies this package only knows how
// many fractional digits each one carries.
package money

import (
	"github.com/shopspring/decimal"

	"bourse/internal/domain"
)

// fractionalDigits returns the number of decimal places a currency settles
// at: zero for JPY, two for everything else (§9).
func fractionalDigits(c domain.Currency) int32 {
	if c == domain.JPY {
		return 0
	}
	return 2
}

// Round rounds amount to the currency's settlement precision via
// decimal.Round, which rounds half away from zero.
func Round(amount decimal.Decimal, c domain.Currency) decimal.Decimal {
	return amount.Round(fractionalDigits(c))
}

// Lerp linearly interpolates between lo and hi at fraction t. t is not
// clamped here; a t outside [0,1] extrapolates beyond lo or hi.
func Lerp(lo, hi, t decimal.Decimal) decimal.Decimal {
	return lo.Add(hi.Sub(lo).Mul(t))
}

// Clamp01 clamps a decimal to the closed interval [0,1].
func Clamp01(v decimal.Decimal) decimal.Decimal {
	if v.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	if v.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return v
}

// Clamp clamps v to [lo, hi].
func Clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}
