package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// MinorUnitExponent is the number of decimal places in the ledger currency
// (kobo for NGN).
const MinorUnitExponent = 2

// Currency is the single currency the ledger settles in.
const Currency = "NGN"

var (
	ErrInvalidAmount = errors.New("amount must be a positive number")
	ErrTooPrecise    = fmt.Errorf("amount supports at most %d decimal places", MinorUnitExponent)

	maxMinor = decimal.NewFromInt(1 << 53)
)

// FromDecimal converts a major-unit decimal into minor units.
func FromDecimal(d decimal.Decimal) (int64, error) {
	if !d.IsPositive() {
		return 0, ErrInvalidAmount
	}
	minor := d.Shift(MinorUnitExponent)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, ErrTooPrecise
	}
	if minor.GreaterThan(maxMinor) {
		return 0, ErrInvalidAmount
	}
	return minor.IntPart(), nil
}

// ToDecimal converts minor units into a major-unit decimal.
func ToDecimal(minor int64) decimal.Decimal {
	return decimal.New(minor, -MinorUnitExponent)
}

// Format renders minor units as a fixed two-place major-unit string.
func Format(minor int64) string {
	return ToDecimal(minor).StringFixed(MinorUnitExponent)
}
