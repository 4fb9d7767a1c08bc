package core

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// ParsePrice converts a human-readable decimal price string into base units
// for a token with the given number of decimals. Uses decimal arithmetic to
// avoid floating-point errors on monetary values.
//
// Rejects negative values, more fractional digits than the token supports,
// and values that overflow uint64.
func ParsePrice(s string, decimals int32) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid price %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("invalid price %q: must not be negative", s)
	}

	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("invalid price %q: more than %d decimal places", s, decimals)
	}

	maxUint64 := decimal.NewFromUint64(math.MaxUint64)
	if scaled.GreaterThan(maxUint64) {
		return 0, fmt.Errorf("invalid price %q: overflows uint64 at %d decimals", s, decimals)
	}

	return scaled.BigInt().Uint64(), nil
}

// FormatPrice renders a base-unit value as a decimal string for a token with
// the given number of decimals.
func FormatPrice(v uint64, decimals int32) string {
	return decimal.NewFromUint64(v).Shift(-decimals).String()
}
