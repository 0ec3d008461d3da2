// Package money converts between decimal MZN amounts and the integer
// centavo representation used in storage.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency is the ISO code of every amount handled by the service.
const Currency = "MZN"

// MaxAmount is the largest amount accepted for a single movement or price.
// Its centavo value fits an int64 with room for balances to grow.
var MaxAmount = decimal.NewFromInt(1_000_000_000)

var hundred = decimal.NewFromInt(100)

// InRange reports whether the magnitude of amount does not exceed MaxAmount.
func InRange(amount decimal.Decimal) bool {
	return amount.Abs().LessThanOrEqual(MaxAmount)
}

// ToMinor converts an amount to centavos, rounding half away from zero.
// Callers validate with InRange first; larger values do not fit an int64.
func ToMinor(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// FromMinor converts centavos back into a decimal amount.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// Round2 rounds to two decimal places.
func Round2(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}

// Parse reads a user supplied amount. Commas are accepted as decimal separators.
func Parse(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, ",", ".")
	if s == "" {
		return decimal.Zero, fmt.Errorf("parse amount: empty")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	return d, nil
}

// Format renders an amount as "1250.50 MZN".
func Format(amount decimal.Decimal) string {
	return amount.StringFixed(2) + " " + Currency
}
