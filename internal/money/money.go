package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MinorUnits is the number of fractional digits of the ledger currency.
const MinorUnits = 2

var Zero = decimal.Zero

// MaxAmount is the exclusive bound on any stored amount, matching the
// NUMERIC(12,2) columns.
var MaxAmount = decimal.New(1, 10)

// InRange reports whether |d| fits below MaxAmount.
func InRange(d decimal.Decimal) bool {
	return d.Abs().LessThan(MaxAmount)
}

// Round rounds half away from zero to the currency minor unit.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(MinorUnits)
}

func Parse(raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	return d, nil
}

// MustParse is meant for literals in seeds and tests.
func MustParse(raw string) decimal.Decimal {
	d, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return d
}

func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// Equal compares amounts after rounding to the minor unit, so 1.5 and 1.50 match.
func Equal(a decimal.Decimal, b decimal.Decimal) bool {
	return Round(a).Equal(Round(b))
}

// String renders an amount with exactly MinorUnits fractional digits.
func String(d decimal.Decimal) string {
	return d.StringFixed(MinorUnits)
}
