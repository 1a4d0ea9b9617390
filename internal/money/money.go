// Package money does the little arithmetic on integer cents that must not go
// through float64.
package money

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

var ErrOutOfRange = errors.New("amount out of range")

var (
	hundred  = decimal.NewFromInt(100)
	maxCents = decimal.NewFromInt(math.MaxInt64)
	minCents = decimal.NewFromInt(math.MinInt64)
)

// Average divides total by count, rounding half away from zero to whole
// cents. A zero count averages to zero.
func Average(totalCents int64, count int64) int64 {
	if count <= 0 {
		return 0
	}
	return decimal.NewFromInt(totalCents).DivRound(decimal.NewFromInt(count), 0).IntPart()
}

// Format renders cents as a plain decimal amount with two places ("12.50").
func Format(cents int64) string {
	return decimal.NewFromInt(cents).Div(hundred).StringFixed(2)
}

// Line multiplies a unit price by a quantity.
func Line(unitCents int64, qty int64) (int64, error) {
	return fit(decimal.NewFromInt(unitCents).Mul(decimal.NewFromInt(qty)))
}

// Add sums cents, failing instead of wrapping around.
func Add(a int64, b int64) (int64, error) {
	return fit(decimal.NewFromInt(a).Add(decimal.NewFromInt(b)))
}

func fit(d decimal.Decimal) (int64, error) {
	if d.GreaterThan(maxCents) || d.LessThan(minCents) {
		return 0, ErrOutOfRange
	}
	return d.IntPart(), nil
}
