package venue

import "github.com/shopspring/decimal"

// RoundSize rounds size down to the venue's minimum increment. If the rounded
// value falls below the minimum order size it rounds up to that minimum, so a
// nonzero request never degenerates to an unplaceable order.
func RoundSize(size, increment, minOrder decimal.Decimal) decimal.Decimal {
	if increment.IsPositive() {
		size = size.Div(increment).Floor().Mul(increment)
	}
	if size.LessThan(minOrder) {
		return minOrder
	}
	return size
}
