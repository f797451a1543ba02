package domain

import "github.com/shopspring/decimal"

// Round2 rounds a money amount to cents, half away from zero.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Percent returns round2(amount × pct / 100).
func Percent(amount, pct decimal.Decimal) decimal.Decimal {
	return Round2(amount.Mul(pct).Div(decimal.NewFromInt(100)))
}

// DiscountedPrice returns round2(price × (100 − pct) / 100).
func DiscountedPrice(price, pct decimal.Decimal) decimal.Decimal {
	hundred := decimal.NewFromInt(100)
	return Round2(price.Mul(hundred.Sub(pct)).Div(hundred))
}
