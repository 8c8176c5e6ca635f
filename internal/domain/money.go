package domain

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// RoundMoney rounds to cents, half away from zero.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// PercentOf returns price × pct/100, rounded to cents.
func PercentOf(price, pct decimal.Decimal) decimal.Decimal {
	return RoundMoney(price.Mul(pct).Div(hundred))
}

// FractionOf returns price × fraction, rounded to cents.
func FractionOf(price, fraction decimal.Decimal) decimal.Decimal {
	return RoundMoney(price.Mul(fraction))
}
