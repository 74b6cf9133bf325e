package utils

import "github.com/shopspring/decimal"

// Round2 rounds x half away from zero to 2 decimal places.
func Round2(x decimal.Decimal) decimal.Decimal {
	return x.Round(2)
}

// FormatMoney renders an amount with exactly two decimals.
func FormatMoney(x decimal.Decimal) string {
	return x.StringFixed(2)
}
