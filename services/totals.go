package services

import (
	"invoicesnap-backend/models"
	"invoicesnap-backend/utils"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// LineTotal computes quantity * unitPrice at 2 decimal places. Inputs carry at
// most 2 fractional digits; quantity must be positive and price non-negative.
func LineTotal(quantity, unitPrice decimal.Decimal) (decimal.Decimal, error) {
	quantity = utils.Round2(quantity)
	unitPrice = utils.Round2(unitPrice)

	var errs ValidationErrors
	if !quantity.IsPositive() {
		errs = append(errs, invalid("quantity", "must be greater than 0"))
	}
	if unitPrice.IsNegative() {
		errs = append(errs, invalid("unit_price", "must not be negative"))
	}
	if err := errs.orNil(); err != nil {
		return decimal.Zero, err
	}
	return utils.Round2(quantity.Mul(unitPrice)), nil
}

// Totals are the derived aggregates of an invoice.
type Totals struct {
	Subtotal  decimal.Decimal
	TaxAmount decimal.Decimal
	Total     decimal.Decimal
}

// ComputeTotals derives subtotal, tax and total from the items' stored line
// totals. The result only depends on its inputs, so recomputing never drifts.
func ComputeTotals(items []models.InvoiceItem, taxRate decimal.Decimal) Totals {
	subtotal := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(utils.Round2(it.Total))
	}
	subtotal = utils.Round2(subtotal)
	tax := utils.Round2(subtotal.Mul(utils.Round2(taxRate)).Div(hundred))
	return Totals{
		Subtotal:  subtotal,
		TaxAmount: tax,
		Total:     subtotal.Add(tax),
	}
}

// validateTaxRate accepts 0..100 percent.
func validateTaxRate(rate decimal.Decimal) error {
	if rate.IsNegative() {
		return invalid("tax_rate", "must not be negative")
	}
	if rate.GreaterThan(hundred) {
		return invalid("tax_rate", "must not exceed 100")
	}
	return nil
}
