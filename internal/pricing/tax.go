package pricing

import "github.com/shopspring/decimal"

// PriceWithTax converts a tax-exclusive price into the tax-inclusive price
// shown to buyers.
func (c Calculator) PriceWithTax(base Money) Money {
	rate := decimal.NewFromInt(int64(c.TaxRatePercent)).Div(hundred)
	return Round2(base.Mul(decimal.NewFromInt(1).Add(rate)))
}

// PriceWithTax applies the default VAT rate.
func PriceWithTax(base Money) Money {
	return Calculator{TaxRatePercent: DefaultTaxRatePercent}.PriceWithTax(base)
}
