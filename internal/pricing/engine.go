package pricing

import (
	"github.com/shopspring/decimal"
)

// Money represents a monetary value in the store currency.
type Money = decimal.Decimal

// DefaultTaxRatePercent is the VAT rate applied when none is configured.
const DefaultTaxRatePercent = 21

var hundred = decimal.NewFromInt(100)

// Round2 rounds to cents, half away from zero. Every price shown or charged
// goes through it.
func Round2(m Money) Money {
	return m.Round(2)
}

// Priced is what books, packs and cart lines share for pricing.
type Priced interface {
	BasePrice() Money
	PromotionalPrice() *Money
}

// ItemOf builds a pricing item for qty units of p.
func ItemOf(p Priced, qty int) Item {
	return Item{Qty: qty, UnitPrice: p.BasePrice(), PromoPrice: p.PromotionalPrice()}
}

// Item describes a line item used for pricing calculation.
type Item struct {
	Qty        int
	UnitPrice  Money
	PromoPrice *Money
}

// Unit returns the tax-exclusive price charged per unit.
func (it Item) Unit() Money {
	return EffectivePrice(it.UnitPrice, it.PromoPrice)
}

// Summary aggregates computed pricing components. Subtotal is tax-inclusive.
type Summary struct {
	Subtotal     Money `json:"subtotal"`
	Shipping     Money `json:"shipping"`
	Discount     Money `json:"discount"`
	PromoPercent int   `json:"promoPercent"`
	GrandTotal   Money `json:"grandTotal"`
}

// Calculator bundles the tax rate and shipping table so that cart view and
// checkout price through the same code path.
type Calculator struct {
	TaxRatePercent int
	Shipping       Tiers
}

// NewCalculator returns a calculator with the default VAT rate and shipping tiers.
func NewCalculator() Calculator {
	return Calculator{TaxRatePercent: DefaultTaxRatePercent, Shipping: DefaultTiers()}
}

// Compute calculates checkout totals for the provided items and code promotion
// percentage (0 when no code applies). Shipping is evaluated on the
// pre-discount tax-inclusive subtotal.
func (c Calculator) Compute(items []Item, promoPercent int) Summary {
	subtotal := decimal.Zero
	for _, it := range items {
		if it.Qty <= 0 {
			continue
		}
		subtotal = subtotal.Add(c.PriceWithTax(it.Unit()).Mul(decimal.NewFromInt(int64(it.Qty))))
	}
	subtotal = Round2(subtotal)
	shipping := c.Shipping.Fee(subtotal)

	if promoPercent < 0 {
		promoPercent = 0
	}
	if promoPercent > 100 {
		promoPercent = 100
	}
	discount := decimal.Zero
	if promoPercent > 0 {
		discount = Round2(subtotal.Mul(decimal.NewFromInt(int64(promoPercent))).Div(hundred))
	}
	total := subtotal.Sub(discount).Add(shipping)
	if total.IsNegative() {
		total = decimal.Zero
	}
	return Summary{
		Subtotal:     subtotal,
		Shipping:     shipping,
		Discount:     discount,
		PromoPercent: promoPercent,
		GrandTotal:   Round2(total),
	}
}

// Subtotal sums tax-exclusive unit prices times quantity.
func Subtotal(items []Item) Money {
	total := decimal.Zero
	for _, it := range items {
		if it.Qty <= 0 {
			continue
		}
		total = total.Add(it.Unit().Mul(decimal.NewFromInt(int64(it.Qty))))
	}
	return Round2(total)
}

// SubtotalWithTax sums tax-inclusive unit prices times quantity.
func (c Calculator) SubtotalWithTax(items []Item) Money {
	total := decimal.Zero
	for _, it := range items {
		if it.Qty <= 0 {
			continue
		}
		total = total.Add(c.PriceWithTax(it.Unit()).Mul(decimal.NewFromInt(int64(it.Qty))))
	}
	return Round2(total)
}

// EffectivePrice returns the promo price when it undercuts the base price,
// otherwise the base price.
func EffectivePrice(base Money, promo *Money) Money {
	if HasDiscount(base, promo) {
		return *promo
	}
	return base
}

// HasDiscount reports whether promo is a usable promotional price for base.
func HasDiscount(base Money, promo *Money) bool {
	return promo != nil && !promo.IsNegative() && promo.LessThan(base)
}

// DiscountBadge returns the rounded percentage shown next to a discounted
// price, or 0 when there is no discount.
func DiscountBadge(base Money, promo *Money) int {
	if !HasDiscount(base, promo) || !base.IsPositive() {
		return 0
	}
	ratio := promo.Div(base).Mul(hundred)
	return int(hundred.Sub(ratio).Round(0).IntPart())
}
