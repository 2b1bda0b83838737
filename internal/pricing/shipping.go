package pricing

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Tier charges Fee for any positive amount strictly below Below.
type Tier struct {
	Below Money
	Fee   Money
}

// Tiers is an ascending shipping table. Amounts at or above the last
// threshold ship free.
type Tiers []Tier

// DefaultTiers mirrors the storefront table: under 50 pays 5, under 100 pays 10.
func DefaultTiers() Tiers {
	return Tiers{
		{Below: decimal.NewFromInt(50), Fee: decimal.NewFromInt(5)},
		{Below: decimal.NewFromInt(100), Fee: decimal.NewFromInt(10)},
	}
}

// Fee maps a tax-inclusive subtotal to its shipping fee.
func (t Tiers) Fee(amount Money) Money {
	if !amount.IsPositive() {
		return decimal.Zero
	}
	for _, tier := range t {
		if amount.LessThan(tier.Below) {
			return tier.Fee
		}
	}
	return decimal.Zero
}

// ParseTiers reads a table such as "50:5,100:10". An empty string yields the
// default table.
func ParseTiers(raw string) (Tiers, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultTiers(), nil
	}
	parts := strings.Split(raw, ",")
	tiers := make(Tiers, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		threshold, fee, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("shipping tier %q: expected threshold:fee", part)
		}
		below, err := decimal.NewFromString(strings.TrimSpace(threshold))
		if err != nil {
			return nil, fmt.Errorf("shipping tier %q: threshold: %w", part, err)
		}
		charge, err := decimal.NewFromString(strings.TrimSpace(fee))
		if err != nil {
			return nil, fmt.Errorf("shipping tier %q: fee: %w", part, err)
		}
		if !below.IsPositive() || charge.IsNegative() {
			return nil, fmt.Errorf("shipping tier %q: threshold must be positive and fee non-negative", part)
		}
		tiers = append(tiers, Tier{Below: below, Fee: charge})
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Below.LessThan(tiers[j].Below) })
	return tiers, nil
}
