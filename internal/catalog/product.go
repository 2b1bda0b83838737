package catalog

import (
	"strings"

	"github.com/alkahf/storefront/internal/pricing"
	"github.com/alkahf/storefront/internal/promotion"
)

// Kind tags the product variant.
type Kind string

const (
	KindBook Kind = "book"
	KindPack Kind = "pack"
)

// ParseKind accepts singular or plural forms ("book", "books").
func ParseKind(value string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "book", "books":
		return KindBook, true
	case "pack", "packs":
		return KindPack, true
	}
	return "", false
}

// Collection is the document collection holding products of this kind.
func (k Kind) Collection() string {
	return string(k) + "s"
}

// Scope is the promotion scope matching this kind.
func (k Kind) Scope() promotion.Scope {
	if k == KindPack {
		return promotion.ScopePacks
	}
	return promotion.ScopeBooks
}

// BookInfo holds fields only books carry.
type BookInfo struct {
	Author      string `json:"author,omitempty"`
	Description string `json:"description,omitempty"`
}

// PackInfo holds fields only packs carry.
type PackInfo struct {
	IncludedBooks []string `json:"includedBooks"`
	Description   string   `json:"description,omitempty"`
}

// Product is a book or a pack. Exactly one of Book and Pack is set, matching Kind.
type Product struct {
	ID         string         `json:"id"`
	Kind       Kind           `json:"kind"`
	Title      string         `json:"title"`
	Images     []string       `json:"images"`
	Price      pricing.Money  `json:"price"`
	PromoPrice *pricing.Money `json:"promoPrice,omitempty"`
	Stock      int            `json:"stock"`
	Language   string         `json:"language,omitempty"`
	Edition    string         `json:"edition,omitempty"`
	Category   string         `json:"category,omitempty"`
	Book       *BookInfo      `json:"book,omitempty"`
	Pack       *PackInfo      `json:"pack,omitempty"`
}

var _ pricing.Priced = Product{}

// BasePrice implements pricing.Priced.
func (p Product) BasePrice() pricing.Money { return p.Price }

// PromotionalPrice implements pricing.Priced.
func (p Product) PromotionalPrice() *pricing.Money { return p.PromoPrice }

// InStock reports whether at least one unit is available.
func (p Product) InStock() bool {
	return p.Stock > 0
}

// WithPromotion returns a copy whose promo price is the base price discounted
// by promo. A nil promo keeps the stored promo price.
func (p Product) WithPromotion(promo *promotion.Promotion) Product {
	if promo == nil || promo.DiscountPercent() <= 0 {
		return p
	}
	discounted := promotion.ApplyDiscount(p.Price, promo)
	p.PromoPrice = &discounted
	return p
}
