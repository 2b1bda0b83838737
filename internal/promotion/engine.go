package promotion

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alkahf/storefront/internal/pricing"
)

var (
	// ErrInvalidCode is returned when a promo code does not resolve to an applicable code promotion.
	ErrInvalidCode = errors.New("promotion: invalid code")
	// ErrInvalidPercent indicates a stored discount is not an integer percentage in 1..100.
	ErrInvalidPercent = errors.New("promotion: invalid percentage")
)

// Kind distinguishes how a promotion is applied.
type Kind string

const (
	KindGeneral  Kind = "general"
	KindCode     Kind = "code"
	KindAnnounce Kind = "announce"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindGeneral, KindCode, KindAnnounce:
		return true
	}
	return false
}

// Scope restricts which products a promotion targets.
type Scope string

const (
	ScopeAll   Scope = "all"
	ScopeBooks Scope = "books"
	ScopePacks Scope = "packs"
)

// Promotion is a storefront promotion record.
type Promotion struct {
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Kind     Kind       `json:"type"`
	Scope    Scope      `json:"appliesTo"`
	Percent  *int       `json:"amount,omitempty"`
	Code     string     `json:"code,omitempty"`
	StartsAt *time.Time `json:"startDate,omitempty"`
	EndsAt   *time.Time `json:"endDate,omitempty"`
	Active   bool       `json:"active"`
}

// InWindow reports whether now falls inside the optional validity window.
// Either bound may be open.
func (p Promotion) InWindow(now time.Time) bool {
	if p.StartsAt != nil && now.Before(*p.StartsAt) {
		return false
	}
	if p.EndsAt != nil && now.After(*p.EndsAt) {
		return false
	}
	return true
}

// Applicable reports whether the promotion is active and within its window.
func (p Promotion) Applicable(now time.Time) bool {
	return p.Active && p.InWindow(now)
}

// DiscountPercent returns the percentage or 0 for announcements and records
// without a discount.
func (p Promotion) DiscountPercent() int {
	if p.Kind == KindAnnounce || p.Percent == nil {
		return 0
	}
	return *p.Percent
}

// RemainingDays returns the whole days left before EndsAt, rounded up and
// floored at zero. ok is false for open-ended promotions.
func (p Promotion) RemainingDays(now time.Time) (days int, ok bool) {
	if p.EndsAt == nil {
		return 0, false
	}
	left := p.EndsAt.Sub(now)
	if left <= 0 {
		return 0, true
	}
	return int(math.Ceil(left.Hours() / 24)), true
}

// ResolveApplicable returns the first promotion targeting scope or every
// product. Several general promotions may be active at once; the first match
// wins.
func ResolveApplicable(promotions []Promotion, scope Scope) *Promotion {
	for i := range promotions {
		target := promotions[i].Scope
		if target == scope || target == ScopeAll {
			p := promotions[i]
			return &p
		}
	}
	return nil
}

// ApplyDiscount returns base reduced by the promotion percentage, floored at zero.
func ApplyDiscount(base pricing.Money, p *Promotion) pricing.Money {
	if p == nil {
		return base
	}
	pct := p.DiscountPercent()
	if pct <= 0 {
		return base
	}
	factor := decimal.NewFromInt(1).Sub(decimal.NewFromInt(int64(pct)).Div(decimal.NewFromInt(100)))
	discounted := pricing.Round2(base.Mul(factor))
	if discounted.IsNegative() {
		return decimal.Zero
	}
	return discounted
}

// ValidatePercent checks that pct is a whole percentage between 1 and 100.
func ValidatePercent(pct int) error {
	if pct < 1 || pct > 100 {
		return fmt.Errorf("%w: %d", ErrInvalidPercent, pct)
	}
	return nil
}

// NormaliseCode trims the code the buyer typed. Codes compare exactly.
func NormaliseCode(code string) string {
	return strings.TrimSpace(code)
}
