package promotion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Reader is the read-only view of the promotion collection.
type Reader interface {
	// ListActivePromotions returns promotions flagged active, optionally
	// filtered by kind.
	ListActivePromotions(ctx context.Context, kind *Kind) ([]Promotion, error)
	// FindPromotionsByCode returns active promotions whose code matches exactly.
	FindPromotionsByCode(ctx context.Context, code string) ([]Promotion, error)
}

// Resolver selects the promotions that apply at a given instant.
type Resolver struct {
	Reader Reader
	Now    func() time.Time
	Logger zerolog.Logger
}

// Announcement is a banner entry for active general promotions and announcements.
type Announcement struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Kind     Kind   `json:"type"`
	Scope    Scope  `json:"appliesTo,omitempty"`
	Percent  int    `json:"percent,omitempty"`
	DaysLeft *int   `json:"daysLeft,omitempty"`
}

func (r *Resolver) now() time.Time {
	if r != nil && r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// ActivePromotions returns active promotions of the given kind (all kinds when
// nil) whose validity window contains now.
func (r *Resolver) ActivePromotions(ctx context.Context, kind *Kind, now time.Time) ([]Promotion, error) {
	if r == nil || r.Reader == nil {
		return nil, errors.New("promotion resolver not configured")
	}
	rows, err := r.Reader.ListActivePromotions(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("list active promotions: %w", err)
	}
	out := make([]Promotion, 0, len(rows))
	for _, p := range rows {
		if kind != nil && p.Kind != *kind {
			continue
		}
		if !p.Applicable(now) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// GeneralFor resolves the general promotion applying to scope right now.
func (r *Resolver) GeneralFor(ctx context.Context, scope Scope) (*Promotion, error) {
	kind := KindGeneral
	promos, err := r.ActivePromotions(ctx, &kind, r.now())
	if err != nil {
		return nil, err
	}
	applicable := ResolveApplicable(promos, scope)
	if applicable != nil && len(promos) > 1 {
		r.Logger.Debug().Str("scope", string(scope)).Int("candidates", len(promos)).Str("promotion_id", applicable.ID).Msg("several general promotions active, first match used")
	}
	return applicable, nil
}

// ResolveByCode returns the code promotion matching code, or nil when none
// applies at now. Only transport failures are returned as errors.
func (r *Resolver) ResolveByCode(ctx context.Context, code string, now time.Time) (*Promotion, error) {
	if r == nil || r.Reader == nil {
		return nil, errors.New("promotion resolver not configured")
	}
	code = NormaliseCode(code)
	if code == "" {
		return nil, nil
	}
	rows, err := r.Reader.FindPromotionsByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("find promotion by code: %w", err)
	}
	for _, p := range rows {
		if p.Kind != KindCode || p.Code != code || !p.Applicable(now) {
			continue
		}
		if p.DiscountPercent() <= 0 {
			continue
		}
		found := p
		return &found, nil
	}
	return nil, nil
}

// Banner lists active general promotions and announcements for the promo bar.
func (r *Resolver) Banner(ctx context.Context) ([]Announcement, error) {
	now := r.now()
	promos, err := r.ActivePromotions(ctx, nil, now)
	if err != nil {
		return nil, err
	}
	out := make([]Announcement, 0, len(promos))
	for _, p := range promos {
		if p.Kind != KindGeneral && p.Kind != KindAnnounce {
			continue
		}
		a := Announcement{ID: p.ID, Title: p.Title, Kind: p.Kind}
		if p.Kind == KindGeneral {
			a.Scope = p.Scope
			a.Percent = p.DiscountPercent()
		}
		if days, ok := p.RemainingDays(now); ok {
			a.DaysLeft = &days
		}
		out = append(out, a)
	}
	return out, nil
}
