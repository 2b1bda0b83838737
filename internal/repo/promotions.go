package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/alkahf/storefront/internal/docstore"
	"github.com/alkahf/storefront/internal/obs"
	"github.com/alkahf/storefront/internal/promotion"
)

const promotionsCollection = "promotions"

// promotionDoc is the stored shape of a promotion. Amount and the dates are
// decoded by hand because their representation varies.
type promotionDoc struct {
	Title     string          `json:"title"`
	Type      string          `json:"type"`
	AppliesTo string          `json:"appliesTo"`
	Amount    json.RawMessage `json:"amount"`
	Code      string          `json:"code"`
	StartDate string          `json:"startDate"`
	EndDate   string          `json:"endDate"`
	Active    bool            `json:"active"`
}

// PromotionRepo reads promotions from the document store. Records that fail
// validation are skipped and logged.
type PromotionRepo struct {
	Docs *docstore.Store
	// Location interprets date-only bounds. Defaults to UTC.
	Location *time.Location
	Logger   zerolog.Logger
}

// ListActivePromotions implements promotion.Reader.
func (r PromotionRepo) ListActivePromotions(ctx context.Context, kind *promotion.Kind) ([]promotion.Promotion, error) {
	filter := map[string]any{"active": true}
	if kind != nil {
		filter["type"] = string(*kind)
	}
	return r.find(ctx, filter)
}

// FindPromotionsByCode implements promotion.Reader.
func (r PromotionRepo) FindPromotionsByCode(ctx context.Context, code string) ([]promotion.Promotion, error) {
	return r.find(ctx, map[string]any{"active": true, "code": code})
}

func (r PromotionRepo) find(ctx context.Context, filter map[string]any) ([]promotion.Promotion, error) {
	docs, err := r.Docs.Find(ctx, promotionsCollection, filter, docstore.FindOptions{})
	if err != nil {
		return nil, storageErr("list promotions", err)
	}
	out := make([]promotion.Promotion, 0, len(docs))
	for _, d := range docs {
		p, err := DecodePromotion(d.ID, d.Data, r.Location)
		if err != nil {
			if obs.PromotionDecodeSkippedTotal != nil {
				obs.PromotionDecodeSkippedTotal.Inc()
			}
			r.Logger.Warn().Err(err).Str("promotion_id", d.ID).Msg("skipping invalid promotion")
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// DecodePromotion converts a stored promotion. General and code promotions
// need a whole percentage in 1..100 stored as a number; anything else fails
// with promotion.ErrInvalidPercent. Date-only bounds cover whole days in loc.
func DecodePromotion(id string, raw []byte, loc *time.Location) (promotion.Promotion, error) {
	if loc == nil {
		loc = time.UTC
	}
	var doc promotionDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return promotion.Promotion{}, fmt.Errorf("promotion %s: %w", id, err)
	}
	p := promotion.Promotion{
		ID:     id,
		Title:  doc.Title,
		Kind:   promotion.Kind(strings.ToLower(strings.TrimSpace(doc.Type))),
		Scope:  promotion.Scope(strings.ToLower(strings.TrimSpace(doc.AppliesTo))),
		Code:   promotion.NormaliseCode(doc.Code),
		Active: doc.Active,
	}
	if !p.Kind.Valid() {
		return promotion.Promotion{}, fmt.Errorf("promotion %s: unknown type %q", id, doc.Type)
	}
	if p.Kind != promotion.KindAnnounce {
		switch p.Scope {
		case "":
			p.Scope = promotion.ScopeAll
		case promotion.ScopeAll, promotion.ScopeBooks, promotion.ScopePacks:
		default:
			return promotion.Promotion{}, fmt.Errorf("promotion %s: unknown scope %q", id, doc.AppliesTo)
		}
		pct, err := decodePercent(doc.Amount)
		if err != nil {
			return promotion.Promotion{}, fmt.Errorf("promotion %s: %w", id, err)
		}
		p.Percent = &pct
	} else {
		p.Scope = ""
	}
	if p.Kind == promotion.KindCode && p.Code == "" {
		return promotion.Promotion{}, fmt.Errorf("promotion %s: code promotion without code", id)
	}
	var err error
	if p.StartsAt, err = parseBound(doc.StartDate, loc, false); err != nil {
		return promotion.Promotion{}, fmt.Errorf("promotion %s: startDate: %w", id, err)
	}
	if p.EndsAt, err = parseBound(doc.EndDate, loc, true); err != nil {
		return promotion.Promotion{}, fmt.Errorf("promotion %s: endDate: %w", id, err)
	}
	return p, nil
}

func decodePercent(raw json.RawMessage) (int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || raw[0] == '"' {
		return 0, promotion.ErrInvalidPercent
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, promotion.ErrInvalidPercent
	}
	pct, err := n.Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %s", promotion.ErrInvalidPercent, n)
	}
	if err := promotion.ValidatePercent(int(pct)); err != nil {
		return 0, err
	}
	return int(pct), nil
}

// parseBound accepts RFC 3339 timestamps or YYYY-MM-DD dates. A date-only end
// bound extends to the last instant of that day.
func parseBound(value string, loc *time.Location, end bool) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, nil
	}
	day, err := time.ParseInLocation(time.DateOnly, value, loc)
	if err != nil {
		return nil, err
	}
	if end {
		day = day.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return &day, nil
}
