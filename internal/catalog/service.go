package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/alkahf/storefront/internal/common"
	"github.com/alkahf/storefront/internal/pricing"
	"github.com/alkahf/storefront/internal/promotion"
)

// ErrNotFound indicates the requested product does not exist.
var ErrNotFound = errors.New("catalog: product not found")

// Reader is the product side of the document store.
type Reader interface {
	ListProducts(ctx context.Context, kind Kind, category string) ([]Product, error)
	GetProduct(ctx context.Context, kind Kind, id string) (Product, error)
}

// PromotionSource resolves the general promotion for a scope.
type PromotionSource interface {
	GeneralFor(ctx context.Context, scope promotion.Scope) (*promotion.Promotion, error)
}

// Service orchestrates product reads, promotion pricing and caching.
type Service struct {
	reader     Reader
	promotions PromotionSource
	cache      *Cache
	calc       pricing.Calculator
	logger     zerolog.Logger
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Reader     Reader
	Promotions PromotionSource
	Cache      *Cache
	Calculator pricing.Calculator
	Logger     zerolog.Logger
}

// ProductView is a product priced for display.
type ProductView struct {
	Product
	PriceWithTax      pricing.Money  `json:"priceWithTax"`
	PromoPriceWithTax *pricing.Money `json:"promoPriceWithTax,omitempty"`
	DiscountPercent   int            `json:"discountPercent"`
	InStock           bool           `json:"inStock"`
	PromotionID       string         `json:"promotionId,omitempty"`
}

// NewService constructs a Service instance.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Reader == nil {
		return nil, errors.New("catalog: product reader is required")
	}
	calc := cfg.Calculator
	if calc.TaxRatePercent == 0 && len(calc.Shipping) == 0 {
		calc = pricing.NewCalculator()
	}
	return &Service{
		reader:     cfg.Reader,
		promotions: cfg.Promotions,
		cache:      cfg.Cache,
		calc:       calc,
		logger:     cfg.Logger,
	}, nil
}

// ListProducts returns every product of kind (optionally within category)
// with the applicable general promotion priced in.
func (s *Service) ListProducts(ctx context.Context, kind Kind, category string) ([]ProductView, error) {
	var rows []Product
	key := listKey(kind, category)
	hit, err := s.cache.GetJSON(ctx, key, &rows)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("catalog cache read failed")
	}
	if !hit {
		rows, err = s.reader.ListProducts(ctx, kind, category)
		if err != nil {
			return nil, storageError("list products", err)
		}
		if err := s.cache.SetJSON(ctx, key, rows); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("catalog cache write failed")
		}
	}
	promo, err := s.generalPromotion(ctx, kind)
	if err != nil {
		return nil, err
	}
	out := make([]ProductView, 0, len(rows))
	for _, p := range rows {
		out = append(out, s.view(p.WithPromotion(promo), promo))
	}
	return out, nil
}

// GetProduct returns a single product priced for display.
func (s *Service) GetProduct(ctx context.Context, kind Kind, id string) (ProductView, error) {
	p, promo, err := s.priced(ctx, kind, id)
	if err != nil {
		return ProductView{}, err
	}
	return s.view(p, promo), nil
}

// PricedProduct returns the product with the general promotion applied to its
// promo price. This is the snapshot the cart stores.
func (s *Service) PricedProduct(ctx context.Context, kind Kind, id string) (Product, error) {
	p, _, err := s.priced(ctx, kind, id)
	return p, err
}

// CurrentStock reads live stock, bypassing the cache.
func (s *Service) CurrentStock(ctx context.Context, kind Kind, id string) (int, error) {
	p, err := s.reader.GetProduct(ctx, kind, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, err
		}
		return 0, storageError("get product", err)
	}
	return p.Stock, nil
}

func (s *Service) priced(ctx context.Context, kind Kind, id string) (Product, *promotion.Promotion, error) {
	var p Product
	key := productKey(kind, id)
	hit, err := s.cache.GetJSON(ctx, key, &p)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("catalog cache read failed")
	}
	if !hit {
		p, err = s.reader.GetProduct(ctx, kind, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return Product{}, nil, common.NewAppError("NOT_FOUND", "product not found", http.StatusNotFound, err)
			}
			return Product{}, nil, storageError("get product", err)
		}
		if err := s.cache.SetJSON(ctx, key, p); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("catalog cache write failed")
		}
	}
	promo, err := s.generalPromotion(ctx, kind)
	if err != nil {
		return Product{}, nil, err
	}
	return p.WithPromotion(promo), promo, nil
}

func (s *Service) generalPromotion(ctx context.Context, kind Kind) (*promotion.Promotion, error) {
	if s.promotions == nil {
		return nil, nil
	}
	promo, err := s.promotions.GeneralFor(ctx, kind.Scope())
	if err != nil {
		return nil, storageError("resolve general promotion", err)
	}
	return promo, nil
}

func (s *Service) view(p Product, promo *promotion.Promotion) ProductView {
	v := ProductView{
		Product:         p,
		PriceWithTax:    s.calc.PriceWithTax(p.Price),
		DiscountPercent: pricing.DiscountBadge(p.Price, p.PromoPrice),
		InStock:         p.InStock(),
	}
	if pricing.HasDiscount(p.Price, p.PromoPrice) {
		withTax := s.calc.PriceWithTax(*p.PromoPrice)
		v.PromoPriceWithTax = &withTax
	}
	if promo != nil && promo.DiscountPercent() > 0 {
		v.PromotionID = promo.ID
	}
	return v
}

func storageError(op string, err error) error {
	return common.NewAppError("STORAGE_UNAVAILABLE", "catalog temporarily unavailable, please retry", http.StatusServiceUnavailable, fmt.Errorf("%s: %w", op, err))
}
