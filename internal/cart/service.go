package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/alkahf/storefront/internal/catalog"
	"github.com/alkahf/storefront/internal/pricing"
)

// ProductSource returns the current product snapshot, promotion applied.
type ProductSource interface {
	PricedProduct(ctx context.Context, kind catalog.Kind, id string) (catalog.Product, error)
}

// SessionLocker serialises mutations of one browsing session.
type SessionLocker interface {
	WithSession(ctx context.Context, sessionID string, fn func(context.Context) error) error
}

// Service encapsulates cart operations for a browsing session.
type Service struct {
	Products   ProductSource
	Sessions   SessionRepository
	Locker     SessionLocker
	Calculator pricing.Calculator
	Logger     zerolog.Logger
}

// LineView is a line item with its display prices.
type LineView struct {
	LineItem
	UnitPriceWithTax pricing.Money `json:"unitPriceWithTax"`
	LineTotal        pricing.Money `json:"lineTotal"`
	HasDiscount      bool          `json:"hasDiscount"`
}

// View is the cart as rendered to the buyer. Totals are recomputed on every read.
type View struct {
	Items           []LineView      `json:"items"`
	ItemCount       int             `json:"itemCount"`
	Subtotal        pricing.Money   `json:"subtotal"`
	SubtotalWithTax pricing.Money   `json:"subtotalWithTax"`
	Totals          pricing.Summary `json:"totals"`
}

func (s *Service) calc() pricing.Calculator {
	if s.Calculator.TaxRatePercent == 0 && len(s.Calculator.Shipping) == 0 {
		return pricing.NewCalculator()
	}
	return s.Calculator
}

func (s *Service) configured() error {
	if s == nil || s.Sessions == nil {
		return errors.New("cart service not configured")
	}
	return nil
}

// Load returns the session cart without taking the session lock. Callers that
// already hold the lock use it.
func (s *Service) Load(ctx context.Context, sessionID string) (*Store, error) {
	if err := s.configured(); err != nil {
		return nil, err
	}
	items, err := s.Sessions.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return NewStore(items), nil
}

// View renders the current cart of sessionID.
func (s *Service) View(ctx context.Context, sessionID string) (View, error) {
	store, err := s.Load(ctx, sessionID)
	if err != nil {
		return View{}, err
	}
	return s.render(store), nil
}

// Add puts a product in the cart. See Store.Add for quantity rules.
func (s *Service) Add(ctx context.Context, sessionID string, kind catalog.Kind, productID string, qty int, override bool) (View, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return View{}, fmt.Errorf("product id is required: %w", ErrInvalidInput)
	}
	if s.Products == nil {
		return View{}, errors.New("cart product source not configured")
	}
	product, err := s.Products.PricedProduct(ctx, kind, productID)
	if err != nil {
		return View{}, err
	}
	return s.mutate(ctx, sessionID, func(st *Store) error {
		return st.Add(product, qty, override)
	})
}

// SetQuantity sets a line quantity, never below 1. A quantity above the
// snapshotted stock is rejected and the cart is left unchanged.
func (s *Service) SetQuantity(ctx context.Context, sessionID, productID string, qty int) (View, error) {
	return s.mutate(ctx, sessionID, func(st *Store) error {
		idx := st.index(productID)
		if idx < 0 {
			return ErrNotFound
		}
		if stock := st.items[idx].Stock; qty > stock {
			return &StockExhaustedError{ProductID: productID, Max: stock}
		}
		return st.SetQuantity(productID, qty)
	})
}

// Increment adds one unit within stock.
func (s *Service) Increment(ctx context.Context, sessionID, productID string) (View, error) {
	return s.mutate(ctx, sessionID, func(st *Store) error { return st.Increment(productID) })
}

// Decrement removes one unit, keeping at least one.
func (s *Service) Decrement(ctx context.Context, sessionID, productID string) (View, error) {
	return s.mutate(ctx, sessionID, func(st *Store) error { return st.Decrement(productID) })
}

// Remove drops a line.
func (s *Service) Remove(ctx context.Context, sessionID, productID string) (View, error) {
	return s.mutate(ctx, sessionID, func(st *Store) error {
		st.Remove(productID)
		return nil
	})
}

func (s *Service) mutate(ctx context.Context, sessionID string, fn func(*Store) error) (View, error) {
	if err := s.configured(); err != nil {
		return View{}, err
	}
	var view View
	run := func(ctx context.Context) error {
		store, err := s.Load(ctx, sessionID)
		if err != nil {
			return err
		}
		if err := fn(store); err != nil {
			return err
		}
		if err := s.Sessions.Save(ctx, sessionID, store.Items()); err != nil {
			s.Logger.Error().Err(err).Str("session_id", sessionID).Msg("cart save failed")
			return err
		}
		view = s.render(store)
		return nil
	}
	var err error
	if s.Locker != nil {
		err = s.Locker.WithSession(ctx, sessionID, run)
	} else {
		err = run(ctx)
	}
	if err != nil {
		return View{}, err
	}
	return view, nil
}

func (s *Service) render(store *Store) View {
	calc := s.calc()
	items := store.Items()
	lines := make([]LineView, 0, len(items))
	for _, it := range items {
		unit := calc.PriceWithTax(it.PricingItem().Unit())
		lines = append(lines, LineView{
			LineItem:         it,
			UnitPriceWithTax: unit,
			LineTotal:        pricing.Round2(unit.Mul(decimal.NewFromInt(int64(it.Quantity)))),
			HasDiscount:      pricing.HasDiscount(it.Price, it.PromoPrice),
		})
	}
	return View{
		Items:           lines,
		ItemCount:       store.ItemCount(),
		Subtotal:        store.Subtotal(),
		SubtotalWithTax: store.SubtotalWithTax(calc),
		Totals:          calc.Compute(store.PricingItems(), 0),
	}
}
