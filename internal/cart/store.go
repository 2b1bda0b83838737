package cart

import (
	"errors"
	"fmt"

	"github.com/alkahf/storefront/internal/catalog"
	"github.com/alkahf/storefront/internal/pricing"
)

// ErrNotFound indicates the line item is not in the cart.
var ErrNotFound = errors.New("cart item not found")

// ErrInvalidInput is returned when the provided payload is invalid.
var ErrInvalidInput = errors.New("invalid input")

// StockExhaustedError reports that a quantity change would exceed the
// available stock. Max is the largest quantity that can be held.
type StockExhaustedError struct {
	ProductID string
	Max       int
}

func (e *StockExhaustedError) Error() string {
	return fmt.Sprintf("stock exhausted for %s (max %d)", e.ProductID, e.Max)
}

// ErrStockExhausted matches any *StockExhaustedError via errors.Is.
var ErrStockExhausted = errors.New("stock exhausted")

// Is lets errors.Is(err, ErrStockExhausted) match.
func (e *StockExhaustedError) Is(target error) bool {
	return target == ErrStockExhausted
}

// LineItem is a product snapshot plus the requested quantity.
type LineItem struct {
	ID         string         `json:"id"`
	Kind       catalog.Kind   `json:"kind"`
	Title      string         `json:"title"`
	Images     []string       `json:"images,omitempty"`
	Price      pricing.Money  `json:"price"`
	PromoPrice *pricing.Money `json:"promoPrice,omitempty"`
	Stock      int            `json:"stock"`
	Language   string         `json:"language,omitempty"`
	Edition    string         `json:"edition,omitempty"`
	Quantity   int            `json:"quantity"`
}

// Snapshot copies the fields a line item keeps from p.
func Snapshot(p catalog.Product, qty int) LineItem {
	return LineItem{
		ID:         p.ID,
		Kind:       p.Kind,
		Title:      p.Title,
		Images:     append([]string(nil), p.Images...),
		Price:      p.Price,
		PromoPrice: p.PromoPrice,
		Stock:      p.Stock,
		Language:   p.Language,
		Edition:    p.Edition,
		Quantity:   qty,
	}
}

func (li LineItem) BasePrice() pricing.Money         { return li.Price }
func (li LineItem) PromotionalPrice() *pricing.Money { return li.PromoPrice }

// PricingItem converts the line for the pricing engine.
func (li LineItem) PricingItem() pricing.Item {
	return pricing.ItemOf(li, li.Quantity)
}

// Store is the ordered set of line items of one browsing session, keyed by
// product id. It is not safe for concurrent use; callers serialise access per
// session.
type Store struct {
	items []LineItem
}

// NewStore wraps previously persisted items.
func NewStore(items []LineItem) *Store {
	return &Store{items: append([]LineItem(nil), items...)}
}

func (s *Store) index(id string) int {
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}

// Add puts p in the cart. An existing line is set to qty when override is true
// and increased by qty otherwise. The resulting quantity is at least 1 and is
// truncated to the product stock. Products without stock are rejected.
func (s *Store) Add(p catalog.Product, qty int, override bool) error {
	if p.ID == "" {
		return fmt.Errorf("product id is required: %w", ErrInvalidInput)
	}
	if p.Stock <= 0 {
		return &StockExhaustedError{ProductID: p.ID, Max: 0}
	}
	if qty < 1 {
		qty = 1
	}
	idx := s.index(p.ID)
	if idx < 0 {
		s.items = append(s.items, Snapshot(p, min(qty, p.Stock)))
		return nil
	}
	next := qty
	if !override {
		next = s.items[idx].Quantity + qty
	}
	s.items[idx] = Snapshot(p, min(next, p.Stock))
	return nil
}

// Remove deletes the line for id. Missing ids are ignored.
func (s *Store) Remove(id string) {
	idx := s.index(id)
	if idx < 0 {
		return
	}
	s.items = append(s.items[:idx], s.items[idx+1:]...)
}

// SetQuantity sets the quantity of id to max(1, qty). Stock is not checked.
func (s *Store) SetQuantity(id string, qty int) error {
	idx := s.index(id)
	if idx < 0 {
		return ErrNotFound
	}
	s.items[idx].Quantity = max(1, qty)
	return nil
}

// Increment adds one unit unless that would exceed the snapshotted stock.
func (s *Store) Increment(id string) error {
	idx := s.index(id)
	if idx < 0 {
		return ErrNotFound
	}
	it := &s.items[idx]
	if it.Quantity+1 > it.Stock {
		return &StockExhaustedError{ProductID: id, Max: it.Stock}
	}
	it.Quantity++
	return nil
}

// Decrement removes one unit. A line at quantity 1 is left unchanged.
func (s *Store) Decrement(id string) error {
	idx := s.index(id)
	if idx < 0 {
		return ErrNotFound
	}
	if s.items[idx].Quantity > 1 {
		s.items[idx].Quantity--
	}
	return nil
}

// Clear empties the cart.
func (s *Store) Clear() {
	s.items = nil
}

// Items returns a copy of the line items in insertion order.
func (s *Store) Items() []LineItem {
	return append([]LineItem(nil), s.items...)
}

// Empty reports whether the cart holds no lines.
func (s *Store) Empty() bool {
	return len(s.items) == 0
}

// ItemCount is the sum of quantities.
func (s *Store) ItemCount() int {
	n := 0
	for _, it := range s.items {
		n += it.Quantity
	}
	return n
}

// PricingItems converts the lines for the pricing engine.
func (s *Store) PricingItems() []pricing.Item {
	out := make([]pricing.Item, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it.PricingItem())
	}
	return out
}

// Subtotal is the tax-exclusive total.
func (s *Store) Subtotal() pricing.Money {
	return pricing.Subtotal(s.PricingItems())
}

// SubtotalWithTax is the tax-inclusive total under calc.
func (s *Store) SubtotalWithTax(calc pricing.Calculator) pricing.Money {
	return calc.SubtotalWithTax(s.PricingItems())
}
