package order

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/alkahf/storefront/internal/events"
)

// Filter narrows the admin order listing.
type Filter struct {
	Status *FulfillmentStatus
	Limit  int
	Offset int
}

// Repository is the order persistence used by the admin service.
type Repository interface {
	ListOrders(ctx context.Context, f Filter) ([]Order, int, error)
	GetOrder(ctx context.Context, id string) (Order, error)
	UpdateFulfillmentStatus(ctx context.Context, id string, status FulfillmentStatus, at time.Time) (Order, error)
}

// Service implements the administrator order operations.
type Service struct {
	Repo   Repository
	Events *events.Bus
	Now    func() time.Time
	Logger zerolog.Logger
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// List returns orders newest first together with the unpaginated total.
func (s *Service) List(ctx context.Context, f Filter) ([]Order, int, error) {
	if s == nil || s.Repo == nil {
		return nil, 0, errors.New("order: repository not configured")
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.Repo.ListOrders(ctx, f)
}

// Get returns a single order.
func (s *Service) Get(ctx context.Context, id string) (Order, error) {
	if s == nil || s.Repo == nil {
		return Order{}, errors.New("order: repository not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Order{}, ErrNotFound
	}
	return s.Repo.GetOrder(ctx, id)
}

// SetFulfillmentStatus moves an order to status. Setting the current status
// again is a no-op and emits nothing.
func (s *Service) SetFulfillmentStatus(ctx context.Context, id string, status FulfillmentStatus, actor string) (Order, error) {
	if _, err := ParseFulfillmentStatus(string(status)); err != nil {
		return Order{}, err
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if current.FulfillmentStatus == status {
		return current, nil
	}
	updated, err := s.Repo.UpdateFulfillmentStatus(ctx, current.ID, status, s.now())
	if err != nil {
		return Order{}, err
	}
	s.Logger.Info().
		Str("order_id", updated.ID).
		Str("from", string(current.FulfillmentStatus)).
		Str("to", string(status)).
		Str("actor", actor).
		Msg("order fulfillment status changed")
	if s.Events != nil {
		payload := map[string]string{
			"orderId": updated.ID,
			"from":    string(current.FulfillmentStatus),
			"to":      string(status),
			"actor":   actor,
		}
		if _, err := s.Events.Emit(ctx, events.TopicOrderStatus, updated.ID, payload); err != nil {
			s.Logger.Warn().Err(err).Str("order_id", updated.ID).Msg("emit fulfillment event failed")
		}
	}
	return updated, nil
}
