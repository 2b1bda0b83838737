package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alkahf/storefront/internal/docstore"
	"github.com/alkahf/storefront/internal/order"
)

const ordersCollection = "orders"

// OrderRepo persists orders. Creating an order decrements product stock in
// the same transaction.
type OrderRepo struct {
	Docs *docstore.Store
}

// CreateOrder implements the checkout order writer. Writing an order id that
// already exists returns that id without touching stock again.
func (r OrderRepo) CreateOrder(ctx context.Context, ord order.Order) (string, error) {
	if ord.ID == "" {
		return "", errors.New("order id is required")
	}
	err := r.Docs.InTx(ctx, func(tx *docstore.Store) error {
		inserted, err := tx.Insert(ctx, ordersCollection, ord.ID, ord)
		if err != nil || !inserted {
			return err
		}
		for _, line := range ord.Items {
			err := tx.Decrement(ctx, line.Kind.Collection(), line.ProductID, "stock", line.Quantity)
			if errors.Is(err, docstore.ErrNotFound) {
				// product deleted since it was added; the sale stands
				continue
			}
			if err != nil {
				return fmt.Errorf("decrement stock %s: %w", line.ProductID, err)
			}
		}
		return nil
	})
	if err != nil {
		return "", storageErr("create order", err)
	}
	return ord.ID, nil
}

// ListOrders implements order.Repository, newest first.
func (r OrderRepo) ListOrders(ctx context.Context, f order.Filter) ([]order.Order, int, error) {
	var filter map[string]any
	if f.Status != nil {
		filter = map[string]any{"fulfillmentStatus": string(*f.Status)}
	}
	total, err := r.Docs.Count(ctx, ordersCollection, filter)
	if err != nil {
		return nil, 0, storageErr("count orders", err)
	}
	docs, err := r.Docs.Find(ctx, ordersCollection, filter, docstore.FindOptions{Desc: true, Limit: f.Limit, Offset: f.Offset})
	if err != nil {
		return nil, 0, storageErr("list orders", err)
	}
	out := make([]order.Order, 0, len(docs))
	for _, d := range docs {
		var o order.Order
		if err := d.Decode(&o); err != nil {
			return nil, 0, storageErr("decode order", err)
		}
		out = append(out, o)
	}
	return out, total, nil
}

// GetOrder implements order.Repository.
func (r OrderRepo) GetOrder(ctx context.Context, id string) (order.Order, error) {
	d, err := r.Docs.Get(ctx, ordersCollection, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return order.Order{}, order.ErrNotFound
	}
	if err != nil {
		return order.Order{}, storageErr("get order", err)
	}
	var o order.Order
	if err := d.Decode(&o); err != nil {
		return order.Order{}, storageErr("decode order", err)
	}
	return o, nil
}

// UpdateFulfillmentStatus implements order.Repository. Only the fulfillment
// status and update time change.
func (r OrderRepo) UpdateFulfillmentStatus(ctx context.Context, id string, status order.FulfillmentStatus, at time.Time) (order.Order, error) {
	d, err := r.Docs.Merge(ctx, ordersCollection, id, map[string]any{
		"fulfillmentStatus": status,
		"updatedAt":         at.UTC(),
	})
	if errors.Is(err, docstore.ErrNotFound) {
		return order.Order{}, order.ErrNotFound
	}
	if err != nil {
		return order.Order{}, storageErr("update order status", err)
	}
	var o order.Order
	if err := d.Decode(&o); err != nil {
		return order.Order{}, storageErr("decode order", err)
	}
	return o, nil
}
