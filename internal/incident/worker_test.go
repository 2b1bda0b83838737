package incident_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/alkahf/storefront/internal/incident"
	"github.com/alkahf/storefront/internal/order"
)

type memStore struct{ saved []incident.UnrecordedOrder }

func (m *memStore) SaveIncident(_ context.Context, inc incident.UnrecordedOrder) error {
	m.saved = append(m.saved, inc)
	return nil
}

type flakyOrders struct {
	err     error
	written []order.Order
}

func (f *flakyOrders) CreateOrder(_ context.Context, ord order.Order) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.written = append(f.written, ord)
	return ord.ID, nil
}

func newTask(t *testing.T) *asynq.Task {
	t.Helper()
	task, err := incident.NewUnrecordedOrderTask(incident.UnrecordedOrder{
		ID:         "inc-1",
		Order:      order.Order{ID: "ord-1", SessionID: "s1", Status: order.PaymentStatusPaid},
		Reason:     "connection reset",
		DetectedAt: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return task
}

func TestNewUnrecordedOrderTask(t *testing.T) {
	task := newTask(t)
	require.Equal(t, incident.TypeUnrecordedOrder, task.Type())
	var decoded incident.UnrecordedOrder
	require.NoError(t, json.Unmarshal(task.Payload(), &decoded))
	require.Equal(t, "ord-1", decoded.Order.ID)

	_, err := incident.NewUnrecordedOrderTask(incident.UnrecordedOrder{})
	require.Error(t, err)
}

func TestHandlerWritesOrderAndResolves(t *testing.T) {
	store := &memStore{}
	orders := &flakyOrders{}
	fixed := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	h := &incident.Handler{Store: store, Orders: orders, Now: func() time.Time { return fixed }}

	require.NoError(t, h.ProcessTask(context.Background(), newTask(t)))
	require.Len(t, orders.written, 1)
	require.Len(t, store.saved, 2)
	require.False(t, store.saved[0].Resolved)
	require.True(t, store.saved[1].Resolved)
	require.Equal(t, fixed, *store.saved[1].ResolvedAt)
}

func TestHandlerRetriesWhileStorageDown(t *testing.T) {
	store := &memStore{}
	h := &incident.Handler{Store: store, Orders: &flakyOrders{err: errors.New("db down")}}
	require.Error(t, h.ProcessTask(context.Background(), newTask(t)))
	require.Len(t, store.saved, 1)
}

func TestHandlerSkipsRetryOnBadPayload(t *testing.T) {
	h := &incident.Handler{}
	err := h.ProcessTask(context.Background(), asynq.NewTask(incident.TypeUnrecordedOrder, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}
