package order_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/alkahf/storefront/internal/events"
	"github.com/alkahf/storefront/internal/order"
)

type memRepo struct {
	orders map[string]order.Order
	err    error
}

func (m *memRepo) ListOrders(_ context.Context, f order.Filter) ([]order.Order, int, error) {
	if m.err != nil {
		return nil, 0, m.err
	}
	var out []order.Order
	for _, o := range m.orders {
		if f.Status != nil && o.FulfillmentStatus != *f.Status {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	if f.Offset >= len(out) {
		return nil, total, nil
	}
	out = out[f.Offset:]
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, total, nil
}

func (m *memRepo) GetOrder(_ context.Context, id string) (order.Order, error) {
	if m.err != nil {
		return order.Order{}, m.err
	}
	o, ok := m.orders[id]
	if !ok {
		return order.Order{}, order.ErrNotFound
	}
	return o, nil
}

func (m *memRepo) UpdateFulfillmentStatus(_ context.Context, id string, status order.FulfillmentStatus, at time.Time) (order.Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return order.Order{}, order.ErrNotFound
	}
	o.FulfillmentStatus = status
	o.UpdatedAt = at
	m.orders[id] = o
	return o, nil
}

type eventLog struct{ events []events.Event }

func (e *eventLog) InsertEvent(_ context.Context, ev events.Event) error {
	e.events = append(e.events, ev)
	return nil
}

func seed() *memRepo {
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	return &memRepo{orders: map[string]order.Order{
		"o1": {ID: "o1", FulfillmentStatus: order.FulfillmentPending, Status: order.PaymentStatusPaid, CreatedAt: base},
		"o2": {ID: "o2", FulfillmentStatus: order.FulfillmentConfirmed, Status: order.PaymentStatusPaid, CreatedAt: base.Add(time.Hour)},
		"o3": {ID: "o3", FulfillmentStatus: order.FulfillmentPending, Status: order.PaymentStatusPaid, CreatedAt: base.Add(2 * time.Hour)},
	}}
}

func router(svc *order.Service) http.Handler {
	r := chi.NewRouter()
	r.Route("/admin/orders", (&order.AdminHandler{Svc: svc}).Routes)
	return r
}

func TestAdminListFiltersByStatus(t *testing.T) {
	h := router(&order.Service{Repo: seed()})
	req := httptest.NewRequest(http.MethodGet, "/admin/orders?status=pending", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data       []order.Order `json:"data"`
		Pagination struct {
			TotalItems int `json:"total_items"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 2)
	require.Equal(t, "o3", body.Data[0].ID)
	require.Equal(t, 2, body.Pagination.TotalItems)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/orders?status=shipped", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminPatchStatus(t *testing.T) {
	repo := seed()
	store := &eventLog{}
	fixed := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	svc := &order.Service{Repo: repo, Events: &events.Bus{Store: store}, Now: func() time.Time { return fixed }}
	h := router(svc)

	req := httptest.NewRequest(http.MethodPatch, "/admin/orders/o1/status", strings.NewReader(`{"status":"confirmed"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, order.FulfillmentConfirmed, repo.orders["o1"].FulfillmentStatus)
	require.Equal(t, fixed, repo.orders["o1"].UpdatedAt)
	require.Len(t, store.events, 1)
	require.Equal(t, events.TopicOrderStatus, store.events[0].Topic)

	// same status again does nothing
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/admin/orders/o1/status", strings.NewReader(`{"status":"confirmed"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, store.events, 1)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/admin/orders/o1/status", strings.NewReader(`{"status":"lost"}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/admin/orders/missing/status", strings.NewReader(`{"status":"rejected"}`)))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminStorageFailure(t *testing.T) {
	h := router(&order.Service{Repo: &memRepo{err: errors.New("connection refused")}})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/orders/o1", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "STORAGE_UNAVAILABLE")
}

func TestBuyerValidation(t *testing.T) {
	ok := order.Buyer{Name: "Ada", Email: "ada@example.com", Address: "1 Rue", City: "Paris", Country: "FR", ZipCode: "75001"}
	require.NoError(t, ok.Validate())

	bad := order.Buyer{Name: "  ", Email: "nope"}.Normalise()
	err := bad.Validate()
	var verr *order.ValidationError
	require.ErrorAs(t, err, &verr)
	fields := map[string]string{}
	for _, f := range verr.Fields {
		fields[f.Field] = f.Rule
	}
	require.Equal(t, "required", fields["name"])
	require.Equal(t, "email", fields["email"])
	require.Equal(t, "required", fields["zipCode"])
}
