package checkout_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/alkahf/storefront/internal/cart"
	"github.com/alkahf/storefront/internal/catalog"
	"github.com/alkahf/storefront/internal/checkout"
	"github.com/alkahf/storefront/internal/events"
	"github.com/alkahf/storefront/internal/incident"
	"github.com/alkahf/storefront/internal/lock"
	"github.com/alkahf/storefront/internal/order"
	"github.com/alkahf/storefront/internal/payment"
	"github.com/alkahf/storefront/internal/promotion"
)

const sid = "0b7e4c52-3f4d-4a6b-8d2e-7f1a9c3b5e60"

type codes map[string]int

func (c codes) ResolveByCode(_ context.Context, code string, _ time.Time) (*promotion.Promotion, error) {
	pct, ok := c[code]
	if !ok {
		return nil, nil
	}
	return &promotion.Promotion{ID: "promo-" + code, Kind: promotion.KindCode, Code: code, Percent: &pct, Active: true}, nil
}

type stockTable map[string]int

func (s stockTable) CurrentStock(_ context.Context, _ catalog.Kind, id string) (int, error) {
	n, ok := s[id]
	if !ok {
		return 0, catalog.ErrNotFound
	}
	return n, nil
}

type orderBook struct {
	mu      sync.Mutex
	err     error
	written map[string]order.Order
}

func (o *orderBook) CreateOrder(_ context.Context, ord order.Order) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return "", o.err
	}
	if o.written == nil {
		o.written = map[string]order.Order{}
	}
	if _, dup := o.written[ord.ID]; !dup {
		o.written[ord.ID] = ord
	}
	return ord.ID, nil
}

type incidents struct{ raised []incident.UnrecordedOrder }

func (i *incidents) EnqueueUnrecordedOrder(_ context.Context, inc incident.UnrecordedOrder) error {
	i.raised = append(i.raised, inc)
	return nil
}

type eventLog struct{ topics []string }

func (e *eventLog) InsertEvent(_ context.Context, ev events.Event) error {
	e.topics = append(e.topics, ev.Topic)
	return nil
}

type fixture struct {
	svc       *checkout.Service
	carts     cart.RedisSessions
	provider  *payment.Mock
	orders    *orderBook
	incidents *incidents
	events    *eventLog
	stock     stockTable
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &fixture{
		carts:     cart.RedisSessions{R: client, TTL: time.Hour},
		provider:  payment.NewMock(),
		orders:    &orderBook{},
		incidents: &incidents{},
		events:    &eventLog{},
		stock:     stockTable{"b1": 5, "b2": 1},
	}
	f.svc = &checkout.Service{
		Sessions:   checkout.RedisStore{R: client, TTL: time.Hour},
		Carts:      f.carts,
		Promotions: codes{"SPRING10": 10},
		Stock:      f.stock,
		Payments:   f.provider,
		Orders:     f.orders,
		Escalator:  f.incidents,
		Locker:     lock.Locker{R: client, RetryBackoff: time.Millisecond},
		Events:     &events.Bus{Store: f.events},
		Currency:   "eur",
	}
	return f
}

func (f *fixture) fillCart(t *testing.T, items ...cart.LineItem) {
	t.Helper()
	require.NoError(t, f.carts.Save(context.Background(), sid, items))
}

func book(id string, price string, stock, qty int) cart.LineItem {
	return cart.LineItem{ID: id, Kind: catalog.KindBook, Title: "Book " + id, Price: decimal.RequireFromString(price), Stock: stock, Quantity: qty}
}

var buyer = order.Buyer{Name: "Ada Lovelace", Email: "ada@example.com", Address: "12 St James's Square", City: "London", Country: "UK", ZipCode: "SW1Y 4JH"}

func TestCheckoutHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, book("b1", "20.00", 5, 2))

	view, err := f.svc.View(ctx, sid)
	require.NoError(t, err)
	require.Equal(t, checkout.StateFilling, view.State)
	require.Equal(t, "48.4", view.Totals.Subtotal.String())
	require.Equal(t, "53.4", view.Totals.GrandTotal.String())

	_, err = f.svc.SetBuyer(ctx, sid, buyer)
	require.NoError(t, err)
	view, err = f.svc.ApplyPromoCode(ctx, sid, "SPRING10")
	require.NoError(t, err)
	require.Equal(t, "4.84", view.Totals.Discount.String())
	require.Equal(t, "48.56", view.Totals.GrandTotal.String())

	view, err = f.svc.BeginPayment(ctx, sid)
	require.NoError(t, err)
	require.Equal(t, checkout.StateAwaitingPayment, view.State)
	require.True(t, view.Frozen)
	require.NotNil(t, view.Payment)
	require.Equal(t, "48.56", view.Payment.Amount.String())
	require.Equal(t, "EUR", view.Payment.Currency)

	// a cart change after freezing does not move the payable amount
	f.fillCart(t, book("b1", "20.00", 5, 4))
	view, err = f.svc.View(ctx, sid)
	require.NoError(t, err)
	require.Equal(t, "48.56", view.Totals.GrandTotal.String())
	require.Equal(t, 2, view.ItemCount)

	// starting again returns the same intent
	again, err := f.svc.BeginPayment(ctx, sid)
	require.NoError(t, err)
	require.Equal(t, view.Payment.IntentID, again.Payment.IntentID)
	require.Len(t, f.provider.Intents, 1)

	view, err = f.svc.Capture(ctx, sid)
	require.NoError(t, err)
	require.Equal(t, checkout.StatePaid, view.State)
	require.NotEmpty(t, view.OrderID)

	ord := f.orders.written[view.OrderID]
	require.Equal(t, "48.56", ord.Total.String())
	require.Equal(t, 2, ord.Items[0].Quantity)
	require.Equal(t, "SPRING10", ord.PromoCode)
	require.Equal(t, order.PaymentStatusPaid, ord.Status)
	require.Equal(t, order.FulfillmentPending, ord.FulfillmentStatus)
	require.Equal(t, buyer, ord.Buyer)

	items, err := f.carts.Load(ctx, sid)
	require.NoError(t, err)
	require.Empty(t, items, "cart is cleared after the order is written")
	require.Contains(t, f.events.topics, events.TopicOrderPaid)
}

func TestInvalidCodeKeepsPreviousDiscount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, book("b1", "20.00", 5, 2))

	_, err := f.svc.ApplyPromoCode(ctx, sid, "SPRING10")
	require.NoError(t, err)
	_, err = f.svc.ApplyPromoCode(ctx, sid, "BOGUS")
	require.ErrorIs(t, err, checkout.ErrInvalidCode)

	view, err := f.svc.View(ctx, sid)
	require.NoError(t, err)
	require.Equal(t, "SPRING10", view.PromoCode)
	require.Equal(t, "48.56", view.Totals.GrandTotal.String())

	items, err := f.carts.Load(ctx, sid)
	require.NoError(t, err)
	require.Equal(t, 2, items[0].Quantity)
}

func TestEditsRefusedWhileFrozen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, book("b1", "20.00", 5, 1))
	_, err := f.svc.SetBuyer(ctx, sid, buyer)
	require.NoError(t, err)
	_, err = f.svc.BeginPayment(ctx, sid)
	require.NoError(t, err)

	_, err = f.svc.ApplyPromoCode(ctx, sid, "SPRING10")
	require.ErrorIs(t, err, checkout.ErrFrozen)
	_, err = f.svc.SetBuyer(ctx, sid, buyer)
	require.ErrorIs(t, err, checkout.ErrFrozen)
}

func TestBeginPaymentGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.BeginPayment(ctx, sid)
	require.ErrorIs(t, err, checkout.ErrBuyerRequired)

	_, err = f.svc.SetBuyer(ctx, sid, buyer)
	require.NoError(t, err)
	_, err = f.svc.BeginPayment(ctx, sid)
	require.ErrorIs(t, err, checkout.ErrEmptyCart)

	view, err := f.svc.View(ctx, sid)
	require.NoError(t, err)
	require.Equal(t, checkout.StateEmpty, view.State)
	require.Empty(t, f.provider.Intents)

	_, err = f.svc.SetBuyer(ctx, sid, order.Buyer{Name: "Ada"})
	var verr *order.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestBeginPaymentRevalidatesStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, book("b2", "10.00", 3, 2))
	_, err := f.svc.SetBuyer(ctx, sid, buyer)
	require.NoError(t, err)

	_, err = f.svc.BeginPayment(ctx, sid)
	var stockErr *cart.StockExhaustedError
	require.ErrorAs(t, err, &stockErr)
	require.Equal(t, "b2", stockErr.ProductID)
	require.Equal(t, 1, stockErr.Max)
	require.Empty(t, f.provider.Intents)
}

func TestDeclinedPaymentReturnsToFilling(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, book("b1", "20.00", 5, 2))
	_, err := f.svc.SetBuyer(ctx, sid, buyer)
	require.NoError(t, err)
	_, err = f.svc.ApplyPromoCode(ctx, sid, "SPRING10")
	require.NoError(t, err)
	_, err = f.svc.BeginPayment(ctx, sid)
	require.NoError(t, err)

	f.provider.FailNext(&payment.Error{Kind: payment.KindDeclined, Message: "card refused"})
	view, err := f.svc.Capture(ctx, sid)
	pe, ok := payment.AsError(err)
	require.True(t, ok)
	require.Equal(t, payment.KindDeclined, pe.Kind)
	require.Equal(t, checkout.StateFailed, view.State)
	require.False(t, view.Frozen)
	require.Equal(t, "card refused", view.LastError)
	require.Equal(t, "SPRING10", view.PromoCode)
	require.Equal(t, buyer, *view.Buyer)
	require.Empty(t, f.orders.written)
	require.Contains(t, f.events.topics, events.TopicPaymentFailed)

	items, err := f.carts.Load(ctx, sid)
	require.NoError(t, err)
	require.Len(t, items, 1)

	// the next attempt starts from the same form state
	view, err = f.svc.BeginPayment(ctx, sid)
	require.NoError(t, err)
	require.Equal(t, checkout.StateAwaitingPayment, view.State)
	require.Len(t, f.provider.Intents, 2)
}

func TestCancelPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, book("b1", "20.00", 5, 1))
	_, err := f.svc.SetBuyer(ctx, sid, buyer)
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, sid)
	require.ErrorIs(t, err, checkout.ErrNotAwaitingPayment)

	_, err = f.svc.BeginPayment(ctx, sid)
	require.NoError(t, err)
	view, err := f.svc.Cancel(ctx, sid)
	require.NoError(t, err)
	require.Equal(t, checkout.StateCancelled, view.State)
	require.Nil(t, view.Payment)
	require.Contains(t, f.events.topics, events.TopicPaymentCancelled)

	_, err = f.svc.ApplyPromoCode(ctx, sid, "SPRING10")
	require.NoError(t, err)
}

func TestOrderWriteFailureIsEscalatedAndNotRecharged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, book("b1", "20.00", 5, 2))
	_, err := f.svc.SetBuyer(ctx, sid, buyer)
	require.NoError(t, err)
	begun, err := f.svc.BeginPayment(ctx, sid)
	require.NoError(t, err)

	f.orders.err = errors.New("connection reset by peer")
	_, err = f.svc.Capture(ctx, sid)
	require.ErrorIs(t, err, checkout.ErrOrderNotRecorded)
	var unrecorded *checkout.UnrecordedError
	require.ErrorAs(t, err, &unrecorded)
	require.Len(t, f.incidents.raised, 1)
	require.Equal(t, unrecorded.OrderID, f.incidents.raised[0].Order.ID)
	require.Equal(t, "53.4", f.incidents.raised[0].Order.Total.String())
	require.Contains(t, f.events.topics, events.TopicOrderUnrecorded)

	view, err := f.svc.View(ctx, sid)
	require.NoError(t, err)
	require.Equal(t, checkout.StateAwaitingPayment, view.State)
	require.True(t, view.Payment.Captured)
	items, err := f.carts.Load(ctx, sid)
	require.NoError(t, err)
	require.Len(t, items, 1, "cart is kept until the order exists")

	_, err = f.svc.Cancel(ctx, sid)
	require.ErrorIs(t, err, checkout.ErrAlreadyCaptured)

	f.orders.err = nil
	view, err = f.svc.Capture(ctx, sid)
	require.NoError(t, err)
	require.Equal(t, checkout.StatePaid, view.State)
	require.Equal(t, unrecorded.OrderID, view.OrderID)
	require.Len(t, f.provider.Captured, 1, "payment is captured once")
	require.Equal(t, begun.Payment.IntentID, f.orders.written[view.OrderID].Payment.IntentID)
}

func TestNewPurchaseAfterPaidKeepsBuyer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, book("b1", "20.00", 5, 1))
	_, err := f.svc.SetBuyer(ctx, sid, buyer)
	require.NoError(t, err)
	_, err = f.svc.ApplyPromoCode(ctx, sid, "SPRING10")
	require.NoError(t, err)
	_, err = f.svc.BeginPayment(ctx, sid)
	require.NoError(t, err)
	_, err = f.svc.Capture(ctx, sid)
	require.NoError(t, err)

	f.fillCart(t, book("b1", "20.00", 5, 1))
	view, err := f.svc.BeginPayment(ctx, sid)
	require.NoError(t, err)
	require.Equal(t, checkout.StateAwaitingPayment, view.State)
	require.Empty(t, view.PromoCode)
	require.Equal(t, buyer, *view.Buyer)
	require.Equal(t, "29.2", view.Totals.GrandTotal.String())
}

func TestOnPaymentSuccessRecordsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, book("b1", "20.00", 5, 1))
	_, err := f.svc.SetBuyer(ctx, sid, buyer)
	require.NoError(t, err)

	_, err = f.svc.OnPaymentSuccess(ctx, sid, payment.Confirmation{Provider: "mock", CaptureID: "cap-early"})
	require.ErrorIs(t, err, checkout.ErrNotAwaitingPayment)

	view, err := f.svc.BeginPayment(ctx, sid)
	require.NoError(t, err)
	conf := payment.Confirmation{
		Provider:  "mock",
		IntentID:  view.Payment.IntentID,
		CaptureID: "cap-1",
		Status:    "COMPLETED",
		Amount:    view.Payment.Amount,
		Currency:  view.Payment.Currency,
	}

	view, err = f.svc.OnPaymentSuccess(ctx, sid, conf)
	require.NoError(t, err)
	require.Equal(t, checkout.StatePaid, view.State)
	require.Len(t, f.orders.written, 1)

	again, err := f.svc.OnPaymentSuccess(ctx, sid, conf)
	require.NoError(t, err)
	require.Equal(t, view.OrderID, again.OrderID)
	require.Len(t, f.orders.written, 1)
	require.Empty(t, f.provider.Captured, "provider capture is not called for an external confirmation")
}

// failingCarts fails its first saves, then delegates.
type failingCarts struct {
	cart.SessionRepository
	failures int
	saves    int
}

func (c *failingCarts) Save(ctx context.Context, sessionID string, items []cart.LineItem) error {
	c.saves++
	if c.saves <= c.failures {
		return errors.New("redis: connection reset")
	}
	return c.SessionRepository.Save(ctx, sessionID, items)
}

func captureWithCarts(t *testing.T, f *fixture, carts cart.SessionRepository) checkout.View {
	t.Helper()
	ctx := context.Background()
	f.svc.Carts = carts
	f.fillCart(t, book("b1", "20.00", 5, 2))
	_, err := f.svc.SetBuyer(ctx, sid, buyer)
	require.NoError(t, err)
	_, err = f.svc.BeginPayment(ctx, sid)
	require.NoError(t, err)
	view, err := f.svc.Capture(ctx, sid)
	require.NoError(t, err)
	return view
}

func TestCartClearRetriedAfterOrder(t *testing.T) {
	f := newFixture(t)
	carts := &failingCarts{SessionRepository: f.carts, failures: 1}

	view := captureWithCarts(t, f, carts)
	require.Equal(t, checkout.StatePaid, view.State)
	require.Equal(t, 2, carts.saves)

	items, err := f.carts.Load(context.Background(), sid)
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestCartClearFailureLoggedWithOrder(t *testing.T) {
	f := newFixture(t)
	var buf bytes.Buffer
	f.svc.Logger = zerolog.New(&buf)
	carts := &failingCarts{SessionRepository: f.carts, failures: 2}

	view := captureWithCarts(t, f, carts)
	require.Equal(t, checkout.StatePaid, view.State)
	require.Len(t, f.orders.written, 1)

	items, err := f.carts.Load(context.Background(), sid)
	require.NoError(t, err)
	require.Len(t, items, 1)

	var found map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(line, &entry))
		if entry["message"] == "cart not cleared after order" {
			found = entry
		}
	}
	require.NotNil(t, found)
	require.Equal(t, "error", found["level"])
	require.Equal(t, view.OrderID, found["order_id"])
	require.Equal(t, sid, found["session_id"])
}
