package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/alkahf/storefront/internal/cart"
	"github.com/alkahf/storefront/internal/catalog"
	"github.com/alkahf/storefront/internal/events"
	"github.com/alkahf/storefront/internal/incident"
	"github.com/alkahf/storefront/internal/obs"
	"github.com/alkahf/storefront/internal/order"
	"github.com/alkahf/storefront/internal/payment"
	"github.com/alkahf/storefront/internal/pricing"
	"github.com/alkahf/storefront/internal/promotion"
)

var (
	// ErrInvalidCode is returned when no active code promotion matches.
	ErrInvalidCode = promotion.ErrInvalidCode
	// ErrFrozen is returned for edits attempted while payment is in progress.
	ErrFrozen = errors.New("checkout is awaiting payment")
	// ErrEmptyCart guards entering payment without items.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrBuyerRequired is returned when payment starts before buyer details are set.
	ErrBuyerRequired = errors.New("buyer details are required")
	// ErrNotAwaitingPayment is returned for capture or cancel without a pending payment.
	ErrNotAwaitingPayment = errors.New("no payment in progress")
	// ErrAlreadyCaptured refuses cancelling a payment that was captured.
	ErrAlreadyCaptured = errors.New("payment already captured")
	// ErrOrderNotRecorded reports a captured payment whose order write failed.
	ErrOrderNotRecorded = errors.New("payment captured but order not recorded")
)

// UnrecordedError carries the reference of an order that could not be written
// after its payment was captured.
type UnrecordedError struct {
	OrderID string
	Err     error
}

func (e *UnrecordedError) Error() string {
	return fmt.Sprintf("order %s not recorded: %v", e.OrderID, e.Err)
}

func (e *UnrecordedError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrOrderNotRecorded) match.
func (e *UnrecordedError) Is(target error) bool { return target == ErrOrderNotRecorded }

// PromoResolver resolves promotion codes.
type PromoResolver interface {
	ResolveByCode(ctx context.Context, code string, now time.Time) (*promotion.Promotion, error)
}

// StockChecker reads live stock, bypassing any cache.
type StockChecker interface {
	CurrentStock(ctx context.Context, kind catalog.Kind, id string) (int, error)
}

// OrderWriter persists orders. Writing the same order id twice must not
// create a second order.
type OrderWriter interface {
	CreateOrder(ctx context.Context, ord order.Order) (string, error)
}

// Escalator durably reports captured payments without an order.
type Escalator interface {
	EnqueueUnrecordedOrder(ctx context.Context, inc incident.UnrecordedOrder) error
}

// SessionLocker serialises mutations of one browsing session.
type SessionLocker interface {
	WithSession(ctx context.Context, sessionID string, fn func(context.Context) error) error
}

// Service drives a browsing session from cart to paid order.
type Service struct {
	Sessions   SessionStore
	Carts      cart.SessionRepository
	Promotions PromoResolver
	Stock      StockChecker
	Payments   payment.Provider
	Orders     OrderWriter
	Escalator  Escalator
	Locker     SessionLocker
	Events     *events.Bus
	Calculator pricing.Calculator
	Currency   string
	Now        func() time.Time
	Logger     zerolog.Logger
}

// PaymentView describes the payment in progress.
type PaymentView struct {
	Provider   string        `json:"provider"`
	IntentID   string        `json:"intentId"`
	ApproveURL string        `json:"approveUrl,omitempty"`
	Amount     pricing.Money `json:"amount"`
	Currency   string        `json:"currency"`
	Captured   bool          `json:"captured"`
}

// View is the checkout as presented to the buyer. While awaiting payment the
// items and totals are the frozen ones.
type View struct {
	State     State           `json:"state"`
	Items     []cart.LineItem `json:"items"`
	ItemCount int             `json:"itemCount"`
	Totals    pricing.Summary `json:"totals"`
	Frozen    bool            `json:"frozen"`
	Buyer     *order.Buyer    `json:"buyer,omitempty"`
	PromoCode string          `json:"promoCode,omitempty"`
	Payment   *PaymentView    `json:"payment,omitempty"`
	OrderID   string          `json:"orderId,omitempty"`
	LastError string          `json:"lastError,omitempty"`
}

var tracer = otel.Tracer("github.com/alkahf/storefront/internal/checkout")

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) calc() pricing.Calculator {
	if s.Calculator.TaxRatePercent == 0 && len(s.Calculator.Shipping) == 0 {
		return pricing.NewCalculator()
	}
	return s.Calculator
}

func (s *Service) currency() string {
	if c := strings.TrimSpace(s.Currency); c != "" {
		return strings.ToUpper(c)
	}
	return "EUR"
}

func (s *Service) configured() error {
	if s == nil || s.Sessions == nil || s.Carts == nil {
		return errors.New("checkout service not configured")
	}
	return nil
}

// View returns the current checkout for sessionID without locking.
func (s *Service) View(ctx context.Context, sessionID string) (View, error) {
	if err := s.configured(); err != nil {
		return View{}, err
	}
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return View{}, err
	}
	items, err := s.cartItems(ctx, sess)
	if err != nil {
		return View{}, err
	}
	return s.render(sess, items), nil
}

// SetBuyer stores validated buyer details. Refused while payment is in progress.
func (s *Service) SetBuyer(ctx context.Context, sessionID string, buyer order.Buyer) (View, error) {
	buyer = buyer.Normalise()
	if err := buyer.Validate(); err != nil {
		return View{}, err
	}
	return s.mutate(ctx, sessionID, func(ctx context.Context, sess *Session) error {
		if err := s.editable(sess); err != nil {
			return err
		}
		sess.Buyer = &buyer
		s.settle(sess)
		return nil
	})
}

// ApplyPromoCode resolves code and stores its percentage. An unknown code
// leaves any previously applied code in place. The cart is never touched.
func (s *Service) ApplyPromoCode(ctx context.Context, sessionID, code string) (View, error) {
	return s.mutate(ctx, sessionID, func(ctx context.Context, sess *Session) error {
		if err := s.editable(sess); err != nil {
			return err
		}
		if s.Promotions == nil {
			return errors.New("checkout promotion resolver not configured")
		}
		promo, err := s.Promotions.ResolveByCode(ctx, code, s.now())
		if err != nil {
			obs.IncCounter(obs.PromoCodeAttemptTotal, "error")
			return err
		}
		if promo == nil {
			obs.IncCounter(obs.PromoCodeAttemptTotal, "invalid")
			return ErrInvalidCode
		}
		obs.IncCounter(obs.PromoCodeAttemptTotal, "applied")
		sess.PromoCode = promo.Code
		sess.PromoPercent = promo.DiscountPercent()
		sess.PromotionID = promo.ID
		s.settle(sess)
		return nil
	})
}

// RemovePromoCode drops the applied code.
func (s *Service) RemovePromoCode(ctx context.Context, sessionID string) (View, error) {
	return s.mutate(ctx, sessionID, func(ctx context.Context, sess *Session) error {
		if err := s.editable(sess); err != nil {
			return err
		}
		sess.PromoCode = ""
		sess.PromoPercent = 0
		sess.PromotionID = ""
		s.settle(sess)
		return nil
	})
}

// BeginPayment freezes the cart and its totals and opens a payment intent
// for the frozen grand total. Calling it again while awaiting payment
// returns the existing intent.
func (s *Service) BeginPayment(ctx context.Context, sessionID string) (View, error) {
	ctx, span := tracer.Start(ctx, "checkout.BeginPayment")
	defer span.End()
	var outcome error
	view, err := s.mutate(ctx, sessionID, func(ctx context.Context, sess *Session) error {
		if sess.State == StatePaid {
			sess.restart()
		}
		if sess.frozen() && sess.Intent != nil {
			return nil
		}
		if sess.Buyer == nil {
			return ErrBuyerRequired
		}
		if s.Payments == nil {
			return errors.New("checkout payment provider not configured")
		}
		items, err := s.Carts.Load(ctx, sess.ID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return ErrEmptyCart
		}
		if err := s.checkStock(ctx, items); err != nil {
			return err
		}

		sess.Frozen = &Frozen{
			Items:    items,
			Totals:   s.calc().Compute(lineItems(items), sess.PromoPercent),
			FrozenAt: s.now(),
		}
		sess.PendingOrderID = uuid.NewString()
		sess.LastError = ""
		s.transition(sess, StateAwaitingPayment)
		span.SetAttributes(
			attribute.String("checkout.order_id", sess.PendingOrderID),
			attribute.String("checkout.grand_total", sess.Frozen.Totals.GrandTotal.StringFixed(2)),
		)

		handle, err := s.Payments.CreateIntent(ctx, sess.Frozen.Totals.GrandTotal, s.currency())
		if err != nil {
			obs.IncCounter(obs.PaymentIntentTotal, s.Payments.Name(), "error")
			outcome = s.paymentFailed(ctx, sess, err)
			return nil
		}
		obs.IncCounter(obs.PaymentIntentTotal, s.Payments.Name(), "created")
		sess.Intent = &handle
		return nil
	})
	if err == nil {
		err = outcome
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return view, err
}

// Capture captures the pending payment and records the order. When a previous
// call captured the payment but failed to record the order, the capture is not
// repeated and only the order write is retried.
func (s *Service) Capture(ctx context.Context, sessionID string) (View, error) {
	ctx, span := tracer.Start(ctx, "checkout.Capture")
	defer span.End()
	var outcome error
	view, err := s.mutate(ctx, sessionID, func(ctx context.Context, sess *Session) error {
		if !sess.frozen() || sess.Intent == nil {
			return ErrNotAwaitingPayment
		}
		if sess.Confirmation != nil {
			outcome = s.recordOrder(ctx, sess, *sess.Confirmation)
			return nil
		}
		if s.Payments == nil {
			return errors.New("checkout payment provider not configured")
		}
		conf, err := s.Payments.Capture(ctx, *sess.Intent)
		if err != nil {
			outcome = s.paymentFailed(ctx, sess, err)
			return nil
		}
		obs.IncCounter(obs.PaymentCaptureTotal, s.Payments.Name(), "success")
		outcome = s.recordPayment(ctx, sess, conf)
		return nil
	})
	if err == nil {
		err = outcome
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return view, err
}

// OnPaymentSuccess records a payment confirmed outside Capture, for example
// by a provider callback. It is a no-op when the order is already written.
func (s *Service) OnPaymentSuccess(ctx context.Context, sessionID string, conf payment.Confirmation) (View, error) {
	var outcome error
	view, err := s.mutate(ctx, sessionID, func(ctx context.Context, sess *Session) error {
		if sess.State == StatePaid {
			return nil
		}
		if !sess.frozen() {
			return ErrNotAwaitingPayment
		}
		if sess.Confirmation != nil {
			outcome = s.recordOrder(ctx, sess, *sess.Confirmation)
			return nil
		}
		outcome = s.recordPayment(ctx, sess, conf)
		return nil
	})
	if err == nil {
		err = outcome
	}
	return view, err
}

// Cancel abandons the pending payment, for example when the buyer closes the
// provider window. Buyer details and the promo code are kept.
func (s *Service) Cancel(ctx context.Context, sessionID string) (View, error) {
	return s.mutate(ctx, sessionID, func(ctx context.Context, sess *Session) error {
		if !sess.frozen() {
			return ErrNotAwaitingPayment
		}
		if sess.Confirmation != nil {
			return ErrAlreadyCaptured
		}
		s.paymentFailed(ctx, sess, &payment.Error{Kind: payment.KindCancelled, Message: "payment cancelled"})
		return nil
	})
}

// recordPayment keeps the confirmation before anything else so that a failed
// order write never leads to a second capture.
func (s *Service) recordPayment(ctx context.Context, sess *Session, conf payment.Confirmation) error {
	sess.Confirmation = &conf
	if err := s.Sessions.Put(ctx, sess); err != nil {
		s.Logger.Error().Err(err).Str("session_id", sess.ID).Str("intent_id", conf.IntentID).Msg("persist confirmation failed")
	}
	return s.recordOrder(ctx, sess, conf)
}

// recordOrder writes the order, then clears the cart, then marks the session paid.
func (s *Service) recordOrder(ctx context.Context, sess *Session, conf payment.Confirmation) error {
	ord := s.buildOrder(sess, conf)
	if s.Orders == nil {
		err := errors.New("order writer not configured")
		s.escalate(ctx, ord, err)
		return &UnrecordedError{OrderID: ord.ID, Err: err}
	}
	id, err := s.Orders.CreateOrder(ctx, ord)
	if err != nil {
		s.escalate(ctx, ord, err)
		return &UnrecordedError{OrderID: ord.ID, Err: err}
	}
	if id == "" {
		id = ord.ID
	}
	if err := s.clearCart(ctx, sess.ID); err != nil {
		s.Logger.Error().Err(err).Str("session_id", sess.ID).Str("order_id", id).Msg("cart not cleared after order")
	}
	sess.OrderID = id
	sess.LastError = ""
	s.transition(sess, StatePaid)
	s.emit(ctx, events.TopicOrderPaid, id, map[string]any{
		"orderId":   id,
		"sessionId": sess.ID,
		"total":     ord.Total.StringFixed(2),
		"currency":  ord.Currency,
		"email":     ord.Buyer.Email,
		"captureId": conf.CaptureID,
	})
	return nil
}

// clearCart empties the session cart once its order is recorded. A failed
// attempt is retried once.
func (s *Service) clearCart(ctx context.Context, sessionID string) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		if err = s.emptyCart(ctx, sessionID); err == nil {
			return nil
		}
		s.Logger.Warn().Err(err).Str("session_id", sessionID).Int("attempt", attempt+1).Msg("clear cart after order failed")
	}
	return err
}

func (s *Service) emptyCart(ctx context.Context, sessionID string) error {
	items, err := s.Carts.Load(ctx, sessionID)
	if err != nil {
		return err
	}
	st := cart.NewStore(items)
	if st.Empty() {
		return nil
	}
	st.Clear()
	return s.Carts.Save(ctx, sessionID, st.Items())
}

func (s *Service) buildOrder(sess *Session, conf payment.Confirmation) order.Order {
	now := s.now()
	lines := make([]order.Line, 0, len(sess.Frozen.Items))
	for _, it := range sess.Frozen.Items {
		lines = append(lines, order.Line{
			ProductID:  it.ID,
			Kind:       it.Kind,
			Title:      it.Title,
			Quantity:   it.Quantity,
			UnitPrice:  it.Price,
			PromoPrice: it.PromoPrice,
		})
	}
	id := sess.PendingOrderID
	if id == "" {
		id = uuid.NewString()
		sess.PendingOrderID = id
	}
	var buyer order.Buyer
	if sess.Buyer != nil {
		buyer = *sess.Buyer
	}
	return order.Order{
		ID:                id,
		SessionID:         sess.ID,
		Items:             lines,
		Totals:            sess.Frozen.Totals,
		Total:             sess.Frozen.Totals.GrandTotal,
		Currency:          s.currency(),
		PromoCode:         sess.PromoCode,
		Buyer:             buyer,
		Payment:           conf,
		Status:            order.PaymentStatusPaid,
		FulfillmentStatus: order.FulfillmentPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// escalate reports a captured payment with no order on every channel available.
func (s *Service) escalate(ctx context.Context, ord order.Order, cause error) {
	if obs.OrderUnrecordedTotal != nil {
		obs.OrderUnrecordedTotal.Inc()
	}
	s.Logger.Error().
		Err(cause).
		Str("alert", "order_unrecorded").
		Str("order_id", ord.ID).
		Str("session_id", ord.SessionID).
		Str("capture_id", ord.Payment.CaptureID).
		Str("amount", ord.Total.StringFixed(2)).
		Msg("payment captured but order could not be recorded")
	if s.Escalator != nil {
		inc := incident.UnrecordedOrder{ID: uuid.NewString(), Order: ord, Reason: cause.Error(), DetectedAt: s.now()}
		if err := s.Escalator.EnqueueUnrecordedOrder(ctx, inc); err != nil {
			s.Logger.Error().Err(err).Str("alert", "order_unrecorded").Str("order_id", ord.ID).Msg("enqueue incident failed")
		}
	}
	s.emit(ctx, events.TopicOrderUnrecorded, ord.ID, map[string]any{
		"orderId":   ord.ID,
		"sessionId": ord.SessionID,
		"captureId": ord.Payment.CaptureID,
		"reason":    cause.Error(),
	})
}

// paymentFailed moves the session to Failed or Cancelled and unfreezes it.
// It returns the buyer-facing payment error.
func (s *Service) paymentFailed(ctx context.Context, sess *Session, cause error) error {
	pe, ok := payment.AsError(cause)
	if !ok {
		pe = &payment.Error{Kind: payment.KindProvider, Message: "payment could not be processed", Err: cause}
	}
	provider := "unknown"
	if s.Payments != nil {
		provider = s.Payments.Name()
	}
	intentID := ""
	if sess.Intent != nil {
		intentID = sess.Intent.ID
	}
	sess.unfreeze()
	sess.LastError = pe.Message
	topic := events.TopicPaymentFailed
	target := StateFailed
	if pe.Kind == payment.KindCancelled {
		topic = events.TopicPaymentCancelled
		target = StateCancelled
	}
	s.transition(sess, target)
	obs.IncCounter(obs.PaymentCaptureTotal, provider, string(pe.Kind))
	s.Logger.Warn().Err(cause).Str("session_id", sess.ID).Str("intent_id", intentID).Str("kind", string(pe.Kind)).Msg("payment not completed")
	s.emit(ctx, topic, sess.ID, map[string]any{
		"sessionId": sess.ID,
		"intentId":  intentID,
		"kind":      pe.Kind,
		"message":   pe.Message,
	})
	return pe
}

func (s *Service) checkStock(ctx context.Context, items []cart.LineItem) error {
	if s.Stock == nil {
		return nil
	}
	for _, it := range items {
		stock, err := s.Stock.CurrentStock(ctx, it.Kind, it.ID)
		if err != nil {
			return err
		}
		if it.Quantity > stock {
			return &cart.StockExhaustedError{ProductID: it.ID, Max: max(stock, 0)}
		}
	}
	return nil
}

// editable refuses edits during payment and reopens paid or failed sessions.
func (s *Service) editable(sess *Session) error {
	switch sess.State {
	case StateAwaitingPayment:
		return ErrFrozen
	case StatePaid:
		sess.restart()
	}
	return nil
}

// settle moves a session that is not mid-payment back to Filling.
func (s *Service) settle(sess *Session) {
	if sess.State != StateFilling {
		s.transition(sess, StateFilling)
	}
}

func (s *Service) transition(sess *Session, to State) {
	if sess.State == to {
		return
	}
	s.Logger.Debug().Str("session_id", sess.ID).Str("from", string(sess.State)).Str("to", string(to)).Msg("checkout transition")
	sess.State = to
	obs.IncCounter(obs.CheckoutTransitionTotal, string(to))
}

func (s *Service) emit(ctx context.Context, topic, aggregateID string, payload any) {
	if s.Events == nil {
		return
	}
	if _, err := s.Events.Emit(ctx, topic, aggregateID, payload); err != nil {
		s.Logger.Warn().Err(err).Str("topic", topic).Str("aggregate_id", aggregateID).Msg("emit event failed")
	}
}

func (s *Service) load(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := s.Sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		sess = newSession(sessionID)
	}
	return sess, nil
}

func (s *Service) cartItems(ctx context.Context, sess *Session) ([]cart.LineItem, error) {
	if sess.Frozen != nil && (sess.State == StateAwaitingPayment || sess.State == StatePaid) {
		return sess.Frozen.Items, nil
	}
	return s.Carts.Load(ctx, sess.ID)
}

// mutate runs fn under the session lock and persists the session. The
// session is saved even when fn changed state before failing.
func (s *Service) mutate(ctx context.Context, sessionID string, fn func(context.Context, *Session) error) (View, error) {
	if err := s.configured(); err != nil {
		return View{}, err
	}
	var view View
	run := func(ctx context.Context) error {
		sess, err := s.load(ctx, sessionID)
		if err != nil {
			return err
		}
		before := *sess
		fnErr := fn(ctx, sess)
		if fnErr != nil && sess.State == before.State && sess.Frozen == before.Frozen {
			return fnErr
		}
		sess.UpdatedAt = s.now()
		if err := s.Sessions.Put(ctx, sess); err != nil {
			s.Logger.Error().Err(err).Str("session_id", sessionID).Msg("checkout save failed")
			return err
		}
		if fnErr != nil {
			return fnErr
		}
		items, err := s.cartItems(ctx, sess)
		if err != nil {
			return err
		}
		view = s.render(sess, items)
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

func (s *Service) render(sess *Session, items []cart.LineItem) View {
	view := View{
		State:     sess.State,
		Items:     items,
		Buyer:     sess.Buyer,
		PromoCode: sess.PromoCode,
		OrderID:   sess.OrderID,
		LastError: sess.LastError,
	}
	if view.Items == nil {
		view.Items = []cart.LineItem{}
	}
	for _, it := range items {
		view.ItemCount += it.Quantity
	}
	switch {
	case sess.Frozen != nil && (sess.State == StateAwaitingPayment || sess.State == StatePaid):
		view.Totals = sess.Frozen.Totals
		view.Frozen = sess.State == StateAwaitingPayment
	default:
		view.Totals = s.calc().Compute(lineItems(items), sess.PromoPercent)
		if sess.State == StateEmpty || sess.State == StateFilling {
			view.State = StateFilling
			if len(items) == 0 {
				view.State = StateEmpty
			}
		}
	}
	if sess.Intent != nil {
		view.Payment = &PaymentView{
			Provider:   sess.Intent.Provider,
			IntentID:   sess.Intent.ID,
			ApproveURL: sess.Intent.ApproveURL,
			Amount:     sess.Intent.Amount,
			Currency:   sess.Intent.Currency,
			Captured:   sess.Confirmation != nil,
		}
	}
	return view
}

func lineItems(items []cart.LineItem) []pricing.Item {
	out := make([]pricing.Item, 0, len(items))
	for _, it := range items {
		out = append(out, it.PricingItem())
	}
	return out
}
