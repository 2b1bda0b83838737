package checkout

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/alkahf/storefront/internal/cart"
	"github.com/alkahf/storefront/internal/catalog"
	"github.com/alkahf/storefront/internal/common"
	"github.com/alkahf/storefront/internal/order"
	"github.com/alkahf/storefront/internal/payment"
)

// Handler exposes checkout endpoints. Routes expect common.RequireSession.
type Handler struct {
	Svc *Service
	// PromoLimit guards the promo code route against brute force.
	PromoLimit func(http.Handler) http.Handler
	// Idempotency wraps the payment routes.
	Idempotency func(http.Handler) http.Handler
}

// Routes mounts the checkout endpoints under r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.Get)
	r.Put("/buyer", h.SetBuyer)
	r.Group(func(r chi.Router) {
		if h.PromoLimit != nil {
			r.Use(h.PromoLimit)
		}
		r.Post("/promo", h.ApplyPromo)
	})
	r.Delete("/promo", h.RemovePromo)
	r.Group(func(r chi.Router) {
		if h.Idempotency != nil {
			r.Use(h.Idempotency)
		}
		r.Post("/payment", h.BeginPayment)
		r.Post("/payment/capture", h.Capture)
		r.Post("/payment/cancel", h.Cancel)
	})
}

// Get handles GET /api/v1/checkout.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	view, err := h.Svc.View(r.Context(), session)
	h.respond(w, view, err)
}

// SetBuyer handles PUT /api/v1/checkout/buyer.
func (h *Handler) SetBuyer(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	var buyer order.Buyer
	if !common.DecodeJSON(w, r, &buyer) {
		return
	}
	view, err := h.Svc.SetBuyer(r.Context(), session, buyer)
	h.respond(w, view, err)
}

// ApplyPromo handles POST /api/v1/checkout/promo.
func (h *Handler) ApplyPromo(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	var payload struct {
		Code string `json:"code"`
	}
	if !common.DecodeJSON(w, r, &payload) {
		return
	}
	view, err := h.Svc.ApplyPromoCode(r.Context(), session, payload.Code)
	h.respond(w, view, err)
}

// RemovePromo handles DELETE /api/v1/checkout/promo.
func (h *Handler) RemovePromo(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	view, err := h.Svc.RemovePromoCode(r.Context(), session)
	h.respond(w, view, err)
}

// BeginPayment handles POST /api/v1/checkout/payment.
func (h *Handler) BeginPayment(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	view, err := h.Svc.BeginPayment(r.Context(), session)
	h.respond(w, view, err)
}

// Capture handles POST /api/v1/checkout/payment/capture.
func (h *Handler) Capture(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	view, err := h.Svc.Capture(r.Context(), session)
	h.respond(w, view, err)
}

// Cancel handles POST /api/v1/checkout/payment/cancel.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	view, err := h.Svc.Cancel(r.Context(), session)
	h.respond(w, view, err)
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return "", false
	}
	id, ok := common.SessionID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "SESSION_REQUIRED", "missing "+common.SessionHeader+" header", nil)
		return "", false
	}
	return id, true
}

func (h *Handler) respond(w http.ResponseWriter, view View, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

func writeError(w http.ResponseWriter, err error) {
	var (
		validation *order.ValidationError
		stockErr   *cart.StockExhaustedError
		unrecorded *UnrecordedError
		appErr     *common.AppError
	)
	if pe, ok := payment.AsError(err); ok {
		common.JSONError(w, http.StatusPaymentRequired, paymentCode(pe.Kind), buyerMessage(pe), nil)
		return
	}
	switch {
	case errors.As(err, &validation):
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", "please complete the highlighted fields", validation.Fields)
	case errors.As(err, &stockErr):
		common.JSONError(w, http.StatusConflict, "STOCK_EXHAUSTED", "not enough stock for an item in your cart", map[string]any{"productId": stockErr.ProductID, "max": stockErr.Max})
	case errors.As(err, &unrecorded):
		common.JSONError(w, http.StatusAccepted, "ORDER_PENDING", "payment received, your order is being finalised", map[string]any{"reference": unrecorded.OrderID})
	case errors.Is(err, ErrInvalidCode):
		common.JSONError(w, http.StatusUnprocessableEntity, "INVALID_CODE", "this promo code is not valid", nil)
	case errors.Is(err, ErrFrozen):
		common.JSONError(w, http.StatusConflict, "CHECKOUT_FROZEN", "payment is in progress, cancel it to make changes", nil)
	case errors.Is(err, ErrEmptyCart):
		common.JSONError(w, http.StatusUnprocessableEntity, "EMPTY_CART", "your cart is empty", nil)
	case errors.Is(err, ErrBuyerRequired):
		common.JSONError(w, http.StatusUnprocessableEntity, "BUYER_REQUIRED", "please enter your contact and shipping details", nil)
	case errors.Is(err, ErrNotAwaitingPayment):
		common.JSONError(w, http.StatusConflict, "NO_PAYMENT_IN_PROGRESS", "no payment is in progress", nil)
	case errors.Is(err, ErrAlreadyCaptured):
		common.JSONError(w, http.StatusConflict, "ALREADY_CAPTURED", "payment was already received", nil)
	case errors.Is(err, catalog.ErrNotFound):
		common.JSONError(w, http.StatusConflict, "PRODUCT_UNAVAILABLE", "an item in your cart is no longer available", nil)
	case errors.As(err, &appErr):
		common.WriteError(w, err)
	default:
		common.JSONError(w, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "something went wrong, please retry", nil)
	}
}

func paymentCode(kind payment.ErrorKind) string {
	switch kind {
	case payment.KindDeclined:
		return "PAYMENT_DECLINED"
	case payment.KindCancelled:
		return "PAYMENT_CANCELLED"
	}
	return "PAYMENT_FAILED"
}

func buyerMessage(pe *payment.Error) string {
	if pe.Message != "" {
		return pe.Message
	}
	return "payment could not be processed"
}
