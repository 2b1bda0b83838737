package cart

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/alkahf/storefront/internal/catalog"
	"github.com/alkahf/storefront/internal/common"
)

// Handler wires the cart service to HTTP. Routes expect common.RequireSession.
type Handler struct {
	Svc *Service
}

// Routes mounts the cart endpoints under r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.Get)
	r.Post("/items", h.AddItem)
	r.Put("/items/{id}", h.SetQuantity)
	r.Post("/items/{id}/increment", h.Increment)
	r.Post("/items/{id}/decrement", h.Decrement)
	r.Delete("/items/{id}", h.Remove)
}

// Get handles GET /api/v1/cart.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	view, err := h.Svc.View(r.Context(), session)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

// AddItem handles POST /api/v1/cart/items.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	var payload struct {
		Kind      string `json:"kind"`
		ProductID string `json:"productId"`
		Quantity  int    `json:"quantity"`
		Override  bool   `json:"override"`
	}
	if !common.DecodeJSON(w, r, &payload) {
		return
	}
	kind, valid := catalog.ParseKind(payload.Kind)
	if !valid {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "kind must be book or pack", nil)
		return
	}
	if payload.Quantity == 0 {
		payload.Quantity = 1
	}
	view, err := h.Svc.Add(r.Context(), session, kind, payload.ProductID, payload.Quantity, payload.Override)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

// SetQuantity handles PUT /api/v1/cart/items/{id}.
func (h *Handler) SetQuantity(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	var payload struct {
		Quantity int `json:"quantity"`
	}
	if !common.DecodeJSON(w, r, &payload) {
		return
	}
	view, err := h.Svc.SetQuantity(r.Context(), session, chi.URLParam(r, "id"), payload.Quantity)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

// Increment handles POST /api/v1/cart/items/{id}/increment.
func (h *Handler) Increment(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	view, err := h.Svc.Increment(r.Context(), session, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

// Decrement handles POST /api/v1/cart/items/{id}/decrement.
func (h *Handler) Decrement(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	view, err := h.Svc.Decrement(r.Context(), session, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

// Remove handles DELETE /api/v1/cart/items/{id}.
func (h *Handler) Remove(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	view, err := h.Svc.Remove(r.Context(), session, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return "", false
	}
	id, ok := common.SessionID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "SESSION_REQUIRED", "missing "+common.SessionHeader+" header", nil)
		return "", false
	}
	return id, true
}

func writeError(w http.ResponseWriter, err error) {
	var stockErr *StockExhaustedError
	switch {
	case errors.As(err, &stockErr):
		common.JSONError(w, http.StatusConflict, "STOCK_EXHAUSTED", "not enough stock for this item", map[string]any{"productId": stockErr.ProductID, "max": stockErr.Max})
	case errors.Is(err, catalog.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "product not found", nil)
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "item not in cart", nil)
	case errors.Is(err, ErrInvalidInput):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	case common.IsAppError(err):
		common.WriteError(w, err)
	default:
		common.JSONError(w, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "cart temporarily unavailable, please retry", nil)
	}
}
