package order

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/alkahf/storefront/internal/common"
)

// AdminHandler provides administrative order management endpoints.
type AdminHandler struct {
	Svc *Service
}

type patchStatusRequest struct {
	Status string `json:"status"`
}

// Routes mounts the admin order endpoints under r.
func (h *AdminHandler) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.Get("/{id}", h.Detail)
	r.Patch("/{id}/status", h.PatchStatus)
}

// List handles GET /api/v1/admin/orders?status=pending&page=1&limit=20.
func (h *AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order service not configured", nil)
		return
	}
	var filter Filter
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := ParseFulfillmentStatus(raw)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "unsupported status", nil)
			return
		}
		filter.Status = &status
	}
	page := common.ParsePagination(r, 20)
	filter.Limit = page.PerPage
	filter.Offset = page.Offset()
	orders, total, err := h.Svc.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       orders,
		"pagination": page.WithTotal(total),
	})
}

// Detail handles GET /api/v1/admin/orders/{id}.
func (h *AdminHandler) Detail(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order service not configured", nil)
		return
	}
	ord, err := h.Svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": ord})
}

// PatchStatus updates the fulfillment status of an order.
func (h *AdminHandler) PatchStatus(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order service not configured", nil)
		return
	}
	var req patchStatusRequest
	if !common.DecodeJSON(w, r, &req) {
		return
	}
	if req.Status == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "status is required", nil)
		return
	}
	status, err := ParseFulfillmentStatus(req.Status)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "unsupported status", nil)
		return
	}
	actor, _ := common.AdminSubject(r.Context())
	ord, err := h.Svc.SetFulfillmentStatus(r.Context(), chi.URLParam(r, "id"), status, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": ord})
}

func writeError(w http.ResponseWriter, err error) {
	var appErr *common.AppError
	switch {
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
	case errors.Is(err, ErrInvalidStatus):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "unsupported status", nil)
	case errors.As(err, &appErr):
		common.WriteError(w, err)
	default:
		common.JSONError(w, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "orders are temporarily unavailable, please retry", nil)
	}
}
