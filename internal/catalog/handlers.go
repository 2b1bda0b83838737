package catalog

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/alkahf/storefront/internal/common"
)

// Handler exposes public catalog endpoints.
type Handler struct {
	service *Service
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Service *Service
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{service: cfg.Service}
}

// Routes mounts the catalog endpoints under r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/{kind}", h.List)
	r.Get("/{kind}/{id}", h.Detail)
}

// List handles GET /api/v1/{books|packs}.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	kind, ok := ParseKind(chi.URLParam(r, "kind"))
	if !ok {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "unknown collection", nil)
		return
	}
	category := strings.TrimSpace(r.URL.Query().Get("category"))
	rows, err := h.service.ListProducts(r.Context(), kind, category)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rows})
}

// Detail handles GET /api/v1/{books|packs}/{id}.
func (h *Handler) Detail(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	kind, ok := ParseKind(chi.URLParam(r, "kind"))
	if !ok {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "unknown collection", nil)
		return
	}
	view, err := h.service.GetProduct(r.Context(), kind, chi.URLParam(r, "id"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}
