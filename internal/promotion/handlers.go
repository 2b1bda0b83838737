package promotion

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/alkahf/storefront/internal/common"
)

// Handler exposes the promotion banner.
type Handler struct {
	Resolver *Resolver
}

// Routes mounts the promotion endpoints under r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/banner", h.Banner)
}

// Banner handles GET /api/v1/promotions/banner.
func (h *Handler) Banner(w http.ResponseWriter, r *http.Request) {
	if h.Resolver == nil || h.Resolver.Reader == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "promotion service not configured", nil)
		return
	}
	entries, err := h.Resolver.Banner(r.Context())
	if err != nil {
		if common.IsAppError(err) {
			common.WriteError(w, err)
			return
		}
		common.JSONError(w, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "promotions are temporarily unavailable", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": entries})
}
