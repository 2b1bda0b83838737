package incident

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/alkahf/storefront/internal/order"
)

// Store persists incidents for operators.
type Store interface {
	SaveIncident(ctx context.Context, inc UnrecordedOrder) error
}

// OrderWriter writes an order idempotently by id.
type OrderWriter interface {
	CreateOrder(ctx context.Context, ord order.Order) (string, error)
}

// Handler processes unrecorded-order incidents on the worker. It stores the
// incident and then tries to write the order again. Order writes are keyed by
// order id so a second write of the same order is harmless.
type Handler struct {
	Store  Store
	Orders OrderWriter
	Now    func() time.Time
	Logger zerolog.Logger
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now().UTC()
	}
	return time.Now().UTC()
}

// Register binds the handler on mux.
func (h *Handler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeUnrecordedOrder, h.ProcessTask)
}

// ProcessTask implements asynq.HandlerFunc.
func (h *Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var inc UnrecordedOrder
	if err := json.Unmarshal(t.Payload(), &inc); err != nil {
		// a malformed payload never becomes valid
		return fmt.Errorf("incident: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if inc.ID == "" {
		inc.ID = inc.Order.ID
	}
	log := h.Logger.With().Str("incident_id", inc.ID).Str("order_id", inc.Order.ID).Logger()
	if h.Store != nil {
		if err := h.Store.SaveIncident(ctx, inc); err != nil {
			log.Error().Err(err).Msg("store incident failed")
			return err
		}
	}
	if h.Orders == nil {
		return nil
	}
	if _, err := h.Orders.CreateOrder(ctx, inc.Order); err != nil {
		log.Error().Err(err).Str("alert", "order_unrecorded").Msg("order still not recorded")
		return err
	}
	resolvedAt := h.now()
	inc.Resolved = true
	inc.ResolvedAt = &resolvedAt
	if h.Store != nil {
		if err := h.Store.SaveIncident(ctx, inc); err != nil {
			log.Warn().Err(err).Msg("mark incident resolved failed")
		}
	}
	log.Info().Msg("unrecorded order written by worker")
	return nil
}
