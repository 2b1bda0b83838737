package incident

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/alkahf/storefront/internal/order"
)

// TypeUnrecordedOrder is the asynq task type raised when a captured payment
// has no persisted order.
const TypeUnrecordedOrder = "incident:order_unrecorded"

// QueueCritical is the asynq queue incidents are sent to.
const QueueCritical = "critical"

// UnrecordedOrder is the incident payload. Order carries everything needed to
// write the order by hand, including the payment confirmation.
type UnrecordedOrder struct {
	ID         string      `json:"id"`
	Order      order.Order `json:"order"`
	Reason     string      `json:"reason"`
	DetectedAt time.Time   `json:"detectedAt"`
	Resolved   bool        `json:"resolved"`
	ResolvedAt *time.Time  `json:"resolvedAt,omitempty"`
}

// NewUnrecordedOrderTask encodes inc as an asynq task. The task id is the
// order id so repeated escalations of one order collapse into one task.
func NewUnrecordedOrderTask(inc UnrecordedOrder) (*asynq.Task, error) {
	if inc.Order.ID == "" {
		return nil, errors.New("incident: order id is required")
	}
	payload, err := json.Marshal(inc)
	if err != nil {
		return nil, fmt.Errorf("incident: encode payload: %w", err)
	}
	return asynq.NewTask(TypeUnrecordedOrder, payload,
		asynq.Queue(QueueCritical),
		asynq.MaxRetry(25),
		asynq.TaskID("order-unrecorded-"+inc.Order.ID),
		asynq.Retention(30*24*time.Hour),
	), nil
}

// Enqueuer publishes incidents to the asynq broker.
type Enqueuer struct {
	Client *asynq.Client
}

// EnqueueUnrecordedOrder durably records the incident for the worker.
// A task that is already queued for the same order is not an error.
func (e Enqueuer) EnqueueUnrecordedOrder(ctx context.Context, inc UnrecordedOrder) error {
	if e.Client == nil {
		return errors.New("incident: task client not configured")
	}
	task, err := NewUnrecordedOrderTask(inc)
	if err != nil {
		return err
	}
	if _, err := e.Client.EnqueueContext(ctx, task); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return fmt.Errorf("incident: enqueue: %w", err)
	}
	return nil
}
