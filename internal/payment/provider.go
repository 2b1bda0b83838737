package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alkahf/storefront/internal/pricing"
)

// ErrorKind classifies payment failures.
type ErrorKind string

const (
	// KindDeclined means the payer's instrument was refused.
	KindDeclined ErrorKind = "declined"
	// KindCancelled means the buyer abandoned the approval step.
	KindCancelled ErrorKind = "cancelled"
	// KindProvider covers provider outages, timeouts and unexpected replies.
	KindProvider ErrorKind = "provider"
)

// Error is returned by providers for every payment failure.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("payment %s: %s", e.Kind, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("payment %s: %v", e.Kind, e.Err)
	}
	return "payment " + string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// AsError extracts a *Error from err.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IntentHandle identifies a payment awaiting buyer approval.
type IntentHandle struct {
	Provider   string        `json:"provider"`
	ID         string        `json:"id"`
	ApproveURL string        `json:"approveUrl,omitempty"`
	Amount     pricing.Money `json:"amount"`
	Currency   string        `json:"currency"`
}

// Confirmation is the provider's proof of a captured payment.
type Confirmation struct {
	Provider   string          `json:"provider"`
	IntentID   string          `json:"intentId"`
	CaptureID  string          `json:"captureId"`
	Status     string          `json:"status"`
	Amount     pricing.Money   `json:"amount"`
	Currency   string          `json:"currency"`
	PayerEmail string          `json:"payerEmail,omitempty"`
	CapturedAt time.Time       `json:"capturedAt"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// Provider abstracts the payment processor.
type Provider interface {
	Name() string
	CreateIntent(ctx context.Context, amount pricing.Money, currency string) (IntentHandle, error)
	Capture(ctx context.Context, handle IntentHandle) (Confirmation, error)
}
