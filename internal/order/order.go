package order

import (
	"errors"
	"fmt"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"

	"github.com/alkahf/storefront/internal/catalog"
	"github.com/alkahf/storefront/internal/payment"
	"github.com/alkahf/storefront/internal/pricing"
)

// ErrNotFound indicates the order does not exist.
var ErrNotFound = errors.New("order not found")

// ErrInvalidStatus is returned for unknown fulfillment statuses.
var ErrInvalidStatus = errors.New("invalid fulfillment status")

// PaymentStatusPaid is the only payment status an order is written with.
const PaymentStatusPaid = "paid"

// FulfillmentStatus is the administrator-managed order state.
type FulfillmentStatus string

const (
	FulfillmentPending   FulfillmentStatus = "pending"
	FulfillmentConfirmed FulfillmentStatus = "confirmed"
	FulfillmentRejected  FulfillmentStatus = "rejected"
)

// ParseFulfillmentStatus validates value.
func ParseFulfillmentStatus(value string) (FulfillmentStatus, error) {
	switch s := FulfillmentStatus(strings.ToLower(strings.TrimSpace(value))); s {
	case FulfillmentPending, FulfillmentConfirmed, FulfillmentRejected:
		return s, nil
	}
	return "", fmt.Errorf("%q: %w", value, ErrInvalidStatus)
}

// Buyer holds contact and shipping details entered at checkout.
type Buyer struct {
	Name    string `json:"name" validate:"required,max=120"`
	Email   string `json:"email" validate:"required,email,max=254"`
	Address string `json:"address" validate:"required,max=200"`
	City    string `json:"city" validate:"required,max=100"`
	Country string `json:"country" validate:"required,max=100"`
	ZipCode string `json:"zipCode" validate:"required,max=20"`
}

// Normalise trims surrounding whitespace from every field.
func (b Buyer) Normalise() Buyer {
	return Buyer{
		Name:    strings.TrimSpace(b.Name),
		Email:   strings.TrimSpace(b.Email),
		Address: strings.TrimSpace(b.Address),
		City:    strings.TrimSpace(b.City),
		Country: strings.TrimSpace(b.Country),
		ZipCode: strings.TrimSpace(b.ZipCode),
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// FieldError names a buyer field that failed validation.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// ValidationError lists every invalid buyer field.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		names = append(names, f.Field)
	}
	return "invalid buyer details: " + strings.Join(names, ", ")
}

// Validate checks that every required buyer field is present and well formed.
func (b Buyer) Validate() error {
	err := validate.Struct(b)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &ValidationError{}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{Field: jsonName(fe.Field()), Rule: fe.Tag()})
	}
	return out
}

func jsonName(field string) string {
	if field == "" {
		return field
	}
	if field == "ZipCode" {
		return "zipCode"
	}
	return strings.ToLower(field[:1]) + field[1:]
}

// Line is one purchased product as frozen at checkout.
type Line struct {
	ProductID  string         `json:"id"`
	Kind       catalog.Kind   `json:"kind"`
	Title      string         `json:"title"`
	Quantity   int            `json:"quantity"`
	UnitPrice  pricing.Money  `json:"unitPrice"`
	PromoPrice *pricing.Money `json:"promoPrice,omitempty"`
}

// Order is written once after payment capture. Only FulfillmentStatus changes afterwards.
type Order struct {
	ID                string               `json:"id"`
	SessionID         string               `json:"sessionId"`
	Items             []Line               `json:"items"`
	Totals            pricing.Summary      `json:"totals"`
	Total             pricing.Money        `json:"total"`
	Currency          string               `json:"currency"`
	PromoCode         string               `json:"promoCode,omitempty"`
	Buyer             Buyer                `json:"buyer"`
	Payment           payment.Confirmation `json:"paymentDetails"`
	Status            string               `json:"status"`
	FulfillmentStatus FulfillmentStatus    `json:"fulfillmentStatus"`
	CreatedAt         time.Time            `json:"createdAt"`
	UpdatedAt         time.Time            `json:"updatedAt"`
}
