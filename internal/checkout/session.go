package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/alkahf/storefront/internal/cart"
	"github.com/alkahf/storefront/internal/order"
	"github.com/alkahf/storefront/internal/payment"
	"github.com/alkahf/storefront/internal/pricing"
)

// State is the checkout lifecycle position of a browsing session.
type State string

const (
	StateEmpty           State = "empty"
	StateFilling         State = "filling"
	StateAwaitingPayment State = "awaiting_payment"
	StatePaid            State = "paid"
	StateFailed          State = "failed"
	StateCancelled       State = "cancelled"
)

// Frozen holds the line items and totals captured when payment begins.
type Frozen struct {
	Items    []cart.LineItem `json:"items"`
	Totals   pricing.Summary `json:"totals"`
	FrozenAt time.Time       `json:"frozenAt"`
}

// Session is the persisted checkout state for one browsing session.
type Session struct {
	ID           string                `json:"id"`
	State        State                 `json:"state"`
	Buyer        *order.Buyer          `json:"buyer,omitempty"`
	PromoCode    string                `json:"promoCode,omitempty"`
	PromoPercent int                   `json:"promoPercent,omitempty"`
	PromotionID  string                `json:"promotionId,omitempty"`
	Frozen       *Frozen               `json:"frozen,omitempty"`
	Intent       *payment.IntentHandle `json:"intent,omitempty"`
	Confirmation *payment.Confirmation `json:"confirmation,omitempty"`
	// PendingOrderID is fixed when totals freeze so that order writes retried
	// after a failure target the same record.
	PendingOrderID string    `json:"pendingOrderId,omitempty"`
	OrderID        string    `json:"orderId,omitempty"`
	LastError      string    `json:"lastError,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func newSession(id string) *Session {
	return &Session{ID: id, State: StateEmpty}
}

// frozen reports whether totals are locked for payment.
func (s *Session) frozen() bool {
	return s.State == StateAwaitingPayment && s.Frozen != nil
}

// unfreeze drops everything tied to the last payment attempt.
func (s *Session) unfreeze() {
	s.Frozen = nil
	s.Intent = nil
	s.Confirmation = nil
	s.PendingOrderID = ""
}

// restart prepares a paid session for a new purchase, keeping buyer details.
func (s *Session) restart() {
	s.unfreeze()
	s.PromoCode = ""
	s.PromoPercent = 0
	s.PromotionID = ""
	s.OrderID = ""
	s.LastError = ""
	s.State = StateFilling
}

// SessionStore persists checkout sessions.
type SessionStore interface {
	// Get returns nil without error when the session has no checkout state.
	Get(ctx context.Context, id string) (*Session, error)
	Put(ctx context.Context, s *Session) error
}

// RedisStore keeps checkout sessions as JSON documents in Redis.
type RedisStore struct {
	R   *redis.Client
	TTL time.Duration
}

// DefaultSessionTTL bounds how long an idle checkout session survives.
const DefaultSessionTTL = 2 * time.Hour

func (s RedisStore) key(id string) string {
	return "checkout:session:" + id
}

func (s RedisStore) ttl() time.Duration {
	if s.TTL <= 0 {
		return DefaultSessionTTL
	}
	return s.TTL
}

// Get implements SessionStore.
func (s RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	if s.R == nil {
		return nil, errors.New("checkout: redis not configured")
	}
	raw, err := s.R.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checkout: load session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("checkout: decode session: %w", err)
	}
	return &sess, nil
}

// Put implements SessionStore. Sessions awaiting payment never expire while
// a captured payment is unrecorded.
func (s RedisStore) Put(ctx context.Context, sess *Session) error {
	if s.R == nil {
		return errors.New("checkout: redis not configured")
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("checkout: encode session: %w", err)
	}
	ttl := s.ttl()
	if sess.Confirmation != nil && sess.OrderID == "" {
		ttl = 0
	}
	if err := s.R.Set(ctx, s.key(sess.ID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("checkout: save session: %w", err)
	}
	return nil
}
