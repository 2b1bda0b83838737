package payment

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alkahf/storefront/internal/pricing"
)

// Mock is an in-process provider for local development and tests. Capture
// outcomes can be scripted per intent.
type Mock struct {
	mu       sync.Mutex
	outcomes map[string]error
	Captured []Confirmation
	Intents  []IntentHandle
}

// NewMock returns a provider that approves every payment.
func NewMock() *Mock {
	return &Mock{outcomes: map[string]error{}}
}

// Name implements Provider.
func (m *Mock) Name() string { return "mock" }

// FailNext makes the next capture of any intent fail with err.
func (m *Mock) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes["*"] = err
}

// CreateIntent implements Provider.
func (m *Mock) CreateIntent(_ context.Context, amount pricing.Money, currency string) (IntentHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := "MOCK-" + strings.ToUpper(uuid.NewString()[:8])
	h := IntentHandle{Provider: m.Name(), ID: id, ApproveURL: "/mock/approve/" + id, Amount: amount, Currency: currency}
	m.Intents = append(m.Intents, h)
	return h, nil
}

// Capture implements Provider.
func (m *Mock) Capture(_ context.Context, handle IntentHandle) (Confirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.outcomes["*"]; ok {
		delete(m.outcomes, "*")
		return Confirmation{}, err
	}
	conf := Confirmation{
		Provider:   m.Name(),
		IntentID:   handle.ID,
		CaptureID:  "CAP-" + handle.ID,
		Status:     "COMPLETED",
		Amount:     handle.Amount,
		Currency:   handle.Currency,
		CapturedAt: time.Now().UTC(),
	}
	m.Captured = append(m.Captured, conf)
	return conf, nil
}
