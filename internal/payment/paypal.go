package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/alkahf/storefront/internal/pricing"
	"github.com/alkahf/storefront/internal/resilience"
)

// PayPalConfig configures the PayPal Orders v2 client.
type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	Timeout      time.Duration
	BrandName    string
	ReturnURL    string
	CancelURL    string
}

// PayPal implements Provider against the PayPal Orders v2 REST API.
type PayPal struct {
	cfg  PayPalConfig
	http resilience.HTTPClient
	now  func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewPayPal constructs a PayPal provider. Outbound calls go through a circuit
// breaker and are traced with otelhttp.
func NewPayPal(cfg PayPalConfig, breaker *resilience.Breaker) (*PayPal, error) {
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, errors.New("paypal: client id and secret are required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api-m.sandbox.paypal.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if breaker == nil {
		breaker = resilience.NewBreaker(5, 0.5, 30*time.Second).WithTarget("paypal")
	}
	client := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	return &PayPal{
		cfg: cfg,
		http: resilience.HTTPClient{
			Client:      client,
			Breaker:     breaker,
			MaxAttempts: 3,
			BaseBackoff: 200 * time.Millisecond,
			Jitter:      0.2,
			Timeout:     cfg.Timeout,
		},
		now: time.Now,
	}, nil
}

// Name implements Provider.
func (p *PayPal) Name() string { return "paypal" }

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type paypalOrder struct {
	ID            string       `json:"id"`
	Status        string       `json:"status"`
	Links         []paypalLink `json:"links"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				ID     string       `json:"id"`
				Status string       `json:"status"`
				Amount paypalAmount `json:"amount"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
	Payer struct {
		EmailAddress string `json:"email_address"`
	} `json:"payer"`
}

type paypalError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Details []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
}

// CreateIntent opens a PayPal order for amount and returns the approval link.
func (p *PayPal) CreateIntent(ctx context.Context, amount pricing.Money, currency string) (IntentHandle, error) {
	if !amount.IsPositive() {
		return IntentHandle{}, &Error{Kind: KindProvider, Message: "amount must be positive"}
	}
	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"amount": paypalAmount{CurrencyCode: currency, Value: amount.StringFixed(2)},
		}},
	}
	if p.cfg.ReturnURL != "" || p.cfg.CancelURL != "" || p.cfg.BrandName != "" {
		body["application_context"] = map[string]string{
			"brand_name": p.cfg.BrandName,
			"return_url": p.cfg.ReturnURL,
			"cancel_url": p.cfg.CancelURL,
		}
	}
	var order paypalOrder
	if _, err := p.call(ctx, http.MethodPost, "/v2/checkout/orders", "", body, &order); err != nil {
		return IntentHandle{}, err
	}
	handle := IntentHandle{Provider: p.Name(), ID: order.ID, Amount: amount, Currency: currency}
	for _, l := range order.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			handle.ApproveURL = l.Href
			break
		}
	}
	return handle, nil
}

// Capture captures an approved PayPal order. The order id doubles as the
// PayPal-Request-Id so retried captures are not charged twice.
func (p *PayPal) Capture(ctx context.Context, handle IntentHandle) (Confirmation, error) {
	if handle.ID == "" {
		return Confirmation{}, &Error{Kind: KindProvider, Message: "missing payment handle"}
	}
	var order paypalOrder
	path := "/v2/checkout/orders/" + url.PathEscape(handle.ID)
	raw, err := p.call(ctx, http.MethodPost, path+"/capture", "capture-"+handle.ID, struct{}{}, &order)
	if hasIssue(err, "ORDER_ALREADY_CAPTURED") {
		// an earlier attempt went through; read the captured order back
		order = paypalOrder{}
		raw, err = p.call(ctx, http.MethodGet, path, "", nil, &order)
	}
	if err != nil {
		return Confirmation{}, err
	}
	if order.Status != "COMPLETED" {
		return Confirmation{}, &Error{Kind: KindDeclined, Message: "payment not completed (" + strings.ToLower(order.Status) + ")"}
	}
	conf := Confirmation{
		Provider:   p.Name(),
		IntentID:   order.ID,
		Status:     order.Status,
		Amount:     handle.Amount,
		Currency:   handle.Currency,
		PayerEmail: order.Payer.EmailAddress,
		CapturedAt: p.now().UTC(),
		Raw:        raw,
	}
	if len(order.PurchaseUnits) > 0 && len(order.PurchaseUnits[0].Payments.Captures) > 0 {
		c := order.PurchaseUnits[0].Payments.Captures[0]
		conf.CaptureID = c.ID
		if v, err := decimal.NewFromString(c.Amount.Value); err == nil {
			conf.Amount = v
		}
		if c.Amount.CurrencyCode != "" {
			conf.Currency = c.Amount.CurrencyCode
		}
	}
	return conf, nil
}

func (p *PayPal) call(ctx context.Context, method, path, requestID string, in, out any) (json.RawMessage, error) {
	token, err := p.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")
	if requestID != "" {
		req.Header.Set("PayPal-Request-Id", requestID)
	}
	resp, err := p.http.Do(ctx, req)
	if err != nil {
		return nil, &Error{Kind: KindProvider, Message: "payment provider unreachable", Err: err}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &Error{Kind: KindProvider, Err: err}
	}
	if resp.StatusCode == http.StatusUnauthorized {
		p.resetToken()
	}
	if resp.StatusCode >= 300 {
		return nil, classify(resp.StatusCode, data)
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return nil, &Error{Kind: KindProvider, Message: "unexpected provider response", Err: err}
		}
	}
	return data, nil
}

func classify(status int, body []byte) error {
	var pe paypalError
	_ = json.Unmarshal(body, &pe)
	issue := ""
	if len(pe.Details) > 0 {
		issue = pe.Details[0].Issue
	}
	message := pe.Message
	if len(pe.Details) > 0 && pe.Details[0].Description != "" {
		message = pe.Details[0].Description
	}
	if message == "" {
		message = http.StatusText(status)
	}
	cause := &issueError{Status: status, Name: pe.Name, Issue: issue}
	switch issue {
	case "INSTRUMENT_DECLINED", "PAYER_ACTION_REQUIRED", "TRANSACTION_REFUSED", "PAYER_CANNOT_PAY":
		return &Error{Kind: KindDeclined, Message: message, Err: cause}
	case "ORDER_NOT_APPROVED", "ORDER_EXPIRED":
		return &Error{Kind: KindCancelled, Message: message, Err: cause}
	}
	return &Error{Kind: KindProvider, Message: message, Err: cause}
}

// issueError is the PayPal error envelope behind a classified Error.
type issueError struct {
	Status int
	Name   string
	Issue  string
}

func (e *issueError) Error() string {
	return fmt.Sprintf("paypal %d %s %s", e.Status, e.Name, e.Issue)
}

func hasIssue(err error, issue string) bool {
	var ie *issueError
	return errors.As(err, &ie) && ie.Issue == issue
}

func (p *PayPal) accessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token != "" && p.now().Before(p.tokenExpiry) {
		return p.token, nil
	}
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(p.cfg.ClientID, p.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := p.http.Do(ctx, req)
	if err != nil {
		return "", &Error{Kind: KindProvider, Message: "payment provider unreachable", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", &Error{Kind: KindProvider, Message: "payment provider authentication failed", Err: fmt.Errorf("paypal oauth status %d", resp.StatusCode)}
	}
	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", &Error{Kind: KindProvider, Err: err}
	}
	p.token = tok.AccessToken
	// refresh a minute early
	p.tokenExpiry = p.now().Add(time.Duration(tok.ExpiresIn)*time.Second - time.Minute)
	return p.token, nil
}

func (p *PayPal) resetToken() {
	p.mu.Lock()
	p.token = ""
	p.mu.Unlock()
}
