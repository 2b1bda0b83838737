package payment_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/alkahf/storefront/internal/payment"
)

type paypalStub struct {
	tokenCalls   atomic.Int32
	captureReply func(w http.ResponseWriter)
	lastRequest  atomic.Value
}

func (s *paypalStub) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		s.tokenCalls.Add(1)
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "expires_in": 3600})
	})
	mux.HandleFunc("/v2/checkout/orders", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		s.lastRequest.Store(string(body))
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"5O190127TN364715T","status":"CREATED","links":[{"href":"https://paypal.test/checkoutnow?token=5O190127TN364715T","rel":"approve"}]}`)
	})
	mux.HandleFunc("/v2/checkout/orders/5O190127TN364715T", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		_, _ = io.WriteString(w, `{"id":"5O190127TN364715T","status":"COMPLETED",
			"purchase_units":[{"payments":{"captures":[{"id":"3C679366HH908993F","status":"COMPLETED","amount":{"currency_code":"EUR","value":"53.40"}}]}}]}`)
	})
	mux.HandleFunc("/v2/checkout/orders/5O190127TN364715T/capture", func(w http.ResponseWriter, r *http.Request) {
		s.lastRequest.Store(r.Header.Get("PayPal-Request-Id"))
		s.captureReply(w)
	})
	return mux
}

func newPayPal(t *testing.T, stub *paypalStub) *payment.PayPal {
	t.Helper()
	srv := httptest.NewServer(stub.handler(t))
	t.Cleanup(srv.Close)
	pp, err := payment.NewPayPal(payment.PayPalConfig{ClientID: "client", ClientSecret: "secret", BaseURL: srv.URL}, nil)
	require.NoError(t, err)
	return pp
}

func TestPayPalCreateAndCapture(t *testing.T) {
	stub := &paypalStub{captureReply: func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"5O190127TN364715T","status":"COMPLETED","payer":{"email_address":"buyer@example.com"},
			"purchase_units":[{"payments":{"captures":[{"id":"3C679366HH908993F","status":"COMPLETED","amount":{"currency_code":"EUR","value":"53.40"}}]}}]}`)
	}}
	pp := newPayPal(t, stub)
	ctx := context.Background()

	handle, err := pp.CreateIntent(ctx, decimal.RequireFromString("53.4"), "EUR")
	require.NoError(t, err)
	require.Equal(t, "5O190127TN364715T", handle.ID)
	require.Contains(t, handle.ApproveURL, "checkoutnow")
	require.JSONEq(t, `{"intent":"CAPTURE","purchase_units":[{"amount":{"currency_code":"EUR","value":"53.40"}}]}`, stub.lastRequest.Load().(string))

	conf, err := pp.Capture(ctx, handle)
	require.NoError(t, err)
	require.Equal(t, "3C679366HH908993F", conf.CaptureID)
	require.Equal(t, "COMPLETED", conf.Status)
	require.Equal(t, "53.40", conf.Amount.StringFixed(2))
	require.Equal(t, "buyer@example.com", conf.PayerEmail)
	require.NotEmpty(t, conf.Raw)
	require.Equal(t, "capture-5O190127TN364715T", stub.lastRequest.Load().(string))

	require.EqualValues(t, 1, stub.tokenCalls.Load(), "token is cached between calls")
}

func TestPayPalCaptureErrorsAreClassified(t *testing.T) {
	cases := []struct {
		name  string
		issue string
		want  payment.ErrorKind
	}{
		{"declined", "INSTRUMENT_DECLINED", payment.KindDeclined},
		{"not approved", "ORDER_NOT_APPROVED", payment.KindCancelled},
		{"other", "INTERNAL_SERVICE_ERROR", payment.KindProvider},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stub := &paypalStub{captureReply: func(w http.ResponseWriter) {
				w.WriteHeader(http.StatusUnprocessableEntity)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"name":    "UNPROCESSABLE_ENTITY",
					"message": "The requested action could not be performed.",
					"details": []map[string]string{{"issue": tc.issue, "description": "issue " + tc.issue}},
				})
			}}
			pp := newPayPal(t, stub)
			_, err := pp.Capture(context.Background(), payment.IntentHandle{ID: "5O190127TN364715T", Amount: decimal.NewFromInt(10), Currency: "EUR"})
			pe, ok := payment.AsError(err)
			require.True(t, ok)
			require.Equal(t, tc.want, pe.Kind)
			require.Equal(t, "issue "+tc.issue, pe.Message)
		})
	}
}

func TestPayPalCaptureAlreadyCapturedReadsOrderBack(t *testing.T) {
	stub := &paypalStub{captureReply: func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"name":"UNPROCESSABLE_ENTITY","details":[{"issue":"ORDER_ALREADY_CAPTURED"}]}`)
	}}
	pp := newPayPal(t, stub)
	conf, err := pp.Capture(context.Background(), payment.IntentHandle{ID: "5O190127TN364715T", Amount: decimal.RequireFromString("53.40"), Currency: "EUR"})
	require.NoError(t, err)
	require.Equal(t, "3C679366HH908993F", conf.CaptureID)
}

func TestPayPalRejectsNonPositiveAmount(t *testing.T) {
	pp := newPayPal(t, &paypalStub{})
	_, err := pp.CreateIntent(context.Background(), decimal.Zero, "EUR")
	pe, ok := payment.AsError(err)
	require.True(t, ok)
	require.Equal(t, payment.KindProvider, pe.Kind)
}

func TestMockProvider(t *testing.T) {
	m := payment.NewMock()
	ctx := context.Background()
	h, err := m.CreateIntent(ctx, decimal.RequireFromString("12.10"), "EUR")
	require.NoError(t, err)

	m.FailNext(&payment.Error{Kind: payment.KindDeclined, Message: "card refused"})
	_, err = m.Capture(ctx, h)
	require.Error(t, err)

	conf, err := m.Capture(ctx, h)
	require.NoError(t, err)
	require.Equal(t, h.ID, conf.IntentID)
	require.Len(t, m.Captured, 1)
}
