package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentIntentTotal counts payment intent creation outcomes.
	PaymentIntentTotal *prometheus.CounterVec
	// PaymentCaptureTotal counts capture outcomes (success, declined, cancelled, provider).
	PaymentCaptureTotal *prometheus.CounterVec
	// CheckoutTransitionTotal counts checkout state transitions by target state.
	CheckoutTransitionTotal *prometheus.CounterVec
	// PromoCodeAttemptTotal counts promo code submissions by outcome.
	PromoCodeAttemptTotal *prometheus.CounterVec
	// OrderUnrecordedTotal counts captured payments whose order could not be written.
	OrderUnrecordedTotal prometheus.Counter
	// PromotionDecodeSkippedTotal counts promotion records skipped at decode time.
	PromotionDecodeSkippedTotal prometheus.Counter
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentIntentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_intent_total",
			Help:      "Count of payment intent creation outcomes.",
		}, []string{"provider", "result"})
		PaymentCaptureTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_capture_total",
			Help:      "Count of payment capture outcomes.",
		}, []string{"provider", "result"})
		CheckoutTransitionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_transition_total",
			Help:      "Count of checkout session transitions by target state.",
		}, []string{"state"})
		PromoCodeAttemptTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promo_code_attempt_total",
			Help:      "Count of promo code submissions by outcome.",
		}, []string{"result"})
		OrderUnrecordedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_unrecorded_total",
			Help:      "Captured payments for which no order could be persisted.",
		})
		PromotionDecodeSkippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotion_decode_skipped_total",
			Help:      "Promotion records skipped because they failed validation.",
		})

		PaymentIntentTotal = register(reg, PaymentIntentTotal)
		PaymentCaptureTotal = register(reg, PaymentCaptureTotal)
		CheckoutTransitionTotal = register(reg, CheckoutTransitionTotal)
		PromoCodeAttemptTotal = register(reg, PromoCodeAttemptTotal)
		OrderUnrecordedTotal = register(reg, OrderUnrecordedTotal)
		PromotionDecodeSkippedTotal = register(reg, PromotionDecodeSkippedTotal)
	})
}

// IncCounter increments vec with labels when the collector is registered.
func IncCounter(vec *prometheus.CounterVec, labels ...string) {
	if vec == nil {
		return
	}
	vec.WithLabelValues(labels...).Inc()
}
