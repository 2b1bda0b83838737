package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/alkahf/storefront/internal/pricing"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string

	TaxRatePercent int
	ShippingTiers  pricing.Tiers
	CurrencyCode   string
	PromoLocation  *time.Location

	CartSessionTTL     time.Duration
	CheckoutSessionTTL time.Duration
	CatalogCacheTTL    time.Duration
	IdempotencyTTL     time.Duration
	LockRetryBackoff   time.Duration
	SessionLockTTL     time.Duration
	PromoRateLimit     string

	PaymentProvider    string
	PayPalClientID     string
	PayPalClientSecret string
	PayPalBaseURL      string
	PayPalTimeout      time.Duration
	PayPalReturnURL    string
	PayPalCancelURL    string

	AdminJWTSecret string
	AdminJWTIssuer string

	LogFormat         string
	LogLevel          string
	MetricsNamespace  string
	MetricsBucketsMS  string
	EnablePrometheus  bool
	EnableTracing     bool
	OTLPEndpoint      string
	TracingSampling   float64
	WorkerConcurrency int
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		CurrencyCode: strings.ToUpper(valueOrDefault(k.String("CURRENCY_CODE"), "EUR")),

		CartSessionTTL:     parseDuration(k.String("CART_SESSION_TTL"), "168h"),
		CheckoutSessionTTL: parseDuration(k.String("CHECKOUT_SESSION_TTL"), "2h"),
		CatalogCacheTTL:    parseDuration(k.String("CATALOG_CACHE_TTL"), "1m"),
		IdempotencyTTL:     parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		LockRetryBackoff:   parseDuration(k.String("LOCK_RETRY_BACKOFF"), "25ms"),
		SessionLockTTL:     parseDuration(k.String("SESSION_LOCK_TTL"), "60s"),
		PromoRateLimit:     valueOrDefault(k.String("PROMO_RATE_LIMIT"), "10-M"),

		PaymentProvider:    strings.ToLower(valueOrDefault(k.String("PAYMENT_PROVIDER"), "mock")),
		PayPalClientID:     k.String("PAYPAL_CLIENT_ID"),
		PayPalClientSecret: k.String("PAYPAL_CLIENT_SECRET"),
		PayPalBaseURL:      valueOrDefault(k.String("PAYPAL_BASE_URL"), "https://api-m.sandbox.paypal.com"),
		PayPalTimeout:      parseDuration(k.String("PAYPAL_TIMEOUT"), "15s"),
		PayPalReturnURL:    k.String("PAYPAL_RETURN_URL"),
		PayPalCancelURL:    k.String("PAYPAL_CANCEL_URL"),

		AdminJWTSecret: k.String("ADMIN_JWT_SECRET"),
		AdminJWTIssuer: valueOrDefault(k.String("ADMIN_JWT_ISSUER"), "storefront"),

		LogFormat:         valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
		LogLevel:          valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
		MetricsNamespace:  valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "storefront"),
		MetricsBucketsMS:  k.String("OBS_METRICS_BUCKETS_MS"),
		EnablePrometheus:  parseBool(k.String("OBS_ENABLE_PROMETHEUS"), true),
		EnableTracing:     parseBool(k.String("OBS_ENABLE_TRACING"), false),
		OTLPEndpoint:      k.String("OBS_OTLP_ENDPOINT"),
		TracingSampling:   parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1),
		WorkerConcurrency: parseInt(k.String("WORKER_CONCURRENCY"), 5),
	}

	var err error
	if cfg.TaxRatePercent, err = parseIntStrict(k.String("TAX_RATE_PERCENT"), pricing.DefaultTaxRatePercent); err != nil || cfg.TaxRatePercent < 0 {
		return nil, fmt.Errorf("TAX_RATE_PERCENT must be a non-negative integer")
	}
	cfg.ShippingTiers = pricing.DefaultTiers()
	if raw := strings.TrimSpace(k.String("SHIPPING_TIERS")); raw != "" {
		if cfg.ShippingTiers, err = pricing.ParseTiers(raw); err != nil {
			return nil, fmt.Errorf("SHIPPING_TIERS: %w", err)
		}
	}
	if cfg.PromoLocation, err = time.LoadLocation(valueOrDefault(k.String("PROMO_TIMEZONE"), "UTC")); err != nil {
		return nil, fmt.Errorf("PROMO_TIMEZONE: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	switch cfg.PaymentProvider {
	case "mock":
	case "paypal":
		if cfg.PayPalClientID == "" || cfg.PayPalClientSecret == "" {
			return nil, errors.New("PAYPAL_CLIENT_ID and PAYPAL_CLIENT_SECRET are required for the paypal provider")
		}
	default:
		return nil, fmt.Errorf("unknown PAYMENT_PROVIDER %q", cfg.PaymentProvider)
	}
	// a capture may make three PayPal calls while holding the session lock
	if minTTL := 3 * cfg.PayPalTimeout; cfg.SessionLockTTL <= minTTL {
		return nil, fmt.Errorf("SESSION_LOCK_TTL must exceed %s (three PAYPAL_TIMEOUT calls)", minTTL)
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// Production reports whether the service runs in the production environment.
func (c *Config) Production() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func parseIntStrict(value string, fallback int) (int, error) {
	if strings.TrimSpace(value) == "" {
		return fallback, nil
	}
	return strconv.Atoi(strings.TrimSpace(value))
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
