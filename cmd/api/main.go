package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/alkahf/storefront/internal/auth"
	"github.com/alkahf/storefront/internal/cart"
	"github.com/alkahf/storefront/internal/catalog"
	"github.com/alkahf/storefront/internal/checkout"
	"github.com/alkahf/storefront/internal/common"
	"github.com/alkahf/storefront/internal/config"
	"github.com/alkahf/storefront/internal/docstore"
	"github.com/alkahf/storefront/internal/events"
	"github.com/alkahf/storefront/internal/health"
	"github.com/alkahf/storefront/internal/incident"
	"github.com/alkahf/storefront/internal/lock"
	"github.com/alkahf/storefront/internal/obs"
	"github.com/alkahf/storefront/internal/order"
	"github.com/alkahf/storefront/internal/payment"
	"github.com/alkahf/storefront/internal/pricing"
	"github.com/alkahf/storefront/internal/promotion"
	"github.com/alkahf/storefront/internal/ratelimit"
	"github.com/alkahf/storefront/internal/repo"
	"github.com/alkahf/storefront/internal/resilience"
	"github.com/alkahf/storefront/internal/security"
)

const maxBodyBytes = 64 << 10

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.EnablePrometheus {
		obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)
		resilience.MustRegisterMetrics(nil)
	}
	tracingEnabled := cfg.EnableTracing
	if tracingEnabled {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   "storefront-api",
			Endpoint:      cfg.OTLPEndpoint,
			SamplingRatio: cfg.TracingSampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	if err := docstore.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal().Err(err).Msg("migrate document store")
	}
	pool := mustInitDatabase(ctx, cfg, logger)
	defer pool.Close()
	docs := docstore.New(pool)

	redisClient := mustInitRedis(ctx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	asynqOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url for task queue")
	}
	taskClient := asynq.NewClient(asynqOpt)
	defer func() {
		if err := taskClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close task client")
		}
	}()

	calc := pricing.Calculator{TaxRatePercent: cfg.TaxRatePercent, Shipping: cfg.ShippingTiers}
	locker := lock.Locker{R: redisClient, RetryBackoff: cfg.LockRetryBackoff, SessionTTL: cfg.SessionLockTTL}
	bus := &events.Bus{
		Store:     repo.EventRepo{Docs: docs},
		Notifiers: []events.Notifier{events.LogNotifier{Logger: logger.With().Str("component", "events").Logger()}},
	}

	resolver := &promotion.Resolver{
		Reader: repo.PromotionRepo{Docs: docs, Location: cfg.PromoLocation, Logger: logger},
		Logger: logger,
	}
	catalogSvc, err := catalog.NewService(catalog.ServiceConfig{
		Reader:     repo.ProductRepo{Docs: docs},
		Promotions: resolver,
		Cache:      catalog.NewCache(redisClient, cfg.CatalogCacheTTL),
		Calculator: calc,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise catalog service")
	}

	carts := cart.RedisSessions{R: redisClient, TTL: cfg.CartSessionTTL}
	cartSvc := &cart.Service{
		Products:   catalogSvc,
		Sessions:   carts,
		Locker:     locker,
		Calculator: calc,
		Logger:     logger,
	}

	payments, err := newPaymentProvider(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise payment provider")
	}
	orders := repo.OrderRepo{Docs: docs}
	checkoutSvc := &checkout.Service{
		Sessions:   checkout.RedisStore{R: redisClient, TTL: cfg.CheckoutSessionTTL},
		Carts:      carts,
		Promotions: resolver,
		Stock:      catalogSvc,
		Payments:   payments,
		Orders:     orders,
		Escalator:  incident.Enqueuer{Client: taskClient},
		Locker:     locker,
		Events:     bus,
		Calculator: calc,
		Currency:   cfg.CurrencyCode,
		Logger:     logger,
	}

	promoLimiter, err := ratelimit.NewRedis(redisClient, "ratelimit:promo:", cfg.PromoRateLimit)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise promo rate limiter")
	}
	promoLimit := ratelimit.Handler{
		Limiter: promoLimiter,
		Key:     ratelimit.SessionOrIP,
		OnError: func(err error) { logger.Warn().Err(err).Msg("promo rate limiter unavailable") },
	}
	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}

	catalogHandler := catalog.NewHandler(catalog.HandlerConfig{Service: catalogSvc})
	promotionHandler := &promotion.Handler{Resolver: resolver}
	cartHandler := &cart.Handler{Svc: cartSvc}
	checkoutHandler := &checkout.Handler{Svc: checkoutSvc, PromoLimit: promoLimit.Middleware, Idempotency: idem.Middleware}
	orderAdmin := &order.AdminHandler{Svc: &order.Service{Repo: orders, Events: bus, Logger: logger}}
	guard := auth.Guard{Secret: []byte(cfg.AdminJWTSecret), Issuer: cfg.AdminJWTIssuer, ClockSkew: 30 * time.Second}

	healthHandler := health.Handler{Probes: map[string]health.Probe{
		"docstore": docs.Ping,
		"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	}}

	r := chi.NewRouter()
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if cfg.EnablePrometheus {
		httpMetrics := obs.NewHTTPMetrics(cfg.MetricsNamespace, obs.ParseBucketsCSV(cfg.MetricsBucketsMS), nil)
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
		r.Handle("/metrics", promhttp.Handler())
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{HSTSMaxAge: hstsMaxAge(cfg)}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", common.SessionHeader, common.IdempotencyHeader},
		ExposedHeaders:   []string{common.SessionHeader, "Idempotent-Replayed", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(security.BodyLimit{Max: maxBodyBytes}.Middleware)

		v.Post("/sessions", common.CreateSession)
		v.Route("/promotions", promotionHandler.Routes)
		v.Route("/cart", func(c chi.Router) {
			c.Use(common.RequireSession)
			cartHandler.Routes(c)
		})
		v.Route("/checkout", func(c chi.Router) {
			c.Use(common.RequireSession)
			checkoutHandler.Routes(c)
		})
		if len(cfg.AdminJWTSecret) > 0 {
			v.Route("/admin/orders", func(a chi.Router) {
				a.Use(guard.Require)
				orderAdmin.Routes(a)
			})
		} else {
			logger.Warn().Msg("ADMIN_JWT_SECRET not set, admin routes disabled")
		}
		catalogHandler.Routes(v)
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown http server")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Str("payment_provider", payments.Name()).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server stopped")
}

func mustInitDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "storefront-api"

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(connectCtx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if cfg.EnablePrometheus {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return client
}

func newPaymentProvider(cfg *config.Config, logger zerolog.Logger) (payment.Provider, error) {
	switch cfg.PaymentProvider {
	case "paypal":
		breaker := resilience.NewBreaker(5, 0.5, 30*time.Second).WithTarget("paypal").WithLogger(logger)
		return payment.NewPayPal(payment.PayPalConfig{
			ClientID:     cfg.PayPalClientID,
			ClientSecret: cfg.PayPalClientSecret,
			BaseURL:      cfg.PayPalBaseURL,
			Timeout:      cfg.PayPalTimeout,
			BrandName:    "Alkahf",
			ReturnURL:    cfg.PayPalReturnURL,
			CancelURL:    cfg.PayPalCancelURL,
		}, breaker)
	default:
		if cfg.Production() {
			return nil, errors.New("mock payment provider is not allowed in production")
		}
		return payment.NewMock(), nil
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func hstsMaxAge(cfg *config.Config) int {
	if cfg.Production() {
		return 31536000
	}
	return 0
}
