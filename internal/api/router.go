package api

import (
	"github.com/ayo6706/marketplace-settlement/internal/api/handler"
	"github.com/ayo6706/marketplace-settlement/internal/api/middleware"
	"github.com/ayo6706/marketplace-settlement/internal/api/spec"
	"github.com/ayo6706/marketplace-settlement/internal/config"
	"github.com/ayo6706/marketplace-settlement/internal/idempotency"
	"github.com/ayo6706/marketplace-settlement/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Services groups the domain services the HTTP layer calls.
type Services struct {
	Accounts   *service.AccountService
	Orders     *service.OrderService
	Settlement *service.SettlementService
	Webhooks   *service.WebhookService
	Payouts    *service.PayoutService
}

type Router struct {
	cfg    *config.Config
	logger *zap.Logger
	db     handler.Pinger
	idem   *idempotency.Store
	redis  redis.Cmdable
	auth   *middleware.Auth
	svc    Services
}

// NewRouter wires handlers onto a chi router. A nil redis client reports the
// cache as skipped in readiness checks.
func NewRouter(cfg *config.Config, logger *zap.Logger, db handler.Pinger, idem *idempotency.Store, rdb redis.Cmdable, auth *middleware.Auth, svc Services) *Router {
	return &Router{
		cfg:    cfg,
		logger: logger,
		db:     db,
		idem:   idem,
		redis:  rdb,
		auth:   auth,
		svc:    svc,
	}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	authHandler := handler.NewAuthHandler(api.svc.Accounts, api.auth)
	accountHandler := handler.NewAccountHandler(api.svc.Accounts)
	orderHandler := handler.NewOrderHandler(api.svc.Orders, api.svc.Settlement)
	payoutHandler := handler.NewPayoutHandler(api.svc.Payouts)
	webhookHandler := handler.NewWebhookHandler(api.svc.Webhooks)
	healthHandler := handler.NewHealthHandler(api.db, api.redis)
	idem := middleware.Idempotency(api.idem, api.logger)

	r.Get("/healthz", healthHandler.Live)
	r.Get("/readyz", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))
		r.Post("/v1/auth/token", authHandler.IssueToken)
		r.Post("/v1/accounts", accountHandler.CreateAccount)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.WebhookRateLimiter(api.cfg.PublicRateLimitRPS))
		r.Post("/v1/webhooks/split", webhookHandler.HandleSplitWebhook)
		r.Post("/v1/webhooks/push", webhookHandler.HandlePushWebhook)
	})

	r.Group(func(r chi.Router) {
		r.Use(api.auth.Middleware)
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))

		r.Post("/v1/orders", orderHandler.CreateOrder)
		r.Get("/v1/orders/{id}", orderHandler.GetOrder)
		r.Patch("/v1/orders/{id}/items/{itemID}", orderHandler.UpdateItemStatus)
		r.With(idem).Post("/v1/orders/{id}/checkout", orderHandler.Checkout)
		r.Post("/v1/orders/{id}/items/{itemID}/return", orderHandler.RequestReturn)

		r.Get("/v1/accounts/{id}/balance", accountHandler.GetBalance)
		r.Get("/v1/accounts/{id}/history", accountHandler.GetHistory)
		r.Post("/v1/products", accountHandler.CreateProduct)
		r.Post("/v1/transactions/{reference}/verify", webhookHandler.VerifyTransaction)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(handler.RoleAdmin))

			r.With(idem).Post("/v1/orders/{id}/items/{itemID}/refund", orderHandler.Refund)
			r.Post("/v1/orders/{id}/items/{itemID}/refund/complete", orderHandler.CompleteRefund)
			r.Post("/v1/orders/{id}/items/{itemID}/return/resolve", orderHandler.ResolveReturn)

			r.With(idem).Post("/v1/payouts", payoutHandler.CreatePayout)
			r.Get("/v1/payouts/manual-review", payoutHandler.ListManualReviewPayouts)
			r.Get("/v1/payouts/{id}", payoutHandler.GetPayout)
			r.Post("/v1/payouts/{id}/resolve", payoutHandler.ResolveManualReviewPayout)
		})
	})

	return r
}
