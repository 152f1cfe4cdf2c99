package api

import (
	"github.com/ayo6706/deposit-settlement/internal/api/handler"
	"github.com/ayo6706/deposit-settlement/internal/api/middleware"
	"github.com/ayo6706/deposit-settlement/internal/api/spec"
	"github.com/ayo6706/deposit-settlement/internal/config"
	"github.com/ayo6706/deposit-settlement/internal/idempotency"
	"github.com/ayo6706/deposit-settlement/internal/repository"
	"github.com/ayo6706/deposit-settlement/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

type Router struct {
	cfg        *config.Config
	logger     *zap.Logger
	db         *pgxpool.Pool
	repo       *repository.Repository
	idem       *idempotency.Store
	redis      redis.Cmdable
	accounts   *service.AccountService
	invoices   *service.InvoiceService
	status     *service.StatusService
	settlement *service.SettlementService
}

func NewRouter(
	cfg *config.Config,
	logger *zap.Logger,
	db *pgxpool.Pool,
	repo *repository.Repository,
	idem *idempotency.Store,
	redis redis.Cmdable,
	accounts *service.AccountService,
	invoices *service.InvoiceService,
	status *service.StatusService,
	settlement *service.SettlementService,
) *Router {
	return &Router{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		repo:       repo,
		idem:       idem,
		redis:      redis,
		accounts:   accounts,
		invoices:   invoices,
		status:     status,
		settlement: settlement,
	}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.CORSMiddleware(api.cfg.CORSAllowedOrigins))
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	// Handlers
	healthHandler := handler.NewHealthHandler(api.db, api.redis)
	webhookHandler := handler.NewWebhookHandler(api.settlement, api.cfg.WebhookSecret, api.cfg.WebhookSkipSignature)
	profileHandler := handler.NewProfileHandler(api.repo)
	accountHandler := handler.NewAccountHandler(api.accounts)
	depositHandler := handler.NewDepositHandler(api.invoices, api.status)

	// Operational
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

	// Gateway callbacks
	r.With(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS)).
		Post("/v1/webhooks/oxapay", webhookHandler.HandleGatewayWebhook)

	// Protected Routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))

		r.Post("/v1/profiles", profileHandler.CreateProfile)

		r.Get("/v1/balance", accountHandler.GetBalance)
		r.Get("/v1/balance/transactions", accountHandler.GetStatement)

		r.Get("/v1/deposits", depositHandler.ListDeposits)
		r.Get("/v1/deposits/{id}", depositHandler.GetDeposit)
		r.With(middleware.IdempotencyMiddleware(api.idem, api.logger)).
			Post("/v1/deposits", depositHandler.CreateDeposit)
		r.Post("/v1/deposits/{id}/invoice", depositHandler.RegenerateInvoice)
	})

	return r
}
