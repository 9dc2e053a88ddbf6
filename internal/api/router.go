package api

import (
	"github.com/ayo6706/transfer-orchestrator/internal/api/handler"
	"github.com/ayo6706/transfer-orchestrator/internal/api/middleware"
	"github.com/ayo6706/transfer-orchestrator/internal/api/spec"
	"github.com/ayo6706/transfer-orchestrator/internal/config"
	"github.com/ayo6706/transfer-orchestrator/internal/idempotency"
	"github.com/ayo6706/transfer-orchestrator/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Deps are the collaborators the HTTP layer needs. DB, Redis and
// IdempotencyStore may be nil. ReadinessChecks are run by /health/ready
// after the database and Redis.
type Deps struct {
	DB               *pgxpool.Pool
	Redis            redis.Cmdable
	IdempotencyStore *idempotency.Store
	ReadinessChecks  []handler.DependencyCheck
	Transfers        *service.TransferOrchestrator
	Accounts         *service.AccountService
	Reconciliation   *service.ReconciliationService
}

type Router struct {
	cfg    *config.Config
	logger *zap.Logger
	deps   Deps
}

func NewRouter(cfg *config.Config, logger *zap.Logger, deps Deps) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{cfg: cfg, logger: logger, deps: deps}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	healthHandler := handler.NewHealthHandler(api.deps.DB, api.deps.Redis, api.deps.ReadinessChecks...)
	transferHandler := handler.NewTransferHandler(api.deps.Transfers)
	accountHandler := handler.NewAccountHandler(api.deps.Accounts)
	adminHandler := handler.NewAdminHandler(api.deps.Reconciliation)

	// Public Routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))
		r.Get("/health/live", healthHandler.Live)
		r.Get("/health/ready", healthHandler.Ready)
		r.Handle("/metrics", promhttp.Handler())
		r.Get("/openapi.yaml", spec.OpenAPIHandler())
		r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))
	})

	// Protected Routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))

		r.With(middleware.IdempotencyMiddleware(api.deps.IdempotencyStore, api.logger)).
			Post("/v1/transfers", transferHandler.CreateTransfer)
		r.Get("/v1/transfers/{id}", transferHandler.GetTransfer)
		r.Get("/v1/transfers/transaction/{transactionId}", transferHandler.GetTransferByTransactionID)

		r.Get("/v1/accounts/{id}", accountHandler.GetAccount)
		r.Get("/v1/accounts/{id}/transfers", accountHandler.GetTransfers)

		r.With(middleware.RequireRole("admin")).
			Get("/v1/admin/transfers/stale", adminHandler.ListStaleTransfers)
	})

	return r
}
