package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ayo6706/transfer-orchestrator/internal/api"
	"github.com/ayo6706/transfer-orchestrator/internal/api/handler"
	"github.com/ayo6706/transfer-orchestrator/internal/api/middleware"
	"github.com/ayo6706/transfer-orchestrator/internal/config"
	"github.com/ayo6706/transfer-orchestrator/internal/db"
	"github.com/ayo6706/transfer-orchestrator/internal/events"
	"github.com/ayo6706/transfer-orchestrator/internal/idempotency"
	"github.com/ayo6706/transfer-orchestrator/internal/ledger"
	"github.com/ayo6706/transfer-orchestrator/internal/observability"
	"github.com/ayo6706/transfer-orchestrator/internal/repository"
	"github.com/ayo6706/transfer-orchestrator/internal/service"
	"github.com/ayo6706/transfer-orchestrator/internal/worker"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Run bootstraps the HTTP server and background workers, blocking until shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var pool *pgxpool.Pool
	var store service.TransferStore
	switch cfg.StoreBackend {
	case config.StoreBackendPostgres:
		pool, err = db.Connect(ctx, cfg.DatabaseURL, db.PoolOptions{
			MaxConns:        cfg.DBMaxConns,
			ConnectAttempts: cfg.DBConnectAttempts,
		})
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()
		if err := db.EnsureSchema(ctx, pool); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		store = repository.NewTransferRepository(pool)
	default:
		logger.Warn("using in-memory transfer store; records are lost on restart")
		store = repository.NewMemoryTransferStore()
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = newRedisClient(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisClient.Close()
	}

	ldg, err := newLedger(cfg, logger)
	if err != nil {
		return fmt.Errorf("init ledger: %w", err)
	}

	publisher, closePublisher := newPublisher(cfg, logger, redisClient)
	defer closePublisher()

	transfers := service.NewTransferOrchestrator(ldg, store, publisher, service.OrchestratorOptions{
		Topic:              cfg.EventTopic,
		StepTimeout:        cfg.LedgerStepTimeout,
		TimeoutsAreSafe:    cfg.LedgerTimeoutsSafe,
		PublishTimeout:     cfg.PublishTimeout,
		StoreRetryAttempts: cfg.StoreRetryAttempts,
	})
	accounts := service.NewAccountService(ldg, store)
	reconciliation := service.NewReconciliationService(store, cfg.StalePendingThreshold, 100)

	reconciliationWorker := worker.NewReconciliationWorker(reconciliation).WithInterval(cfg.ReconciliationInterval)
	stopReconciliation := reconciliationWorker.Run(ctx)
	logger.Info("reconciliation worker started",
		zap.Duration("interval", cfg.ReconciliationInterval),
		zap.Duration("stale_threshold", cfg.StalePendingThreshold),
	)

	deps := api.Deps{
		Transfers:      transfers,
		Accounts:       accounts,
		Reconciliation: reconciliation,
	}
	stopIdempotency := func() {}
	if pool != nil {
		deps.DB = pool
		var cache redis.Cmdable
		if redisClient != nil {
			cache = redisClient
		}
		idemStore := idempotency.NewStore(cache, pool, cfg.IdempotencyTTL)
		deps.IdempotencyStore = idemStore

		idemWorker := worker.NewIdempotencyWorker(idemStore)
		stopIdempotency = idemWorker.Run(ctx)
		logger.Info("idempotency worker started", zap.Stringer("worker", idemWorker))
	}
	if redisClient != nil {
		deps.Redis = redisClient
	}
	if broker, ok := publisher.(*events.RabbitPublisher); ok {
		deps.ReadinessChecks = append(deps.ReadinessChecks, handler.DependencyCheck{Name: "broker", Ping: broker.Ping})
	}

	router := api.NewRouter(cfg, logger, deps)

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting",
			zap.String("port", cfg.HTTPPort),
			zap.String("store", cfg.StoreBackend),
			zap.String("events", cfg.EventBackend),
			zap.Bool("remote_ledger", cfg.UsesRemoteLedger()),
		)
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("stopping workers")
	stopReconciliation()
	stopIdempotency()

	logger.Info("shutdown complete")
	return nil
}

func newLogger(level, format string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// newLedger returns the remote account service when LEDGER_URL is set and an
// in-process ledger seeded from LEDGER_SEED_ACCOUNTS otherwise.
func newLedger(cfg *config.Config, logger *zap.Logger) (ledger.Ledger, error) {
	if cfg.UsesRemoteLedger() {
		return ledger.NewHTTPLedger(ledger.HTTPConfig{
			BaseURL:            cfg.LedgerURL,
			APIKey:             cfg.LedgerAPIKey,
			Timeout:            2 * cfg.LedgerStepTimeout,
			BreakerOpenTimeout: cfg.BreakerOpenTimeout,
		}), nil
	}

	seed, err := ledger.ParseSeedAccounts(cfg.LedgerSeedAccounts)
	if err != nil {
		return nil, err
	}
	mem := ledger.NewMemoryLedger()
	for _, acct := range seed {
		if err := mem.Open(acct); err != nil {
			return nil, err
		}
	}
	logger.Warn("using in-memory ledger", zap.Int("seed_accounts", len(seed)))

	if cfg.LedgerSimFailureRate > 0 {
		logger.Warn("ledger failure simulation enabled", zap.Float64("failure_rate", cfg.LedgerSimFailureRate))
		return ledger.NewFlakyLedger(mem, cfg.LedgerSimFailureRate), nil
	}
	return mem, nil
}

// newPublisher builds the configured event backend. A broker that cannot be
// reached at startup degrades to logging events rather than blocking boot.
func newPublisher(cfg *config.Config, logger *zap.Logger, redisClient *redis.Client) (events.Publisher, func()) {
	switch cfg.EventBackend {
	case config.EventBackendRabbitMQ:
		p, err := events.NewRabbitPublisher(cfg.RabbitMQURL)
		if err != nil {
			logger.Error("rabbitmq unavailable, falling back to log publisher", zap.Error(err))
			return events.NewLogPublisher(logger), func() {}
		}
		return p, p.Close
	case config.EventBackendRedis:
		return events.NewRedisStreamPublisher(redisClient, cfg.EventStreamMaxLen), func() {}
	default:
		return events.NewLogPublisher(logger), func() {}
	}
}
