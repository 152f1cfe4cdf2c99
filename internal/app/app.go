package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ayo6706/deposit-settlement/internal/api"
	"github.com/ayo6706/deposit-settlement/internal/api/middleware"
	"github.com/ayo6706/deposit-settlement/internal/config"
	"github.com/ayo6706/deposit-settlement/internal/db"
	"github.com/ayo6706/deposit-settlement/internal/gateway"
	"github.com/ayo6706/deposit-settlement/internal/idempotency"
	"github.com/ayo6706/deposit-settlement/internal/observability"
	"github.com/ayo6706/deposit-settlement/internal/repository"
	"github.com/ayo6706/deposit-settlement/internal/service"
	"github.com/ayo6706/deposit-settlement/internal/worker"
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

	logger, err := newLogger(cfg.LogLevel)
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

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	redisClient, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	idemStore := idempotency.NewStore(redisClient, pool, cfg.IdempotencyTTL)
	repo := repository.NewRepository(pool)
	store := repository.NewStore(pool)

	gw := gateway.NewCachedInquirer(newGateway(cfg, logger), redisClient, cfg.InquiryCacheTTL)

	commissionSvc := service.NewCommissionService(store, cfg.CommissionLevels)
	settlementSvc := service.NewSettlementService(store, commissionSvc).WithInquiryCache(gw)
	invoiceSvc := service.NewInvoiceService(store, gw, service.InvoiceConfig{
		MinDeposit:      cfg.MinDeposit,
		CallbackURL:     cfg.CallbackURL(),
		ReturnURL:       cfg.ReturnURL,
		LifetimeMinutes: cfg.InvoiceLifetimeMinutes(),
		FeePaidByPayer:  cfg.FeePaidByPayer,
	})
	statusSvc := service.NewStatusService(store, gw, settlementSvc, service.StatusConfig{
		PollWindow:   cfg.PollWindow,
		PollInterval: cfg.PollInterval,
	})
	accountSvc := service.NewAccountService(repo)

	sweepWorker := worker.NewSettlementSweepWorker(service.NewSweepService(store, gw, settlementSvc)).
		WithPollInterval(cfg.SweepInterval).
		WithBatchSize(cfg.SweepBatchSize)
	stopSweep := sweepWorker.Run(ctx)
	logger.Info("settlement sweep worker started", zap.Stringer("worker", sweepWorker))

	reconWorker := worker.NewReconciliationWorker(service.NewReconciliationService(store, commissionSvc)).
		WithInterval(cfg.ReconciliationInterval)
	stopRecon := reconWorker.Run(ctx)

	router := api.NewRouter(cfg, logger, pool, repo, idemStore, redisClient, accountSvc, invoiceSvc, statusSvc, settlementSvc)

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting",
			zap.String("port", cfg.HTTPPort),
			zap.String("gateway_mode", cfg.GatewayMode),
			zap.String("callback_url", cfg.CallbackURL()),
		)
		serverErr <- server.ListenAndServe()
	}()

	sigCtx, stopSignals := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	select {
	case <-sigCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Drain HTTP first; the pool closes only after workers stop.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("stopping workers")
	stopSweep()
	stopRecon()

	logger.Info("shutdown complete")
	return nil
}

func newGateway(cfg *config.Config, logger *zap.Logger) gateway.Gateway {
	if cfg.GatewayMode == config.GatewayModeMock {
		logger.Warn("using in-process mock payment gateway")
		return gateway.NewMockGateway()
	}
	return gateway.NewOxapayClient(gateway.OxapayConfig{
		BaseURL:     cfg.GatewayBaseURL,
		MerchantKey: cfg.GatewayMerchantKey,
		Timeout:     cfg.GatewayTimeout,
	})
}

// newLogger builds a JSON production logger. Unknown levels fall back to info.
func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	lvl, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil || level == "" {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.InitialFields = map[string]any{"service": "deposit-settlement"}
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
