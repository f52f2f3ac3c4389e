package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"refunds-service/config"
	httpHandler "refunds-service/internal/adapter/http/handler"
	pgStorage "refunds-service/internal/adapter/storage/postgres"
	redisStorage "refunds-service/internal/adapter/storage/redis"
	"refunds-service/internal/core/ports"
	"refunds-service/internal/gateway"
	"refunds-service/internal/service"
	"refunds-service/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting Refunds Service")

	ctx := context.Background()

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Initialize gateway adapters
	gateways, err := gateway.FromConfig(cfg.Gateways)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize gateway adapters")
	}
	log.Info().Strs("gateways", gateways.IDs()).Msg("Gateway adapters registered")

	// Initialize repositories
	refundRepo := pgStorage.NewRefundRepo(pool)
	ledger := pgStorage.NewIdempotencyRepo(pool, cfg.Reconcile.ClaimTimeout)
	eventRepo := pgStorage.NewGatewayEventRepo(pool)
	anomalyRepo := pgStorage.NewAnomalyRepo(pool)
	refundEventRepo := pgStorage.NewRefundEventRepository(pool)
	accountRepo := pgStorage.NewBankAccountRepo(pool)
	paramRepo := pgStorage.NewParameterRepo(pool)
	operatorRepo := pgStorage.NewOperatorRepo(pool)
	auditRepo := pgStorage.NewAuditRepository(pool)
	transactor := pgStorage.NewTransactor(pool)

	// Initialize Redis stores
	ackCache := redisStorage.NewAckCache(rdb)

	// Initialize core services
	encSvc, err := service.NewAESEncryptionService(cfg.AES.Key)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize encryption service")
	}
	hashSvc := service.NewArgon2HashService()
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)

	// Initialize business services
	authSvc := service.NewAuthService(operatorRepo, hashSvc, tokenSvc)
	notifier := service.NewNotificationService(
		refundEventRepo,
		&http.Client{Timeout: cfg.Notifier.Timeout},
		cfg.Notifier,
		log,
	)
	refundSvc := service.NewRefundService(
		refundRepo,
		accountRepo,
		paramRepo,
		notifier,
		transactor,
		gateways,
		log,
	)
	reconcileSvc := service.NewReconciliationService(
		gateways,
		refundRepo,
		ledger,
		eventRepo,
		anomalyRepo,
		notifier,
		ackCache,
		transactor,
		cfg.Reconcile,
		log,
	)
	accountSvc := service.NewBankAccountService(accountRepo, encSvc, log)
	paramSvc := service.NewParameterService(paramRepo, log)
	reportSvc := service.NewReportService(refundRepo, anomalyRepo)
	auditSvc := service.NewAuditService(auditRepo, log)

	// Initialize rate limit store
	var rateLimitStore *redisStorage.RateLimitStore
	if cfg.RateLimit.Enabled {
		rateLimitStore = redisStorage.NewRateLimitStore(rdb)
	}

	// Initialize health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)

	// Load OpenAPI spec for Swagger UI
	if specBytes, err := os.ReadFile("docs/api/openapi.yaml"); err == nil {
		httpHandler.SetSwaggerSpec(specBytes)
		log.Info().Msg("OpenAPI spec loaded for Swagger UI at /swagger")
	} else {
		log.Warn().Err(err).Msg("OpenAPI spec not found, Swagger UI will be unavailable")
	}

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		AuthSvc:        authSvc,
		RefundSvc:      refundSvc,
		BankAccountSvc: accountSvc,
		ParameterSvc:   paramSvc,
		ReportSvc:      reportSvc,
		ReconcileSvc:   reconcileSvc,
		Gateways:       gateways,
		TokenSvc:       tokenSvc,
		RateLimitStore: rateLimitStore,
		HealthCheckers: []ports.HealthChecker{pgHealth, redisHealth},
		AuditSvc:       auditSvc,
		MaxBodyBytes:   cfg.Reconcile.MaxBodyBytes,
		Logger:         log,
	})

	// Outbox relay: delivers recorded domain events to the configured
	// callback until shutdown.
	relayCtx, stopRelay := context.WithCancel(ctx)
	defer stopRelay()
	go notifier.Run(relayCtx)

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	stopRelay()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
