package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/freelance-escrow/internal/config"
	"github.com/ignatzorin/freelance-escrow/internal/db"
	"github.com/ignatzorin/freelance-escrow/internal/document"
	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freelance-escrow/internal/goroutine"
	httpHandlers "github.com/ignatzorin/freelance-escrow/internal/http/handlers"
	"github.com/ignatzorin/freelance-escrow/internal/http/middleware"
	httpRouter "github.com/ignatzorin/freelance-escrow/internal/http/router"
	"github.com/ignatzorin/freelance-escrow/internal/logger"
	"github.com/ignatzorin/freelance-escrow/internal/payment/gateway"
	"github.com/ignatzorin/freelance-escrow/internal/payment/webhook"
	"github.com/ignatzorin/freelance-escrow/internal/repository"
	"github.com/ignatzorin/freelance-escrow/internal/service"
	"github.com/ignatzorin/freelance-escrow/internal/storage"
	"github.com/ignatzorin/freelance-escrow/internal/ws"
)

const webhookDedupeTTL = 72 * time.Hour

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}

	logger.Init(cfg.LogLevel)
	if cfg.Env == "development" {
		logger.SetTextFormatter()
	}
	goroutine.SetLogger(logger.RecoveryLogger{})

	// Подключение к базе и миграции.
	dbConn, err := db.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.L().WithError(err).Fatal("main: ошибка подключения к базе")
	}
	defer safeClose(dbConn)

	if err := db.RunMigrations(ctx, dbConn, cfg.MigrationsPath); err != nil {
		logger.L().WithError(err).Fatal("main: ошибка миграций")
	}

	// Redis необязателен: без него события вебхуков не дедуплицируются, а лимиты считаются в памяти.
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = db.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.L().WithError(err).Fatal("main: ошибка подключения к redis")
		}
		defer func() { _ = redisClient.Close() }()
	}

	fees, err := valueobject.NewFeePolicy(cfg.PlatformFeePercent)
	if err != nil {
		logger.L().WithError(err).Fatal("main: неверная комиссия платформы")
	}

	tokenManager := service.NewTokenManager(cfg.JWTSecret, time.Hour)
	store := repository.NewStore(dbConn)
	compliance := repository.NewComplianceRepository(dbConn, cfg.RequireKYC)

	paymentGateway := newGateway(cfg)
	verifier := webhook.NewVerifier(cfg.WebhookSecret, cfg.WebhookTolerance)

	var deduper service.EventDeduper = service.NopEventDeduper{}
	if redisClient != nil {
		deduper = service.NewRedisEventDeduper(redisClient, webhookDedupeTTL)
	}

	documents, err := storage.NewDocumentStorage(cfg.DocumentStoragePath, cfg.MaxDocumentMB)
	if err != nil {
		logger.L().WithError(err).Fatal("main: не удалось подготовить хранилище документов")
	}
	renderer := document.NewRenderer(documents)

	// Вебсокеты.
	hub := ws.NewHub(ctx)
	goroutine.SafeGo(hub.Run)

	// Сервисы.
	bidService := service.NewBidService(store, compliance, fees, cfg.Currency, hub)
	contractService := service.NewContractService(store, renderer, hub)
	escrowService := service.NewEscrowService(store, paymentGateway, compliance, cfg.Currency, cfg.MaxDepositAmount)
	settlementService := service.NewSettlementService(store, compliance, fees, hub)
	reconcileService := service.NewReconciliationService(
		store,
		paymentGateway,
		verifier,
		deduper,
		service.NewCacheService(),
		hub,
		service.ReconcileConfig{
			Currency: cfg.Currency,
			Lookback: cfg.ReconcileLookback,
			Throttle: cfg.ReconcileThrottle,
		},
	)

	if cfg.ReconcileInterval > 0 {
		goroutine.SafeGoWithContext(ctx, func(ctx context.Context) {
			reconcileService.RunSweeper(ctx, cfg.ReconcileInterval)
		})
	}

	// Лимиты.
	moneyLimiter, err := middleware.NewLimiter(middleware.RateLimitConfig{
		Name:   "money",
		Limit:  cfg.RateLimitLimit,
		Period: cfg.RateLimitPeriod,
		Redis:  redisClient,
	})
	if err != nil {
		logger.L().WithError(err).Fatal("main: не удалось настроить лимиты")
	}
	webhookLimiter, err := middleware.NewLimiter(middleware.RateLimitConfig{
		Name:   "webhook",
		Limit:  cfg.RateLimitLimit * 20,
		Period: cfg.RateLimitPeriod,
		Redis:  redisClient,
	})
	if err != nil {
		logger.L().WithError(err).Fatal("main: не удалось настроить лимиты")
	}

	// Роутер.
	engine := httpRouter.SetupRouter(cfg, httpRouter.Handlers{
		Health:    httpHandlers.NewHealthHandler(dbConn, redisClient),
		Bids:      httpHandlers.NewBidHandler(bidService),
		Contracts: httpHandlers.NewContractHandler(contractService),
		Wallet:    httpHandlers.NewWalletHandler(escrowService, reconcileService),
		Projects:  httpHandlers.NewProjectHandler(escrowService, settlementService),
		Webhooks:  httpHandlers.NewWebhookHandler(reconcileService),
		WS:        httpHandlers.NewWSHandler(hub, tokenManager, cfg.AllowedOrigins),
	}, httpRouter.Limiters{
		Money:   moneyLimiter,
		Webhook: webhookLimiter,
	}, tokenManager)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Завершаем сервер при получении сигнала.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.L().WithError(err).Error("main: ошибка остановки http сервера")
		}
	}()

	logger.L().WithFields(logrus.Fields{
		"port":         cfg.HTTPPort,
		"env":          cfg.Env,
		"gateway_mode": cfg.GatewayMode,
		"fee_percent":  fees.Percent().String(),
		"redis":        redisClient != nil,
	}).Info("main: HTTP сервер запущен")

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.L().WithError(err).Fatal("main: сервер завершился с ошибкой")
	}
}

// newGateway выбирает реальный шлюз или песочницу.
func newGateway(cfg *config.Config) service.PaymentGateway {
	if cfg.GatewayMode == config.GatewayModeSandbox {
		logger.L().Warn("main: платёжный шлюз работает в режиме песочницы")
		return gateway.NewSandbox(true)
	}
	client := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewaySecretKey, cfg.GatewayTimeout)
	return gateway.NewRetryingClient(client, cfg.GatewayRetryAttempts, gateway.DefaultRetryBaseDelay)
}

// safeClose закрывает соединение с базой.
func safeClose(db *sqlx.DB) {
	if err := db.Close(); err != nil {
		logger.L().WithError(err).Error("main: ошибка закрытия базы")
	}
}
