package router

import (
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"

	"github.com/ignatzorin/freelance-escrow/internal/config"
	"github.com/ignatzorin/freelance-escrow/internal/http/handlers"
	"github.com/ignatzorin/freelance-escrow/internal/http/middleware"
	"github.com/ignatzorin/freelance-escrow/internal/logger"
	"github.com/ignatzorin/freelance-escrow/internal/metrics"
	"github.com/ignatzorin/freelance-escrow/internal/service"
)

// Handlers набор обработчиков API.
type Handlers struct {
	Health    *handlers.HealthHandler
	Bids      *handlers.BidHandler
	Contracts *handlers.ContractHandler
	Wallet    *handlers.WalletHandler
	Projects  *handlers.ProjectHandler
	Webhooks  *handlers.WebhookHandler
	WS        *handlers.WSHandler
}

// Limiters ограничения частоты запросов для денежных маршрутов.
type Limiters struct {
	Money   *limiter.Limiter
	Webhook *limiter.Limiter
}

func SetupRouter(cfg *config.Config, h Handlers, limits Limiters, tokenManager *service.TokenManager) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := newEngine(cfg)
	r.Use(metrics.PrometheusMiddleware())
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", h.Health.Health)
	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api")

	// Вебхук шлюза: без JWT, подлинность по подписи.
	webhooks := api.Group("/webhooks")
	if limits.Webhook != nil {
		webhooks.Use(middleware.RateLimitMiddleware(limits.Webhook))
	}
	webhooks.POST("/payments", h.Webhooks.Payments)

	api.GET("/ws", h.WS.Handle)

	protected := api.Group("")
	protected.Use(middleware.AuthMiddleware(tokenManager))

	var moneyLimit []gin.HandlerFunc
	if limits.Money != nil {
		moneyLimit = append(moneyLimit, middleware.RateLimitMiddleware(limits.Money))
	}
	money := func(chain ...gin.HandlerFunc) []gin.HandlerFunc {
		return slices.Concat(moneyLimit, chain)
	}

	bids := protected.Group("/bids/:id", middleware.UUIDValidator("id"))
	bids.POST("/accept", money(h.Bids.Accept)...)

	contracts := protected.Group("/contracts/:id", middleware.UUIDValidator("id"))
	{
		contracts.GET("", h.Contracts.Get)
		contracts.GET("/next-signer", h.Contracts.NextSigner)
		contracts.POST("/sign", h.Contracts.Sign)
		contracts.POST("/cancel", h.Contracts.Cancel)
		contracts.POST("/document", h.Contracts.RenderDocument)
	}

	wallet := protected.Group("/wallet")
	{
		wallet.POST("/deposits", money(h.Wallet.CreateDeposit)...)
		wallet.GET("/deposits", h.Wallet.ListDeposits)
		wallet.POST("/deposits/:id/confirm", money(middleware.UUIDValidator("id"), h.Wallet.ConfirmDeposit)...)
		wallet.GET("/balance", h.Wallet.GetBalance)
		wallet.GET("/transactions", h.Wallet.ListTransactions)
	}

	projects := protected.Group("/projects/:id", middleware.UUIDValidator("id"))
	{
		projects.POST("/escrow", money(h.Projects.Fund)...)
		projects.POST("/complete", h.Projects.Complete)
		projects.POST("/release", money(h.Projects.Release)...)
		projects.POST("/refund", money(h.Projects.Refund)...)
		projects.GET("/settlement", h.Projects.Settlement)
	}

	return r
}

// newEngine создаёт gin, который верит X-Forwarded-For только от cfg.TrustedProxies.
func newEngine(cfg *config.Config) *gin.Engine {
	r := gin.Default()
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		logger.L().WithError(err).Warn("router: неверный список доверенных прокси, X-Forwarded-For игнорируется")
		_ = r.SetTrustedProxies(nil)
	}
	return r
}
