package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/ignatzorin/freelance-escrow/internal/interface/http/response"
	"github.com/ignatzorin/freelance-escrow/internal/logger"
)

// RateLimitConfig описывает одно ограничение.
// Если Redis задан, счётчики общие для всех экземпляров сервиса.
type RateLimitConfig struct {
	Name   string
	Limit  int64
	Period time.Duration
	Redis  *redis.Client
}

// NewLimiter собирает limiter с хранилищем в Redis или в памяти процесса.
func NewLimiter(cfg RateLimitConfig) (*limiter.Limiter, error) {
	if cfg.Limit <= 0 {
		cfg.Limit = 10
	}
	if cfg.Period <= 0 {
		cfg.Period = time.Minute
	}
	rate := limiter.Rate{Period: cfg.Period, Limit: cfg.Limit}

	prefix := "escrow:limiter:" + cfg.Name
	if cfg.Redis != nil {
		store, err := sredis.NewStoreWithOptions(cfg.Redis, limiter.StoreOptions{Prefix: prefix})
		if err != nil {
			return nil, err
		}
		return limiter.New(store, rate), nil
	}

	store := memory.NewStoreWithOptions(limiter.StoreOptions{
		Prefix:          prefix,
		CleanUpInterval: limiter.DefaultCleanUpInterval,
	})
	return limiter.New(store, rate), nil
}

// RateLimitMiddleware ограничивает количество запросов.
// Для авторизованных запросов ключом служит пользователь, иначе IP.
func RateLimitMiddleware(instance *limiter.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if v, ok := c.Get(ContextUserIDKey); ok {
			if userID, ok := v.(uuid.UUID); ok {
				key = "user:" + userID.String()
			}
		}

		limit, err := instance.Get(c.Request.Context(), key)
		if err != nil {
			// Недоступность хранилища лимитов не должна останавливать платежи.
			logger.L().WithFields(logrus.Fields{
				"path": c.FullPath(),
				"key":  key,
			}).WithError(err).Warn("rate limit: хранилище недоступно")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(limit.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(limit.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(limit.Reset, 10))

		if limit.Reached {
			response.TooManyRequests(c, "слишком много запросов, попробуйте позже")
			c.Abort()
			return
		}

		c.Next()
	}
}
