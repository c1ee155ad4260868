package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal считает HTTP запросы по шаблону маршрута.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "escrow_http_request_duration_seconds",
			Help:    "HTTP request latency distributions.",
			Buckets: []float64{0.05, 0.1, 0.3, 0.5, 1.0, 2.0, 5.0},
		},
		[]string{"method", "path"},
	)

	// GatewayRequestsTotal считает вызовы платёжного шлюза по операции и классу результата.
	GatewayRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_gateway_requests_total",
			Help: "Payment gateway calls by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	GatewayRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "escrow_gateway_request_duration_seconds",
			Help:    "Payment gateway call latency.",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"operation"},
	)

	// DepositOutcomesTotal считает результаты подтверждения депозитов по источнику (sync, webhook, sweep).
	DepositOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_deposit_outcomes_total",
			Help: "Deposit confirmation outcomes by trigger.",
		},
		[]string{"trigger", "outcome"},
	)

	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_webhook_events_total",
			Help: "Received payment webhooks by result.",
		},
		[]string{"result"},
	)

	// SettlementsTotal считает выплаты и возвраты.
	SettlementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_settlements_total",
			Help: "Project settlements by type and result.",
		},
		[]string{"type", "result"},
	)

	IntegrityViolationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "escrow_integrity_violations_total",
			Help: "Ledger invariant violations detected before commit.",
		},
	)
)

// ObserveGateway записывает длительность и результат вызова шлюза.
func ObserveGateway(operation, outcome string, started time.Time) {
	GatewayRequestsTotal.WithLabelValues(operation, outcome).Inc()
	GatewayRequestDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

// PrometheusMiddleware собирает метрики HTTP запросов.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()

		c.Next()

		// Неизвестные маршруты не учитываем, чтобы не раздувать кардинальность.
		if path == "" {
			return
		}
		status := strconv.Itoa(c.Writer.Status())
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler отдаёт метрики в формате Prometheus.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
