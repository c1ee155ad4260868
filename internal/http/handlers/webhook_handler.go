package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/freelance-escrow/internal/interface/http/response"
	"github.com/ignatzorin/freelance-escrow/internal/logger"
	"github.com/ignatzorin/freelance-escrow/internal/metrics"
	"github.com/ignatzorin/freelance-escrow/internal/payment/webhook"
	"github.com/ignatzorin/freelance-escrow/internal/service"
)

const maxWebhookBody = 1 << 20

// WebhookHandler принимает уведомления платёжного шлюза. JWT не требуется,
// подлинность проверяется по подписи тела.
type WebhookHandler struct {
	reconcile *service.ReconciliationService
}

func NewWebhookHandler(reconcile *service.ReconciliationService) *WebhookHandler {
	return &WebhookHandler{reconcile: reconcile}
}

// Payments POST /api/webhooks/payments
func (h *WebhookHandler) Payments(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.WebhookEventsTotal.WithLabelValues("too_large").Inc()
			c.AbortWithStatus(http.StatusRequestEntityTooLarge)
			return
		}
		response.BadRequest(c, "не удалось прочитать тело запроса")
		return
	}

	result, err := h.reconcile.HandleWebhook(c.Request.Context(), c.GetHeader(webhook.SignatureHeader), body)
	if err != nil {
		logger.L().WithFields(logrus.Fields{
			"ip": c.ClientIP(),
		}).WithError(err).Warn("webhook: событие отклонено")
		response.Error(c, err)
		return
	}

	// Шлюз повторяет доставку при любом ответе кроме 2xx.
	response.Success(c, result)
}
