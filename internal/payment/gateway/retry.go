package gateway

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/freelance-escrow/internal/logger"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

// DefaultRetryBaseDelay начальная пауза между попытками, дальше удваивается.
const DefaultRetryBaseDelay = 200 * time.Millisecond

// RetryingClient повторяет только чтение намерения и только при временных ошибках.
// Создание намерения проходит насквозь без повторов.
type RetryingClient struct {
	Gateway
	attempts  int
	baseDelay time.Duration
}

func NewRetryingClient(inner Gateway, attempts int, baseDelay time.Duration) *RetryingClient {
	if attempts < 1 {
		attempts = 1
	}
	return &RetryingClient{Gateway: inner, attempts: attempts, baseDelay: baseDelay}
}

func (r *RetryingClient) RetrieveIntent(ctx context.Context, intentID string) (*Intent, error) {
	for attempt := 0; ; attempt++ {
		intent, err := r.Gateway.RetrieveIntent(ctx, intentID)
		if err == nil || !apperror.IsGatewayTransient(err) || attempt+1 >= r.attempts {
			return intent, err
		}

		delay := r.baseDelay << attempt
		logger.L().WithFields(logrus.Fields{
			"intent_id": intentID,
			"attempt":   attempt + 1,
			"delay":     delay.String(),
		}).Warn("payment gateway: временная ошибка, повторяем запрос")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, apperror.Wrap(ctx.Err(), apperror.ErrCodeGatewayTransient, "платёжный шлюз не ответил вовремя, попробуйте чуть позже")
		case <-timer.C:
		}
	}
}
