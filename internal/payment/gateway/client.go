package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freelance-escrow/internal/logger"
	"github.com/ignatzorin/freelance-escrow/internal/metrics"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

const (
	opCreateIntent   = "create_intent"
	opRetrieveIntent = "retrieve_intent"

	maxResponseBytes = 1 << 20
)

// Client ходит в Stripe-совместимый REST API платёжных намерений.
type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

var _ Gateway = (*Client)(nil)

// NewClient создаёт клиента с таймаутом на каждый вызов.
func NewClient(baseURL, secretKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secretKey:  secretKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type intentPayload struct {
	ID           string            `json:"id"`
	ClientSecret string            `json:"client_secret"`
	Status       string            `json:"status"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Metadata     map[string]string `json:"metadata"`
}

type errorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreateIntent создаёт намерение. Вызов не повторяется автоматически:
// повтор выполняет клиент с тем же ключом идемпотентности.
func (c *Client) CreateIntent(ctx context.Context, req CreateIntentRequest) (*Intent, error) {
	money := valueobject.Money{Amount: req.Amount, Currency: req.Currency}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(money.MinorUnits(), 10))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("automatic_payment_methods[enabled]", "true")
	for k, v := range req.Metadata {
		form.Set("metadata["+k+"]", v)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/payment_intents", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось сформировать запрос к шлюзу")
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	return c.do(httpReq, opCreateIntent)
}

// RetrieveIntent возвращает текущее состояние намерения.
func (c *Client) RetrieveIntent(ctx context.Context, intentID string) (*Intent, error) {
	if intentID == "" {
		return nil, apperror.Validation("не указан идентификатор платёжного намерения")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/payment_intents/"+url.PathEscape(intentID), nil)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось сформировать запрос к шлюзу")
	}
	return c.do(httpReq, opRetrieveIntent)
}

func (c *Client) do(req *http.Request, operation string) (*Intent, error) {
	started := time.Now()
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveGateway(operation, "transient", started)
		return nil, apperror.Wrap(err, apperror.ErrCodeGatewayTransient, "платёжный шлюз недоступен, попробуйте чуть позже")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		metrics.ObserveGateway(operation, "transient", started)
		return nil, apperror.Wrap(err, apperror.ErrCodeGatewayTransient, "обрыв ответа платёжного шлюза, попробуйте чуть позже")
	}

	if resp.StatusCode >= 300 {
		gwErr := classify(resp.StatusCode, body)
		metrics.ObserveGateway(operation, strings.ToLower(string(gwErr.Code)), started)
		if gwErr.Code == apperror.ErrCodeGatewayAuth {
			logger.L().WithFields(logrus.Fields{
				"operation": operation,
				"status":    resp.StatusCode,
			}).Error("payment gateway: ошибка аутентификации, проверьте GATEWAY_SECRET_KEY")
		}
		return nil, gwErr
	}

	var payload intentPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		metrics.ObserveGateway(operation, "transient", started)
		return nil, apperror.Wrap(err, apperror.ErrCodeGatewayTransient, "некорректный ответ платёжного шлюза")
	}
	if payload.ID == "" {
		metrics.ObserveGateway(operation, "transient", started)
		return nil, apperror.Wrap(errors.New("empty intent id"), apperror.ErrCodeGatewayTransient, "некорректный ответ платёжного шлюза")
	}

	metrics.ObserveGateway(operation, "ok", started)
	return &Intent{
		ID:           payload.ID,
		ClientSecret: payload.ClientSecret,
		Status:       payload.Status,
		Amount:       valueobject.FromMinorUnits(payload.Amount),
		Currency:     payload.Currency,
		Metadata:     payload.Metadata,
	}, nil
}

// classify переводит HTTP статус шлюза в таксономию ошибок.
func classify(status int, body []byte) *apperror.AppError {
	var payload errorPayload
	_ = json.Unmarshal(body, &payload)
	cause := fmt.Errorf("gateway status %d: %s %s", status, payload.Error.Code, payload.Error.Message)

	switch {
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return apperror.Wrap(cause, apperror.ErrCodeGatewayTransient, "платёжный шлюз перегружен, попробуйте чуть позже")
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperror.Wrap(cause, apperror.ErrCodeGatewayAuth, "платёжный шлюз отклонил учётные данные платформы")
	default:
		msg := payload.Error.Message
		if msg == "" {
			msg = "платёжный шлюз отклонил запрос"
		}
		return apperror.Wrap(cause, apperror.ErrCodeGatewayRejected, msg)
	}
}
