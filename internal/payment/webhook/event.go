package webhook

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freelance-escrow/internal/payment/gateway"
)

// Типы событий, которые влияют на депозиты.
const (
	EventIntentSucceeded     = "payment_intent.succeeded"
	EventIntentCanceled      = "payment_intent.canceled"
	EventIntentPaymentFailed = "payment_intent.payment_failed"
	EventIntentProcessing    = "payment_intent.processing"
)

var supportedEvents = map[string]struct{}{
	EventIntentSucceeded:     {},
	EventIntentCanceled:      {},
	EventIntentPaymentFailed: {},
	EventIntentProcessing:    {},
}

var ErrMalformedEvent = errors.New("webhook: malformed event payload")

// Event событие шлюза после проверки подписи.
type Event struct {
	ID      string
	Type    string
	Created int64
	Intent  gateway.Intent
}

// Supported сообщает, относится ли событие к платёжным намерениям.
func (e *Event) Supported() bool {
	_, ok := supportedEvents[e.Type]
	return ok
}

type eventPayload struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object struct {
			ID       string            `json:"id"`
			Status   string            `json:"status"`
			Amount   int64             `json:"amount"`
			Currency string            `json:"currency"`
			Metadata map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// ParseEvent разбирает тело события. Вызывать только после Verifier.Verify.
func ParseEvent(body []byte) (*Event, error) {
	var payload eventPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, ErrMalformedEvent
	}
	if strings.TrimSpace(payload.ID) == "" || strings.TrimSpace(payload.Type) == "" {
		return nil, ErrMalformedEvent
	}

	obj := payload.Data.Object
	event := &Event{
		ID:      payload.ID,
		Type:    payload.Type,
		Created: payload.Created,
		Intent: gateway.Intent{
			ID:       obj.ID,
			Status:   obj.Status,
			Amount:   valueobject.FromMinorUnits(obj.Amount),
			Currency: strings.ToLower(obj.Currency),
			Metadata: obj.Metadata,
		},
	}
	if event.Supported() && event.Intent.ID == "" {
		return nil, ErrMalformedEvent
	}
	return event, nil
}
