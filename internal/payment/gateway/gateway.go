package gateway

import (
	"context"

	"github.com/shopspring/decimal"
)

// Статусы платёжного намерения в терминах шлюза.
const (
	IntentStatusRequiresPaymentMethod = "requires_payment_method"
	IntentStatusRequiresConfirmation  = "requires_confirmation"
	IntentStatusRequiresAction        = "requires_action"
	IntentStatusProcessing            = "processing"
	IntentStatusSucceeded             = "succeeded"
	IntentStatusCanceled              = "canceled"
)

// Ключи метаданных, которые сервис кладёт в намерение и читает из вебхука.
const (
	MetadataOwnerID   = "owner_id"
	MetadataDepositID = "deposit_id"
)

// Intent описывает платёжное намерение на стороне шлюза.
type Intent struct {
	ID           string
	ClientSecret string
	Status       string
	Amount       decimal.Decimal
	Currency     string
	Metadata     map[string]string
}

// CreateIntentRequest параметры создания намерения. IdempotencyKey передаётся шлюзу как есть.
type CreateIntentRequest struct {
	Amount         decimal.Decimal
	Currency       string
	Metadata       map[string]string
	IdempotencyKey string
}

// Gateway абстракция платёжного шлюза. Ошибки всегда классифицированы:
// GATEWAY_TRANSIENT, GATEWAY_REJECTED или GATEWAY_AUTH из apperror.
type Gateway interface {
	CreateIntent(ctx context.Context, req CreateIntentRequest) (*Intent, error)
	RetrieveIntent(ctx context.Context, intentID string) (*Intent, error)
}
