package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Статусы депозитов
const (
	DepositStatusPending   = "pending"
	DepositStatusCompleted = "completed"
	DepositStatusFailed    = "failed"
)

// Типы транзакций
const (
	TransactionTypeEscrow  = "escrow"
	TransactionTypeRelease = "release"
	TransactionTypeRefund  = "refund"
	TransactionTypeFee     = "fee"
	TransactionTypePayout  = "payout"
)

// Статусы транзакций
const (
	TransactionStatusPending   = "pending"
	TransactionStatusCompleted = "completed"
	TransactionStatusFailed    = "failed"
)

// UserBalance хранит эскроу-баланс и реализуемый баланс пользователя.
type UserBalance struct {
	UserID           uuid.UUID       `db:"user_id" json:"user_id"`
	EscrowBalance    decimal.Decimal `db:"escrow_balance" json:"escrow_balance"`
	AvailableBalance decimal.Decimal `db:"available_balance" json:"available_balance"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// Deposit описывает одну попытку пополнения эскроу через платёжный шлюз.
type Deposit struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	OwnerID        uuid.UUID       `db:"owner_id" json:"owner_id"`
	Amount         decimal.Decimal `db:"amount" json:"amount"`
	Currency       string          `db:"currency" json:"currency"`
	IntentID       string          `db:"intent_id" json:"intent_id"`
	ClientSecret   string          `db:"client_secret" json:"client_secret,omitempty"`
	IdempotencyKey *string         `db:"idempotency_key" json:"-"`
	Status         string          `db:"status" json:"status"`
	Metadata       json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	CompletedAt    *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	FailedAt       *time.Time      `db:"failed_at" json:"failed_at,omitempty"`
}

// Transaction описывает неизменяемую запись журнала.
type Transaction struct {
	ID                  uuid.UUID       `db:"id" json:"id"`
	Type                string          `db:"type" json:"type"`
	Amount              decimal.Decimal `db:"amount" json:"amount"`
	PlatformFee         decimal.Decimal `db:"platform_fee" json:"platform_fee"`
	NetAmount           decimal.Decimal `db:"net_amount" json:"net_amount"`
	PayerID             uuid.UUID       `db:"payer_id" json:"payer_id"`
	PayeeID             *uuid.UUID      `db:"payee_id" json:"payee_id,omitempty"`
	ProjectID           *uuid.UUID      `db:"project_id" json:"project_id,omitempty"`
	DepositID           *uuid.UUID      `db:"deposit_id" json:"deposit_id,omitempty"`
	EscrowTransactionID *uuid.UUID      `db:"escrow_transaction_id" json:"escrow_transaction_id,omitempty"`
	Status              string          `db:"status" json:"status"`
	Reference           *string         `db:"reference" json:"reference,omitempty"`
	CreatedAt           time.Time       `db:"created_at" json:"created_at"`
}

// AuditRecord описывает запись журнала аудита.
type AuditRecord struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	EntityTable string          `db:"entity_table" json:"entity_table"`
	EntityID    uuid.UUID       `db:"entity_id" json:"entity_id"`
	Action      string          `db:"action" json:"action"`
	ActorID     *uuid.UUID      `db:"actor_id" json:"actor_id,omitempty"`
	Before      json.RawMessage `db:"before_state" json:"before,omitempty"`
	After       json.RawMessage `db:"after_state" json:"after,omitempty"`
	Reason      *string         `db:"reason" json:"reason,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}
