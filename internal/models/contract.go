package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Contract связан с проектом один к одному.
type Contract struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	ProjectID        uuid.UUID       `db:"project_id" json:"project_id"`
	EmployerID       uuid.UUID       `db:"employer_id" json:"employer_id"`
	WorkerID         uuid.UUID       `db:"worker_id" json:"worker_id"`
	Title            string          `db:"title" json:"title"`
	Terms            string          `db:"terms" json:"terms"`
	AgreedAmount     decimal.Decimal `db:"agreed_amount" json:"agreed_amount"`
	Currency         string          `db:"currency" json:"currency"`
	Status           string          `db:"status" json:"status"`
	EmployerSignedAt *time.Time      `db:"employer_signed_at" json:"employer_signed_at,omitempty"`
	WorkerSignedAt   *time.Time      `db:"worker_signed_at" json:"worker_signed_at,omitempty"`
	FullySignedAt    *time.Time      `db:"fully_signed_at" json:"fully_signed_at,omitempty"`
	CancelledAt      *time.Time      `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CancelledBy      *uuid.UUID      `db:"cancelled_by" json:"cancelled_by,omitempty"`
	CancelReason     *string         `db:"cancel_reason" json:"cancel_reason,omitempty"`
	DocumentRef      *string         `db:"document_ref" json:"document_ref,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// ContractSignature хранит неизменяемую запись подписи одной из сторон.
type ContractSignature struct {
	ID          uuid.UUID `db:"id" json:"id"`
	ContractID  uuid.UUID `db:"contract_id" json:"contract_id"`
	SignerID    uuid.UUID `db:"signer_id" json:"signer_id"`
	Role        string    `db:"role" json:"role"`
	FullName    string    `db:"full_name" json:"full_name"`
	IPAddress   string    `db:"ip_address" json:"ip_address"`
	UserAgent   string    `db:"user_agent" json:"user_agent"`
	ContentHash string    `db:"content_hash" json:"content_hash"`
	SignedAt    time.Time `db:"signed_at" json:"signed_at"`
}
