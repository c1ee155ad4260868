package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Job описывает работу, опубликованную заказчиком.
type Job struct {
	ID         uuid.UUID `db:"id" json:"id"`
	EmployerID uuid.UUID `db:"employer_id" json:"employer_id"`
	Title      string    `db:"title" json:"title"`
	Status     string    `db:"status" json:"status"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// Bid описывает ставку исполнителя на работу.
type Bid struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	JobID     uuid.UUID       `db:"job_id" json:"job_id"`
	WorkerID  uuid.UUID       `db:"worker_id" json:"worker_id"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	Proposal  string          `db:"proposal" json:"proposal"`
	Status    string          `db:"status" json:"status"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// Project создаётся ровно один раз из принятой ставки.
type Project struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	JobID           uuid.UUID       `db:"job_id" json:"job_id"`
	BidID           uuid.UUID       `db:"bid_id" json:"bid_id"`
	EmployerID      uuid.UUID       `db:"employer_id" json:"employer_id"`
	WorkerID        uuid.UUID       `db:"worker_id" json:"worker_id"`
	AgreedAmount    decimal.Decimal `db:"agreed_amount" json:"agreed_amount"`
	PlatformFee     decimal.Decimal `db:"platform_fee" json:"platform_fee"`
	NetAmount       decimal.Decimal `db:"net_amount" json:"net_amount"`
	Status          string          `db:"status" json:"status"`
	PaymentReleased bool            `db:"payment_released" json:"payment_released"`
	ContractSigned  bool            `db:"contract_signed" json:"contract_signed"`
	CancelReason    *string         `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CompletedAt     *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// IsParty сообщает, участвует ли пользователь в проекте.
func (p *Project) IsParty(userID uuid.UUID) bool {
	return p.EmployerID == userID || p.WorkerID == userID
}
