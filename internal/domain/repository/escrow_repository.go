package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/freelance-escrow/internal/models"
)

// Ошибки хранилища, которые сервисы переводят в таксономию apperror.
var (
	ErrNotFound        = errors.New("entity not found")
	ErrUniqueViolation = errors.New("unique constraint violation")
)

// Store задаёт единицу работы над журналом. Do выполняет fn в одной транзакции.
// При ошибке всё откатывается. Строки, прочитанные через Lock*, заблокированы до конца fn.
type Store interface {
	Reader
	Do(ctx context.Context, fn func(tx Tx) error) error
}

// Reader читает данные вне транзакции.
type Reader interface {
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	GetBid(ctx context.Context, id uuid.UUID) (*models.Bid, error)
	GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error)
	GetContract(ctx context.Context, id uuid.UUID) (*models.Contract, error)
	GetContractByProject(ctx context.Context, projectID uuid.UUID) (*models.Contract, error)
	ListSignatures(ctx context.Context, contractID uuid.UUID) ([]models.ContractSignature, error)

	GetDeposit(ctx context.Context, id uuid.UUID) (*models.Deposit, error)
	GetDepositByIntent(ctx context.Context, intentID string) (*models.Deposit, error)
	GetDepositByIdempotencyKey(ctx context.Context, ownerID uuid.UUID, key string) (*models.Deposit, error)
	ListDeposits(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]models.Deposit, error)
	ListPendingDeposits(ctx context.Context, filter PendingDepositFilter) ([]models.Deposit, error)

	GetBalance(ctx context.Context, userID uuid.UUID) (*models.UserBalance, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Transaction, error)
	ListProjectTransactions(ctx context.Context, projectID uuid.UUID) ([]models.Transaction, error)
	CommittedEscrow(ctx context.Context, payerID uuid.UUID) (decimal.Decimal, error)
}

// Tx выполняет операции внутри транзакции.
type Tx interface {
	LockJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	LockBid(ctx context.Context, id uuid.UUID) (*models.Bid, error)
	ListPendingBids(ctx context.Context, jobID uuid.UUID) ([]models.Bid, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status string) error
	UpdateBidStatus(ctx context.Context, id uuid.UUID, status string) error

	CreateProject(ctx context.Context, project *models.Project) error
	LockProject(ctx context.Context, id uuid.UUID) (*models.Project, error)
	UpdateProject(ctx context.Context, project *models.Project) error

	CreateContract(ctx context.Context, contract *models.Contract) error
	LockContract(ctx context.Context, id uuid.UUID) (*models.Contract, error)
	UpdateContract(ctx context.Context, contract *models.Contract) error
	// SetContractDocument меняет только document_ref полностью подписанного контракта.
	SetContractDocument(ctx context.Context, contractID uuid.UUID, ref string) error
	ListSignatures(ctx context.Context, contractID uuid.UUID) ([]models.ContractSignature, error)
	InsertSignature(ctx context.Context, sig *models.ContractSignature) error

	// InsertDeposit возвращает false, если депозит с таким intent_id уже есть.
	InsertDeposit(ctx context.Context, deposit *models.Deposit) (bool, error)
	// TransitionDeposit меняет статус только если текущий равен from; возвращает
	// обновлённую строку или nil, если переход уже выполнен кем-то другим.
	TransitionDeposit(ctx context.Context, id uuid.UUID, from, to string, at time.Time) (*models.Deposit, error)

	// LockBalance создаёт строку баланса при необходимости и блокирует её.
	LockBalance(ctx context.Context, userID uuid.UUID) (*models.UserBalance, error)
	AdjustBalance(ctx context.Context, userID uuid.UUID, escrowDelta, availableDelta decimal.Decimal) (*models.UserBalance, error)
	// CommittedEscrow возвращает сумму эскроу, закреплённую за ещё не рассчитанными проектами плательщика.
	CommittedEscrow(ctx context.Context, payerID uuid.UUID) (decimal.Decimal, error)

	InsertTransaction(ctx context.Context, txn *models.Transaction) error
	ListProjectTransactions(ctx context.Context, projectID uuid.UUID) ([]models.Transaction, error)

	InsertAudit(ctx context.Context, records ...*models.AuditRecord) error
}

type PendingDepositFilter struct {
	OwnerID       *uuid.UUID
	CreatedAfter  time.Time
	CreatedBefore time.Time
	Limit         int
}
