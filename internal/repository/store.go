package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	domainrepo "github.com/ignatzorin/freelance-escrow/internal/domain/repository"
	"github.com/ignatzorin/freelance-escrow/internal/models"
	"github.com/ignatzorin/freelance-escrow/internal/repository/common"
)

var (
	ErrNotFound        = common.ErrNotFound
	ErrUniqueViolation = common.ErrUniqueViolation
)

// Store реализует domainrepo.Store поверх PostgreSQL.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

var _ domainrepo.Store = (*Store)(nil)

// Do выполняет fn в транзакции. Блокировки берутся через SELECT ... FOR UPDATE внутри txRepo.
func (s *Store) Do(ctx context.Context, fn func(tx domainrepo.Tx) error) error {
	return common.WithTransaction(ctx, s.db, func(tx *sqlx.Tx) error {
		return fn(&txRepo{tx: tx})
	})
}

// txRepo выполняет запросы в рамках одной транзакции.
type txRepo struct {
	tx *sqlx.Tx
}

var _ domainrepo.Tx = (*txRepo)(nil)

func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return common.GetByID[models.Job](ctx, s.db, "jobs", id, false)
}

func (s *Store) GetBid(ctx context.Context, id uuid.UUID) (*models.Bid, error) {
	return common.GetByID[models.Bid](ctx, s.db, "bids", id, false)
}

func (s *Store) GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	return common.GetByID[models.Project](ctx, s.db, "projects", id, false)
}

func (r *txRepo) LockJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return common.GetByID[models.Job](ctx, r.tx, "jobs", id, true)
}

func (r *txRepo) LockBid(ctx context.Context, id uuid.UUID) (*models.Bid, error) {
	return common.GetByID[models.Bid](ctx, r.tx, "bids", id, true)
}

// ListPendingBids блокирует все ожидающие ставки по работе.
func (r *txRepo) ListPendingBids(ctx context.Context, jobID uuid.UUID) ([]models.Bid, error) {
	var bids []models.Bid
	err := r.tx.SelectContext(ctx, &bids, `
		SELECT * FROM bids WHERE job_id = $1 AND status = 'pending' ORDER BY created_at FOR UPDATE
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("bid repository: list pending %w", err)
	}
	return bids, nil
}

func (r *txRepo) UpdateJobStatus(ctx context.Context, id uuid.UUID, status string) error {
	res, err := r.tx.ExecContext(ctx, `UPDATE jobs SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("job repository: update status %w", err)
	}
	return requireRow(res)
}

func (r *txRepo) UpdateBidStatus(ctx context.Context, id uuid.UUID, status string) error {
	res, err := r.tx.ExecContext(ctx, `UPDATE bids SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return common.MapWriteError("bid repository: update status", err)
	}
	return requireRow(res)
}

func (r *txRepo) CreateProject(ctx context.Context, p *models.Project) error {
	err := r.tx.GetContext(ctx, p, `
		INSERT INTO projects (id, job_id, bid_id, employer_id, worker_id, agreed_amount, platform_fee, net_amount,
			status, payment_released, contract_signed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING *
	`, p.ID, p.JobID, p.BidID, p.EmployerID, p.WorkerID, p.AgreedAmount, p.PlatformFee, p.NetAmount,
		p.Status, p.PaymentReleased, p.ContractSigned)
	return common.MapWriteError("project repository: create", err)
}

func (r *txRepo) LockProject(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	return common.GetByID[models.Project](ctx, r.tx, "projects", id, true)
}

// UpdateProject сохраняет изменяемые поля проекта. Суммы проекта не меняются никогда.
func (r *txRepo) UpdateProject(ctx context.Context, p *models.Project) error {
	err := r.tx.GetContext(ctx, p, `
		UPDATE projects
		SET status = $2, payment_released = $3, contract_signed = $4, cancel_reason = $5,
			completed_at = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING *
	`, p.ID, p.Status, p.PaymentReleased, p.ContractSigned, p.CancelReason, p.CompletedAt)
	if err != nil {
		return fmt.Errorf("project repository: update %w", err)
	}
	return nil
}

type rowsAffected interface {
	RowsAffected() (int64, error)
}

func requireRow(res rowsAffected) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
