package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	domainrepo "github.com/ignatzorin/freelance-escrow/internal/domain/repository"
	"github.com/ignatzorin/freelance-escrow/internal/models"
	"github.com/ignatzorin/freelance-escrow/internal/repository/common"
)

func (s *Store) GetDeposit(ctx context.Context, id uuid.UUID) (*models.Deposit, error) {
	return common.GetByID[models.Deposit](ctx, s.db, "deposits", id, false)
}

func (s *Store) GetDepositByIntent(ctx context.Context, intentID string) (*models.Deposit, error) {
	return common.GetByField[models.Deposit](ctx, s.db, "deposits", "intent_id", intentID, false)
}

func (s *Store) GetDepositByIdempotencyKey(ctx context.Context, ownerID uuid.UUID, key string) (*models.Deposit, error) {
	var deposit models.Deposit
	err := s.db.GetContext(ctx, &deposit, `
		SELECT * FROM deposits WHERE owner_id = $1 AND idempotency_key = $2
	`, ownerID, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("deposit repository: get by idempotency key %w", err)
	}
	return &deposit, nil
}

func (s *Store) ListDeposits(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]models.Deposit, error) {
	var deposits []models.Deposit
	err := s.db.SelectContext(ctx, &deposits, `
		SELECT * FROM deposits WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("deposit repository: list %w", err)
	}
	return deposits, nil
}

// ListPendingDeposits выбирает ожидающие депозиты для сверки, самые старые первыми.
func (s *Store) ListPendingDeposits(ctx context.Context, f domainrepo.PendingDepositFilter) ([]models.Deposit, error) {
	before := f.CreatedBefore
	if before.IsZero() {
		before = time.Now()
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}

	var deposits []models.Deposit
	err := s.db.SelectContext(ctx, &deposits, `
		SELECT * FROM deposits
		WHERE status = 'pending'
			AND ($1::uuid IS NULL OR owner_id = $1)
			AND created_at >= $2 AND created_at <= $3
		ORDER BY created_at ASC
		LIMIT $4
	`, f.OwnerID, f.CreatedAfter, before, limit)
	if err != nil {
		return nil, fmt.Errorf("deposit repository: list pending %w", err)
	}
	return deposits, nil
}

// InsertDeposit вставляет депозит; при совпадении intent_id ничего не делает.
func (r *txRepo) InsertDeposit(ctx context.Context, d *models.Deposit) (bool, error) {
	metadata := d.Metadata
	if len(metadata) == 0 {
		metadata = []byte("{}")
	}
	err := r.tx.GetContext(ctx, d, `
		INSERT INTO deposits (id, owner_id, amount, currency, intent_id, client_secret, idempotency_key, status, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (intent_id) DO NOTHING
		RETURNING *
	`, d.ID, d.OwnerID, d.Amount, d.Currency, d.IntentID, d.ClientSecret, d.IdempotencyKey, d.Status, string(metadata))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, common.MapWriteError("deposit repository: insert", err)
	}
	return true, nil
}

// TransitionDeposit выполняет условное обновление статуса. Конкурентные вызовы сериализуются
// на блокировке строки, и только первый видит from и получает строку назад.
func (r *txRepo) TransitionDeposit(ctx context.Context, id uuid.UUID, from, to string, at time.Time) (*models.Deposit, error) {
	var deposit models.Deposit
	err := r.tx.GetContext(ctx, &deposit, `
		UPDATE deposits
		SET status = $3,
			completed_at = CASE WHEN $3 = 'completed' THEN $4 ELSE completed_at END,
			failed_at = CASE WHEN $3 = 'failed' THEN $4 ELSE failed_at END
		WHERE id = $1 AND status = $2
		RETURNING *
	`, id, from, to, at)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("deposit repository: transition %w", err)
	}
	return &deposit, nil
}
