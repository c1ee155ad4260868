package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/freelance-escrow/internal/models"
	"github.com/ignatzorin/freelance-escrow/internal/repository/common"
)

// GetBalance возвращает баланс пользователя, создаёт если не существует.
func (s *Store) GetBalance(ctx context.Context, userID uuid.UUID) (*models.UserBalance, error) {
	var balance models.UserBalance
	query := `
		INSERT INTO user_balances (user_id, escrow_balance, available_balance)
		VALUES ($1, 0, 0)
		ON CONFLICT (user_id) DO UPDATE SET updated_at = user_balances.updated_at
		RETURNING *
	`
	if err := s.db.GetContext(ctx, &balance, query, userID); err != nil {
		return nil, fmt.Errorf("ledger repository: get balance %w", err)
	}
	return &balance, nil
}

// ListTransactions возвращает историю транзакций, где пользователь плательщик или получатель.
func (s *Store) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Transaction, error) {
	var transactions []models.Transaction
	err := s.db.SelectContext(ctx, &transactions, `
		SELECT * FROM transactions WHERE payer_id = $1 OR payee_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ledger repository: list transactions %w", err)
	}
	return transactions, nil
}

func (s *Store) ListProjectTransactions(ctx context.Context, projectID uuid.UUID) ([]models.Transaction, error) {
	return listProjectTransactions(ctx, s.db, projectID)
}

func (r *txRepo) ListProjectTransactions(ctx context.Context, projectID uuid.UUID) ([]models.Transaction, error) {
	return listProjectTransactions(ctx, r.tx, projectID)
}

func listProjectTransactions(ctx context.Context, q sqlx.QueryerContext, projectID uuid.UUID) ([]models.Transaction, error) {
	var transactions []models.Transaction
	err := sqlx.SelectContext(ctx, q, &transactions, `
		SELECT * FROM transactions WHERE project_id = $1 ORDER BY created_at ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("ledger repository: list project transactions %w", err)
	}
	return transactions, nil
}

// LockBalance создаёт строку баланса при первом обращении и блокирует её.
func (r *txRepo) LockBalance(ctx context.Context, userID uuid.UUID) (*models.UserBalance, error) {
	if _, err := r.tx.ExecContext(ctx, `
		INSERT INTO user_balances (user_id, escrow_balance, available_balance)
		VALUES ($1, 0, 0)
		ON CONFLICT (user_id) DO NOTHING
	`, userID); err != nil {
		return nil, fmt.Errorf("ledger repository: ensure balance %w", err)
	}

	var balance models.UserBalance
	if err := r.tx.GetContext(ctx, &balance, `SELECT * FROM user_balances WHERE user_id = $1 FOR UPDATE`, userID); err != nil {
		return nil, fmt.Errorf("ledger repository: lock balance %w", err)
	}
	return &balance, nil
}

func (r *txRepo) AdjustBalance(ctx context.Context, userID uuid.UUID, escrowDelta, availableDelta decimal.Decimal) (*models.UserBalance, error) {
	var balance models.UserBalance
	err := r.tx.GetContext(ctx, &balance, `
		UPDATE user_balances
		SET escrow_balance = escrow_balance + $2, available_balance = available_balance + $3, updated_at = NOW()
		WHERE user_id = $1
		RETURNING *
	`, userID, escrowDelta, availableDelta)
	if err != nil {
		return nil, fmt.Errorf("ledger repository: adjust balance %w", err)
	}
	return &balance, nil
}

func (s *Store) CommittedEscrow(ctx context.Context, payerID uuid.UUID) (decimal.Decimal, error) {
	return committedEscrow(ctx, s.db, payerID)
}

func (r *txRepo) CommittedEscrow(ctx context.Context, payerID uuid.UUID) (decimal.Decimal, error) {
	return committedEscrow(ctx, r.tx, payerID)
}

// committedEscrow суммирует эскроу проектов плательщика, по которым ещё не было выплаты или возврата.
func committedEscrow(ctx context.Context, q sqlx.QueryerContext, payerID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := sqlx.GetContext(ctx, q, &sum, `
		SELECT COALESCE(SUM(e.amount), 0) FROM transactions e
		WHERE e.type = 'escrow' AND e.project_id IS NOT NULL AND e.payer_id = $1
			AND NOT EXISTS (
				SELECT 1 FROM transactions s
				WHERE s.project_id = e.project_id AND s.type IN ('release', 'refund')
			)
	`, payerID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger repository: committed escrow %w", err)
	}
	return sum, nil
}

func (r *txRepo) InsertTransaction(ctx context.Context, t *models.Transaction) error {
	err := r.tx.GetContext(ctx, t, `
		INSERT INTO transactions (id, type, amount, platform_fee, net_amount, payer_id, payee_id, project_id,
			deposit_id, escrow_transaction_id, status, reference)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING *
	`, t.ID, t.Type, t.Amount, t.PlatformFee, t.NetAmount, t.PayerID, t.PayeeID, t.ProjectID,
		t.DepositID, t.EscrowTransactionID, t.Status, t.Reference)
	return common.MapWriteError("ledger repository: insert transaction", err)
}

// InsertAudit пишет записи аудита одним запросом в той же транзакции, что и изменение.
func (r *txRepo) InsertAudit(ctx context.Context, records ...*models.AuditRecord) error {
	inserter := common.NewBatchInserter(r.tx,
		`INSERT INTO audit_logs (id, entity_table, entity_id, action, actor_id, before_state, after_state, reason)`,
		8, len(records))
	for _, rec := range records {
		if rec.ID == uuid.Nil {
			rec.ID = uuid.New()
		}
		if err := inserter.Add(ctx, rec.ID, rec.EntityTable, rec.EntityID, rec.Action, rec.ActorID,
			nullJSON(rec.Before), nullJSON(rec.After), rec.Reason); err != nil {
			return fmt.Errorf("audit repository: %w", err)
		}
	}
	if err := inserter.Flush(ctx); err != nil {
		return fmt.Errorf("audit repository: %w", err)
	}
	return nil
}

// nullJSON передаёт jsonb строкой: []byte lib/pq отправил бы как bytea.
func nullJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
