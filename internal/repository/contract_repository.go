package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/freelance-escrow/internal/models"
	"github.com/ignatzorin/freelance-escrow/internal/repository/common"
)

func (s *Store) GetContract(ctx context.Context, id uuid.UUID) (*models.Contract, error) {
	return common.GetByID[models.Contract](ctx, s.db, "contracts", id, false)
}

func (s *Store) GetContractByProject(ctx context.Context, projectID uuid.UUID) (*models.Contract, error) {
	return common.GetByField[models.Contract](ctx, s.db, "contracts", "project_id", projectID, false)
}

func (s *Store) ListSignatures(ctx context.Context, contractID uuid.UUID) ([]models.ContractSignature, error) {
	return listSignatures(ctx, s.db, contractID)
}

// SetContractDocument сохраняет ссылку на отрендеренный документ.
func (r *txRepo) SetContractDocument(ctx context.Context, contractID uuid.UUID, ref string) error {
	res, err := r.tx.ExecContext(ctx, `
		UPDATE contracts SET document_ref = $2, updated_at = NOW() WHERE id = $1 AND status = 'fully_signed'
	`, contractID, ref)
	if err != nil {
		return fmt.Errorf("contract repository: set document %w", err)
	}
	return requireRow(res)
}

func (r *txRepo) CreateContract(ctx context.Context, c *models.Contract) error {
	err := r.tx.GetContext(ctx, c, `
		INSERT INTO contracts (id, project_id, employer_id, worker_id, title, terms, agreed_amount, currency, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING *
	`, c.ID, c.ProjectID, c.EmployerID, c.WorkerID, c.Title, c.Terms, c.AgreedAmount, c.Currency, c.Status)
	return common.MapWriteError("contract repository: create", err)
}

func (r *txRepo) LockContract(ctx context.Context, id uuid.UUID) (*models.Contract, error) {
	return common.GetByID[models.Contract](ctx, r.tx, "contracts", id, true)
}

func (r *txRepo) UpdateContract(ctx context.Context, c *models.Contract) error {
	err := r.tx.GetContext(ctx, c, `
		UPDATE contracts
		SET status = $2, employer_signed_at = $3, worker_signed_at = $4, fully_signed_at = $5,
			cancelled_at = $6, cancelled_by = $7, cancel_reason = $8, updated_at = NOW()
		WHERE id = $1
		RETURNING *
	`, c.ID, c.Status, c.EmployerSignedAt, c.WorkerSignedAt, c.FullySignedAt, c.CancelledAt, c.CancelledBy, c.CancelReason)
	if err != nil {
		return fmt.Errorf("contract repository: update %w", err)
	}
	return nil
}

func (r *txRepo) ListSignatures(ctx context.Context, contractID uuid.UUID) ([]models.ContractSignature, error) {
	return listSignatures(ctx, r.tx, contractID)
}

func (r *txRepo) InsertSignature(ctx context.Context, sig *models.ContractSignature) error {
	err := r.tx.GetContext(ctx, sig, `
		INSERT INTO contract_signatures (id, contract_id, signer_id, role, full_name, ip_address, user_agent, content_hash, signed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING *
	`, sig.ID, sig.ContractID, sig.SignerID, sig.Role, sig.FullName, sig.IPAddress, sig.UserAgent, sig.ContentHash, sig.SignedAt)
	return common.MapWriteError("contract repository: insert signature", err)
}

func listSignatures(ctx context.Context, q sqlx.QueryerContext, contractID uuid.UUID) ([]models.ContractSignature, error) {
	var sigs []models.ContractSignature
	err := sqlx.SelectContext(ctx, q, &sigs, `
		SELECT * FROM contract_signatures WHERE contract_id = $1 ORDER BY signed_at ASC
	`, contractID)
	if err != nil {
		return nil, fmt.Errorf("contract repository: list signatures %w", err)
	}
	return sigs, nil
}
