package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ComplianceRepository отвечает на вопрос «может ли пользователь совершать денежные операции».
// Источник данных: флаг блокировки (watchlist) и статус KYC, которые ведут внешние сервисы.
type ComplianceRepository struct {
	db         *sqlx.DB
	requireKYC bool
}

func NewComplianceRepository(db *sqlx.DB, requireKYC bool) *ComplianceRepository {
	return &ComplianceRepository{db: db, requireKYC: requireKYC}
}

// IsBlocked возвращает true для заблокированных пользователей, для пользователей без
// подтверждённого KYC (если он обязателен) и для неизвестных пользователей.
func (r *ComplianceRepository) IsBlocked(ctx context.Context, userID uuid.UUID) (bool, error) {
	var row struct {
		IsBlocked bool   `db:"is_blocked"`
		KYCStatus string `db:"kyc_status"`
	}
	err := r.db.GetContext(ctx, &row, `SELECT is_blocked, kyc_status FROM users WHERE id = $1`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return true, nil
		}
		return false, fmt.Errorf("compliance repository: %w", err)
	}
	if row.IsBlocked {
		return true, nil
	}
	return r.requireKYC && row.KYCStatus != "verified", nil
}
