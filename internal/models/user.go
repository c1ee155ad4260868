package models

import (
	"time"

	"github.com/google/uuid"
)

// User описывает участника сделки. Учётные данные и профиль живут в другом сервисе,
// здесь только то, что нужно для проверки допуска к операциям.
type User struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	Role      string    `db:"role" json:"role"`
	IsBlocked bool      `db:"is_blocked" json:"is_blocked"`
	KYCStatus string    `db:"kyc_status" json:"kyc_status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// IsAdmin сообщает, является ли пользователь администратором.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == UserRoleAdmin
}
