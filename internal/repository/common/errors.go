package common

import (
	"errors"
	"fmt"

	"github.com/lib/pq"

	domainrepo "github.com/ignatzorin/freelance-escrow/internal/domain/repository"
)

// Общие ошибки для всех репозиториев
var (
	ErrNotFound        = domainrepo.ErrNotFound
	ErrUniqueViolation = domainrepo.ErrUniqueViolation
)

const pqUniqueViolation = "23505"

// MapWriteError переводит нарушение уникальности в ErrUniqueViolation с именем индекса.
func MapWriteError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return fmt.Errorf("%s: %s: %w", op, pqErr.Constraint, ErrUniqueViolation)
	}
	return fmt.Errorf("%s: %w", op, err)
}
