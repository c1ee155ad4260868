package entity

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"

	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freelance-escrow/internal/models"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

const contractsTable = "contracts"

// Contract хранит состояние подписания контракта. Все проверки чистые и зависят только
// от полей контракта, набора подписей и роли, вычисленной из идентификатора актора.
type Contract struct {
	ID         uuid.UUID
	EmployerID uuid.UUID
	WorkerID   uuid.UUID
	Status     valueobject.ContractStatus
	signed     map[valueobject.Role]time.Time
}

// NewContract собирает состояние из сохранённого контракта и его подписей.
func NewContract(c *models.Contract, signatures []models.ContractSignature) *Contract {
	state := &Contract{
		ID:         c.ID,
		EmployerID: c.EmployerID,
		WorkerID:   c.WorkerID,
		Status:     valueobject.ContractStatus(c.Status),
		signed:     make(map[valueobject.Role]time.Time, 2),
	}
	for _, sig := range signatures {
		state.signed[valueobject.Role(sig.Role)] = sig.SignedAt
	}
	return state
}

// RoleOf возвращает роль пользователя в контракте.
func (c *Contract) RoleOf(userID uuid.UUID) valueobject.Role {
	switch userID {
	case uuid.Nil:
		return valueobject.RoleNone
	case c.EmployerID:
		return valueobject.RoleEmployer
	case c.WorkerID:
		return valueobject.RoleWorker
	default:
		return valueobject.RoleNone
	}
}

func (c *Contract) HasSigned(role valueobject.Role) bool {
	_, ok := c.signed[role]
	return ok
}

// NextSigner возвращает роль, чья подпись ожидается следующей, или RoleNone,
// если подписывать больше нечего.
func (c *Contract) NextSigner() valueobject.Role {
	if c.Status == valueobject.ContractStatusCancelled {
		return valueobject.RoleNone
	}
	switch {
	case !c.HasSigned(valueobject.RoleEmployer):
		return valueobject.RoleEmployer
	case !c.HasSigned(valueobject.RoleWorker):
		return valueobject.RoleWorker
	default:
		return valueobject.RoleNone
	}
}

// CanView проверяет доступ к полному тексту. Исполнитель видит контракт
// только после подписи заказчика.
func (c *Contract) CanView(role valueobject.Role) error {
	switch role {
	case valueobject.RoleEmployer:
		return nil
	case valueobject.RoleWorker:
		if !c.HasSigned(valueobject.RoleEmployer) {
			return apperror.Forbidden("контракт станет доступен после подписи заказчика")
		}
		return nil
	default:
		return apperror.Forbidden("вы не являетесь стороной контракта")
	}
}

// CheckSign проверяет, может ли роль подписать контракт прямо сейчас.
func (c *Contract) CheckSign(role valueobject.Role) error {
	if !role.IsParty() {
		return apperror.Forbidden("вы не являетесь стороной контракта")
	}
	if c.Status == valueobject.ContractStatusCancelled {
		return apperror.Conflict("контракт отменён", contractsTable, c.ID)
	}
	if c.HasSigned(role) {
		return apperror.Conflict("контракт уже подписан этой стороной", contractsTable, c.ID)
	}
	if c.Status == valueobject.ContractStatusFullySigned {
		return apperror.Conflict("контракт уже подписан обеими сторонами", contractsTable, c.ID)
	}
	if role == valueobject.RoleWorker && !c.HasSigned(valueobject.RoleEmployer) {
		return apperror.Forbidden("исполнитель подписывает контракт только после заказчика")
	}
	return nil
}

// Sign применяет подпись и возвращает новый статус контракта.
func (c *Contract) Sign(role valueobject.Role, at time.Time) (valueobject.ContractStatus, error) {
	if err := c.CheckSign(role); err != nil {
		return c.Status, err
	}

	next := valueobject.ContractStatusPendingWorker
	if role == valueobject.RoleWorker {
		next = valueobject.ContractStatusFullySigned
	}
	if !c.Status.CanTransitionTo(next) {
		return c.Status, apperror.Conflict("недопустимый переход статуса контракта", contractsTable, c.ID)
	}

	c.signed[role] = at
	c.Status = next
	return next, nil
}

// CheckCancel разрешает отмену только заказчику и только до полного подписания.
func (c *Contract) CheckCancel(role valueobject.Role) error {
	if role != valueobject.RoleEmployer {
		return apperror.Forbidden("отменить контракт может только заказчик")
	}
	if c.Status == valueobject.ContractStatusCancelled {
		return apperror.Conflict("контракт уже отменён", contractsTable, c.ID)
	}
	if c.Status.IsTerminal() {
		return apperror.Conflict("подписанный контракт нельзя отменить", contractsTable, c.ID)
	}
	return nil
}

// ContentHash считает SHA3-256 от канонического JSON условий контракта.
// Ключи map сериализуются в отсортированном порядке, поэтому хэш детерминирован.
func ContentHash(c *models.Contract) (string, error) {
	canonical := map[string]string{
		"id":            c.ID.String(),
		"project_id":    c.ProjectID.String(),
		"employer_id":   c.EmployerID.String(),
		"worker_id":     c.WorkerID.String(),
		"title":         c.Title,
		"terms":         c.Terms,
		"agreed_amount": c.AgreedAmount.StringFixed(valueobject.MoneyScale),
		"currency":      c.Currency,
	}
	raw, err := json.Marshal(canonical)
	if err != nil {
		return "", err
	}
	sum := sha3.Sum256(raw)
	return "sha3-256:" + hex.EncodeToString(sum[:]), nil
}
