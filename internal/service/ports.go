package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	domainrepo "github.com/ignatzorin/freelance-escrow/internal/domain/repository"
	"github.com/ignatzorin/freelance-escrow/internal/goroutine"
	"github.com/ignatzorin/freelance-escrow/internal/logger"
	"github.com/ignatzorin/freelance-escrow/internal/models"
	"github.com/ignatzorin/freelance-escrow/internal/payment/gateway"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

// Actor идентифицирует того, кто выполняет операцию. Передаётся явно в каждый вызов.
type Actor struct {
	UserID    uuid.UUID
	Role      string
	IPAddress string
	UserAgent string
}

func (a Actor) IsAdmin() bool {
	return a.Role == models.UserRoleAdmin
}

func (a Actor) authenticated() error {
	if a.UserID == uuid.Nil {
		return apperror.ErrUnauthorized
	}
	return nil
}

// ComplianceGate отвечает, заблокирован ли пользователь (KYC, watchlist).
type ComplianceGate interface {
	IsBlocked(ctx context.Context, userID uuid.UUID) (bool, error)
}

// Notifier доставляет события пользователям. Ошибки доставки не влияют на операции.
type Notifier interface {
	NotifyUser(userID uuid.UUID, event string, data any) error
}

// DocumentRenderer строит документ подписанного контракта и возвращает ссылку на него.
type DocumentRenderer interface {
	RenderAndStore(ctx context.Context, contract *models.Contract, signatures []models.ContractSignature) (string, error)
}

// PaymentGateway платёжный шлюз с классифицированными ошибками.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, req gateway.CreateIntentRequest) (*gateway.Intent, error)
	RetrieveIntent(ctx context.Context, intentID string) (*gateway.Intent, error)
}

// События уведомлений.
const (
	EventBidAccepted       = "bid_accepted"
	EventBidRejected       = "bid_rejected"
	EventContractSigned    = "contract_signed"
	EventContractCancelled = "contract_cancelled"
	EventDepositCompleted  = "deposit_completed"
	EventDepositFailed     = "deposit_failed"
	EventPaymentReleased   = "payment_released"
	EventPaymentRefunded   = "payment_refunded"
)

// Таблицы, на которые ссылаются записи аудита и ссылки обращений.
const (
	tableJobs         = "jobs"
	tableBids         = "bids"
	tableProjects     = "projects"
	tableContracts    = "contracts"
	tableSignatures   = "contract_signatures"
	tableDeposits     = "deposits"
	tableBalances     = "user_balances"
	tableTransactions = "transactions"
)

// NopNotifier используется, когда доставка уведомлений не настроена.
type NopNotifier struct{}

func (NopNotifier) NotifyUser(uuid.UUID, string, any) error { return nil }

func checkCompliance(ctx context.Context, gate ComplianceGate, userIDs ...uuid.UUID) error {
	for _, id := range userIDs {
		blocked, err := gate.IsBlocked(ctx, id)
		if err != nil {
			return apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось проверить ограничения пользователя")
		}
		if blocked {
			return apperror.ComplianceBlocked("операция недоступна: пользователь не прошёл проверку или заблокирован")
		}
	}
	return nil
}

// notifyAsync отправляет уведомления в фоне, не блокируя ответ.
func notifyAsync(n Notifier, event string, data any, userIDs ...uuid.UUID) {
	if n == nil || len(userIDs) == 0 {
		return
	}
	goroutine.SafeGo(func() {
		for _, id := range userIDs {
			if err := n.NotifyUser(id, event, data); err != nil {
				logger.L().WithFields(logrus.Fields{
					"user_id": id,
					"event":   event,
				}).WithError(err).Warn("notify: не удалось доставить уведомление")
			}
		}
	})
}

// orNotFound подменяет ошибку хранилища «не найдено» на ошибку таксономии.
func orNotFound(err error, notFound *apperror.AppError) error {
	if errors.Is(err, domainrepo.ErrNotFound) {
		return notFound
	}
	return err
}

// conflictOnUnique превращает нарушение уникального индекса в конфликт со ссылкой.
func conflictOnUnique(err error, message, entity string, id uuid.UUID) error {
	if errors.Is(err, domainrepo.ErrUniqueViolation) {
		e := apperror.Conflict(message, entity, id)
		e.Cause = err
		return e
	}
	return err
}

func snapshot(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}

func audit(table string, id uuid.UUID, action string, actor *uuid.UUID, before, after any, reason string) *models.AuditRecord {
	rec := &models.AuditRecord{
		EntityTable: table,
		EntityID:    id,
		Action:      action,
		ActorID:     actor,
		Before:      snapshot(before),
		After:       snapshot(after),
	}
	if reason != "" {
		rec.Reason = &reason
	}
	return rec
}

func actorRef(a Actor) *uuid.UUID {
	if a.UserID == uuid.Nil {
		return nil
	}
	id := a.UserID
	return &id
}

// lockBalances блокирует строки балансов в порядке идентификаторов, чтобы
// параллельные транзакции не взаимоблокировались.
func lockBalances(ctx context.Context, tx domainrepo.Tx, userIDs ...uuid.UUID) (map[uuid.UUID]*models.UserBalance, error) {
	ids := append([]uuid.UUID(nil), userIDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	out := make(map[uuid.UUID]*models.UserBalance, len(ids))
	for _, id := range ids {
		if _, ok := out[id]; ok {
			continue
		}
		b, err := tx.LockBalance(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = b
	}
	return out, nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
