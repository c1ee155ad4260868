package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	domainrepo "github.com/ignatzorin/freelance-escrow/internal/domain/repository"
	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freelance-escrow/internal/logger"
	"github.com/ignatzorin/freelance-escrow/internal/models"
	"github.com/ignatzorin/freelance-escrow/internal/payment/gateway"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/freelance-escrow/internal/validation"
)

// EscrowService создаёт депозиты через платёжный шлюз и резервирует эскроу под проекты.
type EscrowService struct {
	store      domainrepo.Store
	gateway    PaymentGateway
	compliance ComplianceGate
	currency   string
	maxDeposit decimal.Decimal
}

func NewEscrowService(store domainrepo.Store, gw PaymentGateway, compliance ComplianceGate, currency string, maxDeposit decimal.Decimal) *EscrowService {
	return &EscrowService{
		store:      store,
		gateway:    gw,
		compliance: compliance,
		currency:   strings.ToLower(currency),
		maxDeposit: maxDeposit,
	}
}

// CreateDepositInput параметры пополнения эскроу.
type CreateDepositInput struct {
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
}

// CreateDeposit запрашивает у шлюза платёжное намерение и сохраняет депозит в статусе pending.
// Повтор с тем же ключом идемпотентности возвращает уже созданный депозит.
func (s *EscrowService) CreateDeposit(ctx context.Context, actor Actor, in CreateDepositInput) (*models.Deposit, error) {
	if err := actor.authenticated(); err != nil {
		return nil, err
	}
	currency := in.Currency
	if strings.TrimSpace(currency) == "" {
		currency = s.currency
	}
	money, err := valueobject.NewMoney(in.Amount, currency, s.maxDeposit)
	if err != nil {
		return nil, err
	}
	if money.Currency != s.currency {
		return nil, apperror.Validation("платформа принимает платежи только в " + strings.ToUpper(s.currency))
	}
	key, err := validation.IdempotencyKey(in.IdempotencyKey)
	if err != nil {
		return nil, apperror.Validation(err.Error())
	}
	if err := checkCompliance(ctx, s.compliance, actor.UserID); err != nil {
		return nil, err
	}

	if key != "" {
		existing, err := s.replay(ctx, actor.UserID, key, money)
		if err != nil || existing != nil {
			return existing, err
		}
	}

	depositID := uuid.New()
	gatewayKey := key
	if gatewayKey == "" {
		gatewayKey = "deposit:" + depositID.String()
	} else {
		gatewayKey = actor.UserID.String() + ":" + key
	}

	intent, err := s.gateway.CreateIntent(ctx, gateway.CreateIntentRequest{
		Amount:   money.Amount,
		Currency: money.Currency,
		Metadata: map[string]string{
			gateway.MetadataOwnerID:   actor.UserID.String(),
			gateway.MetadataDepositID: depositID.String(),
		},
		IdempotencyKey: gatewayKey,
	})
	if err != nil {
		logger.L().WithFields(logrus.Fields{
			"user_id": actor.UserID,
			"code":    apperror.CodeOf(err),
		}).WithError(err).Warn("deposit: gateway rejected intent creation")
		return nil, err
	}

	deposit := &models.Deposit{
		ID:           depositID,
		OwnerID:      actor.UserID,
		Amount:       money.Amount,
		Currency:     money.Currency,
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       models.DepositStatusPending,
		Metadata:     snapshot(map[string]string{"intent_status": intent.Status}),
	}
	if key != "" {
		deposit.IdempotencyKey = &key
	}

	var inserted bool
	err = s.store.Do(ctx, func(tx domainrepo.Tx) error {
		var err error
		inserted, err = tx.InsertDeposit(ctx, deposit)
		if err != nil || !inserted {
			return err
		}
		return tx.InsertAudit(ctx, audit(tableDeposits, deposit.ID, "create", actorRef(actor), nil, deposit, "deposit_requested"))
	})
	if err != nil {
		if errors.Is(err, domainrepo.ErrUniqueViolation) && key != "" {
			// Параллельный запрос с тем же ключом успел первым.
			existing, replayErr := s.replay(ctx, actor.UserID, key, money)
			if replayErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, err
	}
	if !inserted {
		// Вебхук успел создать депозит по этому намерению раньше нас.
		existing, err := s.store.GetDepositByIntent(ctx, intent.ID)
		if err != nil {
			return nil, orNotFound(err, apperror.ErrDepositNotFound)
		}
		existing.ClientSecret = intent.ClientSecret
		return existing, nil
	}

	logger.L().WithFields(logrus.Fields{
		"deposit_id": deposit.ID,
		"intent_id":  intent.ID,
		"amount":     money.String(),
	}).Info("deposit created")
	return deposit, nil
}

func (s *EscrowService) replay(ctx context.Context, ownerID uuid.UUID, key string, money valueobject.Money) (*models.Deposit, error) {
	existing, err := s.store.GetDepositByIdempotencyKey(ctx, ownerID, key)
	if err != nil {
		if errors.Is(err, domainrepo.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !existing.Amount.Equal(money.Amount) || existing.Currency != money.Currency {
		return nil, apperror.Conflict("ключ идемпотентности уже использован для другой суммы", tableDeposits, existing.ID)
	}
	return existing, nil
}

// FundProject резервирует эскроу заказчика под проект. Сумма берётся из проекта,
// а не из запроса, и должна помещаться в незарезервированную часть эскроу.
func (s *EscrowService) FundProject(ctx context.Context, actor Actor, projectID uuid.UUID) (*models.Transaction, error) {
	if err := actor.authenticated(); err != nil {
		return nil, err
	}

	var txn *models.Transaction
	err := s.store.Do(ctx, func(tx domainrepo.Tx) error {
		project, err := tx.LockProject(ctx, projectID)
		if err != nil {
			return orNotFound(err, apperror.ErrProjectNotFound)
		}
		if project.EmployerID != actor.UserID {
			return apperror.Forbidden("зарезервировать оплату может только заказчик проекта")
		}
		if project.Status != models.ProjectStatusActive {
			return apperror.Conflict("проект не активен", tableProjects, projectID)
		}
		existing, err := tx.ListProjectTransactions(ctx, projectID)
		if err != nil {
			return err
		}
		if findTransaction(existing, models.TransactionTypeEscrow) != nil {
			return apperror.Conflict("проект уже обеспечен эскроу", tableProjects, projectID)
		}

		balances, err := lockBalances(ctx, tx, project.EmployerID)
		if err != nil {
			return err
		}
		committed, err := tx.CommittedEscrow(ctx, project.EmployerID)
		if err != nil {
			return err
		}
		free := balances[project.EmployerID].EscrowBalance.Sub(committed)
		if free.LessThan(project.AgreedAmount) {
			return apperror.Validation("недостаточно средств в эскроу: пополните баланс на " +
				project.AgreedAmount.Sub(free).StringFixed(valueobject.MoneyScale))
		}

		workerID := project.WorkerID
		txn = &models.Transaction{
			ID:          uuid.New(),
			Type:        models.TransactionTypeEscrow,
			Amount:      project.AgreedAmount,
			PlatformFee: project.PlatformFee,
			NetAmount:   project.NetAmount,
			PayerID:     project.EmployerID,
			PayeeID:     &workerID,
			ProjectID:   &projectID,
			Status:      models.TransactionStatusCompleted,
		}
		if err := tx.InsertTransaction(ctx, txn); err != nil {
			return conflictOnUnique(err, "проект уже обеспечен эскроу", tableProjects, projectID)
		}
		return tx.InsertAudit(ctx, audit(tableTransactions, txn.ID, "escrow_hold", actorRef(actor), nil, txn, "project_funded"))
	})
	if err != nil {
		return nil, err
	}

	logger.L().WithFields(logrus.Fields{
		"project_id": projectID,
		"amount":     txn.Amount.StringFixed(valueobject.MoneyScale),
	}).Info("project escrow funded")
	return txn, nil
}

// WalletBalance баланс пользователя с разбивкой эскроу.
type WalletBalance struct {
	*models.UserBalance
	CommittedEscrow decimal.Decimal `json:"committed_escrow"`
}

func (s *EscrowService) GetBalance(ctx context.Context, actor Actor) (*WalletBalance, error) {
	if err := actor.authenticated(); err != nil {
		return nil, err
	}
	balance, err := s.store.GetBalance(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	committed, err := s.store.CommittedEscrow(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	return &WalletBalance{UserBalance: balance, CommittedEscrow: committed}, nil
}

func (s *EscrowService) ListDeposits(ctx context.Context, actor Actor, limit, offset int) ([]models.Deposit, error) {
	if err := actor.authenticated(); err != nil {
		return nil, err
	}
	limit, offset = clampPage(limit, offset)
	deposits, err := s.store.ListDeposits(ctx, actor.UserID, limit, offset)
	if err != nil {
		return nil, err
	}
	// client_secret нужен только при создании.
	for i := range deposits {
		deposits[i].ClientSecret = ""
	}
	return deposits, nil
}

func (s *EscrowService) ListTransactions(ctx context.Context, actor Actor, limit, offset int) ([]models.Transaction, error) {
	if err := actor.authenticated(); err != nil {
		return nil, err
	}
	limit, offset = clampPage(limit, offset)
	return s.store.ListTransactions(ctx, actor.UserID, limit, offset)
}

// depositMetadata добавляет поля к метаданным депозита.
func depositMetadata(raw json.RawMessage, extra map[string]string) json.RawMessage {
	fields := map[string]string{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &fields)
	}
	for k, v := range extra {
		fields[k] = v
	}
	return snapshot(fields)
}
