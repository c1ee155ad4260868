package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	domainrepo "github.com/ignatzorin/freelance-escrow/internal/domain/repository"
	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freelance-escrow/internal/logger"
	"github.com/ignatzorin/freelance-escrow/internal/metrics"
	"github.com/ignatzorin/freelance-escrow/internal/models"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/freelance-escrow/internal/validation"
)

const refundCancelReason = "возврат эскроу"

// SettlementService закрывает эскроу проекта: выплата исполнителю или возврат заказчику.
type SettlementService struct {
	store      domainrepo.Store
	compliance ComplianceGate
	fees       valueobject.FeePolicy
	notifier   Notifier
	now        func() time.Time
}

func NewSettlementService(store domainrepo.Store, compliance ComplianceGate, fees valueobject.FeePolicy, notifier Notifier) *SettlementService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &SettlementService{
		store:      store,
		compliance: compliance,
		fees:       fees,
		notifier:   notifier,
		now:        time.Now,
	}
}

// CompleteProject отмечает проект выполненным. После этого заказчик может выплатить эскроу.
func (s *SettlementService) CompleteProject(ctx context.Context, actor Actor, projectID uuid.UUID) (*models.Project, error) {
	if err := actor.authenticated(); err != nil {
		return nil, err
	}

	var project *models.Project
	err := s.store.Do(ctx, func(tx domainrepo.Tx) error {
		var err error
		project, err = tx.LockProject(ctx, projectID)
		if err != nil {
			return orNotFound(err, apperror.ErrProjectNotFound)
		}
		if project.EmployerID != actor.UserID {
			return apperror.Forbidden("завершить проект может только заказчик")
		}
		if !valueobject.ProjectStatus(project.Status).CanTransitionTo(valueobject.ProjectStatusCompleted) {
			return apperror.Conflict("проект не активен", tableProjects, projectID)
		}
		if !project.ContractSigned {
			return apperror.Conflict("контракт по проекту ещё не подписан обеими сторонами", tableProjects, projectID)
		}

		before := statusOf(project.Status)
		now := s.now().UTC()
		project.Status = models.ProjectStatusCompleted
		project.CompletedAt = &now
		if err := tx.UpdateProject(ctx, project); err != nil {
			return err
		}
		return tx.InsertAudit(ctx, audit(tableProjects, projectID, "complete", actorRef(actor), before, statusOf(project.Status), ""))
	})
	if err != nil {
		return nil, err
	}
	return project, nil
}

// Release переводит эскроу проекта исполнителю за вычетом комиссии платформы.
// Выплата возможна ровно один раз.
func (s *SettlementService) Release(ctx context.Context, actor Actor, projectID uuid.UUID) (*models.Transaction, error) {
	if err := actor.authenticated(); err != nil {
		return nil, err
	}
	pre, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, orNotFound(err, apperror.ErrProjectNotFound)
	}
	if pre.EmployerID != actor.UserID && !actor.IsAdmin() {
		return nil, apperror.Forbidden("выплату может выполнить только заказчик проекта")
	}
	if err := checkCompliance(ctx, s.compliance, actor.UserID, pre.WorkerID); err != nil {
		return nil, err
	}

	var (
		release *models.Transaction
		fee     *models.Transaction
	)
	err = s.store.Do(ctx, func(tx domainrepo.Tx) error {
		project, err := tx.LockProject(ctx, projectID)
		if err != nil {
			return orNotFound(err, apperror.ErrProjectNotFound)
		}
		if project.PaymentReleased {
			return apperror.Conflict("оплата по проекту уже выплачена", tableProjects, projectID)
		}
		if project.Status != models.ProjectStatusCompleted {
			return apperror.Conflict("выплата возможна только по завершённому проекту", tableProjects, projectID)
		}

		escrow, err := s.settleable(ctx, tx, project)
		if err != nil {
			return err
		}

		amount := project.AgreedAmount
		platformFee, net := s.fees.Split(amount)

		balances, err := lockBalances(ctx, tx, project.EmployerID, project.WorkerID)
		if err != nil {
			return err
		}
		payerBefore := balances[project.EmployerID]
		workerBefore := balances[project.WorkerID]
		if payerBefore.EscrowBalance.LessThan(amount) {
			return integrityViolation("эскроу-баланс заказчика меньше суммы проекта", tableBalances, project.EmployerID)
		}

		payerAfter, err := tx.AdjustBalance(ctx, project.EmployerID, amount.Neg(), decimal.Zero)
		if err != nil {
			return err
		}
		workerAfter, err := tx.AdjustBalance(ctx, project.WorkerID, decimal.Zero, net)
		if err != nil {
			return err
		}

		workerID := project.WorkerID
		escrowID := escrow.ID
		release = &models.Transaction{
			ID:                  uuid.New(),
			Type:                models.TransactionTypeRelease,
			Amount:              amount,
			PlatformFee:         platformFee,
			NetAmount:           net,
			PayerID:             project.EmployerID,
			PayeeID:             &workerID,
			ProjectID:           &projectID,
			EscrowTransactionID: &escrowID,
			Status:              models.TransactionStatusCompleted,
		}
		if err := tx.InsertTransaction(ctx, release); err != nil {
			return conflictOnUnique(err, "оплата по проекту уже выплачена", tableProjects, projectID)
		}
		fee = &models.Transaction{
			ID:                  uuid.New(),
			Type:                models.TransactionTypeFee,
			Amount:              platformFee,
			PlatformFee:         platformFee,
			NetAmount:           platformFee,
			PayerID:             project.EmployerID,
			ProjectID:           &projectID,
			EscrowTransactionID: &escrowID,
			Status:              models.TransactionStatusCompleted,
		}
		if err := tx.InsertTransaction(ctx, fee); err != nil {
			return err
		}

		project.PaymentReleased = true
		if err := tx.UpdateProject(ctx, project); err != nil {
			return err
		}

		return tx.InsertAudit(ctx,
			audit(tableProjects, projectID, "release", actorRef(actor),
				map[string]bool{"payment_released": false}, map[string]bool{"payment_released": true}, ""),
			audit(tableBalances, project.EmployerID, "escrow_debit", actorRef(actor),
				balanceState(payerBefore), balanceState(payerAfter), "payment_released"),
			audit(tableBalances, project.WorkerID, "available_credit", actorRef(actor),
				balanceState(workerBefore), balanceState(workerAfter), "payment_released"),
			audit(tableTransactions, release.ID, "create", actorRef(actor), nil, release, "payment_released"),
			audit(tableTransactions, fee.ID, "create", actorRef(actor), nil, fee, "platform_fee"),
		)
	})
	if err != nil {
		metrics.SettlementsTotal.WithLabelValues(models.TransactionTypeRelease, settlementResult(err)).Inc()
		return nil, err
	}
	metrics.SettlementsTotal.WithLabelValues(models.TransactionTypeRelease, "ok").Inc()

	logger.L().WithFields(logrus.Fields{
		"project_id": projectID,
		"amount":     release.Amount.StringFixed(valueobject.MoneyScale),
		"fee":        release.PlatformFee.StringFixed(valueobject.MoneyScale),
		"actor_id":   actor.UserID,
	}).Info("payment released")

	notifyAsync(s.notifier, EventPaymentReleased, map[string]any{
		"project_id": projectID,
		"net_amount": release.NetAmount,
	}, pre.WorkerID, pre.EmployerID)
	return release, nil
}

// Refund возвращает эскроу проекта заказчику. Заказчик может вернуть средства только по
// отменённому проекту, администратор по любому невыплаченному.
func (s *SettlementService) Refund(ctx context.Context, actor Actor, projectID uuid.UUID, reason string) (*models.Transaction, error) {
	if err := actor.authenticated(); err != nil {
		return nil, err
	}
	reason, err := validation.Reason(reason, false)
	if err != nil {
		return nil, apperror.Validation(err.Error())
	}
	pre, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, orNotFound(err, apperror.ErrProjectNotFound)
	}
	if pre.EmployerID != actor.UserID && !actor.IsAdmin() {
		return nil, apperror.Forbidden("вернуть средства может только заказчик проекта")
	}
	contract, err := s.store.GetContractByProject(ctx, projectID)
	if err != nil && !errors.Is(err, domainrepo.ErrNotFound) {
		return nil, err
	}

	var refund *models.Transaction
	err = s.store.Do(ctx, func(tx domainrepo.Tx) error {
		// Контракт блокируется раньше проекта, как при подписании и отмене.
		var locked *models.Contract
		if contract != nil {
			c, err := tx.LockContract(ctx, contract.ID)
			if err != nil {
				return orNotFound(err, apperror.ErrContractNotFound)
			}
			locked = c
		}
		project, err := tx.LockProject(ctx, projectID)
		if err != nil {
			return orNotFound(err, apperror.ErrProjectNotFound)
		}
		if project.PaymentReleased {
			return apperror.Conflict("оплата по проекту уже выплачена", tableProjects, projectID)
		}
		if !actor.IsAdmin() && project.Status != models.ProjectStatusCancelled {
			return apperror.Forbidden("заказчик может вернуть средства только по отменённому проекту")
		}

		escrow, err := s.settleable(ctx, tx, project)
		if err != nil {
			return err
		}
		amount := escrow.Amount

		balances, err := lockBalances(ctx, tx, project.EmployerID)
		if err != nil {
			return err
		}
		before := balances[project.EmployerID]
		if before.EscrowBalance.LessThan(amount) {
			return integrityViolation("эскроу-баланс заказчика меньше суммы проекта", tableBalances, project.EmployerID)
		}
		after, err := tx.AdjustBalance(ctx, project.EmployerID, amount.Neg(), amount)
		if err != nil {
			return err
		}

		payerID := project.EmployerID
		escrowID := escrow.ID
		refund = &models.Transaction{
			ID:                  uuid.New(),
			Type:                models.TransactionTypeRefund,
			Amount:              amount,
			PlatformFee:         decimal.Zero,
			NetAmount:           amount,
			PayerID:             project.EmployerID,
			PayeeID:             &payerID,
			ProjectID:           &projectID,
			EscrowTransactionID: &escrowID,
			Status:              models.TransactionStatusCompleted,
		}
		if reason != "" {
			refund.Reference = &reason
		}
		if err := tx.InsertTransaction(ctx, refund); err != nil {
			return conflictOnUnique(err, "эскроу проекта уже рассчитано", tableProjects, projectID)
		}

		records := []*models.AuditRecord{
			audit(tableBalances, project.EmployerID, "escrow_refund", actorRef(actor),
				balanceState(before), balanceState(after), reason),
			audit(tableTransactions, refund.ID, "create", actorRef(actor), nil, refund, "refund"),
		}
		if valueobject.ProjectStatus(project.Status).CanTransitionTo(valueobject.ProjectStatusCancelled) {
			prev := statusOf(project.Status)
			project.Status = models.ProjectStatusCancelled
			if reason != "" {
				project.CancelReason = &reason
			}
			if err := tx.UpdateProject(ctx, project); err != nil {
				return err
			}
			records = append(records, audit(tableProjects, projectID, "cancel", actorRef(actor), prev, statusOf(project.Status), reason))

			// Неподписанный контракт отменяется вместе с проектом. Полностью подписанный остаётся как есть.
			if locked != nil && valueobject.ContractStatus(locked.Status).CanTransitionTo(valueobject.ContractStatusCancelled) {
				now := s.now().UTC()
				contractBefore := statusOf(locked.Status)
				locked.Status = models.ContractStatusCancelled
				locked.CancelledAt = &now
				locked.CancelledBy = actorRef(actor)
				cancelReason := reason
				if cancelReason == "" {
					cancelReason = refundCancelReason
				}
				locked.CancelReason = &cancelReason
				if err := tx.UpdateContract(ctx, locked); err != nil {
					return err
				}
				records = append(records, audit(tableContracts, locked.ID, "cancel", actorRef(actor),
					contractBefore, statusOf(locked.Status), cancelReason))
			}
		}
		return tx.InsertAudit(ctx, records...)
	})
	if err != nil {
		metrics.SettlementsTotal.WithLabelValues(models.TransactionTypeRefund, settlementResult(err)).Inc()
		return nil, err
	}
	metrics.SettlementsTotal.WithLabelValues(models.TransactionTypeRefund, "ok").Inc()

	logger.L().WithFields(logrus.Fields{
		"project_id": projectID,
		"amount":     refund.Amount.StringFixed(valueobject.MoneyScale),
		"actor_id":   actor.UserID,
	}).Info("escrow refunded")

	notifyAsync(s.notifier, EventPaymentRefunded, map[string]any{
		"project_id": projectID,
		"amount":     refund.Amount,
	}, pre.EmployerID, pre.WorkerID)
	return refund, nil
}

// settleable проверяет, что проект обеспечен эскроу и ещё не рассчитан, и что сумма
// расчёта не превышает эскроу.
func (s *SettlementService) settleable(ctx context.Context, tx domainrepo.Tx, project *models.Project) (*models.Transaction, error) {
	txns, err := tx.ListProjectTransactions(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	escrow := findTransaction(txns, models.TransactionTypeEscrow)
	if escrow == nil {
		return nil, apperror.Conflict("проект не обеспечен эскроу", tableProjects, project.ID)
	}
	if findTransaction(txns, models.TransactionTypeRelease) != nil || findTransaction(txns, models.TransactionTypeRefund) != nil {
		return nil, apperror.Conflict("эскроу проекта уже рассчитано", tableProjects, project.ID)
	}

	settled := decimal.Zero
	for _, t := range txns {
		if t.Type == models.TransactionTypeRelease || t.Type == models.TransactionTypeRefund {
			settled = settled.Add(t.Amount)
		}
	}
	if settled.Add(project.AgreedAmount).GreaterThan(escrow.Amount) {
		return nil, integrityViolation("сумма расчёта превышает эскроу проекта", tableProjects, project.ID)
	}
	return escrow, nil
}

// SettlementSummary состояние эскроу проекта.
type SettlementSummary struct {
	ProjectID       uuid.UUID       `json:"project_id"`
	Status          string          `json:"status"`
	AgreedAmount    decimal.Decimal `json:"agreed_amount"`
	PlatformFee     decimal.Decimal `json:"platform_fee"`
	NetAmount       decimal.Decimal `json:"net_amount"`
	Funded          bool            `json:"funded"`
	EscrowAmount    decimal.Decimal `json:"escrow_amount"`
	ReleasedAmount  decimal.Decimal `json:"released_amount"`
	RefundedAmount  decimal.Decimal `json:"refunded_amount"`
	FeeAmount       decimal.Decimal `json:"fee_amount"`
	PaymentReleased bool            `json:"payment_released"`
}

func (s *SettlementService) Summary(ctx context.Context, actor Actor, projectID uuid.UUID) (*SettlementSummary, error) {
	if err := actor.authenticated(); err != nil {
		return nil, err
	}
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, orNotFound(err, apperror.ErrProjectNotFound)
	}
	if !project.IsParty(actor.UserID) && !actor.IsAdmin() {
		return nil, apperror.ErrProjectNotFound
	}
	txns, err := s.store.ListProjectTransactions(ctx, projectID)
	if err != nil {
		return nil, err
	}

	summary := &SettlementSummary{
		ProjectID:       project.ID,
		Status:          project.Status,
		AgreedAmount:    project.AgreedAmount,
		PlatformFee:     project.PlatformFee,
		NetAmount:       project.NetAmount,
		EscrowAmount:    decimal.Zero,
		ReleasedAmount:  decimal.Zero,
		RefundedAmount:  decimal.Zero,
		FeeAmount:       decimal.Zero,
		PaymentReleased: project.PaymentReleased,
	}
	for _, t := range txns {
		switch t.Type {
		case models.TransactionTypeEscrow:
			summary.Funded = true
			summary.EscrowAmount = summary.EscrowAmount.Add(t.Amount)
		case models.TransactionTypeRelease:
			summary.ReleasedAmount = summary.ReleasedAmount.Add(t.Amount)
		case models.TransactionTypeRefund:
			summary.RefundedAmount = summary.RefundedAmount.Add(t.Amount)
		case models.TransactionTypeFee:
			summary.FeeAmount = summary.FeeAmount.Add(t.Amount)
		}
	}
	return summary, nil
}

func findTransaction(txns []models.Transaction, typ string) *models.Transaction {
	for i := range txns {
		if txns[i].Type == typ {
			return &txns[i]
		}
	}
	return nil
}

func integrityViolation(message, entity string, id uuid.UUID) error {
	metrics.IntegrityViolationsTotal.Inc()
	e := apperror.Integrity(message, entity, id)
	logger.L().WithFields(logrus.Fields{
		"reference": e.Reference,
	}).Error("ledger integrity violation: " + message)
	return e
}

func balanceState(b *models.UserBalance) map[string]decimal.Decimal {
	if b == nil {
		return nil
	}
	return map[string]decimal.Decimal{
		"escrow_balance":    b.EscrowBalance,
		"available_balance": b.AvailableBalance,
	}
}

func settlementResult(err error) string {
	switch {
	case apperror.IsConflict(err):
		return "conflict"
	case apperror.IsIntegrity(err):
		return "integrity"
	case apperror.IsForbidden(err), apperror.IsComplianceBlocked(err):
		return "denied"
	default:
		return "error"
	}
}
