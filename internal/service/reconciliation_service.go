package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	domainrepo "github.com/ignatzorin/freelance-escrow/internal/domain/repository"
	"github.com/ignatzorin/freelance-escrow/internal/logger"
	"github.com/ignatzorin/freelance-escrow/internal/metrics"
	"github.com/ignatzorin/freelance-escrow/internal/models"
	"github.com/ignatzorin/freelance-escrow/internal/payment/gateway"
	"github.com/ignatzorin/freelance-escrow/internal/payment/webhook"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

// Outcome результат подтверждения депозита.
type Outcome string

const (
	OutcomeCompleted      Outcome = "completed"
	OutcomeAlreadySettled Outcome = "already_settled"
	OutcomePending        Outcome = "pending"
	OutcomeFailed         Outcome = "failed"
)

// Источники подтверждения для метрик и логов.
const (
	triggerSync    = "sync"
	triggerWebhook = "webhook"
	triggerSweep   = "sweep"
	triggerManual  = "manual"
)

// WebhookVerifier проверяет подпись тела вебхука.
type WebhookVerifier interface {
	Verify(header string, body []byte) error
}

// ReconcileConfig параметры сверки.
type ReconcileConfig struct {
	Currency   string
	Lookback   time.Duration
	Throttle   time.Duration
	BatchLimit int
}

// ReconciliationService сводит состояние депозитов со статусом намерений в шлюзе.
// Синхронная проверка, вебхук и фоновый обход используют одну операцию applyIntentStatus.
type ReconciliationService struct {
	store    domainrepo.Store
	gateway  PaymentGateway
	verifier WebhookVerifier
	deduper  EventDeduper
	throttle *CacheService
	notifier Notifier
	cfg      ReconcileConfig
	now      func() time.Time
}

func NewReconciliationService(
	store domainrepo.Store,
	gw PaymentGateway,
	verifier WebhookVerifier,
	deduper EventDeduper,
	throttle *CacheService,
	notifier Notifier,
	cfg ReconcileConfig,
) *ReconciliationService {
	if deduper == nil {
		deduper = NopEventDeduper{}
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 20
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 72 * time.Hour
	}
	cfg.Currency = strings.ToLower(cfg.Currency)
	return &ReconciliationService{
		store:    store,
		gateway:  gw,
		verifier: verifier,
		deduper:  deduper,
		throttle: throttle,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Confirm запрашивает статус намерения в шлюзе и применяет его к депозиту.
// Безопасно вызывать сколько угодно раз, в том числе параллельно.
func (s *ReconciliationService) Confirm(ctx context.Context, depositID uuid.UUID) (Outcome, error) {
	deposit, err := s.store.GetDeposit(ctx, depositID)
	if err != nil {
		return "", orNotFound(err, apperror.ErrDepositNotFound)
	}
	return s.confirm(ctx, deposit, triggerManual)
}

// ConfirmForOwner то же, что Confirm, но только для владельца депозита или администратора.
func (s *ReconciliationService) ConfirmForOwner(ctx context.Context, actor Actor, depositID uuid.UUID) (Outcome, error) {
	if err := actor.authenticated(); err != nil {
		return "", err
	}
	deposit, err := s.store.GetDeposit(ctx, depositID)
	if err != nil {
		return "", orNotFound(err, apperror.ErrDepositNotFound)
	}
	if deposit.OwnerID != actor.UserID && !actor.IsAdmin() {
		// Чужой депозит не раскрываем.
		return "", apperror.ErrDepositNotFound
	}
	return s.confirm(ctx, deposit, triggerSync)
}

func (s *ReconciliationService) confirm(ctx context.Context, deposit *models.Deposit, trigger string) (Outcome, error) {
	if deposit.Status != models.DepositStatusPending {
		return settledOutcome(deposit.Status), nil
	}
	intent, err := s.gateway.RetrieveIntent(ctx, deposit.IntentID)
	if err != nil {
		metrics.DepositOutcomesTotal.WithLabelValues(trigger, "error").Inc()
		return "", err
	}
	return s.applyIntentStatus(ctx, deposit, intent, trigger)
}

// applyIntentStatus единственное место, где депозит завершается. Переход выполняется
// условным обновлением pending -> completed, и только выигравший его увеличивает баланс.
func (s *ReconciliationService) applyIntentStatus(ctx context.Context, deposit *models.Deposit, intent *gateway.Intent, trigger string) (Outcome, error) {
	var (
		outcome Outcome
		err     error
	)
	switch intent.Status {
	case gateway.IntentStatusSucceeded:
		if intent.Amount.IsPositive() && !intent.Amount.Equal(deposit.Amount) {
			logger.L().WithFields(logrus.Fields{
				"deposit_id":     deposit.ID,
				"intent_id":      intent.ID,
				"deposit_amount": deposit.Amount.String(),
				"intent_amount":  intent.Amount.String(),
			}).Warn("reconcile: intent amount differs from deposit amount, crediting deposit amount")
		}
		outcome, err = s.complete(ctx, deposit, trigger)
	case gateway.IntentStatusCanceled:
		outcome, err = s.fail(ctx, deposit, trigger)
	default:
		outcome = OutcomePending
	}
	if err != nil {
		metrics.DepositOutcomesTotal.WithLabelValues(trigger, "error").Inc()
		return "", err
	}
	metrics.DepositOutcomesTotal.WithLabelValues(trigger, string(outcome)).Inc()

	switch outcome {
	case OutcomeCompleted:
		logger.L().WithFields(logrus.Fields{
			"deposit_id": deposit.ID,
			"owner_id":   deposit.OwnerID,
			"trigger":    trigger,
		}).Info("deposit completed")
		notifyAsync(s.notifier, EventDepositCompleted, map[string]any{
			"deposit_id": deposit.ID,
			"amount":     deposit.Amount,
		}, deposit.OwnerID)
	case OutcomeFailed:
		notifyAsync(s.notifier, EventDepositFailed, map[string]any{"deposit_id": deposit.ID}, deposit.OwnerID)
	}
	return outcome, nil
}

func (s *ReconciliationService) complete(ctx context.Context, deposit *models.Deposit, trigger string) (Outcome, error) {
	won := false
	err := s.store.Do(ctx, func(tx domainrepo.Tx) error {
		updated, err := tx.TransitionDeposit(ctx, deposit.ID, models.DepositStatusPending, models.DepositStatusCompleted, s.now().UTC())
		if err != nil || updated == nil {
			return err
		}
		won = true

		balances, err := lockBalances(ctx, tx, updated.OwnerID)
		if err != nil {
			return err
		}
		before := balances[updated.OwnerID]
		after, err := tx.AdjustBalance(ctx, updated.OwnerID, updated.Amount, decimal.Zero)
		if err != nil {
			return err
		}

		depositID := updated.ID
		reference := updated.IntentID
		txn := &models.Transaction{
			ID:          uuid.New(),
			Type:        models.TransactionTypeEscrow,
			Amount:      updated.Amount,
			PlatformFee: decimal.Zero,
			NetAmount:   updated.Amount,
			PayerID:     updated.OwnerID,
			DepositID:   &depositID,
			Status:      models.TransactionStatusCompleted,
			Reference:   &reference,
		}
		if err := tx.InsertTransaction(ctx, txn); err != nil {
			if errors.Is(err, domainrepo.ErrUniqueViolation) {
				return integrityViolation("по депозиту уже есть проводка эскроу", tableDeposits, depositID)
			}
			return err
		}

		return tx.InsertAudit(ctx,
			audit(tableDeposits, depositID, "complete", nil, statusOf(models.DepositStatusPending), statusOf(updated.Status), "reconcile_"+trigger),
			audit(tableBalances, updated.OwnerID, "escrow_credit", nil,
				map[string]decimal.Decimal{"escrow_balance": before.EscrowBalance},
				map[string]decimal.Decimal{"escrow_balance": after.EscrowBalance}, "deposit_completed"),
			audit(tableTransactions, txn.ID, "create", nil, nil, txn, "deposit_completed"),
		)
	})
	if err != nil {
		return "", err
	}
	if won {
		return OutcomeCompleted, nil
	}
	return s.currentOutcome(ctx, deposit.ID)
}

func (s *ReconciliationService) fail(ctx context.Context, deposit *models.Deposit, trigger string) (Outcome, error) {
	won := false
	err := s.store.Do(ctx, func(tx domainrepo.Tx) error {
		updated, err := tx.TransitionDeposit(ctx, deposit.ID, models.DepositStatusPending, models.DepositStatusFailed, s.now().UTC())
		if err != nil || updated == nil {
			return err
		}
		won = true
		return tx.InsertAudit(ctx, audit(tableDeposits, deposit.ID, "fail", nil,
			statusOf(models.DepositStatusPending), statusOf(models.DepositStatusFailed), "reconcile_"+trigger))
	})
	if err != nil {
		return "", err
	}
	if won {
		return OutcomeFailed, nil
	}
	return s.currentOutcome(ctx, deposit.ID)
}

func (s *ReconciliationService) currentOutcome(ctx context.Context, depositID uuid.UUID) (Outcome, error) {
	current, err := s.store.GetDeposit(ctx, depositID)
	if err != nil {
		return "", orNotFound(err, apperror.ErrDepositNotFound)
	}
	return settledOutcome(current.Status), nil
}

func settledOutcome(status string) Outcome {
	switch status {
	case models.DepositStatusCompleted:
		return OutcomeAlreadySettled
	case models.DepositStatusFailed:
		return OutcomeFailed
	default:
		return OutcomePending
	}
}

// ReconcileReport итог синхронной сверки депозитов пользователя.
type ReconcileReport struct {
	Throttled bool `json:"throttled"`
	Checked   int  `json:"checked"`
	Completed int  `json:"completed"`
	Failed    int  `json:"failed"`
	Errors    int  `json:"errors"`
}

// ReconcileUser проверяет недавние ожидающие депозиты пользователя. Вызывается при
// просмотре кошелька, поэтому никогда не возвращает ошибку: сбои только логируются.
func (s *ReconciliationService) ReconcileUser(ctx context.Context, userID uuid.UUID) ReconcileReport {
	var report ReconcileReport
	key := ReconcileThrottleKey(userID)
	if s.throttle != nil && !s.throttle.TryAcquire(key, s.cfg.Throttle) {
		report.Throttled = true
		return report
	}

	deposits, err := s.store.ListPendingDeposits(ctx, domainrepo.PendingDepositFilter{
		OwnerID:      &userID,
		CreatedAfter: s.now().Add(-s.cfg.Lookback),
		Limit:        s.cfg.BatchLimit,
	})
	if err != nil {
		logger.L().WithField("user_id", userID).WithError(err).Warn("reconcile: не удалось получить ожидающие депозиты")
		if s.throttle != nil {
			s.throttle.Delete(key)
		}
		return report
	}

	for i := range deposits {
		report.Checked++
		outcome, err := s.confirm(ctx, &deposits[i], triggerSync)
		if err != nil {
			report.Errors++
			logReconcileError(deposits[i].ID, err)
			continue
		}
		switch outcome {
		case OutcomeCompleted:
			report.Completed++
		case OutcomeFailed:
			report.Failed++
		}
	}
	return report
}

func logReconcileError(depositID uuid.UUID, err error) {
	entry := logger.L().WithFields(logrus.Fields{
		"deposit_id": depositID,
		"code":       apperror.CodeOf(err),
	}).WithError(err)
	if apperror.IsGatewayAuth(err) {
		entry.Error("reconcile: шлюз отклонил учётные данные платформы")
		return
	}
	entry.Warn("reconcile: не удалось подтвердить депозит")
}

// WebhookResult итог обработки события шлюза.
type WebhookResult struct {
	EventID   string  `json:"event_id"`
	Outcome   Outcome `json:"outcome,omitempty"`
	Ignored   bool    `json:"ignored,omitempty"`
	Duplicate bool    `json:"duplicate,omitempty"`
}

// HandleWebhook проверяет подпись до разбора тела, отбрасывает повторы и применяет
// статус намерения тем же способом, что и синхронная проверка.
func (s *ReconciliationService) HandleWebhook(ctx context.Context, signature string, body []byte) (*WebhookResult, error) {
	if err := s.verifier.Verify(signature, body); err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("invalid_signature").Inc()
		return nil, apperror.Wrap(err, apperror.ErrCodeUnauthorized, "подпись вебхука не прошла проверку")
	}
	event, err := webhook.ParseEvent(body)
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("malformed").Inc()
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, "некорректное событие")
	}

	result := &WebhookResult{EventID: event.ID}
	if !event.Supported() {
		metrics.WebhookEventsTotal.WithLabelValues("ignored").Inc()
		result.Ignored = true
		return result, nil
	}

	first, err := s.deduper.FirstSeen(ctx, event.ID)
	if err != nil {
		logger.L().WithField("event_id", event.ID).WithError(err).Warn("webhook: dedupe недоступен, обрабатываем событие")
		first = true
	}
	if !first {
		metrics.WebhookEventsTotal.WithLabelValues("duplicate").Inc()
		result.Duplicate = true
		return result, nil
	}

	outcome, err := s.applyEvent(ctx, event)
	if err != nil {
		if forgetErr := s.deduper.Forget(ctx, event.ID); forgetErr != nil {
			logger.L().WithField("event_id", event.ID).WithError(forgetErr).Warn("webhook: не удалось снять отметку события")
		}
		metrics.WebhookEventsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if outcome == "" {
		metrics.WebhookEventsTotal.WithLabelValues("ignored").Inc()
		result.Ignored = true
		return result, nil
	}

	metrics.WebhookEventsTotal.WithLabelValues("processed").Inc()
	result.Outcome = outcome
	return result, nil
}

func (s *ReconciliationService) applyEvent(ctx context.Context, event *webhook.Event) (Outcome, error) {
	deposit, err := s.store.GetDepositByIntent(ctx, event.Intent.ID)
	if err != nil {
		if !errors.Is(err, domainrepo.ErrNotFound) {
			return "", err
		}
		deposit, err = s.adopt(ctx, &event.Intent)
		if err != nil || deposit == nil {
			return "", err
		}
	}
	if deposit.Status != models.DepositStatusPending {
		return settledOutcome(deposit.Status), nil
	}
	return s.applyIntentStatus(ctx, deposit, &event.Intent, triggerWebhook)
}

// adopt создаёт депозит для намерения, о котором мы не успели записать: сбой между
// созданием намерения в шлюзе и вставкой строки. Владелец берётся из метаданных намерения.
func (s *ReconciliationService) adopt(ctx context.Context, intent *gateway.Intent) (*models.Deposit, error) {
	ownerID, err := uuid.Parse(intent.Metadata[gateway.MetadataOwnerID])
	if err != nil || !intent.Amount.IsPositive() || intent.Currency != s.cfg.Currency {
		logger.L().WithField("intent_id", intent.ID).Warn("webhook: неизвестное намерение без владельца, пропускаем")
		return nil, nil
	}
	depositID, err := uuid.Parse(intent.Metadata[gateway.MetadataDepositID])
	if err != nil {
		depositID = uuid.New()
	}

	deposit := &models.Deposit{
		ID:       depositID,
		OwnerID:  ownerID,
		Amount:   intent.Amount,
		Currency: intent.Currency,
		IntentID: intent.ID,
		Status:   models.DepositStatusPending,
		Metadata: depositMetadata(nil, map[string]string{"source": "webhook", "intent_status": intent.Status}),
	}
	var inserted bool
	err = s.store.Do(ctx, func(tx domainrepo.Tx) error {
		var err error
		inserted, err = tx.InsertDeposit(ctx, deposit)
		if err != nil || !inserted {
			return err
		}
		return tx.InsertAudit(ctx, audit(tableDeposits, deposit.ID, "adopt", nil, nil, deposit, "webhook_unknown_intent"))
	})
	if err != nil {
		return nil, err
	}
	if !inserted {
		existing, err := s.store.GetDepositByIntent(ctx, intent.ID)
		if err != nil {
			return nil, orNotFound(err, apperror.ErrDepositNotFound)
		}
		return existing, nil
	}
	logger.L().WithFields(logrus.Fields{
		"deposit_id": deposit.ID,
		"intent_id":  intent.ID,
	}).Warn("webhook: депозит восстановлен по событию шлюза")
	return deposit, nil
}

// RunSweeper периодически подтверждает зависшие депозиты всех пользователей.
// Блокирует до отмены ctx.
func (s *ReconciliationService) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *ReconciliationService) sweep(ctx context.Context) {
	now := s.now()
	deposits, err := s.store.ListPendingDeposits(ctx, domainrepo.PendingDepositFilter{
		CreatedAfter:  now.Add(-s.cfg.Lookback),
		CreatedBefore: now.Add(-time.Minute),
		Limit:         s.cfg.BatchLimit,
	})
	if err != nil {
		logger.L().WithError(err).Warn("reconcile sweep: не удалось получить ожидающие депозиты")
		return
	}
	for i := range deposits {
		if _, err := s.confirm(ctx, &deposits[i], triggerSweep); err != nil {
			logReconcileError(deposits[i].ID, err)
		}
	}
}
