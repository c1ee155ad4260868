package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/freelance-escrow/internal/http/handlers/common"
	"github.com/ignatzorin/freelance-escrow/internal/interface/http/response"
	"github.com/ignatzorin/freelance-escrow/internal/service"
)

// IdempotencyKeyHeader заголовок ключа идемпотентности пополнения.
const IdempotencyKeyHeader = "Idempotency-Key"

type WalletHandler struct {
	escrow    *service.EscrowService
	reconcile *service.ReconciliationService
}

func NewWalletHandler(escrow *service.EscrowService, reconcile *service.ReconciliationService) *WalletHandler {
	return &WalletHandler{escrow: escrow, reconcile: reconcile}
}

type createDepositRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// CreateDeposit POST /api/wallet/deposits
func (h *WalletHandler) CreateDeposit(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}

	var req createDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "сумма указана неверно")
		return
	}

	deposit, err := h.escrow.CreateDeposit(c.Request.Context(), actor, service.CreateDepositInput{
		Amount:         req.Amount,
		Currency:       req.Currency,
		IdempotencyKey: c.GetHeader(IdempotencyKeyHeader),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, deposit)
}

// ListDeposits GET /api/wallet/deposits
func (h *WalletHandler) ListDeposits(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}
	h.syncPending(c, actor)

	limit, offset := common.GetPagination(c)
	deposits, err := h.escrow.ListDeposits(c.Request.Context(), actor, limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paginated(c, deposits, limit, offset)
}

// ConfirmDeposit POST /api/wallet/deposits/:id/confirm
func (h *WalletHandler) ConfirmDeposit(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}
	depositID, ok := common.IDParam(c)
	if !ok {
		return
	}

	outcome, err := h.reconcile.ConfirmForOwner(c.Request.Context(), actor, depositID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{
		"deposit_id": depositID,
		"outcome":    outcome,
	})
}

// GetBalance GET /api/wallet/balance
func (h *WalletHandler) GetBalance(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}
	h.syncPending(c, actor)

	balance, err := h.escrow.GetBalance(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, balance)
}

// ListTransactions GET /api/wallet/transactions
func (h *WalletHandler) ListTransactions(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}
	h.syncPending(c, actor)

	limit, offset := common.GetPagination(c)
	txns, err := h.escrow.ListTransactions(c.Request.Context(), actor, limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paginated(c, txns, limit, offset)
}

// syncPending сверяет зависшие депозиты пользователя перед чтением кошелька.
// Ошибки сверки логируются сервисом и не ломают чтение.
func (h *WalletHandler) syncPending(c *gin.Context, actor service.Actor) {
	if h.reconcile == nil {
		return
	}
	report := h.reconcile.ReconcileUser(c.Request.Context(), actor.UserID)
	if report.Completed > 0 || report.Failed > 0 {
		c.Header("X-Reconciled-Deposits", strconv.Itoa(report.Completed+report.Failed))
	}
}
