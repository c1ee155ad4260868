package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/freelance-escrow/internal/http/handlers/common"
	"github.com/ignatzorin/freelance-escrow/internal/interface/http/response"
	"github.com/ignatzorin/freelance-escrow/internal/service"
)

// ProjectHandler обслуживает эскроу проекта: резервирование, завершение, выплату и возврат.
type ProjectHandler struct {
	escrow     *service.EscrowService
	settlement *service.SettlementService
}

func NewProjectHandler(escrow *service.EscrowService, settlement *service.SettlementService) *ProjectHandler {
	return &ProjectHandler{escrow: escrow, settlement: settlement}
}

// Fund POST /api/projects/:id/escrow
func (h *ProjectHandler) Fund(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}
	projectID, ok := common.IDParam(c)
	if !ok {
		return
	}

	txn, err := h.escrow.FundProject(c.Request.Context(), actor, projectID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, txn)
}

// Complete POST /api/projects/:id/complete
func (h *ProjectHandler) Complete(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}
	projectID, ok := common.IDParam(c)
	if !ok {
		return
	}

	project, err := h.settlement.CompleteProject(c.Request.Context(), actor, projectID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, project)
}

// Release POST /api/projects/:id/release
func (h *ProjectHandler) Release(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}
	projectID, ok := common.IDParam(c)
	if !ok {
		return
	}

	txn, err := h.settlement.Release(c.Request.Context(), actor, projectID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, txn)
}

type refundRequest struct {
	Reason string `json:"reason"`
}

// Refund POST /api/projects/:id/refund
func (h *ProjectHandler) Refund(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}
	projectID, ok := common.IDParam(c)
	if !ok {
		return
	}

	var req refundRequest
	if err := common.BindOptionalJSON(c, &req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	txn, err := h.settlement.Refund(c.Request.Context(), actor, projectID, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, txn)
}

// Settlement GET /api/projects/:id/settlement
func (h *ProjectHandler) Settlement(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}
	projectID, ok := common.IDParam(c)
	if !ok {
		return
	}

	summary, err := h.settlement.Summary(c.Request.Context(), actor, projectID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, summary)
}
