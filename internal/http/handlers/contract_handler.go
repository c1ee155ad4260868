package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/freelance-escrow/internal/http/handlers/common"
	"github.com/ignatzorin/freelance-escrow/internal/interface/http/response"
	"github.com/ignatzorin/freelance-escrow/internal/service"
)

type ContractHandler struct {
	contracts *service.ContractService
}

func NewContractHandler(contracts *service.ContractService) *ContractHandler {
	return &ContractHandler{contracts: contracts}
}

// Get GET /api/contracts/:id
func (h *ContractHandler) Get(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}
	contractID, ok := common.IDParam(c)
	if !ok {
		return
	}

	view, err := h.contracts.Get(c.Request.Context(), actor, contractID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, view)
}

// NextSigner GET /api/contracts/:id/next-signer
func (h *ContractHandler) NextSigner(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}
	contractID, ok := common.IDParam(c)
	if !ok {
		return
	}

	role, err := h.contracts.NextSigner(c.Request.Context(), actor, contractID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"next_signer": role.String()})
}

type signRequest struct {
	FullName string `json:"full_name" binding:"required"`
}

// Sign POST /api/contracts/:id/sign
func (h *ContractHandler) Sign(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}
	contractID, ok := common.IDParam(c)
	if !ok {
		return
	}

	var req signRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "укажите full_name")
		return
	}

	view, err := h.contracts.Sign(c.Request.Context(), actor, contractID, service.SignInput{FullName: req.FullName})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, view)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// Cancel POST /api/contracts/:id/cancel
func (h *ContractHandler) Cancel(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}
	contractID, ok := common.IDParam(c)
	if !ok {
		return
	}

	var req cancelRequest
	if err := common.BindOptionalJSON(c, &req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	contract, err := h.contracts.Cancel(c.Request.Context(), actor, contractID, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, contract)
}

// RenderDocument POST /api/contracts/:id/document
func (h *ContractHandler) RenderDocument(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}
	contractID, ok := common.IDParam(c)
	if !ok {
		return
	}

	ref, err := h.contracts.RenderDocument(c.Request.Context(), actor, contractID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"document_ref": ref})
}
