package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/freelance-escrow/internal/http/handlers/common"
	"github.com/ignatzorin/freelance-escrow/internal/interface/http/response"
	"github.com/ignatzorin/freelance-escrow/internal/service"
)

type BidHandler struct {
	bids *service.BidService
}

func NewBidHandler(bids *service.BidService) *BidHandler {
	return &BidHandler{bids: bids}
}

// Accept POST /api/bids/:id/accept
func (h *BidHandler) Accept(c *gin.Context) {
	actor, ok := common.CurrentActor(c)
	if !ok {
		return
	}
	bidID, ok := common.IDParam(c)
	if !ok {
		return
	}

	result, err := h.bids.AcceptBid(c.Request.Context(), actor, bidID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, result)
}
