package handlers

import (
	"github.com/gin-gonic/gin"

	"stakeplay-backend/internal/jackpot"
	"stakeplay-backend/internal/models"
)

type JackpotHandler struct {
	manager *jackpot.Manager
}

func NewJackpotHandler(manager *jackpot.Manager) *JackpotHandler {
	return &JackpotHandler{manager: manager}
}

func (h *JackpotHandler) BuyTickets(c *gin.Context) {
	var req models.BuyTicketsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, err)
		return
	}

	progress, err := h.manager.BuyTickets(c.Request.Context(), c.GetString("user_id"), req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, progress)
}

func (h *JackpotHandler) Current(c *gin.Context) {
	progress, err := h.manager.CurrentRound(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, progress)
}
