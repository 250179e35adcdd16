package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"stakeplay-backend/internal/models"
	"stakeplay-backend/internal/settlement"
)

type GameHandler struct {
	engine *settlement.Engine
}

func NewGameHandler(engine *settlement.Engine) *GameHandler {
	return &GameHandler{engine: engine}
}

func (h *GameHandler) Commit(c *gin.Context) {
	userID := c.GetString("user_id")

	var req models.CommitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, err)
		return
	}

	resp, err := h.engine.Commit(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, resp)
}

func (h *GameHandler) Reveal(c *gin.Context) {
	userID := c.GetString("user_id")

	var req models.RevealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, err)
		return
	}

	resp, err := h.engine.Reveal(c.Request.Context(), userID, req.CommitmentID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, resp)
}

func (h *GameHandler) Verify(c *gin.Context) {
	var req models.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, err)
		return
	}

	resp, err := h.engine.Verify(&req)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, resp)
}

func (h *GameHandler) GetBalance(c *gin.Context) {
	bal, err := h.engine.Balance(c.Request.Context(), c.GetString("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, bal)
}

func (h *GameHandler) GetHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	hist, err := h.engine.History(c.Request.Context(), c.GetString("user_id"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, hist)
}
