package handlers

import (
	"github.com/gin-gonic/gin"

	"stakeplay-backend/internal/models"
	"stakeplay-backend/internal/referral"
	"stakeplay-backend/internal/settlement"
)

type WalletHandler struct {
	engine    *settlement.Engine
	registrar *referral.Registrar
}

func NewWalletHandler(engine *settlement.Engine, registrar *referral.Registrar) *WalletHandler {
	return &WalletHandler{engine: engine, registrar: registrar}
}

func (h *WalletHandler) Deposit(c *gin.Context) {
	var req models.DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, err)
		return
	}

	resp, err := h.engine.Deposit(c.Request.Context(), c.GetString("user_id"), req.Amount, req.TxHash)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, resp)
}

func (h *WalletHandler) Withdraw(c *gin.Context) {
	var req models.WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, err)
		return
	}

	w, err := h.engine.Withdraw(c.Request.Context(), c.GetString("user_id"), req.WalletType, req.Amount)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, w)
}

func (h *WalletHandler) Transfer(c *gin.Context) {
	var req models.TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, err)
		return
	}

	bal, err := h.engine.Transfer(c.Request.Context(), c.GetString("user_id"), req.From, req.To, req.Amount)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, bal)
}

type referralRequest struct {
	ReferrerID string `json:"referrerId" binding:"required"`
}

func (h *WalletHandler) Register(c *gin.Context) {
	var req referralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, err)
		return
	}

	acct, err := h.registrar.Register(c.Request.Context(), c.GetString("user_id"), req.ReferrerID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{
		"userId":     acct.UserID,
		"referredBy": acct.ReferredBy,
	})
}
