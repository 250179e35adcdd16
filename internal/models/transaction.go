package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionTypeBet        TransactionType = "bet"
	TransactionTypeWin        TransactionType = "win"
	TransactionTypeRefund     TransactionType = "refund"
	TransactionTypeDeposit    TransactionType = "deposit"
	TransactionTypeWithdraw   TransactionType = "withdraw"
	TransactionTypeTransfer   TransactionType = "transfer"
	TransactionTypeCommission TransactionType = "commission"
	TransactionTypeCashback   TransactionType = "cashback"
	TransactionTypeTicket     TransactionType = "ticket"
	TransactionTypePrize      TransactionType = "prize"
)

// Transaction is one signed ledger entry against one wallet.
type Transaction struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Wallet        WalletType      `json:"wallet"`
	Type          TransactionType `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Reference     string          `json:"reference,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type DepositRequest struct {
	Amount decimal.Decimal `json:"amount"`
	TxHash string          `json:"txHash" binding:"required"`
}

type DepositResponse struct {
	Tier        Tier            `json:"tier"`
	Unlocked    []Capability    `json:"unlocked"`
	GameBalance decimal.Decimal `json:"gameBalance"`
}

type WithdrawRequest struct {
	WalletType WalletType      `json:"walletType" binding:"required"`
	Amount     decimal.Decimal `json:"amount"`
}

type WithdrawalStatus string

const WithdrawalRequested WithdrawalStatus = "requested"

type Withdrawal struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Wallet    WalletType       `json:"wallet"`
	Amount    decimal.Decimal  `json:"amount"`
	Status    WithdrawalStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
}

type TransferRequest struct {
	From   WalletType      `json:"from" binding:"required"`
	To     WalletType      `json:"to" binding:"required"`
	Amount decimal.Decimal `json:"amount"`
}
