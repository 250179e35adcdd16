package models

import (
	"github.com/shopspring/decimal"
)

// AmountPlaces is the number of fractional digits kept on every wallet.
const AmountPlaces = 8

type WalletType string

const (
	WalletGame          WalletType = "game"
	WalletCash          WalletType = "cash"
	WalletDirectLevel   WalletType = "direct-level"
	WalletWinners       WalletType = "winners"
	WalletTeamWinners   WalletType = "team-winners"
	WalletCashback      WalletType = "cashback"
	WalletROIOnROI      WalletType = "roi-on-roi"
	WalletClub          WalletType = "club"
	WalletJackpotBuffer WalletType = "jackpot-buffer"
	WalletPractice      WalletType = "practice"
)

var AllWallets = []WalletType{
	WalletGame,
	WalletCash,
	WalletDirectLevel,
	WalletWinners,
	WalletTeamWinners,
	WalletCashback,
	WalletROIOnROI,
	WalletClub,
	WalletJackpotBuffer,
	WalletPractice,
}

func (w WalletType) Valid() bool {
	for _, known := range AllWallets {
		if w == known {
			return true
		}
	}
	return false
}

// RealMoney reports whether the wallet holds withdrawable-class funds.
// Practice credits never count towards totals.
func (w WalletType) RealMoney() bool {
	return w.Valid() && w != WalletPractice
}

// Wallets maps a wallet name to its balance. A missing key is a zero balance.
type Wallets map[WalletType]decimal.Decimal

func NewWallets() Wallets {
	w := make(Wallets, len(AllWallets))
	for _, t := range AllWallets {
		w[t] = decimal.Zero
	}
	return w
}

func (w Wallets) Get(t WalletType) decimal.Decimal {
	if v, ok := w[t]; ok {
		return v
	}
	return decimal.Zero
}

func (w Wallets) Clone() Wallets {
	c := make(Wallets, len(w))
	for k, v := range w {
		c[k] = v
	}
	return c
}

// GrandTotal is the one place a user's total real-money balance is computed.
func GrandTotal(w Wallets) decimal.Decimal {
	total := decimal.Zero
	for t, v := range w {
		if t.RealMoney() {
			total = total.Add(v)
		}
	}
	return total
}

// RoundAmount truncates an amount to wallet precision.
func RoundAmount(d decimal.Decimal) decimal.Decimal {
	return d.RoundDown(AmountPlaces)
}

type BalanceResponse struct {
	Wallets    Wallets         `json:"wallets"`
	GrandTotal decimal.Decimal `json:"grandTotal"`
	Tier       Tier            `json:"tier"`
	ClientSeed string          `json:"clientSeed"`
	Sequence   int64           `json:"sequence"`
}
