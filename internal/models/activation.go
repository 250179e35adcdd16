package models

type Tier string

const (
	TierNone Tier = "none"
	TierOne  Tier = "tier1"
	TierTwo  Tier = "tier2"
)

// Rank orders tiers so comparisons never depend on string values.
func (t Tier) Rank() int {
	switch t {
	case TierOne:
		return 1
	case TierTwo:
		return 2
	default:
		return 0
	}
}

type Capability string

const (
	CapEarnCommissions     Capability = "earn-commissions"
	CapWithdrawCash        Capability = "withdraw-cash"
	CapWithdrawWinners     Capability = "withdraw-winners"
	CapTransferToGame      Capability = "transfer-to-game"
	CapWithdrawDirectLevel Capability = "withdraw-direct-level"
	CapWithdrawTeamWinners Capability = "withdraw-team-winners"
	CapWithdrawCashback    Capability = "withdraw-cashback"
	CapWithdrawROI         Capability = "withdraw-roi"
	CapWithdrawClub        Capability = "withdraw-club"
	CapTransferToCash      Capability = "transfer-to-cash"
)

// WithdrawCapability is the flag that unlocks withdrawing from a wallet.
// Wallets without an entry are never withdrawable.
var WithdrawCapability = map[WalletType]Capability{
	WalletCash:        CapWithdrawCash,
	WalletWinners:     CapWithdrawWinners,
	WalletDirectLevel: CapWithdrawDirectLevel,
	WalletTeamWinners: CapWithdrawTeamWinners,
	WalletCashback:    CapWithdrawCashback,
	WalletROIOnROI:    CapWithdrawROI,
	WalletClub:        CapWithdrawClub,
}

// IncomeWallets may be transferred into the game or cash wallet.
var IncomeWallets = []WalletType{
	WalletWinners,
	WalletDirectLevel,
	WalletTeamWinners,
	WalletCashback,
	WalletROIOnROI,
	WalletClub,
}

type ActivationState struct {
	Tier         Tier         `json:"tier"`
	Capabilities []Capability `json:"capabilities"`
}

func (s ActivationState) Has(c Capability) bool {
	for _, have := range s.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

type ActivationUpdate struct {
	Tier       Tier         `json:"tier"`
	Unlocked   []Capability `json:"unlocked"`
	Cumulative string       `json:"cumulativeDeposits"`
}
