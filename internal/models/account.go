package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is the user aggregate. Every mutation goes through the ledger's
// per-user atomic unit.
type Account struct {
	UserID     string `json:"user_id"`
	ReferredBy string `json:"referred_by,omitempty"`

	Wallets Wallets `json:"wallets"`

	// Provably fair
	ClientSeed string `json:"client_seed"`
	Sequence   int64  `json:"sequence"`

	CumulativeDeposits decimal.Decimal `json:"cumulative_deposits"`
	Activation         ActivationState `json:"activation"`

	DirectCount   int `json:"direct_count"`
	ActiveDirects int `json:"active_directs"`

	// Version increases by one on every balance-changing save.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewAccount(userID, referredBy string) (*Account, error) {
	clientSeed, err := GenerateClientSeed()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &Account{
		UserID:             userID,
		ReferredBy:         referredBy,
		Wallets:            NewWallets(),
		ClientSeed:         clientSeed,
		CumulativeDeposits: decimal.Zero,
		Activation:         ActivationState{Tier: TierNone, Capabilities: []Capability{}},
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// Clone returns a deep copy so a failed mutation never leaks into the caller's view.
func (a *Account) Clone() *Account {
	c := *a
	c.Wallets = a.Wallets.Clone()
	c.Activation.Capabilities = append([]Capability(nil), a.Activation.Capabilities...)
	return &c
}

func (a *Account) Balance() *BalanceResponse {
	return &BalanceResponse{
		Wallets:    a.Wallets.Clone(),
		GrandTotal: GrandTotal(a.Wallets),
		Tier:       a.Activation.Tier,
		ClientSeed: a.ClientSeed,
		Sequence:   a.Sequence,
	}
}
