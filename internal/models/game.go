package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type CommitmentStatus string

const (
	CommitmentCommitted CommitmentStatus = "committed"
	CommitmentRevealed  CommitmentStatus = "revealed"
	CommitmentExpired   CommitmentStatus = "expired"
)

// Commitment is a pending wager. ServerSeed stays server-side until the
// commitment is revealed; handlers only ever expose ServerSeedHash before then.
type Commitment struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	GameType    GameType        `json:"game_type"`
	Pick        Pick            `json:"pick"`
	Stake       decimal.Decimal `json:"stake"`
	StakeWallet WalletType      `json:"stake_wallet"`

	ServerSeed     string `json:"server_seed"`
	ServerSeedHash string `json:"server_seed_hash"`
	ClientSeed     string `json:"client_seed"`
	Nonce          int64  `json:"nonce"`
	Sequence       int64  `json:"sequence"`

	Status    CommitmentStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
	ExpiresAt time.Time        `json:"expires_at"`
	SettledAt *time.Time       `json:"settled_at,omitempty"`

	Result *RevealResponse `json:"result,omitempty"`
}

func (c *Commitment) Overdue(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// GameRecord is the immutable audit entry written once a commitment settles.
type GameRecord struct {
	ID           string          `json:"id"`
	CommitmentID string          `json:"commitment_id"`
	UserID       string          `json:"user_id"`
	GameType     GameType        `json:"game_type"`
	Pick         Pick            `json:"pick"`
	Stake        decimal.Decimal `json:"stake"`

	IsWin       bool            `json:"is_win"`
	Multiplier  decimal.Decimal `json:"multiplier"`
	Payout      decimal.Decimal `json:"payout"`
	LuckyNumber decimal.Decimal `json:"lucky_number"`

	ServerSeed     string `json:"server_seed"`
	ServerSeedHash string `json:"server_seed_hash"`
	ClientSeed     string `json:"client_seed"`
	Nonce          int64  `json:"nonce"`
	Sequence       int64  `json:"sequence"`

	SettledAt time.Time `json:"settled_at"`
}
