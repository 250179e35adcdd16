package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// GameType selects the funding mode of a bet.
type GameType string

const (
	GameTypePractice GameType = "practice"
	GameTypeCash     GameType = "cash"
	GameTypeWinners  GameType = "winners"
)

func (g GameType) Valid() bool {
	switch g {
	case GameTypePractice, GameTypeCash, GameTypeWinners:
		return true
	}
	return false
}

// RealMoney reports whether wins and losses feed incentives and cashback.
func (g GameType) RealMoney() bool {
	return g == GameTypeCash || g == GameTypeWinners
}

// StakeWallet is the wallet a stake is debited from.
func (g GameType) StakeWallet() WalletType {
	if g == GameTypePractice {
		return WalletPractice
	}
	return WalletGame
}

// Variant is the closed set of games.
type Variant string

const (
	VariantDice   Variant = "dice"
	VariantSpin   Variant = "spin"
	VariantMatrix Variant = "matrix"
	VariantCrash  Variant = "crash"
)

func (v Variant) Valid() bool {
	switch v {
	case VariantDice, VariantSpin, VariantMatrix, VariantCrash:
		return true
	}
	return false
}

const (
	DiceFaces     = 8
	MatrixMinRisk = 1
	MatrixMaxRisk = 95
)

var (
	CrashMinTarget = decimal.NewFromInt(1)
	CrashMaxTarget = decimal.NewFromInt(10)
)

type DicePick struct {
	Number int `json:"number"`
}

type SpinPick struct {
	Slots []int `json:"slots"`
}

type MatrixPick struct {
	Risk int `json:"risk"`
}

type CrashPick struct {
	Target decimal.Decimal `json:"target"`
}

// Pick is the player's choice as a tagged union keyed by Variant. Exactly
// the field matching Variant is set; ParsePick is the only constructor used
// at the boundary.
type Pick struct {
	Variant Variant     `json:"variant"`
	Dice    *DicePick   `json:"dice,omitempty"`
	Spin    *SpinPick   `json:"spin,omitempty"`
	Matrix  *MatrixPick `json:"matrix,omitempty"`
	Crash   *CrashPick  `json:"crash,omitempty"`
}

// ParsePick decodes the variant-specific pickedNumber payload. spinSlots is
// the size of the configured spin table.
func ParsePick(variant Variant, raw json.RawMessage, spinSlots int) (Pick, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return Pick{}, fmt.Errorf("pickedNumber is required")
	}

	switch variant {
	case VariantDice:
		var n int
		if err := json.Unmarshal(raw, &n); err != nil {
			return Pick{}, fmt.Errorf("dice pick must be an integer: %w", err)
		}
		if n < 1 || n > DiceFaces {
			return Pick{}, fmt.Errorf("dice pick must be between 1 and %d", DiceFaces)
		}
		return Pick{Variant: variant, Dice: &DicePick{Number: n}}, nil

	case VariantSpin:
		slots, err := parseSlots(raw)
		if err != nil {
			return Pick{}, err
		}
		seen := make(map[int]bool, len(slots))
		for _, s := range slots {
			if s < 0 || s >= spinSlots {
				return Pick{}, fmt.Errorf("spin slot %d out of range [0,%d)", s, spinSlots)
			}
			if seen[s] {
				return Pick{}, fmt.Errorf("spin slot %d picked twice", s)
			}
			seen[s] = true
		}
		if len(slots) >= spinSlots {
			return Pick{}, fmt.Errorf("spin pick must leave at least one slot uncovered")
		}
		return Pick{Variant: variant, Spin: &SpinPick{Slots: slots}}, nil

	case VariantMatrix:
		var r int
		if err := json.Unmarshal(raw, &r); err != nil {
			return Pick{}, fmt.Errorf("matrix risk must be an integer: %w", err)
		}
		if r < MatrixMinRisk || r > MatrixMaxRisk {
			return Pick{}, fmt.Errorf("matrix risk must be between %d and %d", MatrixMinRisk, MatrixMaxRisk)
		}
		return Pick{Variant: variant, Matrix: &MatrixPick{Risk: r}}, nil

	case VariantCrash:
		var t decimal.Decimal
		if err := json.Unmarshal(raw, &t); err != nil {
			return Pick{}, fmt.Errorf("crash target must be a number: %w", err)
		}
		if t.LessThan(CrashMinTarget) || t.GreaterThan(CrashMaxTarget) {
			return Pick{}, fmt.Errorf("crash target must be between %s and %s", CrashMinTarget, CrashMaxTarget)
		}
		if !t.Equal(t.Round(2)) {
			return Pick{}, fmt.Errorf("crash target supports at most 2 decimals")
		}
		return Pick{Variant: variant, Crash: &CrashPick{Target: t}}, nil
	}

	return Pick{}, fmt.Errorf("invalid game variant: %s", variant)
}

func parseSlots(raw json.RawMessage) ([]int, error) {
	var one int
	if err := json.Unmarshal(raw, &one); err == nil {
		return []int{one}, nil
	}
	var many []int
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, fmt.Errorf("spin pick must be a slot or a list of slots: %w", err)
	}
	if len(many) == 0 {
		return nil, fmt.Errorf("spin pick must contain at least one slot")
	}
	return many, nil
}

type BetData struct {
	GameType     GameType        `json:"gameType" binding:"required"`
	GameVariant  Variant         `json:"gameVariant" binding:"required"`
	BetAmount    decimal.Decimal `json:"betAmount"`
	PickedNumber json.RawMessage `json:"pickedNumber"`
}

type CommitRequest struct {
	BetData    BetData `json:"betData" binding:"required"`
	ClientSeed string  `json:"clientSeed"`
	Nonce      *int64  `json:"nonce" binding:"required"`
}

type CommitResponse struct {
	CommitmentID   string    `json:"commitmentId"`
	ServerSeedHash string    `json:"serverSeedHash"`
	ClientSeed     string    `json:"clientSeed"`
	Nonce          int64     `json:"nonce"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

type RevealRequest struct {
	CommitmentID string `json:"commitmentId" binding:"required"`
}

type GameOutcome struct {
	IsWin       bool            `json:"isWin"`
	Payout      decimal.Decimal `json:"payout"`
	Multiplier  decimal.Decimal `json:"multiplier"`
	LuckyNumber decimal.Decimal `json:"luckyNumber"`
}

type ProvablyFair struct {
	ServerSeed     string `json:"serverSeed"`
	ServerSeedHash string `json:"serverSeedHash"`
	ClientSeed     string `json:"clientSeed"`
	Nonce          int64  `json:"nonce"`
	Sequence       int64  `json:"sequence"`
}

type RevealResponse struct {
	Game         GameOutcome     `json:"game"`
	NewBalance   decimal.Decimal `json:"newBalance"`
	ProvablyFair ProvablyFair    `json:"provablyFair"`
}

type VerifyRequest struct {
	ServerSeed     string          `json:"serverSeed" binding:"required"`
	ServerSeedHash string          `json:"serverSeedHash" binding:"required"`
	ClientSeed     string          `json:"clientSeed" binding:"required"`
	Nonce          int64           `json:"nonce"`
	Sequence       int64           `json:"sequence"`
	GameVariant    Variant         `json:"gameVariant" binding:"required"`
	PickedNumber   json.RawMessage `json:"pickedNumber"`
}
