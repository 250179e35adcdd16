package models

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func GenerateCommitmentID() string {
	return fmt.Sprintf("bet_%s_%s",
		time.Now().UTC().Format("20060102"),
		uuid.NewString())
}

func GenerateTransactionID() string {
	return fmt.Sprintf("tx_%s_%s",
		time.Now().UTC().Format("20060102"),
		uuid.NewString())
}

func GenerateRoundID() string {
	return fmt.Sprintf("round_%s_%d",
		time.Now().UTC().Format("20060102"),
		uuid.New().ID())
}

func GenerateClientSeed() (string, error) {
	bytes := make([]byte, 16) // 128 bits of entropy
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate client seed: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// ValidateAmount rejects zero, negative and over-precise amounts.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("amount must be positive")
	}
	if !amount.Equal(RoundAmount(amount)) {
		return fmt.Errorf("amount supports at most %d decimals", AmountPlaces)
	}
	return nil
}

// Validate checks the shape of a bet before anything is mutated. Stake limits
// come from the policy snapshot and are checked by the engine.
func (b *BetData) Validate(spinSlots int) (Pick, error) {
	if !b.GameType.Valid() {
		return Pick{}, fmt.Errorf("invalid game type: %s", b.GameType)
	}
	if !b.GameVariant.Valid() {
		return Pick{}, fmt.Errorf("invalid game variant: %s", b.GameVariant)
	}
	if err := ValidateAmount(b.BetAmount); err != nil {
		return Pick{}, fmt.Errorf("bet amount: %w", err)
	}
	return ParsePick(b.GameVariant, b.PickedNumber, spinSlots)
}

// DayKey buckets a timestamp into the UTC day used for protection credits.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
