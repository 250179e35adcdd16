// Package outcome maps a revealed float and a player's pick to a settled
// result. Everything here is pure: no I/O, no clock, no randomness.
package outcome

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"stakeplay-backend/internal/models"
	"stakeplay-backend/internal/policy"
)

const crashHouseEdge = 0.01

var (
	diceMultiplier  = decimal.NewFromInt(models.DiceFaces)
	matrixNumerator = decimal.NewFromInt(98)
	crashMaxPoint   = 1000.0
	hundred         = decimal.NewFromInt(100)
)

type Result struct {
	IsWin       bool
	Multiplier  decimal.Decimal
	Payout      decimal.Decimal
	LuckyNumber decimal.Decimal
}

// Roll reduces a uniform float in [0,1) into the variant's outcome space.
func Roll(variant models.Variant, f float64, spin policy.SpinTable) (decimal.Decimal, error) {
	switch variant {
	case models.VariantDice:
		return decimal.NewFromInt(1 + int64(math.Floor(f*models.DiceFaces))), nil
	case models.VariantSpin:
		slot, err := spinSlot(f, spin)
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromInt(int64(slot)), nil
	case models.VariantMatrix:
		return decimal.New(int64(math.Floor(f*10000)), -2), nil
	case models.VariantCrash:
		return CrashPoint(f), nil
	}
	return decimal.Zero, fmt.Errorf("unknown variant %q", variant)
}

// CrashPoint is floor(100 * (1-edge) / (1-f)) / 100, clamped to [1, 1000].
func CrashPoint(f float64) decimal.Decimal {
	point := math.Floor(100*(1-crashHouseEdge)/(1-f)) / 100.0
	if point < 1.0 || math.IsNaN(point) {
		point = 1.0
	}
	if point > crashMaxPoint || math.IsInf(point, 1) {
		point = crashMaxPoint
	}
	return decimal.NewFromFloat(point).Round(2)
}

func spinSlot(f float64, spin policy.SpinTable) (int, error) {
	total := 0
	for _, s := range spin.Slots {
		total += s.Weight
	}
	if total <= 0 {
		return 0, fmt.Errorf("spin table has no weight")
	}
	target := int(math.Floor(f * float64(total)))
	cumulative := 0
	for i, s := range spin.Slots {
		cumulative += s.Weight
		if target < cumulative {
			return i, nil
		}
	}
	return len(spin.Slots) - 1, nil
}

// Evaluate settles a pick against a lucky number.
func Evaluate(pick models.Pick, lucky, stake decimal.Decimal, spin policy.SpinTable) (Result, error) {
	res := Result{LuckyNumber: lucky, Multiplier: decimal.Zero, Payout: decimal.Zero}

	switch pick.Variant {
	case models.VariantDice:
		if pick.Dice == nil {
			return Result{}, fmt.Errorf("dice pick missing")
		}
		res.IsWin = lucky.Equal(decimal.NewFromInt(int64(pick.Dice.Number)))
		if res.IsWin {
			res.Multiplier = diceMultiplier
		}

	case models.VariantSpin:
		if pick.Spin == nil || len(pick.Spin.Slots) == 0 {
			return Result{}, fmt.Errorf("spin pick missing")
		}
		landed := int(lucky.IntPart())
		if landed < 0 || landed >= len(spin.Slots) {
			return Result{}, fmt.Errorf("spin slot %d outside table", landed)
		}
		for _, s := range pick.Spin.Slots {
			if s == landed {
				res.IsWin = true
				break
			}
		}
		if res.IsWin {
			res.Multiplier = spin.Slots[landed].Multiplier.
				DivRound(decimal.NewFromInt(int64(len(pick.Spin.Slots))), 2)
		}

	case models.VariantMatrix:
		if pick.Matrix == nil {
			return Result{}, fmt.Errorf("matrix pick missing")
		}
		chance := hundred.Sub(decimal.NewFromInt(int64(pick.Matrix.Risk)))
		res.IsWin = lucky.LessThan(chance)
		if res.IsWin {
			res.Multiplier = MatrixMultiplier(pick.Matrix.Risk)
		}

	case models.VariantCrash:
		if pick.Crash == nil {
			return Result{}, fmt.Errorf("crash pick missing")
		}
		res.IsWin = lucky.GreaterThanOrEqual(pick.Crash.Target)
		if res.IsWin {
			res.Multiplier = pick.Crash.Target
		}

	default:
		return Result{}, fmt.Errorf("unknown variant %q", pick.Variant)
	}

	if res.IsWin {
		res.Payout = models.RoundAmount(stake.Mul(res.Multiplier))
	}
	return res, nil
}

// Calculate is Roll followed by Evaluate.
func Calculate(pick models.Pick, f float64, stake decimal.Decimal, spin policy.SpinTable) (Result, error) {
	lucky, err := Roll(pick.Variant, f, spin)
	if err != nil {
		return Result{}, err
	}
	return Evaluate(pick, lucky, stake, spin)
}

// MatrixMultiplier is 98 / (100 - risk) rounded to 2 decimals.
func MatrixMultiplier(risk int) decimal.Decimal {
	return matrixNumerator.DivRound(decimal.NewFromInt(int64(100-risk)), 2)
}

// Split divides a winners-game payout into the withdrawable part and the
// compounding remainder. The two parts always sum to payout.
func Split(payout, withdrawableShare decimal.Decimal) (withdrawable, compounding decimal.Decimal) {
	withdrawable = models.RoundAmount(payout.Mul(withdrawableShare))
	compounding = payout.Sub(withdrawable)
	return withdrawable, compounding
}
