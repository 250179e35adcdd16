// Package activation maps cumulative deposits onto a tier and its
// capability flags.
package activation

import (
	"github.com/shopspring/decimal"

	"stakeplay-backend/internal/models"
	"stakeplay-backend/internal/policy"
)

var tierCapabilities = map[models.Tier][]models.Capability{
	models.TierOne: {
		models.CapEarnCommissions,
		models.CapWithdrawCash,
		models.CapWithdrawWinners,
		models.CapTransferToGame,
	},
	models.TierTwo: {
		models.CapWithdrawDirectLevel,
		models.CapWithdrawTeamWinners,
		models.CapWithdrawCashback,
		models.CapWithdrawROI,
		models.CapWithdrawClub,
		models.CapTransferToCash,
	},
}

var tierOrder = []models.Tier{models.TierNone, models.TierOne, models.TierTwo}

// Evaluate is the pure tier function. Flags are additive: tier2 carries
// every tier1 flag.
func Evaluate(total decimal.Decimal, th policy.Thresholds) models.ActivationState {
	tier := models.TierNone
	switch {
	case total.GreaterThanOrEqual(th.Tier2):
		tier = models.TierTwo
	case total.GreaterThanOrEqual(th.Tier1):
		tier = models.TierOne
	}
	return models.ActivationState{Tier: tier, Capabilities: CapabilitiesFor(tier)}
}

// CapabilitiesFor lists the flags granted at or below a tier.
func CapabilitiesFor(tier models.Tier) []models.Capability {
	caps := []models.Capability{}
	for _, t := range tierOrder {
		if t.Rank() > tier.Rank() {
			break
		}
		caps = append(caps, tierCapabilities[t]...)
	}
	return caps
}

// Advance merges the evaluation of total into prev. The tier never drops and
// granted flags are never removed. The returned slice holds only flags that
// were not present in prev.
func Advance(prev models.ActivationState, total decimal.Decimal, th policy.Thresholds) (models.ActivationState, []models.Capability) {
	next := Evaluate(total, th)
	if prev.Tier.Rank() > next.Tier.Rank() {
		next.Tier = prev.Tier
	}

	merged := append([]models.Capability(nil), prev.Capabilities...)
	unlocked := []models.Capability{}
	for _, c := range CapabilitiesFor(next.Tier) {
		if !prev.Has(c) {
			merged = append(merged, c)
			unlocked = append(unlocked, c)
		}
	}
	next.Capabilities = merged
	return next, unlocked
}

// Allows reports whether state carries capability c.
func Allows(state models.ActivationState, c models.Capability) bool {
	return state.Has(c)
}

// CanWithdraw reports whether wallet w is withdrawable for state.
func CanWithdraw(state models.ActivationState, w models.WalletType) bool {
	c, ok := models.WithdrawCapability[w]
	return ok && state.Has(c)
}

// CanTransfer reports whether an income wallet may move into dest.
func CanTransfer(state models.ActivationState, from, dest models.WalletType) bool {
	income := false
	for _, w := range models.IncomeWallets {
		if w == from {
			income = true
			break
		}
	}
	if !income {
		return false
	}
	switch dest {
	case models.WalletGame:
		return state.Has(models.CapTransferToGame)
	case models.WalletCash:
		return state.Has(models.CapTransferToCash)
	}
	return false
}
