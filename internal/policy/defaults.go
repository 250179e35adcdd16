package policy

import (
	"time"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// gatedLevels builds a table whose level n requires min(n, capAt) active directs.
func gatedLevels(capAt int, rates ...string) []Level {
	levels := make([]Level, len(rates))
	for i, r := range rates {
		minDirects := i + 1
		if minDirects > capAt {
			minDirects = capAt
		}
		levels[i] = Level{Rate: d(r), MinDirects: minDirects}
	}
	return levels
}

// Default is the built-in policy used when no policy file is configured.
func Default() *Snapshot {
	return &Snapshot{
		Version: "default",
		Bets: BetPolicy{
			CommitmentTTL:            5 * time.Minute,
			MinStake:                 d("0.1"),
			MaxStake:                 d("10000"),
			WinnersWithdrawableShare: d("0.25"),
		},
		Activation: Thresholds{
			Tier1: d("10"),
			Tier2: d("100"),
		},
		Referral: ReferralPolicy{MaxDirects: 50},
		Commissions: CommissionTables{
			Signup: Table{
				MaxDepth: 100,
				Beyond:   &Level{Amount: d("1")},
			},
			Deposit: Table{
				RequireActivation: true,
				Levels: gatedLevels(10,
					"0.10", "0.05", "0.03", "0.02", "0.02",
					"0.01", "0.01", "0.01", "0.005", "0.005"),
			},
			Winner: Table{
				RequireActivation: true,
				Levels: gatedLevels(10,
					"0.05", "0.03", "0.02", "0.01", "0.01",
					"0.01", "0.01", "0.01", "0.005", "0.005",
					"0.005", "0.005", "0.005", "0.005", "0.005"),
			},
			ROI: Table{
				RequireActivation: true,
				Levels:            gatedLevels(10, "0.20", "0.10", "0.05", "0.05", "0.05"),
			},
		},
		Cashback: CashbackPolicy{Rate: d("0.10")},
		ROI: ROIPolicy{
			PoolRatio:     d("0.5"),
			JackpotSiphon: d("0.2"),
		},
		Club: ClubPolicy{Ranks: []ClubRank{
			{Name: "bronze", Target: d("1000"), Share: d("0.3")},
			{Name: "silver", Target: d("5000"), Share: d("0.3")},
			{Name: "gold", Target: d("25000"), Share: d("0.4")},
		}},
		Spin: SpinTable{Slots: []SpinSlot{
			{Weight: 25, Multiplier: d("2")},
			{Weight: 25, Multiplier: d("2")},
			{Weight: 15, Multiplier: d("3")},
			{Weight: 15, Multiplier: d("3")},
			{Weight: 10, Multiplier: d("5")},
			{Weight: 5, Multiplier: d("10")},
			{Weight: 4, Multiplier: d("15")},
			{Weight: 1, Multiplier: d("50")},
		}},
		Jackpot: JackpotPolicy{
			TicketPrice:  d("1"),
			TotalTickets: 1000,
			PrizeShares:  []decimal.Decimal{d("0.5"), d("0.3"), d("0.2")},
			PayoutRatio:  d("0.9"),
			AutoEntry:    true,
			AutoEntryMax: 10,
			DrawWhenFull: true,
		},
	}
}
