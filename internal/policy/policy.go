// Package policy holds the read-only business configuration consumed by the
// engine: pause flags, tier thresholds, rate tables and jackpot settings.
//
// A Snapshot is immutable once published. Operations read Provider.Current()
// once and use that value for their whole duration.
package policy

import (
	"time"

	"github.com/shopspring/decimal"

	"stakeplay-backend/internal/models"
)

type Snapshot struct {
	Version string `yaml:"version"`

	Pause       PauseFlags       `yaml:"pause"`
	Bets        BetPolicy        `yaml:"bets"`
	Activation  Thresholds       `yaml:"activation"`
	Referral    ReferralPolicy   `yaml:"referral"`
	Commissions CommissionTables `yaml:"commissions"`
	Cashback    CashbackPolicy   `yaml:"cashback"`
	ROI         ROIPolicy        `yaml:"roi"`
	Club        ClubPolicy       `yaml:"club"`
	Spin        SpinTable        `yaml:"spin"`
	Jackpot     JackpotPolicy    `yaml:"jackpot"`
}

type PauseFlags struct {
	Bets        bool `yaml:"bets"`
	Deposits    bool `yaml:"deposits"`
	Withdrawals bool `yaml:"withdrawals"`
	Draws       bool `yaml:"draws"`
}

type BetPolicy struct {
	CommitmentTTL time.Duration   `yaml:"commitment_ttl"`
	MinStake      decimal.Decimal `yaml:"min_stake"`
	MaxStake      decimal.Decimal `yaml:"max_stake"`
	// WinnersWithdrawableShare is the part of a winners-game payout that
	// lands in the withdrawable winners wallet; the rest compounds in game.
	WinnersWithdrawableShare decimal.Decimal `yaml:"winners_withdrawable_share"`
}

type Thresholds struct {
	Tier1 decimal.Decimal `yaml:"tier1"`
	Tier2 decimal.Decimal `yaml:"tier2"`
}

type ReferralPolicy struct {
	MaxDirects int `yaml:"max_directs"`
}

// Level is one row of a commission table. Rate applies to the event amount;
// Amount is a flat payout used when Rate is zero.
type Level struct {
	Rate       decimal.Decimal `yaml:"rate"`
	Amount     decimal.Decimal `yaml:"amount"`
	MinDirects int             `yaml:"min_directs"`
}

type Table struct {
	MaxDepth          int     `yaml:"max_depth"`
	RequireActivation bool    `yaml:"require_activation"`
	Levels            []Level `yaml:"levels"`
	// Beyond applies to every level past len(Levels) up to MaxDepth.
	Beyond *Level `yaml:"beyond"`
}

// Depth is the number of upline levels the table pays.
func (t Table) Depth() int {
	if t.MaxDepth > 0 {
		return t.MaxDepth
	}
	return len(t.Levels)
}

// At returns the row for a 1-based level.
func (t Table) At(level int) (Level, bool) {
	if level < 1 || level > t.Depth() {
		return Level{}, false
	}
	if level <= len(t.Levels) {
		return t.Levels[level-1], true
	}
	if t.Beyond != nil {
		return *t.Beyond, true
	}
	return Level{}, false
}

type CommissionTables struct {
	Signup  Table `yaml:"signup"`
	Deposit Table `yaml:"deposit"`
	Winner  Table `yaml:"winner"`
	ROI     Table `yaml:"roi"`
}

type CashbackPolicy struct {
	Rate decimal.Decimal `yaml:"rate"`
}

type ROIPolicy struct {
	PoolRatio     decimal.Decimal `yaml:"pool_ratio"`
	JackpotSiphon decimal.Decimal `yaml:"jackpot_siphon"`
}

type ClubRank struct {
	Name   string          `yaml:"name"`
	Target decimal.Decimal `yaml:"target"`
	Share  decimal.Decimal `yaml:"share"`
}

type ClubPolicy struct {
	// Ranks are ordered by ascending Target.
	Ranks []ClubRank `yaml:"ranks"`
}

type SpinSlot struct {
	Weight     int             `yaml:"weight"`
	Multiplier decimal.Decimal `yaml:"multiplier"`
}

type SpinTable struct {
	Slots []SpinSlot `yaml:"slots"`
}

type JackpotPolicy struct {
	TicketPrice  decimal.Decimal   `yaml:"ticket_price"`
	TotalTickets int               `yaml:"total_tickets"`
	PrizeShares  []decimal.Decimal `yaml:"prize_shares"`
	PayoutRatio  decimal.Decimal   `yaml:"payout_ratio"`
	AutoEntry    bool              `yaml:"auto_entry"`
	AutoEntryMax int               `yaml:"auto_entry_max"`
	DrawWhenFull bool              `yaml:"draw_when_full"`
}

// TableFor returns the commission table and destination wallet per type.
func (s *Snapshot) TableFor(t models.CommissionType) (Table, models.WalletType, bool) {
	switch t {
	case models.CommissionSignupBonus:
		return s.Commissions.Signup, models.WalletPractice, true
	case models.CommissionDeposit:
		return s.Commissions.Deposit, models.WalletDirectLevel, true
	case models.CommissionWinner:
		return s.Commissions.Winner, models.WalletTeamWinners, true
	case models.CommissionROI:
		return s.Commissions.ROI, models.WalletROIOnROI, true
	}
	return Table{}, "", false
}
