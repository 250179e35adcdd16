package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type CommissionType string

const (
	CommissionSignupBonus CommissionType = "signup-bonus"
	CommissionDeposit     CommissionType = "deposit-commission"
	CommissionWinner      CommissionType = "winner-commission"
	CommissionROI         CommissionType = "roi-commission"
	CommissionClub        CommissionType = "club-share"
)

type CommissionStatus string

const (
	CommissionPending  CommissionStatus = "pending"
	CommissionCredited CommissionStatus = "credited"
)

type Commission struct {
	EventID      string           `json:"event_id"`
	Beneficiary  string           `json:"beneficiary"`
	SourceUserID string           `json:"source_user_id"`
	Level        int              `json:"level"`
	Type         CommissionType   `json:"type"`
	Wallet       WalletType       `json:"wallet"`
	Amount       decimal.Decimal  `json:"amount"`
	JackpotShare decimal.Decimal  `json:"jackpot_share"`
	Status       CommissionStatus `json:"status"`
	CreatedAt    time.Time        `json:"created_at"`
}

// CommissionKey identifies one payout: at most one record per event,
// beneficiary and level.
func CommissionKey(eventID, beneficiary string, level int) string {
	return fmt.Sprintf("%s|%s|%d", eventID, beneficiary, level)
}

func (c *Commission) Key() string {
	return CommissionKey(c.EventID, c.Beneficiary, c.Level)
}

// DistributionProgress checkpoints an upline walk so a failed run resumes
// from the first unfinished level. It carries the event payload so a walk
// that never finished can be rerun without its trigger.
type DistributionProgress struct {
	EventID      string          `json:"event_id"`
	Kind         CommissionType  `json:"kind"`
	SourceUserID string          `json:"source_user_id"`
	Amount       decimal.Decimal `json:"amount"`
	NextLevel    int             `json:"next_level"`
	Done         bool            `json:"done"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
