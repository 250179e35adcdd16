package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type RoundStatus string

const (
	RoundOpen      RoundStatus = "open"
	RoundDrawing   RoundStatus = "drawing"
	RoundCompleted RoundStatus = "completed"
)

// TicketEntry is one purchase; weight in the draw equals Quantity.
type TicketEntry struct {
	PurchaseID string `json:"purchase_id"`
	UserID     string `json:"user_id"`
	Quantity   int    `json:"quantity"`
}

type JackpotWinner struct {
	Position int             `json:"position"`
	UserID   string          `json:"user_id"`
	Prize    decimal.Decimal `json:"prize"`
	Ticket   int             `json:"ticket"`
}

type JackpotRound struct {
	ID           string            `json:"id"`
	TicketPrice  decimal.Decimal   `json:"ticket_price"`
	TotalTickets int               `json:"total_tickets"`
	TicketsSold  int               `json:"tickets_sold"`
	Status       RoundStatus       `json:"status"`
	PrizeShares  []decimal.Decimal `json:"prize_shares"`
	PayoutRatio  decimal.Decimal   `json:"payout_ratio"`

	// Seed is committed by hash at open and published after the draw.
	Seed     string `json:"seed"`
	SeedHash string `json:"seed_hash"`

	Entries []TicketEntry   `json:"entries"`
	Winners []JackpotWinner `json:"winners"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Pot is the amount paid out across all prizes.
func (r *JackpotRound) Pot() decimal.Decimal {
	return r.TicketPrice.Mul(decimal.NewFromInt(int64(r.TicketsSold))).Mul(r.PayoutRatio)
}

func (r *JackpotRound) Progress() decimal.Decimal {
	if r.TotalTickets == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(r.TicketsSold)).
		Div(decimal.NewFromInt(int64(r.TotalTickets))).
		Mul(decimal.NewFromInt(100)).
		Round(2)
}

type BuyTicketsRequest struct {
	Quantity int `json:"quantity" binding:"required,min=1"`
}

type RoundProgress struct {
	RoundID      string          `json:"roundId"`
	TicketsSold  int             `json:"ticketsSold"`
	TotalTickets int             `json:"totalTickets"`
	Progress     decimal.Decimal `json:"progress"`
	Status       RoundStatus     `json:"status"`
	SeedHash     string          `json:"seedHash"`
}

func (r *JackpotRound) ProgressView() *RoundProgress {
	return &RoundProgress{
		RoundID:      r.ID,
		TicketsSold:  r.TicketsSold,
		TotalTickets: r.TotalTickets,
		Progress:     r.Progress(),
		Status:       r.Status,
		SeedHash:     r.SeedHash,
	}
}
