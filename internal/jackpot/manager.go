// Package jackpot sells fixed-capacity ticket rounds and draws their winners.
//
// Ticket counting lives in the store as a single atomic reserve so a round
// can never be over-sold, whichever node serves the purchase. The round seed
// is committed by hash when the round opens and published with the result,
// so anyone can recompute the winners.
package jackpot

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"stakeplay-backend/internal/apperr"
	"stakeplay-backend/internal/events"
	"stakeplay-backend/internal/fairness"
	"stakeplay-backend/internal/ledger"
	"stakeplay-backend/internal/lock"
	"stakeplay-backend/internal/logger"
	"stakeplay-backend/internal/models"
	"stakeplay-backend/internal/policy"
	"stakeplay-backend/internal/store"
)

const currentRoundKey = "current"

// RoundJournal receives completed rounds. The badger audit journal
// satisfies it.
type RoundJournal interface {
	AppendRound(r *models.JackpotRound) error
}

type Manager struct {
	store    store.JackpotStore
	ledger   *ledger.Ledger
	locker   lock.Locker
	policy   policy.Provider
	notifier events.Notifier
	seeds    fairness.SeedSource
	journal  RoundJournal
	now      func() time.Time
	log      *slog.Logger
}

type Option func(*Manager)

func WithSeedSource(src fairness.SeedSource) Option {
	return func(m *Manager) { m.seeds = src }
}

func WithJournal(j RoundJournal) Option {
	return func(m *Manager) { m.journal = j }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(s store.JackpotStore, l *ledger.Ledger, locker lock.Locker, p policy.Provider, n events.Notifier, opts ...Option) *Manager {
	m := &Manager{
		store:    s,
		ledger:   l,
		locker:   locker,
		policy:   p,
		notifier: n,
		seeds:    fairness.NewServerSeed,
		now:      func() time.Time { return time.Now().UTC() },
		log:      logger.With("component", "jackpot"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EnsureOpenRound returns the current round, opening a new one from the
// active policy when there is none or the last one has left the open state.
func (m *Manager) EnsureOpenRound(ctx context.Context) (*models.JackpotRound, error) {
	unlock, err := m.locker.Lock(ctx, lock.RoundKey(currentRoundKey))
	if err != nil {
		return nil, err
	}
	defer unlock()

	id, err := m.store.CurrentRoundID(ctx)
	if err != nil {
		return nil, err
	}
	if id != "" {
		round, err := m.store.GetRound(ctx, id)
		if err != nil {
			return nil, err
		}
		if round.Status == models.RoundOpen {
			return round, nil
		}
	}
	return m.openRound(ctx)
}

func (m *Manager) openRound(ctx context.Context) (*models.JackpotRound, error) {
	cfg := m.policy.Current().Jackpot
	seed, digest, err := fairness.Commit(m.seeds)
	if err != nil {
		return nil, err
	}

	round := &models.JackpotRound{
		ID:           models.GenerateRoundID(),
		TicketPrice:  cfg.TicketPrice,
		TotalTickets: cfg.TotalTickets,
		Status:       models.RoundOpen,
		PrizeShares:  append([]decimal.Decimal(nil), cfg.PrizeShares...),
		PayoutRatio:  cfg.PayoutRatio,
		Seed:         seed,
		SeedHash:     digest,
		Entries:      []models.TicketEntry{},
		Winners:      []models.JackpotWinner{},
		CreatedAt:    m.now(),
	}
	if err := m.store.CreateRound(ctx, round); err != nil {
		return nil, fmt.Errorf("create round: %w", err)
	}

	m.log.Info("Jackpot round opened", "round", round.ID, "tickets", round.TotalTickets, "seed_hash", digest)
	return round, nil
}

// CurrentRound returns the open round's public progress. The seed is never
// part of the view.
func (m *Manager) CurrentRound(ctx context.Context) (*models.RoundProgress, error) {
	round, err := m.EnsureOpenRound(ctx)
	if err != nil {
		return nil, err
	}
	return round.ProgressView(), nil
}

// BuyTickets debits quantity x price from the buyer's jackpot-buffer wallet
// and reserves the tickets in the open round. The reservation and the debit
// succeed or fail together; see settleReserved for a round that closes in
// between.
func (m *Manager) BuyTickets(ctx context.Context, userID string, quantity int) (*models.RoundProgress, error) {
	if quantity < 1 {
		return nil, apperr.New(apperr.CodeValidation, "quantity must be at least 1")
	}

	round, err := m.EnsureOpenRound(ctx)
	if err != nil {
		return nil, err
	}

	cost := models.RoundAmount(round.TicketPrice.Mul(decimal.NewFromInt(int64(quantity))))
	entry := models.TicketEntry{
		PurchaseID: uuid.New().String(),
		UserID:     userID,
		Quantity:   quantity,
	}

	var (
		sold     int
		reserved bool
	)
	_, err = m.ledger.Update(ctx, userID, func(tx *ledger.Tx) error {
		if tx.Balance(models.WalletJackpotBuffer).LessThan(cost) {
			return apperr.New(apperr.CodeInsufficientBalance, "jackpot buffer cannot cover %s", cost)
		}

		// a retried attempt keeps the reservation it already holds
		if !reserved {
			n, err := m.store.ReserveTickets(ctx, round.ID, entry)
			if err != nil {
				return err
			}
			sold, reserved = n, true
		}

		if err := tx.Debit(models.WalletJackpotBuffer, cost, models.TransactionTypeTicket, entry.PurchaseID); err != nil {
			return err
		}
		tx.Publish(events.New(events.TypeTicketSold, userID, map[string]any{
			"roundId":      round.ID,
			"quantity":     quantity,
			"ticketsSold":  sold,
			"totalTickets": round.TotalTickets,
		}))
		return nil
	})
	if err != nil && (!reserved || !m.settleReserved(ctx, round, entry, cost, err)) {
		return nil, err
	}

	progress := round.ProgressView()
	progress.TicketsSold = sold
	round.TicketsSold = sold
	progress.Progress = round.Progress()

	if sold >= round.TotalTickets && m.policy.Current().Jackpot.DrawWhenFull {
		if _, err := m.ExecuteDraw(ctx, round.ID); err != nil {
			m.log.Warn("Sold-out round was not drawn", "round", round.ID, "error", err)
		} else {
			progress.Status = models.RoundCompleted
		}
	}
	return progress, nil
}

// settleReserved handles a reservation whose debit failed. While the round
// is open the entry is simply released. Once a draw has taken the round out
// of open the entry is part of the draw, so the cost is collected again; an
// entry that still cannot be paid is logged for reconciliation. It reports
// whether the purchase stands as paid.
func (m *Manager) settleReserved(ctx context.Context, round *models.JackpotRound, entry models.TicketEntry, cost decimal.Decimal, cause error) bool {
	released, err := m.store.ReleaseTickets(ctx, round.ID, entry.PurchaseID)
	if err != nil {
		m.log.Error("Failed to release tickets", "round", round.ID, "purchase", entry.PurchaseID, "user", entry.UserID, "error", err)
		return false
	}
	if released {
		return false
	}

	_, err = m.ledger.Update(ctx, entry.UserID, func(tx *ledger.Tx) error {
		return tx.Debit(models.WalletJackpotBuffer, cost, models.TransactionTypeTicket, entry.PurchaseID)
	})
	if err != nil {
		m.log.Error("Unpaid jackpot entry left in draw",
			"round", round.ID,
			"purchase", entry.PurchaseID,
			"user", entry.UserID,
			"quantity", entry.Quantity,
			"cost", cost.String(),
			"cause", cause,
			"error", err,
		)
		return false
	}

	m.log.Warn("Ticket cost collected after the round closed", "round", round.ID, "purchase", entry.PurchaseID, "user", entry.UserID)
	return true
}

// AutoEnter spends the user's jackpot buffer on whole tickets, up to the
// policy cap. It is a no-op when auto entry is off or nothing is affordable.
func (m *Manager) AutoEnter(ctx context.Context, userID string) (*models.RoundProgress, error) {
	cfg := m.policy.Current().Jackpot
	if !cfg.AutoEntry {
		return nil, nil
	}

	acct, err := m.ledger.Ensure(ctx, userID)
	if err != nil {
		return nil, err
	}
	round, err := m.EnsureOpenRound(ctx)
	if err != nil {
		return nil, err
	}
	if !round.TicketPrice.IsPositive() {
		return nil, nil
	}

	qty := int(acct.Wallets.Get(models.WalletJackpotBuffer).Div(round.TicketPrice).IntPart())
	if cfg.AutoEntryMax > 0 && qty > cfg.AutoEntryMax {
		qty = cfg.AutoEntryMax
	}
	if left := round.TotalTickets - round.TicketsSold; qty > left {
		qty = left
	}
	if qty < 1 {
		return nil, nil
	}

	progress, err := m.BuyTickets(ctx, userID, qty)
	if apperr.IsCode(err, apperr.CodeRoundCapacity) || apperr.IsCode(err, apperr.CodeRoundNotOpen) ||
		apperr.IsCode(err, apperr.CodeInsufficientBalance) {
		// lost a race with another buyer or spend; next trigger retries
		return nil, nil
	}
	return progress, err
}

// ExecuteDraw moves an open round to drawing exactly once, pays the winners
// and completes it. A caller that loses the transition gets the round as it
// stands and changes nothing.
func (m *Manager) ExecuteDraw(ctx context.Context, roundID string) (*models.JackpotRound, error) {
	if m.policy.Current().Pause.Draws {
		return nil, apperr.New(apperr.CodeOperationPaused, "draws are paused")
	}

	won, err := m.store.TransitionRound(ctx, roundID, models.RoundOpen, models.RoundDrawing)
	if err != nil {
		return nil, err
	}
	round, err := m.store.GetRound(ctx, roundID)
	if err != nil {
		return nil, err
	}
	if !won {
		m.log.Debug("Draw already taken", "round", roundID, "status", round.Status)
		return round, nil
	}

	pot := round.Pot()
	picks := PickWinners(round.Seed, round.ID, round.Entries, len(round.PrizeShares))
	winners := make([]models.JackpotWinner, 0, len(picks))
	for i, p := range picks {
		prize := models.RoundAmount(pot.Mul(round.PrizeShares[i]))
		w := models.JackpotWinner{Position: i + 1, UserID: p.UserID, Prize: prize, Ticket: p.Ticket}

		ref := fmt.Sprintf("%s:%d", round.ID, w.Position)
		if _, err := m.ledger.Update(ctx, w.UserID, func(tx *ledger.Tx) error {
			return tx.Credit(models.WalletCash, prize, models.TransactionTypePrize, ref)
		}); err != nil {
			// the round stays in drawing so the payout can be reconciled by hand
			return nil, fmt.Errorf("credit prize %d of round %s: %w", w.Position, round.ID, err)
		}
		winners = append(winners, w)
	}

	completedAt := m.now()
	round.Status = models.RoundCompleted
	round.Winners = winners
	round.CompletedAt = &completedAt
	if err := m.store.SaveRoundResult(ctx, round); err != nil {
		return nil, fmt.Errorf("save round result: %w", err)
	}
	if m.journal != nil {
		if err := m.journal.AppendRound(round); err != nil {
			m.log.Error("Failed to journal round", "round", round.ID, "error", err)
		}
	}

	events.Emit(ctx, m.notifier, events.New(events.TypeWinnerAnnounced, "", map[string]any{
		"roundId":  round.ID,
		"seed":     round.Seed,
		"seedHash": round.SeedHash,
		"winners":  winners,
	}))
	m.log.Info("Jackpot drawn", "round", round.ID, "sold", round.TicketsSold, "pot", pot.String(), "winners", len(winners))

	if _, err := m.EnsureOpenRound(ctx); err != nil {
		m.log.Error("Failed to open next round", "error", err)
	}
	return round, nil
}

// Pick is one drawn ticket.
type Pick struct {
	UserID string
	// Ticket is the 1-based ticket number in purchase order.
	Ticket int
}

// PickWinners draws up to n distinct users, weighted by tickets held. Draw i
// uses fairness.Stream(seed, roundID, i); a user's remaining tickets leave
// the pool once they win. Entries are numbered in PurchaseID order.
func PickWinners(seed, roundID string, entries []models.TicketEntry, n int) []Pick {
	type span struct {
		entry models.TicketEntry
		first int
	}

	sorted := append([]models.TicketEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PurchaseID < sorted[j].PurchaseID })

	pool := make([]span, 0, len(sorted))
	next := 1
	for _, e := range sorted {
		if e.Quantity <= 0 {
			continue
		}
		pool = append(pool, span{entry: e, first: next})
		next += e.Quantity
	}

	picks := []Pick{}
	for i := 0; i < n && len(pool) > 0; i++ {
		total := 0
		for _, s := range pool {
			total += s.entry.Quantity
		}

		target := int(fairness.Stream(seed, roundID, i) * float64(total))
		var hit Pick
		for _, s := range pool {
			if target < s.entry.Quantity {
				hit = Pick{UserID: s.entry.UserID, Ticket: s.first + target}
				break
			}
			target -= s.entry.Quantity
		}
		picks = append(picks, hit)

		remaining := pool[:0]
		for _, s := range pool {
			if s.entry.UserID != hit.UserID {
				remaining = append(remaining, s)
			}
		}
		pool = remaining
	}
	return picks
}
