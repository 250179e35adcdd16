// Package settlement runs the wager lifecycle: commit debits the stake and
// stores a sealed commitment, reveal settles it exactly once, and the sweeper
// refunds commitments nobody revealed in time.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"stakeplay-backend/internal/apperr"
	"stakeplay-backend/internal/events"
	"stakeplay-backend/internal/fairness"
	"stakeplay-backend/internal/incentive"
	"stakeplay-backend/internal/jackpot"
	"stakeplay-backend/internal/ledger"
	"stakeplay-backend/internal/logger"
	"stakeplay-backend/internal/models"
	"stakeplay-backend/internal/outcome"
	"stakeplay-backend/internal/policy"
	"stakeplay-backend/internal/store"
	"stakeplay-backend/internal/worker"
)

const sweepBatch = 500

type Store interface {
	store.AccountStore
	store.CommitmentStore
	store.HistoryStore
	store.IncentiveStore
}

// GameJournal receives every settled game. The badger audit journal
// satisfies it.
type GameJournal interface {
	AppendGame(rec *models.GameRecord) error
}

type Engine struct {
	store      Store
	ledger     *ledger.Ledger
	policy     policy.Provider
	incentives *incentive.Distributor
	jackpot    *jackpot.Manager
	dispatcher worker.Dispatcher
	notifier   events.Notifier
	journal    GameJournal
	seeds      fairness.SeedSource
	now        func() time.Time
	log        *slog.Logger
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithSeedSource(src fairness.SeedSource) Option {
	return func(e *Engine) { e.seeds = src }
}

func WithJournal(j GameJournal) Option {
	return func(e *Engine) { e.journal = j }
}

// WithJackpot enables auto-entry after settled real-money games.
func WithJackpot(m *jackpot.Manager) Option {
	return func(e *Engine) { e.jackpot = m }
}

// WithDispatcher sets where incentive fan-out runs. The default runs it
// inline on the caller's goroutine.
func WithDispatcher(d worker.Dispatcher) Option {
	return func(e *Engine) { e.dispatcher = d }
}

func NewEngine(s Store, l *ledger.Ledger, p policy.Provider, d *incentive.Distributor, n events.Notifier, opts ...Option) *Engine {
	e := &Engine{
		store:      s,
		ledger:     l,
		policy:     p,
		incentives: d,
		dispatcher: worker.Inline{},
		notifier:   n,
		seeds:      fairness.NewServerSeed,
		now:        func() time.Time { return time.Now().UTC() },
		log:        logger.With("component", "settlement"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Commit validates a bet, debits the stake and stores the sealed commitment.
// Only the seed's digest leaves the server.
func (e *Engine) Commit(ctx context.Context, userID string, req *models.CommitRequest) (*models.CommitResponse, error) {
	snap := e.policy.Current()
	if snap.Pause.Bets {
		return nil, apperr.New(apperr.CodeOperationPaused, "betting is paused")
	}
	if req.Nonce == nil {
		return nil, apperr.New(apperr.CodeValidation, "nonce is required")
	}
	pick, err := req.BetData.Validate(len(snap.Spin.Slots))
	if err != nil {
		return nil, apperr.New(apperr.CodeValidation, "%v", err)
	}
	stake := req.BetData.BetAmount
	if stake.LessThan(snap.Bets.MinStake) || stake.GreaterThan(snap.Bets.MaxStake) {
		return nil, apperr.New(apperr.CodeValidation, "bet amount must be between %s and %s", snap.Bets.MinStake, snap.Bets.MaxStake)
	}
	nonce := *req.Nonce

	reserved, err := e.store.ReserveNonce(ctx, userID, nonce)
	if err != nil {
		return nil, fmt.Errorf("reserve nonce: %w", err)
	}
	if !reserved {
		return nil, apperr.New(apperr.CodeDuplicateNonce, "nonce %d was already used", nonce)
	}

	seed, digest, err := fairness.Commit(e.seeds)
	if err != nil {
		_ = e.store.ReleaseNonce(ctx, userID, nonce)
		return nil, err
	}

	gameType := req.BetData.GameType
	var c *models.Commitment
	_, err = e.ledger.Update(ctx, userID, func(tx *ledger.Tx) error {
		acct := tx.Account()
		clientSeed := req.ClientSeed
		if clientSeed == "" {
			clientSeed = acct.ClientSeed
		}

		id := models.GenerateCommitmentID()
		if err := tx.Debit(gameType.StakeWallet(), stake, models.TransactionTypeBet, id); err != nil {
			return err
		}
		acct.Sequence++
		tx.Touch()

		now := e.now()
		c = &models.Commitment{
			ID:             id,
			UserID:         userID,
			GameType:       gameType,
			Pick:           pick,
			Stake:          models.RoundAmount(stake),
			StakeWallet:    gameType.StakeWallet(),
			ServerSeed:     seed,
			ServerSeedHash: digest,
			ClientSeed:     clientSeed,
			Nonce:          nonce,
			Sequence:       acct.Sequence,
			Status:         models.CommitmentCommitted,
			CreatedAt:      now,
			ExpiresAt:      now.Add(snap.Bets.CommitmentTTL),
		}
		tx.SaveCommitment(c)
		return nil
	})
	if err != nil {
		if rerr := e.store.ReleaseNonce(ctx, userID, nonce); rerr != nil {
			e.log.Error("Failed to release nonce", "user", userID, "nonce", nonce, "error", rerr)
		}
		return nil, err
	}

	e.log.Debug("Bet committed", "user", userID, "commitment", c.ID, "variant", pick.Variant, "stake", stake.String())
	return &models.CommitResponse{
		CommitmentID:   c.ID,
		ServerSeedHash: c.ServerSeedHash,
		ClientSeed:     c.ClientSeed,
		Nonce:          c.Nonce,
		ExpiresAt:      c.ExpiresAt,
	}, nil
}

// Reveal settles a commitment. A revealed commitment returns its stored
// result untouched; an overdue one is refunded once and reported expired.
func (e *Engine) Reveal(ctx context.Context, userID, commitmentID string) (*models.RevealResponse, error) {
	if commitmentID == "" {
		return nil, apperr.New(apperr.CodeValidation, "commitmentId is required")
	}
	if _, err := e.ownCommitment(ctx, userID, commitmentID); err != nil {
		return nil, err
	}

	snap := e.policy.Current()
	var (
		settled *models.Commitment
		record  *models.GameRecord
		expired bool
	)
	_, err := e.ledger.Update(ctx, userID, func(tx *ledger.Tx) error {
		settled, record, expired = nil, nil, false

		// re-read under the user's lock; the sweeper may have won the race
		c, err := e.store.GetCommitment(ctx, commitmentID)
		if err != nil {
			return err
		}

		switch c.Status {
		case models.CommitmentRevealed:
			settled = c
			return nil
		case models.CommitmentExpired:
			expired = true
			return nil
		}

		if c.Overdue(e.now()) {
			expired = true
			return e.expire(tx, c)
		}

		rec, err := e.settle(tx, snap, c)
		if err != nil {
			return err
		}
		settled, record = c, rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, apperr.New(apperr.CodeCommitmentExpired, "commitment %s expired and was refunded", commitmentID)
	}

	if record != nil {
		e.afterSettle(ctx, settled, record)
	}
	return settled.Result, nil
}

func (e *Engine) ownCommitment(ctx context.Context, userID, id string) (*models.Commitment, error) {
	c, err := e.store.GetCommitment(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) || (err == nil && c.UserID != userID) {
		return nil, apperr.New(apperr.CodeNotFound, "commitment not found")
	}
	return c, err
}

// settle runs inside the owner's atomic unit. The commitment, game record,
// protection credit and pending win distribution are saved with the payout.
func (e *Engine) settle(tx *ledger.Tx, snap *policy.Snapshot, c *models.Commitment) (*models.GameRecord, error) {
	draw, err := fairness.RevealCommitted(fairness.Input{
		ServerSeed: c.ServerSeed,
		ClientSeed: c.ClientSeed,
		Nonce:      c.Nonce,
		Sequence:   c.Sequence,
		Variant:    string(c.Pick.Variant),
	}, c.ServerSeedHash)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeFairnessViolation, err, "commitment %s failed seed verification", c.ID)
	}

	res, err := outcome.Calculate(c.Pick, draw.Float, c.Stake, snap.Spin)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "calculate outcome")
	}

	if res.IsWin {
		if err := e.creditPayout(tx, snap, c, res.Payout); err != nil {
			return nil, err
		}
	} else if c.GameType.RealMoney() {
		cashback := models.RoundAmount(c.Stake.Mul(snap.Cashback.Rate))
		if cashback.IsPositive() {
			if err := tx.Credit(models.WalletCashback, cashback, models.TransactionTypeCashback, c.ID); err != nil {
				return nil, err
			}
			tx.AddProtectionCredit(models.DayKey(tx.Now()), cashback)
		}
	}

	now := tx.Now()
	c.Status = models.CommitmentRevealed
	c.SettledAt = &now
	c.Result = &models.RevealResponse{
		Game: models.GameOutcome{
			IsWin:       res.IsWin,
			Payout:      res.Payout,
			Multiplier:  res.Multiplier,
			LuckyNumber: res.LuckyNumber,
		},
		NewBalance: tx.Balance(c.StakeWallet),
		ProvablyFair: models.ProvablyFair{
			ServerSeed:     c.ServerSeed,
			ServerSeedHash: c.ServerSeedHash,
			ClientSeed:     c.ClientSeed,
			Nonce:          c.Nonce,
			Sequence:       c.Sequence,
		},
	}

	rec := &models.GameRecord{
		ID:             c.ID,
		CommitmentID:   c.ID,
		UserID:         c.UserID,
		GameType:       c.GameType,
		Pick:           c.Pick,
		Stake:          c.Stake,
		IsWin:          res.IsWin,
		Multiplier:     res.Multiplier,
		Payout:         res.Payout,
		LuckyNumber:    res.LuckyNumber,
		ServerSeed:     c.ServerSeed,
		ServerSeedHash: c.ServerSeedHash,
		ClientSeed:     c.ClientSeed,
		Nonce:          c.Nonce,
		Sequence:       c.Sequence,
		SettledAt:      now,
	}
	tx.AppendGame(rec)
	tx.SaveCommitment(c)
	if profit := res.Payout.Sub(c.Stake); res.IsWin && profit.IsPositive() && c.GameType.RealMoney() {
		tx.ScheduleDistribution(incentive.WinEvent(c.UserID, c.ID, profit).Pending(now))
	}

	tx.Publish(events.New(events.TypeGameResult, c.UserID, c.Result))
	return rec, nil
}

// creditPayout routes a winning payout. Winners games split it between the
// withdrawable winners wallet and the compounding game wallet.
func (e *Engine) creditPayout(tx *ledger.Tx, snap *policy.Snapshot, c *models.Commitment, payout decimal.Decimal) error {
	if c.GameType != models.GameTypeWinners {
		return tx.Credit(c.StakeWallet, payout, models.TransactionTypeWin, c.ID)
	}
	withdrawable, compounding := outcome.Split(payout, snap.Bets.WinnersWithdrawableShare)
	if err := tx.Credit(models.WalletWinners, withdrawable, models.TransactionTypeWin, c.ID); err != nil {
		return err
	}
	return tx.Credit(models.WalletGame, compounding, models.TransactionTypeWin, c.ID)
}

// expire refunds a committed stake and marks it expired. It runs inside the
// owner's atomic unit, after the status was checked.
func (e *Engine) expire(tx *ledger.Tx, c *models.Commitment) error {
	if err := tx.Credit(c.StakeWallet, c.Stake, models.TransactionTypeRefund, c.ID); err != nil {
		return err
	}
	now := tx.Now()
	c.Status = models.CommitmentExpired
	c.SettledAt = &now
	tx.SaveCommitment(c)
	return nil
}

// afterSettle runs the follow-ups of a real-money game outside the user's
// lock. None of them can undo the settlement.
func (e *Engine) afterSettle(ctx context.Context, c *models.Commitment, rec *models.GameRecord) {
	if e.journal != nil {
		if err := e.journal.AppendGame(rec); err != nil {
			e.log.Error("Failed to journal game", "commitment", c.ID, "error", err)
		}
	}
	if !c.GameType.RealMoney() {
		return
	}

	if profit := rec.Payout.Sub(rec.Stake); rec.IsWin && profit.IsPositive() {
		ev := incentive.WinEvent(c.UserID, c.ID, profit)
		e.dispatch(ev.ID, func(ctx context.Context) error {
			_, err := e.incentives.Distribute(ctx, ev)
			return err
		})
	}

	if e.jackpot != nil {
		userID := c.UserID
		e.dispatch("jackpot:auto:"+c.ID, func(ctx context.Context) error {
			_, err := e.jackpot.AutoEnter(ctx, userID)
			return err
		})
	}
}

func (e *Engine) dispatch(name string, job worker.Job) {
	if err := e.dispatcher.Submit(name, job); err != nil {
		e.log.Error("Failed to dispatch job", "job", name, "error", err)
	}
}

// Sweep refunds every committed record past its expiry. It returns how many
// were refunded by this call.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	ids, err := e.store.OverdueCommitments(ctx, e.now(), sweepBatch)
	if err != nil {
		return 0, err
	}

	var (
		refunded int
		errs     []error
	)
	for _, id := range ids {
		c, err := e.store.GetCommitment(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		done := false
		_, err = e.ledger.Update(ctx, c.UserID, func(tx *ledger.Tx) error {
			done = false
			current, err := e.store.GetCommitment(ctx, id)
			if err != nil {
				return err
			}
			// a reveal or another sweeper got here first
			if current.Status != models.CommitmentCommitted || !current.Overdue(e.now()) {
				return nil
			}
			done = true
			return e.expire(tx, current)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("expire %s: %w", id, err))
			continue
		}
		if done {
			refunded++
		}
	}

	if refunded > 0 {
		e.log.Info("Expired commitments refunded", "count", refunded)
	}
	return refunded, errors.Join(errs...)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.Sweep(ctx); err != nil {
				e.log.Error("Sweep failed", "error", err)
			}
		}
	}
}
