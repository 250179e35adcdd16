// Package ledger owns every balance mutation. Update runs a callback inside
// the user's atomic unit: lock, load, mutate, save, unlock. The save writes
// the account and every record the callback queued in one store unit.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"stakeplay-backend/internal/apperr"
	"stakeplay-backend/internal/events"
	"stakeplay-backend/internal/lock"
	"stakeplay-backend/internal/logger"
	"stakeplay-backend/internal/models"
	"stakeplay-backend/internal/retry"
	"stakeplay-backend/internal/store"
)

type Store interface {
	store.UnitStore
	store.AccountStore
	store.HistoryStore
}

type Ledger struct {
	store    Store
	locker   lock.Locker
	notifier events.Notifier
	retry    retry.Config
	now      func() time.Time
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithRetry(cfg retry.Config) Option {
	return func(l *Ledger) { l.retry = cfg }
}

func New(s Store, locker lock.Locker, notifier events.Notifier, opts ...Option) *Ledger {
	if notifier == nil {
		notifier = events.Nop{}
	}
	l := &Ledger{
		store:    s,
		locker:   locker,
		notifier: notifier,
		retry:    retry.DefaultConfig(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Ensure returns the account, creating an empty one on first sight.
func (l *Ledger) Ensure(ctx context.Context, userID string) (*models.Account, error) {
	acct, err := l.store.GetAccount(ctx, userID)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	fresh, err := models.NewAccount(userID, "")
	if err != nil {
		return nil, err
	}
	if _, err := l.store.CreateAccount(ctx, fresh); err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	return l.store.GetAccount(ctx, userID)
}

// Update runs fn against a private copy of the account while the user's
// lock is held. Nothing is written when fn or the save fails, and events go
// out only after a successful save. Lock contention and version conflicts
// are retried with a fresh copy, so fn must not keep state across calls.
// They surface as BUSY once attempts run out.
func (l *Ledger) Update(ctx context.Context, userID string, fn func(tx *Tx) error) (*models.Account, error) {
	var result *models.Account
	err := retry.OnConflict(ctx, l.retry, func() error {
		acct, err := l.update(ctx, userID, fn)
		if err != nil {
			return err
		}
		result = acct
		return nil
	})
	return result, err
}

func (l *Ledger) update(ctx context.Context, userID string, fn func(tx *Tx) error) (*models.Account, error) {
	unlock, err := l.locker.Lock(ctx, lock.UserKey(userID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	acct, err := l.Ensure(ctx, userID)
	if err != nil {
		return nil, err
	}

	tx := &Tx{acct: acct.Clone(), now: l.now()}
	if err := fn(tx); err != nil {
		return nil, err
	}

	if tx.dirty {
		tx.acct.Version = acct.Version + 1
		tx.acct.UpdatedAt = tx.now
		tx.unit.Account = tx.acct
		tx.unit.Transactions = tx.entries
		if err := l.store.ApplyUnit(ctx, &tx.unit); err != nil {
			if apperr.IsCode(err, apperr.CodeConcurrencyConflict) || apperr.IsCode(err, apperr.CodeDuplicateDeposit) {
				return nil, err
			}
			logger.Error("Failed to save account", "user", userID, "version", tx.acct.Version, "error", err)
			return nil, fmt.Errorf("save account: %w", err)
		}
	}

	if len(tx.entries) > 0 {
		events.Emit(ctx, l.notifier, events.New(events.TypeBalanceUpdate, userID, tx.acct.Balance()))
	}
	for _, ev := range tx.events {
		events.Emit(ctx, l.notifier, ev)
	}

	return tx.acct.Clone(), nil
}

// Tx is the mutable view handed to Update callbacks. Records queued on it
// are written together with the account.
type Tx struct {
	acct    *models.Account
	now     time.Time
	entries []*models.Transaction
	events  []events.Event
	unit    store.Unit
	dirty   bool
}

func (tx *Tx) Account() *models.Account {
	return tx.acct
}

func (tx *Tx) Now() time.Time {
	return tx.now
}

func (tx *Tx) Balance(w models.WalletType) decimal.Decimal {
	return tx.acct.Wallets.Get(w)
}

// Touch marks non-balance account fields as changed so they are saved.
func (tx *Tx) Touch() {
	tx.dirty = true
}

// Publish queues ev until the account has been saved.
func (tx *Tx) Publish(ev events.Event) {
	tx.events = append(tx.events, ev)
}

func (tx *Tx) Entries() []*models.Transaction {
	return tx.entries
}

func (tx *Tx) SaveCommitment(c *models.Commitment) {
	cp := *c
	tx.unit.Commitments = append(tx.unit.Commitments, &cp)
	tx.dirty = true
}

func (tx *Tx) AppendGame(rec *models.GameRecord) {
	cp := *rec
	tx.unit.Games = append(tx.unit.Games, &cp)
	tx.dirty = true
}

func (tx *Tx) SaveWithdrawal(w *models.Withdrawal) {
	cp := *w
	tx.unit.Withdrawals = append(tx.unit.Withdrawals, &cp)
	tx.dirty = true
}

func (tx *Tx) SaveCommission(c *models.Commission) {
	cp := *c
	tx.unit.Commissions = append(tx.unit.Commissions, &cp)
	tx.dirty = true
}

// ScheduleDistribution records an upline walk as pending in the same write
// as its trigger, so a crash before the walk leaves it resumable.
func (tx *Tx) ScheduleDistribution(p *models.DistributionProgress) {
	cp := *p
	tx.unit.Distributions = append(tx.unit.Distributions, &cp)
	tx.dirty = true
}

// ClaimDeposit marks txHash as credited. The save fails with
// DUPLICATE_DEPOSIT when another unit claimed it first.
func (tx *Tx) ClaimDeposit(txHash string) {
	tx.unit.DepositClaims = append(tx.unit.DepositClaims, txHash)
	tx.dirty = true
}

func (tx *Tx) AddProtectionCredit(day string, amount decimal.Decimal) {
	tx.unit.ProtectionCredits = append(tx.unit.ProtectionCredits, store.ProtectionCredit{Day: day, Amount: amount})
	tx.dirty = true
}

func (tx *Tx) Credit(w models.WalletType, amount decimal.Decimal, kind models.TransactionType, ref string) error {
	if !w.Valid() {
		return apperr.New(apperr.CodeValidation, "unknown wallet %q", w)
	}
	amount = models.RoundAmount(amount)
	if amount.IsNegative() {
		return apperr.New(apperr.CodeValidation, "credit amount must not be negative")
	}
	if amount.IsZero() {
		return nil
	}
	tx.apply(w, amount, kind, ref)
	return nil
}

func (tx *Tx) Debit(w models.WalletType, amount decimal.Decimal, kind models.TransactionType, ref string) error {
	if !w.Valid() {
		return apperr.New(apperr.CodeValidation, "unknown wallet %q", w)
	}
	amount = models.RoundAmount(amount)
	if !amount.IsPositive() {
		return apperr.New(apperr.CodeValidation, "debit amount must be positive")
	}
	if tx.Balance(w).LessThan(amount) {
		return apperr.New(apperr.CodeInsufficientBalance, "insufficient %s balance", w)
	}
	tx.apply(w, amount.Neg(), kind, ref)
	return nil
}

func (tx *Tx) apply(w models.WalletType, signed decimal.Decimal, kind models.TransactionType, ref string) {
	before := tx.Balance(w)
	after := before.Add(signed)
	tx.acct.Wallets[w] = after
	tx.dirty = true
	tx.entries = append(tx.entries, &models.Transaction{
		ID:            models.GenerateTransactionID(),
		UserID:        tx.acct.UserID,
		Wallet:        w,
		Type:          kind,
		Amount:        signed,
		BalanceBefore: before,
		BalanceAfter:  after,
		Reference:     ref,
		CreatedAt:     tx.now,
	})
}
