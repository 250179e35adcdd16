// Package store defines the persistence ports used by the engine. The Redis
// implementation lives in package services; Memory backs tests and
// single-process runs.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"stakeplay-backend/internal/apperr"
	"stakeplay-backend/internal/models"
)

// HistoryLimit caps per-user game and transaction indexes.
const HistoryLimit = 100

type AccountStore interface {
	// CreateAccount stores a new account. It returns false without error when
	// the user already exists.
	CreateAccount(ctx context.Context, acct *models.Account) (bool, error)
	// GetAccount fails with apperr.ErrNotFound for unknown users.
	GetAccount(ctx context.Context, userID string) (*models.Account, error)
	// SaveAccount overwrites the account without a version check. Balance
	// changes go through UnitStore.ApplyUnit instead.
	SaveAccount(ctx context.Context, acct *models.Account) error
	ListUserIDs(ctx context.Context) ([]string, error)

	AddChild(ctx context.Context, parentID, childID string) error
	Children(ctx context.Context, parentID string) ([]string, error)
}

type CommitmentStore interface {
	// ReserveNonce claims (user, nonce). It returns false if the pair was used.
	ReserveNonce(ctx context.Context, userID string, nonce int64) (bool, error)
	ReleaseNonce(ctx context.Context, userID string, nonce int64) error
	SaveCommitment(ctx context.Context, c *models.Commitment) error
	GetCommitment(ctx context.Context, id string) (*models.Commitment, error)
	// OverdueCommitments lists committed ids whose expiry is at or before now.
	OverdueCommitments(ctx context.Context, now time.Time, limit int) ([]string, error)
}

type HistoryStore interface {
	AppendGame(ctx context.Context, rec *models.GameRecord) error
	GameHistory(ctx context.Context, userID string, limit int) ([]*models.GameRecord, error)
	SaveTransaction(ctx context.Context, tx *models.Transaction) error
	Transactions(ctx context.Context, userID string, limit int) ([]*models.Transaction, error)
	SaveWithdrawal(ctx context.Context, w *models.Withdrawal) error
}

type IncentiveStore interface {
	GetCommission(ctx context.Context, key string) (*models.Commission, bool, error)
	SaveCommission(ctx context.Context, c *models.Commission) error
	// GetProgress returns nil when the event has never been walked.
	GetProgress(ctx context.Context, eventID string) (*models.DistributionProgress, error)
	SaveProgress(ctx context.Context, p *models.DistributionProgress) error

	// PendingDistributions lists unfinished walks last checkpointed at or
	// before olderThan, oldest first.
	PendingDistributions(ctx context.Context, olderThan time.Time, limit int) ([]*models.DistributionProgress, error)

	// DepositClaimed reports whether txHash was already credited. Claims are
	// written through a Unit.
	DepositClaimed(ctx context.Context, txHash string) (bool, error)
	AddProtectionCredit(ctx context.Context, day, userID string, amount decimal.Decimal) error
	ProtectionCredits(ctx context.Context, day string) (map[string]decimal.Decimal, error)
}

type JackpotStore interface {
	// CreateRound stores an open round and makes it current.
	CreateRound(ctx context.Context, r *models.JackpotRound) error
	GetRound(ctx context.Context, id string) (*models.JackpotRound, error)
	// CurrentRoundID returns "" when no round has been opened yet.
	CurrentRoundID(ctx context.Context) (string, error)
	// ReserveTickets performs the capacity check and the increment as one
	// step and returns the new sold count. It fails with ErrRoundNotOpen or
	// ErrRoundCapacity without changing anything.
	ReserveTickets(ctx context.Context, roundID string, entry models.TicketEntry) (int, error)
	// ReleaseTickets undoes a reservation whose payment failed. It reports
	// false when nothing was released because the round is no longer open or
	// the entry is gone.
	ReleaseTickets(ctx context.Context, roundID, purchaseID string) (bool, error)
	// TransitionRound moves status from -> to. Only one caller can win.
	TransitionRound(ctx context.Context, id string, from, to models.RoundStatus) (bool, error)
	// SaveRoundResult persists winners, revealed seed and completion time.
	SaveRoundResult(ctx context.Context, r *models.JackpotRound) error
}

// ProtectionCredit accrues amount to the unit owner's total for Day.
type ProtectionCredit struct {
	Day    string
	Amount decimal.Decimal
}

// Unit is everything one atomic per-user update writes: the account with its
// bumped version plus the records that must never exist without it.
type Unit struct {
	Account           *models.Account
	Transactions      []*models.Transaction
	Commitments       []*models.Commitment
	Games             []*models.GameRecord
	Withdrawals       []*models.Withdrawal
	Commissions       []*models.Commission
	Distributions     []*models.DistributionProgress
	DepositClaims     []string
	ProtectionCredits []ProtectionCredit
}

type UnitStore interface {
	// ApplyUnit writes the whole unit or nothing. It fails with
	// ErrConcurrencyConflict when the stored account is not at
	// Account.Version-1, and with ErrDuplicateDeposit when a claimed hash is
	// already taken.
	ApplyUnit(ctx context.Context, u *Unit) error
}

// CheckVersion compares the stored account with the version next was loaded at.
func CheckVersion(stored, next *models.Account) error {
	var have int64
	if stored != nil {
		have = stored.Version
	}
	if have != next.Version-1 {
		return apperr.Wrap(apperr.CodeConcurrencyConflict, apperr.ErrConcurrencyConflict,
			"account %s is at version %d, expected %d", next.UserID, have, next.Version-1)
	}
	return nil
}

// DuplicateDeposit is the error ApplyUnit returns for a taken hash.
func DuplicateDeposit(txHash string) error {
	return apperr.Wrap(apperr.CodeDuplicateDeposit, apperr.ErrDuplicateDeposit, "transaction %s was already credited", txHash)
}

type Store interface {
	UnitStore
	AccountStore
	CommitmentStore
	HistoryStore
	IncentiveStore
	JackpotStore
}
