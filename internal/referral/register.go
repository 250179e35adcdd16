package referral

import (
	"context"
	"fmt"
	"time"

	"stakeplay-backend/internal/apperr"
	"stakeplay-backend/internal/ledger"
	"stakeplay-backend/internal/lock"
	"stakeplay-backend/internal/logger"
	"stakeplay-backend/internal/models"
	"stakeplay-backend/internal/policy"
	"stakeplay-backend/internal/retry"
)

// SignupHook runs after a referral edge is created.
type SignupHook func(ctx context.Context, userID string)

// SignupWalk builds the pending commission walk saved with a new edge.
type SignupWalk func(userID string, now time.Time) *models.DistributionProgress

type Registrar struct {
	tree     *Tree
	ledger   *ledger.Ledger
	locker   lock.Locker
	policy   policy.Provider
	onSignup SignupHook
	walk     SignupWalk
}

type RegistrarOption func(*Registrar)

func WithSignupWalk(fn SignupWalk) RegistrarOption {
	return func(r *Registrar) { r.walk = fn }
}

func NewRegistrar(tree *Tree, l *ledger.Ledger, locker lock.Locker, policy policy.Provider, onSignup SignupHook, opts ...RegistrarOption) *Registrar {
	r := &Registrar{
		tree:     tree,
		ledger:   l,
		locker:   locker,
		policy:   policy,
		onSignup: onSignup,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register attaches userID under referrerID. The edge can only be set once
// and only before the user's first deposit. Edge writes are serialized on
// one tree-wide lock so two registrations can never close a cycle between
// them.
func (r *Registrar) Register(ctx context.Context, userID, referrerID string) (*models.Account, error) {
	if userID == "" || referrerID == "" {
		return nil, apperr.New(apperr.CodeValidation, "user and referrer are required")
	}
	if userID == referrerID {
		return nil, apperr.New(apperr.CodeValidation, "cannot refer yourself")
	}

	if _, err := r.tree.store.GetAccount(ctx, referrerID); err != nil {
		return nil, err
	}
	if _, err := r.ledger.Ensure(ctx, userID); err != nil {
		return nil, err
	}

	var unlock lock.Unlock
	err := retry.OnConflict(ctx, retry.DefaultConfig(), func() error {
		var err error
		unlock, err = r.locker.Lock(ctx, lock.ReferralEdgesKey)
		return err
	})
	if err != nil {
		return nil, err
	}
	defer unlock()

	cycle, err := r.tree.Contains(ctx, referrerID, userID)
	if err != nil {
		return nil, fmt.Errorf("check referral cycle: %w", err)
	}
	if cycle {
		return nil, apperr.New(apperr.CodeValidation, "referral would create a cycle")
	}

	snap := r.policy.Current()

	// reserve the slot on the referrer first so the cap can never be exceeded
	_, err = r.ledger.Update(ctx, referrerID, func(tx *ledger.Tx) error {
		acct := tx.Account()
		if snap.Referral.MaxDirects > 0 && acct.DirectCount >= snap.Referral.MaxDirects {
			return apperr.New(apperr.CodeReferralLimit, "referrer has reached %d direct referrals", snap.Referral.MaxDirects)
		}
		acct.DirectCount++
		tx.Touch()
		return nil
	})
	if err != nil {
		return nil, err
	}

	child, err := r.ledger.Update(ctx, userID, func(tx *ledger.Tx) error {
		acct := tx.Account()
		if acct.ReferredBy != "" {
			return apperr.New(apperr.CodeValidation, "referrer already set")
		}
		if acct.CumulativeDeposits.IsPositive() {
			return apperr.New(apperr.CodeValidation, "referrer must be set before the first deposit")
		}
		acct.ReferredBy = referrerID
		tx.Touch()
		if r.walk != nil {
			tx.ScheduleDistribution(r.walk(userID, tx.Now()))
		}
		return nil
	})
	if err != nil {
		r.releaseSlot(ctx, referrerID)
		return nil, err
	}

	if err := r.tree.store.AddChild(ctx, referrerID, userID); err != nil {
		return nil, fmt.Errorf("index referral: %w", err)
	}

	logger.Info("Referral registered", "user", userID, "referrer", referrerID)
	if r.onSignup != nil {
		r.onSignup(ctx, userID)
	}
	return child, nil
}

func (r *Registrar) releaseSlot(ctx context.Context, referrerID string) {
	_, err := r.ledger.Update(ctx, referrerID, func(tx *ledger.Tx) error {
		if tx.Account().DirectCount > 0 {
			tx.Account().DirectCount--
			tx.Touch()
		}
		return nil
	})
	if err != nil {
		logger.Error("Failed to release referral slot", "referrer", referrerID, "error", err)
	}
}
