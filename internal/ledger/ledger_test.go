package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stakeplay-backend/internal/apperr"
	"stakeplay-backend/internal/events"
	"stakeplay-backend/internal/lock"
	"stakeplay-backend/internal/models"
	"stakeplay-backend/internal/store"
	"stakeplay-backend/internal/store/storetest"
)

func newLedger(t *testing.T) (*Ledger, *store.Memory, *events.Recorder) {
	t.Helper()
	s := store.NewMemory()
	rec := &events.Recorder{}
	return New(s, lock.NewMemory(), rec), s, rec
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCreditAndDebit(t *testing.T) {
	ctx := context.Background()
	l, s, rec := newLedger(t)

	acct, err := l.Update(ctx, "alice", func(tx *Tx) error {
		return tx.Credit(models.WalletGame, dec("25"), models.TransactionTypeDeposit, "0xabc")
	})
	require.NoError(t, err)
	assert.Equal(t, "25", acct.Wallets.Get(models.WalletGame).String())

	_, err = l.Update(ctx, "alice", func(tx *Tx) error {
		return tx.Debit(models.WalletGame, dec("10"), models.TransactionTypeBet, "bet_1")
	})
	require.NoError(t, err)

	stored, err := s.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "15", stored.Wallets.Get(models.WalletGame).String())
	assert.Len(t, rec.OfType(events.TypeBalanceUpdate), 2)
}

func TestDebitFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	l, s, _ := newLedger(t)

	_, err := l.Update(ctx, "alice", func(tx *Tx) error {
		return tx.Credit(models.WalletGame, dec("5"), models.TransactionTypeDeposit, "")
	})
	require.NoError(t, err)

	_, err = l.Update(ctx, "alice", func(tx *Tx) error {
		if err := tx.Credit(models.WalletCash, dec("100"), models.TransactionTypeWin, ""); err != nil {
			return err
		}
		return tx.Debit(models.WalletGame, dec("6"), models.TransactionTypeBet, "")
	})
	assert.ErrorIs(t, err, apperr.ErrInsufficientBalance)

	stored, _ := s.GetAccount(ctx, "alice")
	assert.True(t, stored.Wallets.Get(models.WalletCash).IsZero())
	assert.Equal(t, "5", stored.Wallets.Get(models.WalletGame).String())
}

func TestRejectsBadAmounts(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newLedger(t)

	_, err := l.Update(ctx, "alice", func(tx *Tx) error {
		return tx.Debit(models.WalletGame, dec("0"), models.TransactionTypeBet, "")
	})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = l.Update(ctx, "alice", func(tx *Tx) error {
		return tx.Credit("bogus", dec("1"), models.TransactionTypeWin, "")
	})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestConcurrentDebitsNeverOverspend(t *testing.T) {
	ctx := context.Background()
	l, s, _ := newLedger(t)

	_, err := l.Update(ctx, "alice", func(tx *Tx) error {
		return tx.Credit(models.WalletGame, dec("10"), models.TransactionTypeDeposit, "")
	})
	require.NoError(t, err)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Update(ctx, "alice", func(tx *Tx) error {
				return tx.Debit(models.WalletGame, dec("1"), models.TransactionTypeBet, "")
			})
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, ok)
	stored, _ := s.GetAccount(ctx, "alice")
	assert.True(t, stored.Wallets.Get(models.WalletGame).IsZero())
}

func TestConservation(t *testing.T) {
	ctx := context.Background()
	l, s, _ := newLedger(t)

	ops := []struct {
		credit bool
		wallet models.WalletType
		amount string
	}{
		{true, models.WalletGame, "100"},
		{false, models.WalletGame, "12.34567891"},
		{true, models.WalletWinners, "3.3"},
		{false, models.WalletGame, "40"},
		{true, models.WalletGame, "0.00000001"},
	}
	for _, op := range ops {
		_, err := l.Update(ctx, "alice", func(tx *Tx) error {
			if op.credit {
				return tx.Credit(op.wallet, dec(op.amount), models.TransactionTypeWin, "")
			}
			return tx.Debit(op.wallet, dec(op.amount), models.TransactionTypeBet, "")
		})
		require.NoError(t, err)
	}

	stored, _ := s.GetAccount(ctx, "alice")
	txs, _ := s.Transactions(ctx, "alice", 0)
	sums := map[models.WalletType]decimal.Decimal{}
	for _, tx := range txs {
		sums[tx.Wallet] = sums[tx.Wallet].Add(tx.Amount)
	}
	for _, w := range models.AllWallets {
		assert.True(t, sums[w].Equal(stored.Wallets.Get(w)), "wallet %s", w)
	}
}

func TestQueuedEventsFollowSave(t *testing.T) {
	ctx := context.Background()
	l, _, rec := newLedger(t)

	_, err := l.Update(ctx, "alice", func(tx *Tx) error {
		tx.Touch()
		tx.Publish(events.New(events.TypeActivationUpdate, "alice", nil))
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, rec.OfType(events.TypeActivationUpdate), 1)

	_, err = l.Update(ctx, "alice", func(tx *Tx) error {
		tx.Publish(events.New(events.TypeActivationUpdate, "alice", nil))
		return apperr.ErrValidation
	})
	assert.Error(t, err)
	assert.Len(t, rec.OfType(events.TypeActivationUpdate), 1)
}

func TestFailedSaveWritesNothing(t *testing.T) {
	ctx := context.Background()
	faulty := storetest.NewFaulty(store.NewMemory())
	rec := &events.Recorder{}
	l := New(faulty, lock.NewMemory(), rec)

	write := func(tx *Tx) error {
		if err := tx.Credit(models.WalletGame, dec("25"), models.TransactionTypeDeposit, "0xfeed"); err != nil {
			return err
		}
		tx.ClaimDeposit("0xfeed")
		tx.SaveCommitment(&models.Commitment{
			ID:        "cmt_1",
			UserID:    "alice",
			Status:    models.CommitmentCommitted,
			ExpiresAt: time.Now().Add(time.Minute),
		})
		tx.AddProtectionCredit("2026-10-18", dec("1"))
		tx.Publish(events.New(events.TypeActivationUpdate, "alice", nil))
		return nil
	}

	faulty.Inject(storetest.Fault{Times: 1, Err: errors.New("redis: connection reset")})
	_, err := l.Update(ctx, "alice", write)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")

	stored, err := faulty.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, stored.Wallets.Get(models.WalletGame).IsZero())
	assert.Zero(t, stored.Version)

	_, err = faulty.GetCommitment(ctx, "cmt_1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	claimed, _ := faulty.DepositClaimed(ctx, "0xfeed")
	assert.False(t, claimed)
	txs, _ := faulty.Transactions(ctx, "alice", 0)
	assert.Empty(t, txs)
	credits, _ := faulty.ProtectionCredits(ctx, "2026-10-18")
	assert.Empty(t, credits)
	assert.Empty(t, rec.Events())

	// the same unit goes through once the store recovers
	acct, err := l.Update(ctx, "alice", write)
	require.NoError(t, err)
	assert.Equal(t, int64(1), acct.Version)
	_, err = faulty.GetCommitment(ctx, "cmt_1")
	assert.NoError(t, err)
	claimed, _ = faulty.DepositClaimed(ctx, "0xfeed")
	assert.True(t, claimed)
	assert.Len(t, rec.OfType(events.TypeActivationUpdate), 1)
}

func TestStaleVersionIsRetried(t *testing.T) {
	ctx := context.Background()
	l, s, _ := newLedger(t)
	_, err := l.Ensure(ctx, "alice")
	require.NoError(t, err)

	calls := 0
	acct, err := l.Update(ctx, "alice", func(tx *Tx) error {
		calls++
		if calls == 1 {
			// a writer whose lock lapsed lands between our read and save
			other, err := s.GetAccount(ctx, "alice")
			require.NoError(t, err)
			other.Wallets[models.WalletCash] = dec("7")
			other.Version++
			require.NoError(t, s.SaveAccount(ctx, other))
		}
		return tx.Credit(models.WalletGame, dec("5"), models.TransactionTypeDeposit, "")
	})
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
	assert.Equal(t, int64(2), acct.Version)
	assert.Equal(t, "7", acct.Wallets.Get(models.WalletCash).String())
	assert.Equal(t, "5", acct.Wallets.Get(models.WalletGame).String())
}

func TestDuplicateClaimIsNotRetried(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newLedger(t)

	claim := func(user string) error {
		_, err := l.Update(ctx, user, func(tx *Tx) error {
			tx.ClaimDeposit("0xabc")
			return tx.Credit(models.WalletGame, dec("1"), models.TransactionTypeDeposit, "0xabc")
		})
		return err
	}
	require.NoError(t, claim("alice"))
	assert.ErrorIs(t, claim("bob"), apperr.ErrDuplicateDeposit)
}
