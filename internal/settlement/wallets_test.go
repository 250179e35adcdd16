package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stakeplay-backend/internal/apperr"
	"stakeplay-backend/internal/events"
	"stakeplay-backend/internal/ledger"
	"stakeplay-backend/internal/models"
	"stakeplay-backend/internal/policy"
	"stakeplay-backend/internal/store"
	"stakeplay-backend/internal/store/storetest"
)

func TestDepositAdvancesTier(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	resp, err := f.engine.Deposit(ctx, "amy", dec("5"), "0xa")
	require.NoError(t, err)
	assert.Equal(t, models.TierNone, resp.Tier)
	assert.Empty(t, resp.Unlocked)

	resp, err = f.engine.Deposit(ctx, "amy", dec("5"), "0xb")
	require.NoError(t, err)
	assert.Equal(t, models.TierOne, resp.Tier)
	assert.Contains(t, resp.Unlocked, models.CapEarnCommissions)
	assert.Equal(t, "10", resp.GameBalance.String())

	resp, err = f.engine.Deposit(ctx, "amy", dec("90"), "0xc")
	require.NoError(t, err)
	assert.Equal(t, models.TierTwo, resp.Tier)
	assert.Contains(t, resp.Unlocked, models.CapTransferToCash)
	assert.NotContains(t, resp.Unlocked, models.CapEarnCommissions)

	assert.Len(t, f.recorder.OfType(events.TypeActivationUpdate), 2)
}

func TestDepositRejectsReusedHash(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.engine.Deposit(ctx, "ben", dec("10"), "0xsame")
	require.NoError(t, err)
	_, err = f.engine.Deposit(ctx, "ben", dec("10"), "0xsame")
	assert.True(t, apperr.IsCode(err, apperr.CodeDuplicateDeposit))
	_, err = f.engine.Deposit(ctx, "other", dec("10"), "0xsame")
	assert.True(t, apperr.IsCode(err, apperr.CodeDuplicateDeposit))

	assert.Equal(t, "10", f.wallet(t, "ben", models.WalletGame))

	_, err = f.engine.Deposit(ctx, "ben", dec("-1"), "0xneg")
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))
	_, err = f.engine.Deposit(ctx, "ben", dec("0.000000001"), "0xtiny")
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))
}

func TestFirstActivationCountsForReferrer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	parent, err := models.NewAccount("parent", "")
	require.NoError(t, err)
	_, err = f.store.CreateAccount(ctx, parent)
	require.NoError(t, err)
	child, err := models.NewAccount("child", "parent")
	require.NoError(t, err)
	_, err = f.store.CreateAccount(ctx, child)
	require.NoError(t, err)

	_, err = f.engine.Deposit(ctx, "child", dec("10"), "0x1")
	require.NoError(t, err)
	_, err = f.engine.Deposit(ctx, "child", dec("100"), "0x2")
	require.NoError(t, err)

	acct, err := f.store.GetAccount(ctx, "parent")
	require.NoError(t, err)
	assert.Equal(t, 1, acct.ActiveDirects)
}

func TestDepositPaysUpline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	parent, err := models.NewAccount("parent", "")
	require.NoError(t, err)
	parent.ActiveDirects = 1
	_, err = f.store.CreateAccount(ctx, parent)
	require.NoError(t, err)
	_, err = f.engine.Deposit(ctx, "parent", dec("10"), "0xp")
	require.NoError(t, err)

	child, err := models.NewAccount("child", "parent")
	require.NoError(t, err)
	_, err = f.store.CreateAccount(ctx, child)
	require.NoError(t, err)

	_, err = f.engine.Deposit(ctx, "child", dec("50"), "0xc")
	require.NoError(t, err)
	assert.Equal(t, "5", f.wallet(t, "parent", models.WalletDirectLevel))
}

func TestWithdrawRequiresCapability(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.ledger.Update(ctx, "cat", func(tx *ledger.Tx) error {
		if err := tx.Credit(models.WalletCash, dec("20"), models.TransactionTypeCommission, "seed"); err != nil {
			return err
		}
		return tx.Credit(models.WalletDirectLevel, dec("20"), models.TransactionTypeCommission, "seed")
	})
	require.NoError(t, err)

	_, err = f.engine.Withdraw(ctx, "cat", models.WalletCash, dec("5"))
	assert.True(t, apperr.IsCode(err, apperr.CodeCapabilityLocked))

	f.fundGame(t, "cat", "10")

	w, err := f.engine.Withdraw(ctx, "cat", models.WalletCash, dec("5"))
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalRequested, w.Status)
	assert.Equal(t, "15", f.wallet(t, "cat", models.WalletCash))

	_, err = f.engine.Withdraw(ctx, "cat", models.WalletDirectLevel, dec("5"))
	assert.True(t, apperr.IsCode(err, apperr.CodeCapabilityLocked), "direct-level needs tier2")

	_, err = f.engine.Withdraw(ctx, "cat", models.WalletGame, dec("5"))
	assert.True(t, apperr.IsCode(err, apperr.CodeCapabilityLocked), "game is never withdrawable")

	_, err = f.engine.Withdraw(ctx, "cat", models.WalletCash, dec("500"))
	assert.True(t, apperr.IsCode(err, apperr.CodeInsufficientBalance))

	snap := policy.Default()
	snap.Pause.Withdrawals = true
	f.policy.Swap(snap)
	_, err = f.engine.Withdraw(ctx, "cat", models.WalletCash, dec("1"))
	assert.True(t, apperr.IsCode(err, apperr.CodeOperationPaused))
}

func TestTransferFromIncomeWallet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.ledger.Update(ctx, "dan", func(tx *ledger.Tx) error {
		return tx.Credit(models.WalletWinners, dec("8"), models.TransactionTypeWin, "seed")
	})
	require.NoError(t, err)

	_, err = f.engine.Transfer(ctx, "dan", models.WalletWinners, models.WalletGame, dec("3"))
	assert.True(t, apperr.IsCode(err, apperr.CodeCapabilityLocked))

	f.fundGame(t, "dan", "10")

	bal, err := f.engine.Transfer(ctx, "dan", models.WalletWinners, models.WalletGame, dec("3"))
	require.NoError(t, err)
	assert.Equal(t, "13", bal.Wallets.Get(models.WalletGame).String())
	assert.Equal(t, "5", bal.Wallets.Get(models.WalletWinners).String())

	_, err = f.engine.Transfer(ctx, "dan", models.WalletWinners, models.WalletCash, dec("1"))
	assert.True(t, apperr.IsCode(err, apperr.CodeCapabilityLocked), "cash needs tier2")

	_, err = f.engine.Transfer(ctx, "dan", models.WalletGame, models.WalletCash, dec("1"))
	assert.True(t, apperr.IsCode(err, apperr.CodeCapabilityLocked), "game is not an income wallet")
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fundGame(t, "eve", "10")

	commit, err := f.engine.Commit(ctx, "eve", diceBet(models.GameTypeCash, 1, "1", 1))
	require.NoError(t, err)
	_, err = f.engine.Reveal(ctx, "eve", commit.CommitmentID)
	require.NoError(t, err)

	h, err := f.engine.History(ctx, "eve", 0)
	require.NoError(t, err)
	assert.Len(t, h.Games, 1)
	assert.GreaterOrEqual(t, len(h.Transactions), 2)

	bal, err := f.engine.Balance(ctx, "eve")
	require.NoError(t, err)
	assert.Equal(t, models.TierOne, bal.Tier)
}

func TestFailedDepositLeavesHashUnclaimed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.faulty.Inject(storetest.Fault{Match: storetest.UserIs("dan"), Times: 1, Err: errConnReset})
	_, err := f.engine.Deposit(ctx, "dan", dec("10"), "0xretry")
	require.ErrorIs(t, err, errConnReset)

	claimed, err := f.store.DepositClaimed(ctx, "0xretry")
	require.NoError(t, err)
	assert.False(t, claimed)
	p, _ := f.store.GetProgress(ctx, "deposit:0xretry")
	assert.Nil(t, p)

	_, err = f.engine.Deposit(ctx, "dan", dec("10"), "0xretry")
	require.NoError(t, err)
	assert.Equal(t, "10", f.wallet(t, "dan", models.WalletGame))
}

func TestDepositFanOutResumesAfterFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	parent, err := models.NewAccount("parent", "")
	require.NoError(t, err)
	parent.ActiveDirects = 1
	_, err = f.store.CreateAccount(ctx, parent)
	require.NoError(t, err)
	_, err = f.engine.Deposit(ctx, "parent", dec("10"), "0xp")
	require.NoError(t, err)

	child, err := models.NewAccount("child", "parent")
	require.NoError(t, err)
	_, err = f.store.CreateAccount(ctx, child)
	require.NoError(t, err)

	hasCommission := func(u *store.Unit) bool { return len(u.Commissions) > 0 }
	f.faulty.Inject(storetest.Fault{Match: hasCommission, Times: 1, Err: errConnReset})
	_, err = f.engine.Deposit(ctx, "child", dec("50"), "0xc")
	require.NoError(t, err, "the deposit itself is committed")
	assert.Equal(t, "0", f.wallet(t, "parent", models.WalletDirectLevel))

	p, err := f.store.GetProgress(ctx, "deposit:0xc")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.False(t, p.Done)

	f.clock.Advance(5 * time.Minute)
	n, err := f.dist.Resume(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "5", f.wallet(t, "parent", models.WalletDirectLevel))

	n, err = f.dist.Resume(ctx, time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, "5", f.wallet(t, "parent", models.WalletDirectLevel))
}
