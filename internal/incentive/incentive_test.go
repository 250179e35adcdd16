package incentive

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stakeplay-backend/internal/activation"
	"stakeplay-backend/internal/events"
	"stakeplay-backend/internal/ledger"
	"stakeplay-backend/internal/lock"
	"stakeplay-backend/internal/models"
	"stakeplay-backend/internal/policy"
	"stakeplay-backend/internal/referral"
	"stakeplay-backend/internal/store"
	"stakeplay-backend/internal/store/storetest"
)

type fixture struct {
	store  *store.Memory
	faulty *storetest.Faulty
	ledger *ledger.Ledger
	locker lock.Locker
	dist   *Distributor
	reg    *referral.Registrar
	snap   *policy.Snapshot
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewMemory()
	faulty := storetest.NewFaulty(s)
	snap := policy.Default()
	provider := policy.NewStatic(snap)
	locker := lock.NewMemory()
	l := ledger.New(faulty, locker, events.Nop{})
	tree := referral.NewTree(faulty)
	return &fixture{
		store:  s,
		faulty: faulty,
		ledger: l,
		locker: locker,
		dist:   NewDistributor(faulty, tree, l, provider),
		reg:    referral.NewRegistrar(tree, l, locker, provider, nil),
		snap:   snap,
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// chain builds ids[0] <- ids[1] <- ... so the last id is the deepest.
func (f *fixture) chain(t *testing.T, ids ...string) {
	t.Helper()
	ctx := context.Background()
	_, err := f.store.CreateAccount(ctx, mustAccount(t, ids[0]))
	require.NoError(t, err)
	for i := 1; i < len(ids); i++ {
		_, err := f.reg.Register(ctx, ids[i], ids[i-1])
		require.NoError(t, err)
	}
}

func mustAccount(t *testing.T, id string) *models.Account {
	acct, err := models.NewAccount(id, "")
	require.NoError(t, err)
	return acct
}

func (f *fixture) activate(t *testing.T, id string, activeDirects int) {
	t.Helper()
	ctx := context.Background()
	acct, err := f.store.GetAccount(ctx, id)
	require.NoError(t, err)
	acct.Activation = activation.Evaluate(dec("10"), f.snap.Activation)
	acct.ActiveDirects = activeDirects
	require.NoError(t, f.store.SaveAccount(ctx, acct))
}

func (f *fixture) balance(t *testing.T, id string, w models.WalletType) string {
	t.Helper()
	acct, err := f.store.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return acct.Wallets.Get(w).String()
}

func TestEligibilityGatingScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.chain(t, "a5", "a4", "a3", "a2", "a1", "src")
	for _, id := range []string{"a1", "a2", "a3", "a4"} {
		f.activate(t, id, 10)
	}
	f.activate(t, "a5", 4)

	sum, err := f.dist.Distribute(ctx, DepositEvent("src", "0x1", dec("100")))
	require.NoError(t, err)
	assert.Len(t, sum.Credited, 4)
	assert.Equal(t, 1, sum.Skipped)

	assert.Equal(t, "10", f.balance(t, "a1", models.WalletDirectLevel))
	assert.Equal(t, "5", f.balance(t, "a2", models.WalletDirectLevel))
	assert.Equal(t, "0", f.balance(t, "a5", models.WalletDirectLevel))

	f.activate(t, "a5", 5)
	_, err = f.dist.Distribute(ctx, DepositEvent("src", "0x2", dec("100")))
	require.NoError(t, err)
	assert.Equal(t, "2", f.balance(t, "a5", models.WalletDirectLevel))
}

func TestGatedLevelDoesNotStopTraversal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.chain(t, "top", "mid", "src")
	f.activate(t, "top", 10)
	// mid is not activated at all

	_, err := f.dist.Distribute(ctx, DepositEvent("src", "0x1", dec("100")))
	require.NoError(t, err)
	assert.Equal(t, "0", f.balance(t, "mid", models.WalletDirectLevel))
	assert.Equal(t, "5", f.balance(t, "top", models.WalletDirectLevel))
}

func TestDistributionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.chain(t, "a2", "a1", "src")
	f.activate(t, "a1", 10)
	f.activate(t, "a2", 10)

	ev := WinEvent("src", "bet_1", dec("40"))
	_, err := f.dist.Distribute(ctx, ev)
	require.NoError(t, err)
	first := len(f.store.Commissions())

	// forget the checkpoint so the walk really runs again
	require.NoError(t, f.store.SaveProgress(ctx, &models.DistributionProgress{EventID: ev.ID, NextLevel: 1}))
	sum, err := f.dist.Distribute(ctx, ev)
	require.NoError(t, err)

	assert.Empty(t, sum.Credited)
	assert.Equal(t, first, len(f.store.Commissions()))
	assert.Equal(t, "2", f.balance(t, "a1", models.WalletTeamWinners))
	assert.Equal(t, "1.2", f.balance(t, "a2", models.WalletTeamWinners))
}

func TestDistributionResumesFromCheckpoint(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.chain(t, "a3", "a2", "a1", "src")
	for _, id := range []string{"a1", "a2", "a3"} {
		f.activate(t, id, 10)
	}

	ev := DepositEvent("src", "0xresume", dec("100"))
	require.NoError(t, f.store.SaveProgress(ctx, &models.DistributionProgress{EventID: ev.ID, NextLevel: 3}))

	sum, err := f.dist.Distribute(ctx, ev)
	require.NoError(t, err)
	require.Len(t, sum.Credited, 1)
	assert.Equal(t, "a3", sum.Credited[0].Beneficiary)
	assert.Equal(t, "0", f.balance(t, "a1", models.WalletDirectLevel))

	p, err := f.store.GetProgress(ctx, ev.ID)
	require.NoError(t, err)
	assert.True(t, p.Done)
}

func TestSignupBonusIgnoresActivation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.chain(t, "a2", "a1", "src")

	_, err := f.dist.Distribute(ctx, SignupEvent("src"))
	require.NoError(t, err)
	assert.Equal(t, "1", f.balance(t, "a1", models.WalletPractice))
	assert.Equal(t, "1", f.balance(t, "a2", models.WalletPractice))
}

func TestLevelAmountSiphonsBeforeRounding(t *testing.T) {
	row := policy.Level{Rate: dec("1")}

	primary, siphon := LevelAmount(Event{Kind: models.CommissionROI, Amount: dec("0.00000007")}, row, dec("0.2"))
	assert.Equal(t, "0.00000005", primary.String())
	assert.Equal(t, "0.00000001", siphon.String())

	primary, siphon = LevelAmount(Event{Kind: models.CommissionROI, Amount: dec("5")}, policy.Level{Rate: dec("0.2")}, dec("0.2"))
	assert.Equal(t, "0.8", primary.String())
	assert.Equal(t, "0.2", siphon.String())

	primary, siphon = LevelAmount(Event{Kind: models.CommissionDeposit, Amount: dec("5")}, policy.Level{Rate: dec("0.2")}, dec("0.2"))
	assert.Equal(t, "1", primary.String())
	assert.True(t, siphon.IsZero())

	primary, _ = LevelAmount(Event{Kind: models.CommissionSignupBonus}, policy.Level{Amount: dec("1")}, dec("0.2"))
	assert.Equal(t, "1", primary.String())
}

func TestDistributeROI(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.chain(t, "a1", "src")
	f.activate(t, "a1", 10)

	require.NoError(t, f.store.AddProtectionCredit(ctx, "2026-03-01", "src", dec("10")))

	sums, err := f.dist.DistributeROI(ctx, "2026-03-01")
	require.NoError(t, err)
	require.Len(t, sums, 1)

	// pool 5, level 1 rate 0.20: raw 1, siphon 0.2
	assert.Equal(t, "0.8", f.balance(t, "a1", models.WalletROIOnROI))
	assert.Equal(t, "0.2", f.balance(t, "a1", models.WalletJackpotBuffer))

	_, err = f.dist.DistributeROI(ctx, "2026-03-01")
	require.NoError(t, err)
	assert.Equal(t, "0.8", f.balance(t, "a1", models.WalletROIOnROI))
}

func TestBalancedVolume(t *testing.T) {
	tests := []struct {
		name     string
		branches []string
		want     string
	}{
		{"none", nil, "0"},
		{"single branch", []string{"5000"}, "0"},
		{"dominant branch", []string{"1000", "10"}, "20"},
		{"even legs", []string{"600", "400"}, "800"},
		{"three legs", []string{"500", "300", "300"}, "1000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			branches := make([]decimal.Decimal, len(tt.branches))
			for i, b := range tt.branches {
				branches[i] = dec(b)
			}
			assert.Equal(t, tt.want, BalancedVolume(branches).String())
		})
	}
}

func TestRank(t *testing.T) {
	ranks := policy.Default().Club.Ranks

	_, _, ok := Rank(dec("999"), ranks)
	assert.False(t, ok)

	r, ord, ok := Rank(dec("1000"), ranks)
	assert.True(t, ok)
	assert.Equal(t, "bronze", r.Name)
	assert.Equal(t, 1, ord)

	r, ord, _ = Rank(dec("30000"), ranks)
	assert.Equal(t, "gold", r.Name)
	assert.Equal(t, 3, ord)
}

func TestDistributeClub(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.chain(t, "leader", "left")
	_, err := f.reg.Register(ctx, "right", "leader")
	require.NoError(t, err)
	_, err = f.reg.Register(ctx, "whale", "left")
	require.NoError(t, err)
	f.activate(t, "leader", 2)

	for id, amount := range map[string]string{"left": "300", "whale": "5000", "right": "600"} {
		acct, _ := f.store.GetAccount(ctx, id)
		acct.CumulativeDeposits = dec(amount)
		require.NoError(t, f.store.SaveAccount(ctx, acct))
	}

	// left branch 5300, right 600: balanced 1200 -> bronze
	paid, err := f.dist.DistributeClub(ctx, "2026-03", dec("100"))
	require.NoError(t, err)
	require.Len(t, paid, 1)
	assert.Equal(t, "leader", paid[0].UserID)
	assert.Equal(t, "1200", paid[0].Volume.String())
	assert.Equal(t, "30", f.balance(t, "leader", models.WalletClub))

	paid, err = f.dist.DistributeClub(ctx, "2026-03", dec("100"))
	require.NoError(t, err)
	assert.Empty(t, paid)
	assert.Equal(t, "30", f.balance(t, "leader", models.WalletClub))
}

func TestFailedCreditLeavesNoCommission(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.chain(t, "a1", "src")
	f.activate(t, "a1", 10)

	ev := DepositEvent("src", "0xfail", dec("100"))
	f.faulty.Inject(storetest.Fault{Match: storetest.UserIs("a1"), Times: 1, Err: errors.New("redis: connection reset")})
	_, err := f.dist.Distribute(ctx, ev)
	require.Error(t, err)

	_, exists, err := f.store.GetCommission(ctx, models.CommissionKey(ev.ID, "a1", 1))
	require.NoError(t, err)
	assert.False(t, exists, "a commission without its credit would block the retry")
	assert.Equal(t, "0", f.balance(t, "a1", models.WalletDirectLevel))

	_, err = f.dist.Distribute(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, "10", f.balance(t, "a1", models.WalletDirectLevel))
}

func TestResumeFinishesFailedWalk(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.chain(t, "a3", "a2", "a1", "src")
	for _, id := range []string{"a1", "a2", "a3"} {
		f.activate(t, id, 10)
	}

	ev := DepositEvent("src", "0xpartial", dec("100"))
	f.faulty.Inject(storetest.Fault{Match: storetest.UserIs("a2"), Times: 1, Err: errors.New("redis: connection reset")})
	_, err := f.dist.Distribute(ctx, ev)
	require.Error(t, err)
	assert.Equal(t, "10", f.balance(t, "a1", models.WalletDirectLevel))
	assert.Equal(t, "0", f.balance(t, "a2", models.WalletDirectLevel))

	pending, err := f.store.PendingDistributions(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, ev.ID, pending[0].EventID)
	assert.Equal(t, 2, pending[0].NextLevel)
	assert.Equal(t, models.CommissionDeposit, pending[0].Kind)
	assert.Equal(t, "100", pending[0].Amount.String())

	n, err := f.dist.Resume(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "10", f.balance(t, "a1", models.WalletDirectLevel))
	assert.Equal(t, "5", f.balance(t, "a2", models.WalletDirectLevel))
	assert.NotEqual(t, "0", f.balance(t, "a3", models.WalletDirectLevel))

	n, err = f.dist.Resume(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, f.store.Commissions(), 3)
}

func TestResumeWaitsForMinAge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.chain(t, "a1", "src")
	f.activate(t, "a1", 10)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.dist.now = func() time.Time { return now }
	require.NoError(t, f.store.SaveProgress(ctx, DepositEvent("src", "0xqueued", dec("100")).Pending(now)))

	n, err := f.dist.Resume(ctx, time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n, "a fresh walk still belongs to its dispatcher")

	now = now.Add(2 * time.Minute)
	n, err = f.dist.Resume(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "10", f.balance(t, "a1", models.WalletDirectLevel))
}

func TestRegisterSchedulesSignupWalk(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.reg = referral.NewRegistrar(referral.NewTree(f.faulty), f.ledger, f.locker, policy.NewStatic(f.snap), nil,
		referral.WithSignupWalk(PendingSignup))
	f.chain(t, "a1", "src")

	p, err := f.store.GetProgress(ctx, SignupEvent("src").ID)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.False(t, p.Done)
	assert.Equal(t, models.CommissionSignupBonus, p.Kind)

	n, err := f.dist.Resume(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "1", f.balance(t, "a1", models.WalletPractice))
}
