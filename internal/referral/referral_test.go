package referral

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stakeplay-backend/internal/apperr"
	"stakeplay-backend/internal/events"
	"stakeplay-backend/internal/ledger"
	"stakeplay-backend/internal/lock"
	"stakeplay-backend/internal/models"
	"stakeplay-backend/internal/policy"
	"stakeplay-backend/internal/store"
)

type fixture struct {
	store   *store.Memory
	tree    *Tree
	reg     *Registrar
	mu      sync.Mutex
	signups []string
}

func newFixture(t *testing.T, maxDirects int) *fixture {
	t.Helper()
	snap := policy.Default()
	snap.Referral.MaxDirects = maxDirects

	f := &fixture{store: store.NewMemory()}
	l := ledger.New(f.store, lock.NewMemory(), events.Nop{})
	f.tree = NewTree(f.store)
	f.reg = NewRegistrar(f.tree, l, lock.NewMemory(), policy.NewStatic(snap), func(_ context.Context, userID string) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.signups = append(f.signups, userID)
	})

	_, err := l.Ensure(context.Background(), "root")
	require.NoError(t, err)
	return f
}

// chain registers u1 under root, u2 under u1 and so on.
func (f *fixture) chain(t *testing.T, n int) {
	t.Helper()
	parent := "root"
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("u%d", i)
		_, err := f.reg.Register(context.Background(), id, parent)
		require.NoError(t, err)
		parent = id
	}
}

func TestRegisterBuildsEdges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 50)
	f.chain(t, 3)

	up, err := f.tree.Upline(ctx, "u3", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"u2", "u1", "root"}, up)

	root, err := f.store.GetAccount(ctx, "root")
	require.NoError(t, err)
	assert.Equal(t, 1, root.DirectCount)
	assert.Equal(t, []string{"u1", "u2", "u3"}, f.signups)

	down, err := f.tree.Downline(ctx, "root", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2", "u3"}, down)

	down, _ = f.tree.Downline(ctx, "root", 1)
	assert.Equal(t, []string{"u1"}, down)
}

func TestUplineRespectsDepth(t *testing.T) {
	f := newFixture(t, 50)
	f.chain(t, 5)

	up, err := f.tree.Upline(context.Background(), "u5", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"u4", "u3"}, up)
}

func TestRegisterRejectsCycles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 50)
	f.chain(t, 2)

	_, err := f.reg.Register(ctx, "root", "u2")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.reg.Register(ctx, "u1", "u1")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.reg.Register(ctx, "u2", "root")
	assert.ErrorIs(t, err, apperr.ErrValidation, "referrer can only be set once")

	root, _ := f.store.GetAccount(ctx, "root")
	assert.Equal(t, 1, root.DirectCount, "failed registration must release the slot")
}

func TestRegisterCapsDirects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)

	_, err := f.reg.Register(ctx, "a", "root")
	require.NoError(t, err)
	_, err = f.reg.Register(ctx, "b", "root")
	require.NoError(t, err)
	_, err = f.reg.Register(ctx, "c", "root")
	assert.Equal(t, apperr.CodeReferralLimit, apperr.CodeOf(err))
}

func TestRegisterUnknownReferrer(t *testing.T) {
	f := newFixture(t, 50)
	_, err := f.reg.Register(context.Background(), "a", "ghost")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUplineStopsOnCorruptCycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 50)
	f.chain(t, 2)

	// corrupt the tree behind the registrar's back
	root, _ := f.store.GetAccount(ctx, "root")
	root.ReferredBy = "u2"
	require.NoError(t, f.store.SaveAccount(ctx, root))

	up, err := f.tree.Upline(ctx, "u2", 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "root"}, up)
}

func TestBranchVolumes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 50)

	for _, id := range []string{"a", "b"} {
		_, err := f.reg.Register(ctx, id, "root")
		require.NoError(t, err)
	}
	_, err := f.reg.Register(ctx, "a1", "a")
	require.NoError(t, err)

	for id, amount := range map[string]int64{"a": 100, "a1": 50, "b": 30} {
		acct, _ := f.store.GetAccount(ctx, id)
		acct.CumulativeDeposits = decimal.NewFromInt(amount)
		require.NoError(t, f.store.SaveAccount(ctx, acct))
	}

	vols, err := f.tree.BranchVolumes(ctx, "root")
	require.NoError(t, err)
	require.Len(t, vols, 2)
	assert.Equal(t, "150", vols[0].String())
	assert.Equal(t, "30", vols[1].String())
}

func TestOppositeRegistrationsNeverCycle(t *testing.T) {
	ctx := context.Background()

	for i := 0; i < 300; i++ {
		f := newFixture(t, 50)
		for _, id := range []string{"a", "b"} {
			acct, err := models.NewAccount(id, "")
			require.NoError(t, err)
			_, err = f.store.CreateAccount(ctx, acct)
			require.NoError(t, err)
		}

		var (
			wg    sync.WaitGroup
			start = make(chan struct{})
			errs  = make([]error, 2)
		)
		for j, pair := range [][2]string{{"a", "b"}, {"b", "a"}} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, errs[j] = f.reg.Register(ctx, pair[0], pair[1])
			}()
		}
		close(start)
		wg.Wait()

		ok := 0
		for _, err := range errs {
			if err == nil {
				ok++
			} else {
				assert.True(t, apperr.IsCode(err, apperr.CodeValidation), "run %d: %v", i, err)
			}
		}
		require.Equal(t, 1, ok, "run %d", i)

		a, _ := f.store.GetAccount(ctx, "a")
		b, _ := f.store.GetAccount(ctx, "b")
		require.False(t, a.ReferredBy == "b" && b.ReferredBy == "a", "run %d closed a cycle", i)
		assert.Equal(t, 1, a.DirectCount+b.DirectCount, "run %d", i)
	}
}
