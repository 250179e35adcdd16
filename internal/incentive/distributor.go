// Package incentive pays referral and team commissions up the upline.
package incentive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"stakeplay-backend/internal/apperr"
	"stakeplay-backend/internal/ledger"
	"stakeplay-backend/internal/logger"
	"stakeplay-backend/internal/models"
	"stakeplay-backend/internal/policy"
	"stakeplay-backend/internal/referral"
	"stakeplay-backend/internal/store"
)

// Event is one commission trigger. ID must be stable across retries.
type Event struct {
	ID           string
	Kind         models.CommissionType
	SourceUserID string
	// Amount is the base the level rates apply to. Flat-amount tables ignore it.
	Amount decimal.Decimal
}

func SignupEvent(userID string) Event {
	return Event{ID: "signup:" + userID, Kind: models.CommissionSignupBonus, SourceUserID: userID}
}

func DepositEvent(userID, txHash string, amount decimal.Decimal) Event {
	return Event{ID: "deposit:" + txHash, Kind: models.CommissionDeposit, SourceUserID: userID, Amount: amount}
}

func WinEvent(userID, commitmentID string, netProfit decimal.Decimal) Event {
	return Event{ID: "win:" + commitmentID, Kind: models.CommissionWinner, SourceUserID: userID, Amount: netProfit}
}

func ROIEvent(userID, day string, pool decimal.Decimal) Event {
	return Event{ID: "roi:" + day + ":" + userID, Kind: models.CommissionROI, SourceUserID: userID, Amount: pool}
}

// PendingSignup is the walk a new referral edge schedules.
func PendingSignup(userID string, now time.Time) *models.DistributionProgress {
	return SignupEvent(userID).Pending(now)
}

// Pending is the checkpoint of a walk that has not started yet.
func (ev Event) Pending(now time.Time) *models.DistributionProgress {
	return ev.checkpoint(1, false, now, now)
}

func (ev Event) checkpoint(next int, done bool, created, now time.Time) *models.DistributionProgress {
	return &models.DistributionProgress{
		EventID:      ev.ID,
		Kind:         ev.Kind,
		SourceUserID: ev.SourceUserID,
		Amount:       ev.Amount,
		NextLevel:    next,
		Done:         done,
		CreatedAt:    created,
		UpdatedAt:    now,
	}
}

// EventOf rebuilds the trigger of a stored walk.
func EventOf(p *models.DistributionProgress) Event {
	return Event{ID: p.EventID, Kind: p.Kind, SourceUserID: p.SourceUserID, Amount: p.Amount}
}

type Store interface {
	store.IncentiveStore
	store.AccountStore
}

const resumeBatch = 200

type Distributor struct {
	store  Store
	tree   *referral.Tree
	ledger *ledger.Ledger
	policy policy.Provider
	now    func() time.Time
	log    *slog.Logger
}

type Option func(*Distributor)

func WithClock(now func() time.Time) Option {
	return func(d *Distributor) { d.now = now }
}

func NewDistributor(s Store, tree *referral.Tree, l *ledger.Ledger, p policy.Provider, opts ...Option) *Distributor {
	d := &Distributor{
		store:  s,
		tree:   tree,
		ledger: l,
		policy: p,
		now:    func() time.Time { return time.Now().UTC() },
		log:    logger.With("component", "incentive"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Summary describes one Distribute run.
type Summary struct {
	EventID  string
	Credited []*models.Commission
	Skipped  int
}

// Distribute walks the source user's upline and pays each eligible level.
// Every credit is its own atomic unit keyed by (event, beneficiary, level),
// so a rerun after a failure pays only what is still missing. The walk stays
// listed as pending until it finishes, and Resume picks it up from there.
func (d *Distributor) Distribute(ctx context.Context, ev Event) (*Summary, error) {
	snap := d.policy.Current()
	table, wallet, ok := snap.TableFor(ev.Kind)
	if !ok {
		return nil, apperr.New(apperr.CodeValidation, "no commission table for %s", ev.Kind)
	}

	sum := &Summary{EventID: ev.ID}

	progress, err := d.store.GetProgress(ctx, ev.ID)
	if err != nil {
		return nil, err
	}
	if progress != nil && progress.Done {
		return sum, nil
	}
	start, created := 1, d.now()
	if progress != nil {
		created = progress.CreatedAt
		if progress.NextLevel > 1 {
			start = progress.NextLevel
		}
	} else if err := d.store.SaveProgress(ctx, ev.Pending(created)); err != nil {
		return nil, fmt.Errorf("record pending walk: %w", err)
	}

	upline, err := d.tree.Upline(ctx, ev.SourceUserID, table.Depth())
	if err != nil {
		return nil, fmt.Errorf("walk upline: %w", err)
	}

	for level := start; level <= len(upline); level++ {
		row, ok := table.At(level)
		if !ok {
			break
		}

		c, err := d.payLevel(ctx, snap, ev, table, row, wallet, level, upline[level-1])
		if err != nil {
			return sum, fmt.Errorf("level %d: %w", level, err)
		}
		if c != nil {
			sum.Credited = append(sum.Credited, c)
		} else {
			sum.Skipped++
		}

		if err := d.store.SaveProgress(ctx, ev.checkpoint(level+1, false, created, d.now())); err != nil {
			return sum, fmt.Errorf("checkpoint level %d: %w", level, err)
		}
	}

	if err := d.store.SaveProgress(ctx, ev.checkpoint(len(upline)+1, true, created, d.now())); err != nil {
		return sum, err
	}

	d.log.Info("Distribution finished", "event", ev.ID, "credited", len(sum.Credited), "skipped", sum.Skipped)
	return sum, nil
}

// payLevel credits one beneficiary. It returns nil when the level was
// skipped by gating or already paid.
func (d *Distributor) payLevel(
	ctx context.Context,
	snap *policy.Snapshot,
	ev Event,
	table policy.Table,
	row policy.Level,
	wallet models.WalletType,
	level int,
	beneficiary string,
) (*models.Commission, error) {
	var paid *models.Commission
	key := models.CommissionKey(ev.ID, beneficiary, level)

	_, err := d.ledger.Update(ctx, beneficiary, func(tx *ledger.Tx) error {
		paid = nil
		if _, exists, err := d.store.GetCommission(ctx, key); err != nil {
			return err
		} else if exists {
			return nil
		}

		acct := tx.Account()
		if !Eligible(acct, table, row) {
			return nil
		}

		primary, siphon := LevelAmount(ev, row, snap.ROI.JackpotSiphon)
		if primary.IsZero() && siphon.IsZero() {
			return nil
		}

		c := &models.Commission{
			EventID:      ev.ID,
			Beneficiary:  beneficiary,
			SourceUserID: ev.SourceUserID,
			Level:        level,
			Type:         ev.Kind,
			Wallet:       wallet,
			Amount:       primary,
			JackpotShare: siphon,
			Status:       models.CommissionCredited,
			CreatedAt:    tx.Now(),
		}
		tx.SaveCommission(c)
		if err := tx.Credit(wallet, primary, models.TransactionTypeCommission, key); err != nil {
			return err
		}
		if err := tx.Credit(models.WalletJackpotBuffer, siphon, models.TransactionTypeCommission, key); err != nil {
			return err
		}
		paid = c
		return nil
	})
	return paid, err
}

// Resume reruns every walk that has sat unfinished for at least minAge and
// reports how many it completed.
func (d *Distributor) Resume(ctx context.Context, minAge time.Duration) (int, error) {
	pending, err := d.store.PendingDistributions(ctx, d.now().Add(-minAge), resumeBatch)
	if err != nil {
		return 0, err
	}

	var (
		done int
		errs []error
	)
	for _, p := range pending {
		if p.Kind == "" {
			errs = append(errs, fmt.Errorf("walk %s has no event kind", p.EventID))
			continue
		}
		if _, err := d.Distribute(ctx, EventOf(p)); err != nil {
			errs = append(errs, fmt.Errorf("resume %s: %w", p.EventID, err))
			continue
		}
		done++
	}

	if done > 0 {
		d.log.Info("Resumed unfinished distributions", "completed", done, "pending", len(pending))
	}
	return done, errors.Join(errs...)
}

// RunResumer calls Resume every interval until ctx is done.
func (d *Distributor) RunResumer(ctx context.Context, interval, minAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.Resume(ctx, minAge); err != nil {
				d.log.Error("Resume failed", "error", err)
			}
		}
	}
}

// Eligible applies a level's gates: enough active directs and, when the
// table asks for it, the earn-commissions capability.
func Eligible(acct *models.Account, table policy.Table, row policy.Level) bool {
	if acct.ActiveDirects < row.MinDirects {
		return false
	}
	if table.RequireActivation && !acct.Activation.Has(models.CapEarnCommissions) {
		return false
	}
	return true
}

// LevelAmount computes a level's payout. For ROI events the jackpot siphon
// is taken from the raw commission before either part is rounded.
func LevelAmount(ev Event, row policy.Level, siphonRatio decimal.Decimal) (primary, siphon decimal.Decimal) {
	raw := row.Amount
	if row.Rate.IsPositive() {
		raw = ev.Amount.Mul(row.Rate)
	}
	if !raw.IsPositive() {
		return decimal.Zero, decimal.Zero
	}

	if ev.Kind != models.CommissionROI {
		return models.RoundAmount(raw), decimal.Zero
	}

	rawSiphon := raw.Mul(siphonRatio)
	return models.RoundAmount(raw.Sub(rawSiphon)), models.RoundAmount(rawSiphon)
}

// DistributeROI runs the ROI-on-ROI table for every user that collected
// protection credits on day.
func (d *Distributor) DistributeROI(ctx context.Context, day string) ([]*Summary, error) {
	credits, err := d.store.ProtectionCredits(ctx, day)
	if err != nil {
		return nil, err
	}

	users := make([]string, 0, len(credits))
	for u := range credits {
		users = append(users, u)
	}
	sort.Strings(users)

	ratio := d.policy.Current().ROI.PoolRatio
	var (
		out  []*Summary
		errs []error
	)
	for _, u := range users {
		pool := models.RoundAmount(credits[u].Mul(ratio))
		if !pool.IsPositive() {
			continue
		}
		sum, err := d.Distribute(ctx, ROIEvent(u, day, pool))
		if err != nil {
			errs = append(errs, fmt.Errorf("roi for %s: %w", u, err))
			continue
		}
		out = append(out, sum)
	}
	return out, errors.Join(errs...)
}
