package incentive

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"stakeplay-backend/internal/ledger"
	"stakeplay-backend/internal/models"
	"stakeplay-backend/internal/policy"
)

var two = decimal.NewFromInt(2)

// BalancedVolume is min(strongest branch, sum of all other branches) x 2.
// A single dominant branch contributes nothing beyond what the rest of the
// tree matches.
func BalancedVolume(branches []decimal.Decimal) decimal.Decimal {
	if len(branches) == 0 {
		return decimal.Zero
	}

	strongest := 0
	total := decimal.Zero
	for i, b := range branches {
		total = total.Add(b)
		if b.GreaterThan(branches[strongest]) {
			strongest = i
		}
	}
	others := total.Sub(branches[strongest])
	return decimal.Min(branches[strongest], others).Mul(two)
}

// Rank returns the highest rank whose target the volume meets and its
// 1-based ordinal. ok is false below the first target.
func Rank(volume decimal.Decimal, ranks []policy.ClubRank) (rank policy.ClubRank, ordinal int, ok bool) {
	for i, r := range ranks {
		if volume.GreaterThanOrEqual(r.Target) {
			rank, ordinal, ok = r, i+1, true
		}
	}
	return rank, ordinal, ok
}

// ClubMember is one qualifying user in a club period.
type ClubMember struct {
	UserID  string
	Volume  decimal.Decimal
	Rank    string
	Ordinal int
	Amount  decimal.Decimal
}

// Qualify ranks every user by balanced volume.
func (d *Distributor) Qualify(ctx context.Context) ([]ClubMember, error) {
	ranks := d.policy.Current().Club.Ranks
	users, err := d.store.ListUserIDs(ctx)
	if err != nil {
		return nil, err
	}

	members := []ClubMember{}
	for _, u := range users {
		branches, err := d.tree.BranchVolumes(ctx, u)
		if err != nil {
			return nil, fmt.Errorf("branch volumes for %s: %w", u, err)
		}
		vol := BalancedVolume(branches)
		r, ordinal, ok := Rank(vol, ranks)
		if !ok {
			continue
		}
		members = append(members, ClubMember{UserID: u, Volume: vol, Rank: r.Name, Ordinal: ordinal})
	}
	return members, nil
}

// DistributeClub splits pool across ranks by their share and equally among
// the members of each rank, crediting the club wallet. Reruns for the same
// period pay nothing twice.
func (d *Distributor) DistributeClub(ctx context.Context, period string, pool decimal.Decimal) ([]ClubMember, error) {
	if !pool.IsPositive() {
		return nil, fmt.Errorf("club pool must be positive")
	}
	ranks := d.policy.Current().Club.Ranks

	members, err := d.Qualify(ctx)
	if err != nil {
		return nil, err
	}

	perRank := map[int]int{}
	for _, m := range members {
		perRank[m.Ordinal]++
	}

	eventID := "club:" + period
	paid := []ClubMember{}
	for _, m := range members {
		share := ranks[m.Ordinal-1].Share
		amount := models.RoundAmount(pool.Mul(share).Div(decimal.NewFromInt(int64(perRank[m.Ordinal]))))
		if !amount.IsPositive() {
			continue
		}

		key := models.CommissionKey(eventID, m.UserID, m.Ordinal)
		credited := false
		_, err := d.ledger.Update(ctx, m.UserID, func(tx *ledger.Tx) error {
			credited = false
			if _, exists, err := d.store.GetCommission(ctx, key); err != nil || exists {
				return err
			}
			if !tx.Account().Activation.Has(models.CapEarnCommissions) {
				return nil
			}
			tx.SaveCommission(&models.Commission{
				EventID:      eventID,
				Beneficiary:  m.UserID,
				SourceUserID: m.UserID,
				Level:        m.Ordinal,
				Type:         models.CommissionClub,
				Wallet:       models.WalletClub,
				Amount:       amount,
				JackpotShare: decimal.Zero,
				Status:       models.CommissionCredited,
				CreatedAt:    tx.Now(),
			})
			credited = true
			return tx.Credit(models.WalletClub, amount, models.TransactionTypeCommission, key)
		})
		if err != nil {
			return paid, fmt.Errorf("club share for %s: %w", m.UserID, err)
		}
		if credited {
			m.Amount = amount
			paid = append(paid, m)
		}
	}

	d.log.Info("Club distribution finished", "period", period, "qualified", len(members), "paid", len(paid))
	return paid, nil
}
