package policy

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Load reads a YAML policy file layered over Default.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Snapshot, error) {
	snap := Default()
	if err := yaml.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	if err := snap.Validate(); err != nil {
		return nil, fmt.Errorf("validate policy %q: %w", snap.Version, err)
	}
	return snap, nil
}

func (s *Snapshot) Validate() error {
	if s.Bets.CommitmentTTL <= 0 {
		return fmt.Errorf("bets.commitment_ttl must be positive")
	}
	if !s.Bets.MaxStake.GreaterThan(s.Bets.MinStake) {
		return fmt.Errorf("bets.max_stake must exceed bets.min_stake")
	}
	if !s.Activation.Tier2.GreaterThan(s.Activation.Tier1) || !s.Activation.Tier1.IsPositive() {
		return fmt.Errorf("activation thresholds must be positive and increasing")
	}
	if len(s.Spin.Slots) < 2 {
		return fmt.Errorf("spin table needs at least two slots")
	}
	for i, slot := range s.Spin.Slots {
		if slot.Weight <= 0 {
			return fmt.Errorf("spin slot %d has no weight", i)
		}
	}
	if s.Jackpot.TotalTickets <= 0 || !s.Jackpot.TicketPrice.IsPositive() {
		return fmt.Errorf("jackpot needs a positive capacity and ticket price")
	}
	shares := decimal.Zero
	for _, share := range s.Jackpot.PrizeShares {
		shares = shares.Add(share)
	}
	if shares.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("jackpot prize shares exceed 100%%")
	}
	for i := 1; i < len(s.Club.Ranks); i++ {
		if !s.Club.Ranks[i].Target.GreaterThan(s.Club.Ranks[i-1].Target) {
			return fmt.Errorf("club ranks must have increasing targets")
		}
	}
	if s.Commissions.Signup.Depth() > 100 {
		return fmt.Errorf("signup table deeper than 100 levels")
	}
	return nil
}

// Provider hands out the current snapshot.
type Provider interface {
	Current() *Snapshot
}

// Static is a Provider whose snapshot is replaced wholesale. Readers never
// observe a partially updated policy.
type Static struct {
	p atomic.Pointer[Snapshot]
}

func NewStatic(s *Snapshot) *Static {
	st := &Static{}
	st.p.Store(s)
	return st
}

func (s *Static) Current() *Snapshot {
	return s.p.Load()
}

func (s *Static) Swap(next *Snapshot) {
	s.p.Store(next)
}
