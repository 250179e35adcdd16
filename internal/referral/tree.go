// Package referral maintains the upline forest and walks it.
package referral

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"stakeplay-backend/internal/apperr"
	"stakeplay-backend/internal/logger"
	"stakeplay-backend/internal/store"
)

// MaxDepth bounds every upline walk.
const MaxDepth = 100

type Tree struct {
	store store.AccountStore
}

func NewTree(s store.AccountStore) *Tree {
	return &Tree{store: s}
}

// Upline returns the ancestors of userID ordered by level, nearest first.
// The walk stops at the root, at maxDepth, or at the first revisited node.
func (t *Tree) Upline(ctx context.Context, userID string, maxDepth int) ([]string, error) {
	if maxDepth <= 0 || maxDepth > MaxDepth {
		maxDepth = MaxDepth
	}

	acct, err := t.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}

	visited := map[string]bool{userID: true}
	frontier := []string{acct.ReferredBy}
	upline := make([]string, 0, maxDepth)

	for len(frontier) > 0 && len(upline) < maxDepth {
		next := frontier[0]
		frontier = frontier[1:]

		if next == "" {
			break
		}
		if visited[next] {
			logger.Warn("Referral cycle detected", "user", userID, "node", next)
			break
		}
		visited[next] = true
		upline = append(upline, next)

		parent, err := t.store.GetAccount(ctx, next)
		if errors.Is(err, apperr.ErrNotFound) {
			break
		}
		if err != nil {
			return upline, err
		}
		frontier = append(frontier, parent.ReferredBy)
	}
	return upline, nil
}

// Downline lists every descendant of userID breadth first. maxDepth <= 0
// walks the whole subtree.
func (t *Tree) Downline(ctx context.Context, userID string, maxDepth int) ([]string, error) {
	type node struct {
		id    string
		depth int
	}

	visited := map[string]bool{userID: true}
	frontier := []node{{id: userID}}
	out := []string{}

	for len(frontier) > 0 {
		n := frontier[0]
		frontier = frontier[1:]
		if maxDepth > 0 && n.depth >= maxDepth {
			continue
		}

		children, err := t.store.Children(ctx, n.id)
		if err != nil {
			return out, err
		}
		for _, c := range children {
			if visited[c] {
				continue
			}
			visited[c] = true
			out = append(out, c)
			frontier = append(frontier, node{id: c, depth: n.depth + 1})
		}
	}
	return out, nil
}

// Contains reports whether target is userID or one of its ancestors.
func (t *Tree) Contains(ctx context.Context, userID, target string) (bool, error) {
	if userID == target {
		return true, nil
	}
	upline, err := t.Upline(ctx, userID, MaxDepth)
	if err != nil {
		return false, err
	}
	for _, id := range upline {
		if id == target {
			return true, nil
		}
	}
	return false, nil
}

// SubtreeVolume sums cumulative deposits of root and all its descendants.
func (t *Tree) SubtreeVolume(ctx context.Context, rootID string) (decimal.Decimal, error) {
	ids, err := t.Downline(ctx, rootID, 0)
	if err != nil {
		return decimal.Zero, err
	}
	ids = append(ids, rootID)

	total := decimal.Zero
	for _, id := range ids {
		acct, err := t.store.GetAccount(ctx, id)
		if errors.Is(err, apperr.ErrNotFound) {
			continue
		}
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(acct.CumulativeDeposits)
	}
	return total, nil
}

// BranchVolumes returns the subtree volume under each direct child.
func (t *Tree) BranchVolumes(ctx context.Context, userID string) ([]decimal.Decimal, error) {
	children, err := t.store.Children(ctx, userID)
	if err != nil {
		return nil, err
	}
	volumes := make([]decimal.Decimal, 0, len(children))
	for _, c := range children {
		v, err := t.SubtreeVolume(ctx, c)
		if err != nil {
			return nil, err
		}
		volumes = append(volumes, v)
	}
	return volumes, nil
}
