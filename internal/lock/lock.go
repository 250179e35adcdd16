// Package lock provides the per-key mutual exclusion behind every atomic
// per-user unit.
package lock

import "context"

// Unlock releases a held lock. It is safe to call more than once.
type Unlock func()

type Locker interface {
	// Lock blocks until key is held or ctx is done. Distributed lockers may
	// instead fail fast with apperr.ErrConcurrencyConflict.
	Lock(ctx context.Context, key string) (Unlock, error)
}

// ReferralEdgesKey guards every write to the referral tree.
const ReferralEdgesKey = "referral:edges"

func UserKey(userID string) string {
	return "user:" + userID
}

func RoundKey(roundID string) string {
	return "round:" + roundID
}
