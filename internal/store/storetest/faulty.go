// Package storetest provides store doubles for failure-path tests.
package storetest

import (
	"context"
	"sync"

	"stakeplay-backend/internal/store"
)

// Fault makes matching ApplyUnit calls fail without writing anything.
type Fault struct {
	// Match selects the units to fail. Nil matches every unit.
	Match func(u *store.Unit) bool
	// Times is how many matching units fail before the fault clears.
	Times int
	Err   error
	// Before runs in place of the write, e.g. to move other state under the
	// caller's feet.
	Before func(ctx context.Context, u *store.Unit)
}

// Faulty is a memory store whose unit writes can be made to fail.
type Faulty struct {
	*store.Memory

	mu     sync.Mutex
	faults []*Fault
	failed int
}

func NewFaulty(m *store.Memory) *Faulty {
	return &Faulty{Memory: m}
}

func (f *Faulty) Inject(fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = append(f.faults, &fault)
}

// Failed reports how many units were rejected so far.
func (f *Faulty) Failed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failed
}

func (f *Faulty) ApplyUnit(ctx context.Context, u *store.Unit) error {
	if fault := f.take(u); fault != nil {
		if fault.Before != nil {
			fault.Before(ctx, u)
		}
		return fault.Err
	}
	return f.Memory.ApplyUnit(ctx, u)
}

func (f *Faulty) take(u *store.Unit) *Fault {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, fault := range f.faults {
		if fault.Times <= 0 || (fault.Match != nil && !fault.Match(u)) {
			continue
		}
		fault.Times--
		f.failed++
		return fault
	}
	return nil
}

// UserIs matches units that save userID's account.
func UserIs(userID string) func(u *store.Unit) bool {
	return func(u *store.Unit) bool { return u.Account.UserID == userID }
}
