package ledger

import (
	"fmt"

	"github.com/malbeclabs/rewards/distributor/pkg/errs"
)

// Totals are the aggregate allocated and claimed amounts of one distribution.
//
// Claimed never exceeds Allocated, and Allocated never exceeds what the reserve holds
// plus what has already been paid out.
type Totals struct {
	Allocated uint64 `json:"allocated"`
	Claimed   uint64 `json:"claimed"`
}

// AddAllocated commits amount more of the reserve to recipients.
func (t Totals) AddAllocated(amount uint64) (Totals, error) {
	v := t.Allocated + amount
	if v < t.Allocated {
		return t, errs.Overflow("add allocated")
	}
	t.Allocated = v
	return t, nil
}

// AddClaimed records amount paid out.
func (t Totals) AddClaimed(amount uint64) (Totals, error) {
	v, err := AddClaimed(t.Claimed, amount)
	if err != nil {
		return t, err
	}
	if v > t.Allocated {
		return t, fmt.Errorf("claimed %d exceeds allocated %d: %w", v, t.Allocated, errs.ErrTotalsInvariantViolated)
	}
	t.Claimed = v
	return t, nil
}

// Release returns amount of the allocation to the reserve's unallocated portion.
func (t Totals) Release(amount uint64) (Totals, error) {
	if amount > t.Allocated {
		return t, errs.Overflow("release allocated")
	}
	v := t.Allocated - amount
	if v < t.Claimed {
		return t, fmt.Errorf("allocated %d below claimed %d: %w", v, t.Claimed, errs.ErrTotalsInvariantViolated)
	}
	t.Allocated = v
	return t, nil
}

// Outstanding is the allocated amount not yet paid out.
func (t Totals) Outstanding() uint64 {
	if t.Claimed > t.Allocated {
		return 0
	}
	return t.Allocated - t.Claimed
}

// Check verifies both totals invariants against the current reserve balance.
func (t Totals) Check(reserveBalance uint64) error {
	if t.Claimed > t.Allocated {
		return fmt.Errorf("claimed %d exceeds allocated %d: %w", t.Claimed, t.Allocated, errs.ErrTotalsInvariantViolated)
	}
	if t.Outstanding() > reserveBalance {
		return fmt.Errorf("outstanding %d exceeds reserve %d: %w", t.Outstanding(), reserveBalance, errs.ErrTotalsInvariantViolated)
	}
	return nil
}

// Unallocated is the part of the reserve not owed to anyone.
func (t Totals) Unallocated(reserveBalance uint64) uint64 {
	if t.Outstanding() >= reserveBalance {
		return 0
	}
	return reserveBalance - t.Outstanding()
}
