// Package ledger tracks how much of an allocation has been claimed and resolves claim
// requests against what is currently claimable.
package ledger

import (
	"fmt"

	"github.com/malbeclabs/rewards/distributor/pkg/errs"
	"github.com/malbeclabs/rewards/distributor/pkg/vesting"
)

// Allocation is an immutable entitlement of TotalAmount released along Schedule.
type Allocation struct {
	TotalAmount uint64
	Schedule    vesting.Schedule
}

// Validate checks the schedule and rejects zero allocations.
func (a Allocation) Validate() error {
	if a.TotalAmount == 0 {
		return errs.ErrInvalidAmount
	}
	if a.Schedule == nil {
		return errs.ErrInvalidScheduleType
	}
	return a.Schedule.Validate()
}

// Unlocked returns the vested portion of the allocation at now.
func (a Allocation) Unlocked(now int64) uint64 {
	return vesting.Unlocked(a.TotalAmount, a.Schedule, now)
}

// Request is a claim request: either everything claimable or an exact amount.
type Request struct {
	amount uint64
	exact  bool
}

// All requests the full claimable amount.
func All() Request { return Request{} }

// Exact requests exactly n. Exact(0) is never resolvable.
func Exact(n uint64) Request { return Request{amount: n, exact: true} }

// FromWire maps the wire encoding, where zero means everything claimable.
func FromWire(n uint64) Request {
	if n == 0 {
		return All()
	}
	return Exact(n)
}

// IsAll reports whether r requests everything claimable.
func (r Request) IsAll() bool { return !r.exact }

// Amount is the requested amount of an exact request, or zero.
func (r Request) Amount() uint64 { return r.amount }

// Wire returns the wire encoding of r.
func (r Request) Wire() uint64 {
	if r.IsAll() {
		return 0
	}
	return r.amount
}

func (r Request) String() string {
	if r.IsAll() {
		return "all"
	}
	return fmt.Sprintf("%d", r.amount)
}

// Claimable returns unlocked minus claimed. Claimed above unlocked means the record is
// inconsistent with the schedule.
func Claimable(claimed, unlocked uint64) (uint64, error) {
	if claimed > unlocked {
		return 0, errs.Overflow("claimable")
	}
	return unlocked - claimed, nil
}

// Resolve decides the amount to pay for req given what is claimable.
func Resolve(req Request, claimable uint64) (uint64, error) {
	if claimable == 0 {
		return 0, errs.ErrNothingToClaim
	}
	if req.IsAll() {
		return claimable, nil
	}
	if req.amount == 0 {
		return 0, errs.ErrInvalidAmount
	}
	if req.amount > claimable {
		return 0, fmt.Errorf("requested %d, claimable %d: %w", req.amount, claimable, errs.ErrExceedsClaimableAmount)
	}
	return req.amount, nil
}

// AddClaimed adds amount to a claimed total.
func AddClaimed(current, amount uint64) (uint64, error) {
	sum := current + amount
	if sum < current {
		return 0, errs.Overflow("add claimed")
	}
	return sum, nil
}

// ClaimRecord is the per-recipient claimed total. It never decreases.
type ClaimRecord struct {
	Claimed uint64 `json:"claimed"`
}

// SetClaimed replaces the claimed total, rejecting decreases.
func (r ClaimRecord) SetClaimed(v uint64) (ClaimRecord, error) {
	if v < r.Claimed {
		return r, errs.ErrClaimedAmountDecreased
	}
	return ClaimRecord{Claimed: v}, nil
}

// Add records a further claim of amount.
func (r ClaimRecord) Add(amount uint64) (ClaimRecord, error) {
	v, err := AddClaimed(r.Claimed, amount)
	if err != nil {
		return r, err
	}
	return r.SetClaimed(v)
}

// Claim resolves req against alloc at now and returns the payout and the updated record.
// rec is returned unchanged on error.
func Claim(alloc Allocation, rec ClaimRecord, now int64, req Request) (uint64, ClaimRecord, error) {
	claimable, err := Claimable(rec.Claimed, alloc.Unlocked(now))
	if err != nil {
		return 0, rec, err
	}
	amount, err := Resolve(req, claimable)
	if err != nil {
		return 0, rec, err
	}
	next, err := rec.Add(amount)
	if err != nil {
		return 0, rec, err
	}
	return amount, next, nil
}
