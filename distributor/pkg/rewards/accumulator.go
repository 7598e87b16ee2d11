// Package rewards implements a reward-per-share accumulator for continuous reward pools.
//
// Every distribution raises the pool's reward-per-share by amount*Precision/supply.
// A holder's earnings since their last settlement are balance times the increase,
// divided back down by Precision. All functions take values and return updated copies;
// nothing is modified when an error is returned.
package rewards

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/malbeclabs/rewards/distributor/pkg/errs"
	"github.com/malbeclabs/rewards/distributor/pkg/ledger"
)

// Precision is the fixed-point scale of reward-per-share values.
const Precision uint64 = 1_000_000_000_000

// shareBits bounds reward-per-share values to 128 bits.
const shareBits = 128

var precision = uint256.NewInt(Precision)

// Pool is the accumulator state of one reward pool.
type Pool struct {
	RewardPerShare   uint256.Int
	OptedInSupply    uint64
	TotalDistributed uint64
	TotalClaimed     uint64
}

// Position is one holder's state within a pool.
type Position struct {
	RewardPerSharePaid uint256.Int
	AccruedRewards     uint64
	LastKnownBalance   uint64
}

// Join opens a position for a holder with balance, snapshotting the current
// reward-per-share so past distributions are not earned.
func Join(pool Pool, balance uint64) (Pool, Position, error) {
	supply, err := addU64(pool.OptedInSupply, balance, "opted-in supply")
	if err != nil {
		return pool, Position{}, err
	}
	pos := Position{RewardPerSharePaid: pool.RewardPerShare, LastKnownBalance: balance}
	pool.OptedInSupply = supply
	return pool, pos, nil
}

// Distribute spreads amount across the opted-in supply.
func Distribute(pool Pool, amount uint64) (Pool, error) {
	if amount == 0 {
		return pool, errs.ErrInvalidAmount
	}
	if pool.OptedInSupply == 0 {
		return pool, errs.ErrNoOptedInUsers
	}

	var delta uint256.Int
	delta.Mul(uint256.NewInt(amount), precision)
	delta.Div(&delta, uint256.NewInt(pool.OptedInSupply))
	if delta.IsZero() {
		return pool, fmt.Errorf("amount %d over supply %d: %w", amount, pool.OptedInSupply, errs.ErrDistributionAmountTooSmall)
	}

	var rps uint256.Int
	rps.Add(&pool.RewardPerShare, &delta)
	if rps.BitLen() > shareBits {
		return pool, errs.Overflow("reward per share")
	}
	distributed, err := addU64(pool.TotalDistributed, amount, "total distributed")
	if err != nil {
		return pool, err
	}

	pool.RewardPerShare = rps
	pool.TotalDistributed = distributed
	return pool, nil
}

// Settle credits the holder with everything earned since their last settlement at
// their last known balance.
func Settle(pool Pool, pos Position) (Position, error) {
	if pool.RewardPerShare.Lt(&pos.RewardPerSharePaid) {
		return pos, errs.Overflow("reward per share delta")
	}
	var delta uint256.Int
	delta.Sub(&pool.RewardPerShare, &pos.RewardPerSharePaid)

	if !delta.IsZero() {
		var earned uint256.Int
		earned.Mul(uint256.NewInt(pos.LastKnownBalance), &delta)
		earned.Div(&earned, precision)
		if !earned.IsUint64() {
			return pos, errs.Overflow("earned rewards")
		}
		accrued, err := addU64(pos.AccruedRewards, earned.Uint64(), "accrued rewards")
		if err != nil {
			return pos, err
		}
		pos.AccruedRewards = accrued
	}
	pos.RewardPerSharePaid = pool.RewardPerShare
	return pos, nil
}

// Pending returns the holder's accrued rewards as if settled now.
func Pending(pool Pool, pos Position) (uint64, error) {
	settled, err := Settle(pool, pos)
	if err != nil {
		return 0, err
	}
	return settled.AccruedRewards, nil
}

// SyncBalance moves the holder to newBalance and adjusts the opted-in supply by the
// difference. The position must have been settled first.
func SyncBalance(pool Pool, pos Position, newBalance uint64) (Pool, Position, error) {
	old := pos.LastKnownBalance
	supply := pool.OptedInSupply
	switch {
	case newBalance > old:
		v, err := addU64(supply, newBalance-old, "opted-in supply")
		if err != nil {
			return pool, pos, err
		}
		supply = v
	case newBalance < old:
		if old-newBalance > supply {
			return pool, pos, errs.Overflow("opted-in supply")
		}
		supply -= old - newBalance
	}
	pool.OptedInSupply = supply
	pos.LastKnownBalance = newBalance
	return pool, pos, nil
}

// Claim pays out the requested part of the holder's accrued rewards. The position must
// have been settled first.
func Claim(pool Pool, pos Position, req ledger.Request) (uint64, Pool, Position, error) {
	amount, err := ledger.Resolve(req, pos.AccruedRewards)
	if err != nil {
		return 0, pool, pos, err
	}
	claimed, err := addU64(pool.TotalClaimed, amount, "total claimed")
	if err != nil {
		return 0, pool, pos, err
	}
	pos.AccruedRewards -= amount
	pool.TotalClaimed = claimed
	return amount, pool, pos, nil
}

// PayOut pays everything the holder has accrued, which may be zero.
func PayOut(pool Pool, pos Position) (uint64, Pool, Position, error) {
	amount := pos.AccruedRewards
	claimed, err := addU64(pool.TotalClaimed, amount, "total claimed")
	if err != nil {
		return 0, pool, pos, err
	}
	pos.AccruedRewards = 0
	pool.TotalClaimed = claimed
	return amount, pool, pos, nil
}

// Leave removes the holder's balance from the opted-in supply.
func Leave(pool Pool, pos Position) (Pool, error) {
	if pos.LastKnownBalance > pool.OptedInSupply {
		return pool, errs.Overflow("opted-in supply")
	}
	pool.OptedInSupply -= pos.LastKnownBalance
	return pool, nil
}

func addU64(a, b uint64, what string) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, errs.Overflow(what)
	}
	return sum, nil
}
