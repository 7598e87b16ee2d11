// Package vesting implements unlock curves for token allocations.
//
// A Schedule is one of Immediate, Linear, Cliff or CliffLinear. Timestamps are Unix
// seconds. Unlocked never reads a clock: the caller always supplies now.
package vesting

import (
	"github.com/holiman/uint256"

	"github.com/malbeclabs/rewards/distributor/pkg/errs"
)

// Kind is the schedule variant tag. Values are part of the byte encoding.
type Kind uint8

const (
	KindImmediate   Kind = 0
	KindLinear      Kind = 1
	KindCliff       Kind = 2
	KindCliffLinear Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindImmediate:
		return "immediate"
	case KindLinear:
		return "linear"
	case KindCliff:
		return "cliff"
	case KindCliffLinear:
		return "cliff_linear"
	default:
		return "unknown"
	}
}

// Schedule is a vesting curve. The set of implementations is closed.
type Schedule interface {
	Kind() Kind
	// Validate rejects schedules whose timestamps are inconsistent.
	Validate() error
	unlocked(total uint64, now int64) uint64
	appendBinary(b []byte) []byte
}

// Immediate unlocks the full allocation at once.
type Immediate struct{}

// Linear unlocks proportionally between Start and End.
type Linear struct {
	Start int64
	End   int64
}

// Cliff unlocks the full allocation at At.
type Cliff struct {
	At int64
}

// CliffLinear unlocks nothing before Cliff, then follows the Linear curve measured from Start.
type CliffLinear struct {
	Start int64
	Cliff int64
	End   int64
}

func (Immediate) Kind() Kind   { return KindImmediate }
func (Linear) Kind() Kind      { return KindLinear }
func (Cliff) Kind() Kind       { return KindCliff }
func (CliffLinear) Kind() Kind { return KindCliffLinear }

func (Immediate) Validate() error { return nil }

func (s Linear) Validate() error {
	if s.Start >= s.End {
		return errs.ErrInvalidTimeWindow
	}
	return nil
}

func (s Cliff) Validate() error {
	if s.At == 0 {
		return errs.ErrZeroCliff
	}
	if s.At < 0 {
		return errs.ErrInvalidCliffTimestamp
	}
	return nil
}

func (s CliffLinear) Validate() error {
	if s.Start >= s.End {
		return errs.ErrInvalidTimeWindow
	}
	if s.Cliff < s.Start || s.Cliff > s.End {
		return errs.ErrInvalidCliffTimestamp
	}
	return nil
}

// Unlocked returns the portion of total that has vested at now. The result is
// non-decreasing in now and always within [0, total].
func Unlocked(total uint64, s Schedule, now int64) uint64 {
	if s == nil {
		return 0
	}
	return s.unlocked(total, now)
}

func (Immediate) unlocked(total uint64, _ int64) uint64 {
	return total
}

func (s Linear) unlocked(total uint64, now int64) uint64 {
	return linear(total, s.Start, s.End, now)
}

func (s Cliff) unlocked(total uint64, now int64) uint64 {
	if now < s.At {
		return 0
	}
	return total
}

func (s CliffLinear) unlocked(total uint64, now int64) uint64 {
	if now < s.Cliff {
		return 0
	}
	return linear(total, s.Start, s.End, now)
}

func linear(total uint64, start, end, now int64) uint64 {
	if now <= start {
		return 0
	}
	if now >= end {
		return total
	}
	// start < now < end, so both differences fit in uint64 even across the sign boundary.
	elapsed := uint64(now) - uint64(start)
	duration := uint64(end) - uint64(start)

	var v uint256.Int
	v.Mul(uint256.NewInt(total), uint256.NewInt(elapsed))
	v.Div(&v, uint256.NewInt(duration))
	return v.Uint64()
}

// Equal reports whether two schedules are the same variant with the same timestamps.
func Equal(a, b Schedule) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a == b
}
