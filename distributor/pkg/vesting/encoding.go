package vesting

import (
	"encoding/binary"
	"fmt"

	"github.com/malbeclabs/rewards/distributor/pkg/errs"
)

// EncodedLen returns the number of bytes Marshal produces for s.
func EncodedLen(s Schedule) int {
	switch s.(type) {
	case Immediate:
		return 1
	case Linear:
		return 1 + 16
	case Cliff:
		return 1 + 8
	case CliffLinear:
		return 1 + 24
	default:
		return 0
	}
}

// Marshal encodes s as a one-byte tag followed by its timestamps, little-endian,
// in declaration order. The encoding is part of the merkle leaf pre-image.
func Marshal(s Schedule) []byte {
	if s == nil {
		return nil
	}
	return s.appendBinary(make([]byte, 0, EncodedLen(s)))
}

func (s Immediate) appendBinary(b []byte) []byte {
	return append(b, byte(KindImmediate))
}

func (s Linear) appendBinary(b []byte) []byte {
	b = append(b, byte(KindLinear))
	b = binary.LittleEndian.AppendUint64(b, uint64(s.Start))
	return binary.LittleEndian.AppendUint64(b, uint64(s.End))
}

func (s Cliff) appendBinary(b []byte) []byte {
	b = append(b, byte(KindCliff))
	return binary.LittleEndian.AppendUint64(b, uint64(s.At))
}

func (s CliffLinear) appendBinary(b []byte) []byte {
	b = append(b, byte(KindCliffLinear))
	b = binary.LittleEndian.AppendUint64(b, uint64(s.Start))
	b = binary.LittleEndian.AppendUint64(b, uint64(s.Cliff))
	return binary.LittleEndian.AppendUint64(b, uint64(s.End))
}

// Decode reads one schedule from the front of b and returns it with the number of
// bytes consumed. The schedule is not validated.
func Decode(b []byte) (Schedule, int, error) {
	if len(b) == 0 {
		return nil, 0, fmt.Errorf("empty schedule: %w", errs.ErrInvalidAccountData)
	}
	var s Schedule
	switch Kind(b[0]) {
	case KindImmediate:
		s = Immediate{}
	case KindLinear:
		s = Linear{}
	case KindCliff:
		s = Cliff{}
	case KindCliffLinear:
		s = CliffLinear{}
	default:
		return nil, 0, fmt.Errorf("schedule tag %d: %w", b[0], errs.ErrInvalidScheduleType)
	}
	n := EncodedLen(s)
	if len(b) < n {
		return nil, 0, fmt.Errorf("%s schedule needs %d bytes, got %d: %w", s.Kind(), n, len(b), errs.ErrInvalidAccountData)
	}
	ts := func(i int) int64 {
		return int64(binary.LittleEndian.Uint64(b[1+8*i:]))
	}
	switch s.(type) {
	case Linear:
		s = Linear{Start: ts(0), End: ts(1)}
	case Cliff:
		s = Cliff{At: ts(0)}
	case CliffLinear:
		s = CliffLinear{Start: ts(0), Cliff: ts(1), End: ts(2)}
	}
	return s, n, nil
}

// Unmarshal decodes a schedule that must occupy all of b.
func Unmarshal(b []byte) (Schedule, error) {
	s, n, err := Decode(b)
	if err != nil {
		return nil, err
	}
	if n != len(b) {
		return nil, fmt.Errorf("%d trailing bytes after schedule: %w", len(b)-n, errs.ErrInvalidAccountData)
	}
	return s, nil
}
