package vesting

import (
	"fmt"

	"github.com/malbeclabs/rewards/distributor/pkg/errs"
)

// Descriptor is the JSON form of a schedule used by allocation files and the HTTP API.
type Descriptor struct {
	Type  string `json:"type"`
	Start int64  `json:"start,omitempty"`
	Cliff int64  `json:"cliff,omitempty"`
	End   int64  `json:"end,omitempty"`
}

// Describe converts s to its JSON form.
func Describe(s Schedule) Descriptor {
	switch v := s.(type) {
	case Linear:
		return Descriptor{Type: KindLinear.String(), Start: v.Start, End: v.End}
	case Cliff:
		return Descriptor{Type: KindCliff.String(), Cliff: v.At}
	case CliffLinear:
		return Descriptor{Type: KindCliffLinear.String(), Start: v.Start, Cliff: v.Cliff, End: v.End}
	default:
		return Descriptor{Type: KindImmediate.String()}
	}
}

// Schedule builds and validates the schedule described by d. An empty type means immediate.
func (d Descriptor) Schedule() (Schedule, error) {
	var s Schedule
	switch d.Type {
	case "", KindImmediate.String():
		s = Immediate{}
	case KindLinear.String():
		s = Linear{Start: d.Start, End: d.End}
	case KindCliff.String():
		s = Cliff{At: d.Cliff}
	case KindCliffLinear.String():
		s = CliffLinear{Start: d.Start, Cliff: d.Cliff, End: d.End}
	default:
		return nil, fmt.Errorf("schedule type %q: %w", d.Type, errs.ErrInvalidScheduleType)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}
