// Package revocation decides whether an allocation may be revoked and how its value
// splits between the recipient and the distribution reserve.
package revocation

import (
	"fmt"
	"strings"

	"github.com/malbeclabs/rewards/distributor/pkg/errs"
	"github.com/malbeclabs/rewards/distributor/pkg/ledger"
)

// Mode selects what the recipient keeps when revoked.
type Mode uint8

const (
	// ModeNonVested pays out the vested remainder and frees only unvested value.
	ModeNonVested Mode = 0
	// ModeFull frees everything not yet claimed, vested or not.
	ModeFull Mode = 1
)

// ModeFromByte decodes the wire encoding of a mode.
func ModeFromByte(b byte) (Mode, error) {
	switch Mode(b) {
	case ModeNonVested, ModeFull:
		return Mode(b), nil
	default:
		return 0, fmt.Errorf("revoke mode %d: %w", b, errs.ErrInvalidRevokeMode)
	}
}

// ParseMode parses "non_vested" or "full".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "non_vested", "nonvested":
		return ModeNonVested, nil
	case "full":
		return ModeFull, nil
	default:
		return 0, fmt.Errorf("revoke mode %q: %w", s, errs.ErrInvalidRevokeMode)
	}
}

func (m Mode) String() string {
	switch m {
	case ModeNonVested:
		return "non_vested"
	case ModeFull:
		return "full"
	default:
		return "unknown"
	}
}

// Capability returns the permission required to revoke with m.
func (m Mode) Capability() Capabilities {
	switch m {
	case ModeNonVested:
		return NonVested
	case ModeFull:
		return Full
	default:
		return None
	}
}

// Capabilities is the set of revocation modes a distribution permits.
type Capabilities uint8

const (
	None      Capabilities = 0
	NonVested Capabilities = 1 << 0
	Full      Capabilities = 1 << 1

	knownBits = NonVested | Full
)

// CapabilitiesFromBits decodes the two-bit wire mask.
func CapabilitiesFromBits(b uint8) (Capabilities, error) {
	c := Capabilities(b)
	if c&^knownBits != 0 {
		return None, fmt.Errorf("revocable mask %#x: %w", b, errs.ErrInvalidRevocableMask)
	}
	return c, nil
}

// ParseCapabilities parses a comma-separated list of modes, or "none".
func ParseCapabilities(s string) (Capabilities, error) {
	c := None
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" || part == "none" {
			continue
		}
		m, err := ParseMode(part)
		if err != nil {
			return None, err
		}
		c = c.Union(m.Capability())
	}
	return c, nil
}

// Bits returns the wire mask.
func (c Capabilities) Bits() uint8 { return uint8(c) }

// Has reports whether every capability in o is present in c.
func (c Capabilities) Has(o Capabilities) bool { return c&o == o }

func (c Capabilities) Union(o Capabilities) Capabilities     { return c | o }
func (c Capabilities) Intersect(o Capabilities) Capabilities { return c & o }

func (c Capabilities) String() string {
	if c == None {
		return "none"
	}
	var parts []string
	if c.Has(NonVested) {
		parts = append(parts, ModeNonVested.String())
	}
	if c.Has(Full) {
		parts = append(parts, ModeFull.String())
	}
	return strings.Join(parts, "|")
}

// Authorize fails with ErrDistributionNotRevocable unless caps permits mode.
func Authorize(mode Mode, caps Capabilities) error {
	need := mode.Capability()
	if need == None {
		return fmt.Errorf("revoke mode %d: %w", mode, errs.ErrInvalidRevokeMode)
	}
	if !caps.Has(need) {
		return fmt.Errorf("%s revocation with mask %s: %w", mode, caps, errs.ErrDistributionNotRevocable)
	}
	return nil
}

// Split is the outcome of revoking an allocation.
type Split struct {
	// VestedTransferred is paid to the recipient as part of the revocation.
	VestedTransferred uint64
	// TotalFreed returns to the distribution.
	TotalFreed uint64
	// Record is the recipient's claim record after the revocation.
	Record ledger.ClaimRecord
}

// Revoke computes how alloc splits at now given what has already been claimed.
func Revoke(alloc ledger.Allocation, rec ledger.ClaimRecord, now int64, mode Mode) (Split, error) {
	vested := alloc.Unlocked(now)
	vestedUnclaimed, err := ledger.Claimable(rec.Claimed, vested)
	if err != nil {
		return Split{}, err
	}
	if vested > alloc.TotalAmount {
		return Split{}, errs.Overflow("unvested")
	}
	unvested := alloc.TotalAmount - vested

	switch mode {
	case ModeNonVested:
		next, err := rec.Add(vestedUnclaimed)
		if err != nil {
			return Split{}, err
		}
		return Split{VestedTransferred: vestedUnclaimed, TotalFreed: unvested, Record: next}, nil
	case ModeFull:
		freed := vestedUnclaimed + unvested
		if freed < unvested {
			return Split{}, errs.Overflow("total freed")
		}
		return Split{TotalFreed: freed, Record: rec}, nil
	default:
		return Split{}, fmt.Errorf("revoke mode %d: %w", mode, errs.ErrInvalidRevokeMode)
	}
}
