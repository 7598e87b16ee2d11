package rewards

import (
	"fmt"

	"github.com/malbeclabs/rewards/distributor/pkg/errs"
)

// BalanceSource says where a pool learns each holder's tracked balance.
type BalanceSource uint8

const (
	// OnChain reads the holder's token account for the tracked mint.
	OnChain BalanceSource = 0
	// AuthoritySet takes balances from the pool authority.
	AuthoritySet BalanceSource = 1
)

// BalanceSourceFromByte decodes the wire encoding.
func BalanceSourceFromByte(b byte) (BalanceSource, error) {
	switch BalanceSource(b) {
	case OnChain, AuthoritySet:
		return BalanceSource(b), nil
	default:
		return 0, fmt.Errorf("balance source %d: %w", b, errs.ErrInvalidBalanceSource)
	}
}

// ParseBalanceSource parses "on_chain" or "authority_set".
func ParseBalanceSource(s string) (BalanceSource, error) {
	switch s {
	case "on_chain", "onchain":
		return OnChain, nil
	case "authority_set", "authority":
		return AuthoritySet, nil
	default:
		return 0, fmt.Errorf("balance source %q: %w", s, errs.ErrInvalidBalanceSource)
	}
}

func (s BalanceSource) String() string {
	switch s {
	case OnChain:
		return "on_chain"
	case AuthoritySet:
		return "authority_set"
	default:
		return "unknown"
	}
}
