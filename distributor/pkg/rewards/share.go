package rewards

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/malbeclabs/rewards/distributor/pkg/errs"
)

// FormatShare renders a reward-per-share value as a base-10 string.
func FormatShare(v uint256.Int) string {
	return v.Dec()
}

// ParseShare parses a base-10 reward-per-share value, rejecting values wider than 128 bits.
func ParseShare(s string) (uint256.Int, error) {
	if s == "" {
		return uint256.Int{}, nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return uint256.Int{}, fmt.Errorf("failed to parse reward per share %q: %w", s, err)
	}
	if v.BitLen() > shareBits {
		return uint256.Int{}, fmt.Errorf("reward per share %q: %w", s, errs.ErrMathOverflow)
	}
	return *v, nil
}
