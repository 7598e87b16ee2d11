// Package errs defines the error taxonomy shared by the distribution packages.
//
// Every failure is a *Error carrying a stable numeric code and a Kind. Errors are
// sentinels: compare with errors.Is, classify wrapped errors with KindOf.
package errs

import (
	"errors"
	"fmt"
)

// Kind groups errors by how a caller should react to them.
type Kind uint8

const (
	// KindUnknown is returned by KindOf for errors outside this package.
	KindUnknown Kind = iota
	// KindConfig is a malformed schedule, amount or flag supplied at setup time.
	KindConfig
	// KindClaim is an operation that is well-formed but not permitted right now.
	KindClaim
	// KindProof is a merkle membership failure.
	KindProof
	// KindInvariant means accounting state is inconsistent. Never expected in practice.
	KindInvariant
	// KindStorage is a record lookup or decoding failure.
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindClaim:
		return "claim"
	case KindProof:
		return "proof"
	case KindInvariant:
		return "invariant"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Error is a classified distribution error.
type Error struct {
	Code uint32
	Kind Kind
	Name string
	msg  string
}

func (e *Error) Error() string {
	return e.msg
}

func newError(code uint32, kind Kind, name, msg string) *Error {
	return &Error{Code: code, Kind: kind, Name: name, msg: msg}
}

var (
	ErrClaimWindowNotActive       = newError(0, KindClaim, "ClaimWindowNotActive", "claim window is not active")
	ErrAlreadyClaimed             = newError(1, KindClaim, "AlreadyClaimed", "allocation already claimed")
	ErrInvalidAmount              = newError(2, KindConfig, "InvalidAmount", "invalid amount")
	ErrInvalidTimeWindow          = newError(3, KindConfig, "InvalidTimeWindow", "start timestamp must be before end timestamp")
	ErrInvalidScheduleType        = newError(4, KindConfig, "InvalidScheduleType", "invalid vesting schedule type")
	ErrUnauthorized               = newError(5, KindClaim, "UnauthorizedAuthority", "signer is not the distribution authority")
	ErrUnauthorizedRecipient      = newError(6, KindClaim, "UnauthorizedRecipient", "signer is not the recipient")
	ErrInsufficientFunds          = newError(7, KindInvariant, "InsufficientFunds", "reserve balance is insufficient")
	ErrNothingToClaim             = newError(8, KindClaim, "NothingToClaim", "nothing to claim")
	ErrMathOverflow               = newError(9, KindInvariant, "MathOverflow", "arithmetic overflow")
	ErrInvalidAccountData         = newError(10, KindStorage, "InvalidAccountData", "invalid record data")
	ErrExceedsClaimableAmount     = newError(11, KindClaim, "ExceedsClaimableAmount", "requested amount exceeds claimable amount")
	ErrClaimedAmountDecreased     = newError(12, KindInvariant, "ClaimedAmountDecreased", "claimed amount cannot decrease")
	ErrInvalidMerkleProof         = newError(13, KindProof, "InvalidMerkleProof", "invalid merkle proof")
	ErrInvalidCliffTimestamp      = newError(14, KindConfig, "InvalidCliffTimestamp", "cliff timestamp is outside the vesting window")
	ErrZeroCliff                  = newError(15, KindConfig, "ZeroCliff", "cliff timestamp must be non-zero")
	ErrDistributionNotRevocable   = newError(16, KindClaim, "DistributionNotRevocable", "revocation mode is not permitted for this distribution")
	ErrInvalidRevokeMode          = newError(17, KindConfig, "InvalidRevokeMode", "invalid revoke mode")
	ErrClaimantAlreadyRevoked     = newError(18, KindClaim, "ClaimantAlreadyRevoked", "claimant has been revoked")
	ErrUserAlreadyRevoked         = newError(19, KindClaim, "UserAlreadyRevoked", "user has already been revoked")
	ErrUserRevoked                = newError(20, KindClaim, "UserRevoked", "user has been revoked from this pool")
	ErrNoOptedInUsers             = newError(21, KindClaim, "NoOptedInUsers", "no users are opted in")
	ErrDistributionAmountTooSmall = newError(22, KindClaim, "DistributionAmountTooSmall", "distribution amount too small for opted-in supply")
	ErrBalanceSourceMismatch      = newError(23, KindClaim, "BalanceSourceMismatch", "operation does not match the pool balance source")
	ErrInvalidBalanceSource       = newError(24, KindConfig, "InvalidBalanceSource", "invalid balance source")
	ErrClaimNotFullyVested        = newError(25, KindClaim, "ClaimNotFullyVested", "allocation is not fully claimed")
	ErrClawbackNotReached         = newError(26, KindClaim, "ClawbackNotReached", "clawback timestamp not reached")
	ErrDistributionStillOpen      = newError(27, KindClaim, "DistributionStillOpen", "distribution is still open")
	ErrAlreadyExists              = newError(28, KindClaim, "AlreadyExists", "record already exists")
	ErrTotalsInvariantViolated    = newError(29, KindInvariant, "TotalsInvariantViolated", "distribution totals invariant violated")
	ErrNotFound                   = newError(30, KindStorage, "NotFound", "record not found")
	ErrWrongType                  = newError(31, KindStorage, "WrongType", "record has unexpected type")
	ErrUnsupportedVersion         = newError(32, KindStorage, "UnsupportedVersion", "record version is not supported")
	ErrInvalidRevocableMask       = newError(33, KindConfig, "InvalidRevocableMask", "revocable mask has unknown bits set")
)

// All lists every sentinel, ordered by code.
var All = []*Error{
	ErrClaimWindowNotActive,
	ErrAlreadyClaimed,
	ErrInvalidAmount,
	ErrInvalidTimeWindow,
	ErrInvalidScheduleType,
	ErrUnauthorized,
	ErrUnauthorizedRecipient,
	ErrInsufficientFunds,
	ErrNothingToClaim,
	ErrMathOverflow,
	ErrInvalidAccountData,
	ErrExceedsClaimableAmount,
	ErrClaimedAmountDecreased,
	ErrInvalidMerkleProof,
	ErrInvalidCliffTimestamp,
	ErrZeroCliff,
	ErrDistributionNotRevocable,
	ErrInvalidRevokeMode,
	ErrClaimantAlreadyRevoked,
	ErrUserAlreadyRevoked,
	ErrUserRevoked,
	ErrNoOptedInUsers,
	ErrDistributionAmountTooSmall,
	ErrBalanceSourceMismatch,
	ErrInvalidBalanceSource,
	ErrClaimNotFullyVested,
	ErrClawbackNotReached,
	ErrDistributionStillOpen,
	ErrAlreadyExists,
	ErrTotalsInvariantViolated,
	ErrNotFound,
	ErrWrongType,
	ErrUnsupportedVersion,
	ErrInvalidRevocableMask,
}

// FromCode returns the sentinel with the given code.
func FromCode(code uint32) (*Error, bool) {
	if int(code) >= len(All) || All[code].Code != code {
		return nil, false
	}
	return All[code], true
}

// As returns the classified error wrapped in err, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf classifies err. Errors not produced by this package are KindUnknown.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err is of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Overflow wraps ErrMathOverflow with the operation that overflowed.
func Overflow(op string) error {
	return fmt.Errorf("%s: %w", op, ErrMathOverflow)
}
