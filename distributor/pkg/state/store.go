package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"github.com/malbeclabs/rewards/distributor/pkg/errs"
)

// Store runs read-write and read-only transactions. Update applies every change made by
// fn or none of them.
type Store interface {
	Update(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is a transactional view of records and reserves.
type Tx interface {
	// Get returns errs.ErrNotFound when no record exists under key.
	Get(ctx context.Context, key Key) (Record, error)
	Exists(ctx context.Context, key Key) (bool, error)
	// Put creates or overwrites the record under rec.Key().
	Put(ctx context.Context, rec Record) error
	// Delete returns errs.ErrNotFound when no record exists under key.
	Delete(ctx context.Context, key Key) error

	ReserveBalance(ctx context.Context, reserve solana.PublicKey) (uint64, error)
	// Deposit credits reserve with funds arriving from outside the engine.
	Deposit(ctx context.Context, reserve, from solana.PublicKey, amount uint64, memo string) error
	// MoveValue pays amount out of reserve, failing with errs.ErrInsufficientFunds.
	MoveValue(ctx context.Context, reserve, to solana.PublicKey, amount uint64, memo string) error
}

// TransferKind distinguishes inbound funding from payouts.
type TransferKind string

const (
	TransferDeposit TransferKind = "deposit"
	TransferPayout  TransferKind = "payout"
)

// Transfer is one journaled movement of value into or out of a reserve.
type Transfer struct {
	ID           uuid.UUID        `json:"id"`
	Reserve      solana.PublicKey `json:"reserve"`
	Counterparty solana.PublicKey `json:"counterparty"`
	Kind         TransferKind     `json:"kind"`
	Amount       uint64           `json:"amount"`
	Memo         string           `json:"memo"`
	CreatedAt    time.Time        `json:"created_at"`
}

// TransferLister exposes the transfer journal of a reserve, oldest first.
type TransferLister interface {
	ListTransfers(ctx context.Context, reserve solana.PublicKey) ([]Transfer, error)
}

// Get loads the record under key and asserts its type.
func Get[T Record](ctx context.Context, tx Tx, key Key) (T, error) {
	var zero T
	rec, err := tx.Get(ctx, key)
	if err != nil {
		return zero, err
	}
	v, ok := rec.(T)
	if !ok {
		return zero, fmt.Errorf("%s holds %T: %w", key, rec, errs.ErrWrongType)
	}
	return v, nil
}

// GetOptional is Get that reports absence as ok == false instead of an error.
func GetOptional[T Record](ctx context.Context, tx Tx, key Key) (T, bool, error) {
	v, err := Get[T](ctx, tx, key)
	if errors.Is(err, errs.ErrNotFound) {
		return v, false, nil
	}
	if err != nil {
		return v, false, err
	}
	return v, true, nil
}

// Sweep moves everything left in reserve to to and returns the amount moved.
func Sweep(ctx context.Context, tx Tx, reserve, to solana.PublicKey, memo string) (uint64, error) {
	balance, err := tx.ReserveBalance(ctx, reserve)
	if err != nil {
		return 0, err
	}
	if balance == 0 {
		return 0, nil
	}
	if err := tx.MoveValue(ctx, reserve, to, balance, memo); err != nil {
		return 0, err
	}
	return balance, nil
}
