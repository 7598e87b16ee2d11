// Package engine runs distribution operations against a state.Store. Each operation is a
// single transaction: records are loaded, the accounting packages compute the new state on
// copies, and records plus reserve movements are written back only if every step succeeded.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/rewards/distributor/pkg/errs"
	"github.com/malbeclabs/rewards/distributor/pkg/ledger"
	"github.com/malbeclabs/rewards/distributor/pkg/metrics"
	"github.com/malbeclabs/rewards/distributor/pkg/revocation"
	"github.com/malbeclabs/rewards/distributor/pkg/state"
)

// BalanceReader reads a holder's balance of the tracked token for OnChain pools.
type BalanceReader interface {
	TokenBalance(ctx context.Context, owner, mint solana.PublicKey) (uint64, error)
}

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	Store  state.Store
	// Balances is required only for pools with an on-chain balance source.
	Balances BalanceReader
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

type Engine struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{log: cfg.Logger, cfg: cfg}, nil
}

// ClaimResult is the outcome of a claim.
type ClaimResult struct {
	Amount uint64 `json:"amount"`
	// Remaining is what is still owed to the claimant, vested or not. For pools it is the
	// accrued balance left after the claim.
	Remaining uint64 `json:"remaining"`
}

// RevokeParams identifies a user to revoke from a distribution or pool.
type RevokeParams struct {
	Authority solana.PublicKey
	Parent    solana.PublicKey
	User      solana.PublicKey
	Mode      revocation.Mode
}

// RevokeResult is the outcome of a revocation. For pools TotalFreed is the forfeited
// accrued balance.
type RevokeResult struct {
	VestedTransferred uint64 `json:"vested_transferred"`
	TotalFreed        uint64 `json:"total_freed"`
}

// Status is a claimant's position in a vesting distribution at a point in time.
type Status struct {
	Total     uint64 `json:"total"`
	Unlocked  uint64 `json:"unlocked"`
	Claimed   uint64 `json:"claimed"`
	Claimable uint64 `json:"claimable"`
	Revoked   bool   `json:"revoked"`
}

func newStatus(alloc ledger.Allocation, rec ledger.ClaimRecord, now int64) (Status, error) {
	unlocked := alloc.Unlocked(now)
	claimable, err := ledger.Claimable(rec.Claimed, unlocked)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Total:     alloc.TotalAmount,
		Unlocked:  unlocked,
		Claimed:   rec.Claimed,
		Claimable: claimable,
	}, nil
}

// update runs fn in a read-write transaction with the operation's timestamp and records
// the outcome.
func (e *Engine) update(ctx context.Context, op string, fn func(ctx context.Context, tx state.Tx, now int64) error) error {
	start := time.Now()
	now := e.cfg.Clock.Now().Unix()
	err := e.cfg.Store.Update(ctx, func(ctx context.Context, tx state.Tx) error {
		return fn(ctx, tx, now)
	})
	e.record(op, start, err)
	return err
}

func (e *Engine) view(ctx context.Context, op string, fn func(ctx context.Context, tx state.Tx, now int64) error) error {
	start := time.Now()
	now := e.cfg.Clock.Now().Unix()
	err := e.cfg.Store.View(ctx, func(ctx context.Context, tx state.Tx) error {
		return fn(ctx, tx, now)
	})
	e.record(op, start, err)
	return err
}

// fail records an operation that failed before reaching the store.
func (e *Engine) fail(op string, err error) error {
	e.record(op, time.Now(), err)
	return err
}

func (e *Engine) record(op string, start time.Time, err error) {
	metrics.RecordOperation(op, start, err)
	if err == nil {
		return
	}
	if errs.Is(err, errs.KindInvariant) {
		e.log.Error("engine: invariant violated", "operation", op, "error", err)
		return
	}
	e.log.Debug("engine: operation rejected", "operation", op, "error", err)
}

func checkAuthority(want, signer solana.PublicKey) error {
	if !want.Equals(signer) {
		return fmt.Errorf("signer %s is not authority %s: %w", signer, want, errs.ErrUnauthorized)
	}
	return nil
}

func ensureAbsent(ctx context.Context, tx state.Tx, key state.Key) error {
	ok, err := tx.Exists(ctx, key)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("%s: %w", key, errs.ErrAlreadyExists)
	}
	return nil
}

func isRevoked(ctx context.Context, tx state.Tx, parent, user solana.PublicKey) (bool, error) {
	return tx.Exists(ctx, state.RevocationKey(parent, user))
}

func markRevoked(ctx context.Context, tx state.Tx, parent, user solana.PublicKey, mode revocation.Mode, now int64) error {
	return tx.Put(ctx, &state.Revocation{Parent: parent, User: user, Mode: mode, RevokedAt: now})
}

// checkTotals verifies totals against what reserve holds after this transaction's
// movements.
func checkTotals(ctx context.Context, tx state.Tx, reserve solana.PublicKey, totals ledger.Totals) error {
	balance, err := tx.ReserveBalance(ctx, reserve)
	if err != nil {
		return err
	}
	return totals.Check(balance)
}

func checkClawback(clawbackTS, now int64) error {
	if clawbackTS != 0 && now < clawbackTS {
		return fmt.Errorf("clawback at %d, now %d: %w", clawbackTS, now, errs.ErrClawbackNotReached)
	}
	return nil
}

func validateRevocable(c revocation.Capabilities) error {
	_, err := revocation.CapabilitiesFromBits(c.Bits())
	return err
}
