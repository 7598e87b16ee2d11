package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/malbeclabs/rewards/distributor/pkg/errs"
	"github.com/malbeclabs/rewards/distributor/pkg/ledger"
	"github.com/malbeclabs/rewards/distributor/pkg/metrics"
	"github.com/malbeclabs/rewards/distributor/pkg/revocation"
	"github.com/malbeclabs/rewards/distributor/pkg/rewards"
	"github.com/malbeclabs/rewards/distributor/pkg/state"
)

var errNoBalanceReader = errors.New("pool tracks on-chain balances but no balance reader is configured")

type CreatePoolParams struct {
	Address       solana.PublicKey
	Authority     solana.PublicKey
	TrackedMint   solana.PublicKey
	RewardMint    solana.PublicKey
	Decimals      uint8
	BalanceSource rewards.BalanceSource
	Revocable     revocation.Capabilities
	ClawbackTS    int64
}

func (e *Engine) CreatePool(ctx context.Context, p CreatePoolParams) (*state.RewardPool, error) {
	if _, err := rewards.BalanceSourceFromByte(byte(p.BalanceSource)); err != nil {
		return nil, err
	}
	if err := validateRevocable(p.Revocable); err != nil {
		return nil, err
	}
	var pool *state.RewardPool
	err := e.update(ctx, "create_pool", func(ctx context.Context, tx state.Tx, now int64) error {
		if err := ensureAbsent(ctx, tx, state.RewardPoolKey(p.Address)); err != nil {
			return err
		}
		pool = &state.RewardPool{
			Address:       p.Address,
			Authority:     p.Authority,
			TrackedMint:   p.TrackedMint,
			RewardMint:    p.RewardMint,
			Decimals:      p.Decimals,
			BalanceSource: p.BalanceSource,
			Revocable:     p.Revocable,
			ClawbackTS:    p.ClawbackTS,
			CreatedAt:     now,
		}
		return tx.Put(ctx, pool)
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("engine: reward pool created",
		"pool", p.Address, "tracked_mint", p.TrackedMint, "balance_source", p.BalanceSource, "clawback_ts", p.ClawbackTS)
	return pool, nil
}

// observedBalance reads the user's tracked-token balance when pool is an OnChain pool.
// The read happens outside the store transaction; ok is false for AuthoritySet pools.
func (e *Engine) observedBalance(ctx context.Context, poolAddr, user solana.PublicKey) (balance uint64, ok bool, err error) {
	var pool *state.RewardPool
	err = e.cfg.Store.View(ctx, func(ctx context.Context, tx state.Tx) error {
		var gerr error
		pool, gerr = state.Get[*state.RewardPool](ctx, tx, state.RewardPoolKey(poolAddr))
		return gerr
	})
	if err != nil {
		return 0, false, err
	}
	if pool.BalanceSource != rewards.OnChain {
		return 0, false, nil
	}
	if e.cfg.Balances == nil {
		return 0, false, errNoBalanceReader
	}
	balance, err = e.cfg.Balances.TokenBalance(ctx, user, pool.TrackedMint)
	if err != nil {
		return 0, false, fmt.Errorf("failed to read balance of %s: %w", user, err)
	}
	return balance, true, nil
}

// settle brings a position up to date with the pool and, for OnChain pools, moves it to
// the observed balance.
func settle(pool *state.RewardPool, pos *state.Position, balance uint64, observed bool) (rewards.Pool, rewards.Position, error) {
	holder, err := rewards.Settle(pool.Accumulator, pos.Holder)
	if err != nil {
		return pool.Accumulator, pos.Holder, err
	}
	if pool.BalanceSource != rewards.OnChain {
		return pool.Accumulator, holder, nil
	}
	if !observed {
		return pool.Accumulator, pos.Holder, errNoBalanceReader
	}
	return rewards.SyncBalance(pool.Accumulator, holder, balance)
}

func loadPosition(ctx context.Context, tx state.Tx, poolAddr, user solana.PublicKey) (*state.RewardPool, *state.Position, error) {
	pool, err := state.Get[*state.RewardPool](ctx, tx, state.RewardPoolKey(poolAddr))
	if err != nil {
		return nil, nil, err
	}
	pos, err := state.Get[*state.Position](ctx, tx, state.PositionKey(poolAddr, user))
	if err != nil {
		return nil, nil, err
	}
	return pool, pos, nil
}

// OptIn opens a position for user. It starts earning from the next distribution.
func (e *Engine) OptIn(ctx context.Context, poolAddr, user solana.PublicKey) (*state.Position, error) {
	balance, observed, err := e.observedBalance(ctx, poolAddr, user)
	if err != nil {
		return nil, e.fail("opt_in", err)
	}

	var pos *state.Position
	err = e.update(ctx, "opt_in", func(ctx context.Context, tx state.Tx, now int64) error {
		pool, err := state.Get[*state.RewardPool](ctx, tx, state.RewardPoolKey(poolAddr))
		if err != nil {
			return err
		}
		revoked, err := isRevoked(ctx, tx, poolAddr, user)
		if err != nil {
			return err
		}
		if revoked {
			return fmt.Errorf("user %s: %w", user, errs.ErrUserRevoked)
		}
		if err := ensureAbsent(ctx, tx, state.PositionKey(poolAddr, user)); err != nil {
			return err
		}

		var initial uint64
		if pool.BalanceSource == rewards.OnChain {
			if !observed {
				return errNoBalanceReader
			}
			initial = balance
		}
		acc, holder, err := rewards.Join(pool.Accumulator, initial)
		if err != nil {
			return err
		}
		pool.Accumulator = acc
		pos = &state.Position{Pool: poolAddr, User: user, Holder: holder, OptedInAt: now}
		if err := tx.Put(ctx, pool); err != nil {
			return err
		}
		return tx.Put(ctx, pos)
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("engine: opted in", "pool", poolAddr, "user", user, "balance", pos.Holder.LastKnownBalance)
	return pos, nil
}

// OptOut pays the user everything accrued and closes the position.
func (e *Engine) OptOut(ctx context.Context, poolAddr, user solana.PublicKey) (uint64, error) {
	balance, observed, err := e.observedBalance(ctx, poolAddr, user)
	if err != nil {
		return 0, e.fail("opt_out", err)
	}

	var paid uint64
	err = e.update(ctx, "opt_out", func(ctx context.Context, tx state.Tx, now int64) error {
		pool, pos, err := loadPosition(ctx, tx, poolAddr, user)
		if err != nil {
			return err
		}
		acc, holder, err := settle(pool, pos, balance, observed)
		if err != nil {
			return err
		}
		if paid, acc, holder, err = rewards.PayOut(acc, holder); err != nil {
			return err
		}
		if paid > 0 {
			if err := tx.MoveValue(ctx, pool.Address, user, paid, "opt out"); err != nil {
				return err
			}
		}
		if acc, err = rewards.Leave(acc, holder); err != nil {
			return err
		}
		pool.Accumulator = acc
		if err := tx.Put(ctx, pool); err != nil {
			return err
		}
		return tx.Delete(ctx, pos.Key())
	})
	if err != nil {
		return 0, err
	}
	metrics.ClaimedAmountTotal.WithLabelValues("pool").Add(float64(paid))
	e.log.Info("engine: opted out", "pool", poolAddr, "user", user, "paid", paid)
	return paid, nil
}

// SyncBalance moves an OnChain pool position to the user's current token balance.
func (e *Engine) SyncBalance(ctx context.Context, poolAddr, user solana.PublicKey) (*state.Position, error) {
	balance, observed, err := e.observedBalance(ctx, poolAddr, user)
	if err == nil && !observed {
		err = fmt.Errorf("pool %s: %w", poolAddr, errs.ErrBalanceSourceMismatch)
	}
	if err != nil {
		return nil, e.fail("sync_balance", err)
	}

	var pos *state.Position
	err = e.update(ctx, "sync_balance", func(ctx context.Context, tx state.Tx, now int64) error {
		pool, p, err := loadPosition(ctx, tx, poolAddr, user)
		if err != nil {
			return err
		}
		if pool.BalanceSource != rewards.OnChain {
			return fmt.Errorf("pool %s: %w", poolAddr, errs.ErrBalanceSourceMismatch)
		}
		acc, holder, err := settle(pool, p, balance, observed)
		if err != nil {
			return err
		}
		pool.Accumulator, p.Holder, pos = acc, holder, p
		if err := tx.Put(ctx, pool); err != nil {
			return err
		}
		return tx.Put(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	e.log.Debug("engine: balance synced", "pool", poolAddr, "user", user, "balance", balance)
	return pos, nil
}

// SetBalance sets the tracked balance of a position in an AuthoritySet pool.
func (e *Engine) SetBalance(ctx context.Context, authority, poolAddr, user solana.PublicKey, balance uint64) (*state.Position, error) {
	var pos *state.Position
	err := e.update(ctx, "set_balance", func(ctx context.Context, tx state.Tx, now int64) error {
		pool, p, err := loadPosition(ctx, tx, poolAddr, user)
		if err != nil {
			return err
		}
		if err := checkAuthority(pool.Authority, authority); err != nil {
			return err
		}
		if pool.BalanceSource != rewards.AuthoritySet {
			return fmt.Errorf("pool %s: %w", poolAddr, errs.ErrBalanceSourceMismatch)
		}
		holder, err := rewards.Settle(pool.Accumulator, p.Holder)
		if err != nil {
			return err
		}
		acc, holder, err := rewards.SyncBalance(pool.Accumulator, holder, balance)
		if err != nil {
			return err
		}
		pool.Accumulator, p.Holder, pos = acc, holder, p
		if err := tx.Put(ctx, pool); err != nil {
			return err
		}
		return tx.Put(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("engine: balance set", "pool", poolAddr, "user", user, "balance", balance)
	return pos, nil
}

// DistributeReward deposits amount from the authority and spreads it across the opted-in
// supply.
func (e *Engine) DistributeReward(ctx context.Context, authority, poolAddr solana.PublicKey, amount uint64) (*state.RewardPool, error) {
	var pool *state.RewardPool
	err := e.update(ctx, "distribute_reward", func(ctx context.Context, tx state.Tx, now int64) error {
		p, err := state.Get[*state.RewardPool](ctx, tx, state.RewardPoolKey(poolAddr))
		if err != nil {
			return err
		}
		if err := checkAuthority(p.Authority, authority); err != nil {
			return err
		}
		acc, err := rewards.Distribute(p.Accumulator, amount)
		if err != nil {
			return err
		}
		if err := tx.Deposit(ctx, p.Address, authority, amount, "distribute"); err != nil {
			return err
		}
		p.Accumulator, pool = acc, p
		return tx.Put(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	metrics.DistributedAmountTotal.Add(float64(amount))
	e.log.Info("engine: reward distributed",
		"pool", poolAddr, "amount", amount, "opted_in_supply", pool.Accumulator.OptedInSupply,
		"reward_per_share", rewards.FormatShare(pool.Accumulator.RewardPerShare))
	return pool, nil
}

// ClaimContinuous pays the requested part of the user's accrued rewards.
func (e *Engine) ClaimContinuous(ctx context.Context, poolAddr, user solana.PublicKey, req ledger.Request) (ClaimResult, error) {
	balance, observed, err := e.observedBalance(ctx, poolAddr, user)
	if err != nil {
		return ClaimResult{}, e.fail("claim_continuous", err)
	}

	var res ClaimResult
	err = e.update(ctx, "claim_continuous", func(ctx context.Context, tx state.Tx, now int64) error {
		pool, pos, err := loadPosition(ctx, tx, poolAddr, user)
		if err != nil {
			return err
		}
		acc, holder, err := settle(pool, pos, balance, observed)
		if err != nil {
			return err
		}
		amount, acc, holder, err := rewards.Claim(acc, holder, req)
		if err != nil {
			return err
		}
		if err := tx.MoveValue(ctx, pool.Address, user, amount, "claim"); err != nil {
			return err
		}
		pool.Accumulator, pos.Holder = acc, holder
		if err := tx.Put(ctx, pool); err != nil {
			return err
		}
		res = ClaimResult{Amount: amount, Remaining: holder.AccruedRewards}
		return tx.Put(ctx, pos)
	})
	if err != nil {
		return ClaimResult{}, err
	}
	metrics.ClaimedAmountTotal.WithLabelValues("pool").Add(float64(res.Amount))
	e.log.Info("engine: pool claim", "pool", poolAddr, "user", user, "request", req, "amount", res.Amount)
	return res, nil
}

// RevokeUser removes a user from a pool. NonVested pays out what they accrued; Full
// forfeits it to the reserve.
func (e *Engine) RevokeUser(ctx context.Context, p RevokeParams) (RevokeResult, error) {
	balance, observed, err := e.observedBalance(ctx, p.Parent, p.User)
	if err != nil {
		return RevokeResult{}, e.fail("revoke_user", err)
	}

	var res RevokeResult
	err = e.update(ctx, "revoke_user", func(ctx context.Context, tx state.Tx, now int64) error {
		pool, err := state.Get[*state.RewardPool](ctx, tx, state.RewardPoolKey(p.Parent))
		if err != nil {
			return err
		}
		if err := checkAuthority(pool.Authority, p.Authority); err != nil {
			return err
		}
		if err := revocation.Authorize(p.Mode, pool.Revocable); err != nil {
			return err
		}
		revoked, err := isRevoked(ctx, tx, p.Parent, p.User)
		if err != nil {
			return err
		}
		if revoked {
			return fmt.Errorf("user %s: %w", p.User, errs.ErrUserAlreadyRevoked)
		}
		pos, err := state.Get[*state.Position](ctx, tx, state.PositionKey(p.Parent, p.User))
		if err != nil {
			return err
		}

		acc, holder, err := settle(pool, pos, balance, observed)
		if err != nil {
			return err
		}
		switch p.Mode {
		case revocation.ModeNonVested:
			var paid uint64
			if paid, acc, holder, err = rewards.PayOut(acc, holder); err != nil {
				return err
			}
			if paid > 0 {
				if err := tx.MoveValue(ctx, pool.Address, p.User, paid, "revoke accrued"); err != nil {
					return err
				}
			}
			res = RevokeResult{VestedTransferred: paid}
		case revocation.ModeFull:
			res = RevokeResult{TotalFreed: holder.AccruedRewards}
		}
		if acc, err = rewards.Leave(acc, holder); err != nil {
			return err
		}

		pool.Accumulator = acc
		if err := tx.Put(ctx, pool); err != nil {
			return err
		}
		if err := tx.Delete(ctx, pos.Key()); err != nil {
			return err
		}
		return markRevoked(ctx, tx, p.Parent, p.User, p.Mode, now)
	})
	if err != nil {
		return RevokeResult{}, err
	}
	metrics.ClaimedAmountTotal.WithLabelValues("pool").Add(float64(res.VestedTransferred))
	metrics.RevokedAmountTotal.WithLabelValues("pool", p.Mode.String()).Add(float64(res.TotalFreed))
	e.log.Info("engine: pool user revoked",
		"pool", p.Parent, "user", p.User, "mode", p.Mode,
		"rewards_transferred", res.VestedTransferred, "rewards_forfeited", res.TotalFreed)
	return res, nil
}

// ClosePool returns the reward reserve to the authority once the clawback time has passed
// and deletes the pool.
func (e *Engine) ClosePool(ctx context.Context, authority, poolAddr solana.PublicKey) (uint64, error) {
	var swept uint64
	err := e.update(ctx, "close_pool", func(ctx context.Context, tx state.Tx, now int64) error {
		pool, err := state.Get[*state.RewardPool](ctx, tx, state.RewardPoolKey(poolAddr))
		if err != nil {
			return err
		}
		if err := checkAuthority(pool.Authority, authority); err != nil {
			return err
		}
		if err := checkClawback(pool.ClawbackTS, now); err != nil {
			return err
		}
		if swept, err = state.Sweep(ctx, tx, pool.Address, authority, "clawback"); err != nil {
			return err
		}
		return tx.Delete(ctx, pool.Key())
	})
	if err != nil {
		return 0, err
	}
	e.log.Info("engine: reward pool closed", "pool", poolAddr, "swept", swept)
	return swept, nil
}

// PositionStatus is a user's standing in a pool.
type PositionStatus struct {
	Balance uint64 `json:"balance"`
	Pending uint64 `json:"pending"`
	Revoked bool   `json:"revoked"`
}

// PendingRewards reports what the user could claim now at their last known balance.
func (e *Engine) PendingRewards(ctx context.Context, poolAddr, user solana.PublicKey) (PositionStatus, error) {
	var st PositionStatus
	err := e.view(ctx, "pending_rewards", func(ctx context.Context, tx state.Tx, now int64) error {
		revoked, err := isRevoked(ctx, tx, poolAddr, user)
		if err != nil {
			return err
		}
		if revoked {
			st = PositionStatus{Revoked: true}
			return nil
		}
		pool, pos, err := loadPosition(ctx, tx, poolAddr, user)
		if err != nil {
			return err
		}
		pending, err := rewards.Pending(pool.Accumulator, pos.Holder)
		if err != nil {
			return err
		}
		st = PositionStatus{Balance: pos.Holder.LastKnownBalance, Pending: pending}
		return nil
	})
	return st, err
}
