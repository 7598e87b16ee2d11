package engine

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/malbeclabs/rewards/distributor/pkg/errs"
	"github.com/malbeclabs/rewards/distributor/pkg/ledger"
	"github.com/malbeclabs/rewards/distributor/pkg/metrics"
	"github.com/malbeclabs/rewards/distributor/pkg/revocation"
	"github.com/malbeclabs/rewards/distributor/pkg/state"
	"github.com/malbeclabs/rewards/distributor/pkg/vesting"
)

type CreateDirectParams struct {
	Address   solana.PublicKey
	Authority solana.PublicKey
	Mint      solana.PublicKey
	Decimals  uint8
	Revocable revocation.Capabilities
}

// CreateDirectDistribution creates an empty direct distribution. Its reserve is funded as
// recipients are added.
func (e *Engine) CreateDirectDistribution(ctx context.Context, p CreateDirectParams) (*state.DirectDistribution, error) {
	if err := validateRevocable(p.Revocable); err != nil {
		return nil, err
	}
	var dist *state.DirectDistribution
	err := e.update(ctx, "create_direct_distribution", func(ctx context.Context, tx state.Tx, now int64) error {
		if err := ensureAbsent(ctx, tx, state.DirectDistributionKey(p.Address)); err != nil {
			return err
		}
		dist = &state.DirectDistribution{
			Address:   p.Address,
			Authority: p.Authority,
			Mint:      p.Mint,
			Decimals:  p.Decimals,
			Revocable: p.Revocable,
			CreatedAt: now,
		}
		return tx.Put(ctx, dist)
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("engine: direct distribution created", "distribution", p.Address, "authority", p.Authority, "revocable", p.Revocable)
	return dist, nil
}

type AddRecipientParams struct {
	Authority    solana.PublicKey
	Distribution solana.PublicKey
	Recipient    solana.PublicKey
	// Payer funds the allocation. Defaults to Authority.
	Payer    solana.PublicKey
	Amount   uint64
	Schedule vesting.Schedule
}

// AddDirectRecipient allocates Amount to a new recipient and deposits it into the
// distribution reserve.
func (e *Engine) AddDirectRecipient(ctx context.Context, p AddRecipientParams) (*state.DirectRecipient, error) {
	alloc := ledger.Allocation{TotalAmount: p.Amount, Schedule: p.Schedule}
	if err := alloc.Validate(); err != nil {
		return nil, err
	}
	payer := p.Payer
	if payer.IsZero() {
		payer = p.Authority
	}

	var rec *state.DirectRecipient
	err := e.update(ctx, "add_direct_recipient", func(ctx context.Context, tx state.Tx, now int64) error {
		dist, err := state.Get[*state.DirectDistribution](ctx, tx, state.DirectDistributionKey(p.Distribution))
		if err != nil {
			return err
		}
		if err := checkAuthority(dist.Authority, p.Authority); err != nil {
			return err
		}
		revoked, err := isRevoked(ctx, tx, p.Distribution, p.Recipient)
		if err != nil {
			return err
		}
		if revoked {
			return fmt.Errorf("recipient %s: %w", p.Recipient, errs.ErrClaimantAlreadyRevoked)
		}
		if err := ensureAbsent(ctx, tx, state.DirectRecipientKey(p.Distribution, p.Recipient)); err != nil {
			return err
		}

		totals, err := dist.Totals.AddAllocated(p.Amount)
		if err != nil {
			return err
		}
		if err := tx.Deposit(ctx, dist.Address, payer, p.Amount, "allocation "+p.Recipient.String()); err != nil {
			return err
		}
		if err := checkTotals(ctx, tx, dist.Address, totals); err != nil {
			return err
		}

		dist.Totals = totals
		rec = &state.DirectRecipient{
			Distribution: p.Distribution,
			Recipient:    p.Recipient,
			Payer:        payer,
			Allocation:   alloc,
		}
		if err := tx.Put(ctx, dist); err != nil {
			return err
		}
		return tx.Put(ctx, rec)
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("engine: direct recipient added",
		"distribution", p.Distribution, "recipient", p.Recipient, "amount", p.Amount, "schedule", p.Schedule.Kind())
	return rec, nil
}

// ClaimDirect pays the recipient the requested part of what has vested and not been
// claimed.
func (e *Engine) ClaimDirect(ctx context.Context, distribution, recipient solana.PublicKey, req ledger.Request) (ClaimResult, error) {
	var res ClaimResult
	err := e.update(ctx, "claim_direct", func(ctx context.Context, tx state.Tx, now int64) error {
		dist, err := state.Get[*state.DirectDistribution](ctx, tx, state.DirectDistributionKey(distribution))
		if err != nil {
			return err
		}
		revoked, err := isRevoked(ctx, tx, distribution, recipient)
		if err != nil {
			return err
		}
		if revoked {
			return fmt.Errorf("recipient %s: %w", recipient, errs.ErrClaimantAlreadyRevoked)
		}
		rec, err := state.Get[*state.DirectRecipient](ctx, tx, state.DirectRecipientKey(distribution, recipient))
		if err != nil {
			return err
		}

		amount, claim, err := ledger.Claim(rec.Allocation, rec.Claim, now, req)
		if err != nil {
			return err
		}
		totals, err := dist.Totals.AddClaimed(amount)
		if err != nil {
			return err
		}
		if err := tx.MoveValue(ctx, dist.Address, recipient, amount, "claim"); err != nil {
			return err
		}
		if err := checkTotals(ctx, tx, dist.Address, totals); err != nil {
			return err
		}

		dist.Totals = totals
		rec.Claim = claim
		if err := tx.Put(ctx, dist); err != nil {
			return err
		}
		res = ClaimResult{Amount: amount, Remaining: rec.Allocation.TotalAmount - claim.Claimed}
		return tx.Put(ctx, rec)
	})
	if err != nil {
		return ClaimResult{}, err
	}
	metrics.ClaimedAmountTotal.WithLabelValues("direct").Add(float64(res.Amount))
	e.log.Info("engine: direct claim",
		"distribution", distribution, "recipient", recipient, "request", req, "amount", res.Amount)
	return res, nil
}

// RevokeDirectRecipient removes a recipient. The freed amount stays in the reserve as
// unallocated value and is returned to the authority when the distribution closes.
func (e *Engine) RevokeDirectRecipient(ctx context.Context, p RevokeParams) (RevokeResult, error) {
	var res RevokeResult
	err := e.update(ctx, "revoke_direct_recipient", func(ctx context.Context, tx state.Tx, now int64) error {
		dist, err := state.Get[*state.DirectDistribution](ctx, tx, state.DirectDistributionKey(p.Parent))
		if err != nil {
			return err
		}
		if err := checkAuthority(dist.Authority, p.Authority); err != nil {
			return err
		}
		if err := revocation.Authorize(p.Mode, dist.Revocable); err != nil {
			return err
		}
		revoked, err := isRevoked(ctx, tx, p.Parent, p.User)
		if err != nil {
			return err
		}
		if revoked {
			return fmt.Errorf("recipient %s: %w", p.User, errs.ErrClaimantAlreadyRevoked)
		}
		rec, err := state.Get[*state.DirectRecipient](ctx, tx, state.DirectRecipientKey(p.Parent, p.User))
		if err != nil {
			return err
		}

		split, err := revocation.Revoke(rec.Allocation, rec.Claim, now, p.Mode)
		if err != nil {
			return err
		}
		totals := dist.Totals
		if split.VestedTransferred > 0 {
			if totals, err = totals.AddClaimed(split.VestedTransferred); err != nil {
				return err
			}
			if err := tx.MoveValue(ctx, dist.Address, p.User, split.VestedTransferred, "revoke vested"); err != nil {
				return err
			}
		}
		if totals, err = totals.Release(split.TotalFreed); err != nil {
			return err
		}
		if err := checkTotals(ctx, tx, dist.Address, totals); err != nil {
			return err
		}

		dist.Totals = totals
		if err := tx.Put(ctx, dist); err != nil {
			return err
		}
		if err := tx.Delete(ctx, rec.Key()); err != nil {
			return err
		}
		res = RevokeResult{VestedTransferred: split.VestedTransferred, TotalFreed: split.TotalFreed}
		return markRevoked(ctx, tx, p.Parent, p.User, p.Mode, now)
	})
	if err != nil {
		return RevokeResult{}, err
	}
	metrics.RevokedAmountTotal.WithLabelValues("direct", p.Mode.String()).Add(float64(res.TotalFreed))
	e.log.Info("engine: direct recipient revoked",
		"distribution", p.Parent, "recipient", p.User, "mode", p.Mode,
		"vested_transferred", res.VestedTransferred, "total_freed", res.TotalFreed)
	return res, nil
}

// CloseDirectRecipient deletes a recipient whose allocation has been claimed in full.
func (e *Engine) CloseDirectRecipient(ctx context.Context, distribution, recipient solana.PublicKey) error {
	err := e.update(ctx, "close_direct_recipient", func(ctx context.Context, tx state.Tx, now int64) error {
		rec, err := state.Get[*state.DirectRecipient](ctx, tx, state.DirectRecipientKey(distribution, recipient))
		if err != nil {
			return err
		}
		if rec.Claim.Claimed != rec.Allocation.TotalAmount {
			return fmt.Errorf("claimed %d of %d: %w", rec.Claim.Claimed, rec.Allocation.TotalAmount, errs.ErrClaimNotFullyVested)
		}
		return tx.Delete(ctx, rec.Key())
	})
	if err != nil {
		return err
	}
	e.log.Info("engine: direct recipient closed", "distribution", distribution, "recipient", recipient)
	return nil
}

// CloseDirectDistribution returns everything left in the reserve to the authority and
// deletes the distribution.
func (e *Engine) CloseDirectDistribution(ctx context.Context, authority, distribution solana.PublicKey) (uint64, error) {
	var swept uint64
	err := e.update(ctx, "close_direct_distribution", func(ctx context.Context, tx state.Tx, now int64) error {
		dist, err := state.Get[*state.DirectDistribution](ctx, tx, state.DirectDistributionKey(distribution))
		if err != nil {
			return err
		}
		if err := checkAuthority(dist.Authority, authority); err != nil {
			return err
		}
		if swept, err = state.Sweep(ctx, tx, dist.Address, authority, "close"); err != nil {
			return err
		}
		return tx.Delete(ctx, dist.Key())
	})
	if err != nil {
		return 0, err
	}
	e.log.Info("engine: direct distribution closed", "distribution", distribution, "swept", swept)
	return swept, nil
}

// DirectStatus reports what the recipient has vested, claimed and can claim now.
func (e *Engine) DirectStatus(ctx context.Context, distribution, recipient solana.PublicKey) (Status, error) {
	var st Status
	err := e.view(ctx, "direct_status", func(ctx context.Context, tx state.Tx, now int64) error {
		revoked, err := isRevoked(ctx, tx, distribution, recipient)
		if err != nil {
			return err
		}
		if revoked {
			st = Status{Revoked: true}
			return nil
		}
		rec, err := state.Get[*state.DirectRecipient](ctx, tx, state.DirectRecipientKey(distribution, recipient))
		if err != nil {
			return err
		}
		st, err = newStatus(rec.Allocation, rec.Claim, now)
		return err
	})
	return st, err
}
