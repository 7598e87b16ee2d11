package engine

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/malbeclabs/rewards/distributor/pkg/errs"
	"github.com/malbeclabs/rewards/distributor/pkg/ledger"
	"github.com/malbeclabs/rewards/distributor/pkg/merkle"
	"github.com/malbeclabs/rewards/distributor/pkg/metrics"
	"github.com/malbeclabs/rewards/distributor/pkg/revocation"
	"github.com/malbeclabs/rewards/distributor/pkg/state"
	"github.com/malbeclabs/rewards/distributor/pkg/vesting"
)

type CreateMerkleParams struct {
	Address     solana.PublicKey
	Authority   solana.PublicKey
	Mint        solana.PublicKey
	Decimals    uint8
	Root        merkle.Hash
	TotalAmount uint64
	Revocable   revocation.Capabilities
	// ClawbackTS is the earliest time the distribution may be closed. Zero means any time.
	ClawbackTS int64
}

// CreateMerkleDistribution creates a distribution committed to Root and funds its reserve
// with TotalAmount from the authority.
func (e *Engine) CreateMerkleDistribution(ctx context.Context, p CreateMerkleParams) (*state.MerkleDistribution, error) {
	if p.TotalAmount == 0 {
		return nil, errs.ErrInvalidAmount
	}
	if err := validateRevocable(p.Revocable); err != nil {
		return nil, err
	}
	var dist *state.MerkleDistribution
	err := e.update(ctx, "create_merkle_distribution", func(ctx context.Context, tx state.Tx, now int64) error {
		if err := ensureAbsent(ctx, tx, state.MerkleDistributionKey(p.Address)); err != nil {
			return err
		}
		dist = &state.MerkleDistribution{
			Address:    p.Address,
			Authority:  p.Authority,
			Mint:       p.Mint,
			Decimals:   p.Decimals,
			Root:       p.Root,
			Revocable:  p.Revocable,
			ClawbackTS: p.ClawbackTS,
			Totals:     ledger.Totals{Allocated: p.TotalAmount},
			CreatedAt:  now,
		}
		if err := tx.Deposit(ctx, dist.Address, p.Authority, p.TotalAmount, "fund"); err != nil {
			return err
		}
		if err := checkTotals(ctx, tx, dist.Address, dist.Totals); err != nil {
			return err
		}
		return tx.Put(ctx, dist)
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("engine: merkle distribution created",
		"distribution", p.Address, "root", p.Root, "total_amount", p.TotalAmount, "clawback_ts", p.ClawbackTS)
	return dist, nil
}

// MerkleClaimParams carries a claimant's leaf and its proof.
type MerkleClaimParams struct {
	Distribution solana.PublicKey
	Claimant     solana.PublicKey
	Allocation   ledger.Allocation
	Proof        []merkle.Hash
	Request      ledger.Request
}

func verifyLeaf(root merkle.Hash, claimant solana.PublicKey, alloc ledger.Allocation, proof []merkle.Hash) error {
	if err := alloc.Validate(); err != nil {
		return err
	}
	leaf := merkle.LeafHash(claimant, alloc.TotalAmount, vesting.Marshal(alloc.Schedule))
	if !merkle.Verify(proof, root, leaf) {
		return fmt.Errorf("claimant %s: %w", claimant, errs.ErrInvalidMerkleProof)
	}
	return nil
}

func loadMerkleClaim(ctx context.Context, tx state.Tx, distribution, claimant solana.PublicKey) (*state.MerkleClaim, bool, error) {
	claim, ok, err := state.GetOptional[*state.MerkleClaim](ctx, tx, state.MerkleClaimKey(distribution, claimant))
	if err != nil {
		return nil, false, err
	}
	if !ok {
		claim = &state.MerkleClaim{Distribution: distribution, Claimant: claimant}
	}
	return claim, ok, nil
}

// ClaimMerkle verifies the claimant's leaf and pays the requested part of what has
// vested. The claim record is created on the first claim.
func (e *Engine) ClaimMerkle(ctx context.Context, p MerkleClaimParams) (ClaimResult, error) {
	var res ClaimResult
	err := e.update(ctx, "claim_merkle", func(ctx context.Context, tx state.Tx, now int64) error {
		dist, err := state.Get[*state.MerkleDistribution](ctx, tx, state.MerkleDistributionKey(p.Distribution))
		if err != nil {
			return err
		}
		if err := verifyLeaf(dist.Root, p.Claimant, p.Allocation, p.Proof); err != nil {
			return err
		}
		revoked, err := isRevoked(ctx, tx, p.Distribution, p.Claimant)
		if err != nil {
			return err
		}
		if revoked {
			return fmt.Errorf("claimant %s: %w", p.Claimant, errs.ErrClaimantAlreadyRevoked)
		}
		claim, _, err := loadMerkleClaim(ctx, tx, p.Distribution, p.Claimant)
		if err != nil {
			return err
		}

		amount, next, err := ledger.Claim(p.Allocation, claim.Claim, now, p.Request)
		if err != nil {
			return err
		}
		totals, err := dist.Totals.AddClaimed(amount)
		if err != nil {
			return err
		}
		if err := tx.MoveValue(ctx, dist.Address, p.Claimant, amount, "claim"); err != nil {
			return err
		}
		if err := checkTotals(ctx, tx, dist.Address, totals); err != nil {
			return err
		}

		dist.Totals = totals
		claim.Claim = next
		if err := tx.Put(ctx, dist); err != nil {
			return err
		}
		res = ClaimResult{Amount: amount, Remaining: p.Allocation.TotalAmount - next.Claimed}
		return tx.Put(ctx, claim)
	})
	if err != nil {
		return ClaimResult{}, err
	}
	metrics.ClaimedAmountTotal.WithLabelValues("merkle").Add(float64(res.Amount))
	e.log.Info("engine: merkle claim",
		"distribution", p.Distribution, "claimant", p.Claimant, "request", p.Request, "amount", res.Amount)
	return res, nil
}

// MerkleRevokeParams identifies a claimant by their leaf, which the authority supplies.
type MerkleRevokeParams struct {
	Authority    solana.PublicKey
	Distribution solana.PublicKey
	Claimant     solana.PublicKey
	Allocation   ledger.Allocation
	Proof        []merkle.Hash
	Mode         revocation.Mode
}

// RevokeMerkleClaim revokes a claimant. The freed amount is returned to the authority
// immediately.
func (e *Engine) RevokeMerkleClaim(ctx context.Context, p MerkleRevokeParams) (RevokeResult, error) {
	var res RevokeResult
	err := e.update(ctx, "revoke_merkle_claim", func(ctx context.Context, tx state.Tx, now int64) error {
		dist, err := state.Get[*state.MerkleDistribution](ctx, tx, state.MerkleDistributionKey(p.Distribution))
		if err != nil {
			return err
		}
		if err := checkAuthority(dist.Authority, p.Authority); err != nil {
			return err
		}
		if err := revocation.Authorize(p.Mode, dist.Revocable); err != nil {
			return err
		}
		if err := verifyLeaf(dist.Root, p.Claimant, p.Allocation, p.Proof); err != nil {
			return err
		}
		revoked, err := isRevoked(ctx, tx, p.Distribution, p.Claimant)
		if err != nil {
			return err
		}
		if revoked {
			return fmt.Errorf("claimant %s: %w", p.Claimant, errs.ErrClaimantAlreadyRevoked)
		}
		claim, existed, err := loadMerkleClaim(ctx, tx, p.Distribution, p.Claimant)
		if err != nil {
			return err
		}

		split, err := revocation.Revoke(p.Allocation, claim.Claim, now, p.Mode)
		if err != nil {
			return err
		}
		totals := dist.Totals
		if split.VestedTransferred > 0 {
			if totals, err = totals.AddClaimed(split.VestedTransferred); err != nil {
				return err
			}
			if err := tx.MoveValue(ctx, dist.Address, p.Claimant, split.VestedTransferred, "revoke vested"); err != nil {
				return err
			}
		}
		if split.TotalFreed > 0 {
			if totals, err = totals.Release(split.TotalFreed); err != nil {
				return err
			}
			if err := tx.MoveValue(ctx, dist.Address, dist.Authority, split.TotalFreed, "revoke freed"); err != nil {
				return err
			}
		}
		if err := checkTotals(ctx, tx, dist.Address, totals); err != nil {
			return err
		}

		dist.Totals = totals
		if err := tx.Put(ctx, dist); err != nil {
			return err
		}
		if existed || split.VestedTransferred > 0 {
			claim.Claim = split.Record
			if err := tx.Put(ctx, claim); err != nil {
				return err
			}
		}
		res = RevokeResult{VestedTransferred: split.VestedTransferred, TotalFreed: split.TotalFreed}
		return markRevoked(ctx, tx, p.Distribution, p.Claimant, p.Mode, now)
	})
	if err != nil {
		return RevokeResult{}, err
	}
	metrics.RevokedAmountTotal.WithLabelValues("merkle", p.Mode.String()).Add(float64(res.TotalFreed))
	e.log.Info("engine: merkle claimant revoked",
		"distribution", p.Distribution, "claimant", p.Claimant, "mode", p.Mode,
		"vested_transferred", res.VestedTransferred, "total_freed", res.TotalFreed)
	return res, nil
}

// CloseMerkleClaim deletes a claim record once its distribution has been closed.
func (e *Engine) CloseMerkleClaim(ctx context.Context, distribution, claimant solana.PublicKey) error {
	err := e.update(ctx, "close_merkle_claim", func(ctx context.Context, tx state.Tx, now int64) error {
		open, err := tx.Exists(ctx, state.MerkleDistributionKey(distribution))
		if err != nil {
			return err
		}
		if open {
			return fmt.Errorf("distribution %s: %w", distribution, errs.ErrDistributionStillOpen)
		}
		return tx.Delete(ctx, state.MerkleClaimKey(distribution, claimant))
	})
	if err != nil {
		return err
	}
	e.log.Info("engine: merkle claim closed", "distribution", distribution, "claimant", claimant)
	return nil
}

// CloseMerkleDistribution returns the reserve to the authority once the clawback time has
// passed. Unclaimed allocations are forfeited.
func (e *Engine) CloseMerkleDistribution(ctx context.Context, authority, distribution solana.PublicKey) (uint64, error) {
	var swept uint64
	err := e.update(ctx, "close_merkle_distribution", func(ctx context.Context, tx state.Tx, now int64) error {
		dist, err := state.Get[*state.MerkleDistribution](ctx, tx, state.MerkleDistributionKey(distribution))
		if err != nil {
			return err
		}
		if err := checkAuthority(dist.Authority, authority); err != nil {
			return err
		}
		if err := checkClawback(dist.ClawbackTS, now); err != nil {
			return err
		}
		if swept, err = state.Sweep(ctx, tx, dist.Address, authority, "clawback"); err != nil {
			return err
		}
		return tx.Delete(ctx, dist.Key())
	})
	if err != nil {
		return 0, err
	}
	e.log.Info("engine: merkle distribution closed", "distribution", distribution, "swept", swept)
	return swept, nil
}

// MerkleStatus verifies the claimant's leaf and reports their position at now. Request is
// ignored.
func (e *Engine) MerkleStatus(ctx context.Context, p MerkleClaimParams) (Status, error) {
	var st Status
	err := e.view(ctx, "merkle_status", func(ctx context.Context, tx state.Tx, now int64) error {
		dist, err := state.Get[*state.MerkleDistribution](ctx, tx, state.MerkleDistributionKey(p.Distribution))
		if err != nil {
			return err
		}
		if err := verifyLeaf(dist.Root, p.Claimant, p.Allocation, p.Proof); err != nil {
			return err
		}
		revoked, err := isRevoked(ctx, tx, p.Distribution, p.Claimant)
		if err != nil {
			return err
		}
		claim, _, err := loadMerkleClaim(ctx, tx, p.Distribution, p.Claimant)
		if err != nil {
			return err
		}
		if st, err = newStatus(p.Allocation, claim.Claim, now); err != nil {
			return err
		}
		if revoked {
			st.Claimable = 0
			st.Revoked = true
		}
		return nil
	})
	return st, err
}
