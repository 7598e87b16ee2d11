package engine_test

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/rewards/distributor/pkg/engine"
	"github.com/malbeclabs/rewards/distributor/pkg/errs"
	"github.com/malbeclabs/rewards/distributor/pkg/ledger"
	"github.com/malbeclabs/rewards/distributor/pkg/merkle"
	"github.com/malbeclabs/rewards/distributor/pkg/revocation"
	"github.com/malbeclabs/rewards/distributor/pkg/vesting"
)

func claimParams(t *testing.T, tree *merkle.Tree, dist, claimant solana.PublicKey, req ledger.Request) engine.MerkleClaimParams {
	t.Helper()
	leaf, proof, ok := tree.Lookup(claimant)
	require.True(t, ok, "claimant %s not in tree", claimant)
	return engine.MerkleClaimParams{
		Distribution: dist,
		Claimant:     claimant,
		Allocation:   ledger.Allocation{TotalAmount: leaf.TotalAmount, Schedule: leaf.Schedule},
		Proof:        proof,
		Request:      req,
	}
}

func revokeParams(t *testing.T, tree *merkle.Tree, dist, claimant solana.PublicKey, mode revocation.Mode) engine.MerkleRevokeParams {
	t.Helper()
	p := claimParams(t, tree, dist, claimant, ledger.All())
	return engine.MerkleRevokeParams{
		Authority:    authority,
		Distribution: dist,
		Claimant:     claimant,
		Allocation:   p.Allocation,
		Proof:        p.Proof,
		Mode:         mode,
	}
}

func TestRewards_Engine_MerkleLifecycle(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	h := newHarness(t, 500)
	dist := solana.PublicKey{1}
	alice, bob, carol := solana.PublicKey{2}, solana.PublicKey{3}, solana.PublicKey{4}

	tree, err := merkle.NewTree([]merkle.Leaf{
		{Claimant: alice, TotalAmount: 600, Schedule: vesting.Immediate{}},
		{Claimant: bob, TotalAmount: 400, Schedule: vesting.Linear{Start: 0, End: 1_000}},
		{Claimant: carol, TotalAmount: 500, Schedule: vesting.Cliff{At: 5_000}},
	})
	require.NoError(t, err)
	require.Equal(t, uint64(1_500), tree.Total)

	_, err = h.engine.CreateMerkleDistribution(ctx, engine.CreateMerkleParams{Address: dist, Authority: authority, Root: tree.Root})
	require.ErrorIs(t, err, errs.ErrInvalidAmount)

	_, err = h.engine.CreateMerkleDistribution(ctx, engine.CreateMerkleParams{
		Address:     dist,
		Authority:   authority,
		Mint:        mint,
		Decimals:    9,
		Root:        tree.Root,
		TotalAmount: tree.Total,
		Revocable:   revocation.NonVested.Union(revocation.Full),
		ClawbackTS:  10_000,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1_500), h.reserve(t, dist))

	res, err := h.engine.ClaimMerkle(ctx, claimParams(t, tree, dist, alice, ledger.All()))
	require.NoError(t, err)
	assert.Equal(t, engine.ClaimResult{Amount: 600, Remaining: 0}, res)
	_, err = h.engine.ClaimMerkle(ctx, claimParams(t, tree, dist, alice, ledger.All()))
	require.ErrorIs(t, err, errs.ErrNothingToClaim)

	forged := claimParams(t, tree, dist, bob, ledger.All())
	forged.Allocation.TotalAmount = 4_000
	_, err = h.engine.ClaimMerkle(ctx, forged)
	require.ErrorIs(t, err, errs.ErrInvalidMerkleProof)

	stolen := claimParams(t, tree, dist, alice, ledger.All())
	stolen.Claimant = bob
	_, err = h.engine.ClaimMerkle(ctx, stolen)
	require.ErrorIs(t, err, errs.ErrInvalidMerkleProof)

	res, err = h.engine.ClaimMerkle(ctx, claimParams(t, tree, dist, bob, ledger.All()))
	require.NoError(t, err)
	assert.Equal(t, engine.ClaimResult{Amount: 200, Remaining: 200}, res)

	st, err := h.engine.MerkleStatus(ctx, claimParams(t, tree, dist, bob, ledger.All()))
	require.NoError(t, err)
	assert.Equal(t, engine.Status{Total: 400, Unlocked: 200, Claimed: 200}, st)

	h.advanceTo(t, 750)
	rev, err := h.engine.RevokeMerkleClaim(ctx, revokeParams(t, tree, dist, bob, revocation.ModeNonVested))
	require.NoError(t, err)
	assert.Equal(t, engine.RevokeResult{VestedTransferred: 100, TotalFreed: 100}, rev)

	rev, err = h.engine.RevokeMerkleClaim(ctx, revokeParams(t, tree, dist, carol, revocation.ModeFull))
	require.NoError(t, err)
	assert.Equal(t, engine.RevokeResult{VestedTransferred: 0, TotalFreed: 500}, rev)

	_, err = h.engine.RevokeMerkleClaim(ctx, revokeParams(t, tree, dist, carol, revocation.ModeFull))
	require.ErrorIs(t, err, errs.ErrClaimantAlreadyRevoked)
	_, err = h.engine.ClaimMerkle(ctx, claimParams(t, tree, dist, carol, ledger.All()))
	require.ErrorIs(t, err, errs.ErrClaimantAlreadyRevoked)

	st, err = h.engine.MerkleStatus(ctx, claimParams(t, tree, dist, carol, ledger.All()))
	require.NoError(t, err)
	assert.True(t, st.Revoked)
	assert.Zero(t, st.Claimable)

	assert.Equal(t, uint64(300), h.paidTo(t, dist, bob))
	assert.Equal(t, uint64(600), h.paidTo(t, dist, authority))
	assert.Zero(t, h.reserve(t, dist))

	err = h.engine.CloseMerkleClaim(ctx, dist, alice)
	require.ErrorIs(t, err, errs.ErrDistributionStillOpen)

	_, err = h.engine.CloseMerkleDistribution(ctx, bob, dist)
	require.ErrorIs(t, err, errs.ErrUnauthorized)
	_, err = h.engine.CloseMerkleDistribution(ctx, authority, dist)
	require.ErrorIs(t, err, errs.ErrClawbackNotReached)

	h.advanceTo(t, 10_000)
	swept, err := h.engine.CloseMerkleDistribution(ctx, authority, dist)
	require.NoError(t, err)
	assert.Zero(t, swept)

	require.NoError(t, h.engine.CloseMerkleClaim(ctx, dist, alice))
	require.ErrorIs(t, h.engine.CloseMerkleClaim(ctx, dist, alice), errs.ErrNotFound)
	require.ErrorIs(t, h.engine.CloseMerkleClaim(ctx, dist, carol), errs.ErrNotFound)
	require.NoError(t, h.engine.CloseMerkleClaim(ctx, dist, bob))
}

func TestRewards_Engine_MerkleSingleLeafNotRevocable(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	h := newHarness(t, 100)
	dist := solana.PublicKey{1}
	alice := solana.PublicKey{2}

	tree, err := merkle.NewTree([]merkle.Leaf{
		{Claimant: alice, TotalAmount: 1_000, Schedule: vesting.CliffLinear{Start: 0, Cliff: 100, End: 400}},
	})
	require.NoError(t, err)
	require.Empty(t, tree.Proof(0))

	_, err = h.engine.CreateMerkleDistribution(ctx, engine.CreateMerkleParams{
		Address:     dist,
		Authority:   authority,
		Root:        tree.Root,
		TotalAmount: tree.Total,
	})
	require.NoError(t, err)

	res, err := h.engine.ClaimMerkle(ctx, claimParams(t, tree, dist, alice, ledger.Exact(250)))
	require.NoError(t, err)
	assert.Equal(t, uint64(250), res.Amount)

	_, err = h.engine.RevokeMerkleClaim(ctx, revokeParams(t, tree, dist, alice, revocation.ModeNonVested))
	require.ErrorIs(t, err, errs.ErrDistributionNotRevocable)

	swept, err := h.engine.CloseMerkleDistribution(ctx, authority, dist)
	require.NoError(t, err)
	assert.Equal(t, uint64(750), swept)
}
