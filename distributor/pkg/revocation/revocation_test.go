package revocation_test

import (
	"testing"

	"github.com/malbeclabs/rewards/distributor/pkg/errs"
	"github.com/malbeclabs/rewards/distributor/pkg/ledger"
	"github.com/malbeclabs/rewards/distributor/pkg/revocation"
	"github.com/malbeclabs/rewards/distributor/pkg/vesting"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRewards_Revocation_Modes(t *testing.T) {
	t.Parallel()

	m, err := revocation.ModeFromByte(0)
	require.NoError(t, err)
	assert.Equal(t, revocation.ModeNonVested, m)

	m, err = revocation.ModeFromByte(1)
	require.NoError(t, err)
	assert.Equal(t, revocation.ModeFull, m)

	_, err = revocation.ModeFromByte(2)
	require.ErrorIs(t, err, errs.ErrInvalidRevokeMode)

	m, err = revocation.ParseMode("full")
	require.NoError(t, err)
	assert.Equal(t, "full", m.String())

	_, err = revocation.ParseMode("partial")
	require.ErrorIs(t, err, errs.ErrInvalidRevokeMode)
}

func TestRewards_Revocation_Capabilities(t *testing.T) {
	t.Parallel()

	both := revocation.NonVested.Union(revocation.Full)
	assert.Equal(t, uint8(3), both.Bits())
	assert.True(t, both.Has(revocation.Full))
	assert.Equal(t, revocation.Full, both.Intersect(revocation.Full))
	assert.Equal(t, "non_vested|full", both.String())
	assert.Equal(t, "none", revocation.None.String())

	for b := uint8(0); b < 4; b++ {
		c, err := revocation.CapabilitiesFromBits(b)
		require.NoError(t, err)
		assert.Equal(t, b, c.Bits())
	}
	_, err := revocation.CapabilitiesFromBits(4)
	require.ErrorIs(t, err, errs.ErrInvalidRevocableMask)
}

func TestRewards_Revocation_ParseCapabilities(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want revocation.Capabilities
	}{
		{in: "", want: revocation.None},
		{in: "none", want: revocation.None},
		{in: "full", want: revocation.Full},
		{in: "non_vested, full", want: revocation.NonVested.Union(revocation.Full)},
	}
	for _, tt := range tests {
		got, err := revocation.ParseCapabilities(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := revocation.ParseCapabilities("full,partial")
	require.ErrorIs(t, err, errs.ErrInvalidRevokeMode)
}

func TestRewards_Revocation_Authorize(t *testing.T) {
	t.Parallel()

	require.NoError(t, revocation.Authorize(revocation.ModeNonVested, revocation.NonVested))
	require.NoError(t, revocation.Authorize(revocation.ModeFull, revocation.NonVested|revocation.Full))

	err := revocation.Authorize(revocation.ModeNonVested, revocation.Full)
	require.ErrorIs(t, err, errs.ErrDistributionNotRevocable)
	assert.Equal(t, errs.KindClaim, errs.KindOf(err))

	require.ErrorIs(t, revocation.Authorize(revocation.ModeFull, revocation.None), errs.ErrDistributionNotRevocable)
	require.ErrorIs(t, revocation.Authorize(revocation.Mode(9), revocation.NonVested|revocation.Full), errs.ErrInvalidRevokeMode)
}

func TestRewards_Revocation_Revoke_NonVestedAtHalf(t *testing.T) {
	t.Parallel()

	alloc := ledger.Allocation{TotalAmount: 1000, Schedule: vesting.Linear{Start: 0, End: 100}}
	split, err := revocation.Revoke(alloc, ledger.ClaimRecord{}, 50, revocation.ModeNonVested)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), split.VestedTransferred)
	assert.Equal(t, uint64(500), split.TotalFreed)
	assert.Equal(t, uint64(500), split.Record.Claimed)
}

func TestRewards_Revocation_Revoke_AccountsForPriorClaims(t *testing.T) {
	t.Parallel()

	alloc := ledger.Allocation{TotalAmount: 1000, Schedule: vesting.Linear{Start: 0, End: 100}}
	rec := ledger.ClaimRecord{Claimed: 300}

	split, err := revocation.Revoke(alloc, rec, 50, revocation.ModeNonVested)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), split.VestedTransferred)
	assert.Equal(t, uint64(500), split.TotalFreed)
	assert.Equal(t, uint64(500), split.Record.Claimed)

	split, err = revocation.Revoke(alloc, rec, 50, revocation.ModeFull)
	require.NoError(t, err)
	assert.Zero(t, split.VestedTransferred)
	assert.Equal(t, uint64(700), split.TotalFreed)
	assert.Equal(t, rec, split.Record)
}

func TestRewards_Revocation_Revoke_ConservesValue(t *testing.T) {
	t.Parallel()

	alloc := ledger.Allocation{TotalAmount: 9_999, Schedule: vesting.CliffLinear{Start: 100, Cliff: 200, End: 1_000}}
	for _, claimed := range []uint64{0, 1, 777} {
		for now := int64(0); now <= 1_100; now += 50 {
			rec := ledger.ClaimRecord{Claimed: min(claimed, alloc.Unlocked(now))}
			for _, mode := range []revocation.Mode{revocation.ModeNonVested, revocation.ModeFull} {
				split, err := revocation.Revoke(alloc, rec, now, mode)
				require.NoError(t, err)
				assert.Equal(t, alloc.TotalAmount, rec.Claimed+split.VestedTransferred+split.TotalFreed,
					"mode=%s now=%d claimed=%d", mode, now, rec.Claimed)
			}
		}
	}
}

func TestRewards_Revocation_Revoke_InconsistentRecord(t *testing.T) {
	t.Parallel()

	alloc := ledger.Allocation{TotalAmount: 100, Schedule: vesting.Cliff{At: 10}}
	_, err := revocation.Revoke(alloc, ledger.ClaimRecord{Claimed: 1}, 5, revocation.ModeNonVested)
	require.ErrorIs(t, err, errs.ErrMathOverflow)
}
