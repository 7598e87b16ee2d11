package rewards_test

import (
	"math"
	"testing"

	"github.com/holiman/uint256"
	"github.com/malbeclabs/rewards/distributor/pkg/errs"
	"github.com/malbeclabs/rewards/distributor/pkg/ledger"
	"github.com/malbeclabs/rewards/distributor/pkg/rewards"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func joinAll(t *testing.T, balances ...uint64) (rewards.Pool, []rewards.Position) {
	t.Helper()
	var pool rewards.Pool
	positions := make([]rewards.Position, len(balances))
	for i, b := range balances {
		var err error
		pool, positions[i], err = rewards.Join(pool, b)
		require.NoError(t, err)
	}
	return pool, positions
}

func TestRewards_Rewards_ProportionalSplit(t *testing.T) {
	t.Parallel()

	pool, pos := joinAll(t, 1000, 500)
	require.Equal(t, uint64(1500), pool.OptedInSupply)

	pool, err := rewards.Distribute(pool, 150)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), pool.TotalDistributed)
	assert.Equal(t, uint256.NewInt(100_000_000_000), &pool.RewardPerShare)

	a, err := rewards.Settle(pool, pos[0])
	require.NoError(t, err)
	b, err := rewards.Settle(pool, pos[1])
	require.NoError(t, err)
	assert.Equal(t, uint64(100), a.AccruedRewards)
	assert.Equal(t, uint64(50), b.AccruedRewards)
	assert.Equal(t, pool.RewardPerShare, a.RewardPerSharePaid)

	// Settling twice earns nothing more.
	again, err := rewards.Settle(pool, a)
	require.NoError(t, err)
	assert.Equal(t, a, again)
}

func TestRewards_Rewards_EarnedNeverExceedsDistributed(t *testing.T) {
	t.Parallel()

	pool, pos := joinAll(t, 3, 7, 11)
	pool, err := rewards.Distribute(pool, 1_000_003)
	require.NoError(t, err)

	var sum uint64
	for _, p := range pos {
		settled, err := rewards.Settle(pool, p)
		require.NoError(t, err)
		sum += settled.AccruedRewards
	}
	assert.LessOrEqual(t, sum, uint64(1_000_003))
	assert.InDelta(t, 1_000_003, sum, 3)
}

func TestRewards_Rewards_LateJoinerEarnsOnlyLaterDistributions(t *testing.T) {
	t.Parallel()

	pool, pos := joinAll(t, 100)
	pool, err := rewards.Distribute(pool, 1000)
	require.NoError(t, err)

	pool, late, err := rewards.Join(pool, 100)
	require.NoError(t, err)
	pool, err = rewards.Distribute(pool, 1000)
	require.NoError(t, err)

	early, err := rewards.Settle(pool, pos[0])
	require.NoError(t, err)
	late, err = rewards.Settle(pool, late)
	require.NoError(t, err)
	assert.Equal(t, uint64(1500), early.AccruedRewards)
	assert.Equal(t, uint64(500), late.AccruedRewards)
}

func TestRewards_Rewards_Distribute_Errors(t *testing.T) {
	t.Parallel()

	_, err := rewards.Distribute(rewards.Pool{}, 10)
	require.ErrorIs(t, err, errs.ErrNoOptedInUsers)

	pool, _ := joinAll(t, 1)
	_, err = rewards.Distribute(pool, 0)
	require.ErrorIs(t, err, errs.ErrInvalidAmount)

	// 1 * 1e12 / (2e12) truncates to zero.
	pool, _ = joinAll(t, 2_000_000_000_000)
	unchanged, err := rewards.Distribute(pool, 1)
	require.ErrorIs(t, err, errs.ErrDistributionAmountTooSmall)
	assert.Equal(t, pool, unchanged)

	pool, _ = joinAll(t, 1)
	pool.TotalDistributed = math.MaxUint64
	_, err = rewards.Distribute(pool, 1)
	require.ErrorIs(t, err, errs.ErrMathOverflow)
}

func TestRewards_Rewards_Distribute_ShareOverflow(t *testing.T) {
	t.Parallel()

	pool, _ := joinAll(t, 1)
	var max128 uint256.Int
	max128.Lsh(uint256.NewInt(1), 128)
	max128.SubUint64(&max128, 1)
	pool.RewardPerShare = max128

	_, err := rewards.Distribute(pool, 1)
	require.ErrorIs(t, err, errs.ErrMathOverflow)
}

func TestRewards_Rewards_Settle_PaidAheadOfPool(t *testing.T) {
	t.Parallel()

	pool := rewards.Pool{}
	pos := rewards.Position{RewardPerSharePaid: *uint256.NewInt(1)}
	_, err := rewards.Settle(pool, pos)
	require.ErrorIs(t, err, errs.ErrMathOverflow)
}

func TestRewards_Rewards_SyncBalance(t *testing.T) {
	t.Parallel()

	pool, pos := joinAll(t, 100, 50)

	pool2, p, err := rewards.SyncBalance(pool, pos[0], 250)
	require.NoError(t, err)
	assert.Equal(t, uint64(300), pool2.OptedInSupply)
	assert.Equal(t, uint64(250), p.LastKnownBalance)

	pool3, p, err := rewards.SyncBalance(pool2, p, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), pool3.OptedInSupply)
	assert.Equal(t, uint64(0), p.LastKnownBalance)

	_, _, err = rewards.SyncBalance(rewards.Pool{OptedInSupply: 10}, rewards.Position{LastKnownBalance: 100}, 0)
	require.ErrorIs(t, err, errs.ErrMathOverflow)
}

func TestRewards_Rewards_SettleThenSync(t *testing.T) {
	t.Parallel()

	// Earnings before a balance change accrue at the old balance.
	pool, pos := joinAll(t, 100, 100)
	pool, err := rewards.Distribute(pool, 200)
	require.NoError(t, err)

	p, err := rewards.Settle(pool, pos[0])
	require.NoError(t, err)
	pool, p, err = rewards.SyncBalance(pool, p, 300)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), p.AccruedRewards)

	pool, err = rewards.Distribute(pool, 400)
	require.NoError(t, err)
	p, err = rewards.Settle(pool, p)
	require.NoError(t, err)
	assert.Equal(t, uint64(100+300), p.AccruedRewards)
}

func TestRewards_Rewards_Claim(t *testing.T) {
	t.Parallel()

	pool, pos := joinAll(t, 10)
	pool, err := rewards.Distribute(pool, 90)
	require.NoError(t, err)
	p, err := rewards.Settle(pool, pos[0])
	require.NoError(t, err)

	amount, pool, p, err := rewards.Claim(pool, p, ledger.Exact(40))
	require.NoError(t, err)
	assert.Equal(t, uint64(40), amount)
	assert.Equal(t, uint64(50), p.AccruedRewards)
	assert.Equal(t, uint64(40), pool.TotalClaimed)

	_, _, _, err = rewards.Claim(pool, p, ledger.Exact(51))
	require.ErrorIs(t, err, errs.ErrExceedsClaimableAmount)

	amount, pool, p, err = rewards.Claim(pool, p, ledger.All())
	require.NoError(t, err)
	assert.Equal(t, uint64(50), amount)
	assert.Equal(t, uint64(90), pool.TotalClaimed)

	_, _, _, err = rewards.Claim(pool, p, ledger.All())
	require.ErrorIs(t, err, errs.ErrNothingToClaim)
}

func TestRewards_Rewards_PayOutAndLeave(t *testing.T) {
	t.Parallel()

	pool, pos := joinAll(t, 30, 70)
	pool, err := rewards.Distribute(pool, 100)
	require.NoError(t, err)

	pending, err := rewards.Pending(pool, pos[1])
	require.NoError(t, err)
	assert.Equal(t, uint64(70), pending)

	p, err := rewards.Settle(pool, pos[1])
	require.NoError(t, err)
	amount, pool, p, err := rewards.PayOut(pool, p)
	require.NoError(t, err)
	assert.Equal(t, uint64(70), amount)
	assert.Zero(t, p.AccruedRewards)

	pool, err = rewards.Leave(pool, p)
	require.NoError(t, err)
	assert.Equal(t, uint64(30), pool.OptedInSupply)

	_, err = rewards.Leave(rewards.Pool{}, rewards.Position{LastKnownBalance: 1})
	require.ErrorIs(t, err, errs.ErrMathOverflow)
}

func TestRewards_Rewards_ShareText(t *testing.T) {
	t.Parallel()

	var v uint256.Int
	v.Lsh(uint256.NewInt(1), 100)
	s := rewards.FormatShare(v)
	assert.Equal(t, "1267650600228229401496703205376", s)

	back, err := rewards.ParseShare(s)
	require.NoError(t, err)
	assert.Equal(t, v, back)

	zero, err := rewards.ParseShare("")
	require.NoError(t, err)
	assert.True(t, zero.IsZero())

	_, err = rewards.ParseShare("340282366920938463463374607431768211456") // 2^128
	require.ErrorIs(t, err, errs.ErrMathOverflow)

	_, err = rewards.ParseShare("-1")
	require.Error(t, err)
}
