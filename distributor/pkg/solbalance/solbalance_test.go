package solbalance_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/rewards/distributor/pkg/solbalance"
	"github.com/malbeclabs/rewards/utils/pkg/retry"
	rewardstesting "github.com/malbeclabs/rewards/utils/pkg/testing"
)

type mockRPC struct {
	calls                      int
	getTokenAccountBalanceFunc func(ctx context.Context, account solana.PublicKey) (*solanarpc.GetTokenAccountBalanceResult, error)
}

func (m *mockRPC) GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, _ solanarpc.CommitmentType) (*solanarpc.GetTokenAccountBalanceResult, error) {
	m.calls++
	return m.getTokenAccountBalanceFunc(ctx, account)
}

func amount(v string) *solanarpc.GetTokenAccountBalanceResult {
	return &solanarpc.GetTokenAccountBalanceResult{Value: &solanarpc.UiTokenAmount{Amount: v, Decimals: 6}}
}

func newReader(t *testing.T, rpc solbalance.RPC) *solbalance.Reader {
	t.Helper()
	r, err := solbalance.New(solbalance.Config{
		Logger: rewardstesting.NewLogger(),
		RPC:    rpc,
		Retry:  retry.Config{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond},
	})
	require.NoError(t, err)
	return r
}

func TestRewards_SolBalance_ReadsAssociatedTokenAccount(t *testing.T) {
	t.Parallel()
	owner := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	require.NoError(t, err)

	rpc := &mockRPC{getTokenAccountBalanceFunc: func(_ context.Context, account solana.PublicKey) (*solanarpc.GetTokenAccountBalanceResult, error) {
		if !account.Equals(ata) {
			return nil, errors.New("unexpected account")
		}
		return amount("18446744073709551615"), nil
	}}
	balance, err := newReader(t, rpc).TokenBalance(t.Context(), owner, mint)
	require.NoError(t, err)
	assert.Equal(t, uint64(18446744073709551615), balance)
}

func TestRewards_SolBalance_MissingAccountIsZero(t *testing.T) {
	t.Parallel()
	rpc := &mockRPC{getTokenAccountBalanceFunc: func(context.Context, solana.PublicKey) (*solanarpc.GetTokenAccountBalanceResult, error) {
		return nil, errors.New("Invalid param: could not find account")
	}}
	balance, err := newReader(t, rpc).TokenBalance(t.Context(), solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.Zero(t, balance)
	assert.Equal(t, 1, rpc.calls)
}

func TestRewards_SolBalance_RetriesTransientErrors(t *testing.T) {
	t.Parallel()
	rpc := &mockRPC{}
	rpc.getTokenAccountBalanceFunc = func(context.Context, solana.PublicKey) (*solanarpc.GetTokenAccountBalanceResult, error) {
		if rpc.calls < 3 {
			return nil, errors.New("connection reset by peer")
		}
		return amount("42"), nil
	}
	balance, err := newReader(t, rpc).TokenBalance(t.Context(), solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), balance)
	assert.Equal(t, 3, rpc.calls)
}

func TestRewards_SolBalance_MalformedAmount(t *testing.T) {
	t.Parallel()
	rpc := &mockRPC{getTokenAccountBalanceFunc: func(context.Context, solana.PublicKey) (*solanarpc.GetTokenAccountBalanceResult, error) {
		return amount("1.5"), nil
	}}
	_, err := newReader(t, rpc).TokenBalance(t.Context(), solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey())
	require.Error(t, err)
	assert.Equal(t, 1, rpc.calls)
}

func TestRewards_SolBalance_ConfigValidate(t *testing.T) {
	t.Parallel()
	_, err := solbalance.New(solbalance.Config{Logger: rewardstesting.NewLogger()})
	require.Error(t, err)
	_, err = solbalance.New(solbalance.Config{RPC: &mockRPC{}})
	require.Error(t, err)
}
