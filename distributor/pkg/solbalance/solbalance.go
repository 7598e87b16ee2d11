// Package solbalance reads SPL token balances from a Solana RPC node for pools that track
// on-chain holdings.
package solbalance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"

	"github.com/malbeclabs/rewards/distributor/pkg/metrics"
	"github.com/malbeclabs/rewards/utils/pkg/retry"
)

// RPC is the subset of the Solana RPC client used to read token balances.
type RPC interface {
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment solanarpc.CommitmentType) (*solanarpc.GetTokenAccountBalanceResult, error)
}

type Config struct {
	Logger     *slog.Logger
	RPC        RPC
	Commitment solanarpc.CommitmentType
	Retry      retry.Config
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.RPC == nil {
		return errors.New("rpc client is required")
	}
	if cfg.Commitment == "" {
		cfg.Commitment = solanarpc.CommitmentConfirmed
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return nil
}

// Reader implements engine.BalanceReader against the owner's associated token account.
type Reader struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Reader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Reader{log: cfg.Logger, cfg: cfg}, nil
}

// TokenBalance returns the raw balance of owner's associated token account for mint. An
// account that does not exist holds zero.
func (r *Reader) TokenBalance(ctx context.Context, owner, mint solana.PublicKey) (uint64, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return 0, fmt.Errorf("failed to derive token account for %s: %w", owner, err)
	}

	var balance uint64
	err = retry.Do(ctx, r.cfg.Retry, func() error {
		res, err := r.cfg.RPC.GetTokenAccountBalance(ctx, ata, r.cfg.Commitment)
		if err != nil {
			if isAccountNotFound(err) {
				balance = 0
				return nil
			}
			return err
		}
		if res == nil || res.Value == nil {
			balance = 0
			return nil
		}
		v, err := strconv.ParseUint(res.Value.Amount, 10, 64)
		if err != nil {
			return fmt.Errorf("token account %s amount %q: %w", ata, res.Value.Amount, err)
		}
		balance = v
		return nil
	})
	if err != nil {
		metrics.BalanceReadsTotal.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("failed to get token balance of %s: %w", ata, err)
	}
	metrics.BalanceReadsTotal.WithLabelValues("success").Inc()
	r.log.Debug("solbalance: read token balance", "owner", owner, "mint", mint, "account", ata, "balance", balance)
	return balance, nil
}

func isAccountNotFound(err error) bool {
	if errors.Is(err, solanarpc.ErrNotFound) {
		return true
	}
	return strings.Contains(err.Error(), "could not find account")
}
