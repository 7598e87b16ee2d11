package admin

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/gagliardetto/solana-go"

	"github.com/malbeclabs/rewards/distributor/pkg/engine"
	"github.com/malbeclabs/rewards/distributor/pkg/ledger"
	"github.com/malbeclabs/rewards/distributor/pkg/revocation"
	"github.com/malbeclabs/rewards/distributor/pkg/store/postgres"
	"github.com/malbeclabs/rewards/distributor/pkg/treestore"
	"github.com/malbeclabs/rewards/distributor/pkg/vesting"
)

// Target selects which kind of distribution a revoke or close command acts on.
type Target string

const (
	TargetDirect Target = "direct"
	TargetMerkle Target = "merkle"
	TargetPool   Target = "pool"
)

func ParseTarget(s string) (Target, error) {
	switch t := Target(s); t {
	case TargetDirect, TargetMerkle, TargetPool:
		return t, nil
	default:
		return "", fmt.Errorf("unknown target %q (want direct, merkle or pool)", s)
	}
}

// ParseKey parses a required public key flag.
func ParseKey(flagName, v string) (solana.PublicKey, error) {
	if v == "" {
		return solana.PublicKey{}, fmt.Errorf("--%s is required", flagName)
	}
	pk, err := solana.PublicKeyFromBase58(v)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid --%s %q: %w", flagName, v, err)
	}
	return pk, nil
}

// OpenEngine connects to PostgreSQL and returns an engine on the postgres store. The
// returned func closes the pool.
func OpenEngine(ctx context.Context, log *slog.Logger, cfg PgConfig) (*engine.Engine, func(), error) {
	pool, err := postgres.NewPool(ctx, log, cfg.conn())
	if err != nil {
		return nil, nil, err
	}
	store, err := postgres.New(postgres.Config{Logger: log, Pool: pool})
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	e, err := engine.New(engine.Config{Logger: log, Store: store})
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return e, pool.Close, nil
}

// Operator runs authority-signed engine operations and reports them to Out.
type Operator struct {
	Engine    *engine.Engine
	Authority solana.PublicKey
	Out       io.Writer
}

func (o *Operator) CreateDirect(ctx context.Context, address, mint solana.PublicKey, decimals uint8, revocable revocation.Capabilities) error {
	dist, err := o.Engine.CreateDirectDistribution(ctx, engine.CreateDirectParams{
		Address:   address,
		Authority: o.Authority,
		Mint:      mint,
		Decimals:  decimals,
		Revocable: revocable,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(o.Out, "direct distribution: %s (revocable: %s)\n", dist.Address, dist.Revocable)
	return nil
}

func (o *Operator) AddRecipient(ctx context.Context, distribution, recipient solana.PublicKey, amount uint64, schedule vesting.Descriptor) error {
	s, err := schedule.Schedule()
	if err != nil {
		return err
	}
	rec, err := o.Engine.AddDirectRecipient(ctx, engine.AddRecipientParams{
		Authority:    o.Authority,
		Distribution: distribution,
		Recipient:    recipient,
		Amount:       amount,
		Schedule:     s,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(o.Out, "recipient %s: %d (%s)\n", rec.Recipient, rec.Allocation.TotalAmount, schedule.Type)
	return nil
}

// CreateMerkle creates and funds a merkle distribution from a tree artifact file. The
// artifact must rebuild to its recorded root.
func (o *Operator) CreateMerkle(ctx context.Context, address, mint solana.PublicKey, treeFile string, revocable revocation.Capabilities, clawbackTS int64) error {
	a, err := treestore.ReadFile(treeFile)
	if err != nil {
		return err
	}
	if _, err := a.Tree(); err != nil {
		return fmt.Errorf("artifact is inconsistent: %w", err)
	}
	dist, err := o.Engine.CreateMerkleDistribution(ctx, engine.CreateMerkleParams{
		Address:     address,
		Authority:   o.Authority,
		Mint:        mint,
		Decimals:    a.Decimals,
		Root:        a.Root,
		TotalAmount: a.TotalAmount,
		Revocable:   revocable,
		ClawbackTS:  clawbackTS,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(o.Out, "merkle distribution: %s\n", dist.Address)
	fmt.Fprintf(o.Out, "root:         %s\n", dist.Root)
	fmt.Fprintf(o.Out, "total amount: %d (%s)\n", a.TotalAmount, a.TotalUI)
	return nil
}

// CreatePool creates a reward pool owned by the operator's authority.
func (o *Operator) CreatePool(ctx context.Context, p engine.CreatePoolParams) error {
	p.Authority = o.Authority
	pool, err := o.Engine.CreatePool(ctx, p)
	if err != nil {
		return err
	}
	fmt.Fprintf(o.Out, "reward pool: %s (balance source: %s)\n", pool.Address, pool.BalanceSource)
	return nil
}

func (o *Operator) SetBalance(ctx context.Context, pool, user solana.PublicKey, balance uint64) error {
	pos, err := o.Engine.SetBalance(ctx, o.Authority, pool, user, balance)
	if err != nil {
		return err
	}
	fmt.Fprintf(o.Out, "user %s: balance %d, accrued %d\n", pos.User, pos.Holder.LastKnownBalance, pos.Holder.AccruedRewards)
	return nil
}

func (o *Operator) DistributeReward(ctx context.Context, pool solana.PublicKey, amount uint64) error {
	p, err := o.Engine.DistributeReward(ctx, o.Authority, pool, amount)
	if err != nil {
		return err
	}
	fmt.Fprintf(o.Out, "distributed %d over opted-in supply %d\n", amount, p.Accumulator.OptedInSupply)
	return nil
}

// Revoke revokes user from parent. Merkle claimants are identified by their leaf in
// treeFile.
func (o *Operator) Revoke(ctx context.Context, target Target, parent, user solana.PublicKey, mode revocation.Mode, treeFile string) error {
	var (
		res engine.RevokeResult
		err error
	)
	switch target {
	case TargetDirect:
		res, err = o.Engine.RevokeDirectRecipient(ctx, engine.RevokeParams{Authority: o.Authority, Parent: parent, User: user, Mode: mode})
	case TargetPool:
		res, err = o.Engine.RevokeUser(ctx, engine.RevokeParams{Authority: o.Authority, Parent: parent, User: user, Mode: mode})
	case TargetMerkle:
		if treeFile == "" {
			return fmt.Errorf("--tree-file is required to revoke a merkle claimant")
		}
		var p engine.MerkleRevokeParams
		if p, err = merkleRevokeParams(treeFile, user); err != nil {
			return err
		}
		p.Authority, p.Distribution, p.Mode = o.Authority, parent, mode
		res, err = o.Engine.RevokeMerkleClaim(ctx, p)
	default:
		return fmt.Errorf("unknown target %q", target)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(o.Out, "revoked %s (%s): transferred %d, freed %d\n", user, mode, res.VestedTransferred, res.TotalFreed)
	return nil
}

func merkleRevokeParams(treeFile string, claimant solana.PublicKey) (engine.MerkleRevokeParams, error) {
	a, err := treestore.ReadFile(treeFile)
	if err != nil {
		return engine.MerkleRevokeParams{}, err
	}
	leaf, _, err := a.Lookup(claimant)
	if err != nil {
		return engine.MerkleRevokeParams{}, fmt.Errorf("claimant %s: %w", claimant, err)
	}
	s, err := leaf.Schedule.Schedule()
	if err != nil {
		return engine.MerkleRevokeParams{}, err
	}
	return engine.MerkleRevokeParams{
		Claimant:   claimant,
		Allocation: ledger.Allocation{TotalAmount: leaf.TotalAmount, Schedule: s},
		Proof:      leaf.Proof,
	}, nil
}

// Close closes a distribution or pool and returns its reserve to the authority.
func (o *Operator) Close(ctx context.Context, target Target, address solana.PublicKey) error {
	var (
		swept uint64
		err   error
	)
	switch target {
	case TargetDirect:
		swept, err = o.Engine.CloseDirectDistribution(ctx, o.Authority, address)
	case TargetMerkle:
		swept, err = o.Engine.CloseMerkleDistribution(ctx, o.Authority, address)
	case TargetPool:
		swept, err = o.Engine.ClosePool(ctx, o.Authority, address)
	default:
		return fmt.Errorf("unknown target %q", target)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(o.Out, "closed %s %s: returned %d to %s\n", target, address, swept, o.Authority)
	return nil
}
