// Package state defines the persisted records of the distribution engine and the
// storage interfaces they are loaded and saved through.
package state

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/malbeclabs/rewards/distributor/pkg/ledger"
	"github.com/malbeclabs/rewards/distributor/pkg/merkle"
	"github.com/malbeclabs/rewards/distributor/pkg/revocation"
	"github.com/malbeclabs/rewards/distributor/pkg/rewards"
)

// Kind identifies a record type.
type Kind uint8

const (
	KindDirectDistribution Kind = iota + 1
	KindDirectRecipient
	KindMerkleDistribution
	KindMerkleClaim
	KindRevocation
	KindRewardPool
	KindPosition
)

func (k Kind) String() string {
	switch k {
	case KindDirectDistribution:
		return "direct_distribution"
	case KindDirectRecipient:
		return "direct_recipient"
	case KindMerkleDistribution:
		return "merkle_distribution"
	case KindMerkleClaim:
		return "merkle_claim"
	case KindRevocation:
		return "revocation"
	case KindRewardPool:
		return "reward_pool"
	case KindPosition:
		return "position"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Key addresses one record. Top-level records leave User zero.
type Key struct {
	Kind   Kind
	Parent solana.PublicKey
	User   solana.PublicKey
}

func (k Key) String() string {
	if k.User.IsZero() {
		return fmt.Sprintf("%s/%s", k.Kind, k.Parent)
	}
	return fmt.Sprintf("%s/%s/%s", k.Kind, k.Parent, k.User)
}

// Record is anything stored under a Key.
type Record interface {
	Key() Key
}

func DirectDistributionKey(addr solana.PublicKey) Key {
	return Key{Kind: KindDirectDistribution, Parent: addr}
}

func DirectRecipientKey(distribution, recipient solana.PublicKey) Key {
	return Key{Kind: KindDirectRecipient, Parent: distribution, User: recipient}
}

func MerkleDistributionKey(addr solana.PublicKey) Key {
	return Key{Kind: KindMerkleDistribution, Parent: addr}
}

func MerkleClaimKey(distribution, claimant solana.PublicKey) Key {
	return Key{Kind: KindMerkleClaim, Parent: distribution, User: claimant}
}

func RevocationKey(parent, user solana.PublicKey) Key {
	return Key{Kind: KindRevocation, Parent: parent, User: user}
}

func RewardPoolKey(addr solana.PublicKey) Key {
	return Key{Kind: KindRewardPool, Parent: addr}
}

func PositionKey(pool, user solana.PublicKey) Key {
	return Key{Kind: KindPosition, Parent: pool, User: user}
}

// DirectDistribution is an administrator-managed distribution with explicitly added recipients.
type DirectDistribution struct {
	Address   solana.PublicKey        `json:"address"`
	Authority solana.PublicKey        `json:"authority"`
	Mint      solana.PublicKey        `json:"mint"`
	Decimals  uint8                   `json:"decimals"`
	Revocable revocation.Capabilities `json:"revocable"`
	Totals    ledger.Totals           `json:"totals"`
	CreatedAt int64                   `json:"created_at"`
}

func (d *DirectDistribution) Key() Key { return DirectDistributionKey(d.Address) }

// DirectRecipient is an eagerly created per-recipient allocation and claim record.
type DirectRecipient struct {
	Distribution solana.PublicKey   `json:"distribution"`
	Recipient    solana.PublicKey   `json:"recipient"`
	Payer        solana.PublicKey   `json:"payer"`
	Allocation   ledger.Allocation  `json:"allocation"`
	Claim        ledger.ClaimRecord `json:"claim"`
}

func (r *DirectRecipient) Key() Key { return DirectRecipientKey(r.Distribution, r.Recipient) }

// MerkleDistribution commits to its allocations through Root. Totals.Allocated starts at
// the funded amount and shrinks as revocations free value.
type MerkleDistribution struct {
	Address    solana.PublicKey        `json:"address"`
	Authority  solana.PublicKey        `json:"authority"`
	Mint       solana.PublicKey        `json:"mint"`
	Decimals   uint8                   `json:"decimals"`
	Root       merkle.Hash             `json:"root"`
	Revocable  revocation.Capabilities `json:"revocable"`
	ClawbackTS int64                   `json:"clawback_ts"`
	Totals     ledger.Totals           `json:"totals"`
	CreatedAt  int64                   `json:"created_at"`
}

func (d *MerkleDistribution) Key() Key { return MerkleDistributionKey(d.Address) }

// MerkleClaim is created lazily on a claimant's first claim.
type MerkleClaim struct {
	Distribution solana.PublicKey   `json:"distribution"`
	Claimant     solana.PublicKey   `json:"claimant"`
	Claim        ledger.ClaimRecord `json:"claim"`
}

func (c *MerkleClaim) Key() Key { return MerkleClaimKey(c.Distribution, c.Claimant) }

// Revocation marks a user as revoked from a distribution or pool. It is never deleted.
type Revocation struct {
	Parent    solana.PublicKey `json:"parent"`
	User      solana.PublicKey `json:"user"`
	Mode      revocation.Mode  `json:"mode"`
	RevokedAt int64            `json:"revoked_at"`
}

func (r *Revocation) Key() Key { return RevocationKey(r.Parent, r.User) }

// RewardPool is a continuous reward pool.
type RewardPool struct {
	Address       solana.PublicKey        `json:"address"`
	Authority     solana.PublicKey        `json:"authority"`
	TrackedMint   solana.PublicKey        `json:"tracked_mint"`
	RewardMint    solana.PublicKey        `json:"reward_mint"`
	Decimals      uint8                   `json:"decimals"`
	BalanceSource rewards.BalanceSource   `json:"balance_source"`
	Revocable     revocation.Capabilities `json:"revocable"`
	ClawbackTS    int64                   `json:"clawback_ts"`
	Accumulator   rewards.Pool            `json:"accumulator"`
	CreatedAt     int64                   `json:"created_at"`
}

func (p *RewardPool) Key() Key { return RewardPoolKey(p.Address) }

// Position is a holder's opt-in to a reward pool.
type Position struct {
	Pool      solana.PublicKey `json:"pool"`
	User      solana.PublicKey `json:"user"`
	Holder    rewards.Position `json:"holder"`
	OptedInAt int64            `json:"opted_in_at"`
}

func (p *Position) Key() Key { return PositionKey(p.Pool, p.User) }
