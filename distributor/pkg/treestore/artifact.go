// Package treestore publishes and loads built merkle distribution trees.
package treestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/malbeclabs/rewards/distributor/pkg/merkle"
	"github.com/malbeclabs/rewards/distributor/pkg/vesting"
)

// ErrNotFound is returned when no artifact exists under a key.
var ErrNotFound = errors.New("tree artifact not found")

// Artifact is the published form of a merkle tree.
type Artifact struct {
	Root        merkle.Hash     `json:"root"`
	Decimals    uint8           `json:"decimals"`
	TotalAmount uint64          `json:"total_amount"`
	TotalUI     decimal.Decimal `json:"total_ui_amount"`
	Leaves      []ArtifactLeaf  `json:"leaves"`
}

type ArtifactLeaf struct {
	Claimant    solana.PublicKey   `json:"claimant"`
	TotalAmount uint64             `json:"total_amount"`
	UIAmount    decimal.Decimal    `json:"ui_amount"`
	Schedule    vesting.Descriptor `json:"schedule"`
	Proof       []merkle.Hash      `json:"proof"`
}

// UIAmount renders a raw token amount with the mint's decimals.
func UIAmount(amount uint64, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -int32(decimals))
}

// NewArtifact captures tree with its proofs.
func NewArtifact(tree *merkle.Tree, decimals uint8) *Artifact {
	a := &Artifact{
		Root:        tree.Root,
		Decimals:    decimals,
		TotalAmount: tree.Total,
		TotalUI:     UIAmount(tree.Total, decimals),
		Leaves:      make([]ArtifactLeaf, len(tree.Leaves)),
	}
	for i, l := range tree.Leaves {
		a.Leaves[i] = ArtifactLeaf{
			Claimant:    solana.PublicKey(l.Claimant),
			TotalAmount: l.TotalAmount,
			UIAmount:    UIAmount(l.TotalAmount, decimals),
			Schedule:    vesting.Describe(l.Schedule),
			Proof:       tree.Proof(i),
		}
	}
	return a
}

// Tree rebuilds the tree from the artifact's leaves and checks that it matches the
// recorded root and total.
func (a *Artifact) Tree() (*merkle.Tree, error) {
	leaves := make([]merkle.Leaf, len(a.Leaves))
	for i, l := range a.Leaves {
		s, err := l.Schedule.Schedule()
		if err != nil {
			return nil, fmt.Errorf("leaf %d: %w", i, err)
		}
		leaves[i] = merkle.Leaf{Claimant: l.Claimant, TotalAmount: l.TotalAmount, Schedule: s}
	}
	tree, err := merkle.NewTree(leaves)
	if err != nil {
		return nil, err
	}
	if tree.Root != a.Root {
		return nil, fmt.Errorf("artifact root %s does not match rebuilt root %s", a.Root, tree.Root)
	}
	if tree.Total != a.TotalAmount {
		return nil, fmt.Errorf("artifact total %d does not match leaves %d", a.TotalAmount, tree.Total)
	}
	return tree, nil
}

// Lookup returns the leaf for claimant and whether its proof verifies against the root.
func (a *Artifact) Lookup(claimant solana.PublicKey) (ArtifactLeaf, bool, error) {
	for _, l := range a.Leaves {
		if !l.Claimant.Equals(claimant) {
			continue
		}
		s, err := l.Schedule.Schedule()
		if err != nil {
			return ArtifactLeaf{}, false, err
		}
		leaf := merkle.Leaf{Claimant: l.Claimant, TotalAmount: l.TotalAmount, Schedule: s}
		return l, merkle.Verify(l.Proof, a.Root, leaf.Hash()), nil
	}
	return ArtifactLeaf{}, false, ErrNotFound
}

func marshalArtifact(a *Artifact) ([]byte, error) {
	b, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tree artifact: %w", err)
	}
	return b, nil
}

func unmarshalArtifact(b []byte) (*Artifact, error) {
	var a Artifact
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tree artifact: %w", err)
	}
	return &a, nil
}
