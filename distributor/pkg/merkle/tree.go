package merkle

import (
	"errors"
	"fmt"

	mt "github.com/txaty/go-merkletree"

	"github.com/malbeclabs/rewards/distributor/pkg/vesting"
)

// Leaf is one allocation in a merkle distribution.
type Leaf struct {
	Claimant    [32]byte
	TotalAmount uint64
	Schedule    vesting.Schedule
}

// Hash returns the leaf hash committed to by the tree.
func (l Leaf) Hash() Hash {
	return LeafHash(l.Claimant, l.TotalAmount, vesting.Marshal(l.Schedule))
}

// Tree is a built distribution tree with a proof for every leaf.
type Tree struct {
	Root   Hash
	Leaves []Leaf
	Total  uint64

	proofs [][]Hash
	index  map[[32]byte]int
}

var errEmptyTree = errors.New("merkle tree needs at least one leaf")

// leafBlock feeds the prefixed leaf pre-image to the tree builder, which applies the
// outer hash itself.
type leafBlock struct {
	inner Hash
}

func (b leafBlock) Serialize() ([]byte, error) {
	out := make([]byte, 0, 1+len(b.inner))
	out = append(out, LeafPrefix)
	return append(out, b.inner[:]...), nil
}

func keccakHashFunc(data []byte) ([]byte, error) {
	h := Keccak256(data)
	return h[:], nil
}

// NewTree builds a sorted-pair tree over leaves. Claimants must be unique and every
// schedule must be valid.
func NewTree(leaves []Leaf) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, errEmptyTree
	}

	t := &Tree{
		Leaves: leaves,
		proofs: make([][]Hash, len(leaves)),
		index:  make(map[[32]byte]int, len(leaves)),
	}
	blocks := make([]mt.DataBlock, len(leaves))
	for i, l := range leaves {
		if _, dup := t.index[l.Claimant]; dup {
			return nil, fmt.Errorf("duplicate claimant at leaf %d", i)
		}
		if l.Schedule == nil {
			return nil, fmt.Errorf("leaf %d has no schedule", i)
		}
		if err := l.Schedule.Validate(); err != nil {
			return nil, fmt.Errorf("leaf %d: %w", i, err)
		}
		total := t.Total + l.TotalAmount
		if total < t.Total {
			return nil, fmt.Errorf("leaf %d: total amount overflows", i)
		}
		t.Total = total
		t.index[l.Claimant] = i
		blocks[i] = leafBlock{inner: Keccak256(LeafData(l.Claimant, l.TotalAmount, vesting.Marshal(l.Schedule)))}
	}

	// txaty duplicates the last node of an odd level, which changes the root. It is only
	// used when every level pairs up evenly; otherwise odd nodes are carried up unchanged.
	if len(leaves) < 2 || len(leaves)&(len(leaves)-1) != 0 {
		hashes := make([]Hash, len(leaves))
		for i, l := range leaves {
			hashes[i] = l.Hash()
		}
		t.Root, t.proofs = foldLevels(hashes)
		return t, nil
	}

	tree, err := mt.New(&mt.Config{
		HashFunc:         keccakHashFunc,
		Mode:             mt.ModeProofGenAndTreeBuild,
		SortSiblingPairs: true,
	}, blocks)
	if err != nil {
		return nil, fmt.Errorf("failed to build merkle tree: %w", err)
	}
	copy(t.Root[:], tree.Root)

	for i, b := range blocks {
		p, err := tree.Proof(b)
		if err != nil {
			return nil, fmt.Errorf("failed to generate proof for leaf %d: %w", i, err)
		}
		proof := make([]Hash, len(p.Siblings))
		for j, s := range p.Siblings {
			copy(proof[j][:], s)
		}
		t.proofs[i] = proof
	}
	return t, nil
}

// foldLevels hashes adjacent pairs level by level. The last node of an odd level moves up
// as is, so proofs through it have no sibling at that level.
func foldLevels(leaves []Hash) (Hash, [][]Hash) {
	proofs := make([][]Hash, len(leaves))
	pos := make([]int, len(leaves))
	for i := range leaves {
		proofs[i] = []Hash{}
		pos[i] = i
	}

	level := leaves
	for len(level) > 1 {
		next := make([]Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, HashPair(level[i], level[i+1]))
		}
		for leaf, p := range pos {
			if sib := p ^ 1; sib < len(level) {
				proofs[leaf] = append(proofs[leaf], level[sib])
			}
			pos[leaf] = p / 2
		}
		level = next
	}
	return level[0], proofs
}

// Proof returns the proof for the leaf at index i.
func (t *Tree) Proof(i int) []Hash {
	return t.proofs[i]
}

// Lookup returns the leaf and proof for claimant.
func (t *Tree) Lookup(claimant [32]byte) (Leaf, []Hash, bool) {
	i, ok := t.index[claimant]
	if !ok {
		return Leaf{}, nil, false
	}
	return t.Leaves[i], t.proofs[i], true
}
