// Package merkle verifies membership of allocations in a keccak-256 sorted-pair merkle tree.
package merkle

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/sha3"
)

// LeafPrefix domain-separates leaf hashes from interior node hashes.
const LeafPrefix byte = 0x00

// Hash is a 32-byte keccak-256 digest.
type Hash [32]byte

func (h Hash) String() string {
	return base58.Encode(h[:])
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(b []byte) error {
	v, err := ParseHash(string(b))
	if err != nil {
		return err
	}
	*h = v
	return nil
}

// ParseHash decodes a base58 digest.
func ParseHash(s string) (Hash, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return Hash{}, fmt.Errorf("failed to decode hash %q: %w", s, err)
	}
	if len(b) != len(Hash{}) {
		return Hash{}, fmt.Errorf("hash %q has %d bytes, want 32", s, len(b))
	}
	return Hash(b), nil
}

// Keccak256 hashes the concatenation of parts.
func Keccak256(parts ...[]byte) Hash {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash
	h.Sum(out[:0])
	return out
}

// LeafData is the inner leaf pre-image: claimant, total amount (little-endian u64) and
// the encoded vesting schedule.
func LeafData(claimant [32]byte, totalAmount uint64, schedule []byte) []byte {
	b := make([]byte, 0, 32+8+len(schedule))
	b = append(b, claimant[:]...)
	b = binary.LittleEndian.AppendUint64(b, totalAmount)
	return append(b, schedule...)
}

// LeafHash computes keccak(0x00 || keccak(claimant || total_le || schedule)).
func LeafHash(claimant [32]byte, totalAmount uint64, schedule []byte) Hash {
	inner := Keccak256(LeafData(claimant, totalAmount, schedule))
	return Keccak256([]byte{LeafPrefix}, inner[:])
}

// HashPair hashes two nodes in ascending byte order so proofs need no direction bits.
func HashPair(a, b Hash) Hash {
	if bytes.Compare(a[:], b[:]) <= 0 {
		return Keccak256(a[:], b[:])
	}
	return Keccak256(b[:], a[:])
}

// Verify folds leaf through proof and compares the result to root. An empty proof
// verifies only when leaf is the root.
func Verify(proof []Hash, root, leaf Hash) bool {
	computed := leaf
	for _, sibling := range proof {
		computed = HashPair(computed, sibling)
	}
	return computed == root
}
