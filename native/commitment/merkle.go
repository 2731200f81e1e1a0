package commitment

import (
	"bytes"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// LeafForAddress hashes a winner identity into a merkle leaf:
// keccak256 of the raw 20-byte address.
func LeafForAddress(addr [20]byte) [32]byte {
	var leaf [32]byte
	copy(leaf[:], ethcrypto.Keccak256(addr[:]))
	return leaf
}

// VerifyProof walks a membership proof up to the root using sorted-pair
// keccak256 hashing, so proofs stay position-independent and compatible
// with the commonly deployed on-chain verifiers.
func VerifyProof(leaf [32]byte, proof [][32]byte, root [32]byte) bool {
	computed := leaf
	for _, sibling := range proof {
		computed = hashPair(computed, sibling)
	}
	return computed == root
}

func hashPair(a, b [32]byte) [32]byte {
	var out [32]byte
	if bytes.Compare(a[:], b[:]) <= 0 {
		copy(out[:], ethcrypto.Keccak256(a[:], b[:]))
	} else {
		copy(out[:], ethcrypto.Keccak256(b[:], a[:]))
	}
	return out
}

// WinnerTree is an in-memory merkle tree over a winner set. It exists for
// callers that assemble the root and per-winner proofs off the hot path
// (resolvers, tooling, tests); the engine itself only ever verifies.
type WinnerTree struct {
	leaves [][32]byte
	levels [][][32]byte
}

// NewWinnerTree builds the tree for the supplied winner addresses. Leaves
// are sorted for a canonical root independent of input order.
func NewWinnerTree(winners [][20]byte) *WinnerTree {
	leaves := make([][32]byte, len(winners))
	for i, winner := range winners {
		leaves[i] = LeafForAddress(winner)
	}
	sort.Slice(leaves, func(i, j int) bool {
		return bytes.Compare(leaves[i][:], leaves[j][:]) < 0
	})
	tree := &WinnerTree{leaves: leaves}
	tree.build()
	return tree
}

func (t *WinnerTree) build() {
	if len(t.leaves) == 0 {
		return
	}
	level := append([][32]byte(nil), t.leaves...)
	t.levels = [][][32]byte{level}
	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				// Odd node promotes unchanged.
				next = append(next, level[i])
			}
		}
		t.levels = append(t.levels, next)
		level = next
	}
}

// Root returns the merkle root, or the zero hash for an empty set.
func (t *WinnerTree) Root() [32]byte {
	if t == nil || len(t.levels) == 0 {
		return [32]byte{}
	}
	top := t.levels[len(t.levels)-1]
	if len(top) != 1 {
		return [32]byte{}
	}
	return top[0]
}

// ProofFor returns the membership proof for the supplied address, or false
// when the address is not part of the winner set.
func (t *WinnerTree) ProofFor(addr [20]byte) ([][32]byte, bool) {
	if t == nil || len(t.levels) == 0 {
		return nil, false
	}
	leaf := LeafForAddress(addr)
	index := -1
	for i, candidate := range t.leaves {
		if candidate == leaf {
			index = i
			break
		}
	}
	if index < 0 {
		return nil, false
	}
	proof := make([][32]byte, 0)
	for depth := 0; depth < len(t.levels)-1; depth++ {
		level := t.levels[depth]
		sibling := index ^ 1
		if sibling < len(level) {
			proof = append(proof, level[sibling])
		}
		index /= 2
	}
	return proof, true
}
