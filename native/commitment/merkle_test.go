package commitment

import "testing"

func winnerSet(n int) [][20]byte {
	winners := make([][20]byte, n)
	for i := range winners {
		winners[i] = addr(byte(i + 1))
	}
	return winners
}

func TestWinnerTreeProofsVerify(t *testing.T) {
	for _, size := range []int{1, 2, 3, 5, 8, 33} {
		winners := winnerSet(size)
		tree := NewWinnerTree(winners)
		root := tree.Root()
		if root == ([32]byte{}) {
			t.Fatalf("size %d: zero root", size)
		}
		for _, winner := range winners {
			proof, ok := tree.ProofFor(winner)
			if !ok {
				t.Fatalf("size %d: missing proof for %x", size, winner[:1])
			}
			if !VerifyProof(LeafForAddress(winner), proof, root) {
				t.Fatalf("size %d: proof rejected for %x", size, winner[:1])
			}
		}
	}
}

func TestWinnerTreeRejectsNonMembers(t *testing.T) {
	winners := winnerSet(7)
	tree := NewWinnerTree(winners)
	outsider := addr(0x99)

	if _, ok := tree.ProofFor(outsider); ok {
		t.Fatal("proof produced for non-member")
	}
	// A member's proof must not verify for the outsider's leaf.
	proof, _ := tree.ProofFor(winners[0])
	if VerifyProof(LeafForAddress(outsider), proof, tree.Root()) {
		t.Fatal("outsider leaf verified with member proof")
	}
}

func TestWinnerTreeRootOrderIndependent(t *testing.T) {
	forward := NewWinnerTree(winnerSet(6)).Root()
	reversed := winnerSet(6)
	for i, j := 0, len(reversed)-1; i < j; i, j = i+1, j-1 {
		reversed[i], reversed[j] = reversed[j], reversed[i]
	}
	if forward != NewWinnerTree(reversed).Root() {
		t.Fatal("root depends on input order")
	}
}

func TestEmptyWinnerTree(t *testing.T) {
	tree := NewWinnerTree(nil)
	if tree.Root() != ([32]byte{}) {
		t.Fatal("empty tree must have zero root")
	}
	if _, ok := tree.ProofFor(addr(0x01)); ok {
		t.Fatal("empty tree produced a proof")
	}
}

func TestVerifyProofTamperedRoot(t *testing.T) {
	winners := winnerSet(4)
	tree := NewWinnerTree(winners)
	proof, _ := tree.ProofFor(winners[2])
	root := tree.Root()
	root[0] ^= 0x01
	if VerifyProof(LeafForAddress(winners[2]), proof, root) {
		t.Fatal("proof verified against tampered root")
	}
}
