package headerindex

import (
	"math/big"
	"testing"
)

func hash(b byte) [32]byte {
	var h [32]byte
	h[0] = b
	return h
}

func TestOrganizeSelectsHighestCumulativeWork(t *testing.T) {
	idx := New()
	genesis := Header{Hash: hash(1), Difficulty: big.NewInt(10), Height: 0}
	a := Header{Hash: hash(2), PrevHash: hash(1), Difficulty: big.NewInt(10), Height: 1}
	b := Header{Hash: hash(3), PrevHash: hash(1), Difficulty: big.NewInt(20), Height: 1}

	idx.AddHeadersBulk([]Header{genesis, a, b})
	idx.Organize()
	idx.UpdateBranchingMaps()

	top, height, err := idx.Top()
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if top != hash(3) || height != 1 {
		t.Fatalf("expected chain tip %x at height 1, got %x at height %d", hash(3), top, height)
	}
}

func TestReorganizeFromDetectsBranchPoint(t *testing.T) {
	idx := New()
	genesis := Header{Hash: hash(1), Difficulty: big.NewInt(10), Height: 0}
	a := Header{Hash: hash(2), PrevHash: hash(1), Difficulty: big.NewInt(10), Height: 1}
	idx.AddHeadersBulk([]Header{genesis, a})
	idx.Organize()
	idx.UpdateBranchingMaps()

	b := Header{Hash: hash(3), PrevHash: hash(1), Difficulty: big.NewInt(30), Height: 1}
	idx.AddHeadersBulk([]Header{b})

	state := idx.ReorganizeFrom(hash(2))
	if state.PrevTopStillValid {
		t.Fatalf("expected prev top to be invalidated by heavier sibling")
	}
	if state.BranchPoint == nil || *state.BranchPoint != hash(1) {
		t.Fatalf("expected branch point at genesis, got %v", state.BranchPoint)
	}
}

func TestBranchingMapsInvariant(t *testing.T) {
	idx := New()
	genesis := Header{Hash: hash(1), Difficulty: big.NewInt(10), Height: 0}
	a := Header{Hash: hash(2), PrevHash: hash(1), Difficulty: big.NewInt(10), Height: 1}
	idx.AddHeadersBulk([]Header{genesis, a})
	idx.Organize()
	idx.UpdateBranchingMaps()

	dup, ok := idx.ValidDup(1)
	if !ok {
		t.Fatalf("expected a valid dup at height 1")
	}
	n := idx.byHash[hash(2)]
	if n.dupID != dup {
		t.Fatalf("dup mismatch")
	}
	if !idx.IsOnMainChain(n.uid) {
		t.Fatalf("expected uid to be flagged on-main-chain")
	}
}
