package zcpool

import (
	"testing"

	"github.com/blocksettledb/bdv-server/logger"
)

type fakeResolver struct {
	outputs map[[32]byte]map[uint16]struct {
		scrAddr []byte
		value   uint64
		spent   bool
	}
}

func (r *fakeResolver) ResolveMinedOutput(txHash [32]byte, outIndex uint16) ([]byte, uint64, bool, bool) {
	byOut, ok := r.outputs[txHash]
	if !ok {
		return nil, 0, false, false
	}
	o, ok := byOut[outIndex]
	if !ok {
		return nil, 0, false, false
	}
	return o.scrAddr, o.value, o.spent, true
}

func noopWatched(scrAddr []byte) (bool, bool) { return true, false }

func newTestParser(t *testing.T) *Parser {
	t.Helper()
	log, _ := logger.Get(logger.SubsystemZCPool)
	return NewParser(Config{
		Resolver:       &fakeResolver{outputs: map[[32]byte]map[uint16]struct {
			scrAddr []byte
			value   uint64
			spent   bool
		}{}},
		Watched:        noopWatched,
		MergeThreshold: 10,
		Log:            log,
	})
}

func TestPreprocessMarksResolvedWhenAllInputsResolve(t *testing.T) {
	p := newTestParser(t)
	var minedHash [32]byte
	minedHash[0] = 1
	p.resolver = &fakeResolver{outputs: map[[32]byte]map[uint16]struct {
		scrAddr []byte
		value   uint64
		spent   bool
	}{
		minedHash: {0: {scrAddr: []byte("addr"), value: 1000, spent: false}},
	}}

	var outpoint [36]byte
	copy(outpoint[:32], minedHash[:])

	tx := &ParsedTx{Inputs: make([]TxIO, 1)}
	result := p.Preprocess(tx, [][36]byte{outpoint})

	if result.State != StateResolved {
		t.Fatalf("expected Resolved, got %v", result.State)
	}
	if string(result.Inputs[0].ScrAddr) != "addr" {
		t.Fatalf("expected scrAddr to be resolved from mined output")
	}
}

func TestPreprocessMarksInvalidWhenOutputAlreadySpent(t *testing.T) {
	p := newTestParser(t)
	var minedHash [32]byte
	minedHash[0] = 2
	p.resolver = &fakeResolver{outputs: map[[32]byte]map[uint16]struct {
		scrAddr []byte
		value   uint64
		spent   bool
	}{
		minedHash: {0: {scrAddr: []byte("addr"), value: 1, spent: true}},
	}}
	var outpoint [36]byte
	copy(outpoint[:32], minedHash[:])

	tx := &ParsedTx{Inputs: make([]TxIO, 1)}
	result := p.Preprocess(tx, [][36]byte{outpoint})
	if result.State != StateInvalid {
		t.Fatalf("expected Invalid, got %v", result.State)
	}
}

func TestCommitDropsColliderAndDescendants(t *testing.T) {
	p := newTestParser(t)

	var outpoint [36]byte
	outpoint[0] = 0xAA

	parent := &ParsedTx{Hash: [32]byte{1}, State: StateResolved, SpentOutpoints: [][36]byte{outpoint}}
	p.commitTx(parent)

	var childOutpoint [36]byte
	copy(childOutpoint[:32], parent.Hash[:])
	child := &ParsedTx{
		Hash:   [32]byte{2},
		State:  StateResolved,
		Inputs: []TxIO{{IsChainedZc: true, ParentZCHash: parent.Hash}},
	}
	p.commitTx(child)

	if p.Snapshot().Count() != 2 {
		t.Fatalf("expected 2 ZC in snapshot before collision, got %d", p.Snapshot().Count())
	}

	var dropped []([32]byte)
	p.onPurge = func(pkt PurgePacket) { dropped = pkt.InvalidatedZC }

	collider := &ParsedTx{Hash: [32]byte{3}, State: StateResolved, SpentOutpoints: [][36]byte{outpoint}}
	p.commitTx(collider)

	if p.Snapshot().Count() != 1 {
		t.Fatalf("expected only the collider to remain, got %d entries", p.Snapshot().Count())
	}
	if _, ok := p.Snapshot().TxByHash(collider.Hash); !ok {
		t.Fatalf("expected collider to be present in snapshot")
	}
	if len(dropped) != 2 {
		t.Fatalf("expected parent and child to be reported dropped, got %d", len(dropped))
	}
}

func TestMergeThresholdTriggersRebuildNotShallowCopy(t *testing.T) {
	p := newTestParser(t)
	p.mergeThreshold = 1

	first := &ParsedTx{Hash: [32]byte{1}, State: StateResolved}
	p.commitTx(first)
	if p.Snapshot().mergeCount != 1 {
		t.Fatalf("expected mergeCount 1 after first commit, got %d", p.Snapshot().mergeCount)
	}

	second := &ParsedTx{Hash: [32]byte{2}, State: StateResolved}
	p.commitTx(second)
	if p.Snapshot().mergeCount != 0 {
		t.Fatalf("expected a rebuild to reset mergeCount to 0, got %d", p.Snapshot().mergeCount)
	}
	if p.Snapshot().Count() != 2 {
		t.Fatalf("expected rebuild to retain prior entries, got %d", p.Snapshot().Count())
	}
}
