package dbbuilder

import (
	"context"
	"testing"

	"github.com/blocksettledb/bdv-server/headerindex"
)

type fakeScanner struct {
	scanned    bool
	topHash    [32]byte
	scanCalls  int
	undoCalled bool
	failOnce   bool
}

func (f *fakeScanner) ScanRange(ctx context.Context, fromHeight, topHeight uint32) error {
	f.scanCalls++
	if f.failOnce && f.scanCalls == 1 {
		return nil // leave TopScannedHash stale to force a repair round
	}
	f.scanned = true
	return nil
}

func (f *fakeScanner) Undo(branchPoint uint32) error {
	f.undoCalled = true
	return nil
}

func (f *fakeScanner) TopScannedHash() [32]byte {
	return f.topHash
}

func TestRunScanWithRepairSucceedsWhenTopMatches(t *testing.T) {
	idx := headerindex.New()
	top := headerindex.Header{Hash: [32]byte{9}, Difficulty: bigOne(), Height: 5}
	idx.AddHeadersBulk([]headerindex.Header{top})
	idx.Organize()

	scanner := &fakeScanner{topHash: top.Hash}
	b := &Builder{index: idx, scanner: scanner, log: noopLogger()}

	err := b.runScanWithRepair(context.Background(), 0, 5)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if scanner.scanCalls != 1 {
		t.Fatalf("expected exactly one scan call, got %d", scanner.scanCalls)
	}
}

func TestReorgCallsUndoOnInvalidatedTop(t *testing.T) {
	idx := headerindex.New()
	branch := headerindex.Header{Hash: [32]byte{1}, Difficulty: bigOne(), Height: 3}
	idx.AddHeadersBulk([]headerindex.Header{branch})
	idx.Organize()

	scanner := &fakeScanner{topHash: branch.Hash}
	b := &Builder{index: idx, scanner: scanner, log: noopLogger()}

	branchHash := branch.Hash
	state := headerindex.ReorganizationState{
		PrevTopStillValid: false,
		BranchPoint:       &branchHash,
	}
	if err := b.Reorg(context.Background(), state); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if !scanner.undoCalled {
		t.Fatalf("expected Undo to be called on invalidated top")
	}
}

func TestReorgNoopWhenPrevTopStillValid(t *testing.T) {
	scanner := &fakeScanner{}
	b := &Builder{scanner: scanner, log: noopLogger()}
	err := b.Reorg(context.Background(), headerindex.ReorganizationState{PrevTopStillValid: true})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if scanner.undoCalled {
		t.Fatalf("did not expect Undo to be called")
	}
}

func TestReorgWithoutBranchPointErrors(t *testing.T) {
	scanner := &fakeScanner{}
	b := &Builder{scanner: scanner, log: noopLogger()}
	err := b.Reorg(context.Background(), headerindex.ReorganizationState{PrevTopStillValid: false})
	if err == nil {
		t.Fatalf("expected error for missing branch point")
	}
}
