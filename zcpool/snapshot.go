// Package zcpool implements the mempool snapshot and ZC parser
// described in spec.md §4.4: an immutable snapshot published behind a
// single atomic pointer, mutated only by copy-then-swap on a single
// parser goroutine, with recursive collision/block-purge eviction
// (broadcast batches live in package broadcast). It is grounded on the original
// implementation's ZeroConfContainer (original_source/cppForSwig/ZeroConf.h),
// translated into the teacher's goroutine/channel idiom.
package zcpool

import (
	"sync/atomic"
)

// State is a ZC's position in the lifecycle state machine of
// spec.md §4.4.
type State int

// Lifecycle states.
const (
	StateUninitialized State = iota
	StateResolved
	StateResolveAgain
	StateUnresolved
	StateInvalid
	StateMined
)

// TxIO is one resolved input or output belonging to a ParsedTx.
type TxIO struct {
	ScrAddr      []byte
	Value        uint64
	OutIndex     uint16
	IsChainedZc  bool
	ParentZCHash [32]byte
}

// ParsedTx is a single transaction in flight through preprocess,
// resolution, filtering, and commit (spec.md §4.4).
type ParsedTx struct {
	Hash        [32]byte
	Raw         []byte
	State       State
	Inputs      []TxIO
	Outputs     []TxIO
	SpentOutpoints [][36]byte // txid(32) || vout(4), resolved spends
	ZCID        uint32
}

// Snapshot is the immutable mempool view readers observe without
// locking. Every mutation produces a new *Snapshot.
type Snapshot struct {
	byHash      map[[32]byte]*ParsedTx
	byScrAddr   map[string][][32]byte // scrAddr -> tx hashes touching it
	spentBy     map[[36]byte][32]byte // outpoint -> spending ZC hash
	children    map[[32]byte]map[[32]byte]struct{} // parent hash -> child hashes
	mergeCount  int
}

func newEmptySnapshot() *Snapshot {
	return &Snapshot{
		byHash:    make(map[[32]byte]*ParsedTx),
		byScrAddr: make(map[string][][32]byte),
		spentBy:   make(map[[36]byte][32]byte),
		children:  make(map[[32]byte]map[[32]byte]struct{}),
	}
}

// shallowCopy clones the snapshot's top-level maps (a bounded copy, per
// spec.md §4.4's "copy the current snapshot (bounded copy cost)").
func (s *Snapshot) shallowCopy() *Snapshot {
	cp := &Snapshot{
		byHash:     make(map[[32]byte]*ParsedTx, len(s.byHash)),
		byScrAddr:  make(map[string][][32]byte, len(s.byScrAddr)),
		spentBy:    make(map[[36]byte][32]byte, len(s.spentBy)),
		children:   make(map[[32]byte]map[[32]byte]struct{}, len(s.children)),
		mergeCount: s.mergeCount + 1,
	}
	for k, v := range s.byHash {
		cp.byHash[k] = v
	}
	for k, v := range s.byScrAddr {
		dup := make([][32]byte, len(v))
		copy(dup, v)
		cp.byScrAddr[k] = dup
	}
	for k, v := range s.spentBy {
		cp.spentBy[k] = v
	}
	for k, v := range s.children {
		dup := make(map[[32]byte]struct{}, len(v))
		for h := range v {
			dup[h] = struct{}{}
		}
		cp.children[k] = dup
	}
	return cp
}

// TxByHash looks up a ZC by hash.
func (s *Snapshot) TxByHash(hash [32]byte) (*ParsedTx, bool) {
	tx, ok := s.byHash[hash]
	return tx, ok
}

// TxsForScrAddr returns every ZC touching scrAddr.
func (s *Snapshot) TxsForScrAddr(scrAddr []byte) []*ParsedTx {
	hashes := s.byScrAddr[string(scrAddr)]
	out := make([]*ParsedTx, 0, len(hashes))
	for _, h := range hashes {
		if tx, ok := s.byHash[h]; ok {
			out = append(out, tx)
		}
	}
	return out
}

// Count returns the number of in-flight ZC.
func (s *Snapshot) Count() int {
	return len(s.byHash)
}

// pointer is the single atomic publication point for the mempool state
// (spec.md §4.4 "Snapshot publication"). Readers load it without
// locking; only the parser goroutine calls store.
type pointer struct {
	v atomic.Pointer[Snapshot]
}

func newPointer() *pointer {
	p := &pointer{}
	p.v.Store(newEmptySnapshot())
	return p
}

func (p *pointer) load() *Snapshot {
	return p.v.Load()
}

func (p *pointer) publish(s *Snapshot) {
	p.v.Store(s)
}
