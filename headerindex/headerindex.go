// Package headerindex holds the DAG of parsed block headers and the
// elected main chain (spec.md §4.2). It is modeled after the teacher's
// blockdag index: an in-memory, mutex-guarded node graph keyed by hash,
// height, and a persisted uid, rebuilt from bulk-loaded headers and
// reorganized by cumulative-difficulty comparison.
package headerindex

import (
	"bytes"
	"math/big"
	"sync"

	"github.com/pkg/errors"
)

// Header is the minimal header data the index needs: enough to walk
// parent links and compare chain work. Callers supply the full header
// bytes separately if needed.
type Header struct {
	Hash       [32]byte
	PrevHash   [32]byte
	Difficulty *big.Int
	Height     uint32
}

// node is one entry in the header graph.
type node struct {
	header      Header
	uid         uint64
	dupID       byte
	onMainChain bool
	cumWork     *big.Int
	parent      *node
}

// ReorganizationState is returned by ReorganizeFrom (spec.md §4.2).
type ReorganizationState struct {
	PrevTop           [32]byte
	NewTop            [32]byte
	BranchPoint       *[32]byte
	PrevTopStillValid bool
}

// Index holds the header DAG and the elected main chain.
type Index struct {
	mu sync.RWMutex

	byHash   map[[32]byte]*node
	byID     map[uint64]*node
	byHeight map[uint32][]*node // siblings at a height, indexed by dupID order

	nextUID uint64
	top     *node

	// validDupByHeight and blockIDOnMainChain are the branching maps
	// published by UpdateBranchingMaps; for every height on the main
	// chain, exactly one uid's on-main-chain flag is true.
	validDupByHeight   map[uint32]byte
	blockIDOnMainChain map[uint64]bool
}

// New creates an empty header index.
func New() *Index {
	return &Index{
		byHash:             make(map[[32]byte]*node),
		byID:               make(map[uint64]*node),
		byHeight:           make(map[uint32][]*node),
		validDupByHeight:   make(map[uint32]byte),
		blockIDOnMainChain: make(map[uint64]bool),
	}
}

// AddHeadersBulk adds headers without validating them; callers supply
// headers sourced from block files or from a DB load.
func (idx *Index) AddHeadersBulk(headers []Header) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, h := range headers {
		idx.addHeaderLocked(h)
	}
}

func (idx *Index) addHeaderLocked(h Header) *node {
	if existing, ok := idx.byHash[h.Hash]; ok {
		return existing
	}

	n := &node{header: h}
	n.uid = idx.nextUID
	idx.nextUID++

	siblings := idx.byHeight[h.Height]
	n.dupID = byte(len(siblings))
	idx.byHeight[h.Height] = append(siblings, n)

	if parent, ok := idx.byHash[h.PrevHash]; ok {
		n.parent = parent
		n.cumWork = new(big.Int).Add(parent.cumWork, h.Difficulty)
	} else {
		n.cumWork = new(big.Int).Set(h.Difficulty)
	}

	idx.byHash[h.Hash] = n
	idx.byID[n.uid] = n
	return n
}

// HeaderByHash returns the header previously added under the given hash.
func (idx *Index) HeaderByHash(hash [32]byte) (Header, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	n, ok := idx.byHash[hash]
	if !ok {
		return Header{}, false
	}
	return n.header, true
}

// HeaderByHeight returns the header at (height, dup).
func (idx *Index) HeaderByHeight(height uint32, dup byte) (Header, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for _, n := range idx.byHeight[height] {
		if n.dupID == dup {
			return n.header, true
		}
	}
	return Header{}, false
}

// HeaderByID returns the header assigned the given uid.
func (idx *Index) HeaderByID(uid uint64) (Header, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	n, ok := idx.byID[uid]
	if !ok {
		return Header{}, false
	}
	return n.header, true
}

// Organize recomputes the main chain by max cumulative difficulty, with
// a deterministic tiebreak by header hash (spec.md §4.2).
func (idx *Index) Organize() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.organizeLocked()
}

func (idx *Index) organizeLocked() {
	var best *node
	for _, n := range idx.byHash {
		if best == nil {
			best = n
			continue
		}
		cmp := n.cumWork.Cmp(best.cumWork)
		if cmp > 0 || (cmp == 0 && bytes.Compare(n.header.Hash[:], best.header.Hash[:]) < 0) {
			best = n
		}
	}

	for _, n := range idx.byHash {
		n.onMainChain = false
	}
	for n := best; n != nil; n = n.parent {
		n.onMainChain = true
	}
	idx.top = best
}

// ReorganizeFrom compares the previously recorded top against the
// freshly organized main chain and reports the branch point, if any.
func (idx *Index) ReorganizeFrom(prevTop [32]byte) ReorganizationState {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	state := ReorganizationState{PrevTop: prevTop}
	idx.organizeLocked()
	if idx.top == nil {
		return state
	}
	state.NewTop = idx.top.header.Hash

	prevNode, hadPrev := idx.byHash[prevTop]
	if !hadPrev {
		state.PrevTopStillValid = false
		return state
	}
	if prevNode.onMainChain {
		state.PrevTopStillValid = true
		return state
	}
	state.PrevTopStillValid = false

	branch := findBranchPoint(prevNode, idx.top)
	if branch != nil {
		bp := branch.header.Hash
		state.BranchPoint = &bp
	}
	return state
}

func findBranchPoint(a, b *node) *node {
	ancestors := make(map[[32]byte]*node)
	for n := a; n != nil; n = n.parent {
		ancestors[n.header.Hash] = n
	}
	for n := b; n != nil; n = n.parent {
		if anc, ok := ancestors[n.header.Hash]; ok {
			return anc
		}
	}
	return nil
}

// UpdateBranchingMaps rebuilds the in-memory height->valid-dup and
// uid->on-main-chain maps after Organize, maintaining the invariant that every main-chain
// height has exactly one uid flagged on-main-chain.
func (idx *Index) UpdateBranchingMaps() {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.validDupByHeight = make(map[uint32]byte)
	idx.blockIDOnMainChain = make(map[uint64]bool)
	for n := idx.top; n != nil; n = n.parent {
		idx.validDupByHeight[n.header.Height] = n.dupID
		idx.blockIDOnMainChain[n.uid] = true
	}
}

// Top returns the hash and height of the current main-chain tip.
func (idx *Index) Top() ([32]byte, uint32, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.top == nil {
		return [32]byte{}, 0, errors.New("headerindex: empty index")
	}
	return idx.top.header.Hash, idx.top.header.Height, nil
}

// ValidDup returns the dup id flagged on-main-chain at height, if any.
func (idx *Index) ValidDup(height uint32) (byte, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	dup, ok := idx.validDupByHeight[height]
	return dup, ok
}

// IsOnMainChain reports whether uid is currently flagged on-main-chain.
func (idx *Index) IsOnMainChain(uid uint64) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.blockIDOnMainChain[uid]
}
