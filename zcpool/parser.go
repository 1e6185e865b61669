package zcpool

import (
	"github.com/blocksettledb/bdv-server/kvstore"
	"github.com/blocksettledb/bdv-server/kvstore/recordpb"
	"github.com/blocksettledb/bdv-server/logs"
	"github.com/pkg/errors"
)

// Resolver looks up mined-tx data for preprocessing inputs: the owning
// dbKey via TXHINTS, and the output's scrAddr/value/spent flag via
// STXO (spec.md §4.4 step 1).
type Resolver interface {
	ResolveMinedOutput(txHash [32]byte, outIndex uint16) (scrAddr []byte, value uint64, spent bool, found bool)
}

// WatchedAddresses reports whether a scrAddr is watched by any BDV
// session (union across sessions), or always-true in supernode mode
// (spec.md §4.4 step 3).
type WatchedAddresses func(scrAddr []byte) (watched bool, supernode bool)

// FilteredZcData is the per-tx outcome of the filter stage: spent-
// outpoint updates and per-scrAddr txio additions, plus whether any
// input or output touches a watched address; it does not record which
// sessions watch it (spec.md §4.4 step 3).
type FilteredZcData struct {
	Tx           *ParsedTx
	SpentUpdates [][36]byte
	ScrAddrTxios map[string][]TxIO
	Flagged      bool
}

// ActionKind distinguishes the source of a new transaction entering the
// parser's action queue (spec.md §4.4: watcher inv, getdata reply, or
// client broadcast).
type ActionKind int

// Supported action kinds.
const (
	ActionWatcherInv ActionKind = iota
	ActionGetDataReply
	ActionBroadcast
	ActionNewBlock
)

// Action is one unit of work consumed by the parser goroutine.
type Action struct {
	Kind  ActionKind
	Tx    *ParsedTx
	Purge *PurgeRequest
}

// PurgeRequest describes a block-based purge (spec.md §4.4 "Block-based
// purge"): the outpoints newly spent on the main chain, and, on a
// reorg, the transactions that moved out of the chain.
type PurgeRequest struct {
	MinedSpentOutpoints [][36]byte
	ReorgedOutTxHashes  [][32]byte
	PrevTopStillValid   bool
}

// PurgePacket is the result handed to the notification dispatcher after
// a block-based purge: invalidated ZC keys and, for survivors, the
// scrAddr -> txio-key map (spec.md §4.4).
type PurgePacket struct {
	InvalidatedZC []([32]byte)
	Survivors     map[string][][32]byte
}

// Parser owns the single goroutine that mutates mempool state. All
// publication happens via pointer.publish; readers never lock.
type Parser struct {
	ptr                *pointer
	resolver           Resolver
	watched            WatchedAddresses
	store              *kvstore.Store
	log                *logs.Logger
	mergeThreshold     int
	actions            chan Action
	done               chan struct{}
	onFiltered         func(FilteredZcData)
	onPurge            func(PurgePacket)
	nextZCID           uint32
}

// Config bundles Parser construction parameters.
type Config struct {
	Resolver       Resolver
	Watched        WatchedAddresses
	Store          *kvstore.Store
	Log            *logs.Logger
	MergeThreshold int
	OnFiltered     func(FilteredZcData)
	OnPurge        func(PurgePacket)
}

// NewParser creates a Parser with an empty snapshot.
func NewParser(cfg Config) *Parser {
	return &Parser{
		ptr:            newPointer(),
		resolver:       cfg.Resolver,
		watched:        cfg.Watched,
		store:          cfg.Store,
		log:            cfg.Log,
		mergeThreshold: cfg.MergeThreshold,
		actions:        make(chan Action, 4096),
		done:           make(chan struct{}),
		onFiltered:     cfg.OnFiltered,
		onPurge:        cfg.OnPurge,
	}
}

// Snapshot returns the currently published snapshot. Safe to call
// concurrently with Run; never blocks.
func (p *Parser) Snapshot() *Snapshot {
	return p.ptr.load()
}

// Enqueue pushes an action onto the parser's FIFO queue. Safe to call
// from any goroutine (preprocess workers, the watcher-inv thread, the
// broadcast engine).
func (p *Parser) Enqueue(a Action) {
	select {
	case p.actions <- a:
	case <-p.done:
	}
}

// Run drains the action queue on the calling goroutine until Stop is
// called; it is meant to be the body of the single dedicated parser
// thread (spec.md §5).
func (p *Parser) Run() {
	for {
		select {
		case a := <-p.actions:
			p.handle(a)
		case <-p.done:
			return
		}
	}
}

// Stop signals Run to drain and return.
func (p *Parser) Stop() {
	close(p.done)
}

func (p *Parser) handle(a Action) {
	switch a.Kind {
	case ActionWatcherInv, ActionGetDataReply, ActionBroadcast:
		p.commitTx(a.Tx)
	case ActionNewBlock:
		p.purge(a.Purge)
	}
}

// Preprocess deserializes and resolves a candidate ZC's inputs
// (spec.md §4.4 step 1-2). It does not touch the published snapshot and
// is safe to run concurrently across the preprocess worker pool.
func (p *Parser) Preprocess(tx *ParsedTx, outpoints [][36]byte) *ParsedTx {
	snapshot := p.ptr.load()

	allResolved := true
	anyUnresolved := false
	for i, outpoint := range outpoints {
		var txHash [32]byte
		copy(txHash[:], outpoint[:32])
		outIndex := uint16(outpoint[32])<<8 | uint16(outpoint[33])

		if scrAddr, value, spent, found := p.resolver.ResolveMinedOutput(txHash, outIndex); found {
			if spent {
				tx.State = StateInvalid
				return tx
			}
			tx.Inputs[i] = TxIO{ScrAddr: scrAddr, Value: value, ParentZCHash: txHash}
			continue
		}

		if parent, ok := snapshot.TxByHash(txHash); ok && int(outIndex) < len(parent.Outputs) {
			out := parent.Outputs[outIndex]
			tx.Inputs[i] = TxIO{ScrAddr: out.ScrAddr, Value: out.Value, IsChainedZc: true, ParentZCHash: txHash}
			continue
		}

		allResolved = false
		anyUnresolved = true
	}

	switch {
	case allResolved:
		tx.State = StateResolved
	case anyUnresolved:
		tx.State = StateResolveAgain
	default:
		tx.State = StateUnresolved
	}
	return tx
}

// Filter builds the FilteredZcData for a resolved tx, consulting the
// watched-address set for each input/output (spec.md §4.4 step 3).
func (p *Parser) Filter(tx *ParsedTx) FilteredZcData {
	out := FilteredZcData{Tx: tx, ScrAddrTxios: make(map[string][]TxIO)}

	for _, in := range tx.Inputs {
		watched, supernode := p.watched(in.ScrAddr)
		if watched || supernode {
			out.Flagged = true
			out.ScrAddrTxios[string(in.ScrAddr)] = append(out.ScrAddrTxios[string(in.ScrAddr)], in)
			var outpoint [36]byte
			copy(outpoint[:32], in.ParentZCHash[:])
			out.SpentUpdates = append(out.SpentUpdates, outpoint)
		}
	}
	for idx, o := range tx.Outputs {
		watched, supernode := p.watched(o.ScrAddr)
		if watched || supernode {
			out.Flagged = true
			o.OutIndex = uint16(idx)
			out.ScrAddrTxios[string(o.ScrAddr)] = append(out.ScrAddrTxios[string(o.ScrAddr)], o)
		}
	}
	return out
}

// commitTx performs the commit stage under the parser's single-threaded
// ownership: detect collisions, insert into a new snapshot, persist,
// publish, and notify (spec.md §4.4 step 4-5).
func (p *Parser) commitTx(tx *ParsedTx) {
	if tx == nil || tx.State != StateResolved {
		return
	}

	current := p.ptr.load()
	next := p.nextSnapshotForMutation(current)

	var dropped []([32]byte)
	for _, outpoint := range tx.SpentOutpoints {
		if collidingHash, ok := next.spentBy[outpoint]; ok {
			dropped = append(dropped, p.dropRecursive(next, collidingHash)...)
		}
		next.spentBy[outpoint] = tx.Hash
	}

	tx.ZCID = p.nextZCID
	p.nextZCID++
	next.byHash[tx.Hash] = tx
	for _, in := range tx.Inputs {
		if in.IsChainedZc {
			children := next.children[in.ParentZCHash]
			if children == nil {
				children = make(map[[32]byte]struct{})
				next.children[in.ParentZCHash] = children
			}
			children[tx.Hash] = struct{}{}
		}
	}
	for _, in := range tx.Inputs {
		next.byScrAddr[string(in.ScrAddr)] = append(next.byScrAddr[string(in.ScrAddr)], tx.Hash)
	}
	for _, o := range tx.Outputs {
		next.byScrAddr[string(o.ScrAddr)] = append(next.byScrAddr[string(o.ScrAddr)], tx.Hash)
	}

	if err := p.persist(tx); err != nil {
		p.log.Errorf("failed to persist ZC %x: %s", tx.Hash, err)
	}

	p.ptr.publish(next)

	if p.onFiltered != nil {
		filtered := p.Filter(tx)
		p.onFiltered(filtered)
	}
	if len(dropped) > 0 && p.onPurge != nil {
		p.onPurge(PurgePacket{InvalidatedZC: dropped})
	}
}

// nextSnapshotForMutation returns a fresh snapshot to mutate: a shallow
// copy normally, or a full rebuild once the merge counter reaches the
// configured threshold (spec.md §4.4 "Snapshot publication").
func (p *Parser) nextSnapshotForMutation(current *Snapshot) *Snapshot {
	if current.mergeCount >= p.mergeThreshold {
		rebuilt := newEmptySnapshot()
		for h, tx := range current.byHash {
			rebuilt.byHash[h] = tx
		}
		for scrAddr, hashes := range current.byScrAddr {
			rebuilt.byScrAddr[scrAddr] = append([][32]byte(nil), hashes...)
		}
		for outpoint, h := range current.spentBy {
			rebuilt.spentBy[outpoint] = h
		}
		for parent, children := range current.children {
			dup := make(map[[32]byte]struct{}, len(children))
			for c := range children {
				dup[c] = struct{}{}
			}
			rebuilt.children[parent] = dup
		}
		return rebuilt
	}
	return current.shallowCopy()
}

// dropRecursive removes hash and every transitive child of hash from
// snapshot and returns the dropped hashes (spec.md §4.4 "Collision /
// replacement"). Dropped children are not reset or re-queued for
// preprocessing.
func (p *Parser) dropRecursive(snapshot *Snapshot, hash [32]byte) []([32]byte) {
	tx, ok := snapshot.byHash[hash]
	if !ok {
		return nil
	}

	dropped := [][32]byte{hash}
	children := snapshot.children[hash]
	delete(snapshot.children, hash)
	for child := range children {
		dropped = append(dropped, p.dropRecursive(snapshot, child)...)
	}

	delete(snapshot.byHash, hash)
	for _, in := range tx.Inputs {
		removeHashFromIndex(snapshot.byScrAddr, in.ScrAddr, hash)
	}
	for _, o := range tx.Outputs {
		removeHashFromIndex(snapshot.byScrAddr, o.ScrAddr, hash)
	}
	for _, outpoint := range tx.SpentOutpoints {
		if snapshot.spentBy[outpoint] == hash {
			delete(snapshot.spentBy, outpoint)
		}
	}

	return dropped
}

func removeHashFromIndex(index map[string][][32]byte, scrAddr []byte, hash [32]byte) {
	key := string(scrAddr)
	hashes := index[key]
	for i, h := range hashes {
		if h == hash {
			index[key] = append(hashes[:i], hashes[i+1:]...)
			break
		}
	}
	if len(index[key]) == 0 {
		delete(index, key)
	}
}

// purge handles a new-block or reorg event (spec.md §4.4 "Block-based
// purge"): drop every ZC spending a now-mined outpoint, and on a reorg
// additionally drop every ZC whose inputs referenced reorged-out txs.
func (p *Parser) purge(req *PurgeRequest) {
	if req == nil {
		return
	}

	current := p.ptr.load()
	next := p.nextSnapshotForMutation(current)

	var invalidated []([32]byte)
	for _, outpoint := range req.MinedSpentOutpoints {
		if hash, ok := next.spentBy[outpoint]; ok {
			invalidated = append(invalidated, p.dropRecursive(next, hash)...)
		}
	}

	if !req.PrevTopStillValid {
		for hash, tx := range next.byHash {
			for _, in := range tx.Inputs {
				for _, reorged := range req.ReorgedOutTxHashes {
					if in.ParentZCHash == reorged {
						invalidated = append(invalidated, p.dropRecursive(next, hash)...)
					}
				}
			}
		}
	}

	p.ptr.publish(next)

	if p.onPurge != nil {
		survivors := make(map[string][][32]byte)
		for h, tx := range next.byHash {
			for _, in := range tx.Inputs {
				survivors[string(in.ScrAddr)] = append(survivors[string(in.ScrAddr)], h)
			}
		}
		p.onPurge(PurgePacket{InvalidatedZC: invalidated, Survivors: survivors})
	}
}

func (p *Parser) persist(tx *ParsedTx) error {
	if p.store == nil {
		return nil
	}
	zcKey := kvstore.ZCTxKey(tx.ZCID)
	key, err := p.store.WithKey(kvstore.TableZeroConf, kvstore.ZCDBTxKey(zcKey))
	if err != nil {
		return err
	}
	dbTx, err := p.store.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin ZC persist transaction")
	}
	defer dbTx.RollbackUnlessClosed()
	if err := dbTx.Put(key, tx.Raw); err != nil {
		return err
	}
	for idx, o := range tx.Outputs {
		outKey, err := p.store.WithKey(kvstore.TableZeroConf, kvstore.ZCDBOutputKey(zcKey, uint16(idx)))
		if err != nil {
			return err
		}
		rec := recordpb.ZCOutputRecord{ScrAddr: o.ScrAddr, Value: o.Value}
		if err := dbTx.Put(outKey, rec.Marshal()); err != nil {
			return err
		}
	}
	return dbTx.Commit()
}
