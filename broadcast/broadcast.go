// Package broadcast implements the broadcast batch engine of
// spec.md §4.4 "Broadcast batches": a watcher map tracking in-flight
// raw transactions by hash, batches of outstanding getdata requests
// with timeouts, and the RPC fallback path for hashes the peer never
// inv'd back.
package broadcast

import (
	"sync"
	"time"

	"github.com/blocksettledb/bdv-server/bdverrors"
	"github.com/blocksettledb/bdv-server/logs"
)

// Requestor identifies the BDV session (and request id) that asked for
// a broadcast.
type Requestor struct {
	BDVID     string
	RequestID string
}

// WatcherEntry tracks one in-flight raw transaction, possibly requested
// by more than one originator (spec.md §4.4 "Extra requestors").
type WatcherEntry struct {
	RawTx             []byte
	Primary           Requestor
	ExtraRequestors   []Requestor
	Inved             bool
	IgnoreWatcherInv  bool
}

// BatchResult pairs a transaction hash with its structured error. The
// engine does not produce BatchResult values itself: a batch's
// errorCallback is never set or invoked, and per-tx outcomes are
// reported through the NotifySuccess/NotifyError callbacks given to New.
type BatchResult struct {
	Hash [32]byte
	Err  *bdverrors.Structured
}

// Batch is one broadcast request: a set of raw transactions from a
// single originator.
type Batch struct {
	Requestor    Requestor
	pending      map[[32]byte]struct{}
	counter      int
	timeout      time.Duration
	timer        *time.Timer
	errorCallback func(BatchResult)
	mu           sync.Mutex
	done         bool
}

// PeerTransport is the minimal peer-node surface the engine drives: inv
// and getdata outbound messages (spec.md §6 "Peer P2P").
type PeerTransport interface {
	SendInv(hash [32]byte)
	SendGetData(hash [32]byte)
}

// RPCFallback submits a raw transaction via JSON-RPC when the peer
// times out on it (spec.md §4.4 step 5).
type RPCFallback func(rawTx []byte) *bdverrors.Structured

// NotifySuccess and NotifyError deliver broadcast outcomes to sessions
// (spec.md §4.4 "Extra requestors").
type NotifySuccess func(r Requestor, hash [32]byte)
type NotifyError func(r Requestor, hash [32]byte, err *bdverrors.Structured)

// Engine owns the watcher map and outstanding batches.
type Engine struct {
	mu       sync.Mutex
	watchers map[[32]byte]*WatcherEntry
	batches  map[[32]byte]*Batch // tx hash -> owning batch

	peer          PeerTransport
	rpcFallback   RPCFallback
	notifySuccess NotifySuccess
	notifyError   NotifyError
	defaultTimeout time.Duration
	log           *logs.Logger
}

// New creates an Engine.
func New(peer PeerTransport, rpcFallback RPCFallback, notifySuccess NotifySuccess, notifyError NotifyError,
	defaultTimeout time.Duration, log *logs.Logger) *Engine {
	return &Engine{
		watchers:       make(map[[32]byte]*WatcherEntry),
		batches:        make(map[[32]byte]*Batch),
		peer:           peer,
		rpcFallback:    rpcFallback,
		notifySuccess:  notifySuccess,
		notifyError:    notifyError,
		defaultTimeout: defaultTimeout,
		log:            log,
	}
}

// Submit starts a new broadcast batch for rawTxs from a single
// originator (spec.md §4.4 step 1-3).
func (e *Engine) Submit(origin Requestor, hashes [][32]byte, rawTxs [][]byte) {
	e.mu.Lock()

	batch := &Batch{Requestor: origin, pending: make(map[[32]byte]struct{})}
	var toInv [][32]byte
	var alreadyPending [][32]byte

	for i, hash := range hashes {
		entry, exists := e.watchers[hash]
		if exists {
			entry.ExtraRequestors = append(entry.ExtraRequestors, origin)
			alreadyPending = append(alreadyPending, hash)
			continue
		}

		e.watchers[hash] = &WatcherEntry{RawTx: rawTxs[i], Primary: origin}
		e.batches[hash] = batch
		batch.pending[hash] = struct{}{}
		toInv = append(toInv, hash)
	}
	batch.counter = len(batch.pending)
	timeout := e.defaultTimeout
	e.mu.Unlock()

	for _, hash := range alreadyPending {
		e.notifyError(origin, hash, bdverrors.New(bdverrors.CodeZcBroadcastAlreadyInMempool, origin.RequestID, "already in mempool"))
	}

	if batch.counter == 0 {
		return
	}

	batch.timeout = timeout
	batch.timer = time.AfterFunc(timeout, func() { e.onBatchTimeout(batch) })

	for _, hash := range toInv {
		e.peer.SendInv(hash)
	}
}

// OnGetData is the peer getdata-reply callback: it marks the hash as
// inv'd back and decrements its batch counter, firing the batch once
// every pending tx has resolved (spec.md §4.4 step 3-4).
func (e *Engine) OnGetData(hash [32]byte, rawTx []byte) {
	e.mu.Lock()
	entry, ok := e.watchers[hash]
	if ok {
		entry.Inved = true
		entry.RawTx = rawTx
	}
	batch, hasBatch := e.batches[hash]
	e.mu.Unlock()

	if !ok || !hasBatch {
		return
	}
	e.resolveOne(batch, hash, nil)
}

// OnReject is the peer getdata-reply callback for a reject payload; it
// resolves the hash's batch slot with an error (spec.md §4.4 step 4).
func (e *Engine) OnReject(hash [32]byte, code int32, message string) {
	e.mu.Lock()
	batch, hasBatch := e.batches[hash]
	e.mu.Unlock()
	if !hasBatch {
		return
	}
	e.resolveOne(batch, hash, bdverrors.New(bdverrors.Code(code), batch.Requestor.RequestID, message))
}

func (e *Engine) resolveOne(batch *Batch, hash [32]byte, zcErr *bdverrors.Structured) {
	batch.mu.Lock()
	if batch.done {
		batch.mu.Unlock()
		return
	}
	delete(batch.pending, hash)
	batch.counter--
	ready := batch.counter == 0
	batch.mu.Unlock()

	e.finishHash(batch, hash, zcErr)

	if ready {
		e.finishBatch(batch)
	}
}

func (e *Engine) finishHash(batch *Batch, hash [32]byte, zcErr *bdverrors.Structured) {
	e.mu.Lock()
	entry := e.watchers[hash]
	delete(e.watchers, hash)
	delete(e.batches, hash)
	e.mu.Unlock()

	if entry == nil {
		return
	}

	if zcErr != nil {
		e.notifyError(entry.Primary, hash, zcErr)
		for _, extra := range entry.ExtraRequestors {
			e.notifyError(extra, hash, zcErr)
		}
		return
	}

	e.notifySuccess(entry.Primary, hash)
	for _, extra := range entry.ExtraRequestors {
		e.notifySuccess(Requestor{BDVID: extra.BDVID}, hash)
	}
}

func (e *Engine) finishBatch(batch *Batch) {
	batch.mu.Lock()
	if batch.done {
		batch.mu.Unlock()
		return
	}
	batch.done = true
	if batch.timer != nil {
		batch.timer.Stop()
	}
	batch.mu.Unlock()
}

// onBatchTimeout fires the remaining pending hashes to the RPC fallback
// (spec.md §4.4 step 5: "a timeout still parses the txs that were inv'd
// back").
func (e *Engine) onBatchTimeout(batch *Batch) {
	batch.mu.Lock()
	if batch.done {
		batch.mu.Unlock()
		return
	}
	batch.done = true
	remaining := make([][32]byte, 0, len(batch.pending))
	for h := range batch.pending {
		remaining = append(remaining, h)
	}
	batch.mu.Unlock()

	for _, hash := range remaining {
		e.mu.Lock()
		entry := e.watchers[hash]
		e.mu.Unlock()
		if entry == nil || entry.Inved {
			continue
		}

		if e.rpcFallback != nil {
			if rpcErr := e.rpcFallback(entry.RawTx); rpcErr != nil {
				e.finishHash(batch, hash, rpcErr)
				continue
			}
			e.finishHash(batch, hash, nil)
			continue
		}
		e.finishHash(batch, hash, bdverrors.New(bdverrors.CodeZcBatchTimeout, batch.Requestor.RequestID, "broadcast batch timed out"))
	}
}

// MarkAlreadyInChain resolves hash as already mined, per spec.md §4.4
// step 5.
func (e *Engine) MarkAlreadyInChain(hash [32]byte) {
	e.mu.Lock()
	batch, hasBatch := e.batches[hash]
	e.mu.Unlock()
	if !hasBatch {
		return
	}
	e.resolveOne(batch, hash, bdverrors.New(bdverrors.CodeZcBroadcastAlreadyInChain, batch.Requestor.RequestID, "already in chain"))
}
