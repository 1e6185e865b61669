// Package notify implements the notification dispatcher of spec.md
// §4.7: event kinds, ordering rules, and per-session serialization via
// spin-lock retry rather than global serialization. The underlying
// non-blocking queue drain is grounded on the teacher's queueHandler
// (infrastructure/network/rpc/rpcwebsocket.go); the worker pool plus
// per-session spin-lock is this package's generalization of that
// pattern to spec.md §5's "pool of notification workers... under a
// per-session spin-lock" model.
package notify

import (
	"sync"
	"sync/atomic"

	"github.com/blocksettledb/bdv-server/bdverrors"
	"github.com/blocksettledb/bdv-server/ledger"
)

// Kind is one of the notification event kinds of spec.md §4.7.
type Kind int

// Supported event kinds.
const (
	KindReady Kind = iota
	KindNewBlock
	KindZC
	KindRefresh
	KindProgress
	KindNodeStatus
	KindError
	KindInvalidatedZC
)

// NewBlockPayload carries a new_block notification's body.
type NewBlockPayload struct {
	Height            uint32
	BranchHeight      *uint32
	InvalidatedZCKeys [][32]byte
}

// ZCPayload carries a zc notification's body.
type ZCPayload struct {
	LedgerEntries []ledger.Entry
	RequestID     string // set only when part of a broadcast
}

// RefreshPayload carries a refresh notification's body.
type RefreshPayload struct {
	RefreshID string
}

// Event is one notification queued for delivery to a single session.
type Event struct {
	Kind     Kind
	NewBlock *NewBlockPayload
	ZC       *ZCPayload
	Refresh  *RefreshPayload
	Error    *bdverrors.Structured
}

// Sink is the transport-facing delivery point for one session's
// events, supplied by bdvsession.
type Sink interface {
	Deliver(Event)
}

// session holds one registered session's pending events and the
// spin-lock flag that guarantees at most one in-flight delivery for it
// at a time.
type session struct {
	id   string
	sink Sink

	mu      sync.Mutex
	pending []Event
	busy    atomic.Bool
}

// Dispatcher fans bdv-wide notifications out to sessions. A fixed pool
// of worker goroutines consumes a shared "session has work" signal
// channel; a worker that finds its target session already busy
// re-queues the signal instead of blocking, so one slow session never
// serializes delivery to the others (spec.md §4.7).
type Dispatcher struct {
	mu       sync.RWMutex
	sessions map[string]*session

	ready chan string
	quit  chan struct{}
	wg    sync.WaitGroup
}

// New creates a Dispatcher and starts its worker pool.
func New(workers int) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	d := &Dispatcher{
		sessions: make(map[string]*session),
		ready:    make(chan string, 4096),
		quit:     make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Register adds a session and sends it its mandatory first event,
// `ready` (spec.md §4.7: "ready is the first notification a session
// receives").
func (d *Dispatcher) Register(id string, sink Sink) {
	d.mu.Lock()
	d.sessions[id] = &session{id: id, sink: sink}
	d.mu.Unlock()

	d.Notify(id, Event{Kind: KindReady})
}

// Unregister removes a session. Events already queued for it are
// dropped once its worker observes the deletion.
func (d *Dispatcher) Unregister(id string) {
	d.mu.Lock()
	delete(d.sessions, id)
	d.mu.Unlock()
}

// Notify queues an event for delivery to a single session.
func (d *Dispatcher) Notify(sessionID string, e Event) {
	d.mu.RLock()
	s, ok := d.sessions[sessionID]
	d.mu.RUnlock()
	if !ok {
		return
	}

	s.mu.Lock()
	s.pending = append(s.pending, e)
	s.mu.Unlock()

	select {
	case d.ready <- sessionID:
	case <-d.quit:
	}
}

// Broadcast queues an event for delivery to every registered session,
// e.g. new_block and node_status (spec.md §4.7).
func (d *Dispatcher) Broadcast(e Event) {
	d.mu.RLock()
	ids := make([]string, 0, len(d.sessions))
	for id := range d.sessions {
		ids = append(ids, id)
	}
	d.mu.RUnlock()

	for _, id := range ids {
		d.Notify(id, e)
	}
}

// Stop halts the worker pool.
func (d *Dispatcher) Stop() {
	close(d.quit)
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case id := <-d.ready:
			d.tryDeliver(id)
		case <-d.quit:
			return
		}
	}
}

// tryDeliver attempts to claim sessionID's busy flag and deliver its
// next pending event. If the session is already busy (another worker
// is mid-delivery for it), the signal is re-queued rather than this
// worker blocking — the spin-lock-retry policy of spec.md §4.7.
func (d *Dispatcher) tryDeliver(sessionID string) {
	d.mu.RLock()
	s, ok := d.sessions[sessionID]
	d.mu.RUnlock()
	if !ok {
		return
	}

	if !s.busy.CompareAndSwap(false, true) {
		select {
		case d.ready <- sessionID:
		case <-d.quit:
		}
		return
	}
	defer s.busy.Store(false)

	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	e := s.pending[0]
	s.pending = s.pending[1:]
	more := len(s.pending) > 0
	s.mu.Unlock()

	s.sink.Deliver(e)

	if more {
		select {
		case d.ready <- sessionID:
		case <-d.quit:
		}
	}
}
