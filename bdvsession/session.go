// Package bdvsession implements per-client BDV session state and its
// request surface (spec.md §4.6): wallet/address registration, message
// reassembly in strict sender order, and the query/broadcast commands.
// Ordered dispatch under a per-session spin-lock is grounded on the
// teacher's wsClient command-queue handling in
// infrastructure/network/rpc/rpcwebsocket.go.
package bdvsession

import (
	"crypto/rand"
	"crypto/subtle"
	"sync"
	"sync/atomic"

	"github.com/blocksettledb/bdv-server/ledger"
	"github.com/blocksettledb/bdv-server/notify"
	"github.com/blocksettledb/bdv-server/scraddr"
	"github.com/pkg/errors"
)

// Wallet is one registered wallet's watched address set.
type Wallet struct {
	ID    string
	Addrs *scraddr.Set
	IsNew bool
}

// Message is one inbound client command, possibly one packet of a
// larger multi-packet message (spec.md §4.6 "the session reassembles
// multi-packet messages").
type Message struct {
	ID          uint64
	PacketIdx   uint32
	PacketCount uint32
	Payload     []byte
}

// Reply is the single response produced for a command that has a
// return value; broadcasts and unregistrations produce none
// (spec.md §4.6).
type Reply struct {
	MessageID uint64
	Payload   []byte
	Err       error
}

// Transport is the outbound surface a session uses to deliver replies
// and notifications.
type Transport interface {
	SendReply(Reply)
	SendNotify(notify.Event)
}

// Session is one connected client's state.
type Session struct {
	ID     string
	magic  [4]byte
	online atomic.Bool

	mu      sync.Mutex
	wallets map[string]*Wallet

	nextExpectedMsgID uint64
	pendingPackets    map[uint64][][]byte
	pendingCounts     map[uint64]uint32

	busy atomic.Bool

	transport Transport
	notifier  *notify.Dispatcher
}

// Manager owns every connected session and the shutdown cookie.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	notifier *notify.Dispatcher
	cookie   []byte
}

// NewManager creates a Manager with a freshly generated shutdown cookie
// (spec.md §6: "a fixed-length random token established at process
// start").
func NewManager(notifier *notify.Dispatcher, cookieLen int) (*Manager, error) {
	cookie := make([]byte, cookieLen)
	if _, err := rand.Read(cookie); err != nil {
		return nil, errors.Wrap(err, "failed to generate shutdown cookie")
	}
	return &Manager{sessions: make(map[string]*Session), notifier: notifier, cookie: cookie}, nil
}

// Cookie returns the process-spawn shutdown secret, for out-of-band
// delivery to trusted operators (e.g. written to a file at startup).
func (m *Manager) Cookie() []byte {
	return m.cookie
}

// RegisterBDV validates the network magic and returns a freshly
// created session with an opaque id (spec.md §4.6 register_bdv).
func (m *Manager) RegisterBDV(magic [4]byte, wantMagic [4]byte, transport Transport) (*Session, error) {
	if magic != wantMagic {
		return nil, errors.New("bdvsession: network magic mismatch")
	}

	id, err := randomID(10)
	if err != nil {
		return nil, err
	}

	s := &Session{
		ID:             id,
		magic:          magic,
		wallets:        make(map[string]*Wallet),
		pendingPackets: make(map[uint64][][]byte),
		pendingCounts:  make(map[uint64]uint32),
		transport:      transport,
		notifier:       m.notifier,
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	m.notifier.Register(id, sessionSink{transport})
	return s, nil
}

type sessionSink struct {
	transport Transport
}

func (s sessionSink) Deliver(e notify.Event) {
	if s.transport == nil {
		return
	}
	s.transport.SendNotify(e)
}

// Unregister tears a session down and stops its notification queue.
func (m *Manager) Unregister(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	m.notifier.Unregister(id)
}

// Shutdown checks the shutdown cookie byte-exact and, on match, returns
// true to let the caller proceed with the shutdown sequence; a mismatch
// is a silent no-op (spec.md §6).
func (m *Manager) Shutdown(cookie []byte) bool {
	return subtle.ConstantTimeCompare(cookie, m.cookie) == 1
}

func randomID(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "failed to generate session id")
	}
	const hextable = "0123456789abcdef"
	out := make([]byte, 2*n)
	for i, c := range b {
		out[2*i] = hextable[c>>4]
		out[2*i+1] = hextable[c&0x0f]
	}
	return string(out), nil
}

// GoOnline starts the session's initial scan (spec.md §4.6 go_online).
func (s *Session) GoOnline() {
	s.online.Store(true)
}

// IsOnline reports whether the session has completed go_online.
func (s *Session) IsOnline() bool {
	return s.online.Load()
}

// RegisterWallet queues addrs for scanning (spec.md §4.6
// register_wallet): if the session is not yet online the set is queued
// for the initial scan; otherwise it is scanned incrementally. Either
// way, completion is delivered asynchronously via a refresh
// notification carrying registrationID; if scan returns an error, an
// error notification with no payload is delivered instead.
func (s *Session) RegisterWallet(walletID string, addrs []scraddr.ScrAddr, isNew bool, registrationID string,
	scan func(walletID string, addrs []scraddr.ScrAddr, incremental bool) error) {

	s.mu.Lock()
	w, exists := s.wallets[walletID]
	if !exists {
		w = &Wallet{ID: walletID, Addrs: scraddr.NewSet(), IsNew: isNew}
		s.wallets[walletID] = w
	}
	for _, a := range addrs {
		w.Addrs.Add(a)
	}
	incremental := s.online.Load()
	s.mu.Unlock()

	go func() {
		err := scan(walletID, addrs, incremental)
		s.deliverRefresh(registrationID, err)
	}()
}

func (s *Session) deliverRefresh(refreshID string, err error) {
	evt := notify.Event{Kind: notify.KindRefresh, Refresh: &notify.RefreshPayload{RefreshID: refreshID}}
	if err != nil {
		evt = notify.Event{Kind: notify.KindError, Error: nil}
	}
	s.notifier.Notify(s.ID, evt)
}

// UnregisterAddresses drops walletID's watch on addrs from this
// session. globalRemove is called for every address in addrs; deciding
// whether another session still watches it is left to globalRemove
// (spec.md §4.6 unregister_addresses).
func (s *Session) UnregisterAddresses(walletID string, addrs []scraddr.ScrAddr, refreshID string,
	globalRemove func(addr scraddr.ScrAddr)) {

	s.mu.Lock()
	w, ok := s.wallets[walletID]
	if ok {
		for _, a := range addrs {
			w.Addrs.Remove(a)
			globalRemove(a)
		}
	}
	s.mu.Unlock()

	s.deliverRefresh(refreshID, nil)
}

// WalletBalance is the minimal balances/tx-count summary for one
// wallet, combined across its addresses (spec.md §4.6 "Queries").
type WalletBalance struct {
	WalletID    string
	Spendable   int64
	Unconfirmed int64
	TxCount     uint64
}

// CombinedBalance sums WalletBalance across every wallet registered to
// this session (spec.md §4.6 "combined across wallets").
func (s *Session) CombinedBalance(lookup func(walletID string) WalletBalance) WalletBalance {
	s.mu.Lock()
	ids := make([]string, 0, len(s.wallets))
	for id := range s.wallets {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var total WalletBalance
	for _, id := range ids {
		b := lookup(id)
		total.Spendable += b.Spendable
		total.Unconfirmed += b.Unconfirmed
		total.TxCount += b.TxCount
	}
	return total
}

// LedgerPage returns page pageIdx of walletID's ledger history.
func (s *Session) LedgerPage(walletID string, pageIdx uint32, fetch func(walletID string, pageIdx uint32) (ledger.Page, error)) (ledger.Page, error) {
	return fetch(walletID, pageIdx)
}

// Dispatch reassembles a possibly-multi-packet Message and, once
// complete, processes it strictly in id order: a per-session spin-lock
// guards entry into the processing path; on contention the packet is
// handed back to the caller (spill to the shared queue) instead of
// blocking this goroutine (spec.md §4.6).
func (s *Session) Dispatch(msg Message, process func(complete []byte) Reply) (spill bool) {
	s.mu.Lock()
	if msg.PacketCount > 1 {
		slots := s.pendingPackets[msg.ID]
		if slots == nil {
			slots = make([][]byte, msg.PacketCount)
			s.pendingPackets[msg.ID] = slots
		}
		slots[msg.PacketIdx] = msg.Payload
		s.pendingCounts[msg.ID]++
		if s.pendingCounts[msg.ID] < msg.PacketCount {
			s.mu.Unlock()
			return false
		}
	}
	if msg.ID != s.nextExpectedMsgID && s.nextExpectedMsgID != 0 {
		s.mu.Unlock()
		return true
	}
	if !s.busy.CompareAndSwap(false, true) {
		s.mu.Unlock()
		return true
	}
	defer s.busy.Store(false)
	var complete []byte
	if msg.PacketCount > 1 {
		for _, p := range s.pendingPackets[msg.ID] {
			complete = append(complete, p...)
		}
		delete(s.pendingPackets, msg.ID)
		delete(s.pendingCounts, msg.ID)
	} else {
		complete = msg.Payload
	}
	s.nextExpectedMsgID = msg.ID + 1
	s.mu.Unlock()

	reply := process(complete)
	if s.transport != nil {
		s.transport.SendReply(reply)
	}
	return false
}
