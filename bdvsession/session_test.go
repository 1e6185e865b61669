package bdvsession

import (
	"sync"
	"testing"
	"time"

	"github.com/blocksettledb/bdv-server/notify"
	"github.com/blocksettledb/bdv-server/scraddr"
)

type recordingTransport struct {
	mu      sync.Mutex
	replies []Reply
	events  []notify.Event
}

func (t *recordingTransport) SendReply(r Reply) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.replies = append(t.replies, r)
}

func (t *recordingTransport) SendNotify(e notify.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, e)
}

func (t *recordingTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.replies)
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	d := notify.New(2)
	t.Cleanup(d.Stop)
	m, err := NewManager(d, 32)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestRegisterBDVRejectsWrongMagic(t *testing.T) {
	m := newTestManager(t)
	_, err := m.RegisterBDV([4]byte{1, 2, 3, 4}, [4]byte{9, 9, 9, 9}, &recordingTransport{})
	if err == nil {
		t.Fatalf("expected magic mismatch error")
	}
}

func TestShutdownRequiresExactCookie(t *testing.T) {
	m := newTestManager(t)
	if m.Shutdown([]byte("wrong")) {
		t.Fatalf("expected shutdown to reject an incorrect cookie")
	}
	if !m.Shutdown(m.Cookie()) {
		t.Fatalf("expected shutdown to accept the real cookie")
	}
}

func TestDispatchReassemblesMultiPacketMessage(t *testing.T) {
	m := newTestManager(t)
	tr := &recordingTransport{}
	sess, err := m.RegisterBDV([4]byte{1, 2, 3, 4}, [4]byte{1, 2, 3, 4}, tr)
	if err != nil {
		t.Fatalf("RegisterBDV: %v", err)
	}

	var got []byte
	process := func(complete []byte) Reply {
		got = complete
		return Reply{MessageID: 1}
	}

	spill := sess.Dispatch(Message{ID: 1, PacketIdx: 0, PacketCount: 2, Payload: []byte("hel")}, process)
	if spill {
		t.Fatalf("did not expect spill while reassembly is incomplete")
	}
	if got != nil {
		t.Fatalf("expected process not to run until all packets arrive")
	}

	spill = sess.Dispatch(Message{ID: 1, PacketIdx: 1, PacketCount: 2, Payload: []byte("lo")}, process)
	if spill {
		t.Fatalf("did not expect spill on completing reassembly")
	}
	if string(got) != "hello" {
		t.Fatalf("expected reassembled payload 'hello', got %q", got)
	}
}

func TestDispatchRejectsOutOfOrderMessage(t *testing.T) {
	m := newTestManager(t)
	tr := &recordingTransport{}
	sess, err := m.RegisterBDV([4]byte{1, 2, 3, 4}, [4]byte{1, 2, 3, 4}, tr)
	if err != nil {
		t.Fatalf("RegisterBDV: %v", err)
	}

	process := func(complete []byte) Reply { return Reply{} }

	sess.Dispatch(Message{ID: 1, PacketCount: 1, Payload: []byte("a")}, process)
	spill := sess.Dispatch(Message{ID: 3, PacketCount: 1, Payload: []byte("c")}, process)
	if !spill {
		t.Fatalf("expected out-of-order message id to be spilled")
	}
}

func TestRegisterWalletDeliversRefreshOnCompletion(t *testing.T) {
	m := newTestManager(t)
	tr := &recordingTransport{}
	sess, err := m.RegisterBDV([4]byte{1, 2, 3, 4}, [4]byte{1, 2, 3, 4}, tr)
	if err != nil {
		t.Fatalf("RegisterBDV: %v", err)
	}

	done := make(chan struct{})
	scan := func(walletID string, addrs []scraddr.ScrAddr, incremental bool) error {
		close(done)
		return nil
	}

	sess.RegisterWallet("wallet1", nil, true, "reg1", scan)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected scan callback to run")
	}
}

func TestCombinedBalanceSumsAcrossWallets(t *testing.T) {
	m := newTestManager(t)
	tr := &recordingTransport{}
	sess, err := m.RegisterBDV([4]byte{1, 2, 3, 4}, [4]byte{1, 2, 3, 4}, tr)
	if err != nil {
		t.Fatalf("RegisterBDV: %v", err)
	}

	done := make(chan struct{}, 2)
	scan := func(walletID string, addrs []scraddr.ScrAddr, incremental bool) error {
		done <- struct{}{}
		return nil
	}
	sess.RegisterWallet("w1", nil, true, "r1", scan)
	sess.RegisterWallet("w2", nil, true, "r2", scan)
	<-done
	<-done

	lookup := func(walletID string) WalletBalance {
		return WalletBalance{WalletID: walletID, Spendable: 100, TxCount: 1}
	}
	total := sess.CombinedBalance(lookup)
	if total.Spendable != 200 || total.TxCount != 2 {
		t.Fatalf("expected combined balance to sum both wallets, got %+v", total)
	}
}
