package broadcast

import (
	"sync"
	"testing"
	"time"

	"github.com/blocksettledb/bdv-server/bdverrors"
	"github.com/blocksettledb/bdv-server/logger"
)

type fakePeer struct {
	mu      sync.Mutex
	invd    [][32]byte
	getdata [][32]byte
}

func (p *fakePeer) SendInv(hash [32]byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.invd = append(p.invd, hash)
}

func (p *fakePeer) SendGetData(hash [32]byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.getdata = append(p.getdata, hash)
}

func newTestEngine(t *testing.T, peer *fakePeer, successes *[]Requestor, errs *[]error) *Engine {
	t.Helper()
	log, _ := logger.Get(logger.SubsystemBroadcast)
	var mu sync.Mutex
	return New(peer, nil,
		func(r Requestor, hash [32]byte) {
			mu.Lock()
			defer mu.Unlock()
			*successes = append(*successes, r)
		},
		func(r Requestor, hash [32]byte, err *bdverrors.Structured) {
			mu.Lock()
			defer mu.Unlock()
			*errs = append(*errs, err)
		},
		50*time.Millisecond, log)
}

func TestSubmitSendsInvForNewHashes(t *testing.T) {
	peer := &fakePeer{}
	var successes []Requestor
	var errs []error
	e := newTestEngine(t, peer, &successes, &errs)

	hash := [32]byte{1}
	e.Submit(Requestor{BDVID: "bdv1", RequestID: "r1"}, [][32]byte{hash}, [][]byte{[]byte("rawtx")})

	peer.mu.Lock()
	defer peer.mu.Unlock()
	if len(peer.invd) != 1 || peer.invd[0] != hash {
		t.Fatalf("expected inv to be sent for the new hash")
	}
}

func TestSecondRequestorMarkedAlreadyInMempool(t *testing.T) {
	peer := &fakePeer{}
	var successes []Requestor
	var errs []error
	e := newTestEngine(t, peer, &successes, &errs)

	hash := [32]byte{2}
	e.Submit(Requestor{BDVID: "bdv1", RequestID: "r1"}, [][32]byte{hash}, [][]byte{[]byte("rawtx")})
	e.Submit(Requestor{BDVID: "bdv2", RequestID: "r2"}, [][32]byte{hash}, [][]byte{[]byte("rawtx")})

	if len(errs) != 1 {
		t.Fatalf("expected exactly one AlreadyInMempool error, got %d", len(errs))
	}
}

func TestGetDataResolvesBatchWithSuccess(t *testing.T) {
	peer := &fakePeer{}
	var successes []Requestor
	var errs []error
	e := newTestEngine(t, peer, &successes, &errs)

	hash := [32]byte{3}
	e.Submit(Requestor{BDVID: "bdv1", RequestID: "r1"}, [][32]byte{hash}, [][]byte{[]byte("rawtx")})
	e.OnGetData(hash, []byte("rawtx"))

	if len(successes) != 1 || successes[0].BDVID != "bdv1" {
		t.Fatalf("expected success notification to the primary requestor")
	}
}
