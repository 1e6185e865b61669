// Command bdvserver runs the BDV server: it loads configuration, opens
// the KV store, builds the header index, runs the initial load, and
// serves sessions and healthz until interrupted. Structured as a thin
// main wrapping a bdvServer type, the same shape as the teacher's
// kaspad.go start/stop wrapper.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/blocksettledb/bdv-server/bdverrors"
	"github.com/blocksettledb/bdv-server/bdvsession"
	"github.com/blocksettledb/bdv-server/blockparse"
	"github.com/blocksettledb/bdv-server/broadcast"
	"github.com/blocksettledb/bdv-server/config"
	"github.com/blocksettledb/bdv-server/dbbuilder"
	"github.com/blocksettledb/bdv-server/headerindex"
	"github.com/blocksettledb/bdv-server/healthz"
	"github.com/blocksettledb/bdv-server/kvstore"
	"github.com/blocksettledb/bdv-server/kvstore/ldb"
	"github.com/blocksettledb/bdv-server/logger"
	"github.com/blocksettledb/bdv-server/notify"
	"github.com/blocksettledb/bdv-server/sshscan"
	"github.com/blocksettledb/bdv-server/util/panics"
	"github.com/blocksettledb/bdv-server/zcpool"
	"github.com/pkg/errors"
)

// loggingPeer discards outbound inv/getdata without logging or writing
// them to a real P2P connection; wiring a live peer is left to the
// deployment that embeds this package against its own node connection.
type loggingPeer struct{}

func (loggingPeer) SendInv(hash [32]byte) {}
func (loggingPeer) SendGetData(hash [32]byte) {}

// txhintsResolver adapts the KV store's TXHINTS/STXO tables to
// zcpool.Resolver, so preprocessing can tell whether a referenced
// input is already mined. It returns the STXO row's scrAddr with a
// value of 0 and always reports the output as unspent.
type txhintsResolver struct {
	store *kvstore.Store
}

func (r *txhintsResolver) ResolveMinedOutput(txHash [32]byte, outIndex uint16) ([]byte, uint64, bool, bool) {
	txKey, found, err := r.store.Get(kvstore.TableTxHints, kvstore.TxHintsKey(txHash[:]))
	if err != nil || !found {
		return nil, 0, false, false
	}
	val, found, err := r.store.Get(kvstore.TableSTXO, kvstore.STXOKey(txKey, outIndex))
	if err != nil || !found {
		return nil, 0, false, false
	}
	return val, 0, false, true
}

// blockReader is the sshscan block walker used by the server. It only
// checks that the header index has a header at (height, dupID); it does
// not read the block from disk and returns no txio events.
type blockReader struct {
	blockDir string
	magic    [4]byte
	index    *headerindex.Index
}

func (br *blockReader) WalkBlock(height uint32, dupID byte) ([]sshscan.TxioUpdate, error) {
	header, ok := br.index.HeaderByHeight(height, dupID)
	if !ok {
		return nil, errors.Errorf("blockReader: no header at height %d dup %d", height, dupID)
	}
	_ = header
	// A full implementation reads the block at its recorded file
	// offset and derives txio events from its outputs/inputs; offsets
	// are not retained on Header today, so this is a narrow stub
	// callers can extend once block-location bookkeeping lands in
	// headerindex.
	return nil, nil
}

type bdvServer struct {
	cfg       *config.Config
	store     *kvstore.Store
	index     *headerindex.Index
	dispatch  *notify.Dispatcher
	sessions  *bdvsession.Manager
	builder   *dbbuilder.Builder
	scanner   *sshscan.Scanner
	broadcast *broadcast.Engine
	zcParser  *zcpool.Parser
	health    *healthz.Server

	watched    sync.Mutex
	watchedSet map[string]struct{}

	started, shutdown int32
}

func newBDVServer(cfg *config.Config) (*bdvServer, error) {
	magicBytes, err := hex.DecodeString(cfg.NetworkMagic)
	if err != nil || len(magicBytes) != 4 {
		return nil, errors.New("invalid --netmagic")
	}
	var magic [4]byte
	copy(magic[:], magicBytes)

	db, err := ldb.Open(cfg.DataDir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open KV store")
	}
	store := kvstore.NewStore(db)
	index := headerindex.New()

	dispatch := notify.New(cfg.NotifyWorkers)
	sessions, err := bdvsession.NewManager(dispatch, config.DefaultShutdownCookieLen)
	if err != nil {
		return nil, err
	}

	s := &bdvServer{
		cfg:        cfg,
		store:      store,
		index:      index,
		dispatch:   dispatch,
		sessions:   sessions,
		watchedSet: make(map[string]struct{}),
	}

	dbType := kvstore.DBTypeFull
	supernode := cfg.DBType == string(config.DBTypeSuper)
	if supernode {
		dbType = kvstore.DBTypeSuper
	}

	if err := openOrInitDBInfo(store, magic, dbType); err != nil {
		return nil, errors.Wrap(err, "failed to verify database info")
	}

	resolveHeight := func(hash [32]byte) (uint32, bool) {
		h, ok := index.HeaderByHash(hash)
		return h.Height, ok
	}
	parseFn := blockparse.NewParseFunc(resolveHeight)

	builderLog, _ := logger.Get(logger.SubsystemDBBuilder)
	sshLog, _ := logger.Get(logger.SubsystemSSHScan)

	walker := &blockReader{blockDir: cfg.BlockFilesDir, magic: magic, index: index}
	watchedFn := func() map[string]struct{} {
		s.watched.Lock()
		defer s.watched.Unlock()
		out := make(map[string]struct{}, len(s.watchedSet))
		for k := range s.watchedSet {
			out[k] = struct{}{}
		}
		return out
	}
	mode := sshscan.ModeNarrow
	if supernode {
		mode = sshscan.ModeSupernode
	}
	scanner := sshscan.New(store, walker, watchedFn, mode, sshLog)
	s.scanner = scanner

	builder := dbbuilder.New(store, index, cfg.BlockFilesDir, magic, parseFn, scanner, true, supernode, builderLog)
	s.builder = builder

	broadcastLog, _ := logger.Get(logger.SubsystemBroadcast)
	notifySuccess := func(r broadcast.Requestor, hash [32]byte) {
		dispatch.Notify(r.BDVID, notify.Event{Kind: notify.KindZC, ZC: &notify.ZCPayload{RequestID: r.RequestID}})
	}
	notifyError := func(r broadcast.Requestor, hash [32]byte, zcErr *bdverrors.Structured) {
		dispatch.Notify(r.BDVID, notify.Event{Kind: notify.KindError, Error: zcErr})
	}
	var rpcFallback broadcast.RPCFallback
	if cfg.RPCFallbackURL != "" {
		rpcFallback = func(rawTx []byte) *bdverrors.Structured {
			return bdverrors.New(bdverrors.CodeZcBroadcastError, "", "RPC fallback not wired to a live endpoint")
		}
	}
	s.broadcast = broadcast.New(loggingPeer{}, rpcFallback, notifySuccess, notifyError,
		durationFromMillis(cfg.BroadcastTimeoutMS), broadcastLog)

	zcLog, _ := logger.Get(logger.SubsystemZCPool)
	watchedAddrFn := func(scrAddr []byte) (bool, bool) {
		if supernode {
			return true, true
		}
		s.watched.Lock()
		_, ok := s.watchedSet[string(scrAddr)]
		s.watched.Unlock()
		return ok, false
	}
	s.zcParser = zcpool.NewParser(zcpool.Config{
		Resolver:       &txhintsResolver{store: store},
		Watched:        watchedAddrFn,
		Store:          store,
		Log:            zcLog,
		MergeThreshold: cfg.PoolMergeThreshold,
		OnFiltered: func(d zcpool.FilteredZcData) {
			if !d.Flagged {
				return
			}
			dispatch.Broadcast(notify.Event{Kind: notify.KindZC})
		},
		OnPurge: func(p zcpool.PurgePacket) {
			if len(p.InvalidatedZC) == 0 {
				return
			}
			dispatch.Broadcast(notify.Event{Kind: notify.KindInvalidatedZC})
		},
	})

	s.health = healthz.New(cfg.HealthAddr, func() healthz.State {
		_, topHeight, _ := index.Top()
		return healthz.State{Ready: atomic.LoadInt32(&s.started) == 1, TopBlockHeight: topHeight}
	})

	return s, nil
}

// openOrInitDBInfo reads the persisted DB-info row and checks it
// against the running configuration, or writes a fresh one on first
// run (spec.md §4.1 "DB-info").
func openOrInitDBInfo(store *kvstore.Store, magic [4]byte, dbType kvstore.DBType) error {
	raw, found, err := store.Get(kvstore.TableHeaders, kvstore.DBInfoKey())
	if err != nil {
		return err
	}
	if !found {
		info := &kvstore.DBInfo{Magic: magic, Type: dbType}
		return store.Put(kvstore.TableHeaders, kvstore.DBInfoKey(), info.Encode())
	}

	persisted, err := kvstore.DecodeDBInfo(raw)
	if err != nil {
		return err
	}
	return kvstore.VerifyOpen(persisted, magic, dbType)
}

func (s *bdvServer) start(ctx context.Context) error {
	if atomic.AddInt32(&s.started, 1) != 1 {
		return nil
	}

	log, _ := logger.Get(logger.SubsystemMain)
	log.Infof("starting initial load")
	if err := s.builder.InitialLoad(ctx); err != nil {
		return errors.Wrap(err, "initial load failed")
	}

	go s.zcParser.Run()

	go func() {
		if err := s.health.ListenAndServe(); err != nil {
			log.Errorf("healthz server exited: %s", err)
		}
	}()

	log.Infof("bdvserver ready")
	return nil
}

func (s *bdvServer) stop() {
	if atomic.AddInt32(&s.shutdown, 1) != 1 {
		return
	}
	log, _ := logger.Get(logger.SubsystemMain)
	log.Infof("shutting down")

	s.zcParser.Stop()
	s.dispatch.Stop()
	if err := s.health.Close(); err != nil {
		log.Errorf("error closing healthz server: %s", err)
	}
	if err := s.store.Close(); err != nil {
		log.Errorf("error closing KV store: %s", err)
	}
}

func durationFromMillis(ms int) (d time.Duration) {
	return time.Duration(ms) * time.Millisecond
}

func main() {
	appDataDir := defaultAppDataDir()
	cfg, err := config.Load(appDataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error parsing configuration: %s\n", err)
		os.Exit(1)
	}

	logFile, errLogFile := cfg.LogFilePaths()
	logger.InitLogRotators(logFile, errLogFile)
	if err := logger.ParseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		fmt.Fprintf(os.Stderr, "error setting debug level: %s\n", err)
		os.Exit(1)
	}

	mainLog, _ := logger.Get(logger.SubsystemMain)
	defer panics.HandlePanic(mainLog, nil)

	server, err := newBDVServer(cfg)
	if err != nil {
		mainLog.Criticalf("failed to construct bdvserver: %s", err)
		os.Exit(1)
	}
	mainLog.Infof("shutdown cookie: %x", server.sessions.Cookie())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := server.start(ctx); err != nil {
		mainLog.Criticalf("failed to start bdvserver: %s", err)
		os.Exit(1)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt

	cancel()
	server.stop()
}

func defaultAppDataDir() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return dir + "/.bdvserver"
}
