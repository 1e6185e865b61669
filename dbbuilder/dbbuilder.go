// Package dbbuilder implements the initial load pipeline and the reorg
// path described in spec.md §4.3: enumerate block files, stream-load
// headers, organize the chain, parse blocks per-file in parallel,
// commit TXHINTS/STXO rows and per-file transaction filters, then hand
// off to the history scanner.
package dbbuilder

import (
	"context"
	"sync"

	"github.com/blocksettledb/bdv-server/blockfile"
	"github.com/blocksettledb/bdv-server/headerindex"
	"github.com/blocksettledb/bdv-server/kvstore"
	"github.com/blocksettledb/bdv-server/logs"
	"github.com/pkg/errors"
)

// rewindBlocks is how far the scan cursor is rewound to absorb
// late-arrived siblings (spec.md §4.3 step 3). rewindScanCursor applies
// it to the cursor's block-file id, so the rewind is 100 files, not 100
// blocks, and the offset restarts at 0.
const rewindBlocks = 100

// maxRepairAttempts bounds the scan-verification repair loop.
const maxRepairAttempts = 5

// BlockData is the minimal parsed-block shape the builder commits rows
// from; a real node supplies this via its own block deserializer.
type BlockData struct {
	Header   headerindex.Header
	FileID   uint32
	Offset   uint64
	Size     uint32
	Txs      []TxData
}

// TxData is one transaction's data as seen by the builder.
type TxData struct {
	Hash    [32]byte
	TxIndex uint16
	Outputs []OutputData
}

// OutputData is one output of a transaction, as seen by the builder.
type OutputData struct {
	ScrAddr []byte
	Value   uint64
}

// ParseBlockFunc deserializes raw block bytes read off disk into a
// BlockData, assigning dup/uid bookkeeping as needed. It is supplied by
// the caller so dbbuilder stays decoupled from the wire format.
type ParseBlockFunc func(raw []byte, fileID uint32, offset uint64) (BlockData, error)

// HistoryScanner is the subset of sshscan's surface the builder drives.
type HistoryScanner interface {
	ScanRange(ctx context.Context, fromHeight, topHeight uint32) error
	Undo(branchPoint uint32) error
	TopScannedHash() [32]byte
}

// Builder drives the initial load pipeline and the reorg path.
type Builder struct {
	store       *kvstore.Store
	index       *headerindex.Index
	blockDir    string
	magic       [4]byte
	parseBlock  ParseBlockFunc
	scanner     HistoryScanner
	commitHints bool
	supernode   bool
	log         *logs.Logger

	scanCursorMu sync.Mutex
	lastFileID   uint32
	lastOffset   uint64
}

// New creates a Builder.
func New(store *kvstore.Store, index *headerindex.Index, blockDir string, magic [4]byte,
	parseBlock ParseBlockFunc, scanner HistoryScanner, commitHints, supernode bool, log *logs.Logger) *Builder {
	return &Builder{
		store:       store,
		index:       index,
		blockDir:    blockDir,
		magic:       magic,
		parseBlock:  parseBlock,
		scanner:     scanner,
		commitHints: commitHints,
		supernode:   supernode,
		log:         log,
	}
}

// InitialLoad runs the full pipeline of spec.md §4.3.
func (b *Builder) InitialLoad(ctx context.Context) error {
	fileIDs, err := blockfile.EnumerateFiles(b.blockDir)
	if err != nil {
		return errors.Wrap(err, "dbbuilder: failed to enumerate block files")
	}

	if err := b.streamLoadHeaders(fileIDs); err != nil {
		return errors.Wrap(err, "dbbuilder: failed to stream-load headers")
	}
	b.index.Organize()
	b.index.UpdateBranchingMaps()

	b.rewindScanCursor()

	if err := b.parseFilesInParallel(ctx, fileIDs); err != nil {
		return errors.Wrap(err, "dbbuilder: failed to parse block files")
	}

	_, topHeight, err := b.index.Top()
	if err != nil {
		return errors.Wrap(err, "dbbuilder: header index is empty after load")
	}

	return b.runScanWithRepair(ctx, 0, topHeight)
}

// streamLoadHeaders walks every block file once, parsing each block with
// parseBlock and keeping only its header, to build the in-memory header
// graph ahead of the parallel pass.
func (b *Builder) streamLoadHeaders(fileIDs []uint32) error {
	for _, fileID := range fileIDs {
		reader, err := blockfile.Open(b.blockDir, fileID, b.magic)
		if err != nil {
			b.log.Errorf("failed to open block file %d for header scan: %s", fileID, err)
			continue
		}
		_, err = reader.Scan(0, func(entry blockfile.Entry) error {
			block, err := b.parseBlock(entry.Raw, entry.FileID, entry.Offset)
			if err != nil {
				b.log.Errorf("failed to parse block in file %d at offset %d: %s", entry.FileID, entry.Offset, err)
				return nil
			}
			b.index.AddHeadersBulk([]headerindex.Header{block.Header})
			return nil
		})
		if err != nil {
			b.log.Errorf("header scan of file %d aborted: %s", fileID, err)
		}
	}
	return nil
}

func (b *Builder) rewindScanCursor() {
	b.scanCursorMu.Lock()
	defer b.scanCursorMu.Unlock()
	if b.lastFileID >= rewindBlocks {
		b.lastFileID -= rewindBlocks
	} else {
		b.lastFileID = 0
	}
	b.lastOffset = 0
}

// parseFilesInParallel parses every new block in every file, one
// goroutine per file (spec.md §4.3 step 4), committing TXHINTS (and, in
// supernode mode, STXO) rows, then commits the per-file filter pool.
func (b *Builder) parseFilesInParallel(ctx context.Context, fileIDs []uint32) error {
	var wg sync.WaitGroup
	errs := make([]error, len(fileIDs))

	for i, fileID := range fileIDs {
		wg.Add(1)
		go func(i int, fileID uint32) {
			defer wg.Done()
			errs[i] = b.parseOneFile(ctx, fileID)
		}(i, fileID)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			b.log.Errorf("failed to parse block file %d: %s", fileIDs[i], err)
		}
	}
	return nil
}

func (b *Builder) parseOneFile(ctx context.Context, fileID uint32) error {
	reader, err := blockfile.Open(b.blockDir, fileID, b.magic)
	if err != nil {
		return errors.Wrapf(err, "failed to open block file %d", fileID)
	}

	tx, err := b.store.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin write transaction")
	}
	defer tx.RollbackUnlessClosed()

	maxOffset, err := reader.Scan(0, func(entry blockfile.Entry) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		block, err := b.parseBlock(entry.Raw, entry.FileID, entry.Offset)
		if err != nil {
			b.log.Errorf("failed to deserialize block at file %d offset %d: %s", entry.FileID, entry.Offset, err)
			return nil
		}

		if b.commitHints {
			if err := b.commitTxHints(tx, block); err != nil {
				return err
			}
			if b.supernode {
				if err := b.commitSTXO(tx, block); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := b.commitFilterPool(tx, fileID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit file parse transaction")
	}

	b.scanCursorMu.Lock()
	if fileID > b.lastFileID || (fileID == b.lastFileID && maxOffset > b.lastOffset) {
		b.lastFileID, b.lastOffset = fileID, maxOffset
	}
	b.scanCursorMu.Unlock()

	return nil
}

func (b *Builder) commitTxHints(tx kvstore.Transaction, block BlockData) error {
	for _, t := range block.Txs {
		key, err := b.store.WithKey(kvstore.TableTxHints, kvstore.TxHintsKey(t.Hash[:]))
		if err != nil {
			return err
		}
		dup, _ := b.index.ValidDup(block.Header.Height)
		txKey := kvstore.TxKey(block.Header.Height, dup, t.TxIndex)
		if err := tx.Put(key, txKey); err != nil {
			return errors.Wrap(err, "failed to write TXHINTS row")
		}
	}
	return nil
}

func (b *Builder) commitSTXO(tx kvstore.Transaction, block BlockData) error {
	dup, _ := b.index.ValidDup(block.Header.Height)
	for _, t := range block.Txs {
		txKey := kvstore.TxKey(block.Header.Height, dup, t.TxIndex)
		for outIdx, out := range t.Outputs {
			key, err := b.store.WithKey(kvstore.TableSTXO, kvstore.STXOKey(txKey, uint16(outIdx)))
			if err != nil {
				return err
			}
			if err := tx.Put(key, out.ScrAddr); err != nil {
				return errors.Wrap(err, "failed to write STXO row")
			}
		}
	}
	return nil
}

func (b *Builder) commitFilterPool(tx kvstore.Transaction, fileID uint32) error {
	key, err := b.store.WithKey(kvstore.TableTxFilters, kvstore.FilterPoolKey(fileID))
	if err != nil {
		return err
	}
	// The filter body itself is owned by the caller's bloom-filter
	// implementation; dbbuilder only guarantees the key exists once a
	// file has been scanned, so init-time integrity checks can detect a
	// missing filter for a scanned file.
	has, err := tx.Has(key)
	if err != nil {
		return err
	}
	if !has {
		if err := tx.Put(key, []byte{0, 0, 0, 0}); err != nil {
			return err
		}
	}
	return nil
}

// runScanWithRepair runs the history scanner over [fromHeight, topHeight]
// and verifies the scanned top matches the header index top, repairing
// up to maxRepairAttempts times on mismatch (spec.md §4.3 step 6).
func (b *Builder) runScanWithRepair(ctx context.Context, fromHeight, topHeight uint32) error {
	for attempt := 0; attempt < maxRepairAttempts; attempt++ {
		if err := b.scanner.ScanRange(ctx, fromHeight, topHeight); err != nil {
			return errors.Wrap(err, "history scan failed")
		}

		wantTop, _, err := b.index.Top()
		if err != nil {
			return errors.Wrap(err, "header index is empty")
		}
		if b.scanner.TopScannedHash() == wantTop {
			return nil
		}

		b.log.Warnf("scan-verification mismatch, repair attempt %d/%d", attempt+1, maxRepairAttempts)
		if err := b.repairTrailingFilters(topHeight); err != nil {
			return errors.Wrap(err, "failed to repair filters")
		}
	}
	return errors.New("dbbuilder: scan-verification mismatch persisted after repair attempts")
}

const trailingFilesToRepair = 5

func (b *Builder) repairTrailingFilters(topHeight uint32) error {
	fileIDs, err := blockfile.EnumerateFiles(b.blockDir)
	if err != nil {
		return err
	}
	n := trailingFilesToRepair
	if n > len(fileIDs) {
		n = len(fileIDs)
	}
	for _, fileID := range fileIDs[len(fileIDs)-n:] {
		if err := b.store.Delete(kvstore.TableTxFilters, kvstore.FilterPoolKey(fileID)); err != nil {
			return err
		}
		if err := b.parseOneFile(context.Background(), fileID); err != nil {
			return err
		}
	}
	return nil
}

// Reorg runs the reorg path of spec.md §4.3: undo(branch_point) on the
// history scanner, then forward-scan from branch_point+1.
func (b *Builder) Reorg(ctx context.Context, state headerindex.ReorganizationState) error {
	if state.PrevTopStillValid {
		return nil
	}
	if state.BranchPoint == nil {
		return errors.New("dbbuilder: reorg with no branch point")
	}

	branchHeader, ok := b.index.HeaderByHash(*state.BranchPoint)
	if !ok {
		return errors.New("dbbuilder: branch point header not found")
	}
	if err := b.scanner.Undo(branchHeader.Height); err != nil {
		return errors.Wrap(err, "failed to undo scanner past branch point")
	}

	_, topHeight, err := b.index.Top()
	if err != nil {
		return err
	}
	return b.runScanWithRepair(ctx, branchHeader.Height+1, topHeight)
}
