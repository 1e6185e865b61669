package ldb

import (
	"github.com/blocksettledb/bdv-server/kvstore"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
)

// transaction batches writes against a point-in-time snapshot, following
// the teacher's database2/ffldb transaction shape: reads are served from
// the snapshot taken at Begin, writes accumulate in a batch flushed on
// Commit.
type transaction struct {
	ldb      *leveldb.DB
	snapshot *leveldb.Snapshot
	batch    *leveldb.Batch
	closed   bool
}

// Put is part of the kvstore.DataAccessor interface.
func (tx *transaction) Put(key, value []byte) error {
	if tx.closed {
		return errors.New("cannot put into a closed transaction")
	}
	tx.batch.Put(key, value)
	return nil
}

// Get is part of the kvstore.DataAccessor interface.
func (tx *transaction) Get(key []byte) ([]byte, bool, error) {
	value, err := tx.snapshot.Get(key, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

// Has is part of the kvstore.DataAccessor interface.
func (tx *transaction) Has(key []byte) (bool, error) {
	return tx.snapshot.Has(key, nil)
}

// Delete is part of the kvstore.DataAccessor interface.
func (tx *transaction) Delete(key []byte) error {
	if tx.closed {
		return errors.New("cannot delete from a closed transaction")
	}
	tx.batch.Delete(key)
	return nil
}

// Cursor is part of the kvstore.DataAccessor interface. It iterates
// over the transaction's snapshot, so it is unaffected by the
// transaction's own uncommitted writes (matching the teacher's
// documented "no guarantee" semantics for database2.Transaction).
func (tx *transaction) Cursor(prefix []byte) (kvstore.Cursor, error) {
	return newSnapshotCursor(tx.snapshot, prefix), nil
}

// Commit is part of the kvstore.Transaction interface.
func (tx *transaction) Commit() error {
	if tx.closed {
		return errors.New("cannot commit an already closed transaction")
	}
	tx.closed = true
	tx.snapshot.Release()
	return tx.ldb.Write(tx.batch, nil)
}

// Rollback is part of the kvstore.Transaction interface.
func (tx *transaction) Rollback() error {
	if tx.closed {
		return errors.New("cannot rollback an already closed transaction")
	}
	tx.closed = true
	tx.snapshot.Release()
	return nil
}

// RollbackUnlessClosed is part of the kvstore.Transaction interface.
func (tx *transaction) RollbackUnlessClosed() error {
	if tx.closed {
		return nil
	}
	return tx.Rollback()
}
