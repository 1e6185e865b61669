// Package ldb is the goleveldb-backed kvstore.Database driver, grounded
// on the teacher's database/ffldb/ldb package: a thin wrapper around the
// native leveldb handle, its batches, and its iterators.
package ldb

import (
	"github.com/blocksettledb/bdv-server/kvstore"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// LevelDB is a kvstore.Database backed by a single goleveldb handle.
type LevelDB struct {
	ldb *leveldb.DB
}

// Open opens (creating if necessary) a goleveldb database at path.
func Open(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open leveldb at %s", path)
	}
	return &LevelDB{ldb: db}, nil
}

// Put is part of the kvstore.DataAccessor interface.
func (db *LevelDB) Put(key, value []byte) error {
	return db.ldb.Put(key, value, nil)
}

// Get is part of the kvstore.DataAccessor interface.
func (db *LevelDB) Get(key []byte) ([]byte, bool, error) {
	value, err := db.ldb.Get(key, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

// Has is part of the kvstore.DataAccessor interface.
func (db *LevelDB) Has(key []byte) (bool, error) {
	return db.ldb.Has(key, nil)
}

// Delete is part of the kvstore.DataAccessor interface.
func (db *LevelDB) Delete(key []byte) error {
	return db.ldb.Delete(key, nil)
}

// Cursor is part of the kvstore.DataAccessor interface.
func (db *LevelDB) Cursor(prefix []byte) (kvstore.Cursor, error) {
	return newCursor(db.ldb, prefix), nil
}

// Begin starts a new batched transaction.
func (db *LevelDB) Begin() (kvstore.Transaction, error) {
	snapshot, err := db.ldb.GetSnapshot()
	if err != nil {
		return nil, errors.Wrap(err, "failed to snapshot leveldb")
	}
	return &transaction{
		ldb:      db.ldb,
		snapshot: snapshot,
		batch:    new(leveldb.Batch),
	}, nil
}

// Close closes the database.
func (db *LevelDB) Close() error {
	return db.ldb.Close()
}
