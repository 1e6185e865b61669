package ldb

import (
	"bytes"

	"github.com/blocksettledb/bdv-server/kvstore"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// cursor is a thin wrapper around a native leveldb iterator, scoped to a
// single table prefix. Keys returned by Key() have the prefix stripped,
// matching the kvstore.Cursor contract.
type cursor struct {
	it       iterator.Iterator
	prefix   []byte
	isClosed bool
}

func newCursor(db *leveldb.DB, prefix []byte) *cursor {
	it := db.NewIterator(util.BytesPrefix(prefix), nil)
	return &cursor{it: it, prefix: prefix}
}

func newSnapshotCursor(snapshot *leveldb.Snapshot, prefix []byte) *cursor {
	it := snapshot.NewIterator(util.BytesPrefix(prefix), nil)
	return &cursor{it: it, prefix: prefix}
}

// Next is part of the kvstore.Cursor interface.
func (c *cursor) Next() bool {
	if c.isClosed {
		return false
	}
	return c.it.Next()
}

// First is part of the kvstore.Cursor interface.
func (c *cursor) First() bool {
	if c.isClosed {
		return false
	}
	return c.it.First()
}

// Seek is part of the kvstore.Cursor interface. It seeks to the first
// key greater than or equal to the given (unprefixed) key, matching the
// seek-to-GE semantics spec.md §4.1/§6 requires.
func (c *cursor) Seek(key []byte) error {
	if c.isClosed {
		return errors.New("cannot seek a closed cursor")
	}
	full := make([]byte, 0, len(c.prefix)+len(key))
	full = append(full, c.prefix...)
	full = append(full, key...)
	if !c.it.Seek(full) {
		return errors.Wrap(kvstore.ErrNotFound, "seek target not found")
	}
	return nil
}

// Key is part of the kvstore.Cursor interface.
func (c *cursor) Key() ([]byte, error) {
	if c.isClosed {
		return nil, errors.New("cannot get the key of a closed cursor")
	}
	full := c.it.Key()
	if full == nil {
		return nil, errors.Wrap(kvstore.ErrNotFound, "cursor is exhausted")
	}
	return bytes.TrimPrefix(full, c.prefix), nil
}

// Value is part of the kvstore.Cursor interface.
func (c *cursor) Value() ([]byte, error) {
	if c.isClosed {
		return nil, errors.New("cannot get the value of a closed cursor")
	}
	value := c.it.Value()
	if value == nil {
		return nil, errors.Wrap(kvstore.ErrNotFound, "cursor is exhausted")
	}
	return value, nil
}

// Error is part of the kvstore.Cursor interface.
func (c *cursor) Error() error {
	return c.it.Error()
}

// Close is part of the kvstore.Cursor interface.
func (c *cursor) Close() error {
	if c.isClosed {
		return errors.New("cannot close an already closed cursor")
	}
	c.isClosed = true
	c.it.Release()
	return nil
}
