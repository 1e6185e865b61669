package kvstore

import "github.com/pkg/errors"

// ErrNotFound is wrapped and returned by Cursor.Seek and other lookups
// when the requested key does not exist.
var ErrNotFound = errors.New("key not found")

// ErrDBTypeMismatch is returned at startup when the DB-info record's
// persisted type does not match the type requested on the command line
// (spec.md §4.1, "fatal on mismatch").
var ErrDBTypeMismatch = errors.New("database type mismatch")

// ErrMagicMismatch is returned at startup when the DB-info record's
// persisted network magic does not match the configured network.
var ErrMagicMismatch = errors.New("network magic mismatch")
