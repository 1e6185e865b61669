// Package kvstore defines the BDV server's storage interface and the
// byte-exact key encodings used by every table (spec.md §6), following
// the shape of the teacher's database2 package: a Database that begins
// Transactions and Cursors, all embedding a common DataAccessor.
package kvstore

// DataAccessor is the common read/write surface shared by Database and
// Transaction.
type DataAccessor interface {
	// Put sets the value for the given key, overwriting any previous value.
	Put(key []byte, value []byte) error

	// Get gets the value for the given key. It returns false if the key
	// does not exist.
	Get(key []byte) ([]byte, bool, error)

	// Has returns true if the store contains the given key.
	Has(key []byte) (bool, error)

	// Delete deletes the value for the given key. It is not an error if
	// the key does not exist.
	Delete(key []byte) error

	// Cursor begins a new cursor over the given table prefix.
	Cursor(prefix []byte) (Cursor, error)
}

// Transaction is an atomic batch of Puts/Deletes, isolated from
// concurrent readers until Commit.
type Transaction interface {
	DataAccessor

	// Commit commits whatever changes were made within this transaction.
	Commit() error

	// Rollback discards whatever changes were made within this
	// transaction.
	Rollback() error

	// RollbackUnlessClosed rolls back unless the transaction has already
	// been committed or rolled back.
	RollbackUnlessClosed() error
}

// Database is a handle to the on-disk store: it can read/write directly,
// begin transactions, and open cursors.
type Database interface {
	DataAccessor

	// Begin starts a new transaction.
	Begin() (Transaction, error)

	// Close closes the database.
	Close() error
}

// Cursor iterates over the key/value pairs of a single table prefix, in
// key order. Keys are returned with the table prefix already stripped.
type Cursor interface {
	// Next moves to the next pair. Returns false once exhausted or if the
	// cursor is closed.
	Next() bool

	// First moves to the first pair of the table. Returns false if the
	// table is empty or the cursor is closed.
	First() bool

	// Seek moves to the first pair whose key is greater than or equal to
	// the given key (the GE seek semantics spec.md §6 requires for
	// iteration over STXO/SSH/Sub-SSH ranges). Returns an error wrapping
	// ErrNotFound if no such pair exists.
	Seek(key []byte) error

	// Key returns the key of the current pair with the table prefix
	// stripped.
	Key() ([]byte, error)

	// Value returns the value of the current pair.
	Value() ([]byte, error)

	// Error reports any accumulated iteration error.
	Error() error

	// Close releases the cursor's resources.
	Close() error
}
