package kvstore

import "github.com/pkg/errors"

// Store groups the named tables spec.md §4.1 requires onto a single
// underlying Database handle, each addressed by its own key prefix so a
// single goleveldb instance can back every table.
type Store struct {
	db     Database
	tables map[string][]byte
}

// NewStore wraps db, assigning each of AllTables its own one-byte table
// prefix disjoint from the discriminator bytes used within a table.
func NewStore(db Database) *Store {
	s := &Store{db: db, tables: make(map[string][]byte, len(AllTables))}
	for i, name := range AllTables {
		s.tables[name] = []byte{byte(0xA0 + i)}
	}
	return s
}

// Table returns the key prefix reserved for the named table.
func (s *Store) Table(name string) ([]byte, error) {
	prefix, ok := s.tables[name]
	if !ok {
		return nil, errors.Errorf("kvstore: unknown table %q", name)
	}
	return prefix, nil
}

// WithKey prepends the named table's prefix to key.
func (s *Store) WithKey(table string, key []byte) ([]byte, error) {
	prefix, err := s.Table(table)
	if err != nil {
		return nil, err
	}
	full := make([]byte, 0, len(prefix)+len(key))
	full = append(full, prefix...)
	return append(full, key...), nil
}

// Begin starts a new transaction on the underlying database.
func (s *Store) Begin() (Transaction, error) {
	return s.db.Begin()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Cursor opens a cursor scoped to the named table.
func (s *Store) Cursor(table string) (Cursor, error) {
	prefix, err := s.Table(table)
	if err != nil {
		return nil, err
	}
	return s.db.Cursor(prefix)
}

// Get reads a key from the named table.
func (s *Store) Get(table string, key []byte) ([]byte, bool, error) {
	full, err := s.WithKey(table, key)
	if err != nil {
		return nil, false, err
	}
	return s.db.Get(full)
}

// Put writes a key into the named table.
func (s *Store) Put(table string, key, value []byte) error {
	full, err := s.WithKey(table, key)
	if err != nil {
		return err
	}
	return s.db.Put(full, value)
}

// Delete removes a key from the named table.
func (s *Store) Delete(table string, key []byte) error {
	full, err := s.WithKey(table, key)
	if err != nil {
		return err
	}
	return s.db.Delete(full)
}
