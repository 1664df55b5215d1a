// Package pebble persists broker state to a CockroachDB Pebble LSM
// store, the other embedded backend named alongside badger/bolt.
package pebble

import (
	"github.com/cockroachdb/pebble"
)

// Store implements storage.Store on top of a Pebble database.
type Store struct {
	db *pebble.DB
}

// Open creates/opens a Pebble database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		path = "embermqtt.pebble"
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Put(key string, value []byte) error {
	return s.db.Set([]byte(key), value, pebble.Sync)
}

func (s *Store) Get(key string) ([]byte, bool, error) {
	v, closer, err := s.db.Get([]byte(key))
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	out := append([]byte(nil), v...)
	closer.Close()
	return out, true, nil
}

func (s *Store) Delete(key string) error {
	return s.db.Delete([]byte(key), pebble.Sync)
}

func (s *Store) DeletePrefix(prefix string) error {
	lower := []byte(prefix)
	upper := append(append([]byte(nil), lower...), 0xFF)
	return s.db.DeleteRange(lower, upper, pebble.Sync)
}

func (s *Store) Close() error { return s.db.Close() }
