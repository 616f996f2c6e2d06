package db

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("key not found")

// Store is a namespaced key-value store on top of badger.
type Store struct {
	db *badger.DB
}

func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	opts := badger.DefaultOptions(filepath.Join(dataDir, "badger"))
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(namespace, key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		value, err = readValue(txn, namespace+key)
		return err
	})
	return value, err
}

func (s *Store) Set(namespace, key string, value []byte) error {
	fullKey := namespace + key
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(fullKey), value)
	})
}

// Update rewrites an existing key with the value returned by fn, all inside
// one read-write transaction. Conflicting concurrent writers are retried.
// ErrNotFound is returned, without calling fn, when the key is missing.
func (s *Store) Update(namespace, key string, fn func(old []byte) ([]byte, error)) error {
	fullKey := namespace + key

	operation := func() error {
		err := s.db.Update(func(txn *badger.Txn) error {
			old, err := readValue(txn, fullKey)
			if err != nil {
				return err
			}
			next, err := fn(old)
			if err != nil {
				return err
			}
			return txn.Set([]byte(fullKey), next)
		})
		if errors.Is(err, badger.ErrConflict) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 5 * time.Millisecond
	bo.MaxElapsedTime = 5 * time.Second
	return backoff.Retry(operation, bo)
}

// Scan calls fn with the value of every key under namespace+prefix from a
// single consistent snapshot.
func (s *Store) Scan(namespace, prefix string, fn func(key string, value []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		fullPrefix := []byte(namespace + prefix)
		for it.Seek(fullPrefix); it.ValidForPrefix(fullPrefix); it.Next() {
			item := it.Item()
			key := string(item.Key())[len(namespace):]
			if err := item.Value(func(val []byte) error {
				return fn(key, val)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func readValue(txn *badger.Txn, fullKey string) ([]byte, error) {
	item, err := txn.Get([]byte(fullKey))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, fullKey)
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}
