package storage

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// ErrNotFound signals a missing key.
var ErrNotFound = errors.New("not found")

// Store wraps a badger database with bucket-prefixed keys.
type Store struct {
	db *badger.DB
}

// Open creates a Store at path. An empty path opens an in-memory database,
// used by tests and by deployments that accept losing history on restart.
func Open(path string) (*Store, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(path)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{db: db}, nil
}

// Put stores value under bucket/key.
func (s *Store) Put(bucket, key string, value []byte) error {
	if bucket == "" || key == "" {
		return fmt.Errorf("bucket and key are required")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(makeKey(bucket, key), value)
	})
}

// Get fetches the value under bucket/key, returning ErrNotFound when absent.
func (s *Store) Get(bucket, key string) ([]byte, error) {
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("bucket and key are required")
	}
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(makeKey(bucket, key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			out = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ForEach visits every key/value pair in a bucket in key order. Returning
// an error from fn stops the iteration.
func (s *Store) ForEach(bucket string, fn func(key string, value []byte) error) error {
	if bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	prefix := []byte(bucket + "/")
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := string(item.Key()[len(prefix):])
			err := item.Value(func(val []byte) error {
				return fn(key, append([]byte(nil), val...))
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete removes the value under bucket/key.
func (s *Store) Delete(bucket, key string) error {
	if bucket == "" || key == "" {
		return fmt.Errorf("bucket and key are required")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(makeKey(bucket, key))
	})
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func makeKey(bucket, key string) []byte {
	return []byte(bucket + "/" + key)
}
