// Package local is a badger-backed content store for development and tests.
package local

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"certledger/internal/contentstore"
)

const keyPrefix = "payload/"

// Store keeps payloads in a badger database keyed by their CIDv1.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) a store under dir. An empty dir keeps everything in memory.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", dir, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Put(ctx context.Context, payload []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", contentstore.ErrUnreachable, err)
	}
	hash, err := contentstore.Address(payload)
	if err != nil {
		return "", err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+hash), payload)
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", contentstore.ErrUnreachable, err)
	}
	return hash, nil
}

func (s *Store) Get(ctx context.Context, hash string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", contentstore.ErrUnreachable, err)
	}
	var payload []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + hash))
		if err != nil {
			return err
		}
		payload, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, contentstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contentstore.ErrUnreachable, err)
	}
	if err := contentstore.VerifyAddress(hash, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
