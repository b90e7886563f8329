package storage

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
)

const maxConflictRetries = 5

// BadgerStore persists blobs in a badger database.
type BadgerStore struct {
	logger *slog.Logger
	db     *badger.DB
}

// OpenBadger opens (or creates) the database at path. An empty path with inMemory
// set keeps everything in RAM.
func OpenBadger(logger *slog.Logger, path string, inMemory bool) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}

	logger.Info("Badger store opened", "path", path, "in_memory", inMemory)

	return &BadgerStore{logger: logger, db: db}, nil
}

func (s *BadgerStore) Get(key string) ([]byte, error) {
	var value []byte

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}

	return value, nil
}

func (s *BadgerStore) Put(key string, value []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Update runs fn inside a badger transaction. A concurrent writer of the same key makes
// the commit fail with ErrConflict, in which case fn is re-run on the fresh value.
func (s *BadgerStore) Update(key string, fn UpdateFunc) error {
	var err error

	for attempt := 1; attempt <= maxConflictRetries; attempt++ {
		err = s.db.Update(func(txn *badger.Txn) error {
			var current []byte

			item, getErr := txn.Get([]byte(key))
			switch {
			case errors.Is(getErr, badger.ErrKeyNotFound):
			case getErr != nil:
				return getErr
			default:
				if current, getErr = item.ValueCopy(nil); getErr != nil {
					return getErr
				}
			}

			next, fnErr := fn(current)
			if fnErr != nil {
				return fnErr
			}
			return txn.Set([]byte(key), next)
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}

		s.logger.Warn("Write conflict, retrying", "key", key, "attempt", attempt)
	}

	if err != nil {
		return fmt.Errorf("failed to update %s: %w", key, err)
	}
	return nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
