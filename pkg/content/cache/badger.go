package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/waytale/waytale/internal/log"
	"github.com/waytale/waytale/pkg/content"
)

// BadgerStore is the on-device cache backend. Entries carry a TTL so stale
// generations age out without a sweeper.
type BadgerStore struct {
	db  *badger.DB
	ttl time.Duration
}

// OpenBadger opens (or creates) the cache database under dir.
// ttl of zero uses DefaultTTL.
func OpenBadger(dir string, ttl time.Duration) (*BadgerStore, error) {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil // badger's own logger is noisy; we log around it
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("cache: open badger at %s: %w", dir, err)
	}
	log.Component("content.cache").Info("badger cache opened", "dir", dir, "ttl", ttl)
	return &BadgerStore{db: db, ttl: ttl}, nil
}

// Get implements Store.
func (s *BadgerStore) Get(_ context.Context, key string) (*Entry, error) {
	var e Entry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, content.ErrNotCached
	}
	if err != nil {
		return nil, fmt.Errorf("cache: get %s: %w", key, err)
	}
	return &e, nil
}

// Put implements Store.
func (s *BadgerStore) Put(_ context.Context, key string, e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("cache: marshal %s: %w", key, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), data).WithTTL(s.ttl)
		return txn.SetEntry(entry)
	})
}

// Close releases the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
