// Package pebbledb implements the database.Storage interface with a pebble
// key/value store. Pebble gives us durable atomic batches across keys,
// point lookups, and prefix scans with a single writer and concurrent
// readers, which is exactly the contract the chain engine needs.
package pebbledb

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/quantanetwork/go-quanta/foundation/blockchain/database"
)

// cacheSize bounds pebble's block cache.
const cacheSize = 64 << 20

// PebbleDB represents the pebble implementation of the database.Storage
// interface.
type PebbleDB struct {
	db *pebble.DB
}

// New opens or creates the store at the specified path.
func New(path string) (*PebbleDB, error) {
	cache := pebble.NewCache(cacheSize)
	defer cache.Unref()

	db, err := pebble.Open(path, &pebble.Options{Cache: cache})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}

	return &PebbleDB{db: db}, nil
}

// Get implements the database.Storage interface.
func (p *PebbleDB) Get(key []byte) ([]byte, error) {
	value, closer, err := p.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, database.ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()

	cp := make([]byte, len(value))
	copy(cp, value)

	return cp, nil
}

// WriteBatch implements the database.Storage interface. The batch commits
// synchronously: either every mutation is durable or none are.
func (p *PebbleDB) WriteBatch(sets []database.KV, deletes [][]byte) error {
	batch := p.db.NewBatch()
	defer batch.Close()

	for _, kv := range sets {
		if err := batch.Set(kv.Key, kv.Value, nil); err != nil {
			return err
		}
	}

	for _, key := range deletes {
		if err := batch.Delete(key, nil); err != nil {
			return err
		}
	}

	return batch.Commit(pebble.Sync)
}

// Iterate implements the database.Storage interface, walking keys with the
// specified prefix in lexical order.
func (p *PebbleDB) Iterate(prefix []byte, fn func(key []byte, value []byte) error) error {
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}

	return iter.Error()
}

// Close implements the database.Storage interface.
func (p *PebbleDB) Close() error {
	return p.db.Close()
}

// prefixUpperBound returns the smallest key greater than every key with the
// prefix.
func prefixUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)

	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] < 0xff {
			upper[i]++
			return upper[:i+1]
		}
	}

	return nil // The prefix is all 0xff; no upper bound.
}
