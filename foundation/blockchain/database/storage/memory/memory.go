// Package memory implements the database.Storage interface with an
// in-memory map. It backs tests.
package memory

import (
	"sort"
	"strings"
	"sync"

	"github.com/quantanetwork/go-quanta/foundation/blockchain/database"
)

// Memory represents an in-memory implementation of the database.Storage
// interface.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New constructs an in-memory storage.
func New() *Memory {
	return &Memory{
		data: make(map[string][]byte),
	}
}

// Get implements the database.Storage interface.
func (m *Memory) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, exists := m.data[string(key)]
	if !exists {
		return nil, database.ErrNotFound
	}

	cp := make([]byte, len(value))
	copy(cp, value)

	return cp, nil
}

// WriteBatch implements the database.Storage interface. The map swap under
// a single lock gives the same all-or-nothing visibility as a durable batch.
func (m *Memory) WriteBatch(sets []database.KV, deletes [][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, kv := range sets {
		value := make([]byte, len(kv.Value))
		copy(value, kv.Value)
		m.data[string(kv.Key)] = value
	}

	for _, key := range deletes {
		delete(m.data, string(key))
	}

	return nil
}

// Iterate implements the database.Storage interface, walking keys with the
// specified prefix in lexical order.
func (m *Memory) Iterate(prefix []byte, fn func(key []byte, value []byte) error) error {
	m.mu.RLock()
	keys := make([]string, 0, len(m.data))
	for key := range m.data {
		if strings.HasPrefix(key, string(prefix)) {
			keys = append(keys, key)
		}
	}
	m.mu.RUnlock()

	sort.Strings(keys)

	for _, key := range keys {
		m.mu.RLock()
		value, exists := m.data[key]
		m.mu.RUnlock()
		if !exists {
			continue
		}

		if err := fn([]byte(key), value); err != nil {
			return err
		}
	}

	return nil
}

// Close implements the database.Storage interface.
func (m *Memory) Close() error {
	return nil
}
