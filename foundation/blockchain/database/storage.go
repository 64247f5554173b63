package database

import (
	"encoding/binary"
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

// Storage interface represents the behavior required to be implemented by
// any package providing durable support for the blockchain. Writes batch
// atomically: either every key in the batch is durably applied or none are.
// One writer at a time is assumed; readers may run concurrently with it.
type Storage interface {
	Get(key []byte) ([]byte, error)
	WriteBatch(sets []KV, deletes [][]byte) error
	Iterate(prefix []byte, fn func(key []byte, value []byte) error) error
	Close() error
}

// KV is a single key/value pair inside an atomic batch.
type KV struct {
	Key   []byte
	Value []byte
}

// ErrNotFound is returned by Storage.Get when the key does not exist.
var ErrNotFound = errors.New("key not found")

// ErrCorruptState is returned when persisted state cannot be decoded. It is
// fatal: the node must not continue on inconsistent state.
var ErrCorruptState = errors.New("corrupt state")

// =============================================================================
// Key spaces. Strings are prefixes, values are canonical bytes.
//
//	b/<height>     block bytes
//	h/<block_hash> height
//	t/<tx_hash>    (height, position)
//	a/<address>    account state
//	m/tip          (tip_hash, tip_height, cumulative_work)
//	m/burned       total supply burned
//	m/treasury     total fees routed to treasury
//	p/<address>    known peer record (owned by the peer package)

// BlockKey returns the key for block bytes at a height.
func BlockKey(height uint64) []byte {
	key := make([]byte, 2+8)
	copy(key, "b/")
	binary.BigEndian.PutUint64(key[2:], height)
	return key
}

// BlockHashKey returns the key for the hash-to-height index.
func BlockHashKey(hash common.Hash) []byte {
	return append([]byte("h/"), hash.Bytes()...)
}

// TxKey returns the key for the transaction location index.
func TxKey(hash common.Hash) []byte {
	return append([]byte("t/"), hash.Bytes()...)
}

// AccountKey returns the key for an account record.
func AccountKey(accountID AccountID) []byte {
	return append([]byte("a/"), accountID.Bytes()...)
}

// Metadata keys.
var (
	TipKey      = []byte("m/tip")
	BurnedKey   = []byte("m/burned")
	TreasuryKey = []byte("m/treasury")
)
