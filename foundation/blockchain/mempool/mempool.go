// Package mempool maintains the set of accepted transactions waiting for
// inclusion in a block. The pool is bounded; when full the lowest-fee entry
// is evicted for a strictly better-paying arrival. A btree ordered by
// (fee desc, timestamp asc, hash asc) serves the eviction decision and the
// priority-ordered Copy. Mining selection groups the pool by sender and
// hands it to the configured selector strategy.
package mempool

import (
	"bytes"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/btree"

	"github.com/quantanetwork/go-quanta/foundation/blockchain/database"
	"github.com/quantanetwork/go-quanta/foundation/blockchain/mempool/selector"
)

// MaxSize is the default capacity of the pool.
const MaxSize = 5000

// Mempool admission errors.
var (
	ErrDuplicateTx = errors.New("transaction already in mempool")
	ErrFull        = errors.New("mempool full and fee below current minimum")
)

// poolItem is the btree ordering record.
type poolItem struct {
	fee       uint64
	timestamp int64
	hash      common.Hash
}

// lessByPriority orders items best-first: highest fee, then earliest
// timestamp, then lowest hash.
func lessByPriority(a poolItem, b poolItem) bool {
	if a.fee != b.fee {
		return a.fee > b.fee
	}
	if a.timestamp != b.timestamp {
		return a.timestamp < b.timestamp
	}
	return bytes.Compare(a.hash[:], b.hash[:]) < 0
}

// =============================================================================

// Mempool represents a cache of transactions keyed by hash with a secondary
// index by (sender, nonce).
type Mempool struct {
	mu sync.RWMutex

	maxSize   int
	pool      map[common.Hash]database.BlockTx
	byAccount map[database.AccountID]map[uint64]common.Hash
	ordered   *btree.BTreeG[poolItem]
	selectFn  selector.Func
}

// New constructs a new mempool using the default sort strategy and capacity.
func New() (*Mempool, error) {
	return NewWithStrategy(selector.StrategyFee, MaxSize)
}

// NewWithStrategy constructs a new mempool with the specified sort strategy
// and capacity.
func NewWithStrategy(strategy string, maxSize int) (*Mempool, error) {
	selectFn, err := selector.Retrieve(strategy)
	if err != nil {
		return nil, err
	}

	if maxSize <= 0 {
		maxSize = MaxSize
	}

	mp := Mempool{
		maxSize:   maxSize,
		pool:      make(map[common.Hash]database.BlockTx),
		byAccount: make(map[database.AccountID]map[uint64]common.Hash),
		ordered:   btree.NewG(2, lessByPriority),
		selectFn:  selectFn,
	}

	return &mp, nil
}

// Count returns the current number of transactions in the pool.
func (mp *Mempool) Count() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return len(mp.pool)
}

// Contains reports whether the transaction is already pooled.
func (mp *Mempool) Contains(txHash common.Hash) bool {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	_, exists := mp.pool[txHash]
	return exists
}

// Upsert adds a transaction to the mempool, evicting the lowest-fee entry
// when full if and only if the arrival pays strictly more than the current
// minimum.
func (mp *Mempool) Upsert(tx database.BlockTx) error {
	txHash, err := tx.TxHash()
	if err != nil {
		return err
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	if _, exists := mp.pool[txHash]; exists {
		return ErrDuplicateTx
	}

	if len(mp.pool) >= mp.maxSize {
		lowest, ok := mp.ordered.Max()
		if !ok || tx.Fee <= lowest.fee {
			return ErrFull
		}
		mp.remove(lowest.hash)
	}

	mp.pool[txHash] = tx

	nonces, exists := mp.byAccount[tx.FromID]
	if !exists {
		nonces = make(map[uint64]common.Hash)
		mp.byAccount[tx.FromID] = nonces
	}
	nonces[tx.Nonce] = txHash

	mp.ordered.ReplaceOrInsert(poolItem{fee: tx.Fee, timestamp: tx.Timestamp, hash: txHash})

	return nil
}

// Delete removes a transaction from the mempool.
func (mp *Mempool) Delete(tx database.BlockTx) error {
	txHash, err := tx.TxHash()
	if err != nil {
		return err
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.remove(txHash)

	return nil
}

// DeleteByHash removes a transaction by its hash.
func (mp *Mempool) DeleteByHash(txHash common.Hash) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.remove(txHash)
}

// Truncate clears all the transactions from the pool.
func (mp *Mempool) Truncate() {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.pool = make(map[common.Hash]database.BlockTx)
	mp.byAccount = make(map[database.AccountID]map[uint64]common.Hash)
	mp.ordered = btree.NewG(2, lessByPriority)
}

// PickBest uses the configured sort strategy to return the next set of
// transactions for the next block. Passing -1 returns every transaction in
// the strategy's ordering.
func (mp *Mempool) PickBest(howMany int) []database.BlockTx {
	m := make(map[database.AccountID][]database.BlockTx)
	mp.mu.RLock()
	{
		for _, tx := range mp.pool {
			m[tx.FromID] = append(m[tx.FromID], tx)
		}
	}
	mp.mu.RUnlock()

	return mp.selectFn(m, howMany)
}

// Copy returns every pooled transaction in priority order.
func (mp *Mempool) Copy() []database.BlockTx {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	txs := make([]database.BlockTx, 0, len(mp.pool))
	mp.ordered.Ascend(func(item poolItem) bool {
		txs = append(txs, mp.pool[item.hash])
		return true
	})

	return txs
}

// PendingForAccount returns the number of pooled transactions from the
// sender and the total microunits (value plus fee) they commit. Admission
// uses this to keep a sender from overcommitting its spendable balance and
// to enforce contiguous nonces.
func (mp *Mempool) PendingForAccount(accountID database.AccountID) (count uint64, committed uint64) {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	for _, txHash := range mp.byAccount[accountID] {
		tx := mp.pool[txHash]
		count++
		committed += tx.Value + tx.Fee
	}

	return count, committed
}

// PurgeExpired removes transactions whose timestamp has fallen outside the
// expiry window.
func (mp *Mempool) PurgeExpired(now time.Time) int {
	cutoff := now.Unix() - database.TxExpirySeconds

	mp.mu.Lock()
	defer mp.mu.Unlock()

	var stale []common.Hash
	for txHash, tx := range mp.pool {
		if tx.Timestamp < cutoff {
			stale = append(stale, txHash)
		}
	}

	for _, txHash := range stale {
		mp.remove(txHash)
	}

	return len(stale)
}

// PurgeInvalid removes transactions that can no longer apply against the
// current accounts: a nonce already consumed or a committed total beyond
// the spendable balance. It runs after every block application.
func (mp *Mempool) PurgeInvalid(lookup func(database.AccountID) database.Account) int {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	var invalid []common.Hash
	for accountID, nonces := range mp.byAccount {
		account := lookup(accountID)

		var committed uint64
		for _, txHash := range nonces {
			tx := mp.pool[txHash]

			if tx.Nonce < account.Nonce {
				invalid = append(invalid, txHash)
				continue
			}
			committed += tx.Value + tx.Fee
		}

		if committed > account.Balance {
			// Drop from the highest nonce down until the sender fits.
			order := make([]uint64, 0, len(nonces))
			for nonce := range nonces {
				order = append(order, nonce)
			}
			sort.Slice(order, func(i, j int) bool { return order[i] > order[j] })

			for _, nonce := range order {
				if committed <= account.Balance {
					break
				}
				tx := mp.pool[nonces[nonce]]
				if tx.Nonce < account.Nonce {
					continue // Already marked above.
				}
				committed -= tx.Value + tx.Fee
				invalid = append(invalid, nonces[nonce])
			}
		}
	}

	for _, txHash := range invalid {
		mp.remove(txHash)
	}

	return len(invalid)
}

// =============================================================================

// remove drops the transaction from every index. Callers hold the lock.
func (mp *Mempool) remove(txHash common.Hash) {
	tx, exists := mp.pool[txHash]
	if !exists {
		return
	}

	delete(mp.pool, txHash)

	if nonces, exists := mp.byAccount[tx.FromID]; exists {
		delete(nonces, tx.Nonce)
		if len(nonces) == 0 {
			delete(mp.byAccount, tx.FromID)
		}
	}

	mp.ordered.Delete(poolItem{fee: tx.Fee, timestamp: tx.Timestamp, hash: txHash})
}
