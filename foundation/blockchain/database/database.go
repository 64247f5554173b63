// Package database handles all the lower level support for maintaining the
// blockchain state: accounts with time-locked escrow, block and transaction
// indexes, supply totals, and the durable persistence of all of it through
// atomic storage batches.
package database

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/quantanetwork/go-quanta/foundation/blockchain/difficulty"
	"github.com/quantanetwork/go-quanta/foundation/blockchain/genesis"
	"github.com/quantanetwork/go-quanta/foundation/blockchain/signature"
)

// feeWindow is the number of trailing blocks whose fee sums feed the reward
// usage multiplier.
const feeWindow = 1000

// EventHandler defines a function that is called when events occur in the
// processing of persisting blocks.
type EventHandler func(v string, args ...any)

// =============================================================================

// Database manages data related to accounts and blocks on the chain. It is
// the single owner of mutable chain state; every mutation is an atomic
// storage batch so a crash can never leave a partially applied block.
type Database struct {
	mu sync.RWMutex

	genesis      genesis.Genesis
	genesisBlock Block
	treasuryID   AccountID
	evHandler    EventHandler

	latestBlock    Block
	cumulativeWork *big.Int
	accounts       map[AccountID]Account
	burned         uint64
	treasuryTotal  uint64
	feeHistory     map[uint64]uint64

	storage Storage
}

// New constructs a new database value. If the underlying storage is empty
// the deterministic genesis block and the premine balances are written;
// otherwise the full state is hydrated from storage.
func New(gen genesis.Genesis, storage Storage, evHandler EventHandler) (*Database, error) {
	ev := func(v string, args ...any) {
		if evHandler != nil {
			evHandler(v, args...)
		}
	}

	treasuryID, err := ToAccountID(gen.TreasuryAccount)
	if err != nil {
		return nil, fmt.Errorf("treasury account: %w", err)
	}

	genesisBlock, err := GenesisBlock(gen)
	if err != nil {
		return nil, fmt.Errorf("genesis block: %w", err)
	}

	db := Database{
		genesis:        gen,
		genesisBlock:   genesisBlock,
		treasuryID:     treasuryID,
		evHandler:      ev,
		cumulativeWork: big.NewInt(0),
		accounts:       make(map[AccountID]Account),
		feeHistory:     make(map[uint64]uint64),
		storage:        storage,
	}

	switch _, err := storage.Get(TipKey); {
	case err == nil:
		if err := db.hydrate(); err != nil {
			return nil, err
		}
		ev("database: New: hydrated: tip[%d] %s", db.latestBlock.Header.Height, db.latestBlock.Hash())

	default:
		if err := db.initialize(); err != nil {
			return nil, err
		}
		ev("database: New: initialized genesis: %s", db.genesisBlock.Hash())
	}

	return &db, nil
}

// Close closes the underlying storage.
func (db *Database) Close() {
	db.storage.Close()
}

// =============================================================================

// GenesisBlock derives the deterministic first block from the genesis file.
// It carries a single symbolic coinbase of zero value so every honest node
// computes the same hash.
func GenesisBlock(gen genesis.Genesis) (Block, error) {
	coinbase := NewCoinbaseTx(signature.ZeroAccountID, 0, 0, gen.Date.Unix())

	bd := BlockData{
		Header: BlockHeader{
			Height:        0,
			Timestamp:     gen.Date.Unix(),
			PrevBlockHash: signature.ZeroHash,
			Nonce:         0,
			Difficulty:    gen.Difficulty,
			MinerID:       signature.ZeroAccountID,
		},
		Trans: []BlockTx{coinbase},
	}

	block, err := ToBlock(bd)
	if err != nil {
		return Block{}, err
	}
	block.Header.MerkleRoot = common.BytesToHash(block.Trans.MerkleRoot)

	return block, nil
}

// initialize writes the genesis block and the premine balances in a single
// batch.
func (db *Database) initialize() error {
	for accountStr, balance := range db.genesis.Balances {
		accountID, err := ToAccountID(accountStr)
		if err != nil {
			return err
		}
		db.accounts[accountID] = Account{Balance: balance}
	}

	db.latestBlock = db.genesisBlock
	db.cumulativeWork = difficulty.Work(db.genesisBlock.Header.Difficulty)
	db.feeHistory[0] = 0

	sets, err := db.blockSets(db.genesisBlock)
	if err != nil {
		return err
	}

	for accountID, account := range db.accounts {
		data, err := account.Encode()
		if err != nil {
			return err
		}
		sets = append(sets, KV{Key: AccountKey(accountID), Value: data})
	}

	return db.storage.WriteBatch(sets, nil)
}

// hydrate loads accounts, totals, and the tip from storage.
func (db *Database) hydrate() error {
	tipHash, tipHeight, work, err := db.readTip()
	if err != nil {
		return err
	}

	if err := db.storage.Iterate([]byte("a/"), func(key []byte, value []byte) error {
		account, err := DecodeAccount(value)
		if err != nil {
			return fmt.Errorf("%w: account %x: %s", ErrCorruptState, key, err)
		}
		db.accounts[common.BytesToAddress(key[2:])] = account
		return nil
	}); err != nil {
		return err
	}

	db.burned, _ = db.readTotal(BurnedKey)
	db.treasuryTotal, _ = db.readTotal(TreasuryKey)

	block, err := db.readBlock(tipHeight)
	if err != nil {
		return fmt.Errorf("%w: tip block: %s", ErrCorruptState, err)
	}
	if block.Hash() != tipHash {
		return fmt.Errorf("%w: tip hash mismatch", ErrCorruptState)
	}

	db.latestBlock = block
	db.cumulativeWork = work

	from := uint64(0)
	if tipHeight >= feeWindow {
		from = tipHeight - feeWindow + 1
	}
	for height := from; height <= tipHeight; height++ {
		blk, err := db.readBlock(height)
		if err != nil {
			return fmt.Errorf("%w: block %d: %s", ErrCorruptState, height, err)
		}
		fees, err := blk.TotalFees()
		if err != nil {
			return err
		}
		db.feeHistory[height] = fees
	}

	return nil
}

// =============================================================================

// ApplyBlock runs the state transition for the block and persists every
// effect in one atomic batch: lock releases, the coinbase credit and escrow,
// the fee split, every transaction, both block indexes, the transaction
// index, and the new tip metadata. On any error the database is unchanged.
// The caller is responsible for consensus validation; this function still
// re-checks nonces and balances since it is the final authority.
func (db *Database) ApplyBlock(block Block) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	height := block.Header.Height
	if height != db.latestBlock.Header.Height+1 {
		return fmt.Errorf("%w: apply height %d on tip %d", ErrWrongParent, height, db.latestBlock.Header.Height)
	}

	staged := copyAccounts(db.accounts)
	touched := make(map[AccountID]struct{})

	// Release every lock maturing at this height before any balance is read.
	for accountID, account := range staged {
		released, err := account.releaseLocks(height)
		if err != nil {
			return err
		}
		if released > 0 {
			staged[accountID] = account
			touched[accountID] = struct{}{}
		}
	}

	totalFees, err := block.TotalFees()
	if err != nil {
		return err
	}
	burnShare, treasuryShare, minerShare := SplitFees(db.genesis.Mining, totalFees)

	coinbase, err := block.Coinbase()
	if err != nil {
		return err
	}

	if err := db.applyCoinbase(staged, touched, coinbase, height, treasuryShare, minerShare); err != nil {
		return err
	}

	for i, tx := range block.Trans.Values() {
		if i == 0 {
			continue
		}
		if err := applyTransaction(staged, touched, tx.SignedTx); err != nil {
			return fmt.Errorf("tx[%d] %s: %w", i, tx, err)
		}
	}

	burned, err := AddAmount(db.burned, burnShare)
	if err != nil {
		return err
	}
	treasuryTotal, err := AddAmount(db.treasuryTotal, treasuryShare)
	if err != nil {
		return err
	}

	// Stage the full batch and commit it atomically.
	sets, err := db.blockSets(block)
	if err != nil {
		return err
	}
	for accountID := range touched {
		data, err := staged[accountID].Encode()
		if err != nil {
			return err
		}
		sets = append(sets, KV{Key: AccountKey(accountID), Value: data})
	}

	work := new(big.Int).Add(db.cumulativeWork, difficulty.Work(block.Header.Difficulty))
	sets = append(sets,
		KV{Key: TipKey, Value: encodeTip(block.Hash(), height, work)},
		KV{Key: BurnedKey, Value: encodeTotal(burned)},
		KV{Key: TreasuryKey, Value: encodeTotal(treasuryTotal)},
	)

	if err := db.storage.WriteBatch(sets, nil); err != nil {
		return err
	}

	db.accounts = staged
	db.latestBlock = block
	db.cumulativeWork = work
	db.burned = burned
	db.treasuryTotal = treasuryTotal
	db.feeHistory[height] = totalFees
	delete(db.feeHistory, height-feeWindow)

	return nil
}

// UnapplyBlock reverses the latest block using its own transaction list and
// returns it. The reversal mirrors ApplyBlock exactly: transactions are
// undone last-to-first, then the fee split and coinbase, then the lock
// release that matured at this height is re-escrowed.
func (db *Database) UnapplyBlock() (Block, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	block := db.latestBlock
	height := block.Header.Height
	if height == 0 {
		return Block{}, fmt.Errorf("cannot unapply the genesis block")
	}

	staged := copyAccounts(db.accounts)
	touched := make(map[AccountID]struct{})

	trans := block.Trans.Values()
	for i := len(trans) - 1; i >= 1; i-- {
		if err := unapplyTransaction(staged, touched, trans[i].SignedTx); err != nil {
			return Block{}, fmt.Errorf("unapply tx[%d]: %w", i, err)
		}
	}

	totalFees, err := block.TotalFees()
	if err != nil {
		return Block{}, err
	}
	burnShare, treasuryShare, minerShare := SplitFees(db.genesis.Mining, totalFees)

	coinbase, err := block.Coinbase()
	if err != nil {
		return Block{}, err
	}

	if err := db.unapplyCoinbase(staged, touched, coinbase, height, treasuryShare, minerShare); err != nil {
		return Block{}, err
	}

	if err := db.relockRelease(staged, touched, height); err != nil {
		return Block{}, err
	}

	burned, err := SubAmount(db.burned, burnShare)
	if err != nil {
		return Block{}, err
	}
	treasuryTotal, err := SubAmount(db.treasuryTotal, treasuryShare)
	if err != nil {
		return Block{}, err
	}

	prevBlock, err := db.readBlock(height - 1)
	if err != nil {
		return Block{}, fmt.Errorf("%w: parent block: %s", ErrCorruptState, err)
	}

	var sets []KV
	var deletes [][]byte

	deletes = append(deletes, BlockKey(height), BlockHashKey(block.Hash()))
	for _, tx := range trans {
		txHash, err := tx.TxHash()
		if err != nil {
			return Block{}, err
		}
		deletes = append(deletes, TxKey(txHash))
	}

	for accountID := range touched {
		account := staged[accountID]
		if account.Balance == 0 && account.Nonce == 0 && len(account.Locks) == 0 {
			// The block implicitly created this account; reverse that too.
			delete(staged, accountID)
			deletes = append(deletes, AccountKey(accountID))
			continue
		}

		data, err := account.Encode()
		if err != nil {
			return Block{}, err
		}
		sets = append(sets, KV{Key: AccountKey(accountID), Value: data})
	}

	work := new(big.Int).Sub(db.cumulativeWork, difficulty.Work(block.Header.Difficulty))
	sets = append(sets,
		KV{Key: TipKey, Value: encodeTip(prevBlock.Hash(), height-1, work)},
		KV{Key: BurnedKey, Value: encodeTotal(burned)},
		KV{Key: TreasuryKey, Value: encodeTotal(treasuryTotal)},
	)

	if err := db.storage.WriteBatch(sets, deletes); err != nil {
		return Block{}, err
	}

	db.accounts = staged
	db.latestBlock = prevBlock
	db.cumulativeWork = work
	db.burned = burned
	db.treasuryTotal = treasuryTotal
	delete(db.feeHistory, height)

	return block, nil
}

// =============================================================================

// applyCoinbase credits the miner with the immediate reward portion plus the
// fee share, escrows the locked portion, and routes the treasury fee share.
// minerShare is the miner's cut of the block fees, already included in the
// coinbase value; the escrow covers only the pure reward component.
func (db *Database) applyCoinbase(staged map[AccountID]Account, touched map[AccountID]struct{}, coinbase BlockTx, height uint64, treasuryShare uint64, minerShare uint64) error {
	lockBlocks := db.genesis.Mining.RewardLockBlocks

	rewardTotal, err := SubAmount(coinbase.Value, minerShare)
	if err != nil {
		return fmt.Errorf("%w: coinbase below fee share", ErrBadCoinbase)
	}
	locked := LockedShare(db.genesis.Mining, rewardTotal)

	immediate, err := SubAmount(coinbase.Value, locked)
	if err != nil {
		return err
	}

	miner := staged[coinbase.ToID]
	if miner.Balance, err = AddAmount(miner.Balance, immediate); err != nil {
		return err
	}
	if locked > 0 {
		miner.Locks = append(miner.Locks, Lock{Amount: locked, ReleaseHeight: height + lockBlocks})
	}
	staged[coinbase.ToID] = miner
	touched[coinbase.ToID] = struct{}{}

	if treasuryShare > 0 {
		treasury := staged[db.treasuryID]
		if treasury.Balance, err = AddAmount(treasury.Balance, treasuryShare); err != nil {
			return err
		}
		staged[db.treasuryID] = treasury
		touched[db.treasuryID] = struct{}{}
	}

	return nil
}

// unapplyCoinbase reverses applyCoinbase.
func (db *Database) unapplyCoinbase(staged map[AccountID]Account, touched map[AccountID]struct{}, coinbase BlockTx, height uint64, treasuryShare uint64, minerShare uint64) error {
	lockBlocks := db.genesis.Mining.RewardLockBlocks

	rewardTotal, err := SubAmount(coinbase.Value, minerShare)
	if err != nil {
		return fmt.Errorf("%w: coinbase below fee share", ErrBadCoinbase)
	}
	locked := LockedShare(db.genesis.Mining, rewardTotal)

	immediate, err := SubAmount(coinbase.Value, locked)
	if err != nil {
		return err
	}

	miner := staged[coinbase.ToID]
	if miner.Balance, err = SubAmount(miner.Balance, immediate); err != nil {
		return err
	}
	if locked > 0 {
		if !removeLock(&miner, Lock{Amount: locked, ReleaseHeight: height + lockBlocks}) {
			return fmt.Errorf("%w: missing escrow entry for block %d", ErrCorruptState, height)
		}
	}
	staged[coinbase.ToID] = miner
	touched[coinbase.ToID] = struct{}{}

	if treasuryShare > 0 {
		treasury := staged[db.treasuryID]
		if treasury.Balance, err = SubAmount(treasury.Balance, treasuryShare); err != nil {
			return err
		}
		staged[db.treasuryID] = treasury
		touched[db.treasuryID] = struct{}{}
	}

	return nil
}

// relockRelease re-escrows the lock that matured at this height during
// apply. The origin block is height - lock window; its locked portion is
// recomputed from its own coinbase, so no undo log is needed.
func (db *Database) relockRelease(staged map[AccountID]Account, touched map[AccountID]struct{}, height uint64) error {
	lockBlocks := db.genesis.Mining.RewardLockBlocks
	if height <= lockBlocks {
		return nil // No block old enough to have matured here.
	}
	origin := height - lockBlocks

	originBlock, err := db.readBlock(origin)
	if err != nil {
		return fmt.Errorf("%w: origin block %d: %s", ErrCorruptState, origin, err)
	}

	coinbase, err := originBlock.Coinbase()
	if err != nil {
		return err
	}

	totalFees, err := originBlock.TotalFees()
	if err != nil {
		return err
	}
	_, _, minerShare := SplitFees(db.genesis.Mining, totalFees)

	rewardTotal, err := SubAmount(coinbase.Value, minerShare)
	if err != nil {
		return err
	}
	locked := LockedShare(db.genesis.Mining, rewardTotal)
	if locked == 0 {
		return nil
	}

	miner := staged[coinbase.ToID]
	if miner.Balance, err = SubAmount(miner.Balance, locked); err != nil {
		return err
	}
	miner.Locks = append(miner.Locks, Lock{Amount: locked, ReleaseHeight: height})
	staged[coinbase.ToID] = miner
	touched[coinbase.ToID] = struct{}{}

	return nil
}

// applyTransaction performs the business logic for applying a non-coinbase
// transaction: nonce equality, spendable balance including fee, debit,
// credit, nonce increment. The fee itself is distributed at the block level.
func applyTransaction(staged map[AccountID]Account, touched map[AccountID]struct{}, tx SignedTx) error {
	from := staged[tx.FromID]

	if tx.Nonce != from.Nonce {
		return fmt.Errorf("%w: got %d, exp %d", ErrBadNonce, tx.Nonce, from.Nonce)
	}

	total, err := AddAmount(tx.Value, tx.Fee)
	if err != nil {
		return err
	}
	if from.Balance < total {
		return fmt.Errorf("%w: bal %d, needed %d", ErrInsufficientBalance, from.Balance, total)
	}

	from.Balance -= total
	from.Nonce++
	staged[tx.FromID] = from

	// Re-read so a self-send credits the debited record.
	to := staged[tx.ToID]
	if to.Balance, err = AddAmount(to.Balance, tx.Value); err != nil {
		return err
	}
	staged[tx.ToID] = to

	touched[tx.FromID] = struct{}{}
	touched[tx.ToID] = struct{}{}

	return nil
}

// unapplyTransaction reverses applyTransaction.
func unapplyTransaction(staged map[AccountID]Account, touched map[AccountID]struct{}, tx SignedTx) error {
	to := staged[tx.ToID]

	var err error
	if to.Balance, err = SubAmount(to.Balance, tx.Value); err != nil {
		return err
	}
	staged[tx.ToID] = to

	from := staged[tx.FromID]
	total, err := AddAmount(tx.Value, tx.Fee)
	if err != nil {
		return err
	}
	if from.Balance, err = AddAmount(from.Balance, total); err != nil {
		return err
	}
	if from.Nonce, err = SubAmount(from.Nonce, 1); err != nil {
		return err
	}
	staged[tx.FromID] = from

	touched[tx.FromID] = struct{}{}
	touched[tx.ToID] = struct{}{}

	return nil
}

// removeLock removes one escrow entry equal to the specified lock.
func removeLock(account *Account, lock Lock) bool {
	for i, l := range account.Locks {
		if l == lock {
			account.Locks = append(account.Locks[:i], account.Locks[i+1:]...)
			if len(account.Locks) == 0 {
				account.Locks = nil
			}
			return true
		}
	}
	return false
}

// copyAccounts deep-copies the account map including lock slices.
func copyAccounts(accounts map[AccountID]Account) map[AccountID]Account {
	cp := make(map[AccountID]Account, len(accounts))
	for accountID, account := range accounts {
		if len(account.Locks) > 0 {
			locks := make([]Lock, len(account.Locks))
			copy(locks, account.Locks)
			account.Locks = locks
		}
		cp[accountID] = account
	}
	return cp
}
