package database

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/quantanetwork/go-quanta/foundation/blockchain/difficulty"
	"github.com/quantanetwork/go-quanta/foundation/blockchain/genesis"
)

// Genesis returns the genesis parameters.
func (db *Database) Genesis() genesis.Genesis {
	return db.genesis
}

// GenesisBlock returns the deterministic first block of the chain.
func (db *Database) GenesisBlock() Block {
	return db.genesisBlock
}

// TreasuryID returns the account receiving the treasury fee share.
func (db *Database) TreasuryID() AccountID {
	return db.treasuryID
}

// LatestBlock returns the current tip.
func (db *Database) LatestBlock() Block {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.latestBlock
}

// CumulativeWork returns a copy of the total work of the canonical chain.
func (db *Database) CumulativeWork() *big.Int {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return new(big.Int).Set(db.cumulativeWork)
}

// Burned returns the total supply burned through fees.
func (db *Database) Burned() uint64 {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.burned
}

// TreasuryTotal returns the total fees routed to the treasury account.
func (db *Database) TreasuryTotal() uint64 {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.treasuryTotal
}

// CopyAccounts makes a copy of the current accounts in the database.
func (db *Database) CopyAccounts() map[AccountID]Account {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return copyAccounts(db.accounts)
}

// Query returns a copy of the specified account.
func (db *Database) Query(accountID AccountID) (Account, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	account, exists := db.accounts[accountID]
	if !exists {
		return Account{}, fmt.Errorf("account %s not found", accountID)
	}

	if len(account.Locks) > 0 {
		locks := make([]Lock, len(account.Locks))
		copy(locks, account.Locks)
		account.Locks = locks
	}

	return account, nil
}

// =============================================================================

// GetBlock returns the block at the specified height from storage.
func (db *Database) GetBlock(height uint64) (Block, error) {
	return db.readBlock(height)
}

// GetBlocks returns the blocks in [from, to], stopping early at the tip.
func (db *Database) GetBlocks(from uint64, to uint64) ([]Block, error) {
	tip := db.LatestBlock().Header.Height
	if to > tip {
		to = tip
	}

	var blocks []Block
	for height := from; height <= to; height++ {
		block, err := db.readBlock(height)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}

	return blocks, nil
}

// HeightForHash resolves a block hash to its height in the canonical chain.
func (db *Database) HeightForHash(hash common.Hash) (uint64, error) {
	data, err := db.storage.Get(BlockHashKey(hash))
	if err != nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("%w: height index entry", ErrCorruptState)
	}

	return binary.BigEndian.Uint64(data), nil
}

// GetBlockByHash returns the block with the specified hash if it is part of
// the canonical chain.
func (db *Database) GetBlockByHash(hash common.Hash) (Block, error) {
	height, err := db.HeightForHash(hash)
	if err != nil {
		return Block{}, err
	}

	return db.readBlock(height)
}

// TxLocation is where a transaction landed in the canonical chain.
type TxLocation struct {
	Height   uint64
	Position uint16
}

// GetTxLocation resolves a transaction hash to its block and position.
func (db *Database) GetTxLocation(txHash common.Hash) (TxLocation, error) {
	data, err := db.storage.Get(TxKey(txHash))
	if err != nil {
		return TxLocation{}, err
	}

	var loc txLocationWire
	if err := rlp.DecodeBytes(data, &loc); err != nil {
		return TxLocation{}, fmt.Errorf("%w: tx index entry: %s", ErrCorruptState, err)
	}

	return TxLocation{Height: loc.Height, Position: loc.Position}, nil
}

// HaveTx reports whether the transaction already exists in the canonical
// chain.
func (db *Database) HaveTx(txHash common.Hash) bool {
	_, err := db.storage.Get(TxKey(txHash))
	return err == nil
}

// =============================================================================

// RecentFeeSum returns the sum of fees over the last min(feeWindow, height)
// blocks below the specified height.
func (db *Database) RecentFeeSum(height uint64) uint64 {
	db.mu.RLock()
	defer db.mu.RUnlock()

	window := uint64(feeWindow)
	if height < window {
		window = height
	}

	var total uint64
	for h := height - window; h < height; h++ {
		total += db.feeHistory[h]
	}

	return total
}

// ExpectedReward returns the total coinbase reward for a block at the
// specified height given the current fee history.
func (db *Database) ExpectedReward(height uint64) uint64 {
	return ExpectedReward(db.genesis.Mining, height, db.RecentFeeSum(height))
}

// ExpectedDifficulty returns the required difficulty for a block at the
// specified height. Retargeting happens on the first block after every
// adjustment window; within a window the difficulty is carried forward.
func (db *Database) ExpectedDifficulty(height uint64) (uint32, error) {
	interval := db.genesis.Mining.DifficultyInterval

	if height <= interval {
		return db.genesis.Difficulty, nil
	}

	prev, err := db.readBlock(height - 1)
	if err != nil {
		return 0, err
	}

	if (height-1)%interval != 0 {
		return prev.Header.Difficulty, nil
	}

	first, err := db.readBlock(height - 1 - interval)
	if err != nil {
		return 0, err
	}

	actual := prev.Header.Timestamp - first.Header.Timestamp
	expected := int64(interval * db.genesis.Mining.TargetBlockTime)

	return difficulty.Retarget(prev.Header.Difficulty, actual, expected), nil
}

// =============================================================================

// SupplyTotals represents the supply accounting surfaced by the stats API.
type SupplyTotals struct {
	Circulating uint64 `json:"circulating"`
	Locked      uint64 `json:"locked"`
	Burned      uint64 `json:"burned"`
	Treasury    uint64 `json:"treasury"`
}

// Supply sums the account space and the burn/treasury totals.
func (db *Database) Supply() SupplyTotals {
	db.mu.RLock()
	defer db.mu.RUnlock()

	totals := SupplyTotals{
		Burned:   db.burned,
		Treasury: db.treasuryTotal,
	}
	for _, account := range db.accounts {
		totals.Circulating += account.Balance
		totals.Locked += account.Locked()
	}

	return totals
}

// =============================================================================

// txLocationWire is the canonical encoding of a t/ index entry.
type txLocationWire struct {
	Height   uint64
	Position uint16
}

// tipWire is the canonical encoding of the m/tip record.
type tipWire struct {
	Hash   common.Hash
	Height uint64
	Work   []byte
}

// blockSets stages the storage writes for a block: its bytes, both indexes,
// and the transaction index entries.
func (db *Database) blockSets(block Block) ([]KV, error) {
	data, err := NewBlockData(block).Encode()
	if err != nil {
		return nil, err
	}

	height := block.Header.Height

	heightBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(heightBytes, height)

	sets := []KV{
		{Key: BlockKey(height), Value: data},
		{Key: BlockHashKey(block.Hash()), Value: heightBytes},
	}

	for i, tx := range block.Trans.Values() {
		txHash, err := tx.TxHash()
		if err != nil {
			return nil, err
		}

		loc, err := rlp.EncodeToBytes(txLocationWire{Height: height, Position: uint16(i)})
		if err != nil {
			return nil, err
		}
		sets = append(sets, KV{Key: TxKey(txHash), Value: loc})
	}

	return sets, nil
}

// readBlock loads and decodes the block at the specified height.
func (db *Database) readBlock(height uint64) (Block, error) {
	data, err := db.storage.Get(BlockKey(height))
	if err != nil {
		return Block{}, err
	}

	bd, err := DecodeBlockData(data)
	if err != nil {
		return Block{}, err
	}

	return ToBlock(bd)
}

// readTip loads the m/tip record.
func (db *Database) readTip() (common.Hash, uint64, *big.Int, error) {
	data, err := db.storage.Get(TipKey)
	if err != nil {
		return common.Hash{}, 0, nil, err
	}

	var tip tipWire
	if err := rlp.DecodeBytes(data, &tip); err != nil {
		return common.Hash{}, 0, nil, fmt.Errorf("%w: tip record: %s", ErrCorruptState, err)
	}

	return tip.Hash, tip.Height, new(big.Int).SetBytes(tip.Work), nil
}

// readTotal loads an 8-byte total under the specified metadata key.
func (db *Database) readTotal(key []byte) (uint64, error) {
	data, err := db.storage.Get(key)
	if err != nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("%w: total under %s", ErrCorruptState, key)
	}

	return binary.BigEndian.Uint64(data), nil
}

// encodeTip builds the m/tip record.
func encodeTip(hash common.Hash, height uint64, work *big.Int) []byte {
	data, err := rlp.EncodeToBytes(tipWire{Hash: hash, Height: height, Work: work.Bytes()})
	if err != nil {
		return nil
	}
	return data
}

// encodeTotal builds an 8-byte big endian total.
func encodeTotal(total uint64) []byte {
	value := make([]byte, 8)
	binary.BigEndian.PutUint64(value, total)
	return value
}
