package state

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/quantanetwork/go-quanta/foundation/blockchain/database"
	"github.com/quantanetwork/go-quanta/foundation/blockchain/genesis"
	"github.com/quantanetwork/go-quanta/foundation/blockchain/peer"
)

// QueryLatest represents a query for the latest block in the chain.
const QueryLatest = ^uint64(0) >> 1

// RetrieveGenesis returns a copy of the genesis information.
func (s *State) RetrieveGenesis() genesis.Genesis {
	return s.genesis
}

// RetrieveLatestBlock returns a copy of the current tip.
func (s *State) RetrieveLatestBlock() database.Block {
	return s.db.LatestBlock()
}

// RetrieveCumulativeWork returns the total work of the canonical chain.
func (s *State) RetrieveCumulativeWork() *big.Int {
	return s.db.CumulativeWork()
}

// RetrieveMempool returns a copy of the mempool in priority order.
func (s *State) RetrieveMempool() []database.BlockTx {
	return s.mempool.Copy()
}

// QueryMempoolLength returns the current length of the mempool.
func (s *State) QueryMempoolLength() int {
	return s.mempool.Count()
}

// PurgeExpiredTransactions drops pooled transactions past the expiry
// window. The mempool janitor calls this periodically.
func (s *State) PurgeExpiredTransactions() int {
	return s.mempool.PurgeExpired(time.Now().UTC())
}

// QueryAccount returns a copy of the account from the database.
func (s *State) QueryAccount(accountID database.AccountID) (database.Account, error) {
	return s.db.Query(accountID)
}

// RetrieveAccounts returns a copy of the full account space.
func (s *State) RetrieveAccounts() map[database.AccountID]database.Account {
	return s.db.CopyAccounts()
}

// RetrieveSupply returns the supply accounting totals.
func (s *State) RetrieveSupply() database.SupplyTotals {
	return s.db.Supply()
}

// =============================================================================

// QueryBlockByHeight returns the block at the specified height. Passing
// QueryLatest returns the tip.
func (s *State) QueryBlockByHeight(height uint64) (database.Block, error) {
	if height == QueryLatest {
		return s.db.LatestBlock(), nil
	}

	return s.db.GetBlock(height)
}

// QueryBlocksByHeight returns the set of blocks in [from, to]. This
// function reads the blockchain from disk.
func (s *State) QueryBlocksByHeight(from uint64, to uint64) ([]database.Block, error) {
	if from == QueryLatest {
		from = s.db.LatestBlock().Header.Height
	}
	if to == QueryLatest {
		to = s.db.LatestBlock().Header.Height
	}

	return s.db.GetBlocks(from, to)
}

// QueryBlockByHash returns the canonical block with the specified hash.
func (s *State) QueryBlockByHash(hash common.Hash) (database.Block, error) {
	return s.db.GetBlockByHash(hash)
}

// QueryBlockHeight resolves a block hash to a canonical height.
func (s *State) QueryBlockHeight(hash common.Hash) (uint64, error) {
	return s.db.HeightForHash(hash)
}

// =============================================================================

// TxProof is the merkle inclusion proof for a committed transaction.
type TxProof struct {
	TxHash     common.Hash `json:"tx_hash"`
	Height     uint64      `json:"height"`
	Position   uint16      `json:"position"`
	MerkleRoot common.Hash `json:"merkle_root"`
	Proof      [][]byte    `json:"proof"`
	ProofOrder []int64     `json:"proof_order"`
}

// QueryTxProof locates a committed transaction and produces the merkle
// proof of its inclusion.
func (s *State) QueryTxProof(txHash common.Hash) (TxProof, error) {
	loc, err := s.db.GetTxLocation(txHash)
	if err != nil {
		return TxProof{}, fmt.Errorf("transaction %s not found", txHash)
	}

	block, err := s.db.GetBlock(loc.Height)
	if err != nil {
		return TxProof{}, err
	}

	trans := block.Trans.Values()
	if int(loc.Position) >= len(trans) {
		return TxProof{}, fmt.Errorf("transaction index corrupt for %s", txHash)
	}

	proof, order, err := block.Trans.Proof(trans[loc.Position])
	if err != nil {
		return TxProof{}, err
	}

	return TxProof{
		TxHash:     txHash,
		Height:     loc.Height,
		Position:   loc.Position,
		MerkleRoot: block.Header.MerkleRoot,
		Proof:      proof,
		ProofOrder: order,
	}, nil
}

// =============================================================================

// RetrieveKnownPeers retrieves a copy of the known peer list.
func (s *State) RetrieveKnownPeers() []peer.Peer {
	return s.knownPeers.Copy()
}

// KnownPeers returns the shared peer set for the network layer.
func (s *State) KnownPeers() *peer.PeerSet {
	return s.knownPeers
}

// =============================================================================

// ValidateChain walks the full chain from genesis, re-checking linkage,
// proof of work, and merkle roots. It backs the validate CLI command.
func (s *State) ValidateChain() error {
	tip := s.db.LatestBlock().Header.Height

	prev := s.db.GenesisBlock()
	for height := uint64(1); height <= tip; height++ {
		block, err := s.db.GetBlock(height)
		if err != nil {
			return fmt.Errorf("block %d: %w", height, err)
		}

		if err := block.ValidateBlock(prev, time.Now().UTC().Add(time.Hour), s.genesis.TransPerBlock, s.genesis.MaxBlockSize, nil); err != nil {
			return fmt.Errorf("block %d: %w", height, err)
		}

		prev = block
	}

	return nil
}
