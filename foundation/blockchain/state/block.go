package state

import (
	"fmt"
	"time"

	"github.com/quantanetwork/go-quanta/foundation/blockchain/database"
)

// ProcessProposedBlock takes a block received from a peer, validates it
// against the consensus rules and, if that passes, applies it to the local
// chain and schedules gossip to every peer except the origin.
func (s *State) ProcessProposedBlock(block database.Block, origin string) error {
	s.evHandler("state: ProcessProposedBlock: started: prevBlk[%s]: newBlk[%s]: numTrans[%d]", block.Header.PrevBlockHash, block.Hash(), len(block.Trans.Values()))
	defer s.evHandler("state: ProcessProposedBlock: completed: newBlk[%s]", block.Hash())

	// If the mining operation is running it needs to stop immediately. The
	// G executing the mining will not return from the cancel call until done
	// is called. That allows this function to complete its state changes
	// before a new mining operation takes place.
	done := s.Worker.SignalCancelMining()
	defer done()

	if err := s.validateUpdateDatabase(block); err != nil {
		return err
	}

	s.Worker.SignalShareBlock(database.NewBlockData(block), origin)

	return nil
}

// =============================================================================

// validateUpdateDatabase takes the block and validates it against the
// consensus rules. If the block passes, the state of the node is updated
// atomically, including the durable indexes.
func (s *State) validateUpdateDatabase(block database.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.validateUpdateDatabaseLocked(block)
}

// validateUpdateDatabaseLocked is the lock-free body shared with the reorg
// path, which already holds the chain mutex.
func (s *State) validateUpdateDatabaseLocked(block database.Block) error {
	latest := s.db.LatestBlock()
	hash := block.Hash()

	s.evHandler("state: validateUpdateDatabase: check: block linkage")

	if block.Header.Height <= latest.Header.Height {
		if _, err := s.db.HeightForHash(hash); err == nil {
			return ErrAlreadyHave
		}
		return fmt.Errorf("%w: stale height %d on tip %d", ErrUnknownParent, block.Header.Height, latest.Header.Height)
	}

	if block.Header.PrevBlockHash != latest.Hash() {
		return fmt.Errorf("%w: parent %s", ErrUnknownParent, block.Header.PrevBlockHash)
	}

	s.evHandler("state: validateUpdateDatabase: check: consensus rules")

	if err := block.ValidateBlock(latest, time.Now().UTC(), s.genesis.TransPerBlock, s.genesis.MaxBlockSize, s.evHandler); err != nil {
		return err
	}

	expDifficulty, err := s.db.ExpectedDifficulty(block.Header.Height)
	if err != nil {
		return err
	}
	if block.Header.Difficulty != expDifficulty {
		return fmt.Errorf("%w: got %d, exp %d", database.ErrBadDifficulty, block.Header.Difficulty, expDifficulty)
	}

	s.evHandler("state: validateUpdateDatabase: check: transactions not already committed")

	for i, tx := range block.Trans.Values() {
		if i == 0 {
			continue
		}
		txHash, err := tx.TxHash()
		if err != nil {
			return err
		}
		if s.db.HaveTx(txHash) {
			return fmt.Errorf("tx[%d] %s: %w", i, tx, database.ErrDuplicateTx)
		}
	}

	s.evHandler("state: validateUpdateDatabase: check: coinbase amount")

	if err := s.validateCoinbase(block); err != nil {
		return err
	}

	s.evHandler("state: validateUpdateDatabase: apply block to database")

	if err := s.db.ApplyBlock(block); err != nil {
		return err
	}

	s.evHandler("state: validateUpdateDatabase: update mempool")

	for _, tx := range block.Trans.Values() {
		s.mempool.Delete(tx)
	}
	s.mempool.PurgeInvalid(func(accountID database.AccountID) database.Account {
		account, _ := s.db.Query(accountID)
		return account
	})

	s.blockEvent(block)

	return nil
}

// validateCoinbase checks the coinbase pays the miner exactly the expected
// reward plus the miner's share of the block fees.
func (s *State) validateCoinbase(block database.Block) error {
	coinbase, err := block.Coinbase()
	if err != nil {
		return err
	}

	if coinbase.ToID != block.Header.MinerID {
		return fmt.Errorf("%w: beneficiary mismatch", database.ErrBadCoinbase)
	}
	if coinbase.Nonce != block.Header.Height {
		return fmt.Errorf("%w: height stamp mismatch", database.ErrBadCoinbase)
	}

	totalFees, err := block.TotalFees()
	if err != nil {
		return err
	}
	_, _, minerShare := database.SplitFees(s.genesis.Mining, totalFees)

	expected, err := database.AddAmount(s.db.ExpectedReward(block.Header.Height), minerShare)
	if err != nil {
		return err
	}

	if coinbase.Value != expected {
		return fmt.Errorf("%w: got %d, exp %d", database.ErrBadCoinbase, coinbase.Value, expected)
	}

	return nil
}

// blockEvent provides a specific event about a new block in the chain for
// application specific support.
func (s *State) blockEvent(block database.Block) {
	s.evHandler("viewer: block: height[%d] hash[%s] trans[%d] difficulty[%d]",
		block.Header.Height, block.Hash(), len(block.Trans.Values()), block.Header.Difficulty)
}
