package state

import (
	"fmt"
	"math/big"

	"github.com/quantanetwork/go-quanta/foundation/blockchain/database"
	"github.com/quantanetwork/go-quanta/foundation/blockchain/difficulty"
)

// Reorganize switches the canonical chain to a heavier branch fetched from
// a peer. The branch must connect to a block already in the canonical
// chain; its first block's parent is the common ancestor. The current chain
// is rolled back to the ancestor block by block, then the branch applies in
// order. Every step is one atomic storage batch, so a crash mid-reorg
// leaves a consistent chain at some intermediate height. If a branch block
// fails validation the rollback is undone and the old chain restored.
func (s *State) Reorganize(branch []database.Block) error {
	if len(branch) == 0 {
		return fmt.Errorf("%w: empty branch", ErrReorgFailed)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.evHandler("state: Reorganize: started: branch[%d blocks]", len(branch))
	defer s.evHandler("state: Reorganize: completed")

	ancestorHeight, err := s.db.HeightForHash(branch[0].Header.PrevBlockHash)
	if err != nil {
		return fmt.Errorf("%w: branch ancestor %s", ErrUnknownParent, branch[0].Header.PrevBlockHash)
	}

	// The branch must carry strictly more cumulative work than the blocks
	// it replaces. Ties keep the earlier-observed chain: ours.
	if !s.branchIsHeavier(branch, ancestorHeight) {
		return fmt.Errorf("%w: branch is not heavier than the canonical chain", ErrReorgFailed)
	}

	// Roll the canonical chain back to the common ancestor, remembering the
	// blocks so they can be restored or their transactions repooled.
	var rolled []database.Block
	for s.db.LatestBlock().Header.Height > ancestorHeight {
		block, err := s.db.UnapplyBlock()
		if err != nil {
			return fmt.Errorf("%w: rollback: %s", ErrReorgFailed, err)
		}
		rolled = append(rolled, block)
	}

	for i, block := range branch {
		if err := s.validateUpdateDatabaseLocked(block); err != nil {
			s.evHandler("state: Reorganize: branch blk[%d] invalid: %s: restoring", i, err)
			s.restore(i, rolled)
			return fmt.Errorf("%w: branch blk[%d]: %w", ErrReorgFailed, i, err)
		}
	}

	// Give transactions from the abandoned blocks a second chance if the
	// new branch didn't include them.
	s.repoolTransactions(rolled)

	return nil
}

// branchIsHeavier compares the candidate branch work against the canonical
// blocks above the ancestor.
func (s *State) branchIsHeavier(branch []database.Block, ancestorHeight uint64) bool {
	branchWork := big.NewInt(0)
	for _, block := range branch {
		branchWork.Add(branchWork, difficulty.Work(block.Header.Difficulty))
	}

	replacedWork := big.NewInt(0)
	tip := s.db.LatestBlock().Header.Height
	for height := ancestorHeight + 1; height <= tip; height++ {
		block, err := s.db.GetBlock(height)
		if err != nil {
			return false
		}
		replacedWork.Add(replacedWork, difficulty.Work(block.Header.Difficulty))
	}

	return branchWork.Cmp(replacedWork) > 0
}

// restore undoes a partially applied branch and re-applies the rolled back
// canonical blocks.
func (s *State) restore(applied int, rolled []database.Block) {
	for i := 0; i < applied; i++ {
		if _, err := s.db.UnapplyBlock(); err != nil {
			s.evHandler("state: Reorganize: restore: unapply ERROR: %s", err)
			return
		}
	}

	for i := len(rolled) - 1; i >= 0; i-- {
		if err := s.validateUpdateDatabaseLocked(rolled[i]); err != nil {
			s.evHandler("state: Reorganize: restore: reapply ERROR: %s", err)
			return
		}
	}
}

// repoolTransactions returns transactions from abandoned blocks to the
// mempool when the new branch didn't commit them.
func (s *State) repoolTransactions(rolled []database.Block) {
	for _, block := range rolled {
		for i, tx := range block.Trans.Values() {
			if i == 0 {
				continue
			}

			txHash, err := tx.TxHash()
			if err != nil || s.db.HaveTx(txHash) {
				continue
			}

			s.mempool.Upsert(tx)
		}
	}

	s.mempool.PurgeInvalid(func(accountID database.AccountID) database.Account {
		account, _ := s.db.Query(accountID)
		return account
	})
}
