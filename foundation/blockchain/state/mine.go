package state

import (
	"context"

	"github.com/quantanetwork/go-quanta/foundation/blockchain/database"
)

// templateOverhead is a conservative allowance for the header and coinbase
// when trimming a template to the block size limit.
const templateOverhead = 2048

// MineNewBlock attempts to create a new block with a proper hash that can
// become the next block in the chain. The template takes the best-paying
// mempool transactions that fit the block limits; a block with only the
// coinbase is still worth mining.
func (s *State) MineNewBlock(ctx context.Context) (database.Block, error) {
	if !s.IsMining() {
		return database.Block{}, ErrMiningDisabled
	}

	latest := s.db.LatestBlock()
	height := latest.Header.Height + 1

	expDifficulty, err := s.db.ExpectedDifficulty(height)
	if err != nil {
		return database.Block{}, err
	}

	s.evHandler("state: MineNewBlock: MINING: height[%d] difficulty[%d]", height, expDifficulty)

	trans, totalFees, err := s.selectTransactions()
	if err != nil {
		return database.Block{}, err
	}

	_, _, minerShare := database.SplitFees(s.genesis.Mining, totalFees)
	reward, err := database.AddAmount(s.db.ExpectedReward(height), minerShare)
	if err != nil {
		return database.Block{}, err
	}

	block, err := database.POW(ctx, database.POWArgs{
		MinerID:    s.MinerID(),
		Difficulty: expDifficulty,
		PrevBlock:  latest,
		PrevHash:   latest.Hash(),
		Reward:     reward,
		Trans:      trans,
		EvHandler:  func(v string, args ...any) { s.evHandler(v, args...) },
	})
	if err != nil {
		return database.Block{}, err
	}

	// Just check one more time we were not cancelled.
	if ctx.Err() != nil {
		return database.Block{}, ctx.Err()
	}

	s.evHandler("state: MineNewBlock: MINING: validate and update database")

	if err := s.validateUpdateDatabase(block); err != nil {
		return database.Block{}, err
	}

	s.Worker.SignalShareBlock(database.NewBlockData(block), "")

	return block, nil
}

// selectTransactions pulls the best-paying transactions from the mempool
// that fit the block transaction and byte limits.
func (s *State) selectTransactions() ([]database.BlockTx, uint64, error) {
	limit := int(s.genesis.TransPerBlock) - 1
	picked := s.mempool.PickBest(limit)

	budget := int(s.genesis.MaxBlockSize) - templateOverhead

	var trans []database.BlockTx
	var totalFees uint64
	for _, tx := range picked {
		data, err := tx.Encode()
		if err != nil {
			return nil, 0, err
		}
		if budget -= len(data); budget < 0 {
			break
		}

		sum, err := database.AddAmount(totalFees, tx.Fee)
		if err != nil {
			return nil, 0, err
		}
		totalFees = sum
		trans = append(trans, tx)
	}

	return trans, totalFees, nil
}
