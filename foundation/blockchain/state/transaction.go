package state

import (
	"fmt"
	"time"

	"github.com/quantanetwork/go-quanta/foundation/blockchain/database"
)

// SubmitWalletTransaction accepts a transaction from a wallet for inclusion
// into the mempool and gossips it to the network.
func (s *State) SubmitWalletTransaction(signedTx database.SignedTx) error {
	s.evHandler("state: SubmitWalletTransaction: tx[%s]", signedTx)

	return s.submitTransaction(database.NewBlockTx(signedTx), "")
}

// SubmitNodeTransaction accepts a gossiped transaction from a peer for
// inclusion into the mempool. The origin peer is excluded from re-gossip.
func (s *State) SubmitNodeTransaction(tx database.BlockTx, origin string) error {
	return s.submitTransaction(tx, origin)
}

// submitTransaction validates the transaction for admission, pools it, and
// schedules gossip.
func (s *State) submitTransaction(tx database.BlockTx, origin string) error {
	if err := s.validateTransaction(tx); err != nil {
		return err
	}

	if err := s.mempool.Upsert(tx); err != nil {
		return err
	}

	s.Worker.SignalShareTx(tx, origin)
	if s.IsMining() {
		s.Worker.SignalStartMining()
	}

	return nil
}

// =============================================================================

// validateTransaction runs the full admission policy: structural integrity
// and signature, duplicate suppression against both the pool and the chain,
// contiguous nonces per sender, and the spendable balance including every
// pending commitment already pooled for the sender.
func (s *State) validateTransaction(tx database.BlockTx) error {
	if err := tx.Validate(time.Now().UTC()); err != nil {
		return err
	}

	txHash, err := tx.TxHash()
	if err != nil {
		return err
	}

	if s.mempool.Contains(txHash) {
		return database.ErrDuplicateTx
	}
	if s.db.HaveTx(txHash) {
		return database.ErrDuplicateTx
	}

	account, _ := s.db.Query(tx.FromID)
	pendingCount, committed := s.mempool.PendingForAccount(tx.FromID)

	if next := account.Nonce + pendingCount; tx.Nonce != next {
		return fmt.Errorf("%w: got %d, exp %d", database.ErrBadNonce, tx.Nonce, next)
	}

	total, err := database.AddAmount(tx.Value, tx.Fee)
	if err != nil {
		return err
	}
	needed, err := database.AddAmount(committed, total)
	if err != nil {
		return err
	}
	if account.Balance < needed {
		return fmt.Errorf("%w: bal %d, needed %d", database.ErrInsufficientBalance, account.Balance, needed)
	}

	return nil
}
