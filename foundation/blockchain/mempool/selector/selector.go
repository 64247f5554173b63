// Package selector provides different transaction selecting algorithms.
package selector

import (
	"bytes"
	"fmt"

	"github.com/quantanetwork/go-quanta/foundation/blockchain/database"
)

// List of different select strategies.
const (
	StrategyFee = "fee"
)

// Map of different select strategies with functions.
var strategies = map[string]Func{
	StrategyFee: feeSelect,
}

// Func defines a function that takes a mempool of transactions grouped by
// sender and selects howMany of them in an order based on the function's
// strategy. All selector functions MUST respect nonce ordering. Receiving -1
// for howMany must return all the transactions in the strategy's ordering.
type Func func(transactions map[database.AccountID][]database.BlockTx, howMany int) []database.BlockTx

// Retrieve returns the specified select strategy function.
func Retrieve(strategy string) (Func, error) {
	fn, exists := strategies[strategy]
	if !exists {
		return nil, fmt.Errorf("strategy %q does not exist", strategy)
	}
	return fn, nil
}

// =============================================================================

// byNonce provides sorting support by the transaction nonce value.
type byNonce []database.BlockTx

func (bn byNonce) Len() int           { return len(bn) }
func (bn byNonce) Less(i, j int) bool { return bn[i].Nonce < bn[j].Nonce }
func (bn byNonce) Swap(i, j int)      { bn[i], bn[j] = bn[j], bn[i] }

// byFee provides sorting support by descending fee with deterministic
// tie-breaks on earlier timestamp then transaction hash.
type byFee []database.BlockTx

func (bf byFee) Len() int { return len(bf) }

func (bf byFee) Less(i, j int) bool {
	if bf[i].Fee != bf[j].Fee {
		return bf[i].Fee > bf[j].Fee
	}
	if bf[i].Timestamp != bf[j].Timestamp {
		return bf[i].Timestamp < bf[j].Timestamp
	}

	iHash, _ := bf[i].Hash()
	jHash, _ := bf[j].Hash()
	return bytes.Compare(iHash, jHash) < 0
}

func (bf byFee) Swap(i, j int) { bf[i], bf[j] = bf[j], bf[i] }
