package selector

import (
	"sort"

	"github.com/quantanetwork/go-quanta/foundation/blockchain/database"
)

// feeSelect returns transactions with the best fee while respecting the
// nonce order for each sender. Transactions are grouped per sender and
// sorted by nonce; selection then proceeds row by row so a later nonce can
// never be picked ahead of an earlier one from the same sender, with each
// partial row ordered by descending fee.
var feeSelect = func(m map[database.AccountID][]database.BlockTx, howMany int) []database.BlockTx {
	if howMany == -1 {
		howMany = 0
		for key := range m {
			howMany += len(m[key])
		}
	}

	// Sort the transactions per sender by nonce.
	for key := range m {
		if len(m[key]) > 1 {
			sort.Sort(byNonce(m[key]))
		}
	}

	// Pick the first transaction in the slice for each sender. Each
	// iteration represents a new row of selections. Keep doing that until
	// all the transactions have been drained.
	var rows [][]database.BlockTx
	for {
		var row []database.BlockTx
		for key := range m {
			if len(m[key]) > 0 {
				row = append(row, m[key][0])
				m[key] = m[key][1:]
			}
		}
		if row == nil {
			break
		}
		rows = append(rows, row)
	}

	// Order every row by fee and take from each row in turn until the
	// requested amount is fulfilled or there are no more transactions.
	final := []database.BlockTx{}
done:
	for _, row := range rows {
		need := howMany - len(final)
		sort.Sort(byFee(row))
		if len(row) > need {
			final = append(final, row[:need]...)
			break done
		}
		final = append(final, row...)
	}

	return final
}
