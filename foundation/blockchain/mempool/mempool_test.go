package mempool_test

import (
	"errors"
	"testing"
	"time"

	"github.com/quantanetwork/go-quanta/foundation/blockchain/database"
	"github.com/quantanetwork/go-quanta/foundation/blockchain/mempool"
	"github.com/quantanetwork/go-quanta/foundation/blockchain/mempool/selector"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

var (
	sender1 = mustAccount("0x1111111111111111111111111111111111111111")
	sender2 = mustAccount("0x2222222222222222222222222222222222222222")
	dest    = mustAccount("0x9999999999999999999999999999999999999999")
)

func mustAccount(hex string) database.AccountID {
	accountID, err := database.ToAccountID(hex)
	if err != nil {
		panic(err)
	}
	return accountID
}

func tx(from database.AccountID, nonce uint64, fee uint64, ts int64) database.BlockTx {
	return database.BlockTx{
		SignedTx: database.SignedTx{
			Tx: database.Tx{
				FromID:    from,
				ToID:      dest,
				Value:     database.MicroPerQUA,
				Fee:       fee,
				Nonce:     nonce,
				Timestamp: ts,
			},
		},
	}
}

// =============================================================================

func Test_UpsertAndDuplicates(t *testing.T) {
	t.Log("Given the need to pool transactions exactly once.")
	{
		mp, err := mempool.New()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to construct the mempool: %v", failed, err)
		}

		tran := tx(sender1, 0, 500, 100)
		if err := mp.Upsert(tran); err != nil {
			t.Fatalf("\t%s\tShould accept a new transaction: %v", failed, err)
		}
		t.Logf("\t%s\tShould accept a new transaction.", success)

		if err := mp.Upsert(tran); !errors.Is(err, mempool.ErrDuplicateTx) {
			t.Errorf("\t%s\tShould reject the same transaction twice, got %v.", failed, err)
		} else {
			t.Logf("\t%s\tShould reject the same transaction twice.", success)
		}

		if mp.Count() != 1 {
			t.Errorf("\t%s\tShould hold exactly one transaction, got %d.", failed, mp.Count())
		} else {
			t.Logf("\t%s\tShould hold exactly one transaction.", success)
		}

		hash, _ := tran.TxHash()
		if !mp.Contains(hash) {
			t.Errorf("\t%s\tShould report the transaction as pooled.", failed)
		} else {
			t.Logf("\t%s\tShould report the transaction as pooled.", success)
		}
	}
}

func Test_CapacityAndEviction(t *testing.T) {
	t.Log("Given the need to bound the pool and evict the lowest fee.")
	{
		mp, err := mempool.NewWithStrategy(selector.StrategyFee, 3)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to construct the mempool: %v", failed, err)
		}

		mp.Upsert(tx(sender1, 0, 100, 1))
		mp.Upsert(tx(sender1, 1, 200, 2))
		mp.Upsert(tx(sender1, 2, 300, 3))

		// A fee equal to the current minimum is refused.
		if err := mp.Upsert(tx(sender2, 0, 100, 4)); !errors.Is(err, mempool.ErrFull) {
			t.Errorf("\t%s\tShould refuse a fee not above the minimum, got %v.", failed, err)
		} else {
			t.Logf("\t%s\tShould refuse a fee not above the minimum.", success)
		}

		// A strictly better fee evicts the lowest.
		if err := mp.Upsert(tx(sender2, 0, 250, 5)); err != nil {
			t.Fatalf("\t%s\tShould accept a strictly better fee: %v", failed, err)
		}
		t.Logf("\t%s\tShould accept a strictly better fee.", success)

		if mp.Count() != 3 {
			t.Errorf("\t%s\tShould stay at capacity, got %d.", failed, mp.Count())
		} else {
			t.Logf("\t%s\tShould stay at capacity.", success)
		}

		lowest, _ := tx(sender1, 0, 100, 1).TxHash()
		if mp.Contains(lowest) {
			t.Errorf("\t%s\tShould have evicted the lowest fee entry.", failed)
		} else {
			t.Logf("\t%s\tShould have evicted the lowest fee entry.", success)
		}
	}
}

func Test_PickBestRespectsNonces(t *testing.T) {
	t.Log("Given the need to select by fee without breaking nonce order.")
	{
		mp, err := mempool.New()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to construct the mempool: %v", failed, err)
		}

		// sender1's high-fee transaction carries a later nonce, so its
		// nonce-0 predecessor must come first regardless.
		mp.Upsert(tx(sender1, 0, 100, 1))
		mp.Upsert(tx(sender1, 1, 900, 2))
		mp.Upsert(tx(sender2, 0, 500, 3))

		picked := mp.PickBest(3)
		if len(picked) != 3 {
			t.Fatalf("\t%s\tShould pick all three, got %d.", failed, len(picked))
		}
		t.Logf("\t%s\tShould pick all three.", success)

		pos := map[string]int{}
		for i, tran := range picked {
			hash, _ := tran.TxHash()
			pos[string(hash.Bytes())] = i
		}

		first, _ := tx(sender1, 0, 100, 1).TxHash()
		second, _ := tx(sender1, 1, 900, 2).TxHash()
		if pos[string(first.Bytes())] > pos[string(second.Bytes())] {
			t.Errorf("\t%s\tShould keep sender1's nonces in order.", failed)
		} else {
			t.Logf("\t%s\tShould keep sender1's nonces in order.", success)
		}
	}
}

func Test_PendingForAccount(t *testing.T) {
	t.Log("Given the need to track each sender's pooled commitments.")
	{
		mp, err := mempool.New()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to construct the mempool: %v", failed, err)
		}

		mp.Upsert(tx(sender1, 0, 100, 1))
		mp.Upsert(tx(sender1, 1, 200, 2))

		count, committed := mp.PendingForAccount(sender1)
		if count != 2 {
			t.Errorf("\t%s\tShould count two pending transactions, got %d.", failed, count)
		} else {
			t.Logf("\t%s\tShould count two pending transactions.", success)
		}

		want := uint64(2*database.MicroPerQUA + 300)
		if committed != want {
			t.Errorf("\t%s\tShould commit %d microunits, got %d.", failed, want, committed)
		} else {
			t.Logf("\t%s\tShould commit %d microunits.", success, want)
		}
	}
}

func Test_PurgeExpiredAndInvalid(t *testing.T) {
	t.Log("Given the need to sweep stale and unappliable transactions.")
	{
		mp, err := mempool.New()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to construct the mempool: %v", failed, err)
		}

		now := time.Now().UTC()
		fresh := tx(sender1, 0, 100, now.Unix())
		stale := tx(sender2, 0, 100, now.Add(-25*time.Hour).Unix())
		mp.Upsert(fresh)
		mp.Upsert(stale)

		if purged := mp.PurgeExpired(now); purged != 1 {
			t.Errorf("\t%s\tShould purge one expired transaction, got %d.", failed, purged)
		} else {
			t.Logf("\t%s\tShould purge one expired transaction.", success)
		}

		// sender1's nonce has moved past the pooled transaction.
		purged := mp.PurgeInvalid(func(accountID database.AccountID) database.Account {
			return database.Account{Balance: 100 * database.MicroPerQUA, Nonce: 1}
		})
		if purged != 1 || mp.Count() != 0 {
			t.Errorf("\t%s\tShould purge the consumed nonce, got %d purged %d left.", failed, purged, mp.Count())
		} else {
			t.Logf("\t%s\tShould purge the consumed nonce.", success)
		}
	}
}
