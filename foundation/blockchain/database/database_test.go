package database_test

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/quantanetwork/go-quanta/foundation/blockchain/database"
	"github.com/quantanetwork/go-quanta/foundation/blockchain/database/storage/memory"
	"github.com/quantanetwork/go-quanta/foundation/blockchain/difficulty"
	"github.com/quantanetwork/go-quanta/foundation/blockchain/genesis"
	"github.com/quantanetwork/go-quanta/foundation/blockchain/merkle"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

// Test accounts. Account ids are one-way hashes of public keys, so any
// well-formed value works for state transitions; signatures are checked by
// the validator, not the database.
var (
	accountA = mustAccount("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	accountB = mustAccount("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	miner1   = mustAccount("0x1111111111111111111111111111111111111111")
)

func mustAccount(hex string) database.AccountID {
	accountID, err := database.ToAccountID(hex)
	if err != nil {
		panic(err)
	}
	return accountID
}

// testGenesis shortens the escrow window so lock release is testable.
func testGenesis() genesis.Genesis {
	gen := genesis.TestNet()
	gen.Mining.RewardLockBlocks = 5
	gen.Balances = map[string]uint64{
		accountA.Hex(): 1_000 * database.MicroPerQUA,
	}
	return gen
}

// transfer builds an unsigned block transaction for state transitions.
func transfer(from database.AccountID, to database.AccountID, value uint64, fee uint64, nonce uint64, ts int64) database.BlockTx {
	return database.BlockTx{
		SignedTx: database.SignedTx{
			Tx: database.Tx{
				FromID:    from,
				ToID:      to,
				Value:     value,
				Fee:       fee,
				Nonce:     nonce,
				Timestamp: ts,
			},
		},
	}
}

// mineBlock assembles and solves the next block directly against the
// database, mirroring what the chain engine produces.
func mineBlock(t *testing.T, db *database.Database, minerID database.AccountID, txs []database.BlockTx, ts int64) database.Block {
	t.Helper()

	latest := db.LatestBlock()
	height := latest.Header.Height + 1

	var totalFees uint64
	for _, tx := range txs {
		totalFees += tx.Fee
	}
	_, _, minerShare := database.SplitFees(db.Genesis().Mining, totalFees)
	reward := db.ExpectedReward(height) + minerShare

	trans := append([]database.BlockTx{database.NewCoinbaseTx(minerID, reward, height, ts)}, txs...)
	tree, err := merkle.NewTree(trans)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to build the merkle tree: %v", failed, err)
	}

	expDifficulty, err := db.ExpectedDifficulty(height)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to compute the difficulty: %v", failed, err)
	}

	block := database.Block{
		Header: database.BlockHeader{
			Height:        height,
			Timestamp:     ts,
			PrevBlockHash: latest.Hash(),
			MerkleRoot:    toHash(tree.MerkleRoot),
			Difficulty:    expDifficulty,
			MinerID:       minerID,
		},
		Trans: tree,
	}

	for !difficulty.MeetsTarget(block.Hash(), block.Header.Difficulty) {
		block.Header.Nonce++
	}

	return block
}

func toHash(b []byte) (h [32]byte) {
	copy(h[:], b)
	return h
}

// supplyOK checks the conservation law: circulating + locked + burned
// equals the premine plus every reward minted.
func supplyOK(db *database.Database, premine uint64, rewards uint64) bool {
	supply := db.Supply()
	return supply.Circulating+supply.Locked+supply.Burned == premine+rewards
}

// =============================================================================

func Test_CoinbaseAndEscrow(t *testing.T) {
	t.Log("Given the need to credit and escrow mining rewards.")
	{
		gen := testGenesis()
		db, err := database.New(gen, memory.New(), nil)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to open the database: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to open the database.", success)

		ts := gen.Date.Unix()
		block1 := mineBlock(t, db, miner1, nil, ts+20)
		if err := db.ApplyBlock(block1); err != nil {
			t.Fatalf("\t%s\tShould be able to apply block 1: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to apply block 1.", success)

		account, err := db.Query(miner1)
		if err != nil {
			t.Fatalf("\t%s\tShould find the miner account: %v", failed, err)
		}

		// Reward at height 1 is 150 QUA: half immediate, half escrowed.
		if account.Balance != 75*database.MicroPerQUA {
			t.Errorf("\t%s\tShould credit 75 QUA immediately, got %d.", failed, account.Balance)
		} else {
			t.Logf("\t%s\tShould credit 75 QUA immediately.", success)
		}

		wantLock := database.Lock{Amount: 75 * database.MicroPerQUA, ReleaseHeight: 1 + gen.Mining.RewardLockBlocks}
		if len(account.Locks) != 1 || account.Locks[0] != wantLock {
			t.Errorf("\t%s\tShould escrow 75 QUA until height %d, got %+v.", failed, wantLock.ReleaseHeight, account.Locks)
		} else {
			t.Logf("\t%s\tShould escrow 75 QUA until height %d.", success, wantLock.ReleaseHeight)
		}

		premine := uint64(1_000 * database.MicroPerQUA)
		if !supplyOK(db, premine, 150*database.MicroPerQUA) {
			t.Errorf("\t%s\tShould conserve supply after the coinbase.", failed)
		} else {
			t.Logf("\t%s\tShould conserve supply after the coinbase.", success)
		}
	}
}

func Test_TransferAndFeeSplit(t *testing.T) {
	t.Log("Given the need to apply transfers with the 70/20/10 fee split.")
	{
		gen := testGenesis()
		db, err := database.New(gen, memory.New(), nil)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to open the database: %v", failed, err)
		}

		ts := gen.Date.Unix()
		block1 := mineBlock(t, db, miner1, nil, ts+20)
		if err := db.ApplyBlock(block1); err != nil {
			t.Fatalf("\t%s\tShould be able to apply block 1: %v", failed, err)
		}

		// A transfer of 10 QUA with a 0.001 QUA fee.
		tx := transfer(accountA, accountB, 10*database.MicroPerQUA, 1000, 0, ts+30)
		block2 := mineBlock(t, db, miner1, []database.BlockTx{tx}, ts+40)
		if err := db.ApplyBlock(block2); err != nil {
			t.Fatalf("\t%s\tShould be able to apply block 2: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to apply block 2.", success)

		sender, _ := db.Query(accountA)
		if want := uint64(1_000*database.MicroPerQUA - 10*database.MicroPerQUA - 1000); sender.Balance != want {
			t.Errorf("\t%s\tShould debit the sender amount plus fee, got %d.", failed, sender.Balance)
		} else {
			t.Logf("\t%s\tShould debit the sender amount plus fee.", success)
		}
		if sender.Nonce != 1 {
			t.Errorf("\t%s\tShould increment the sender nonce, got %d.", failed, sender.Nonce)
		} else {
			t.Logf("\t%s\tShould increment the sender nonce.", success)
		}

		recipient, _ := db.Query(accountB)
		if recipient.Balance != 10*database.MicroPerQUA {
			t.Errorf("\t%s\tShould credit the recipient, got %d.", failed, recipient.Balance)
		} else {
			t.Logf("\t%s\tShould credit the recipient.", success)
		}

		if db.Burned() != 700 {
			t.Errorf("\t%s\tShould burn 70%% of the fee, got %d.", failed, db.Burned())
		} else {
			t.Logf("\t%s\tShould burn 70%% of the fee.", success)
		}

		treasury, _ := db.Query(db.TreasuryID())
		if treasury.Balance != 200 || db.TreasuryTotal() != 200 {
			t.Errorf("\t%s\tShould route 20%% of the fee to the treasury, got %d.", failed, treasury.Balance)
		} else {
			t.Logf("\t%s\tShould route 20%% of the fee to the treasury.", success)
		}

		// Two coinbases of 75 QUA immediate plus the 10% fee share.
		minerAccount, _ := db.Query(miner1)
		if want := uint64(150*database.MicroPerQUA + 100); minerAccount.Balance != want {
			t.Errorf("\t%s\tShould credit the miner fee share, got %d.", failed, minerAccount.Balance)
		} else {
			t.Logf("\t%s\tShould credit the miner fee share.", success)
		}

		// The transaction is indexed and duplicate-detectable.
		txHash, err := tx.TxHash()
		if err != nil {
			t.Fatalf("\t%s\tShould hash the transaction: %v", failed, err)
		}
		if !db.HaveTx(txHash) {
			t.Errorf("\t%s\tShould index the committed transaction.", failed)
		} else {
			t.Logf("\t%s\tShould index the committed transaction.", success)
		}

		loc, err := db.GetTxLocation(txHash)
		if err != nil || loc.Height != 2 || loc.Position != 1 {
			t.Errorf("\t%s\tShould locate the transaction at (2,1), got %+v.", failed, loc)
		} else {
			t.Logf("\t%s\tShould locate the transaction at (2,1).", success)
		}

		premine := uint64(1_000 * database.MicroPerQUA)
		if !supplyOK(db, premine, 300*database.MicroPerQUA) {
			t.Errorf("\t%s\tShould conserve supply after transfers.", failed)
		} else {
			t.Logf("\t%s\tShould conserve supply after transfers.", success)
		}
	}
}

func Test_ApplyUnapplyIdempotence(t *testing.T) {
	t.Log("Given the need to roll a block back to the exact prior state.")
	{
		gen := testGenesis()
		db, err := database.New(gen, memory.New(), nil)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to open the database: %v", failed, err)
		}

		ts := gen.Date.Unix()
		if err := db.ApplyBlock(mineBlock(t, db, miner1, nil, ts+20)); err != nil {
			t.Fatalf("\t%s\tShould be able to apply block 1: %v", failed, err)
		}

		before := db.CopyAccounts()
		beforeBurned, beforeTreasury := db.Burned(), db.TreasuryTotal()
		beforeTip := db.LatestBlock().Hash()

		tx := transfer(accountA, accountB, 5*database.MicroPerQUA, 2000, 0, ts+30)
		block2 := mineBlock(t, db, miner1, []database.BlockTx{tx}, ts+40)
		if err := db.ApplyBlock(block2); err != nil {
			t.Fatalf("\t%s\tShould be able to apply block 2: %v", failed, err)
		}

		unapplied, err := db.UnapplyBlock()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to unapply block 2: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to unapply block 2.", success)

		if unapplied.Hash() != block2.Hash() {
			t.Errorf("\t%s\tShould return the unapplied block.", failed)
		} else {
			t.Logf("\t%s\tShould return the unapplied block.", success)
		}

		if !reflect.DeepEqual(before, db.CopyAccounts()) {
			t.Errorf("\t%s\tShould restore the account space byte for byte.", failed)
		} else {
			t.Logf("\t%s\tShould restore the account space byte for byte.", success)
		}

		if db.Burned() != beforeBurned || db.TreasuryTotal() != beforeTreasury {
			t.Errorf("\t%s\tShould restore the supply totals.", failed)
		} else {
			t.Logf("\t%s\tShould restore the supply totals.", success)
		}

		if db.LatestBlock().Hash() != beforeTip {
			t.Errorf("\t%s\tShould restore the tip.", failed)
		} else {
			t.Logf("\t%s\tShould restore the tip.", success)
		}

		txHash, _ := tx.TxHash()
		if db.HaveTx(txHash) {
			t.Errorf("\t%s\tShould remove the transaction index entry.", failed)
		} else {
			t.Logf("\t%s\tShould remove the transaction index entry.", success)
		}
	}
}

func Test_LockReleaseAndRelock(t *testing.T) {
	t.Log("Given the need to release escrow at its height and re-escrow on rollback.")
	{
		gen := testGenesis()
		db, err := database.New(gen, memory.New(), nil)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to open the database: %v", failed, err)
		}

		ts := gen.Date.Unix()
		lockBlocks := gen.Mining.RewardLockBlocks

		// Mine through the release height of block 1's escrow.
		for height := uint64(1); height <= lockBlocks+1; height++ {
			block := mineBlock(t, db, miner1, nil, ts+int64(height*20))
			if err := db.ApplyBlock(block); err != nil {
				t.Fatalf("\t%s\tShould be able to apply block %d: %v", failed, height, err)
			}
		}

		account, _ := db.Query(miner1)

		// Block 1's lock released at height lockBlocks+1; later locks remain.
		if len(account.Locks) != int(lockBlocks) {
			t.Errorf("\t%s\tShould hold %d remaining locks, got %d.", failed, lockBlocks, len(account.Locks))
		} else {
			t.Logf("\t%s\tShould hold %d remaining locks.", success, lockBlocks)
		}

		released := uint64(75 * database.MicroPerQUA)
		immediatePerBlock := uint64(75 * database.MicroPerQUA)
		wantBalance := immediatePerBlock*(lockBlocks+1) + released
		if account.Balance != wantBalance {
			t.Errorf("\t%s\tShould add the released escrow to the balance, got %d want %d.", failed, account.Balance, wantBalance)
		} else {
			t.Logf("\t%s\tShould add the released escrow to the balance.", success)
		}

		// Rolling the release block back re-escrows the lock.
		if _, err := db.UnapplyBlock(); err != nil {
			t.Fatalf("\t%s\tShould be able to unapply the release block: %v", failed, err)
		}

		account, _ = db.Query(miner1)
		if len(account.Locks) != int(lockBlocks) {
			t.Errorf("\t%s\tShould re-escrow the released lock, got %d locks.", failed, len(account.Locks))
		} else {
			t.Logf("\t%s\tShould re-escrow the released lock.", success)
		}
		if account.Balance != immediatePerBlock*lockBlocks {
			t.Errorf("\t%s\tShould deduct both the release and block reward, got %d.", failed, account.Balance)
		} else {
			t.Logf("\t%s\tShould deduct both the release and block reward.", success)
		}
	}
}

func Test_HydrateFromStorage(t *testing.T) {
	t.Log("Given the need to rebuild state from storage after a restart.")
	{
		gen := testGenesis()
		strg := memory.New()

		db, err := database.New(gen, strg, nil)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to open the database: %v", failed, err)
		}

		ts := gen.Date.Unix()
		if err := db.ApplyBlock(mineBlock(t, db, miner1, nil, ts+20)); err != nil {
			t.Fatalf("\t%s\tShould be able to apply block 1: %v", failed, err)
		}
		tx := transfer(accountA, accountB, database.MicroPerQUA, 500, 0, ts+30)
		if err := db.ApplyBlock(mineBlock(t, db, miner1, []database.BlockTx{tx}, ts+40)); err != nil {
			t.Fatalf("\t%s\tShould be able to apply block 2: %v", failed, err)
		}

		reopened, err := database.New(gen, strg, nil)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to reopen the database: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to reopen the database.", success)

		if reopened.LatestBlock().Hash() != db.LatestBlock().Hash() {
			t.Errorf("\t%s\tShould recover the tip.", failed)
		} else {
			t.Logf("\t%s\tShould recover the tip.", success)
		}

		if !reflect.DeepEqual(db.CopyAccounts(), reopened.CopyAccounts()) {
			t.Errorf("\t%s\tShould recover the account space.", failed)
		} else {
			t.Logf("\t%s\tShould recover the account space.", success)
		}

		if reopened.Burned() != db.Burned() || reopened.CumulativeWork().Cmp(db.CumulativeWork()) != 0 {
			t.Errorf("\t%s\tShould recover the totals and cumulative work.", failed)
		} else {
			t.Logf("\t%s\tShould recover the totals and cumulative work.", success)
		}
	}
}

func Test_BlockSerializationDeterminism(t *testing.T) {
	t.Log("Given the need for canonical block bytes and stable hashes.")
	{
		gen := testGenesis()
		db, err := database.New(gen, memory.New(), nil)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to open the database: %v", failed, err)
		}

		ts := gen.Date.Unix()
		tx := transfer(accountA, accountB, database.MicroPerQUA, 500, 0, ts+10)
		block := mineBlock(t, db, miner1, []database.BlockTx{tx}, ts+20)

		data, err := database.NewBlockData(block).Encode()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to encode the block: %v", failed, err)
		}

		decoded, err := database.DecodeBlockData(data)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to decode the block: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to decode the block.", success)

		redata, err := decoded.Encode()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to re-encode the block: %v", failed, err)
		}

		if !bytes.Equal(data, redata) {
			t.Errorf("\t%s\tShould round-trip to identical bytes.", failed)
		} else {
			t.Logf("\t%s\tShould round-trip to identical bytes.", success)
		}

		if decoded.Hash != block.Hash() {
			t.Errorf("\t%s\tShould recompute the same hash.", failed)
		} else {
			t.Logf("\t%s\tShould recompute the same hash.", success)
		}
	}
}
