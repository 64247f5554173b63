package database

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/quantanetwork/go-quanta/foundation/blockchain/difficulty"
	"github.com/quantanetwork/go-quanta/foundation/blockchain/merkle"
	"github.com/quantanetwork/go-quanta/foundation/blockchain/signature"
)

// powCheckInterval is the number of nonce attempts between checks for
// cancellation and clock drift. The miner must be preemptible within one
// interval.
const powCheckInterval = 1 << 16

// powClockDrift is how far the wall clock may move past the template
// timestamp before the timestamp is refreshed mid-search.
const powClockDrift = 2 * time.Second

// =============================================================================

// BlockHeader represents common information required for each block. The
// block hash is the double SHA3-256 of the canonical header bytes and is
// not itself part of the header.
type BlockHeader struct {
	Height        uint64      `json:"height"`          // Block position in the chain.
	Timestamp     int64       `json:"timestamp"`       // Unix seconds the block was assembled.
	PrevBlockHash common.Hash `json:"prev_block_hash"` // Hash of the previous block; zero for genesis.
	MerkleRoot    common.Hash `json:"merkle_root"`     // Root of the transaction merkle tree.
	Nonce         uint64      `json:"nonce"`           // Value identified to solve the PoW puzzle.
	Difficulty    uint32      `json:"difficulty"`      // Required leading zero bits of the block hash.
	MinerID       AccountID   `json:"miner"`           // Account receiving the reward and fee share.
}

// headerWire is the canonical encoding of a block header.
type headerWire struct {
	Version       uint8
	Height        uint64
	Timestamp     uint64
	PrevBlockHash common.Hash
	MerkleRoot    common.Hash
	Nonce         uint64
	Difficulty    uint32
	MinerID       AccountID
}

// Block represents a group of transactions batched together. Position 0 of
// the transaction list is always the coinbase.
type Block struct {
	Header BlockHeader
	Trans  *merkle.Tree[BlockTx]
}

// Hash returns the unique hash for the block: SHA3-256(SHA3-256(header)).
func (b Block) Hash() common.Hash {
	data, err := rlp.EncodeToBytes(headerWire{
		Version:       formatVersion,
		Height:        b.Header.Height,
		Timestamp:     uint64(b.Header.Timestamp),
		PrevBlockHash: b.Header.PrevBlockHash,
		MerkleRoot:    b.Header.MerkleRoot,
		Nonce:         b.Header.Nonce,
		Difficulty:    b.Header.Difficulty,
		MinerID:       b.Header.MinerID,
	})
	if err != nil {
		return signature.ZeroHash
	}

	return signature.DoubleHash(data)
}

// TotalFees returns the sum of the fees of every non-coinbase transaction.
func (b Block) TotalFees() (uint64, error) {
	var total uint64
	for _, tx := range b.Trans.Values() {
		if tx.IsCoinbase() {
			continue
		}

		sum, err := AddAmount(total, tx.Fee)
		if err != nil {
			return 0, err
		}
		total = sum
	}

	return total, nil
}

// Coinbase returns the supply-creating transaction at position 0.
func (b Block) Coinbase() (BlockTx, error) {
	trans := b.Trans.Values()
	if len(trans) == 0 || !trans[0].IsCoinbase() {
		return BlockTx{}, ErrBadCoinbase
	}

	return trans[0], nil
}

// =============================================================================

// POWArgs represents the set of arguments required to mine a new block.
type POWArgs struct {
	MinerID    AccountID
	Difficulty uint32
	PrevBlock  Block
	PrevHash   common.Hash
	Reward     uint64 // Total coinbase amount: expected reward plus miner fee share.
	Trans      []BlockTx
	EvHandler  func(v string, args ...any)
}

// POW constructs a new Block and performs the work to find a nonce that
// solves the cryptographic PoW puzzle.
func POW(ctx context.Context, args POWArgs) (Block, error) {
	ev := func(v string, a ...any) {
		if args.EvHandler != nil {
			args.EvHandler(v, a...)
		}
	}

	height := args.PrevBlock.Header.Height + 1
	now := time.Now().UTC().Unix()

	// The coinbase leads the transaction list and carries the full reward.
	trans := make([]BlockTx, 0, len(args.Trans)+1)
	trans = append(trans, NewCoinbaseTx(args.MinerID, args.Reward, height, now))
	trans = append(trans, args.Trans...)

	tree, err := merkle.NewTree(trans)
	if err != nil {
		return Block{}, err
	}

	nb := Block{
		Header: BlockHeader{
			Height:        height,
			Timestamp:     now,
			PrevBlockHash: args.PrevHash,
			MerkleRoot:    common.BytesToHash(tree.MerkleRoot),
			Nonce:         0, // Will be identified by the PoW search.
			Difficulty:    args.Difficulty,
			MinerID:       args.MinerID,
		},
		Trans: tree,
	}

	if err := nb.performPOW(ctx, ev); err != nil {
		return Block{}, err
	}

	return nb, nil
}

// performPOW does the work of mining to find a valid hash for a specified
// block. Pointer semantics are being used since a nonce is being discovered.
func (b *Block) performPOW(ctx context.Context, ev func(v string, args ...any)) error {
	ev("database: performPOW: MINING: started: height[%d] difficulty[%d]", b.Header.Height, b.Header.Difficulty)
	defer ev("database: performPOW: MINING: completed")

	var attempts uint64
	for {
		// Every interval, surface for cancellation and refresh a stale
		// template timestamp so the chain's timestamps track real time.
		if attempts%powCheckInterval == 0 {
			if ctx.Err() != nil {
				ev("database: performPOW: MINING: CANCELLED")
				return ctx.Err()
			}

			if now := time.Now().UTC(); now.Sub(time.Unix(b.Header.Timestamp, 0)) > powClockDrift {
				b.Header.Timestamp = now.Unix()
			}
		}
		attempts++

		hash := b.Hash()
		if !difficulty.MeetsTarget(hash, b.Header.Difficulty) {
			b.Header.Nonce++
			continue
		}

		ev("database: performPOW: MINING: SOLVED: prevBlk[%s]: newBlk[%s]: attempts[%d]", b.Header.PrevBlockHash, hash, attempts)

		return nil
	}
}

// =============================================================================

// ValidateBlock performs the context-free block rules plus the linkage
// checks against the previous block: coinbase position, transaction count
// and size limits, merkle root, PoW target, timestamp bounds, height and
// parent hash continuity, and the structural validity of every transaction.
// The expected-difficulty and coinbase-amount rules need chain state and are
// enforced by the chain engine.
func (b Block) ValidateBlock(prevBlock Block, now time.Time, transPerBlock uint16, maxBlockSize uint32, evHandler func(v string, args ...any)) error {
	ev := func(v string, args ...any) {
		if evHandler != nil {
			evHandler(v, args...)
		}
	}

	ev("database: ValidateBlock: blk[%d]: check: coinbase leads the transaction list", b.Header.Height)

	trans := b.Trans.Values()
	if len(trans) == 0 || !trans[0].IsCoinbase() {
		return ErrBadCoinbase
	}
	for _, tx := range trans[1:] {
		if tx.IsCoinbase() {
			return ErrBadCoinbase
		}
	}

	ev("database: ValidateBlock: blk[%d]: check: transaction count and size limits", b.Header.Height)

	if len(trans) > int(transPerBlock) {
		return fmt.Errorf("%w: %d transactions", ErrOversizedBlock, len(trans))
	}

	data, err := NewBlockData(b).Encode()
	if err != nil {
		return err
	}
	if uint32(len(data)) > maxBlockSize {
		return fmt.Errorf("%w: %d bytes", ErrOversizedBlock, len(data))
	}

	ev("database: ValidateBlock: blk[%d]: check: merkle root matches transactions", b.Header.Height)

	tree, err := merkle.NewTree(trans)
	if err != nil {
		return err
	}
	if b.Header.MerkleRoot != common.BytesToHash(tree.MerkleRoot) {
		return ErrBadMerkleRoot
	}

	ev("database: ValidateBlock: blk[%d]: check: block hash has been solved", b.Header.Height)

	if !difficulty.MeetsTarget(b.Hash(), b.Header.Difficulty) {
		return ErrBadPoW
	}

	ev("database: ValidateBlock: blk[%d]: check: block number is the next number", b.Header.Height)

	if b.Header.Height != prevBlock.Header.Height+1 {
		return fmt.Errorf("%w: got %d, exp %d", ErrWrongParent, b.Header.Height, prevBlock.Header.Height+1)
	}

	ev("database: ValidateBlock: blk[%d]: check: parent hash matches parent block", b.Header.Height)

	if b.Header.PrevBlockHash != prevBlock.Hash() {
		return fmt.Errorf("%w: got %s, exp %s", ErrWrongParent, b.Header.PrevBlockHash, prevBlock.Hash())
	}

	ev("database: ValidateBlock: blk[%d]: check: timestamp inside (parent, now+skew]", b.Header.Height)

	if b.Header.Timestamp <= prevBlock.Header.Timestamp {
		return ErrBadTimestamp
	}
	if b.Header.Timestamp > now.Unix()+MaxClockSkewSecs {
		return ErrBadTimestamp
	}

	ev("database: ValidateBlock: blk[%d]: check: transactions are structurally valid", b.Header.Height)

	blockTime := time.Unix(b.Header.Timestamp, 0)
	for i, tx := range trans[1:] {
		if err := tx.Validate(blockTime); err != nil {
			return fmt.Errorf("tx[%d] %s: %w", i+1, tx, err)
		}
	}

	return nil
}

// =============================================================================

// EncodeHeader returns the canonical bytes of a block header for header
// synchronization.
func EncodeHeader(header BlockHeader) ([]byte, error) {
	return rlp.EncodeToBytes(headerWire{
		Version:       formatVersion,
		Height:        header.Height,
		Timestamp:     uint64(header.Timestamp),
		PrevBlockHash: header.PrevBlockHash,
		MerkleRoot:    header.MerkleRoot,
		Nonce:         header.Nonce,
		Difficulty:    header.Difficulty,
		MinerID:       header.MinerID,
	})
}

// DecodeHeader reconstructs a block header from canonical bytes.
func DecodeHeader(data []byte) (BlockHeader, error) {
	var w headerWire
	if err := rlp.DecodeBytes(data, &w); err != nil {
		return BlockHeader{}, fmt.Errorf("%w: %s", ErrMalformed, err)
	}
	if w.Version != formatVersion {
		return BlockHeader{}, ErrUnknownVersion
	}

	return BlockHeader{
		Height:        w.Height,
		Timestamp:     int64(w.Timestamp),
		PrevBlockHash: w.PrevBlockHash,
		MerkleRoot:    w.MerkleRoot,
		Nonce:         w.Nonce,
		Difficulty:    w.Difficulty,
		MinerID:       w.MinerID,
	}, nil
}

// HeaderHash computes the block hash for a bare header.
func HeaderHash(header BlockHeader) common.Hash {
	return Block{Header: header}.Hash()
}

// =============================================================================

// BlockData represents what is serialized to storage and the wire.
type BlockData struct {
	Hash   common.Hash `json:"hash"`
	Header BlockHeader `json:"header"`
	Trans  []BlockTx   `json:"trans"`
}

// blockWire is the canonical encoding of a complete block. The hash is
// derivable and never serialized.
type blockWire struct {
	Version       uint8
	Height        uint64
	Timestamp     uint64
	PrevBlockHash common.Hash
	MerkleRoot    common.Hash
	Nonce         uint64
	Difficulty    uint32
	MinerID       AccountID
	Trans         []signedTxWire
}

// NewBlockData constructs the value to serialize.
func NewBlockData(block Block) BlockData {
	return BlockData{
		Hash:   block.Hash(),
		Header: block.Header,
		Trans:  block.Trans.Values(),
	}
}

// ToBlock converts a BlockData into a Block with a rebuilt merkle tree.
func ToBlock(blockData BlockData) (Block, error) {
	tree, err := merkle.NewTree(blockData.Trans)
	if err != nil {
		return Block{}, err
	}

	return Block{
		Header: blockData.Header,
		Trans:  tree,
	}, nil
}

// Encode returns the canonical bytes of the block.
func (bd BlockData) Encode() ([]byte, error) {
	w := blockWire{
		Version:       formatVersion,
		Height:        bd.Header.Height,
		Timestamp:     uint64(bd.Header.Timestamp),
		PrevBlockHash: bd.Header.PrevBlockHash,
		MerkleRoot:    bd.Header.MerkleRoot,
		Nonce:         bd.Header.Nonce,
		Difficulty:    bd.Header.Difficulty,
		MinerID:       bd.Header.MinerID,
	}

	for _, tx := range bd.Trans {
		w.Trans = append(w.Trans, signedTxWire{
			Version:   formatVersion,
			FromID:    tx.FromID,
			ToID:      tx.ToID,
			Value:     tx.Value,
			Fee:       tx.Fee,
			Nonce:     tx.Nonce,
			Timestamp: uint64(tx.Timestamp),
			PublicKey: tx.PublicKey,
			Signature: tx.Signature,
		})
	}

	return rlp.EncodeToBytes(w)
}

// DecodeBlockData reconstructs a block from canonical bytes and recomputes
// its hash.
func DecodeBlockData(data []byte) (BlockData, error) {
	var w blockWire
	if err := rlp.DecodeBytes(data, &w); err != nil {
		return BlockData{}, fmt.Errorf("%w: %s", ErrMalformed, err)
	}
	if w.Version != formatVersion {
		return BlockData{}, ErrUnknownVersion
	}

	bd := BlockData{
		Header: BlockHeader{
			Height:        w.Height,
			Timestamp:     int64(w.Timestamp),
			PrevBlockHash: w.PrevBlockHash,
			MerkleRoot:    w.MerkleRoot,
			Nonce:         w.Nonce,
			Difficulty:    w.Difficulty,
			MinerID:       w.MinerID,
		},
	}

	for _, tx := range w.Trans {
		bd.Trans = append(bd.Trans, BlockTx{
			SignedTx: SignedTx{
				Tx: Tx{
					FromID:    tx.FromID,
					ToID:      tx.ToID,
					Value:     tx.Value,
					Fee:       tx.Fee,
					Nonce:     tx.Nonce,
					Timestamp: int64(tx.Timestamp),
				},
				PublicKey: tx.PublicKey,
				Signature: tx.Signature,
			},
		})
	}

	block, err := ToBlock(bd)
	if err != nil {
		return BlockData{}, err
	}
	bd.Hash = block.Hash()

	return bd, nil
}
