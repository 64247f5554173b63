package database

import (
	"bytes"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/quantanetwork/go-quanta/foundation/blockchain/signature"
)

// Consensus constants for transaction admission. A transaction is accepted
// with a timestamp no older than the expiry window and no further ahead than
// the allowed clock skew, both relative to the reference clock of the check
// (wall clock for mempool admission, block timestamp for block validation).
const (
	TxExpirySeconds  = 24 * 60 * 60
	MaxClockSkewSecs = 2 * 60 * 60
)

// MinTxFee is the consensus minimum fee in microunits.
const MinTxFee = 100

// formatVersion is the canonical serialization version for every structure
// written to disk or the wire.
const formatVersion = 1

// =============================================================================

// Tx is the transactional information between two parties.
type Tx struct {
	FromID    AccountID `json:"from"`      // Account sending the funds.
	ToID      AccountID `json:"to"`        // Account receiving the funds.
	Value     uint64    `json:"value"`     // Microunits transferred.
	Fee       uint64    `json:"fee"`       // Microunits offered for inclusion.
	Nonce     uint64    `json:"nonce"`     // Must equal the sender nonce at inclusion.
	Timestamp int64     `json:"timestamp"` // Unix seconds; bounds the tx lifetime.
}

// NewTx constructs a new transaction stamped with the current time.
func NewTx(fromID AccountID, toID AccountID, value uint64, fee uint64, nonce uint64) Tx {
	return Tx{
		FromID:    fromID,
		ToID:      toID,
		Value:     value,
		Fee:       fee,
		Nonce:     nonce,
		Timestamp: time.Now().UTC().Unix(),
	}
}

// txWire is the canonical encoding of the signed portion of a transaction.
type txWire struct {
	Version   uint8
	FromID    AccountID
	ToID      AccountID
	Value     uint64
	Fee       uint64
	Nonce     uint64
	Timestamp uint64
}

// SigningDigest returns the SHA3-256 digest of the canonical serialization
// of the transaction fields covered by the signature.
func (tx Tx) SigningDigest() (common.Hash, error) {
	data, err := rlp.EncodeToBytes(txWire{
		Version:   formatVersion,
		FromID:    tx.FromID,
		ToID:      tx.ToID,
		Value:     tx.Value,
		Fee:       tx.Fee,
		Nonce:     tx.Nonce,
		Timestamp: uint64(tx.Timestamp),
	})
	if err != nil {
		return common.Hash{}, err
	}

	return signature.Hash(data), nil
}

// Sign uses the specified keypair to sign the transaction.
func (tx Tx) Sign(keypair signature.Keypair) (SignedTx, error) {
	if fromID := signature.AccountFromPublicKey(keypair.PublicKey); fromID != tx.FromID {
		return SignedTx{}, ErrAddressMismatch
	}

	digest, err := tx.SigningDigest()
	if err != nil {
		return SignedTx{}, err
	}

	sig, err := signature.Sign(keypair.PrivateKey, digest[:])
	if err != nil {
		return SignedTx{}, err
	}

	return SignedTx{
		Tx:        tx,
		PublicKey: keypair.PublicKey,
		Signature: sig,
	}, nil
}

// =============================================================================

// SignedTx is a signed version of the transaction. This is how clients like
// a wallet provide transactions for inclusion into the blockchain. The
// Falcon-512 signature is variable length and the public key travels with
// the transaction since an address is a one-way hash of it.
type SignedTx struct {
	Tx
	PublicKey []byte `json:"public_key"`
	Signature []byte `json:"signature"`
}

// signedTxWire is the canonical encoding of a complete transaction. The
// transaction identity hash covers these bytes.
type signedTxWire struct {
	Version   uint8
	FromID    AccountID
	ToID      AccountID
	Value     uint64
	Fee       uint64
	Nonce     uint64
	Timestamp uint64
	PublicKey []byte
	Signature []byte
}

// Encode returns the canonical bytes of the full signed transaction.
func (tx SignedTx) Encode() ([]byte, error) {
	return rlp.EncodeToBytes(signedTxWire{
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

// DecodeSignedTx reconstructs a signed transaction from canonical bytes.
func DecodeSignedTx(data []byte) (SignedTx, error) {
	var w signedTxWire
	if err := rlp.DecodeBytes(data, &w); err != nil {
		return SignedTx{}, fmt.Errorf("%w: %s", ErrMalformed, err)
	}
	if w.Version != formatVersion {
		return SignedTx{}, ErrUnknownVersion
	}

	return SignedTx{
		Tx: Tx{
			FromID:    w.FromID,
			ToID:      w.ToID,
			Value:     w.Value,
			Fee:       w.Fee,
			Nonce:     w.Nonce,
			Timestamp: int64(w.Timestamp),
		},
		PublicKey: w.PublicKey,
		Signature: w.Signature,
	}, nil
}

// IsCoinbase reports whether this is the supply-creating transaction at
// position 0 of a block. A coinbase has the zero sender and no signature.
func (tx SignedTx) IsCoinbase() bool {
	return tx.FromID == signature.ZeroAccountID
}

// Validate verifies the transaction is structurally sound: the amount is
// non-zero, the fee meets the minimum, the claimed sender matches the public
// key hash, the signature verifies, and the timestamp falls inside the
// accepted window around the reference time.
func (tx SignedTx) Validate(now time.Time) error {
	if tx.Value == 0 {
		return ErrZeroAmount
	}

	if tx.Fee < MinTxFee {
		return ErrInsufficientFee
	}

	if _, err := AddAmount(tx.Value, tx.Fee); err != nil {
		return err
	}

	ref := now.Unix()
	if tx.Timestamp < ref-TxExpirySeconds || tx.Timestamp > ref+MaxClockSkewSecs {
		return ErrExpired
	}

	if err := signature.VerifyAccount(tx.FromID, tx.PublicKey); err != nil {
		return ErrAddressMismatch
	}

	digest, err := tx.SigningDigest()
	if err != nil {
		return err
	}

	return signature.Verify(tx.PublicKey, digest[:], tx.Signature)
}

// String implements the fmt.Stringer interface for logging.
func (tx SignedTx) String() string {
	return fmt.Sprintf("%s:%d", tx.FromID, tx.Nonce)
}

// =============================================================================

// BlockTx represents the transaction as it's recorded inside a block.
type BlockTx struct {
	SignedTx
}

// NewBlockTx constructs a new block transaction.
func NewBlockTx(signedTx SignedTx) BlockTx {
	return BlockTx{SignedTx: signedTx}
}

// NewCoinbaseTx constructs the supply-creating transaction for a block. The
// block height rides in the nonce field so every coinbase hashes uniquely.
func NewCoinbaseTx(minerID AccountID, amount uint64, height uint64, timestamp int64) BlockTx {
	return BlockTx{
		SignedTx: SignedTx{
			Tx: Tx{
				FromID:    signature.ZeroAccountID,
				ToID:      minerID,
				Value:     amount,
				Nonce:     height,
				Timestamp: timestamp,
			},
		},
	}
}

// TxHash returns the identity of the transaction: the SHA3-256 digest of
// the canonical serialization including the signature.
func (tx BlockTx) TxHash() (common.Hash, error) {
	data, err := tx.Encode()
	if err != nil {
		return common.Hash{}, err
	}

	return signature.Hash(data), nil
}

// Hash implements the merkle Hashable interface for providing a hash of a
// block transaction.
func (tx BlockTx) Hash() ([]byte, error) {
	hash, err := tx.TxHash()
	if err != nil {
		return nil, err
	}

	return hash.Bytes(), nil
}

// Equals implements the merkle Hashable interface for providing an equality
// check between two block transactions.
func (tx BlockTx) Equals(otherTx BlockTx) bool {
	return tx.FromID == otherTx.FromID &&
		tx.Nonce == otherTx.Nonce &&
		bytes.Equal(tx.Signature, otherTx.Signature)
}
