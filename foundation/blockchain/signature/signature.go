// Package signature provides helper functions for handling the blockchain
// signature needs. All signing is performed with Falcon-512, a post-quantum
// lattice scheme, and all hashing is SHA3-256.
package signature

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
	"github.com/open-quantum-safe/liboqs-go/oqs"
	"golang.org/x/crypto/sha3"
)

// Falcon512 is the liboqs identifier of the signature scheme used for every
// signature on the chain.
const Falcon512 = "Falcon-512"

// HashLen is the length of a SHA3-256 digest in bytes.
const HashLen = 32

// ZeroHash represents a hash code of all zeros. It is the previous-hash of
// the genesis block and the merkle root of an empty transaction list.
var ZeroHash common.Hash

// ZeroAccountID is the burn address. It is also the sender of every
// coinbase transaction.
var ZeroAccountID common.Address

// ErrInvalidSignature is returned when a signature does not verify against
// the public key and message.
var ErrInvalidSignature = errors.New("invalid signature")

// verified caches the digests of signature checks that have already passed
// so blocks and gossiped transactions are not re-verified on every hop.
// Falcon verification is cheap but not free and gossip is chatty.
var verified, _ = lru.New(16384)

// =============================================================================

// Keypair represents a Falcon-512 keypair in its raw encoded form. Key and
// signature lengths are scheme defined and must never be assumed fixed;
// Falcon signatures in particular are variable length.
type Keypair struct {
	PublicKey  []byte `json:"public_key"`
	PrivateKey []byte `json:"private_key"`
}

// Generate creates a new Falcon-512 keypair.
func Generate() (Keypair, error) {
	var signer oqs.Signature
	defer signer.Clean()

	if err := signer.Init(Falcon512, nil); err != nil {
		return Keypair{}, fmt.Errorf("init falcon: %w", err)
	}

	publicKey, err := signer.GenerateKeyPair()
	if err != nil {
		return Keypair{}, fmt.Errorf("generate keypair: %w", err)
	}

	return Keypair{
		PublicKey:  publicKey,
		PrivateKey: signer.ExportSecretKey(),
	}, nil
}

// Sign signs the specified message with the private key. The message is
// expected to already be a digest of canonical bytes.
func Sign(privateKey []byte, msg []byte) ([]byte, error) {
	var signer oqs.Signature
	defer signer.Clean()

	if err := signer.Init(Falcon512, privateKey); err != nil {
		return nil, fmt.Errorf("init falcon: %w", err)
	}

	sig, err := signer.Sign(msg)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}

	return sig, nil
}

// Verify checks the signature over the message against the public key.
// Positive results are cached so repeated verification of the same gossiped
// data is a map lookup.
func Verify(publicKey []byte, msg []byte, sig []byte) error {
	key := cacheKey(publicKey, msg, sig)
	if verified.Contains(key) {
		return nil
	}

	var verifier oqs.Signature
	defer verifier.Clean()

	if err := verifier.Init(Falcon512, nil); err != nil {
		return fmt.Errorf("init falcon: %w", err)
	}

	ok, err := verifier.Verify(msg, sig, publicKey)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	if !ok {
		return ErrInvalidSignature
	}

	verified.Add(key, struct{}{})

	return nil
}

// =============================================================================

// Hash returns the SHA3-256 digest of the specified bytes.
func Hash(data []byte) common.Hash {
	return common.Hash(sha3.Sum256(data))
}

// DoubleHash returns SHA3-256(SHA3-256(data)). Block hashes use the double
// hash construction.
func DoubleHash(data []byte) common.Hash {
	first := sha3.Sum256(data)
	return common.Hash(sha3.Sum256(first[:]))
}

// AccountFromPublicKey derives the on-chain account id for a public key:
// the first 20 bytes of SHA3-256 of the raw encoded key.
func AccountFromPublicKey(publicKey []byte) common.Address {
	hash := sha3.Sum256(publicKey)
	return common.BytesToAddress(hash[:common.AddressLength])
}

// VerifyAccount checks the claimed account id matches the public key that
// produced the signature.
func VerifyAccount(accountID common.Address, publicKey []byte) error {
	if derived := AccountFromPublicKey(publicKey); !bytes.Equal(derived[:], accountID[:]) {
		return fmt.Errorf("account %s does not match public key hash %s", accountID, derived)
	}
	return nil
}

// cacheKey folds the verification inputs into a single digest for the
// verified cache.
func cacheKey(publicKey []byte, msg []byte, sig []byte) common.Hash {
	h := sha3.New256()
	h.Write(publicKey)
	h.Write(msg)
	h.Write(sig)

	var key common.Hash
	h.Sum(key[:0])
	return key
}
