// Package wallet manages Falcon-512 keypair files. A wallet file stores
// (salt, nonce, ciphertext) where the plaintext is the canonical
// serialization of the keypair, the key derivation is Argon2id, and the
// cipher is AES-256-GCM.
package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/rlp"
	"golang.org/x/crypto/argon2"

	"github.com/quantanetwork/go-quanta/foundation/blockchain/database"
	"github.com/quantanetwork/go-quanta/foundation/blockchain/signature"
)

// Argon2id parameters. Changing these invalidates existing wallet files,
// so they are recorded in the file and checked on load.
const (
	kdfName    = "argon2id"
	kdfTime    = 1
	kdfMemory  = 64 * 1024
	kdfThreads = 4
	kdfKeyLen  = 32
)

// ErrWrongPassphrase is returned when the ciphertext fails to authenticate.
var ErrWrongPassphrase = errors.New("wrong passphrase or corrupt wallet file")

// Wallet represents a single Falcon-512 keypair.
type Wallet struct {
	Keypair signature.Keypair
}

// New generates a fresh wallet.
func New() (Wallet, error) {
	keypair, err := signature.Generate()
	if err != nil {
		return Wallet{}, err
	}

	return Wallet{Keypair: keypair}, nil
}

// AccountID derives the wallet's on-chain account id.
func (w Wallet) AccountID() database.AccountID {
	return signature.AccountFromPublicKey(w.Keypair.PublicKey)
}

// =============================================================================

// fileFormat is what lands on disk.
type fileFormat struct {
	KDF        string `json:"kdf"`
	Time       uint32 `json:"time"`
	Memory     uint32 `json:"memory"`
	Threads    uint8  `json:"threads"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// keypairWire is the canonical plaintext serialization of the keypair.
type keypairWire struct {
	Version    uint8
	PublicKey  []byte
	PrivateKey []byte
}

// Save encrypts the keypair under the passphrase and writes the wallet
// file with owner-only permissions.
func (w Wallet) Save(path string, passphrase []byte) error {
	plaintext, err := rlp.EncodeToBytes(keypairWire{
		Version:    1,
		PublicKey:  w.Keypair.PublicKey,
		PrivateKey: w.Keypair.PrivateKey,
	})
	if err != nil {
		return err
	}

	return sealToFile(path, passphrase, plaintext)
}

// sealToFile encrypts the plaintext under the passphrase and writes the
// wallet envelope with owner-only permissions.
func sealToFile(path string, passphrase []byte, plaintext []byte) error {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return err
	}

	key := argon2.IDKey(passphrase, salt, kdfTime, kdfMemory, kdfThreads, kdfKeyLen)

	block, err := aes.NewCipher(key)
	if err != nil {
		return err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}

	ff := fileFormat{
		KDF:        kdfName,
		Time:       kdfTime,
		Memory:     kdfMemory,
		Threads:    kdfThreads,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: gcm.Seal(nil, nonce, plaintext, nil),
	}

	data, err := json.MarshalIndent(ff, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// openEnvelope decrypts a wallet envelope with the passphrase.
func openEnvelope(ff fileFormat, passphrase []byte) ([]byte, error) {
	if ff.KDF != kdfName {
		return nil, fmt.Errorf("unsupported kdf %q", ff.KDF)
	}

	key := argon2.IDKey(passphrase, ff.Salt, ff.Time, ff.Memory, ff.Threads, kdfKeyLen)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, ff.Nonce, ff.Ciphertext, nil)
	if err != nil {
		return nil, ErrWrongPassphrase
	}

	return plaintext, nil
}

// Load decrypts a wallet file with the passphrase.
func Load(path string, passphrase []byte) (Wallet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Wallet{}, err
	}

	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		return Wallet{}, fmt.Errorf("wallet file: %w", err)
	}

	plaintext, err := openEnvelope(ff, passphrase)
	if err != nil {
		return Wallet{}, err
	}

	var kw keypairWire
	if err := rlp.DecodeBytes(plaintext, &kw); err != nil {
		return Wallet{}, fmt.Errorf("wallet keypair: %w", err)
	}

	return Wallet{
		Keypair: signature.Keypair{
			PublicKey:  kw.PublicKey,
			PrivateKey: kw.PrivateKey,
		},
	}, nil
}
