package wallet

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/quantanetwork/go-quanta/foundation/blockchain/database"
	"github.com/quantanetwork/go-quanta/foundation/blockchain/signature"
)

// HDWallet is a multi-account wallet file. Falcon-512 key generation has no
// seeded derivation in the underlying library, so the file keeps a master
// id plus the ordered list of generated accounts; deriving account N+1
// generates a fresh keypair and appends it under the master.
type HDWallet struct {
	MasterID []byte
	Accounts []signature.Keypair
}

// hdWire is the canonical plaintext serialization of the HD wallet.
type hdWire struct {
	Version  uint8
	MasterID []byte
	Accounts []keypairWire
}

// NewHD constructs an HD wallet with one derived account.
func NewHD() (*HDWallet, error) {
	masterID := make([]byte, 16)
	if _, err := rand.Read(masterID); err != nil {
		return nil, err
	}

	hd := HDWallet{MasterID: masterID}
	if _, err := hd.Derive(); err != nil {
		return nil, err
	}

	return &hd, nil
}

// Derive appends a new account and returns its index.
func (hd *HDWallet) Derive() (int, error) {
	keypair, err := signature.Generate()
	if err != nil {
		return 0, err
	}

	hd.Accounts = append(hd.Accounts, keypair)
	return len(hd.Accounts) - 1, nil
}

// AccountID returns the on-chain id for the account at the index.
func (hd *HDWallet) AccountID(index int) (database.AccountID, error) {
	if index < 0 || index >= len(hd.Accounts) {
		return database.AccountID{}, errors.New("account index out of range")
	}

	return signature.AccountFromPublicKey(hd.Accounts[index].PublicKey), nil
}

// Save encrypts the wallet under the passphrase, reusing the single-wallet
// file envelope.
func (hd *HDWallet) Save(path string, passphrase []byte) error {
	w := hdWire{
		Version:  1,
		MasterID: hd.MasterID,
	}
	for _, keypair := range hd.Accounts {
		w.Accounts = append(w.Accounts, keypairWire{
			Version:    1,
			PublicKey:  keypair.PublicKey,
			PrivateKey: keypair.PrivateKey,
		})
	}

	plaintext, err := rlp.EncodeToBytes(w)
	if err != nil {
		return err
	}

	return sealToFile(path, passphrase, plaintext)
}

// LoadHD decrypts an HD wallet file.
func LoadHD(path string, passphrase []byte) (*HDWallet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("wallet file: %w", err)
	}

	plaintext, err := openEnvelope(ff, passphrase)
	if err != nil {
		return nil, err
	}

	var w hdWire
	if err := rlp.DecodeBytes(plaintext, &w); err != nil {
		return nil, fmt.Errorf("hd wallet: %w", err)
	}

	hd := HDWallet{MasterID: w.MasterID}
	for _, kw := range w.Accounts {
		hd.Accounts = append(hd.Accounts, signature.Keypair{
			PublicKey:  kw.PublicKey,
			PrivateKey: kw.PrivateKey,
		})
	}

	return &hd, nil
}
