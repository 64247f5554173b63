package database

import (
	"errors"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
)

// AccountID represents an account on the chain: the first 20 bytes of the
// SHA3-256 hash of the account's Falcon-512 public key, rendered as a
// 0x-prefixed hex string.
type AccountID = common.Address

// ToAccountID converts a hex-encoded string to an account id and validates
// the hex-encoded string is formatted correctly.
func ToAccountID(hex string) (AccountID, error) {
	if !common.IsHexAddress(hex) {
		return AccountID{}, errors.New("invalid account format")
	}

	return common.HexToAddress(hex), nil
}

// =============================================================================

// Lock represents a portion of a coinbase reward held in escrow until the
// chain reaches the release height. Locked amounts are invisible to all
// balance checks until released.
type Lock struct {
	Amount        uint64 `json:"amount"`
	ReleaseHeight uint64 `json:"release_height"`
}

// Account represents information stored in the database for an individual
// account. Balance holds only spendable funds; escrowed reward portions live
// in Locks until their release height.
type Account struct {
	Balance uint64 `json:"balance"`
	Nonce   uint64 `json:"nonce"`
	Locks   []Lock `json:"locks,omitempty"`
}

// Locked returns the total amount currently held in escrow.
func (a Account) Locked() uint64 {
	var total uint64
	for _, lock := range a.Locks {
		total += lock.Amount
	}
	return total
}

// releaseLocks moves every lock whose release height is at or below the
// specified height into the spendable balance. Locks release in height
// order. The released total is returned.
func (a *Account) releaseLocks(height uint64) (uint64, error) {
	if len(a.Locks) == 0 {
		return 0, nil
	}

	sort.SliceStable(a.Locks, func(i, j int) bool {
		return a.Locks[i].ReleaseHeight < a.Locks[j].ReleaseHeight
	})

	var released uint64
	remaining := a.Locks[:0]
	for _, lock := range a.Locks {
		if lock.ReleaseHeight > height {
			remaining = append(remaining, lock)
			continue
		}

		balance, err := AddAmount(a.Balance, lock.Amount)
		if err != nil {
			return 0, err
		}
		a.Balance = balance
		released += lock.Amount
	}

	if len(remaining) == 0 {
		remaining = nil
	}
	a.Locks = remaining

	return released, nil
}

// =============================================================================

// accountWire is the versioned canonical encoding of an account record.
type accountWire struct {
	Version uint8
	Balance uint64
	Nonce   uint64
	Locks   []lockWire
}

type lockWire struct {
	Amount        uint64
	ReleaseHeight uint64
}

// Encode returns the canonical bytes for the account as stored under the
// a/ key space.
func (a Account) Encode() ([]byte, error) {
	w := accountWire{
		Version: formatVersion,
		Balance: a.Balance,
		Nonce:   a.Nonce,
	}
	for _, lock := range a.Locks {
		w.Locks = append(w.Locks, lockWire(lock))
	}

	return rlp.EncodeToBytes(w)
}

// DecodeAccount reconstructs an account from its canonical bytes.
func DecodeAccount(data []byte) (Account, error) {
	var w accountWire
	if err := rlp.DecodeBytes(data, &w); err != nil {
		return Account{}, err
	}
	if w.Version != formatVersion {
		return Account{}, ErrUnknownVersion
	}

	account := Account{
		Balance: w.Balance,
		Nonce:   w.Nonce,
	}
	for _, lock := range w.Locks {
		account.Locks = append(account.Locks, Lock(lock))
	}

	return account, nil
}
