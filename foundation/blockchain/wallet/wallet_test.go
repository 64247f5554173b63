package wallet_test

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/quantanetwork/go-quanta/foundation/blockchain/wallet"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

func Test_SaveLoadRoundTrip(t *testing.T) {
	t.Log("Given the need to store an encrypted wallet file.")
	{
		path := filepath.Join(t.TempDir(), "wallet.json")
		passphrase := []byte("correct horse battery staple")

		w, err := wallet.New()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to generate a wallet: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to generate a wallet.", success)

		if err := w.Save(path, passphrase); err != nil {
			t.Fatalf("\t%s\tShould be able to save the wallet: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to save the wallet.", success)

		loaded, err := wallet.Load(path, passphrase)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to load the wallet: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to load the wallet.", success)

		if !bytes.Equal(w.Keypair.PublicKey, loaded.Keypair.PublicKey) || !bytes.Equal(w.Keypair.PrivateKey, loaded.Keypair.PrivateKey) {
			t.Errorf("\t%s\tShould recover the exact keypair.", failed)
		} else {
			t.Logf("\t%s\tShould recover the exact keypair.", success)
		}

		if w.AccountID() != loaded.AccountID() {
			t.Errorf("\t%s\tShould derive the same address.", failed)
		} else {
			t.Logf("\t%s\tShould derive the same address.", success)
		}

		if _, err := wallet.Load(path, []byte("wrong")); !errors.Is(err, wallet.ErrWrongPassphrase) {
			t.Errorf("\t%s\tShould reject a wrong passphrase, got %v.", failed, err)
		} else {
			t.Logf("\t%s\tShould reject a wrong passphrase.", success)
		}
	}
}

func Test_HDWallet(t *testing.T) {
	t.Log("Given the need for a multi-account wallet file.")
	{
		path := filepath.Join(t.TempDir(), "hd.json")
		passphrase := []byte("hunter2")

		hd, err := wallet.NewHD()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to create an HD wallet: %v", failed, err)
		}

		index, err := hd.Derive()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to derive a second account: %v", failed, err)
		}
		if index != 1 {
			t.Errorf("\t%s\tShould report index 1 for the second account, got %d.", failed, index)
		} else {
			t.Logf("\t%s\tShould report index 1 for the second account.", success)
		}

		if err := hd.Save(path, passphrase); err != nil {
			t.Fatalf("\t%s\tShould be able to save the HD wallet: %v", failed, err)
		}

		loaded, err := wallet.LoadHD(path, passphrase)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to load the HD wallet: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to load the HD wallet.", success)

		if len(loaded.Accounts) != 2 {
			t.Fatalf("\t%s\tShould recover both accounts, got %d.", failed, len(loaded.Accounts))
		}
		t.Logf("\t%s\tShould recover both accounts.", success)

		for i := range loaded.Accounts {
			want, _ := hd.AccountID(i)
			got, err := loaded.AccountID(i)
			if err != nil || got != want {
				t.Errorf("\t%s\tShould derive the same address for account %d.", failed, i)
			} else {
				t.Logf("\t%s\tShould derive the same address for account %d.", success, i)
			}
		}
	}
}
