package signature_test

import (
	"testing"

	"github.com/quantanetwork/go-quanta/foundation/blockchain/signature"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

func Test_SignVerify(t *testing.T) {
	t.Log("Given the need to sign and verify with Falcon-512.")
	{
		keypair, err := signature.Generate()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to generate a keypair: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to generate a keypair.", success)

		msg := signature.Hash([]byte("the canonical bytes of a transaction"))

		sig, err := signature.Sign(keypair.PrivateKey, msg[:])
		if err != nil {
			t.Fatalf("\t%s\tShould be able to sign: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to sign (%d byte signature).", success, len(sig))

		if err := signature.Verify(keypair.PublicKey, msg[:], sig); err != nil {
			t.Errorf("\t%s\tShould verify a valid signature: %v", failed, err)
		} else {
			t.Logf("\t%s\tShould verify a valid signature.", success)
		}

		// The verified cache must not bypass real checks for altered data.
		tampered := make([]byte, len(msg))
		copy(tampered, msg[:])
		tampered[0] ^= 0x01
		if err := signature.Verify(keypair.PublicKey, tampered, sig); err == nil {
			t.Errorf("\t%s\tShould reject a tampered message.", failed)
		} else {
			t.Logf("\t%s\tShould reject a tampered message.", success)
		}

		badSig := make([]byte, len(sig))
		copy(badSig, sig)
		badSig[len(badSig)/2] ^= 0xff
		if err := signature.Verify(keypair.PublicKey, msg[:], badSig); err == nil {
			t.Errorf("\t%s\tShould reject a tampered signature.", failed)
		} else {
			t.Logf("\t%s\tShould reject a tampered signature.", success)
		}
	}
}

func Test_AddressDerivation(t *testing.T) {
	t.Log("Given the need to derive account ids from public keys.")
	{
		keypair, err := signature.Generate()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to generate a keypair: %v", failed, err)
		}

		accountID := signature.AccountFromPublicKey(keypair.PublicKey)

		expected := signature.Hash(keypair.PublicKey)
		for i := 0; i < 20; i++ {
			if accountID[i] != expected[i] {
				t.Fatalf("\t%s\tShould take the first 20 bytes of the key hash.", failed)
			}
		}
		t.Logf("\t%s\tShould take the first 20 bytes of the key hash.", success)

		if err := signature.VerifyAccount(accountID, keypair.PublicKey); err != nil {
			t.Errorf("\t%s\tShould verify the matching account id: %v", failed, err)
		} else {
			t.Logf("\t%s\tShould verify the matching account id.", success)
		}

		other, err := signature.Generate()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to generate a second keypair: %v", failed, err)
		}
		if err := signature.VerifyAccount(accountID, other.PublicKey); err == nil {
			t.Errorf("\t%s\tShould reject a mismatched account id.", failed)
		} else {
			t.Logf("\t%s\tShould reject a mismatched account id.", success)
		}
	}
}

func Test_HashPrimitives(t *testing.T) {
	t.Log("Given the need for SHA3-256 hashing.")
	{
		h1 := signature.Hash([]byte("data"))
		h2 := signature.Hash([]byte("data"))
		if h1 != h2 {
			t.Errorf("\t%s\tShould hash deterministically.", failed)
		} else {
			t.Logf("\t%s\tShould hash deterministically.", success)
		}

		if signature.Hash([]byte("other")) == h1 {
			t.Errorf("\t%s\tShould produce distinct digests.", failed)
		} else {
			t.Logf("\t%s\tShould produce distinct digests.", success)
		}

		double := signature.DoubleHash([]byte("data"))
		if double == h1 {
			t.Errorf("\t%s\tShould differ from the single hash.", failed)
		} else {
			t.Logf("\t%s\tShould differ from the single hash.", success)
		}

		if double != signature.Hash(h1.Bytes()) {
			t.Errorf("\t%s\tShould equal hashing the digest again.", failed)
		} else {
			t.Logf("\t%s\tShould equal hashing the digest again.", success)
		}
	}
}
