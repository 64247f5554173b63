package merkle_test

import (
	"testing"

	"golang.org/x/crypto/sha3"

	"github.com/quantanetwork/go-quanta/foundation/blockchain/merkle"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

// data implements the Hashable interface for testing.
type data struct {
	Value string
}

func (d data) Hash() ([]byte, error) {
	sum := sha3.Sum256([]byte(d.Value))
	return sum[:], nil
}

func (d data) Equals(other data) bool {
	return d.Value == other.Value
}

// =============================================================================

func Test_ProofRoundTrip(t *testing.T) {
	tt := [][]data{
		{{"a"}},
		{{"a"}, {"b"}},
		{{"a"}, {"b"}, {"c"}},
		{{"a"}, {"b"}, {"c"}, {"d"}, {"e"}, {"f"}, {"g"}},
	}

	t.Log("Given the need to prove inclusion for any leaf of any tree.")
	{
		for testID, values := range tt {
			t.Logf("\tTest %d:\tWhen handling a tree of %d leaves.", testID, len(values))
			{
				tree, err := merkle.NewTree(values)
				if err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to build the tree: %v", failed, testID, err)
				}
				t.Logf("\t%s\tTest %d:\tShould be able to build the tree.", success, testID)

				if err := tree.Verify(); err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould verify its own levels: %v", failed, testID, err)
				}
				t.Logf("\t%s\tTest %d:\tShould verify its own levels.", success, testID)

				for _, value := range values {
					proof, order, err := tree.Proof(value)
					if err != nil {
						t.Fatalf("\t%s\tTest %d:\tShould produce a proof for %q: %v", failed, testID, value.Value, err)
					}

					leafHash, _ := value.Hash()
					if !merkle.VerifyProof(tree.MerkleRoot, proof, order, leafHash) {
						t.Errorf("\t%s\tTest %d:\tShould verify the proof for %q.", failed, testID, value.Value)
					} else {
						t.Logf("\t%s\tTest %d:\tShould verify the proof for %q.", success, testID, value.Value)
					}

					// Any bit flip in the leaf must break the proof.
					tampered := make([]byte, len(leafHash))
					copy(tampered, leafHash)
					tampered[0] ^= 0x01
					if merkle.VerifyProof(tree.MerkleRoot, proof, order, tampered) {
						t.Errorf("\t%s\tTest %d:\tShould reject a tampered leaf for %q.", failed, testID, value.Value)
					} else {
						t.Logf("\t%s\tTest %d:\tShould reject a tampered leaf for %q.", success, testID, value.Value)
					}
				}
			}
		}
	}
}

func Test_OddLeafDuplication(t *testing.T) {
	t.Log("Given the need to handle an odd number of leaves.")
	{
		odd, err := merkle.NewTree([]data{{"a"}, {"b"}, {"c"}})
		if err != nil {
			t.Fatalf("\t%s\tShould build the odd tree: %v", failed, err)
		}

		dup, err := merkle.NewTree([]data{{"a"}, {"b"}, {"c"}, {"c"}})
		if err != nil {
			t.Fatalf("\t%s\tShould build the duplicated tree: %v", failed, err)
		}

		if string(odd.MerkleRoot) != string(dup.MerkleRoot) {
			t.Errorf("\t%s\tShould duplicate the last leaf for odd counts.", failed)
		} else {
			t.Logf("\t%s\tShould duplicate the last leaf for odd counts.", success)
		}

		if len(odd.Values()) != 3 {
			t.Errorf("\t%s\tShould report only the unique values, got %d.", failed, len(odd.Values()))
		} else {
			t.Logf("\t%s\tShould report only the unique values.", success)
		}
	}
}
