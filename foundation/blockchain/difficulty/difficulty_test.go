package difficulty_test

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/quantanetwork/go-quanta/foundation/blockchain/difficulty"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func Test_LeadingZeroBits(t *testing.T) {
	type table struct {
		name string
		hash common.Hash
		bits uint32
	}

	tt := []table{
		{name: "none", hash: common.HexToHash("0xff00000000000000000000000000000000000000000000000000000000000000"), bits: 0},
		{name: "one", hash: common.HexToHash("0x7f00000000000000000000000000000000000000000000000000000000000000"), bits: 1},
		{name: "eight", hash: common.HexToHash("0x00ff000000000000000000000000000000000000000000000000000000000000"), bits: 8},
		{name: "twelve", hash: common.HexToHash("0x000f000000000000000000000000000000000000000000000000000000000000"), bits: 12},
		{name: "all", hash: common.Hash{}, bits: 256},
	}

	t.Log("Given the need to count leading zero bits of block hashes.")
	{
		for testID, tst := range tt {
			t.Logf("\tTest %d:\tWhen checking hash %s.", testID, tst.hash)
			{
				if got := difficulty.LeadingZeroBits(tst.hash); got != tst.bits {
					t.Errorf("\t%s\tTest %d:\tShould count %d bits, got %d.", failed, testID, tst.bits, got)
				} else {
					t.Logf("\t%s\tTest %d:\tShould count %d bits.", success, testID, tst.bits)
				}

				if !difficulty.MeetsTarget(tst.hash, tst.bits) {
					t.Errorf("\t%s\tTest %d:\tShould meet its own difficulty.", failed, testID)
				} else {
					t.Logf("\t%s\tTest %d:\tShould meet its own difficulty.", success, testID)
				}

				if tst.bits < 256 && difficulty.MeetsTarget(tst.hash, tst.bits+1) {
					t.Errorf("\t%s\tTest %d:\tShould not meet a harder difficulty.", failed, testID)
				} else {
					t.Logf("\t%s\tTest %d:\tShould not meet a harder difficulty.", success, testID)
				}
			}
		}
	}
}

func Test_Retarget(t *testing.T) {
	t.Log("Given the need to retarget difficulty every adjustment window.")
	{
		t.Logf("\tTest 0:\tWhen blocks arrive at twice the target spacing.")
		{
			// Ten blocks spaced 20s against a 100s expected window halves
			// the difficulty, landing exactly on the 0.5x clamp.
			if got := difficulty.Retarget(8, 200, 100); got != 4 {
				t.Errorf("\t%s\tTest 0:\tShould halve difficulty, got %d.", failed, got)
			} else {
				t.Logf("\t%s\tTest 0:\tShould halve difficulty.", success)
			}
		}

		t.Logf("\tTest 1:\tWhen blocks arrive instantly.")
		{
			if got := difficulty.Retarget(8, 1, 100); got != 16 {
				t.Errorf("\t%s\tTest 1:\tShould clamp to 2x, got %d.", failed, got)
			} else {
				t.Logf("\t%s\tTest 1:\tShould clamp to 2x.", success)
			}
		}

		t.Logf("\tTest 2:\tWhen difficulty would fall below the floor.")
		{
			if got := difficulty.Retarget(1, 1000, 100); got != 1 {
				t.Errorf("\t%s\tTest 2:\tShould hold the floor of 1, got %d.", failed, got)
			} else {
				t.Logf("\t%s\tTest 2:\tShould hold the floor of 1.", success)
			}
		}

		t.Logf("\tTest 3:\tWhen the window matches the target exactly.")
		{
			if got := difficulty.Retarget(8, 100, 100); got != 8 {
				t.Errorf("\t%s\tTest 3:\tShould keep difficulty, got %d.", failed, got)
			} else {
				t.Logf("\t%s\tTest 3:\tShould keep difficulty.", success)
			}
		}
	}
}

func Test_Work(t *testing.T) {
	t.Log("Given the need to compute cumulative work from difficulty bits.")
	{
		if difficulty.Work(0).Cmp(big.NewInt(1)) != 0 {
			t.Errorf("\t%s\tShould compute 2^0 == 1.", failed)
		} else {
			t.Logf("\t%s\tShould compute 2^0 == 1.", success)
		}

		if difficulty.Work(10).Cmp(big.NewInt(1024)) != 0 {
			t.Errorf("\t%s\tShould compute 2^10 == 1024.", failed)
		} else {
			t.Logf("\t%s\tShould compute 2^10 == 1024.", success)
		}

		sum := new(big.Int).Add(difficulty.Work(3), difficulty.Work(4))
		if sum.Cmp(big.NewInt(24)) != 0 {
			t.Errorf("\t%s\tShould sum work across blocks.", failed)
		} else {
			t.Logf("\t%s\tShould sum work across blocks.", success)
		}

		if difficulty.Target(255).Cmp(big.NewInt(2)) != 0 {
			t.Errorf("\t%s\tShould compute target 2^(256-bits).", failed)
		} else {
			t.Logf("\t%s\tShould compute target 2^(256-bits).", success)
		}
	}
}
