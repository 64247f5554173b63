package database_test

import (
	"testing"

	"github.com/quantanetwork/go-quanta/foundation/blockchain/database"
	"github.com/quantanetwork/go-quanta/foundation/blockchain/genesis"
)

func Test_RewardSchedule(t *testing.T) {
	p := genesis.TestNet().Mining

	type table struct {
		name       string
		height     uint64
		recentFees uint64
		reward     uint64
	}

	tt := []table{
		{name: "first block", height: 1, recentFees: 0, reward: 150_000_000},
		{name: "early adopter ends", height: 100_000, recentFees: 0, reward: 100_000_000},
		{name: "usage multiplier", height: 100_000, recentFees: 5_000_000, reward: 150_000_000},
		{name: "usage multiplier capped", height: 100_000, recentFees: 50_000_000, reward: 200_000_000},
		{name: "bootstrap ends", height: 315_360, recentFees: 50_000_000, reward: 100_000_000},
		{name: "second year decay", height: 3_153_600, recentFees: 0, reward: 85_000_000},
		{name: "floor reached", height: 20 * 3_153_600, recentFees: 0, reward: 5_000_000},
	}

	t.Log("Given the need to compute the block reward schedule.")
	{
		for testID, tst := range tt {
			t.Logf("\tTest %d:\tWhen computing the reward at height %d (%s).", testID, tst.height, tst.name)
			{
				got := database.ExpectedReward(p, tst.height, tst.recentFees)
				if got != tst.reward {
					t.Errorf("\t%s\tTest %d:\tShould compute %d, got %d.", failed, testID, tst.reward, got)
				} else {
					t.Logf("\t%s\tTest %d:\tShould compute %d.", success, testID, tst.reward)
				}
			}
		}
	}
}

func Test_FeeSplit(t *testing.T) {
	p := genesis.TestNet().Mining

	type table struct {
		total    uint64
		burn     uint64
		treasury uint64
		miner    uint64
	}

	tt := []table{
		{total: 1000, burn: 700, treasury: 200, miner: 100},
		{total: 0, burn: 0, treasury: 0, miner: 0},
		{total: 1, burn: 0, treasury: 0, miner: 1},
		{total: 99, burn: 69, treasury: 19, miner: 11},
	}

	t.Log("Given the need to split block fees between burn, treasury, and miner.")
	{
		for testID, tst := range tt {
			t.Logf("\tTest %d:\tWhen splitting %d microunits.", testID, tst.total)
			{
				burn, treasury, miner := database.SplitFees(p, tst.total)

				if burn != tst.burn || treasury != tst.treasury || miner != tst.miner {
					t.Errorf("\t%s\tTest %d:\tShould split %d/%d/%d, got %d/%d/%d.", failed, testID, tst.burn, tst.treasury, tst.miner, burn, treasury, miner)
				} else {
					t.Logf("\t%s\tTest %d:\tShould split %d/%d/%d.", success, testID, tst.burn, tst.treasury, tst.miner)
				}

				if burn+treasury+miner != tst.total {
					t.Errorf("\t%s\tTest %d:\tShould always sum to the total.", failed, testID)
				} else {
					t.Logf("\t%s\tTest %d:\tShould always sum to the total.", success, testID)
				}
			}
		}
	}
}

func Test_LockedShare(t *testing.T) {
	p := genesis.TestNet().Mining

	t.Log("Given the need to escrow half of the reward.")
	{
		if got := database.LockedShare(p, 150_000_000); got != 75_000_000 {
			t.Errorf("\t%s\tShould lock half of 150 QUA, got %d.", failed, got)
		} else {
			t.Logf("\t%s\tShould lock half of 150 QUA.", success)
		}

		if got := database.LockedShare(p, 101); got != 50 {
			t.Errorf("\t%s\tShould round the locked share down, got %d.", failed, got)
		} else {
			t.Logf("\t%s\tShould round the locked share down.", success)
		}
	}
}
