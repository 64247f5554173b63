package database

import (
	"math"

	"github.com/quantanetwork/go-quanta/foundation/blockchain/genesis"
)

// ExpectedReward computes the total coinbase reward in microunits for a
// block at the specified height. recentFees is the sum of fees over the last
// min(1000, height) blocks and drives the usage multiplier during the
// bootstrap phase.
//
// The schedule: the year-one base decays by the annual reduction each year
// down to a floor, the early-adopter multiplier applies below the bonus
// height, and the usage multiplier applies below the bootstrap height. The
// final value rounds half to even.
func ExpectedReward(p genesis.MiningParams, height uint64, recentFees uint64) uint64 {
	year := height / p.BlocksPerYear

	decay := 1.0 - float64(p.AnnualReductionPercent)/100.0
	base := float64(p.Year1Reward) * math.Pow(decay, float64(year))
	if base < float64(p.MinReward) {
		base = float64(p.MinReward)
	}

	if height < p.EarlyAdopterBonusBlocks {
		base *= p.EarlyAdopterMultiplier
	}

	if height < p.BootstrapPhaseBlocks {
		base *= 1.0 + math.Min(1.0, float64(recentFees)/1e7)
	}

	return uint64(math.RoundToEven(base))
}

// LockedShare returns the portion of a total reward held in escrow.
func LockedShare(p genesis.MiningParams, total uint64) uint64 {
	return total * uint64(p.RewardLockPercent) / 100
}

// SplitFees divides the total fees of a block between burn, treasury, and
// miner. The burn share rounds down first, then the treasury share, and the
// miner receives the remainder so the three always sum to the total.
func SplitFees(p genesis.MiningParams, total uint64) (burn uint64, treasury uint64, miner uint64) {
	burn = total * uint64(p.FeeBurnPercent) / 100
	treasury = total * uint64(p.FeeTreasuryPercent) / 100
	miner = total - burn - treasury
	return burn, treasury, miner
}
