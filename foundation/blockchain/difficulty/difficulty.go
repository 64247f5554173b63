// Package difficulty provides the proof-of-work target arithmetic. A block's
// difficulty is the number of leading zero bits its hash must carry; the
// equivalent 256-bit target is 2^(256-bits).
package difficulty

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// MinBits is the floor difficulty. A chain never retargets below it.
const MinBits = 1

// LeadingZeroBits counts the leading zero bits of the hash.
func LeadingZeroBits(hash common.Hash) uint32 {
	var count uint32
	for _, b := range hash {
		if b == 0 {
			count += 8
			continue
		}

		for i := 7; i >= 0; i-- {
			if (b >> uint(i)) != 0 {
				break
			}
			count++
		}
		break
	}

	return count
}

// MeetsTarget reports whether the hash satisfies the specified difficulty.
func MeetsTarget(hash common.Hash, bits uint32) bool {
	return LeadingZeroBits(hash) >= bits
}

// Target returns the 256-bit target value for a difficulty: 2^(256-bits).
func Target(bits uint32) *big.Int {
	if bits > 256 {
		bits = 256
	}
	return new(big.Int).Lsh(big.NewInt(1), uint(256-bits))
}

// Work returns the expected work to find a hash at the specified
// difficulty: 2^bits. Cumulative chain work is the sum of Work over every
// block and drives tip selection.
func Work(bits uint32) *big.Int {
	return new(big.Int).Lsh(big.NewInt(1), uint(bits))
}

// Retarget computes the next difficulty from the previous window. actual is
// the observed seconds over the adjustment window, expected the target
// seconds. The result is clamped to [old/2, old*2] and never drops below
// MinBits.
func Retarget(old uint32, actual int64, expected int64) uint32 {
	if old < MinBits {
		old = MinBits
	}
	if actual <= 0 {
		actual = 1
	}

	next := uint64(old) * uint64(expected) / uint64(actual)

	if floor := uint64(old / 2); next < floor {
		next = floor
	}
	if ceil := uint64(old) * 2; next > ceil {
		next = ceil
	}
	if next < MinBits {
		next = MinBits
	}
	if next > 256 {
		next = 256
	}

	return uint32(next)
}
