package p2p

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantanetwork/go-quanta/foundation/blockchain/database"
	"github.com/quantanetwork/go-quanta/foundation/blockchain/difficulty"
)

// solveHeader finds a nonce satisfying the header's difficulty.
func solveHeader(h database.BlockHeader) database.BlockHeader {
	for !difficulty.MeetsTarget(database.HeaderHash(h), h.Difficulty) {
		h.Nonce++
	}
	return h
}

func TestVerifyHeadersLinkage(t *testing.T) {
	n := &Network{}

	h1 := solveHeader(database.BlockHeader{Height: 1, Timestamp: 100, Difficulty: 1})
	h2 := solveHeader(database.BlockHeader{Height: 2, Timestamp: 120, Difficulty: 1, PrevBlockHash: database.HeaderHash(h1)})
	h3 := solveHeader(database.BlockHeader{Height: 3, Timestamp: 140, Difficulty: 1, PrevBlockHash: database.HeaderHash(h2)})

	require.NoError(t, n.verifyHeaders([]database.BlockHeader{h1, h2, h3}))

	// A broken hash chain is a protocol violation.
	bad := h3
	bad.PrevBlockHash = database.HeaderHash(h1)
	bad = solveHeader(bad)
	assert.Error(t, n.verifyHeaders([]database.BlockHeader{h1, h2, bad}))

	// A height gap is a protocol violation.
	gap := solveHeader(database.BlockHeader{Height: 5, Timestamp: 160, Difficulty: 1, PrevBlockHash: database.HeaderHash(h2)})
	assert.Error(t, n.verifyHeaders([]database.BlockHeader{h1, h2, gap}))

	// Unsolved work is rejected.
	unsolved := database.BlockHeader{Height: 4, Timestamp: 160, Difficulty: 30, PrevBlockHash: database.HeaderHash(h3)}
	assert.ErrorIs(t, n.verifyHeaders([]database.BlockHeader{unsolved}), database.ErrBadPoW)

	// A difficulty jump outside the retarget clamp is rejected.
	jump := solveHeader(database.BlockHeader{Height: 2, Timestamp: 120, Difficulty: 5, PrevBlockHash: database.HeaderHash(h1)})
	assert.ErrorIs(t, n.verifyHeaders([]database.BlockHeader{h1, jump}), database.ErrBadDifficulty)
}
