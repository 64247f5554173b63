package p2p

import (
	"errors"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/quantanetwork/go-quanta/foundation/blockchain/database"
	"github.com/quantanetwork/go-quanta/foundation/blockchain/difficulty"
	"github.com/quantanetwork/go-quanta/foundation/blockchain/signature"
)

// maxSyncRounds bounds how many header/block rounds a single sync runs.
const maxSyncRounds = 1000

// blockGapTimeout is how long the collector waits for the next block frame
// of a batch before giving up on the round.
const blockGapTimeout = 30 * time.Second

// =============================================================================

// buildLocator produces exponentially spaced ancestor hashes from the tip
// back to genesis: tip, tip-1, tip-2, tip-4, and so on. It lets the
// responder find the common ancestor in O(log n) hashes.
func (n *Network) buildLocator() []common.Hash {
	tip := n.state.RetrieveLatestBlock().Header.Height

	var locator []common.Hash
	step := uint64(1)
	height := tip
	for {
		block, err := n.state.QueryBlockByHeight(height)
		if err != nil {
			break
		}
		locator = append(locator, block.Hash())

		if height == 0 {
			break
		}

		if len(locator) >= 3 {
			step *= 2
		}
		if height < step {
			height = 0
			continue
		}
		height -= step
	}

	return locator
}

// locateStart resolves a locator to the first height the requester is
// missing.
func (n *Network) locateStart(locator []common.Hash) uint64 {
	for _, hash := range locator {
		if height, err := n.state.QueryBlockHeight(hash); err == nil {
			return height + 1
		}
	}

	// No common hash: the requester is on a foreign chain; offer
	// everything above genesis.
	return 1
}

// serveHeaders answers a GetHeaders request with up to 2000 linked headers.
func (n *Network) serveHeaders(pc *peerConn, m GetHeadersMsg) {
	start := n.locateStart(m.Locator)
	tip := n.state.RetrieveLatestBlock().Header.Height

	resp := HeadersMsg{}
	for height := start; height <= tip && len(resp.Headers) < maxHeadersPerMsg; height++ {
		block, err := n.state.QueryBlockByHeight(height)
		if err != nil {
			break
		}

		data, err := database.EncodeHeader(block.Header)
		if err != nil {
			break
		}
		resp.Headers = append(resp.Headers, data)

		if m.StopHash != signature.ZeroHash && block.Hash() == m.StopHash {
			break
		}
	}

	pc.enqueue(resp)
}

// serveBlocks answers a GetBlocks request by streaming individual block
// frames, capped per request.
func (n *Network) serveBlocks(pc *peerConn, m GetBlocksMsg) {
	start := n.locateStart(m.Locator)
	tip := n.state.RetrieveLatestBlock().Header.Height

	sent := 0
	for height := start; height <= tip && sent < maxBlocksPerRequest; height++ {
		block, err := n.state.QueryBlockByHeight(height)
		if err != nil {
			return
		}

		if err := pc.enqueue(BlockMsg{Block: database.NewBlockData(block)}); err != nil {
			return
		}
		sent++

		if m.StopHash != signature.ZeroHash && block.Hash() == m.StopHash {
			return
		}
	}
}

// =============================================================================

// syncWithPeer pulls the peer's chain until this node has caught up or the
// peer misbehaves: headers first for cheap verification, then full blocks,
// applied through the chain engine which reorganizes onto heavier branches.
func (n *Network) syncWithPeer(pc *peerConn) {
	n.evHandler("p2p: sync: started: %s height[%d]", pc.host, pc.version.TipHeight)
	defer n.evHandler("p2p: sync: completed: %s", pc.host)

	for round := 0; round < maxSyncRounds; round++ {
		if pc.closed() {
			return
		}

		headers, ok := n.fetchHeaders(pc)
		if !ok || len(headers) == 0 {
			return
		}

		if err := n.verifyHeaders(headers); err != nil {
			n.banPeer(pc, reasonProtocol, err)
			return
		}

		branch, ok := n.fetchBlocks(pc, len(headers))
		if !ok || len(branch) == 0 {
			return
		}

		if err := n.state.Reorganize(branch); err != nil {
			n.evHandler("p2p: sync: reorganize: %s: %s", pc.host, err)
			if isValidationOffense(err) {
				n.banPeer(pc, reasonProtocol, err)
			}
			return
		}

		if n.state.RetrieveLatestBlock().Header.Height >= pc.version.TipHeight {
			return
		}
	}
}

// fetchHeaders requests one header batch along our locator.
func (n *Network) fetchHeaders(pc *peerConn) ([]database.BlockHeader, bool) {
	ch, err := pc.request(GetHeadersMsg{Locator: n.buildLocator()}, cmdHeaders, 1)
	if err != nil {
		return nil, false
	}
	defer pc.clearPending(cmdHeaders)

	select {
	case msg := <-ch:
		resp, isHeaders := msg.(HeadersMsg)
		if !isHeaders {
			return nil, false
		}

		var headers []database.BlockHeader
		for _, data := range resp.Headers {
			header, err := database.DecodeHeader(data)
			if err != nil {
				n.banPeer(pc, reasonProtocol, err)
				return nil, false
			}
			headers = append(headers, header)
		}
		return headers, true

	case <-time.After(requestTimeout):
		n.evHandler("p2p: sync: %s: headers timeout", pc.host)
		pc.close()
		return nil, false

	case <-pc.done:
		return nil, false
	}
}

// verifyHeaders checks the batch links hash to hash, ascends by height,
// carries solved work, and keeps difficulty inside the retarget clamp.
func (n *Network) verifyHeaders(headers []database.BlockHeader) error {
	for i, header := range headers {
		if header.Difficulty < difficulty.MinBits {
			return ErrProtocolViolation
		}
		if !difficulty.MeetsTarget(database.HeaderHash(header), header.Difficulty) {
			return database.ErrBadPoW
		}

		if i == 0 {
			continue
		}

		prev := headers[i-1]
		if header.Height != prev.Height+1 {
			return ErrProtocolViolation
		}
		if header.PrevBlockHash != database.HeaderHash(prev) {
			return ErrProtocolViolation
		}
		if header.Difficulty > prev.Difficulty*2 || header.Difficulty < prev.Difficulty/2 {
			return database.ErrBadDifficulty
		}
	}

	return nil
}

// fetchBlocks requests the block bodies for the verified headers and
// returns them height-ordered.
func (n *Network) fetchBlocks(pc *peerConn, want int) ([]database.Block, bool) {
	if want > maxBlocksPerRequest {
		want = maxBlocksPerRequest
	}

	ch, err := pc.request(GetBlocksMsg{Locator: n.buildLocator()}, cmdBlock, maxBlocksPerRequest)
	if err != nil {
		return nil, false
	}
	defer pc.clearPending(cmdBlock)

	var branch []database.Block
	for len(branch) < want {
		select {
		case msg := <-ch:
			bm, isBlock := msg.(BlockMsg)
			if !isBlock {
				return nil, false
			}

			block, err := database.ToBlock(bm.Block)
			if err != nil {
				n.banPeer(pc, reasonProtocol, err)
				return nil, false
			}
			branch = append(branch, block)

		case <-time.After(blockGapTimeout):
			n.evHandler("p2p: sync: %s: block batch stalled at %d/%d", pc.host, len(branch), want)
			if len(branch) == 0 {
				pc.close()
				return nil, false
			}
			sortBlocks(branch)
			return branch, true

		case <-pc.done:
			return nil, false
		}
	}

	sortBlocks(branch)
	return branch, true
}

// isValidationOffense reports whether a reorg failure was caused by an
// invalid block rather than by a branch that simply wasn't heavier or
// connected. Only the former is a bannable offense.
func isValidationOffense(err error) bool {
	for _, kind := range []error{
		database.ErrBadPoW,
		database.ErrBadMerkleRoot,
		database.ErrBadTimestamp,
		database.ErrBadDifficulty,
		database.ErrBadCoinbase,
		database.ErrOversizedBlock,
		database.ErrMalformed,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

func sortBlocks(blocks []database.Block) {
	sort.Slice(blocks, func(i, j int) bool {
		return blocks[i].Header.Height < blocks[j].Header.Height
	})
}
