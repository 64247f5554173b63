package p2p

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/quantanetwork/go-quanta/foundation/blockchain/database"
)

// ProtocolVersion is the version exchanged in the handshake.
const ProtocolVersion uint32 = 1

// Wire commands. Each is at most 12 ASCII bytes, NUL padded on the wire.
const (
	cmdVersion    = "version"
	cmdVerAck     = "verack"
	cmdGetAddr    = "getaddr"
	cmdAddr       = "addr"
	cmdGetHeight  = "getheight"
	cmdHeight     = "height"
	cmdGetHeaders = "getheaders"
	cmdHeaders    = "headers"
	cmdGetBlocks  = "getblocks"
	cmdBlock      = "block"
	cmdNewTx      = "newtx"
	cmdGetMempool = "getmempool"
	cmdMempool    = "mempool"
	cmdPing       = "ping"
	cmdPong       = "pong"
	cmdDisconnect = "disconnect"
)

// maxHeadersPerMsg bounds a headers response.
const maxHeadersPerMsg = 2000

// maxBlocksPerRequest bounds how many block frames a single getblocks
// request streams back.
const maxBlocksPerRequest = 500

// Disconnect reasons.
const (
	reasonShutdown    uint8 = 1
	reasonProtocol    uint8 = 2
	reasonRateLimited uint8 = 3
	reasonBanned      uint8 = 4
)

// =============================================================================
// Message payloads. Every inbound frame decodes into exactly one of these
// variants at the read boundary; an unknown command is a protocol
// violation.

// VersionMsg opens the handshake in both directions.
type VersionMsg struct {
	Version    uint32
	ChainID    uint16
	TipHeight  uint64
	TipHash    common.Hash
	UserAgent  string
	ListenPort uint16
}

// VerAckMsg acknowledges a version.
type VerAckMsg struct{}

// GetAddrMsg requests the peer's address book.
type GetAddrMsg struct{}

// AddrMsg shares known peer addresses.
type AddrMsg struct {
	Peers []AddrPeer
}

// AddrPeer is one shared address.
type AddrPeer struct {
	Host     string
	LastSeen uint64
}

// GetHeightMsg requests the peer's tip height.
type GetHeightMsg struct{}

// HeightMsg answers GetHeight.
type HeightMsg struct {
	Height uint64
}

// GetHeadersMsg requests headers after the first locator hash the receiver
// recognizes, up to the stop hash.
type GetHeadersMsg struct {
	Locator  []common.Hash
	StopHash common.Hash
}

// HeadersMsg answers GetHeaders with canonically encoded headers.
type HeadersMsg struct {
	Headers [][]byte
}

// GetBlocksMsg requests full blocks after the first locator hash the
// receiver recognizes. Blocks stream back as individual block frames,
// capped per request; the requester repeats with a fresh locator until it
// catches up.
type GetBlocksMsg struct {
	Locator  []common.Hash
	StopHash common.Hash
}

// BlockMsg pushes one full block, either gossip or sync.
type BlockMsg struct {
	Block database.BlockData
}

// TxMsg pushes one transaction.
type TxMsg struct {
	Tx database.BlockTx
}

// GetMempoolMsg requests the peer's pending transactions.
type GetMempoolMsg struct{}

// MempoolMsg answers GetMempool with canonically encoded transactions.
type MempoolMsg struct {
	Trans [][]byte
}

// PingMsg and PongMsg carry a liveness nonce.
type PingMsg struct {
	Nonce uint64
}

// PongMsg echoes a ping nonce.
type PongMsg struct {
	Nonce uint64
}

// DisconnectMsg announces a graceful close.
type DisconnectMsg struct {
	Reason uint8
}

// =============================================================================

// encodeMessage turns a typed message into a frame.
func encodeMessage(msg any) (frame, error) {
	switch m := msg.(type) {
	case VersionMsg:
		return rlpFrame(cmdVersion, m)
	case VerAckMsg:
		return frame{command: cmdVerAck}, nil
	case GetAddrMsg:
		return frame{command: cmdGetAddr}, nil
	case AddrMsg:
		return rlpFrame(cmdAddr, m)
	case GetHeightMsg:
		return frame{command: cmdGetHeight}, nil
	case HeightMsg:
		return rlpFrame(cmdHeight, m)
	case GetHeadersMsg:
		return rlpFrame(cmdGetHeaders, m)
	case HeadersMsg:
		return rlpFrame(cmdHeaders, m)
	case GetBlocksMsg:
		return rlpFrame(cmdGetBlocks, m)
	case BlockMsg:
		payload, err := m.Block.Encode()
		if err != nil {
			return frame{}, err
		}
		return frame{command: cmdBlock, payload: payload}, nil
	case TxMsg:
		payload, err := m.Tx.Encode()
		if err != nil {
			return frame{}, err
		}
		return frame{command: cmdNewTx, payload: payload}, nil
	case GetMempoolMsg:
		return frame{command: cmdGetMempool}, nil
	case MempoolMsg:
		return rlpFrame(cmdMempool, m)
	case PingMsg:
		return rlpFrame(cmdPing, m)
	case PongMsg:
		return rlpFrame(cmdPong, m)
	case DisconnectMsg:
		return rlpFrame(cmdDisconnect, m)
	}

	return frame{}, fmt.Errorf("unknown message type %T", msg)
}

// decodeMessage turns a frame into its typed message. This is the single
// decode boundary; handlers switch exhaustively on the returned variant.
func decodeMessage(fr frame) (any, error) {
	switch fr.command {
	case cmdVersion:
		var m VersionMsg
		if err := rlp.DecodeBytes(fr.payload, &m); err != nil {
			return nil, err
		}
		return m, nil
	case cmdVerAck:
		return VerAckMsg{}, nil
	case cmdGetAddr:
		return GetAddrMsg{}, nil
	case cmdAddr:
		var m AddrMsg
		if err := rlp.DecodeBytes(fr.payload, &m); err != nil {
			return nil, err
		}
		return m, nil
	case cmdGetHeight:
		return GetHeightMsg{}, nil
	case cmdHeight:
		var m HeightMsg
		if err := rlp.DecodeBytes(fr.payload, &m); err != nil {
			return nil, err
		}
		return m, nil
	case cmdGetHeaders:
		var m GetHeadersMsg
		if err := rlp.DecodeBytes(fr.payload, &m); err != nil {
			return nil, err
		}
		return m, nil
	case cmdHeaders:
		var m HeadersMsg
		if err := rlp.DecodeBytes(fr.payload, &m); err != nil {
			return nil, err
		}
		return m, nil
	case cmdGetBlocks:
		var m GetBlocksMsg
		if err := rlp.DecodeBytes(fr.payload, &m); err != nil {
			return nil, err
		}
		return m, nil
	case cmdBlock:
		bd, err := database.DecodeBlockData(fr.payload)
		if err != nil {
			return nil, err
		}
		return BlockMsg{Block: bd}, nil
	case cmdNewTx:
		signedTx, err := database.DecodeSignedTx(fr.payload)
		if err != nil {
			return nil, err
		}
		return TxMsg{Tx: database.NewBlockTx(signedTx)}, nil
	case cmdGetMempool:
		return GetMempoolMsg{}, nil
	case cmdMempool:
		var m MempoolMsg
		if err := rlp.DecodeBytes(fr.payload, &m); err != nil {
			return nil, err
		}
		return m, nil
	case cmdPing:
		var m PingMsg
		if err := rlp.DecodeBytes(fr.payload, &m); err != nil {
			return nil, err
		}
		return m, nil
	case cmdPong:
		var m PongMsg
		if err := rlp.DecodeBytes(fr.payload, &m); err != nil {
			return nil, err
		}
		return m, nil
	case cmdDisconnect:
		var m DisconnectMsg
		if err := rlp.DecodeBytes(fr.payload, &m); err != nil {
			return nil, err
		}
		return m, nil
	}

	return nil, fmt.Errorf("%w: command %q", ErrProtocolViolation, fr.command)
}

// rlpFrame encodes the message payload with RLP under the command.
func rlpFrame(command string, msg any) (frame, error) {
	payload, err := rlp.EncodeToBytes(msg)
	if err != nil {
		return frame{}, err
	}
	return frame{command: command, payload: payload}, nil
}
