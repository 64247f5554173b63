package p2p

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	in := frame{command: cmdVersion, payload: []byte("payload bytes")}
	require.NoError(t, writeFrame(&buf, MagicTestnet, in))

	out, err := readFrame(&buf, MagicTestnet)
	require.NoError(t, err)
	assert.Equal(t, in.command, out.command)
	assert.Equal(t, in.payload, out.payload)
}

func TestFrameEmptyPayload(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, writeFrame(&buf, MagicMainnet, frame{command: cmdVerAck}))

	out, err := readFrame(&buf, MagicMainnet)
	require.NoError(t, err)
	assert.Equal(t, cmdVerAck, out.command)
	assert.Empty(t, out.payload)
}

func TestFrameWrongMagic(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, writeFrame(&buf, MagicTestnet, frame{command: cmdPing, payload: []byte{1}}))

	_, err := readFrame(&buf, MagicMainnet)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestFrameCorruptChecksum(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, writeFrame(&buf, MagicTestnet, frame{command: cmdPing, payload: []byte("nonce")}))

	raw := buf.Bytes()
	raw[len(raw)-1] ^= 0xff // Flip a payload bit after the checksum was taken.

	_, err := readFrame(bytes.NewReader(raw), MagicTestnet)
	assert.ErrorIs(t, err, ErrBadChecksum)
}

func TestFrameOversized(t *testing.T) {
	err := writeFrame(&bytes.Buffer{}, MagicTestnet, frame{command: cmdBlock, payload: make([]byte, maxFrameSize+1)})
	assert.ErrorIs(t, err, ErrOversizedMessage)
}

func TestMessageRoundTrips(t *testing.T) {
	msgs := []any{
		VersionMsg{Version: ProtocolVersion, ChainID: 99, TipHeight: 42, TipHash: common.HexToHash("0xabc0"), UserAgent: "go-quanta/test", ListenPort: 9000},
		AddrMsg{Peers: []AddrPeer{{Host: "10.0.0.1:9000", LastSeen: 1700000000}}},
		HeightMsg{Height: 7},
		GetHeadersMsg{Locator: []common.Hash{common.HexToHash("0x01"), common.HexToHash("0x02")}},
		HeadersMsg{Headers: [][]byte{{0x01, 0x02}}},
		GetBlocksMsg{Locator: []common.Hash{common.HexToHash("0x03")}, StopHash: common.HexToHash("0x04")},
		MempoolMsg{Trans: [][]byte{{0xaa}}},
		PingMsg{Nonce: 12345},
		PongMsg{Nonce: 12345},
		DisconnectMsg{Reason: reasonShutdown},
		VerAckMsg{},
		GetAddrMsg{},
		GetHeightMsg{},
		GetMempoolMsg{},
	}

	for _, msg := range msgs {
		fr, err := encodeMessage(msg)
		require.NoError(t, err, "encode %T", msg)

		decoded, err := decodeMessage(fr)
		require.NoError(t, err, "decode %T", msg)
		assert.Equal(t, msg, decoded, "round trip %T", msg)
	}
}

func TestDecodeUnknownCommand(t *testing.T) {
	_, err := decodeMessage(frame{command: "bogus"})
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestCommandPadding(t *testing.T) {
	raw := make([]byte, commandSize)
	copy(raw, "headers")
	assert.Equal(t, "headers", commandString(raw))

	raw[3] = 0x00 // Embedded NUL is malformed.
	assert.Equal(t, "", commandString(raw))
}
