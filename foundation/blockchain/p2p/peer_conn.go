package p2p

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/ethereum/go-ethereum/common"
)

// Connection tuning.
const (
	handshakeTimeout = 10 * time.Second
	idleTimeout      = 180 * time.Second
	pingInterval     = 60 * time.Second
	requestTimeout   = 30 * time.Second
	sendQueueSize    = 256

	// Unsolicited block pushes are limited to one per second per peer.
	blockPushInterval = time.Second
)

// seenEstimate sizes the per-peer bloom filters that suppress re-gossip.
const seenEstimate = 20000

// peerConn represents one connected peer: a reader goroutine and a writer
// goroutine sharing a bounded outbound queue. Closing either side cancels
// the other.
type peerConn struct {
	conn     net.Conn
	outbound bool

	// host is the peer's dial-back address (remote ip + advertised listen
	// port), known once the handshake completes.
	host    string
	version VersionMsg

	sendHigh chan frame
	sendLow  chan frame

	done      chan struct{}
	closeOnce sync.Once

	seenMu     sync.Mutex
	seenTx     *bloom.BloomFilter
	seenBlocks *bloom.BloomFilter

	pendingMu sync.Mutex
	pending   map[string]chan any

	lastBlockPush time.Time
}

func newPeerConn(conn net.Conn, outbound bool) *peerConn {
	return &peerConn{
		conn:       conn,
		outbound:   outbound,
		sendHigh:   make(chan frame, sendQueueSize),
		sendLow:    make(chan frame, sendQueueSize),
		done:       make(chan struct{}),
		seenTx:     bloom.NewWithEstimates(seenEstimate, 0.01),
		seenBlocks: bloom.NewWithEstimates(seenEstimate, 0.01),
		pending:    make(map[string]chan any),
	}
}

// close shuts both halves of the connection down exactly once.
func (pc *peerConn) close() {
	pc.closeOnce.Do(func() {
		close(pc.done)
		pc.conn.Close()
	})
}

func (pc *peerConn) closed() bool {
	select {
	case <-pc.done:
		return true
	default:
		return false
	}
}

// =============================================================================

// handshake performs the version/verack exchange. Both sides must exchange
// Version and VerAck before any other message; anything else is a protocol
// violation.
func (pc *peerConn) handshake(magic uint32, local VersionMsg) error {
	deadline := time.Now().Add(handshakeTimeout)
	pc.conn.SetDeadline(deadline)
	defer pc.conn.SetDeadline(time.Time{})

	fr, err := encodeMessage(local)
	if err != nil {
		return err
	}
	if err := writeFrame(pc.conn, magic, fr); err != nil {
		return fmt.Errorf("%w: %s", ErrHandshakeFailed, err)
	}

	var versionReceived, ackReceived bool
	for !versionReceived || !ackReceived {
		fr, err := readFrame(pc.conn, magic)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrHandshakeFailed, err)
		}

		msg, err := decodeMessage(fr)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrHandshakeFailed, err)
		}

		switch m := msg.(type) {
		case VersionMsg:
			if versionReceived {
				return fmt.Errorf("%w: duplicate version", ErrHandshakeFailed)
			}
			versionReceived = true
			pc.version = m

			ack, err := encodeMessage(VerAckMsg{})
			if err != nil {
				return err
			}
			if err := writeFrame(pc.conn, magic, ack); err != nil {
				return fmt.Errorf("%w: %s", ErrHandshakeFailed, err)
			}

		case VerAckMsg:
			if ackReceived {
				return fmt.Errorf("%w: duplicate verack", ErrHandshakeFailed)
			}
			ackReceived = true

		default:
			return fmt.Errorf("%w: %T before handshake completed", ErrHandshakeFailed, msg)
		}
	}

	host, _, err := net.SplitHostPort(pc.conn.RemoteAddr().String())
	if err != nil {
		return err
	}
	pc.host = net.JoinHostPort(host, fmt.Sprintf("%d", pc.version.ListenPort))

	return nil
}

// =============================================================================

// enqueue queues a frame for the writer. Block propagation and disconnects
// ride the high-priority queue; overflow of either queue is fatal for the
// peer per the backpressure policy.
func (pc *peerConn) enqueue(msg any) error {
	fr, err := encodeMessage(msg)
	if err != nil {
		return err
	}

	queue := pc.sendLow
	switch msg.(type) {
	case BlockMsg, DisconnectMsg:
		queue = pc.sendHigh
	}

	select {
	case queue <- fr:
		return nil
	case <-pc.done:
		return ErrTimeout
	default:
		return ErrQueueOverflow
	}
}

// writeLoop drains the send queues, preferring block frames, and keeps the
// ping cadence.
func (pc *peerConn) writeLoop(magic uint32, onExit func(err error)) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	var err error
	defer func() { onExit(err) }()

	for {
		// Always drain high-priority frames first.
		select {
		case fr := <-pc.sendHigh:
			if err = writeFrame(pc.conn, magic, fr); err != nil {
				return
			}
			continue
		default:
		}

		select {
		case <-pc.done:
			return

		case fr := <-pc.sendHigh:
			if err = writeFrame(pc.conn, magic, fr); err != nil {
				return
			}

		case fr := <-pc.sendLow:
			if err = writeFrame(pc.conn, magic, fr); err != nil {
				return
			}

		case <-ticker.C:
			fr, ferr := encodeMessage(PingMsg{Nonce: uint64(time.Now().UnixNano())})
			if ferr != nil {
				continue
			}
			if err = writeFrame(pc.conn, magic, fr); err != nil {
				return
			}
		}
	}
}

// =============================================================================

// request sends a message and waits for the response command. One request
// per response command may be outstanding at a time.
func (pc *peerConn) request(msg any, respCommand string, buffered int) (chan any, error) {
	ch := make(chan any, buffered)

	pc.pendingMu.Lock()
	if _, exists := pc.pending[respCommand]; exists {
		pc.pendingMu.Unlock()
		return nil, fmt.Errorf("request for %q already in flight", respCommand)
	}
	pc.pending[respCommand] = ch
	pc.pendingMu.Unlock()

	if err := pc.enqueue(msg); err != nil {
		pc.clearPending(respCommand)
		return nil, err
	}

	return ch, nil
}

// deliver routes a response to a waiting request, reporting whether a
// waiter consumed it.
func (pc *peerConn) deliver(command string, msg any) bool {
	pc.pendingMu.Lock()
	ch, exists := pc.pending[command]
	pc.pendingMu.Unlock()

	if !exists {
		return false
	}

	select {
	case ch <- msg:
		return true
	default:
		return false
	}
}

func (pc *peerConn) clearPending(command string) {
	pc.pendingMu.Lock()
	delete(pc.pending, command)
	pc.pendingMu.Unlock()
}

// =============================================================================

// markSeenTx records a transaction hash in the peer's seen set, reporting
// whether it was new.
func (pc *peerConn) markSeenTx(hash common.Hash) bool {
	pc.seenMu.Lock()
	defer pc.seenMu.Unlock()

	if pc.seenTx.Test(hash[:]) {
		return false
	}
	pc.seenTx.Add(hash[:])
	return true
}

// markSeenBlock records a block hash in the peer's seen set, reporting
// whether it was new.
func (pc *peerConn) markSeenBlock(hash common.Hash) bool {
	pc.seenMu.Lock()
	defer pc.seenMu.Unlock()

	if pc.seenBlocks.Test(hash[:]) {
		return false
	}
	pc.seenBlocks.Add(hash[:])
	return true
}

// allowBlockPush enforces the unsolicited block rate limit.
func (pc *peerConn) allowBlockPush() bool {
	now := time.Now()
	if now.Sub(pc.lastBlockPush) < blockPushInterval {
		return false
	}
	pc.lastBlockPush = now
	return true
}
