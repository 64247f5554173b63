// Package p2p implements the peer-to-peer protocol: length-prefixed frames
// over TCP, the version handshake, block and transaction gossip, peer
// exchange, and locator-based chain synchronization. Each peer is a
// reader/writer goroutine pair over a bounded outbound queue; block
// propagation is prioritized over transaction gossip.
package p2p

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/quantanetwork/go-quanta/foundation/blockchain/database"
	"github.com/quantanetwork/go-quanta/foundation/blockchain/peer"
	"github.com/quantanetwork/go-quanta/foundation/blockchain/signature"
	"github.com/quantanetwork/go-quanta/foundation/blockchain/state"
)

// EventHandler defines a function that is called when events occur in the
// processing of network traffic.
type EventHandler func(v string, args ...any)

// Defaults for the DoS policy.
const (
	DefaultMaxPeers  = 125
	DefaultBanWindow = 10 * time.Minute

	dialTimeout        = 5 * time.Second
	maintainInterval   = 30 * time.Second
	outboundTarget     = 8
	maxMempoolResponse = 1000
	maxAddrResponse    = 1000

	// maxOrphans bounds the ephemeral cache of blocks whose parent has
	// not arrived yet.
	maxOrphans = 100
)

// Config represents the configuration required to start the network.
type Config struct {
	State     *state.State
	Host      string // ip:port the listener binds.
	Magic     uint32
	UserAgent string
	MaxPeers  int
	BanWindow time.Duration
	Bootstrap []string
	DNSSeeds  []string
	EvHandler EventHandler
}

// Network represents the peer-to-peer node.
type Network struct {
	state      *state.State
	host       string
	listenPort uint16
	magic      uint32
	userAgent  string
	maxPeers   int
	banWindow  time.Duration
	bootstrap  []string
	dnsSeeds   []string
	evHandler  EventHandler

	knownPeers *peer.PeerSet
	listener   net.Listener

	mu    sync.RWMutex
	conns map[string]*peerConn

	syncing int32
	orphans *lru.Cache // parent hash -> orphaned database.Block
	shut    chan struct{}
	wg      sync.WaitGroup

	backoffMu sync.Mutex
	nextDial  map[string]time.Time
	attempts  map[string]int
}

// New constructs the network value.
func New(cfg Config) (*Network, error) {
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	_, portStr, err := net.SplitHostPort(cfg.Host)
	if err != nil {
		return nil, fmt.Errorf("network host: %w", err)
	}
	var port uint16
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return nil, fmt.Errorf("network port: %w", err)
	}

	maxPeers := cfg.MaxPeers
	if maxPeers <= 0 {
		maxPeers = DefaultMaxPeers
	}
	banWindow := cfg.BanWindow
	if banWindow <= 0 {
		banWindow = DefaultBanWindow
	}

	orphans, err := lru.New(maxOrphans)
	if err != nil {
		return nil, err
	}

	n := Network{
		orphans:    orphans,
		state:      cfg.State,
		host:       cfg.Host,
		listenPort: port,
		magic:      cfg.Magic,
		userAgent:  cfg.UserAgent,
		maxPeers:   maxPeers,
		banWindow:  banWindow,
		bootstrap:  cfg.Bootstrap,
		dnsSeeds:   cfg.DNSSeeds,
		evHandler:  ev,
		knownPeers: cfg.State.KnownPeers(),
		conns:      make(map[string]*peerConn),
		shut:       make(chan struct{}),
		nextDial:   make(map[string]time.Time),
		attempts:   make(map[string]int),
	}

	return &n, nil
}

// Start binds the listener and launches the accept and maintenance
// goroutines.
func (n *Network) Start() error {
	listener, err := net.Listen("tcp", n.host)
	if err != nil {
		return fmt.Errorf("network listen: %w", err)
	}
	n.listener = listener

	n.evHandler("p2p: Start: listening on %s", n.host)

	n.discover()

	n.wg.Add(2)
	go func() {
		defer n.wg.Done()
		n.acceptLoop()
	}()
	go func() {
		defer n.wg.Done()
		n.maintainLoop()
	}()

	return nil
}

// Shutdown closes the listener and every peer connection.
func (n *Network) Shutdown() {
	n.evHandler("p2p: Shutdown: started")
	defer n.evHandler("p2p: Shutdown: completed")

	close(n.shut)
	if n.listener != nil {
		n.listener.Close()
	}

	n.mu.Lock()
	for _, pc := range n.conns {
		pc.enqueue(DisconnectMsg{Reason: reasonShutdown})
		pc.close()
	}
	n.mu.Unlock()

	n.wg.Wait()
}

// PeerCount returns the number of ready connections.
func (n *Network) PeerCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return len(n.conns)
}

// ConnectedHosts returns the dial-back addresses of every ready peer.
func (n *Network) ConnectedHosts() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	hosts := make([]string, 0, len(n.conns))
	for host := range n.conns {
		hosts = append(hosts, host)
	}
	return hosts
}

// =============================================================================

// acceptLoop admits inbound connections within the peer and ban limits.
func (n *Network) acceptLoop() {
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-n.shut:
				return
			default:
				n.evHandler("p2p: accept: ERROR: %s", err)
				continue
			}
		}

		if host, _, err := net.SplitHostPort(conn.RemoteAddr().String()); err == nil {
			if n.knownPeers.IsBanned(host) {
				conn.Close()
				continue
			}
		}

		if n.PeerCount() >= n.maxPeers {
			conn.Close()
			continue
		}

		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.runPeer(newPeerConn(conn, false))
		}()
	}
}

// Connect dials a peer and runs it through the handshake.
func (n *Network) Connect(host string) error {
	if n.knownPeers.IsBanned(hostOnly(host)) {
		return ErrBanned
	}

	n.mu.RLock()
	_, connected := n.conns[host]
	n.mu.RUnlock()
	if connected {
		return nil
	}

	if n.PeerCount() >= n.maxPeers {
		return ErrTooManyPeers
	}

	conn, err := net.DialTimeout("tcp", host, dialTimeout)
	if err != nil {
		return err
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.runPeer(newPeerConn(conn, true))
	}()

	return nil
}

// =============================================================================

// runPeer performs the handshake, registers the peer, and runs the reader
// loop until the connection dies.
func (n *Network) runPeer(pc *peerConn) {
	defer pc.close()

	latest := n.state.RetrieveLatestBlock()
	local := VersionMsg{
		Version:    ProtocolVersion,
		ChainID:    n.state.RetrieveGenesis().ChainID,
		TipHeight:  latest.Header.Height,
		TipHash:    latest.Hash(),
		UserAgent:  n.userAgent,
		ListenPort: n.listenPort,
	}

	if err := pc.handshake(n.magic, local); err != nil {
		n.evHandler("p2p: runPeer: handshake: %s: %s", pc.conn.RemoteAddr(), err)
		if host, _, splitErr := net.SplitHostPort(pc.conn.RemoteAddr().String()); splitErr == nil {
			n.knownPeers.Ban(host, n.banWindow)
		}
		return
	}

	if pc.version.ChainID != n.state.RetrieveGenesis().ChainID {
		n.evHandler("p2p: runPeer: chain id mismatch: %s", pc.host)
		return
	}

	if !n.register(pc) {
		return
	}
	defer n.unregister(pc)

	n.evHandler("p2p: runPeer: ready: %s agent[%s] height[%d]", pc.host, pc.version.UserAgent, pc.version.TipHeight)
	n.knownPeers.Add(peer.New(pc.host))

	pc.enqueue(GetAddrMsg{})
	pc.enqueue(GetMempoolMsg{})
	if pc.version.TipHeight > latest.Header.Height {
		n.triggerSync(pc)
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		pc.writeLoop(n.magic, func(err error) {
			pc.close()
		})
	}()

	n.readLoop(pc)
}

// register adds a ready peer, enforcing the connection cap and one
// connection per host.
func (n *Network) register(pc *peerConn) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.conns) >= n.maxPeers {
		return false
	}
	if _, exists := n.conns[pc.host]; exists {
		return false
	}

	n.conns[pc.host] = pc
	return true
}

func (n *Network) unregister(pc *peerConn) {
	n.mu.Lock()
	if n.conns[pc.host] == pc {
		delete(n.conns, pc.host)
	}
	n.mu.Unlock()
}

// banPeer records the offense, tells the peer, and drops the connection.
func (n *Network) banPeer(pc *peerConn, reason uint8, cause error) {
	n.evHandler("p2p: banPeer: %s: %s", pc.host, cause)

	n.knownPeers.Ban(hostOnly(pc.host), n.banWindow)
	pc.enqueue(DisconnectMsg{Reason: reason})
	pc.close()
}

// =============================================================================

// readLoop consumes frames until the peer dies. Every frame resets the
// idle deadline; 180 seconds of silence drops the peer.
func (n *Network) readLoop(pc *peerConn) {
	for {
		if pc.closed() {
			return
		}

		pc.conn.SetReadDeadline(time.Now().Add(idleTimeout))

		fr, err := readFrame(pc.conn, n.magic)
		if err != nil {
			if errors.Is(err, ErrBadMagic) || errors.Is(err, ErrBadChecksum) || errors.Is(err, ErrBadCommand) || errors.Is(err, ErrOversizedMessage) {
				n.banPeer(pc, reasonProtocol, err)
				return
			}
			pc.close()
			return
		}

		msg, err := decodeMessage(fr)
		if err != nil {
			n.banPeer(pc, reasonProtocol, err)
			return
		}

		if err := n.handleMessage(pc, fr.command, msg); err != nil {
			return
		}
	}
}

// handleMessage dispatches one decoded message. A non-nil return means the
// peer is gone.
func (n *Network) handleMessage(pc *peerConn, command string, msg any) error {
	switch m := msg.(type) {
	case VersionMsg, VerAckMsg:
		n.banPeer(pc, reasonProtocol, fmt.Errorf("%w: handshake message after ready", ErrProtocolViolation))
		return ErrProtocolViolation

	case PingMsg:
		pc.enqueue(PongMsg{Nonce: m.Nonce})

	case PongMsg:
		pc.deliver(cmdPong, m)

	case GetAddrMsg:
		peers := n.knownPeers.Copy(pc.host)
		if len(peers) > maxAddrResponse {
			peers = peers[:maxAddrResponse]
		}
		resp := AddrMsg{}
		for _, p := range peers {
			resp.Peers = append(resp.Peers, AddrPeer{Host: p.Host, LastSeen: uint64(p.LastSeen)})
		}
		pc.enqueue(resp)

	case AddrMsg:
		if !pc.deliver(cmdAddr, m) {
			for _, ap := range m.Peers {
				n.knownPeers.Add(peer.Peer{Host: ap.Host, LastSeen: int64(ap.LastSeen)})
			}
		}

	case GetHeightMsg:
		pc.enqueue(HeightMsg{Height: n.state.RetrieveLatestBlock().Header.Height})

	case HeightMsg:
		if !pc.deliver(cmdHeight, m) {
			if m.Height > n.state.RetrieveLatestBlock().Header.Height {
				n.triggerSync(pc)
			}
		}

	case GetHeadersMsg:
		n.serveHeaders(pc, m)

	case HeadersMsg:
		pc.deliver(cmdHeaders, m)

	case GetBlocksMsg:
		n.serveBlocks(pc, m)

	case BlockMsg:
		return n.handleBlock(pc, m)

	case TxMsg:
		n.handleTx(pc, m)

	case GetMempoolMsg:
		trans := n.state.RetrieveMempool()
		if len(trans) > maxMempoolResponse {
			trans = trans[:maxMempoolResponse]
		}
		resp := MempoolMsg{}
		for _, tx := range trans {
			data, err := tx.Encode()
			if err != nil {
				continue
			}
			resp.Trans = append(resp.Trans, data)
		}
		pc.enqueue(resp)

	case MempoolMsg:
		if !pc.deliver(cmdMempool, m) {
			n.admitMempool(pc, m)
		}

	case DisconnectMsg:
		n.evHandler("p2p: %s: disconnect reason[%d]", pc.host, m.Reason)
		pc.close()
		return ErrTimeout
	}

	return nil
}

// handleBlock admits a pushed block: sync responses route to the waiting
// request, unsolicited pushes are rate limited and applied to the chain.
func (n *Network) handleBlock(pc *peerConn, m BlockMsg) error {
	pc.markSeenBlock(m.Block.Hash)

	if pc.deliver(cmdBlock, m) {
		return nil
	}

	if !pc.allowBlockPush() {
		n.banPeer(pc, reasonRateLimited, ErrRateLimited)
		return ErrRateLimited
	}

	block, err := database.ToBlock(m.Block)
	if err != nil {
		n.banPeer(pc, reasonProtocol, err)
		return err
	}

	switch err := n.state.ProcessProposedBlock(block, pc.host); {
	case err == nil:
		n.knownPeers.Add(peer.New(pc.host))
		n.adoptOrphans(pc, block)

	case errors.Is(err, state.ErrAlreadyHave):

	case errors.Is(err, state.ErrUnknownParent):
		// Hold the block briefly; its parent may be in flight. A sync
		// covers the case where it isn't.
		n.orphans.Add(block.Header.PrevBlockHash, block)
		n.triggerSync(pc)

	default:
		n.banPeer(pc, reasonProtocol, err)
		return err
	}

	return nil
}

// adoptOrphans applies any cached block that was waiting for the one just
// accepted, walking the chain of waiters forward.
func (n *Network) adoptOrphans(pc *peerConn, accepted database.Block) {
	for {
		value, exists := n.orphans.Get(accepted.Hash())
		if !exists {
			return
		}
		n.orphans.Remove(accepted.Hash())

		orphan, isBlock := value.(database.Block)
		if !isBlock {
			return
		}

		if err := n.state.ProcessProposedBlock(orphan, pc.host); err != nil {
			return
		}
		accepted = orphan
	}
}

// handleTx admits a gossiped transaction.
func (n *Network) handleTx(pc *peerConn, m TxMsg) {
	txHash, err := m.Tx.TxHash()
	if err != nil {
		return
	}
	pc.markSeenTx(txHash)

	switch err := n.state.SubmitNodeTransaction(m.Tx, pc.host); {
	case err == nil:
		n.knownPeers.Add(peer.New(pc.host))

	case errors.Is(err, database.ErrDuplicateTx):

	case errors.Is(err, database.ErrAddressMismatch), errors.Is(err, signature.ErrInvalidSignature):
		n.banPeer(pc, reasonProtocol, err)

	default:
		// Admission misses (fee, nonce, balance, full pool) are not
		// offenses; the sender may simply be ahead or behind us.
	}
}

// admitMempool pulls a peer's mempool dump through normal admission.
func (n *Network) admitMempool(pc *peerConn, m MempoolMsg) {
	for _, data := range m.Trans {
		signedTx, err := database.DecodeSignedTx(data)
		if err != nil {
			n.banPeer(pc, reasonProtocol, err)
			return
		}
		n.state.SubmitNodeTransaction(database.NewBlockTx(signedTx), pc.host)
	}
}

// =============================================================================

// BroadcastBlock pushes a block to every ready peer except the origin,
// suppressed by each peer's seen set. A peer whose queue overflows is
// dropped per the backpressure policy.
func (n *Network) BroadcastBlock(blockData database.BlockData, origin string) {
	n.mu.RLock()
	conns := make([]*peerConn, 0, len(n.conns))
	for _, pc := range n.conns {
		conns = append(conns, pc)
	}
	n.mu.RUnlock()

	for _, pc := range conns {
		if pc.host == origin {
			continue
		}
		if !pc.markSeenBlock(blockData.Hash) {
			continue
		}

		if err := pc.enqueue(BlockMsg{Block: blockData}); errors.Is(err, ErrQueueOverflow) {
			n.evHandler("p2p: BroadcastBlock: %s: queue overflow, dropping peer", pc.host)
			pc.close()
		}
	}
}

// BroadcastTx pushes a transaction to every ready peer except the origin.
func (n *Network) BroadcastTx(tx database.BlockTx, origin string) {
	txHash, err := tx.TxHash()
	if err != nil {
		return
	}

	n.mu.RLock()
	conns := make([]*peerConn, 0, len(n.conns))
	for _, pc := range n.conns {
		conns = append(conns, pc)
	}
	n.mu.RUnlock()

	for _, pc := range conns {
		if pc.host == origin {
			continue
		}
		if !pc.markSeenTx(txHash) {
			continue
		}

		if err := pc.enqueue(TxMsg{Tx: tx}); errors.Is(err, ErrQueueOverflow) {
			n.evHandler("p2p: BroadcastTx: %s: queue overflow, dropping peer", pc.host)
			pc.close()
		}
	}
}

// =============================================================================

// maintainLoop keeps outbound connections topped up with capped
// exponential backoff per address.
func (n *Network) maintainLoop() {
	ticker := time.NewTicker(maintainInterval)
	defer ticker.Stop()

	n.topUpConnections()

	for {
		select {
		case <-n.shut:
			return
		case <-ticker.C:
			n.topUpConnections()
		}
	}
}

// PollHeights asks every ready peer for its tip height. A response above
// the local tip triggers a sync.
func (n *Network) PollHeights() {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, pc := range n.conns {
		pc.enqueue(GetHeightMsg{})
	}
}

// triggerSync starts a single-flight chain sync against the peer.
func (n *Network) triggerSync(pc *peerConn) {
	if !atomic.CompareAndSwapInt32(&n.syncing, 0, 1) {
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer atomic.StoreInt32(&n.syncing, 0)
		n.syncWithPeer(pc)
	}()
}

// hostOnly strips the port when present.
func hostOnly(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}
