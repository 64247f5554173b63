// Package peer maintains the peer related information such as the set of
// known peers, their last-seen times, and active bans. The set persists the
// most recent addresses through the node's storage so a restart can rejoin
// the network without the bootstrap list.
package peer

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/quantanetwork/go-quanta/foundation/blockchain/database"
)

// maxStored bounds the number of peer addresses kept durably.
const maxStored = 1000

// storePrefix is the key space for persisted peer records.
const storePrefix = "p/"

// Peer represents information about a node in the network.
type Peer struct {
	Host     string `json:"host"`      // ip:port of the peer's network listener.
	LastSeen int64  `json:"last_seen"` // Unix seconds of the last successful exchange.
}

// New constructs a new peer value stamped now.
func New(host string) Peer {
	return Peer{
		Host:     host,
		LastSeen: time.Now().UTC().Unix(),
	}
}

// Match validates if the specified host matches this peer.
func (p Peer) Match(host string) bool {
	return p.Host == host
}

// =============================================================================

// PeerStatus represents information about the status of any given peer.
type PeerStatus struct {
	LatestBlockHash   string `json:"latest_block_hash"`
	LatestBlockHeight uint64 `json:"latest_block_height"`
	KnownPeers        []Peer `json:"known_peers"`
}

// =============================================================================

// PeerSet represents the data representation to maintain a set of known
// peers and bans.
type PeerSet struct {
	mu      sync.RWMutex
	set     map[string]Peer
	banned  map[string]time.Time
	storage database.Storage
}

// NewPeerSet constructs a new set to manage node peer information.
func NewPeerSet() *PeerSet {
	return &PeerSet{
		set:    make(map[string]Peer),
		banned: make(map[string]time.Time),
	}
}

// WithStorage attaches durable storage and loads previously known peers.
func (ps *PeerSet) WithStorage(storage database.Storage) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.storage = storage

	return storage.Iterate([]byte(storePrefix), func(key []byte, value []byte) error {
		var peer Peer
		if err := json.Unmarshal(value, &peer); err != nil {
			return nil // A bad record is dropped, not fatal.
		}
		ps.set[peer.Host] = peer
		return nil
	})
}

// Add adds a new peer to the set, refreshing its last-seen time, and
// reports whether it was previously unknown.
func (ps *PeerSet) Add(peer Peer) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if peer.Host == "" {
		return false
	}

	if peer.LastSeen == 0 {
		peer.LastSeen = time.Now().UTC().Unix()
	}

	_, exists := ps.set[peer.Host]
	ps.set[peer.Host] = peer

	ps.enforceCap()
	ps.persist(peer)

	return !exists
}

// Remove removes a peer from the set.
func (ps *PeerSet) Remove(host string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	delete(ps.set, host)

	if ps.storage != nil {
		ps.storage.WriteBatch(nil, [][]byte{[]byte(storePrefix + host)})
	}
}

// Copy returns a list of the known peers, excluding banned hosts.
func (ps *PeerSet) Copy(exclude ...string) []Peer {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	skip := make(map[string]struct{}, len(exclude))
	for _, host := range exclude {
		skip[host] = struct{}{}
	}

	var peers []Peer
	for host, peer := range ps.set {
		if _, excluded := skip[host]; excluded {
			continue
		}
		if until, banned := ps.banned[host]; banned && time.Now().Before(until) {
			continue
		}
		peers = append(peers, peer)
	}

	sort.Slice(peers, func(i, j int) bool { return peers[i].LastSeen > peers[j].LastSeen })

	return peers
}

// Count returns the number of known peers.
func (ps *PeerSet) Count() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	return len(ps.set)
}

// =============================================================================

// Ban blocks a host for the specified window and removes it from the set.
func (ps *PeerSet) Ban(host string, window time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.banned[host] = time.Now().Add(window)
	delete(ps.set, host)
}

// IsBanned reports whether a host is currently banned. Expired bans clear
// lazily.
func (ps *PeerSet) IsBanned(host string) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	until, exists := ps.banned[host]
	if !exists {
		return false
	}

	if time.Now().After(until) {
		delete(ps.banned, host)
		return false
	}

	return true
}

// =============================================================================

// enforceCap drops the stalest peers beyond the durable bound. Callers hold
// the lock.
func (ps *PeerSet) enforceCap() {
	if len(ps.set) <= maxStored {
		return
	}

	peers := make([]Peer, 0, len(ps.set))
	for _, peer := range ps.set {
		peers = append(peers, peer)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].LastSeen < peers[j].LastSeen })

	for _, peer := range peers[:len(peers)-maxStored] {
		delete(ps.set, peer.Host)
		if ps.storage != nil {
			ps.storage.WriteBatch(nil, [][]byte{[]byte(storePrefix + peer.Host)})
		}
	}
}

// persist writes one peer record durably. Callers hold the lock.
func (ps *PeerSet) persist(peer Peer) {
	if ps.storage == nil {
		return
	}

	data, err := json.Marshal(peer)
	if err != nil {
		return
	}

	ps.storage.WriteBatch([]database.KV{{Key: []byte(storePrefix + peer.Host), Value: data}}, nil)
}
