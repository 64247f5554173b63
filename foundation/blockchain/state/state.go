// Package state is the core API for the blockchain and implements all the
// business rules and processing.
package state

import (
	"sync"

	"github.com/quantanetwork/go-quanta/foundation/blockchain/database"
	"github.com/quantanetwork/go-quanta/foundation/blockchain/genesis"
	"github.com/quantanetwork/go-quanta/foundation/blockchain/mempool"
	"github.com/quantanetwork/go-quanta/foundation/blockchain/mempool/selector"
	"github.com/quantanetwork/go-quanta/foundation/blockchain/peer"
)

// EventHandler defines a function that is called when events occur in the
// processing of persisting blocks.
type EventHandler func(v string, args ...any)

// Worker interface represents the behavior required to be implemented by
// any package providing support for mining, block and transaction gossip,
// and chain synchronization.
type Worker interface {
	Shutdown()
	Sync()
	SignalStartMining()
	SignalCancelMining() (done func())
	SignalShareTx(blockTx database.BlockTx, origin string)
	SignalShareBlock(blockData database.BlockData, origin string)
}

// =============================================================================

// Config represents the configuration required to start the blockchain
// node.
type Config struct {
	MinerID        database.AccountID
	Genesis        genesis.Genesis
	Storage        database.Storage
	SelectStrategy string
	MempoolMaxSize int
	KnownPeers     *peer.PeerSet
	EvHandler      EventHandler
}

// State manages the blockchain database. All chain mutations serialize
// through a single mutex; reads work against consistent snapshots.
type State struct {
	mu sync.Mutex

	minerID     database.AccountID
	evHandler   EventHandler
	allowMining bool

	genesis    genesis.Genesis
	knownPeers *peer.PeerSet
	mempool    *mempool.Mempool
	db         *database.Database

	Worker Worker
}

// New constructs a new blockchain for data management.
func New(cfg Config) (*State, error) {
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	db, err := database.New(cfg.Genesis, cfg.Storage, database.EventHandler(ev))
	if err != nil {
		return nil, err
	}

	strategy := cfg.SelectStrategy
	if strategy == "" {
		strategy = selector.StrategyFee
	}

	mpool, err := mempool.NewWithStrategy(strategy, cfg.MempoolMaxSize)
	if err != nil {
		return nil, err
	}

	knownPeers := cfg.KnownPeers
	if knownPeers == nil {
		knownPeers = peer.NewPeerSet()
	}

	state := State{
		minerID:    cfg.MinerID,
		evHandler:  ev,
		genesis:    cfg.Genesis,
		knownPeers: knownPeers,
		mempool:    mpool,
		db:         db,
	}

	// The Worker is not set here. The call to worker.Run will assign itself
	// and start everything up and running for the node.

	return &state, nil
}

// Shutdown cleanly brings the node down.
func (s *State) Shutdown() error {

	// Make sure the database is properly closed last.
	defer s.db.Close()

	// Stop all blockchain writing activity.
	if s.Worker != nil {
		s.Worker.Shutdown()
	}

	return nil
}

// =============================================================================

// StartMining turns the mining workflow on for the specified beneficiary.
func (s *State) StartMining(minerID database.AccountID) {
	s.mu.Lock()
	s.minerID = minerID
	s.allowMining = true
	s.mu.Unlock()

	s.evHandler("state: StartMining: miner[%s]", minerID)
	s.Worker.SignalStartMining()
}

// StopMining turns the mining workflow off.
func (s *State) StopMining() {
	s.mu.Lock()
	s.allowMining = false
	s.mu.Unlock()

	s.evHandler("state: StopMining")
	done := s.Worker.SignalCancelMining()
	done()
}

// IsMining reports whether the mining workflow is on.
func (s *State) IsMining() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.allowMining
}

// MinerID returns the current mining beneficiary.
func (s *State) MinerID() database.AccountID {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.minerID
}
