// Package worker implements the background workflows of the node: the
// mining loop, block and transaction gossip, periodic peer synchronization,
// and the mempool janitor. The worker registers itself with the state as
// its Worker implementation and bridges chain events into the network.
package worker

import (
	"sync"
	"time"

	"github.com/quantanetwork/go-quanta/foundation/blockchain/database"
	"github.com/quantanetwork/go-quanta/foundation/blockchain/p2p"
	"github.com/quantanetwork/go-quanta/foundation/blockchain/state"
)

// peerUpdateInterval represents the interval for polling peer heights and
// sweeping expired mempool entries.
const peerUpdateInterval = time.Minute

// maxTxShareRequests represents the max number of pending tx share
// requests that can be outstanding before share requests are dropped.
const maxTxShareRequests = 100

// maxBlockShareRequests bounds pending block gossip. Blocks matter more
// than transactions, so they have their own queue and goroutine and are
// never dropped for transaction traffic.
const maxBlockShareRequests = 10

// blockShare pairs a block with its gossip origin.
type blockShare struct {
	blockData database.BlockData
	origin    string
}

// txShare pairs a transaction with its gossip origin.
type txShare struct {
	tx     database.BlockTx
	origin string
}

// Worker manages the POW workflows for the blockchain.
type Worker struct {
	state        *state.State
	network      *p2p.Network
	wg           sync.WaitGroup
	ticker       *time.Ticker
	shut         chan struct{}
	startMining  chan bool
	cancelMining chan chan struct{}
	blockSharing chan blockShare
	txSharing    chan txShare
	evHandler    state.EventHandler
}

// Run creates a worker, registers it with the state, and starts all the
// background goroutines.
func Run(st *state.State, network *p2p.Network, evHandler state.EventHandler) *Worker {
	w := Worker{
		state:        st,
		network:      network,
		ticker:       time.NewTicker(peerUpdateInterval),
		shut:         make(chan struct{}),
		startMining:  make(chan bool, 1),
		cancelMining: make(chan chan struct{}, 1),
		blockSharing: make(chan blockShare, maxBlockShareRequests),
		txSharing:    make(chan txShare, maxTxShareRequests),
		evHandler:    evHandler,
	}

	// Register this worker to the state. During initialization the state
	// needs this access.
	st.Worker = &w

	// Load the set of operations needed to run.
	operations := []func(){
		w.syncOperations,
		w.miningOperations,
		w.shareBlockOperations,
		w.shareTxOperations,
	}

	g := len(operations)
	w.wg.Add(g)

	// Don't return until all the G's are up and running.
	hasStarted := make(chan bool)
	for _, op := range operations {
		go func(op func()) {
			defer w.wg.Done()
			hasStarted <- true
			op()
		}(op)
	}
	for i := 0; i < g; i++ {
		<-hasStarted
	}

	return &w
}

// Shutdown terminates the goroutines performing work.
func (w *Worker) Shutdown() {
	w.evHandler("worker: shutdown: started")
	defer w.evHandler("worker: shutdown: completed")

	w.ticker.Stop()

	done := w.SignalCancelMining()
	done()

	close(w.shut)
	w.wg.Wait()
}

// =============================================================================

// Sync asks the network for peer heights; a peer ahead of the local tip
// triggers a chain sync.
func (w *Worker) Sync() {
	w.network.PollHeights()
}

// SignalStartMining starts a mining operation. If there is already a signal
// pending in the channel, just return since a mining operation will start.
func (w *Worker) SignalStartMining() {
	select {
	case w.startMining <- true:
	default:
	}
	w.evHandler("worker: SignalStartMining: mining signaled")
}

// SignalCancelMining signals the G executing the runMiningOperation
// function to stop immediately. That G will not return from the function
// until done is called. This allows the caller to complete any state
// changes before a new mining operation takes place.
func (w *Worker) SignalCancelMining() (done func()) {
	wait := make(chan struct{})

	select {
	case w.cancelMining <- wait:
	default:
	}
	w.evHandler("worker: SignalCancelMining: cancel mining signaled")

	return func() { close(wait) }
}

// SignalShareBlock queues up a block gossip operation.
func (w *Worker) SignalShareBlock(blockData database.BlockData, origin string) {
	select {
	case w.blockSharing <- blockShare{blockData: blockData, origin: origin}:
		w.evHandler("worker: SignalShareBlock: share block signaled")
	default:
		w.evHandler("worker: SignalShareBlock: queue full, block won't be shared")
	}
}

// SignalShareTx queues up a transaction gossip operation. If the queue is
// full the transaction is not shared; transaction gossip is the first load
// to shed.
func (w *Worker) SignalShareTx(blockTx database.BlockTx, origin string) {
	select {
	case w.txSharing <- txShare{tx: blockTx, origin: origin}:
		w.evHandler("worker: SignalShareTx: share tx signaled")
	default:
		w.evHandler("worker: SignalShareTx: queue full, transaction won't be shared")
	}
}

// =============================================================================

// syncOperations polls peers and sweeps the mempool on the update tick.
func (w *Worker) syncOperations() {
	w.evHandler("worker: syncOperations: G started")
	defer w.evHandler("worker: syncOperations: G completed")

	for {
		select {
		case <-w.ticker.C:
			if w.isShutdown() {
				continue
			}
			w.network.PollHeights()

			if purged := w.state.PurgeExpiredTransactions(); purged > 0 {
				w.evHandler("worker: syncOperations: purged %d expired transactions", purged)
			}

		case <-w.shut:
			w.evHandler("worker: syncOperations: received shut signal")
			return
		}
	}
}

// shareBlockOperations handles gossiping new blocks.
func (w *Worker) shareBlockOperations() {
	w.evHandler("worker: shareBlockOperations: G started")
	defer w.evHandler("worker: shareBlockOperations: G completed")

	for {
		select {
		case share := <-w.blockSharing:
			if !w.isShutdown() {
				w.network.BroadcastBlock(share.blockData, share.origin)
			}
		case <-w.shut:
			w.evHandler("worker: shareBlockOperations: received shut signal")
			return
		}
	}
}

// shareTxOperations handles gossiping new transactions.
func (w *Worker) shareTxOperations() {
	w.evHandler("worker: shareTxOperations: G started")
	defer w.evHandler("worker: shareTxOperations: G completed")

	for {
		select {
		case share := <-w.txSharing:
			if !w.isShutdown() {
				w.network.BroadcastTx(share.tx, share.origin)
			}
		case <-w.shut:
			w.evHandler("worker: shareTxOperations: received shut signal")
			return
		}
	}
}

// isShutdown is used to test if a shutdown has been signaled.
func (w *Worker) isShutdown() bool {
	select {
	case <-w.shut:
		return true
	default:
		return false
	}
}
