// Package private maintains the JSON-RPC 2.0 surface for node control.
// It binds to localhost by default; the commands it carries can stop the
// node and steer mining.
package private

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/quantanetwork/go-quanta/foundation/blockchain/database"
	"github.com/quantanetwork/go-quanta/foundation/blockchain/state"
)

// Methods maps the published JSON-RPC method names onto the registered
// service methods. The rewrite keeps the wire names flat while the service
// stays an ordinary gorilla/rpc service.
var Methods = map[string]string{
	"node_status":   "node.Status",
	"mining_status": "node.MiningStatus",
	"start_mining":  "node.StartMining",
	"stop_mining":   "node.StopMining",
	"get_block":     "node.GetBlock",
	"get_balance":   "node.GetBalance",
	"get_peers":     "node.GetPeers",
	"stop":          "node.Stop",
}

// RewriteMethod translates a flat method name before the RPC server sees
// the request.
func RewriteMethod(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		r.Body.Close()

		var req map[string]json.RawMessage
		if err := json.Unmarshal(body, &req); err == nil {
			var method string
			if err := json.Unmarshal(req["method"], &method); err == nil {
				if target, exists := Methods[method]; exists {
					req["method"], _ = json.Marshal(target)
					body, _ = json.Marshal(req)
				}
			}
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		r.ContentLength = int64(len(body))
		next.ServeHTTP(w, r)
	})
}

// =============================================================================

// NodeService carries the RPC methods.
type NodeService struct {
	Log      *zap.SugaredLogger
	State    *state.State
	PeerInfo func() []string
	StopFn   func()
}

// StatusReply describes the node.
type StatusReply struct {
	Height         uint64 `json:"height"`
	TipHash        string `json:"tip_hash"`
	Difficulty     uint32 `json:"difficulty"`
	CumulativeWork string `json:"cumulative_work"`
	MempoolSize    int    `json:"mempool_size"`
	Peers          int    `json:"peers"`
	Mining         bool   `json:"mining"`
}

// Status implements node_status.
func (s *NodeService) Status(r *http.Request, args *struct{}, reply *StatusReply) error {
	latest := s.State.RetrieveLatestBlock()

	*reply = StatusReply{
		Height:         latest.Header.Height,
		TipHash:        latest.Hash().Hex(),
		Difficulty:     latest.Header.Difficulty,
		CumulativeWork: s.State.RetrieveCumulativeWork().String(),
		MempoolSize:    s.State.QueryMempoolLength(),
		Peers:          len(s.PeerInfo()),
		Mining:         s.State.IsMining(),
	}

	return nil
}

// MiningReply describes the miner.
type MiningReply struct {
	Mining bool   `json:"mining"`
	Miner  string `json:"miner"`
}

// MiningStatus implements mining_status.
func (s *NodeService) MiningStatus(r *http.Request, args *struct{}, reply *MiningReply) error {
	*reply = MiningReply{
		Mining: s.State.IsMining(),
		Miner:  s.State.MinerID().Hex(),
	}
	return nil
}

// StartMiningArgs names the beneficiary.
type StartMiningArgs struct {
	Address string `json:"address"`
}

// StartMining implements start_mining.
func (s *NodeService) StartMining(r *http.Request, args *StartMiningArgs, reply *MiningReply) error {
	accountID, err := database.ToAccountID(args.Address)
	if err != nil {
		return err
	}

	s.State.StartMining(accountID)

	*reply = MiningReply{Mining: true, Miner: accountID.Hex()}
	return nil
}

// StopMining implements stop_mining.
func (s *NodeService) StopMining(r *http.Request, args *struct{}, reply *MiningReply) error {
	s.State.StopMining()

	*reply = MiningReply{Mining: false, Miner: s.State.MinerID().Hex()}
	return nil
}

// GetBlockArgs selects a block by height.
type GetBlockArgs struct {
	Height uint64 `json:"height"`
}

// GetBlock implements get_block.
func (s *NodeService) GetBlock(r *http.Request, args *GetBlockArgs, reply *database.BlockData) error {
	block, err := s.State.QueryBlockByHeight(args.Height)
	if err != nil {
		return err
	}

	*reply = database.NewBlockData(block)
	return nil
}

// GetBalanceArgs selects an account.
type GetBalanceArgs struct {
	Address string `json:"address"`
}

// BalanceReply carries an account's spendable and locked funds.
type BalanceReply struct {
	Address string `json:"address"`
	Balance uint64 `json:"balance"`
	Nonce   uint64 `json:"nonce"`
	Locked  uint64 `json:"locked"`
}

// GetBalance implements get_balance.
func (s *NodeService) GetBalance(r *http.Request, args *GetBalanceArgs, reply *BalanceReply) error {
	accountID, err := database.ToAccountID(args.Address)
	if err != nil {
		return err
	}

	account, err := s.State.QueryAccount(accountID)
	if err != nil {
		return err
	}

	*reply = BalanceReply{
		Address: accountID.Hex(),
		Balance: account.Balance,
		Nonce:   account.Nonce,
		Locked:  account.Locked(),
	}
	return nil
}

// PeersReply lists connected peer hosts.
type PeersReply struct {
	Peers []string `json:"peers"`
}

// GetPeers implements get_peers.
func (s *NodeService) GetPeers(r *http.Request, args *struct{}, reply *PeersReply) error {
	reply.Peers = s.PeerInfo()
	return nil
}

// StopReply acknowledges a shutdown request.
type StopReply struct {
	Status string `json:"status"`
}

// Stop implements stop: a graceful shutdown of the node.
func (s *NodeService) Stop(r *http.Request, args *struct{}, reply *StopReply) error {
	s.Log.Infow("rpc", "status", "shutdown requested")
	go s.StopFn()

	reply.Status = "shutting down"
	return nil
}
