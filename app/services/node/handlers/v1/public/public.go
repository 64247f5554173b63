// Package public maintains the group of handlers for public REST access.
package public

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	v1 "github.com/quantanetwork/go-quanta/business/web/v1"
	"github.com/quantanetwork/go-quanta/foundation/blockchain/database"
	"github.com/quantanetwork/go-quanta/foundation/blockchain/state"
	"github.com/quantanetwork/go-quanta/foundation/events"
	"github.com/quantanetwork/go-quanta/foundation/web"
)

// Handlers manages the set of public endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
	WS    websocket.Upgrader
	Evts  *events.Events
}

// Health responds with the node liveness and tip.
func (h Handlers) Health(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	latest := h.State.RetrieveLatestBlock()

	resp := struct {
		Status string `json:"status"`
		Height uint64 `json:"height"`
		Hash   string `json:"hash"`
	}{
		Status: "ok",
		Height: latest.Header.Height,
		Hash:   latest.Hash().Hex(),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Stats responds with chain and supply statistics.
func (h Handlers) Stats(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	latest := h.State.RetrieveLatestBlock()
	supply := h.State.RetrieveSupply()

	resp := stats{
		Height:         latest.Header.Height,
		TipHash:        latest.Hash().Hex(),
		Difficulty:     latest.Header.Difficulty,
		CumulativeWork: h.State.RetrieveCumulativeWork().String(),
		Supply:         supply,
		MempoolSize:    h.State.QueryMempoolLength(),
		KnownPeers:     len(h.State.RetrieveKnownPeers()),
		Mining:         h.State.IsMining(),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Balance returns the balance, nonce, and locks for an account.
func (h Handlers) Balance(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req balanceRequest
	if err := web.Decode(r, &req); err != nil {
		return v1.NewRequestError(err, http.StatusBadRequest)
	}

	accountID, err := database.ToAccountID(req.Address)
	if err != nil {
		return v1.NewRequestError(err, http.StatusBadRequest)
	}

	account, err := h.State.QueryAccount(accountID)
	if err != nil {
		return v1.NewRequestError(err, http.StatusNotFound)
	}

	resp := balanceResponse{
		Address: accountID.Hex(),
		Balance: account.Balance,
		Nonce:   account.Nonce,
		Locked:  account.Locked(),
		Locks:   account.Locks,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// SubmitTransaction adds a signed transaction to the mempool.
func (h Handlers) SubmitTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var signedTx database.SignedTx
	if err := web.Decode(r, &signedTx); err != nil {
		return v1.NewRequestError(err, http.StatusBadRequest)
	}

	h.Log.Infow("add user tran", "traceid", v.TraceID, "from:nonce", signedTx, "to", signedTx.ToID, "value", signedTx.Value, "fee", signedTx.Fee)

	if err := h.State.SubmitWalletTransaction(signedTx); err != nil {
		return v1.NewRequestError(err, http.StatusBadRequest)
	}

	resp := struct {
		Status string `json:"status"`
	}{
		Status: "transaction added to mempool",
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Block returns the block at the requested height.
func (h Handlers) Block(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	heightStr := web.Param(r, "height")

	var height uint64
	switch heightStr {
	case "latest", "":
		height = state.QueryLatest
	default:
		parsed, err := strconv.ParseUint(heightStr, 10, 64)
		if err != nil {
			return v1.NewRequestError(err, http.StatusBadRequest)
		}
		height = parsed
	}

	block, err := h.State.QueryBlockByHeight(height)
	if err != nil {
		return v1.NewRequestError(err, http.StatusNotFound)
	}

	return web.Respond(ctx, w, database.NewBlockData(block), http.StatusOK)
}

// Mempool returns the set of uncommitted transactions.
func (h Handlers) Mempool(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	pool := h.State.RetrieveMempool()

	trans := make([]tx, 0, len(pool))
	for _, tran := range pool {
		hash, _ := tran.TxHash()
		trans = append(trans, tx{
			TxHash:    hash.Hex(),
			From:      tran.FromID.Hex(),
			To:        tran.ToID.Hex(),
			Value:     tran.Value,
			Fee:       tran.Fee,
			Nonce:     tran.Nonce,
			Timestamp: tran.Timestamp,
		})
	}

	return web.Respond(ctx, w, trans, http.StatusOK)
}

// Peers returns the known peer list.
func (h Handlers) Peers(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.State.RetrieveKnownPeers(), http.StatusOK)
}

// MerkleProof produces an inclusion proof for a committed transaction.
func (h Handlers) MerkleProof(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req proofRequest
	if err := web.Decode(r, &req); err != nil {
		return v1.NewRequestError(err, http.StatusBadRequest)
	}

	proof, err := h.State.QueryTxProof(common.HexToHash(req.TxHash))
	if err != nil {
		return v1.NewRequestError(err, http.StatusNotFound)
	}

	return web.Respond(ctx, w, proof, http.StatusOK)
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	ch := h.Evts.Acquire(v.TraceID)
	defer h.Evts.Release(v.TraceID)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, wd := <-ch:
			if !wd {
				return nil
			}

			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return err
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}
