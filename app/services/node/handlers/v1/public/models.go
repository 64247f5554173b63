package public

import "github.com/quantanetwork/go-quanta/foundation/blockchain/database"

// stats is the /api/stats response.
type stats struct {
	Height         uint64                `json:"height"`
	TipHash        string                `json:"tip_hash"`
	Difficulty     uint32                `json:"difficulty"`
	CumulativeWork string                `json:"cumulative_work"`
	Supply         database.SupplyTotals `json:"supply"`
	MempoolSize    int                   `json:"mempool_size"`
	KnownPeers     int                   `json:"known_peers"`
	Mining         bool                  `json:"mining"`
}

// balanceRequest is the /api/balance request.
type balanceRequest struct {
	Address string `json:"address" validate:"required"`
}

// balanceResponse is the /api/balance response.
type balanceResponse struct {
	Address string          `json:"address"`
	Balance uint64          `json:"balance"`
	Nonce   uint64          `json:"nonce"`
	Locked  uint64          `json:"locked"`
	Locks   []database.Lock `json:"locks,omitempty"`
}

// proofRequest is the /api/merkle/proof request.
type proofRequest struct {
	TxHash string `json:"tx_hash" validate:"required"`
}

// tx is a mempool entry in API form.
type tx struct {
	TxHash    string `json:"tx_hash"`
	From      string `json:"from"`
	To        string `json:"to"`
	Value     uint64 `json:"value"`
	Fee       uint64 `json:"fee"`
	Nonce     uint64 `json:"nonce"`
	Timestamp int64  `json:"timestamp"`
}
