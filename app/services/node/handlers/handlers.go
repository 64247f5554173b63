// Package handlers manages the different versions of the API.
package handlers

import (
	"context"
	"expvar"
	"net/http"
	"net/http/pprof"
	"os"

	"github.com/gorilla/mux"
	gorillarpc "github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"
	"go.uber.org/zap"

	"github.com/quantanetwork/go-quanta/app/services/node/handlers/v1/private"
	"github.com/quantanetwork/go-quanta/app/services/node/handlers/v1/public"
	"github.com/quantanetwork/go-quanta/business/web/v1/mid"
	"github.com/quantanetwork/go-quanta/foundation/blockchain/state"
	"github.com/quantanetwork/go-quanta/foundation/events"
	"github.com/quantanetwork/go-quanta/foundation/web"
)

// MuxConfig contains all the mandatory systems required by handlers.
type MuxConfig struct {
	Shutdown chan os.Signal
	Log      *zap.SugaredLogger
	State    *state.State
	Evts     *events.Events
	PeerInfo func() []string
	StopFn   func()
}

// PublicMux constructs a http.Handler with all public REST routes defined.
func PublicMux(cfg MuxConfig) http.Handler {
	app := web.NewApp(
		cfg.Shutdown,
		mid.Logger(cfg.Log),
		mid.Errors(cfg.Log),
		mid.Cors("*"),
		mid.Panics(),
	)

	// Accept CORS 'OPTIONS' preflight requests.
	h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		return nil
	}
	app.Handle(http.MethodOptions, "", "/*path", h)

	pbl := public.Handlers{
		Log:   cfg.Log,
		State: cfg.State,
		Evts:  cfg.Evts,
	}

	app.Handle(http.MethodGet, "", "/health", pbl.Health)
	app.Handle(http.MethodGet, "", "/api/stats", pbl.Stats)
	app.Handle(http.MethodPost, "", "/api/balance", pbl.Balance)
	app.Handle(http.MethodPost, "", "/api/transaction", pbl.SubmitTransaction)
	app.Handle(http.MethodGet, "", "/api/block/:height", pbl.Block)
	app.Handle(http.MethodGet, "", "/api/mempool", pbl.Mempool)
	app.Handle(http.MethodGet, "", "/api/peers", pbl.Peers)
	app.Handle(http.MethodPost, "", "/api/merkle/proof", pbl.MerkleProof)
	app.Handle(http.MethodGet, "", "/api/events", pbl.Events)

	return app
}

// RPCMux constructs the JSON-RPC 2.0 handler for node control.
func RPCMux(cfg MuxConfig) http.Handler {
	server := gorillarpc.NewServer()
	server.RegisterCodec(json2.NewCodec(), "application/json")
	server.RegisterService(&private.NodeService{
		Log:      cfg.Log,
		State:    cfg.State,
		PeerInfo: cfg.PeerInfo,
		StopFn:   cfg.StopFn,
	}, "node")

	router := mux.NewRouter()
	router.Handle("/rpc", private.RewriteMethod(server)).Methods(http.MethodPost)

	return router
}

// DebugMux registers all the debug standard library routes, bypassing the
// use of the DefaultServeMux. Using the DefaultServeMux would be a security
// risk since a dependency could inject a handler into our service without
// us knowing it.
func DebugMux() *http.ServeMux {
	debug := http.NewServeMux()

	debug.HandleFunc("/debug/pprof/", pprof.Index)
	debug.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	debug.HandleFunc("/debug/pprof/profile", pprof.Profile)
	debug.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	debug.HandleFunc("/debug/pprof/trace", pprof.Trace)
	debug.Handle("/debug/vars", expvar.Handler())

	return debug
}
