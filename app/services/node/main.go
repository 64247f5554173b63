package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"go.uber.org/zap"

	"github.com/quantanetwork/go-quanta/app/services/node/handlers"
	"github.com/quantanetwork/go-quanta/foundation/blockchain/database"
	"github.com/quantanetwork/go-quanta/foundation/blockchain/database/storage/pebbledb"
	"github.com/quantanetwork/go-quanta/foundation/blockchain/genesis"
	"github.com/quantanetwork/go-quanta/foundation/blockchain/p2p"
	"github.com/quantanetwork/go-quanta/foundation/blockchain/peer"
	"github.com/quantanetwork/go-quanta/foundation/blockchain/state"
	"github.com/quantanetwork/go-quanta/foundation/blockchain/worker"
	"github.com/quantanetwork/go-quanta/foundation/config"
	"github.com/quantanetwork/go-quanta/foundation/events"
	"github.com/quantanetwork/go-quanta/foundation/logger"
	"github.com/quantanetwork/go-quanta/foundation/metrics"
)

// build is the git version of this program. It is set using build flags.
var build = "develop"

func main() {
	log, err := logger.New("NODE")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	cfg := struct {
		conf.Version
		Web struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:30s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
		}
		Node struct {
			ConfigFile  string `conf:"default:"`
			GenesisFile string `conf:"default:zblock/genesis.json"`
			APIHost     string `conf:"default:"`
			NetworkHost string `conf:"default:"`
			RPCHost     string `conf:"default:"`
			DBPath      string `conf:"default:"`
			Miner       string `conf:"default:"`
			Bootstrap   []string
			NoNetwork   bool `conf:"default:false"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "QUANTA node",
		},
	}

	const prefix = "QUANTA"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// The TOML file carries the defaults; flags and env override.
	fileCfg, err := config.Load(cfg.Node.ConfigFile)
	if err != nil {
		return err
	}

	apiHost := cfg.Node.APIHost
	if apiHost == "" {
		apiHost = fmt.Sprintf("0.0.0.0:%d", fileCfg.Node.APIPort)
	}
	networkHost := cfg.Node.NetworkHost
	if networkHost == "" {
		networkHost = fmt.Sprintf("0.0.0.0:%d", fileCfg.Node.NetworkPort)
	}
	rpcHost := cfg.Node.RPCHost
	if rpcHost == "" {
		rpcHost = fmt.Sprintf("127.0.0.1:%d", fileCfg.Node.RPCPort)
	}
	dbPath := cfg.Node.DBPath
	if dbPath == "" {
		dbPath = fileCfg.Node.DBPath
	}
	bootstrap := cfg.Node.Bootstrap
	if len(bootstrap) == 0 {
		bootstrap = fileCfg.Network.BootstrapNodes
	}
	noNetwork := cfg.Node.NoNetwork || fileCfg.Node.NoNetwork

	// =========================================================================
	// App Starting

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Blockchain Support

	gen, err := genesis.Load(cfg.Node.GenesisFile)
	if err != nil {
		log.Infow("startup", "status", "genesis file missing, using testnet parameters", "path", cfg.Node.GenesisFile)
		gen = genesis.TestNet()
	}

	strg, err := pebbledb.New(dbPath)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	peerSet := peer.NewPeerSet()
	if err := peerSet.WithStorage(strg); err != nil {
		return fmt.Errorf("load peer book: %w", err)
	}

	evts := events.New()
	ev := func(v string, args ...any) {
		s := fmt.Sprintf(v, args...)
		log.Infow(s, "traceid", "00000000-0000-0000-0000-000000000000")
		evts.Send(s)
	}

	var minerID database.AccountID
	if cfg.Node.Miner != "" {
		if minerID, err = database.ToAccountID(cfg.Node.Miner); err != nil {
			return fmt.Errorf("miner account: %w", err)
		}
	}

	st, err := state.New(state.Config{
		MinerID:        minerID,
		Genesis:        gen,
		Storage:        strg,
		MempoolMaxSize: fileCfg.Security.MaxMempoolSize,
		KnownPeers:     peerSet,
		EvHandler:      ev,
	})
	if err != nil {
		return err
	}
	defer st.Shutdown()

	magic := p2p.MagicTestnet
	if gen.Network == "mainnet" {
		magic = p2p.MagicMainnet
	}

	network, err := p2p.New(p2p.Config{
		State:     st,
		Host:      networkHost,
		Magic:     magic,
		UserAgent: "go-quanta/" + build,
		MaxPeers:  fileCfg.Network.MaxPeers,
		Bootstrap: bootstrap,
		DNSSeeds:  fileCfg.Network.DNSSeeds,
		EvHandler: ev,
	})
	if err != nil {
		return err
	}

	// The worker registers itself with the state and runs the mining,
	// gossip, and sync workflows.
	worker.Run(st, network, ev)

	if !noNetwork {
		if err := network.Start(); err != nil {
			return err
		}
		defer network.Shutdown()
	}

	if cfg.Node.Miner != "" {
		st.StartMining(minerID)
	}

	// =========================================================================
	// Service Start/Stop Support

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	// =========================================================================
	// Start API Services

	muxCfg := handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		State:    st,
		Evts:     evts,
		PeerInfo: network.ConnectedHosts,
		StopFn:   func() { shutdown <- syscall.SIGTERM },
	}

	api := http.Server{
		Addr:         apiHost,
		Handler:      handlers.PublicMux(muxCfg),
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	go func() {
		log.Infow("startup", "status", "api router started", "host", api.Addr)
		serverErrors <- api.ListenAndServe()
	}()

	rpc := http.Server{
		Addr:         rpcHost,
		Handler:      handlers.RPCMux(muxCfg),
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	go func() {
		log.Infow("startup", "status", "rpc router started", "host", rpc.Addr)
		serverErrors <- rpc.ListenAndServe()
	}()

	// =========================================================================
	// Metrics Support

	if fileCfg.Metrics.Enabled {
		mtr := metrics.New()

		go func() {
			ticker := time.NewTicker(5 * time.Second)
			defer ticker.Stop()
			for range ticker.C {
				mtr.TipHeight.Set(float64(st.RetrieveLatestBlock().Header.Height))
				mtr.MempoolDepth.Set(float64(st.QueryMempoolLength()))
				mtr.ConnectedPeers.Set(float64(network.PeerCount()))
				mtr.SupplyBurned.Set(float64(st.RetrieveSupply().Burned))
			}
		}()

		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", mtr.Handler())

		go func() {
			addr := fmt.Sprintf("0.0.0.0:%d", fileCfg.Metrics.Port)
			log.Infow("startup", "status", "metrics started", "host", addr)
			if err := http.ListenAndServe(addr, metricsMux); err != nil {
				log.Errorw("shutdown", "status", "metrics closed", "ERROR", err)
			}
		}()
	}

	// =========================================================================
	// Shutdown

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		log.Infow("shutdown", "status", "shutdown web socket channels")
		evts.Shutdown()

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := rpc.Shutdown(ctx); err != nil {
			rpc.Close()
		}
		if err := api.Shutdown(ctx); err != nil {
			api.Close()
			return fmt.Errorf("could not stop api gracefully: %w", err)
		}
	}

	return nil
}
