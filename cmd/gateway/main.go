package main

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gatewaynetwork/go-txgateway/buildinfo"
	"github.com/gatewaynetwork/go-txgateway/internal/chains"
	"github.com/gatewaynetwork/go-txgateway/internal/router"
	"github.com/gatewaynetwork/go-txgateway/pkg/chainclient"
	"github.com/gatewaynetwork/go-txgateway/pkg/chainclient/evm"
	"github.com/gatewaynetwork/go-txgateway/pkg/confirmwatcher"
	confirmimpl "github.com/gatewaynetwork/go-txgateway/pkg/confirmwatcher/impl"
	"github.com/gatewaynetwork/go-txgateway/pkg/database"
	"github.com/gatewaynetwork/go-txgateway/pkg/gasprice"
	gasimpl "github.com/gatewaynetwork/go-txgateway/pkg/gasprice/impl"
	"github.com/gatewaynetwork/go-txgateway/pkg/logging"
	"github.com/gatewaynetwork/go-txgateway/pkg/metrics"
	nonceimpl "github.com/gatewaynetwork/go-txgateway/pkg/nonce/impl"
	pendingtximpl "github.com/gatewaynetwork/go-txgateway/pkg/pendingtx/impl"
	"github.com/gatewaynetwork/go-txgateway/pkg/wallet"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := setupConfig()
	logging.SetupLogger(buildinfo.GitCommit, cfg.Log.Debug, cfg.Log.Human)

	if err := metrics.SetupInstrumentation(":"+cfg.Metrics.Port, "txgateway"); err != nil {
		log.Fatal().Err(err).Str("port", cfg.Metrics.Port).Msg("could not setup instrumentation")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	db, err := database.Open(cfg.DB.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DB.Path).Msg("opening database")
	}

	registry := chains.NewRegistry()
	for _, chainCfg := range cfg.Chains {
		stack, err := buildChainStack(ctx, cfg, chainCfg, db)
		if err != nil {
			log.Fatal().Err(err).Str("chain", chainCfg.Name).Msg("building chain stack")
		}
		if err := registry.Register(stack); err != nil {
			log.Fatal().Err(err).Str("chain", chainCfg.Name).Msg("registering chain stack")
		}
		log.Info().
			Str("chain", chainCfg.Name).
			Str("network", chainCfg.Network).
			Int64("chainId", chainCfg.ChainID).
			Msg("chain stack ready")
	}

	rateLimInterval, err := time.ParseDuration(cfg.HTTP.RateLimInterval)
	if err != nil {
		log.Fatal().Err(err).Msgf("rate limit interval has invalid format: %s", cfg.HTTP.RateLimInterval)
	}
	httpRouter, err := router.ConfiguredRouter(cfg.HTTP.MaxRequestPerInterval, rateLimInterval, registry)
	if err != nil {
		log.Fatal().Err(err).Msg("configuring router")
	}

	server := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           httpRouter.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var group errgroup.Group
	group.Go(func() error {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			return fmt.Errorf("http server: %s", err)
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http server shutdown")
		}

		for _, stack := range registry.List() {
			if err := stack.Close(shutdownCtx); err != nil {
				log.Error().Err(err).Str("chain", stack.Chain).Msg("closing chain stack")
			}
		}
		if err := db.DB.Close(); err != nil {
			log.Error().Err(err).Msg("closing database")
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		log.Fatal().Err(err).Msg("daemon exited with error")
	}
	log.Info().Msg("daemon closed")
}

func buildChainStack(
	ctx context.Context,
	cfg *config,
	chainCfg ChainConfig,
	db *database.SQLiteDB,
) (*chains.ChainStack, error) {
	client, err := evm.Dial(chainCfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("connecting to endpoint: %s", err)
	}

	nonceManager := nonceimpl.NewLocalManager(chainCfg.Name, nonceimpl.NewNonceStore(db), client)

	var canceller chainclient.CancelBuilder
	if chainCfg.Signer.PrivateKey != "" {
		w, err := wallet.NewWallet(chainCfg.Signer.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("creating wallet: %s", err)
		}
		canceller = evm.NewCanceller(w, chainCfg.ChainID)

		// Fail hard at boot if the gateway wallet can't be reconciled; running
		// blind on nonce state is how double-allocations happen.
		if err := nonceManager.Reconcile(ctx, w.Hex()); err != nil {
			return nil, fmt.Errorf("reconciling gateway wallet: %s", err)
		}
	}

	oracleCfg, err := parseOracleConfig(chainCfg)
	if err != nil {
		return nil, fmt.Errorf("parsing gas price config: %s", err)
	}
	oracle := gasimpl.NewCachedOracle(chainCfg.Name, chainCfg.Network, client, oracleCfg)

	retention, err := time.ParseDuration(cfg.PendingTx.Retention)
	if err != nil {
		return nil, fmt.Errorf("retention has invalid format: %s", cfg.PendingTx.Retention)
	}
	durationLimit, err := time.ParseDuration(cfg.PendingTx.DurationLimit)
	if err != nil {
		return nil, fmt.Errorf("duration limit has invalid format: %s", cfg.PendingTx.DurationLimit)
	}
	pendingTxs := pendingtximpl.NewStore(db, retention)

	var watcher confirmwatcher.Watcher
	if chainCfg.WsEndpoint != "" {
		wsWatcher := confirmimpl.NewWSWatcher(chainCfg.Name, chainCfg.WsEndpoint, confirmwatcher.DefaultConfig())
		if err := wsWatcher.Connect(ctx); err != nil {
			// The gateway still works without live confirmations; callers fall
			// back to polling the status endpoint.
			log.Warn().Err(err).Str("chain", chainCfg.Name).Msg("confirmation watcher unavailable")
		} else {
			watcher = wsWatcher
		}
	}

	return &chains.ChainStack{
		Chain:         chainCfg.Name,
		Network:       chainCfg.Network,
		ChainID:       chainCfg.ChainID,
		Client:        client,
		Canceller:     canceller,
		NonceManager:  nonceManager,
		PendingTxs:    pendingTxs,
		GasOracle:     oracle,
		Watcher:       watcher,
		DurationLimit: durationLimit,
		Close: func(ctx context.Context) error {
			if watcher != nil {
				watcher.Close()
			}
			oracle.Close()
			pendingTxs.Close()
			return nil
		},
	}, nil
}

func parseOracleConfig(chainCfg ChainConfig) (gasprice.Config, error) {
	oracleCfg := gasprice.DefaultConfig()

	ttl, err := time.ParseDuration(chainCfg.GasPrice.TTL)
	if err != nil {
		return gasprice.Config{}, fmt.Errorf("ttl has invalid format: %s", chainCfg.GasPrice.TTL)
	}
	oracleCfg.TTL = ttl

	refreshInterval, err := time.ParseDuration(chainCfg.GasPrice.RefreshInterval)
	if err != nil {
		return gasprice.Config{}, fmt.Errorf("refresh interval has invalid format: %s", chainCfg.GasPrice.RefreshInterval)
	}
	oracleCfg.RefreshInterval = refreshInterval

	if chainCfg.GasPrice.Min != "" && chainCfg.GasPrice.Min != "0" {
		minGasPrice, ok := new(big.Int).SetString(chainCfg.GasPrice.Min, 10)
		if !ok {
			return gasprice.Config{}, fmt.Errorf("min gas price isn't a base-10 integer: %s", chainCfg.GasPrice.Min)
		}
		oracleCfg.MinGasPrice = minGasPrice
	}
	oracleCfg.AdjustmentPercent = chainCfg.GasPrice.AdjustmentPercent

	return oracleCfg, nil
}
