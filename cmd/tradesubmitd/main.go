package main

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/textileio/go-tradesubmit/buildinfo"
	"github.com/textileio/go-tradesubmit/internal/router"
	"github.com/textileio/go-tradesubmit/pkg/contract"
	"github.com/textileio/go-tradesubmit/pkg/database"
	"github.com/textileio/go-tradesubmit/pkg/fees"
	feesimpl "github.com/textileio/go-tradesubmit/pkg/fees/impl"
	ledgerimpl "github.com/textileio/go-tradesubmit/pkg/ledger/impl"
	"github.com/textileio/go-tradesubmit/pkg/logging"
	"github.com/textileio/go-tradesubmit/pkg/metrics"
	nonceimpl "github.com/textileio/go-tradesubmit/pkg/nonce/impl"
	"github.com/textileio/go-tradesubmit/pkg/pipeline"
	pipelineimpl "github.com/textileio/go-tradesubmit/pkg/pipeline/impl"
	"github.com/textileio/go-tradesubmit/pkg/txn"
	"github.com/textileio/go-tradesubmit/pkg/wallet"
	"github.com/textileio/go-tradesubmit/pkg/watcher"
	watcherimpl "github.com/textileio/go-tradesubmit/pkg/watcher/impl"
	"go.opentelemetry.io/otel/attribute"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = godotenv.Load()
	_ = godotenv.Overload(".env.local")

	cfg := setupConfig()
	logging.SetupLogger(buildinfo.GitCommit, cfg.Log.Debug, cfg.Log.Human)

	durations, err := cfg.durations()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	maxFeeCap, err := cfg.maxFeeCap()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	metricsServer, err := metrics.SetupInstrumentation(":"+cfg.Metrics.Port, "tradesubmit")
	if err != nil {
		log.Fatal().Err(err).Str("port", cfg.Metrics.Port).Msg("could not setup instrumentation")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	conn, err := ethclient.DialContext(ctx, cfg.Chain.EthEndpoint)
	if err != nil {
		log.Fatal().Err(err).Str("endpoint", cfg.Chain.EthEndpoint).Msg("failed to connect to ethereum endpoint")
	}
	remoteChainID, err := conn.ChainID(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("getting chain id from endpoint")
	}
	if remoteChainID.Int64() != cfg.Chain.ID {
		log.Fatal().
			Int64("configured", cfg.Chain.ID).
			Int64("remote", remoteChainID.Int64()).
			Msg("chain id mismatch")
	}

	throttled, err := ledgerimpl.NewThrottledLedger(
		ledgerimpl.NewEthLedger(conn),
		cfg.Chain.MaxCallsPerInterval,
		durations.callsInterval,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("creating throttled ledger")
	}
	l, err := ledgerimpl.NewInstrumentedLedger(throttled, cfg.Chain.ID)
	if err != nil {
		log.Fatal().Err(err).Msg("instrumenting ledger")
	}

	sqliteDB, err := database.Open(cfg.DB.Path, attribute.Int64("chain_id", cfg.Chain.ID))
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DB.Path).Msg("opening database")
	}

	allocator, err := nonceimpl.NewLocalAllocator(ctx, cfg.Chain.ID, l, nonceimpl.NewNonceStore(sqliteDB, cfg.Chain.ID))
	if err != nil {
		log.Fatal().Err(err).Msg("creating nonce allocator")
	}

	feeOpts := []fees.Option{
		fees.WithTierPercents(cfg.Fees.SlowPercent, cfg.Fees.NormalPercent, cfg.Fees.FastPercent),
		fees.WithBumpPercent(cfg.Fees.BumpPercent),
	}
	if maxFeeCap != nil {
		feeOpts = append(feeOpts, fees.WithMaxFeeCap(maxFeeCap))
	}
	estimator, err := feesimpl.NewEstimator(l, feeOpts...)
	if err != nil {
		log.Fatal().Err(err).Msg("creating fee estimator")
	}

	keyring, err := wallet.NewKeyringFromHex(cfg.privateKeys()...)
	if err != nil {
		log.Fatal().Err(err).Msg("loading signing keys")
	}
	log.Info().Strs("key_refs", keyring.KeyRefs()).Msg("signing keys loaded")

	w, err := watcherimpl.NewPollingWatcher(l,
		watcher.WithPollInterval(durations.pollInterval),
		watcher.WithGracePeriod(durations.gracePeriod),
		watcher.WithRequiredDepth(cfg.Watcher.RequiredDepth),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("creating watcher")
	}

	p, err := pipelineimpl.NewPipeline(
		txn.NewBuilder(big.NewInt(cfg.Chain.ID), cfg.Fees.GasLimit),
		allocator,
		estimator,
		l,
		keyring,
		w,
		pipelineimpl.NewRecordStore(sqliteDB, cfg.Chain.ID),
		pipeline.WithBroadcastRetries(
			cfg.Pipeline.BroadcastAttempts,
			durations.broadcastBackoff,
			durations.maxBroadcastBackoff,
		),
		pipeline.WithMaxRebids(cfg.Pipeline.MaxRebids),
		pipeline.WithMaxNonceRetries(cfg.Pipeline.MaxNonceRetries),
		pipeline.WithDefaultDeadline(durations.defaultDeadline),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("creating pipeline")
	}
	if err := p.Recover(ctx); err != nil {
		log.Fatal().Err(err).Msg("recovering open records")
	}

	var contractABI *abi.ABI
	if cfg.Contract.ABIPath != "" {
		parsed, err := contract.LoadABI(cfg.Contract.ABIPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Contract.ABIPath).Msg("loading contract abi")
		}
		contractABI = &parsed
	}

	r, err := router.ConfiguredRouter(p, contractABI, cfg.HTTP.MaxRequestPerInterval, durations.rateLimInterval)
	if err != nil {
		log.Fatal().Err(err).Msg("configuring router")
	}
	server := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("port", cfg.HTTP.Port).Msg("serving trade api")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("serving trade api")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutting down trade api")
	}
	p.Close()
	w.Close()
	keyring.Close()
	if err := throttled.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("closing throttled ledger")
	}
	if err := sqliteDB.Close(); err != nil {
		log.Error().Err(err).Msg("closing database")
	}
	conn.Close()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutting down metrics server")
	}
	log.Info().Msg("shutdown complete")
}
