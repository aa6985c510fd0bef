// Command gateway runs the pay-per-crawl payment gateway: a reverse proxy
// that charges AI crawlers in USDC on Base before serving the publisher's
// content.
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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tachi-protocol/gateway/internal/chain"
	"github.com/tachi-protocol/gateway/internal/circuitbreaker"
	"github.com/tachi-protocol/gateway/internal/config"
	"github.com/tachi-protocol/gateway/internal/crawler"
	"github.com/tachi-protocol/gateway/internal/crawllog"
	"github.com/tachi-protocol/gateway/internal/gateway"
	"github.com/tachi-protocol/gateway/internal/heartbeat"
	"github.com/tachi-protocol/gateway/internal/httpserver"
	"github.com/tachi-protocol/gateway/internal/kvs"
	"github.com/tachi-protocol/gateway/internal/lifecycle"
	"github.com/tachi-protocol/gateway/internal/logger"
	"github.com/tachi-protocol/gateway/internal/metrics"
	"github.com/tachi-protocol/gateway/internal/proxy"
	"github.com/tachi-protocol/gateway/internal/ratelimit"
	"github.com/tachi-protocol/gateway/internal/replay"
	"github.com/tachi-protocol/gateway/internal/signer"
	"github.com/tachi-protocol/gateway/internal/version"
	"github.com/tachi-protocol/gateway/pkg/x402"
	"github.com/tachi-protocol/gateway/pkg/x402/evm"

	"github.com/ethereum/go-ethereum/common"
)

const shutdownGrace = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "gateway:", err)
		os.Exit(1)
	}
}

func run() error {
	// Missing .env is fine; containers inject the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "tachi-gateway",
		Version:     version.Version,
		Environment: cfg.Logging.Environment,
	})
	log.Info().
		Str("network", cfg.Chain.Network()).
		Str("price_usdc", cfg.Payment.PriceUSDC).
		Str("publisher", cfg.Payment.PublisherAddress).
		Msg("gateway.starting")

	resources := lifecycle.NewManager()
	defer func() {
		if err := resources.Close(); err != nil {
			log.Error().Err(err).Msg("gateway.cleanup_failed")
		}
	}()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	breakers := circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker)

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()

	store, err := newStore(startCtx, cfg.KVS)
	if err != nil {
		return fmt.Errorf("kvs: %w", err)
	}
	resources.Register("kvs", store)

	chainClient, err := chain.Dial(startCtx, cfg.Chain, breakers, m)
	if err != nil {
		return err
	}
	resources.RegisterFunc("chain", func() error {
		chainClient.Close()
		return nil
	})

	guard := replay.New(store, x402.UsedTxTTL)
	verifier := evm.New(chainClient, guard, evm.Config{
		USDCAddress:             cfg.Payment.USDCAddress,
		PaymentProcessorAddress: cfg.Payment.PaymentProcessorAddress,
		PriceBaseUnits:          cfg.Payment.PriceBaseUnits,
		VerifyBudget:            cfg.Chain.VerifyTimeout.Duration,
	}, m)

	classifier, err := crawler.New(cfg.Crawler.Patterns)
	if err != nil {
		return err
	}

	challenge := x402.Challenge{
		PriceUSDC:       cfg.Payment.PriceUSDC,
		PriceBaseUnits:  cfg.Payment.PriceBaseUnits,
		Network:         cfg.Chain.Network(),
		ChainID:         cfg.Chain.ChainID,
		Recipient:       cfg.Payment.PaymentProcessorAddress,
		TokenAddress:    cfg.Payment.USDCAddress,
		CrawlNFTAddress: cfg.Payment.CrawlNFTAddress,
		TokenID:         cfg.Payment.CrawlTokenID,
	}

	var crawlLog gateway.CrawlLogger = gateway.NoopCrawlLogger{}
	if cfg.CrawlLog.Enabled {
		s, err := signer.New(cfg.Chain.WorkerPrivateKey, cfg.Chain.ChainID)
		if err != nil {
			return err
		}
		log.Info().Str("worker", s.Address().Hex()).Msg("gateway.crawl_logging_enabled")

		ledger, err := crawllog.New(chainClient, s, crawllog.Config{
			LedgerAddress:  common.HexToAddress(cfg.Payment.ProofOfCrawlLedgerAddress),
			ChainID:        cfg.Chain.ChainID,
			QueueSize:      cfg.CrawlLog.QueueSize,
			MaxRetries:     cfg.CrawlLog.MaxRetries,
			AttemptTimeout: cfg.CrawlLog.AttemptTimeout.Duration,
			GasLimit:       cfg.CrawlLog.GasLimit,
		}, m, log)
		if err != nil {
			return err
		}
		resources.RegisterFunc("crawllog", func() error {
			drainCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			return ledger.Close(drainCtx)
		})
		crawlLog = ledger
	}

	origin, err := newOrigin(cfg, breakers, m)
	if err != nil {
		return fmt.Errorf("origin: %w", err)
	}

	tokenID, ok := new(big.Int).SetString(cfg.Payment.CrawlTokenID, 10)
	if !ok {
		return fmt.Errorf("invalid crawl token id %q", cfg.Payment.CrawlTokenID)
	}

	pipeline := gateway.New(classifier, challenge, verifier, guard, crawlLog, origin, tokenID,
		cfg.Server.RequestTimeout.Duration, m)
	health := gateway.NewHealth(chainClient, store, breakers, cfg.Chain.Network(), cfg.Logging.Environment)
	perIP := ratelimit.New(store, cfg.RateLimit.PerIPLimit, cfg.RateLimit.PerIPWindow.Duration, cfg.RateLimit.CounterTTL.Duration, m)

	if cfg.Monitoring.HeartbeatURL != "" {
		monitor := heartbeat.New(
			cfg.Monitoring.HeartbeatURL,
			cfg.Monitoring.PingInterval.Duration,
			cfg.Monitoring.Timeout.Duration,
			breakers,
			log,
		)
		monitor.Start()
		resources.Register("heartbeat", monitor)
	}

	server := httpserver.New(httpserver.Options{
		Config:   cfg,
		Logger:   log,
		Metrics:  m,
		Registry: registry,
		Pipeline: pipeline,
		Health:   health,
		PerIP:    perIP,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("gateway.signal_received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("gateway.shutdown_incomplete")
	}
	return nil
}

// newStore selects the KVS backend. Memory serves single-instance
// deployments; MongoDB shares replay and rate state across instances.
func newStore(ctx context.Context, cfg config.KVSConfig) (kvs.Store, error) {
	switch cfg.Backend {
	case "mongodb":
		return kvs.NewMongoStore(ctx, cfg.MongoDBURL, cfg.MongoDBDatabase)
	default:
		return kvs.NewMemoryStore(), nil
	}
}

// newOrigin picks the real forwarder or the built-in stub.
func newOrigin(cfg *config.Config, breakers *circuitbreaker.Manager, m *metrics.Metrics) (http.Handler, error) {
	if cfg.Proxy.OriginURL == "" {
		return proxy.NewStub(cfg.Payment.PublisherAddress), nil
	}
	return proxy.New(cfg.Proxy.OriginURL, cfg.Proxy.ForwardTimeout.Duration, breakers, m)
}
