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

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"qguard/internal/analytics"
	"qguard/internal/cache"
	"qguard/internal/chain"
	"qguard/internal/gas"
	"qguard/internal/mempool"
	"qguard/internal/payment"
	"qguard/internal/platform/config"
	"qguard/internal/platform/httpserver"
	"qguard/internal/platform/logger"
	"qguard/internal/platform/metrics"
	platformredis "qguard/internal/platform/redis"
	"qguard/internal/ratelimit"
	"qguard/internal/reputation"
	httptransport "qguard/internal/transport/http"
)

const version = "1.0.0"

// main wires dependencies and owns the process lifecycle. Business logic
// lives in the internal services packages.
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel)
	met := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Redis is optional: without it the gateway runs on the in-process cache
	// tier alone and loses cross-restart counters.
	var tiered *cache.Tiered
	switch rdb, err := platformredis.New(cfg.RedisURL); {
	case err != nil:
		log.Warn("redis unavailable, running on in-process cache only", "error", err)
		tiered = cache.New(nil, log, met)
	case rdb == nil:
		tiered = cache.New(nil, log, met)
	default:
		defer rdb.Close()
		tiered = cache.New(rdb.Client, log, met)
	}

	ethChain, err := chain.Dial(ctx, cfg.EthRPCURL, cfg.EthRPCFallback, log)
	if err != nil {
		return fmt.Errorf("dial ethereum rpc: %w", err)
	}
	paymentChain, err := chain.Dial(ctx, cfg.PaymentRPCURL, "", log)
	if err != nil {
		return fmt.Errorf("dial payment rpc: %w", err)
	}

	scorer, err := buildScorer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("reputation backend: %w", err)
	}
	oracle := reputation.NewOracle(scorer, tiered, log, config.TrustScoreTTL)

	reporter := payment.NewReporter(cfg.FacilitatorURL, cfg.ReportTimeout, log)
	defer reporter.Close()

	gate := payment.NewGate(
		paymentChain,
		payment.Asset{
			Address:  common.HexToAddress(cfg.USDCAddress),
			Symbol:   "USDC",
			Decimals: 6,
			Chain:    paymentChainName(cfg.Environment),
		},
		common.HexToAddress(cfg.RecipientAddress),
		cfg.FacilitatorURL,
		reporter,
		log,
		met,
		cfg.VerifyTimeout,
	)

	engine := gas.NewEngine(ethChain, tiered, log, met, config.BlockInterval)

	var monitor *mempool.Monitor
	if cfg.EthWSURL != "" {
		monitor, err = mempool.Dial(ctx, cfg.EthWSURL, log)
		if err != nil {
			log.Warn("mempool subscription unavailable", "error", err)
		} else {
			go monitor.Run(ctx)
		}
	}

	limiter := ratelimit.New(cfg.RateLimitPerSecond, cfg.RateLimitBurst, log)
	defer limiter.Close()

	handler := httptransport.NewHandler(httptransport.Deps{
		Log:           log,
		Cache:         tiered,
		Chain:         ethChain,
		Gas:           engine,
		Monitor:       monitor,
		Detector:      mempool.NewDetector(),
		Analytics:     analytics.New(tiered, log, met),
		Payment:       payment.NewMiddleware(gate, oracle),
		Limiter:       limiter,
		Version:       version,
		GasPriceCents: cfg.GasPredictionPriceCents,
		MEVPriceCents: cfg.MEVPriceCents,
	})

	srv := httpserver.New(cfg.Addr, handler.Router())

	errCh := make(chan error, 1)
	go func() {
		log.Info("gateway listening", "addr", cfg.Addr, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildScorer selects the reputation source. The registry backend needs its
// own client handle: contract calls go through bind, not the failover reader.
func buildScorer(ctx context.Context, cfg config.Config) (reputation.Scorer, error) {
	switch cfg.ReputationBackend {
	case "registry":
		ec, err := ethclient.DialContext(ctx, cfg.PaymentRPCURL)
		if err != nil {
			return nil, err
		}
		return reputation.NewRegistryScorer(common.HexToAddress(cfg.RegistryAddress), ec)
	case "static":
		return reputation.NewStaticScorer(nil), nil
	default:
		return reputation.NeutralScorer{}, nil
	}
}

func paymentChainName(environment string) string {
	if environment == "production" {
		return "base"
	}
	return "base-sepolia"
}
