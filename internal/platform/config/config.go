package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// BlockInterval is the target chain's expected time between blocks. Gas
// predictions are never served staler than this.
const BlockInterval = 12 * time.Second

// TrustScoreTTL bounds how long a cached reputation score may be reused.
// Stale trust inside this window is an accepted tradeoff.
const TrustScoreTTL = 1 * time.Hour

// Config captures all process configuration. Loaded once in main and handed
// down by value; services never read the environment themselves.
type Config struct {
	Addr        string `validate:"required"`
	Environment string `validate:"oneof=development testnet production"`
	LogLevel    string

	// Ethereum mainnet, the prediction data source.
	EthRPCURL      string `validate:"required,url"`
	EthRPCFallback string `validate:"omitempty,url"`
	EthWSURL       string `validate:"omitempty,uri"`

	// Payment network (Base Sepolia in the reference deployment).
	PaymentRPCURL    string `validate:"required,url"`
	USDCAddress      string `validate:"required,eth_addr"`
	RecipientAddress string `validate:"required,eth_addr"`
	FacilitatorURL   string `validate:"required,url"`

	RedisURL string

	// Reputation backend: registry (on-chain), static (fixed table) or neutral.
	ReputationBackend string `validate:"oneof=registry static neutral"`
	RegistryAddress   string `validate:"omitempty,eth_addr"`

	// Per-endpoint base prices, in USD cents.
	GasPredictionPriceCents int64 `validate:"gt=0"`
	MEVPriceCents           int64 `validate:"gt=0"`

	// Outbound call bounds.
	VerifyTimeout time.Duration `validate:"gt=0"`
	ReportTimeout time.Duration `validate:"gt=0"`

	RateLimitPerSecond float64 `validate:"gt=0"`
	RateLimitBurst     int     `validate:"gt=0"`
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() (Config, error) {
	cfg := Config{
		Addr:        envOr("QGUARD_ADDR", ":8080"),
		Environment: envOr("ENVIRONMENT", "development"),
		LogLevel:    envOr("LOG_LEVEL", "info"),

		EthRPCURL:      os.Getenv("ETH_RPC_URL"),
		EthRPCFallback: os.Getenv("ETH_RPC_FALLBACK"),
		EthWSURL:       os.Getenv("ETH_WS_URL"),

		PaymentRPCURL:    os.Getenv("PAYMENT_RPC_URL"),
		USDCAddress:      os.Getenv("USDC_ADDRESS"),
		RecipientAddress: os.Getenv("RECIPIENT_ADDRESS"),
		FacilitatorURL:   os.Getenv("FACILITATOR_URL"),

		RedisURL: envOr("REDIS_URL", "redis://localhost:6379"),

		ReputationBackend: envOr("REPUTATION_BACKEND", "static"),
		RegistryAddress:   os.Getenv("REGISTRY_ADDRESS"),

		GasPredictionPriceCents: 1,
		MEVPriceCents:           10,

		VerifyTimeout: 10 * time.Second,
		ReportTimeout: 5 * time.Second,
	}

	var err error
	if cfg.RateLimitPerSecond, err = envFloat("RATE_LIMIT_PER_SECOND", 10); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitBurst, err = envInt("RATE_LIMIT_BURST", 30); err != nil {
		return Config{}, err
	}

	if cfg.ReputationBackend == "registry" && cfg.RegistryAddress == "" {
		return Config{}, fmt.Errorf("REGISTRY_ADDRESS required when REPUTATION_BACKEND=registry")
	}

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}
