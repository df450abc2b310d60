// Command testagent exercises the gateway's payment loop end to end against
// a live deployment: it hits a paid endpoint, settles the 402 challenge with
// a real USDC transfer on the payment network, and resubmits with the proof.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"qguard/internal/payer"
	"qguard/internal/platform/logger"
)

const usdcDecimals = 6

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	baseURL := envOr("QGUARD_URL", "http://localhost:8080")
	endpoint := envOr("QGUARD_ENDPOINT", "/api/gas/prediction")
	rpcURL := os.Getenv("PAYMENT_RPC_URL")
	privateKey := os.Getenv("TEST_WALLET_PRIVATE_KEY")
	usdcAddress := os.Getenv("USDC_ADDRESS")
	if rpcURL == "" || privateKey == "" || usdcAddress == "" {
		return fmt.Errorf("PAYMENT_RPC_URL, TEST_WALLET_PRIVATE_KEY and USDC_ADDRESS must be set")
	}
	log := logger.New(envOr("LOG_LEVEL", "info"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return fmt.Errorf("dial payment rpc: %w", err)
	}
	defer ec.Close()

	chainID, err := ec.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("read chain id: %w", err)
	}

	client, err := payer.NewClient(ec, privateKey, common.HexToAddress(usdcAddress), usdcDecimals, chainID, log)
	if err != nil {
		return err
	}

	balance, err := client.Balance(ctx)
	if err != nil {
		return fmt.Errorf("read wallet balance: %w", err)
	}
	log.Info("wallet ready",
		"address", client.From().Hex(),
		"balance_usdc", decimal.NewFromBigInt(balance, -usdcDecimals).String(),
		"chain_id", chainID.String(),
	)

	log.Info("requesting paid endpoint", "url", baseURL+endpoint)
	data, err := payer.Fetch(ctx, &http.Client{Timeout: 2 * time.Minute}, baseURL, endpoint, client, log)
	if err != nil {
		return err
	}

	pretty, err := json.MarshalIndent(json.RawMessage(data), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(pretty))
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
