package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Reader is the subset of chain data access the gateway consumes. It is
// satisfied by *ethclient.Client; tests supply fakes.
type Reader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

var _ Reader = (*ethclient.Client)(nil)
var _ Reader = (*Client)(nil)

// Client reads chain data from a primary endpoint and retries each call once
// against an optional fallback endpoint when the primary fails.
type Client struct {
	primary  Reader
	fallback Reader // nil when not configured
	log      *slog.Logger
}

// Dial connects to the primary RPC endpoint and, when fallbackURL is
// non-empty, to the fallback as well.
func Dial(ctx context.Context, primaryURL, fallbackURL string, log *slog.Logger) (*Client, error) {
	primary, err := ethclient.DialContext(ctx, primaryURL)
	if err != nil {
		return nil, fmt.Errorf("dial primary rpc: %w", err)
	}

	var fallback Reader
	if fallbackURL != "" {
		fb, err := ethclient.DialContext(ctx, fallbackURL)
		if err != nil {
			return nil, fmt.Errorf("dial fallback rpc: %w", err)
		}
		fallback = fb
	}

	return NewClient(primary, fallback, log), nil
}

// NewClient wraps explicit readers; used directly by tests.
func NewClient(primary, fallback Reader, log *slog.Logger) *Client {
	return &Client{primary: primary, fallback: fallback, log: log}
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.primary.BlockNumber(ctx)
	if err != nil && c.fallback != nil {
		c.log.Warn("primary rpc failed, trying fallback", "call", "BlockNumber", "error", err)
		return c.fallback.BlockNumber(ctx)
	}
	return n, err
}

func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	h, err := c.primary.HeaderByNumber(ctx, number)
	if err != nil && c.fallback != nil {
		c.log.Warn("primary rpc failed, trying fallback", "call", "HeaderByNumber", "error", err)
		return c.fallback.HeaderByNumber(ctx, number)
	}
	return h, err
}

func (c *Client) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	tx, pending, err := c.primary.TransactionByHash(ctx, hash)
	if retryable(err) && c.fallback != nil {
		c.log.Warn("primary rpc failed, trying fallback", "call", "TransactionByHash", "error", err)
		return c.fallback.TransactionByHash(ctx, hash)
	}
	return tx, pending, err
}

func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	r, err := c.primary.TransactionReceipt(ctx, hash)
	if retryable(err) && c.fallback != nil {
		c.log.Warn("primary rpc failed, trying fallback", "call", "TransactionReceipt", "error", err)
		return c.fallback.TransactionReceipt(ctx, hash)
	}
	return r, err
}

// retryable reports whether an error is worth a fallback attempt. NotFound
// is a definitive answer about the hash, not an endpoint failure.
func retryable(err error) bool {
	return err != nil && !errors.Is(err, ethereum.NotFound)
}
