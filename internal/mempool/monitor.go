package mempool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// ringCapacity bounds how many pending transactions the monitor retains.
const ringCapacity = 100

const resubscribeDelay = 5 * time.Second

// Monitor follows the pending-transaction feed over a websocket endpoint and
// keeps a bounded ring of the most recently seen transactions. Writers evict
// the oldest entry at capacity; readers take a snapshot copy.
type Monitor struct {
	eth  *ethclient.Client
	geth *gethclient.Client
	log  *slog.Logger

	mu   sync.RWMutex
	ring []*types.Transaction
}

// Dial connects the monitor to a websocket RPC endpoint.
func Dial(ctx context.Context, wsURL string, log *slog.Logger) (*Monitor, error) {
	rc, err := rpc.DialContext(ctx, wsURL)
	if err != nil {
		return nil, fmt.Errorf("dial mempool websocket: %w", err)
	}
	return &Monitor{
		eth:  ethclient.NewClient(rc),
		geth: gethclient.New(rc),
		log:  log,
	}, nil
}

// Run subscribes to pending transactions until ctx is cancelled,
// resubscribing after feed errors.
func (m *Monitor) Run(ctx context.Context) {
	for {
		if err := m.follow(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			m.log.Warn("mempool subscription lost, reconnecting", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(resubscribeDelay):
		}
	}
}

func (m *Monitor) follow(ctx context.Context) error {
	hashes := make(chan common.Hash, 256)
	sub, err := m.geth.SubscribePendingTransactions(ctx, hashes)
	if err != nil {
		return fmt.Errorf("subscribe pending transactions: %w", err)
	}
	defer sub.Unsubscribe()

	m.log.Info("mempool monitoring started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return err
		case hash := <-hashes:
			tx, _, err := m.eth.TransactionByHash(ctx, hash)
			if err != nil || tx == nil {
				continue
			}
			m.add(tx)
		}
	}
}

// add appends a transaction, evicting the oldest entry at capacity.
func (m *Monitor) add(tx *types.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.ring) >= ringCapacity {
		m.ring = m.ring[1:]
	}
	m.ring = append(m.ring, tx)
}

// Snapshot returns a consistent copy of the currently retained transactions,
// oldest first.
func (m *Monitor) Snapshot() []*types.Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.Transaction, len(m.ring))
	copy(out, m.ring)
	return out
}
