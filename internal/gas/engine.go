package gas

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/singleflight"

	"qguard/internal/cache"
	"qguard/internal/chain"
	"qguard/internal/platform/metrics"
)

const (
	// snapshotKey is the single cache key all predictions live under.
	snapshotKey = "gas:prediction"

	// lookbackBlocks is how many recent blocks feed one prediction.
	lookbackBlocks = 20
	// minBlocks is the lower bound when the data source partially fails.
	minBlocks = 10

	// decayFactor weights each block 0.95x as much as the one after it.
	decayFactor = 0.95

	// priorityFeeGwei is the standard tip added on top of the base fee.
	priorityFeeGwei = 2.0

	gweiPerWei = 1e9
)

// Snapshot is one computed gas prediction. Served verbatim from cache until
// the block-interval TTL elapses.
type Snapshot struct {
	BaseFeeGwei     float64   `json:"base_fee_gwei"`
	PriorityFeeGwei float64   `json:"priority_fee_gwei"`
	MaxFeeGwei      float64   `json:"max_fee_gwei"`
	Confidence      float64   `json:"confidence"`
	BlockNumber     uint64    `json:"block_number"`
	PredictedAt     time.Time `json:"predicted_at"`
	NextBlockSecs   uint64    `json:"next_block_time_seconds"`
}

// Engine predicts near-term gas fees from recent finalized blocks.
type Engine struct {
	chain         chain.Reader
	cache         *cache.Tiered
	log           *slog.Logger
	met           *metrics.Metrics
	blockInterval time.Duration
	group         singleflight.Group
}

// NewEngine builds a prediction engine. blockInterval doubles as the
// snapshot TTL and the advertised next-block time.
func NewEngine(reader chain.Reader, c *cache.Tiered, log *slog.Logger, met *metrics.Metrics, blockInterval time.Duration) *Engine {
	return &Engine{
		chain:         reader,
		cache:         c,
		log:           log,
		met:           met,
		blockInterval: blockInterval,
	}
}

// Predict returns the current prediction, recomputing on cache miss. The
// second return reports whether the snapshot came from cache. Concurrent
// misses collapse into a single recomputation.
func (e *Engine) Predict(ctx context.Context) (Snapshot, bool, error) {
	var cached Snapshot
	if e.cache.GetJSON(ctx, snapshotKey, &cached) {
		return cached, true, nil
	}

	v, err, _ := e.group.Do(snapshotKey, func() (any, error) {
		// Another waiter may have populated the cache while we queued.
		var snap Snapshot
		if e.cache.GetJSON(ctx, snapshotKey, &snap) {
			return snap, nil
		}
		return e.compute(ctx)
	})
	if err != nil {
		return Snapshot{}, false, err
	}
	return v.(Snapshot), false, nil
}

func (e *Engine) compute(ctx context.Context) (Snapshot, error) {
	ctx, span := otel.Tracer("qguard/gas").Start(ctx, "engine.compute")
	defer span.End()

	latest, err := e.chain.BlockNumber(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("fetch latest block number: %w", err)
	}

	fees, err := e.fetchBaseFees(ctx, latest)
	if err != nil {
		return Snapshot{}, err
	}

	base := weightedMean(fees)
	snap := Snapshot{
		BaseFeeGwei:     base,
		PriorityFeeGwei: priorityFeeGwei,
		MaxFeeGwei:      base*1.2 + priorityFeeGwei,
		Confidence:      confidence(fees, base),
		BlockNumber:     latest,
		PredictedAt:     time.Now().UTC(),
		NextBlockSecs:   uint64(e.blockInterval / time.Second),
	}

	if err := e.cache.SetJSON(ctx, snapshotKey, snap, e.blockInterval); err != nil {
		e.log.Warn("failed to cache gas prediction", "error", err)
	}
	e.met.PredictionsComputed.Inc()

	e.log.Info("gas prediction computed",
		"base_fee_gwei", snap.BaseFeeGwei,
		"max_fee_gwei", snap.MaxFeeGwei,
		"confidence", snap.Confidence,
		"blocks", len(fees))
	return snap, nil
}

// fetchBaseFees pulls base fees for the lookback window, oldest first.
// Individual block failures are tolerated down to minBlocks.
func (e *Engine) fetchBaseFees(ctx context.Context, latest uint64) ([]float64, error) {
	start := uint64(0)
	if latest >= lookbackBlocks-1 {
		start = latest - (lookbackBlocks - 1)
	}

	fees := make([]float64, 0, lookbackBlocks)
	var failures int
	for n := start; n <= latest; n++ {
		header, err := e.chain.HeaderByNumber(ctx, new(big.Int).SetUint64(n))
		if err != nil || header == nil {
			failures++
			e.log.Warn("block header unavailable", "block", n, "error", err)
			continue
		}
		if header.BaseFee == nil {
			continue
		}
		fee, _ := new(big.Float).Quo(
			new(big.Float).SetInt(header.BaseFee),
			big.NewFloat(gweiPerWei),
		).Float64()
		fees = append(fees, fee)
	}

	if len(fees) < minBlocks {
		return nil, fmt.Errorf("insufficient chain data: %d of %d blocks available", len(fees), lookbackBlocks)
	}
	return fees, nil
}

// weightedMean applies exponential decay weights, most recent block (last
// element) weighted highest, normalized to sum to 1.
func weightedMean(fees []float64) float64 {
	n := len(fees)
	weights := make([]float64, n)
	var sum float64
	for i := range weights {
		w := math.Pow(decayFactor, float64(n-1-i))
		weights[i] = w
		sum += w
	}

	var mean float64
	for i, fee := range fees {
		mean += fee * (weights[i] / sum)
	}
	return mean
}

// confidence shrinks as base fees get noisier: 1/(1+stddev/mean), clamped to
// [0,1]. Defined as 0.5 with fewer than two samples.
func confidence(fees []float64, mean float64) float64 {
	if len(fees) < 2 {
		return 0.5
	}

	var variance float64
	for _, fee := range fees {
		d := fee - mean
		variance += d * d
	}
	variance /= float64(len(fees))

	// A zero mean would turn the ratio into 0/0. Zero fees with zero spread
	// are a perfectly confident estimate.
	if mean == 0 {
		if variance == 0 {
			return 1
		}
		return 0
	}

	c := 1.0 / (1.0 + math.Sqrt(variance)/mean)
	return math.Max(0, math.Min(1, c))
}
