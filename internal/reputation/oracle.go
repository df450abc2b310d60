package reputation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"qguard/internal/cache"
)

// Quote is the price decision for one caller and endpoint. Amounts are USD
// cents; comparisons elsewhere stay in integers.
type Quote struct {
	BasePriceCents      int64  `json:"base_price_cents"`
	Score               uint64 `json:"score"`
	Tier                Tier   `json:"tier"`
	Multiplier          string `json:"multiplier"`
	EffectivePriceCents int64  `json:"effective_price_cents"`
	// Denied marks a sentinel quote: the caller is below the access floor
	// and must be rejected outright, never billed a higher price.
	Denied bool `json:"denied"`
}

// AmountUSD renders the effective price as a dollars string ("0.01") for
// payment challenges.
func (q Quote) AmountUSD() string {
	return decimal.NewFromInt(q.EffectivePriceCents).Div(decimal.NewFromInt(100)).StringFixed(2)
}

// Oracle resolves caller identities to trust scores and converts base prices
// into effective charges. It only ever reads trust state.
type Oracle struct {
	scorer Scorer
	cache  *cache.Tiered
	log    *slog.Logger
	ttl    time.Duration
}

// NewOracle builds an oracle over a pluggable score source. ttl bounds how
// long a resolved score is reused; entries are never invalidated early.
func NewOracle(scorer Scorer, c *cache.Tiered, log *slog.Logger, ttl time.Duration) *Oracle {
	return &Oracle{scorer: scorer, cache: c, log: log, ttl: ttl}
}

// Score resolves a caller to a trust score. A nil address is an anonymous
// caller and maps to the neutral score. Resolution order is cache, then the
// configured source, then the neutral default; every failure falls through
// rather than surfacing.
func (o *Oracle) Score(ctx context.Context, agent *common.Address) uint64 {
	if agent == nil {
		return NeutralScore
	}

	key := scoreCacheKey(*agent)
	var cached uint64
	if o.cache.GetJSON(ctx, key, &cached) {
		return cached
	}

	score, err := o.scorer.Score(ctx, *agent)
	if err != nil {
		o.log.Warn("score source failed, using neutral score",
			"agent", agent.Hex(), "error", err)
		return NeutralScore
	}

	if err := o.cache.SetJSON(ctx, key, score, o.ttl); err != nil {
		o.log.Warn("failed to cache trust score", "agent", agent.Hex(), "error", err)
	}
	return score
}

// Quote applies the tier table to a base price. Effective prices floor to
// the cent. A score below the access floor yields a denial sentinel.
func (o *Oracle) Quote(ctx context.Context, basePriceCents int64, agent *common.Address) Quote {
	score := o.Score(ctx, agent)
	tier := TierFor(score)

	if tier == TierDenied {
		return Quote{
			BasePriceCents: basePriceCents,
			Score:          score,
			Tier:           tier,
			Denied:         true,
		}
	}

	mult := multiplierFor(tier)
	effective := decimal.NewFromInt(basePriceCents).Mul(mult).Floor().IntPart()

	return Quote{
		BasePriceCents:      basePriceCents,
		Score:               score,
		Tier:                tier,
		Multiplier:          mult.String(),
		EffectivePriceCents: effective,
	}
}

func scoreCacheKey(agent common.Address) string {
	return fmt.Sprintf("reputation:score:%s", agent.Hex())
}
