package reputation

import "github.com/shopspring/decimal"

// Tier is one of four price bands derived from an integer trust score.
type Tier string

const (
	TierDenied     Tier = "denied"
	TierStandard   Tier = "standard"
	TierDiscounted Tier = "discounted"
	TierPreferred  Tier = "preferred"
)

// Score boundaries. The partition is exact: 99 is denied, 100 and 500 are
// standard, 501 and 1000 are discounted, 1001 is preferred.
const (
	// MinScore is the access floor; callers below it are denied outright.
	MinScore = 100
	// NeutralScore is assigned to anonymous callers and used as the default
	// when every score source fails.
	NeutralScore = 100

	standardMax = 500
	discountMax = 1000
)

var (
	multiplierStandard   = decimal.NewFromInt(1)
	multiplierDiscounted = decimal.RequireFromString("0.8")
	multiplierPreferred  = decimal.RequireFromString("0.5")
)

// TierFor maps a trust score onto its price band.
func TierFor(score uint64) Tier {
	switch {
	case score < MinScore:
		return TierDenied
	case score <= standardMax:
		return TierStandard
	case score <= discountMax:
		return TierDiscounted
	default:
		return TierPreferred
	}
}

// multiplierFor returns the price multiplier for a tier. Denied has no
// multiplier; quotes for denied callers are sentinels, not prices.
func multiplierFor(tier Tier) decimal.Decimal {
	switch tier {
	case TierDiscounted:
		return multiplierDiscounted
	case TierPreferred:
		return multiplierPreferred
	default:
		return multiplierStandard
	}
}
