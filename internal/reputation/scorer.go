package reputation

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Scorer resolves a caller address to a raw trust score. Implementations are
// selected by configuration at construction; adding a backend never touches
// pricing or the payment gate.
type Scorer interface {
	Score(ctx context.Context, agent common.Address) (uint64, error)
}

// StaticScorer serves scores from a fixed table, defaulting unknown addresses
// to the neutral score. Used until the on-chain registry is deployed.
type StaticScorer struct {
	scores map[common.Address]uint64
}

// NewStaticScorer builds a table-backed scorer. A nil table gets the
// reference test fixtures.
func NewStaticScorer(scores map[common.Address]uint64) *StaticScorer {
	if scores == nil {
		scores = map[common.Address]uint64{
			common.HexToAddress("0x1234567890123456789012345678901234567890"): 500,
			common.HexToAddress("0xabcdefabcdefabcdefabcdefabcdefabcdefabcd"): 1000,
		}
	}
	return &StaticScorer{scores: scores}
}

func (s *StaticScorer) Score(_ context.Context, agent common.Address) (uint64, error) {
	if score, ok := s.scores[agent]; ok {
		return score, nil
	}
	return NeutralScore, nil
}

// NeutralScorer scores every address at the neutral level. Used when no
// trust source is configured at all.
type NeutralScorer struct{}

func (NeutralScorer) Score(context.Context, common.Address) (uint64, error) {
	return NeutralScore, nil
}
