package reputation

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// ERC-8004 agent registry, read-only surface.
const registryABI = `[
	{"type":"function","name":"getReputation","stateMutability":"view","inputs":[{"name":"agent","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"isRegistered","stateMutability":"view","inputs":[{"name":"agent","type":"address"}],"outputs":[{"name":"","type":"bool"}]}
]`

// RegistryScorer reads trust scores from the on-chain agent registry.
type RegistryScorer struct {
	contract *bind.BoundContract
}

// NewRegistryScorer binds the registry contract at addr through the given
// caller (an ethclient against the payment network).
func NewRegistryScorer(addr common.Address, caller bind.ContractCaller) (*RegistryScorer, error) {
	parsed, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		return nil, fmt.Errorf("parse registry abi: %w", err)
	}
	return &RegistryScorer{
		contract: bind.NewBoundContract(addr, parsed, caller, nil, nil),
	}, nil
}

func (s *RegistryScorer) Score(ctx context.Context, agent common.Address) (uint64, error) {
	var out []any
	if err := s.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getReputation", agent); err != nil {
		return 0, fmt.Errorf("registry getReputation: %w", err)
	}
	if len(out) == 0 {
		return 0, fmt.Errorf("registry returned no reputation value")
	}
	score, ok := out[0].(*big.Int)
	if !ok || !score.IsUint64() {
		return 0, fmt.Errorf("registry returned unusable reputation value")
	}
	return score.Uint64(), nil
}
