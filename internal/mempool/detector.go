package mempool

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Known DEX router addresses on mainnet.
var (
	uniswapV2Router = common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")
	uniswapV3Router = common.HexToAddress("0x68b3465833fb72A70ecDF485E0e4C7bD8665Fc45")
)

// OpportunityType classifies a detected MEV opportunity.
type OpportunityType string

const (
	TypeSandwich    OpportunityType = "sandwich"
	TypeArbitrage   OpportunityType = "arbitrage"
	TypeLiquidation OpportunityType = "liquidation"
	TypeBackRun     OpportunityType = "backrun"
)

// Opportunity describes a potential MEV extraction against one pending
// transaction.
type Opportunity struct {
	Type              OpportunityType  `json:"opportunity_type"`
	ProfitUSD         float64          `json:"profit_usd"`
	GasCostUSD        float64          `json:"gas_cost_usd"`
	NetProfitUSD      float64          `json:"net_profit_usd"`
	Confidence        float64          `json:"confidence"`
	TargetTransaction string           `json:"target_transaction"`
	SuggestedGasPrice float64          `json:"suggested_gas_price"`
	Execution         ExecutionDetails `json:"execution_details"`
	ExpiresInBlocks   uint64           `json:"expires_in_blocks"`
	DetectedAt        time.Time        `json:"detected_at"`
}

type ExecutionDetails struct {
	TargetPool     common.Address `json:"target_pool"`
	TokenIn        common.Address `json:"token_in"`
	TokenOut       common.Address `json:"token_out"`
	AmountIn       string         `json:"amount_in"`
	ExpectedProfit string         `json:"expected_profit"`
}

// Detector screens pending transactions for extraction opportunities.
//
// Only the DEX-routing check is real. The opportunity scoring below it is a
// stub returning a fixed mock result, pending actual calldata decoding and
// execution simulation.
type Detector struct {
	minProfitUSD float64
}

// NewDetector builds a detector with the default profit floor.
func NewDetector() *Detector {
	return &Detector{minProfitUSD: 10.0}
}

// Analyze screens one pending transaction. Returns nil when no opportunity
// clears the profit floor.
func (d *Detector) Analyze(tx *types.Transaction) *Opportunity {
	if !isDEXTransaction(tx) {
		return nil
	}

	opp := d.scoreSandwich(tx)
	if opp == nil || opp.NetProfitUSD <= d.minProfitUSD {
		return nil
	}
	return opp
}

func isDEXTransaction(tx *types.Transaction) bool {
	to := tx.To()
	if to == nil {
		return false
	}
	return *to == uniswapV2Router || *to == uniswapV3Router
}

// scoreSandwich is a stub: it returns a fixed mock opportunity instead of
// decoding the swap and simulating execution.
func (d *Detector) scoreSandwich(tx *types.Transaction) *Opportunity {
	return &Opportunity{
		Type:              TypeSandwich,
		ProfitUSD:         25.50,
		GasCostUSD:        5.50,
		NetProfitUSD:      20.00,
		Confidence:        0.75,
		TargetTransaction: tx.Hash().Hex(),
		SuggestedGasPrice: 50.0,
		Execution: ExecutionDetails{
			AmountIn:       "1000.0",
			ExpectedProfit: "20.0",
		},
		ExpiresInBlocks: 1,
		DetectedAt:      time.Now().UTC(),
	}
}
