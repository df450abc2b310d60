package payment

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.opentelemetry.io/otel"

	"qguard/internal/chain"
	"qguard/internal/platform/metrics"
	"qguard/internal/reputation"
)

// HeaderName carries the hex-encoded payment transaction hash.
const HeaderName = "X-Payment"

// transferTopic is keccak256("Transfer(address,address,uint256)"), the ERC-20
// transfer event signature.
var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// Asset describes the payment token the gate accepts.
type Asset struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
	Chain    string
}

// Gate verifies that a submitted payment proof represents a sufficient,
// correctly-routed transfer of the configured asset. It holds no per-request
// state and is safe for concurrent use.
//
// The gate performs no proof de-duplication: an accepted proof satisfies any
// number of requests. See the replay note in DESIGN.md.
type Gate struct {
	chain          chain.Reader
	asset          Asset
	recipient      common.Address
	facilitatorURL string
	reporter       *Reporter // nil disables settlement reporting
	log            *slog.Logger
	met            *metrics.Metrics
	verifyTimeout  time.Duration
}

// NewGate wires a payment gate against a chain data source.
func NewGate(
	reader chain.Reader,
	asset Asset,
	recipient common.Address,
	facilitatorURL string,
	reporter *Reporter,
	log *slog.Logger,
	met *metrics.Metrics,
	verifyTimeout time.Duration,
) *Gate {
	return &Gate{
		chain:          reader,
		asset:          asset,
		recipient:      recipient,
		facilitatorURL: facilitatorURL,
		reporter:       reporter,
		log:            log,
		met:            met,
		verifyTimeout:  verifyTimeout,
	}
}

// Challenge builds the payment instructions returned when a request arrives
// without proof, priced by the caller's quote.
func (g *Gate) Challenge(quote reputation.Quote) Instructions {
	return Instructions{
		Type:    "x402.payment_required",
		Version: "1.0.0",
		Payment: PaymentDetails{
			Chain:       g.asset.Chain,
			Asset:       g.asset.Symbol,
			Amount:      quote.AmountUSD(),
			Recipient:   g.recipient.Hex(),
			Facilitator: g.facilitatorURL,
		},
		Instructions: ResubmissionFormat{
			Header: HeaderName,
			Format: "transaction_hash",
		},
	}
}

// Verify runs the proof through the verification state machine against the
// caller's quoted price. Every outcome, including upstream failure, is a
// Result; the caller maps reasons to HTTP statuses.
func (g *Gate) Verify(ctx context.Context, proof string, quote reputation.Quote) *Result {
	ctx, cancel := context.WithTimeout(ctx, g.verifyTimeout)
	defer cancel()

	ctx, span := otel.Tracer("qguard/payment").Start(ctx, "gate.Verify")
	defer span.End()

	start := time.Now()
	res := g.verify(ctx, proof, quote)
	g.met.ObserveVerification(string(resultLabel(res)), time.Since(start))

	if res.Accepted() && g.reporter != nil {
		g.reporter.Report(SettlementReport{
			TxHash:   res.TxHash.Hex(),
			Payer:    res.Payer.Hex(),
			Amount:   res.AmountUnits.String(),
			Verified: true,
		})
	}
	return res
}

func (g *Gate) verify(ctx context.Context, proof string, quote reputation.Quote) *Result {
	// a. decode the proof as a 32-byte transaction hash
	txHash, ok := decodeProof(proof)
	if !ok {
		return rejected(ReasonInvalidProof, "malformed transaction hash", common.Hash{})
	}

	// b. fetch the execution receipt. The client reports an unmined hash as
	// ethereum.NotFound, which is a verification outcome, not an outage.
	receipt, err := g.chain.TransactionReceipt(ctx, txHash)
	if errors.Is(err, ethereum.NotFound) {
		return rejected(ReasonVerificationFailed, "transaction not found or failed", txHash)
	}
	if err != nil {
		g.log.Warn("receipt lookup failed", "tx", txHash.Hex(), "error", err)
		return rejected(ReasonUpstreamUnavailable, "chain data source unavailable", txHash)
	}
	if receipt == nil || receipt.Status != types.ReceiptStatusSuccessful {
		return rejected(ReasonVerificationFailed, "transaction not found or failed", txHash)
	}

	// c. the transaction must target the asset contract directly
	tx, _, err := g.chain.TransactionByHash(ctx, txHash)
	if errors.Is(err, ethereum.NotFound) {
		return rejected(ReasonVerificationFailed, "transaction not found or failed", txHash)
	}
	if err != nil {
		g.log.Warn("transaction lookup failed", "tx", txHash.Hex(), "error", err)
		return rejected(ReasonUpstreamUnavailable, "chain data source unavailable", txHash)
	}
	if tx == nil || tx.To() == nil || *tx.To() != g.asset.Address {
		return rejected(ReasonVerificationFailed, "wrong contract", txHash)
	}

	// d. locate the transfer event
	transfer, ok := findTransfer(receipt)
	if !ok {
		return rejected(ReasonInvalidProof, "no transfer event", txHash)
	}

	// e. the transfer must pay us
	if transfer.to != g.recipient {
		return rejected(ReasonVerificationFailed, "wrong recipient", txHash)
	}

	// f. smallest-units -> cents, floor, integer compare
	paidCents := unitsToCents(transfer.amount, g.asset.Decimals)
	if paidCents.Cmp(big.NewInt(quote.EffectivePriceCents)) < 0 {
		g.log.Info("insufficient payment",
			"tx", txHash.Hex(),
			"paid_cents", paidCents.String(),
			"expected_cents", quote.EffectivePriceCents)
		res := rejected(ReasonVerificationFailed, "insufficient amount", txHash)
		res.Payer = transfer.from
		res.AmountUnits = transfer.amount
		return res
	}

	g.log.Info("payment verified",
		"tx", txHash.Hex(),
		"payer", transfer.from.Hex(),
		"amount_units", transfer.amount.String())

	return &Result{
		State:       StateAccepted,
		TxHash:      txHash,
		Payer:       transfer.from,
		AmountUnits: transfer.amount,
	}
}

func rejected(reason Reason, detail string, tx common.Hash) *Result {
	return &Result{
		State:  StateRejected,
		Reason: reason,
		Detail: detail,
		TxHash: tx,
	}
}

func resultLabel(r *Result) Reason {
	if r.Accepted() {
		return "ACCEPTED"
	}
	return r.Reason
}

// decodeProof parses a hex transaction hash, with or without 0x prefix. The
// encoding is strict: anything but exactly 32 hex-encoded bytes is rejected.
func decodeProof(proof string) (common.Hash, bool) {
	cleaned := strings.TrimPrefix(strings.TrimSpace(proof), "0x")
	raw, err := hex.DecodeString(cleaned)
	if err != nil || len(raw) != common.HashLength {
		return common.Hash{}, false
	}
	return common.BytesToHash(raw), true
}

type transferEvent struct {
	from   common.Address
	to     common.Address
	amount *big.Int
}

// findTransfer scans the receipt logs for the first ERC-20 transfer event.
// Sender and recipient come from the indexed topics, the amount from the
// data field as a big-endian unsigned integer.
func findTransfer(receipt *types.Receipt) (transferEvent, bool) {
	for _, lg := range receipt.Logs {
		if len(lg.Topics) >= 3 && lg.Topics[0] == transferTopic {
			return transferEvent{
				from:   common.BytesToAddress(lg.Topics[1].Bytes()),
				to:     common.BytesToAddress(lg.Topics[2].Bytes()),
				amount: new(big.Int).SetBytes(lg.Data),
			}, true
		}
	}
	return transferEvent{}, false
}

// unitsToCents converts an amount in the asset's smallest unit to USD cents
// using the asset's fixed decimal count, flooring the remainder. For USDC
// (6 decimals) this divides by 10^4; an asset with fewer than 2 decimals
// scales up instead.
func unitsToCents(units *big.Int, decimals uint8) *big.Int {
	if decimals < 2 {
		factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(2-decimals)), nil)
		return new(big.Int).Mul(units, factor)
	}
	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)-2), nil)
	return new(big.Int).Div(units, divisor)
}
