package payment

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// State of one request moving through the gate. Every request starts at
// AwaitingProof and ends at Accepted or Rejected; no state is revisited.
type State string

const (
	StateAwaitingProof State = "awaiting_proof"
	StateVerifying     State = "verifying"
	StateAccepted      State = "accepted"
	StateRejected      State = "rejected"
)

// Reason classifies why the gate rejected a request. Values are stable and
// machine-readable; clients distinguish "pay and you will succeed" from
// "your proof was malformed" from "try again later".
type Reason string

const (
	ReasonPaymentRequired        Reason = "PAYMENT_REQUIRED"
	ReasonInvalidProof           Reason = "INVALID_PAYMENT_PROOF"
	ReasonVerificationFailed     Reason = "PAYMENT_VERIFICATION_FAILED"
	ReasonInsufficientReputation Reason = "INSUFFICIENT_REPUTATION"
	ReasonUpstreamUnavailable    Reason = "UPSTREAM_ERROR"
)

// Result is the immutable outcome of one verification attempt.
type Result struct {
	State   State
	Reason  Reason // set iff State == StateRejected
	Detail  string
	TxHash  common.Hash
	Payer   common.Address
	// Amount actually transferred, in the asset's smallest unit.
	AmountUnits *big.Int
}

// Accepted reports whether the gate let the request through.
func (r *Result) Accepted() bool {
	return r.State == StateAccepted
}

// Instructions is the challenge body returned with a 402, telling the caller
// exactly how to pay and resubmit.
type Instructions struct {
	Type         string             `json:"type"`
	Version      string             `json:"version"`
	Payment      PaymentDetails     `json:"payment"`
	Instructions ResubmissionFormat `json:"instructions"`
}

type PaymentDetails struct {
	Chain       string `json:"chain"`
	Asset       string `json:"asset"`
	Amount      string `json:"amount"`
	Recipient   string `json:"recipient"`
	Facilitator string `json:"facilitator"`
}

type ResubmissionFormat struct {
	Header string `json:"header"`
	Format string `json:"format"`
}

// SettlementReport is what the gate tells the facilitator about a completed
// verification. Fire-and-forget; never on the response path.
type SettlementReport struct {
	TxHash   string `json:"tx_hash"`
	Payer    string `json:"payer"`
	Amount   string `json:"amount"`
	Verified bool   `json:"verified"`
}
