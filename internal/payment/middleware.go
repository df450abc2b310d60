package payment

import (
	"fmt"
	"net/http"

	"qguard/internal/reputation"
	"qguard/pkg/httputil"
)

// Middleware gates HTTP routes behind payment verification. One instance
// serves any number of routes; the base price is bound per route.
type Middleware struct {
	gate   *Gate
	oracle *reputation.Oracle
}

// NewMiddleware combines the gate with the pricing oracle.
func NewMiddleware(gate *Gate, oracle *reputation.Oracle) *Middleware {
	return &Middleware{gate: gate, oracle: oracle}
}

// Require wraps a handler so it only runs for requests carrying a verified
// payment of at least the caller's quoted price for basePriceCents.
func (m *Middleware) Require(basePriceCents int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			quote := m.oracle.Quote(ctx, basePriceCents, AgentFrom(ctx))
			if quote.Denied {
				httputil.WriteError(w, r, http.StatusForbidden,
					string(ReasonInsufficientReputation),
					fmt.Sprintf("insufficient reputation: %d < %d", quote.Score, reputation.MinScore),
					nil)
				return
			}

			proof := r.Header.Get(HeaderName)
			if proof == "" {
				httputil.WriteError(w, r, http.StatusPaymentRequired,
					string(ReasonPaymentRequired),
					fmt.Sprintf("payment required: %s %s", quote.AmountUSD(), m.gate.asset.Symbol),
					m.gate.Challenge(quote))
				return
			}

			res := m.gate.Verify(ctx, proof, quote)
			if !res.Accepted() {
				status, instructions := m.classify(res, quote)
				httputil.WriteError(w, r, status, string(res.Reason),
					fmt.Sprintf("payment rejected: %s", res.Detail), instructions)
				return
			}

			next.ServeHTTP(w, r.WithContext(withVerification(ctx, res, quote)))
		})
	}
}

// classify maps a rejection to an HTTP status. Payment-related rejections
// carry fresh challenge instructions so the caller can pay and retry.
func (m *Middleware) classify(res *Result, quote reputation.Quote) (int, any) {
	switch res.Reason {
	case ReasonInvalidProof:
		return http.StatusBadRequest, nil
	case ReasonUpstreamUnavailable:
		return http.StatusBadGateway, nil
	default:
		return http.StatusPaymentRequired, m.gate.Challenge(quote)
	}
}
