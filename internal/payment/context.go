package payment

import (
	"context"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"qguard/internal/reputation"
)

// AgentHeader optionally identifies the calling agent for reputation-based
// pricing. Absent or malformed values leave the request anonymous.
const AgentHeader = "X-Agent-Address"

type contextKeyAgent struct{}
type contextKeyResult struct{}
type contextKeyQuote struct{}

// Identity extracts the agent address header into the request context.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if raw := r.Header.Get(AgentHeader); raw != "" && common.IsHexAddress(raw) {
			agent := common.HexToAddress(raw)
			ctx := context.WithValue(r.Context(), contextKeyAgent{}, &agent)
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

// AgentFrom returns the caller's address, or nil for anonymous requests.
func AgentFrom(ctx context.Context) *common.Address {
	if a, ok := ctx.Value(contextKeyAgent{}).(*common.Address); ok {
		return a
	}
	return nil
}

// ResultFrom returns the accepted verification stored by the gate middleware.
func ResultFrom(ctx context.Context) *Result {
	if r, ok := ctx.Value(contextKeyResult{}).(*Result); ok {
		return r
	}
	return nil
}

// QuoteFrom returns the price quote the request was verified against.
func QuoteFrom(ctx context.Context) (reputation.Quote, bool) {
	q, ok := ctx.Value(contextKeyQuote{}).(reputation.Quote)
	return q, ok
}

func withVerification(ctx context.Context, res *Result, quote reputation.Quote) context.Context {
	ctx = context.WithValue(ctx, contextKeyResult{}, res)
	return context.WithValue(ctx, contextKeyQuote{}, quote)
}
